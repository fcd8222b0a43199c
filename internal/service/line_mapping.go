package service

import (
	"context"

	"taxengine/internal/model"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

var (
	// hstProvinces report their harmonized tax on the federal return.
	hstProvinces = map[string]bool{"CA-ON": true, "CA-NB": true, "CA-NS": true, "CA-NL": true, "CA-PE": true}
	// pstProvinces file provincial sales tax separately.
	pstProvinces = map[string]bool{"CA-BC": true, "CA-SK": true, "CA-MB": true}
)

const quebec = "CA-QC"

// project maps the summary onto the filing lines of the business's country.
func (a *periodAggregator) project(ctx context.Context, business *model.Business, rows []model.TransactionLineTaxDetail, summary map[string]model.JurisdictionSummary) (model.LineMappings, error) {
	country := business.TaxCountry
	out := model.LineMappings{Country: country}

	switch country {
	case "CA":
		out.Canada, out.Quebec = canadaReturn(rows, summary)
	case "US":
		us, err := a.usReturn(ctx, rows, summary)
		if err != nil {
			return out, err
		}
		out.UnitedStates = us
	default:
		out.General = generalReturn(summary)
	}
	return out, nil
}

// lineSales sums each sales line's base once across every bucket of the country.
func lineSales(rows []model.TransactionLineTaxDetail, country string) decimal.Decimal {
	total := decimal.Zero
	seen := make(map[[2]string]bool)
	for _, row := range rows {
		if model.CountryOf(row.JurisdictionCode) != country || sideOf(row) != model.SideSale {
			continue
		}
		key := [2]string{row.Ref.DocumentID.String(), row.Ref.LineID.String()}
		if seen[key] {
			continue
		}
		seen[key] = true
		total = total.Add(row.TaxableAmountHome)
	}
	return total
}

func canadaReturn(rows []model.TransactionLineTaxDetail, summary map[string]model.JurisdictionSummary) (*model.CanadaReturn, *model.QuebecReturn) {
	ret := &model.CanadaReturn{}
	if len(rows) > 0 {
		ret.Line101 = lineSales(rows, "CA")
	}

	var qc *model.QuebecReturn
	for _, code := range sortedKeys(summary) {
		b := summary[code]
		if model.CountryOf(code) != "CA" {
			continue
		}
		if len(rows) == 0 {
			ret.Line101 = ret.Line101.Add(b.TaxableSales).Add(b.OutOfScopeSales)
		}
		switch {
		case code == "CA" || hstProvinces[code]:
			ret.Line103 = ret.Line103.Add(b.TaxCollected)
			ret.Line106 = ret.Line106.Add(b.TaxOnPurchases)
		case pstProvinces[code]:
			ret.Provincial = append(ret.Provincial, model.ProvincialReturn{
				Province:     code,
				TaxableSales: b.TaxableSales,
				TaxCollected: b.TaxCollected,
			})
		case code == quebec:
			qc = &model.QuebecReturn{
				Line101: b.TaxableSales.Add(b.OutOfScopeSales),
				Line205: b.TaxCollected,
				Line206: b.TaxOnPurchases,
				Line209: b.NetTax,
			}
		}
	}
	ret.Line109 = ret.Line103.Sub(ret.Line106)
	return ret, qc
}

func (a *periodAggregator) usReturn(ctx context.Context, rows []model.TransactionLineTaxDetail, summary map[string]model.JurisdictionSummary) (*model.USReturn, error) {
	exempt, err := a.exemptSales(ctx, rows)
	if err != nil {
		return nil, err
	}

	ret := &model.USReturn{}
	for _, code := range sortedKeys(summary) {
		if model.CountryOf(code) != "US" {
			continue
		}
		b := summary[code]
		st := model.StateReturn{
			State:          code,
			GrossSales:     b.TaxableSales,
			ExemptSales:    exempt[code],
			TaxableSales:   b.TaxableSales.Sub(exempt[code]),
			TaxCollected:   b.TaxCollected,
			TaxOnPurchases: b.TaxOnPurchases,
			Locals:         b.Locals,
		}
		ret.States = append(ret.States, st)
		ret.GrossSales = ret.GrossSales.Add(st.GrossSales)
		ret.ExemptSales = ret.ExemptSales.Add(st.ExemptSales)
		ret.TaxableSales = ret.TaxableSales.Add(st.TaxableSales)
		ret.TaxCollected = ret.TaxCollected.Add(st.TaxCollected)
		ret.TaxOnPurchases = ret.TaxOnPurchases.Add(st.TaxOnPurchases)
	}
	ret.NetTax = ret.TaxCollected.Sub(ret.TaxOnPurchases)
	return ret, nil
}

// exemptSales splits each state's in-scope sales by the product rules valid on the invoice date.
func (a *periodAggregator) exemptSales(ctx context.Context, rows []model.TransactionLineTaxDetail) (map[string]decimal.Decimal, error) {
	sales := lo.Filter(rows, func(row model.TransactionLineTaxDetail, _ int) bool {
		return model.CountryOf(row.JurisdictionCode) == "US" &&
			sideOf(row) == model.SideSale &&
			row.ReportingCategory != model.ReportingOutOfScope
	})

	out := make(map[string]decimal.Decimal)
	seen := make(map[lineKey]bool)
	for _, row := range sales {
		state := model.RegionOf(row.JurisdictionCode)
		key := lineKey{bucket: state, doc: row.Ref.DocumentID, line: row.Ref.LineID}
		if seen[key] {
			continue
		}
		seen[key] = true

		isExempt := row.ReportingCategory == model.ReportingExempt || row.ReportingCategory == model.ReportingZeroRated
		if !isExempt {
			rule, err := a.rules.productRule(ctx, row.JurisdictionCode, row.ProductCode, row.TransactionDate)
			if err != nil {
				return nil, err
			}
			isExempt = rule != nil && rule.NoTax()
		}
		if isExempt {
			out[state] = out[state].Add(row.TaxableAmountHome)
		}
	}
	return out, nil
}

func generalReturn(summary map[string]model.JurisdictionSummary) *model.GeneralReturn {
	ret := &model.GeneralReturn{}
	for _, b := range summary {
		ret.TaxableSales = ret.TaxableSales.Add(b.TaxableSales)
		ret.TaxablePurchases = ret.TaxablePurchases.Add(b.TaxablePurchases)
		ret.TaxCollected = ret.TaxCollected.Add(b.TaxCollected)
		ret.TaxOnPurchases = ret.TaxOnPurchases.Add(b.TaxOnPurchases)
	}
	ret.NetTax = ret.TaxCollected.Sub(ret.TaxOnPurchases)
	return ret
}
