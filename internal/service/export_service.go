package service

import (
	"context"
	"encoding/json"

	"taxengine/internal/model"

	"github.com/google/uuid"
	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
)

// FilingLine is one row of the filing CSV export.
type FilingLine struct {
	Return string          `csv:"return"`
	Line   string          `csv:"line"`
	Label  string          `csv:"label"`
	Amount decimal.Decimal `csv:"amount"`
}

// SERLine is one row of the per-state sales and use export.
type SERLine struct {
	Jurisdiction   string          `csv:"jurisdiction"`
	Level          string          `csv:"level"` // STATE, LOCAL
	GrossSales     decimal.Decimal `csv:"gross_sales"`
	ExemptSales    decimal.Decimal `csv:"exempt_sales"`
	TaxableSales   decimal.Decimal `csv:"taxable_sales"`
	TaxCollected   decimal.Decimal `csv:"tax_collected"`
	TaxOnPurchases decimal.Decimal `csv:"tax_on_purchases"`
}

// ExportService renders stored snapshots verbatim; it never recomputes.
type ExportService interface {
	SnapshotJSON(ctx context.Context, businessID uuid.UUID, periodKey string) ([]byte, error)
	FilingCSV(ctx context.Context, businessID uuid.UUID, periodKey string) ([]byte, error)
	SERCSV(ctx context.Context, businessID uuid.UUID, periodKey string) ([]byte, error)
}

type exportService struct {
	snapshots SnapshotService
}

func NewExportService(snapshots SnapshotService) ExportService {
	return &exportService{snapshots: snapshots}
}

func (s *exportService) SnapshotJSON(ctx context.Context, businessID uuid.UUID, periodKey string) ([]byte, error) {
	snap, err := s.snapshots.Get(ctx, businessID, periodKey)
	if err != nil {
		return nil, err
	}
	out, err := json.Marshal(snap)
	if err != nil {
		return nil, eris.Wrap(err, "failed to encode snapshot")
	}
	return out, nil
}

func (s *exportService) FilingCSV(ctx context.Context, businessID uuid.UUID, periodKey string) ([]byte, error) {
	snap, err := s.snapshots.Get(ctx, businessID, periodKey)
	if err != nil {
		return nil, err
	}
	out, err := csvutil.Marshal(FilingLines(snap.LineMappings.Data()))
	if err != nil {
		return nil, eris.Wrap(err, "failed to encode filing lines")
	}
	return out, nil
}

func (s *exportService) SERCSV(ctx context.Context, businessID uuid.UUID, periodKey string) ([]byte, error) {
	snap, err := s.snapshots.Get(ctx, businessID, periodKey)
	if err != nil {
		return nil, err
	}
	out, err := csvutil.Marshal(SERLines(snap.LineMappings.Data()))
	if err != nil {
		return nil, eris.Wrap(err, "failed to encode SER lines")
	}
	return out, nil
}

// FilingLines flattens the line mappings into return lines.
func FilingLines(m model.LineMappings) []FilingLine {
	var lines []FilingLine
	add := func(ret, line, label string, amount decimal.Decimal) {
		lines = append(lines, FilingLine{Return: ret, Line: line, Label: label, Amount: amount})
	}

	if c := m.Canada; c != nil {
		add("GST/HST", "101", "Sales and other revenue", c.Line101)
		add("GST/HST", "103", "GST/HST collected", c.Line103)
		add("GST/HST", "106", "Input tax credits", c.Line106)
		add("GST/HST", "109", "Net tax", c.Line109)
		for _, p := range c.Provincial {
			add("PST "+p.Province, "SALES", "Taxable sales", p.TaxableSales)
			add("PST "+p.Province, "COLLECTED", "PST collected", p.TaxCollected)
		}
	}
	if q := m.Quebec; q != nil {
		add("QST", "101", "Sales", q.Line101)
		add("QST", "205", "QST collected", q.Line205)
		add("QST", "206", "Input tax refunds", q.Line206)
		add("QST", "209", "Net QST", q.Line209)
	}
	if us := m.UnitedStates; us != nil {
		add("US", "GROSS", "Gross sales", us.GrossSales)
		add("US", "EXEMPT", "Exempt sales", us.ExemptSales)
		add("US", "TAXABLE", "Taxable sales", us.TaxableSales)
		add("US", "COLLECTED", "Tax collected", us.TaxCollected)
		add("US", "PURCHASES", "Tax on purchases", us.TaxOnPurchases)
		add("US", "NET", "Net tax", us.NetTax)
	}
	if g := m.General; g != nil {
		add(m.Country, "SALES", "Taxable sales", g.TaxableSales)
		add(m.Country, "PURCHASES", "Taxable purchases", g.TaxablePurchases)
		add(m.Country, "COLLECTED", "Tax collected", g.TaxCollected)
		add(m.Country, "ITC", "Tax on purchases", g.TaxOnPurchases)
		add(m.Country, "NET", "Net tax", g.NetTax)
	}
	return lines
}

// SERLines returns one row per state followed by its local rows.
func SERLines(m model.LineMappings) []SERLine {
	if m.UnitedStates == nil {
		return []SERLine{}
	}
	var lines []SERLine
	for _, st := range m.UnitedStates.States {
		lines = append(lines, SERLine{
			Jurisdiction:   st.State,
			Level:          "STATE",
			GrossSales:     st.GrossSales,
			ExemptSales:    st.ExemptSales,
			TaxableSales:   st.TaxableSales,
			TaxCollected:   st.TaxCollected,
			TaxOnPurchases: st.TaxOnPurchases,
		})
		for _, l := range st.Locals {
			lines = append(lines, SERLine{
				Jurisdiction:   l.Code,
				Level:          "LOCAL",
				TaxCollected:   l.TaxCollected,
				TaxOnPurchases: l.TaxOnPurchases,
			})
		}
	}
	return lines
}
