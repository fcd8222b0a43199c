package service

import (
	"context"
	"time"

	"taxengine/internal/model"
	"taxengine/internal/repository"
	"taxengine/pkg/money"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// TaxableLine is what the calculator needs to know about a document line.
type TaxableLine interface {
	LineRef() model.DocumentRef
	NetAmount() (decimal.Decimal, bool)
	ProductCategory() string
	ProductCode() string
	Locations() LocationHints
	DocumentSide() string // SALE, PURCHASE or '' when unknown
}

// CalculationRequest carries one line calculation. Optional fields are nil when not supplied.
type CalculationRequest struct {
	Business        *model.Business
	Line            TaxableLine
	Group           *model.TaxGroup
	Date            time.Time
	Currency        string
	FXRate          *decimal.Decimal
	ProductCategory *string
	AmountOverride  *decimal.Decimal
	Persist         bool
}

// ComponentTax is the computed tax for one component of the group.
type ComponentTax struct {
	ComponentID      uuid.UUID       `json:"component_id"`
	Name             string          `json:"name"`
	Index            int             `json:"index"`
	CalculationOrder int             `json:"calculation_order"`
	Rate             decimal.Decimal `json:"rate"`
	RateSource       string          `json:"rate_source"`
	JurisdictionCode string          `json:"jurisdiction_code"`
	Recoverable      bool            `json:"recoverable"`
	Base             decimal.Decimal `json:"base"`
	Tax              decimal.Decimal `json:"tax"`
	TaxHome          decimal.Decimal `json:"tax_home"`
}

// CalculationResult is the full breakdown of a line.
type CalculationResult struct {
	Ref           model.DocumentRef `json:"ref"`
	Currency      string            `json:"currency"`
	HomeCurrency  string            `json:"home_currency"`
	ExchangeRate  decimal.Decimal   `json:"exchange_rate"`
	Base          decimal.Decimal   `json:"base"`
	BaseHome      decimal.Decimal   `json:"base_home"`
	TotalTax      decimal.Decimal   `json:"total_tax"`
	TotalTaxHome  decimal.Decimal   `json:"total_tax_home"`
	Gross         decimal.Decimal   `json:"gross"`
	Adjustment    decimal.Decimal   `json:"adjustment"` // dust applied to the last component
	Jurisdictions []string          `json:"jurisdictions"`
	Components    []ComponentTax    `json:"components"`
}

type TaxCalculator interface {
	Calculate(ctx context.Context, req CalculationRequest) (*CalculationResult, error)
}

type taxCalculator struct {
	rates      rateResolver
	resolver   JurisdictionResolver
	detailRepo repository.TaxDetailRepository
	txManager  repository.TransactionManager
}

func NewTaxCalculator(
	catalog RateCatalog,
	resolver JurisdictionResolver,
	ruleRepo repository.ProductRuleRepository,
	detailRepo repository.TaxDetailRepository,
	txManager repository.TransactionManager,
) TaxCalculator {
	return &taxCalculator{
		rates:      rateResolver{catalog: catalog, ruleRepo: ruleRepo},
		resolver:   resolver,
		detailRepo: detailRepo,
		txManager:  txManager,
	}
}

// tier is a run of components sharing a calculation order.
type tier struct {
	comps []int // indexes into the component slice
	rate  decimal.Decimal
}

func (c *taxCalculator) Calculate(ctx context.Context, req CalculationRequest) (*CalculationResult, error) {
	if req.Business == nil {
		return nil, ErrBusinessNotFound
	}
	if req.Group == nil {
		return nil, ErrGroupNotFound
	}
	if req.Group.BusinessID != req.Business.ID {
		return nil, eris.Wrapf(ErrGroupBusinessMismatch, "group %s", req.Group.ID)
	}

	amount, ok := decimal.Zero, false
	if req.AmountOverride != nil {
		amount, ok = *req.AmountOverride, true
	} else if req.Line != nil {
		amount, ok = req.Line.NetAmount()
	}
	if !ok {
		return nil, ErrMissingBaseAmount
	}

	category := ""
	if req.ProductCategory != nil {
		category = *req.ProductCategory
	} else if req.Line != nil {
		category = req.Line.ProductCategory()
	}

	currency := req.Currency
	if currency == "" {
		currency = req.Business.HomeCurrency
	}
	conv, err := money.NewConverter(currency, req.Business.HomeCurrency, req.FXRate)
	if err != nil {
		return nil, eris.Wrap(ErrMissingFXRate, err.Error())
	}

	var hints LocationHints
	var productCode string
	var ref model.DocumentRef
	if req.Line != nil {
		hints = req.Line.Locations()
		productCode = req.Line.ProductCode()
		ref = req.Line.LineRef()
	}
	codes, err := c.resolver.Resolve(ctx, req.Business, hints)
	if err != nil {
		return nil, err
	}
	if len(codes) == 0 {
		codes = []string{model.GeneralCode(req.Business.TaxCountry)}
	}

	ordered := req.Group.OrderedComponents()
	comps := make([]ComponentTax, len(ordered))
	var tiers []tier
	for i, gc := range ordered {
		code := codes[min(i, len(codes)-1)]
		if gc.Component.CanonicalJurisdiction != nil && *gc.Component.CanonicalJurisdiction != "" {
			code = *gc.Component.CanonicalJurisdiction
		}

		applied, err := c.rates.rateFor(ctx, &gc.Component, category, productCode, code, req.Date)
		if err != nil {
			return nil, err
		}
		if !applied.ComponentMet {
			zap.L().Warn("Component not effective on date, taxing at zero",
				zap.String("component", gc.Component.Name),
				zap.String("date", req.Date.Format("2006-01-02")),
				zap.String("line_id", ref.LineID.String()),
			)
		}

		comps[i] = ComponentTax{
			ComponentID:      gc.ComponentID,
			Name:             gc.Component.Name,
			Index:            i,
			CalculationOrder: gc.CalculationOrder,
			Rate:             applied.Rate,
			RateSource:       applied.Source,
			JurisdictionCode: code,
			Recoverable:      gc.Component.IsRecoverable,
		}

		if n := len(tiers); n > 0 && ordered[tiers[n-1].comps[0]].CalculationOrder == gc.CalculationOrder {
			tiers[n-1].comps = append(tiers[n-1].comps, i)
			tiers[n-1].rate = tiers[n-1].rate.Add(applied.Rate)
		} else {
			tiers = append(tiers, tier{comps: []int{i}, rate: applied.Rate})
		}
	}

	compound := req.Group.CalculationMethod == model.CalculationCompound
	inclusive := req.Group.TaxTreatment == model.TreatmentInclusive

	// net stays unrounded so inclusive component taxes are not skewed by the rounding of the base
	net, base := amount, amount
	if inclusive {
		net = amount.Div(divisor(tiers, compound))
		base = money.Round(net, currency)
	}

	// running totals: rounded for the per-component amounts, unrounded for the expected total
	accumulated := decimal.Zero
	exact := decimal.Zero
	exactBase := net
	for _, t := range tiers {
		tierBase := net
		if compound {
			tierBase = net.Add(accumulated)
		}
		tierTax := decimal.Zero
		for _, idx := range t.comps {
			comps[idx].Base = money.Round(tierBase, currency)
			comps[idx].Tax = money.Round(tierBase.Mul(comps[idx].Rate), currency)
			tierTax = tierTax.Add(comps[idx].Tax)
		}
		exactTier := exactBase.Mul(t.rate)
		exact = exact.Add(exactTier)
		if compound {
			exactBase = exactBase.Add(exactTier)
			accumulated = accumulated.Add(tierTax)
		}
	}

	expected := money.Round(exact, currency)
	if inclusive {
		expected = amount.Sub(base)
	}
	// an inclusive gross is fixed, so its whole residue lands on the last component
	adjustment := sweepDust(comps, expected, currency, inclusive)
	if !adjustment.IsZero() {
		zap.L().Debug("Dust swept to last component",
			zap.String("line_id", ref.LineID.String()),
			zap.String("adjustment", adjustment.String()),
		)
	}

	total := decimal.Zero
	totalHome := decimal.Zero
	for i := range comps {
		comps[i].TaxHome = conv.ToHome(comps[i].Tax)
		total = total.Add(comps[i].Tax)
		totalHome = totalHome.Add(comps[i].TaxHome)
	}

	res := &CalculationResult{
		Ref:           ref,
		Currency:      currency,
		HomeCurrency:  req.Business.HomeCurrency,
		ExchangeRate:  conv.Rate(),
		Base:          base,
		BaseHome:      conv.ToHome(base),
		TotalTax:      total,
		TotalTaxHome:  totalHome,
		Gross:         base.Add(total),
		Adjustment:    adjustment,
		Jurisdictions: codes,
		Components:    comps,
	}
	if ref.Negates() {
		res.negate()
	}

	if req.Persist {
		if !ref.Valid() {
			return nil, eris.New("cannot persist tax for a line without a document reference")
		}
		rows := detailRows(req, res, category, productCode)
		if err := c.txManager.RunInTx(ctx, func(txCtx context.Context) error {
			return c.detailRepo.ReplaceForLine(txCtx, ref, rows)
		}); err != nil {
			return nil, eris.Wrapf(err, "failed to persist tax details for line %s", ref.LineID)
		}
	}
	return res, nil
}

// divisor reverses the stacking of an inclusive price.
func divisor(tiers []tier, compound bool) decimal.Decimal {
	one := decimal.NewFromInt(1)
	if !compound {
		sum := decimal.Zero
		for _, t := range tiers {
			sum = sum.Add(t.rate)
		}
		return one.Add(sum)
	}
	d := one
	for _, t := range tiers {
		d = d.Mul(one.Add(t.rate))
	}
	return d
}

// sweepDust moves a difference of at most one minor unit onto the last component and returns it.
// With force set the difference is moved whatever its size.
func sweepDust(comps []ComponentTax, expected decimal.Decimal, currency string, force bool) decimal.Decimal {
	if len(comps) == 0 {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, c := range comps {
		sum = sum.Add(c.Tax)
	}
	diff := expected.Sub(sum)
	if diff.IsZero() {
		return decimal.Zero
	}
	if diff.Abs().GreaterThan(money.MinorUnit(currency)) {
		if !force {
			zap.L().Warn("Rounding difference above one minor unit left in place",
				zap.String("expected", expected.String()),
				zap.String("sum", sum.String()),
			)
			return decimal.Zero
		}
		zap.L().Warn("Rounding difference above one minor unit moved to last component",
			zap.String("expected", expected.String()),
			zap.String("sum", sum.String()),
		)
	}
	last := len(comps) - 1
	comps[last].Tax = comps[last].Tax.Add(diff)
	return diff
}

func (r *CalculationResult) negate() {
	r.Base = r.Base.Neg()
	r.BaseHome = r.BaseHome.Neg()
	r.TotalTax = r.TotalTax.Neg()
	r.TotalTaxHome = r.TotalTaxHome.Neg()
	r.Gross = r.Gross.Neg()
	r.Adjustment = r.Adjustment.Neg()
	for i := range r.Components {
		r.Components[i].Base = r.Components[i].Base.Neg()
		r.Components[i].Tax = r.Components[i].Tax.Neg()
		r.Components[i].TaxHome = r.Components[i].TaxHome.Neg()
	}
}

func detailRows(req CalculationRequest, res *CalculationResult, category, productCode string) []model.TransactionLineTaxDetail {
	side := ""
	if req.Line != nil {
		side = req.Line.DocumentSide()
	}
	rows := make([]model.TransactionLineTaxDetail, 0, len(res.Components))
	for _, ct := range res.Components {
		rows = append(rows, model.TransactionLineTaxDetail{
			BusinessID:        req.Business.ID,
			Ref:               res.Ref,
			ComponentID:       ct.ComponentID,
			ComponentName:     ct.Name,
			ComponentIndex:    ct.Index,
			TaxGroupID:        req.Group.ID,
			ReportingCategory: req.Group.ReportingCategory,
			ProductCode:       productCode,
			ProductCategory:   category,
			JurisdictionCode:  ct.JurisdictionCode,
			DocumentSide:      side,
			IsRecoverable:     ct.Recoverable,
			Currency:          res.Currency,
			Rate:              ct.Rate,
			TaxableAmount:     res.Base,
			TaxableAmountHome: res.BaseHome,
			ComponentBase:     ct.Base,
			TaxAmount:         ct.Tax,
			TaxAmountHome:     ct.TaxHome,
			TransactionDate:   req.Date,
		})
	}
	return rows
}
