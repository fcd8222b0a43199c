package service

import (
	"context"
	"time"

	"taxengine/internal/model"
	"taxengine/internal/repository"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
)

// AppliedRate is the rate a component carries for one line after product rules.
type AppliedRate struct {
	Rate         decimal.Decimal
	Source       string // CATEGORY, DEFAULT, BASE, RULE, NONE
	ProductRule  *model.TaxProductRule
	ComponentMet bool // false when the component did not exist on the date
}

const (
	RateSourceRule = "RULE"
	RateSourceNone = "NONE"
)

// rateResolver combines the catalog lookup with product rule overrides.
// The calculator and the anomaly detector share it so expected values are derived the same way.
type rateResolver struct {
	catalog  RateCatalog
	ruleRepo repository.ProductRuleRepository
}

func (r rateResolver) rateFor(ctx context.Context, component *model.TaxComponent, category, productCode, jurisdiction string, date time.Time) (AppliedRate, error) {
	rule, err := r.productRule(ctx, jurisdiction, productCode, date)
	if err != nil {
		return AppliedRate{}, err
	}

	eff, err := r.catalog.EffectiveRate(ctx, component, category, date)
	if err != nil {
		return AppliedRate{}, err
	}
	out := AppliedRate{Rate: decimal.Zero, Source: RateSourceNone, ProductRule: rule}
	if eff != nil {
		out.Rate = eff.Rate
		out.Source = eff.Source
		out.ComponentMet = true
	}

	if rule != nil {
		switch {
		case rule.NoTax():
			out.Rate = decimal.Zero
			out.Source = RateSourceRule
		case rule.RuleType == model.ProductRuleReduced && rule.SpecialRate != nil:
			out.Rate = *rule.SpecialRate
			out.Source = RateSourceRule
		}
	}
	return out, nil
}

// productRule returns the narrowest rule valid on date for the code or one of its ancestors.
func (r rateResolver) productRule(ctx context.Context, jurisdiction, productCode string, date time.Time) (*model.TaxProductRule, error) {
	if productCode == "" || jurisdiction == "" || r.ruleRepo == nil {
		return nil, nil
	}
	for _, code := range model.AncestorCodes(jurisdiction) {
		rule, err := r.ruleRepo.FindValid(ctx, code, productCode, date)
		if err != nil {
			return nil, eris.Wrapf(err, "failed to query product rule %s/%s", code, productCode)
		}
		if rule != nil {
			return rule, nil
		}
	}
	return nil, nil
}
