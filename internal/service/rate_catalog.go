package service

import (
	"context"
	"time"

	"taxengine/internal/model"
	"taxengine/internal/repository"
	"taxengine/pkg/money"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
)

// EffectiveRate is the outcome of a catalog lookup.
type EffectiveRate struct {
	Rate   decimal.Decimal
	RateID *string // nil when the component base rate applied
	Source string  // CATEGORY, DEFAULT, BASE
}

// Rate sources
const (
	RateSourceCategory = "CATEGORY"
	RateSourceDefault  = "DEFAULT"
	RateSourceBase     = "BASE"
)

// RateCatalog answers "what rate applied to this component, for this category, on this date".
type RateCatalog interface {
	// EffectiveRate returns nil when the component did not exist on asOf.
	EffectiveRate(ctx context.Context, component *model.TaxComponent, productCategory string, asOf time.Time) (*EffectiveRate, error)
}

type rateCatalog struct {
	rateRepo repository.TaxRateRepository
}

func NewRateCatalog(rateRepo repository.TaxRateRepository) RateCatalog {
	return &rateCatalog{rateRepo: rateRepo}
}

// EffectiveRate tries the category-specific row, then the category-agnostic row, then the base rate.
func (c *rateCatalog) EffectiveRate(ctx context.Context, component *model.TaxComponent, productCategory string, asOf time.Time) (*EffectiveRate, error) {
	if component == nil {
		return nil, ErrComponentNotFound
	}
	if !component.EffectiveFrom.IsZero() && component.EffectiveFrom.After(asOf) {
		return nil, nil
	}

	if productCategory != "" {
		row, err := c.rateRepo.FindEffective(ctx, component.ID, productCategory, asOf)
		if err != nil {
			return nil, eris.Wrapf(err, "failed to query rate for component %s", component.ID)
		}
		if row != nil {
			return fromRow(row, RateSourceCategory), nil
		}
	}

	row, err := c.rateRepo.FindEffective(ctx, component.ID, "", asOf)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to query rate for component %s", component.ID)
	}
	if row != nil {
		return fromRow(row, RateSourceDefault), nil
	}

	return &EffectiveRate{Rate: money.RoundRate(component.BaseRate), Source: RateSourceBase}, nil
}

func fromRow(row *model.TaxRate, source string) *EffectiveRate {
	id := row.ID.String()
	return &EffectiveRate{Rate: money.RoundRate(row.Rate), RateID: &id, Source: source}
}
