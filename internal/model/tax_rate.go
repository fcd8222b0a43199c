package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TaxComponent is one atomic tax: a base rate, an issuing authority and a recoverability flag.
// Its rate can be overridden per product category by time-versioned TaxRate rows.
type TaxComponent struct {
	ID                    uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	BusinessID            uuid.UUID       `gorm:"type:uuid;not null;index" json:"business_id"`
	Name                  string          `gorm:"type:varchar(100);not null" json:"name"`         // GST, HST, QST, CA State, LA County...
	Authority             string          `gorm:"type:varchar(255)" json:"authority"`             // Issuing tax authority
	BaseRate              decimal.Decimal `gorm:"type:decimal(10,6);not null" json:"base_rate"`   // e.g. 0.130000 = 13%
	IsRecoverable         bool            `gorm:"default:false" json:"is_recoverable"`            // Paid tax can be reclaimed (ITC)
	CanonicalJurisdiction *string         `gorm:"type:varchar(30)" json:"canonical_jurisdiction"` // Overrides positional assignment when set
	EffectiveFrom         time.Time       `gorm:"type:date;not null" json:"effective_from"`       // Component does not exist before this date
	CreatedAt             time.Time       `json:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"`
}

// TaxRate stores a component rate with temporal validity.
// For a given (component, product category) no two rows may overlap.
type TaxRate struct {
	ID              uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	ComponentID     uuid.UUID       `gorm:"type:uuid;not null;index:idx_tax_rate_lookup,priority:1" json:"component_id"`
	ProductCategory string          `gorm:"type:varchar(50);not null;default:'';index:idx_tax_rate_lookup,priority:2" json:"product_category"` // '' = any category
	Rate            decimal.Decimal `gorm:"type:decimal(10,6);not null" json:"rate"`
	EffectiveFrom   time.Time       `gorm:"type:date;not null;index:idx_tax_rate_lookup,priority:3" json:"effective_from"`
	EffectiveTo     *time.Time      `gorm:"type:date" json:"effective_to"` // nullable = currently active
	Description     string          `gorm:"type:text" json:"description"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// ActiveOn reports whether the row is valid on the given date.
func (r TaxRate) ActiveOn(date time.Time) bool {
	if r.EffectiveFrom.After(date) {
		return false
	}
	return r.EffectiveTo == nil || !r.EffectiveTo.Before(date)
}
