package model

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// CalculationMethod enum constants
const (
	CalculationSimple   = "SIMPLE"
	CalculationCompound = "COMPOUND"
)

// TaxTreatment enum constants
const (
	TreatmentExclusive = "EXCLUSIVE"
	TreatmentInclusive = "INCLUSIVE"
)

// ReportingCategory enum constants
const (
	ReportingTaxable    = "TAXABLE"
	ReportingZeroRated  = "ZERO_RATED"
	ReportingExempt     = "EXEMPT"
	ReportingOutOfScope = "OUT_OF_SCOPE"
)

// TaxGroup is the bundle of components a document line selects.
type TaxGroup struct {
	ID                uuid.UUID           `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	BusinessID        uuid.UUID           `gorm:"type:uuid;not null;index" json:"business_id"`
	Name              string              `gorm:"type:varchar(100);not null" json:"name"`
	CalculationMethod string              `gorm:"type:varchar(10);not null;default:'SIMPLE'" json:"calculation_method"` // SIMPLE, COMPOUND
	TaxTreatment      string              `gorm:"type:varchar(10);not null;default:'EXCLUSIVE'" json:"tax_treatment"`   // EXCLUSIVE, INCLUSIVE
	ReportingCategory string              `gorm:"type:varchar(20);not null;default:'TAXABLE'" json:"reporting_category"`
	Components        []TaxGroupComponent `gorm:"foreignKey:GroupID;constraint:OnDelete:CASCADE" json:"components"`
	CreatedAt         time.Time           `json:"created_at"`
	UpdatedAt         time.Time           `json:"updated_at"`
}

// TaxGroupComponent places a component inside a group.
// Components sharing a CalculationOrder are taxed on the same base.
type TaxGroupComponent struct {
	ID               uuid.UUID    `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	GroupID          uuid.UUID    `gorm:"type:uuid;not null;index" json:"group_id"`
	ComponentID      uuid.UUID    `gorm:"type:uuid;not null;index" json:"component_id"`
	Component        TaxComponent `gorm:"foreignKey:ComponentID" json:"component"`
	CalculationOrder int          `gorm:"not null;default:0" json:"calculation_order"`
}

// OrderedComponents returns the group's components sorted by calculation order.
// The sort is stable so equal orders keep their stored position.
func (g *TaxGroup) OrderedComponents() []TaxGroupComponent {
	out := make([]TaxGroupComponent, len(g.Components))
	copy(out, g.Components)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CalculationOrder < out[j].CalculationOrder
	})
	return out
}
