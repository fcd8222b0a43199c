package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// FilingFrequency enum constants
const (
	FilingMonthly   = "MONTHLY"
	FilingQuarterly = "QUARTERLY"
	FilingAnnual    = "ANNUAL"
)

// Business is the tax profile of a filer.
type Business struct {
	ID              uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Name            string    `gorm:"type:varchar(255);not null" json:"name"`
	TaxCountry      string    `gorm:"type:varchar(2);not null" json:"tax_country"` // ISO alpha-2: CA, US...
	TaxRegion       string    `gorm:"type:varchar(10)" json:"tax_region"`          // ON, QC, CA, TX...
	HomeCurrency    string    `gorm:"type:varchar(3);not null;default:'USD'" json:"home_currency"`
	TaxRegistered   bool      `gorm:"default:false" json:"tax_registered"`
	Nexus           string    `gorm:"type:text" json:"nexus"` // comma separated codes, supplied externally
	FilingFrequency string    `gorm:"type:varchar(20);not null;default:'MONTHLY'" json:"filing_frequency"`
	FilingDueDay    int       `gorm:"default:0" json:"filing_due_day"` // 0 = use tax.default_due_day
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// RegionCode returns the business's registered region as a jurisdiction code (e.g. CA-ON).
func (b Business) RegionCode() string {
	if b.TaxRegion == "" {
		return b.TaxCountry
	}
	return b.TaxCountry + "-" + b.TaxRegion
}

// CollectsIn reports whether the business has nexus in the jurisdiction code.
// An empty nexus list means the business collects wherever it is registered.
func (b Business) CollectsIn(code string) bool {
	if strings.TrimSpace(b.Nexus) == "" {
		return true
	}
	code = strings.ToUpper(code)
	for _, n := range strings.Split(b.Nexus, ",") {
		n = strings.ToUpper(strings.TrimSpace(n))
		if n != "" && (code == n || strings.HasPrefix(code, n+"-")) {
			return true
		}
	}
	return false
}

// GeneralCode is the synthetic code used when no rule set exists for the country.
func GeneralCode(country string) string {
	return country + "-GENERAL"
}
