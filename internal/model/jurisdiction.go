package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// JurisdictionType enum constants
const (
	JurisdictionCountry  = "COUNTRY"
	JurisdictionState    = "STATE" // also provinces
	JurisdictionCounty   = "COUNTY"
	JurisdictionCity     = "CITY"
	JurisdictionDistrict = "DISTRICT"
)

// SourcingRule enum constants
const (
	SourcingOrigin      = "ORIGIN"
	SourcingDestination = "DESTINATION"
	SourcingHybrid      = "HYBRID"
)

// TaxJurisdiction is a node in the code hierarchy, e.g. US-CA-LA -> US-CA -> US.
type TaxJurisdiction struct {
	ID               uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Code             string    `gorm:"type:varchar(30);uniqueIndex;not null" json:"code"`
	ParentCode       *string   `gorm:"type:varchar(30);index" json:"parent_code"`
	Name             string    `gorm:"type:varchar(255)" json:"name"`
	JurisdictionType string    `gorm:"type:varchar(20);not null" json:"jurisdiction_type"`
	SourcingRule     string    `gorm:"type:varchar(20);not null;default:'DESTINATION'" json:"sourcing_rule"`
	CreatedAt        time.Time `json:"created_at"`
}

// Country returns the country prefix of the code.
func (j TaxJurisdiction) Country() string {
	return CountryOf(j.Code)
}

// CountryOf returns the first segment of a jurisdiction code.
func CountryOf(code string) string {
	country, _, _ := strings.Cut(code, "-")
	return country
}

// RegionOf returns the state/province level code (first two segments).
// Country-level codes are returned unchanged.
func RegionOf(code string) string {
	parts := strings.Split(code, "-")
	if len(parts) <= 2 {
		return code
	}
	return parts[0] + "-" + parts[1]
}

// CodePrefix returns the first n segments of a code, or "" when the code is shorter.
func CodePrefix(code string, n int) string {
	parts := strings.Split(code, "-")
	if len(parts) < n {
		return ""
	}
	return strings.Join(parts[:n], "-")
}

// AncestorCodes returns the code followed by each parent, narrowest first.
func AncestorCodes(code string) []string {
	parts := strings.Split(code, "-")
	out := make([]string, 0, len(parts))
	for i := len(parts); i > 0; i-- {
		out = append(out, strings.Join(parts[:i], "-"))
	}
	return out
}

// ProductRuleType enum constants
const (
	ProductRuleTaxable   = "TAXABLE"
	ProductRuleExempt    = "EXEMPT"
	ProductRuleZeroRated = "ZERO_RATED"
	ProductRuleReduced   = "REDUCED"
)

// TaxProductRule adjusts taxability of a product code inside a jurisdiction.
type TaxProductRule struct {
	ID               uuid.UUID        `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	JurisdictionCode string           `gorm:"type:varchar(30);not null;index:idx_product_rule_lookup,priority:1" json:"jurisdiction_code"`
	ProductCode      string           `gorm:"type:varchar(50);not null;index:idx_product_rule_lookup,priority:2" json:"product_code"`
	RuleType         string           `gorm:"type:varchar(20);not null" json:"rule_type"` // TAXABLE, EXEMPT, ZERO_RATED, REDUCED
	SpecialRate      *decimal.Decimal `gorm:"type:decimal(10,6)" json:"special_rate"`     // required for REDUCED
	ValidFrom        time.Time        `gorm:"type:date;not null" json:"valid_from"`
	ValidTo          *time.Time       `gorm:"type:date" json:"valid_to"`
	CreatedAt        time.Time        `json:"created_at"`
}

// NoTax reports whether the rule removes tax entirely.
func (r TaxProductRule) NoTax() bool {
	return r.RuleType == ProductRuleExempt || r.RuleType == ProductRuleZeroRated
}
