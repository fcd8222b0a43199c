package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// SnapshotStatus enum constants
const (
	SnapshotDraft    = "DRAFT"
	SnapshotComputed = "COMPUTED"
	SnapshotReviewed = "REVIEWED"
	SnapshotFiled    = "FILED"
)

// Aggregation sources
const (
	SourceDetailLines    = "DETAIL_LINES"
	SourceDocumentTotals = "DOCUMENT_TOTALS"
)

// TaxPeriodSnapshot is the filing-ready tax picture of one business and period.
// (business_id, period_key) is unique: recomputation overwrites the row in place.
type TaxPeriodSnapshot struct {
	ID                    uuid.UUID                                          `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	BusinessID            uuid.UUID                                          `gorm:"type:uuid;not null;uniqueIndex:idx_snapshot_business_period,priority:1" json:"business_id"`
	PeriodKey             string                                             `gorm:"type:varchar(10);not null;uniqueIndex:idx_snapshot_business_period,priority:2" json:"period_key"`
	PeriodStart           time.Time                                          `gorm:"type:date;not null" json:"period_start"`
	PeriodEnd             time.Time                                          `gorm:"type:date;not null" json:"period_end"`
	Status                string                                             `gorm:"type:varchar(20);not null;default:'DRAFT';index" json:"status"`
	Source                string                                             `gorm:"type:varchar(20)" json:"source"` // DETAIL_LINES, DOCUMENT_TOTALS
	SummaryByJurisdiction datatypes.JSONType[map[string]JurisdictionSummary] `gorm:"type:jsonb" json:"summary_by_jurisdiction"`
	LineMappings          datatypes.JSONType[LineMappings]                   `gorm:"type:jsonb" json:"line_mappings"`
	ComputedAt            *time.Time                                         `json:"computed_at"`
	ReviewedAt            *time.Time                                         `json:"reviewed_at"`
	FiledAt               *time.Time                                         `json:"filed_at"`
	ResetReason           string                                             `gorm:"type:text" json:"reset_reason"`
	CreatedAt             time.Time                                          `json:"created_at"`
	UpdatedAt             time.Time                                          `json:"updated_at"`
}

// Summary returns the per-jurisdiction buckets.
func (s *TaxPeriodSnapshot) Summary() map[string]JurisdictionSummary {
	return s.SummaryByJurisdiction.Data()
}

// JurisdictionSummary aggregates one jurisdiction bucket of a period.
type JurisdictionSummary struct {
	Code             string          `json:"code"`
	Source           string          `json:"source"`
	TaxableSales     decimal.Decimal `json:"taxable_sales"`
	TaxablePurchases decimal.Decimal `json:"taxable_purchases"`
	OutOfScopeSales  decimal.Decimal `json:"out_of_scope_sales"`
	TaxCollected     decimal.Decimal `json:"tax_collected"`
	TaxOnPurchases   decimal.Decimal `json:"tax_on_purchases"`
	NetTax           decimal.Decimal `json:"net_tax"`
	Locals           []LocalTax      `json:"locals,omitempty"`
}

// LocalTax is the share of a bucket's tax attributed to a narrower code (county, city, district).
type LocalTax struct {
	Code           string          `json:"code"`
	TaxCollected   decimal.Decimal `json:"tax_collected"`
	TaxOnPurchases decimal.Decimal `json:"tax_on_purchases"`
}

// LineMappings holds the country-specific filing projection of a snapshot.
type LineMappings struct {
	Country      string         `json:"country"`
	Canada       *CanadaReturn  `json:"canada,omitempty"`
	Quebec       *QuebecReturn  `json:"quebec,omitempty"`
	UnitedStates *USReturn      `json:"united_states,omitempty"`
	General      *GeneralReturn `json:"general,omitempty"`
}

// CanadaReturn maps to the GST/HST return lines.
type CanadaReturn struct {
	Line101    decimal.Decimal    `json:"line_101"` // sales and other revenue
	Line103    decimal.Decimal    `json:"line_103"` // GST/HST collected
	Line106    decimal.Decimal    `json:"line_106"` // input tax credits
	Line109    decimal.Decimal    `json:"line_109"` // net tax
	Provincial []ProvincialReturn `json:"provincial,omitempty"`
}

// ProvincialReturn carries a PST province, filed outside the GST/HST return.
type ProvincialReturn struct {
	Province     string          `json:"province"`
	TaxableSales decimal.Decimal `json:"taxable_sales"`
	TaxCollected decimal.Decimal `json:"tax_collected"`
}

// QuebecReturn maps to the QST return lines.
type QuebecReturn struct {
	Line101 decimal.Decimal `json:"line_101"` // sales
	Line205 decimal.Decimal `json:"line_205"` // QST collected
	Line206 decimal.Decimal `json:"line_206"` // input tax refunds
	Line209 decimal.Decimal `json:"line_209"` // net QST
}

// USReturn is the gross/taxable/collected structure with the per-state SER breakdown.
type USReturn struct {
	GrossSales     decimal.Decimal `json:"gross_sales"`
	ExemptSales    decimal.Decimal `json:"exempt_sales"`
	TaxableSales   decimal.Decimal `json:"taxable_sales"`
	TaxCollected   decimal.Decimal `json:"tax_collected"`
	TaxOnPurchases decimal.Decimal `json:"tax_on_purchases"`
	NetTax         decimal.Decimal `json:"net_tax"`
	States         []StateReturn   `json:"states,omitempty"`
}

// StateReturn is one state's sales-and-use (SER) line.
type StateReturn struct {
	State          string          `json:"state"`
	GrossSales     decimal.Decimal `json:"gross_sales"`
	ExemptSales    decimal.Decimal `json:"exempt_sales"`
	TaxableSales   decimal.Decimal `json:"taxable_sales"`
	TaxCollected   decimal.Decimal `json:"tax_collected"`
	TaxOnPurchases decimal.Decimal `json:"tax_on_purchases"`
	Locals         []LocalTax      `json:"locals,omitempty"`
}

// GeneralReturn is used for countries without a dedicated mapping.
type GeneralReturn struct {
	TaxableSales     decimal.Decimal `json:"taxable_sales"`
	TaxablePurchases decimal.Decimal `json:"taxable_purchases"`
	TaxCollected     decimal.Decimal `json:"tax_collected"`
	TaxOnPurchases   decimal.Decimal `json:"tax_on_purchases"`
	NetTax           decimal.Decimal `json:"net_tax"`
}
