package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionLineTaxDetail is the signed tax fact for one (document line, component).
// Rows are never updated in place: they are deleted and recreated when the source document changes.
type TransactionLineTaxDetail struct {
	ID                uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	BusinessID        uuid.UUID       `gorm:"type:uuid;not null;index:idx_tax_detail_period,priority:1" json:"business_id"`
	Ref               DocumentRef     `gorm:"embedded" json:"ref"`
	ComponentID       uuid.UUID       `gorm:"type:uuid;not null;index" json:"component_id"`
	ComponentName     string          `gorm:"type:varchar(100)" json:"component_name"`
	ComponentIndex    int             `gorm:"not null;default:0" json:"component_index"`
	TaxGroupID        uuid.UUID       `gorm:"type:uuid;index" json:"tax_group_id"`
	ReportingCategory string          `gorm:"type:varchar(20);not null;default:'TAXABLE'" json:"reporting_category"`
	ProductCode       string          `gorm:"type:varchar(50)" json:"product_code"`
	ProductCategory   string          `gorm:"type:varchar(50)" json:"product_category"`
	JurisdictionCode  string          `gorm:"type:varchar(30);not null;index" json:"jurisdiction_code"`
	DocumentSide      string          `gorm:"type:varchar(10)" json:"document_side"` // SALE, PURCHASE, '' = infer
	IsRecoverable     bool            `gorm:"default:false" json:"is_recoverable"`   // snapshot of the component flag
	Currency          string          `gorm:"type:varchar(3);not null" json:"currency"`
	Rate              decimal.Decimal `gorm:"type:decimal(10,6);not null" json:"rate"`
	TaxableAmount     decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"taxable_amount"`      // line net base
	TaxableAmountHome decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"taxable_amount_home"` // in home currency
	ComponentBase     decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"component_base"`      // base the rate applied to
	TaxAmount         decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"tax_amount"`
	TaxAmountHome     decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"tax_amount_home"`
	TransactionDate   time.Time       `gorm:"type:date;not null;index:idx_tax_detail_period,priority:2" json:"transaction_date"`
	CreatedAt         time.Time       `json:"created_at"`
}
