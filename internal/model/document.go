package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DocumentKind enum constants
const (
	DocKindInvoice    = "INVOICE"
	DocKindExpense    = "EXPENSE"
	DocKindCreditMemo = "CREDIT_MEMO"
)

// PlaceOfSupply hints
const (
	SupplyAuto    = "AUTO"
	SupplyTPP     = "TPP"     // tangible personal property
	SupplyService = "SERVICE" // services
	SupplyIPP     = "IPP"     // intangible personal property
)

// Document is a posted sales invoice, purchase expense or credit memo.
// Only the fields the tax pipeline reads are modelled here.
type Document struct {
	ID               uuid.UUID        `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	BusinessID       uuid.UUID        `gorm:"type:uuid;not null;index" json:"business_id"`
	Kind             string           `gorm:"type:varchar(20);not null;index" json:"kind"` // INVOICE, EXPENSE, CREDIT_MEMO
	Number           string           `gorm:"type:varchar(30);not null" json:"number"`
	DocumentDate     time.Time        `gorm:"type:date;not null;index" json:"document_date"`
	Currency         string           `gorm:"type:varchar(3);not null;default:'USD'" json:"currency"`
	ExchangeRate     *decimal.Decimal `gorm:"type:decimal(18,6)" json:"exchange_rate"` // to home currency, nil when unknown
	NetTotal         decimal.Decimal  `gorm:"type:decimal(18,2);not null;default:0" json:"net_total"`
	TaxTotal         decimal.Decimal  `gorm:"type:decimal(18,2);not null;default:0" json:"tax_total"` // as recorded on the document
	ShipFrom         *string          `gorm:"type:varchar(30)" json:"ship_from"`
	ShipTo           *string          `gorm:"type:varchar(30)" json:"ship_to"`
	CustomerLocation *string          `gorm:"type:varchar(30)" json:"customer_location"`
	PlaceOfSupply    string           `gorm:"type:varchar(10);not null;default:'AUTO'" json:"place_of_supply"`
	TaxRecoverable   bool             `gorm:"default:false" json:"tax_recoverable"` // expenses: ITC eligible document
	Lines            []DocumentLine   `gorm:"foreignKey:DocumentID;constraint:OnDelete:CASCADE" json:"lines"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// DocumentLine is one taxable line of a document.
type DocumentLine struct {
	ID              uuid.UUID        `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	DocumentID      uuid.UUID        `gorm:"type:uuid;not null;index" json:"document_id"`
	LineNo          int              `gorm:"not null" json:"line_no"`
	Description     string           `gorm:"type:text" json:"description"`
	ProductCode     string           `gorm:"type:varchar(50)" json:"product_code"`
	ProductCategory string           `gorm:"type:varchar(50)" json:"product_category"`
	NetAmount       *decimal.Decimal `gorm:"type:decimal(18,2)" json:"net_amount"`
	TaxGroupID      *uuid.UUID       `gorm:"type:uuid;index" json:"tax_group_id"`
	TaxGroup        *TaxGroup        `gorm:"foreignKey:TaxGroupID" json:"tax_group,omitempty"`
}

// Side returns the filing side a document kind belongs to.
func (d Document) Side() string {
	return SideForKind(LineKindFor(d.Kind))
}

// Ref returns the typed reference to one of the document's lines.
func (d Document) Ref(line DocumentLine) DocumentRef {
	switch d.Kind {
	case DocKindExpense:
		return ExpenseLineRef(d.ID, line.ID)
	case DocKindCreditMemo:
		return CreditMemoLineRef(d.ID, line.ID)
	default:
		return InvoiceLineRef(d.ID, line.ID)
	}
}

// LineKindFor maps a document kind to the kind of its line references.
func LineKindFor(docKind string) string {
	switch docKind {
	case DocKindExpense:
		return RefExpenseLine
	case DocKindCreditMemo:
		return RefCreditMemoLine
	case DocKindInvoice:
		return RefInvoiceLine
	}
	return ""
}
