package model

import (
	"github.com/google/uuid"
)

// DocumentRef kinds. The set is closed: only these line kinds can own tax facts.
const (
	RefInvoiceLine    = "INVOICE_LINE"
	RefExpenseLine    = "EXPENSE_LINE"
	RefCreditMemoLine = "CREDIT_MEMO_LINE"
)

// Document sides
const (
	SideSale     = "SALE"
	SidePurchase = "PURCHASE"
)

// DocumentRef links a tax fact or anomaly to the document line that produced it.
// Build it with InvoiceLineRef, ExpenseLineRef or CreditMemoLineRef.
type DocumentRef struct {
	Kind       string    `gorm:"column:document_kind;type:varchar(20);not null" json:"kind"`
	DocumentID uuid.UUID `gorm:"column:document_id;type:uuid;not null;index" json:"document_id"`
	LineID     uuid.UUID `gorm:"column:line_id;type:uuid;not null;index" json:"line_id"`
}

func InvoiceLineRef(invoiceID, lineID uuid.UUID) DocumentRef {
	return DocumentRef{Kind: RefInvoiceLine, DocumentID: invoiceID, LineID: lineID}
}

func ExpenseLineRef(expenseID, lineID uuid.UUID) DocumentRef {
	return DocumentRef{Kind: RefExpenseLine, DocumentID: expenseID, LineID: lineID}
}

func CreditMemoLineRef(memoID, lineID uuid.UUID) DocumentRef {
	return DocumentRef{Kind: RefCreditMemoLine, DocumentID: memoID, LineID: lineID}
}

// Valid reports whether the reference carries a known kind and both identifiers.
func (r DocumentRef) Valid() bool {
	switch r.Kind {
	case RefInvoiceLine, RefExpenseLine, RefCreditMemoLine:
		return r.DocumentID != uuid.Nil && r.LineID != uuid.Nil
	}
	return false
}

// Negates reports whether facts for this line carry the opposite sign (credit memos).
func (r DocumentRef) Negates() bool {
	return r.Kind == RefCreditMemoLine
}

// SideForKind returns the filing side implied by a reference kind, or "" when unknown.
func SideForKind(kind string) string {
	switch kind {
	case RefInvoiceLine, RefCreditMemoLine:
		return SideSale
	case RefExpenseLine:
		return SidePurchase
	}
	return ""
}
