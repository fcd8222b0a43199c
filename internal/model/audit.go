package model

import (
	"time"

	"github.com/google/uuid"
)

const (
	ActionCreateTaxRate          = "CREATE_TAX_RATE"
	ActionCreateProductRule      = "CREATE_PRODUCT_RULE"
	ActionRegisterJurisdiction   = "REGISTER_JURISDICTION"
	ActionComputeSnapshot        = "COMPUTE_SNAPSHOT"
	ActionReviewSnapshot         = "REVIEW_SNAPSHOT"
	ActionFileSnapshot           = "FILE_SNAPSHOT"
	ActionResetSnapshot          = "RESET_SNAPSHOT"
	ActionChangeAnomalyStatus    = "CHANGE_ANOMALY_STATUS"
	ActionRecalculateDocumentTax = "RECALCULATE_DOCUMENT_TAX"
)

// AuditLog tracks Who, What, and When for changes to tax configuration and filings
type AuditLog struct {
	ID         uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	BusinessID *uuid.UUID `gorm:"type:uuid;index" json:"business_id"`
	Actor      string     `gorm:"type:varchar(100)" json:"actor"` // empty for scheduled jobs
	Action     string     `gorm:"type:varchar(50);not null;index" json:"action"`
	EntityID   string     `gorm:"type:varchar(50);index" json:"entity_id"`
	EntityName string     `gorm:"type:varchar(255)" json:"entity_name,omitempty"`
	Details    string     `gorm:"type:jsonb" json:"details"` // Serialized JSON payload of the action
	CreatedAt  time.Time  `gorm:"index" json:"created_at"`
}
