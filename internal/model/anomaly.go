package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Anomaly codes
const (
	AnomalyRateMismatch     = "T1_RATE_MISMATCH"
	AnomalyOvercharge       = "T2_POSSIBLE_OVERCHARGE"
	AnomalyMissingTax       = "T3_MISSING_TAX"
	AnomalyMissingComponent = "T3_MISSING_COMPONENT"
	AnomalyRounding         = "T4_ROUNDING_ANOMALY"
	AnomalyExemptTaxed      = "T5_EXEMPT_TAXED"
	AnomalyNegativeBalance  = "T6_NEGATIVE_BALANCE"
	AnomalyLateFiling       = "T7_LATE_FILING"
)

// Severity enum constants
const (
	SeverityLow    = "LOW"
	SeverityMedium = "MEDIUM"
	SeverityHigh   = "HIGH"
)

// AnomalyStatus enum constants
const (
	AnomalyOpen         = "OPEN"
	AnomalyAcknowledged = "ACKNOWLEDGED"
	AnomalyResolved     = "RESOLVED"
	AnomalyIgnored      = "IGNORED"
)

// TaxAnomaly is a deterministic invariant violation found in a period.
// Rows are upserted by (business, period, code, document, scope).
type TaxAnomaly struct {
	ID               uuid.UUID         `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	BusinessID       uuid.UUID         `gorm:"type:uuid;not null;uniqueIndex:idx_anomaly_key,priority:1" json:"business_id"`
	PeriodKey        string            `gorm:"type:varchar(10);not null;uniqueIndex:idx_anomaly_key,priority:2" json:"period_key"`
	Code             string            `gorm:"type:varchar(40);not null;uniqueIndex:idx_anomaly_key,priority:3" json:"code"`
	DocumentID       uuid.UUID         `gorm:"type:uuid;not null;uniqueIndex:idx_anomaly_key,priority:4" json:"document_id"` // uuid.Nil when not linked
	DocumentKind     string            `gorm:"type:varchar(20)" json:"document_kind"`
	Scope            string            `gorm:"type:varchar(30);not null;default:'';uniqueIndex:idx_anomaly_key,priority:5" json:"scope"` // jurisdiction code or ''
	Severity         string            `gorm:"type:varchar(10);not null" json:"severity"`
	Status           string            `gorm:"type:varchar(20);not null;default:'OPEN';index" json:"status"`
	ResolvedBySystem bool              `gorm:"not null;default:false" json:"resolved_by_system"` // set when detection stopped finding it
	Message          string            `gorm:"type:text" json:"message"`
	Details          datatypes.JSONMap `gorm:"type:jsonb" json:"details"`
	LastDetectedAt   time.Time         `json:"last_detected_at"`
	StatusNote       string            `gorm:"type:text" json:"status_note"`
	StatusChangedAt  *time.Time        `json:"status_changed_at"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// ReopensOnDetection reports whether a new detection may reopen the anomaly.
// Only anomalies the detector resolved itself qualify; user triage is final.
func (a TaxAnomaly) ReopensOnDetection() bool {
	return a.Status == AnomalyResolved && a.ResolvedBySystem
}

// AnomalyKey identifies an anomaly across detection runs.
type AnomalyKey struct {
	BusinessID uuid.UUID
	PeriodKey  string
	Code       string
	DocumentID uuid.UUID
	Scope      string
}

// Key returns the upsert key of the anomaly.
func (a TaxAnomaly) Key() AnomalyKey {
	return AnomalyKey{
		BusinessID: a.BusinessID,
		PeriodKey:  a.PeriodKey,
		Code:       a.Code,
		DocumentID: a.DocumentID,
		Scope:      a.Scope,
	}
}
