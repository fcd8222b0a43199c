package service

import "github.com/rotisserie/eris"

// Configuration errors abort the whole calculation; nothing is persisted.
var (
	ErrBusinessNotFound      = eris.New("business not found")
	ErrDocumentNotFound      = eris.New("document not found")
	ErrGroupNotFound         = eris.New("tax group not found")
	ErrGroupBusinessMismatch = eris.New("tax group belongs to a different business")
	ErrMissingBaseAmount     = eris.New("line has no base amount")
	ErrMissingFXRate         = eris.New("exchange rate required for foreign currency amount")
	ErrComponentNotFound     = eris.New("tax component not found")
)

// Invariant violations are rejected at write time.
var (
	ErrRateOverlap         = eris.New("a rate for this component and category already exists with overlapping effective dates")
	ErrProductRuleOverlap  = eris.New("a product rule for this jurisdiction and product already exists with overlapping dates")
	ErrInvalidProductRule  = eris.New("invalid product rule")
	ErrInvalidJurisdiction = eris.New("invalid jurisdiction")
	ErrInvalidRate         = eris.New("invalid rate")
)

// Snapshot and anomaly state machine errors.
var (
	ErrSnapshotNotFound    = eris.New("snapshot not found")
	ErrSnapshotFiled       = eris.New("snapshot is filed and cannot be recomputed")
	ErrInvalidTransition   = eris.New("invalid status transition")
	ErrResetReasonRequired = eris.New("a reason is required to reset a filed snapshot")
	ErrAnomalyNotFound     = eris.New("anomaly not found")
)
