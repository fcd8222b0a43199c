package service

import (
	"context"
	"strings"
	"time"

	"taxengine/internal/model"
	"taxengine/internal/repository"
	"taxengine/pkg/period"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// SnapshotService drives the snapshot lifecycle: COMPUTED -> REVIEWED -> FILED, and FILED -> REVIEWED on reset.
type SnapshotService interface {
	Get(ctx context.Context, businessID uuid.UUID, periodKey string) (*model.TaxPeriodSnapshot, error)
	List(ctx context.Context, businessID uuid.UUID) ([]model.TaxPeriodSnapshot, error)
	Review(ctx context.Context, businessID uuid.UUID, periodKey, actor string) (*model.TaxPeriodSnapshot, error)
	File(ctx context.Context, businessID uuid.UUID, periodKey, actor string) (*model.TaxPeriodSnapshot, error)
	Reset(ctx context.Context, businessID uuid.UUID, periodKey, reason, actor string) (*model.TaxPeriodSnapshot, error)
}

type snapshotService struct {
	snapshotRepo repository.SnapshotRepository
	auditRepo    repository.AuditRepository
	txManager    repository.TransactionManager
	now          func() time.Time
}

func NewSnapshotService(
	snapshotRepo repository.SnapshotRepository,
	auditRepo repository.AuditRepository,
	txManager repository.TransactionManager,
) SnapshotService {
	return &snapshotService{
		snapshotRepo: snapshotRepo,
		auditRepo:    auditRepo,
		txManager:    txManager,
		now:          time.Now,
	}
}

func (s *snapshotService) Get(ctx context.Context, businessID uuid.UUID, periodKey string) (*model.TaxPeriodSnapshot, error) {
	p, err := period.Parse(periodKey)
	if err != nil {
		return nil, err
	}
	snap, err := s.snapshotRepo.Find(ctx, businessID, p.Key)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to fetch snapshot %s", p.Key)
	}
	if snap == nil {
		return nil, ErrSnapshotNotFound
	}
	return snap, nil
}

func (s *snapshotService) List(ctx context.Context, businessID uuid.UUID) ([]model.TaxPeriodSnapshot, error) {
	snaps, err := s.snapshotRepo.ListByBusiness(ctx, businessID)
	if err != nil {
		return nil, eris.Wrap(err, "failed to list snapshots")
	}
	return snaps, nil
}

func (s *snapshotService) Review(ctx context.Context, businessID uuid.UUID, periodKey, actor string) (*model.TaxPeriodSnapshot, error) {
	return s.transition(ctx, businessID, periodKey, actor, model.ActionReviewSnapshot, "", func(snap *model.TaxPeriodSnapshot, now time.Time) error {
		if snap.Status != model.SnapshotComputed {
			return eris.Wrapf(ErrInvalidTransition, "%s -> %s", snap.Status, model.SnapshotReviewed)
		}
		snap.Status = model.SnapshotReviewed
		snap.ReviewedAt = &now
		return nil
	})
}

func (s *snapshotService) File(ctx context.Context, businessID uuid.UUID, periodKey, actor string) (*model.TaxPeriodSnapshot, error) {
	return s.transition(ctx, businessID, periodKey, actor, model.ActionFileSnapshot, "", func(snap *model.TaxPeriodSnapshot, now time.Time) error {
		if snap.Status != model.SnapshotReviewed {
			return eris.Wrapf(ErrInvalidTransition, "%s -> %s", snap.Status, model.SnapshotFiled)
		}
		snap.Status = model.SnapshotFiled
		snap.FiledAt = &now
		return nil
	})
}

// Reset reopens a filed snapshot for amendment. The reason is stored on the snapshot and in the audit log.
func (s *snapshotService) Reset(ctx context.Context, businessID uuid.UUID, periodKey, reason, actor string) (*model.TaxPeriodSnapshot, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, ErrResetReasonRequired
	}
	return s.transition(ctx, businessID, periodKey, actor, model.ActionResetSnapshot, reason, func(snap *model.TaxPeriodSnapshot, _ time.Time) error {
		if snap.Status != model.SnapshotFiled {
			return eris.Wrapf(ErrInvalidTransition, "%s -> %s", snap.Status, model.SnapshotReviewed)
		}
		snap.Status = model.SnapshotReviewed
		snap.FiledAt = nil
		snap.ResetReason = reason
		return nil
	})
}

func (s *snapshotService) transition(
	ctx context.Context,
	businessID uuid.UUID,
	periodKey, actor, action, reason string,
	apply func(snap *model.TaxPeriodSnapshot, now time.Time) error,
) (*model.TaxPeriodSnapshot, error) {
	p, err := period.Parse(periodKey)
	if err != nil {
		return nil, err
	}

	var snap *model.TaxPeriodSnapshot
	var from string
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		found, err := s.snapshotRepo.Find(txCtx, businessID, p.Key)
		if err != nil {
			return eris.Wrapf(err, "failed to lock snapshot %s", p.Key)
		}
		if found == nil {
			return ErrSnapshotNotFound
		}
		from = found.Status
		if err := apply(found, s.now()); err != nil {
			return err
		}
		if err := s.snapshotRepo.Update(txCtx, found); err != nil {
			return eris.Wrapf(err, "failed to update snapshot %s", p.Key)
		}
		snap = found
		return nil
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("Snapshot status changed",
		zap.String("business_id", businessID.String()),
		zap.String("period", p.Key),
		zap.String("from", from),
		zap.String("to", snap.Status),
	)
	details := map[string]string{"from": from, "to": snap.Status}
	if reason != "" {
		details["reason"] = reason
	}
	writeAuditLog(ctx, s.auditRepo, &businessID, actor, action, snap.ID.String(), p.Key, details)
	return snap, nil
}
