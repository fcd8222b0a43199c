package service

import (
	"context"
	"strings"
	"time"

	"taxengine/internal/model"
	"taxengine/internal/repository"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// AnomalyService is the user-facing triage surface over detected anomalies.
type AnomalyService interface {
	List(ctx context.Context, filter repository.AnomalyListFilter) ([]model.TaxAnomaly, int64, error)
	ChangeStatus(ctx context.Context, businessID, anomalyID uuid.UUID, status, note, actor string) (*model.TaxAnomaly, error)
}

type anomalyService struct {
	anomalyRepo repository.AnomalyRepository
	auditRepo   repository.AuditRepository
	txManager   repository.TransactionManager
	now         func() time.Time
}

func NewAnomalyService(
	anomalyRepo repository.AnomalyRepository,
	auditRepo repository.AuditRepository,
	txManager repository.TransactionManager,
) AnomalyService {
	return &anomalyService{
		anomalyRepo: anomalyRepo,
		auditRepo:   auditRepo,
		txManager:   txManager,
		now:         time.Now,
	}
}

var anomalyStatuses = map[string]bool{
	model.AnomalyOpen:         true,
	model.AnomalyAcknowledged: true,
	model.AnomalyResolved:     true,
	model.AnomalyIgnored:      true,
}

func (s *anomalyService) List(ctx context.Context, filter repository.AnomalyListFilter) ([]model.TaxAnomaly, int64, error) {
	if filter.Status != "" && !anomalyStatuses[filter.Status] {
		return nil, 0, eris.Wrapf(ErrInvalidTransition, "unknown status %q", filter.Status)
	}
	anomalies, total, err := s.anomalyRepo.List(ctx, filter)
	if err != nil {
		return nil, 0, eris.Wrap(err, "failed to list anomalies")
	}
	return anomalies, total, nil
}

func (s *anomalyService) ChangeStatus(ctx context.Context, businessID, anomalyID uuid.UUID, status, note, actor string) (*model.TaxAnomaly, error) {
	status = strings.ToUpper(strings.TrimSpace(status))
	if !anomalyStatuses[status] {
		return nil, eris.Wrapf(ErrInvalidTransition, "unknown status %q", status)
	}

	var anomaly *model.TaxAnomaly
	var from string
	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		found, err := s.anomalyRepo.FindByID(txCtx, anomalyID)
		if err != nil {
			return eris.Wrapf(err, "failed to fetch anomaly %s", anomalyID)
		}
		if found == nil || found.BusinessID != businessID {
			return ErrAnomalyNotFound
		}
		if found.Status == status {
			return eris.Wrapf(ErrInvalidTransition, "anomaly is already %s", status)
		}

		from = found.Status
		now := s.now()
		found.Status = status
		found.ResolvedBySystem = false
		found.StatusNote = note
		found.StatusChangedAt = &now
		if err := s.anomalyRepo.Update(txCtx, found); err != nil {
			return eris.Wrapf(err, "failed to update anomaly %s", anomalyID)
		}
		anomaly = found
		return nil
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("Anomaly status changed",
		zap.String("anomaly_id", anomalyID.String()),
		zap.String("code", anomaly.Code),
		zap.String("from", from),
		zap.String("to", status),
	)
	writeAuditLog(ctx, s.auditRepo, &businessID, actor, model.ActionChangeAnomalyStatus, anomalyID.String(), anomaly.Code,
		map[string]string{"from": from, "to": status, "note": note})
	return anomaly, nil
}
