package service

import (
	"context"
	"encoding/json"

	"taxengine/internal/model"
	"taxengine/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type AuditService interface {
	List(ctx context.Context, businessID uuid.UUID, page, limit int) ([]model.AuditLog, int64, error)
}

type auditService struct {
	auditRepo repository.AuditRepository
}

func NewAuditService(auditRepo repository.AuditRepository) AuditService {
	return &auditService{auditRepo: auditRepo}
}

func (s *auditService) List(ctx context.Context, businessID uuid.UUID, page, limit int) ([]model.AuditLog, int64, error) {
	return s.auditRepo.ListByBusiness(ctx, businessID, page, limit)
}

// writeAuditLog records an action. Audit failures are logged and never fail the operation.
func writeAuditLog(ctx context.Context, repo repository.AuditRepository, businessID *uuid.UUID, actor, action, entityID, entityName string, details interface{}) {
	if repo == nil {
		return
	}
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		detailsJSON = []byte("{}")
	}

	entry := model.AuditLog{
		BusinessID: businessID,
		Actor:      actor,
		Action:     action,
		EntityID:   entityID,
		EntityName: entityName,
		Details:    string(detailsJSON),
	}
	if err := repo.Log(ctx, &entry); err != nil {
		zap.L().Warn("Failed to write audit log",
			zap.String("action", action),
			zap.String("entity_id", entityID),
			zap.Error(err),
		)
	}
}
