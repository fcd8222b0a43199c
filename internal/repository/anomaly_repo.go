package repository

import (
	"context"
	"errors"

	"taxengine/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type AnomalyListFilter struct {
	BusinessID uuid.UUID
	PeriodKey  string // empty for all periods
	Status     string // empty for all statuses
	Page       int
	Limit      int
}

type AnomalyRepository interface {
	FindByKey(ctx context.Context, key model.AnomalyKey) (*model.TaxAnomaly, error)
	FindByID(ctx context.Context, id uuid.UUID) (*model.TaxAnomaly, error)
	Create(ctx context.Context, anomaly *model.TaxAnomaly) error
	Update(ctx context.Context, anomaly *model.TaxAnomaly) error
	ListByPeriod(ctx context.Context, businessID uuid.UUID, periodKey string) ([]model.TaxAnomaly, error)
	List(ctx context.Context, filter AnomalyListFilter) ([]model.TaxAnomaly, int64, error)
}

type anomalyRepository struct {
	db *gorm.DB
}

func NewAnomalyRepository(db *gorm.DB) AnomalyRepository {
	return &anomalyRepository{db: db}
}

func (r *anomalyRepository) FindByKey(ctx context.Context, key model.AnomalyKey) (*model.TaxAnomaly, error) {
	var anomaly model.TaxAnomaly
	err := GetDB(ctx, r.db).
		Where("business_id = ? AND period_key = ? AND code = ? AND document_id = ? AND scope = ?",
			key.BusinessID, key.PeriodKey, key.Code, key.DocumentID, key.Scope).
		First(&anomaly).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &anomaly, nil
}

func (r *anomalyRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.TaxAnomaly, error) {
	var anomaly model.TaxAnomaly
	if err := GetDB(ctx, r.db).First(&anomaly, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &anomaly, nil
}

func (r *anomalyRepository) Create(ctx context.Context, anomaly *model.TaxAnomaly) error {
	return GetDB(ctx, r.db).Create(anomaly).Error
}

func (r *anomalyRepository) Update(ctx context.Context, anomaly *model.TaxAnomaly) error {
	return GetDB(ctx, r.db).Save(anomaly).Error
}

func (r *anomalyRepository) ListByPeriod(ctx context.Context, businessID uuid.UUID, periodKey string) ([]model.TaxAnomaly, error) {
	var anomalies []model.TaxAnomaly
	if err := GetDB(ctx, r.db).
		Where("business_id = ? AND period_key = ?", businessID, periodKey).
		Order("code, scope, document_id").
		Find(&anomalies).Error; err != nil {
		return nil, err
	}
	return anomalies, nil
}

func (r *anomalyRepository) List(ctx context.Context, filter AnomalyListFilter) ([]model.TaxAnomaly, int64, error) {
	var anomalies []model.TaxAnomaly
	var total int64

	scoped := func() *gorm.DB {
		query := GetDB(ctx, r.db).Model(&model.TaxAnomaly{}).Where("business_id = ?", filter.BusinessID)
		if filter.PeriodKey != "" {
			query = query.Where("period_key = ?", filter.PeriodKey)
		}
		if filter.Status != "" {
			query = query.Where("status = ?", filter.Status)
		}
		return query
	}

	if err := scoped().Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (filter.Page - 1) * filter.Limit
	if err := scoped().Order("last_detected_at desc, code").Offset(offset).Limit(filter.Limit).Find(&anomalies).Error; err != nil {
		return nil, 0, err
	}

	return anomalies, total, nil
}
