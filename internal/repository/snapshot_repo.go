package repository

import (
	"context"
	"errors"

	"taxengine/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type SnapshotRepository interface {
	// Find loads the snapshot of (business, period). Inside a transaction the row is locked FOR UPDATE.
	Find(ctx context.Context, businessID uuid.UUID, periodKey string) (*model.TaxPeriodSnapshot, error)
	Create(ctx context.Context, snapshot *model.TaxPeriodSnapshot) error
	Update(ctx context.Context, snapshot *model.TaxPeriodSnapshot) error
	ListByBusiness(ctx context.Context, businessID uuid.UUID) ([]model.TaxPeriodSnapshot, error)
}

type snapshotRepository struct {
	db *gorm.DB
}

func NewSnapshotRepository(db *gorm.DB) SnapshotRepository {
	return &snapshotRepository{db: db}
}

func (r *snapshotRepository) Find(ctx context.Context, businessID uuid.UUID, periodKey string) (*model.TaxPeriodSnapshot, error) {
	var snapshot model.TaxPeriodSnapshot
	err := forUpdate(ctx, GetDB(ctx, r.db)).
		Where("business_id = ? AND period_key = ?", businessID, periodKey).
		First(&snapshot).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &snapshot, nil
}

func (r *snapshotRepository) Create(ctx context.Context, snapshot *model.TaxPeriodSnapshot) error {
	return GetDB(ctx, r.db).Create(snapshot).Error
}

func (r *snapshotRepository) Update(ctx context.Context, snapshot *model.TaxPeriodSnapshot) error {
	return GetDB(ctx, r.db).Save(snapshot).Error
}

func (r *snapshotRepository) ListByBusiness(ctx context.Context, businessID uuid.UUID) ([]model.TaxPeriodSnapshot, error) {
	var snapshots []model.TaxPeriodSnapshot
	if err := GetDB(ctx, r.db).
		Where("business_id = ?", businessID).
		Order("period_start DESC").
		Find(&snapshots).Error; err != nil {
		return nil, err
	}
	return snapshots, nil
}
