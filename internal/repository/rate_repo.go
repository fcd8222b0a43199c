package repository

import (
	"context"
	"errors"
	"time"

	"taxengine/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type TaxComponentRepository interface {
	Create(ctx context.Context, component *model.TaxComponent) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.TaxComponent, error)
	ListByBusiness(ctx context.Context, businessID uuid.UUID) ([]model.TaxComponent, error)
}

type TaxRateRepository interface {
	Create(ctx context.Context, rate *model.TaxRate) error
	FindEffective(ctx context.Context, componentID uuid.UUID, productCategory string, asOf time.Time) (*model.TaxRate, error)
	CountOverlapping(ctx context.Context, componentID uuid.UUID, productCategory string, from time.Time, to *time.Time, excludeID *uuid.UUID) (int64, error)
	ListByComponent(ctx context.Context, componentID uuid.UUID) ([]model.TaxRate, error)
}

type taxComponentRepository struct {
	db *gorm.DB
}

func NewTaxComponentRepository(db *gorm.DB) TaxComponentRepository {
	return &taxComponentRepository{db: db}
}

func (r *taxComponentRepository) Create(ctx context.Context, component *model.TaxComponent) error {
	return GetDB(ctx, r.db).Create(component).Error
}

func (r *taxComponentRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.TaxComponent, error) {
	var component model.TaxComponent
	if err := GetDB(ctx, r.db).First(&component, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &component, nil
}

func (r *taxComponentRepository) ListByBusiness(ctx context.Context, businessID uuid.UUID) ([]model.TaxComponent, error) {
	var components []model.TaxComponent
	if err := GetDB(ctx, r.db).Where("business_id = ?", businessID).Order("name").Find(&components).Error; err != nil {
		return nil, err
	}
	return components, nil
}

type taxRateRepository struct {
	db *gorm.DB
}

func NewTaxRateRepository(db *gorm.DB) TaxRateRepository {
	return &taxRateRepository{db: db}
}

func (r *taxRateRepository) Create(ctx context.Context, rate *model.TaxRate) error {
	return GetDB(ctx, r.db).Create(rate).Error
}

// FindEffective returns the row with the latest effective_from <= asOf whose effective_to is open
// or >= asOf. Ties on effective_from prefer the most recently created row. nil when none applies.
func (r *taxRateRepository) FindEffective(ctx context.Context, componentID uuid.UUID, productCategory string, asOf time.Time) (*model.TaxRate, error) {
	var rate model.TaxRate
	err := GetDB(ctx, r.db).
		Where("component_id = ? AND product_category = ?", componentID, productCategory).
		Where("effective_from <= ? AND (effective_to IS NULL OR effective_to >= ?)", asOf, asOf).
		Order("effective_from DESC").
		Order("created_at DESC").
		First(&rate).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &rate, nil
}

func (r *taxRateRepository) CountOverlapping(ctx context.Context, componentID uuid.UUID, productCategory string, from time.Time, to *time.Time, excludeID *uuid.UUID) (int64, error) {
	var count int64
	query := GetDB(ctx, r.db).Model(&model.TaxRate{}).
		Where("component_id = ? AND product_category = ?", componentID, productCategory)

	if excludeID != nil {
		query = query.Where("id != ?", *excludeID)
	}

	if to != nil {
		// New row has end date: overlap if existing.from <= new.to AND (existing.to IS NULL OR existing.to >= new.from)
		query = query.Where("effective_from <= ? AND (effective_to IS NULL OR effective_to >= ?)", *to, from)
	} else {
		// New row has no end date: overlap if (existing.to IS NULL OR existing.to >= new.from)
		query = query.Where("(effective_to IS NULL OR effective_to >= ?)", from)
	}

	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *taxRateRepository) ListByComponent(ctx context.Context, componentID uuid.UUID) ([]model.TaxRate, error) {
	var rates []model.TaxRate
	if err := GetDB(ctx, r.db).
		Where("component_id = ?", componentID).
		Order("product_category, effective_from DESC").
		Find(&rates).Error; err != nil {
		return nil, err
	}
	return rates, nil
}
