package repository

import (
	"context"
	"errors"

	"taxengine/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type TaxGroupRepository interface {
	Create(ctx context.Context, group *model.TaxGroup) error
	FindByIDWithComponents(ctx context.Context, id uuid.UUID) (*model.TaxGroup, error)
}

type taxGroupRepository struct {
	db *gorm.DB
}

func NewTaxGroupRepository(db *gorm.DB) TaxGroupRepository {
	return &taxGroupRepository{db: db}
}

func (r *taxGroupRepository) Create(ctx context.Context, group *model.TaxGroup) error {
	return GetDB(ctx, r.db).Create(group).Error
}

func (r *taxGroupRepository) FindByIDWithComponents(ctx context.Context, id uuid.UUID) (*model.TaxGroup, error) {
	var group model.TaxGroup
	err := GetDB(ctx, r.db).
		Preload("Components", func(db *gorm.DB) *gorm.DB {
			return db.Order("calculation_order ASC, id ASC")
		}).
		Preload("Components.Component").
		First(&group, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &group, nil
}
