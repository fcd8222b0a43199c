package repository

import (
	"context"
	"errors"
	"time"

	"taxengine/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type JurisdictionRepository interface {
	Create(ctx context.Context, jurisdiction *model.TaxJurisdiction) error
	FindByCode(ctx context.Context, code string) (*model.TaxJurisdiction, error)
	ListByCountry(ctx context.Context, country string) ([]model.TaxJurisdiction, error)
}

type ProductRuleRepository interface {
	Create(ctx context.Context, rule *model.TaxProductRule) error
	FindValid(ctx context.Context, jurisdictionCode, productCode string, date time.Time) (*model.TaxProductRule, error)
	CountOverlapping(ctx context.Context, jurisdictionCode, productCode string, from time.Time, to *time.Time, excludeID *uuid.UUID) (int64, error)
}

type jurisdictionRepository struct {
	db *gorm.DB
}

func NewJurisdictionRepository(db *gorm.DB) JurisdictionRepository {
	return &jurisdictionRepository{db: db}
}

func (r *jurisdictionRepository) Create(ctx context.Context, jurisdiction *model.TaxJurisdiction) error {
	return GetDB(ctx, r.db).Create(jurisdiction).Error
}

func (r *jurisdictionRepository) FindByCode(ctx context.Context, code string) (*model.TaxJurisdiction, error) {
	var jurisdiction model.TaxJurisdiction
	if err := GetDB(ctx, r.db).First(&jurisdiction, "code = ?", code).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &jurisdiction, nil
}

func (r *jurisdictionRepository) ListByCountry(ctx context.Context, country string) ([]model.TaxJurisdiction, error) {
	var jurisdictions []model.TaxJurisdiction
	if err := GetDB(ctx, r.db).
		Where("code = ? OR code LIKE ?", country, country+"-%").
		Order("code").
		Find(&jurisdictions).Error; err != nil {
		return nil, err
	}
	return jurisdictions, nil
}

type productRuleRepository struct {
	db *gorm.DB
}

func NewProductRuleRepository(db *gorm.DB) ProductRuleRepository {
	return &productRuleRepository{db: db}
}

func (r *productRuleRepository) Create(ctx context.Context, rule *model.TaxProductRule) error {
	return GetDB(ctx, r.db).Create(rule).Error
}

func (r *productRuleRepository) FindValid(ctx context.Context, jurisdictionCode, productCode string, date time.Time) (*model.TaxProductRule, error) {
	var rule model.TaxProductRule
	err := GetDB(ctx, r.db).
		Where("jurisdiction_code = ? AND product_code = ?", jurisdictionCode, productCode).
		Where("valid_from <= ? AND (valid_to IS NULL OR valid_to >= ?)", date, date).
		Order("valid_from DESC").
		First(&rule).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &rule, nil
}

func (r *productRuleRepository) CountOverlapping(ctx context.Context, jurisdictionCode, productCode string, from time.Time, to *time.Time, excludeID *uuid.UUID) (int64, error) {
	var count int64
	query := GetDB(ctx, r.db).Model(&model.TaxProductRule{}).
		Where("jurisdiction_code = ? AND product_code = ?", jurisdictionCode, productCode)

	if excludeID != nil {
		query = query.Where("id != ?", *excludeID)
	}
	if to != nil {
		query = query.Where("valid_from <= ? AND (valid_to IS NULL OR valid_to >= ?)", *to, from)
	} else {
		query = query.Where("(valid_to IS NULL OR valid_to >= ?)", from)
	}

	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
