package repository

import (
	"context"
	"errors"
	"time"

	"taxengine/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// DocumentTotalsRow is the per-kind sum of document totals over a range.
type DocumentTotalsRow struct {
	Kind           string          `gorm:"column:kind"`
	TaxRecoverable bool            `gorm:"column:tax_recoverable"`
	NetTotal       decimal.Decimal `gorm:"column:net_total"`
	TaxTotal       decimal.Decimal `gorm:"column:tax_total"`
}

type DocumentRepository interface {
	FindByIDWithLines(ctx context.Context, id uuid.UUID) (*model.Document, error)
	ListInRange(ctx context.Context, businessID uuid.UUID, start, end time.Time) ([]model.Document, error)
	SumTotalsInRange(ctx context.Context, businessID uuid.UUID, start, end time.Time) ([]DocumentTotalsRow, error)
}

type BusinessRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*model.Business, error)
}

type documentRepository struct {
	db *gorm.DB
}

func NewDocumentRepository(db *gorm.DB) DocumentRepository {
	return &documentRepository{db: db}
}

func (r *documentRepository) FindByIDWithLines(ctx context.Context, id uuid.UUID) (*model.Document, error) {
	var doc model.Document
	err := GetDB(ctx, r.db).
		Preload("Lines", func(db *gorm.DB) *gorm.DB { return db.Order("line_no ASC") }).
		First(&doc, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &doc, nil
}

func (r *documentRepository) ListInRange(ctx context.Context, businessID uuid.UUID, start, end time.Time) ([]model.Document, error) {
	var docs []model.Document
	if err := GetDB(ctx, r.db).
		Preload("Lines", func(db *gorm.DB) *gorm.DB { return db.Order("line_no ASC") }).
		Where("business_id = ? AND document_date >= ? AND document_date <= ?", businessID, start, end).
		Order("document_date, number").
		Find(&docs).Error; err != nil {
		return nil, err
	}
	return docs, nil
}

func (r *documentRepository) SumTotalsInRange(ctx context.Context, businessID uuid.UUID, start, end time.Time) ([]DocumentTotalsRow, error) {
	var rows []DocumentTotalsRow
	if err := GetDB(ctx, r.db).Model(&model.Document{}).
		Select("kind, tax_recoverable, COALESCE(SUM(net_total), 0) AS net_total, COALESCE(SUM(tax_total), 0) AS tax_total").
		Where("business_id = ? AND document_date >= ? AND document_date <= ?", businessID, start, end).
		Group("kind, tax_recoverable").
		Order("kind, tax_recoverable").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

type businessRepository struct {
	db *gorm.DB
}

func NewBusinessRepository(db *gorm.DB) BusinessRepository {
	return &businessRepository{db: db}
}

func (r *businessRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Business, error) {
	var business model.Business
	if err := GetDB(ctx, r.db).First(&business, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &business, nil
}
