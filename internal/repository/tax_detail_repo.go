package repository

import (
	"context"
	"time"

	"taxengine/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type TaxDetailRepository interface {
	// ReplaceForLine deletes the line's facts and inserts the new set. Callers run it in a transaction.
	ReplaceForLine(ctx context.Context, ref model.DocumentRef, rows []model.TransactionLineTaxDetail) error
	DeleteForDocument(ctx context.Context, documentID uuid.UUID) error
	ListByPeriod(ctx context.Context, businessID uuid.UUID, start, end time.Time) ([]model.TransactionLineTaxDetail, error)
	ListByDocument(ctx context.Context, documentID uuid.UUID) ([]model.TransactionLineTaxDetail, error)
}

type taxDetailRepository struct {
	db *gorm.DB
}

func NewTaxDetailRepository(db *gorm.DB) TaxDetailRepository {
	return &taxDetailRepository{db: db}
}

func (r *taxDetailRepository) ReplaceForLine(ctx context.Context, ref model.DocumentRef, rows []model.TransactionLineTaxDetail) error {
	db := GetDB(ctx, r.db)
	if err := db.Where("document_kind = ? AND document_id = ? AND line_id = ?", ref.Kind, ref.DocumentID, ref.LineID).
		Delete(&model.TransactionLineTaxDetail{}).Error; err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	return db.Create(&rows).Error
}

func (r *taxDetailRepository) DeleteForDocument(ctx context.Context, documentID uuid.UUID) error {
	return GetDB(ctx, r.db).Where("document_id = ?", documentID).Delete(&model.TransactionLineTaxDetail{}).Error
}

func (r *taxDetailRepository) ListByPeriod(ctx context.Context, businessID uuid.UUID, start, end time.Time) ([]model.TransactionLineTaxDetail, error) {
	var rows []model.TransactionLineTaxDetail
	if err := GetDB(ctx, r.db).
		Where("business_id = ? AND transaction_date >= ? AND transaction_date <= ?", businessID, start, end).
		Order("transaction_date, document_id, line_id, component_index").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *taxDetailRepository) ListByDocument(ctx context.Context, documentID uuid.UUID) ([]model.TransactionLineTaxDetail, error) {
	var rows []model.TransactionLineTaxDetail
	if err := GetDB(ctx, r.db).
		Where("document_id = ?", documentID).
		Order("line_id, component_index").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
