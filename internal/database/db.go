package database

import (
	"taxengine/internal/model"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// NewConnection initializes a new connection pool using GORM
func NewConnection(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, eris.Wrap(err, "database: open")
	}

	// Auto-migrate the engine's tables
	err = db.AutoMigrate(
		&model.Business{},
		&model.TaxJurisdiction{},
		&model.TaxProductRule{},
		&model.TaxComponent{},
		&model.TaxRate{},
		&model.TaxGroup{},
		&model.TaxGroupComponent{},
		&model.Document{},
		&model.DocumentLine{},
		&model.TransactionLineTaxDetail{},
		&model.TaxPeriodSnapshot{},
		&model.TaxAnomaly{},
		&model.AuditLog{},
	)
	if err != nil {
		zap.L().Warn("Failed to auto-migrate models", zap.Error(err))
	}

	return db, nil
}
