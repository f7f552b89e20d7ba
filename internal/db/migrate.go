package db

import (
	"stratflow/internal/models"
)

func AutoMigrate(db *DB) error {
	if db == nil || db.Gorm == nil || db.SQL == nil {
		return nil
	}

	if err := db.Gorm.AutoMigrate(
		&models.Strategy{},
		&models.Execution{},
		&models.Dispute{},
		&models.RewardStream{},
		&models.LedgerEntry{},
		&models.AuditEvent{},
		&models.SystemSetting{},
	); err != nil {
		return err
	}
	// Ledger history is read newest first per identity.
	return db.Gorm.Exec(`CREATE INDEX IF NOT EXISTS idx_ledger_entries_identity_created ON ledger_entries (identity, created_at DESC)`).Error
}
