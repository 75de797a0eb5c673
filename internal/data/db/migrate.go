package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/yungbote/moldline-backend/internal/domain/quality"
)

// AutoMigrateAll creates the quality tables. Products must migrate first so
// the cascading foreign keys on machine_states and defects can reference it.
func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(
		&quality.Product{},
		&quality.MachineState{},
		&quality.Defect{},
	)
}

// EnsureQualityIndexes adds indexes gorm tags cannot express.
func EnsureQualityIndexes(db *gorm.DB) error {
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_products_captured_desc
		ON products (captured_at DESC);
	`).Error; err != nil {
		return fmt.Errorf("create idx_products_captured_desc: %w", err)
	}
	return nil
}

func (s *PostgresService) AutoMigrateAll() error {
	s.log.Info("Auto migrating postgres tables...")
	if err := AutoMigrateAll(s.db); err != nil {
		s.log.Error("Auto migration failed", "error", err)
		return err
	}
	if err := EnsureQualityIndexes(s.db); err != nil {
		s.log.Error("Quality index migration failed", "error", err)
		return err
	}
	return nil
}
