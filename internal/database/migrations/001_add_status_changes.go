package migrations

import (
	"github.com/ksred/klear-confirm/internal/ledger"
	"gorm.io/gorm"
)

// AddStatusChanges creates the ledger audit table and its query indexes
func AddStatusChanges(db *gorm.DB) error {
	if err := db.AutoMigrate(&ledger.StatusChange{}); err != nil {
		return err
	}

	indexes := []string{
		// History lookups by trade
		`CREATE INDEX IF NOT EXISTS idx_status_changes_trade
		 ON status_changes(inferred_trade_id, id)`,

		// Operation filtering
		`CREATE INDEX IF NOT EXISTS idx_status_changes_operation
		 ON status_changes(operation)`,

		`CREATE INDEX IF NOT EXISTS idx_status_changes_created_at
		 ON status_changes(created_at)`,
	}

	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			return err
		}
	}

	return nil
}
