package migrations

import (
	"github.com/ksred/klear-confirm/internal/poller"
	"github.com/ksred/klear-confirm/internal/reconcile"
	"gorm.io/gorm"
)

// AddMessageRegistry creates the processed-message registry and the
// identified-trade idempotency table
func AddMessageRegistry(db *gorm.DB) error {
	if err := db.AutoMigrate(&poller.ProcessedMessage{}, &reconcile.IdentificationRecord{}); err != nil {
		return err
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_processed_messages_outcome
		 ON processed_messages(outcome)`,

		`CREATE INDEX IF NOT EXISTS idx_identification_records_message
		 ON identification_records(message_id)`,
	}

	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			return err
		}
	}

	return nil
}
