package poller

import (
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// GetProcessed returns the registry entry of messageID, or nil if the
// message was never processed
func (d *Database) GetProcessed(messageID string) (*ProcessedMessage, error) {
	var msg ProcessedMessage
	if err := d.db.Where("message_id = ?", messageID).First(&msg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &msg, nil
}

// MarkProcessed registers msg; a message already registered keeps its first entry
func (d *Database) MarkProcessed(msg *ProcessedMessage) error {
	return d.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "message_id"}},
		DoNothing: true,
	}).Create(msg).Error
}

// RecentProcessed returns the latest registry entries, newest first
func (d *Database) RecentProcessed(limit int) ([]ProcessedMessage, error) {
	var msgs []ProcessedMessage
	if err := d.db.Order("id DESC").Limit(limit).Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}
