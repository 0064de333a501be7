package ledger

import (
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) RecordChange(change *StatusChange) error {
	return d.db.Create(change).Error
}

// GetChanges returns the audit trail of one inferred trade id, oldest first
func (d *Database) GetChanges(tradeID int) ([]StatusChange, error) {
	var changes []StatusChange
	if err := d.db.Where("inferred_trade_id = ?", tradeID).
		Order("id ASC").
		Find(&changes).Error; err != nil {
		return nil, err
	}
	return changes, nil
}
