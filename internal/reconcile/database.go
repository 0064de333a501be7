package reconcile

import (
	"errors"

	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// HasIdentification reports whether key has been recorded before
func (d *Database) HasIdentification(key string) (bool, error) {
	var record IdentificationRecord
	if err := d.db.Where("idempotency_key = ?", key).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (d *Database) RecordIdentification(record *IdentificationRecord) error {
	return d.db.Create(record).Error
}
