package poller

import (
	"time"

	"gorm.io/gorm"
)

// Processing outcomes of a message
const (
	OutcomeReconciled        = "RECONCILED"
	OutcomeNotConfirmation   = "NOT_CONFIRMATION"
	OutcomeInvalidExtraction = "INVALID_EXTRACTION"
)

// ProcessedMessage registers a message the poller is done with
type ProcessedMessage struct {
	gorm.Model  `json:"-"`
	MessageID   string    `gorm:"uniqueIndex" json:"message_id"`
	CycleID     string    `json:"cycle_id"`
	Outcome     string    `json:"outcome"` // RECONCILED, NOT_CONFIRMATION, INVALID_EXTRACTION
	Trades      int       `json:"trades"`
	Detail      string    `json:"detail,omitempty"`
	ProcessedAt time.Time `json:"processed_at"`
}

// CycleResult summarizes one polling cycle
type CycleResult struct {
	CycleID          string    `json:"cycle_id"`
	StartedAt        time.Time `json:"started_at"`
	Fetched          int       `json:"fetched"`
	Reconciled       int       `json:"reconciled"`
	NotConfirmations int       `json:"not_confirmations"`
	AlreadyProcessed int       `json:"already_processed"`
	Failed           int       `json:"failed"`
}
