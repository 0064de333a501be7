package reconcile

import (
	"time"

	"gorm.io/gorm"
)

// IdentificationRecord remembers that a trade referenced by a message has
// already been written to the identified-trade log
type IdentificationRecord struct {
	gorm.Model     `json:"-"`
	IdempotencyKey string    `gorm:"uniqueIndex" json:"idempotency_key"` // <message id>:<trade number>
	MessageID      string    `json:"message_id"`
	TradeNumber    string    `json:"trade_number"`
	IdentifiedAt   time.Time `json:"identified_at"`
}

func identificationKey(messageID, tradeNumber string) string {
	return messageID + ":" + tradeNumber
}
