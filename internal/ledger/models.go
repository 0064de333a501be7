package ledger

import (
	"time"

	"gorm.io/gorm"
)

// Status change operations
const (
	OperationUpdate = "UPDATE"
	OperationUndo   = "UNDO"
	OperationClear  = "CLEAR"
)

// StatusChange is one entry of the ledger audit trail
type StatusChange struct {
	gorm.Model      `json:"-"`
	ChangeID        string    `gorm:"uniqueIndex" json:"change_id"`
	InferredTradeID int       `json:"inferred_trade_id"`
	Operation       string    `json:"operation"` // UPDATE, UNDO, CLEAR
	StoreKind       string    `json:"store_kind,omitempty"`
	FromStatus      string    `json:"from_status"`
	ToStatus        string    `json:"to_status"`
	Actor           string    `json:"actor"`
	CreatedAt       time.Time `json:"created_at"`
}

type StatusUpdateRequest struct {
	EmailID *int   `json:"emailId" binding:"required"`
	Status  string `json:"status" binding:"required"`
}

type UndoRequest struct {
	EmailID *int `json:"emailId" binding:"required"`
}

type ClearRequest struct {
	FileType string `json:"fileType" binding:"required"`
}
