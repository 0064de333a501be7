package types

// Result is returned by every ledger operation exposed to the request layer
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Store kinds accepted by clear operations
const (
	StoreEmailMatches     = "email_matches"
	StoreIdentifiedTrades = "identified_trades"
)
