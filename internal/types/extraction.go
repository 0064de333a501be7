package types

import (
	"encoding/json"
	"strconv"
	"strings"
)

// EmailHeader is the email-level part of an extraction result
type EmailHeader struct {
	Subject        string `json:"subject"`
	Sender         string `json:"sender"`
	Date           string `json:"date"`
	Time           string `json:"time"`
	IsConfirmation bool   `json:"is_confirmation"`
	NumTrades      int    `json:"num_trades"`
}

// EmailExtraction is a validated extraction result
type EmailExtraction struct {
	Email  EmailHeader      `json:"Email"`
	Trades []TradeReference `json:"Trades"`
}

// ConfirmationOKField is the per-trade flag set by the extractor
const ConfirmationOKField = "Confirmation_OK"

// TradeReference is one trade as mentioned in an email. Any field may be
// absent; values keep their decoded JSON form (string, json.Number, bool, nil).
type TradeReference map[string]any

// TradeNumber returns the referenced trade number, or "" when absent.
func (r TradeReference) TradeNumber() TradeNumber {
	switch v := r["TradeNumber"].(type) {
	case string:
		if strings.TrimSpace(v) == "" {
			return ""
		}
		return TradeNumber(v)
	case json.Number:
		return TradeNumber(v.String())
	case float64:
		return TradeNumber(strconv.FormatFloat(v, 'f', -1, 64))
	case int:
		return TradeNumber(strconv.Itoa(v))
	}
	return ""
}

// ConfirmationOK reports whether the counterparty agreed with every detail.
func (r TradeReference) ConfirmationOK() bool {
	switch v := r[ConfirmationOKField].(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(strings.TrimSpace(v), "yes")
	}
	return false
}

// String returns a field as text, or def when it is absent or not textual.
func (r TradeReference) String(field, def string) string {
	switch v := r[field].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	}
	return def
}
