package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// Amounts stay bare JSON numbers in every store file.
	decimal.MarshalJSONWithoutQuotes = true
}

// Match statuses assigned at reconciliation time
const (
	StatusConfirmationOK = "Confirmation OK"
	StatusDifference     = "Difference"
	StatusUnrecognized   = "Unrecognized"
)

// Settlement types
const (
	SettlementDeliverable    = "Deliverable"
	SettlementNonDeliverable = "Non-Deliverable"
)

// ProductTypeUnrecognized marks ledger entries for trades missing from the repository
const ProductTypeUnrecognized = "Not a recognized trade"

// TradeNumber is the repository key of a trade. Upstream files carry it either
// as a JSON string or a JSON number.
type TradeNumber string

func (n *TradeNumber) UnmarshalJSON(data []byte) error {
	var v any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return err
	}
	switch t := v.(type) {
	case nil:
		*n = ""
	case string:
		if strings.TrimSpace(t) == "" {
			t = ""
		}
		*n = TradeNumber(t)
	case json.Number:
		*n = TradeNumber(t.String())
	default:
		return fmt.Errorf("trade number: unsupported JSON value %s", string(data))
	}
	return nil
}

func (n TradeNumber) String() string {
	return string(n)
}

// Int returns the numeric form used as InferredTradeID on ledger entries.
func (n TradeNumber) Int() (int, error) {
	return strconv.Atoi(strings.TrimSpace(string(n)))
}

// TradeRecord is a pending trade as held in the trade repository
type TradeRecord struct {
	TradeNumber               TradeNumber     `json:"TradeNumber"`
	CounterpartyID            string          `json:"CounterpartyID"`
	CounterpartyName          string          `json:"CounterpartyName"`
	ProductType               string          `json:"ProductType"`
	Currency1                 string          `json:"Currency1"`
	QuantityCurrency1         decimal.Decimal `json:"QuantityCurrency1"`
	Currency2                 string          `json:"Currency2"`
	QuantityCurrency2         decimal.Decimal `json:"QuantityCurrency2"`
	Buyer                     string          `json:"Buyer"`
	Seller                    string          `json:"Seller"`
	SettlementType            string          `json:"SettlementType"` // Deliverable or Non-Deliverable
	SettlementCurrency        string          `json:"SettlementCurrency"`
	ValueDate                 string          `json:"ValueDate"` // dd-mm-yyyy
	MaturityDate              string          `json:"MaturityDate"`
	PaymentDate               string          `json:"PaymentDate"`
	Duration                  int             `json:"Duration"` // days
	ForwardPrice              decimal.Decimal `json:"ForwardPrice"`
	FixingReference           string          `json:"FixingReference"`
	CounterpartyPaymentMethod string          `json:"CounterpartyPaymentMethod"`
	BankPaymentMethod         string          `json:"BankPaymentMethod"`
}

// IdentifiedTradeRecord is an entry of the append-only identified-trade log
type IdentifiedTradeRecord struct {
	TradeRecord
	IdentifiedAt time.Time `json:"identified_at"`
}

// EmailMatchRecord is an entry of the match ledger. InferredTradeID is not
// unique: every email referencing a trade gets its own entry.
type EmailMatchRecord struct {
	EmailSender     string `json:"EmailSender"`
	EmailDate       string `json:"EmailDate"`
	EmailTime       string `json:"EmailTime"`
	EmailSubject    string `json:"EmailSubject"`
	InferredTradeID int    `json:"InferredTradeID"`
	TradeRecord
	EmailBody      string  `json:"EmailBody"`
	Status         string  `json:"status"`
	PreviousStatus *string `json:"previous_status,omitempty"`
}

// EmailContext is the mailbox-side information about the email being reconciled
type EmailContext struct {
	MessageID string
	Sender    string
	Date      string
	Time      string
	Subject   string
	Body      string
}
