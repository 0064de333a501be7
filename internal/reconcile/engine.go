package reconcile

import (
	"fmt"
	"time"

	"github.com/ksred/klear-confirm/internal/merge"
	"github.com/ksred/klear-confirm/internal/store"
	"github.com/ksred/klear-confirm/internal/types"
	"github.com/rs/zerolog"
)

// notAvailable fills counterparty fields of unrecognized trades the email left out
const notAvailable = "Not available"

// TradeLookup finds a trade by its repository key
type TradeLookup interface {
	Lookup(n types.TradeNumber) (types.TradeRecord, bool)
}

// IdentificationLog deduplicates identified-trade entries across redeliveries
// of the same message
type IdentificationLog interface {
	HasIdentification(key string) (bool, error)
	RecordIdentification(record *IdentificationRecord) error
}

// TradeOutcome is the classification of one trade reference
type TradeOutcome struct {
	TradeNumber types.TradeNumber
	Status      string
	Diff        merge.Diff
	Logged      bool // an identified-trade entry was appended
}

// Outcome summarizes the reconciliation of one email
type Outcome struct {
	IsConfirmation bool
	Trades         []TradeOutcome
	Skipped        int // references without a trade number
}

// Engine reconciles extraction results against the trade repository and
// records the results in the identified-trade log and the match ledger
type Engine struct {
	trades     TradeLookup
	identified *store.JSONStore[types.IdentifiedTradeRecord]
	matches    *store.JSONStore[types.EmailMatchRecord]
	idents     IdentificationLog
	now        func() time.Time
	log        zerolog.Logger
}

// Option configures an Engine
type Option func(*Engine)

// WithIdentificationLog makes identified-trade logging idempotent per
// (message, trade) pair
func WithIdentificationLog(l IdentificationLog) Option {
	return func(e *Engine) {
		e.idents = l
	}
}

// WithClock overrides the clock used for identified_at timestamps
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

func NewEngine(
	trades TradeLookup,
	identified *store.JSONStore[types.IdentifiedTradeRecord],
	matches *store.JSONStore[types.EmailMatchRecord],
	log zerolog.Logger,
	opts ...Option,
) *Engine {
	e := &Engine{
		trades:     trades,
		identified: identified,
		matches:    matches,
		now:        time.Now,
		log:        log.With().Str("component", "reconciliation").Logger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Reconcile classifies every trade reference of ex and persists the results.
// Nothing is written for emails that are not confirmations; the returned
// outcome tells the caller to apply its disposition policy instead. Only
// storage failures are returned as errors.
func (e *Engine) Reconcile(email types.EmailContext, ex *types.EmailExtraction) (*Outcome, error) {
	logger := e.log.With().
		Str("message_id", email.MessageID).
		Str("sender", email.Sender).
		Logger()

	if !ex.Email.IsConfirmation {
		logger.Info().Msg("email not relevant to trade confirmation")
		return &Outcome{IsConfirmation: false}, nil
	}

	logger.Info().Int("trades", len(ex.Trades)).Msg("email identified as trade confirmation")
	if len(ex.Trades) == 0 {
		logger.Info().Msg("no trades identified in confirmation email")
	}

	out := &Outcome{IsConfirmation: true}
	var identified []types.IdentifiedTradeRecord
	var matches []types.EmailMatchRecord
	var keys []*IdentificationRecord
	seen := map[string]bool{}

	for _, ref := range ex.Trades {
		number := ref.TradeNumber()
		if number == "" {
			logger.Warn().Msg("trade mentioned in email but no trade number found")
			out.Skipped++
			continue
		}
		tlog := logger.With().Str("trade_number", number.String()).Logger()

		id, err := number.Int()
		if err != nil {
			tlog.Warn().Err(err).Msg("trade number is not numeric, inferred trade id set to 0")
			id = 0
		}

		base, found := e.trades.Lookup(number)
		if !found {
			tlog.Warn().Msg("trade not found in trade repository")
			matches = append(matches, matchRecord(email, unrecognized(number, ref), id, types.StatusUnrecognized))
			out.Trades = append(out.Trades, TradeOutcome{TradeNumber: number, Status: types.StatusUnrecognized})
			continue
		}

		result := TradeOutcome{TradeNumber: number}
		logIt, err := e.shouldLog(email.MessageID, number, seen)
		if err != nil {
			return nil, err
		}
		if logIt {
			identified = append(identified, types.IdentifiedTradeRecord{TradeRecord: base, IdentifiedAt: e.now().UTC()})
			if email.MessageID != "" {
				keys = append(keys, &IdentificationRecord{
					IdempotencyKey: identificationKey(email.MessageID, number.String()),
					MessageID:      email.MessageID,
					TradeNumber:    number.String(),
				})
			}
			result.Logged = true
		} else {
			tlog.Info().Msg("trade already identified for this message, log entry skipped")
		}

		if ref.ConfirmationOK() {
			tlog.Info().Msg("trade confirmed by counterparty")
			result.Status = types.StatusConfirmationOK
			matches = append(matches, matchRecord(email, base, id, result.Status))
		} else {
			merged, diff := merge.Merge(base, ref)
			result.Status = types.StatusDifference
			result.Diff = diff
			tlog.Warn().Interface("diff", diff).Int("fields_updated", len(diff)).Msg("trade has discrepancies")
			matches = append(matches, matchRecord(email, merged, id, result.Status))
		}
		out.Trades = append(out.Trades, result)
	}

	if len(identified) > 0 {
		if err := e.identified.Append(identified...); err != nil {
			return nil, fmt.Errorf("failed to save identified trades: %w", err)
		}
		e.recordIdentifications(keys, logger)
	}
	if len(matches) > 0 {
		if err := e.matches.Append(matches...); err != nil {
			return nil, fmt.Errorf("failed to save email matches: %w", err)
		}
	}

	logger.Info().
		Int("matched", len(matches)).
		Int("identified", len(identified)).
		Int("skipped", out.Skipped).
		Msg("email reconciled")
	return out, nil
}

func (e *Engine) shouldLog(messageID string, number types.TradeNumber, seen map[string]bool) (bool, error) {
	if e.idents == nil || messageID == "" {
		return true, nil
	}
	key := identificationKey(messageID, number.String())
	if seen[key] {
		return false, nil
	}
	seen[key] = true

	exists, err := e.idents.HasIdentification(key)
	if err != nil {
		return false, fmt.Errorf("failed to check identification record: %w", err)
	}
	return !exists, nil
}

// recordIdentifications runs after the log append; a failure here only risks
// a duplicate log entry on redelivery, so it is logged and not returned
func (e *Engine) recordIdentifications(keys []*IdentificationRecord, logger zerolog.Logger) {
	if e.idents == nil {
		return
	}
	for _, k := range keys {
		k.IdentifiedAt = e.now().UTC()
		if err := e.idents.RecordIdentification(k); err != nil {
			logger.Error().Err(err).Str("key", k.IdempotencyKey).Msg("failed to record identification")
		}
	}
}

func unrecognized(number types.TradeNumber, ref types.TradeReference) types.TradeRecord {
	rec := merge.Overlay(types.TradeRecord{
		CounterpartyID:   notAvailable,
		CounterpartyName: notAvailable,
	}, ref)
	rec.TradeNumber = number
	rec.ProductType = types.ProductTypeUnrecognized
	return rec
}

func matchRecord(email types.EmailContext, trade types.TradeRecord, id int, status string) types.EmailMatchRecord {
	return types.EmailMatchRecord{
		EmailSender:     email.Sender,
		EmailDate:       email.Date,
		EmailTime:       email.Time,
		EmailSubject:    email.Subject,
		InferredTradeID: id,
		TradeRecord:     trade,
		EmailBody:       email.Body,
		Status:          status,
	}
}
