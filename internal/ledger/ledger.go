package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ksred/klear-confirm/internal/store"
	"github.com/ksred/klear-confirm/internal/types"
	"github.com/rs/zerolog"
)

// AuditLog stores the trail of successful ledger operations
type AuditLog interface {
	RecordChange(change *StatusChange) error
	GetChanges(tradeID int) ([]StatusChange, error)
}

type actorKey struct{}

// WithActor attaches the operator performing a ledger operation to ctx
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

func actorFrom(ctx context.Context) string {
	if actor, ok := ctx.Value(actorKey{}).(string); ok && actor != "" {
		return actor
	}
	return "system"
}

// Service manages statuses of the match ledger
type Service struct {
	matches    *store.JSONStore[types.EmailMatchRecord]
	identified *store.JSONStore[types.IdentifiedTradeRecord]
	audit      AuditLog
	log        zerolog.Logger
}

// NewService creates the ledger service. audit may be nil.
func NewService(
	matches *store.JSONStore[types.EmailMatchRecord],
	identified *store.JSONStore[types.IdentifiedTradeRecord],
	audit AuditLog,
	log zerolog.Logger,
) *Service {
	return &Service{
		matches:    matches,
		identified: identified,
		audit:      audit,
		log:        log.With().Str("service", "ledger").Logger(),
	}
}

// SetStatus changes the status of the first ledger entry for tradeID, keeping
// the replaced value as its previous status. It returns the replaced value.
func (s *Service) SetStatus(ctx context.Context, tradeID int, status string) (string, error) {
	logger := s.log.With().Int("inferred_trade_id", tradeID).Str("status", status).Logger()
	logger.Info().Msg("updating email status")

	var previous string
	err := s.matches.UpdateExisting(func(entries []types.EmailMatchRecord) ([]types.EmailMatchRecord, error) {
		for i := range entries {
			if entries[i].InferredTradeID != tradeID {
				continue
			}
			previous = entries[i].Status
			entries[i].PreviousStatus = &previous
			entries[i].Status = status
			return entries, nil
		}
		return nil, entryNotFound(tradeID)
	})
	if err != nil {
		err = s.classify(err)
		logger.Warn().Err(err).Msg("failed to update email status")
		return "", err
	}

	logger.Info().Str("previous_status", previous).Msg("updated email status")
	s.record(ctx, &StatusChange{
		InferredTradeID: tradeID,
		Operation:       OperationUpdate,
		FromStatus:      previous,
		ToStatus:        status,
	})
	return previous, nil
}

// RevertStatus restores the previous status of the first ledger entry for
// tradeID. The previous status is kept, so calling it again leaves the
// status where it is. It returns the restored value.
func (s *Service) RevertStatus(ctx context.Context, tradeID int) (string, error) {
	logger := s.log.With().Int("inferred_trade_id", tradeID).Logger()
	logger.Info().Msg("undoing status change")

	var from, restored string
	err := s.matches.UpdateExisting(func(entries []types.EmailMatchRecord) ([]types.EmailMatchRecord, error) {
		for i := range entries {
			if entries[i].InferredTradeID != tradeID {
				continue
			}
			if entries[i].PreviousStatus == nil {
				return nil, noHistory()
			}
			from = entries[i].Status
			restored = *entries[i].PreviousStatus
			entries[i].Status = restored
			return entries, nil
		}
		return nil, entryNotFound(tradeID)
	})
	if err != nil {
		err = s.classify(err)
		logger.Warn().Err(err).Msg("failed to undo status change")
		return "", err
	}

	logger.Info().Str("status", restored).Msg("reverted email status")
	s.record(ctx, &StatusChange{
		InferredTradeID: tradeID,
		Operation:       OperationUndo,
		FromStatus:      from,
		ToStatus:        restored,
	})
	return restored, nil
}

// ClearKind empties the store named by kind. Clearing an empty or missing
// store succeeds and leaves an empty array behind.
func (s *Service) ClearKind(ctx context.Context, kind string) (string, error) {
	logger := s.log.With().Str("file_type", kind).Logger()
	logger.Info().Msg("clearing store")

	var err error
	var path string
	switch kind {
	case types.StoreEmailMatches:
		path = s.matches.Path()
		err = s.matches.Truncate()
	case types.StoreIdentifiedTrades:
		path = s.identified.Path()
		err = s.identified.Truncate()
	default:
		err = invalidStoreKind(kind)
		logger.Error().Err(err).Msg("invalid store kind")
		return "", err
	}
	if err != nil {
		logger.Error().Err(err).Msg("failed to clear store")
		return "", err
	}

	logger.Info().Str("file", path).Msg("store cleared")
	s.record(ctx, &StatusChange{Operation: OperationClear, StoreKind: kind})
	return path, nil
}

// UpdateStatus is SetStatus for the request layer; it never fails, it
// reports failures in the result
func (s *Service) UpdateStatus(ctx context.Context, emailID int, status string) types.Result {
	res, _ := s.updateStatus(ctx, emailID, status)
	return res
}

// UndoStatusChange is RevertStatus for the request layer
func (s *Service) UndoStatusChange(ctx context.Context, emailID int) types.Result {
	res, _ := s.undoStatusChange(ctx, emailID)
	return res
}

// ClearStore is ClearKind for the request layer
func (s *Service) ClearStore(ctx context.Context, kind string) types.Result {
	res, _ := s.clearStore(ctx, kind)
	return res
}

// The lowercase variants also return the underlying error so the HTTP layer
// can pick a status code for the same result body.

func (s *Service) updateStatus(ctx context.Context, emailID int, status string) (types.Result, error) {
	if _, err := s.SetStatus(ctx, emailID, status); err != nil {
		return failure("Error updating email status", err), err
	}
	return types.Result{Success: true, Message: fmt.Sprintf("Email status updated to %s", status)}, nil
}

func (s *Service) undoStatusChange(ctx context.Context, emailID int) (types.Result, error) {
	restored, err := s.RevertStatus(ctx, emailID)
	if err != nil {
		return failure("Error undoing status change", err), err
	}
	return types.Result{Success: true, Message: fmt.Sprintf("Status reverted to %s", restored)}, nil
}

func (s *Service) clearStore(ctx context.Context, kind string) (types.Result, error) {
	if _, err := s.ClearKind(ctx, kind); err != nil {
		return failure("Error clearing JSON file", err), err
	}
	return types.Result{Success: true, Message: fmt.Sprintf("Successfully cleared %s", kind)}, nil
}

// Matches returns the ledger in storage order
func (s *Service) Matches() ([]types.EmailMatchRecord, error) {
	return s.matches.Load()
}

// Identified returns the identified-trade log in storage order
func (s *Service) Identified() ([]types.IdentifiedTradeRecord, error) {
	return s.identified.Load()
}

// History returns the audit trail for tradeID
func (s *Service) History(tradeID int) ([]StatusChange, error) {
	if s.audit == nil {
		return []StatusChange{}, nil
	}
	return s.audit.GetChanges(tradeID)
}

func (s *Service) classify(err error) error {
	if errors.Is(err, store.ErrMissing) {
		return storageUnavailable(err)
	}
	return err
}

// record writes the audit entry. The ledger change is already persisted, so
// a failure is logged only.
func (s *Service) record(ctx context.Context, change *StatusChange) {
	if s.audit == nil {
		return
	}
	change.ChangeID = "CHG_" + uuid.New().String()
	change.Actor = actorFrom(ctx)
	change.CreatedAt = time.Now()
	if err := s.audit.RecordChange(change); err != nil {
		s.log.Error().Err(err).Str("change_id", change.ChangeID).Msg("failed to record status change")
	}
}

func failure(prefix string, err error) types.Result {
	if KindOf(err) != "" {
		return types.Result{Success: false, Message: err.Error()}
	}
	return types.Result{Success: false, Message: fmt.Sprintf("%s: %v", prefix, err)}
}
