package repository

import (
	"errors"

	"github.com/ksred/klear-confirm/internal/store"
	"github.com/ksred/klear-confirm/internal/types"
	"github.com/rs/zerolog"
)

// Repository is the read-only set of pending trades
type Repository struct {
	source *store.Source[types.TradeRecord]
	log    zerolog.Logger
}

// New loads the trade repository at path. When the file cannot be read the
// repository starts empty and the load error is returned alongside it, so the
// caller can decide whether to continue; later refreshes pick the file up.
func New(path string, log zerolog.Logger) (*Repository, error) {
	r := &Repository{
		source: store.NewSource[types.TradeRecord](path, log),
		log:    log.With().Str("component", "trade_repository").Logger(),
	}
	if err := r.source.Load(); err != nil {
		r.log.Error().Err(err).Msg("failed to load trade repository")
		return r, err
	}
	return r, nil
}

// Lookup returns the first trade whose number equals n exactly
func (r *Repository) Lookup(n types.TradeNumber) (types.TradeRecord, bool) {
	for _, t := range r.source.Items() {
		if t.TradeNumber == n {
			return t, true
		}
	}
	return types.TradeRecord{}, false
}

// All returns every trade in file order
func (r *Repository) All() []types.TradeRecord {
	return r.source.Items()
}

// Refresh reloads the repository if the file changed since the last load
func (r *Repository) Refresh() error {
	reloaded, err := r.source.Refresh()
	if err != nil {
		if errors.Is(err, store.ErrUnavailable) {
			r.log.Warn().Err(err).Msg("trade repository file not found")
		}
		return err
	}
	if reloaded {
		r.log.Info().Int("trades", len(r.source.Items())).Msg("trade repository reloaded")
	}
	return nil
}

// Reload forces a re-read of the repository file
func (r *Repository) Reload() error {
	return r.source.Load()
}
