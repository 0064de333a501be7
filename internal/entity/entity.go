package entity

import (
	"errors"

	"github.com/ksred/klear-confirm/internal/store"
	"github.com/rs/zerolog"
)

// NoClientID is reported for directory entries without a client id
const NoClientID = "No ID"

// Entry is one row of the entity directory
type Entry struct {
	Email             string `json:"email"`
	EntityName        string `json:"entity_name"`
	EntityDisplayName string `json:"entity_display_name,omitempty"`
	ClientID          string `json:"client_id,omitempty"`
}

// Identity is the resolved owner of a sender address
type Identity struct {
	EntityName  string
	DisplayName string
	ClientID    string
}

// Resolve maps a sender address to its directory identity. Matching is exact
// and case-sensitive; the first matching entry wins. An unknown sender is not
// an error: the zero Identity and false are returned.
func Resolve(sender string, entries []Entry) (Identity, bool) {
	for _, e := range entries {
		if e.Email == "" || e.Email != sender {
			continue
		}
		id := Identity{
			EntityName:  e.EntityName,
			DisplayName: e.EntityDisplayName,
			ClientID:    e.ClientID,
		}
		if id.DisplayName == "" {
			id.DisplayName = e.EntityName
		}
		if id.ClientID == "" {
			id.ClientID = NoClientID
		}
		return id, true
	}
	return Identity{}, false
}

// Directory is the file-backed entity directory
type Directory struct {
	source *store.Source[Entry]
	log    zerolog.Logger
}

// NewDirectory loads the directory at path. A missing or unreadable file
// leaves the directory empty; every sender then resolves as unregistered.
func NewDirectory(path string, log zerolog.Logger) *Directory {
	d := &Directory{
		source: store.NewSource[Entry](path, log),
		log:    log.With().Str("component", "entity_directory").Logger(),
	}
	if err := d.source.Load(); err != nil {
		d.log.Error().Err(err).Msg("failed to load email entities")
	}
	return d
}

// Refresh reloads the directory if the file changed
func (d *Directory) Refresh() error {
	reloaded, err := d.source.Refresh()
	if err != nil {
		if errors.Is(err, store.ErrUnavailable) {
			d.log.Warn().Err(err).Msg("email entities file not found")
			return nil
		}
		return err
	}
	if reloaded {
		d.log.Info().Int("entities", len(d.source.Items())).Msg("entity directory reloaded")
	}
	return nil
}

// Reload forces a re-read of the directory file
func (d *Directory) Reload() error {
	return d.source.Load()
}

// Resolve looks up sender in the current directory contents
func (d *Directory) Resolve(sender string) (Identity, bool) {
	return Resolve(sender, d.source.Items())
}

// Entries returns the current directory contents
func (d *Directory) Entries() []Entry {
	return d.source.Items()
}
