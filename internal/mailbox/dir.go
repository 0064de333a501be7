package mailbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// ErrMessageNotFound is returned for ids not present in the folder
var ErrMessageNotFound = errors.New("message not found")

// ExtractionSuffix names the file holding a recorded extraction next to a message
const ExtractionSuffix = ".extraction.json"

// Dir is a mailbox backed by a directory tree. Each folder is a directory
// under root and each message one <id>.json file in it.
type Dir struct {
	root   string
	folder string
	mu     sync.Mutex
	log    zerolog.Logger
}

// NewDir opens the folder of the mailbox rooted at root, creating it if needed
func NewDir(root, folder string, log zerolog.Logger) (*Dir, error) {
	d := &Dir{
		root:   root,
		folder: folder,
		log:    log.With().Str("component", "mailbox").Str("folder", folder).Logger(),
	}
	if err := os.MkdirAll(d.folderPath(folder), 0o755); err != nil {
		return nil, fmt.Errorf("create mailbox folder: %w", err)
	}
	return d, nil
}

// Path returns the directory of the watched folder
func (d *Dir) Path() string {
	return d.folderPath(d.folder)
}

func (d *Dir) folderPath(folder string) string {
	return filepath.Join(d.root, filepath.FromSlash(folder))
}

func (d *Dir) messagePath(folder, id string) string {
	return filepath.Join(d.folderPath(folder), id+".json")
}

// Deliver writes msg as unread into the watched folder
func (d *Dir) Deliver(msg Message) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	msg.Read = false
	return writeMessage(d.messagePath(d.folder, msg.ID), msg)
}

// FetchUnread returns unread messages ordered by receipt and marks them read
func (d *Dir) FetchUnread(ctx context.Context) ([]Message, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	entries, err := os.ReadDir(d.Path())
	if err != nil {
		return nil, fmt.Errorf("list mailbox: %w", err)
	}

	var unread []Message
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasSuffix(name, ExtractionSuffix) {
			continue
		}

		path := filepath.Join(d.Path(), name)
		msg, err := readMessage(path)
		if err != nil {
			d.log.Error().Err(err).Str("file", name).Msg("skipping unreadable message")
			continue
		}
		if msg.Read {
			continue
		}

		msg.Read = true
		if err := writeMessage(path, msg); err != nil {
			return nil, err
		}
		unread = append(unread, msg)
	}

	sort.SliceStable(unread, func(i, j int) bool {
		a, b := unread[i].ReceivedAt, unread[j].ReceivedAt
		if a == nil || b == nil {
			return a != nil
		}
		return a.Before(*b)
	})

	d.log.Debug().Int("count", len(unread)).Msg("fetched unread messages")
	return unread, nil
}

// MarkUnread flags the message as unread again
func (d *Dir) MarkUnread(ctx context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	path := d.messagePath(d.folder, id)
	msg, err := readMessage(path)
	if err != nil {
		return err
	}
	msg.Read = false
	return writeMessage(path, msg)
}

// MoveToFolder moves the message, and its recorded extraction if any, into
// folder. The folder is created if it does not exist.
func (d *Dir) MoveToFolder(ctx context.Context, id, folder string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	src := d.messagePath(d.folder, id)
	if _, err := os.Stat(src); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrMessageNotFound, id)
		}
		return err
	}
	if err := os.MkdirAll(d.folderPath(folder), 0o755); err != nil {
		return fmt.Errorf("create folder %s: %w", folder, err)
	}
	if err := os.Rename(src, d.messagePath(folder, id)); err != nil {
		return fmt.Errorf("move message: %w", err)
	}

	sidecar := filepath.Join(d.Path(), id+ExtractionSuffix)
	if _, err := os.Stat(sidecar); err == nil {
		if err := os.Rename(sidecar, filepath.Join(d.folderPath(folder), id+ExtractionSuffix)); err != nil {
			d.log.Warn().Err(err).Str("message_id", id).Msg("failed to move recorded extraction")
		}
	}
	return nil
}

func readMessage(path string) (Message, error) {
	var msg Message
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return msg, fmt.Errorf("%w: %s", ErrMessageNotFound, filepath.Base(path))
		}
		return msg, err
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, fmt.Errorf("decode message %s: %w", filepath.Base(path), err)
	}
	if msg.ID == "" {
		msg.ID = strings.TrimSuffix(filepath.Base(path), ".json")
	}
	return msg, nil
}

func writeMessage(path string, msg Message) error {
	data, err := json.MarshalIndent(msg, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
