package mailbox

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T {
	return &v
}

func TestNormalizeSender(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"trader=bank.cl@sandbox.mgsend.net", "trader@bank.cl"},
		{"  Trader=Bank.CL@SANDBOX.MGSEND.NET ", "Trader@Bank.CL"},
		{"ops@bank.cl", "ops@bank.cl"},
		{"noequals@sandbox.mgsend.net", "noequals@sandbox.mgsend.net"},
		{"trailing=@sandbox.mgsend.net", "trailing=@sandbox.mgsend.net"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeSender(tt.in), tt.in)
	}
}

func TestMessageDefaults(t *testing.T) {
	var m Message
	assert.Equal(t, NoSubject, m.SubjectOrDefault())
	assert.Equal(t, NoSender, m.SenderAddress())
	assert.Equal(t, NoDate, m.Date())
	assert.Equal(t, NoTime, m.Time())
	assert.Equal(t, NoBodyContent, m.BodyOrDefault())

	at := time.Date(2025, 3, 5, 10, 15, 30, 0, time.UTC)
	m = Message{
		Subject:    ptr("Confirmation"),
		Sender:     ptr("ops=bank.cl@sandbox.mgsend.net"),
		ReceivedAt: &at,
		Body:       ptr("hello"),
	}
	assert.Equal(t, "Confirmation", m.SubjectOrDefault())
	assert.Equal(t, "ops@bank.cl", m.SenderAddress())
	assert.Equal(t, "2025-03-05", m.Date())
	assert.Equal(t, "10:15:30", m.Time())
	assert.Equal(t, "hello", m.BodyOrDefault())
}

func TestAttachmentExcerpt(t *testing.T) {
	assert.Equal(t, nonPDFAttachment, Attachment{ContentType: "image/png", Text: "x"}.Excerpt())
	assert.Equal(t, noTextExtracted, Attachment{ContentType: "application/pdf"}.Excerpt())
	long := strings.Repeat("a", 1500)
	assert.Len(t, Attachment{ContentType: "application/pdf", Text: long}.Excerpt(), 1000)
}

func newDir(t *testing.T) *Dir {
	t.Helper()
	d, err := NewDir(t.TempDir(), "Inbox/Confirmations", zerolog.Nop())
	require.NoError(t, err)
	return d
}

func TestDir_FetchUnreadMarksRead(t *testing.T) {
	d := newDir(t)
	ctx := context.Background()

	later := time.Date(2025, 3, 5, 11, 0, 0, 0, time.UTC)
	earlier := later.Add(-time.Hour)
	require.NoError(t, d.Deliver(Message{ID: "b", ReceivedAt: &later}))
	require.NoError(t, d.Deliver(Message{ID: "a", ReceivedAt: &earlier}))
	require.NoError(t, os.WriteFile(filepath.Join(d.Path(), "a"+ExtractionSuffix), []byte(`{}`), 0o644))

	msgs, err := d.FetchUnread(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "a", msgs[0].ID)
	assert.Equal(t, "b", msgs[1].ID)

	msgs, err = d.FetchUnread(ctx)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	require.NoError(t, d.MarkUnread(ctx, "b"))
	msgs, err = d.FetchUnread(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "b", msgs[0].ID)
}

func TestDir_MoveToFolder(t *testing.T) {
	d := newDir(t)
	ctx := context.Background()

	require.NoError(t, d.Deliver(Message{ID: "m1"}))
	require.NoError(t, os.WriteFile(filepath.Join(d.Path(), "m1"+ExtractionSuffix), []byte(`{}`), 0o644))

	require.NoError(t, d.MoveToFolder(ctx, "m1", DefaultNotRelevantFolder))

	moved := filepath.Join(d.root, filepath.FromSlash(DefaultNotRelevantFolder))
	assert.FileExists(t, filepath.Join(moved, "m1.json"))
	assert.FileExists(t, filepath.Join(moved, "m1"+ExtractionSuffix))
	assert.NoFileExists(t, filepath.Join(d.Path(), "m1.json"))

	err := d.MoveToFolder(ctx, "m1", DefaultNotRelevantFolder)
	assert.ErrorIs(t, err, ErrMessageNotFound)
	assert.ErrorIs(t, d.MarkUnread(ctx, "missing"), ErrMessageNotFound)
}

type recordingMailbox struct {
	unread []string
	moved  map[string]string
}

func (r *recordingMailbox) FetchUnread(context.Context) ([]Message, error) { return nil, nil }

func (r *recordingMailbox) MarkUnread(_ context.Context, id string) error {
	r.unread = append(r.unread, id)
	return nil
}

func (r *recordingMailbox) MoveToFolder(_ context.Context, id, folder string) error {
	if r.moved == nil {
		r.moved = map[string]string{}
	}
	r.moved[id] = folder
	return nil
}

func TestDisposition(t *testing.T) {
	ctx := context.Background()

	mb := &recordingMailbox{}
	require.NoError(t, NewDisposition(mb, PolicyMarkUnread, "").NotConfirmation(ctx, "x"))
	assert.Equal(t, []string{"x"}, mb.unread)

	mb = &recordingMailbox{}
	require.NoError(t, NewDisposition(mb, PolicyMove, "").NotConfirmation(ctx, "y"))
	assert.Equal(t, DefaultNotRelevantFolder, mb.moved["y"])
	assert.Empty(t, mb.unread)

	_, err := ParsePolicy("delete")
	assert.Error(t, err)
	p, err := ParsePolicy("move")
	require.NoError(t, err)
	assert.Equal(t, PolicyMove, p)
}
