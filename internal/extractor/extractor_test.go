package extractor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ksred/klear-confirm/internal/mailbox"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentOf(t *testing.T) {
	subject := "Trade confirmation"
	sender := "ops=bank.cl@sandbox.mgsend.net"
	c := ContentOf(mailbox.Message{
		ID:      "m1",
		Subject: &subject,
		Sender:  &sender,
		Attachments: []mailbox.Attachment{
			{Name: "conf.pdf", ContentType: "application/pdf", Text: "Trade 1001"},
			{Name: "logo.png", ContentType: "image/png"},
		},
	})

	assert.Equal(t, "m1", c.MessageID)
	assert.Equal(t, "Trade confirmation", c.Subject)
	assert.Equal(t, "ops@bank.cl", c.Sender)
	assert.Equal(t, mailbox.NoDate, c.ReceivedDate)
	assert.Equal(t, mailbox.NoBodyContent, c.Body)
	require.Len(t, c.Attachments, 2)
	assert.Equal(t, "Trade 1001", c.Attachments[0].Content)
	assert.Equal(t, "Non-PDF attachment", c.Attachments[1].Content)
}

func TestClient_Extract(t *testing.T) {
	var got Content
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"Email":{"Confirmation":"no"},"Trades":[]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, zerolog.Nop())
	raw, err := c.Extract(context.Background(), Content{MessageID: "m1", Subject: "s"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"Email":{"Confirmation":"no"},"Trades":[]}`, raw)
	assert.Equal(t, "m1", got.MessageID)
}

func TestClient_Failures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/slow" {
			time.Sleep(200 * time.Millisecond)
		}
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, time.Second, zerolog.Nop()).Extract(context.Background(), Content{})
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = NewClient(srv.URL+"/slow", 20*time.Millisecond, zerolog.Nop()).Extract(context.Background(), Content{})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestReplay(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "m1"+mailbox.ExtractionSuffix), []byte(`{"x":1}`), 0o644))

	r := NewReplay(dir)
	raw, err := r.Extract(context.Background(), Content{MessageID: "m1"})
	require.NoError(t, err)
	assert.Equal(t, `{"x":1}`, raw)

	_, err = r.Extract(context.Background(), Content{MessageID: "m2"})
	assert.ErrorIs(t, err, ErrUnavailable)
}
