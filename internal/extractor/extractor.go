package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/ksred/klear-confirm/internal/mailbox"
	"github.com/rs/zerolog"
)

// ErrUnavailable is returned when the extraction service cannot be reached
// or answers with an error
var ErrUnavailable = errors.New("extractor unavailable")

// AttachmentContent is the part of an attachment sent for extraction
type AttachmentContent struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Content string `json:"content"`
}

// Content is everything the extractor sees of one email
type Content struct {
	MessageID        string              `json:"message_id"`
	Subject          string              `json:"subject"`
	Sender           string              `json:"sender"`
	ReceivedDate     string              `json:"received_date"`
	ReceivedTime     string              `json:"received_time"`
	Body             string              `json:"body_content"`
	Attachments      []AttachmentContent `json:"attachments"`
	MyEntity         string              `json:"my_entity,omitempty"`
	CounterpartyName string              `json:"counterparty_name,omitempty"`
	ClientID         string              `json:"client_id,omitempty"`
}

// ContentOf builds the extraction input for msg
func ContentOf(msg mailbox.Message) Content {
	c := Content{
		MessageID:    msg.ID,
		Subject:      msg.SubjectOrDefault(),
		Sender:       msg.SenderAddress(),
		ReceivedDate: msg.Date(),
		ReceivedTime: msg.Time(),
		Body:         msg.BodyOrDefault(),
		Attachments:  make([]AttachmentContent, 0, len(msg.Attachments)),
	}
	for _, a := range msg.Attachments {
		c.Attachments = append(c.Attachments, AttachmentContent{
			Name:    a.Name,
			Type:    a.ContentType,
			Content: a.Excerpt(),
		})
	}
	return c
}

// Extractor turns email content into the raw text of an extraction document
type Extractor interface {
	Extract(ctx context.Context, content Content) (string, error)
}

// Client calls an HTTP extraction service
type Client struct {
	url        string
	httpClient *http.Client
	log        zerolog.Logger
}

func NewClient(url string, timeout time.Duration, log zerolog.Logger) *Client {
	return &Client{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
		log:        log.With().Str("component", "extractor").Logger(),
	}
}

// Extract POSTs content as JSON and returns the response body unparsed
func (c *Client) Extract(ctx context.Context, content Content) (string, error) {
	payload, err := json.Marshal(content)
	if err != nil {
		return "", fmt.Errorf("encode content: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	c.log.Debug().
		Str("message_id", content.MessageID).
		Int("response_length", len(body)).
		Dur("latency", time.Since(start)).
		Msg("extraction received")
	return string(body), nil
}

// Replay serves extractions recorded as <message id>.extraction.json in dir
type Replay struct {
	dir string
}

func NewReplay(dir string) *Replay {
	return &Replay{dir: dir}
}

func (r *Replay) Extract(ctx context.Context, content Content) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := os.ReadFile(filepath.Join(r.dir, content.MessageID+mailbox.ExtractionSuffix))
	if err != nil {
		return "", fmt.Errorf("%w: no recorded extraction for %s: %v", ErrUnavailable, content.MessageID, err)
	}
	return string(data), nil
}
