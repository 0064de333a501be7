package mailbox

import (
	"context"
	"strings"
	"time"
)

// Defaults for message fields the mail server left out
const (
	NoSubject     = "No subject"
	NoSender      = "Unknown sender"
	NoDate        = "No date"
	NoTime        = "No time"
	NoBodyContent = "No body content"
)

const (
	pdfContentType    = "application/pdf"
	nonPDFAttachment  = "Non-PDF attachment"
	noTextExtracted   = "No text extracted"
	attachmentExcerpt = 1000
)

// Mailbox is the confirmations inbox the poller reads from
type Mailbox interface {
	FetchUnread(ctx context.Context) ([]Message, error)
	MarkUnread(ctx context.Context, id string) error
	MoveToFolder(ctx context.Context, id, folder string) error
}

// Attachment is a file attached to a message. Text holds the extracted
// text of PDF attachments.
type Attachment struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Text        string `json:"text,omitempty"`
}

// Message is one email. Optional fields are nil when the server did not
// provide them.
type Message struct {
	ID          string       `json:"id"`
	Subject     *string      `json:"subject,omitempty"`
	Sender      *string      `json:"sender,omitempty"`
	ReceivedAt  *time.Time   `json:"received_at,omitempty"`
	Body        *string      `json:"body,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Read        bool         `json:"read"`
}

func (m Message) SubjectOrDefault() string {
	if m.Subject == nil {
		return NoSubject
	}
	return *m.Subject
}

// SenderAddress returns the normalized sender address
func (m Message) SenderAddress() string {
	if m.Sender == nil || strings.TrimSpace(*m.Sender) == "" {
		return NoSender
	}
	return NormalizeSender(*m.Sender)
}

// Date returns the received date as yyyy-mm-dd
func (m Message) Date() string {
	if m.ReceivedAt == nil {
		return NoDate
	}
	return m.ReceivedAt.Format("2006-01-02")
}

// Time returns the received time as hh:mm:ss
func (m Message) Time() string {
	if m.ReceivedAt == nil {
		return NoTime
	}
	return m.ReceivedAt.Format("15:04:05")
}

func (m Message) BodyOrDefault() string {
	if m.Body == nil || *m.Body == "" {
		return NoBodyContent
	}
	return *m.Body
}

// Excerpt is the text sent to the extractor for an attachment
func (a Attachment) Excerpt() string {
	if !strings.EqualFold(a.ContentType, pdfContentType) {
		return nonPDFAttachment
	}
	if a.Text == "" {
		return noTextExtracted
	}
	if r := []rune(a.Text); len(r) > attachmentExcerpt {
		return string(r[:attachmentExcerpt])
	}
	return a.Text
}

const relayDomain = "@sandbox.mgsend.net"

// NormalizeSender rewrites relay addresses of the form
// user=domain.tld@sandbox.mgsend.net to user@domain.tld. Any other address
// is returned trimmed and unchanged.
func NormalizeSender(address string) string {
	address = strings.TrimSpace(address)
	if !strings.HasSuffix(strings.ToLower(address), relayDomain) {
		return address
	}
	local := address[:len(address)-len(relayDomain)]
	i := strings.LastIndex(local, "=")
	if i <= 0 || i == len(local)-1 {
		return address
	}
	return local[:i] + "@" + local[i+1:]
}
