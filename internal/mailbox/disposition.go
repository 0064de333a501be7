package mailbox

import (
	"context"
	"fmt"
)

// Policy names what happens to messages that are not confirmations
type Policy string

const (
	PolicyMarkUnread Policy = "mark_unread"
	PolicyMove       Policy = "move"
)

// DefaultNotRelevantFolder receives non-confirmations under PolicyMove
const DefaultNotRelevantFolder = "Inbox/Confirmations/Not Relevant"

// ParsePolicy validates a configured policy name
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case PolicyMarkUnread, PolicyMove:
		return p, nil
	}
	return "", fmt.Errorf("unknown non-confirmation policy %q", s)
}

// Disposition applies the non-confirmation policy to messages
type Disposition struct {
	mailbox Mailbox
	policy  Policy
	folder  string
}

func NewDisposition(mailbox Mailbox, policy Policy, folder string) *Disposition {
	if folder == "" {
		folder = DefaultNotRelevantFolder
	}
	return &Disposition{mailbox: mailbox, policy: policy, folder: folder}
}

func (d *Disposition) Policy() Policy {
	return d.policy
}

// NotConfirmation disposes of a message that carried no confirmation
func (d *Disposition) NotConfirmation(ctx context.Context, id string) error {
	if d.policy == PolicyMove {
		return d.mailbox.MoveToFolder(ctx, id, d.folder)
	}
	return d.mailbox.MarkUnread(ctx, id)
}
