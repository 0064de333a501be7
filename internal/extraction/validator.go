package extraction

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/ksred/klear-confirm/internal/types"
)

// ErrFormat matches every *FormatError with errors.Is
var ErrFormat = errors.New("extraction format error")

// FormatError reports a malformed or incomplete extraction payload
type FormatError struct {
	Reason string
	Err    error
}

func (e *FormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", ErrFormat, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", ErrFormat, e.Reason)
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

func (e *FormatError) Is(target error) bool {
	return target == ErrFormat
}

// Validate parses raw extractor output into an EmailExtraction.
//
// The payload must be a JSON object carrying Email.Confirmation; anything
// else is a *FormatError. A missing or malformed Trades member yields no
// trades, and trade entries that are not objects are dropped. Numbers keep
// their textual form (json.Number) so amounts are not rounded through float64.
func Validate(raw string) (*types.EmailExtraction, error) {
	payload := stripFences(raw)
	if payload == "" {
		return nil, &FormatError{Reason: "empty payload"}
	}

	dec := json.NewDecoder(strings.NewReader(payload))
	dec.UseNumber()

	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, &FormatError{Reason: "invalid JSON", Err: err}
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, &FormatError{Reason: "trailing data after JSON object"}
	}

	email, ok := doc["Email"].(map[string]any)
	if !ok {
		return nil, &FormatError{Reason: "missing Email object"}
	}
	isConfirmation, err := confirmationFlag(email["Confirmation"])
	if err != nil {
		return nil, err
	}

	out := &types.EmailExtraction{
		Email: types.EmailHeader{
			Subject:        text(email["Email_subject"]),
			Sender:         text(email["Email_sender"]),
			Date:           text(email["Email_date"]),
			Time:           text(email["Email_time"]),
			IsConfirmation: isConfirmation,
			NumTrades:      integer(email["Num_trades"]),
		},
		Trades: []types.TradeReference{},
	}

	if trades, ok := doc["Trades"].([]any); ok {
		for _, t := range trades {
			if ref, ok := t.(map[string]any); ok {
				out.Trades = append(out.Trades, types.TradeReference(ref))
			}
		}
	}

	return out, nil
}

func confirmationFlag(v any) (bool, error) {
	switch c := v.(type) {
	case nil:
		return false, &FormatError{Reason: "missing Email.Confirmation"}
	case string:
		return strings.EqualFold(strings.TrimSpace(c), "yes"), nil
	case bool:
		return c, nil
	}
	return false, &FormatError{Reason: fmt.Sprintf("unexpected Email.Confirmation value %v", v)}
}

// stripFences removes a surrounding markdown code fence, if any
func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		s = strings.TrimPrefix(s, "```")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func text(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	}
	return ""
}

func integer(v any) int {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return int(n)
		}
		if f, err := t.Float64(); err == nil {
			return int(f)
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(t)); err == nil {
			return n
		}
	}
	return 0
}
