package ledger

import (
	"errors"
	"fmt"
)

// ErrorKind classifies ledger operation failures
type ErrorKind string

const (
	KindEntryNotFound      ErrorKind = "EntryNotFound"
	KindNoHistory          ErrorKind = "NoHistory"
	KindInvalidStoreKind   ErrorKind = "InvalidStoreKind"
	KindStorageUnavailable ErrorKind = "StorageUnavailable"
)

// Error is a ledger failure the caller is expected to handle
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so the Err* values below work with errors.Is
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrEntryNotFound      = &Error{Kind: KindEntryNotFound, Message: "entry not found"}
	ErrNoHistory          = &Error{Kind: KindNoHistory, Message: "no previous status"}
	ErrInvalidStoreKind   = &Error{Kind: KindInvalidStoreKind, Message: "invalid store kind"}
	ErrStorageUnavailable = &Error{Kind: KindStorageUnavailable, Message: "storage unavailable"}
)

// KindOf returns the kind of a ledger error, or "" for any other error
func KindOf(err error) ErrorKind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return ""
}

func entryNotFound(id int) error {
	return &Error{Kind: KindEntryNotFound, Message: fmt.Sprintf("Email with ID %d not found", id)}
}

func noHistory() error {
	return &Error{Kind: KindNoHistory, Message: "No previous status found to undo"}
}

func invalidStoreKind(kind string) error {
	return &Error{Kind: KindInvalidStoreKind, Message: fmt.Sprintf("Invalid file type: %s", kind)}
}

func storageUnavailable(err error) error {
	return &Error{Kind: KindStorageUnavailable, Message: "Email matches file not found", Err: err}
}
