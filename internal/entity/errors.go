package entity

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrUnknownSource     = errors.New("unknown source")
	ErrNoCredentials     = errors.New("credentials not configured")
	ErrAttemptInProgress = errors.New("an attempt for this source is already in progress")
	ErrNoDownload        = errors.New("download finished without a resolvable file")
	ErrNoRecords         = errors.New("no record satisfied the required key set")
)

// State is a state of the report retrieval state machine.
type State string

const (
	StateAuthenticating State = "authenticating"
	StateNavigating     State = "navigating"
	StateFiltering      State = "filtering"
	StateAwaitingExport State = "awaiting_export"
	StateDownloaded     State = "downloaded"
	StateEmpty          State = "empty"
	StateFailed         State = "failed"
)

// RetrievalError is raised when the remote UI cannot be driven to an export:
// authentication, navigation, missing selectors and step timeouts.
type RetrievalError struct {
	SourceID string
	State    State
	Step     int
	Action   Action
	Timeout  bool
	Err      error
}

func (e *RetrievalError) Error() string {
	msg := fmt.Sprintf("retrieval failed for %s in %s", e.SourceID, e.State)
	if e.Action != "" {
		msg += fmt.Sprintf(" at step %d (%s)", e.Step, e.Action)
	}
	if e.Timeout {
		msg += ": timeout"
	}
	return msg + ": " + e.Err.Error()
}

func (e *RetrievalError) Unwrap() error { return e.Err }

// DecodeError is raised when an artifact is unreadable under its declared
// encoding or structurally unparseable.
type DecodeError struct {
	Encoding Encoding
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s artifact: %v", e.Encoding, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// PersistenceError is raised when the store rejects a batch. Written holds
// the number of rows durably written before the failure.
type PersistenceError struct {
	Table   string
	Written int
	Err     error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist into %s failed after %d rows: %v", e.Table, e.Written, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// PanicError wraps a value recovered at the per-source boundary.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// ErrorType classifies err for logs and metric labels.
func ErrorType(err error) string {
	var (
		retrievalErr   *RetrievalError
		decodeErr      *DecodeError
		persistenceErr *PersistenceError
		panicErr       *PanicError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAttemptInProgress):
		return "in_progress"
	case errors.As(err, &retrievalErr):
		if retrievalErr.Timeout {
			return "timeout"
		}
		return "retrieval"
	case errors.As(err, &decodeErr):
		return "decode"
	case errors.As(err, &persistenceErr):
		return "persistence"
	case errors.As(err, &panicErr):
		return "panic"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	}
	return "unknown"
}
