// Package apperrors provides the error taxonomy used throughout the application.
package apperrors

import (
	"errors"
	"fmt"
	"strings"
)

// Kind identifies the variant of an Error.
type Kind string

// Error kinds.
const (
	KindStorage Kind = "storage"
	KindRemote  Kind = "remote"
	KindAI      Kind = "ai"
	KindConfig  Kind = "config"
	KindNetwork Kind = "network"
)

// Reason discriminates storage errors.
type Reason string

// Storage error reasons.
const (
	ReasonNone       Reason = ""
	ReasonCorrupted  Reason = "corrupted"
	ReasonLocked     Reason = "locked"
	ReasonPermission Reason = "permission"
	ReasonNotFound   Reason = "not_found"
)

// Error is the tagged error type. Which fields are meaningful depends on Kind:
// storage errors use Reason and Path, remote and AI errors use Status and
// Endpoint (plus Model for AI), network errors use Code.
type Error struct {
	Kind      Kind
	Reason    Reason
	Status    int  // HTTP status, valid when HasStatus is set
	HasStatus bool
	Code      Code // OS-level code, network errors only
	Path      string
	Endpoint  string
	Model     string
	Message   string // diagnostic message
	Err       error  // underlying cause
}

// Error implements the error interface. It returns the diagnostic message.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	b.WriteString(" error")
	if e.Reason != ReasonNone {
		fmt.Fprintf(&b, " (%s)", e.Reason)
	}
	if e.HasStatus {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.Code != "" {
		fmt.Fprintf(&b, " (%s)", e.Code)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Path != "" {
		fmt.Fprintf(&b, " [path=%s]", e.Path)
	}
	if e.Endpoint != "" {
		fmt.Fprintf(&b, " [endpoint=%s]", e.Endpoint)
	}
	if e.Model != "" {
		fmt.Fprintf(&b, " [model=%s]", e.Model)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same kind and, when the
// target sets one, the same reason. This makes errors.Is(err, ErrLocked) work.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Kind != e.Kind {
		return false
	}
	return t.Reason == ReasonNone || t.Reason == e.Reason
}

// Storage creates a storage error.
func Storage(reason Reason, path, message string, cause error) *Error {
	return &Error{Kind: KindStorage, Reason: reason, Path: path, Message: message, Err: cause}
}

// Remote creates a remote-service error with the given HTTP status.
func Remote(status int, endpoint, message string) *Error {
	return &Error{Kind: KindRemote, Status: status, HasStatus: true, Endpoint: endpoint, Message: message}
}

// AI creates an AI-service error. A status of 0 means no status is known.
func AI(status int, model, message string, cause error) *Error {
	return &Error{
		Kind:      KindAI,
		Status:    status,
		HasStatus: status != 0,
		Model:     model,
		Message:   message,
		Err:       cause,
	}
}

// Config creates a configuration error.
func Config(message string) *Error {
	return &Error{Kind: KindConfig, Message: message}
}

// Network creates a network error. The OS-level code is derived from cause.
func Network(endpoint string, cause error) *Error {
	return &Error{Kind: KindNetwork, Code: CodeOf(cause), Endpoint: endpoint, Message: "request failed", Err: cause}
}

// Targets for errors.Is.
var (
	ErrCorrupted  = &Error{Kind: KindStorage, Reason: ReasonCorrupted}
	ErrLocked     = &Error{Kind: KindStorage, Reason: ReasonLocked}
	ErrPermission = &Error{Kind: KindStorage, Reason: ReasonPermission}
	ErrStorage    = &Error{Kind: KindStorage}
	ErrConfig     = &Error{Kind: KindConfig}
)

// Common static errors used by the CLI.
var (
	// ErrPathRequired is returned when a document path argument is missing.
	ErrPathRequired = errors.New("document path required")

	// ErrInvalidPath is returned when a document path escapes the data directory.
	ErrInvalidPath = errors.New("document path must be relative and stay inside the data directory")

	// ErrValueRequired is returned when a JSON value argument is missing.
	ErrValueRequired = errors.New("JSON value required (argument or stdin)")

	// ErrInvalidValue is returned when a value argument is not valid JSON.
	ErrInvalidValue = errors.New("value is not valid JSON")

	// ErrInvalidItemID is returned when a queue item ID argument is not a positive integer.
	ErrInvalidItemID = errors.New("queue item ID must be a positive integer")

	// ErrItemNotFound is returned when a queue item does not exist.
	ErrItemNotFound = errors.New("queue item not found")

	// ErrQueueEmpty is returned when popping from a queue with no pending items.
	ErrQueueEmpty = errors.New("no pending queue items")

	// ErrExperimentRequired is returned when an experiment name is missing.
	ErrExperimentRequired = errors.New("experiment name required")

	// ErrInvalidExperimentName is returned when an experiment name is not a safe file name.
	ErrInvalidExperimentName = errors.New("experiment name must contain only letters, numbers, dashes and underscores")

	// ErrAPIURLRequired is returned when a remote call is attempted without a base URL.
	ErrAPIURLRequired = errors.New("API URL required (--api-url or AGENTSTATE_API_URL)")

	// ErrHistoryDisabled is returned when history is queried but not enabled.
	ErrHistoryDisabled = errors.New("history disabled (set AGENTSTATE_HISTORY=true)")
)

// cliErrors are the errors whose text is meant for the user.
var cliErrors = []error{
	ErrPathRequired,
	ErrInvalidPath,
	ErrValueRequired,
	ErrInvalidValue,
	ErrInvalidItemID,
	ErrItemNotFound,
	ErrQueueEmpty,
	ErrExperimentRequired,
	ErrInvalidExperimentName,
	ErrAPIURLRequired,
	ErrHistoryDisabled,
}

// IsCLIError reports whether err wraps one of the CLI validation errors.
func IsCLIError(err error) bool {
	for _, target := range cliErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
