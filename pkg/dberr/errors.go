package dberr

import "fmt"

// Error is the core's structured error type. Every error returned across
// a component boundary (Pool, Query Engine, Secret Store, Local Catalog)
// is an *Error so callers can branch on Kind without string matching.
type Error struct {
	// Kind is the error's category. Always one of the constants in kind.go.
	Kind Kind

	// Message is the human-readable summary.
	Message string

	// Cause is the underlying error, if any. Use errors.Unwrap/errors.As
	// to inspect it.
	Cause error

	// Detail is additional server-supplied context (e.g. a PgError's
	// Detail field). Empty for non-query errors.
	Detail string

	// Hint is a short suggested remedy, populated from HintFor when a
	// diagnostic code is present.
	Hint string

	// Position is the 1-indexed character offset into the SQL text the
	// server flagged, if any. Only ever set for Query errors.
	Position *int

	// DiagnosticCode is the five-character SQLSTATE-style code returned
	// by the server, if any.
	DiagnosticCode string

	// Waiting is the number of queued waiters observed at the moment a
	// PoolTimeout was raised. Only meaningful when Kind == PoolTimeout.
	Waiting int

	// HandleID is the QueryHandle id this error terminates. Only
	// meaningful when Kind == QueryCancelled.
	HandleID string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause, supporting errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates an *Error of the given kind with no underlying cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an *Error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error as the cause of a new *Error. Returns nil
// if err is nil.
func Wrap(err error, kind Kind, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Cause: err}
}

// Wrapf wraps an existing error with a formatted message. Returns nil if
// err is nil.
func Wrapf(err error, kind Kind, format string, args ...any) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: err}
}

// PoolTimeoutErr builds a PoolTimeout error carrying the observed waiter
// count, per spec.md §4.E / §7 ("PoolTimeout{waiting}").
func PoolTimeoutErr(waiting int) *Error {
	return &Error{
		Kind:    PoolTimeout,
		Message: "timed out waiting to acquire a connection",
		Waiting: waiting,
	}
}

// Cancelled builds a QueryCancelled error for the given handle id, per
// spec.md §4.F's cancellation semantics.
func Cancelled(handleID string) *Error {
	return &Error{
		Kind:     QueryCancelled,
		Message:  "query was cancelled",
		HandleID: handleID,
	}
}

// DisplayInfo is the error-display surface handed to the GUI (out of
// scope), per spec.md §6/§4.A.
type DisplayInfo struct {
	Kind        string  `json:"error_type"`
	Message     string  `json:"message"`
	Hint        *string `json:"hint,omitempty"`
	Detail      *string `json:"technical_detail,omitempty"`
	Position    *int    `json:"position,omitempty"`
	Code        *string `json:"code,omitempty"`
	Recoverable bool    `json:"recoverable"`
}

// ToDisplay converts an *Error into the display surface described by
// spec.md §4.A/§6: kind label, message, optional hint/detail/position/
// code, and the recoverable flag computed per-kind.
func ToDisplay(e *Error) DisplayInfo {
	info := DisplayInfo{
		Kind:        e.Kind.Label(),
		Message:     e.Message,
		Recoverable: e.Kind.Recoverable(),
	}
	if e.Hint != "" {
		h := e.Hint
		info.Hint = &h
	}
	if e.Detail != "" {
		d := e.Detail
		info.Detail = &d
	}
	if e.Position != nil {
		p := *e.Position
		info.Position = &p
	}
	if e.DiagnosticCode != "" {
		c := e.DiagnosticCode
		info.Code = &c
	}
	return info
}
