package dberr

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// hints is the finite, exhaustive diagnostic-code-to-hint mapping from
// spec.md §4.A's second bullet.
var hints = map[string]string{
	"28000": "Authentication failed",
	"28xxx": "Authentication failed",
	"08000": "Connection error",
	"08001": "Unable to connect to server",
	"08003": "Connection does not exist",
	"08004": "Server rejected the connection",
	"08006": "Connection to server was lost",
	"3D000": "Database does not exist",
	"42601": "Syntax error in SQL statement",
	"42P01": "Table does not exist",
	"42703": "Column does not exist",
	"42501": "Insufficient privileges",
	"42P02": "Undefined parameter",
	"53000": "Server resource limit reached",
	"53100": "Disk is full",
	"53200": "Out of memory",
	"53300": "Too many connections to the server",
	"57P01": "Server is shutting down",
	"57P02": "Server crashed",
	"57P03": "Server is not yet accepting connections",
	"57014": "Cancelled by administrator",
}

// HintFor returns the finite, exhaustive hint for a SQLSTATE-style
// diagnostic code, per spec.md §4.A. The second return value is false
// if the code has no registered hint.
func HintFor(code string) (string, bool) {
	h, ok := hints[code]
	return h, ok
}

// Classify inspects a wire-level error and converts it into an *Error
// per spec.md §4.A/§7's branching rules. If err already is a dberr
// *Error it is returned unchanged — Classify is idempotent.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := AsError(err); ok {
		return e
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return classifyPgError(err, pgErr)
	}

	return classifyNonWire(err)
}

func classifyPgError(cause error, pgErr *pgconn.PgError) *Error {
	code := pgErr.Code
	base := &Error{
		Cause:          cause,
		Message:        pgErr.Message,
		Detail:         pgErr.Detail,
		DiagnosticCode: code,
	}
	if pgErr.Position != 0 {
		pos := int(pgErr.Position)
		base.Position = &pos
	}
	if hint, ok := HintFor(code); ok {
		base.Hint = hint
	} else if pgErr.Hint != "" {
		base.Hint = pgErr.Hint
	}

	switch {
	case strings.HasPrefix(code, "28"):
		base.Kind = Authentication
	case code == "08006" || code == "08003":
		base.Kind = Connection
		if base.Hint == "" {
			base.Hint = "Connection to server was lost; reconnect"
		} else {
			base.Hint = base.Hint + "; reconnect"
		}
	case strings.HasPrefix(code, "08"):
		base.Kind = Connection
	case code == "3D000":
		base.Kind = Connection
	case code == "53300":
		base.Kind = Connection
	case code == "57P01":
		base.Kind = Connection
	case code == "57014":
		base.Kind = Query
		base.Hint = "cancelled by administrator"
	default:
		base.Kind = Query
	}
	return base
}

func classifyNonWire(err error) *Error {
	if errors.Is(err, context.Canceled) {
		return &Error{Kind: QueryCancelled, Message: "query was cancelled", Cause: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: Connection, Message: "operation timed out", Cause: err}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"):
		return &Error{Kind: Connection, Message: "connection timed out", Cause: err}
	case strings.Contains(msg, "closed"):
		return &Error{Kind: Connection, Message: "connection was closed", Cause: err}
	case strings.Contains(msg, "connection refused"):
		return &Error{Kind: Connection, Message: "connection refused", Cause: err}
	default:
		return &Error{Kind: Connection, Message: err.Error(), Cause: err}
	}
}
