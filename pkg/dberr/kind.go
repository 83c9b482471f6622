// Package dberr implements the core's error taxonomy: a closed set of
// error kinds produced by the connection pool, the query engine, the
// secret store, and the local catalog, plus the diagnostic-code-to-hint
// mapping used to translate PostgreSQL SQLSTATE codes into user-facing
// remedies.
//
// The shape mirrors the ambient github.com/tuskdb/tuskcore/pkg/errors
// package (a category + *Error struct + Wrap/New constructors,
// errors.As-friendly), but the taxonomy itself is domain-specific and
// carries wire-protocol fields (detail, hint, position, diagnostic code)
// that the generic service-error package has no use for, so it lives in
// its own package rather than overloading pkg/errors.
package dberr

// Kind is one of the closed set of error categories the core produces.
// Unlike pkg/errors' open-ended Code, Kind is exhaustive: every Error
// constructed by this package carries exactly one of these values.
type Kind string

const (
	// Connection covers TCP/TLS failures, lost connections, server
	// shutdown, unreachable database, and server connection-limit errors.
	Connection Kind = "Connection"

	// Authentication covers failed credential checks (SQLSTATE 28xxx).
	Authentication Kind = "Authentication"

	// Ssl covers TLS negotiation and certificate-verification failures.
	Ssl Kind = "Ssl"

	// Ssh covers SSH-tunnel bring-up failures reported to the core by
	// the (out-of-scope) tunnel component.
	Ssh Kind = "Ssh"

	// Query covers statement execution errors: syntax, missing objects,
	// permission, and any other server diagnostic not otherwise classified.
	Query Kind = "Query"

	// QueryCancelled covers both caller-initiated cancellation and the
	// protocol-level cancel request; it is distinguishable from a server
	// error that happens to carry SQLSTATE 57014.
	QueryCancelled Kind = "QueryCancelled"

	// Storage covers local catalog (SQLite) failures: disk-full,
	// permission-denied, and other non-corruption I/O errors. A corrupt
	// database file is handled by self-healing, not surfaced as Storage.
	Storage Kind = "Storage"

	// Keyring covers OS keychain failures other than unavailability
	// (unavailability causes a fallback to session mode instead).
	Keyring Kind = "Keyring"

	// PoolTimeout covers acquire-with-timeout failures where waiters
	// were queued at the time of timeout.
	PoolTimeout Kind = "PoolTimeout"

	// Internal is reserved for invariant violations. Always non-recoverable.
	Internal Kind = "Internal"

	// Config covers descriptor/options validation failures.
	Config Kind = "Config"
)

// Label returns the human-facing category label used in DisplayInfo,
// e.g. "Query Error" for Query. These match the end-to-end scenario in
// spec.md §8 ("Query Error").
func (k Kind) Label() string {
	switch k {
	case Connection:
		return "Connection Error"
	case Authentication:
		return "Authentication Error"
	case Ssl:
		return "SSL Error"
	case Ssh:
		return "SSH Error"
	case Query:
		return "Query Error"
	case QueryCancelled:
		return "Query Cancelled"
	case Storage:
		return "Storage Error"
	case Keyring:
		return "Keyring Error"
	case PoolTimeout:
		return "Pool Timeout"
	case Internal:
		return "Internal Error"
	case Config:
		return "Configuration Error"
	default:
		return string(k)
	}
}

// Recoverable reports whether this kind is typically resolved by user
// action (retry, edit, reconnect) rather than by restarting the process.
// Storage, Internal, and Config are not recoverable; every other kind is.
func (k Kind) Recoverable() bool {
	switch k {
	case Storage, Internal, Config:
		return false
	default:
		return true
	}
}
