// Package descriptor implements the connection descriptor model: the
// immutable-after-validate record identifying a target database, its
// SSH-tunnel sub-descriptor, and the builder that constructs and
// validates both.
package descriptor

import "github.com/google/uuid"

// SshAuthMethod is the authentication method an SshTunnel uses.
type SshAuthMethod string

const (
	SshAuthKey      SshAuthMethod = "key"
	SshAuthPassword SshAuthMethod = "password"
	SshAuthAgent    SshAuthMethod = "agent"
)

// Valid reports whether m is one of the recognized SSH auth methods.
func (m SshAuthMethod) Valid() bool {
	switch m {
	case SshAuthKey, SshAuthPassword, SshAuthAgent:
		return true
	default:
		return false
	}
}

// SshTunnel is the sub-descriptor for tunnelling a connection through an
// SSH bastion. Bringing the tunnel up is out of scope for the core
// (spec.md §1); this type only carries the port-forward contract.
type SshTunnel struct {
	ID       uuid.UUID
	Host     string
	Port     int
	Username string
	Method   SshAuthMethod
	KeyPath  string // required when Method == SshAuthKey
}

// Options holds per-descriptor connection tuning that is not part of
// the server address (timeouts, read-only intent, application name).
type Options struct {
	ConnectTimeoutSecs   int
	StatementTimeoutSecs *int // nil means "no statement timeout"
	ReadOnly             bool
	ApplicationName      string
}

// Descriptor is the immutable-after-validate record identifying a
// target database, per spec.md §3. It never carries a password; the
// password lives in the Secret Store, keyed by Descriptor.ID.
type Descriptor struct {
	ID           uuid.UUID
	Name         string
	Host         string
	Port         int
	DatabaseName string
	Username     string
	SslMode      SslMode
	SshTunnel    *SshTunnel
	Options      Options

	// Color is an optional UI accent-color tag. The core never interprets
	// it; it round-trips the value because the local catalog's
	// connections table names the column.
	Color string
}
