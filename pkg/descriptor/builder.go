package descriptor

import (
	"fmt"

	"github.com/google/uuid"
)

const (
	defaultPort               = 5432
	defaultSshPort            = 22
	defaultConnectTimeoutSecs = 10
	maxNameLen                = 255
	maxDatabaseNameLen        = 63
)

// Builder accumulates descriptor fields and produces a validated
// Descriptor. It mirrors the teacher's config-loading shape (fields
// set incrementally, defaults filled once, validated once) adapted
// from a struct-tag/env loader to an explicit fluent builder since a
// Descriptor is assembled from GUI form fields, not process
// environment.
type Builder struct {
	id           uuid.UUID
	name         string
	host         string
	port         int
	databaseName string
	username     string
	sslMode      SslMode
	sshTunnel    *SshTunnel
	options      Options
	color        string
}

// New starts a Builder with nothing set.
func New() *Builder {
	return &Builder{}
}

func (b *Builder) WithID(id uuid.UUID) *Builder {
	b.id = id
	return b
}

func (b *Builder) WithName(name string) *Builder {
	b.name = name
	return b
}

func (b *Builder) WithHost(host string) *Builder {
	b.host = host
	return b
}

func (b *Builder) WithPort(port int) *Builder {
	b.port = port
	return b
}

func (b *Builder) WithDatabaseName(name string) *Builder {
	b.databaseName = name
	return b
}

func (b *Builder) WithUsername(username string) *Builder {
	b.username = username
	return b
}

func (b *Builder) WithSslMode(mode SslMode) *Builder {
	b.sslMode = mode
	return b
}

func (b *Builder) WithSshTunnel(tunnel *SshTunnel) *Builder {
	b.sshTunnel = tunnel
	return b
}

func (b *Builder) WithOptions(opts Options) *Builder {
	b.options = opts
	return b
}

func (b *Builder) WithColor(color string) *Builder {
	b.color = color
	return b
}

// Build fills defaults (port=5432, connect timeout, fresh UUID unless
// supplied) and returns an error if any invariant in spec.md §3/§4.B
// fails.
func (b *Builder) Build() (*Descriptor, error) {
	id := b.id
	if id == uuid.Nil {
		id = uuid.New()
	}

	port := b.port
	if port == 0 {
		port = defaultPort
	}

	opts := b.options
	if opts.ConnectTimeoutSecs == 0 {
		opts.ConnectTimeoutSecs = defaultConnectTimeoutSecs
	}

	if b.sshTunnel != nil && b.sshTunnel.Port == 0 {
		b.sshTunnel.Port = defaultSshPort
	}
	if b.sshTunnel != nil && b.sshTunnel.ID == uuid.Nil {
		b.sshTunnel.ID = uuid.New()
	}

	d := &Descriptor{
		ID:           id,
		Name:         b.name,
		Host:         b.host,
		Port:         port,
		DatabaseName: b.databaseName,
		Username:     b.username,
		SslMode:      b.sslMode,
		SshTunnel:    b.sshTunnel,
		Options:      opts,
		Color:        b.color,
	}

	if err := Validate(d); err != nil {
		return nil, err
	}
	return d, nil
}

// Validate idempotently re-checks a Descriptor's invariants. The
// catalog calls this again before persisting a descriptor loaded from
// disk, since the on-disk row may have been edited out of band.
func Validate(d *Descriptor) error {
	if d.ID == uuid.Nil {
		return fmt.Errorf("descriptor: id must not be nil")
	}
	if len(d.Name) == 0 || len(d.Name) > maxNameLen {
		return fmt.Errorf("descriptor: name must be 1..%d characters", maxNameLen)
	}
	if d.Host == "" {
		return fmt.Errorf("descriptor: host must not be empty")
	}
	if d.Port < 1 || d.Port > 65535 {
		return fmt.Errorf("descriptor: port must be in 1..65535")
	}
	if len(d.DatabaseName) == 0 || len(d.DatabaseName) > maxDatabaseNameLen {
		return fmt.Errorf("descriptor: database name must be 1..%d characters", maxDatabaseNameLen)
	}
	if d.Username == "" {
		return fmt.Errorf("descriptor: username must not be empty")
	}
	if !d.SslMode.Valid() {
		return fmt.Errorf("descriptor: invalid ssl mode %q", d.SslMode)
	}
	if d.Options.ConnectTimeoutSecs < 1 {
		return fmt.Errorf("descriptor: connect timeout must be positive")
	}
	if d.SshTunnel != nil {
		if err := validateSshTunnel(d.SshTunnel); err != nil {
			return err
		}
	}
	return nil
}

func validateSshTunnel(t *SshTunnel) error {
	if t.ID == uuid.Nil {
		return fmt.Errorf("ssh tunnel: id must not be nil")
	}
	if t.Host == "" {
		return fmt.Errorf("ssh tunnel: host must not be empty")
	}
	if t.Port < 1 || t.Port > 65535 {
		return fmt.Errorf("ssh tunnel: port must be in 1..65535")
	}
	if t.Username == "" {
		return fmt.Errorf("ssh tunnel: username must not be empty")
	}
	if !t.Method.Valid() {
		return fmt.Errorf("ssh tunnel: invalid auth method %q", t.Method)
	}
	if t.Method == SshAuthKey && t.KeyPath == "" {
		return fmt.Errorf("ssh tunnel: key path required when auth method is %q", SshAuthKey)
	}
	return nil
}
