package descriptor

import "fmt"

// DisplayURL renders a password-less connection string suitable for
// logs and UI headings, e.g. "postgres://alice@db.internal:5432/app".
// The password never passes through this package — it lives in the
// secret store, keyed by Descriptor.ID — so there is nothing to
// redact; DisplayURL simply never has it to begin with.
func (d *Descriptor) DisplayURL() string {
	return fmt.Sprintf("postgres://%s@%s:%d/%s", d.Username, d.Host, d.Port, d.DatabaseName)
}

// DisplayLabel renders the descriptor's name plus its host:port, used
// wherever a connection needs a short human-readable tag (tab titles,
// tray-icon menus).
func (d *Descriptor) DisplayLabel() string {
	return fmt.Sprintf("%s (%s:%d)", d.Name, d.Host, d.Port)
}
