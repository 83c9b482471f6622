// Package secretstore implements the process-wide secret store: an OS
// keychain adapter with an in-memory session-mode fallback, per
// spec.md §4.C.
//
// On construction the store probes the OS keychain once (write then
// delete a sentinel item). Success puts it in keychain mode for the
// rest of the process lifetime; failure puts it in session mode,
// where secrets live only in a mutex-guarded map and are lost on
// shutdown. The probe failure reason is retained so callers can
// surface it in the UI.
package secretstore

import (
	"fmt"
	"sync"

	"github.com/99designs/keyring"

	"github.com/tuskdb/tuskcore/pkg/dberr"
)

const serviceName = "tusk"

// Mode reports which backing store is active for this process.
type Mode string

const (
	ModeKeychain Mode = "keychain"
	ModeSession  Mode = "session"
)

// Store is the process-wide secret store. Safe for concurrent use.
type Store struct {
	mode Mode

	// probeFailure is the reason the keychain probe failed, retained for
	// UI display. Empty in keychain mode.
	probeFailure error

	kr keyring.Keyring // non-nil only in keychain mode

	mu      sync.RWMutex // writer-preferring: session map guarded here
	session map[string][]byte
}

// New probes the OS keychain once and returns a Store in keychain mode
// on success, or session mode on failure.
func New() *Store {
	return newWithOpener(openDefaultKeyring)
}

// newWithOpener lets tests substitute the keyring backend.
func newWithOpener(open func() (keyring.Keyring, error)) *Store {
	s := &Store{session: make(map[string][]byte)}

	kr, err := open()
	if err != nil {
		s.mode = ModeSession
		s.probeFailure = fmt.Errorf("open keyring: %w", err)
		return s
	}

	if err := probeKeyring(kr); err != nil {
		s.mode = ModeSession
		s.probeFailure = fmt.Errorf("probe keyring: %w", err)
		return s
	}

	s.mode = ModeKeychain
	s.kr = kr
	return s
}

func openDefaultKeyring() (keyring.Keyring, error) {
	return keyring.Open(keyring.Config{
		ServiceName:                    serviceName,
		KeychainTrustApplication:       true,
		KeychainAccessibleWhenUnlocked: true,
		LibSecretCollectionName:        serviceName,
	})
}

const probeKey = "__tuskd_probe__"

func probeKeyring(kr keyring.Keyring) error {
	if err := kr.Set(keyring.Item{Key: probeKey, Data: []byte("probe")}); err != nil {
		return err
	}
	return kr.Remove(probeKey)
}

// Mode reports whether the store is running in keychain or session mode.
func (s *Store) Mode() Mode {
	return s.mode
}

// ProbeFailure returns the reason the keychain probe failed, or nil if
// the store is in keychain mode.
func (s *Store) ProbeFailure() error {
	return s.probeFailure
}

// dbKey builds the key schema for a database password: "db:" + uuid.
func dbKey(id string) string {
	return "db:" + id
}

// sshKey builds the key schema for an SSH passphrase: "ssh:" + uuid.
func sshKey(id string) string {
	return "ssh:" + id
}

// StoreDatabaseSecret stores the password for the descriptor with the
// given id, overwriting any existing value.
func (s *Store) StoreDatabaseSecret(id string, secret []byte) error {
	return s.store(dbKey(id), secret)
}

// GetDatabaseSecret returns the password for the descriptor with the
// given id. The second return value is false if absent.
func (s *Store) GetDatabaseSecret(id string) ([]byte, bool, error) {
	return s.get(dbKey(id))
}

// HasDatabaseSecret reports whether a password is stored for id.
func (s *Store) HasDatabaseSecret(id string) (bool, error) {
	return s.has(dbKey(id))
}

// DeleteDatabaseSecret removes the password for id. Idempotent.
func (s *Store) DeleteDatabaseSecret(id string) error {
	return s.delete(dbKey(id))
}

// StoreSshSecret stores the SSH passphrase for the tunnel with the
// given id, overwriting any existing value.
func (s *Store) StoreSshSecret(id string, secret []byte) error {
	return s.store(sshKey(id), secret)
}

// GetSshSecret returns the SSH passphrase for the tunnel with the
// given id. The second return value is false if absent.
func (s *Store) GetSshSecret(id string) ([]byte, bool, error) {
	return s.get(sshKey(id))
}

// HasSshSecret reports whether an SSH passphrase is stored for id.
func (s *Store) HasSshSecret(id string) (bool, error) {
	return s.has(sshKey(id))
}

// DeleteSshSecret removes the SSH passphrase for id. Idempotent.
func (s *Store) DeleteSshSecret(id string) error {
	return s.delete(sshKey(id))
}

func (s *Store) store(key string, secret []byte) error {
	if s.mode == ModeKeychain {
		if err := s.kr.Set(keyring.Item{Key: key, Data: secret}); err != nil {
			return dberr.ClassifyKeyring(err, "secretstore: write secret")
		}
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(secret))
	copy(cp, secret)
	s.session[key] = cp
	return nil
}

func (s *Store) get(key string) ([]byte, bool, error) {
	if s.mode == ModeKeychain {
		item, err := s.kr.Get(key)
		if err != nil {
			if err == keyring.ErrKeyNotFound {
				return nil, false, nil
			}
			return nil, false, dberr.ClassifyKeyring(err, "secretstore: read secret")
		}
		return item.Data, true, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.session[key]
	if !ok {
		return nil, false, nil
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, true, nil
}

func (s *Store) has(key string) (bool, error) {
	_, ok, err := s.get(key)
	return ok, err
}

func (s *Store) delete(key string) error {
	if s.mode == ModeKeychain {
		err := s.kr.Remove(key)
		if err != nil && err != keyring.ErrKeyNotFound {
			return dberr.ClassifyKeyring(err, "secretstore: delete secret")
		}
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.session, key)
	return nil
}
