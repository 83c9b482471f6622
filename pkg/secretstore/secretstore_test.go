package secretstore

import (
	"errors"
	"sync"
	"testing"

	"github.com/99designs/keyring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tuskdb/tuskcore/pkg/dberr"
)

// fakeKeyring is an in-memory keyring.Keyring used to exercise
// keychain mode without touching a real OS backend.
type fakeKeyring struct {
	mu    sync.Mutex
	items map[string]keyring.Item

	failSet bool
}

func newFakeKeyring() *fakeKeyring {
	return &fakeKeyring{items: make(map[string]keyring.Item)}
}

func (f *fakeKeyring) Get(key string) (keyring.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[key]
	if !ok {
		return keyring.Item{}, keyring.ErrKeyNotFound
	}
	return item, nil
}

func (f *fakeKeyring) GetMetadata(key string) (keyring.Metadata, error) {
	return keyring.Metadata{}, nil
}

func (f *fakeKeyring) Set(item keyring.Item) error {
	if f.failSet {
		return errors.New("backend unavailable")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[item.Key] = item
	return nil
}

func (f *fakeKeyring) Remove(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.items[key]; !ok {
		return keyring.ErrKeyNotFound
	}
	delete(f.items, key)
	return nil
}

func (f *fakeKeyring) Keys() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.items))
	for k := range f.items {
		keys = append(keys, k)
	}
	return keys, nil
}

func newKeychainStore(fk *fakeKeyring) *Store {
	return newWithOpener(func() (keyring.Keyring, error) { return fk, nil })
}

func newSessionStore() *Store {
	return newWithOpener(func() (keyring.Keyring, error) {
		return nil, errors.New("no backend on this platform")
	})
}

func TestNew_KeychainProbeSuccess_EntersKeychainMode(t *testing.T) {
	t.Parallel()
	fk := newFakeKeyring()
	s := newKeychainStore(fk)
	assert.Equal(t, ModeKeychain, s.Mode())
	assert.NoError(t, s.ProbeFailure())
	// The probe sentinel must not survive the probe.
	_, err := fk.Get(probeKey)
	assert.ErrorIs(t, err, keyring.ErrKeyNotFound)
}

func TestNew_KeychainProbeFailure_EntersSessionMode(t *testing.T) {
	t.Parallel()
	fk := newFakeKeyring()
	fk.failSet = true
	s := newKeychainStore(fk)
	assert.Equal(t, ModeSession, s.Mode())
	assert.Error(t, s.ProbeFailure())
}

func TestNew_OpenFailure_EntersSessionMode(t *testing.T) {
	t.Parallel()
	s := newSessionStore()
	assert.Equal(t, ModeSession, s.Mode())
	assert.Error(t, s.ProbeFailure())
}

func testStoreGetHasDelete(t *testing.T, s *Store) {
	t.Helper()
	const id = "11111111-1111-1111-1111-111111111111"

	has, err := s.HasDatabaseSecret(id)
	require.NoError(t, err)
	assert.False(t, has)

	_, ok, err := s.GetDatabaseSecret(id)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.StoreDatabaseSecret(id, []byte("hunter2")))

	has, err = s.HasDatabaseSecret(id)
	require.NoError(t, err)
	assert.True(t, has)

	got, ok, err := s.GetDatabaseSecret(id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "hunter2", string(got))

	require.NoError(t, s.DeleteDatabaseSecret(id))
	has, err = s.HasDatabaseSecret(id)
	require.NoError(t, err)
	assert.False(t, has)

	// delete is idempotent.
	assert.NoError(t, s.DeleteDatabaseSecret(id))
}

func TestStore_GetHasDelete_KeychainMode(t *testing.T) {
	t.Parallel()
	testStoreGetHasDelete(t, newKeychainStore(newFakeKeyring()))
}

func TestStore_GetHasDelete_SessionMode(t *testing.T) {
	t.Parallel()
	testStoreGetHasDelete(t, newSessionStore())
}

// TestStore_RuntimeKeychainFailure_ReturnsKeyringError covers §7's
// distinction from the construction-time probe failure above: once a
// store is already in keychain mode, a later backend failure must
// surface as dberr.Keyring, not a session-mode fallback.
func TestStore_RuntimeKeychainFailure_ReturnsKeyringError(t *testing.T) {
	t.Parallel()
	fk := newFakeKeyring()
	s := newKeychainStore(fk)
	require.Equal(t, ModeKeychain, s.Mode())

	fk.failSet = true
	err := s.StoreDatabaseSecret("33333333-3333-3333-3333-333333333333", []byte("secret"))
	require.Error(t, err)
	assert.True(t, dberr.IsKeyring(err), "expected a Keyring error, got: %v", err)
}

func TestStore_SshSecret_KeySchemaIsDisjointFromDatabaseSecret(t *testing.T) {
	t.Parallel()
	s := newSessionStore()
	const id = "22222222-2222-2222-2222-222222222222"

	require.NoError(t, s.StoreDatabaseSecret(id, []byte("db-pass")))
	require.NoError(t, s.StoreSshSecret(id, []byte("ssh-pass")))

	dbSecret, ok, err := s.GetDatabaseSecret(id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "db-pass", string(dbSecret))

	sshSecret, ok, err := s.GetSshSecret(id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "ssh-pass", string(sshSecret))
}

func TestStore_SessionMap_SafeForConcurrentUse(t *testing.T) {
	t.Parallel()
	s := newSessionStore()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := "worker"
			_ = s.StoreDatabaseSecret(id, []byte("x"))
			_, _, _ = s.GetDatabaseSecret(id)
			_, _ = s.HasDatabaseSecret(id)
		}(i)
	}
	wg.Wait()
}
