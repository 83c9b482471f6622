package registry

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tuskdb/tuskcore/pkg/schema"
)

// DefaultSchemaTTL is the wall-clock cache lifetime spec.md §3 assigns
// a DatabaseSchema entry absent an explicit override.
const DefaultSchemaTTL = 5 * time.Minute

// SchemaCache stores one DatabaseSchema snapshot per descriptor with a
// TTL, per spec.md §4.H / §3's DatabaseSchema cache invariant. Get's
// second return value is false on a miss, whether from absence or
// expiry; callers treat both the same way (trigger a refresh).
//
// Implementations: MemorySchemaCache (default, single-process) and
// RedisSchemaCache (optional, shared across a multi-process tuskd
// deployment).
type SchemaCache interface {
	Get(ctx context.Context, descriptorID uuid.UUID) (*schema.DatabaseSchema, bool, error)
	Set(ctx context.Context, descriptorID uuid.UUID, snapshot *schema.DatabaseSchema) error
	Invalidate(ctx context.Context, descriptorID uuid.UUID) error
}

type memoryCacheEntry struct {
	snapshot *schema.DatabaseSchema
	loadedAt time.Time
}

// MemorySchemaCache is the default in-process SchemaCache: a mutex-
// guarded map checked against a wall-clock TTL, exactly as
// spec.md §3 describes ("valid iff now - loaded_at <= ttl").
type MemorySchemaCache struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]memoryCacheEntry
	ttl     time.Duration
}

// NewMemorySchemaCache returns a MemorySchemaCache with the given TTL.
// A non-positive ttl defaults to DefaultSchemaTTL.
func NewMemorySchemaCache(ttl time.Duration) *MemorySchemaCache {
	if ttl <= 0 {
		ttl = DefaultSchemaTTL
	}
	return &MemorySchemaCache{entries: make(map[uuid.UUID]memoryCacheEntry), ttl: ttl}
}

// Get returns the cached snapshot if present and not expired.
func (m *MemorySchemaCache) Get(_ context.Context, descriptorID uuid.UUID) (*schema.DatabaseSchema, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.entries[descriptorID]
	if !ok {
		return nil, false, nil
	}
	if time.Since(entry.loadedAt) > m.ttl {
		return nil, false, nil
	}
	return entry.snapshot, true, nil
}

// Set stores snapshot and resets the entry's loaded_at to now.
func (m *MemorySchemaCache) Set(_ context.Context, descriptorID uuid.UUID, snapshot *schema.DatabaseSchema) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[descriptorID] = memoryCacheEntry{snapshot: snapshot, loadedAt: time.Now()}
	return nil
}

// Invalidate removes the cache entry for descriptorID, if any.
func (m *MemorySchemaCache) Invalidate(_ context.Context, descriptorID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, descriptorID)
	return nil
}
