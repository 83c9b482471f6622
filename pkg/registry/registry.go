// Package registry implements the session registry: process-wide state
// for live pools, cached schemas, and in-flight queries, per spec.md
// §4.H. It is the only component that holds long-lived references
// across the other seven; everything else is either stateless (Query
// Engine, Schema Introspector) or scoped to a single descriptor (Pool).
//
// The "owns the async runtime" requirement (spec.md §5) is realized the
// Go way: Spawn launches a tracked goroutine under a sync.WaitGroup and
// a context derived from the Registry's own lifetime, and Shutdown
// cancels that context and waits, bounded by the caller's context. Go's
// scheduler already multiplexes goroutines onto OS threads, so there is
// no user-level thread pool to size — a deliberate simplification from
// the original's explicit "≥ 2 worker threads" runtime, recorded in
// DESIGN.md.
package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/tuskdb/tuskcore/pkg/catalog"
	"github.com/tuskdb/tuskcore/pkg/dberr"
	"github.com/tuskdb/tuskcore/pkg/dbpool"
	"github.com/tuskdb/tuskcore/pkg/queryengine"
	"github.com/tuskdb/tuskcore/pkg/schema"
	"github.com/tuskdb/tuskcore/pkg/secretstore"
)

// PoolHandle is the subset of *dbpool.Pool the registry needs:
// occupancy reporting for the admin API's GET /v1/pools, and acquiring
// a connection to refresh a descriptor's cached schema on a cache
// miss. Declared locally (the same narrow-local-interface idiom
// pkg/dbpool and pkg/queryengine use for Querier) so tests can register
// a fake without a live server; *dbpool.Pool satisfies it structurally.
type PoolHandle interface {
	Status() dbpool.Status
	Acquire(ctx context.Context) (*dbpool.PooledConnection, error)
}

// Registry holds the three maps spec.md §4.H describes (descriptor id
// → Pool, descriptor id → schema cache, query id → QueryHandle) plus
// references to the catalog and secret store. A zero Registry is not
// usable; construct one with New.
type Registry struct {
	mu      sync.RWMutex
	pools   map[uuid.UUID]PoolHandle
	queries map[uuid.UUID]*queryengine.Handle

	cache        SchemaCache
	introspector *schema.Introspector
	catalog      *catalog.Catalog
	secrets      *secretstore.Store

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// New builds a Registry backed by cat and secrets, using cache for
// schema snapshots. Pass a *MemorySchemaCache for the single-process
// default, or a *RedisSchemaCache for a shared tuskd deployment.
func New(cat *catalog.Catalog, secrets *secretstore.Store, cache SchemaCache) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		pools:        make(map[uuid.UUID]PoolHandle),
		queries:      make(map[uuid.UUID]*queryengine.Handle),
		cache:        cache,
		introspector: schema.New(),
		catalog:      cat,
		secrets:      secrets,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Catalog returns the registry's Local Catalog reference.
func (r *Registry) Catalog() *catalog.Catalog { return r.catalog }

// Secrets returns the registry's Secret Store reference.
func (r *Registry) Secrets() *secretstore.Store { return r.secrets }

// RegisterPool stores pool under descriptorID. Registering an id that
// is already present is a programmer error per spec.md §4.H — ids come
// from freshly validated descriptors, so a collision means a caller
// reused one; RegisterPool panics rather than silently overwriting a
// live pool out from under its in-flight queries.
func (r *Registry) RegisterPool(descriptorID uuid.UUID, pool PoolHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.pools[descriptorID]; exists {
		panic(fmt.Sprintf("registry: pool already registered for descriptor %s", descriptorID))
	}
	r.pools[descriptorID] = pool
}

// Pool returns the pool registered for descriptorID, if any.
func (r *Registry) Pool(descriptorID uuid.UUID) (PoolHandle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pools[descriptorID]
	return p, ok
}

// RemovePool unregisters the pool for descriptorID and invalidates its
// cached schema, per spec.md §4.H's "removing a pool also removes the
// cached schema for that descriptor" invariant. It does not close the
// pool; callers close before or after removing, as they prefer.
func (r *Registry) RemovePool(ctx context.Context, descriptorID uuid.UUID) {
	r.mu.Lock()
	delete(r.pools, descriptorID)
	r.mu.Unlock()

	if r.cache != nil {
		_ = r.cache.Invalidate(ctx, descriptorID)
	}
}

// AllPoolStatuses snapshots every registered pool's occupancy, for the
// admin API's GET /v1/pools.
func (r *Registry) AllPoolStatuses() map[uuid.UUID]dbpool.Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[uuid.UUID]dbpool.Status, len(r.pools))
	for id, p := range r.pools {
		out[id] = p.Status()
	}
	return out
}

// RegisterQuery stores handle under its own id. Registering a handle
// whose id is already present is a programmer error per spec.md §4.H
// (ids are freshly generated UUIDs); RegisterQuery panics rather than
// risk two callers sharing one cancellation token.
func (r *Registry) RegisterQuery(handle *queryengine.Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.queries[handle.ID]; exists {
		panic(fmt.Sprintf("registry: query handle already registered for id %s", handle.ID))
	}
	r.queries[handle.ID] = handle
}

// UnregisterQuery removes a QueryHandle once it reaches a terminal
// event (Complete or Error), per spec.md §3's QueryHandle lifecycle.
func (r *Registry) UnregisterQuery(queryID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.queries, queryID)
}

// ActiveQueryIDs lists every in-flight query id, for the admin API's
// GET /v1/queries.
func (r *Registry) ActiveQueryIDs() []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]uuid.UUID, 0, len(r.queries))
	for id := range r.queries {
		out = append(out, id)
	}
	return out
}

// CancelQuery implements spec.md §4.H's cancel_query(id): a no-op
// returning false if id is unknown; otherwise it sets the handle's
// cooperative cancellation token (and, if a connection is attached,
// best-effort requests a protocol-level cancel) and returns true. Any
// connection-level cancel error is swallowed — the cooperative token
// is what guarantees eventual termination, per spec.md §5.
func (r *Registry) CancelQuery(ctx context.Context, queryID uuid.UUID) bool {
	r.mu.RLock()
	handle, ok := r.queries[queryID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	_ = handle.Cancel(ctx)
	return true
}

// Schema returns the cached DatabaseSchema for descriptorID if present
// and not expired, per spec.md §3's cache-validity rule.
func (r *Registry) Schema(ctx context.Context, descriptorID uuid.UUID) (*schema.DatabaseSchema, bool, error) {
	if r.cache == nil {
		return nil, false, nil
	}
	return r.cache.Get(ctx, descriptorID)
}

// RefreshSchema loads a fresh DatabaseSchema over conn and stores it in
// the cache under descriptorID, unconditionally replacing any existing
// (possibly still-valid) entry — the explicit-refresh path from
// spec.md §3's cache invalidation rule.
func (r *Registry) RefreshSchema(ctx context.Context, descriptorID uuid.UUID, conn schema.Queryer) (*schema.DatabaseSchema, error) {
	snapshot, err := r.introspector.LoadSchema(ctx, conn)
	if err != nil {
		return nil, err
	}
	if r.cache != nil {
		if err := r.cache.Set(ctx, descriptorID, snapshot); err != nil {
			return nil, err
		}
	}
	return snapshot, nil
}

// SetSchema stores snapshot directly in the cache for descriptorID,
// bypassing introspection. Used to prime the cache from a snapshot
// obtained some other way (e.g. imported from the catalog); EnsureSchema
// is the introspect-on-miss path most callers want instead.
func (r *Registry) SetSchema(ctx context.Context, descriptorID uuid.UUID, snapshot *schema.DatabaseSchema) error {
	if r.cache == nil {
		return nil
	}
	return r.cache.Set(ctx, descriptorID, snapshot)
}

// EnsureSchema returns the cached DatabaseSchema for descriptorID,
// refreshing it from a freshly acquired connection on a cache miss.
// Used by the admin API's GET /v1/descriptors/{id}/schema. Returns a
// dberr-classified error of kind Internal if no pool is registered for
// descriptorID.
func (r *Registry) EnsureSchema(ctx context.Context, descriptorID uuid.UUID) (*schema.DatabaseSchema, error) {
	if snapshot, hit, err := r.Schema(ctx, descriptorID); err != nil {
		return nil, err
	} else if hit {
		return snapshot, nil
	}

	pool, ok := r.Pool(descriptorID)
	if !ok {
		return nil, dberr.New(dberr.Internal, "registry: no pool registered for descriptor")
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	return r.RefreshSchema(ctx, descriptorID, conn)
}

// Spawn launches fn as a tracked goroutine on a context derived from
// the Registry's own lifetime; fn observes cancellation via the
// context it is handed. Shutdown waits for every Spawned goroutine to
// return (bounded by its own context's deadline).
func (r *Registry) Spawn(fn func(ctx context.Context)) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		fn(r.ctx)
	}()
}

// Shutdown cancels the Registry's context, signalling every Spawned
// goroutine to stop, then waits for them to finish or for ctx's
// deadline to elapse, whichever comes first.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
