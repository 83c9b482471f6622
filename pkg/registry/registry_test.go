package registry

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tuskdb/tuskcore/pkg/dberr"
	"github.com/tuskdb/tuskcore/pkg/dbpool"
	"github.com/tuskdb/tuskcore/pkg/queryengine"
	"github.com/tuskdb/tuskcore/pkg/schema"
)

type fakePool struct {
	status     dbpool.Status
	acquireErr error
}

func (f *fakePool) Status() dbpool.Status { return f.status }

func (f *fakePool) Acquire(context.Context) (*dbpool.PooledConnection, error) {
	return nil, f.acquireErr
}

func newRegistry(cache SchemaCache) *Registry {
	return New(nil, nil, cache)
}

func TestRegisterPool_PoolAndRemovePool(t *testing.T) {
	t.Parallel()
	r := newRegistry(NewMemorySchemaCache(time.Minute))
	id := uuid.New()
	pool := &fakePool{status: dbpool.Status{MaxSize: 5, Size: 2, Available: 3}}

	r.RegisterPool(id, pool)

	got, ok := r.Pool(id)
	require.True(t, ok)
	assert.Equal(t, pool, got)

	_, ok = r.Pool(uuid.New())
	assert.False(t, ok)

	require.NoError(t, r.cache.Set(context.Background(), id, &schema.DatabaseSchema{}))
	r.RemovePool(context.Background(), id)

	_, ok = r.Pool(id)
	assert.False(t, ok)

	_, hit, err := r.Schema(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, hit, "removing a pool must invalidate its cached schema")
}

func TestRegisterPool_DuplicateIDPanics(t *testing.T) {
	t.Parallel()
	r := newRegistry(nil)
	id := uuid.New()
	r.RegisterPool(id, &fakePool{})

	assert.Panics(t, func() {
		r.RegisterPool(id, &fakePool{})
	})
}

func TestAllPoolStatuses(t *testing.T) {
	t.Parallel()
	r := newRegistry(nil)
	idA, idB := uuid.New(), uuid.New()
	r.RegisterPool(idA, &fakePool{status: dbpool.Status{Size: 1}})
	r.RegisterPool(idB, &fakePool{status: dbpool.Status{Size: 2}})

	statuses := r.AllPoolStatuses()
	require.Len(t, statuses, 2)
	assert.Equal(t, int32(1), statuses[idA].Size)
	assert.Equal(t, int32(2), statuses[idB].Size)
}

func TestRegisterQuery_ActiveQueryIDs_UnregisterQuery(t *testing.T) {
	t.Parallel()
	r := newRegistry(nil)
	h := queryengine.NewHandle(context.Background(), uuid.New(), "select 1")

	r.RegisterQuery(h)
	assert.Equal(t, []uuid.UUID{h.ID}, r.ActiveQueryIDs())

	r.UnregisterQuery(h.ID)
	assert.Empty(t, r.ActiveQueryIDs())
}

func TestRegisterQuery_DuplicateIDPanics(t *testing.T) {
	t.Parallel()
	r := newRegistry(nil)
	h := queryengine.NewHandle(context.Background(), uuid.New(), "select 1")
	r.RegisterQuery(h)

	assert.Panics(t, func() {
		r.RegisterQuery(h)
	})
}

func TestCancelQuery(t *testing.T) {
	t.Parallel()
	r := newRegistry(nil)

	assert.False(t, r.CancelQuery(context.Background(), uuid.New()))

	h := queryengine.NewHandle(context.Background(), uuid.New(), "select 1")
	r.RegisterQuery(h)

	assert.True(t, r.CancelQuery(context.Background(), h.ID))
	assert.True(t, h.IsCancelled())
}

func newIntrospectionMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	mock.ExpectQuery(regexp.QuoteMeta("pg_catalog.pg_namespace")).
		WillReturnRows(pgxmock.NewRows([]string{"name", "owner"}))
	mock.ExpectQuery(regexp.QuoteMeta("pg_catalog.pg_class")).
		WillReturnRows(pgxmock.NewRows([]string{"schema", "name", "owner", "estimated_rows", "size_bytes"}))
	mock.ExpectQuery(regexp.QuoteMeta("relkind IN")).
		WillReturnRows(pgxmock.NewRows([]string{"schema", "name", "owner", "is_materialized"}))
	mock.ExpectQuery(regexp.QuoteMeta("pg_catalog.pg_proc")).
		WillReturnRows(pgxmock.NewRows([]string{"schema", "name", "return_type", "arguments", "volatility"}))

	return mock
}

func TestSchema_NoCacheConfigured(t *testing.T) {
	t.Parallel()
	r := newRegistry(nil)
	_, hit, err := r.Schema(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestRefreshSchema_StoresInCache(t *testing.T) {
	t.Parallel()
	r := newRegistry(NewMemorySchemaCache(time.Minute))
	id := uuid.New()

	mock := newIntrospectionMock(t)
	snapshot, err := r.RefreshSchema(context.Background(), id, mock)
	require.NoError(t, err)
	require.NotNil(t, snapshot)

	cached, hit, err := r.Schema(context.Background(), id)
	require.NoError(t, err)
	require.True(t, hit)
	assert.Same(t, snapshot, cached)
}

func TestEnsureSchema_CacheHitSkipsAcquire(t *testing.T) {
	t.Parallel()
	r := newRegistry(NewMemorySchemaCache(time.Minute))
	id := uuid.New()
	snapshot := &schema.DatabaseSchema{Schemas: []schema.SchemaInfo{{Name: "public"}}}
	require.NoError(t, r.cache.Set(context.Background(), id, snapshot))

	got, err := r.EnsureSchema(context.Background(), id)
	require.NoError(t, err)
	assert.Same(t, snapshot, got)
}

func TestEnsureSchema_NoPoolRegistered(t *testing.T) {
	t.Parallel()
	r := newRegistry(NewMemorySchemaCache(time.Minute))
	_, err := r.EnsureSchema(context.Background(), uuid.New())
	require.Error(t, err)
	assert.True(t, dberr.IsInternal(err))
}

func TestEnsureSchema_PropagatesAcquireError(t *testing.T) {
	t.Parallel()
	r := newRegistry(NewMemorySchemaCache(time.Minute))
	id := uuid.New()
	wantErr := dberr.New(dberr.Connection, "pool exhausted")
	r.RegisterPool(id, &fakePool{acquireErr: wantErr})

	_, err := r.EnsureSchema(context.Background(), id)
	assert.Same(t, wantErr, err)
}

func TestSpawnAndShutdown(t *testing.T) {
	t.Parallel()
	r := newRegistry(nil)
	started := make(chan struct{})
	finished := make(chan struct{})

	r.Spawn(func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		close(finished)
	})

	<-started
	err := r.Shutdown(context.Background())
	require.NoError(t, err)

	select {
	case <-finished:
	default:
		t.Fatal("Shutdown returned before spawned goroutine observed cancellation")
	}
}

func TestShutdown_TimesOutIfGoroutineNeverReturns(t *testing.T) {
	t.Parallel()
	r := newRegistry(nil)
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	r.Spawn(func(ctx context.Context) {
		<-release
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := r.Shutdown(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
