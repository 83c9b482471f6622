package registry

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tuskdb/tuskcore/pkg/schema"
)

// fakeRedisClient is a hand-rolled RedisClient backed by an in-memory
// map, so RedisSchemaCache's JSON encode/decode and key-prefixing can
// be tested without a live Redis instance.
type fakeRedisClient struct {
	data map[string][]byte
	err  error
}

func newFakeRedisClient() *fakeRedisClient {
	return &fakeRedisClient{data: make(map[string][]byte)}
}

func (f *fakeRedisClient) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	if f.err != nil {
		return f.err
	}
	switch v := value.(type) {
	case []byte:
		f.data[key] = v
	case string:
		f.data[key] = []byte(v)
	}
	return nil
}

func (f *fakeRedisClient) Get(_ context.Context, key string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	v, ok := f.data[key]
	if !ok {
		return "", redis.Nil
	}
	return string(v), nil
}

func (f *fakeRedisClient) Del(_ context.Context, keys ...string) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	var n int64
	for _, k := range keys {
		if _, ok := f.data[k]; ok {
			delete(f.data, k)
			n++
		}
	}
	return n, nil
}

func TestRedisSchemaCache_SetThenGet_RoundTripsTableKeys(t *testing.T) {
	t.Parallel()
	client := newFakeRedisClient()
	c := NewRedisSchemaCache(client, "", time.Minute)
	id := uuid.New()

	snapshot := &schema.DatabaseSchema{
		Tables: []schema.TableInfo{{Schema: "public", Name: "users"}},
		TableColumns: map[schema.TableKey][]schema.ColumnDetail{
			{Schema: "public", Name: "users"}: {{Name: "id", DataType: "int4", IsPrimaryKey: true}},
		},
	}

	require.NoError(t, c.Set(context.Background(), id, snapshot))

	got, ok, err := c.Get(context.Background(), id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, snapshot.Tables, got.Tables)
	assert.Equal(t, snapshot.TableColumns, got.TableColumns)
}

func TestRedisSchemaCache_Get_MissIsNotAnError(t *testing.T) {
	t.Parallel()
	c := NewRedisSchemaCache(newFakeRedisClient(), "", time.Minute)
	got, ok, err := c.Get(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestRedisSchemaCache_Get_PropagatesOtherErrors(t *testing.T) {
	t.Parallel()
	client := newFakeRedisClient()
	client.err = errors.New("connection refused")
	c := NewRedisSchemaCache(client, "", time.Minute)

	_, _, err := c.Get(context.Background(), uuid.New())
	assert.ErrorContains(t, err, "connection refused")
}

func TestRedisSchemaCache_Invalidate(t *testing.T) {
	t.Parallel()
	client := newFakeRedisClient()
	c := NewRedisSchemaCache(client, "", time.Minute)
	id := uuid.New()

	require.NoError(t, c.Set(context.Background(), id, &schema.DatabaseSchema{}))
	require.NoError(t, c.Invalidate(context.Background(), id))

	_, ok, err := c.Get(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisSchemaCache_KeyPrefix(t *testing.T) {
	t.Parallel()
	client := newFakeRedisClient()
	c := NewRedisSchemaCache(client, "myapp:schema:", time.Minute)
	id := uuid.New()

	require.NoError(t, c.Set(context.Background(), id, &schema.DatabaseSchema{}))

	_, ok := client.data["myapp:schema:"+id.String()]
	assert.True(t, ok)
}

func TestRedisSchemaCache_DefaultsTTLAndPrefix(t *testing.T) {
	t.Parallel()
	c := NewRedisSchemaCache(newFakeRedisClient(), "", 0)
	assert.Equal(t, DefaultSchemaTTL, c.ttl)
	assert.Equal(t, "tuskcore:schema:", c.prefix)
}

func TestRedisSchemaCache_Get_InvalidJSONIsAnError(t *testing.T) {
	t.Parallel()
	client := newFakeRedisClient()
	c := NewRedisSchemaCache(client, "", time.Minute)
	id := uuid.New()
	client.data[c.key(id)] = []byte("not json")

	_, _, err := c.Get(context.Background(), id)
	assert.Error(t, err)

	var syntaxErr *json.SyntaxError
	assert.ErrorAs(t, err, &syntaxErr)
}
