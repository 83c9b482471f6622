package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tuskdb/tuskcore/pkg/schema"
)

const redisTracerName = "github.com/tuskdb/tuskcore/pkg/registry"

// RedisClient is the subset of *redisclient.Client a RedisSchemaCache
// needs. Declared locally so tests can substitute a fake without a live
// server; *redisclient.Client (pkg/clients/redis) satisfies it
// structurally, already wrapped with its own OpenTelemetry spans and
// CodeTimeoutDatabase/CodeInternalDatabase error classification — the
// span pair this package opens is for the cache-level operation
// (encode/decode included), not a duplicate of the client's own.
type RedisClient interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) (int64, error)
}

// RedisSchemaCache is the distributed SchemaCache for a tuskd
// deployment shared by multiple processes against the same catalog:
// the in-memory default only serves one process. Wraps
// pkg/clients/redis.Client (the teacher's traced SET/GET/DEL wrapper)
// rather than a raw go-redis client, adapted to this package's
// narrower SchemaCache surface.
type RedisSchemaCache struct {
	client RedisClient
	prefix string
	ttl    time.Duration
	tracer trace.Tracer
}

// NewRedisSchemaCache wraps client (typically *redisclient.Client).
// keyPrefix namespaces keys so multiple tuskd deployments can share one
// Redis instance; pass "" to use the default "tuskcore:schema:" prefix.
// A non-positive ttl defaults to DefaultSchemaTTL.
func NewRedisSchemaCache(client RedisClient, keyPrefix string, ttl time.Duration) *RedisSchemaCache {
	if keyPrefix == "" {
		keyPrefix = "tuskcore:schema:"
	}
	if ttl <= 0 {
		ttl = DefaultSchemaTTL
	}
	return &RedisSchemaCache{client: client, prefix: keyPrefix, ttl: ttl, tracer: otel.Tracer(redisTracerName)}
}

func (r *RedisSchemaCache) key(descriptorID uuid.UUID) string {
	return r.prefix + descriptorID.String()
}

// Get fetches and deserializes the cached snapshot. A missing key is a
// plain cache miss (false, nil error); any other Redis or decode
// failure is returned as an error.
func (r *RedisSchemaCache) Get(ctx context.Context, descriptorID uuid.UUID) (*schema.DatabaseSchema, bool, error) {
	ctx, span := r.startSpan(ctx, "Get", descriptorID)
	defer span.End()

	raw, err := r.client.Get(ctx, r.key(descriptorID))
	if errors.Is(err, redis.Nil) {
		finishSpan(span, nil)
		return nil, false, nil
	}
	if err != nil {
		finishSpan(span, err)
		return nil, false, fmt.Errorf("registry: redis schema cache get: %w", err)
	}

	var snapshot schema.DatabaseSchema
	if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
		finishSpan(span, err)
		return nil, false, fmt.Errorf("registry: decode cached schema: %w", err)
	}
	finishSpan(span, nil)
	return &snapshot, true, nil
}

// Set serializes snapshot as JSON and stores it with the cache's TTL.
func (r *RedisSchemaCache) Set(ctx context.Context, descriptorID uuid.UUID, snapshot *schema.DatabaseSchema) error {
	ctx, span := r.startSpan(ctx, "Set", descriptorID)
	defer span.End()

	payload, err := json.Marshal(snapshot)
	if err != nil {
		finishSpan(span, err)
		return fmt.Errorf("registry: encode schema for cache: %w", err)
	}
	if err := r.client.Set(ctx, r.key(descriptorID), payload, r.ttl); err != nil {
		finishSpan(span, err)
		return fmt.Errorf("registry: redis schema cache set: %w", err)
	}
	finishSpan(span, nil)
	return nil
}

// Invalidate deletes the cached entry for descriptorID, if any.
func (r *RedisSchemaCache) Invalidate(ctx context.Context, descriptorID uuid.UUID) error {
	ctx, span := r.startSpan(ctx, "Del", descriptorID)
	defer span.End()

	if _, err := r.client.Del(ctx, r.key(descriptorID)); err != nil {
		finishSpan(span, err)
		return fmt.Errorf("registry: redis schema cache invalidate: %w", err)
	}
	finishSpan(span, nil)
	return nil
}

func (r *RedisSchemaCache) startSpan(ctx context.Context, op string, descriptorID uuid.UUID) (context.Context, trace.Span) {
	ctx, span := r.tracer.Start(ctx, "registry.schemacache."+op, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("db.system", "redis"),
		attribute.String("tusk.descriptor_id", descriptorID.String()),
	)
	return ctx, span
}

func finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
}
