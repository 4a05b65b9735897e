// Package replica provides the Redis-backed secondary store.
//
// The replica is best-effort: crosstx writes to it after the primary write
// succeeds and never lets a replica failure change a transaction's outcome.
// Each entity kind maps to one Redis hash, "<prefix>:<kind>", whose fields
// are entity IDs and whose values are canonical JSON payloads, so counting
// a kind is a single HLEN.
package replica

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/redis/go-redis/v9"

	"github.com/roach88/crosstx/internal/entity"
	"github.com/roach88/crosstx/internal/record"
)

// ErrDisabled is returned by writes while the replica is disabled.
var ErrDisabled = errors.New("replica is disabled")

// Config holds connection settings for the replica.
type Config struct {
	URL       string
	Password  string
	KeyPrefix string
}

// Replica is the Redis secondary store.
type Replica struct {
	client  *redis.Client
	prefix  string
	enabled atomic.Bool
}

// Connect dials Redis and verifies the connection. The returned replica is enabled.
func Connect(ctx context.Context, cfg Config) (*Replica, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return New(client, cfg.KeyPrefix), nil
}

// New wraps an existing client. The returned replica is enabled.
func New(client *redis.Client, prefix string) *Replica {
	if prefix == "" {
		prefix = "crosstx"
	}
	r := &Replica{client: client, prefix: prefix}
	r.enabled.Store(client != nil)
	return r
}

// Enabled reports whether writes and counts should reach Redis.
// A nil replica is disabled.
func (r *Replica) Enabled() bool {
	return r != nil && r.client != nil && r.enabled.Load()
}

// SetEnabled toggles the replica at runtime. Safe for concurrent use.
func (r *Replica) SetEnabled(on bool) {
	r.enabled.Store(on && r.client != nil)
}

// Key returns the Redis hash key for kind.
func (r *Replica) Key(kind entity.Kind) string {
	return r.prefix + ":" + string(kind)
}

// Upsert writes the canonical payload under (kind, id).
func (r *Replica) Upsert(ctx context.Context, kind entity.Kind, id string, obj record.Object) error {
	if !r.Enabled() {
		return ErrDisabled
	}
	payload, err := record.Marshal(obj)
	if err != nil {
		return fmt.Errorf("replica upsert %s/%s: %w", kind, id, err)
	}
	if err := r.client.HSet(ctx, r.Key(kind), id, payload).Err(); err != nil {
		return fmt.Errorf("replica upsert %s/%s: %w", kind, id, err)
	}
	return nil
}

// Get reads (kind, id). found is false when the field is absent.
func (r *Replica) Get(ctx context.Context, kind entity.Kind, id string) (obj record.Object, found bool, err error) {
	if !r.Enabled() {
		return nil, false, ErrDisabled
	}
	data, err := r.client.HGet(ctx, r.Key(kind), id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("replica get %s/%s: %w", kind, id, err)
	}
	obj, err = record.Unmarshal(data)
	if err != nil {
		return nil, false, fmt.Errorf("replica get %s/%s: %w", kind, id, err)
	}
	return obj, true, nil
}

// Delete removes (kind, id). Deleting a missing field is not an error.
func (r *Replica) Delete(ctx context.Context, kind entity.Kind, id string) error {
	if !r.Enabled() {
		return ErrDisabled
	}
	if err := r.client.HDel(ctx, r.Key(kind), id).Err(); err != nil {
		return fmt.Errorf("replica delete %s/%s: %w", kind, id, err)
	}
	return nil
}

// Count returns the number of records of kind held in Redis.
func (r *Replica) Count(ctx context.Context, kind entity.Kind) (int64, error) {
	if !r.Enabled() {
		return 0, ErrDisabled
	}
	n, err := r.client.HLen(ctx, r.Key(kind)).Result()
	if err != nil {
		return 0, fmt.Errorf("replica count %s: %w", kind, err)
	}
	return n, nil
}

// Close closes the Redis connection.
func (r *Replica) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Close()
}
