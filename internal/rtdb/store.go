// Package rtdb is the concrete store.Ref adapter the rest of this
// repository wires by default: a Redis-backed realtime tree, built the
// same way a single collection of Redis Streams/keys is built elsewhere
// in this codebase, but addressed and subscribed to the way spec.md's
// abstract Store capability expects (compare-and-set transactions,
// live child/value subscriptions, an orderByChild/equalTo/limitToFirst
// query). The store's own wire protocol is its business, not the
// coordination core's — this package is where that boundary lives.
package rtdb

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/riftborne/treequeue/internal/config"
	"github.com/riftborne/treequeue/internal/record"
	"github.com/riftborne/treequeue/internal/store"
)

// Store is a single tasks collection backed by Redis. Every Ref
// produced by Root (and its descendants) shares the same client and
// key prefix; two Stores with different prefixes never see each
// other's children, so a prefix is effectively a queue's task node.
type Store struct {
	client *redis.Client
	prefix string
}

// New dials Redis per cfg and verifies the connection, mirroring the
// client-construction and ping-before-use pattern used for this
// codebase's other Redis-backed components.
func New(cfg config.StoreConfig) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("rtdb: failed to connect to Redis: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "treequeue"
	}
	return &Store{client: client, prefix: prefix + ":tasks"}, nil
}

// NewWithClient wraps an already-constructed client under the given
// key prefix, for tests that point at a local Redis (miniredis) rather
// than dialing a real TCP connection.
func NewWithClient(client *redis.Client, keyPrefix string) *Store {
	if keyPrefix == "" {
		keyPrefix = "treequeue"
	}
	return &Store{client: client, prefix: keyPrefix + ":tasks"}
}

// Root returns the store.Ref for the tasks node Workers listen against.
func (s *Store) Root() store.Ref { return &ref{store: s} }

// Close releases the underlying Redis client.
func (s *Store) Close() error { return s.client.Close() }

// Ping verifies the underlying Redis connection is reachable, for a
// health-check endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Client exposes the underlying Redis client for callers that need to
// share the connection — internal/events' RedisPubSub publisher, most
// notably — without dialing Redis a second time.
func (s *Store) Client() *redis.Client { return s.client }

func (s *Store) taskKey(id string) string       { return s.prefix + ":task:" + id }
func (s *Store) idsKey() string                 { return s.prefix + ":ids" }
func (s *Store) channel() string                { return s.prefix + ":events" }
func (s *Store) taskChannel(id string) string   { return s.prefix + ":events:" + id }
func (s *Store) indexValueKey(field, v string) string {
	return s.prefix + ":idx:" + field + ":eq:" + v
}
func (s *Store) indexPresentKey(field string) string {
	return s.prefix + ":idx:" + field + ":present"
}

// ListByState does a one-shot read of up to limit tasks whose _state
// field equals state, using the same field index Query.On subscribes
// against. It exists for callers — the gateway's task-listing and
// admin endpoints — that need a snapshot rather than a live
// subscription, which store.Query alone can't give them.
func (s *Store) ListByState(ctx context.Context, state string, limit int) ([]record.Record, error) {
	ids, err := s.matchingIDs(ctx, record.FieldState, state)
	if err != nil {
		return nil, fmt.Errorf("rtdb: list by state %q: %w", state, err)
	}

	out := make([]record.Record, 0, len(ids))
	for _, id := range ids {
		if limit > 0 && len(out) >= limit {
			break
		}
		data, err := s.client.Get(ctx, s.taskKey(id)).Bytes()
		if err != nil {
			continue // removed between the index read and this Get
		}
		val, err := decodeValue(data)
		if err != nil {
			continue
		}
		rec, ok := record.IsMapping(val)
		if !ok {
			continue
		}
		rec = rec.Clone()
		rec["id"] = id
		out = append(out, rec)
	}
	return out, nil
}
