package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/dyluth/hivemind/internal/logging"
	"github.com/dyluth/hivemind/pkg/knowledge"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultMaxScan bounds how many candidate ids one search hydrates.
const DefaultMaxScan = 1000

// Store is the Redis-backed knowledge store behind the reference server.
// All keys and channels are namespaced. The store is safe for concurrent use.
type Store struct {
	rdb       *redis.Client
	namespace string
	maxScan   int
	logger    *slog.Logger
}

// New creates a store for the given namespace. A non-positive maxScan uses
// DefaultMaxScan.
func New(redisOpts *redis.Options, namespace string, maxScan int, logger *slog.Logger) (*Store, error) {
	namespace = strings.TrimSpace(namespace)
	if namespace == "" {
		return nil, fmt.Errorf("namespace cannot be empty")
	}
	if maxScan <= 0 {
		maxScan = DefaultMaxScan
	}
	if logger == nil {
		logger = logging.Discard()
	}

	return &Store{
		rdb:       redis.NewClient(redisOpts),
		namespace: namespace,
		maxScan:   maxScan,
		logger:    logger,
	}, nil
}

// Namespace returns the key namespace.
func (s *Store) Namespace() string {
	return s.namespace
}

// Close closes the Redis connection. Implements io.Closer.
func (s *Store) Close() error {
	return s.rdb.Close()
}

// Ping verifies Redis connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Add stores an entry unless its identity hash is already known.
//
// The identity key is claimed with SETNX before anything else is written, so
// concurrent adds of the same content produce exactly one stored entry. The
// entry hash and its index memberships are written in one MULTI; if that
// fails the identity claim is released. A successful add is published on the
// entry events channel.
func (s *Store) Add(ctx context.Context, e knowledge.Entry) (knowledge.Result, error) {
	if err := e.Validate(); err != nil {
		return knowledge.Result{}, fmt.Errorf("invalid entry: %w", err)
	}

	identityKey := IdentityKey(s.namespace, e.IdentityHash)
	e.ID = uuid.New().String()

	claimed, err := s.rdb.SetNX(ctx, identityKey, e.ID, 0).Result()
	if err != nil {
		return knowledge.Result{}, fmt.Errorf("failed to claim identity: %w", err)
	}
	if !claimed {
		return s.duplicate(ctx, identityKey)
	}

	hash, err := EntryToHash(e)
	if err != nil {
		s.releaseIdentity(ctx, identityKey)
		return knowledge.Result{}, fmt.Errorf("failed to serialize entry: %w", err)
	}

	z := redis.Z{Score: TimestampScore(e.Timestamp), Member: e.ID}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, EntryKey(s.namespace, e.ID), hash)
		pipe.ZAdd(ctx, AllIndexKey(s.namespace), z)
		pipe.ZAdd(ctx, KindIndexKey(s.namespace, e.Kind), z)
		for _, tag := range e.Tags {
			pipe.ZAdd(ctx, TagIndexKey(s.namespace, tag), z)
		}
		return nil
	})
	if err != nil {
		s.releaseIdentity(ctx, identityKey)
		return knowledge.Result{}, fmt.Errorf("failed to write entry to Redis: %w", err)
	}

	s.publish(ctx, e)
	return knowledge.Result{ID: e.ID, Status: knowledge.StatusStored}, nil
}

func (s *Store) duplicate(ctx context.Context, identityKey string) (knowledge.Result, error) {
	id, err := s.rdb.Get(ctx, identityKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// The first writer failed and released its claim.
			return knowledge.Result{}, fmt.Errorf("identity claim released concurrently, retry the write")
		}
		return knowledge.Result{}, fmt.Errorf("failed to resolve duplicate: %w", err)
	}
	if err := s.rdb.Incr(ctx, DuplicatesKey(s.namespace)).Err(); err != nil {
		s.logger.Warn("failed to count duplicate", "error", err)
	}
	return knowledge.Result{ID: id, Status: knowledge.StatusDuplicate}, nil
}

func (s *Store) releaseIdentity(ctx context.Context, identityKey string) {
	if err := s.rdb.Del(context.WithoutCancel(ctx), identityKey).Err(); err != nil {
		s.logger.Error("failed to release identity claim", "key", identityKey, "error", err)
	}
}

func (s *Store) publish(ctx context.Context, e knowledge.Entry) {
	raw, err := knowledge.ToRawEntry(e)
	if err != nil {
		s.logger.Warn("failed to encode entry event", "id", e.ID, "error", err)
		return
	}
	payload, err := json.Marshal(raw)
	if err != nil {
		s.logger.Warn("failed to encode entry event", "id", e.ID, "error", err)
		return
	}
	if err := s.rdb.Publish(ctx, EntryEventsChannel(s.namespace), payload).Err(); err != nil {
		s.logger.Warn("failed to publish entry event", "id", e.ID, "error", err)
	}
}

// Get retrieves an entry by id. Returns redis.Nil if it does not exist.
func (s *Store) Get(ctx context.Context, id string) (knowledge.Entry, error) {
	hash, err := s.rdb.HGetAll(ctx, EntryKey(s.namespace, id)).Result()
	if err != nil {
		return knowledge.Entry{}, fmt.Errorf("failed to read entry from Redis: %w", err)
	}
	if len(hash) == 0 {
		return knowledge.Entry{}, redis.Nil
	}
	return HashToEntry(hash)
}

// Stats returns store-wide counters.
func (s *Store) Stats(ctx context.Context) (knowledge.Stats, error) {
	kinds := []knowledge.Kind{knowledge.KindSemantic, knowledge.KindEpisodic, knowledge.KindProcedural}

	var (
		total   *redis.IntCmd
		byKind  = make([]*redis.IntCmd, len(kinds))
		dupsCmd *redis.StringCmd
	)
	_, err := s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		total = pipe.ZCard(ctx, AllIndexKey(s.namespace))
		for i, k := range kinds {
			byKind[i] = pipe.ZCard(ctx, KindIndexKey(s.namespace, k))
		}
		dupsCmd = pipe.Get(ctx, DuplicatesKey(s.namespace))
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return knowledge.Stats{}, fmt.Errorf("failed to read stats: %w", err)
	}

	stats := knowledge.Stats{
		Namespace:    s.namespace,
		TotalEntries: total.Val(),
		ByKind:       make(map[knowledge.Kind]int64, len(kinds)),
	}
	for i, k := range kinds {
		stats.ByKind[k] = byKind[i].Val()
	}
	if dups, err := dupsCmd.Int64(); err == nil {
		stats.DuplicatesRejected = dups
	}
	return stats, nil
}

// Subscription is an active Pub/Sub subscription to entry events.
// Caller must call Close() when done.
type Subscription struct {
	events <-chan knowledge.Entry
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Events returns the channel of newly stored entries. It is closed when the
// subscription is closed or its context is cancelled.
func (s *Subscription) Events() <-chan knowledge.Entry {
	return s.events
}

// Errors returns the channel of non-fatal decode errors. Offending messages
// are skipped.
func (s *Subscription) Errors() <-chan error {
	return s.errors
}

// Close stops the subscription. Implements io.Closer. Safe to call multiple
// times.
func (s *Subscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// SubscribeEntryEvents subscribes to newly stored entries in this namespace.
// Delivery is at-most-once: a slow subscriber may miss events.
func (s *Store) SubscribeEntryEvents(ctx context.Context) (*Subscription, error) {
	pubsub := s.rdb.Subscribe(ctx, EntryEventsChannel(s.namespace))

	// Wait for the subscription to be confirmed so no event published after
	// this call returns is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to entry events: %w", err)
	}

	eventsChan := make(chan knowledge.Entry, 10)
	errorsChan := make(chan error, 10)
	subCtx, cancelFunc := context.WithCancel(ctx)

	go func() {
		defer close(eventsChan)
		defer close(errorsChan)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				entry, err := decodeEvent(msg.Payload)
				if err != nil {
					select {
					case errorsChan <- err:
					case <-subCtx.Done():
						return
					}
					continue
				}

				select {
				case eventsChan <- entry:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return &Subscription{
		events: eventsChan,
		errors: errorsChan,
		cancel: cancelFunc,
	}, nil
}

func decodeEvent(payload string) (knowledge.Entry, error) {
	var raw knowledge.RawEntry
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return knowledge.Entry{}, fmt.Errorf("failed to unmarshal entry event: %w", err)
	}
	e, err := raw.Entry()
	if err != nil {
		return knowledge.Entry{}, fmt.Errorf("invalid entry event: %w", err)
	}
	return e, nil
}

// IsNotFound reports whether err is a Redis "key not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, redis.Nil)
}
