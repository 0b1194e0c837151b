// Package redisstore keeps player snapshots in Redis so several explore
// processes can share one player's progress.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/fog-of-explore/explore/internal/domain"
)

// KeyPrefix namespaces every key written by the store.
const KeyPrefix = "explore:player:"

// historyLimit caps the visit list kept per player.
const historyLimit = 500

// Client is the subset of *redis.Client the store uses.
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	LTrim(ctx context.Context, key string, start, stop int64) *redis.StatusCmd
	LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
}

// Options configures the connection.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// Open returns a client for opts, or nil when no address is configured.
func Open(opts Options) *redis.Client {
	if opts.Addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{Addr: opts.Addr, Password: opts.Password, DB: opts.DB})
}

// Store is the domain.Persistence for one player.
type Store struct {
	rc       Client
	playerID string
	ttl      time.Duration // 0 keeps keys forever
}

// New creates a store. ttl of 0 disables expiry.
func New(rc Client, playerID string, ttl time.Duration) *Store {
	return &Store{rc: rc, playerID: playerID, ttl: ttl}
}

func (s *Store) stateKey() string   { return KeyPrefix + s.playerID }
func (s *Store) historyKey() string { return KeyPrefix + s.playerID + ":visits" }

// Load returns the stored state, or nil when the key does not exist.
func (s *Store) Load(ctx context.Context) (*domain.PlayerState, error) {
	raw, err := s.rc.Get(ctx, s.stateKey()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "redis: load player state")
	}
	var snap domain.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		zap.L().Warn("redis: malformed snapshot", zap.String("key", s.stateKey()), zap.Error(err))
		return nil, eris.Wrap(domain.ErrCorruptState, "redis: decode snapshot")
	}
	st := snap.State()
	st.Level = snap.UserLevel
	return &st, nil
}

// Save overwrites the player's snapshot.
func (s *Store) Save(ctx context.Context, state domain.PlayerState) error {
	raw, err := json.Marshal(state.ToSnapshot())
	if err != nil {
		return eris.Wrap(err, "redis: encode snapshot")
	}
	if err := s.rc.Set(ctx, s.stateKey(), raw, s.ttl).Err(); err != nil {
		return eris.Wrap(err, "redis: save player state")
	}
	return nil
}

// Reset deletes the snapshot and visit list.
func (s *Store) Reset(ctx context.Context) error {
	return eris.Wrap(s.rc.Del(ctx, s.stateKey(), s.historyKey()).Err(), "redis: reset")
}

// RecordVisits pushes visits onto the player's capped history list.
func (s *Store) RecordVisits(ctx context.Context, events []domain.VisitEvent) error {
	if len(events) == 0 {
		return nil
	}
	values := make([]interface{}, 0, len(events))
	for _, ev := range events {
		raw, err := json.Marshal(ev)
		if err != nil {
			return eris.Wrap(err, "redis: encode visit")
		}
		values = append(values, raw)
	}
	if err := s.rc.LPush(ctx, s.historyKey(), values...).Err(); err != nil {
		return eris.Wrap(err, "redis: record visits")
	}
	if err := s.rc.LTrim(ctx, s.historyKey(), 0, historyLimit-1).Err(); err != nil {
		return eris.Wrap(err, "redis: trim visits")
	}
	return nil
}

// RecentVisits returns up to limit visits, newest first. Entries that fail to
// decode are skipped.
func (s *Store) RecentVisits(ctx context.Context, limit int) ([]domain.VisitEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	items, err := s.rc.LRange(ctx, s.historyKey(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, eris.Wrap(err, "redis: read visits")
	}
	out := make([]domain.VisitEvent, 0, len(items))
	for _, item := range items {
		var ev domain.VisitEvent
		if err := json.Unmarshal([]byte(item), &ev); err != nil {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}
