// Package journal persists closed trades and open-position snapshots.
// The snapshot store keeps the current open positions in Redis so an
// operator can see what was open across a restart. When Redis is
// unavailable it falls back to an in-memory cache so monitoring continues
// without interruption.
package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"levels-trading-bot/internal/position"
)

const (
	// openPositionsKey holds the JSON snapshot of all open positions
	openPositionsKey = "levels:positions:open"

	// snapshotTTL bounds how long a stale snapshot survives
	snapshotTTL = 7 * 24 * time.Hour
)

// RedisSnapshotStore stores open-position snapshots in Redis with an
// in-memory fallback. A nil client means memory-only mode.
type RedisSnapshotStore struct {
	client         *redis.Client
	logger         zerolog.Logger
	cacheMu        sync.RWMutex
	cache          []position.Position
	redisAvailable atomic.Bool
}

// NewRedisSnapshotStore creates the store and probes Redis availability
func NewRedisSnapshotStore(client *redis.Client, logger zerolog.Logger) *RedisSnapshotStore {
	s := &RedisSnapshotStore{client: client, logger: logger}

	if client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn().Err(err).Msg("redis unavailable at startup, using in-memory snapshots")
		} else {
			logger.Info().Msg("snapshot store connected to redis")
			s.redisAvailable.Store(true)
		}
	} else {
		logger.Info().Msg("no redis configured, snapshots are in-memory only")
	}
	return s
}

// SaveOpenPositions replaces the stored snapshot
func (s *RedisSnapshotStore) SaveOpenPositions(ctx context.Context, positions []position.Position) error {
	s.cacheMu.Lock()
	s.cache = make([]position.Position, len(positions))
	copy(s.cache, positions)
	s.cacheMu.Unlock()

	if s.client == nil {
		return nil
	}

	data, err := json.Marshal(positions)
	if err != nil {
		return fmt.Errorf("marshaling position snapshot: %w", err)
	}
	if err := s.client.Set(ctx, openPositionsKey, data, snapshotTTL).Err(); err != nil {
		if s.redisAvailable.Swap(false) {
			s.logger.Warn().Err(err).Msg("redis write failed, falling back to in-memory snapshots")
		}
		return nil
	}
	if !s.redisAvailable.Swap(true) {
		s.logger.Info().Msg("redis recovered, snapshots persisted again")
	}
	return nil
}

// LoadOpenPositions returns the last stored snapshot, preferring Redis
func (s *RedisSnapshotStore) LoadOpenPositions(ctx context.Context) ([]position.Position, error) {
	if s.client != nil && s.redisAvailable.Load() {
		data, err := s.client.Get(ctx, openPositionsKey).Bytes()
		switch {
		case err == redis.Nil:
			return nil, nil
		case err != nil:
			s.logger.Warn().Err(err).Msg("redis read failed, serving in-memory snapshot")
		default:
			var positions []position.Position
			if err := json.Unmarshal(data, &positions); err != nil {
				return nil, fmt.Errorf("parsing position snapshot: %w", err)
			}
			return positions, nil
		}
	}

	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	out := make([]position.Position, len(s.cache))
	copy(out, s.cache)
	return out, nil
}
