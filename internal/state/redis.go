package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/agentup/agentup/internal/a2a/types"
)

// RedisStore persists conversation state in redis (or a valkey-compatible
// server), one hash per context ID plus a history list. It is the
// recommended backend for multi-instance deployments since state is
// shared rather than per-process.
type RedisStore struct {
	client         *redis.Client
	maxHistorySize int
	autoSummarize  bool
}

// NewRedisStore constructs a RedisStore against the server at addr.
func NewRedisStore(addr string, maxHistorySize int, autoSummarize bool) *RedisStore {
	return &RedisStore{
		client:         redis.NewClient(&redis.Options{Addr: addr}),
		maxHistorySize: maxHistorySize,
		autoSummarize:  autoSummarize,
	}
}

func historyKey(contextID string) string  { return fmt.Sprintf("agentup:history:%s", contextID) }
func varsKey(contextID string) string     { return fmt.Sprintf("agentup:vars:%s", contextID) }
func archivedKey(contextID string) string { return fmt.Sprintf("agentup:archived:%s", contextID) }

// activityKey is a sorted set mapping every known context ID to the unix
// timestamp of its last touch, letting CleanupOldContexts find stale
// contexts with ZRangeByScore instead of an expensive KEYS scan.
const activityKey = "agentup:last_activity"

func (s *RedisStore) touch(ctx context.Context, contextID string) {
	s.client.ZAdd(ctx, activityKey, redis.Z{Score: float64(time.Now().Unix()), Member: contextID})
}

type redisVariable struct {
	Value     json.RawMessage `json:"value"`
	Version   int             `json:"version"`
	ExpiresAt *time.Time      `json:"expires_at,omitempty"`
}

// AppendMessage implements Store.
func (s *RedisStore) AppendMessage(ctx context.Context, contextID string, msg *types.Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("state: marshal message: %w", err)
	}
	key := historyKey(contextID)
	if err := s.client.RPush(ctx, key, raw).Err(); err != nil {
		return fmt.Errorf("state: append message: %w", err)
	}
	if s.maxHistorySize > 0 {
		length, err := s.client.LLen(ctx, key).Result()
		if err == nil && length > int64(s.maxHistorySize) {
			overflow := length - int64(s.maxHistorySize)
			if s.autoSummarize {
				s.client.IncrBy(ctx, archivedKey(contextID), overflow)
			}
			s.client.LTrim(ctx, key, overflow, -1)
		}
	}
	s.touch(ctx, contextID)
	return nil
}

// History implements Store.
func (s *RedisStore) History(ctx context.Context, contextID string) ([]*types.Message, error) {
	raws, err := s.client.LRange(ctx, historyKey(contextID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("state: load history: %w", err)
	}
	out := make([]*types.Message, 0, len(raws))
	for _, raw := range raws {
		var msg types.Message
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			continue
		}
		out = append(out, &msg)
	}
	return out, nil
}

// SetVariable implements Store.
func (s *RedisStore) SetVariable(ctx context.Context, contextID, key string, value any, ttl time.Duration, expectedVersion *int) error {
	valueRaw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("state: marshal variable: %w", err)
	}

	current, err := s.getRawVariable(ctx, contextID, key)
	exists := err == nil
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if expectedVersion != nil {
		if !exists || current.Version != *expectedVersion {
			return ErrVersionConflict
		}
	}

	next := redisVariable{Value: valueRaw, Version: current.Version + 1}
	if ttl > 0 {
		expires := time.Now().Add(ttl)
		next.ExpiresAt = &expires
	}
	encoded, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("state: marshal variable envelope: %w", err)
	}
	if err := s.client.HSet(ctx, varsKey(contextID), key, encoded).Err(); err != nil {
		return err
	}
	s.touch(ctx, contextID)
	return nil
}

func (s *RedisStore) getRawVariable(ctx context.Context, contextID, key string) (redisVariable, error) {
	raw, err := s.client.HGet(ctx, varsKey(contextID), key).Result()
	if errors.Is(err, redis.Nil) {
		return redisVariable{}, ErrNotFound
	}
	if err != nil {
		return redisVariable{}, fmt.Errorf("state: read variable: %w", err)
	}
	var v redisVariable
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return redisVariable{}, fmt.Errorf("state: decode variable: %w", err)
	}
	if v.ExpiresAt != nil && time.Now().After(*v.ExpiresAt) {
		s.client.HDel(ctx, varsKey(contextID), key)
		return redisVariable{}, ErrNotFound
	}
	return v, nil
}

// GetVariable implements Store.
func (s *RedisStore) GetVariable(ctx context.Context, contextID, key string) (Variable, error) {
	raw, err := s.getRawVariable(ctx, contextID, key)
	if err != nil {
		return Variable{}, err
	}
	var value any
	if err := json.Unmarshal(raw.Value, &value); err != nil {
		return Variable{}, fmt.Errorf("state: decode variable value: %w", err)
	}
	return Variable{Value: value, Version: raw.Version, ExpiresAt: raw.ExpiresAt}, nil
}

// DeleteVariable implements Store.
func (s *RedisStore) DeleteVariable(ctx context.Context, contextID, key string) error {
	return s.client.HDel(ctx, varsKey(contextID), key).Err()
}

// Clear implements Store.
func (s *RedisStore) Clear(ctx context.Context, contextID string) error {
	if err := s.client.Del(ctx, historyKey(contextID), varsKey(contextID), archivedKey(contextID)).Err(); err != nil {
		return err
	}
	return s.client.ZRem(ctx, activityKey, contextID).Err()
}

// Close implements Store.
func (s *RedisStore) Close() error { return s.client.Close() }

// CleanupOldContexts implements Store.
func (s *RedisStore) CleanupOldContexts(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge).Unix()
	stale, err := s.client.ZRangeByScore(ctx, activityKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", cutoff),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("state: list stale contexts: %w", err)
	}
	removed := 0
	for _, contextID := range stale {
		if err := s.Clear(ctx, contextID); err != nil {
			continue
		}
		removed++
	}
	return removed, nil
}
