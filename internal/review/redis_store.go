package review

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultKeyPrefix = "sovereign:review:"
	maxDecideRetries = 5
)

// RedisStore keeps approvals in Redis so several processes can share one
// review queue.
//
// Layout under the prefix:
//
//	item:<id>   JSON record
//	pending     set of PENDING ids
//	processed   sorted set of terminal ids scored by processedAt (unix ms)
//	archive     hash of archived id -> JSON record
type RedisStore struct {
	client *redis.Client
	prefix string
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithKeyPrefix namespaces all keys.
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.prefix = prefix }
}

// NewRedisStore creates a Redis-backed approval store. The client
// lifecycle is managed by the caller.
func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client, prefix: defaultKeyPrefix}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *RedisStore) itemKey(id string) string { return s.prefix + "item:" + id }
func (s *RedisStore) pendingKey() string       { return s.prefix + "pending" }
func (s *RedisStore) processedKey() string     { return s.prefix + "processed" }
func (s *RedisStore) archiveKey() string       { return s.prefix + "archive" }

func (s *RedisStore) Create(ctx context.Context, a *Approval) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal approval: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.itemKey(a.ID), data, 0)
		pipe.SAdd(ctx, s.pendingKey(), a.ID)
		return nil
	})
	return err
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Approval, error) {
	return s.get(ctx, s.client, id)
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisStore) get(ctx context.Context, c getter, id string) (*Approval, error) {
	raw, err := c.Get(ctx, s.itemKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var a Approval
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("decode approval %s: %w", id, err)
	}
	return &a, nil
}

func (s *RedisStore) ListPending(ctx context.Context) ([]*Approval, error) {
	ids, err := s.client.SMembers(ctx, s.pendingKey()).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.itemKey(id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	out := make([]*Approval, 0, len(vals))
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue // removed between SMEMBERS and MGET
		}
		var a Approval
		if err := json.Unmarshal([]byte(str), &a); err != nil {
			return nil, fmt.Errorf("decode approval: %w", err)
		}
		if a.Status == StatusPending {
			out = append(out, &a)
		}
	}
	return out, nil
}

// Decide applies the transition inside WATCH/MULTI so a concurrent decision
// on the same record aborts and is re-read as already processed.
func (s *RedisStore) Decide(ctx context.Context, id string, d Decision) (*Approval, error) {
	key := s.itemKey(id)
	var result *Approval

	txf := func(tx *redis.Tx) error {
		a, err := s.get(ctx, tx, id)
		if err != nil {
			return err
		}
		if a.Status != StatusPending {
			return ErrAlreadyProcessed
		}
		at := d.At
		a.Status = d.Status
		a.DecidedBy = d.DecidedBy
		a.Comments = d.Comments
		a.ProcessedAt = &at

		data, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("marshal approval: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.SRem(ctx, s.pendingKey(), id)
			pipe.ZAdd(ctx, s.processedKey(), redis.Z{Score: float64(at.UnixMilli()), Member: id})
			return nil
		})
		if err == nil {
			result = a
		}
		return err
	}

	for i := 0; i < maxDecideRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return result, nil
	}
	return nil, fmt.Errorf("decide approval %s: too much contention", id)
}

// ArchiveProcessedBefore moves terminal records into the archive hash.
// Records already archived are no longer in the processed index and are
// never revisited.
func (s *RedisStore) ArchiveProcessedBefore(ctx context.Context, cutoff time.Time) ([]*Approval, error) {
	ids, err := s.client.ZRangeByScore(ctx, s.processedKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoff.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, err
	}

	var out []*Approval
	for _, id := range ids {
		a, err := s.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			_ = s.client.ZRem(ctx, s.processedKey(), id).Err()
			continue
		}
		if err != nil {
			return out, err
		}
		data, err := json.Marshal(a)
		if err != nil {
			return out, fmt.Errorf("marshal approval: %w", err)
		}
		_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, s.archiveKey(), id, data)
			pipe.Del(ctx, s.itemKey(id))
			pipe.ZRem(ctx, s.processedKey(), id)
			return nil
		})
		if err != nil {
			return out, err
		}
		out = append(out, a)
	}
	return out, nil
}

// ArchivedCount returns the number of archived records.
func (s *RedisStore) ArchivedCount(ctx context.Context) (int64, error) {
	return s.client.HLen(ctx, s.archiveKey()).Result()
}
