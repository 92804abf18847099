package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store keeps one-time code records with a time to live. Saving a record
// replaces the user's previous record for the same purpose.
type Store interface {
	Save(ctx context.Context, rec Record, ttl time.Duration) error
	Get(ctx context.Context, id string) (*Record, error)
	// Attempt atomically counts one verification attempt and returns the
	// running total.
	Attempt(ctx context.Context, id string) (int, error)
	Delete(ctx context.Context, rec Record) error
}

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func recordKey(id string) string {
	return "otp:" + id
}

func attemptsKey(id string) string {
	return "otp:" + id + ":attempts"
}

func indexKey(userID, purpose string) string {
	return fmt.Sprintf("otp:user:%s:%s", userID, purpose)
}

func (s *RedisStore) Save(ctx context.Context, rec Record, ttl time.Duration) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode otp record: %w", err)
	}

	idx := indexKey(rec.UserID, rec.Purpose)
	prev, err := s.client.Get(ctx, idx).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("read otp index: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if prev != "" && prev != rec.ID {
			pipe.Del(ctx, recordKey(prev), attemptsKey(prev))
		}
		pipe.Set(ctx, recordKey(rec.ID), data, ttl)
		pipe.Set(ctx, idx, rec.ID, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save otp record: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Record, error) {
	data, err := s.client.Get(ctx, recordKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrOTPNotFound
		}
		return nil, fmt.Errorf("load otp record: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode otp record: %w", err)
	}
	attempts, err := s.client.Get(ctx, attemptsKey(id)).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("load otp attempts: %w", err)
	}
	rec.Attempts = attempts
	return &rec, nil
}

// attemptScript bumps the attempt counter only while the record exists, and
// gives the counter the record's remaining time to live.
var attemptScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return -1
end
local n = redis.call("INCR", KEYS[2])
local ttl = redis.call("PTTL", KEYS[1])
if ttl > 0 then
	redis.call("PEXPIRE", KEYS[2], ttl)
end
return n
`)

func (s *RedisStore) Attempt(ctx context.Context, id string) (int, error) {
	n, err := attemptScript.Run(ctx, s.client, []string{recordKey(id), attemptsKey(id)}).Int()
	if err != nil {
		return 0, fmt.Errorf("count otp attempt: %w", err)
	}
	if n < 0 {
		return 0, ErrOTPNotFound
	}
	return n, nil
}

func (s *RedisStore) Delete(ctx context.Context, rec Record) error {
	idx := indexKey(rec.UserID, rec.Purpose)
	current, err := s.client.Get(ctx, idx).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("read otp index: %w", err)
	}

	keys := []string{recordKey(rec.ID), attemptsKey(rec.ID)}
	if current == rec.ID {
		keys = append(keys, idx)
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("delete otp record: %w", err)
	}
	return nil
}
