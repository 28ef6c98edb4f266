package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix = "dispatch:notif"

	// redisRetention bounds how long resolved records linger. The
	// registry is ephemeral state; a day covers any UI that still
	// wants to render the outcome.
	redisRetention = 24 * time.Hour
)

// RedisRegistry stores candidate-notification records in Redis with a
// retention TTL, for deployments where multiple engine instances share
// the dedupe/countdown state. The caller owns the client lifecycle.
type RedisRegistry struct {
	client redis.Cmdable
}

func NewRedisRegistry(client redis.Cmdable) *RedisRegistry {
	return &RedisRegistry{client: client}
}

// Ping verifies the Redis connection is alive.
func (r *RedisRegistry) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func redisKey(job JobRef, recipient string) string {
	return fmt.Sprintf("%s:%s:%s:%s", redisKeyPrefix, job.Kind, job.ID, recipient)
}

func jobPattern(job JobRef) string {
	return fmt.Sprintf("%s:%s:%s:*", redisKeyPrefix, job.Kind, job.ID)
}

type redisRecord struct {
	Recipient   string    `json:"recipient"`
	SentAt      time.Time `json:"sent_at"`
	Deadline    time.Time `json:"deadline,omitempty"`
	Response    Response  `json:"response,omitempty"`
	RespondedAt time.Time `json:"responded_at,omitempty"`
}

func (rr redisRecord) pending() bool { return rr.Response == "" }

func (r *RedisRegistry) MarkSent(ctx context.Context, job JobRef, recipient string, sentAt time.Time, ttl time.Duration) (bool, error) {
	rec := redisRecord{Recipient: recipient, SentAt: sentAt}
	if ttl > 0 {
		rec.Deadline = sentAt.Add(ttl)
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("marshal record: %w", err)
	}

	ok, err := r.client.SetNX(ctx, redisKey(job, recipient), payload, redisRetention).Result()
	if err != nil {
		return false, fmt.Errorf("setnx record: %w", err)
	}
	return ok, nil
}

func (r *RedisRegistry) MarkResponse(ctx context.Context, job JobRef, recipient string, resp Response, at time.Time) error {
	key := redisKey(job, recipient)
	rec, err := r.load(ctx, key)
	if err != nil || rec == nil || !rec.pending() {
		return err
	}
	rec.Response = resp
	rec.RespondedAt = at
	return r.store(ctx, key, *rec)
}

func (r *RedisRegistry) ExpireOthers(ctx context.Context, job JobRef, winner string, at time.Time) (int, error) {
	expired := 0
	err := r.scan(ctx, jobPattern(job), func(key string, rec *redisRecord) error {
		if rec.Recipient == winner || !rec.pending() {
			return nil
		}
		rec.Response = ResponseExpired
		rec.RespondedAt = at
		expired++
		return r.store(ctx, key, *rec)
	})
	return expired, err
}

func (r *RedisRegistry) ExpireDue(ctx context.Context, now time.Time) (int, error) {
	expired := 0
	err := r.scan(ctx, redisKeyPrefix+":*", func(key string, rec *redisRecord) error {
		if !rec.pending() || rec.Deadline.IsZero() || now.Before(rec.Deadline) {
			return nil
		}
		rec.Response = ResponseExpired
		rec.RespondedAt = now
		expired++
		return r.store(ctx, key, *rec)
	})
	return expired, err
}

func (r *RedisRegistry) Pending(ctx context.Context, job JobRef) ([]string, error) {
	var pending []string
	err := r.scan(ctx, jobPattern(job), func(_ string, rec *redisRecord) error {
		if rec.pending() {
			pending = append(pending, rec.Recipient)
		}
		return nil
	})
	return pending, err
}

func (r *RedisRegistry) load(ctx context.Context, key string) (*redisRecord, error) {
	raw, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	var rec redisRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	return &rec, nil
}

func (r *RedisRegistry) store(ctx context.Context, key string, rec redisRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	if err := r.client.Set(ctx, key, payload, redis.KeepTTL).Err(); err != nil {
		return fmt.Errorf("set record: %w", err)
	}
	return nil
}

func (r *RedisRegistry) scan(ctx context.Context, pattern string, fn func(key string, rec *redisRecord) error) error {
	iter := r.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		rec, err := r.load(ctx, key)
		if err != nil {
			return err
		}
		if rec == nil {
			continue
		}
		if err := fn(key, rec); err != nil {
			return err
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan %s: %w", pattern, err)
	}
	return nil
}
