package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const defaultRedisPrefix = "goalnudge:registrations"

// RedisRegistrar keeps pending registrations in Redis: a hash of id -> JSON
// registration plus a sorted set recording creation order.
type RedisRegistrar struct {
	client *redis.Client
	prefix string
}

// NewRedisRegistrar connects to the Redis server at redisURL.
func NewRedisRegistrar(ctx context.Context, redisURL string) (*RedisRegistrar, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisRegistrarFromClient(client, defaultRedisPrefix), nil
}

// NewRedisRegistrarFromClient wraps an existing client. prefix namespaces the keys.
func NewRedisRegistrarFromClient(client *redis.Client, prefix string) *RedisRegistrar {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisRegistrar{client: client, prefix: prefix}
}

func (r *RedisRegistrar) hashKey() string  { return r.prefix }
func (r *RedisRegistrar) orderKey() string { return r.prefix + ":order" }

func (r *RedisRegistrar) Register(ctx context.Context, trigger Trigger, content Content) (string, error) {
	p := Pending{ID: uuid.NewString(), Trigger: trigger, Content: content}
	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode registration: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, r.hashKey(), p.ID, raw)
		pipe.ZAdd(ctx, r.orderKey(), &redis.Z{Score: float64(time.Now().UnixNano()), Member: p.ID})
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("store registration: %w", err)
	}
	return p.ID, nil
}

func (r *RedisRegistrar) ListPending(ctx context.Context) ([]Pending, error) {
	ids, err := r.client.ZRange(ctx, r.orderKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list registration ids: %w", err)
	}
	if len(ids) == 0 {
		return []Pending{}, nil
	}

	values, err := r.client.HMGet(ctx, r.hashKey(), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("load registrations: %w", err)
	}

	out := make([]Pending, 0, len(values))
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			// Order entry without a body: left behind by an interrupted cancel.
			r.client.ZRem(ctx, r.orderKey(), ids[i])
			continue
		}
		var p Pending
		if err := json.Unmarshal([]byte(s), &p); err != nil {
			return nil, fmt.Errorf("decode registration %s: %w", ids[i], err)
		}
		out = append(out, p)
	}
	return out, nil
}

func (r *RedisRegistrar) Cancel(ctx context.Context, id string) error {
	var del *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.HDel(ctx, r.hashKey(), id)
		pipe.ZRem(ctx, r.orderKey(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("cancel registration %s: %w", id, err)
	}
	if del.Val() == 0 {
		return ErrRegistrationNotFound
	}
	return nil
}

func (r *RedisRegistrar) CancelAll(ctx context.Context) error {
	return r.client.Del(ctx, r.hashKey(), r.orderKey()).Err()
}

// Close releases the Redis connection.
func (r *RedisRegistrar) Close() error {
	return r.client.Close()
}
