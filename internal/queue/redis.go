package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/elonfeng/marketnews/internal/config"
	"github.com/redis/go-redis/v9"
)

// Redis is a list-backed queue: LPUSH to enqueue, BRPOP to consume, and a
// second list for dead letters.
type Redis struct {
	client      *redis.Client
	key         string
	deadKey     string
	pollTimeout time.Duration
}

// NewRedis connects to cfg.RedisURL and pings it.
func NewRedis(ctx context.Context, cfg config.QueueConfig) (*Redis, error) {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		opt = &redis.Options{Addr: cfg.RedisURL}
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Redis{
		client:      client,
		key:         cfg.Key,
		deadKey:     cfg.DeadLetterKey,
		pollTimeout: cfg.ParsePollTimeout(),
	}, nil
}

func (r *Redis) Enqueue(ctx context.Context, m Message) error {
	body, err := Encode(m)
	if err != nil {
		return err
	}
	if err := r.client.LPush(ctx, r.key, body).Err(); err != nil {
		return fmt.Errorf("enqueue item %d: %w", m.ItemID, err)
	}
	return nil
}

func (r *Redis) Dequeue(ctx context.Context) ([]byte, error) {
	res, err := r.client.BRPop(ctx, r.pollTimeout, r.key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue: %w", err)
	}
	return []byte(res[1]), nil
}

type deadLetterEnvelope struct {
	Body     string    `json:"body"`
	Reason   string    `json:"reason"`
	FailedAt time.Time `json:"failed_at"`
}

func (r *Redis) DeadLetter(ctx context.Context, body []byte, reason string) error {
	env, _ := json.Marshal(deadLetterEnvelope{Body: string(body), Reason: reason, FailedAt: time.Now().UTC()})
	if err := r.client.LPush(ctx, r.deadKey, env).Err(); err != nil {
		return fmt.Errorf("dead-letter: %w", err)
	}
	return nil
}

func (r *Redis) Len(ctx context.Context) (int64, error) {
	return r.client.LLen(ctx, r.key).Result()
}

func (r *Redis) Close() error {
	return r.client.Close()
}
