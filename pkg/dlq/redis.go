package dlq

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a Store shared across processes, kept in one Redis list.
// The list head holds the oldest message.
type RedisStore struct {
	client redis.UniversalClient
	opts   *options
}

// NewRedisStore creates a store over client.
func NewRedisStore(client redis.UniversalClient, opts ...Option) (*RedisStore, error) {
	if client == nil {
		return nil, ErrClientRequired
	}
	return &RedisStore{client: client, opts: newOptions(opts...)}, nil
}

// Enqueue appends m and trims the list to capacity in one MULTI/EXEC.
func (s *RedisStore) Enqueue(ctx context.Context, m *Message) error {
	if m == nil {
		return ErrNilMessage
	}
	prepare(m, s.opts.now())

	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("dlq: marshal message: %w", err)
	}

	pipe := s.client.TxPipeline()
	push := pipe.RPush(ctx, s.opts.key, data)
	pipe.LTrim(ctx, s.opts.key, int64(-s.opts.capacity), -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("dlq: enqueue: %w", err)
	}

	s.opts.metrics.DLQSize(min(push.Val(), int64(s.opts.capacity)))
	return nil
}

func (s *RedisStore) Peek(ctx context.Context, n int) ([]*Message, error) {
	if n <= 0 {
		return []*Message{}, nil
	}
	raw, err := s.client.LRange(ctx, s.opts.key, 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("dlq: peek: %w", err)
	}
	return decodeAll(raw)
}

func (s *RedisStore) Count(ctx context.Context) (int64, error) {
	n, err := s.client.LLen(ctx, s.opts.key).Result()
	if err != nil {
		return 0, fmt.Errorf("dlq: count: %w", err)
	}
	return n, nil
}

func (s *RedisStore) Stats(ctx context.Context) (*Stats, error) {
	raw, err := s.client.LRange(ctx, s.opts.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("dlq: stats: %w", err)
	}
	msgs, err := decodeAll(raw)
	if err != nil {
		return nil, err
	}
	return statsOf(msgs, s.opts.capacity), nil
}

// Purge reads the length and deletes the list in one MULTI/EXEC.
func (s *RedisStore) Purge(ctx context.Context) (int64, error) {
	pipe := s.client.TxPipeline()
	n := pipe.LLen(ctx, s.opts.key)
	pipe.Del(ctx, s.opts.key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("dlq: purge: %w", err)
	}

	s.opts.metrics.DLQSize(0)
	return n.Val(), nil
}

func decodeAll(raw []string) ([]*Message, error) {
	out := make([]*Message, 0, len(raw))
	for _, r := range raw {
		var m Message
		if err := json.Unmarshal([]byte(r), &m); err != nil {
			return nil, fmt.Errorf("dlq: decode message: %w", err)
		}
		out = append(out, &m)
	}
	return out, nil
}

var _ Store = (*RedisStore)(nil)
