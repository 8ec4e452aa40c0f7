package audit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"loginguard/internal/domain"
)

const DefaultStream = "loginguard:security"

type streamAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// RedisStreamSink appends events to a capped redis stream so other services
// can follow them with XREAD.
type RedisStreamSink struct {
	client streamAdder
	stream string
	maxLen int64
}

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Stream   string
	MaxLen   int64
}

func NewRedisStreamSink(opts RedisOptions) (*RedisStreamSink, *redis.Client) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return newRedisStreamSink(client, opts.Stream, opts.MaxLen), client
}

func newRedisStreamSink(client streamAdder, stream string, maxLen int64) *RedisStreamSink {
	if stream == "" {
		stream = DefaultStream
	}
	if maxLen <= 0 {
		maxLen = 100000
	}
	return &RedisStreamSink{client: client, stream: stream, maxLen: maxLen}
}

func (s *RedisStreamSink) RecordSecurityEvent(ctx context.Context, ev domain.SecurityEvent) error {
	values := map[string]any{
		"id":          ev.ID,
		"kind":        string(ev.Kind),
		"username":    ev.Username,
		"reason":      ev.Reason,
		"occurred_at": strconv.FormatInt(ev.OccurredAt.UnixMilli(), 10),
	}
	if ev.IP != "" {
		values["ip"] = ev.IP
	}
	if ev.UserAgent != "" {
		values["user_agent"] = ev.UserAgent
	}
	if ev.LockedUntil != nil {
		values["locked_until"] = ev.LockedUntil.UTC().Format(time.RFC3339Nano)
	}

	err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: values,
	}).Err()
	if err != nil {
		return fmt.Errorf("redis xadd %s: %w", s.stream, err)
	}
	return nil
}
