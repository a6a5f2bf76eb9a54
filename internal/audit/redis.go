package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/danmuck/swiftgate/internal/translog"
	"github.com/redis/go-redis/v9"
)

// RedisSink appends entries to a Redis stream. A SETNX marker per id makes
// replays no-ops.
type RedisSink struct {
	client    *redis.Client
	stream    string
	markerTTL time.Duration
}

type RedisOptions struct {
	Addr      string
	Password  string
	DB        int
	Stream    string
	MarkerTTL time.Duration
}

func NewRedisSink(opts RedisOptions) *RedisSink {
	if opts.Stream == "" {
		opts.Stream = "swiftgate:transmissions"
	}
	if opts.MarkerTTL <= 0 {
		opts.MarkerTTL = 7 * 24 * time.Hour
	}
	return &RedisSink{
		client: redis.NewClient(&redis.Options{
			Addr:     opts.Addr,
			Password: opts.Password,
			DB:       opts.DB,
		}),
		stream:    opts.Stream,
		markerTTL: opts.MarkerTTL,
	}
}

func (s *RedisSink) markerKey(id string) string {
	return s.stream + ":seen:" + id
}

func (s *RedisSink) Write(ctx context.Context, e translog.Entry) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("audit: encode entry: %w", err)
	}
	fresh, err := s.client.SetNX(ctx, s.markerKey(e.ID), 1, s.markerTTL).Result()
	if err != nil {
		return fmt.Errorf("audit: redis marker: %w", err)
	}
	if !fresh {
		return nil
	}
	err = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]any{
			"id":     e.ID,
			"type":   string(e.Type),
			"status": e.Status,
			"entry":  string(payload),
		},
	}).Err()
	if err != nil {
		s.client.Del(context.WithoutCancel(ctx), s.markerKey(e.ID))
		return fmt.Errorf("audit: redis xadd: %w", err)
	}
	return nil
}

func (s *RedisSink) Close() error {
	return s.client.Close()
}
