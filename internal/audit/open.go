package audit

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/danmuck/swiftgate/internal/translog"
)

// Multi writes each entry to every sink and joins their failures. When
// some sinks fail, the ones that succeeded are remembered for that entry so
// a replay only reaches the sinks that still owe it.
type Multi struct {
	sinks []translog.Sink

	mu      sync.Mutex
	partial map[string][]bool
}

func NewMulti(sinks ...translog.Sink) *Multi {
	return &Multi{sinks: sinks, partial: make(map[string][]bool)}
}

func (m *Multi) Write(ctx context.Context, e translog.Entry) error {
	m.mu.Lock()
	done := m.partial[e.ID]
	m.mu.Unlock()
	if done == nil {
		done = make([]bool, len(m.sinks))
	}

	var errs []error
	for i, s := range m.sinks {
		if done[i] {
			continue
		}
		if err := s.Write(ctx, e); err != nil {
			errs = append(errs, err)
			continue
		}
		done[i] = true
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(errs) == 0 {
		delete(m.partial, e.ID)
		return nil
	}
	if _, ok := m.partial[e.ID]; ok || len(m.partial) < defaultSeenWindow {
		m.partial[e.ID] = done
	}
	return errors.Join(errs...)
}

type Config struct {
	FileDir      string
	SQLitePath   string
	RedisAddr    string
	RedisStream  string
	KafkaBrokers []string
	KafkaTopic   string
	FallbackPath string
}

// Bundle is the opened audit stack.
type Bundle struct {
	Sink     translog.Sink
	Fallback translog.Fallback
	closers  []io.Closer
}

func (b *Bundle) Close() error {
	var errs []error
	for _, c := range b.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Open builds every configured destination. No destinations yields a nil
// Sink, which keeps the log memory-only.
func Open(cfg Config) (*Bundle, error) {
	b := &Bundle{}
	var sinks []translog.Sink

	if dir := strings.TrimSpace(cfg.FileDir); dir != "" {
		fs, err := NewFileSink(dir)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, fs)
	}
	if path := strings.TrimSpace(cfg.SQLitePath); path != "" {
		ss, err := NewSQLiteSink(path)
		if err != nil {
			b.Close()
			return nil, err
		}
		sinks = append(sinks, ss)
		b.closers = append(b.closers, ss)
	}
	if addr := strings.TrimSpace(cfg.RedisAddr); addr != "" {
		rs := NewRedisSink(RedisOptions{Addr: addr, Stream: cfg.RedisStream})
		sinks = append(sinks, rs)
		b.closers = append(b.closers, rs)
	}
	if len(cfg.KafkaBrokers) > 0 && strings.TrimSpace(cfg.KafkaTopic) != "" {
		ks := NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic)
		sinks = append(sinks, ks)
		b.closers = append(b.closers, ks)
	}

	switch len(sinks) {
	case 0:
	case 1:
		b.Sink = sinks[0]
	default:
		b.Sink = NewMulti(sinks...)
	}
	if path := strings.TrimSpace(cfg.FallbackPath); path != "" && b.Sink != nil {
		buf, err := NewDiskBuffer(path)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.Fallback = buf
	}
	return b, nil
}
