package translog

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/swiftgate/internal/protocol/message"
	"github.com/danmuck/swiftgate/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

const (
	DefaultCapacity  = 1000
	DefaultQueueSize = 4096
	DefaultListLimit = 100
)

var ErrClosed = errors.New("translog: log closed")

// Sink is a durable append-only destination. Write must be idempotent on
// Entry.ID since parked entries are replayed.
type Sink interface {
	Write(ctx context.Context, e Entry) error
}

// Fallback parks entries the sink could not take and hands them back for
// replay. Drain keeps every entry for which fn returns an error.
type Fallback interface {
	Park(e Entry) error
	Drain(fn func(Entry) error) error
}

type Options struct {
	Capacity       int
	QueueSize      int
	Sink           Sink
	Fallback       Fallback
	WriteTimeout   time.Duration
	ReplayInterval time.Duration
	ReplayBackoff  session.BackoffConfig
	Now            func() time.Time
}

func DefaultOptions() Options {
	return Options{
		Capacity:       DefaultCapacity,
		QueueSize:      DefaultQueueSize,
		WriteTimeout:   5 * time.Second,
		ReplayInterval: 5 * time.Second,
		ReplayBackoff:  session.DefaultConfig().Backoff,
		Now:            time.Now,
	}
}

// Log is the bounded in-memory transmission history plus the asynchronous
// forwarder to the durable sink. Append never waits on the sink.
type Log struct {
	opts Options

	mu    sync.RWMutex
	ring  []Entry
	start int
	count int
	subs  map[int]chan Entry
	subID int

	queue   chan Entry
	parked  atomic.Uint64
	written atomic.Uint64
}

func New(opts Options) *Log {
	def := DefaultOptions()
	if opts.Capacity <= 0 {
		opts.Capacity = def.Capacity
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = def.QueueSize
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = def.WriteTimeout
	}
	if opts.ReplayInterval <= 0 {
		opts.ReplayInterval = def.ReplayInterval
	}
	if opts.ReplayBackoff.InitialDelay <= 0 {
		opts.ReplayBackoff = def.ReplayBackoff
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	l := &Log{
		opts: opts,
		ring: make([]Entry, opts.Capacity),
		subs: make(map[int]chan Entry),
	}
	if opts.Sink != nil {
		l.queue = make(chan Entry, opts.QueueSize)
	}
	return l
}

// Append stamps id and timestamp when absent, stores the entry in the ring
// and schedules it for the durable sink.
func (l *Log) Append(e Entry) Entry {
	now := l.opts.Now()
	if e.ID == "" {
		e.ID = message.NewMessageID(now)
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = now.UTC()
	}

	l.mu.Lock()
	size := len(l.ring)
	if l.count < size {
		l.ring[(l.start+l.count)%size] = e
		l.count++
	} else {
		l.ring[l.start] = e
		l.start = (l.start + 1) % size
	}
	for _, ch := range l.subs {
		select {
		case ch <- e.clone():
		default:
		}
	}
	l.mu.Unlock()

	if l.queue != nil {
		select {
		case l.queue <- e.clone():
		default:
			l.park(e, errors.New("forward queue full"))
		}
	}
	return e
}

// Run forwards queued entries to the sink and replays parked ones until ctx
// ends. Without a sink it just waits.
func (l *Log) Run(ctx context.Context) error {
	if l.queue == nil {
		<-ctx.Done()
		return nil
	}
	rng := rand.New(rand.NewSource(l.opts.Now().UnixNano()))
	failures := 0
	timer := time.NewTimer(l.opts.ReplayInterval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			l.drainQueue()
			return nil
		case e := <-l.queue:
			l.forward(ctx, e)
		case <-timer.C:
			next := l.opts.ReplayInterval
			if err := l.replay(ctx); err != nil {
				failures++
				next = session.NextBackoffDelay(l.opts.ReplayBackoff, failures, rng)
				if next < l.opts.ReplayInterval {
					next = l.opts.ReplayInterval
				}
			} else {
				failures = 0
			}
			timer.Reset(next)
		}
	}
}

func (l *Log) forward(ctx context.Context, e Entry) {
	wctx, cancel := context.WithTimeout(ctx, l.opts.WriteTimeout)
	defer cancel()
	if err := l.opts.Sink.Write(wctx, e); err != nil {
		l.park(e, err)
		return
	}
	l.written.Add(1)
}

// drainQueue parks whatever is still queued at shutdown.
func (l *Log) drainQueue() {
	for {
		select {
		case e := <-l.queue:
			l.park(e, ErrClosed)
		default:
			return
		}
	}
}

func (l *Log) park(e Entry, cause error) {
	l.markPending(e.ID, true)
	l.parked.Add(1)
	if l.opts.Fallback == nil {
		log.Warn().Str("entry", e.ID).Err(cause).Msg("translog: sink write failed, no fallback configured")
		return
	}
	e.PendingSync = true
	if err := l.opts.Fallback.Park(e); err != nil {
		log.Error().Str("entry", e.ID).Err(err).Msg("translog: fallback park failed")
		return
	}
	log.Warn().Str("entry", e.ID).Err(cause).Msg("translog: entry parked for replay")
}

func (l *Log) replay(ctx context.Context) error {
	if l.opts.Fallback == nil || l.opts.Sink == nil {
		return nil
	}
	var lastErr error
	err := l.opts.Fallback.Drain(func(e Entry) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		e.PendingSync = false
		wctx, cancel := context.WithTimeout(ctx, l.opts.WriteTimeout)
		defer cancel()
		if err := l.opts.Sink.Write(wctx, e); err != nil {
			lastErr = err
			return err
		}
		l.written.Add(1)
		l.markPending(e.ID, false)
		return nil
	})
	if err != nil {
		return err
	}
	return lastErr
}

func (l *Log) markPending(id string, pending bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	size := len(l.ring)
	for i := 0; i < l.count; i++ {
		idx := (l.start + i) % size
		if l.ring[idx].ID == id {
			l.ring[idx].PendingSync = pending
			return
		}
	}
}

// Stats reports forwarding counters.
type Stats struct {
	Buffered int    `json:"buffered"`
	Capacity int    `json:"capacity"`
	Written  uint64 `json:"written"`
	Parked   uint64 `json:"parked"`
}

func (l *Log) Stats() Stats {
	l.mu.RLock()
	n := l.count
	l.mu.RUnlock()
	return Stats{
		Buffered: n,
		Capacity: len(l.ring),
		Written:  l.written.Load(),
		Parked:   l.parked.Load(),
	}
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.count
}

// Snapshot copies the ring oldest first.
func (l *Log) Snapshot() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, 0, l.count)
	size := len(l.ring)
	for i := 0; i < l.count; i++ {
		out = append(out, l.ring[(l.start+i)%size].clone())
	}
	return out
}

// Since returns entries stamped at or after t, oldest first.
func (l *Log) Since(t time.Time) []Entry {
	all := l.Snapshot()
	out := all[:0]
	for _, e := range all {
		if !e.Timestamp.Before(t) {
			out = append(out, e)
		}
	}
	return out
}

type Query struct {
	Type   EntryType
	Limit  int
	Offset int
}

type Page struct {
	Logs   []Entry `json:"logs"`
	Total  int     `json:"total"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
}

// List pages through the ring newest first, optionally filtered by type.
func (l *Log) List(q Query) Page {
	if q.Limit <= 0 {
		q.Limit = DefaultListLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	all := l.Snapshot()
	filtered := make([]Entry, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		if q.Type != "" && all[i].Type != q.Type {
			continue
		}
		filtered = append(filtered, all[i])
	}
	page := Page{Logs: []Entry{}, Total: len(filtered), Limit: q.Limit, Offset: q.Offset}
	if q.Offset >= len(filtered) {
		return page
	}
	end := q.Offset + q.Limit
	if end > len(filtered) {
		end = len(filtered)
	}
	page.Logs = filtered[q.Offset:end]
	return page
}

// Subscribe streams entries appended after the call. Slow subscribers miss
// entries rather than stall Append. cancel must be called to release it.
func (l *Log) Subscribe(buffer int) (<-chan Entry, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Entry, buffer)
	l.mu.Lock()
	id := l.subID
	l.subID++
	l.subs[id] = ch
	l.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.subs, id)
			l.mu.Unlock()
			close(ch)
		})
	}
}
