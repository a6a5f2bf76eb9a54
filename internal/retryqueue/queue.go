package retryqueue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/swiftgate/internal/dispatch"
	"github.com/danmuck/swiftgate/internal/observability"
	"github.com/danmuck/swiftgate/internal/protocol/message"
	"github.com/danmuck/swiftgate/internal/protocol/session"
	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog/log"
)

type Status string

const (
	StatusQueued   Status = "QUEUED"
	StatusRetrying Status = "RETRYING"
	StatusSuccess  Status = "SUCCESS"
	StatusFailed   Status = "FAILED"
)

var (
	ErrNotFound      = errors.New("retryqueue: entry not found")
	ErrInFlight      = errors.New("retryqueue: entry is being retried")
	ErrNoDestination = errors.New("retryqueue: no destination configured")
)

// Entry is one pending outbound delivery.
type Entry struct {
	ID            string          `json:"id"`
	Message       message.Message `json:"message"`
	Host          string          `json:"host"`
	Port          int             `json:"port"`
	CreatedAt     time.Time       `json:"createdAt"`
	Attempts      int             `json:"attempts"`
	MaxAttempts   int             `json:"maxAttempts"`
	NextRetryAt   time.Time       `json:"nextRetryAt"`
	LastAttemptAt *time.Time      `json:"lastAttemptAt"`
	LastError     string          `json:"lastError,omitempty"`
	Status        Status          `json:"status"`
	FailedOver    bool            `json:"failedOver,omitempty"`
}

// Sender delivers one message and reports the reply.
type Sender interface {
	Send(ctx context.Context, host string, port int, msg message.Message, timeout time.Duration) (dispatch.Result, error)
}

// Failover offers an alternate destination once the primary is exhausted.
type Failover interface {
	Alternate(host string, port int) (string, int, bool)
}

type Options struct {
	Retry        session.RetryConfig
	ScanInterval time.Duration
	Workers      int
	SendTimeout  time.Duration
	DefaultHost  string
	DefaultPort  int
	Failover     Failover
	Now          func() time.Time
}

func DefaultOptions() Options {
	return Options{
		Retry:        session.DefaultRetryConfig(),
		ScanInterval: 5 * time.Second,
		Workers:      8,
		SendTimeout:  30 * time.Second,
		Now:          time.Now,
	}
}

// EnqueueOptions overrides the destination and attempt budget per entry.
type EnqueueOptions struct {
	Host        string
	Port        int
	MaxAttempts int
}

type job struct {
	ctx context.Context
	id  string
}

// Queue holds entries by id. The lock covers map access only; sends run
// on the worker pool.
type Queue struct {
	opts   Options
	sender Sender

	mu    sync.RWMutex
	items map[string]Entry

	pool     *ants.PoolWithFunc
	kick     chan struct{}
	inflight sync.WaitGroup
}

func New(sender Sender, opts Options) (*Queue, error) {
	def := DefaultOptions()
	if len(opts.Retry.Intervals) == 0 {
		opts.Retry.Intervals = def.Retry.Intervals
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry.MaxAttempts = def.Retry.MaxAttempts
	}
	if opts.ScanInterval <= 0 {
		opts.ScanInterval = def.ScanInterval
	}
	if opts.Workers <= 0 {
		opts.Workers = def.Workers
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = def.SendTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	q := &Queue{
		opts:   opts,
		sender: sender,
		items:  make(map[string]Entry),
		kick:   make(chan struct{}, 1),
	}
	pool, err := ants.NewPoolWithFunc(opts.Workers, func(arg any) {
		j := arg.(job)
		defer q.inflight.Done()
		q.attempt(j.ctx, j.id)
	}, ants.WithPanicHandler(func(p any) {
		log.Error().Interface("panic", p).Msg("retryqueue: worker panic")
	}))
	if err != nil {
		return nil, fmt.Errorf("retryqueue: worker pool: %w", err)
	}
	q.pool = pool
	return q, nil
}

// Enqueue adds msg for delivery as soon as the scheduler runs.
func (q *Queue) Enqueue(msg message.Message, eo EnqueueOptions) (Entry, error) {
	host := strings.TrimSpace(eo.Host)
	port := eo.Port
	if host == "" {
		host = q.opts.DefaultHost
	}
	if port <= 0 {
		port = q.opts.DefaultPort
	}
	if host == "" || port <= 0 {
		return Entry{}, ErrNoDestination
	}
	maxAttempts := eo.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = q.opts.Retry.MaxAttempts
	}
	now := q.opts.Now()
	e := Entry{
		ID:          "RQ" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:12]),
		Message:     msg,
		Host:        host,
		Port:        port,
		CreatedAt:   now.UTC(),
		MaxAttempts: maxAttempts,
		NextRetryAt: now.UTC(),
		Status:      StatusQueued,
	}
	q.mu.Lock()
	q.items[e.ID] = e
	q.mu.Unlock()
	q.publish()
	q.Kick()
	return e, nil
}

// Kick asks the scheduler for an immediate scan.
func (q *Queue) Kick() {
	select {
	case q.kick <- struct{}{}:
	default:
	}
}

// Tick dispatches every due QUEUED entry and returns how many were started.
func (q *Queue) Tick(ctx context.Context) int {
	now := q.opts.Now()
	var due []string
	q.mu.Lock()
	for id, e := range q.items {
		if e.Status == StatusQueued && !e.NextRetryAt.After(now) {
			e.Status = StatusRetrying
			q.items[id] = e
			due = append(due, id)
		}
	}
	q.mu.Unlock()
	sort.Strings(due)

	started := 0
	for _, id := range due {
		q.inflight.Add(1)
		if err := q.pool.Invoke(job{ctx: ctx, id: id}); err != nil {
			q.inflight.Done()
			q.setStatus(id, StatusQueued)
			log.Warn().Str("entry", id).Err(err).Msg("retryqueue: worker pool rejected job")
			continue
		}
		started++
	}
	if len(due) > 0 {
		q.publish()
	}
	return started
}

// Wait blocks until every started attempt has finished.
func (q *Queue) Wait() {
	q.inflight.Wait()
}

func (q *Queue) attempt(ctx context.Context, id string) {
	q.mu.RLock()
	e, ok := q.items[id]
	q.mu.RUnlock()
	if !ok {
		return
	}

	failure := q.send(ctx, e.Host, e.Port, e.Message)
	now := q.opts.Now().UTC()

	q.mu.Lock()
	cur, ok := q.items[id]
	if !ok {
		q.mu.Unlock()
		return
	}
	if failure == "" {
		delete(q.items, id)
		q.mu.Unlock()
		log.Info().Str("entry", id).Int("attempts", cur.Attempts+1).Msg("retryqueue: delivered")
		q.publish()
		return
	}
	cur.Attempts++
	cur.LastAttemptAt = &now
	cur.LastError = failure
	cur.NextRetryAt = now.Add(session.NextRetryDelay(q.opts.Retry, cur.Attempts))
	if cur.Attempts < cur.MaxAttempts {
		cur.Status = StatusQueued
		q.items[id] = cur
		q.mu.Unlock()
		log.Warn().Str("entry", id).Int("attempts", cur.Attempts).Time("next_retry_at", cur.NextRetryAt).Str("error", failure).Msg("retryqueue: attempt failed")
		q.publish()
		return
	}
	q.items[id] = cur
	q.mu.Unlock()

	q.exhausted(ctx, id, cur)
}

// exhausted makes one extra attempt against the failover peer, when one is
// offered, before parking the entry as FAILED.
func (q *Queue) exhausted(ctx context.Context, id string, e Entry) {
	if q.opts.Failover != nil && !e.FailedOver {
		if host, port, ok := q.opts.Failover.Alternate(e.Host, e.Port); ok {
			e.FailedOver = true
			failure := q.send(ctx, host, port, e.Message)
			if failure == "" {
				q.mu.Lock()
				delete(q.items, id)
				q.mu.Unlock()
				log.Info().Str("entry", id).Str("backup", fmt.Sprintf("%s:%d", host, port)).Msg("retryqueue: delivered via failover")
				q.publish()
				return
			}
			e.LastError = "failover: " + failure
		}
	}

	q.mu.Lock()
	if _, ok := q.items[id]; ok {
		e.Status = StatusFailed
		q.items[id] = e
	}
	q.mu.Unlock()
	log.Error().Str("entry", id).Int("attempts", e.Attempts).Str("error", e.LastError).Msg("retryqueue: entry failed")
	q.publish()
}

// send returns "" on an ACK and a failure description otherwise.
func (q *Queue) send(ctx context.Context, host string, port int, msg message.Message) string {
	res, err := q.sender.Send(ctx, host, port, msg, q.opts.SendTimeout)
	if err != nil {
		return err.Error()
	}
	if !res.Success {
		if res.Response != nil {
			return fmt.Sprintf("NACK %s: %s", res.Response.ErrorCode, res.Response.Message)
		}
		return "rejected"
	}
	return ""
}

// Retry re-queues an entry for immediate delivery. Attempts are kept, so a
// FAILED entry gets exactly one more try before failing again.
func (q *Queue) Retry(id string) (Entry, error) {
	q.mu.Lock()
	e, ok := q.items[id]
	if !ok {
		q.mu.Unlock()
		return Entry{}, ErrNotFound
	}
	if e.Status == StatusRetrying {
		q.mu.Unlock()
		return Entry{}, ErrInFlight
	}
	e.Status = StatusQueued
	e.NextRetryAt = q.opts.Now().UTC()
	e.FailedOver = false
	q.items[id] = e
	q.mu.Unlock()
	q.publish()
	q.Kick()
	return e, nil
}

func (q *Queue) Delete(id string) error {
	q.mu.Lock()
	_, ok := q.items[id]
	delete(q.items, id)
	q.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	q.publish()
	return nil
}

// Clear drops every entry that is not in flight and returns how many.
func (q *Queue) Clear() int {
	q.mu.Lock()
	n := 0
	for id, e := range q.items {
		if e.Status == StatusRetrying {
			continue
		}
		delete(q.items, id)
		n++
	}
	q.mu.Unlock()
	q.publish()
	return n
}

func (q *Queue) Get(id string) (Entry, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	e, ok := q.items[id]
	return e, ok
}

// List returns entries oldest first.
func (q *Queue) List() []Entry {
	q.mu.RLock()
	out := make([]Entry, 0, len(q.items))
	for _, e := range q.items {
		out = append(out, e)
	}
	q.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Retried returns entries that have been attempted at least once.
func (q *Queue) Retried() []Entry {
	all := q.List()
	out := all[:0]
	for _, e := range all {
		if e.Attempts > 0 {
			out = append(out, e)
		}
	}
	return out
}

func (q *Queue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.items)
}

// RetryConfig returns the schedule the queue applies.
func (q *Queue) RetryConfig() session.RetryConfig {
	return q.opts.Retry
}

// Counts tallies entries by status.
func (q *Queue) Counts() map[Status]int {
	out := map[Status]int{StatusQueued: 0, StatusRetrying: 0, StatusFailed: 0}
	q.mu.RLock()
	for _, e := range q.items {
		out[e.Status]++
	}
	q.mu.RUnlock()
	return out
}

func (q *Queue) publish() {
	counts := q.Counts()
	labels := make(map[string]int, len(counts))
	for s, n := range counts {
		labels[string(s)] = n
	}
	observability.SetRetryQueueDepth(labels)
}

// Run scans for due entries on every interval or kick until ctx ends, then
// waits for in-flight attempts and releases the pool.
func (q *Queue) Run(ctx context.Context) error {
	ticker := time.NewTicker(q.opts.ScanInterval)
	defer ticker.Stop()
	defer q.pool.Release()
	for {
		select {
		case <-ctx.Done():
			q.Wait()
			return nil
		case <-ticker.C:
			q.Tick(ctx)
		case <-q.kick:
			q.Tick(ctx)
		}
	}
}

func (q *Queue) setStatus(id string, s Status) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if e, ok := q.items[id]; ok {
		e.Status = s
		q.items[id] = e
	}
}
