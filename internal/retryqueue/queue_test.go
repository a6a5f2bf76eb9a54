package retryqueue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/swiftgate/internal/dispatch"
	"github.com/danmuck/swiftgate/internal/protocol/ack"
	"github.com/danmuck/swiftgate/internal/protocol/message"
	"github.com/danmuck/swiftgate/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type call struct {
	host string
	port int
}

type fakeSender struct {
	mu      sync.Mutex
	calls   []call
	outcome func(host string, port int) (dispatch.Result, error)
}

func (s *fakeSender) Send(_ context.Context, host string, port int, _ message.Message, _ time.Duration) (dispatch.Result, error) {
	s.mu.Lock()
	s.calls = append(s.calls, call{host, port})
	fn := s.outcome
	s.mu.Unlock()
	return fn(host, port)
}

func (s *fakeSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func refused(string, int) (dispatch.Result, error) {
	return dispatch.Result{}, &dispatch.Error{Kind: dispatch.KindRefused, Op: "send", Addr: "peer", Err: errors.New("connection refused")}
}

func acked(string, int) (dispatch.Result, error) {
	return dispatch.Result{Success: true, Reference: "TRXOK"}, nil
}

type backup struct {
	host string
	port int
	used int
}

func (b *backup) Alternate(host string, port int) (string, int, bool) {
	if host == b.host && port == b.port {
		return "", 0, false
	}
	b.used++
	return b.host, b.port, true
}

func newQueue(t *testing.T, sender Sender, fo Failover) (*Queue, *clock) {
	t.Helper()
	c := &clock{now: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
	q, err := New(sender, Options{
		DefaultHost: "peer.example",
		DefaultPort: 5000,
		Failover:    fo,
		Now:         c.Now,
		Workers:     2,
	})
	require.NoError(t, err)
	t.Cleanup(func() { q.pool.Release() })
	return q, c
}

func tick(q *Queue) int {
	n := q.Tick(context.Background())
	q.Wait()
	return n
}

func TestThreeFailuresEndFailedAndRetained(t *testing.T) {
	testlog.Start(t)
	sender := &fakeSender{outcome: refused}
	q, c := newQueue(t, sender, nil)

	e, err := q.Enqueue(message.Sample(c.Now()), EnqueueOptions{})
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, e.Status)
	assert.Equal(t, 3, e.MaxAttempts)

	wantGaps := []time.Duration{60 * time.Second, 180 * time.Second, 300 * time.Second}
	for i, gap := range wantGaps {
		require.Equal(t, 1, tick(q), "attempt %d", i+1)
		got, ok := q.Get(e.ID)
		require.True(t, ok)
		assert.Equal(t, i+1, got.Attempts)
		assert.Equal(t, gap, got.NextRetryAt.Sub(*got.LastAttemptAt), "attempt %d", i+1)
		if i < 2 {
			assert.Equal(t, StatusQueued, got.Status)
			c.Advance(gap - time.Second)
			assert.Zero(t, tick(q), "not due before interval")
			c.Advance(time.Second)
		} else {
			assert.Equal(t, StatusFailed, got.Status)
			assert.Contains(t, got.LastError, "refused")
		}
	}

	c.Advance(time.Hour)
	assert.Zero(t, tick(q), "failed entry must not be retried automatically")
	assert.Equal(t, 3, sender.count())
	assert.Equal(t, 1, q.Len())
}

func TestSuccessRemovesEntry(t *testing.T) {
	testlog.Start(t)
	sender := &fakeSender{outcome: acked}
	q, c := newQueue(t, sender, nil)
	_, err := q.Enqueue(message.Sample(c.Now()), EnqueueOptions{Host: "10.0.0.5", Port: 6000})
	require.NoError(t, err)
	require.Equal(t, 1, tick(q))
	assert.Zero(t, q.Len())
	assert.Equal(t, call{"10.0.0.5", 6000}, sender.calls[0])
}

func TestNackCountsAsFailure(t *testing.T) {
	testlog.Start(t)
	sender := &fakeSender{outcome: func(string, int) (dispatch.Result, error) {
		resp := ack.Response{Status: ack.StatusNACK, ErrorCode: ack.CodeSanctions, Message: "blocked"}
		return dispatch.Result{Success: false, Response: &resp}, nil
	}}
	q, c := newQueue(t, sender, nil)
	e, err := q.Enqueue(message.Sample(c.Now()), EnqueueOptions{})
	require.NoError(t, err)
	tick(q)
	got, _ := q.Get(e.ID)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, "NACK B009: blocked", got.LastError)
}

func TestManualRetryOfFailedEntry(t *testing.T) {
	testlog.Start(t)
	sender := &fakeSender{outcome: refused}
	q, c := newQueue(t, sender, nil)
	e, err := q.Enqueue(message.Sample(c.Now()), EnqueueOptions{MaxAttempts: 1})
	require.NoError(t, err)
	tick(q)
	got, _ := q.Get(e.ID)
	require.Equal(t, StatusFailed, got.Status)

	retried, err := q.Retry(e.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, retried.Status)
	assert.Equal(t, 1, retried.Attempts)
	assert.Equal(t, c.Now(), retried.NextRetryAt)

	sender.mu.Lock()
	sender.outcome = acked
	sender.mu.Unlock()
	tick(q)
	_, ok := q.Get(e.ID)
	assert.False(t, ok)
}

func TestRetryRejectsInFlightAndUnknown(t *testing.T) {
	testlog.Start(t)
	q, c := newQueue(t, &fakeSender{outcome: refused}, nil)
	e, err := q.Enqueue(message.Sample(c.Now()), EnqueueOptions{})
	require.NoError(t, err)
	q.setStatus(e.ID, StatusRetrying)
	_, err = q.Retry(e.ID)
	assert.ErrorIs(t, err, ErrInFlight)
	_, err = q.Retry("missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, q.Delete("missing"), ErrNotFound)
	assert.Zero(t, q.Clear(), "in-flight entries survive clear")
}

func TestFailoverOnExhaustion(t *testing.T) {
	testlog.Start(t)
	fo := &backup{host: "backup.example", port: 5001}
	sender := &fakeSender{outcome: func(host string, port int) (dispatch.Result, error) {
		if host == "backup.example" {
			return acked(host, port)
		}
		return refused(host, port)
	}}
	q, c := newQueue(t, sender, fo)
	e, err := q.Enqueue(message.Sample(c.Now()), EnqueueOptions{MaxAttempts: 1})
	require.NoError(t, err)
	tick(q)
	_, ok := q.Get(e.ID)
	assert.False(t, ok, "delivered via backup")
	assert.Equal(t, 1, fo.used)
	require.Equal(t, 2, sender.count())
	assert.Equal(t, call{"backup.example", 5001}, sender.calls[1])
}

func TestFailoverFailureMarksFailed(t *testing.T) {
	testlog.Start(t)
	fo := &backup{host: "backup.example", port: 5001}
	sender := &fakeSender{outcome: refused}
	q, c := newQueue(t, sender, fo)
	e, err := q.Enqueue(message.Sample(c.Now()), EnqueueOptions{MaxAttempts: 2})
	require.NoError(t, err)
	tick(q)
	c.Advance(time.Minute)
	tick(q)
	got, _ := q.Get(e.ID)
	assert.Equal(t, StatusFailed, got.Status)
	assert.True(t, got.FailedOver)
	assert.Equal(t, 2, got.Attempts, "failover attempt is not counted")
	assert.Contains(t, got.LastError, "failover:")
}

func TestEnqueueRequiresDestination(t *testing.T) {
	testlog.Start(t)
	q, err := New(&fakeSender{outcome: acked}, Options{})
	require.NoError(t, err)
	defer q.pool.Release()
	_, err = q.Enqueue(message.Sample(time.Now()), EnqueueOptions{})
	assert.ErrorIs(t, err, ErrNoDestination)
}

func TestListAndClear(t *testing.T) {
	testlog.Start(t)
	q, c := newQueue(t, &fakeSender{outcome: refused}, nil)
	first, _ := q.Enqueue(message.Sample(c.Now()), EnqueueOptions{})
	c.Advance(time.Second)
	second, _ := q.Enqueue(message.Sample(c.Now()), EnqueueOptions{})
	list := q.List()
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID)
	assert.Equal(t, second.ID, list[1].ID)
	assert.Empty(t, q.Retried())
	assert.Equal(t, 2, q.Counts()[StatusQueued])
	assert.Equal(t, 2, q.Clear())
	assert.Zero(t, q.Len())
}

func TestRunProcessesKickedEntries(t *testing.T) {
	testlog.Start(t)
	sender := &fakeSender{outcome: acked}
	q, err := New(sender, Options{DefaultHost: "peer", DefaultPort: 1, ScanInterval: time.Hour})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = q.Run(ctx)
		close(done)
	}()
	_, err = q.Enqueue(message.Sample(time.Now()), EnqueueOptions{})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return q.Len() == 0 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done
}
