package translog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/swiftgate/internal/protocol/session"
	"github.com/danmuck/swiftgate/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memSink struct {
	mu      sync.Mutex
	fail    bool
	entries map[string]Entry
}

func newMemSink() *memSink {
	return &memSink{entries: make(map[string]Entry)}
}

func (s *memSink) Write(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("sink unavailable")
	}
	s.entries[e.ID] = e
	return nil
}

func (s *memSink) setFail(v bool) {
	s.mu.Lock()
	s.fail = v
	s.mu.Unlock()
}

func (s *memSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

type memFallback struct {
	mu     sync.Mutex
	parked []Entry
}

func (f *memFallback) Park(e Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.parked = append(f.parked, e)
	return nil
}

func (f *memFallback) Drain(fn func(Entry) error) error {
	f.mu.Lock()
	pending := f.parked
	f.parked = nil
	f.mu.Unlock()

	var keep []Entry
	for _, e := range pending {
		if err := fn(e); err != nil {
			keep = append(keep, e)
		}
	}
	f.mu.Lock()
	f.parked = append(keep, f.parked...)
	f.mu.Unlock()
	return nil
}

func (f *memFallback) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.parked)
}

func TestAppendStampsAndEvictsOldest(t *testing.T) {
	testlog.Start(t)
	l := New(Options{Capacity: 3})
	for i := 0; i < 5; i++ {
		l.Append(Entry{Type: TypeMessage, Status: "ACK", Reference: fmt.Sprintf("R%d", i)})
	}
	snap := l.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "R2", snap[0].Reference)
	assert.Equal(t, "R4", snap[2].Reference)
	for _, e := range snap {
		assert.NotEmpty(t, e.ID)
		assert.False(t, e.Timestamp.IsZero())
	}
	assert.Equal(t, 3, l.Len())
}

func TestListNewestFirstWithFilterAndPaging(t *testing.T) {
	testlog.Start(t)
	l := New(Options{})
	for i := 0; i < 10; i++ {
		typ := TypeMessage
		if i%2 == 0 {
			typ = TypeConnection
		}
		l.Append(Entry{Type: typ, Reference: fmt.Sprintf("R%d", i)})
	}
	page := l.List(Query{Type: TypeMessage, Limit: 2, Offset: 1})
	assert.Equal(t, 5, page.Total)
	require.Len(t, page.Logs, 2)
	assert.Equal(t, "R7", page.Logs[0].Reference)
	assert.Equal(t, "R5", page.Logs[1].Reference)

	page = l.List(Query{Offset: 50})
	assert.Equal(t, 10, page.Total)
	assert.Empty(t, page.Logs)
	assert.Equal(t, DefaultListLimit, page.Limit)
}

func TestSinceFiltersByTimestamp(t *testing.T) {
	testlog.Start(t)
	base := time.Unix(1700000000, 0)
	l := New(Options{})
	l.Append(Entry{Type: TypeMessage, Timestamp: base.Add(-2 * time.Hour)})
	l.Append(Entry{Type: TypeMessage, Timestamp: base.Add(-30 * time.Minute)})
	l.Append(Entry{Type: TypeMessage, Timestamp: base})
	assert.Len(t, l.Since(base.Add(-time.Hour)), 2)
	assert.Empty(t, l.Since(base.Add(time.Minute)))
}

func TestSnapshotIsIsolated(t *testing.T) {
	testlog.Start(t)
	l := New(Options{})
	l.Append(Entry{Type: TypeMessage, Errors: []string{"a"}})
	snap := l.Snapshot()
	snap[0].Errors[0] = "mutated"
	assert.Equal(t, "a", l.Snapshot()[0].Errors[0])
}

func TestSubscribeReceivesNewEntries(t *testing.T) {
	testlog.Start(t)
	l := New(Options{})
	ch, cancel := l.Subscribe(4)
	l.Append(Entry{Type: TypeConfig, Action: "BACKUP_UPDATE"})
	select {
	case e := <-ch:
		assert.Equal(t, "BACKUP_UPDATE", e.Action)
	case <-time.After(time.Second):
		t.Fatalf("no entry delivered")
	}
	cancel()
	cancel()
	l.Append(Entry{Type: TypeConfig})
	_, open := <-ch
	assert.False(t, open)
}

func TestForwardingParksOnSinkFailureAndReplays(t *testing.T) {
	testlog.Start(t)
	sink := newMemSink()
	sink.setFail(true)
	fb := &memFallback{}
	l := New(Options{
		Sink:           sink,
		Fallback:       fb,
		ReplayInterval: 10 * time.Millisecond,
		ReplayBackoff:  session.BackoffConfig{InitialDelay: 10 * time.Millisecond, Multiplier: 1},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = l.Run(ctx)
		close(done)
	}()

	e := l.Append(Entry{Type: TypeMessage, Status: "ACK"})
	require.Eventually(t, func() bool { return fb.len() == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return l.Snapshot()[0].PendingSync }, 2*time.Second, 5*time.Millisecond)

	sink.setFail(false)
	require.Eventually(t, func() bool { return sink.len() == 1 && fb.len() == 0 }, 3*time.Second, 5*time.Millisecond)
	assert.False(t, l.Snapshot()[0].PendingSync)
	assert.Equal(t, e.ID, l.Snapshot()[0].ID)

	stats := l.Stats()
	assert.Equal(t, uint64(1), stats.Parked)
	assert.Equal(t, uint64(1), stats.Written)

	cancel()
	<-done
}

func TestIsError(t *testing.T) {
	assert.True(t, Entry{Status: "NACK"}.IsError())
	assert.True(t, Entry{Type: TypeError, Status: StatusError}.IsError())
	assert.False(t, Entry{Status: "ACK"}.IsError())
}
