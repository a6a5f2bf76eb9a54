package dispatch

import (
	"bufio"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/danmuck/swiftgate/internal/protocol/ack"
	"github.com/danmuck/swiftgate/internal/protocol/frame"
	"github.com/danmuck/swiftgate/internal/protocol/message"
	"github.com/danmuck/swiftgate/internal/protocol/session"
	"github.com/danmuck/swiftgate/internal/testutil/testlog"
	"github.com/danmuck/swiftgate/internal/translog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// peer accepts connections and answers each with reply(frame).
func peer(t *testing.T, reply func(raw []byte) any) (string, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				raw, err := frame.ReadFrame(bufio.NewReader(c), frame.DefaultLimits())
				if err != nil {
					return
				}
				out := reply(raw)
				if out == nil {
					time.Sleep(500 * time.Millisecond)
					return
				}
				_ = frame.WriteFrame(c, out, frame.DefaultLimits())
			}(conn)
		}
	}()
	addr := ln.Addr().(*net.TCPAddr)
	return "127.0.0.1", addr.Port
}

func closedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func newDispatcher() (*Dispatcher, *translog.Log) {
	tlog := translog.New(translog.Options{})
	return New(session.DefaultConfig(), tlog), tlog
}

func TestSendAck(t *testing.T) {
	testlog.Start(t)
	host, port := peer(t, func(raw []byte) any {
		_, msg, _ := message.Decode(raw)
		return ack.NewAck("TRXREMOTE000001", time.Now(), msg, raw)
	})
	d, tlog := newDispatcher()
	msg := message.Sample(time.Now())

	res, err := d.Send(context.Background(), host, port, msg, time.Second)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "TRXREMOTE000001", res.Reference)
	assert.Equal(t, msg.Reference, res.Response.Original())

	entries := tlog.Snapshot()
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, translog.Outbound, e.Direction)
	assert.Equal(t, "ACK", e.Status)
	assert.Equal(t, msg.Reference, e.OriginalReference)
	assert.NotNil(t, e.LatencyMS)
}

func TestSendNackIsAReplyNotAnError(t *testing.T) {
	testlog.Start(t)
	host, port := peer(t, func(raw []byte) any {
		_, msg, _ := message.Decode(raw)
		return ack.NewNack("TRXREMOTE000002", time.Now(), ack.CodeSanctions, nil, &msg)
	})
	d, tlog := newDispatcher()
	res, err := d.Send(context.Background(), host, port, message.Sample(time.Now()), time.Second)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, ack.CodeSanctions, res.Response.ErrorCode)
	assert.Equal(t, "NACK", tlog.Snapshot()[0].Status)
}

func TestSendTimeout(t *testing.T) {
	testlog.Start(t)
	host, port := peer(t, func([]byte) any { return nil })
	d, tlog := newDispatcher()
	_, err := d.Send(context.Background(), host, port, message.Sample(time.Now()), 100*time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout), "err=%v", err)
	assert.True(t, Retryable(err))

	entries := tlog.Snapshot()
	require.Len(t, entries, 1)
	assert.Equal(t, translog.StatusFailed, entries[0].Status)
}

func TestSendRefused(t *testing.T) {
	testlog.Start(t)
	d, tlog := newDispatcher()
	_, err := d.Send(context.Background(), "127.0.0.1", closedPort(t), message.Sample(time.Now()), time.Second)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRefused), "err=%v", err)
	var de *Error
	require.True(t, errors.As(err, &de))
	assert.Equal(t, KindRefused, de.Kind)
	assert.Len(t, tlog.Snapshot(), 1)
}

func TestSendInvalidReply(t *testing.T) {
	testlog.Start(t)
	host, port := peer(t, func([]byte) any { return map[string]string{"hello": "world"} })
	d, _ := newDispatcher()
	_, err := d.Send(context.Background(), host, port, message.Sample(time.Now()), time.Second)
	assert.True(t, errors.Is(err, ErrInvalidReply), "err=%v", err)
}

func TestSendRequiresDestination(t *testing.T) {
	testlog.Start(t)
	d, tlog := newDispatcher()
	_, err := d.Send(context.Background(), "", 0, message.Sample(time.Now()), time.Second)
	assert.ErrorIs(t, err, ErrNoDestination)
	entries := tlog.Snapshot()
	require.Len(t, entries, 1)
	assert.Equal(t, translog.StatusFailed, entries[0].Status)
	assert.Equal(t, translog.Outbound, entries[0].Direction)
	assert.Contains(t, entries[0].Error, "destination")
}

func TestProbe(t *testing.T) {
	testlog.Start(t)
	host, port := peer(t, func([]byte) any { return nil })
	d, tlog := newDispatcher()

	ok, err := d.Probe(context.Background(), host, port, time.Second)
	require.NoError(t, err)
	assert.True(t, ok.Success)

	bad, err := d.Probe(context.Background(), "127.0.0.1", closedPort(t), time.Second)
	require.NoError(t, err)
	assert.False(t, bad.Success)
	assert.NotEmpty(t, bad.Error)

	entries := tlog.Snapshot()
	require.Len(t, entries, 2)
	assert.Equal(t, translog.TypeConnectionTest, entries[0].Type)
	assert.Equal(t, translog.StatusSuccess, entries[0].Status)
	assert.Equal(t, translog.StatusFailed, entries[1].Status)
}
