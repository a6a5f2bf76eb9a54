package dispatch

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/json"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/swiftgate/internal/observability"
	"github.com/danmuck/swiftgate/internal/protocol/ack"
	"github.com/danmuck/swiftgate/internal/protocol/frame"
	"github.com/danmuck/swiftgate/internal/protocol/message"
	"github.com/danmuck/swiftgate/internal/protocol/session"
	"github.com/danmuck/swiftgate/internal/translog"
	"github.com/rs/zerolog/log"
)

// Result is the outcome of one outbound send that got a reply.
type Result struct {
	Success   bool            `json:"success"`
	Reference string          `json:"reference"`
	LatencyMS int64           `json:"latency"`
	Response  *ack.Response   `json:"response,omitempty"`
	Raw       json.RawMessage `json:"raw,omitempty"`
}

// Dispatcher opens one connection per send, writes a single frame and
// waits for a single reply frame.
type Dispatcher struct {
	cfg    session.Config
	limits frame.Limits
	log    *translog.Log
	now    func() time.Time
}

func New(cfg session.Config, tlog *translog.Log) *Dispatcher {
	return &Dispatcher{
		cfg:    cfg,
		limits: frame.DefaultLimits(),
		log:    tlog,
		now:    time.Now,
	}
}

func (d *Dispatcher) protocol() string {
	if d.cfg.TLS.Enabled {
		return translog.ProtocolTLS
	}
	return translog.ProtocolTCP
}

func (d *Dispatcher) dial(ctx context.Context, addr string) (net.Conn, error) {
	dialer := net.Dialer{Timeout: d.cfg.ConnectTimeout}
	rawConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if !d.cfg.TLS.Enabled {
		return rawConn, nil
	}
	if err := d.cfg.ValidateClientTransport(); err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	tlsCfg, err := d.cfg.ClientTLSConfig(addr)
	if err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	conn := tls.Client(rawConn, tlsCfg)
	if err := conn.HandshakeContext(ctx); err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	return conn, nil
}

// Send delivers msg to host:port. A zero timeout uses the session ack
// timeout. Exactly one OUTBOUND log entry is recorded per call.
func (d *Dispatcher) Send(ctx context.Context, host string, port int, msg message.Message, timeout time.Duration) (Result, error) {
	entry := translog.Entry{
		Type:              translog.TypeMessage,
		Protocol:          d.protocol(),
		Direction:         translog.Outbound,
		Host:              host,
		Port:              port,
		MessageType:       msg.MessageType,
		OriginalReference: msg.Reference,
		SenderBIC:         msg.SenderBIC,
		ReceiverBIC:       msg.ReceiverBIC,
		Amount:            msg.Amount,
		Currency:          msg.Currency,
	}
	addr, err := joinAddr(host, port)
	if err != nil {
		entry.Status = translog.StatusFailed
		entry.Error = err.Error()
		d.record(entry)
		return Result{}, err
	}
	if timeout <= 0 {
		timeout = d.cfg.AckTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := d.now()
	res, err := d.roundTrip(ctx, addr, msg)
	elapsed := d.now().Sub(start)
	if err != nil {
		derr := classify("send", addr, err)
		entry.Status = translog.StatusFailed
		entry.Error = derr.Error()
		d.record(entry)
		observability.RecordDispatch(string(derr.Kind), elapsed)
		log.Warn().Str("addr", addr).Str("kind", string(derr.Kind)).Err(err).Msg("dispatch failed")
		return Result{}, derr
	}

	res.LatencyMS = elapsed.Milliseconds()
	entry.LatencyMS = translog.Latency(elapsed)
	entry.Reference = res.Reference
	entry.Status = string(res.Response.Status)
	entry.ErrorCode = string(res.Response.ErrorCode)
	entry.Errors = res.Response.Errors
	d.record(entry)
	observability.RecordDispatch(strings.ToLower(entry.Status), elapsed)
	log.Debug().Str("addr", addr).Str("status", entry.Status).Int64("latency_ms", res.LatencyMS).Msg("dispatch reply")
	return res, nil
}

func (d *Dispatcher) roundTrip(ctx context.Context, addr string, msg message.Message) (Result, error) {
	conn, err := d.dial(ctx, addr)
	if err != nil {
		return Result{}, err
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	if err := frame.WriteFrame(conn, msg, d.limits); err != nil {
		return Result{}, err
	}
	raw, err := frame.ReadFrame(bufio.NewReader(conn), d.limits)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, err
	}
	var resp ack.Response
	if err := json.Unmarshal(raw, &resp); err != nil || (resp.Status != ack.StatusACK && resp.Status != ack.StatusNACK) {
		return Result{}, &Error{Kind: KindReply, Op: "decode", Addr: addr, Err: ErrInvalidReply}
	}
	return Result{
		Success:   resp.Status == ack.StatusACK,
		Reference: resp.Reference,
		Response:  &resp,
		Raw:       json.RawMessage(raw),
	}, nil
}

func (d *Dispatcher) record(e translog.Entry) {
	if d.log != nil {
		d.log.Append(e)
	}
}

// ProbeResult is the outcome of a reachability test.
type ProbeResult struct {
	Success   bool      `json:"success"`
	Host      string    `json:"host"`
	Port      int       `json:"port"`
	Protocol  string    `json:"protocol"`
	LatencyMS int64     `json:"latency,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Probe opens and closes a bare connection to host:port and records a
// CONNECTION_TEST entry. Failures are reported in the result, not as err.
func (d *Dispatcher) Probe(ctx context.Context, host string, port int, timeout time.Duration) (ProbeResult, error) {
	addr, err := joinAddr(host, port)
	if err != nil {
		return ProbeResult{}, err
	}
	if timeout <= 0 {
		timeout = d.cfg.ConnectTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := d.now()
	out := ProbeResult{Host: host, Port: port, Protocol: d.protocol(), Timestamp: start.UTC()}
	conn, err := d.dial(ctx, addr)
	elapsed := d.now().Sub(start)
	entry := translog.Entry{
		Type:     translog.TypeConnectionTest,
		Protocol: out.Protocol,
		Host:     host,
		Port:     port,
	}
	if err != nil {
		derr := classify("probe", addr, err)
		out.Error = derr.Error()
		entry.Status = translog.StatusFailed
		entry.Error = out.Error
	} else {
		_ = conn.Close()
		out.Success = true
		out.LatencyMS = elapsed.Milliseconds()
		entry.Status = translog.StatusSuccess
		entry.LatencyMS = translog.Latency(elapsed)
	}
	d.record(entry)
	return out, nil
}

func joinAddr(host string, port int) (string, error) {
	host = strings.TrimSpace(host)
	if host == "" || port <= 0 || port > 65535 {
		return "", ErrNoDestination
	}
	return net.JoinHostPort(host, strconv.Itoa(port)), nil
}
