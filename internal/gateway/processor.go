package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/swiftgate/internal/observability"
	"github.com/danmuck/swiftgate/internal/protocol/ack"
	"github.com/danmuck/swiftgate/internal/protocol/message"
	"github.com/danmuck/swiftgate/internal/protocol/schema"
	"github.com/danmuck/swiftgate/internal/translog"
	"github.com/rs/zerolog/log"
)

// Rejection is a domain check failure.
type Rejection struct {
	Code   ack.Code
	Reason string
}

// Check runs after structural validation passes. A nil result accepts the
// message. Checks run in order and the first rejection wins.
type Check interface {
	Check(ctx context.Context, msg message.Message) *Rejection
}

// Committer is implemented by checks that record accepted messages.
type Committer interface {
	Commit(msg message.Message)
}

// Releaser is implemented by checks that hold state for a message between
// Check and Commit. Release is called when a later check rejects it.
type Releaser interface {
	Release(msg message.Message)
}

type CheckFunc func(ctx context.Context, msg message.Message) *Rejection

func (f CheckFunc) Check(ctx context.Context, msg message.Message) *Rejection {
	return f(ctx, msg)
}

// Source describes where a frame came from.
type Source struct {
	Protocol      string
	RemoteAddress string
	RemotePort    int
}

// Processor turns one inbound frame into its reply.
type Processor struct {
	log    *translog.Log
	checks []Check
	now    func() time.Time
}

func NewProcessor(tlog *translog.Log, checks ...Check) *Processor {
	return &Processor{log: tlog, checks: checks, now: time.Now}
}

// WithClock replaces the processor clock.
func (p *Processor) WithClock(now func() time.Time) *Processor {
	if now != nil {
		p.now = now
	}
	return p
}

// Process decodes, validates and checks raw, logs the outcome and returns
// the reply to write.
func (p *Processor) Process(ctx context.Context, raw []byte, src Source) ack.Response {
	fields, msg, err := message.Decode(raw)
	if err != nil {
		text := "Invalid JSON format: message must be an object"
		if !errors.Is(err, message.ErrNotObject) {
			text = fmt.Sprintf("Invalid JSON format: %s", strings.TrimPrefix(err.Error(), message.ErrMalformed.Error()+": "))
		}
		return p.Reject(ack.CodeInvalidFormat, []string{text}, src)
	}

	res := schema.Validate(fields)
	if !res.Valid {
		return p.nack(res.Code(), res.Errors, &msg, src)
	}

	for i, c := range p.checks {
		if rej := c.Check(ctx, msg); rej != nil {
			p.release(p.checks[:i], msg)
			reason := rej.Reason
			if reason == "" {
				reason = rej.Code.Description()
			}
			return p.nack(rej.Code, []string{reason}, &msg, src)
		}
	}
	for _, c := range p.checks {
		if cm, ok := c.(Committer); ok {
			cm.Commit(msg)
		}
	}

	now := p.now()
	resp := ack.NewAck(message.NewTransactionRef(now), now, msg, raw)
	p.append(translog.Entry{
		Type:              translog.TypeMessage,
		Protocol:          src.Protocol,
		Direction:         translog.Inbound,
		Status:            string(ack.StatusACK),
		RemoteAddress:     src.RemoteAddress,
		RemotePort:        src.RemotePort,
		MessageType:       msg.MessageType,
		Reference:         resp.Reference,
		OriginalReference: msg.Reference,
		SenderBIC:         msg.SenderBIC,
		ReceiverBIC:       msg.ReceiverBIC,
		Amount:            msg.Amount,
		Currency:          msg.Currency,
		Checksum:          message.Checksum(raw),
	})
	observability.RecordInbound(src.Protocol, string(ack.StatusACK), "")
	log.Debug().Str("protocol", src.Protocol).Str("remote", src.RemoteAddress).Str("reference", resp.Reference).Str("message_type", msg.MessageType).Msg("gateway: ack")
	return resp
}

// Reject builds and logs a NACK for a frame that could not be parsed.
func (p *Processor) Reject(code ack.Code, errs []string, src Source) ack.Response {
	return p.nack(code, errs, nil, src)
}

func (p *Processor) nack(code ack.Code, errs []string, msg *message.Message, src Source) ack.Response {
	now := p.now()
	resp := ack.NewNack(message.NewTransactionRef(now), now, code, errs, msg)
	entry := translog.Entry{
		Type:          translog.TypeMessage,
		Protocol:      src.Protocol,
		Direction:     translog.Inbound,
		Status:        string(ack.StatusNACK),
		RemoteAddress: src.RemoteAddress,
		RemotePort:    src.RemotePort,
		MessageType:   "UNKNOWN",
		Reference:     resp.Reference,
		ErrorCode:     string(code),
		Errors:        errs,
	}
	if msg != nil {
		if msg.MessageType != "" {
			entry.MessageType = msg.MessageType
		}
		entry.OriginalReference = msg.Reference
		entry.SenderBIC = msg.SenderBIC
		entry.ReceiverBIC = msg.ReceiverBIC
	}
	p.append(entry)
	observability.RecordInbound(src.Protocol, string(ack.StatusNACK), string(code))
	log.Info().Str("protocol", src.Protocol).Str("remote", src.RemoteAddress).Str("code", string(code)).Strs("errors", errs).Msg("gateway: nack")
	return resp
}

func (p *Processor) release(passed []Check, msg message.Message) {
	for _, c := range passed {
		if r, ok := c.(Releaser); ok {
			r.Release(msg)
		}
	}
}

func (p *Processor) append(e translog.Entry) {
	if p.log != nil {
		p.log.Append(e)
	}
}
