package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"

	"github.com/danmuck/swiftgate/internal/protocol/frame"
)

type Kind string

const (
	KindTimeout Kind = "timeout"
	KindRefused Kind = "refused"
	KindReset   Kind = "reset"
	KindReply   Kind = "invalid_reply"
	KindOther   Kind = "other"
)

var (
	ErrTimeout       = errors.New("dispatch: timeout")
	ErrRefused       = errors.New("dispatch: connection refused")
	ErrReset         = errors.New("dispatch: connection reset")
	ErrInvalidReply  = errors.New("dispatch: invalid reply")
	ErrNoDestination = errors.New("dispatch: destination required")
)

// Error is a failed outbound call. It matches the sentinel for its kind
// under errors.Is and unwraps to the transport cause.
type Error struct {
	Kind Kind
	Op   string
	Addr string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("dispatch: %s %s: %s: %v", e.Op, e.Addr, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	switch target {
	case ErrTimeout:
		return e.Kind == KindTimeout
	case ErrRefused:
		return e.Kind == KindRefused
	case ErrReset:
		return e.Kind == KindReset
	case ErrInvalidReply:
		return e.Kind == KindReply
	}
	return false
}

// Retryable reports whether err is a transport fault worth redelivering.
// Every dispatch error is; anything else is not.
func Retryable(err error) bool {
	var de *Error
	return errors.As(err, &de)
}

func classify(op, addr string, err error) *Error {
	return &Error{Kind: kindOf(err), Op: op, Addr: addr, Err: err}
}

func kindOf(err error) Kind {
	var ne net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, os.ErrDeadlineExceeded),
		errors.As(err, &ne) && ne.Timeout():
		return KindTimeout
	case errors.Is(err, syscall.ECONNREFUSED):
		return KindRefused
	case errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, net.ErrClosed):
		return KindReset
	case errors.Is(err, frame.ErrFrameTooLarge):
		return KindReply
	default:
		return KindOther
	}
}
