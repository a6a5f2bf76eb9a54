package frame

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

const (
	Delimiter byte = '\n'
	// DefaultMaxFrameBytes caps one frame, delimiter excluded.
	DefaultMaxFrameBytes = 10 * 1024 * 1024
)

var (
	ErrFrameTooLarge = errors.New("frame: frame too large")
	ErrEmptyFrame    = errors.New("frame: empty frame")
)

// Limits constrains frame decode/encode memory use.
type Limits struct {
	MaxFrameBytes int
}

func DefaultLimits() Limits {
	return Limits{MaxFrameBytes: DefaultMaxFrameBytes}
}

func (l Limits) max() int {
	if l.MaxFrameBytes <= 0 {
		return DefaultMaxFrameBytes
	}
	return l.MaxFrameBytes
}

// Frame is one delimited unit pulled off the stream. Oversized frames carry
// no payload, only the number of bytes that were dropped.
type Frame struct {
	Payload   []byte
	Oversized bool
	Size      int
}

// Splitter turns an arbitrary byte stream into delimited frames. It keeps the
// unterminated remainder between Feed calls and never buffers more than the
// frame limit: an overlong frame is dropped and its tail skipped up to the
// next delimiter. Not safe for concurrent use; one Splitter per connection.
type Splitter struct {
	limits     Limits
	buf        []byte
	discarding bool
	dropped    int
}

func NewSplitter(limits Limits) *Splitter {
	return &Splitter{limits: limits}
}

// Feed consumes one chunk and returns every frame completed by it, in order.
// Blank lines are skipped.
func (s *Splitter) Feed(chunk []byte) []Frame {
	var out []Frame
	max := s.limits.max()
	for len(chunk) > 0 {
		idx := bytes.IndexByte(chunk, Delimiter)
		if s.discarding {
			if idx < 0 {
				s.dropped += len(chunk)
				return out
			}
			s.discarding = false
			s.dropped = 0
			chunk = chunk[idx+1:]
			continue
		}
		if idx < 0 {
			if len(s.buf)+len(chunk) > max {
				out = append(out, Frame{Oversized: true, Size: len(s.buf) + len(chunk)})
				s.dropped = len(s.buf) + len(chunk)
				s.buf = s.buf[:0]
				s.discarding = true
				return out
			}
			s.buf = append(s.buf, chunk...)
			return out
		}

		if len(s.buf)+idx > max {
			out = append(out, Frame{Oversized: true, Size: len(s.buf) + idx})
			s.buf = s.buf[:0]
			chunk = chunk[idx+1:]
			continue
		}
		line := make([]byte, 0, len(s.buf)+idx)
		line = append(line, s.buf...)
		line = append(line, chunk[:idx]...)
		s.buf = s.buf[:0]
		chunk = chunk[idx+1:]

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		out = append(out, Frame{Payload: line, Size: len(line)})
	}
	return out
}

// Pending reports buffered bytes of the current unterminated frame.
func (s *Splitter) Pending() int {
	return len(s.buf)
}

// Discarding reports whether the splitter is skipping an oversized frame.
func (s *Splitter) Discarding() bool {
	return s.discarding
}

func (s *Splitter) Reset() {
	s.buf = s.buf[:0]
	s.discarding = false
	s.dropped = 0
}

// Encode renders v as one delimited frame.
func Encode(v any, limits Limits) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("frame: encode: %w", err)
	}
	if len(payload) > limits.max() {
		return nil, ErrFrameTooLarge
	}
	return append(payload, Delimiter), nil
}

func WriteFrame(w io.Writer, v any, limits Limits) error {
	b, err := Encode(v, limits)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// ReadFrame reads exactly one non-blank frame. A frame that exceeds the limit
// is consumed up to its delimiter and reported as ErrFrameTooLarge.
func ReadFrame(r *bufio.Reader, limits Limits) ([]byte, error) {
	max := limits.max()
	for {
		var line []byte
		tooLarge := false
		for {
			part, err := r.ReadSlice(Delimiter)
			if !tooLarge {
				if len(line)+len(part) > max+1 {
					tooLarge = true
					line = nil
				} else {
					line = append(line, part...)
				}
			}
			if err == nil {
				break
			}
			if errors.Is(err, bufio.ErrBufferFull) {
				continue
			}
			if errors.Is(err, io.EOF) && len(line) > 0 && !tooLarge {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		if tooLarge {
			return nil, ErrFrameTooLarge
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		return line, nil
	}
}
