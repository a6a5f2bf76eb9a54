package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/danmuck/swiftgate/internal/translog"
)

const defaultSeenWindow = 10000

// FileSink appends entries to one JSON-lines file per UTC day, named
// swift_YYYY-MM-DD.log. Recently written ids are remembered so a replayed
// entry is not written twice.
type FileSink struct {
	dir string

	mu    sync.Mutex
	seen  map[string]struct{}
	order []string
	next  int
}

func NewFileSink(dir string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("audit: create log dir: %w", err)
	}
	return &FileSink{
		dir:   dir,
		seen:  make(map[string]struct{}, defaultSeenWindow),
		order: make([]string, defaultSeenWindow),
	}, nil
}

// PathFor returns the daily file an entry belongs to.
func (s *FileSink) PathFor(e translog.Entry) string {
	return filepath.Join(s.dir, "swift_"+e.Timestamp.UTC().Format("2006-01-02")+".log")
}

func (s *FileSink) Write(ctx context.Context, e translog.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("audit: encode entry: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[e.ID]; ok {
		return nil
	}
	f, err := os.OpenFile(s.PathFor(e), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("audit: open daily log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("audit: append daily log: %w", err)
	}
	s.remember(e.ID)
	return nil
}

func (s *FileSink) remember(id string) {
	if old := s.order[s.next]; old != "" {
		delete(s.seen, old)
	}
	s.order[s.next] = id
	s.seen[id] = struct{}{}
	s.next = (s.next + 1) % len(s.order)
}
