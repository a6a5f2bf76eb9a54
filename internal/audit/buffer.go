package audit

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/danmuck/swiftgate/internal/translog"
	"github.com/rs/zerolog/log"
)

// DiskBuffer is the local JSON-lines fallback for entries a sink refused.
type DiskBuffer struct {
	path string
	mu   sync.Mutex
}

func NewDiskBuffer(path string) (*DiskBuffer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("audit: create buffer dir: %w", err)
	}
	return &DiskBuffer{path: path}, nil
}

// Park appends one entry.
func (d *DiskBuffer) Park(e translog.Entry) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.appendLocked([]translog.Entry{e})
}

func (d *DiskBuffer) appendLocked(entries []translog.Entry) error {
	f, err := os.OpenFile(d.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return err
		}
	}
	return nil
}

// Drain takes the current contents, hands each entry to fn and re-parks
// the ones fn rejects. Entries parked while fn runs are kept untouched.
func (d *DiskBuffer) Drain(fn func(translog.Entry) error) error {
	taken := d.path + ".replay"
	d.mu.Lock()
	if err := os.Rename(d.path, taken); err != nil {
		d.mu.Unlock()
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	d.mu.Unlock()

	entries, err := readEntries(taken)
	if err != nil {
		return err
	}
	var keep []translog.Entry
	for _, e := range entries {
		if err := fn(e); err != nil {
			keep = append(keep, e)
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if len(keep) > 0 {
		if err := d.appendLocked(keep); err != nil {
			return err
		}
	}
	return os.Remove(taken)
}

// Len counts parked entries.
func (d *DiskBuffer) Len() (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	entries, err := readEntries(d.path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	return len(entries), err
}

func readEntries(path string) ([]translog.Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []translog.Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		var e translog.Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("audit: skipping corrupt buffer line")
			continue
		}
		out = append(out, e)
	}
	return out, scanner.Err()
}
