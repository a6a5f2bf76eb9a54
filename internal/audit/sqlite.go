package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/danmuck/swiftgate/internal/translog"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteSink stores entries in a transmission_log table keyed by id.
type SQLiteSink struct {
	db *sql.DB
}

func NewSQLiteSink(dbPath string) (*SQLiteSink, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	s := &SQLiteSink{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteSink) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS transmission_log (
			id TEXT PRIMARY KEY,
			timestamp DATETIME NOT NULL,
			type TEXT NOT NULL,
			status TEXT NOT NULL,
			direction TEXT,
			reference TEXT,
			payload TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_transmission_log_timestamp ON transmission_log(timestamp);
		CREATE INDEX IF NOT EXISTS idx_transmission_log_reference ON transmission_log(reference);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("audit: migrate sqlite: %w", err)
	}
	return nil
}

func (s *SQLiteSink) Write(ctx context.Context, e translog.Entry) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("audit: encode entry: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO transmission_log (id, timestamp, type, status, direction, reference, payload)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Timestamp.UTC(), string(e.Type), e.Status, string(e.Direction), e.Reference, string(payload),
	)
	if err != nil {
		return fmt.Errorf("audit: insert entry: %w", err)
	}
	return nil
}

// Since reads entries stored at or after t, oldest first.
func (s *SQLiteSink) Since(ctx context.Context, t time.Time) ([]translog.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM transmission_log WHERE timestamp >= ? ORDER BY timestamp ASC`, t.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []translog.Entry
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var e translog.Entry
		if err := json.Unmarshal([]byte(payload), &e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
