// Package ledger persists agents, their trades and background job bookkeeping in SQLite.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/robinclaw/robinclaw/internal/apperr"
)

// timeLayout is fixed width so that text ordering in SQL matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("db path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("mkdir db dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite：单连接更稳定
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return apperr.Persistence(err, "store unavailable")
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(v string) time.Time {
	t, err := time.Parse(timeLayout, v)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, v)
	}
	return t
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

// classify maps driver errors onto the apperr taxonomy.
func classify(err error, op string) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return apperr.Wrap(apperr.KindConflict, err, "record already exists")
	case strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return apperr.Wrap(apperr.KindNotFound, err, "agent not found")
	case strings.Contains(msg, "CHECK constraint failed"):
		return apperr.Wrap(apperr.KindValidation, err, "record violates ledger constraints")
	case strings.Contains(msg, "is immutable"), strings.Contains(msg, "append-only"), strings.Contains(msg, "agent is closed"):
		return apperr.Wrap(apperr.KindPolicy, err, "ledger record cannot be modified")
	}
	return apperr.Persistence(errors.Wrap(err, op), "storage failure")
}
