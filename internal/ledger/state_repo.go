package ledger

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

func (s *Store) GetSyncState(ctx context.Context, agentID string, key string) (string, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT value FROM sync_state WHERE agent_id=? AND key=?`, agentID, key)
	var v string
	if err := row.Scan(&v); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, classify(err, "get sync state")
	}
	return v, true, nil
}

func (s *Store) SetSyncState(ctx context.Context, agentID string, key string, value string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO sync_state (agent_id, key, value, updated_at)
VALUES (?,?,?,?)
ON CONFLICT(agent_id,key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at
`, agentID, key, value, formatTime(time.Now()))
	return classify(err, "set sync state")
}

// NextCounter atomically increments the named counter and returns the new value.
// The first call for a name returns 1.
func (s *Store) NextCounter(ctx context.Context, name string) (int64, error) {
	row := s.db.QueryRowContext(ctx, `
INSERT INTO counters (name, value) VALUES (?, 1)
ON CONFLICT(name) DO UPDATE SET value=value+1
RETURNING value
`, name)
	var v int64
	if err := row.Scan(&v); err != nil {
		return 0, classify(err, "next counter")
	}
	return v, nil
}
