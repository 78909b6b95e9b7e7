package ledger

import (
	"context"
	"fmt"
	"time"
)

func (s *Store) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA foreign_keys=ON;`,
		`
CREATE TABLE IF NOT EXISTS agents (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL COLLATE NOCASE UNIQUE,
  wallet_address TEXT NOT NULL COLLATE NOCASE UNIQUE,
  wallet_index INTEGER UNIQUE,
  private_key_enc TEXT NOT NULL,
  api_key_hash TEXT NOT NULL UNIQUE,
  deposit_amount REAL NOT NULL,
  deposit_tx TEXT,
  created_at TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending_deposit'
    CHECK (status IN ('pending_deposit','active','closed')),
  withdrawal_address TEXT NOT NULL,
  closed_at TEXT,
  final_equity REAL,
  final_pnl REAL,
  final_pnl_pct REAL,
  withdrawal_tx TEXT,
  CHECK ((status = 'closed') = (closed_at IS NOT NULL AND final_equity IS NOT NULL AND final_pnl IS NOT NULL AND final_pnl_pct IS NOT NULL))
);`,
		`CREATE INDEX IF NOT EXISTS idx_agents_status_created ON agents(status, created_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_agents_closed_rank ON agents(status, final_pnl_pct DESC);`,
		`
CREATE TRIGGER IF NOT EXISTS trg_agents_deposit_immutable
BEFORE UPDATE OF deposit_amount ON agents
WHEN NEW.deposit_amount <> OLD.deposit_amount
BEGIN
  SELECT RAISE(ABORT, 'deposit_amount is immutable');
END;`,
		`
CREATE TRIGGER IF NOT EXISTS trg_agents_closed_terminal
BEFORE UPDATE ON agents
WHEN OLD.status = 'closed'
BEGIN
  SELECT RAISE(ABORT, 'agent is closed');
END;`,
		`
CREATE TABLE IF NOT EXISTS trades (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  agent_id TEXT NOT NULL REFERENCES agents(id),
  symbol TEXT NOT NULL,
  side TEXT NOT NULL CHECK (side IN ('buy','sell')),
  size REAL NOT NULL,
  price REAL NOT NULL,
  realized_pnl REAL NOT NULL DEFAULT 0,
  ts TEXT NOT NULL,
  fill_id TEXT UNIQUE
);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_agent_ts ON trades(agent_id, ts DESC);`,
		`
CREATE TRIGGER IF NOT EXISTS trg_trades_no_update
BEFORE UPDATE ON trades
BEGIN
  SELECT RAISE(ABORT, 'trades are append-only');
END;`,
		`
CREATE TRIGGER IF NOT EXISTS trg_trades_no_delete
BEFORE DELETE ON trades
BEGIN
  SELECT RAISE(ABORT, 'trades are append-only');
END;`,
		`
CREATE TABLE IF NOT EXISTS job_runs (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  job_name TEXT NOT NULL,
  scope TEXT NOT NULL, -- "batch" | "agent"
  agent_id TEXT,       -- nullable when batch
  started_at TEXT NOT NULL,
  finished_at TEXT,
  ok INTEGER,
  error TEXT,
  meta_json TEXT
);`,
		`CREATE INDEX IF NOT EXISTS idx_job_runs_started ON job_runs(started_at DESC);`,
		`
CREATE TABLE IF NOT EXISTS sync_state (
  agent_id TEXT NOT NULL REFERENCES agents(id),
  key TEXT NOT NULL,
  value TEXT NOT NULL,
  updated_at TEXT NOT NULL,
  PRIMARY KEY (agent_id, key)
);`,
		`
CREATE TABLE IF NOT EXISTS counters (
  name TEXT PRIMARY KEY,
  value INTEGER NOT NULL
);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
