package ledger

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/robinclaw/robinclaw/internal/apperr"
)

// RecordTrade appends a trade. Trades carrying a FillID are inserted at most once;
// the returned bool reports whether a new row was written.
func (s *Store) RecordTrade(ctx context.Context, t *Trade) (bool, error) {
	if t == nil {
		return false, apperr.Validation("trade is required")
	}
	t.Side = strings.ToLower(strings.TrimSpace(t.Side))
	if t.Side != "buy" && t.Side != "sell" {
		return false, apperr.Validation("side must be 'buy' or 'sell'")
	}
	if strings.TrimSpace(t.Symbol) == "" {
		return false, apperr.Validation("symbol is required")
	}
	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now()
	}

	verb := "INSERT"
	if t.FillID != nil {
		verb = "INSERT OR IGNORE"
	}
	res, err := s.db.ExecContext(ctx, verb+` INTO trades (agent_id,symbol,side,size,price,realized_pnl,ts,fill_id)
VALUES (?,?,?,?,?,?,?,?)
`, t.AgentID, t.Symbol, t.Side, t.Size, t.Price, t.RealizedPnL, formatTime(t.Timestamp), t.FillID)
	if err != nil {
		return false, classify(err, "insert trade")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, classify(err, "insert trade")
	}
	if n == 0 {
		return false, nil
	}
	if id, err := res.LastInsertId(); err == nil {
		t.ID = id
	}
	return true, nil
}

// GetAgentTrades returns an agent's trades newest first. limit <= 0 returns all.
func (s *Store) GetAgentTrades(ctx context.Context, agentID string, limit int) ([]Trade, error) {
	q := `
SELECT id,agent_id,symbol,side,size,price,realized_pnl,ts,fill_id
FROM trades WHERE agent_id=?
ORDER BY ts DESC, id DESC`
	args := []any{agentID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, classify(err, "list trades")
	}
	defer rows.Close()

	var out []Trade
	for rows.Next() {
		var (
			t      Trade
			ts     string
			fillID sql.NullString
		)
		if err := rows.Scan(&t.ID, &t.AgentID, &t.Symbol, &t.Side, &t.Size, &t.Price, &t.RealizedPnL, &ts, &fillID); err != nil {
			return nil, classify(err, "scan trade")
		}
		t.Timestamp = parseTime(ts)
		if fillID.Valid {
			v := fillID.String
			t.FillID = &v
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "list trades")
	}
	return out, nil
}

// GetAgentStats aggregates an agent's trades. Only strictly positive realized P&L
// counts as a win.
func (s *Store) GetAgentStats(ctx context.Context, agentID string) (AgentStats, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT COUNT(*),
       COALESCE(SUM(CASE WHEN realized_pnl > 0 THEN 1 ELSE 0 END), 0),
       COALESCE(SUM(realized_pnl), 0)
FROM trades WHERE agent_id=?
`, agentID)
	var st AgentStats
	if err := row.Scan(&st.TotalTrades, &st.WinningTrades, &st.TotalPnL); err != nil {
		return AgentStats{}, classify(err, "agent stats")
	}
	if st.TotalTrades > 0 {
		st.WinRate = float64(st.WinningTrades) / float64(st.TotalTrades) * 100
	}
	return st, nil
}
