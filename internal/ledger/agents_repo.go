package ledger

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/robinclaw/robinclaw/internal/apperr"
)

const agentColumns = `id,name,wallet_address,wallet_index,private_key_enc,api_key_hash,deposit_amount,deposit_tx,
created_at,status,withdrawal_address,closed_at,final_equity,final_pnl,final_pnl_pct,withdrawal_tx`

func (s *Store) CreateAgent(ctx context.Context, a *Agent) error {
	if a == nil {
		return apperr.Validation("agent is required")
	}
	if a.Status == "" {
		a.Status = StatusPendingDeposit
	}
	if a.Status != StatusPendingDeposit {
		return apperr.Validation("new agents start in %s, got %s", StatusPendingDeposit, a.Status)
	}
	var walletIndex any
	if a.WalletIndex != nil {
		walletIndex = *a.WalletIndex
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO agents (id,name,wallet_address,wallet_index,private_key_enc,api_key_hash,deposit_amount,deposit_tx,created_at,status,withdrawal_address)
VALUES (?,?,?,?,?,?,?,?,?,?,?)
`, a.ID, a.Name, strings.ToLower(a.WalletAddress), walletIndex, a.PrivateKeyEnc, a.APIKeyHash, a.DepositAmount,
		a.DepositTx, formatTime(a.CreatedAt), string(a.Status), a.WithdrawalAddress)
	if err != nil {
		err = classify(err, "insert agent")
		if apperr.Is(err, apperr.KindConflict) {
			return apperr.Wrap(apperr.KindConflict, err, agentConflictMessage(err, a))
		}
		return err
	}
	return nil
}

func agentConflictMessage(err error, a *Agent) string {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "agents.name"):
		return "Agent name '" + a.Name + "' is already taken."
	case strings.Contains(msg, "agents.wallet_address"), strings.Contains(msg, "agents.wallet_index"):
		return "wallet already assigned to another agent"
	case strings.Contains(msg, "agents.api_key_hash"):
		return "credential collision, retry registration"
	}
	return "agent already exists"
}

func (s *Store) GetAgent(ctx context.Context, id string) (*Agent, error) {
	return s.getAgentWhere(ctx, "id=?", id)
}

func (s *Store) GetAgentByName(ctx context.Context, name string) (*Agent, error) {
	return s.getAgentWhere(ctx, "name=?", strings.TrimSpace(name))
}

func (s *Store) GetAgentByCredentialHash(ctx context.Context, hash string) (*Agent, error) {
	return s.getAgentWhere(ctx, "api_key_hash=?", hash)
}

func (s *Store) getAgentWhere(ctx context.Context, where string, arg any) (*Agent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE `+where, arg)
	a, err := scanAgent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("agent not found")
		}
		return nil, classify(err, "get agent")
	}
	return a, nil
}

// ListActiveAgents returns active agents, newest first.
func (s *Store) ListActiveAgents(ctx context.Context) ([]Agent, error) {
	return s.listAgents(ctx, `WHERE status='active' ORDER BY created_at DESC`)
}

// ListClosedAgents returns closed agents ranked by final P&L percentage.
func (s *Store) ListClosedAgents(ctx context.Context) ([]Agent, error) {
	return s.listAgents(ctx, `WHERE status='closed' ORDER BY final_pnl_pct DESC, closed_at ASC`)
}

func (s *Store) ListAgents(ctx context.Context) ([]Agent, error) {
	return s.listAgents(ctx, `ORDER BY created_at DESC`)
}

func (s *Store) listAgents(ctx context.Context, tail string) ([]Agent, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+agentColumns+` FROM agents `+tail)
	if err != nil {
		return nil, classify(err, "list agents")
	}
	defer rows.Close()

	var out []Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, classify(err, "scan agent")
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "list agents")
	}
	return out, nil
}

// UpdateAgentStatus moves an agent to status and applies patch in the same statement.
// The write is conditional on the agent currently holding the predecessor status, so
// concurrent callers cannot both perform the same transition.
func (s *Store) UpdateAgentStatus(ctx context.Context, id string, status Status, patch AgentPatch) error {
	prior, ok := status.prior()
	if !ok {
		return apperr.Validation("cannot transition an agent to %q", status)
	}
	if status == StatusClosed && !patch.closesAccount() {
		return apperr.Validation("closing an agent requires closed_at, final_equity, final_pnl and final_pnl_pct")
	}
	if status != StatusClosed && patch.touchesClosure() {
		return apperr.Validation("closure fields may only be written when closing an agent")
	}

	cols, args := patch.assignments()
	cols = append([]string{"status=?"}, cols...)
	args = append([]any{string(status)}, args...)
	args = append(args, id, string(prior))

	res, err := s.db.ExecContext(ctx, `UPDATE agents SET `+strings.Join(cols, ", ")+` WHERE id=? AND status=?`, args...)
	if err != nil {
		return classify(err, "update agent status")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify(err, "update agent status")
	}
	if n == 1 {
		return nil
	}

	cur, err := s.GetAgent(ctx, id)
	if err != nil {
		return err
	}
	if cur.Status == StatusClosed {
		return apperr.Policy("Account already closed.")
	}
	return apperr.Policy("Agent is %s, cannot move to %s.", cur.Status, status)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row rowScanner) (*Agent, error) {
	var (
		a           Agent
		walletIndex sql.NullInt64
		depositTx   sql.NullString
		created     string
		status      string
		closedAt    sql.NullString
		equity      sql.NullFloat64
		pnl         sql.NullFloat64
		pnlPct      sql.NullFloat64
		withdrawTx  sql.NullString
	)
	if err := row.Scan(&a.ID, &a.Name, &a.WalletAddress, &walletIndex, &a.PrivateKeyEnc, &a.APIKeyHash,
		&a.DepositAmount, &depositTx, &created, &status, &a.WithdrawalAddress, &closedAt, &equity, &pnl, &pnlPct, &withdrawTx); err != nil {
		return nil, err
	}
	a.CreatedAt = parseTime(created)
	a.Status = Status(status)
	if walletIndex.Valid {
		v := walletIndex.Int64
		a.WalletIndex = &v
	}
	if depositTx.Valid {
		v := depositTx.String
		a.DepositTx = &v
	}
	if closedAt.Valid {
		t := parseTime(closedAt.String)
		a.ClosedAt = &t
	}
	if equity.Valid {
		v := equity.Float64
		a.FinalEquity = &v
	}
	if pnl.Valid {
		v := pnl.Float64
		a.FinalPnL = &v
	}
	if pnlPct.Valid {
		v := pnlPct.Float64
		a.FinalPnLPct = &v
	}
	if withdrawTx.Valid {
		v := withdrawTx.String
		a.WithdrawalTx = &v
	}
	return &a, nil
}
