package ledger

import "time"

type Status string

const (
	StatusPendingDeposit Status = "pending_deposit"
	StatusActive         Status = "active"
	StatusClosed         Status = "closed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPendingDeposit, StatusActive, StatusClosed:
		return true
	}
	return false
}

// prior returns the only status an agent may hold before moving to s.
func (s Status) prior() (Status, bool) {
	switch s {
	case StatusActive:
		return StatusPendingDeposit, true
	case StatusClosed:
		return StatusActive, true
	}
	return "", false
}

type Agent struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	WalletAddress     string     `json:"wallet_address"`
	WalletIndex       *int64     `json:"wallet_index,omitempty"`
	PrivateKeyEnc     string     `json:"-"`
	APIKeyHash        string     `json:"-"`
	DepositAmount     float64    `json:"deposit_amount"`
	DepositTx         *string    `json:"deposit_tx,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	Status            Status     `json:"status"`
	WithdrawalAddress string     `json:"withdrawal_address"`
	ClosedAt          *time.Time `json:"closed_at,omitempty"`
	FinalEquity       *float64   `json:"final_equity,omitempty"`
	FinalPnL          *float64   `json:"final_pnl,omitempty"`
	FinalPnLPct       *float64   `json:"final_pnl_pct,omitempty"`
	WithdrawalTx      *string    `json:"withdrawal_tx,omitempty"`
}

// AgentPatch is a partial update. Nil fields are left untouched.
type AgentPatch struct {
	DepositTx    *string
	ClosedAt     *time.Time
	FinalEquity  *float64
	FinalPnL     *float64
	FinalPnLPct  *float64
	WithdrawalTx *string
}

func (p AgentPatch) closesAccount() bool {
	return p.ClosedAt != nil && p.FinalEquity != nil && p.FinalPnL != nil && p.FinalPnLPct != nil
}

func (p AgentPatch) touchesClosure() bool {
	return p.ClosedAt != nil || p.FinalEquity != nil || p.FinalPnL != nil || p.FinalPnLPct != nil
}

func (p AgentPatch) assignments() ([]string, []any) {
	var cols []string
	var args []any
	if p.DepositTx != nil {
		cols = append(cols, "deposit_tx=?")
		args = append(args, *p.DepositTx)
	}
	if p.ClosedAt != nil {
		cols = append(cols, "closed_at=?")
		args = append(args, formatTime(*p.ClosedAt))
	}
	if p.FinalEquity != nil {
		cols = append(cols, "final_equity=?")
		args = append(args, *p.FinalEquity)
	}
	if p.FinalPnL != nil {
		cols = append(cols, "final_pnl=?")
		args = append(args, *p.FinalPnL)
	}
	if p.FinalPnLPct != nil {
		cols = append(cols, "final_pnl_pct=?")
		args = append(args, *p.FinalPnLPct)
	}
	if p.WithdrawalTx != nil {
		cols = append(cols, "withdrawal_tx=?")
		args = append(args, *p.WithdrawalTx)
	}
	return cols, args
}

type Trade struct {
	ID          int64     `json:"id"`
	AgentID     string    `json:"agent_id"`
	Symbol      string    `json:"symbol"`
	Side        string    `json:"side"`
	Size        float64   `json:"size"`
	Price       float64   `json:"price"`
	RealizedPnL float64   `json:"realized_pnl"`
	Timestamp   time.Time `json:"timestamp"`
	FillID      *string   `json:"fill_id,omitempty"`
}

type AgentStats struct {
	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	WinRate       float64 `json:"win_rate"`
	TotalPnL      float64 `json:"total_pnl"`
}

type JobRun struct {
	ID         int64      `json:"id"`
	JobName    string     `json:"job_name"`
	Scope      string     `json:"scope"`
	AgentID    *string    `json:"agent_id,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	OK         *bool      `json:"ok,omitempty"`
	Error      *string    `json:"error,omitempty"`
	MetaJSON   *string    `json:"meta_json,omitempty"`
}
