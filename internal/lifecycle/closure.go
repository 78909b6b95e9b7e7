package lifecycle

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/robinclaw/robinclaw/internal/apperr"
	"github.com/robinclaw/robinclaw/internal/ledger"
	"github.com/robinclaw/robinclaw/internal/metrics"
)

const (
	CloseStatusOK      = "ok"
	CloseStatusPartial = "partial"

	withdrawalNote = "Manual withdrawal may be required via Hyperliquid UI"
)

type ClosedPosition struct {
	Symbol string  `json:"symbol"`
	Size   float64 `json:"size"`
	PnL    float64 `json:"pnl"`
}

// Withdrawal is the intended payout. Funds are moved manually, outside this service.
type Withdrawal struct {
	Address      string  `json:"address"`
	AccountValue float64 `json:"account_value"`
	Withdrawable float64 `json:"withdrawable"`
	Note         string  `json:"note"`
}

type CloseResults struct {
	PositionsClosed []ClosedPosition `json:"positions_closed"`
	OrdersCancelled int              `json:"orders_cancelled"`
	Withdrawal      Withdrawal       `json:"withdrawal"`
	Errors          []string         `json:"errors"`
}

type CloseResult struct {
	Status       string       `json:"status"`
	Message      string       `json:"message"`
	FinalBalance float64      `json:"final_balance"`
	FinalPnL     float64      `json:"final_pnl"`
	FinalPnLPct  float64      `json:"final_pnl_pct"`
	Results      CloseResults `json:"results"`
}

// CloseAccount flattens the agent, cancels its orders, books the final P&L and moves
// it to closed. Per-position failures are collected, not fatal. The ledger write is a
// compare-and-set, so of two racing closures only one can succeed; within this
// process the loser is turned away before touching the venue.
func (m *Manager) CloseAccount(ctx context.Context, agent *ledger.Agent) (*CloseResult, error) {
	if agent.Status == ledger.StatusClosed {
		return nil, apperr.Policy("Account already closed.")
	}
	if agent.Status != ledger.StatusActive {
		return nil, apperr.Policy("Agent is %s, not active. Cannot close account.", agent.Status)
	}
	if _, busy := m.closing.LoadOrStore(agent.ID, struct{}{}); busy {
		return nil, apperr.Policy("Account closure already in progress.")
	}
	defer m.closing.Delete(agent.ID)

	// Re-read under the guard: a closure that finished since the caller authenticated
	// must not run again.
	cur, err := m.store.GetAgent(ctx, agent.ID)
	if err != nil {
		return nil, err
	}
	if cur.Status == ledger.StatusClosed {
		return nil, apperr.Policy("Account already closed.")
	}

	t, err := m.trader(cur)
	if err != nil {
		return nil, err
	}
	log := m.log.WithFields(logrus.Fields{"agent": cur.Name, "wallet": cur.WalletAddress})
	res := CloseResults{PositionsClosed: []ClosedPosition{}, Errors: []string{}}

	positions, err := t.GetPositions(ctx)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("Failed to fetch positions: %s", apperr.Message(err)))
	}
	for _, p := range positions {
		if p.Size == 0 {
			continue
		}
		out := t.ClosePosition(ctx, p.Symbol, m.policy.DefaultSlippage)
		if out.Success {
			res.PositionsClosed = append(res.PositionsClosed, ClosedPosition{Symbol: p.Symbol, Size: p.Size, PnL: p.UnrealizedPnL})
			continue
		}
		res.Errors = append(res.Errors, fmt.Sprintf("Failed to close %s: %s", p.Symbol, out.Message))
	}

	res.OrdersCancelled = t.CancelAllOrders(ctx, "")

	bal, err := t.GetBalance(ctx)
	if err != nil {
		log.Errorf("close account: final balance unavailable, ledger untouched: %v", err)
		return nil, apperr.Remote(err, "Failed to fetch final balance; account not closed. Retry later.")
	}
	res.Withdrawal = Withdrawal{
		Address:      cur.WithdrawalAddress,
		AccountValue: bal.Equity,
		Withdrawable: bal.Withdrawable,
		Note:         withdrawalNote,
	}

	// The fill sync only visits active agents, so the closing fills are booked now.
	if _, err := m.syncAgentFills(ctx, cur); err != nil {
		log.Warnf("close account: final fill sync: %v", err)
	}

	finalPnL, finalPct := closingPnL(bal.Equity, cur.DepositAmount)
	closedAt := m.now().UTC()
	equity := bal.Equity
	if err := m.store.UpdateAgentStatus(ctx, cur.ID, ledger.StatusClosed, ledger.AgentPatch{
		ClosedAt:    &closedAt,
		FinalEquity: &equity,
		FinalPnL:    &finalPnL,
		FinalPnLPct: &finalPct,
	}); err != nil {
		return nil, err
	}
	metrics.AgentsClosed.Add(1)

	out := &CloseResult{
		Status:       CloseStatusOK,
		Message:      "Account closed successfully",
		FinalBalance: bal.Equity,
		FinalPnL:     finalPnL,
		FinalPnLPct:  finalPct,
		Results:      res,
	}
	if len(res.Errors) > 0 {
		out.Status = CloseStatusPartial
		out.Message = "Account closed with some errors"
	}
	log.WithFields(logrus.Fields{
		"status": out.Status, "final_equity": bal.Equity, "final_pnl": finalPnL, "errors": len(res.Errors),
	}).Info("account closed")
	return out, nil
}

// closingPnL books the terminal figures with plain float arithmetic so the stored
// final_pnl always equals final_equity - deposit_amount bit for bit.
func closingPnL(equity, deposit float64) (pnl, pct float64) {
	pnl = equity - deposit
	if deposit != 0 {
		pct = pnl / deposit * 100
	}
	return pnl, pct
}

func addMoney(a, b float64) float64 {
	f, _ := decimal.NewFromFloat(a).Add(decimal.NewFromFloat(b)).Float64()
	return f
}

// pnlPct is pnl as a percentage of base, 0 when base is 0.
func pnlPct(pnl, base float64) float64 {
	if base == 0 {
		return 0
	}
	f, _ := decimal.NewFromFloat(pnl).Div(decimal.NewFromFloat(base)).Mul(decimal.NewFromInt(100)).Float64()
	return f
}
