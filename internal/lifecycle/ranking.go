package lifecycle

import (
	"context"
	"sort"
	"time"
)

type LeaderboardEntry struct {
	Name          string  `json:"name"`
	DepositAmount float64 `json:"deposit_amount"`
	CurrentEquity float64 `json:"current_equity"`
	PnL           float64 `json:"pnl"`
	PnLPct        float64 `json:"pnl_pct"`
	Trades        int     `json:"trades"`
	WinRate       float64 `json:"win_rate"`
}

// Leaderboard ranks active agents by realized P&L percentage, best first.
func (m *Manager) Leaderboard(ctx context.Context) ([]LeaderboardEntry, error) {
	agents, err := m.store.ListActiveAgents(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]LeaderboardEntry, 0, len(agents))
	for _, a := range agents {
		stats, err := m.store.GetAgentStats(ctx, a.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, LeaderboardEntry{
			Name:          a.Name,
			DepositAmount: a.DepositAmount,
			CurrentEquity: addMoney(a.DepositAmount, stats.TotalPnL),
			PnL:           stats.TotalPnL,
			PnLPct:        pnlPct(stats.TotalPnL, a.DepositAmount),
			Trades:        stats.TotalTrades,
			WinRate:       stats.WinRate,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].PnLPct > out[j].PnLPct })
	return out, nil
}

type HallOfFameEntry struct {
	Name          string     `json:"name"`
	WalletAddress string     `json:"wallet_address"`
	DepositAmount float64    `json:"deposit_amount"`
	FinalEquity   float64    `json:"final_equity"`
	FinalPnL      float64    `json:"final_pnl"`
	FinalPnLPct   float64    `json:"final_pnl_pct"`
	ClosedAt      *time.Time `json:"closed_at,omitempty"`
}

// HallOfFame lists closed agents in ledger order, which is final P&L % descending.
func (m *Manager) HallOfFame(ctx context.Context) ([]HallOfFameEntry, error) {
	agents, err := m.store.ListClosedAgents(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]HallOfFameEntry, 0, len(agents))
	for _, a := range agents {
		e := HallOfFameEntry{
			Name:          a.Name,
			WalletAddress: a.WalletAddress,
			DepositAmount: a.DepositAmount,
			ClosedAt:      a.ClosedAt,
		}
		if a.FinalEquity != nil {
			e.FinalEquity = *a.FinalEquity
		}
		if a.FinalPnL != nil {
			e.FinalPnL = *a.FinalPnL
		}
		if a.FinalPnLPct != nil {
			e.FinalPnLPct = *a.FinalPnLPct
		}
		out = append(out, e)
	}
	return out, nil
}
