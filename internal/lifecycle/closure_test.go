package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robinclaw/robinclaw/internal/apperr"
	"github.com/robinclaw/robinclaw/internal/gateway"
	"github.com/robinclaw/robinclaw/internal/ledger"
)

func TestCloseAccountBooksFinalPnL(t *testing.T) {
	cases := []struct {
		name    string
		balance float64
		pnl     float64
		pct     float64
	}{
		{"profit", 1500, 500, 50},
		{"loss", 800, -200, -20},
		{"double", 2000, 1000, 100},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()
			agent, _ := h.register(t, "alpha", 1000, true)
			h.trader(agent).balance = gateway.Balance{Equity: c.balance, Withdrawable: c.balance}

			res, err := h.mgr.CloseAccount(ctx, agent)
			require.NoError(t, err)
			assert.Equal(t, CloseStatusOK, res.Status)
			assert.Equal(t, "Account closed successfully", res.Message)
			assert.Equal(t, c.balance, res.FinalBalance)
			assert.Equal(t, c.pnl, res.FinalPnL)
			assert.Equal(t, c.pct, res.FinalPnLPct)
			assert.Empty(t, res.Results.Errors)
			assert.Equal(t, agent.WithdrawalAddress, res.Results.Withdrawal.Address)

			row, err := h.store.GetAgent(ctx, agent.ID)
			require.NoError(t, err)
			assert.Equal(t, ledger.StatusClosed, row.Status)
			require.NotNil(t, row.ClosedAt)
			assert.Equal(t, c.balance, *row.FinalEquity)
			assert.Equal(t, c.pnl, *row.FinalPnL)
			assert.Equal(t, c.pct, *row.FinalPnLPct)
			assert.Equal(t, *row.FinalEquity-row.DepositAmount, *row.FinalPnL)
		})
	}
}

func TestCloseAccountPnLIsExactDifference(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	deposit, equity := 10.1, 10.3
	agent, _ := h.register(t, "alpha", deposit, true)
	h.trader(agent).balance = gateway.Balance{Equity: equity, Withdrawable: equity}

	res, err := h.mgr.CloseAccount(ctx, agent)
	require.NoError(t, err)
	assert.Equal(t, equity-deposit, res.FinalPnL)
	assert.Equal(t, (equity-deposit)/deposit*100, res.FinalPnLPct)

	row, err := h.store.GetAgent(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, row.DepositAmount, deposit)
	assert.Equal(t, *row.FinalEquity-row.DepositAmount, *row.FinalPnL)
	assert.Equal(t, res.FinalPnLPct, *row.FinalPnLPct)
}

func TestCloseAccountTwiceIsRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	agent, _ := h.register(t, "alpha", 1000, true)
	h.trader(agent).balance = gateway.Balance{Equity: 1500}

	_, err := h.mgr.CloseAccount(ctx, agent)
	require.NoError(t, err)
	first, err := h.store.GetAgent(ctx, agent.ID)
	require.NoError(t, err)

	// Stale snapshot from before the first closure.
	_, err = h.mgr.CloseAccount(ctx, agent)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindPolicy))
	assert.Equal(t, "Account already closed.", apperr.Message(err))

	_, err = h.mgr.CloseAccount(ctx, first)
	assert.Equal(t, "Account already closed.", apperr.Message(err))

	second, err := h.store.GetAgent(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestCloseAccountPartialFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	agent, _ := h.register(t, "alpha", 1000, true)
	ft := h.trader(agent)
	ft.balance = gateway.Balance{Equity: 950, Withdrawable: 900}
	ft.positions = []gateway.Position{
		{Symbol: "BTC", Size: 0.01, UnrealizedPnL: 12},
		{Symbol: "ETH", Size: -1, UnrealizedPnL: -3},
	}
	ft.closeFail["ETH"] = "Order not filled: no liquidity"
	ft.orders = []gateway.OpenOrder{{OrderID: 1, Symbol: "BTC"}, {OrderID: 2, Symbol: "SOL"}}

	res, err := h.mgr.CloseAccount(ctx, agent)
	require.NoError(t, err)
	assert.Equal(t, CloseStatusPartial, res.Status)
	assert.Equal(t, "Account closed with some errors", res.Message)
	require.Len(t, res.Results.Errors, 1)
	assert.Equal(t, "Failed to close ETH: Order not filled: no liquidity", res.Results.Errors[0])
	require.Len(t, res.Results.PositionsClosed, 1)
	assert.Equal(t, ClosedPosition{Symbol: "BTC", Size: 0.01, PnL: 12}, res.Results.PositionsClosed[0])
	assert.Equal(t, 2, res.Results.OrdersCancelled)
	assert.Equal(t, -50.0, res.FinalPnL)

	row, err := h.store.GetAgent(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusClosed, row.Status)
	assert.Equal(t, -5.0, *row.FinalPnLPct)
}

func TestCloseAccountWithoutBalanceLeavesLedgerUntouched(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	agent, _ := h.register(t, "alpha", 1000, true)
	ft := h.trader(agent)
	ft.balanceErr = errors.New("timeout")

	_, err := h.mgr.CloseAccount(ctx, agent)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindRemote))

	row, err := h.store.GetAgent(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusActive, row.Status)
	assert.Nil(t, row.FinalPnL)

	ft.mu.Lock()
	ft.balanceErr = nil
	ft.balance = gateway.Balance{Equity: 1000}
	ft.mu.Unlock()
	res, err := h.mgr.CloseAccount(ctx, agent)
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.FinalPnL)
}

func TestCloseAccountZeroDeposit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	agent := &ledger.Agent{
		ID:                "zero",
		Name:              "zero",
		WalletAddress:     "0x00000000000000000000000000000000000000aa",
		PrivateKeyEnc:     "sealed:zero",
		APIKeyHash:        "hash-zero",
		WithdrawalAddress: "0x000000000000000000000000000000000000dEaD",
	}
	require.NoError(t, h.store.CreateAgent(ctx, agent))
	agent, err := h.mgr.Activate(ctx, "zero", "")
	require.NoError(t, err)
	h.trader(agent).balance = gateway.Balance{Equity: 25}

	res, err := h.mgr.CloseAccount(ctx, agent)
	require.NoError(t, err)
	assert.Equal(t, 25.0, res.FinalPnL)
	assert.Equal(t, 0.0, res.FinalPnLPct)
}

func TestCloseAccountRequiresActive(t *testing.T) {
	h := newHarness(t)
	agent, _ := h.register(t, "alpha", 50, false)
	_, err := h.mgr.CloseAccount(context.Background(), agent)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindPolicy))
}

func TestConcurrentClosureRunsOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	agent, _ := h.register(t, "alpha", 1000, true)
	h.trader(agent).balance = gateway.Balance{Equity: 1100}

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			snapshot := *agent
			_, errs[i] = h.mgr.CloseAccount(ctx, &snapshot)
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.True(t, apperr.Is(err, apperr.KindPolicy), err)
	}
	assert.Equal(t, 1, ok)
}
