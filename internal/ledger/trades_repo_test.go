package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robinclaw/robinclaw/internal/apperr"
)

func TestStatsWithNoTrades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := testAgent("alpha")
	require.NoError(t, s.CreateAgent(ctx, a))

	st, err := s.GetAgentStats(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, AgentStats{}, st)
}

func TestStatsCountsOnlyPositivePnLAsWins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := testAgent("alpha")
	require.NoError(t, s.CreateAgent(ctx, a))

	pnls := []float64{12.5, -4, 0, 7.5}
	for _, p := range pnls {
		_, err := s.RecordTrade(ctx, &Trade{AgentID: a.ID, Symbol: "ETH", Side: "buy", Size: 0.1, Price: 3000, RealizedPnL: p})
		require.NoError(t, err)
	}

	st, err := s.GetAgentStats(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, st.TotalTrades)
	assert.Equal(t, 2, st.WinningTrades)
	assert.InDelta(t, 50.0, st.WinRate, 1e-9)
	assert.InDelta(t, 16.0, st.TotalPnL, 1e-9)
}

func TestTradesNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := testAgent("alpha")
	require.NoError(t, s.CreateAgent(ctx, a))

	base := time.Now().Add(-time.Hour)
	for i, sym := range []string{"BTC", "ETH", "SOL"} {
		_, err := s.RecordTrade(ctx, &Trade{AgentID: a.ID, Symbol: sym, Side: "sell", Size: 1, Price: 1,
			Timestamp: base.Add(time.Duration(i) * time.Second)})
		require.NoError(t, err)
	}

	trades, err := s.GetAgentTrades(ctx, a.ID, 0)
	require.NoError(t, err)
	require.Len(t, trades, 3)
	assert.Equal(t, "SOL", trades[0].Symbol)
	assert.Equal(t, "BTC", trades[2].Symbol)

	limited, err := s.GetAgentTrades(ctx, a.ID, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestRecordTradeRequiresExistingAgent(t *testing.T) {
	s := newTestStore(t)
	_, err := s.RecordTrade(context.Background(), &Trade{AgentID: "ghost", Symbol: "BTC", Side: "buy", Size: 1, Price: 1})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestRecordTradeRejectsBadSide(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := testAgent("alpha")
	require.NoError(t, s.CreateAgent(ctx, a))

	_, err := s.RecordTrade(ctx, &Trade{AgentID: a.ID, Symbol: "BTC", Side: "long", Size: 1, Price: 1})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestRecordTradeDedupesByFillID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := testAgent("alpha")
	require.NoError(t, s.CreateAgent(ctx, a))

	fill := "0xabc:17"
	tr := &Trade{AgentID: a.ID, Symbol: "ETH", Side: "buy", Size: 1, Price: 2000, RealizedPnL: 3, FillID: &fill}
	inserted, err := s.RecordTrade(ctx, tr)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.NotZero(t, tr.ID)

	again := *tr
	again.RealizedPnL = 99
	inserted, err = s.RecordTrade(ctx, &again)
	require.NoError(t, err)
	assert.False(t, inserted)

	trades, err := s.GetAgentTrades(ctx, a.ID, 0)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, 3.0, trades[0].RealizedPnL)
}

func TestTradesAreAppendOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := testAgent("alpha")
	require.NoError(t, s.CreateAgent(ctx, a))
	tr := &Trade{AgentID: a.ID, Symbol: "ETH", Side: "buy", Size: 1, Price: 2000}
	_, err := s.RecordTrade(ctx, tr)
	require.NoError(t, err)

	_, err = s.db.ExecContext(ctx, `UPDATE trades SET realized_pnl=100 WHERE id=?`, tr.ID)
	assert.Error(t, err)
	_, err = s.db.ExecContext(ctx, `DELETE FROM trades WHERE id=?`, tr.ID)
	assert.Error(t, err)
}

func TestSyncState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := testAgent("alpha")
	require.NoError(t, s.CreateAgent(ctx, a))

	_, ok, err := s.GetSyncState(ctx, a.ID, "fills_cursor")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetSyncState(ctx, a.ID, "fills_cursor", "100"))
	require.NoError(t, s.SetSyncState(ctx, a.ID, "fills_cursor", "200"))
	v, ok, err := s.GetSyncState(ctx, a.ID, "fills_cursor")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "200", v)
}
