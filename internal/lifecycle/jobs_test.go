package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robinclaw/robinclaw/internal/gateway"
)

func TestSyncFillsRecordsEachFillOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	agent, _ := h.register(t, "alpha", 100, true)
	h.register(t, "pending", 100, false)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ft := h.trader(agent)
	ft.fills = []gateway.Fill{
		{ID: "0xa:2", Symbol: "ETH", Side: gateway.Sell, Size: 1, Price: 3100, RealizedPnL: 5, Time: base.Add(time.Minute)},
		{ID: "0xa:1", Symbol: "ETH", Side: gateway.Buy, Size: 1, Price: 3000, Time: base},
	}

	res, err := h.mgr.SyncFills(ctx)
	require.NoError(t, err)
	assert.Equal(t, FillSyncResult{Agents: 1, OK: 1, Recorded: 2}, res)

	res, err = h.mgr.SyncFills(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Recorded)

	ft.mu.Lock()
	ft.fills = append([]gateway.Fill{{ID: "0xb:3", Symbol: "SOL", Side: gateway.Buy, Size: 2, Price: 150, RealizedPnL: -1, Time: base.Add(2 * time.Minute)}}, ft.fills...)
	ft.mu.Unlock()
	res, err = h.mgr.SyncFills(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Recorded)

	trades, err := h.store.GetAgentTrades(ctx, agent.ID, 0)
	require.NoError(t, err)
	require.Len(t, trades, 3)
	assert.Equal(t, "SOL", trades[0].Symbol)
	stats, err := h.store.GetAgentStats(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, 4.0, stats.TotalPnL)
	assert.Equal(t, 1, stats.WinningTrades)
}

func TestStartFillSyncRecordsJobRun(t *testing.T) {
	h := newHarness(t)
	agent, _ := h.register(t, "alpha", 100, true)
	h.trader(agent).fills = []gateway.Fill{{ID: "0xa:1", Symbol: "ETH", Side: gateway.Buy, Size: 1, Price: 1, Time: time.Now()}}

	runID, err := h.mgr.StartFillSync("manual")
	require.NoError(t, err)
	h.mgr.Stop()

	run, err := h.store.GetJobRun(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, JobFillsSync, run.JobName)
	require.NotNil(t, run.OK)
	assert.True(t, *run.OK)
	require.NotNil(t, run.MetaJSON)
	assert.Contains(t, *run.MetaJSON, `"recorded":1`)
}
