package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robinclaw/robinclaw/internal/apperr"
	"github.com/robinclaw/robinclaw/internal/custody"
	"github.com/robinclaw/robinclaw/internal/hyperliquid"
	"github.com/robinclaw/robinclaw/internal/hyperliquid/hltest"
)

func newTestGateway(t *testing.T) (*Gateway, *hltest.Venue) {
	t.Helper()
	v := hltest.NewVenue()
	t.Cleanup(v.Close)
	client := hyperliquid.NewClient(hyperliquid.Config{BaseURL: v.URL(), Timeout: 2 * time.Second})
	t.Cleanup(client.Close)

	key := make([]byte, 32)
	for i := range key {
		key[i] = 0x42
	}
	sealer, err := custody.NewSealer(key)
	require.NoError(t, err)
	w, err := custody.RandomProvisioner{}.Provision(context.Background())
	require.NoError(t, err)
	sealed, err := sealer.Seal(w.PrivateKeyHex)
	require.NoError(t, err)

	g, err := NewFactory(client, sealer).ForAgent(sealed)
	require.NoError(t, err)
	require.Equal(t, w.Address, g.Address())
	return g, v
}

func TestForAgentRejectsGarbage(t *testing.T) {
	key := make([]byte, 32)
	sealer, err := custody.NewSealer(key)
	require.NoError(t, err)
	_, err = NewFactory(nil, sealer).ForAgent("not-sealed")
	assert.Error(t, err)

	sealed, err := sealer.Seal("zz")
	require.NoError(t, err)
	_, err = NewFactory(nil, sealer).ForAgent(sealed)
	assert.Error(t, err)
}

func TestBalanceAndPositions(t *testing.T) {
	g, v := newTestGateway(t)
	ctx := context.Background()
	v.SetAccount(g.Address(), 1250.5,
		hltest.Position{Coin: "ETH", Size: -2, EntryPx: 3000, Leverage: 5})

	bal, err := g.GetBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1250.5, bal.Equity)
	assert.Equal(t, 1250.5, bal.Withdrawable)

	positions, err := g.GetPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	p := positions[0]
	assert.Equal(t, "ETH", p.Symbol)
	assert.Equal(t, -2.0, p.Size)
	assert.Equal(t, 3000.0, p.EntryPrice)
	assert.Equal(t, 3000.0, p.MarkPrice)
	assert.Equal(t, 5, p.Leverage)
}

func TestQueryFailureIsRemoteError(t *testing.T) {
	g, v := newTestGateway(t)
	v.Lock()
	v.FailInfo["clearinghouseState"] = http.StatusInternalServerError
	v.Unlock()

	_, err := g.GetBalance(context.Background())
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindRemote))
}

func TestMarketOrderFillsWithSlippageBound(t *testing.T) {
	g, v := newTestGateway(t)
	v.SetAccount(g.Address(), 1000)

	out := g.PlaceMarketOrder(context.Background(), "ETH", Buy, 0.123456, 0.01)
	require.True(t, out.Success, out.Message)
	assert.Equal(t, "Order filled", out.Message)
	assert.Equal(t, 0.1235, out.FilledSize)
	assert.Equal(t, 3232.0, out.AvgPrice)
	assert.NotEmpty(t, out.OrderID)

	orders := v.ActionsOfType("order")
	require.Len(t, orders, 1)
	assert.Equal(t, g.Address(), orders[0].Signer)

	var action hyperliquid.OrderAction
	require.NoError(t, json.Unmarshal(orders[0].Raw, &action))
	require.Len(t, action.Orders, 1)
	assert.Equal(t, 1, action.Orders[0].Asset)
	assert.Equal(t, hyperliquid.TifIoc, action.Orders[0].OrderType.Limit.Tif)
	assert.False(t, action.Orders[0].ReduceOnly)
}

func TestOrderValidationFailsWithoutSubmitting(t *testing.T) {
	g, v := newTestGateway(t)
	ctx := context.Background()

	out := g.PlaceMarketOrder(ctx, "DOGE", Buy, 1, 0)
	assert.False(t, out.Success)
	assert.Equal(t, "Unknown symbol: DOGE", out.Message)

	out = g.PlaceMarketOrder(ctx, "BTC", Buy, 0.000001, 0)
	assert.False(t, out.Success)
	assert.Contains(t, out.Message, "rounds to zero")

	out = g.PlaceLimitOrder(ctx, "BTC", Sell, 1, 0, false)
	assert.False(t, out.Success)

	assert.Empty(t, v.ActionsOfType("order"))
}

func TestRejectedOrderIsOutcome(t *testing.T) {
	g, v := newTestGateway(t)
	v.Lock()
	v.RejectCoins["SOL"] = "Insufficient margin to place order."
	v.Unlock()

	out := g.PlaceMarketOrder(context.Background(), "SOL", Sell, 1, 0)
	assert.False(t, out.Success)
	assert.Equal(t, "Order not filled: Insufficient margin to place order.", out.Message)

	v.Lock()
	v.FailExchange = true
	v.Unlock()
	out = g.PlaceLimitOrder(context.Background(), "ETH", Buy, 1, 3000, false)
	assert.False(t, out.Success)
	assert.Contains(t, out.Message, "Error: ")
}

func TestLimitAndTriggerOrdersRest(t *testing.T) {
	g, _ := newTestGateway(t)
	ctx := context.Background()

	out := g.PlaceLimitOrder(ctx, "BTC", Buy, 0.01, 60000.123, false)
	require.True(t, out.Success, out.Message)
	assert.Equal(t, "Limit order placed", out.Message)

	out = g.PlaceTriggerOrder(ctx, "BTC", Sell, 0.01, 58000, StopLoss)
	require.True(t, out.Success, out.Message)

	orders, err := g.GetOpenOrders(ctx, "BTC")
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, 60000.0, orders[0].Price)
	assert.Equal(t, "limit", orders[0].OrderType)
	assert.Equal(t, "stop_market", orders[1].OrderType)
	assert.True(t, orders[1].ReduceOnly)

	none, err := g.GetOpenOrders(ctx, "ETH")
	require.NoError(t, err)
	assert.Empty(t, none)

	bad := g.PlaceTriggerOrder(ctx, "BTC", Sell, 0.01, 58000, TriggerKind("x"))
	assert.False(t, bad.Success)
}

func TestClosePosition(t *testing.T) {
	g, v := newTestGateway(t)
	ctx := context.Background()
	v.SetAccount(g.Address(), 500, hltest.Position{Coin: "SOL", Size: -3, EntryPx: 140})

	flat := g.ClosePosition(ctx, "ETH", 0)
	assert.True(t, flat.Success)
	assert.True(t, flat.NoPosition)

	out := g.ClosePosition(ctx, "SOL", 0)
	require.True(t, out.Success, out.Message)
	assert.Equal(t, 3.0, out.FilledSize)

	var action hyperliquid.OrderAction
	orders := v.ActionsOfType("order")
	require.Len(t, orders, 1)
	require.NoError(t, json.Unmarshal(orders[0].Raw, &action))
	assert.True(t, action.Orders[0].IsBuy)
	assert.True(t, action.Orders[0].ReduceOnly)

	positions, err := g.GetPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, positions)
}

func TestCancelAndLeverage(t *testing.T) {
	g, v := newTestGateway(t)
	ctx := context.Background()

	require.True(t, g.PlaceLimitOrder(ctx, "ETH", Buy, 1, 3000, false).Success)
	require.True(t, g.PlaceLimitOrder(ctx, "SOL", Buy, 1, 100, false).Success)
	require.True(t, g.PlaceLimitOrder(ctx, "SOL", Buy, 1, 101, false).Success)

	orders, err := g.GetOpenOrders(ctx, "ETH")
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.True(t, g.CancelOrder(ctx, "ETH", orders[0].OrderID))
	assert.False(t, g.CancelOrder(ctx, "ETH", orders[0].OrderID), "already cancelled")

	assert.Equal(t, 2, g.CancelAllOrders(ctx, ""))
	assert.Equal(t, 0, g.CancelAllOrders(ctx, ""))

	assert.True(t, g.SetLeverage(ctx, "BTC", 10, true))
	assert.False(t, g.SetLeverage(ctx, "DOGE", 10, true))
	assert.Len(t, v.ActionsOfType("updateLeverage"), 1)
}

func TestGetFills(t *testing.T) {
	g, v := newTestGateway(t)
	v.Lock()
	v.Fills[g.Address()] = []hyperliquid.Fill{
		{Coin: "ETH", Px: "3100", Sz: "0.5", Side: "A", Time: 1700000000000, ClosedPnl: "12.5", Hash: "0xabc", Tid: 7, Oid: 1, Fee: "0.1"},
		{Coin: "ETH", Px: "3000", Sz: "0.5", Side: "B", Time: 1699990000000, ClosedPnl: "0", Hash: "0xabc", Tid: 6, Oid: 2},
	}
	v.Unlock()

	fills, err := g.GetFills(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, fills, 1)
	f := fills[0]
	assert.Equal(t, "0xabc:7", f.ID)
	assert.Equal(t, Sell, f.Side)
	assert.Equal(t, 12.5, f.RealizedPnL)
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), f.Time)
}
