package hyperliquid_test

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robinclaw/robinclaw/internal/hyperliquid"
	"github.com/robinclaw/robinclaw/internal/hyperliquid/hltest"
)

func newClient(t *testing.T) (*hyperliquid.Client, *hltest.Venue) {
	t.Helper()
	v := hltest.NewVenue()
	t.Cleanup(v.Close)
	c := hyperliquid.NewClient(hyperliquid.Config{BaseURL: v.URL(), Timeout: 2 * time.Second})
	t.Cleanup(c.Close)
	return c, v
}

func TestMetaIsCached(t *testing.T) {
	c, v := newClient(t)
	ctx := context.Background()

	idx, info, err := c.AssetInfo(ctx, "ETH")
	require.NoError(t, err)
	assert.Equal(t, 1, idx)
	assert.Equal(t, 4, info.SzDecimals)

	v.Lock()
	v.FailInfo["meta"] = http.StatusInternalServerError
	v.Unlock()

	_, _, err = c.AssetInfo(ctx, "SOL")
	require.NoError(t, err, "second lookup must come from cache")

	_, _, err = c.AssetInfo(ctx, "DOGE")
	var unknown *hyperliquid.UnknownSymbolError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "Unknown symbol: DOGE", err.Error())
}

func TestInfoQueries(t *testing.T) {
	c, v := newClient(t)
	ctx := context.Background()
	v.SetAccount("0xAbC0000000000000000000000000000000000001", 1500,
		hltest.Position{Coin: "ETH", Size: -0.5, EntryPx: 3000})

	mids, err := c.AllMids(ctx)
	require.NoError(t, err)
	assert.Equal(t, "65000", mids["BTC"])

	st, err := c.ClearinghouseState(ctx, "0xabc0000000000000000000000000000000000001")
	require.NoError(t, err)
	assert.Equal(t, 1500.0, hyperliquid.ParseFloat(st.MarginSummary.AccountValue))
	require.Len(t, st.AssetPositions, 1)
	assert.Equal(t, "-0.5", st.AssetPositions[0].Position.Szi)

	orders, err := c.OpenOrders(ctx, "0xabc0000000000000000000000000000000000001")
	require.NoError(t, err)
	assert.Empty(t, orders)

	book, err := c.L2Book(ctx, "BTC")
	require.NoError(t, err)
	assert.Equal(t, "BTC", book.Coin)
}

func TestInfoFailureIsError(t *testing.T) {
	c, v := newClient(t)
	v.Lock()
	v.FailInfo["allMids"] = http.StatusInternalServerError
	v.Unlock()

	_, err := c.AllMids(context.Background())
	assert.Error(t, err)
}

func TestExchangeSignsAndParsesStatuses(t *testing.T) {
	c, v := newClient(t)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr := strings.ToLower(crypto.PubkeyToAddress(key.PublicKey).Hex())

	resp, err := c.Exchange(context.Background(), key, hyperliquid.NewOrderAction(hyperliquid.OrderWire{
		Asset: 0, IsBuy: true, LimitPx: "68250", Size: "0.001",
		OrderType: hyperliquid.OrderTypeWire{Limit: &hyperliquid.LimitOrderType{Tif: hyperliquid.TifIoc}},
	}))
	require.NoError(t, err)
	require.True(t, resp.OK(), resp.ErrorMessage())

	statuses, err := resp.Statuses()
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	require.NotNil(t, statuses[0].Filled)
	assert.Equal(t, "0.001", statuses[0].Filled.TotalSz)

	recorded := v.ActionsOfType("order")
	require.Len(t, recorded, 1)
	assert.Equal(t, addr, recorded[0].Signer)
}

func TestExchangeRejectionIsData(t *testing.T) {
	c, v := newClient(t)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	v.Lock()
	v.RejectCoins["SOL"] = "Insufficient margin to place order."
	v.Unlock()

	resp, err := c.Exchange(context.Background(), key, hyperliquid.NewOrderAction(hyperliquid.OrderWire{
		Asset: 2, IsBuy: false, LimitPx: "142.5", Size: "1",
		OrderType: hyperliquid.OrderTypeWire{Limit: &hyperliquid.LimitOrderType{Tif: hyperliquid.TifGtc}},
	}))
	require.NoError(t, err)
	statuses, err := resp.Statuses()
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.False(t, statuses[0].Success)
	assert.Equal(t, "Insufficient margin to place order.", statuses[0].Error)
}

func TestExchangeRequiresKey(t *testing.T) {
	c, _ := newClient(t)
	_, err := c.Exchange(context.Background(), nil, hyperliquid.NewCancelAction())
	assert.Error(t, err)
}
