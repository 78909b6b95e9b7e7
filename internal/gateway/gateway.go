// Package gateway is the per-agent trading façade over the venue client. Every
// trading call returns an Outcome; only read queries return errors.
package gateway

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/robinclaw/robinclaw/internal/apperr"
	"github.com/robinclaw/robinclaw/internal/hyperliquid"
	"github.com/robinclaw/robinclaw/internal/metrics"
	"github.com/robinclaw/robinclaw/pkg/logger"
)

const DefaultSlippage = 0.05

// Opener decrypts sealed key material.
type Opener interface {
	Open(sealed string) (string, error)
}

// Factory builds per-agent gateways. It is the only place sealed keys are opened.
type Factory struct {
	client *hyperliquid.Client
	keys   Opener
}

func NewFactory(client *hyperliquid.Client, keys Opener) *Factory {
	return &Factory{client: client, keys: keys}
}

// ForAgent opens sealedKey and binds the key to a new Gateway.
func (f *Factory) ForAgent(sealedKey string) (*Gateway, error) {
	pkHex, err := f.keys.Open(sealedKey)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "open agent key")
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(pkHex), "0x"))
	if err != nil {
		return nil, pkgerrors.Wrap(err, "parse agent key")
	}
	return newGateway(f.client, key), nil
}

type Gateway struct {
	client  *hyperliquid.Client
	key     *ecdsa.PrivateKey
	address string
	log     *logrus.Entry
}

func newGateway(client *hyperliquid.Client, key *ecdsa.PrivateKey) *Gateway {
	addr := strings.ToLower(crypto.PubkeyToAddress(key.PublicKey).Hex())
	return &Gateway{
		client:  client,
		key:     key,
		address: addr,
		log:     logger.WithFields(logrus.Fields{"component": "gateway", "wallet": addr}),
	}
}

func (g *Gateway) Address() string { return g.address }

func (g *Gateway) GetBalance(ctx context.Context) (Balance, error) {
	st, err := g.client.ClearinghouseState(ctx, g.address)
	if err != nil {
		return Balance{}, apperr.Remote(err, "failed to fetch balance from exchange")
	}
	return Balance{
		Equity:       hyperliquid.ParseFloat(st.MarginSummary.AccountValue),
		MarginUsed:   hyperliquid.ParseFloat(st.MarginSummary.TotalMarginUsed),
		Withdrawable: hyperliquid.ParseFloat(st.Withdrawable),
	}, nil
}

func (g *Gateway) GetPositions(ctx context.Context) ([]Position, error) {
	st, err := g.client.ClearinghouseState(ctx, g.address)
	if err != nil {
		return nil, apperr.Remote(err, "failed to fetch positions from exchange")
	}
	out := make([]Position, 0, len(st.AssetPositions))
	for _, ap := range st.AssetPositions {
		p := ap.Position
		size := hyperliquid.ParseFloat(p.Szi)
		if size == 0 {
			continue
		}
		pos := Position{
			Symbol:        p.Coin,
			Size:          size,
			MarkPrice:     hyperliquid.ParseFloat(p.PositionValue) / math.Abs(size),
			UnrealizedPnL: hyperliquid.ParseFloat(p.UnrealizedPnl),
			Leverage:      p.Leverage.Value,
			MarginUsed:    hyperliquid.ParseFloat(p.MarginUsed),
		}
		if pos.Leverage == 0 {
			pos.Leverage = 1
		}
		if p.EntryPx != nil {
			pos.EntryPrice = hyperliquid.ParseFloat(*p.EntryPx)
		}
		if p.LiquidationPx != nil {
			liq := hyperliquid.ParseFloat(*p.LiquidationPx)
			pos.LiquidationPrice = &liq
		}
		out = append(out, pos)
	}
	return out, nil
}

// GetOpenOrders lists resting orders; an empty symbol means all markets.
func (g *Gateway) GetOpenOrders(ctx context.Context, symbol string) ([]OpenOrder, error) {
	orders, err := g.client.OpenOrders(ctx, g.address)
	if err != nil {
		return nil, apperr.Remote(err, "failed to fetch open orders from exchange")
	}
	out := make([]OpenOrder, 0, len(orders))
	for _, o := range orders {
		if symbol != "" && o.Coin != symbol {
			continue
		}
		side := Sell
		if o.Side == "B" {
			side = Buy
		}
		oo := OpenOrder{
			OrderID:    o.Oid,
			Symbol:     o.Coin,
			Side:       side,
			Size:       hyperliquid.ParseFloat(o.Sz),
			Price:      hyperliquid.ParseFloat(o.LimitPx),
			OrderType:  normalizeOrderType(o.OrderType),
			ReduceOnly: o.ReduceOnly,
			Timestamp:  o.Timestamp,
		}
		if o.IsTrigger && o.TriggerPx != "" {
			tp := hyperliquid.ParseFloat(o.TriggerPx)
			oo.TriggerPrice = &tp
		}
		out = append(out, oo)
	}
	return out, nil
}

func normalizeOrderType(t string) string {
	if t == "" {
		return "limit"
	}
	return strings.ReplaceAll(strings.ToLower(t), " ", "_")
}

// PlaceMarketOrder emulates a market order with an IOC limit at mid±slippage.
func (g *Gateway) PlaceMarketOrder(ctx context.Context, symbol string, side Side, size, slippage float64) Outcome {
	return g.placeIOC(ctx, symbol, side, size, slippage, false)
}

func (g *Gateway) placeIOC(ctx context.Context, symbol string, side Side, size, slippage float64, reduceOnly bool) Outcome {
	if slippage <= 0 {
		slippage = DefaultSlippage
	}
	asset, info, err := g.client.AssetInfo(ctx, symbol)
	if err != nil {
		return failure(err)
	}
	mids, err := g.client.AllMids(ctx)
	if err != nil {
		return failure(err)
	}
	mid := hyperliquid.ParseFloat(mids[symbol])
	if mid <= 0 {
		return Outcome{Message: "Unknown symbol: " + symbol}
	}
	px := hyperliquid.SlippagePrice(mid, side.IsBuy(), slippage, info.SzDecimals)
	wire, errOutcome := g.orderWire(asset, info, side, size, px, reduceOnly,
		hyperliquid.OrderTypeWire{Limit: &hyperliquid.LimitOrderType{Tif: hyperliquid.TifIoc}})
	if errOutcome != nil {
		return *errOutcome
	}
	resp, err := g.client.Exchange(ctx, g.key, hyperliquid.NewOrderAction(wire))
	out := interpretOrder(resp, err, "Order filled", "Order placed (partial fill or resting)")
	g.logOutcome("market", symbol, side, size, out)
	return out
}

// PlaceLimitOrder submits a good-till-cancelled limit order.
func (g *Gateway) PlaceLimitOrder(ctx context.Context, symbol string, side Side, size, price float64, reduceOnly bool) Outcome {
	asset, info, err := g.client.AssetInfo(ctx, symbol)
	if err != nil {
		return failure(err)
	}
	if price <= 0 {
		return Outcome{Message: "price must be positive"}
	}
	px := hyperliquid.RoundPrice(price, info.SzDecimals)
	wire, errOutcome := g.orderWire(asset, info, side, size, px, reduceOnly,
		hyperliquid.OrderTypeWire{Limit: &hyperliquid.LimitOrderType{Tif: hyperliquid.TifGtc}})
	if errOutcome != nil {
		return *errOutcome
	}
	resp, err := g.client.Exchange(ctx, g.key, hyperliquid.NewOrderAction(wire))
	out := interpretOrder(resp, err, "Order filled immediately", "Limit order placed")
	g.logOutcome("limit", symbol, side, size, out)
	return out
}

// PlaceTriggerOrder places a reduce-only market trigger (stop-loss or take-profit).
func (g *Gateway) PlaceTriggerOrder(ctx context.Context, symbol string, side Side, size, triggerPrice float64, kind TriggerKind) Outcome {
	if kind != StopLoss && kind != TakeProfit {
		return Outcome{Message: fmt.Sprintf("unknown trigger kind %q", kind)}
	}
	asset, info, err := g.client.AssetInfo(ctx, symbol)
	if err != nil {
		return failure(err)
	}
	if triggerPrice <= 0 {
		return Outcome{Message: "trigger_price must be positive"}
	}
	px := hyperliquid.RoundPrice(triggerPrice, info.SzDecimals)
	pxWire, err := hyperliquid.FloatToWire(px)
	if err != nil {
		return failure(err)
	}
	wire, errOutcome := g.orderWire(asset, info, side, size, px, true, hyperliquid.OrderTypeWire{
		Trigger: &hyperliquid.TriggerOrderType{IsMarket: true, TriggerPx: pxWire, Tpsl: string(kind)},
	})
	if errOutcome != nil {
		return *errOutcome
	}
	resp, err := g.client.Exchange(ctx, g.key, hyperliquid.NewOrderAction(wire))
	out := interpretOrder(resp, err, "Trigger order filled", "Trigger order placed")
	g.logOutcome("trigger_"+string(kind), symbol, side, size, out)
	return out
}

func (g *Gateway) orderWire(asset int, info hyperliquid.AssetInfo, side Side, size, px float64, reduceOnly bool, t hyperliquid.OrderTypeWire) (hyperliquid.OrderWire, *Outcome) {
	if size <= 0 {
		return hyperliquid.OrderWire{}, &Outcome{Message: "size must be positive"}
	}
	sz := hyperliquid.RoundSize(size, info.SzDecimals)
	if sz <= 0 {
		return hyperliquid.OrderWire{}, &Outcome{Message: fmt.Sprintf("size rounds to zero at %d decimals for %s", info.SzDecimals, info.Name)}
	}
	szWire, err := hyperliquid.FloatToWire(sz)
	if err != nil {
		o := failure(err)
		return hyperliquid.OrderWire{}, &o
	}
	pxWire, err := hyperliquid.FloatToWire(px)
	if err != nil {
		o := failure(err)
		return hyperliquid.OrderWire{}, &o
	}
	return hyperliquid.OrderWire{
		Asset:      asset,
		IsBuy:      side.IsBuy(),
		LimitPx:    pxWire,
		Size:       szWire,
		ReduceOnly: reduceOnly,
		OrderType:  t,
	}, nil
}

// ClosePosition flattens symbol with a reduce-only IOC on the opposite side. A flat
// market is a successful no-op.
func (g *Gateway) ClosePosition(ctx context.Context, symbol string, slippage float64) Outcome {
	positions, err := g.GetPositions(ctx)
	if err != nil {
		return failure(err)
	}
	for _, p := range positions {
		if p.Symbol != symbol || p.Size == 0 {
			continue
		}
		side := Sell
		if p.Size < 0 {
			side = Buy
		}
		return g.placeIOC(ctx, symbol, side, math.Abs(p.Size), slippage, true)
	}
	return Outcome{Success: true, NoPosition: true, Message: "No position in " + symbol}
}

func (g *Gateway) CancelOrder(ctx context.Context, symbol string, orderID int64) bool {
	asset, _, err := g.client.AssetInfo(ctx, symbol)
	if err != nil {
		g.log.Warnf("cancel %s/%d: %v", symbol, orderID, err)
		return false
	}
	resp, err := g.client.Exchange(ctx, g.key, hyperliquid.NewCancelAction(hyperliquid.CancelWire{Asset: asset, Oid: orderID}))
	if err != nil {
		g.log.Warnf("cancel %s/%d: %v", symbol, orderID, err)
		return false
	}
	if !resp.OK() {
		g.log.Warnf("cancel %s/%d rejected: %s", symbol, orderID, resp.ErrorMessage())
		return false
	}
	statuses, err := resp.Statuses()
	if err != nil || len(statuses) == 0 {
		return false
	}
	return statuses[0].Success
}

// CancelAllOrders cancels every open order (optionally for one symbol) and returns the
// number actually cancelled. Individual failures are skipped.
func (g *Gateway) CancelAllOrders(ctx context.Context, symbol string) int {
	orders, err := g.GetOpenOrders(ctx, symbol)
	if err != nil {
		g.log.Warnf("cancel all: %v", err)
		return 0
	}
	cancelled := 0
	for _, o := range orders {
		if g.CancelOrder(ctx, o.Symbol, o.OrderID) {
			cancelled++
		}
	}
	return cancelled
}

func (g *Gateway) SetLeverage(ctx context.Context, symbol string, leverage int, isCross bool) bool {
	asset, _, err := g.client.AssetInfo(ctx, symbol)
	if err != nil {
		g.log.Warnf("set leverage %s: %v", symbol, err)
		return false
	}
	resp, err := g.client.Exchange(ctx, g.key, hyperliquid.NewUpdateLeverageAction(asset, isCross, leverage))
	if err != nil {
		g.log.Warnf("set leverage %s: %v", symbol, err)
		return false
	}
	if !resp.OK() {
		g.log.Warnf("set leverage %s rejected: %s", symbol, resp.ErrorMessage())
		return false
	}
	return true
}

// GetFills returns up to limit recent fills, newest first.
func (g *Gateway) GetFills(ctx context.Context, limit int) ([]Fill, error) {
	fills, err := g.client.UserFills(ctx, g.address)
	if err != nil {
		return nil, apperr.Remote(err, "failed to fetch fills from exchange")
	}
	if limit > 0 && len(fills) > limit {
		fills = fills[:limit]
	}
	out := make([]Fill, 0, len(fills))
	for _, f := range fills {
		side := Sell
		if f.Side == "B" {
			side = Buy
		}
		out = append(out, Fill{
			ID:          fillID(f),
			Symbol:      f.Coin,
			Side:        side,
			Size:        hyperliquid.ParseFloat(f.Sz),
			Price:       hyperliquid.ParseFloat(f.Px),
			RealizedPnL: hyperliquid.ParseFloat(f.ClosedPnl),
			Fee:         hyperliquid.ParseFloat(f.Fee),
			OrderID:     f.Oid,
			Time:        time.UnixMilli(f.Time).UTC(),
		})
	}
	return out, nil
}

// fillID: one transaction hash can carry several fills, the trade id separates them.
func fillID(f hyperliquid.Fill) string {
	return f.Hash + ":" + strconv.FormatInt(f.Tid, 10)
}

func interpretOrder(resp *hyperliquid.ExchangeResponse, err error, filledMsg, restingMsg string) Outcome {
	if err != nil {
		return failure(err)
	}
	if !resp.OK() {
		return Outcome{Message: "Order failed: " + resp.ErrorMessage()}
	}
	statuses, err := resp.Statuses()
	if err != nil {
		return failure(err)
	}
	if len(statuses) == 0 {
		return Outcome{Message: "Order not filled: no status returned"}
	}
	st := statuses[0]
	switch {
	case st.Filled != nil:
		return Outcome{
			Success:    true,
			OrderID:    strconv.FormatInt(st.Filled.Oid, 10),
			Message:    filledMsg,
			FilledSize: hyperliquid.ParseFloat(st.Filled.TotalSz),
			AvgPrice:   hyperliquid.ParseFloat(st.Filled.AvgPx),
		}
	case st.Resting != nil:
		return Outcome{
			Success: true,
			OrderID: strconv.FormatInt(st.Resting.Oid, 10),
			Message: restingMsg,
		}
	case st.Error != "":
		return Outcome{Message: "Order not filled: " + st.Error}
	}
	return Outcome{Message: "Order not filled: unexpected status"}
}

func failure(err error) Outcome {
	var unknown *hyperliquid.UnknownSymbolError
	if errors.As(err, &unknown) {
		return Outcome{Message: unknown.Error()}
	}
	metrics.ExchangeErrors.Add(1)
	return Outcome{Message: "Error: " + err.Error()}
}

func (g *Gateway) logOutcome(kind, symbol string, side Side, size float64, out Outcome) {
	entry := g.log.WithFields(logrus.Fields{"kind": kind, "symbol": symbol, "side": side, "size": size})
	if out.Success {
		entry.Infof("order ok: %s (oid=%s filled=%v avg=%v)", out.Message, out.OrderID, out.FilledSize, out.AvgPrice)
		return
	}
	entry.Warnf("order failed: %s", out.Message)
}
