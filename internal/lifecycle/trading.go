package lifecycle

import (
	"context"
	"math"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/robinclaw/robinclaw/internal/apperr"
	"github.com/robinclaw/robinclaw/internal/gateway"
	"github.com/robinclaw/robinclaw/internal/ledger"
	"github.com/robinclaw/robinclaw/internal/metrics"
)

type OrderType string

const (
	OrderMarket     OrderType = "market"
	OrderLimit      OrderType = "limit"
	OrderStop       OrderType = "stop"
	OrderTakeProfit OrderType = "take_profit"
)

func ParseOrderType(s string) (OrderType, bool) {
	switch t := OrderType(strings.ToLower(strings.TrimSpace(s))); t {
	case "":
		return OrderMarket, true
	case OrderMarket, OrderLimit, OrderStop, OrderTakeProfit:
		return t, true
	}
	return "", false
}

// OrderRequest is a validated order intent. Zero Price and TriggerPrice mean absent.
type OrderRequest struct {
	Symbol       string
	Side         gateway.Side
	Size         float64
	Type         OrderType
	Price        float64
	TriggerPrice float64
	ReduceOnly   bool
	Slippage     float64
}

func (r OrderRequest) validate() error {
	if strings.TrimSpace(r.Symbol) == "" || r.Side == "" || r.Size == 0 {
		return apperr.Validation("Missing required fields: symbol, side, size")
	}
	if r.Side != gateway.Buy && r.Side != gateway.Sell {
		return apperr.Validation("side must be 'buy' or 'sell'")
	}
	if r.Size < 0 || math.IsNaN(r.Size) || math.IsInf(r.Size, 0) {
		return apperr.Validation("Invalid size or price")
	}
	if r.Price < 0 || r.TriggerPrice < 0 {
		return apperr.Validation("Invalid size or price")
	}
	if r.Slippage < 0 || r.Slippage > maxSlippage {
		return apperr.Validation("slippage must be between 0 and %g", maxSlippage)
	}
	switch r.Type {
	case OrderLimit:
		if r.Price == 0 {
			return apperr.Validation("price is required for limit orders")
		}
	case OrderStop, OrderTakeProfit:
		if r.TriggerPrice == 0 {
			return apperr.Validation("trigger_price is required for stop orders")
		}
	}
	return nil
}

const maxSlippage = 0.5

// PlaceOrder routes an order to the agent's gateway. Venue rejections come back as an
// unsuccessful Outcome; the error is reserved for requests that never reached the venue.
func (m *Manager) PlaceOrder(ctx context.Context, agent *ledger.Agent, req OrderRequest) (gateway.Outcome, error) {
	if err := requireActive(agent); err != nil {
		return gateway.Outcome{}, err
	}
	if req.Type == "" {
		req.Type = OrderMarket
	}
	if err := req.validate(); err != nil {
		return gateway.Outcome{}, err
	}
	t, err := m.trader(agent)
	if err != nil {
		return gateway.Outcome{}, err
	}
	slippage := req.Slippage
	if slippage == 0 {
		slippage = m.policy.DefaultSlippage
	}

	var out gateway.Outcome
	switch {
	case req.Type == OrderStop:
		out = t.PlaceTriggerOrder(ctx, req.Symbol, req.Side, req.Size, req.TriggerPrice, gateway.StopLoss)
	case req.Type == OrderTakeProfit:
		out = t.PlaceTriggerOrder(ctx, req.Symbol, req.Side, req.Size, req.TriggerPrice, gateway.TakeProfit)
	case req.Type == OrderMarket || req.Price == 0:
		out = t.PlaceMarketOrder(ctx, req.Symbol, req.Side, req.Size, slippage)
	default:
		out = t.PlaceLimitOrder(ctx, req.Symbol, req.Side, req.Size, req.Price, req.ReduceOnly)
	}
	m.countOutcome(out)
	m.log.WithFields(logrus.Fields{
		"agent": agent.Name, "symbol": req.Symbol, "side": req.Side, "size": req.Size, "type": req.Type, "ok": out.Success,
	}).Info("order")
	return out, nil
}

func (m *Manager) ClosePosition(ctx context.Context, agent *ledger.Agent, symbol string) (gateway.Outcome, error) {
	if err := requireActive(agent); err != nil {
		return gateway.Outcome{}, err
	}
	if strings.TrimSpace(symbol) == "" {
		return gateway.Outcome{}, apperr.Validation("Missing required field: symbol")
	}
	t, err := m.trader(agent)
	if err != nil {
		return gateway.Outcome{}, err
	}
	out := t.ClosePosition(ctx, symbol, m.policy.DefaultSlippage)
	if !out.NoPosition {
		m.countOutcome(out)
	}
	return out, nil
}

// CancelOrder cancels one resting order. An empty symbol is resolved from the agent's
// open orders.
func (m *Manager) CancelOrder(ctx context.Context, agent *ledger.Agent, symbol string, orderID int64) (bool, error) {
	if err := requireActive(agent); err != nil {
		return false, err
	}
	if orderID <= 0 {
		return false, apperr.Validation("order id must be a positive integer")
	}
	t, err := m.trader(agent)
	if err != nil {
		return false, err
	}
	if strings.TrimSpace(symbol) == "" {
		orders, err := t.GetOpenOrders(ctx, "")
		if err != nil {
			return false, err
		}
		for _, o := range orders {
			if o.OrderID == orderID {
				symbol = o.Symbol
				break
			}
		}
		if symbol == "" {
			return false, apperr.NotFound("Order %d not found", orderID)
		}
	}
	return t.CancelOrder(ctx, symbol, orderID), nil
}

func (m *Manager) SetLeverage(ctx context.Context, agent *ledger.Agent, symbol string, leverage int, isCross bool) (bool, error) {
	if err := requireActive(agent); err != nil {
		return false, err
	}
	if strings.TrimSpace(symbol) == "" {
		return false, apperr.Validation("Missing required fields: symbol, leverage")
	}
	if leverage < 1 || leverage > m.policy.MaxLeverage {
		return false, apperr.Validation("leverage must be between 1 and %d", m.policy.MaxLeverage)
	}
	t, err := m.trader(agent)
	if err != nil {
		return false, err
	}
	return t.SetLeverage(ctx, symbol, leverage, isCross), nil
}

func (m *Manager) Positions(ctx context.Context, agent *ledger.Agent) ([]gateway.Position, error) {
	t, err := m.trader(agent)
	if err != nil {
		return nil, err
	}
	return t.GetPositions(ctx)
}

func (m *Manager) OpenOrders(ctx context.Context, agent *ledger.Agent, symbol string) ([]gateway.OpenOrder, error) {
	t, err := m.trader(agent)
	if err != nil {
		return nil, err
	}
	return t.GetOpenOrders(ctx, symbol)
}

func (m *Manager) Trades(ctx context.Context, agent *ledger.Agent, limit int) ([]ledger.Trade, error) {
	return m.store.GetAgentTrades(ctx, agent.ID, limit)
}

type AccountView struct {
	Name          string        `json:"name"`
	Status        ledger.Status `json:"status"`
	WalletAddress string        `json:"wallet_address"`
	DepositAmount float64       `json:"deposit_amount"`
	CurrentEquity float64       `json:"current_equity"`
	UnrealizedPnL float64       `json:"unrealized_pnl"`
	RealizedPnL   float64       `json:"realized_pnl"`
	PnLPct        float64       `json:"pnl_pct"`
	TotalTrades   int           `json:"total_trades"`
	WinRate       float64       `json:"win_rate"`

	// Live venue figures, present when the venue answered.
	ExchangeEquity *float64 `json:"exchange_equity,omitempty"`
	Withdrawable   *float64 `json:"withdrawable,omitempty"`

	FinalEquity *float64 `json:"final_equity,omitempty"`
	FinalPnL    *float64 `json:"final_pnl,omitempty"`
	FinalPnLPct *float64 `json:"final_pnl_pct,omitempty"`
}

// Account summarises an agent from the ledger, enriched with live venue figures for
// active agents. Venue failures only drop the live fields.
func (m *Manager) Account(ctx context.Context, agent *ledger.Agent) (*AccountView, error) {
	stats, err := m.store.GetAgentStats(ctx, agent.ID)
	if err != nil {
		return nil, err
	}
	v := &AccountView{
		Name:          agent.Name,
		Status:        agent.Status,
		WalletAddress: agent.WalletAddress,
		DepositAmount: agent.DepositAmount,
		CurrentEquity: addMoney(agent.DepositAmount, stats.TotalPnL),
		RealizedPnL:   stats.TotalPnL,
		PnLPct:        pnlPct(stats.TotalPnL, agent.DepositAmount),
		TotalTrades:   stats.TotalTrades,
		WinRate:       stats.WinRate,
		FinalEquity:   agent.FinalEquity,
		FinalPnL:      agent.FinalPnL,
		FinalPnLPct:   agent.FinalPnLPct,
	}
	if agent.Status != ledger.StatusActive {
		return v, nil
	}
	t, err := m.trader(agent)
	if err != nil {
		return nil, err
	}
	if bal, err := t.GetBalance(ctx); err == nil {
		v.ExchangeEquity, v.Withdrawable = &bal.Equity, &bal.Withdrawable
	} else {
		m.log.WithField("agent", agent.Name).Warnf("account balance: %v", err)
	}
	if positions, err := t.GetPositions(ctx); err == nil {
		for _, p := range positions {
			v.UnrealizedPnL = addMoney(v.UnrealizedPnL, p.UnrealizedPnL)
		}
	} else {
		m.log.WithField("agent", agent.Name).Warnf("account positions: %v", err)
	}
	return v, nil
}

func (m *Manager) countOutcome(out gateway.Outcome) {
	metrics.OrdersSubmitted.Add(1)
	if !out.Success {
		metrics.OrdersRejected.Add(1)
		return
	}
	if out.FilledSize > 0 {
		m.fillNudge.Emit()
	}
}
