package server

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/robinclaw/robinclaw/internal/apperr"
	"github.com/robinclaw/robinclaw/internal/gateway"
	"github.com/robinclaw/robinclaw/internal/lifecycle"
)

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	view, err := s.mgr.Account(ctx, agentFrom(r))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	positions, err := s.mgr.Positions(ctx, agentFrom(r))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": nonNil(positions)})
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	orders, err := s.mgr.OpenOrders(ctx, agentFrom(r), strings.TrimSpace(r.URL.Query().Get("symbol")))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": nonNil(orders)})
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100, 1, 1000)
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	trades, err := s.mgr.Trades(ctx, agentFrom(r), limit)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": nonNil(trades)})
}

type orderRequest struct {
	Symbol       string    `json:"symbol"`
	Coin         string    `json:"coin"`
	Side         string    `json:"side"`
	Size         flexFloat `json:"size"`
	Type         string    `json:"type"`
	Price        flexFloat `json:"price"`
	TriggerPrice flexFloat `json:"trigger_price"`
	ReduceOnly   bool      `json:"reduce_only"`
	Slippage     flexFloat `json:"slippage"`
}

func symbolOf(symbol, coin string) string {
	if s := strings.TrimSpace(symbol); s != "" {
		return strings.ToUpper(s)
	}
	return strings.ToUpper(strings.TrimSpace(coin))
}

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	agent := agentFrom(r)
	var req orderRequest
	if err := decodeBody(r, &req); err != nil {
		writeAppError(w, r, err)
		return
	}
	symbol := symbolOf(req.Symbol, req.Coin)
	if symbol == "" || strings.TrimSpace(req.Side) == "" || !req.Size.Set && !req.Size.Bad {
		writeError(w, http.StatusBadRequest, "Missing required fields: symbol, side, size")
		return
	}
	side, ok := gateway.ParseSide(req.Side)
	if !ok {
		writeError(w, http.StatusBadRequest, "side must be 'buy' or 'sell'")
		return
	}
	if req.Size.Bad || req.Price.Bad || req.TriggerPrice.Bad || req.Slippage.Bad {
		writeError(w, http.StatusBadRequest, "Invalid size or price")
		return
	}
	typ, ok := lifecycle.ParseOrderType(req.Type)
	if !ok {
		writeError(w, http.StatusBadRequest, "type must be one of market, limit, stop, take_profit")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()
	out, err := s.mgr.PlaceOrder(ctx, agent, lifecycle.OrderRequest{
		Symbol:       symbol,
		Side:         side,
		Size:         req.Size.V,
		Type:         typ,
		Price:        req.Price.V,
		TriggerPrice: req.TriggerPrice.V,
		ReduceOnly:   req.ReduceOnly,
		Slippage:     req.Slippage.V,
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	if !out.Success {
		writeJSON(w, http.StatusOK, map[string]any{"status": "error", "message": out.Message})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"order_id":    out.OrderID,
		"message":     out.Message,
		"filled_size": out.FilledSize,
		"avg_price":   out.AvgPrice,
	})
}

type closeRequest struct {
	Symbol string `json:"symbol"`
	Coin   string `json:"coin"`
}

func (s *Server) handleClosePosition(w http.ResponseWriter, r *http.Request) {
	var req closeRequest
	if err := decodeBody(r, &req); err != nil {
		writeAppError(w, r, err)
		return
	}
	symbol := symbolOf(req.Symbol, req.Coin)
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "Missing required field: symbol")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()
	out, err := s.mgr.ClosePosition(ctx, agentFrom(r), symbol)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	if !out.Success {
		writeJSON(w, http.StatusOK, map[string]any{"status": "error", "message": out.Message, "symbol": symbol})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"message":     out.Message,
		"symbol":      symbol,
		"filled_size": out.FilledSize,
		"avg_price":   out.AvgPrice,
		"no_position": out.NoPosition,
	})
}

type leverageRequest struct {
	Symbol     string    `json:"symbol"`
	Coin       string    `json:"coin"`
	Leverage   flexFloat `json:"leverage"`
	MarginType string    `json:"margin_type"`
	Cross      *bool     `json:"cross"`
}

func (s *Server) handleSetLeverage(w http.ResponseWriter, r *http.Request) {
	var req leverageRequest
	if err := decodeBody(r, &req); err != nil {
		writeAppError(w, r, err)
		return
	}
	symbol := symbolOf(req.Symbol, req.Coin)
	if symbol == "" || !req.Leverage.Set && !req.Leverage.Bad {
		writeError(w, http.StatusBadRequest, "Missing required fields: symbol, leverage")
		return
	}
	marginType := strings.ToLower(strings.TrimSpace(req.MarginType))
	if marginType == "" {
		marginType = "cross"
		if req.Cross != nil && !*req.Cross {
			marginType = "isolated"
		}
	}
	if marginType != "cross" && marginType != "isolated" {
		writeError(w, http.StatusBadRequest, "margin_type must be 'cross' or 'isolated'")
		return
	}
	lev := req.Leverage.V
	if req.Leverage.Bad || lev != math.Trunc(lev) || lev < 1 || lev > 100 {
		writeError(w, http.StatusBadRequest, "leverage must be an integer between 1 and 100")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	ok, err := s.mgr.SetLeverage(ctx, agentFrom(r), symbol, int(lev), marginType == "cross")
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":   "error",
			"message":  "Failed to set leverage",
			"symbol":   symbol,
			"leverage": int(lev),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"message":     fmt.Sprintf("Leverage set to %dx (%s)", int(lev), marginType),
		"symbol":      symbol,
		"leverage":    int(lev),
		"margin_type": marginType,
	})
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	oid, err := strconv.ParseInt(strings.TrimSpace(pathParam(r, "orderId")), 10, 64)
	if err != nil || oid <= 0 {
		writeError(w, http.StatusBadRequest, "order id must be a positive integer")
		return
	}
	symbol := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("symbol")))

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	ok, err := s.mgr.CancelOrder(ctx, agentFrom(r), symbol, oid)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"status": "error", "order_id": oid, "message": "Failed to cancel order"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "order_id": oid, "message": "Order cancelled"})
}

func (s *Server) handleCloseAccount(w http.ResponseWriter, r *http.Request) {
	// Closure runs to completion once started; the client going away must not cut it short.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 2*time.Minute)
	defer cancel()
	res, err := s.mgr.CloseAccount(ctx, agentFrom(r))
	if err != nil {
		if apperr.Is(err, apperr.KindRemote) {
			s.log.WithField("agent", agentFrom(r).Name).Warnf("close account aborted: %v", err)
		}
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
