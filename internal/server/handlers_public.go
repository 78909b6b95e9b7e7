package server

import (
	"context"
	_ "embed"
	"net/http"
	"strings"
	"time"

	"github.com/robinclaw/robinclaw/internal/apperr"
	"github.com/robinclaw/robinclaw/internal/lifecycle"
)

//go:embed skill.md
var skillMD string

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": "robinclaw"})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.mgr.Ping(ctx); err != nil {
		writeError(w, http.StatusServiceUnavailable, "ledger unavailable")
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleSkill(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(strings.ReplaceAll(skillMD, "{{BASE_URL}}", s.cfg.PublicBaseURL)))
}

type marketView struct {
	Name        string `json:"name"`
	SzDecimals  int    `json:"szDecimals"`
	MaxLeverage int    `json:"maxLeverage"`
}

func (s *Server) handleMarkets(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	meta, err := s.market.Meta(ctx)
	if err != nil {
		writeAppError(w, r, apperr.Remote(err, "failed to fetch markets from exchange"))
		return
	}
	out := make([]marketView, 0, len(meta.Universe))
	for _, a := range meta.Universe {
		if a.IsDelisted {
			continue
		}
		lev := a.MaxLeverage
		if lev == 0 {
			lev = 50
		}
		out = append(out, marketView{Name: a.Name, SzDecimals: a.SzDecimals, MaxLeverage: lev})
	}
	writeJSON(w, http.StatusOK, map[string]any{"markets": out})
}

func (s *Server) handlePrices(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Mids != nil {
		if mids, at := s.cfg.Mids.Snapshot(); len(mids) > 0 && time.Since(at) <= s.cfg.MidsMaxAge {
			writeJSON(w, http.StatusOK, mids)
			return
		}
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	mids, err := s.market.AllMids(ctx)
	if err != nil {
		writeAppError(w, r, apperr.Remote(err, "failed to fetch prices from exchange"))
		return
	}
	writeJSON(w, http.StatusOK, mids)
}

func (s *Server) handleOrderBook(w http.ResponseWriter, r *http.Request) {
	symbol := strings.TrimSpace(pathParam(r, "symbol"))
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	book, err := s.market.L2Book(ctx, symbol)
	if err != nil {
		writeAppError(w, r, apperr.Remote(err, "failed to fetch order book from exchange"))
		return
	}
	depth := queryInt(r, "depth", 20, 1, 100)
	bids, asks := book.Levels[0], book.Levels[1]
	if len(bids) > depth {
		bids = bids[:depth]
	}
	if len(asks) > depth {
		asks = asks[:depth]
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"symbol": symbol,
		"time":   book.Time,
		"bids":   nonNil(bids),
		"asks":   nonNil(asks),
	})
}

var candleIntervals = map[string]time.Duration{
	"1m": time.Minute, "5m": 5 * time.Minute, "15m": 15 * time.Minute,
	"1h": time.Hour, "4h": 4 * time.Hour, "1d": 24 * time.Hour,
}

func (s *Server) handleCandles(w http.ResponseWriter, r *http.Request) {
	symbol := strings.TrimSpace(pathParam(r, "symbol"))
	interval := strings.TrimSpace(r.URL.Query().Get("interval"))
	if interval == "" {
		interval = "1h"
	}
	step, ok := candleIntervals[interval]
	if !ok {
		writeError(w, http.StatusBadRequest, "interval must be one of 1m, 5m, 15m, 1h, 4h, 1d")
		return
	}
	count := queryInt(r, "limit", 100, 1, 500)
	end := time.Now()
	start := end.Add(-time.Duration(count) * step)

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	candles, err := s.market.CandleSnapshot(ctx, symbol, interval, start, end)
	if err != nil {
		writeAppError(w, r, apperr.Remote(err, "failed to fetch candles from exchange"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"symbol": symbol, "interval": interval, "candles": nonNil(candles)})
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	board, err := s.mgr.Leaderboard(ctx)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": nonNil(board)})
}

func (s *Server) handleHallOfFame(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	fame, err := s.mgr.HallOfFame(ctx)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": nonNil(fame)})
}

type registerRequest struct {
	Name              string    `json:"name"`
	DepositAmount     flexFloat `json:"deposit_amount"`
	WithdrawalAddress string    `json:"withdrawal_address"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeBody(r, &req); err != nil {
		writeAppError(w, r, err)
		return
	}
	if req.DepositAmount.Bad {
		writeError(w, http.StatusBadRequest, "deposit_amount must be a number")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	reg, err := s.mgr.Register(ctx, lifecycle.RegisterRequest{
		Name:              req.Name,
		DepositAmount:     req.DepositAmount.V,
		WithdrawalAddress: req.WithdrawalAddress,
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	a := reg.Agent
	writeJSON(w, http.StatusCreated, map[string]any{
		"status":             "ok",
		"agent_id":           a.ID,
		"name":               a.Name,
		"wallet_address":     a.WalletAddress,
		"deposit_amount":     a.DepositAmount,
		"withdrawal_address": a.WithdrawalAddress,
		"account_status":     a.Status,
		"api_key":            reg.APIKey,
		"message":            "Save your API key now. It will not be shown again.",
	})
}

// nonNil keeps empty lists encoded as [] rather than null.
func nonNil[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}
