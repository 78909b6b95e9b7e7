package gateway

import (
	"strings"
	"time"
)

type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// ParseSide accepts "buy"/"sell" in any case.
func ParseSide(s string) (Side, bool) {
	switch Side(strings.ToLower(strings.TrimSpace(s))) {
	case Buy:
		return Buy, true
	case Sell:
		return Sell, true
	}
	return "", false
}

func (s Side) IsBuy() bool { return s == Buy }

func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

type TriggerKind string

const (
	StopLoss   TriggerKind = "sl"
	TakeProfit TriggerKind = "tp"
)

type Balance struct {
	Equity       float64 `json:"account_value"`
	MarginUsed   float64 `json:"total_margin_used"`
	Withdrawable float64 `json:"withdrawable"`
}

// Position is a non-flat position. Size is signed: positive long, negative short.
type Position struct {
	Symbol           string   `json:"symbol"`
	Size             float64  `json:"size"`
	EntryPrice       float64  `json:"entry_price"`
	MarkPrice        float64  `json:"mark_price"`
	UnrealizedPnL    float64  `json:"unrealized_pnl"`
	Leverage         int      `json:"leverage"`
	MarginUsed       float64  `json:"margin_used"`
	LiquidationPrice *float64 `json:"liquidation_price,omitempty"`
}

type OpenOrder struct {
	OrderID      int64    `json:"order_id"`
	Symbol       string   `json:"symbol"`
	Side         Side     `json:"side"`
	Size         float64  `json:"size"`
	Price        float64  `json:"price"`
	OrderType    string   `json:"order_type"`
	ReduceOnly   bool     `json:"reduce_only"`
	TriggerPrice *float64 `json:"trigger_price,omitempty"`
	Timestamp    int64    `json:"timestamp"`
}

// Outcome is the result of every trading operation. Remote failures are reported
// here with Success=false rather than as errors.
type Outcome struct {
	Success    bool    `json:"success"`
	OrderID    string  `json:"order_id,omitempty"`
	Message    string  `json:"message"`
	FilledSize float64 `json:"filled_size"`
	AvgPrice   float64 `json:"avg_price"`
	NoPosition bool    `json:"no_position,omitempty"`
}

// Fill is an executed trade as reported by the venue. ID is stable across queries.
type Fill struct {
	ID          string    `json:"id"`
	Symbol      string    `json:"symbol"`
	Side        Side      `json:"side"`
	Size        float64   `json:"size"`
	Price       float64   `json:"price"`
	RealizedPnL float64   `json:"realized_pnl"`
	Fee         float64   `json:"fee"`
	OrderID     int64     `json:"order_id"`
	Time        time.Time `json:"time"`
}
