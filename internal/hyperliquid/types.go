package hyperliquid

import (
	"encoding/json"
	"strconv"
	"strings"
)

// AssetInfo is one perp market in the universe. The asset index used on the wire is
// the position in Meta.Universe.
type AssetInfo struct {
	Name         string `json:"name"`
	SzDecimals   int    `json:"szDecimals"`
	MaxLeverage  int    `json:"maxLeverage"`
	OnlyIsolated bool   `json:"onlyIsolated,omitempty"`
	IsDelisted   bool   `json:"isDelisted,omitempty"`
}

type Meta struct {
	Universe []AssetInfo `json:"universe"`
}

// Asset returns the index and metadata for coin.
func (m *Meta) Asset(coin string) (int, AssetInfo, bool) {
	if m == nil {
		return 0, AssetInfo{}, false
	}
	for i, a := range m.Universe {
		if a.Name == coin {
			return i, a, true
		}
	}
	return 0, AssetInfo{}, false
}

type MarginSummary struct {
	AccountValue    string `json:"accountValue"`
	TotalMarginUsed string `json:"totalMarginUsed"`
	TotalNtlPos     string `json:"totalNtlPos"`
	TotalRawUsd     string `json:"totalRawUsd"`
}

type Leverage struct {
	Type   string `json:"type"`
	Value  int    `json:"value"`
	RawUsd string `json:"rawUsd,omitempty"`
}

type PositionData struct {
	Coin           string   `json:"coin"`
	Szi            string   `json:"szi"`
	EntryPx        *string  `json:"entryPx"`
	PositionValue  string   `json:"positionValue"`
	UnrealizedPnl  string   `json:"unrealizedPnl"`
	ReturnOnEquity string   `json:"returnOnEquity"`
	MarginUsed     string   `json:"marginUsed"`
	LiquidationPx  *string  `json:"liquidationPx"`
	Leverage       Leverage `json:"leverage"`
}

type AssetPosition struct {
	Type     string       `json:"type"`
	Position PositionData `json:"position"`
}

type ClearinghouseState struct {
	MarginSummary      MarginSummary   `json:"marginSummary"`
	CrossMarginSummary MarginSummary   `json:"crossMarginSummary"`
	Withdrawable       string          `json:"withdrawable"`
	AssetPositions     []AssetPosition `json:"assetPositions"`
	Time               int64           `json:"time"`
}

// OpenOrder is one entry of frontendOpenOrders. Side is "B" (bid) or "A" (ask).
type OpenOrder struct {
	Coin             string `json:"coin"`
	Side             string `json:"side"`
	LimitPx          string `json:"limitPx"`
	Sz               string `json:"sz"`
	OrigSz           string `json:"origSz"`
	Oid              int64  `json:"oid"`
	Timestamp        int64  `json:"timestamp"`
	OrderType        string `json:"orderType"`
	ReduceOnly       bool   `json:"reduceOnly"`
	IsTrigger        bool   `json:"isTrigger"`
	TriggerPx        string `json:"triggerPx"`
	TriggerCondition string `json:"triggerCondition"`
}

type L2Level struct {
	Px string `json:"px"`
	Sz string `json:"sz"`
	N  int    `json:"n"`
}

// L2Book levels: [0] bids, [1] asks.
type L2Book struct {
	Coin   string       `json:"coin"`
	Time   int64        `json:"time"`
	Levels [2][]L2Level `json:"levels"`
}

type Candle struct {
	OpenTime  int64  `json:"t"`
	CloseTime int64  `json:"T"`
	Coin      string `json:"s"`
	Interval  string `json:"i"`
	Open      string `json:"o"`
	Close     string `json:"c"`
	High      string `json:"h"`
	Low       string `json:"l"`
	Volume    string `json:"v"`
	Trades    int    `json:"n"`
}

// Fill is one entry of userFills. ClosedPnl is the realized P&L booked by the fill.
type Fill struct {
	Coin          string `json:"coin"`
	Px            string `json:"px"`
	Sz            string `json:"sz"`
	Side          string `json:"side"`
	Time          int64  `json:"time"`
	StartPosition string `json:"startPosition"`
	Dir           string `json:"dir"`
	ClosedPnl     string `json:"closedPnl"`
	Hash          string `json:"hash"`
	Oid           int64  `json:"oid"`
	Crossed       bool   `json:"crossed"`
	Fee           string `json:"fee"`
	Tid           int64  `json:"tid"`
}

// ExchangeResponse is the /exchange envelope. On "err" Response holds a bare string.
type ExchangeResponse struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

type exchangeData struct {
	Type string `json:"type"`
	Data struct {
		Statuses []json.RawMessage `json:"statuses"`
	} `json:"data"`
}

type RestingStatus struct {
	Oid int64 `json:"oid"`
}

type FilledStatus struct {
	TotalSz string `json:"totalSz"`
	AvgPx   string `json:"avgPx"`
	Oid     int64  `json:"oid"`
}

// ActionStatus is one per-item status. Plain "success" strings (cancel, leverage)
// decode to Success=true.
type ActionStatus struct {
	Success bool
	Resting *RestingStatus
	Filled  *FilledStatus
	Error   string
}

func (s *ActionStatus) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err == nil {
		if str == "success" || str == "waitingForFill" || str == "waitingForTrigger" {
			s.Success = true
		} else {
			s.Error = str
		}
		return nil
	}
	var obj struct {
		Resting *RestingStatus `json:"resting"`
		Filled  *FilledStatus  `json:"filled"`
		Error   string         `json:"error"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	s.Resting, s.Filled, s.Error = obj.Resting, obj.Filled, obj.Error
	s.Success = obj.Error == "" && (obj.Resting != nil || obj.Filled != nil)
	return nil
}

// OK reports whether the envelope status is "ok".
func (r *ExchangeResponse) OK() bool {
	return r != nil && r.Status == "ok"
}

// ErrorMessage returns the venue's error text for a non-ok envelope.
func (r *ExchangeResponse) ErrorMessage() string {
	if r == nil {
		return "empty response"
	}
	var s string
	if err := json.Unmarshal(r.Response, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(r.Response))
}

// Statuses decodes the per-item statuses of an ok envelope.
func (r *ExchangeResponse) Statuses() ([]ActionStatus, error) {
	if !r.OK() {
		return nil, nil
	}
	var d exchangeData
	if err := json.Unmarshal(r.Response, &d); err != nil {
		return nil, err
	}
	out := make([]ActionStatus, 0, len(d.Data.Statuses))
	for _, raw := range d.Data.Statuses {
		var st ActionStatus
		if err := json.Unmarshal(raw, &st); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

// ParseFloat parses a venue decimal string; empty and malformed values read as 0.
func ParseFloat(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return f
}
