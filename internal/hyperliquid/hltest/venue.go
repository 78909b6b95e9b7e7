// Package hltest provides an in-process fake of the venue's /info and /exchange
// endpoints for tests.
package hltest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"

	"github.com/robinclaw/robinclaw/internal/hyperliquid"
)

// RecordedAction is one accepted /exchange call.
type RecordedAction struct {
	Type   string
	Signer string
	Raw    json.RawMessage
}

// Venue is a fake exchange. Mutate its exported maps only while holding Lock.
type Venue struct {
	sync.Mutex

	Universe []hyperliquid.AssetInfo
	Mids     map[string]string
	States   map[string]*hyperliquid.ClearinghouseState
	Orders   map[string][]hyperliquid.OpenOrder
	Fills    map[string][]hyperliquid.Fill
	Books    map[string]*hyperliquid.L2Book

	// RejectCoins makes orders on a coin fail with the given message.
	RejectCoins map[string]string
	// FailInfo makes /info requests of a type answer with the given HTTP status.
	FailInfo map[string]int
	// FailExchange makes every /exchange call answer 500.
	FailExchange bool

	Actions []RecordedAction

	nextOid int64
	srv     *httptest.Server
}

func NewVenue() *Venue {
	v := &Venue{
		Universe: []hyperliquid.AssetInfo{
			{Name: "BTC", SzDecimals: 5, MaxLeverage: 50},
			{Name: "ETH", SzDecimals: 4, MaxLeverage: 50},
			{Name: "SOL", SzDecimals: 2, MaxLeverage: 20},
		},
		Mids:        map[string]string{"BTC": "65000", "ETH": "3200", "SOL": "150"},
		States:      map[string]*hyperliquid.ClearinghouseState{},
		Orders:      map[string][]hyperliquid.OpenOrder{},
		Fills:       map[string][]hyperliquid.Fill{},
		Books:       map[string]*hyperliquid.L2Book{},
		RejectCoins: map[string]string{},
		FailInfo:    map[string]int{},
		nextOid:     1000,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/info", v.handleInfo)
	mux.HandleFunc("/exchange", v.handleExchange)
	v.srv = httptest.NewServer(mux)
	return v
}

func (v *Venue) URL() string { return v.srv.URL }

func (v *Venue) Close() { v.srv.Close() }

// SetAccount installs a clearinghouse state for user with the given account value
// and positions (coin -> signed size, entry price).
func (v *Venue) SetAccount(user string, accountValue float64, positions ...Position) {
	v.Lock()
	defer v.Unlock()
	st := &hyperliquid.ClearinghouseState{
		MarginSummary: hyperliquid.MarginSummary{
			AccountValue:    fmtF(accountValue),
			TotalMarginUsed: "0",
		},
		Withdrawable: fmtF(accountValue),
	}
	for _, p := range positions {
		st.AssetPositions = append(st.AssetPositions, p.asset())
	}
	v.States[strings.ToLower(user)] = st
}

// SetOpenOrders replaces user's resting orders.
func (v *Venue) SetOpenOrders(user string, orders ...hyperliquid.OpenOrder) {
	v.Lock()
	defer v.Unlock()
	v.Orders[strings.ToLower(user)] = orders
}

// ActionsOfType returns the recorded actions with the given type.
func (v *Venue) ActionsOfType(typ string) []RecordedAction {
	v.Lock()
	defer v.Unlock()
	var out []RecordedAction
	for _, a := range v.Actions {
		if a.Type == typ {
			out = append(out, a)
		}
	}
	return out
}

type Position struct {
	Coin     string
	Size     float64
	EntryPx  float64
	Leverage int
}

func (p Position) asset() hyperliquid.AssetPosition {
	entry := fmtF(p.EntryPx)
	lev := p.Leverage
	if lev == 0 {
		lev = 10
	}
	value := p.Size * p.EntryPx
	if value < 0 {
		value = -value
	}
	return hyperliquid.AssetPosition{
		Type: "oneWay",
		Position: hyperliquid.PositionData{
			Coin:          p.Coin,
			Szi:           fmtF(p.Size),
			EntryPx:       &entry,
			PositionValue: fmtF(value),
			UnrealizedPnl: "0",
			MarginUsed:    fmtF(value / float64(lev)),
			Leverage:      hyperliquid.Leverage{Type: "cross", Value: lev},
		},
	}
}

func fmtF(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (v *Venue) handleInfo(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type string `json:"type"`
		User string `json:"user"`
		Coin string `json:"coin"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, "bad request")
		return
	}
	v.Lock()
	defer v.Unlock()
	if code, ok := v.FailInfo[req.Type]; ok {
		writeJSON(w, code, "failure")
		return
	}
	user := strings.ToLower(req.User)
	switch req.Type {
	case "meta":
		writeJSON(w, http.StatusOK, hyperliquid.Meta{Universe: v.Universe})
	case "allMids":
		writeJSON(w, http.StatusOK, v.Mids)
	case "clearinghouseState":
		st := v.States[user]
		if st == nil {
			st = &hyperliquid.ClearinghouseState{
				MarginSummary: hyperliquid.MarginSummary{AccountValue: "0", TotalMarginUsed: "0"},
				Withdrawable:  "0",
			}
		}
		if st.AssetPositions == nil {
			st.AssetPositions = []hyperliquid.AssetPosition{}
		}
		writeJSON(w, http.StatusOK, st)
	case "frontendOpenOrders":
		orders := v.Orders[user]
		if orders == nil {
			orders = []hyperliquid.OpenOrder{}
		}
		writeJSON(w, http.StatusOK, orders)
	case "userFills":
		fills := v.Fills[user]
		if fills == nil {
			fills = []hyperliquid.Fill{}
		}
		writeJSON(w, http.StatusOK, fills)
	case "l2Book":
		b := v.Books[req.Coin]
		if b == nil {
			b = &hyperliquid.L2Book{Coin: req.Coin, Levels: [2][]hyperliquid.L2Level{{}, {}}}
		}
		writeJSON(w, http.StatusOK, b)
	case "candleSnapshot":
		writeJSON(w, http.StatusOK, []hyperliquid.Candle{})
	default:
		writeJSON(w, http.StatusUnprocessableEntity, "unknown type")
	}
}

type exchangeRequest struct {
	Action    json.RawMessage       `json:"action"`
	Nonce     int64                 `json:"nonce"`
	Signature hyperliquid.Signature `json:"signature"`
}

func (v *Venue) handleExchange(w http.ResponseWriter, r *http.Request) {
	var req exchangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, "bad request")
		return
	}
	var head struct {
		Type string `json:"type"`
	}
	_ = json.Unmarshal(req.Action, &head)

	v.Lock()
	defer v.Unlock()
	if v.FailExchange {
		writeJSON(w, http.StatusInternalServerError, "exchange unavailable")
		return
	}

	var typed any
	switch head.Type {
	case "order":
		var a hyperliquid.OrderAction
		_ = json.Unmarshal(req.Action, &a)
		typed = a
	case "cancel":
		var a hyperliquid.CancelAction
		_ = json.Unmarshal(req.Action, &a)
		typed = a
	case "updateLeverage":
		var a hyperliquid.UpdateLeverageAction
		_ = json.Unmarshal(req.Action, &a)
		typed = a
	default:
		writeJSON(w, http.StatusOK, map[string]any{"status": "err", "response": "Unknown action type: " + head.Type})
		return
	}
	signer, err := hyperliquid.RecoverL1Signer(typed, req.Nonce, false, req.Signature)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"status": "err", "response": "invalid signature"})
		return
	}
	user := strings.ToLower(signer.Hex())
	v.Actions = append(v.Actions, RecordedAction{Type: head.Type, Signer: user, Raw: req.Action})

	switch a := typed.(type) {
	case hyperliquid.OrderAction:
		statuses := make([]any, 0, len(a.Orders))
		for _, o := range a.Orders {
			statuses = append(statuses, v.applyOrder(user, o))
		}
		writeJSON(w, http.StatusOK, okResponse("order", statuses))
	case hyperliquid.CancelAction:
		statuses := make([]any, 0, len(a.Cancels))
		for _, c := range a.Cancels {
			statuses = append(statuses, v.applyCancel(user, c))
		}
		writeJSON(w, http.StatusOK, okResponse("cancel", statuses))
	case hyperliquid.UpdateLeverageAction:
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "response": map[string]any{"type": "default"}})
	}
}

func okResponse(typ string, statuses []any) map[string]any {
	return map[string]any{
		"status": "ok",
		"response": map[string]any{
			"type": typ,
			"data": map[string]any{"statuses": statuses},
		},
	}
}

func (v *Venue) applyOrder(user string, o hyperliquid.OrderWire) any {
	coin := ""
	if o.Asset >= 0 && o.Asset < len(v.Universe) {
		coin = v.Universe[o.Asset].Name
	}
	if msg, ok := v.RejectCoins[coin]; ok {
		return map[string]any{"error": msg}
	}
	v.nextOid++
	oid := v.nextOid
	if o.OrderType.Limit != nil && o.OrderType.Limit.Tif == hyperliquid.TifIoc {
		v.applyFill(user, coin, o.IsBuy, hyperliquid.ParseFloat(o.Size))
		return map[string]any{"filled": map[string]any{"totalSz": o.Size, "avgPx": o.LimitPx, "oid": oid}}
	}
	side := "A"
	if o.IsBuy {
		side = "B"
	}
	orderType := "Limit"
	if o.OrderType.Trigger != nil {
		orderType = "Stop Market"
		if o.OrderType.Trigger.Tpsl == hyperliquid.TpslTakeProfit {
			orderType = "Take Profit Market"
		}
	}
	v.Orders[user] = append(v.Orders[user], hyperliquid.OpenOrder{
		Coin: coin, Side: side, LimitPx: o.LimitPx, Sz: o.Size, OrigSz: o.Size,
		Oid: oid, OrderType: orderType, ReduceOnly: o.ReduceOnly,
	})
	return map[string]any{"resting": map[string]any{"oid": oid}}
}

// applyFill moves the user's position in coin by the filled size.
func (v *Venue) applyFill(user, coin string, isBuy bool, size float64) {
	st := v.States[user]
	if st == nil {
		return
	}
	delta := size
	if !isBuy {
		delta = -size
	}
	for i, ap := range st.AssetPositions {
		if ap.Position.Coin != coin {
			continue
		}
		next := hyperliquid.ParseFloat(ap.Position.Szi) + delta
		if next > -1e-12 && next < 1e-12 {
			st.AssetPositions = append(st.AssetPositions[:i], st.AssetPositions[i+1:]...)
			return
		}
		st.AssetPositions[i].Position.Szi = fmtF(next)
		return
	}
	px := hyperliquid.ParseFloat(v.Mids[coin])
	st.AssetPositions = append(st.AssetPositions, Position{Coin: coin, Size: delta, EntryPx: px}.asset())
}

func (v *Venue) applyCancel(user string, c hyperliquid.CancelWire) any {
	orders := v.Orders[user]
	for i, o := range orders {
		if o.Oid == c.Oid {
			v.Orders[user] = append(orders[:i], orders[i+1:]...)
			return "success"
		}
	}
	return map[string]any{"error": "Order was never placed, already canceled, or filled."}
}
