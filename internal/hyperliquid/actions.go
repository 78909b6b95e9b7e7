package hyperliquid

// Field order in these structs is significant: the action hash is taken over the
// msgpack encoding, which follows declaration order.

const (
	TifIoc = "Ioc"
	TifGtc = "Gtc"
	TifAlo = "Alo"

	TpslStopLoss   = "sl"
	TpslTakeProfit = "tp"
)

type LimitOrderType struct {
	Tif string `msgpack:"tif" json:"tif"`
}

type TriggerOrderType struct {
	IsMarket  bool   `msgpack:"isMarket" json:"isMarket"`
	TriggerPx string `msgpack:"triggerPx" json:"triggerPx"`
	Tpsl      string `msgpack:"tpsl" json:"tpsl"`
}

type OrderTypeWire struct {
	Limit   *LimitOrderType   `msgpack:"limit,omitempty" json:"limit,omitempty"`
	Trigger *TriggerOrderType `msgpack:"trigger,omitempty" json:"trigger,omitempty"`
}

type OrderWire struct {
	Asset      int           `msgpack:"a" json:"a"`
	IsBuy      bool          `msgpack:"b" json:"b"`
	LimitPx    string        `msgpack:"p" json:"p"`
	Size       string        `msgpack:"s" json:"s"`
	ReduceOnly bool          `msgpack:"r" json:"r"`
	OrderType  OrderTypeWire `msgpack:"t" json:"t"`
}

type OrderAction struct {
	Type     string      `msgpack:"type" json:"type"`
	Orders   []OrderWire `msgpack:"orders" json:"orders"`
	Grouping string      `msgpack:"grouping" json:"grouping"`
}

type CancelWire struct {
	Asset int   `msgpack:"a" json:"a"`
	Oid   int64 `msgpack:"o" json:"o"`
}

type CancelAction struct {
	Type    string       `msgpack:"type" json:"type"`
	Cancels []CancelWire `msgpack:"cancels" json:"cancels"`
}

type UpdateLeverageAction struct {
	Type     string `msgpack:"type" json:"type"`
	Asset    int    `msgpack:"asset" json:"asset"`
	IsCross  bool   `msgpack:"isCross" json:"isCross"`
	Leverage int    `msgpack:"leverage" json:"leverage"`
}

func NewOrderAction(orders ...OrderWire) OrderAction {
	return OrderAction{Type: "order", Orders: orders, Grouping: "na"}
}

func NewCancelAction(cancels ...CancelWire) CancelAction {
	return CancelAction{Type: "cancel", Cancels: cancels}
}

func NewUpdateLeverageAction(asset int, isCross bool, leverage int) UpdateLeverageAction {
	return UpdateLeverageAction{Type: "updateLeverage", Asset: asset, IsCross: isCross, Leverage: leverage}
}
