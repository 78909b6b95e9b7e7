package lifecycle

import (
	"context"

	"github.com/robinclaw/robinclaw/internal/gateway"
)

// Trader is the per-agent exchange surface the manager drives. *gateway.Gateway
// satisfies it.
type Trader interface {
	Address() string
	GetBalance(ctx context.Context) (gateway.Balance, error)
	GetPositions(ctx context.Context) ([]gateway.Position, error)
	GetOpenOrders(ctx context.Context, symbol string) ([]gateway.OpenOrder, error)
	GetFills(ctx context.Context, limit int) ([]gateway.Fill, error)

	PlaceMarketOrder(ctx context.Context, symbol string, side gateway.Side, size, slippage float64) gateway.Outcome
	PlaceLimitOrder(ctx context.Context, symbol string, side gateway.Side, size, price float64, reduceOnly bool) gateway.Outcome
	PlaceTriggerOrder(ctx context.Context, symbol string, side gateway.Side, size, triggerPrice float64, kind gateway.TriggerKind) gateway.Outcome
	ClosePosition(ctx context.Context, symbol string, slippage float64) gateway.Outcome
	CancelOrder(ctx context.Context, symbol string, orderID int64) bool
	CancelAllOrders(ctx context.Context, symbol string) int
	SetLeverage(ctx context.Context, symbol string, leverage int, isCross bool) bool
}

// GatewayFactory builds a Trader from an agent's sealed key. Decryption happens
// inside the factory only.
type GatewayFactory func(sealedKey string) (Trader, error)

func GatewayFactoryFrom(f *gateway.Factory) GatewayFactory {
	return func(sealedKey string) (Trader, error) {
		g, err := f.ForAgent(sealedKey)
		if err != nil {
			return nil, err
		}
		return g, nil
	}
}
