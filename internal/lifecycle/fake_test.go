package lifecycle

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/robinclaw/robinclaw/internal/apperr"
	"github.com/robinclaw/robinclaw/internal/custody"
	"github.com/robinclaw/robinclaw/internal/gateway"
	"github.com/robinclaw/robinclaw/internal/ledger"
)

type prefixSealer struct{}

func (prefixSealer) Seal(pt string) (string, error) { return "sealed:" + pt, nil }

// fakeTrader records calls and answers from canned state.
type fakeTrader struct {
	mu sync.Mutex

	address    string
	balance    gateway.Balance
	balanceErr error
	positions  []gateway.Position
	posErr     error
	orders     []gateway.OpenOrder
	fills      []gateway.Fill
	closeFail  map[string]string

	closed    []string
	cancelled []int64
	placed    []string
	leverage  map[string]int
}

func newFakeTrader() *fakeTrader {
	return &fakeTrader{address: "0xfake", closeFail: map[string]string{}, leverage: map[string]int{}}
}

func (f *fakeTrader) Address() string { return f.address }

func (f *fakeTrader) GetBalance(ctx context.Context) (gateway.Balance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.balanceErr != nil {
		return gateway.Balance{}, apperr.Remote(f.balanceErr, "failed to fetch balance from exchange")
	}
	return f.balance, nil
}

func (f *fakeTrader) GetPositions(ctx context.Context) ([]gateway.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.posErr != nil {
		return nil, apperr.Remote(f.posErr, "failed to fetch positions from exchange")
	}
	return append([]gateway.Position(nil), f.positions...), nil
}

func (f *fakeTrader) GetOpenOrders(ctx context.Context, symbol string) ([]gateway.OpenOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []gateway.OpenOrder
	for _, o := range f.orders {
		if symbol == "" || o.Symbol == symbol {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *fakeTrader) GetFills(ctx context.Context, limit int) ([]gateway.Fill, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]gateway.Fill(nil), f.fills...), nil
}

func (f *fakeTrader) record(kind string) gateway.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.placed = append(f.placed, kind)
	return gateway.Outcome{Success: true, OrderID: "1", Message: "Order filled"}
}

func (f *fakeTrader) PlaceMarketOrder(ctx context.Context, symbol string, side gateway.Side, size, slippage float64) gateway.Outcome {
	return f.record("market")
}

func (f *fakeTrader) PlaceLimitOrder(ctx context.Context, symbol string, side gateway.Side, size, price float64, reduceOnly bool) gateway.Outcome {
	return f.record("limit")
}

func (f *fakeTrader) PlaceTriggerOrder(ctx context.Context, symbol string, side gateway.Side, size, triggerPrice float64, kind gateway.TriggerKind) gateway.Outcome {
	return f.record("trigger_" + string(kind))
}

func (f *fakeTrader) ClosePosition(ctx context.Context, symbol string, slippage float64) gateway.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	if msg, ok := f.closeFail[symbol]; ok {
		return gateway.Outcome{Message: msg}
	}
	for i, p := range f.positions {
		if p.Symbol == symbol {
			f.positions = append(f.positions[:i], f.positions[i+1:]...)
			f.closed = append(f.closed, symbol)
			return gateway.Outcome{Success: true, FilledSize: p.Size, Message: "Order filled"}
		}
	}
	return gateway.Outcome{Success: true, NoPosition: true}
}

func (f *fakeTrader) CancelOrder(ctx context.Context, symbol string, orderID int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, o := range f.orders {
		if o.OrderID == orderID && o.Symbol == symbol {
			f.orders = append(f.orders[:i], f.orders[i+1:]...)
			f.cancelled = append(f.cancelled, orderID)
			return true
		}
	}
	return false
}

func (f *fakeTrader) CancelAllOrders(ctx context.Context, symbol string) int {
	orders, _ := f.GetOpenOrders(ctx, symbol)
	n := 0
	for _, o := range orders {
		if f.CancelOrder(ctx, o.Symbol, o.OrderID) {
			n++
		}
	}
	return n
}

func (f *fakeTrader) SetLeverage(ctx context.Context, symbol string, leverage int, isCross bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leverage[symbol] = leverage
	return true
}

type harness struct {
	store   *ledger.Store
	mgr     *Manager
	mu      sync.Mutex
	traders map[string]*fakeTrader
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	h := &harness{store: store, traders: map[string]*fakeTrader{}}
	factory := func(sealed string) (Trader, error) {
		if !strings.HasPrefix(sealed, "sealed:") {
			return nil, errors.New("bad sealed key")
		}
		h.mu.Lock()
		defer h.mu.Unlock()
		ft, ok := h.traders[sealed]
		if !ok {
			ft = newFakeTrader()
			h.traders[sealed] = ft
		}
		return ft, nil
	}
	policy := DefaultPolicy()
	policy.MaxDeposit = 5000
	h.mgr = NewManager(store, prefixSealer{}, custody.RandomProvisioner{}, factory, policy)
	t.Cleanup(h.mgr.Stop)
	return h
}

// register creates an agent and, when active is set, activates it.
func (h *harness) register(t *testing.T, name string, deposit float64, active bool) (*ledger.Agent, string) {
	t.Helper()
	ctx := context.Background()
	reg, err := h.mgr.Register(ctx, RegisterRequest{
		Name:              name,
		DepositAmount:     deposit,
		WithdrawalAddress: "0x000000000000000000000000000000000000dEaD",
	})
	require.NoError(t, err)
	agent := reg.Agent
	if active {
		agent, err = h.mgr.Activate(ctx, name, "0xdeposit")
		require.NoError(t, err)
	}
	return agent, reg.APIKey
}

func (h *harness) trader(agent *ledger.Agent) *fakeTrader {
	h.mu.Lock()
	defer h.mu.Unlock()
	ft, ok := h.traders[agent.PrivateKeyEnc]
	if !ok {
		ft = newFakeTrader()
		h.traders[agent.PrivateKeyEnc] = ft
	}
	return ft
}
