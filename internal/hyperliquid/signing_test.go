package hyperliquid

import (
	"bytes"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func TestActionMsgpackLayout(t *testing.T) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.UseCompactInts(true)
	require.NoError(t, enc.Encode(NewCancelAction(CancelWire{Asset: 1, Oid: 5})))

	want := []byte{0x82, 0xa4}
	want = append(want, "type"...)
	want = append(want, 0xa6)
	want = append(want, "cancel"...)
	want = append(want, 0xa7)
	want = append(want, "cancels"...)
	want = append(want, 0x91, 0x82, 0xa1, 'a', 0x01, 0xa1, 'o', 0x05)
	assert.Equal(t, want, buf.Bytes())
}

func TestOrderTypeOmitsUnsetVariant(t *testing.T) {
	b, err := msgpack.Marshal(OrderTypeWire{Limit: &LimitOrderType{Tif: TifIoc}})
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, msgpack.Unmarshal(b, &m))
	assert.Contains(t, m, "limit")
	assert.NotContains(t, m, "trigger")
}

func TestActionHashDependsOnNonceAndVault(t *testing.T) {
	action := NewUpdateLeverageAction(0, true, 10)
	h1, err := ActionHash(action, "", 1)
	require.NoError(t, err)
	h1again, err := ActionHash(action, "", 1)
	require.NoError(t, err)
	h2, err := ActionHash(action, "", 2)
	require.NoError(t, err)
	hv, err := ActionHash(action, "0x1111111111111111111111111111111111111111", 1)
	require.NoError(t, err)

	assert.Len(t, h1, 32)
	assert.Equal(t, h1, h1again)
	assert.NotEqual(t, h1, h2)
	assert.NotEqual(t, h1, hv)
}

func TestSignL1ActionRecoversSigner(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	want := crypto.PubkeyToAddress(key.PublicKey)

	action := NewOrderAction(OrderWire{
		Asset: 3, IsBuy: true, LimitPx: "105", Size: "0.5",
		OrderType: OrderTypeWire{Limit: &LimitOrderType{Tif: TifIoc}},
	})
	sig, err := SignL1Action(key, action, 1700000000000, true)
	require.NoError(t, err)
	assert.Contains(t, []byte{27, 28}, sig.V)
	assert.Len(t, sig.R, 66)

	got, err := RecoverL1Signer(action, 1700000000000, true, sig)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	// A testnet signature does not verify as mainnet.
	other, err := RecoverL1Signer(action, 1700000000000, false, sig)
	require.NoError(t, err)
	assert.NotEqual(t, want, other)
}
