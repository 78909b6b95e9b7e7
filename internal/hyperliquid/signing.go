package hyperliquid

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// L1 actions are signed as an EIP-712 "phantom agent" whose connectionId is the
// hash of the msgpack-encoded action.
const (
	l1DomainName    = "Exchange"
	l1DomainVersion = "1"
	l1ChainID       = 1337
	zeroAddress     = "0x0000000000000000000000000000000000000000"
)

type Signature struct {
	R string `json:"r"`
	S string `json:"s"`
	V byte   `json:"v"`
}

// ActionHash = keccak256(msgpack(action) || nonce(8 bytes BE) || vault marker).
func ActionHash(action any, vaultAddress string, nonce int64) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.UseCompactInts(true)
	if err := enc.Encode(action); err != nil {
		return nil, errors.Wrap(err, "msgpack action")
	}
	data := buf.Bytes()

	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(nonce))
	data = append(data, n[:]...)

	if vaultAddress == "" {
		data = append(data, 0x00)
	} else {
		data = append(data, 0x01)
		data = append(data, common.HexToAddress(vaultAddress).Bytes()...)
	}
	return crypto.Keccak256(data), nil
}

func phantomAgentTypedData(connectionID []byte, isMainnet bool) apitypes.TypedData {
	source := "b"
	if isMainnet {
		source = "a"
	}
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"Agent": {
				{Name: "source", Type: "string"},
				{Name: "connectionId", Type: "bytes32"},
			},
		},
		PrimaryType: "Agent",
		Domain: apitypes.TypedDataDomain{
			Name:              l1DomainName,
			Version:           l1DomainVersion,
			ChainId:           math.NewHexOrDecimal256(l1ChainID),
			VerifyingContract: zeroAddress,
		},
		Message: apitypes.TypedDataMessage{
			"source":       source,
			"connectionId": hexutil.Encode(connectionID),
		},
	}
}

func typedDataDigest(td apitypes.TypedData) ([]byte, error) {
	domainSeparator, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		return nil, errors.Wrap(err, "hash domain")
	}
	msgHash, err := td.HashStruct(td.PrimaryType, td.Message)
	if err != nil {
		return nil, errors.Wrap(err, "hash message")
	}
	raw := []byte("\x19\x01")
	raw = append(raw, domainSeparator...)
	raw = append(raw, msgHash...)
	return crypto.Keccak256(raw), nil
}

// SignL1Action signs action for submission to /exchange.
func SignL1Action(key *ecdsa.PrivateKey, action any, nonce int64, isMainnet bool) (Signature, error) {
	hash, err := ActionHash(action, "", nonce)
	if err != nil {
		return Signature{}, err
	}
	digest, err := typedDataDigest(phantomAgentTypedData(hash, isMainnet))
	if err != nil {
		return Signature{}, err
	}
	sig, err := crypto.Sign(digest, key)
	if err != nil {
		return Signature{}, errors.Wrap(err, "sign")
	}
	return Signature{
		R: hexutil.Encode(sig[:32]),
		S: hexutil.Encode(sig[32:64]),
		V: sig[64] + 27,
	}, nil
}

// RecoverL1Signer returns the address that produced sig over action.
func RecoverL1Signer(action any, nonce int64, isMainnet bool, sig Signature) (common.Address, error) {
	hash, err := ActionHash(action, "", nonce)
	if err != nil {
		return common.Address{}, err
	}
	digest, err := typedDataDigest(phantomAgentTypedData(hash, isMainnet))
	if err != nil {
		return common.Address{}, err
	}
	r, err := hexutil.Decode(sig.R)
	if err != nil {
		return common.Address{}, err
	}
	s, err := hexutil.Decode(sig.S)
	if err != nil {
		return common.Address{}, err
	}
	raw := make([]byte, 65)
	copy(raw[32-len(r):32], r)
	copy(raw[64-len(s):64], s)
	raw[64] = sig.V - 27
	pub, err := crypto.SigToPub(digest, raw)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}
