package custody

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	hdwallet "github.com/miguelmota/go-ethereum-hdwallet"
	"github.com/pkg/errors"
)

// Wallet is a freshly provisioned venue wallet. PrivateKeyHex never leaves the
// process unsealed.
type Wallet struct {
	Address       string
	PrivateKeyHex string
	Index         *int64
}

// Provisioner creates one new wallet per registered agent.
type Provisioner interface {
	Provision(ctx context.Context) (*Wallet, error)
}

// RandomProvisioner generates independent secp256k1 keys.
type RandomProvisioner struct{}

func (RandomProvisioner) Provision(ctx context.Context) (*Wallet, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, errors.Wrap(err, "generate key")
	}
	return &Wallet{
		Address:       strings.ToLower(crypto.PubkeyToAddress(key.PublicKey).Hex()),
		PrivateKeyHex: hex.EncodeToString(crypto.FromECDSA(key)),
	}, nil
}

// IndexAllocator hands out wallet indices that are never reused.
type IndexAllocator interface {
	NextCounter(ctx context.Context, name string) (int64, error)
}

const walletIndexCounter = "wallet_index"

// HDProvisioner derives wallets from a single mnemonic, one index per agent.
type HDProvisioner struct {
	wallet       *hdwallet.Wallet
	pathTemplate string
	indices      IndexAllocator
}

func NewHDProvisioner(mnemonic, pathTemplate string, indices IndexAllocator) (*HDProvisioner, error) {
	mnemonic = strings.TrimSpace(mnemonic)
	if mnemonic == "" {
		return nil, errors.New("mnemonic is required")
	}
	if !strings.Contains(pathTemplate, "%d") {
		return nil, errors.Errorf("derivation path template must contain %%d, got %q", pathTemplate)
	}
	if indices == nil {
		return nil, errors.New("index allocator is required")
	}
	w, err := hdwallet.NewFromMnemonic(mnemonic)
	if err != nil {
		return nil, errors.Wrap(err, "invalid mnemonic")
	}
	return &HDProvisioner{wallet: w, pathTemplate: pathTemplate, indices: indices}, nil
}

func (p *HDProvisioner) Provision(ctx context.Context) (*Wallet, error) {
	idx, err := p.indices.NextCounter(ctx, walletIndexCounter)
	if err != nil {
		return nil, errors.Wrap(err, "allocate wallet index")
	}
	w, err := p.derive(fmt.Sprintf(p.pathTemplate, idx))
	if err != nil {
		return nil, err
	}
	w.Index = &idx
	return w, nil
}

// PreviewAddress derives the address at index without allocating it.
func PreviewAddress(mnemonic, pathTemplate string, index int64) (string, error) {
	if !strings.Contains(pathTemplate, "%d") {
		return "", errors.Errorf("derivation path template must contain %%d, got %q", pathTemplate)
	}
	w, err := hdwallet.NewFromMnemonic(strings.TrimSpace(mnemonic))
	if err != nil {
		return "", errors.Wrap(err, "invalid mnemonic")
	}
	p := &HDProvisioner{wallet: w, pathTemplate: pathTemplate}
	wl, err := p.derive(fmt.Sprintf(pathTemplate, index))
	if err != nil {
		return "", err
	}
	return wl.Address, nil
}

func (p *HDProvisioner) derive(derivationPath string) (*Wallet, error) {
	path, err := hdwallet.ParseDerivationPath(derivationPath)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid derivation path %s", derivationPath)
	}
	acct, err := p.wallet.Derive(path, false)
	if err != nil {
		return nil, errors.Wrap(err, "derive failed")
	}
	pk, err := p.wallet.PrivateKeyHex(acct)
	if err != nil {
		return nil, errors.Wrap(err, "private key failed")
	}
	return &Wallet{
		Address:       strings.ToLower(acct.Address.Hex()),
		PrivateKeyHex: pk,
	}, nil
}

// NewMnemonic returns a fresh 24-word BIP-39 mnemonic.
func NewMnemonic() (string, error) {
	return hdwallet.NewMnemonic(256)
}

// AddressFromPrivateKey returns the lowercase 0x address for a hex private key.
func AddressFromPrivateKey(privateKeyHex string) (string, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x"))
	if err != nil {
		return "", errors.Wrap(err, "parse private key")
	}
	return strings.ToLower(crypto.PubkeyToAddress(key.PublicKey).Hex()), nil
}
