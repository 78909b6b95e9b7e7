// Package app assembles the gateway's long-lived dependencies from configuration.
package app

import (
	"github.com/pkg/errors"

	"github.com/robinclaw/robinclaw/internal/custody"
	"github.com/robinclaw/robinclaw/internal/gateway"
	"github.com/robinclaw/robinclaw/internal/hyperliquid"
	"github.com/robinclaw/robinclaw/internal/ledger"
	"github.com/robinclaw/robinclaw/internal/lifecycle"
	"github.com/robinclaw/robinclaw/pkg/config"
	"github.com/robinclaw/robinclaw/pkg/logger"
	"github.com/robinclaw/robinclaw/pkg/secretstore"
)

type App struct {
	Config  *config.Config
	Store   *ledger.Store
	Client  *hyperliquid.Client
	Manager *lifecycle.Manager
}

// OpenSecrets opens the badger secret store named by the config, or returns nil
// when none is configured.
func OpenSecrets(cfg *config.Config, readOnly bool) (*secretstore.Store, error) {
	if cfg.Custody.SecretDBPath == "" {
		return nil, nil
	}
	var key []byte
	if cfg.Custody.SecretKey != "" {
		k, err := secretstore.ParseKey(cfg.Custody.SecretKey)
		if err != nil {
			return nil, errors.Wrap(err, "ROBINCLAW_SECRET_KEY")
		}
		key = k
	}
	s, err := secretstore.Open(secretstore.OpenOptions{Path: cfg.Custody.SecretDBPath, EncryptionKey: key, ReadOnly: readOnly})
	if err != nil {
		return nil, errors.Wrapf(err, "open secret store %s", cfg.Custody.SecretDBPath)
	}
	return s, nil
}

func Open(cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	// Secrets are read once at startup; badger allows a single process to hold the store.
	secrets, err := OpenSecrets(cfg, true)
	if err != nil {
		return nil, err
	}
	defer func() {
		if secrets != nil {
			_ = secrets.Close()
		}
	}()
	masterKey, err := custody.LoadMasterKey(secrets, cfg.Custody.MasterKey)
	if err != nil {
		return nil, err
	}
	sealer, err := custody.NewSealer(masterKey)
	if err != nil {
		return nil, err
	}

	if a.Store, err = ledger.Open(cfg.DBPath); err != nil {
		return nil, err
	}

	var wallets custody.Provisioner = custody.RandomProvisioner{}
	if cfg.Custody.HDWallets {
		mnemonic, err := custody.LoadMnemonic(secrets)
		if err != nil {
			return nil, err
		}
		hd, err := custody.NewHDProvisioner(mnemonic, cfg.Custody.DerivationPath, a.Store)
		if err != nil {
			return nil, err
		}
		wallets = hd
		logger.Infof("custody: HD wallets enabled (path=%s)", cfg.Custody.DerivationPath)
	}

	a.Client = hyperliquid.NewClient(hyperliquid.Config{
		BaseURL:    cfg.Exchange.BaseURL,
		Mainnet:    !cfg.Exchange.Testnet,
		Timeout:    cfg.Exchange.Timeout,
		RetryCount: 2,
	})
	a.Manager = lifecycle.NewManager(a.Store, sealer, wallets,
		lifecycle.GatewayFactoryFrom(gateway.NewFactory(a.Client, sealer)),
		lifecycle.Policy{
			MinDeposit:      cfg.Policy.MinDeposit,
			MaxDeposit:      cfg.Policy.MaxDeposit,
			DefaultSlippage: cfg.Policy.DefaultSlippage,
			MaxLeverage:     cfg.Policy.MaxLeverage,
		})
	ok = true
	return a, nil
}

// OpenLedger opens only the ledger, for operator tooling that never signs. The
// returned manager refuses anything that needs an agent wallet.
func OpenLedger(cfg *config.Config) (*App, error) {
	store, err := ledger.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	noWallets := func(string) (lifecycle.Trader, error) {
		return nil, errors.New("exchange access is not available in ledger-only mode")
	}
	return &App{
		Config:  cfg,
		Store:   store,
		Manager: lifecycle.NewManager(store, nil, nil, noWallets, lifecycle.Policy{}),
	}, nil
}

// Close releases everything Open acquired, in reverse order.
func (a *App) Close() {
	if a.Manager != nil {
		a.Manager.Stop()
	}
	if a.Client != nil {
		a.Client.Close()
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			logger.Warnf("close ledger: %v", err)
		}
	}
}
