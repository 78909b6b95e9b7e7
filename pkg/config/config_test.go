package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	require.NoError(t, c.Validate())

	assert.Equal(t, ":8000", c.Listen)
	assert.Equal(t, MainnetAPIURL, c.Exchange.BaseURL)
	assert.Equal(t, 10.0, c.Policy.MinDeposit)
	assert.Equal(t, 100.0, c.Policy.MaxDeposit)
	assert.Equal(t, 0.05, c.Policy.DefaultSlippage)
	assert.Equal(t, 10, c.RateLimitPerSec)
	assert.Equal(t, time.Minute, c.FillSyncInterval)
	assert.Empty(t, c.TrustedProxies)
}

func TestLoadYAMLWithEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "robinclaw.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen: ":9000"
fill_sync_interval: 30s
trusted_proxies: ["10.0.0.1"]
exchange:
  testnet: true
policy:
  min_deposit: 20
  max_deposit: 500
`), 0o600))

	t.Setenv("ROBINCLAW_MAX_DEPOSIT", "250")
	t.Setenv("ROBINCLAW_FILL_SYNC_INTERVAL", "15")

	c, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, c.Validate())

	assert.Equal(t, ":9000", c.Listen)
	assert.True(t, c.Exchange.Testnet)
	assert.Equal(t, TestnetAPIURL, c.Exchange.BaseURL)
	assert.Equal(t, TestnetWSURL, c.Exchange.WSURL)
	assert.Equal(t, 20.0, c.Policy.MinDeposit)
	assert.Equal(t, 250.0, c.Policy.MaxDeposit)
	assert.Equal(t, 15*time.Second, c.FillSyncInterval)
	assert.Equal(t, []string{"10.0.0.1"}, c.TrustedProxies)

	t.Setenv("ROBINCLAW_TRUSTED_PROXIES", " 10.0.0.2 ,,192.168.0.0/16")
	c, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.2", "192.168.0.0/16"}, c.TrustedProxies)
}

func TestValidateRejectsInvertedDepositBounds(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	c.Policy.MinDeposit = 200
	assert.Error(t, c.Validate())
}

func TestValidateHDWalletsNeedSecretStore(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	c.Custody.HDWallets = true
	c.Custody.SecretDBPath = ""
	assert.Error(t, c.Validate())
}

func TestUnsupportedConfigFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "robinclaw.toml")
	require.NoError(t, os.WriteFile(path, []byte("listen = 1"), 0o600))
	_, err := Load(path)
	assert.Error(t, err)
}
