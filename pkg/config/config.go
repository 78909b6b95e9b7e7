package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	MainnetAPIURL = "https://api.hyperliquid.xyz"
	TestnetAPIURL = "https://api.hyperliquid-testnet.xyz"
	MainnetWSURL  = "wss://api.hyperliquid.xyz/ws"
	TestnetWSURL  = "wss://api.hyperliquid-testnet.xyz/ws"
)

// ExchangeConfig 交易所连接配置
type ExchangeConfig struct {
	BaseURL        string
	WSURL          string
	Testnet        bool
	Timeout        time.Duration
	EnableMidsFeed bool // 订阅 allMids 推送，为 /api/prices 提供数据
}

// PolicyConfig 注册与交易策略参数
type PolicyConfig struct {
	MinDeposit      float64
	MaxDeposit      float64
	DefaultSlippage float64
	MaxLeverage     int
}

// CustodyConfig 私钥托管配置
type CustodyConfig struct {
	MasterKey      string // 32 bytes base64/hex，优先级低于 secret store
	SecretDBPath   string
	SecretKey      string // badger 加密密钥
	HDWallets      bool   // 使用 secret store 中的助记词派生钱包
	DerivationPath string // 派生路径模板，%d 为序号
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string
	Format     string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Config 应用配置
type Config struct {
	Listen           string
	DBPath           string
	PublicBaseURL    string
	AdminToken       string
	RateLimitPerSec  int
	TrustedProxies   []string // 允许设置 X-Forwarded-For 的反向代理，为空则只认对端地址
	FillSyncInterval time.Duration
	MetricsListen    string
	Exchange         ExchangeConfig
	Policy           PolicyConfig
	Custody          CustodyConfig
	Log              LogConfig
}

// ConfigFile 配置文件结构（用于 YAML/JSON 解析）
type ConfigFile struct {
	Listen           string   `yaml:"listen" json:"listen"`
	DBPath           string   `yaml:"db_path" json:"db_path"`
	PublicBaseURL    string   `yaml:"public_base_url" json:"public_base_url"`
	AdminToken       string   `yaml:"admin_token" json:"admin_token"`
	RateLimitPerSec  int      `yaml:"rate_limit_per_sec" json:"rate_limit_per_sec"`
	TrustedProxies   []string `yaml:"trusted_proxies" json:"trusted_proxies"`
	FillSyncInterval string   `yaml:"fill_sync_interval" json:"fill_sync_interval"`
	MetricsListen    string   `yaml:"metrics_listen" json:"metrics_listen"`
	Exchange         struct {
		BaseURL        string `yaml:"base_url" json:"base_url"`
		WSURL          string `yaml:"ws_url" json:"ws_url"`
		Testnet        *bool  `yaml:"testnet" json:"testnet"`
		Timeout        string `yaml:"timeout" json:"timeout"`
		EnableMidsFeed *bool  `yaml:"enable_mids_feed" json:"enable_mids_feed"`
	} `yaml:"exchange" json:"exchange"`
	Policy struct {
		MinDeposit      float64 `yaml:"min_deposit" json:"min_deposit"`
		MaxDeposit      float64 `yaml:"max_deposit" json:"max_deposit"`
		DefaultSlippage float64 `yaml:"default_slippage" json:"default_slippage"`
		MaxLeverage     int     `yaml:"max_leverage" json:"max_leverage"`
	} `yaml:"policy" json:"policy"`
	Custody struct {
		SecretDBPath   string `yaml:"secret_db_path" json:"secret_db_path"`
		HDWallets      *bool  `yaml:"hd_wallets" json:"hd_wallets"`
		DerivationPath string `yaml:"derivation_path" json:"derivation_path"`
	} `yaml:"custody" json:"custody"`
	Log struct {
		Level      string `yaml:"level" json:"level"`
		Format     string `yaml:"format" json:"format"`
		File       string `yaml:"file" json:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups" json:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days" json:"max_age_days"`
	} `yaml:"log" json:"log"`
}

// Load 加载配置。优先级：环境变量 > 配置文件 > 默认值。
// 密钥类配置（master key、secret key）只从环境变量读取。
func Load(filePath string) (*Config, error) {
	cf := &ConfigFile{}
	if strings.TrimSpace(filePath) != "" {
		loaded, err := loadConfigFile(filePath)
		if err != nil {
			return nil, fmt.Errorf("load config file %s: %w", filePath, err)
		}
		cf = loaded
	}

	testnet := parseBoolEnv("ROBINCLAW_TESTNET", boolOr(cf.Exchange.Testnet, false))
	defaultAPI, defaultWS := MainnetAPIURL, MainnetWSURL
	if testnet {
		defaultAPI, defaultWS = TestnetAPIURL, TestnetWSURL
	}

	c := &Config{
		Listen:           getEnv("ROBINCLAW_LISTEN", strOr(cf.Listen, ":8000")),
		DBPath:           getEnv("ROBINCLAW_DB", strOr(cf.DBPath, "data/robinclaw.db")),
		PublicBaseURL:    getEnv("ROBINCLAW_PUBLIC_URL", strOr(cf.PublicBaseURL, "https://robinclaw.xyz")),
		AdminToken:       getEnv("ROBINCLAW_ADMIN_TOKEN", cf.AdminToken),
		RateLimitPerSec:  parseIntEnv("ROBINCLAW_RATE_LIMIT", intOr(cf.RateLimitPerSec, 10)),
		TrustedProxies:   parseListEnv("ROBINCLAW_TRUSTED_PROXIES", cf.TrustedProxies),
		FillSyncInterval: parseDurationEnv("ROBINCLAW_FILL_SYNC_INTERVAL", durationOr(cf.FillSyncInterval, 60*time.Second)),
		MetricsListen:    getEnv("ROBINCLAW_METRICS_LISTEN", cf.MetricsListen),
		Exchange: ExchangeConfig{
			BaseURL:        getEnv("ROBINCLAW_EXCHANGE_URL", strOr(cf.Exchange.BaseURL, defaultAPI)),
			WSURL:          getEnv("ROBINCLAW_EXCHANGE_WS_URL", strOr(cf.Exchange.WSURL, defaultWS)),
			Testnet:        testnet,
			Timeout:        parseDurationEnv("ROBINCLAW_EXCHANGE_TIMEOUT", durationOr(cf.Exchange.Timeout, 10*time.Second)),
			EnableMidsFeed: parseBoolEnv("ROBINCLAW_MIDS_FEED", boolOr(cf.Exchange.EnableMidsFeed, true)),
		},
		Policy: PolicyConfig{
			MinDeposit:      parseFloatEnv("ROBINCLAW_MIN_DEPOSIT", floatOr(cf.Policy.MinDeposit, 10)),
			MaxDeposit:      parseFloatEnv("ROBINCLAW_MAX_DEPOSIT", floatOr(cf.Policy.MaxDeposit, 100)),
			DefaultSlippage: parseFloatEnv("ROBINCLAW_SLIPPAGE", floatOr(cf.Policy.DefaultSlippage, 0.05)),
			MaxLeverage:     parseIntEnv("ROBINCLAW_MAX_LEVERAGE", intOr(cf.Policy.MaxLeverage, 50)),
		},
		Custody: CustodyConfig{
			MasterKey:      getEnv("ROBINCLAW_MASTER_KEY", ""),
			SecretDBPath:   getEnv("ROBINCLAW_SECRET_DB", cf.Custody.SecretDBPath),
			SecretKey:      getEnv("ROBINCLAW_SECRET_KEY", ""),
			HDWallets:      parseBoolEnv("ROBINCLAW_HD_WALLETS", boolOr(cf.Custody.HDWallets, false)),
			DerivationPath: getEnv("ROBINCLAW_DERIVATION_PATH", strOr(cf.Custody.DerivationPath, "m/44'/60'/0'/0/%d")),
		},
		Log: LogConfig{
			Level:      getEnv("LOG_LEVEL", strOr(cf.Log.Level, "info")),
			Format:     getEnv("LOG_FORMAT", strOr(cf.Log.Format, "text")),
			File:       getEnv("LOG_FILE", strOr(cf.Log.File, "logs/robinclaw.log")),
			MaxSizeMB:  intOr(cf.Log.MaxSizeMB, 100),
			MaxBackups: intOr(cf.Log.MaxBackups, 3),
			MaxAgeDays: intOr(cf.Log.MaxAgeDays, 7),
		},
	}
	return c, nil
}

// Validate 验证配置
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DBPath) == "" {
		return fmt.Errorf("db path is required")
	}
	if strings.TrimSpace(c.Exchange.BaseURL) == "" {
		return fmt.Errorf("exchange base url is required")
	}
	if c.Policy.MinDeposit < 0 || c.Policy.MaxDeposit <= 0 || c.Policy.MinDeposit > c.Policy.MaxDeposit {
		return fmt.Errorf("invalid deposit bounds: min=%v max=%v", c.Policy.MinDeposit, c.Policy.MaxDeposit)
	}
	if c.Policy.DefaultSlippage <= 0 || c.Policy.DefaultSlippage >= 1 {
		return fmt.Errorf("default slippage must be in (0,1), got %v", c.Policy.DefaultSlippage)
	}
	if c.Policy.MaxLeverage <= 0 {
		return fmt.Errorf("max leverage must be positive")
	}
	if c.RateLimitPerSec < 0 {
		return fmt.Errorf("rate limit must not be negative")
	}
	if c.Custody.HDWallets && c.Custody.SecretDBPath == "" {
		return fmt.Errorf("hd wallets require a secret store (ROBINCLAW_SECRET_DB)")
	}
	if c.Custody.HDWallets && !strings.Contains(c.Custody.DerivationPath, "%d") {
		return fmt.Errorf("derivation path must contain %%d, got %q", c.Custody.DerivationPath)
	}
	return nil
}

// loadConfigFile 加载配置文件（支持 YAML 和 JSON）
func loadConfigFile(filePath string) (*ConfigFile, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var configFile ConfigFile
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &configFile); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &configFile); err != nil {
			return nil, fmt.Errorf("parse json: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format: %s (use .yaml, .yml or .json)", filepath.Ext(filePath))
	}
	return &configFile, nil
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// parseListEnv 逗号分隔的列表
func parseListEnv(key string, def []string) []string {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseIntEnv(key string, def int) int {
	if v := getEnv(key, ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func parseFloatEnv(key string, def float64) float64 {
	if v := getEnv(key, ""); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func parseBoolEnv(key string, def bool) bool {
	if v := getEnv(key, ""); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func parseDurationEnv(key string, def time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		// 兼容纯数字秒
		if n, err2 := strconv.Atoi(v); err2 == nil && n >= 0 {
			return time.Duration(n) * time.Second
		}
		return def
	}
	return d
}

func strOr(v, def string) string {
	if strings.TrimSpace(v) != "" {
		return v
	}
	return def
}

func intOr(v, def int) int {
	if v != 0 {
		return v
	}
	return def
}

func floatOr(v, def float64) float64 {
	if v != 0 {
		return v
	}
	return def
}

func boolOr(v *bool, def bool) bool {
	if v != nil {
		return *v
	}
	return def
}

func durationOr(v string, def time.Duration) time.Duration {
	if strings.TrimSpace(v) == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	return def
}
