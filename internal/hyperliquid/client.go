package hyperliquid

import (
	"context"
	"crypto/ecdsa"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/robinclaw/robinclaw/pkg/cache"
	"github.com/robinclaw/robinclaw/pkg/logger"
	"github.com/robinclaw/robinclaw/pkg/ratelimit"
	sdkhttp "github.com/robinclaw/robinclaw/pkg/sdk/http"
)

const (
	limitInfo      = "hl:info"
	limitInfoHeavy = "hl:info:heavy"
	limitExchange  = "hl:exchange"

	metaCacheKey   = "meta"
	defaultMetaTTL = 5 * time.Minute
)

type Config struct {
	BaseURL string
	Mainnet bool
	Timeout time.Duration
	MetaTTL time.Duration
	// RetryCount applies to /info on 429/502/503 responses. /exchange is never retried:
	// a replayed action carries the same nonce and would be rejected even when the first
	// attempt executed.
	RetryCount int
}

// Client is a shared, concurrency-safe connection to the venue's /info and /exchange
// endpoints. Per-agent signing keys are passed per call and never stored.
type Client struct {
	http     *sdkhttp.Client
	exchange *sdkhttp.Client
	limits   *ratelimit.RateLimitManager
	meta     *cache.InMemoryCache[string, *Meta]
	metaTTL  time.Duration
	mainnet  bool
	nonces   *nonceSource
	log      *logrus.Entry
}

func NewClient(cfg Config) *Client {
	if cfg.MetaTTL <= 0 {
		cfg.MetaTTL = defaultMetaTTL
	}
	return &Client{
		http: sdkhttp.NewClientWithOptions(cfg.BaseURL, sdkhttp.ClientOptions{
			Timeout:    cfg.Timeout,
			RetryCount: cfg.RetryCount,
		}),
		exchange: sdkhttp.NewClientWithOptions(cfg.BaseURL, sdkhttp.ClientOptions{
			Timeout: cfg.Timeout,
		}),
		limits:  ratelimit.NewRateLimitManager(),
		meta:    cache.NewInMemoryCache[string, *Meta](cfg.MetaTTL),
		metaTTL: cfg.MetaTTL,
		mainnet: cfg.Mainnet,
		nonces:  &nonceSource{},
		log:     logger.WithField("component", "hyperliquid"),
	}
}

func (c *Client) IsMainnet() bool { return c.mainnet }

// Close stops background cache maintenance.
func (c *Client) Close() {
	c.meta.Stop()
}

func (c *Client) info(ctx context.Context, limit string, req any, out any) error {
	if err := c.limits.Wait(ctx, limit); err != nil {
		return errors.Wrap(err, "rate limit wait")
	}
	return c.http.PostJSON(ctx, "/info", req, out)
}

// Meta returns the perp universe, cached for MetaTTL.
func (c *Client) Meta(ctx context.Context) (*Meta, error) {
	if m, ok := c.meta.Get(metaCacheKey); ok {
		return m, nil
	}
	var m Meta
	if err := c.info(ctx, limitInfo, map[string]string{"type": "meta"}, &m); err != nil {
		return nil, errors.Wrap(err, "meta")
	}
	c.meta.Set(metaCacheKey, &m, c.metaTTL)
	return &m, nil
}

// AssetInfo resolves coin to its wire index and metadata.
func (c *Client) AssetInfo(ctx context.Context, coin string) (int, AssetInfo, error) {
	m, err := c.Meta(ctx)
	if err != nil {
		return 0, AssetInfo{}, err
	}
	idx, info, ok := m.Asset(coin)
	if !ok {
		return 0, AssetInfo{}, &UnknownSymbolError{Symbol: coin}
	}
	return idx, info, nil
}

type UnknownSymbolError struct {
	Symbol string
}

func (e *UnknownSymbolError) Error() string { return "Unknown symbol: " + e.Symbol }

func (c *Client) AllMids(ctx context.Context) (map[string]string, error) {
	out := map[string]string{}
	if err := c.info(ctx, limitInfo, map[string]string{"type": "allMids"}, &out); err != nil {
		return nil, errors.Wrap(err, "allMids")
	}
	return out, nil
}

func (c *Client) ClearinghouseState(ctx context.Context, user string) (*ClearinghouseState, error) {
	var st ClearinghouseState
	if err := c.info(ctx, limitInfo, map[string]string{"type": "clearinghouseState", "user": user}, &st); err != nil {
		return nil, errors.Wrap(err, "clearinghouseState")
	}
	return &st, nil
}

func (c *Client) OpenOrders(ctx context.Context, user string) ([]OpenOrder, error) {
	out := []OpenOrder{}
	if err := c.info(ctx, limitInfo, map[string]string{"type": "frontendOpenOrders", "user": user}, &out); err != nil {
		return nil, errors.Wrap(err, "frontendOpenOrders")
	}
	return out, nil
}

func (c *Client) L2Book(ctx context.Context, coin string) (*L2Book, error) {
	var b L2Book
	if err := c.info(ctx, limitInfo, map[string]string{"type": "l2Book", "coin": coin}, &b); err != nil {
		return nil, errors.Wrap(err, "l2Book")
	}
	return &b, nil
}

func (c *Client) CandleSnapshot(ctx context.Context, coin, interval string, start, end time.Time) ([]Candle, error) {
	req := map[string]any{
		"type": "candleSnapshot",
		"req": map[string]any{
			"coin":      coin,
			"interval":  interval,
			"startTime": start.UnixMilli(),
			"endTime":   end.UnixMilli(),
		},
	}
	out := []Candle{}
	if err := c.info(ctx, limitInfoHeavy, req, &out); err != nil {
		return nil, errors.Wrap(err, "candleSnapshot")
	}
	return out, nil
}

// UserFills returns the most recent fills, newest first.
func (c *Client) UserFills(ctx context.Context, user string) ([]Fill, error) {
	out := []Fill{}
	if err := c.info(ctx, limitInfoHeavy, map[string]string{"type": "userFills", "user": user}, &out); err != nil {
		return nil, errors.Wrap(err, "userFills")
	}
	return out, nil
}

type exchangeRequest struct {
	Action       any       `json:"action"`
	Nonce        int64     `json:"nonce"`
	Signature    Signature `json:"signature"`
	VaultAddress *string   `json:"vaultAddress"`
}

// Exchange signs and submits an L1 action. A venue-level rejection is returned as a
// response with Status "err", not as an error.
func (c *Client) Exchange(ctx context.Context, key *ecdsa.PrivateKey, action any) (*ExchangeResponse, error) {
	if key == nil {
		return nil, errors.New("signing key is required")
	}
	nonce := c.nonces.next()
	sig, err := SignL1Action(key, action, nonce, c.mainnet)
	if err != nil {
		return nil, err
	}
	if err := c.limits.Wait(ctx, limitExchange); err != nil {
		return nil, errors.Wrap(err, "rate limit wait")
	}
	var resp ExchangeResponse
	if err := c.exchange.PostJSON(ctx, "/exchange", exchangeRequest{Action: action, Nonce: nonce, Signature: sig}, &resp); err != nil {
		return nil, errors.Wrap(err, "exchange")
	}
	if !resp.OK() {
		c.log.WithField("status", resp.Status).Debugf("exchange rejected action: %s", truncate(resp.ErrorMessage(), 200))
	}
	return &resp, nil
}

// nonceSource issues strictly increasing millisecond nonces.
type nonceSource struct {
	mu   sync.Mutex
	last int64
}

func (n *nonceSource) next() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	now := time.Now().UnixMilli()
	if now <= n.last {
		now = n.last + 1
	}
	n.last = now
	return now
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
