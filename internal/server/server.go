// Package server exposes the gateway over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/robinclaw/robinclaw/internal/hyperliquid"
	"github.com/robinclaw/robinclaw/internal/lifecycle"
	"github.com/robinclaw/robinclaw/pkg/logger"
	"github.com/robinclaw/robinclaw/pkg/ratelimit"
)

// MarketData is the public venue data the API re-serves. *hyperliquid.Client
// satisfies it.
type MarketData interface {
	Meta(ctx context.Context) (*hyperliquid.Meta, error)
	AllMids(ctx context.Context) (map[string]string, error)
	L2Book(ctx context.Context, coin string) (*hyperliquid.L2Book, error)
	CandleSnapshot(ctx context.Context, coin, interval string, start, end time.Time) ([]hyperliquid.Candle, error)
}

// MidsSource is a streamed mid-price cache.
type MidsSource interface {
	Snapshot() (map[string]string, time.Time)
}

type Config struct {
	Manager *lifecycle.Manager
	Market  MarketData
	// Mids is optional. When set and fresh it answers /api/prices without a venue call.
	Mids       MidsSource
	MidsMaxAge time.Duration

	AdminToken      string
	RateLimitPerSec int
	PublicBaseURL   string
	// TrustedProxies may set X-Forwarded-For. Empty means the peer address is used as is.
	TrustedProxies []string
}

type Server struct {
	cfg     Config
	mgr     *lifecycle.Manager
	market  MarketData
	limiter *ratelimit.KeyedLimiter
	log     *logrus.Entry
}

func New(cfg Config) (*Server, error) {
	if cfg.Manager == nil {
		return nil, errors.New("lifecycle manager is required")
	}
	if cfg.Market == nil {
		return nil, errors.New("market data client is required")
	}
	if cfg.MidsMaxAge <= 0 {
		cfg.MidsMaxAge = 10 * time.Second
	}
	if cfg.PublicBaseURL == "" {
		cfg.PublicBaseURL = "http://localhost:8000"
	}
	return &Server{
		cfg:     cfg,
		mgr:     cfg.Manager,
		market:  cfg.Market,
		limiter: ratelimit.NewKeyedLimiter(cfg.RateLimitPerSec, 10*time.Minute),
		log:     logger.WithField("component", "http"),
	}, nil
}

func (s *Server) Close() {
	s.limiter.Stop()
}

func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	if err := r.SetTrustedProxies(s.cfg.TrustedProxies); err != nil {
		s.log.Warnf("invalid trusted proxies %v, ignoring forwarded headers: %v", s.cfg.TrustedProxies, err)
		_ = r.SetTrustedProxies(nil)
	}
	r.Use(gin.Recovery(), s.requestID(), s.accessLog())

	r.GET("/health", s.wrap(s.handleHealth))
	r.GET("/healthz", s.wrap(s.handleHealthz))
	r.GET("/skill.md", s.wrap(s.handleSkill))

	api := r.Group("/api")
	public := api.Group("", s.rateLimit(byClient))
	public.GET("/markets", s.wrap(s.handleMarkets))
	public.GET("/prices", s.wrap(s.handlePrices))
	public.GET("/orderbook/:symbol", s.wrap(s.handleOrderBook))
	public.GET("/candles/:symbol", s.wrap(s.handleCandles))
	public.GET("/leaderboard", s.wrap(s.handleLeaderboard))
	public.GET("/hall-of-fame", s.wrap(s.handleHallOfFame))
	public.POST("/register", s.wrap(s.handleRegister))

	agent := api.Group("", s.agentAuth(), s.rateLimit(byAgent))
	agent.GET("/account", s.wrap(s.handleAccount))
	agent.GET("/positions", s.wrap(s.handlePositions))
	agent.GET("/orders", s.wrap(s.handleOrders))
	agent.GET("/trades", s.wrap(s.handleTrades))
	agent.POST("/order", s.wrap(s.handlePlaceOrder))
	agent.DELETE("/order/:orderId", s.wrap(s.handleCancelOrder))
	agent.POST("/close", s.wrap(s.handleClosePosition))
	agent.POST("/leverage", s.wrap(s.handleSetLeverage))
	agent.POST("/close-account", s.wrap(s.handleCloseAccount))

	admin := r.Group("/admin", s.adminAuth())
	admin.GET("/agents", s.wrap(s.handleAdminAgents))
	admin.POST("/agents/:name/activate", s.wrap(s.handleAdminActivate))
	admin.GET("/jobs/runs", s.wrap(s.handleJobRunsList))
	admin.POST("/jobs/fills_sync", s.wrap(s.handleJobFillsSyncNow))

	r.NoRoute(func(c *gin.Context) { writeError(c.Writer, http.StatusNotFound, "not found") })
	return r
}

type paramsKeyType string

const paramsKey paramsKeyType = "robinclaw_path_params"

// wrap adapts net/http handlers to gin, injecting path params into request context.
func (s *Server) wrap(h func(http.ResponseWriter, *http.Request)) gin.HandlerFunc {
	return func(c *gin.Context) {
		m := map[string]string{}
		for _, p := range c.Params {
			m[p.Key] = p.Value
		}
		ctx := context.WithValue(c.Request.Context(), paramsKey, m)
		c.Request = c.Request.WithContext(ctx)
		h(c.Writer, c.Request)
	}
}

func pathParam(r *http.Request, key string) string {
	m, _ := r.Context().Value(paramsKey).(map[string]string)
	return m[key]
}
