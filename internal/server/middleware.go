package server

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/robinclaw/robinclaw/internal/apperr"
	"github.com/robinclaw/robinclaw/internal/ledger"
	"github.com/robinclaw/robinclaw/internal/metrics"
	"github.com/robinclaw/robinclaw/pkg/id"
)

const (
	requestIDHeader  = "X-Request-ID"
	apiKeyHeader     = "X-API-Key"
	adminTokenHeader = "X-Admin-Token"
)

type agentKeyType struct{}

var agentKey agentKeyType

// requestID ensures every request has an X-Request-ID and echoes it back.
func (s *Server) requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if rid == "" || len(rid) > 64 {
			rid = id.New()
		}
		c.Writer.Header().Set(requestIDHeader, rid)
		c.Next()
	}
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		entry := s.log.WithFields(logrus.Fields{
			"request_id": c.Writer.Header().Get(requestIDHeader),
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"latency_ms": time.Since(start).Milliseconds(),
		})
		if a := agentFrom(c.Request); a != nil {
			entry = entry.WithField("agent", a.Name)
		}
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			entry.Warn("request")
		default:
			entry.Debug("request")
		}
	}
}

// rateLimit throttles each caller to RateLimitPerSec. keyOf picks the bucket.
func (s *Server) rateLimit(keyOf func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := keyOf(c)
		if !s.limiter.Allow(key) {
			s.tooManyRequests(c, key)
			return
		}
		c.Next()
	}
}

// byClient keys on the peer address. Unverified credentials never pick the bucket.
func byClient(c *gin.Context) string { return "ip:" + c.ClientIP() }

// byAgent keys on the authenticated agent, so it must run after agentAuth.
func byAgent(c *gin.Context) string {
	if a := agentFrom(c.Request); a != nil {
		return "agent:" + a.ID
	}
	return byClient(c)
}

func (s *Server) tooManyRequests(c *gin.Context, key string) {
	metrics.RateLimitedCalls.Add(1)
	secs := int(s.limiter.RetryAfter(key).Seconds())
	if secs < 1 {
		secs = 1
	}
	c.Writer.Header().Set("Retry-After", strconv.Itoa(secs))
	writeError(c.Writer, http.StatusTooManyRequests, "rate limit exceeded")
	c.Abort()
}

// agentAuth authenticates X-API-Key on every request and stores the agent in the
// request context. Rejected keys spend the caller's address bucket.
func (s *Server) agentAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		agent, err := s.mgr.Authenticate(ctx, c.GetHeader(apiKeyHeader))
		if err != nil {
			if key := "auth:" + c.ClientIP(); apperr.Is(err, apperr.KindAuth) && !s.limiter.Allow(key) {
				s.tooManyRequests(c, key)
				return
			}
			writeAppError(c.Writer, c.Request, err)
			c.Abort()
			return
		}
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), agentKey, agent))
		c.Next()
	}
}

func agentFrom(r *http.Request) *ledger.Agent {
	a, _ := r.Context().Value(agentKey).(*ledger.Agent)
	return a
}

// adminAuth guards operator routes. With no token configured they are disabled.
func (s *Server) adminAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.AdminToken == "" {
			writeError(c.Writer, http.StatusForbidden, "admin API disabled")
			c.Abort()
			return
		}
		got := c.GetHeader(adminTokenHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.AdminToken)) != 1 {
			writeError(c.Writer, http.StatusUnauthorized, "invalid admin token")
			c.Abort()
			return
		}
		c.Next()
	}
}
