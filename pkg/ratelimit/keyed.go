package ratelimit

import (
	"time"

	"github.com/robinclaw/robinclaw/pkg/cache"
)

// KeyedLimiter 按 key（例如 API 凭证）分配独立的令牌桶，空闲的桶由缓存过期回收
type KeyedLimiter struct {
	perSecond int
	idleTTL   time.Duration
	buckets   *cache.InMemoryCache[string, *TokenBucket]
}

// NewKeyedLimiter 每个 key 每秒最多 perSecond 个请求，perSecond<=0 表示不限流
func NewKeyedLimiter(perSecond int, idleTTL time.Duration) *KeyedLimiter {
	if idleTTL <= 0 {
		idleTTL = 10 * time.Minute
	}
	return &KeyedLimiter{
		perSecond: perSecond,
		idleTTL:   idleTTL,
		buckets:   cache.NewInMemoryCache[string, *TokenBucket](idleTTL),
	}
}

// Allow 检查 key 是否还有额度
func (kl *KeyedLimiter) Allow(key string) bool {
	if kl == nil || kl.perSecond <= 0 {
		return true
	}
	b := kl.buckets.GetOrSet(key, kl.idleTTL, func() *TokenBucket {
		return NewTokenBucket(kl.perSecond, kl.perSecond, time.Second)
	})
	kl.buckets.Touch(key, kl.idleTTL)
	return b.Allow()
}

// RetryAfter 返回 key 的额度恢复时间
func (kl *KeyedLimiter) RetryAfter(key string) time.Duration {
	if kl == nil {
		return 0
	}
	b, ok := kl.buckets.Get(key)
	if !ok {
		return 0
	}
	d := time.Until(b.GetResetTime())
	if d < time.Second {
		return time.Second
	}
	return d
}

// Stop 停止后台清理
func (kl *KeyedLimiter) Stop() {
	if kl != nil {
		kl.buckets.Stop()
	}
}
