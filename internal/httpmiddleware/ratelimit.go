package httpmiddleware

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// Limiter decides whether one more request for key is allowed.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// KeyFunc names the caller a request is counted against.
type KeyFunc func(c *gin.Context) string

// ClientIP counts requests per client address.
func ClientIP(c *gin.Context) string {
	if ip := c.ClientIP(); ip != "" {
		return "ip:" + ip
	}
	return "ip:unknown"
}

// RateLimit aborts with 429 when the limiter refuses the request. A limiter
// error lets the request through.
func RateLimit(l Limiter, key KeyFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, err := l.Allow(c.Request.Context(), key(c))
		if err == nil && !ok {
			c.Header("Retry-After", "60")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests, slow down"})
			return
		}
		c.Next()
	}
}

// TokenBucket is an in-memory limiter refilled at perMinute tokens a minute.
type TokenBucket struct {
	capacity int
	rate     int
	mu       sync.Mutex
	state    map[string]*bucket
	now      func() time.Time
}

type bucket struct {
	tokens int
	last   time.Time
}

func NewTokenBucket(capacity, perMinute int) *TokenBucket {
	if capacity <= 0 {
		capacity = perMinute
	}
	return &TokenBucket{
		capacity: capacity,
		rate:     perMinute,
		state:    make(map[string]*bucket),
		now:      time.Now,
	}
}

func (l *TokenBucket) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	b, ok := l.state[key]
	if !ok {
		l.state[key] = &bucket{tokens: l.capacity - 1, last: now}
		return true, nil
	}
	if refill := int(now.Sub(b.last).Minutes() * float64(l.rate)); refill > 0 {
		b.tokens = min(l.capacity, b.tokens+refill)
		b.last = now
	}
	if b.tokens <= 0 {
		return false, nil
	}
	b.tokens--
	return true, nil
}

// RedisWindow counts requests per key in fixed one-minute windows shared by
// every instance. When Redis fails it answers from the fallback limiter.
type RedisWindow struct {
	client   *redis.Client
	limit    int
	window   time.Duration
	fallback Limiter
	now      func() time.Time
}

func NewRedisWindow(client *redis.Client, perMinute int, fallback Limiter) *RedisWindow {
	return &RedisWindow{
		client:   client,
		limit:    perMinute,
		window:   time.Minute,
		fallback: fallback,
		now:      time.Now,
	}
}

func (l *RedisWindow) Allow(ctx context.Context, key string) (bool, error) {
	slot := l.now().Unix() / int64(l.window.Seconds())
	k := fmt.Sprintf("servicehours:ratelimit:%s:%d", key, slot)

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.Expire(ctx, k, l.window+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		if l.fallback != nil {
			return l.fallback.Allow(ctx, key)
		}
		return true, err
	}
	return incr.Val() <= int64(l.limit), nil
}
