// Package usage counts requests per caller over fixed windows.
package usage

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Window is a counter value and the time it resets.
type Window struct {
	Count   int64
	ResetAt time.Time
}

// Counter increments a fixed-window counter. Counts may drift slightly under
// concurrency across processes.
type Counter interface {
	Incr(ctx context.Context, key string, window time.Duration) (Window, error)
}

// MemoryCounter is a process-local Counter.
type MemoryCounter struct {
	mu      sync.Mutex
	windows map[string]*Window
	now     func() time.Time
}

// NewMemoryCounter creates an empty in-memory counter.
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{windows: make(map[string]*Window), now: time.Now}
}

func (m *MemoryCounter) Incr(_ context.Context, key string, window time.Duration) (Window, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	w, ok := m.windows[key]
	if !ok || !now.Before(w.ResetAt) {
		w = &Window{ResetAt: now.Add(window)}
		m.windows[key] = w
	}
	w.Count++
	return *w, nil
}

// RedisCounter is a Counter shared through Redis.
type RedisCounter struct {
	client redis.Cmdable
	prefix string
}

// NewRedisCounter creates a counter storing keys under prefix.
func NewRedisCounter(client redis.Cmdable, prefix string) *RedisCounter {
	return &RedisCounter{client: client, prefix: prefix}
}

func (r *RedisCounter) Incr(ctx context.Context, key string, window time.Duration) (Window, error) {
	key = r.prefix + key

	count, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return Window{}, fmt.Errorf("incr %s: %w", key, err)
	}

	// The first increment opens the window
	if count == 1 {
		if err := r.client.PExpire(ctx, key, window).Err(); err != nil {
			return Window{}, fmt.Errorf("pexpire %s: %w", key, err)
		}
	}

	ttl, err := r.client.PTTL(ctx, key).Result()
	if err != nil {
		return Window{}, fmt.Errorf("pttl %s: %w", key, err)
	}
	if ttl < 0 {
		// Expiry was lost, reopen the window
		if err := r.client.PExpire(ctx, key, window).Err(); err != nil {
			return Window{}, fmt.Errorf("pexpire %s: %w", key, err)
		}
		ttl = window
	}

	return Window{Count: count, ResetAt: time.Now().Add(ttl)}, nil
}

// Decision is the outcome of a rate limit check.
type Decision struct {
	Allowed   bool
	Remaining int64
	ResetAt   time.Time
}

// Limiter allows a fixed number of requests per caller per window.
type Limiter struct {
	counter Counter
	limit   int64
	window  time.Duration
	logger  *slog.Logger
}

// NewLimiter creates a limiter over counter.
func NewLimiter(counter Counter, limit int64, window time.Duration, logger *slog.Logger) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{counter: counter, limit: limit, window: window, logger: logger}
}

// Allow counts a request from key. A failing counter lets the request through.
func (l *Limiter) Allow(ctx context.Context, key string) Decision {
	w, err := l.counter.Incr(ctx, "ratelimit:"+key, l.window)
	if err != nil {
		l.logger.Warn("rate limit counter failed", "key", key, "error", err)
		return Decision{Allowed: true, Remaining: l.limit}
	}
	return Decision{
		Allowed:   w.Count <= l.limit,
		Remaining: max(0, l.limit-w.Count),
		ResetAt:   w.ResetAt,
	}
}

// Tracker records per-route and per-caller request counts.
type Tracker struct {
	counter Counter
	window  time.Duration
	logger  *slog.Logger
}

// NewTracker creates a usage tracker over counter.
func NewTracker(counter Counter, window time.Duration, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{counter: counter, window: window, logger: logger}
}

// Track counts one request. Failures are logged only.
func (t *Tracker) Track(ctx context.Context, method, path, caller string) {
	for _, key := range []string{"usage:" + method + ":" + path, "usage:ip:" + caller} {
		if _, err := t.counter.Incr(ctx, key, t.window); err != nil {
			t.logger.Warn("usage tracking failed", "key", key, "error", err)
		}
	}
}

// ClientKey identifies the caller by X-Forwarded-For, then CF-Connecting-IP, then the
// remote address.
func ClientKey(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if cf := r.Header.Get("CF-Connecting-IP"); cf != "" {
		return cf
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
