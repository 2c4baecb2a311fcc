package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"sentinel-gate/internal/schema"
)

// EventRecorder records security events produced at the HTTP edge.
// Satisfied by monitor.Monitor.
type EventRecorder interface {
	RecordEvent(ctx context.Context, eventType schema.EventType, level schema.ThreatLevel, details schema.EventDetails) (*schema.SecurityEvent, error)
}

// RateLimitConfig configures the per-IP fixed-window rate limiter.
type RateLimitConfig struct {
	Enabled       bool
	RequestsPerIP int
	Window        time.Duration
	TrustProxy    bool
	ExemptPaths   []string
}

// Decision is the outcome of one rate limit check.
type Decision struct {
	Allowed   bool
	Remaining int
	Reset     time.Time

	// FirstDenial is true only for the first denied request of a
	// window. One engine event is recorded per IP per window off this
	// flag; every denied request still gets a 429.
	FirstDenial bool
}

// clientState tracks request counts for one client IP.
type clientState struct {
	mu        sync.Mutex
	count     int64
	windowEnd time.Time
	reported  bool
}

// RateLimiter is a fixed-window per-IP request limiter. Window expiry
// is checked on each Allow call; the background janitor only reclaims
// memory for idle IPs.
type RateLimiter struct {
	cfg         RateLimitConfig
	recorder    EventRecorder
	logger      *slog.Logger
	exemptPaths map[string]bool

	mu      sync.RWMutex
	clients map[string]*clientState

	allowed atomic.Int64
	limited atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
}

// NewRateLimiter creates a rate limiter. recorder may be nil, in which
// case limit breaches are logged but not recorded as security events.
func NewRateLimiter(cfg RateLimitConfig, recorder EventRecorder, logger *slog.Logger) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}

	exempt := make(map[string]bool, len(cfg.ExemptPaths))
	for _, path := range cfg.ExemptPaths {
		exempt[path] = true
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &RateLimiter{
		cfg:         cfg,
		recorder:    recorder,
		logger:      logger,
		exemptPaths: exempt,
		clients:     make(map[string]*clientState),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start launches the background janitor.
func (rl *RateLimiter) Start() {
	go rl.janitor()
}

// Stop stops the background janitor.
func (rl *RateLimiter) Stop() {
	rl.cancel()
}

// Allow checks whether a request from ip fits in the current window.
func (rl *RateLimiter) Allow(ip string) Decision {
	now := time.Now()

	rl.mu.Lock()
	client, ok := rl.clients[ip]
	if !ok {
		client = &clientState{windowEnd: now.Add(rl.cfg.Window)}
		rl.clients[ip] = client
	}
	rl.mu.Unlock()

	client.mu.Lock()
	defer client.mu.Unlock()

	if now.After(client.windowEnd) {
		client.count = 0
		client.reported = false
		client.windowEnd = now.Add(rl.cfg.Window)
	}

	limit := int64(rl.cfg.RequestsPerIP)
	if client.count >= limit {
		first := !client.reported
		client.reported = true
		return Decision{Reset: client.windowEnd, FirstDenial: first}
	}

	client.count++
	remaining := limit - client.count
	return Decision{Allowed: true, Remaining: int(remaining), Reset: client.windowEnd}
}

// IsExempt reports whether a path bypasses rate limiting.
func (rl *RateLimiter) IsExempt(path string) bool {
	return rl.exemptPaths[path]
}

// janitor drops state for IPs idle longer than two windows.
func (rl *RateLimiter) janitor() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-rl.ctx.Done():
			return
		case <-ticker.C:
			rl.cleanup()
		}
	}
}

func (rl *RateLimiter) cleanup() {
	threshold := time.Now().Add(-2 * rl.cfg.Window)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	removed := 0
	for ip, client := range rl.clients {
		client.mu.Lock()
		idle := client.windowEnd.Before(threshold)
		client.mu.Unlock()
		if idle {
			delete(rl.clients, ip)
			removed++
		}
	}

	if removed > 0 {
		rl.logger.Debug("rate limiter cleanup",
			"removed", removed,
			"remaining", len(rl.clients))
	}
}

// Stats returns limiter counters.
func (rl *RateLimiter) Stats() map[string]interface{} {
	rl.mu.RLock()
	tracked := len(rl.clients)
	rl.mu.RUnlock()

	return map[string]interface{}{
		"tracked_ips": tracked,
		"allowed":     rl.allowed.Load(),
		"limited":     rl.limited.Load(),
	}
}

// Middleware enforces the rate limit and sets X-RateLimit-* headers.
// Denied requests get a 429 with Retry-After; the first denial of each
// window for an IP is recorded as a RATE_LIMIT_EXCEEDED event so the
// rule engine sees sustained abuse without one event per 429.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.cfg.Enabled || rl.IsExempt(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		ip := ClientIP(r, rl.cfg.TrustProxy)
		decision := rl.Allow(ip)

		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", rl.cfg.RequestsPerIP))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", decision.Remaining))
		w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", decision.Reset.Unix()))

		if !decision.Allowed {
			rl.limited.Add(1)
			rl.logger.Warn("rate limit exceeded",
				"ip", ip,
				"path", r.URL.Path,
				"method", r.Method)

			if decision.FirstDenial && rl.recorder != nil {
				rl.recordBreach(r, ip)
			}

			retryAfter := int(time.Until(decision.Reset).Seconds()) + 1
			w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprintf(w, `{"error":"rate limit exceeded","retry_after":%d}`, retryAfter)
			return
		}

		rl.allowed.Add(1)
		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) recordBreach(r *http.Request, ip string) {
	details := schema.EventDetails{
		Content: fmt.Sprintf("request rate exceeded %d per %s", rl.cfg.RequestsPerIP, rl.cfg.Window),
		IP:      ip,
		Metadata: map[string]interface{}{
			"path":   r.URL.Path,
			"method": r.Method,
			"limit":  rl.cfg.RequestsPerIP,
			"window": rl.cfg.Window.String(),
		},
	}

	if _, err := rl.recorder.RecordEvent(r.Context(), schema.EventRateLimitExceeded, schema.LevelMedium, details); err != nil {
		rl.logger.Error("failed to record rate limit event", "error", err, "ip", ip)
	}
}
