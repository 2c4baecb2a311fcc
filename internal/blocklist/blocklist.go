// Package blocklist tracks temporarily blocked client IPs. Entries
// carry a TTL and expire lazily: a lookup that finds an expired entry
// removes it, so no sweeper is required for correctness. A background
// janitor is available for registries with long idle stretches.
package blocklist

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultBlockTTL is how long a block lasts unless configured otherwise.
const DefaultBlockTTL = 30 * time.Minute

// BlockedIP represents one active block.
type BlockedIP struct {
	IP        string    `json:"ip"`
	Reason    string    `json:"reason"`
	BlockedAt time.Time `json:"blocked_at"`
	Expires   time.Time `json:"expires"`
}

// Config holds blocklist configuration.
type Config struct {
	BlockTTL time.Duration `yaml:"block_ttl"`
}

// DefaultConfig returns the default blocklist configuration.
func DefaultConfig() Config {
	return Config{BlockTTL: DefaultBlockTTL}
}

// Registry is the mutex-guarded set of blocked IPs.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*BlockedIP

	ttl    time.Duration
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	totalBlocked atomic.Int64
	totalExpired atomic.Int64
}

// NewRegistry creates a block registry. A non-positive TTL falls back
// to the default.
func NewRegistry(cfg Config, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BlockTTL <= 0 {
		cfg.BlockTTL = DefaultBlockTTL
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Registry{
		entries: make(map[string]*BlockedIP),
		ttl:     cfg.BlockTTL,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Block adds an IP to the registry until now + TTL. Re-blocking an
// already-blocked IP resets the expiry window and overwrites the
// reason. An empty IP is ignored.
func (r *Registry) Block(ip, reason string) {
	if ip == "" {
		return
	}

	now := time.Now().UTC()
	entry := &BlockedIP{
		IP:        ip,
		Reason:    reason,
		BlockedAt: now,
		Expires:   now.Add(r.ttl),
	}

	r.mu.Lock()
	r.entries[ip] = entry
	r.mu.Unlock()

	r.totalBlocked.Add(1)
	r.logger.Warn("blocked IP address",
		"ip", ip,
		"reason", reason,
		"ttl", r.ttl,
	)
}

// IsBlocked reports whether an IP is currently blocked. An entry found
// past its deadline is removed here.
func (r *Registry) IsBlocked(ip string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[ip]
	if !ok {
		return false
	}
	if time.Now().After(entry.Expires) {
		delete(r.entries, ip)
		r.totalExpired.Add(1)
		r.logger.Info("blocklist entry expired", "ip", ip)
		return false
	}
	return true
}

// Get returns the active block for an IP, if any.
func (r *Registry) Get(ip string) (*BlockedIP, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[ip]
	if !ok || time.Now().After(entry.Expires) {
		return nil, false
	}
	cp := *entry
	return &cp, true
}

// Unblock removes an IP ahead of its expiry. Returns false when the IP
// was not blocked.
func (r *Registry) Unblock(ip string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[ip]; !ok {
		return false
	}
	delete(r.entries, ip)
	r.logger.Info("unblocked IP address", "ip", ip)
	return true
}

// ActiveBlocks returns copies of all unexpired entries, soonest expiry
// first.
func (r *Registry) ActiveBlocks() []*BlockedIP {
	now := time.Now()

	r.mu.RLock()
	result := make([]*BlockedIP, 0, len(r.entries))
	for _, entry := range r.entries {
		if now.After(entry.Expires) {
			continue
		}
		cp := *entry
		result = append(result, &cp)
	}
	r.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].Expires.Before(result[j].Expires)
	})
	return result
}

// Cleanup removes all expired entries and returns how many were
// dropped.
func (r *Registry) Cleanup() int {
	now := time.Now()

	r.mu.Lock()
	removed := 0
	for ip, entry := range r.entries {
		if now.After(entry.Expires) {
			delete(r.entries, ip)
			removed++
		}
	}
	r.mu.Unlock()

	if removed > 0 {
		r.totalExpired.Add(int64(removed))
		r.logger.Info("blocklist cleanup", "removed", removed)
	}
	return removed
}

// Start launches the background janitor.
func (r *Registry) Start() {
	go r.janitor()
}

// Stop stops the background janitor.
func (r *Registry) Stop() {
	r.cancel()
}

// janitor sweeps expired entries once a minute.
func (r *Registry) janitor() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.Cleanup()
		}
	}
}

// Stats returns registry counters. Expired entries awaiting removal
// are not counted as active.
func (r *Registry) Stats() map[string]interface{} {
	now := time.Now()

	r.mu.RLock()
	size := 0
	for _, entry := range r.entries {
		if !now.After(entry.Expires) {
			size++
		}
	}
	r.mu.RUnlock()

	return map[string]interface{}{
		"active":        size,
		"total_blocked": r.totalBlocked.Load(),
		"total_expired": r.totalExpired.Load(),
		"ttl_seconds":   int(r.ttl.Seconds()),
	}
}
