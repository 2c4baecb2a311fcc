package blocklist

import (
	"log/slog"
	"os"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestRegistryBlockAndLookup(t *testing.T) {
	r := NewRegistry(DefaultConfig(), testLogger())

	r.Block("203.0.113.7", "xss attempts")

	if !r.IsBlocked("203.0.113.7") {
		t.Error("IsBlocked() = false for blocked IP")
	}
	if r.IsBlocked("203.0.113.8") {
		t.Error("IsBlocked() = true for unknown IP")
	}

	entry, ok := r.Get("203.0.113.7")
	if !ok {
		t.Fatal("Get() did not find blocked IP")
	}
	if entry.Reason != "xss attempts" {
		t.Errorf("Reason = %q, want %q", entry.Reason, "xss attempts")
	}
	if !entry.Expires.After(entry.BlockedAt) {
		t.Error("Expires not after BlockedAt")
	}
}

func TestRegistryLazyExpiry(t *testing.T) {
	r := NewRegistry(Config{BlockTTL: 50 * time.Millisecond}, testLogger())

	r.Block("203.0.113.7", "probe")
	if !r.IsBlocked("203.0.113.7") {
		t.Fatal("IsBlocked() = false before expiry")
	}

	time.Sleep(80 * time.Millisecond)

	if r.IsBlocked("203.0.113.7") {
		t.Error("IsBlocked() = true after expiry")
	}
	if _, ok := r.Get("203.0.113.7"); ok {
		t.Error("Get() found expired entry")
	}
	if got := r.Stats()["total_expired"].(int64); got != 1 {
		t.Errorf("total_expired = %d, want 1", got)
	}
}

func TestRegistryReblockResetsWindow(t *testing.T) {
	r := NewRegistry(Config{BlockTTL: 100 * time.Millisecond}, testLogger())

	r.Block("203.0.113.7", "first")
	time.Sleep(60 * time.Millisecond)
	r.Block("203.0.113.7", "second")
	time.Sleep(60 * time.Millisecond)

	// 120ms after the first block, 60ms after the second.
	if !r.IsBlocked("203.0.113.7") {
		t.Error("re-block did not reset the expiry window")
	}
	entry, ok := r.Get("203.0.113.7")
	if !ok {
		t.Fatal("Get() did not find re-blocked IP")
	}
	if entry.Reason != "second" {
		t.Errorf("Reason = %q, want %q", entry.Reason, "second")
	}
}

func TestRegistryUnblock(t *testing.T) {
	r := NewRegistry(DefaultConfig(), testLogger())

	if r.Unblock("203.0.113.7") {
		t.Error("Unblock() = true for unknown IP")
	}

	r.Block("203.0.113.7", "probe")
	if !r.Unblock("203.0.113.7") {
		t.Error("Unblock() = false for blocked IP")
	}
	if r.IsBlocked("203.0.113.7") {
		t.Error("IsBlocked() = true after unblock")
	}
}

func TestRegistryActiveBlocksOrder(t *testing.T) {
	r := NewRegistry(Config{BlockTTL: time.Hour}, testLogger())

	r.Block("203.0.113.1", "a")
	time.Sleep(5 * time.Millisecond)
	r.Block("203.0.113.2", "b")
	time.Sleep(5 * time.Millisecond)
	r.Block("203.0.113.3", "c")

	blocks := r.ActiveBlocks()
	if len(blocks) != 3 {
		t.Fatalf("ActiveBlocks() returned %d entries, want 3", len(blocks))
	}
	for i := 1; i < len(blocks); i++ {
		if blocks[i].Expires.Before(blocks[i-1].Expires) {
			t.Error("ActiveBlocks() not ordered by expiry")
		}
	}
}

func TestRegistryCleanup(t *testing.T) {
	r := NewRegistry(Config{BlockTTL: 30 * time.Millisecond}, testLogger())

	r.Block("203.0.113.1", "a")
	r.Block("203.0.113.2", "b")
	time.Sleep(50 * time.Millisecond)
	r.Block("203.0.113.3", "c")

	if removed := r.Cleanup(); removed != 2 {
		t.Errorf("Cleanup() = %d, want 2", removed)
	}
	if got := r.Stats()["active"].(int); got != 1 {
		t.Errorf("active after cleanup = %d, want 1", got)
	}
}

func TestRegistryIgnoresEmptyIP(t *testing.T) {
	r := NewRegistry(DefaultConfig(), testLogger())

	r.Block("", "no source")
	if len(r.ActiveBlocks()) != 0 {
		t.Error("Block(\"\") created an entry")
	}
}
