package monitor

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"sentinel-gate/internal/blocklist"
	"sentinel-gate/internal/csp"
	"sentinel-gate/internal/metrics"
	"sentinel-gate/internal/notify"
	"sentinel-gate/internal/rules"
	"sentinel-gate/internal/schema"
	"sentinel-gate/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

type captureChannel struct {
	got chan *notify.Notification
}

func (c *captureChannel) Name() string {
	return "capture"
}

func (c *captureChannel) Send(ctx context.Context, msg *notify.Notification) error {
	c.got <- msg
	return nil
}

// newTestMonitor wires a full engine with builtin rules and a capture
// notification channel. The monitor is started and stopped with the
// test.
func newTestMonitor(t *testing.T) (*Monitor, *captureChannel) {
	t.Helper()
	logger := testLogger()

	registry := blocklist.NewRegistry(blocklist.DefaultConfig(), logger)
	engine := rules.NewEngine(registry, logger)
	events := store.New(logger)
	cspManager := csp.NewManager(csp.DefaultConfig(), nil, logger)

	capture := &captureChannel{got: make(chan *notify.Notification, 16)}
	notifier := notify.New(notify.DefaultConfig(), logger)
	notifier.AddChannel(capture)

	mon := New(Deps{
		Store:     events,
		Engine:    engine,
		Blocklist: registry,
		CSP:       cspManager,
		Notifier:  notifier,
	}, logger)

	if err := mon.LoadRules(""); err != nil {
		t.Fatalf("LoadRules() error = %v", err)
	}

	mon.Start()
	t.Cleanup(mon.Stop)
	return mon, capture
}

func TestRecordEventValidatesEnums(t *testing.T) {
	mon, _ := newTestMonitor(t)
	ctx := context.Background()

	_, err := mon.RecordEvent(ctx, schema.EventType("PORT_SCAN"), schema.LevelHigh, schema.EventDetails{})
	if !errors.Is(err, schema.ErrInvalidEventType) {
		t.Errorf("unknown type error = %v, want ErrInvalidEventType", err)
	}

	_, err = mon.RecordEvent(ctx, schema.EventXSSAttempt, schema.ThreatLevel("EXTREME"), schema.EventDetails{})
	if !errors.Is(err, schema.ErrInvalidThreatLevel) {
		t.Errorf("unknown level error = %v, want ErrInvalidThreatLevel", err)
	}

	if got := len(mon.Events(store.Filter{})); got != 0 {
		t.Errorf("store has %d events after rejected submissions, want 0", got)
	}
}

func TestRecordEventCriticalXSS(t *testing.T) {
	mon, capture := newTestMonitor(t)

	event, err := mon.RecordEvent(context.Background(), schema.EventXSSAttempt, schema.LevelCritical, schema.EventDetails{
		Content: "<script>document.location='https://evil.example.net'</script>",
		IP:      "10.0.0.1",
	})
	if err != nil {
		t.Fatalf("RecordEvent() error = %v", err)
	}

	if event.ID == "" {
		t.Error("event has no id")
	}
	if !event.Blocked {
		t.Error("event not marked blocked")
	}
	if !mon.IsIPBlocked("10.0.0.1") {
		t.Error("attacker IP not blocked")
	}

	entry, ok := mon.BlockedIP("10.0.0.1")
	if !ok {
		t.Fatal("no blocklist entry for attacker IP")
	}
	if entry.Reason != "xss-protection" {
		t.Errorf("block reason = %q, want %q", entry.Reason, "xss-protection")
	}

	m := mon.Metrics()
	if m.SystemHealth != metrics.HealthCritical {
		t.Errorf("SystemHealth = %q, want %q", m.SystemHealth, metrics.HealthCritical)
	}
	if m.BlockedRequests != 1 {
		t.Errorf("BlockedRequests = %d, want 1", m.BlockedRequests)
	}

	select {
	case msg := <-capture.got:
		if msg.EventID != event.ID {
			t.Errorf("notification EventID = %q, want %q", msg.EventID, event.ID)
		}
		if len(msg.Rules) != 1 || msg.Rules[0] != "xss-protection" {
			t.Errorf("notification Rules = %v, want [xss-protection]", msg.Rules)
		}
		if !msg.Blocked {
			t.Error("notification not marked blocked")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("notification never delivered")
	}
}

func TestRecordEventBelowNotifyLevel(t *testing.T) {
	mon, capture := newTestMonitor(t)

	_, err := mon.RecordEvent(context.Background(), schema.EventSuspiciousInput, schema.LevelLow, schema.EventDetails{
		Content: "odd but harmless input",
	})
	if err != nil {
		t.Fatalf("RecordEvent() error = %v", err)
	}

	select {
	case msg := <-capture.got:
		t.Fatalf("notification %q delivered for LOW event", msg.EventID)
	case <-time.After(100 * time.Millisecond):
	}

	if got := len(mon.Events(store.Filter{})); got != 1 {
		t.Errorf("store has %d events, want 1", got)
	}
}

func TestRecordEventCanceledContext(t *testing.T) {
	mon, _ := newTestMonitor(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := mon.RecordEvent(ctx, schema.EventXSSAttempt, schema.LevelHigh, schema.EventDetails{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	if got := len(mon.Events(store.Filter{})); got != 0 {
		t.Errorf("store has %d events, want 0", got)
	}
}

func TestResolveEvent(t *testing.T) {
	mon, _ := newTestMonitor(t)

	event, err := mon.RecordEvent(context.Background(), schema.EventSuspiciousInput, schema.LevelLow, schema.EventDetails{
		Content: "input",
	})
	if err != nil {
		t.Fatalf("RecordEvent() error = %v", err)
	}

	if !mon.ResolveEvent(event.ID, "false positive") {
		t.Error("ResolveEvent() = false for known id")
	}
	if mon.ResolveEvent("sec_0_missing", "notes") {
		t.Error("ResolveEvent() = true for unknown id")
	}

	stored, ok := mon.Event(event.ID)
	if !ok {
		t.Fatal("event not found after resolve")
	}
	if !stored.Resolved || stored.ResolutionNotes != "false positive" {
		t.Errorf("resolution state = %v/%q, want true/%q", stored.Resolved, stored.ResolutionNotes, "false positive")
	}
}

func TestLoadRulesCustomDir(t *testing.T) {
	dir := t.TempDir()
	custom := `- id: beacon-watch
  name: Beacon Watch
  event_type: ABNORMAL_BEHAVIOR
  condition:
    kind: content_contains
    substring: beacon
  action: warn
  enabled: true
  cooldown: 30s
`
	if err := os.WriteFile(filepath.Join(dir, "10-beacon.yaml"), []byte(custom), 0o644); err != nil {
		t.Fatalf("write rule file: %v", err)
	}

	logger := testLogger()
	registry := blocklist.NewRegistry(blocklist.DefaultConfig(), logger)
	mon := New(Deps{
		Store:     store.New(logger),
		Engine:    rules.NewEngine(registry, logger),
		Blocklist: registry,
		CSP:       csp.NewManager(csp.DefaultConfig(), nil, logger),
	}, logger)

	if err := mon.LoadRules(dir); err != nil {
		t.Fatalf("LoadRules() error = %v", err)
	}

	got := mon.Rules()
	if len(got) != len(rules.BuiltinRules())+1 {
		t.Fatalf("Rules() has %d entries, want %d", len(got), len(rules.BuiltinRules())+1)
	}
	if got[len(got)-1].ID != "beacon-watch" {
		t.Errorf("last rule = %q, want %q", got[len(got)-1].ID, "beacon-watch")
	}
}

func TestLoadRulesMissingDir(t *testing.T) {
	logger := testLogger()
	registry := blocklist.NewRegistry(blocklist.DefaultConfig(), logger)
	mon := New(Deps{
		Store:     store.New(logger),
		Engine:    rules.NewEngine(registry, logger),
		Blocklist: registry,
		CSP:       csp.NewManager(csp.DefaultConfig(), nil, logger),
	}, logger)

	if err := mon.LoadRules(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("LoadRules() = nil for missing directory, want error")
	}
}

func TestSetRuleEnabled(t *testing.T) {
	mon, _ := newTestMonitor(t)

	if !mon.SetRuleEnabled("xss-protection", false) {
		t.Fatal("SetRuleEnabled() = false for known rule")
	}
	rule, ok := mon.Rule("xss-protection")
	if !ok {
		t.Fatal("rule not found")
	}
	if rule.Enabled {
		t.Error("rule still enabled after disable")
	}

	event, err := mon.RecordEvent(context.Background(), schema.EventXSSAttempt, schema.LevelCritical, schema.EventDetails{
		Content: "<script>alert(1)</script>",
		IP:      "10.0.0.9",
	})
	if err != nil {
		t.Fatalf("RecordEvent() error = %v", err)
	}
	if event.Blocked {
		t.Error("disabled rule still blocked event")
	}

	if mon.SetRuleEnabled("no-such-rule", true) {
		t.Error("SetRuleEnabled() = true for unknown rule")
	}
}

func TestCSPReportsStayOffEventTrack(t *testing.T) {
	mon, _ := newTestMonitor(t)

	mon.HandleCSPReport(&csp.ViolationReport{
		DocumentURI:       "https://app.example.com/checkout",
		ViolatedDirective: "script-src",
		BlockedURI:        "https://evil.example.net/skim.js",
	})

	if got := len(mon.CSPViolations()); got != 1 {
		t.Errorf("CSPViolations() has %d reports, want 1", got)
	}
	if got := len(mon.Events(store.Filter{})); got != 0 {
		t.Errorf("store has %d events, want 0: violation reports must not become events", got)
	}

	stats := mon.CSPViolationStats()
	if stats.Total != 1 {
		t.Errorf("ViolationStats.Total = %d, want 1", stats.Total)
	}
}

func TestCSPPolicyPassthrough(t *testing.T) {
	mon, _ := newTestMonitor(t)

	header := mon.GenerateCSPHeader()
	if header == "" {
		t.Fatal("GenerateCSPHeader() returned empty header")
	}

	strict := csp.StrictPolicy()
	if err := mon.SetCSPPolicy(strict); err != nil {
		t.Fatalf("SetCSPPolicy() error = %v", err)
	}
	if got := mon.GenerateCSPHeader(); got == header {
		t.Error("header unchanged after policy replacement")
	}

	result := mon.ValidateCSPPolicy()
	if !result.IsValid {
		t.Errorf("strict policy invalid: %v", result.Errors)
	}
}

func TestMonitorStats(t *testing.T) {
	mon, _ := newTestMonitor(t)

	if _, err := mon.RecordEvent(context.Background(), schema.EventInjectionAttack, schema.LevelHigh, schema.EventDetails{
		Content: "' OR 1=1 --",
		IP:      "198.51.100.7",
	}); err != nil {
		t.Fatalf("RecordEvent() error = %v", err)
	}

	stats := mon.Stats()
	for _, key := range []string{"store", "rules", "blocklist", "notifier"} {
		if _, ok := stats[key]; !ok {
			t.Errorf("Stats() missing %q", key)
		}
	}

	storeStats, ok := stats["store"].(store.Stats)
	if !ok {
		t.Fatalf("store stats has type %T", stats["store"])
	}
	if storeStats.Size != 1 {
		t.Errorf("store size = %d, want 1", storeStats.Size)
	}
}
