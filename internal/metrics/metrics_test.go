package metrics

import (
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"sentinel-gate/internal/schema"
	"sentinel-gate/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

func seedEvent(typ schema.EventType, level schema.ThreatLevel, ip string, blocked bool) *schema.SecurityEvent {
	return &schema.SecurityEvent{
		Type:    typ,
		Level:   level,
		IP:      ip,
		Blocked: blocked,
		Content: "metrics test event",
	}
}

func TestCollectEmpty(t *testing.T) {
	agg := NewAggregator(store.New(testLogger()))

	m := agg.Collect()
	if m.TotalEvents != 0 {
		t.Errorf("TotalEvents = %d, want 0", m.TotalEvents)
	}
	if m.SystemHealth != HealthHealthy {
		t.Errorf("SystemHealth = %q, want %q", m.SystemHealth, HealthHealthy)
	}
	if len(m.TopAttackers) != 0 {
		t.Errorf("TopAttackers = %v, want empty", m.TopAttackers)
	}
	if len(m.RecentActivity) != 0 {
		t.Errorf("RecentActivity has %d events, want 0", len(m.RecentActivity))
	}
	if m.GeneratedAt.IsZero() {
		t.Error("GeneratedAt not stamped")
	}
}

func TestCollectCounts(t *testing.T) {
	st := store.New(testLogger())
	st.Append(seedEvent(schema.EventXSSAttempt, schema.LevelCritical, "10.0.0.1", true))
	st.Append(seedEvent(schema.EventXSSAttempt, schema.LevelHigh, "10.0.0.1", false))
	st.Append(seedEvent(schema.EventInjectionAttack, schema.LevelHigh, "10.0.0.2", true))
	st.Append(seedEvent(schema.EventRateLimitExceeded, schema.LevelMedium, "", false))
	st.Append(seedEvent(schema.EventCSPViolation, schema.LevelLow, "", false))

	m := NewAggregator(st).Collect()

	if m.TotalEvents != 5 {
		t.Fatalf("TotalEvents = %d, want 5", m.TotalEvents)
	}
	if got := m.EventsByType[schema.EventXSSAttempt]; got != 2 {
		t.Errorf("EventsByType[XSS_ATTEMPT] = %d, want 2", got)
	}
	if got := m.EventsByType[schema.EventInjectionAttack]; got != 1 {
		t.Errorf("EventsByType[INJECTION_ATTACK] = %d, want 1", got)
	}
	if got := m.EventsByLevel[schema.LevelHigh]; got != 2 {
		t.Errorf("EventsByLevel[HIGH] = %d, want 2", got)
	}
	if m.BlockedRequests != 2 {
		t.Errorf("BlockedRequests = %d, want 2", m.BlockedRequests)
	}

	levelSum := 0
	for _, n := range m.EventsByLevel {
		levelSum += n
	}
	if levelSum != m.TotalEvents {
		t.Errorf("sum(EventsByLevel) = %d, want TotalEvents %d", levelSum, m.TotalEvents)
	}
	typeSum := 0
	for _, n := range m.EventsByType {
		typeSum += n
	}
	if typeSum != m.TotalEvents {
		t.Errorf("sum(EventsByType) = %d, want TotalEvents %d", typeSum, m.TotalEvents)
	}
}

func TestCollectHealth(t *testing.T) {
	tests := []struct {
		name string
		seed func(st *store.EventStore)
		want SystemHealth
	}{
		{
			name: "low traffic is healthy",
			seed: func(st *store.EventStore) {
				for i := 0; i < 5; i++ {
					st.Append(seedEvent(schema.EventSuspiciousInput, schema.LevelLow, "10.0.0.1", false))
				}
			},
			want: HealthHealthy,
		},
		{
			name: "high events at threshold stay healthy",
			seed: func(st *store.EventStore) {
				for i := 0; i < 10; i++ {
					st.Append(seedEvent(schema.EventInjectionAttack, schema.LevelHigh, "10.0.0.1", false))
				}
			},
			want: HealthHealthy,
		},
		{
			name: "high events past threshold warn",
			seed: func(st *store.EventStore) {
				for i := 0; i < 11; i++ {
					st.Append(seedEvent(schema.EventInjectionAttack, schema.LevelHigh, "10.0.0.1", false))
				}
			},
			want: HealthWarning,
		},
		{
			name: "blocked requests past threshold warn",
			seed: func(st *store.EventStore) {
				for i := 0; i < 6; i++ {
					st.Append(seedEvent(schema.EventMaliciousRequest, schema.LevelMedium, "10.0.0.1", true))
				}
			},
			want: HealthWarning,
		},
		{
			name: "any critical event is critical",
			seed: func(st *store.EventStore) {
				st.Append(seedEvent(schema.EventXSSAttempt, schema.LevelCritical, "10.0.0.1", false))
			},
			want: HealthCritical,
		},
		{
			name: "critical outranks warning",
			seed: func(st *store.EventStore) {
				for i := 0; i < 20; i++ {
					st.Append(seedEvent(schema.EventInjectionAttack, schema.LevelHigh, "10.0.0.1", true))
				}
				st.Append(seedEvent(schema.EventXSSAttempt, schema.LevelCritical, "10.0.0.2", false))
			},
			want: HealthCritical,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := store.New(testLogger())
			tt.seed(st)
			if got := NewAggregator(st).Collect().SystemHealth; got != tt.want {
				t.Errorf("SystemHealth = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTopAttackers(t *testing.T) {
	st := store.New(testLogger())
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	// 203.0.113.5 three events, 203.0.113.9 two, 203.0.113.1 one.
	for i := 0; i < 3; i++ {
		ev := seedEvent(schema.EventXSSAttempt, schema.LevelHigh, "203.0.113.5", false)
		ev.Timestamp = base.Add(time.Duration(i) * time.Minute)
		st.Append(ev)
	}
	for i := 0; i < 2; i++ {
		ev := seedEvent(schema.EventInjectionAttack, schema.LevelHigh, "203.0.113.9", false)
		ev.Timestamp = base.Add(time.Hour)
		st.Append(ev)
	}
	ev := seedEvent(schema.EventSuspiciousInput, schema.LevelLow, "203.0.113.1", false)
	ev.Timestamp = base
	st.Append(ev)
	// Events without a source IP are not attributed to any attacker.
	st.Append(seedEvent(schema.EventCSPViolation, schema.LevelLow, "", false))

	m := NewAggregator(st).Collect()

	if len(m.TopAttackers) != 3 {
		t.Fatalf("TopAttackers has %d entries, want 3", len(m.TopAttackers))
	}
	wantOrder := []string{"203.0.113.5", "203.0.113.9", "203.0.113.1"}
	for i, want := range wantOrder {
		if m.TopAttackers[i].IP != want {
			t.Errorf("TopAttackers[%d].IP = %q, want %q", i, m.TopAttackers[i].IP, want)
		}
	}
	if m.TopAttackers[0].Count != 3 {
		t.Errorf("TopAttackers[0].Count = %d, want 3", m.TopAttackers[0].Count)
	}
	wantSeen := base.Add(2 * time.Minute)
	if !m.TopAttackers[0].LastSeen.Equal(wantSeen) {
		t.Errorf("TopAttackers[0].LastSeen = %v, want %v", m.TopAttackers[0].LastSeen, wantSeen)
	}
}

func TestTopAttackersCapped(t *testing.T) {
	st := store.New(testLogger())
	// 12 distinct IPs with descending event counts 12..1.
	for i := 0; i < 12; i++ {
		ip := fmt.Sprintf("198.51.100.%d", i)
		for n := 0; n < 12-i; n++ {
			st.Append(seedEvent(schema.EventMaliciousRequest, schema.LevelMedium, ip, false))
		}
	}

	m := NewAggregator(st).Collect()

	if len(m.TopAttackers) != 10 {
		t.Fatalf("TopAttackers has %d entries, want 10", len(m.TopAttackers))
	}
	if m.TopAttackers[0].IP != "198.51.100.0" || m.TopAttackers[0].Count != 12 {
		t.Errorf("TopAttackers[0] = %s/%d, want 198.51.100.0/12", m.TopAttackers[0].IP, m.TopAttackers[0].Count)
	}
	for _, attacker := range m.TopAttackers {
		if attacker.IP == "198.51.100.10" || attacker.IP == "198.51.100.11" {
			t.Errorf("low-count attacker %s should have been cut", attacker.IP)
		}
	}
}

func TestRecentActivity(t *testing.T) {
	st := store.New(testLogger())
	for i := 1; i <= 25; i++ {
		ev := seedEvent(schema.EventSuspiciousInput, schema.LevelLow, "10.0.0.1", false)
		ev.ID = fmt.Sprintf("event-%d", i)
		st.Append(ev)
	}

	m := NewAggregator(st).Collect()

	if len(m.RecentActivity) != 20 {
		t.Fatalf("RecentActivity has %d events, want 20", len(m.RecentActivity))
	}
	if m.RecentActivity[0].ID != "event-6" {
		t.Errorf("RecentActivity[0].ID = %q, want %q", m.RecentActivity[0].ID, "event-6")
	}
	if m.RecentActivity[19].ID != "event-25" {
		t.Errorf("RecentActivity[19].ID = %q, want %q", m.RecentActivity[19].ID, "event-25")
	}
}
