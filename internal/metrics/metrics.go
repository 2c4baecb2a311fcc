// Package metrics computes security metrics on demand from the event
// store. Nothing is maintained incrementally: every collection pass
// recomputes from a snapshot, so resolutions and evictions are always
// reflected.
package metrics

import (
	"sort"
	"time"

	"sentinel-gate/internal/schema"
)

const (
	topAttackersLimit   = 10
	recentActivityLimit = 20

	warnHighEvents  = 10
	warnBlockedReqs = 5
)

// SystemHealth summarizes the current threat posture.
type SystemHealth string

const (
	HealthHealthy  SystemHealth = "healthy"
	HealthWarning  SystemHealth = "warning"
	HealthCritical SystemHealth = "critical"
)

// Attacker aggregates the events recorded for one source IP.
type Attacker struct {
	IP       string    `json:"ip"`
	Count    int       `json:"count"`
	LastSeen time.Time `json:"last_seen"`
}

// SecurityMetrics is the result of one aggregation pass.
type SecurityMetrics struct {
	GeneratedAt     time.Time                  `json:"generated_at"`
	TotalEvents     int                        `json:"total_events"`
	EventsByType    map[schema.EventType]int   `json:"events_by_type"`
	EventsByLevel   map[schema.ThreatLevel]int `json:"events_by_level"`
	BlockedRequests int                        `json:"blocked_requests"`
	TopAttackers    []*Attacker                `json:"top_attackers"`
	RecentActivity  []*schema.SecurityEvent    `json:"recent_activity"`
	SystemHealth    SystemHealth               `json:"system_health"`
}

// Snapshotter provides the events to aggregate. Satisfied by
// store.EventStore.
type Snapshotter interface {
	Snapshot() []*schema.SecurityEvent
}

// Aggregator computes security metrics from an event snapshot source.
type Aggregator struct {
	source Snapshotter
}

// NewAggregator creates an aggregator reading from the given source.
func NewAggregator(source Snapshotter) *Aggregator {
	return &Aggregator{source: source}
}

// Collect runs one aggregation pass: group counts by type and level,
// blocked count, top attackers by event count, the most recent events
// in insertion order, and the derived system health.
func (a *Aggregator) Collect() *SecurityMetrics {
	events := a.source.Snapshot()

	m := &SecurityMetrics{
		GeneratedAt:   time.Now().UTC(),
		TotalEvents:   len(events),
		EventsByType:  make(map[schema.EventType]int),
		EventsByLevel: make(map[schema.ThreatLevel]int),
	}

	attackers := make(map[string]*Attacker)
	for _, event := range events {
		m.EventsByType[event.Type]++
		m.EventsByLevel[event.Level]++
		if event.Blocked {
			m.BlockedRequests++
		}
		if event.IP == "" {
			continue
		}
		attacker, ok := attackers[event.IP]
		if !ok {
			attacker = &Attacker{IP: event.IP}
			attackers[event.IP] = attacker
		}
		attacker.Count++
		if event.Timestamp.After(attacker.LastSeen) {
			attacker.LastSeen = event.Timestamp
		}
	}

	m.TopAttackers = rankAttackers(attackers)

	recent := events
	if len(recent) > recentActivityLimit {
		recent = recent[len(recent)-recentActivityLimit:]
	}
	m.RecentActivity = recent

	m.SystemHealth = deriveHealth(m)
	return m
}

// rankAttackers orders attackers by descending event count, breaking
// ties by IP for stable output, and keeps the top entries.
func rankAttackers(byIP map[string]*Attacker) []*Attacker {
	ranked := make([]*Attacker, 0, len(byIP))
	for _, attacker := range byIP {
		ranked = append(ranked, attacker)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Count != ranked[j].Count {
			return ranked[i].Count > ranked[j].Count
		}
		return ranked[i].IP < ranked[j].IP
	})
	if len(ranked) > topAttackersLimit {
		ranked = ranked[:topAttackersLimit]
	}
	return ranked
}

// deriveHealth applies the health rule: critical when any CRITICAL
// event is present, warning when HIGH events or blocked requests pass
// their thresholds, healthy otherwise.
func deriveHealth(m *SecurityMetrics) SystemHealth {
	if m.EventsByLevel[schema.LevelCritical] > 0 {
		return HealthCritical
	}
	if m.EventsByLevel[schema.LevelHigh] > warnHighEvents || m.BlockedRequests > warnBlockedReqs {
		return HealthWarning
	}
	return HealthHealthy
}
