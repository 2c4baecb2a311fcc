// Package store provides the in-memory security event log. The log is
// append-only and capacity-bounded: when it grows past the retention
// cap it is trimmed to the most recent events, oldest first.
package store

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"sentinel-gate/internal/schema"
)

const (
	// DefaultMaxEvents is the hard cap that triggers a trim.
	DefaultMaxEvents = 10000
	// DefaultTrimTarget is the number of most recent events retained
	// by a trim.
	DefaultTrimTarget = 5000
)

// Config holds event store configuration.
type Config struct {
	MaxEvents  int `yaml:"max_events"`
	TrimTarget int `yaml:"trim_target"`
}

// DefaultConfig returns the default store configuration.
func DefaultConfig() Config {
	return Config{
		MaxEvents:  DefaultMaxEvents,
		TrimTarget: DefaultTrimTarget,
	}
}

// Filter selects events from the store. Zero fields match everything.
// Limit keeps the most recent N events after the other criteria apply.
type Filter struct {
	Type  schema.EventType
	Level schema.ThreatLevel
	Start time.Time
	End   time.Time
	Limit int
}

// matches reports whether an event satisfies the non-limit criteria.
func (f Filter) matches(e *schema.SecurityEvent) bool {
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if f.Level != "" && e.Level != f.Level {
		return false
	}
	if !f.Start.IsZero() && e.Timestamp.Before(f.Start) {
		return false
	}
	if !f.End.IsZero() && e.Timestamp.After(f.End) {
		return false
	}
	return true
}

// EventStore is the mutex-guarded event log. Events are held in
// insertion order with an id index for resolution lookups.
type EventStore struct {
	mu     sync.RWMutex
	events []*schema.SecurityEvent
	index  map[string]*schema.SecurityEvent

	maxEvents  int
	trimTarget int
	logger     *slog.Logger

	appended atomic.Int64
	evicted  atomic.Int64
	resolved atomic.Int64
}

// New creates an event store with default retention caps.
func New(logger *slog.Logger) *EventStore {
	return NewWithConfig(DefaultConfig(), logger)
}

// NewWithConfig creates an event store with the given configuration.
// Non-positive caps fall back to the defaults; a trim target at or
// above the cap is clamped to half of it.
func NewWithConfig(cfg Config, logger *slog.Logger) *EventStore {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = DefaultMaxEvents
	}
	if cfg.TrimTarget <= 0 || cfg.TrimTarget >= cfg.MaxEvents {
		cfg.TrimTarget = cfg.MaxEvents / 2
	}

	return &EventStore{
		events:     make([]*schema.SecurityEvent, 0, 256),
		index:      make(map[string]*schema.SecurityEvent),
		maxEvents:  cfg.MaxEvents,
		trimTarget: cfg.TrimTarget,
		logger:     logger,
	}
}

// Append stores an event and returns its id. A missing id or timestamp
// is assigned here. When the log exceeds the cap it is trimmed to the
// most recent trim-target events.
func (s *EventStore) Append(event *schema.SecurityEvent) string {
	if event.ID == "" {
		event.ID = schema.NewEventID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	s.mu.Lock()
	s.events = append(s.events, event)
	s.index[event.ID] = event

	if len(s.events) > s.maxEvents {
		cut := len(s.events) - s.trimTarget
		for _, old := range s.events[:cut] {
			delete(s.index, old.ID)
		}
		retained := make([]*schema.SecurityEvent, s.trimTarget, s.maxEvents)
		copy(retained, s.events[cut:])
		s.events = retained
		s.evicted.Add(int64(cut))

		s.logger.Info("event store trimmed",
			"evicted", cut,
			"retained", s.trimTarget,
		)
	}
	s.mu.Unlock()

	s.appended.Add(1)
	return event.ID
}

// Get returns a copy of the event with the given id.
func (s *EventStore) Get(id string) (*schema.SecurityEvent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	event, ok := s.index[id]
	if !ok {
		return nil, false
	}
	return event.Clone(), true
}

// Query returns copies of the events matching the filter, in insertion
// order. Limit is applied last and keeps the most recent matches.
func (s *EventStore) Query(filter Filter) []*schema.SecurityEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*schema.SecurityEvent, 0)
	for _, event := range s.events {
		if filter.matches(event) {
			matched = append(matched, event)
		}
	}

	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[len(matched)-filter.Limit:]
	}

	result := make([]*schema.SecurityEvent, len(matched))
	for i, event := range matched {
		result[i] = event.Clone()
	}
	return result
}

// Resolve marks an event resolved. Returns false when the id is
// unknown. Resolving an already-resolved event succeeds; the new notes
// win and the resolution time is refreshed. Resolved is never reset.
func (s *EventStore) Resolve(id, notes string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	event, ok := s.index[id]
	if !ok {
		return false
	}

	if !event.Resolved {
		s.resolved.Add(1)
	}
	now := time.Now().UTC()
	event.Resolved = true
	event.ResolvedAt = &now
	event.ResolutionNotes = notes
	return true
}

// Snapshot returns copies of all stored events in insertion order.
func (s *EventStore) Snapshot() []*schema.SecurityEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*schema.SecurityEvent, len(s.events))
	for i, event := range s.events {
		result[i] = event.Clone()
	}
	return result
}

// Len returns the number of currently stored events.
func (s *EventStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// Stats holds event store counters.
type Stats struct {
	Size     int   `json:"size"`
	Capacity int   `json:"capacity"`
	Appended int64 `json:"appended_total"`
	Evicted  int64 `json:"evicted_total"`
	Resolved int64 `json:"resolved_total"`
}

// Stats returns current store statistics.
func (s *EventStore) Stats() Stats {
	return Stats{
		Size:     s.Len(),
		Capacity: s.maxEvents,
		Appended: s.appended.Load(),
		Evicted:  s.evicted.Load(),
		Resolved: s.resolved.Load(),
	}
}
