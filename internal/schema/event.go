// Package schema defines the security event model shared by every
// component of the engine. Producers submit events in this shape and
// all downstream processing (rules, metrics, notifications) reads it.
package schema

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EventType classifies the kind of security signal a producer observed.
type EventType string

const (
	EventXSSAttempt        EventType = "XSS_ATTEMPT"
	EventInjectionAttack   EventType = "INJECTION_ATTACK"
	EventSuspiciousInput   EventType = "SUSPICIOUS_INPUT"
	EventRateLimitExceeded EventType = "RATE_LIMIT_EXCEEDED"
	EventCSPViolation      EventType = "CSP_VIOLATION"
	EventAbnormalBehavior  EventType = "ABNORMAL_BEHAVIOR"
	EventMaliciousRequest  EventType = "MALICIOUS_REQUEST"
	EventBruteForceAttempt EventType = "BRUTE_FORCE_ATTEMPT"
)

// IsValid checks if the event type is a valid value.
func (t EventType) IsValid() bool {
	switch t {
	case EventXSSAttempt, EventInjectionAttack, EventSuspiciousInput,
		EventRateLimitExceeded, EventCSPViolation, EventAbnormalBehavior,
		EventMaliciousRequest, EventBruteForceAttempt:
		return true
	}
	return false
}

// EventTypes returns all valid event types in definition order.
func EventTypes() []EventType {
	return []EventType{
		EventXSSAttempt,
		EventInjectionAttack,
		EventSuspiciousInput,
		EventRateLimitExceeded,
		EventCSPViolation,
		EventAbnormalBehavior,
		EventMaliciousRequest,
		EventBruteForceAttempt,
	}
}

// ThreatLevel is the ordinal severity of an event.
type ThreatLevel string

const (
	LevelLow      ThreatLevel = "LOW"
	LevelMedium   ThreatLevel = "MEDIUM"
	LevelHigh     ThreatLevel = "HIGH"
	LevelCritical ThreatLevel = "CRITICAL"
)

// IsValid checks if the threat level is a valid value.
func (l ThreatLevel) IsValid() bool {
	switch l {
	case LevelLow, LevelMedium, LevelHigh, LevelCritical:
		return true
	}
	return false
}

// Rank returns the ordinal position of the level, LOW being lowest.
// Unknown levels rank below LOW.
func (l ThreatLevel) Rank() int {
	switch l {
	case LevelLow:
		return 1
	case LevelMedium:
		return 2
	case LevelHigh:
		return 3
	case LevelCritical:
		return 4
	}
	return 0
}

// ThreatLevels returns all valid threat levels in ascending severity order.
func ThreatLevels() []ThreatLevel {
	return []ThreatLevel{LevelLow, LevelMedium, LevelHigh, LevelCritical}
}

// Validation errors returned at the producer boundary.
var (
	ErrInvalidEventType   = errors.New("invalid event type")
	ErrInvalidThreatLevel = errors.New("invalid threat level")
)

// SecurityEvent is a single recorded security signal.
// ID and Timestamp are immutable after creation; the resolution fields
// are only written through the store's resolve path.
type SecurityEvent struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"event_type"`
	Level     ThreatLevel `json:"threat_level"`
	Timestamp time.Time   `json:"timestamp"`

	// Producer-supplied context. The engine only interprets IP.
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	IP        string         `json:"ip,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	UserID    string         `json:"user_id,omitempty"`

	// Set by the rule engine when a block action fires.
	Blocked bool `json:"blocked"`

	// Resolution state, mutable via resolve only. Resolved never
	// transitions back to false.
	Resolved        bool       `json:"resolved"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
	ResolutionNotes string     `json:"resolution_notes,omitempty"`
}

// EventDetails carries the producer-supplied context for a new event.
type EventDetails struct {
	Content   string         `json:"content"`
	IP        string         `json:"ip,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	UserID    string         `json:"user_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// NewEvent builds a SecurityEvent with a fresh ID and timestamp.
// The caller is responsible for having checked the enum values; use
// ValidateEnums when input comes from an untrusted producer.
func NewEvent(eventType EventType, level ThreatLevel, details EventDetails) *SecurityEvent {
	return &SecurityEvent{
		ID:        NewEventID(),
		Type:      eventType,
		Level:     level,
		Timestamp: time.Now().UTC(),
		Content:   details.Content,
		Metadata:  details.Metadata,
		IP:        details.IP,
		SessionID: details.SessionID,
		UserID:    details.UserID,
	}
}

// ValidateEnums checks the enum fields of a producer submission.
func ValidateEnums(eventType EventType, level ThreatLevel) error {
	if !eventType.IsValid() {
		return ErrInvalidEventType
	}
	if !level.IsValid() {
		return ErrInvalidThreatLevel
	}
	return nil
}

// NewEventID generates an event identifier of the form
// sec_<unixmillis>_<random>, unique for the lifetime of the store.
func NewEventID() string {
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:11]
	return fmt.Sprintf("sec_%d_%s", time.Now().UnixMilli(), suffix)
}

// Clone returns a copy safe to hand outside the store. The metadata
// map is copied shallowly; values are treated as immutable by callers.
func (e *SecurityEvent) Clone() *SecurityEvent {
	if e == nil {
		return nil
	}
	clone := *e
	if e.Metadata != nil {
		clone.Metadata = make(map[string]any, len(e.Metadata))
		for k, v := range e.Metadata {
			clone.Metadata[k] = v
		}
	}
	if e.ResolvedAt != nil {
		t := *e.ResolvedAt
		clone.ResolvedAt = &t
	}
	return &clone
}
