package csp

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxReports caps the retained violation report list.
const DefaultMaxReports = 1000

// ErrUnknownDirective is returned when a policy names a directive
// outside the canonical set.
var ErrUnknownDirective = errors.New("unknown csp directive")

// ViolationReport is a browser CSP violation report. The hyphenated
// json keys follow the csp-report wire format; ReportID and ReceivedAt
// are stamped on intake.
type ViolationReport struct {
	ReportID   string    `json:"report_id"`
	ReceivedAt time.Time `json:"received_at"`

	DocumentURI        string `json:"document-uri"`
	Referrer           string `json:"referrer,omitempty"`
	ViolatedDirective  string `json:"violated-directive"`
	EffectiveDirective string `json:"effective-directive"`
	OriginalPolicy     string `json:"original-policy,omitempty"`
	BlockedURI         string `json:"blocked-uri"`
	Disposition        string `json:"disposition,omitempty"`
	StatusCode         int    `json:"status-code,omitempty"`
	SourceFile         string `json:"source-file,omitempty"`
	LineNumber         int    `json:"line-number,omitempty"`
	ColumnNumber       int    `json:"column-number,omitempty"`
}

// ReportSink receives violation reports for external delivery.
type ReportSink interface {
	ForwardReport(report *ViolationReport) error
}

// ViolationStats summarizes the retained violation reports.
type ViolationStats struct {
	Total        int64              `json:"total"`
	Retained     int                `json:"retained"`
	ByDirective  map[string]int     `json:"by_directive"`
	ByBlockedURI map[string]int     `json:"by_blocked_uri"`
	Recent       []*ViolationReport `json:"recent"`
}

// Config holds CSP manager configuration.
type Config struct {
	MaxReports int
	Policy     Policy
}

// DefaultConfig returns the default CSP manager configuration.
func DefaultConfig() Config {
	return Config{MaxReports: DefaultMaxReports}
}

// Manager owns the active policy and the violation report log.
type Manager struct {
	mu      sync.RWMutex
	policy  Policy
	reports []*ViolationReport

	maxReports int
	sink       ReportSink
	logger     *slog.Logger

	totalReports atomic.Int64
}

// NewManager creates a CSP manager. A nil initial policy falls back to
// the balanced preset; a nil sink disables forwarding.
func NewManager(cfg Config, sink ReportSink, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxReports <= 0 {
		cfg.MaxReports = DefaultMaxReports
	}
	policy := cfg.Policy
	if policy == nil {
		policy = BalancedPolicy()
	}

	return &Manager{
		policy:     policy.Clone(),
		reports:    make([]*ViolationReport, 0, 64),
		maxReports: cfg.MaxReports,
		sink:       sink,
		logger:     logger,
	}
}

// SetPolicy replaces the active policy. Policies naming unknown
// directives are rejected whole. The policy is copied in.
func (m *Manager) SetPolicy(policy Policy) error {
	var unknown []string
	for name := range policy {
		if !IsValidDirective(name) {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("%w: %s", ErrUnknownDirective, strings.Join(unknown, ", "))
	}

	m.mu.Lock()
	m.policy = policy.Clone()
	m.mu.Unlock()

	m.logger.Info("csp policy updated", "directives", len(policy))
	return nil
}

// Policy returns a copy of the active policy.
func (m *Manager) Policy() Policy {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.policy.Clone()
}

// GenerateHeader renders the active policy as a header value.
func (m *Manager) GenerateHeader() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.policy.Header()
}

// ValidateActive validates the active policy.
func (m *Manager) ValidateActive() ValidationResult {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return ValidatePolicy(m.policy)
}

// HandleViolationReport stamps and stores a violation report, trimming
// the oldest entries past the cap, then forwards it to the sink.
// Forwarding runs in its own goroutine and failures are swallowed; the
// caller is never delayed and never sees sink errors.
func (m *Manager) HandleViolationReport(report *ViolationReport) {
	if report == nil {
		return
	}
	report.ReportID = uuid.NewString()
	report.ReceivedAt = time.Now().UTC()

	m.mu.Lock()
	m.reports = append(m.reports, report)
	if len(m.reports) > m.maxReports {
		keep := make([]*ViolationReport, m.maxReports)
		copy(keep, m.reports[len(m.reports)-m.maxReports:])
		m.reports = keep
	}
	m.mu.Unlock()

	m.totalReports.Add(1)
	m.logger.Info("csp violation report received",
		"report_id", report.ReportID,
		"effective_directive", report.EffectiveDirective,
		"blocked_uri", report.BlockedURI,
	)

	if m.sink != nil {
		cp := *report
		go func() {
			if err := m.sink.ForwardReport(&cp); err != nil {
				m.logger.Debug("violation report forwarding failed", "error", err)
			}
		}()
	}
}

// ViolationReports returns copies of the retained reports in arrival
// order.
func (m *Manager) ViolationReports() []*ViolationReport {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*ViolationReport, len(m.reports))
	for i, report := range m.reports {
		cp := *report
		result[i] = &cp
	}
	return result
}

// ViolationStats summarizes retained reports: counts by effective
// directive and blocked URI plus the 10 most recent reports in arrival
// order. Total counts every report ever received, including trimmed
// ones.
func (m *Manager) ViolationStats() ViolationStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := ViolationStats{
		Total:        m.totalReports.Load(),
		Retained:     len(m.reports),
		ByDirective:  make(map[string]int),
		ByBlockedURI: make(map[string]int),
	}

	for _, report := range m.reports {
		stats.ByDirective[report.EffectiveDirective]++
		stats.ByBlockedURI[report.BlockedURI]++
	}

	recent := m.reports
	if len(recent) > 10 {
		recent = recent[len(recent)-10:]
	}
	stats.Recent = make([]*ViolationReport, len(recent))
	for i, report := range recent {
		cp := *report
		stats.Recent[i] = &cp
	}
	return stats
}
