// Package monitor wires the security engine together behind one
// facade. The monitor owns no policy of its own: it validates producer
// input, routes events through the rule engine into the store, and
// exposes the query surface the API serves.
package monitor

import (
	"context"
	"fmt"
	"log/slog"

	"sentinel-gate/internal/blocklist"
	"sentinel-gate/internal/csp"
	"sentinel-gate/internal/logging"
	"sentinel-gate/internal/metrics"
	"sentinel-gate/internal/notify"
	"sentinel-gate/internal/rules"
	"sentinel-gate/internal/schema"
	"sentinel-gate/internal/store"
)

// Deps are the collaborators a Monitor coordinates. Store, Engine,
// Blocklist and CSP are required; Notifier may be nil when
// notifications are disabled. The engine is expected to have been
// constructed with the same blocklist registry as its blocker.
type Deps struct {
	Store     *store.EventStore
	Engine    *rules.Engine
	Blocklist *blocklist.Registry
	CSP       *csp.Manager
	Notifier  *notify.Notifier
}

// Monitor is the engine facade producers and the API talk to.
type Monitor struct {
	store      *store.EventStore
	engine     *rules.Engine
	blocklist  *blocklist.Registry
	csp        *csp.Manager
	notifier   *notify.Notifier
	aggregator *metrics.Aggregator
	logger     *slog.Logger
}

// New creates a monitor from explicit dependencies.
func New(deps Deps, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		store:      deps.Store,
		engine:     deps.Engine,
		blocklist:  deps.Blocklist,
		csp:        deps.CSP,
		notifier:   deps.Notifier,
		aggregator: metrics.NewAggregator(deps.Store),
		logger:     logger,
	}
}

// LoadRules registers the builtin protection rules, then any custom
// rules found in dir. An empty dir skips the custom set.
func (m *Monitor) LoadRules(dir string) error {
	for _, rule := range rules.BuiltinRules() {
		if err := m.engine.Register(rule); err != nil {
			return fmt.Errorf("register builtin rule %s: %w", rule.ID, err)
		}
	}

	if dir == "" {
		return nil
	}

	custom, err := rules.LoadDir(dir)
	if err != nil {
		return fmt.Errorf("load custom rules: %w", err)
	}
	for _, rule := range custom {
		if err := m.engine.Register(rule); err != nil {
			return fmt.Errorf("register custom rule %s: %w", rule.ID, err)
		}
	}

	m.logger.Info("rules loaded",
		"builtin", len(rules.BuiltinRules()),
		"custom", len(custom))
	return nil
}

// Start launches the background workers of the owned components.
func (m *Monitor) Start() {
	m.blocklist.Start()
	if m.notifier != nil {
		m.notifier.Start()
	}
	m.logger.Info("security monitor started")
}

// Stop halts the background workers.
func (m *Monitor) Stop() {
	if m.notifier != nil {
		m.notifier.Stop()
	}
	m.blocklist.Stop()
	m.logger.Info("security monitor stopped")
}

// RecordEvent validates and records one security event. The event is
// evaluated against the active rules before it is appended, so the
// stored copy already carries the blocked flag. Notification dispatch
// is fire-and-forget and never fails the producer.
func (m *Monitor) RecordEvent(ctx context.Context, eventType schema.EventType, level schema.ThreatLevel, details schema.EventDetails) (*schema.SecurityEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := schema.ValidateEnums(eventType, level); err != nil {
		return nil, fmt.Errorf("record event: %w", err)
	}

	event := schema.NewEvent(eventType, level, details)
	outcome := m.engine.Evaluate(event)
	m.store.Append(event)

	if m.notifier != nil {
		m.notifier.Publish(notify.FromEvent(event, outcome.Triggered))
	}

	m.logger.Info("security event recorded",
		"event_id", event.ID,
		"type", event.Type,
		"level", event.Level,
		"ip", event.IP,
		"blocked", event.Blocked,
		"rules", outcome.Triggered)
	if len(event.Metadata) > 0 {
		m.logger.Debug("event metadata",
			"event_id", event.ID,
			"metadata", logging.RedactMetadata(event.Metadata))
	}

	return event.Clone(), nil
}

// ResolveEvent marks an event as resolved. Returns false when the id
// is unknown.
func (m *Monitor) ResolveEvent(id, notes string) bool {
	resolved := m.store.Resolve(id, notes)
	if resolved {
		m.logger.Info("security event resolved", "event_id", id)
	}
	return resolved
}

// Event returns one event by id.
func (m *Monitor) Event(id string) (*schema.SecurityEvent, bool) {
	return m.store.Get(id)
}

// Events returns the events matching the filter, oldest first.
func (m *Monitor) Events(filter store.Filter) []*schema.SecurityEvent {
	return m.store.Query(filter)
}

// Metrics runs one aggregation pass over the recorded events.
func (m *Monitor) Metrics() *metrics.SecurityMetrics {
	return m.aggregator.Collect()
}

// IsIPBlocked reports whether the blocklist currently holds ip.
func (m *Monitor) IsIPBlocked(ip string) bool {
	return m.blocklist.IsBlocked(ip)
}

// BlockedIP returns the active block entry for ip, if any.
func (m *Monitor) BlockedIP(ip string) (*blocklist.BlockedIP, bool) {
	return m.blocklist.Get(ip)
}

// BlockedIPs returns all active block entries.
func (m *Monitor) BlockedIPs() []*blocklist.BlockedIP {
	return m.blocklist.ActiveBlocks()
}

// UnblockIP removes ip from the blocklist. Returns false when ip was
// not blocked.
func (m *Monitor) UnblockIP(ip string) bool {
	return m.blocklist.Unblock(ip)
}

// Rules returns the registered rules in registration order.
func (m *Monitor) Rules() []*rules.Rule {
	return m.engine.Rules()
}

// Rule returns one rule by id.
func (m *Monitor) Rule(id string) (*rules.Rule, bool) {
	return m.engine.Rule(id)
}

// SetRuleEnabled enables or disables a rule. Returns false when the id
// is unknown.
func (m *Monitor) SetRuleEnabled(id string, enabled bool) bool {
	return m.engine.SetEnabled(id, enabled)
}

// GenerateCSPHeader renders the active policy as a header value.
func (m *Monitor) GenerateCSPHeader() string {
	return m.csp.GenerateHeader()
}

// CSPPolicy returns a copy of the active policy.
func (m *Monitor) CSPPolicy() csp.Policy {
	return m.csp.Policy()
}

// SetCSPPolicy replaces the active policy.
func (m *Monitor) SetCSPPolicy(policy csp.Policy) error {
	return m.csp.SetPolicy(policy)
}

// ValidateCSPPolicy validates the active policy.
func (m *Monitor) ValidateCSPPolicy() csp.ValidationResult {
	return m.csp.ValidateActive()
}

// HandleCSPReport accepts a browser violation report. Reports are kept
// on their own track and never enter the event store.
func (m *Monitor) HandleCSPReport(report *csp.ViolationReport) {
	m.csp.HandleViolationReport(report)
}

// CSPViolations returns the retained violation reports.
func (m *Monitor) CSPViolations() []*csp.ViolationReport {
	return m.csp.ViolationReports()
}

// CSPViolationStats summarizes the retained violation reports.
func (m *Monitor) CSPViolationStats() csp.ViolationStats {
	return m.csp.ViolationStats()
}

// Stats returns per-component statistics keyed by component name.
func (m *Monitor) Stats() map[string]interface{} {
	stats := map[string]interface{}{
		"store":     m.store.Stats(),
		"rules":     m.engine.Stats(),
		"blocklist": m.blocklist.Stats(),
	}
	if m.notifier != nil {
		stats["notifier"] = m.notifier.Stats()
	}
	return stats
}
