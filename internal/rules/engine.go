package rules

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"sentinel-gate/internal/schema"
)

// ErrDuplicateRule is returned when registering a rule whose id is
// already taken.
var ErrDuplicateRule = errors.New("duplicate rule id")

// Blocker blocks the source IP of malicious traffic. Satisfied by
// blocklist.Registry.
type Blocker interface {
	Block(ip, reason string)
}

// Outcome describes the side effects of one evaluation pass.
type Outcome struct {
	Triggered   []string `json:"triggered,omitempty"`
	Blocked     bool     `json:"blocked"`
	RedirectURL string   `json:"redirect_url,omitempty"`
}

// Engine evaluates protection rules against recorded events. Rules run
// in registration order and all matching rules fire; there is no early
// exit. Rule runtime state is guarded by the engine mutex so that the
// cooldown check and the trigger bookkeeping it gates stay atomic.
type Engine struct {
	mu    sync.Mutex
	rules []*Rule
	index map[string]*Rule

	blocker Blocker
	logger  *slog.Logger

	evaluated atomic.Int64
	triggered atomic.Int64
}

// NewEngine creates an empty rule engine. The blocker receives the
// source IP of every executed block action.
func NewEngine(blocker Blocker, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		index:   make(map[string]*Rule),
		blocker: blocker,
		logger:  logger,
	}
}

// Register validates a rule and adds it to the evaluation order. The
// rule is copied; callers cannot mutate engine state through the
// original.
func (e *Engine) Register(rule *Rule) error {
	if err := rule.Validate(); err != nil {
		return fmt.Errorf("invalid rule: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.index[rule.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateRule, rule.ID)
	}

	cp := rule.clone()
	e.rules = append(e.rules, cp)
	e.index[cp.ID] = cp

	e.logger.Info("registered protection rule",
		"rule_id", cp.ID,
		"event_type", cp.EventType,
		"action", cp.Action,
	)
	return nil
}

// Evaluate runs the event through every rule. Per rule: disabled rules
// are skipped, then rules for other event types, then rules still in
// cooldown, then rules whose condition does not match. A matching rule
// has its trigger recorded; if that trigger exceeds the rule's budget
// the rule disables itself and the action for this trigger is not
// executed.
func (e *Engine) Evaluate(event *schema.SecurityEvent) *Outcome {
	outcome := &Outcome{}
	now := time.Now().UTC()

	e.mu.Lock()
	defer e.mu.Unlock()

	e.evaluated.Add(1)

	for _, rule := range e.rules {
		if !rule.Enabled {
			continue
		}
		if rule.EventType != event.Type {
			continue
		}
		if rule.Cooldown > 0 && !rule.LastTriggered.IsZero() && now.Sub(rule.LastTriggered) < rule.Cooldown {
			continue
		}
		if !rule.Condition.Match(event) {
			continue
		}

		rule.TriggerCount++
		rule.LastTriggered = now
		e.triggered.Add(1)
		outcome.Triggered = append(outcome.Triggered, rule.ID)

		if rule.MaxTriggers > 0 && rule.TriggerCount > rule.MaxTriggers {
			rule.Enabled = false
			e.logger.Warn("rule trigger budget exhausted, rule disabled",
				"rule_id", rule.ID,
				"trigger_count", rule.TriggerCount,
				"max_triggers", rule.MaxTriggers,
			)
			continue
		}

		e.executeAction(rule, event, outcome)
	}

	return outcome
}

func (e *Engine) executeAction(rule *Rule, event *schema.SecurityEvent, outcome *Outcome) {
	switch rule.Action {
	case ActionBlock:
		event.Blocked = true
		outcome.Blocked = true
		if event.IP != "" && e.blocker != nil {
			e.blocker.Block(event.IP, rule.ID)
		}
		e.logger.Warn("protection rule blocked event",
			"rule_id", rule.ID,
			"event_id", event.ID,
			"ip", event.IP,
		)
	case ActionWarn:
		e.logger.Warn("protection rule warning",
			"rule_id", rule.ID,
			"event_id", event.ID,
			"event_type", event.Type,
			"threat_level", event.Level,
		)
	case ActionLog:
		e.logger.Info("protection rule matched",
			"rule_id", rule.ID,
			"event_id", event.ID,
			"event_type", event.Type,
		)
	case ActionRedirect:
		outcome.RedirectURL = rule.RedirectURL
		e.logger.Info("protection rule requested redirect",
			"rule_id", rule.ID,
			"event_id", event.ID,
			"redirect_url", rule.RedirectURL,
		)
	}
}

// SetEnabled flips a rule's enabled flag. Returns false when the id is
// unknown. Re-enabling a budget-exhausted rule does not reset its
// trigger count; the count is monotonic.
func (e *Engine) SetEnabled(id string, enabled bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	rule, ok := e.index[id]
	if !ok {
		return false
	}
	rule.Enabled = enabled

	e.logger.Info("rule enabled state changed",
		"rule_id", id,
		"enabled", enabled,
	)
	return true
}

// ResetCooldown clears a rule's last-triggered timestamp. Returns
// false when the id is unknown.
func (e *Engine) ResetCooldown(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	rule, ok := e.index[id]
	if !ok {
		return false
	}
	rule.LastTriggered = time.Time{}
	return true
}

// Rule returns a copy of the rule with the given id.
func (e *Engine) Rule(id string) (*Rule, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rule, ok := e.index[id]
	if !ok {
		return nil, false
	}
	return rule.clone(), true
}

// Rules returns copies of all rules in registration order.
func (e *Engine) Rules() []*Rule {
	e.mu.Lock()
	defer e.mu.Unlock()

	result := make([]*Rule, len(e.rules))
	for i, rule := range e.rules {
		result[i] = rule.clone()
	}
	return result
}

// Stats returns engine counters.
func (e *Engine) Stats() map[string]interface{} {
	e.mu.Lock()
	enabled := 0
	for _, rule := range e.rules {
		if rule.Enabled {
			enabled++
		}
	}
	total := len(e.rules)
	e.mu.Unlock()

	return map[string]interface{}{
		"rules_count":   total,
		"enabled_count": enabled,
		"evaluated":     e.evaluated.Load(),
		"triggered":     e.triggered.Load(),
	}
}
