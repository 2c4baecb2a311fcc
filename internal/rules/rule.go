// Package rules implements the protection rule engine. Rules bind an
// event type and a condition to an action, rate-limited by a cooldown
// window and an optional lifetime trigger budget.
package rules

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"sentinel-gate/internal/schema"
)

// Action defines what a rule does when it triggers.
type Action string

const (
	// ActionBlock marks the event blocked and blocks its source IP.
	ActionBlock Action = "block"
	// ActionWarn emits a warning without mutating the event.
	ActionWarn Action = "warn"
	// ActionLog records the match without mutating the event.
	ActionLog Action = "log"
	// ActionRedirect signals the caller to redirect; the engine itself
	// performs no navigation.
	ActionRedirect Action = "redirect"
)

// IsValid reports whether the action is a known value.
func (a Action) IsValid() bool {
	switch a {
	case ActionBlock, ActionWarn, ActionLog, ActionRedirect:
		return true
	}
	return false
}

// ConditionKind selects the matching behavior of a Condition.
type ConditionKind string

const (
	// KindAlways matches every event.
	KindAlways ConditionKind = "always"
	// KindLevelIs matches an exact threat level.
	KindLevelIs ConditionKind = "level_is"
	// KindLevelAtLeast matches the given level and anything above it.
	KindLevelAtLeast ConditionKind = "level_at_least"
	// KindLevelIn matches any of a set of threat levels.
	KindLevelIn ConditionKind = "level_in"
	// KindContentContains matches a substring of the event content.
	KindContentContains ConditionKind = "content_contains"
	// KindMetadataEq matches a metadata key against a value.
	KindMetadataEq ConditionKind = "metadata_eq"
)

// Condition is a serializable event predicate. Only the parameters
// relevant to the Kind are consulted.
type Condition struct {
	Kind      ConditionKind        `json:"kind" yaml:"kind"`
	Level     schema.ThreatLevel   `json:"level,omitempty" yaml:"level,omitempty"`
	Levels    []schema.ThreatLevel `json:"levels,omitempty" yaml:"levels,omitempty"`
	Substring string               `json:"substring,omitempty" yaml:"substring,omitempty"`
	Key       string               `json:"key,omitempty" yaml:"key,omitempty"`
	Value     string               `json:"value,omitempty" yaml:"value,omitempty"`
}

// Match reports whether the event satisfies the condition. Unknown
// kinds never match; Validate rejects them before registration.
func (c Condition) Match(event *schema.SecurityEvent) bool {
	switch c.Kind {
	case KindAlways:
		return true
	case KindLevelIs:
		return event.Level == c.Level
	case KindLevelAtLeast:
		return event.Level.Rank() >= c.Level.Rank()
	case KindLevelIn:
		for _, level := range c.Levels {
			if event.Level == level {
				return true
			}
		}
		return false
	case KindContentContains:
		return strings.Contains(event.Content, c.Substring)
	case KindMetadataEq:
		if event.Metadata == nil {
			return false
		}
		v, ok := event.Metadata[c.Key]
		if !ok {
			return false
		}
		return fmt.Sprintf("%v", v) == c.Value
	}
	return false
}

// Validate checks that the condition's kind is known and its
// parameters are complete.
func (c Condition) Validate() error {
	switch c.Kind {
	case KindAlways:
		return nil
	case KindLevelIs, KindLevelAtLeast:
		if !c.Level.IsValid() {
			return fmt.Errorf("invalid condition level: %q", c.Level)
		}
	case KindLevelIn:
		if len(c.Levels) == 0 {
			return fmt.Errorf("levels required for %s condition", c.Kind)
		}
		for _, level := range c.Levels {
			if !level.IsValid() {
				return fmt.Errorf("invalid condition level: %q", level)
			}
		}
	case KindContentContains:
		if c.Substring == "" {
			return fmt.Errorf("substring required for %s condition", c.Kind)
		}
	case KindMetadataEq:
		if c.Key == "" {
			return fmt.Errorf("key required for %s condition", c.Kind)
		}
	default:
		return fmt.Errorf("unknown condition kind: %q", c.Kind)
	}
	return nil
}

// Rule is one condition-action binding. TriggerCount and LastTriggered
// are runtime state owned by the engine; they are never read from rule
// files.
type Rule struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	EventType   schema.EventType `json:"event_type"`
	Condition   Condition        `json:"condition"`
	Action      Action           `json:"action"`
	RedirectURL string           `json:"redirect_url,omitempty"`
	Enabled     bool             `json:"enabled"`
	Cooldown    time.Duration    `json:"cooldown"`
	MaxTriggers int64            `json:"max_triggers"`

	TriggerCount  int64     `json:"trigger_count"`
	LastTriggered time.Time `json:"last_triggered"`
}

// ruleSpec is the YAML shape of a rule file. Cooldown is a duration
// string like "5m".
type ruleSpec struct {
	ID          string           `yaml:"id"`
	Name        string           `yaml:"name"`
	Description string           `yaml:"description"`
	EventType   schema.EventType `yaml:"event_type"`
	Condition   Condition        `yaml:"condition"`
	Action      Action           `yaml:"action"`
	RedirectURL string           `yaml:"redirect_url"`
	Enabled     bool             `yaml:"enabled"`
	Cooldown    string           `yaml:"cooldown"`
	MaxTriggers int64            `yaml:"max_triggers"`
}

// rule converts the YAML shape into a validated Rule.
func (s *ruleSpec) rule() (*Rule, error) {
	rule := &Rule{
		ID:          s.ID,
		Name:        s.Name,
		Description: s.Description,
		EventType:   s.EventType,
		Condition:   s.Condition,
		Action:      s.Action,
		RedirectURL: s.RedirectURL,
		Enabled:     s.Enabled,
		MaxTriggers: s.MaxTriggers,
	}
	if s.Cooldown != "" {
		d, err := time.ParseDuration(s.Cooldown)
		if err != nil {
			return nil, fmt.Errorf("invalid cooldown %q: %w", s.Cooldown, err)
		}
		rule.Cooldown = d
	}
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	return rule, nil
}

// Validate validates the rule definition.
func (r *Rule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("rule id is required")
	}
	if r.Name == "" {
		return fmt.Errorf("rule name is required")
	}
	if !r.EventType.IsValid() {
		return fmt.Errorf("unknown event type: %q", r.EventType)
	}
	if !r.Action.IsValid() {
		return fmt.Errorf("unknown action: %q", r.Action)
	}
	if r.Action == ActionRedirect && r.RedirectURL == "" {
		return fmt.Errorf("redirect_url required for redirect action")
	}
	if r.Cooldown < 0 {
		return fmt.Errorf("cooldown must not be negative")
	}
	if r.MaxTriggers < 0 {
		return fmt.Errorf("max_triggers must not be negative")
	}
	if err := r.Condition.Validate(); err != nil {
		return fmt.Errorf("condition: %w", err)
	}
	return nil
}

// clone returns a copy safe to hand to callers.
func (r *Rule) clone() *Rule {
	cp := *r
	if r.Condition.Levels != nil {
		cp.Condition.Levels = make([]schema.ThreatLevel, len(r.Condition.Levels))
		copy(cp.Condition.Levels, r.Condition.Levels)
	}
	return &cp
}

// ParseRule parses a single rule from YAML bytes.
func ParseRule(data []byte) (*Rule, error) {
	var spec ruleSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("failed to parse rule: %w", err)
	}
	rule, err := spec.rule()
	if err != nil {
		return nil, fmt.Errorf("invalid rule: %w", err)
	}
	return rule, nil
}

// ParseRules parses one or more rules from YAML bytes. Accepts either
// a YAML list of rules or a single rule document.
func ParseRules(data []byte) ([]*Rule, error) {
	var specs []*ruleSpec
	if err := yaml.Unmarshal(data, &specs); err != nil {
		rule, singleErr := ParseRule(data)
		if singleErr != nil {
			return nil, fmt.Errorf("failed to parse rules: %w", err)
		}
		return []*Rule{rule}, nil
	}

	rules := make([]*Rule, 0, len(specs))
	for i, spec := range specs {
		rule, err := spec.rule()
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// LoadDir loads every .yaml/.yml file in a directory, in lexical
// order.
func LoadDir(dir string) ([]*Rule, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules directory: %w", err)
	}

	var rules []*Rule
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read rule file %s: %w", entry.Name(), err)
		}
		parsed, err := ParseRules(data)
		if err != nil {
			return nil, fmt.Errorf("rule file %s: %w", entry.Name(), err)
		}
		rules = append(rules, parsed...)
	}
	return rules, nil
}
