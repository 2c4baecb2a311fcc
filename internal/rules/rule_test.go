package rules

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"sentinel-gate/internal/schema"
)

func condEvent(level schema.ThreatLevel, content string, metadata map[string]any) *schema.SecurityEvent {
	return schema.NewEvent(schema.EventSuspiciousInput, level, schema.EventDetails{
		Content:  content,
		Metadata: metadata,
	})
}

func TestCondition_Match(t *testing.T) {
	tests := []struct {
		name      string
		condition Condition
		event     *schema.SecurityEvent
		expected  bool
	}{
		{
			name:      "always matches",
			condition: Condition{Kind: KindAlways},
			event:     condEvent(schema.LevelLow, "", nil),
			expected:  true,
		},
		{
			name:      "level_is match",
			condition: Condition{Kind: KindLevelIs, Level: schema.LevelCritical},
			event:     condEvent(schema.LevelCritical, "", nil),
			expected:  true,
		},
		{
			name:      "level_is no match",
			condition: Condition{Kind: KindLevelIs, Level: schema.LevelCritical},
			event:     condEvent(schema.LevelHigh, "", nil),
			expected:  false,
		},
		{
			name:      "level_at_least higher level",
			condition: Condition{Kind: KindLevelAtLeast, Level: schema.LevelHigh},
			event:     condEvent(schema.LevelCritical, "", nil),
			expected:  true,
		},
		{
			name:      "level_at_least equal level",
			condition: Condition{Kind: KindLevelAtLeast, Level: schema.LevelHigh},
			event:     condEvent(schema.LevelHigh, "", nil),
			expected:  true,
		},
		{
			name:      "level_at_least lower level",
			condition: Condition{Kind: KindLevelAtLeast, Level: schema.LevelHigh},
			event:     condEvent(schema.LevelMedium, "", nil),
			expected:  false,
		},
		{
			name:      "level_in match",
			condition: Condition{Kind: KindLevelIn, Levels: []schema.ThreatLevel{schema.LevelHigh, schema.LevelCritical}},
			event:     condEvent(schema.LevelHigh, "", nil),
			expected:  true,
		},
		{
			name:      "level_in no match",
			condition: Condition{Kind: KindLevelIn, Levels: []schema.ThreatLevel{schema.LevelHigh, schema.LevelCritical}},
			event:     condEvent(schema.LevelMedium, "", nil),
			expected:  false,
		},
		{
			name:      "content_contains match",
			condition: Condition{Kind: KindContentContains, Substring: "<script>"},
			event:     condEvent(schema.LevelLow, "payload <script>alert(1)</script>", nil),
			expected:  true,
		},
		{
			name:      "content_contains is case sensitive",
			condition: Condition{Kind: KindContentContains, Substring: "<SCRIPT>"},
			event:     condEvent(schema.LevelLow, "payload <script>alert(1)</script>", nil),
			expected:  false,
		},
		{
			name:      "metadata_eq string match",
			condition: Condition{Kind: KindMetadataEq, Key: "path", Value: "/login"},
			event:     condEvent(schema.LevelLow, "", map[string]any{"path": "/login"}),
			expected:  true,
		},
		{
			name:      "metadata_eq numeric value",
			condition: Condition{Kind: KindMetadataEq, Key: "attempts", Value: "42"},
			event:     condEvent(schema.LevelLow, "", map[string]any{"attempts": 42}),
			expected:  true,
		},
		{
			name:      "metadata_eq missing key",
			condition: Condition{Kind: KindMetadataEq, Key: "path", Value: "/login"},
			event:     condEvent(schema.LevelLow, "", map[string]any{"other": "x"}),
			expected:  false,
		},
		{
			name:      "metadata_eq nil metadata",
			condition: Condition{Kind: KindMetadataEq, Key: "path", Value: "/login"},
			event:     condEvent(schema.LevelLow, "", nil),
			expected:  false,
		},
		{
			name:      "unknown kind never matches",
			condition: Condition{Kind: "level_above"},
			event:     condEvent(schema.LevelCritical, "", nil),
			expected:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.condition.Match(tt.event)
			if result != tt.expected {
				t.Errorf("Match() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestRule_Validate(t *testing.T) {
	valid := func() Rule {
		return Rule{
			ID:        "test-rule",
			Name:      "Test Rule",
			EventType: schema.EventXSSAttempt,
			Condition: Condition{Kind: KindAlways},
			Action:    ActionLog,
			Enabled:   true,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Rule)
		wantErr bool
	}{
		{"valid rule", func(r *Rule) {}, false},
		{"missing id", func(r *Rule) { r.ID = "" }, true},
		{"missing name", func(r *Rule) { r.Name = "" }, true},
		{"unknown event type", func(r *Rule) { r.EventType = "PORT_SCAN" }, true},
		{"unknown action", func(r *Rule) { r.Action = "drop" }, true},
		{"redirect without url", func(r *Rule) { r.Action = ActionRedirect }, true},
		{"redirect with url", func(r *Rule) {
			r.Action = ActionRedirect
			r.RedirectURL = "/blocked"
		}, false},
		{"negative cooldown", func(r *Rule) { r.Cooldown = -time.Minute }, true},
		{"negative max triggers", func(r *Rule) { r.MaxTriggers = -1 }, true},
		{"unknown condition kind", func(r *Rule) { r.Condition = Condition{Kind: "sometimes"} }, true},
		{"level_in without levels", func(r *Rule) { r.Condition = Condition{Kind: KindLevelIn} }, true},
		{"level_is invalid level", func(r *Rule) {
			r.Condition = Condition{Kind: KindLevelIs, Level: "SEVERE"}
		}, true},
		{"content_contains without substring", func(r *Rule) {
			r.Condition = Condition{Kind: KindContentContains}
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := valid()
			tt.mutate(&rule)
			err := rule.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestBuiltinRulesAreValid(t *testing.T) {
	rules := BuiltinRules()
	if len(rules) != 4 {
		t.Fatalf("BuiltinRules() returned %d rules, want 4", len(rules))
	}

	wantOrder := []string{
		"xss-protection",
		"injection-protection",
		"rate-limit-protection",
		"csp-violation-monitor",
	}
	for i, rule := range rules {
		if rule.ID != wantOrder[i] {
			t.Errorf("rule %d id = %q, want %q", i, rule.ID, wantOrder[i])
		}
		if err := rule.Validate(); err != nil {
			t.Errorf("builtin rule %s invalid: %v", rule.ID, err)
		}
		if !rule.Enabled {
			t.Errorf("builtin rule %s not enabled", rule.ID)
		}
	}
}

func TestParseRules(t *testing.T) {
	data := []byte(`
- id: custom-admin-probe
  name: Admin Probe
  description: Blocks probes against admin paths
  event_type: MALICIOUS_REQUEST
  condition:
    kind: content_contains
    substring: /admin
  action: block
  enabled: true
  cooldown: 5m
  max_triggers: 3
- id: custom-csp-watch
  name: CSP Watch
  event_type: CSP_VIOLATION
  condition:
    kind: always
  action: log
  enabled: true
`)

	rules, err := ParseRules(data)
	if err != nil {
		t.Fatalf("ParseRules() error = %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("ParseRules() returned %d rules, want 2", len(rules))
	}

	first := rules[0]
	if first.ID != "custom-admin-probe" {
		t.Errorf("ID = %q, want %q", first.ID, "custom-admin-probe")
	}
	if first.Cooldown != 5*time.Minute {
		t.Errorf("Cooldown = %v, want %v", first.Cooldown, 5*time.Minute)
	}
	if first.MaxTriggers != 3 {
		t.Errorf("MaxTriggers = %d, want 3", first.MaxTriggers)
	}
	if first.Condition.Kind != KindContentContains {
		t.Errorf("Condition.Kind = %q, want %q", first.Condition.Kind, KindContentContains)
	}
	if rules[1].Cooldown != 0 {
		t.Errorf("omitted cooldown = %v, want 0", rules[1].Cooldown)
	}
}

func TestParseRulesSingleDocument(t *testing.T) {
	data := []byte(`
id: custom-single
name: Single Rule
event_type: XSS_ATTEMPT
condition:
  kind: level_at_least
  level: HIGH
action: warn
enabled: true
cooldown: 30s
`)

	rules, err := ParseRules(data)
	if err != nil {
		t.Fatalf("ParseRules() error = %v", err)
	}
	if len(rules) != 1 {
		t.Fatalf("ParseRules() returned %d rules, want 1", len(rules))
	}
	if rules[0].Cooldown != 30*time.Second {
		t.Errorf("Cooldown = %v, want %v", rules[0].Cooldown, 30*time.Second)
	}
}

func TestParseRulesErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"bad cooldown", `
id: r1
name: R1
event_type: XSS_ATTEMPT
condition:
  kind: always
action: log
cooldown: five minutes
`},
		{"unknown action", `
id: r1
name: R1
event_type: XSS_ATTEMPT
condition:
  kind: always
action: drop
`},
		{"unknown event type", `
id: r1
name: R1
event_type: PORT_SCAN
condition:
  kind: always
action: log
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseRules([]byte(tt.data)); err == nil {
				t.Error("ParseRules() succeeded, want error")
			}
		})
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()

	first := `
- id: rule-a
  name: Rule A
  event_type: XSS_ATTEMPT
  condition:
    kind: always
  action: log
  enabled: true
`
	second := `
id: rule-b
name: Rule B
event_type: INJECTION_ATTACK
condition:
  kind: level_is
  level: HIGH
action: warn
enabled: true
`
	if err := os.WriteFile(filepath.Join(dir, "10-a.yaml"), []byte(first), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "20-b.yml"), []byte(second), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("not a rule"), 0o644); err != nil {
		t.Fatal(err)
	}

	rules, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir() error = %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("LoadDir() returned %d rules, want 2", len(rules))
	}
	if rules[0].ID != "rule-a" || rules[1].ID != "rule-b" {
		t.Errorf("LoadDir() order = [%s, %s], want [rule-a, rule-b]", rules[0].ID, rules[1].ID)
	}
}

func TestLoadDirMissing(t *testing.T) {
	if _, err := LoadDir(filepath.Join(t.TempDir(), "absent")); err == nil {
		t.Error("LoadDir() succeeded for missing directory")
	}
}
