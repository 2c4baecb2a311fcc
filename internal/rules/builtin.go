package rules

import (
	"time"

	"sentinel-gate/internal/schema"
)

// BuiltinRules returns the built-in protection rules in their
// canonical registration order.
func BuiltinRules() []*Rule {
	return []*Rule{
		XSSProtectionRule(),
		InjectionProtectionRule(),
		RateLimitProtectionRule(),
		CSPViolationMonitorRule(),
	}
}

// XSSProtectionRule blocks sources of critical cross-site scripting
// attempts.
func XSSProtectionRule() *Rule {
	return &Rule{
		ID:          "xss-protection",
		Name:        "XSS Protection",
		Description: "Blocks the source of critical cross-site scripting attempts",
		EventType:   schema.EventXSSAttempt,
		Condition: Condition{
			Kind:  KindLevelIs,
			Level: schema.LevelCritical,
		},
		Action:      ActionBlock,
		Enabled:     true,
		Cooldown:    5 * time.Minute,
		MaxTriggers: 10,
	}
}

// InjectionProtectionRule blocks sources of high-severity injection
// attacks.
func InjectionProtectionRule() *Rule {
	return &Rule{
		ID:          "injection-protection",
		Name:        "Injection Protection",
		Description: "Blocks the source of high and critical injection attacks",
		EventType:   schema.EventInjectionAttack,
		Condition: Condition{
			Kind:   KindLevelIn,
			Levels: []schema.ThreatLevel{schema.LevelHigh, schema.LevelCritical},
		},
		Action:      ActionBlock,
		Enabled:     true,
		Cooldown:    10 * time.Minute,
		MaxTriggers: 5,
	}
}

// RateLimitProtectionRule warns on sustained rate limit violations.
func RateLimitProtectionRule() *Rule {
	return &Rule{
		ID:          "rate-limit-protection",
		Name:        "Rate Limit Protection",
		Description: "Warns when clients repeatedly exceed rate limits",
		EventType:   schema.EventRateLimitExceeded,
		Condition: Condition{
			Kind:  KindLevelIs,
			Level: schema.LevelMedium,
		},
		Action:   ActionWarn,
		Enabled:  true,
		Cooldown: 1 * time.Minute,
	}
}

// CSPViolationMonitorRule records every content security policy
// violation.
func CSPViolationMonitorRule() *Rule {
	return &Rule{
		ID:          "csp-violation-monitor",
		Name:        "CSP Violation Monitor",
		Description: "Logs all content security policy violations",
		EventType:   schema.EventCSPViolation,
		Condition: Condition{
			Kind: KindAlways,
		},
		Action:  ActionLog,
		Enabled: true,
	}
}
