// Package csp owns the content security policy: the active policy
// document, header generation, advisory validation, and violation
// report intake.
package csp

import (
	"encoding/json"
	"fmt"
	"strings"
)

// directiveOrder is the canonical directive definition order. Header
// generation iterates it so equal policies always produce equal
// headers.
var directiveOrder = []string{
	"default-src",
	"script-src",
	"style-src",
	"img-src",
	"font-src",
	"connect-src",
	"media-src",
	"object-src",
	"child-src",
	"frame-src",
	"worker-src",
	"manifest-src",
	"base-uri",
	"form-action",
	"frame-ancestors",
	"report-uri",
	"report-to",
	"sandbox",
	"upgrade-insecure-requests",
	"block-all-mixed-content",
}

var validDirectives = func() map[string]bool {
	m := make(map[string]bool, len(directiveOrder))
	for _, name := range directiveOrder {
		m[name] = true
	}
	return m
}()

// IsValidDirective reports whether a directive name is known.
func IsValidDirective(name string) bool {
	return validDirectives[name]
}

// Directives returns the known directive names in canonical order.
func Directives() []string {
	result := make([]string, len(directiveOrder))
	copy(result, directiveOrder)
	return result
}

// Directive is one policy entry: either a source token list or a bare
// boolean directive. A non-nil Tokens slice means the list form;
// otherwise Enable decides whether the bare name is emitted.
type Directive struct {
	Tokens []string
	Enable bool
}

// Sources returns a token-list directive.
func Sources(tokens ...string) Directive {
	return Directive{Tokens: tokens}
}

// Flag returns a bare boolean directive.
func Flag(on bool) Directive {
	return Directive{Enable: on}
}

// MarshalJSON emits the token list for list directives and a bool for
// bare directives.
func (d Directive) MarshalJSON() ([]byte, error) {
	if d.Tokens != nil {
		return json.Marshal(d.Tokens)
	}
	return json.Marshal(d.Enable)
}

// UnmarshalJSON accepts either a string list or a boolean.
func (d *Directive) UnmarshalJSON(data []byte) error {
	var tokens []string
	if err := json.Unmarshal(data, &tokens); err == nil {
		d.Tokens = tokens
		d.Enable = false
		return nil
	}
	var enable bool
	if err := json.Unmarshal(data, &enable); err == nil {
		d.Tokens = nil
		d.Enable = enable
		return nil
	}
	return fmt.Errorf("directive value must be a string list or a boolean")
}

// contains reports whether the directive's token list holds the token.
func (d Directive) contains(token string) bool {
	for _, t := range d.Tokens {
		if t == token {
			return true
		}
	}
	return false
}

// Policy maps directive names to their values.
type Policy map[string]Directive

// Clone returns a deep copy of the policy.
func (p Policy) Clone() Policy {
	if p == nil {
		return nil
	}
	cp := make(Policy, len(p))
	for name, d := range p {
		if d.Tokens != nil {
			tokens := make([]string, len(d.Tokens))
			copy(tokens, d.Tokens)
			d.Tokens = tokens
		}
		cp[name] = d
	}
	return cp
}

// Header renders the policy as a Content-Security-Policy header value.
// List directives emit "name tok tok..."; boolean directives emit the
// bare name when enabled; everything else is omitted. Directives are
// joined with "; " in canonical definition order.
func (p Policy) Header() string {
	var directives []string
	for _, name := range directiveOrder {
		d, ok := p[name]
		if !ok {
			continue
		}
		if d.Tokens != nil {
			if len(d.Tokens) > 0 {
				directives = append(directives, name+" "+strings.Join(d.Tokens, " "))
			}
			continue
		}
		if d.Enable {
			directives = append(directives, name)
		}
	}
	return strings.Join(directives, "; ")
}

// ValidationResult holds the outcome of a policy validation pass.
// Every current check is advisory, so Errors stays empty and IsValid
// is true; the fields exist so hard failures can be added without
// changing the shape.
type ValidationResult struct {
	IsValid  bool     `json:"is_valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// ValidatePolicy runs the advisory policy checks: missing baseline
// directives, inline/eval script sources, object-src without 'none',
// and wildcard sources.
func ValidatePolicy(p Policy) ValidationResult {
	result := ValidationResult{
		Errors:   []string{},
		Warnings: []string{},
	}

	for _, name := range []string{"default-src", "script-src", "object-src"} {
		if _, ok := p[name]; !ok {
			result.Warnings = append(result.Warnings, fmt.Sprintf("missing recommended directive: %s", name))
		}
	}

	if script, ok := p["script-src"]; ok {
		if script.contains("'unsafe-inline'") {
			result.Warnings = append(result.Warnings, "script-src allows 'unsafe-inline'")
		}
		if script.contains("'unsafe-eval'") {
			result.Warnings = append(result.Warnings, "script-src allows 'unsafe-eval'")
		}
	}

	// The check is shape-sensitive on purpose: an object-src present
	// in any form without 'none' among its tokens draws the warning,
	// including the bare boolean form.
	if object, ok := p["object-src"]; ok && !object.contains("'none'") {
		result.Warnings = append(result.Warnings, "object-src should include 'none'")
	}

	for _, name := range directiveOrder {
		if d, ok := p[name]; ok && d.contains("*") {
			result.Warnings = append(result.Warnings, fmt.Sprintf("%s allows any origin ('*')", name))
		}
	}

	result.IsValid = len(result.Errors) == 0
	return result
}

// StrictPolicy returns the most restrictive preset: first-party
// everything, no plugins, no framing.
func StrictPolicy() Policy {
	return Policy{
		"default-src":               Sources("'self'"),
		"script-src":                Sources("'self'"),
		"style-src":                 Sources("'self'"),
		"img-src":                   Sources("'self'"),
		"font-src":                  Sources("'self'"),
		"connect-src":               Sources("'self'"),
		"object-src":                Sources("'none'"),
		"base-uri":                  Sources("'self'"),
		"form-action":               Sources("'self'"),
		"frame-ancestors":           Sources("'none'"),
		"upgrade-insecure-requests": Flag(true),
	}
}

// BalancedPolicy returns the default preset: first-party scripts with
// the usual allowances for inline styles and remote images.
func BalancedPolicy() Policy {
	return Policy{
		"default-src":     Sources("'self'"),
		"script-src":      Sources("'self'"),
		"style-src":       Sources("'self'", "'unsafe-inline'"),
		"img-src":         Sources("'self'", "data:", "https:"),
		"font-src":        Sources("'self'", "data:"),
		"connect-src":     Sources("'self'"),
		"object-src":      Sources("'none'"),
		"frame-ancestors": Sources("'none'"),
	}
}

// DevelopmentPolicy returns a loose preset for local development:
// inline and eval scripts plus websocket connections are allowed.
func DevelopmentPolicy() Policy {
	return Policy{
		"default-src": Sources("'self'"),
		"script-src":  Sources("'self'", "'unsafe-inline'", "'unsafe-eval'"),
		"style-src":   Sources("'self'", "'unsafe-inline'"),
		"img-src":     Sources("'self'", "data:", "blob:"),
		"font-src":    Sources("'self'", "data:"),
		"connect-src": Sources("'self'", "ws:", "wss:"),
		"object-src":  Sources("'none'"),
	}
}

// PresetPolicy returns the named preset. Valid names are strict,
// balanced, and development.
func PresetPolicy(name string) (Policy, error) {
	switch name {
	case "strict":
		return StrictPolicy(), nil
	case "balanced", "":
		return BalancedPolicy(), nil
	case "development":
		return DevelopmentPolicy(), nil
	}
	return nil, fmt.Errorf("unknown csp preset: %q", name)
}
