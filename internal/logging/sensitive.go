// Package logging scrubs secrets from values bound for the log stream.
//
// Event metadata and content are attacker-controlled and routinely embed
// credentials lifted from the request that triggered the event. Everything
// in this package is applied before such values reach a log handler.
package logging

import (
	"regexp"
	"strings"
)

// MaskedValue replaces sensitive values in logs.
const MaskedValue = "[REDACTED]"

// Metadata keys whose values are masked. Matched case-insensitively,
// by exact key and by substring.
var sensitiveKeys = map[string]bool{
	"password":      true,
	"passwd":        true,
	"secret":        true,
	"token":         true,
	"api_key":       true,
	"apikey":        true,
	"access_token":  true,
	"refresh_token": true,
	"private_key":   true,
	"client_secret": true,
	"credentials":   true,
	"auth":          true,
	"authorization": true,
	"bearer":        true,
	"jwt":           true,
	"session_id":    true,
	"cookie":        true,
	"x-api-key":     true,
	"webhook_url":   true,
}

// Credential shapes that show up inside free-form text.
var sensitivePatterns = []*regexp.Regexp{
	// key=value and key: value assignments
	regexp.MustCompile(`(?i)(api[_-]?key|token|secret|password|passwd|auth)['":\s]*[=:]\s*['"]?([a-zA-Z0-9_\-\.]+)['"]?`),
	// Bearer tokens
	regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9_\-\.]+`),
	// Basic auth
	regexp.MustCompile(`(?i)basic\s+[a-zA-Z0-9+/=]+`),
	// AWS access key ids
	regexp.MustCompile(`(AKIA|ABIA|ACCA|AGPA|AIDA|AIPA|ANPA|ANVA|APKA|AROA|ASCA|ASIA)[A-Z0-9]{16}`),
	// Stripe-style prefixed keys
	regexp.MustCompile(`(?i)(sk_live_|pk_live_|sk_test_|pk_test_)[a-zA-Z0-9]+`),
}

// IsSensitiveKey reports whether a metadata key should have its value
// masked.
func IsSensitiveKey(key string) bool {
	lower := strings.ToLower(key)

	if sensitiveKeys[lower] {
		return true
	}
	for sensitive := range sensitiveKeys {
		if strings.Contains(lower, sensitive) {
			return true
		}
	}
	return false
}

// SafeValue returns a loggable version of value. Values under sensitive
// keys are masked; everything else passes through.
func SafeValue(key string, value interface{}) interface{} {
	if value == nil {
		return nil
	}
	if !IsSensitiveKey(key) {
		return value
	}

	switch v := value.(type) {
	case []string:
		masked := make([]string, len(v))
		for i := range v {
			masked[i] = MaskedValue
		}
		return masked
	default:
		return MaskedValue
	}
}

// RedactMetadata returns a copy of meta with sensitive values masked.
// Nested string-keyed maps are redacted recursively. The input is never
// modified.
func RedactMetadata(meta map[string]interface{}) map[string]interface{} {
	if meta == nil {
		return nil
	}

	out := make(map[string]interface{}, len(meta))
	for key, value := range meta {
		if nested, ok := value.(map[string]interface{}); ok {
			out[key] = RedactMetadata(nested)
			continue
		}
		out[key] = SafeValue(key, value)
	}
	return out
}

// ScrubText masks credential-shaped fragments inside free-form text,
// such as event content captured from a request body.
func ScrubText(s string) string {
	result := s
	for _, pattern := range sensitivePatterns {
		result = pattern.ReplaceAllString(result, MaskedValue)
	}
	return result
}

// MaskString shows only the first and last few characters of a
// sensitive string. Strings too short to mask meaningfully are masked
// completely.
func MaskString(s string, showFirst, showLast int) string {
	if s == "" {
		return s
	}
	if len(s) <= showFirst+showLast+3 {
		return MaskedValue
	}
	return s[:showFirst] + "***" + s[len(s)-showLast:]
}
