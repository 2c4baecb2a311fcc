// Package errors keeps internal detail out of client-facing error text.
package errors

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	// Absolute file paths, Linux and Windows.
	filePathPattern = regexp.MustCompile(`(/[a-zA-Z0-9_\-./]+)|([A-Z]:\\[a-zA-Z0-9_\-\\ ./]+)`)

	// IPv4 addresses.
	ipPattern = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)

	// Fragments that carry credentials or backend wiring.
	credentialPattern = regexp.MustCompile(`(?i)(password=|secret=|token=|api[_-]?key=|authorization:|connection string|broker)`)
)

// Messages safe to hand to API clients as-is. Matched case-insensitively
// by substring.
var clientSafe = []string{
	"invalid event type",
	"invalid threat level",
	"invalid request",
	"duplicate rule id",
	"unknown csp directive",
	"unauthorized",
	"forbidden",
	"not found",
	"rate limit exceeded",
	"request body too large",
}

// Sanitizer rewrites error text before it crosses the API boundary. In
// development mode it passes errors through untouched so operators see
// the real cause; in production it strips paths, masks addresses and
// collapses anything credential-shaped.
type Sanitizer struct {
	production bool
}

// NewSanitizer returns a sanitizer for the given mode. production
// selects whether Error, String and Message rewrite their input or
// pass it through.
func NewSanitizer(production bool) *Sanitizer {
	return &Sanitizer{production: production}
}

// Production reports whether the sanitizer rewrites messages.
func (s *Sanitizer) Production() bool {
	return s.production
}

// Error returns err with sensitive detail removed. The sanitized error
// does not wrap the original, so nothing upstream can unwrap its way
// back to the raw message.
func (s *Sanitizer) Error(err error) error {
	if err == nil {
		return nil
	}
	if !s.production {
		return err
	}
	return errors.New(s.String(err.Error()))
}

// String removes sensitive information from a message.
func (s *Sanitizer) String(in string) string {
	if !s.production {
		return in
	}

	// Keep only the final element of any absolute path.
	in = filePathPattern.ReplaceAllStringFunc(in, func(match string) string {
		return filepath.Base(match)
	})

	// Mask addresses, keeping the first two octets for context.
	in = ipPattern.ReplaceAllStringFunc(in, func(match string) string {
		parts := strings.Split(match, ".")
		if len(parts) == 4 {
			return fmt.Sprintf("%s.%s.x.x", parts[0], parts[1])
		}
		return "x.x.x.x"
	})

	if credentialPattern.MatchString(in) {
		in = "internal operation failed"
	}

	// Stack traces and other multiline dumps collapse to one line.
	if strings.Contains(in, "goroutine") || strings.Count(in, "\n") > 3 {
		in = "internal server error"
	}

	return in
}

// Wrap adds context to err and sanitizes the combined message.
func (s *Sanitizer) Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return s.Error(fmt.Errorf("%s: %w", message, err))
}

// Message returns text fit for an API response body. Known
// client-facing messages pass through; everything else is sanitized.
func (s *Sanitizer) Message(err error) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	lower := strings.ToLower(msg)
	for _, safe := range clientSafe {
		if strings.Contains(lower, safe) {
			return msg
		}
	}
	return s.String(msg)
}
