package middleware

import (
	"fmt"
	"net/http"
)

// HeaderSource supplies the Content-Security-Policy header value.
// Satisfied by csp.Manager and monitor.Monitor, so responses always
// carry the policy currently under management rather than a copy baked
// in at startup.
type HeaderSource interface {
	GenerateCSPHeader() string
}

// HeadersConfig configures the security response headers.
type HeadersConfig struct {
	Enabled bool

	// HSTSMaxAge is the Strict-Transport-Security max-age in seconds.
	// Zero disables the header.
	HSTSMaxAge int

	FrameOptions   string
	ReferrerPolicy string
}

// DefaultHeadersConfig returns the stock header set.
func DefaultHeadersConfig() HeadersConfig {
	return HeadersConfig{
		Enabled:        true,
		HSTSMaxAge:     31536000,
		FrameOptions:   "DENY",
		ReferrerPolicy: "strict-origin-when-cross-origin",
	}
}

// SecurityHeaders sets the standard security response headers on every
// response. The CSP header is read from source per request.
func SecurityHeaders(cfg HeadersConfig, source HeaderSource) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !cfg.Enabled {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.HSTSMaxAge > 0 {
				w.Header().Set("Strict-Transport-Security",
					fmt.Sprintf("max-age=%d; includeSubDomains", cfg.HSTSMaxAge))
			}

			if source != nil {
				if policy := source.GenerateCSPHeader(); policy != "" {
					w.Header().Set("Content-Security-Policy", policy)
				}
			}

			if cfg.FrameOptions != "" {
				w.Header().Set("X-Frame-Options", cfg.FrameOptions)
			}
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-XSS-Protection", "1; mode=block")
			if cfg.ReferrerPolicy != "" {
				w.Header().Set("Referrer-Policy", cfg.ReferrerPolicy)
			}

			next.ServeHTTP(w, r)
		})
	}
}
