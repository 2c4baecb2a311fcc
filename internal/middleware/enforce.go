package middleware

import (
	"log/slog"
	"net/http"
)

// BlockChecker answers whether an IP is currently blocked. Satisfied
// by monitor.Monitor.
type BlockChecker interface {
	IsIPBlocked(ip string) bool
}

// BlockEnforcement rejects requests from currently blocked IPs with a
// 403. The health endpoint stays reachable so probes keep working while
// an operator's address is blocked.
func BlockEnforcement(checker BlockChecker, trustProxy bool, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" {
				next.ServeHTTP(w, r)
				return
			}

			ip := ClientIP(r, trustProxy)
			if checker.IsIPBlocked(ip) {
				logger.Warn("request from blocked ip rejected",
					"ip", ip,
					"path", r.URL.Path,
					"method", r.Method)

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				w.Write([]byte(`{"error":"forbidden: source address is blocked"}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
