package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"sentinel-gate/internal/logging"
)

// AdminAuth guards mutating routes with a bearer token compared against
// a bcrypt hash. Only the hash is held in memory; the plaintext token
// exists nowhere in the process.
type AdminAuth struct {
	enabled   bool
	tokenHash string
	logger    *slog.Logger
}

// NewAdminAuth creates the guard. With enabled false every request
// passes through, which is the single-operator development setup.
func NewAdminAuth(enabled bool, tokenHash string, logger *slog.Logger) *AdminAuth {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminAuth{
		enabled:   enabled,
		tokenHash: tokenHash,
		logger:    logger,
	}
}

// HashToken produces a bcrypt hash suitable for the admin token_hash
// config field.
func HashToken(token string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Require wraps next so it only runs for callers presenting the admin
// token.
func (a *AdminAuth) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.enabled {
			next.ServeHTTP(w, r)
			return
		}

		token := bearerToken(r)
		if token == "" {
			a.deny(w, r, "missing bearer token")
			return
		}
		if err := bcrypt.CompareHashAndPassword([]byte(a.tokenHash), []byte(token)); err != nil {
			a.deny(w, r, "token mismatch")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (a *AdminAuth) deny(w http.ResponseWriter, r *http.Request, reason string) {
	a.logger.Warn("admin auth failed",
		"path", r.URL.Path,
		"ip", ClientIP(r, false),
		"reason", reason,
		"token", logging.MaskString(bearerToken(r), 4, 0))

	w.Header().Set("WWW-Authenticate", `Bearer realm="sentinel-gate admin"`)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"unauthorized"}`))
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}
