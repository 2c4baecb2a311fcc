// Package api serves the HTTP surface of the security engine.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"sentinel-gate/internal/blocklist"
	"sentinel-gate/internal/csp"
	apperrors "sentinel-gate/internal/errors"
	"sentinel-gate/internal/middleware"
	"sentinel-gate/internal/monitor"
	"sentinel-gate/internal/schema"
	"sentinel-gate/internal/store"
)

// maxPayload caps request bodies. Events and CSP reports are small;
// anything above this is hostile or broken.
const maxPayload = 1 << 20

// Handler serves the engine's REST API.
type Handler struct {
	monitor   *monitor.Monitor
	admin     *middleware.AdminAuth
	sanitizer *apperrors.Sanitizer
	validator *schema.Validator
	logger    *slog.Logger
	started   time.Time
}

// NewHandler creates the API handler. admin guards the mutating
// routes; sanitizer scrubs internal errors before they reach clients.
func NewHandler(mon *monitor.Monitor, admin *middleware.AdminAuth, sanitizer *apperrors.Sanitizer, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if sanitizer == nil {
		sanitizer = apperrors.NewSanitizer(false)
	}
	return &Handler{
		monitor:   mon,
		admin:     admin,
		sanitizer: sanitizer,
		validator: schema.NewValidator(),
		logger:    logger,
		started:   time.Now(),
	}
}

// Routes mounts every endpoint on a fresh mux. Admin routes are
// wrapped with the bearer-token guard.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/events", h.handleSubmitEvent)
	mux.HandleFunc("GET /v1/events", h.handleListEvents)
	mux.HandleFunc("GET /v1/events/{id}", h.handleGetEvent)
	mux.Handle("POST /v1/events/{id}/resolve", h.admin.Require(http.HandlerFunc(h.handleResolveEvent)))

	mux.HandleFunc("GET /v1/metrics", h.handleMetrics)

	mux.Handle("GET /v1/blocklist", h.admin.Require(http.HandlerFunc(h.handleBlocklist)))
	mux.HandleFunc("GET /v1/blocklist/{ip}", h.handleBlockCheck)
	mux.Handle("DELETE /v1/blocklist/{ip}", h.admin.Require(http.HandlerFunc(h.handleUnblock)))

	mux.HandleFunc("GET /v1/rules", h.handleRules)
	mux.Handle("POST /v1/rules/{id}/enable", h.admin.Require(http.HandlerFunc(h.handleEnableRule)))
	mux.Handle("POST /v1/rules/{id}/disable", h.admin.Require(http.HandlerFunc(h.handleDisableRule)))

	mux.HandleFunc("GET /v1/csp/policy", h.handleGetCSPPolicy)
	mux.Handle("PUT /v1/csp/policy", h.admin.Require(http.HandlerFunc(h.handleSetCSPPolicy)))
	mux.HandleFunc("GET /v1/csp/header", h.handleCSPHeader)
	mux.HandleFunc("POST /v1/csp/report", h.handleCSPReport)
	mux.HandleFunc("GET /v1/csp/violations", h.handleCSPViolations)
	mux.HandleFunc("GET /v1/csp/violations/stats", h.handleCSPViolationStats)

	mux.HandleFunc("GET /health", h.handleHealth)

	return mux
}

func (h *Handler) handleSubmitEvent(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxPayload)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		respondError(w, http.StatusBadRequest, "invalid request: unreadable body")
		return
	}

	var sub schema.Submission
	if err := json.Unmarshal(body, &sub); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return
	}

	if fields := h.validator.Check(&sub); fields != nil {
		respondJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":      "invalid request",
			"fields":     fields,
			"request_id": requestID(w),
		})
		return
	}

	event, err := h.monitor.RecordEvent(r.Context(), schema.EventType(sub.EventType), schema.ThreatLevel(sub.ThreatLevel), sub.Details())
	if err != nil {
		if errors.Is(err, schema.ErrInvalidEventType) || errors.Is(err, schema.ErrInvalidThreatLevel) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, h.sanitizer.Message(err))
		return
	}

	respondJSON(w, http.StatusCreated, event)
}

func (h *Handler) handleListEvents(w http.ResponseWriter, r *http.Request) {
	filter, err := parseEventFilter(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return
	}

	events := h.monitor.Events(filter)
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
	})
}

func (h *Handler) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	event, ok := h.monitor.Event(r.PathValue("id"))
	if !ok {
		respondError(w, http.StatusNotFound, "event not found")
		return
	}
	respondJSON(w, http.StatusOK, event)
}

func (h *Handler) handleResolveEvent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req struct {
		Notes string `json:"notes"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxPayload)
	if body, err := io.ReadAll(r.Body); err == nil && len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
			return
		}
	}

	if !h.monitor.ResolveEvent(id, req.Notes) {
		respondError(w, http.StatusNotFound, "event not found")
		return
	}

	event, _ := h.monitor.Event(id)
	respondJSON(w, http.StatusOK, event)
}

func (h *Handler) handleMetrics(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.monitor.Metrics())
}

func (h *Handler) handleBlocklist(w http.ResponseWriter, r *http.Request) {
	blocked := h.monitor.BlockedIPs()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"blocked": blocked,
		"count":   len(blocked),
	})
}

type blockCheckResponse struct {
	IP      string               `json:"ip"`
	Blocked bool                 `json:"blocked"`
	Entry   *blocklist.BlockedIP `json:"entry,omitempty"`
}

func (h *Handler) handleBlockCheck(w http.ResponseWriter, r *http.Request) {
	ip := r.PathValue("ip")
	entry, blocked := h.monitor.BlockedIP(ip)
	respondJSON(w, http.StatusOK, blockCheckResponse{
		IP:      ip,
		Blocked: blocked,
		Entry:   entry,
	})
}

func (h *Handler) handleUnblock(w http.ResponseWriter, r *http.Request) {
	ip := r.PathValue("ip")
	if !h.monitor.UnblockIP(ip) {
		respondError(w, http.StatusNotFound, "ip not found in blocklist")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"unblocked": ip})
}

func (h *Handler) handleRules(w http.ResponseWriter, r *http.Request) {
	ruleList := h.monitor.Rules()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"rules": ruleList,
		"count": len(ruleList),
	})
}

func (h *Handler) handleEnableRule(w http.ResponseWriter, r *http.Request) {
	h.setRuleEnabled(w, r, true)
}

func (h *Handler) handleDisableRule(w http.ResponseWriter, r *http.Request) {
	h.setRuleEnabled(w, r, false)
}

func (h *Handler) setRuleEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	id := r.PathValue("id")
	if !h.monitor.SetRuleEnabled(id, enabled) {
		respondError(w, http.StatusNotFound, "rule not found")
		return
	}

	rule, _ := h.monitor.Rule(id)
	respondJSON(w, http.StatusOK, rule)
}

func (h *Handler) handleGetCSPPolicy(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.monitor.CSPPolicy())
}

func (h *Handler) handleSetCSPPolicy(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxPayload)

	var policy csp.Policy
	if err := json.NewDecoder(r.Body).Decode(&policy); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return
	}

	if err := h.monitor.SetCSPPolicy(policy); err != nil {
		if errors.Is(err, csp.ErrUnknownDirective) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, h.sanitizer.Message(err))
		return
	}

	// Validation is advisory; warnings ride along with the accepted
	// policy.
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"policy":     h.monitor.CSPPolicy(),
		"validation": h.monitor.ValidateCSPPolicy(),
	})
}

func (h *Handler) handleCSPHeader(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"header": h.monitor.GenerateCSPHeader(),
	})
}

type cspReportWrapper struct {
	Report *csp.ViolationReport `json:"csp-report"`
}

// handleCSPReport ingests browser violation reports. Browsers do not
// retry and cannot act on errors, so the endpoint always answers 204.
func (h *Handler) handleCSPReport(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxPayload)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if report := decodeViolationReport(body); report != nil {
		h.monitor.HandleCSPReport(report)
	} else {
		h.logger.Debug("discarding unparseable csp report", "bytes", len(body))
	}

	w.WriteHeader(http.StatusNoContent)
}

// decodeViolationReport accepts both the report-uri wrapper object
// {"csp-report": {...}} and a bare report.
func decodeViolationReport(body []byte) *csp.ViolationReport {
	var wrapper cspReportWrapper
	if err := json.Unmarshal(body, &wrapper); err == nil && wrapper.Report != nil {
		return wrapper.Report
	}

	var report csp.ViolationReport
	if err := json.Unmarshal(body, &report); err == nil {
		return &report
	}
	return nil
}

func (h *Handler) handleCSPViolations(w http.ResponseWriter, r *http.Request) {
	violations := h.monitor.CSPViolations()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"violations": violations,
		"count":      len(violations),
	})
}

func (h *Handler) handleCSPViolationStats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.monitor.CSPViolationStats())
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": int(time.Since(h.started).Seconds()),
		"stats":          h.monitor.Stats(),
	})
}

// parseEventFilter builds a store filter from query parameters.
func parseEventFilter(r *http.Request) (store.Filter, error) {
	q := r.URL.Query()
	var filter store.Filter

	if v := q.Get("type"); v != "" {
		eventType := schema.EventType(v)
		if !eventType.IsValid() {
			return filter, fmt.Errorf("unknown event type %q", v)
		}
		filter.Type = eventType
	}
	if v := q.Get("level"); v != "" {
		level := schema.ThreatLevel(v)
		if !level.IsValid() {
			return filter, fmt.Errorf("unknown threat level %q", v)
		}
		filter.Level = level
	}
	if v := q.Get("since"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, fmt.Errorf("since must be RFC 3339, got %q", v)
		}
		filter.Start = ts
	}
	if v := q.Get("until"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, fmt.Errorf("until must be RFC 3339, got %q", v)
		}
		filter.End = ts
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return filter, fmt.Errorf("limit must be a non-negative integer, got %q", v)
		}
		filter.Limit = n
	}

	return filter, nil
}

// requestID returns the id assigned by the logging middleware, or a
// fresh one when the handler runs unchained.
func requestID(w http.ResponseWriter) string {
	if id := w.Header().Get(middleware.RequestIDHeader); id != "" {
		return id
	}
	return uuid.NewString()
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]interface{}{
		"error":      message,
		"request_id": requestID(w),
	})
}
