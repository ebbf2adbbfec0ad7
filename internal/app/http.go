package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"vizdots/api/internal/alerts"
	"vizdots/api/internal/auth"
	"vizdots/api/internal/observability"
	"vizdots/api/internal/rbac"
	"vizdots/api/internal/workflow"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	logger     *zap.Logger
	metrics    *observability.Metrics
	gatherer   prometheus.Gatherer
}

type ServerOption func(*HTTPServer)

func WithLogger(logger *zap.Logger) ServerOption {
	return func(s *HTTPServer) { s.logger = logger }
}

// WithMetrics records request metrics into m and serves gatherer on /metrics.
func WithMetrics(m *observability.Metrics, gatherer prometheus.Gatherer) ServerOption {
	return func(s *HTTPServer) {
		s.metrics = m
		s.gatherer = gatherer
	}
}

func NewHTTPServer(service *Service, corsOrigin string, opts ...ServerOption) *HTTPServer {
	s := &HTTPServer{service: service, corsOrigin: corsOrigin, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	s.logger = s.logger.Named("http")
	return s
}

func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.withMiddleware)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/ready", s.handleReady)
	r.Method(http.MethodGet, "/metrics", s.metricsHandler())

	r.Route("/api/orgs/{orgID}", func(r chi.Router) {
		r.Use(s.requireSession)

		r.Post("/health/compute", s.handleComputeHealth)
		r.Get("/health/snapshots", s.handleSnapshots)

		r.Get("/alerts", s.handleAlerts)
		r.Patch("/alerts/{alertID}", s.handleAlertStatus)

		r.Get("/workflows", s.handleWorkflows)
		r.Get("/workflows/{workflowID}", s.handleWorkflow)
		r.Get("/workflows/{workflowID}/context", s.handleWorkflowContext)
		r.Post("/workflows/{workflowID}/overrides", s.handleReplaceOverride)
		r.Post("/workflows/{workflowID}/notes", s.handleAddNote)
		r.Delete("/workflows/{workflowID}/notes/{noteID}", s.handleDeactivateNote)

		r.Get("/search", s.handleSearch)
	})
	return r
}

func (s *HTTPServer) metricsHandler() http.Handler {
	if s.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})
}

// forbid writes a 403 Forbidden response and logs the denial
func (s *HTTPServer) forbid(w http.ResponseWriter, r *http.Request, session Session, action rbac.Action) {
	observability.LoggerFrom(r.Context(), s.logger).Info("request forbidden",
		zap.String("user_id", session.UserID),
		zap.String("role", string(session.Role)),
		zap.String("action", string(action)),
	)
	writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
}

// allow checks the session role against action, writing a 403 when denied.
func (s *HTTPServer) allow(w http.ResponseWriter, r *http.Request, action rbac.Action) (Session, bool) {
	session := sessionFrom(r.Context())
	if !s.service.Can(session.Role, action) {
		s.forbid(w, r, session, action)
		return session, false
	}
	return session, true
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}

	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleComputeHealth(w http.ResponseWriter, r *http.Request) {
	session, ok := s.allow(w, r, rbac.ActionAdmin)
	if !ok {
		return
	}
	var body struct {
		Window string `json:"window"`
		Date   string `json:"date"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	result, err := s.service.ComputeHealth(r.Context(), session.OrgID, body.Window, body.Date)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleSnapshots(w http.ResponseWriter, r *http.Request) {
	session, ok := s.allow(w, r, rbac.ActionRead)
	if !ok {
		return
	}
	snapshots, err := s.service.LatestSnapshots(r.Context(), session.OrgID, r.URL.Query().Get("window"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": snapshots})
}

func (s *HTTPServer) handleAlerts(w http.ResponseWriter, r *http.Request) {
	session, ok := s.allow(w, r, rbac.ActionRead)
	if !ok {
		return
	}
	items, err := s.service.OpenAlerts(r.Context(), session.OrgID, r.URL.Query().Get("department"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *HTTPServer) handleAlertStatus(w http.ResponseWriter, r *http.Request) {
	session, ok := s.allow(w, r, rbac.ActionTriage)
	if !ok {
		return
	}
	var body struct {
		Status string `json:"status"`
		Note   string `json:"note"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	alert, err := s.service.UpdateAlertStatus(r.Context(), session, chi.URLParam(r, "alertID"), body.Status, body.Note)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

func (s *HTTPServer) handleWorkflows(w http.ResponseWriter, r *http.Request) {
	session, ok := s.allow(w, r, rbac.ActionRead)
	if !ok {
		return
	}
	views, err := s.service.Workflows(r.Context(), session.OrgID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": views})
}

func (s *HTTPServer) handleWorkflow(w http.ResponseWriter, r *http.Request) {
	session, ok := s.allow(w, r, rbac.ActionRead)
	if !ok {
		return
	}
	view, err := s.service.Workflow(r.Context(), session.OrgID, chi.URLParam(r, "workflowID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *HTTPServer) handleWorkflowContext(w http.ResponseWriter, r *http.Request) {
	session, ok := s.allow(w, r, rbac.ActionRead)
	if !ok {
		return
	}
	workflowID := chi.URLParam(r, "workflowID")
	text, err := s.service.WorkflowContext(r.Context(), session.OrgID, workflowID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"workflowId": workflowID, "context": text})
}

func (s *HTTPServer) handleReplaceOverride(w http.ResponseWriter, r *http.Request) {
	session, ok := s.allow(w, r, rbac.ActionAdmin)
	if !ok {
		return
	}
	var input workflow.OverrideInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	archived, created, err := s.service.ReplaceOverride(r.Context(), session, chi.URLParam(r, "workflowID"), input)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"override": created, "archived": archived})
}

func (s *HTTPServer) handleAddNote(w http.ResponseWriter, r *http.Request) {
	session, ok := s.allow(w, r, rbac.ActionAnnotate)
	if !ok {
		return
	}
	var input workflow.NoteInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	note, err := s.service.AddOwnerNote(r.Context(), session, chi.URLParam(r, "workflowID"), input)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, note)
}

func (s *HTTPServer) handleDeactivateNote(w http.ResponseWriter, r *http.Request) {
	session, ok := s.allow(w, r, rbac.ActionTriage)
	if !ok {
		return
	}
	err := s.service.DeactivateOwnerNote(r.Context(), session, chi.URLParam(r, "workflowID"), chi.URLParam(r, "noteID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	session, ok := s.allow(w, r, rbac.ActionRead)
	if !ok {
		return
	}
	query := r.URL.Query()
	limit, err := optionalInt(query.Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be an integer", nil)
		return
	}
	offset, err := optionalInt(query.Get("offset"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_OFFSET", "offset must be an integer", nil)
		return
	}
	response, err := s.service.Search(r.Context(), session.OrgID, query.Get("q"), query.Get("type"), limit, offset)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

func optionalInt(raw string) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return 0, nil
	}
	return strconv.Atoi(strings.TrimSpace(raw))
}

// fail renders err and logs it when it is not a client error.
func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		observability.LoggerFrom(r.Context(), s.logger).Error("request failed", zap.Error(err))
	}
	writeError(w, status, code, message, details)
}

type sessionKey struct{}

func sessionFrom(ctx context.Context) Session {
	session, _ := ctx.Value(sessionKey{}).(Session)
	return session
}

// requireSession authenticates the bearer token and pins the request to the
// token's org. A token for one org never reads another org's path.
func (s *HTTPServer) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return
		}
		session, err := s.service.SessionFromToken(token)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		if session.OrgID != chi.URLParam(r, "orgID") {
			s.forbid(w, r, session, rbac.ActionRead)
			return
		}
		ctx := context.WithValue(r.Context(), sessionKey{}, session)
		logger := observability.LoggerFrom(ctx, s.logger).With(
			zap.String("org_id", session.OrgID),
			zap.String("user_id", session.UserID),
		)
		next.ServeHTTP(w, r.WithContext(observability.WithLogger(ctx, logger)))
	})
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		logger := s.logger.With(zap.String("request_id", requestID))
		r = r.WithContext(observability.WithLogger(r.Context(), logger))

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		if r.Method == http.MethodOptions {
			writer.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(writer, r)

		elapsed := time.Since(started)
		s.metrics.ObserveHTTP(r.Method, routePattern(r), strconv.Itoa(writer.status), elapsed.Seconds())
		logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", writer.status),
			zap.Int64("duration_ms", elapsed.Milliseconds()),
		)
	})
}

// routePattern returns the matched chi pattern so metric labels stay bounded.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return "unmatched"
	}
	if pattern := rctx.RoutePattern(); pattern != "" {
		return pattern
	}
	return "unmatched"
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

// decodeBody accepts an empty body as "no fields set".
func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	switch {
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	case errors.Is(err, alerts.ErrAlertNotFound):
		return http.StatusNotFound, "ALERT_NOT_FOUND", "Alert not found", nil
	case errors.Is(err, workflow.ErrWorkflowNotFound):
		return http.StatusNotFound, "WORKFLOW_NOT_FOUND", "Workflow not found", nil
	case errors.Is(err, workflow.ErrNoteNotFound):
		return http.StatusNotFound, "NOTE_NOT_FOUND", "Owner note not found", nil
	case errors.Is(err, alerts.ErrInvalidStatus):
		return http.StatusBadRequest, "INVALID_STATUS", "status must be acknowledged, resolved or dismissed", nil
	case errors.Is(err, alerts.ErrInvalidTransition):
		return http.StatusConflict, "INVALID_TRANSITION", err.Error(), nil
	case errors.Is(err, workflow.ErrInvalidOverride), errors.Is(err, workflow.ErrInvalidNote):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
