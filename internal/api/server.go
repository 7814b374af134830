package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"

	"github.com/studiodesk/notifier/internal/dispatch"
	"github.com/studiodesk/notifier/internal/service"
)

const (
	errInvalidJSONBody = "invalid JSON body"
	defaultListLimit   = 50
	maxListLimit       = 500
)

// Ticker runs one dispatch cycle on demand.
type Ticker interface {
	Tick(ctx context.Context) dispatch.Summary
}

// Server holds all dependencies for the REST API handlers.
type Server struct {
	notificationSvc service.NotificationService
	templateSvc     service.TemplateService
	ticker          Ticker
	clock           clockwork.Clock
	logger          *slog.Logger
}

// New creates a new API Server backed by the provided services. ticker may
// be nil, in which case the manual tick endpoint reports 503.
func New(
	notificationSvc service.NotificationService,
	templateSvc service.TemplateService,
	ticker Ticker,
	clock clockwork.Clock,
	logger *slog.Logger,
) *Server {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Server{
		notificationSvc: notificationSvc,
		templateSvc:     templateSvc,
		ticker:          ticker,
		clock:           clock,
		logger:          logger,
	}
}

// Mount registers all API routes under the given router.
func (s *Server) Mount(r chi.Router) {
	// Work items
	r.Get("/notifications", s.handleListNotifications)
	r.Post("/notifications", s.handleCreateNotification)
	r.Post("/notifications/send", s.handleSendImmediate)
	r.Get("/notifications/{id}", s.handleGetNotification)
	r.Post("/notifications/{id}/cancel", s.handleCancelNotification)
	r.Post("/notifications/{id}/retry", s.handleRetryNotification)

	// Broadcasts
	r.Post("/mass-sends", s.handleCreateMassSend)
	r.Post("/mass-sends/preview", s.handlePreviewMassSend)

	// Operations
	r.Get("/queue", s.handleQueueSnapshot)
	r.Get("/queue/totals", s.handleQueueTotals)
	r.Post("/queue/tick", s.handleTick)
	r.Get("/email-log", s.handleListEmailLog)

	// Templates
	r.Get("/templates", s.handleListTemplates)
	r.Post("/templates", s.handleCreateTemplate)
	r.Post("/templates/preview", s.handlePreviewTemplate)
	r.Post("/templates/variables", s.handleTemplateVariables)
	r.Post("/templates/cache/clear", s.handleClearTemplateCache)
	r.Get("/templates/{id}", s.handleGetTemplate)
	r.Put("/templates/{id}", s.handleUpdateTemplate)

	r.Get("/version", s.handleVersion)
}

// ─── Shared helpers ───────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// httpErr maps service errors to HTTP status codes.
func (s *Server) httpErr(w http.ResponseWriter, err error) {
	var (
		nfe *service.NotFoundError
		ve  *service.ValidationError
		ce  *service.ConflictError
	)
	switch {
	case errors.As(err, &nfe):
		writeError(w, http.StatusNotFound, nfe.Error())
	case errors.As(err, &ve):
		writeError(w, http.StatusBadRequest, ve.Error())
	case errors.As(err, &ce):
		writeError(w, http.StatusConflict, ce.Error())
	default:
		s.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// queryLimit reads ?limit=N, falling back to the default for missing or
// invalid values and capping at maxListLimit.
func queryLimit(r *http.Request) int {
	limit := defaultListLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = min(n, maxListLimit)
		}
	}
	return limit
}
