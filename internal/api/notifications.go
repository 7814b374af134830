package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/studiodesk/notifier/internal/notification"
	"github.com/studiodesk/notifier/internal/service"
	"github.com/studiodesk/notifier/internal/storage"
)

// sendResult is the JSON form of a channel result.
type sendResult struct {
	Success    bool   `json:"success"`
	ExternalID string `json:"external_id,omitempty"`
	Error      string `json:"error,omitempty"`
	Retryable  bool   `json:"retryable,omitempty"`
}

func toSendResult(res notification.Result) sendResult {
	return sendResult{
		Success:    res.Success,
		ExternalID: res.ExternalID,
		Error:      res.Error(),
		Retryable:  res.Retryable,
	}
}

// handleListNotifications returns recent work items.
// Accepts optional ?status=PENDING and ?limit=N query parameters.
func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	status := storage.Status(r.URL.Query().Get("status"))
	items, err := s.notificationSvc.ListNotifications(r.Context(), status, queryLimit(r))
	if err != nil {
		s.httpErr(w, err)
		return
	}
	if items == nil {
		items = []*storage.WorkItem{}
	}
	writeJSON(w, http.StatusOK, items)
}

// handleCreateNotification enqueues a work item. A send blocked by the
// recipient's preferences is not an error and answers 200 with queued=false.
func (s *Server) handleCreateNotification(w http.ResponseWriter, r *http.Request) {
	var req service.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errInvalidJSONBody)
		return
	}

	item, err := s.notificationSvc.CreateNotification(r.Context(), req)
	if err != nil {
		s.httpErr(w, err)
		return
	}
	if item == nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"queued": false,
			"reason": "blocked by recipient preferences",
		})
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (s *Server) handleSendImmediate(w http.ResponseWriter, r *http.Request) {
	var req service.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errInvalidJSONBody)
		return
	}

	res, err := s.notificationSvc.SendImmediate(r.Context(), req)
	if err != nil {
		s.httpErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSendResult(res))
}

func (s *Server) handleGetNotification(w http.ResponseWriter, r *http.Request) {
	item, err := s.notificationSvc.GetNotification(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.httpErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleCancelNotification(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.notificationSvc.CancelNotification(r.Context(), id); err != nil {
		s.httpErr(w, err)
		return
	}
	s.writeNotification(w, r, id)
}

func (s *Server) handleRetryNotification(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.notificationSvc.RetryNotification(r.Context(), id); err != nil {
		s.httpErr(w, err)
		return
	}
	s.writeNotification(w, r, id)
}

func (s *Server) writeNotification(w http.ResponseWriter, r *http.Request, id string) {
	item, err := s.notificationSvc.GetNotification(r.Context(), id)
	if err != nil {
		s.httpErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleCreateMassSend(w http.ResponseWriter, r *http.Request) {
	var req service.MassSendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errInvalidJSONBody)
		return
	}

	res, err := s.notificationSvc.CreateMassSend(r.Context(), req)
	if err != nil {
		s.httpErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

// handlePreviewMassSend reports who a broadcast would reach without
// enqueueing anything.
func (s *Server) handlePreviewMassSend(w http.ResponseWriter, r *http.Request) {
	var req service.MassSendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errInvalidJSONBody)
		return
	}

	targets, excluded, err := s.notificationSvc.Expand(r.Context(), req.Filter, req.Channel)
	if err != nil {
		s.httpErr(w, err)
		return
	}
	if targets == nil {
		targets = []service.Target{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total":    len(targets),
		"excluded": excluded,
		"targets":  targets,
	})
}

func (s *Server) handleQueueSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.notificationSvc.QueueSnapshot(r.Context())
	if err != nil {
		s.httpErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleQueueTotals groups items created in [since, until). Both bounds are
// RFC 3339; the default window is the last 24 hours.
func (s *Server) handleQueueTotals(w http.ResponseWriter, r *http.Request) {
	until := s.clock.Now()
	since := until.Add(-24 * time.Hour)
	q := r.URL.Query()
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC 3339")
			return
		}
		since = t
	}
	if v := q.Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "until must be RFC 3339")
			return
		}
		until = t
	}

	rows, err := s.notificationSvc.Totals(r.Context(), since, until)
	if err != nil {
		s.httpErr(w, err)
		return
	}
	if rows == nil {
		rows = []storage.TotalsRow{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"since":  since,
		"until":  until,
		"totals": rows,
	})
}

// handleTick runs one dispatch cycle immediately.
func (s *Server) handleTick(w http.ResponseWriter, r *http.Request) {
	if s.ticker == nil {
		writeError(w, http.StatusServiceUnavailable, "dispatcher is not running")
		return
	}
	writeJSON(w, http.StatusOK, s.ticker.Tick(r.Context()))
}

// handleListEmailLog returns recent email delivery log entries.
// Accepts an optional ?limit=N query parameter (default 50).
func (s *Server) handleListEmailLog(w http.ResponseWriter, r *http.Request) {
	entries, err := s.notificationSvc.ListEmailLog(r.Context(), queryLimit(r))
	if err != nil {
		s.httpErr(w, err)
		return
	}
	if entries == nil {
		entries = []storage.EmailSendLogEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
