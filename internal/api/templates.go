package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/studiodesk/notifier/internal/service"
	"github.com/studiodesk/notifier/internal/storage"
)

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	tpls, err := s.templateSvc.ListTemplates(r.Context())
	if err != nil {
		s.httpErr(w, err)
		return
	}
	if tpls == nil {
		tpls = []*storage.Template{}
	}
	writeJSON(w, http.StatusOK, tpls)
}

func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	tpl, err := s.templateSvc.GetTemplate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.httpErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tpl)
}

func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var tpl storage.Template
	if err := json.NewDecoder(r.Body).Decode(&tpl); err != nil {
		writeError(w, http.StatusBadRequest, errInvalidJSONBody)
		return
	}

	created, err := s.templateSvc.CreateTemplate(r.Context(), &tpl)
	if err != nil {
		s.httpErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleUpdateTemplate(w http.ResponseWriter, r *http.Request) {
	var tpl storage.Template
	if err := json.NewDecoder(r.Body).Decode(&tpl); err != nil {
		writeError(w, http.StatusBadRequest, errInvalidJSONBody)
		return
	}

	updated, err := s.templateSvc.UpdateTemplate(r.Context(), chi.URLParam(r, "id"), &tpl)
	if err != nil {
		s.httpErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handlePreviewTemplate(w http.ResponseWriter, r *http.Request) {
	var req service.PreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errInvalidJSONBody)
		return
	}

	content, err := s.templateSvc.PreviewTemplate(r.Context(), req)
	if err != nil {
		s.httpErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, content)
}

func (s *Server) handleTemplateVariables(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errInvalidJSONBody)
		return
	}

	vars, err := s.templateSvc.ExtractVariables(r.Context(), req.Text)
	if err != nil {
		s.httpErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"variables": vars})
}

// handleClearTemplateCache drops compiled templates. ?id= limits it to one
// template.
func (s *Server) handleClearTemplateCache(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	s.templateSvc.ClearCache(r.Context(), id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "id": id})
}
