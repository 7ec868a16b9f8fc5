package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"fablepress/internal/util"
	"fablepress/pkg/domain"
	"fablepress/services/studio/internal/app"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	MaxUploadBytes int64
}

// Server exposes HTTP endpoints for the studio service. Requests arrive
// through the gateway, which authenticates the user and forwards the owner
// id in X-Owner-Id.
type Server struct {
	app            *app.App
	mux            *http.ServeMux
	maxUploadBytes int64
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	maxUploadBytes := cfg.MaxUploadBytes
	if maxUploadBytes <= 0 {
		maxUploadBytes = 10 * 1024 * 1024
	}
	s := &Server{
		app:            cfg.App,
		mux:            http.NewServeMux(),
		maxUploadBytes: maxUploadBytes,
	}
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("studio", s.mux))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.Handle("/projects", s.withOwner(s.handleProjects))
	s.mux.Handle("/projects/", s.withOwner(s.handleProjectByID))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type ownerHandler func(http.ResponseWriter, *http.Request, string)

func (s *Server) withOwner(next ownerHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner := strings.TrimSpace(r.Header.Get("X-Owner-Id"))
		if owner == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, owner)
	})
}

func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request, owner string) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateProject(w, r, owner)
	case http.MethodGet:
		s.handleListProjects(w, r, owner)
	default:
		methodNotAllowed(w)
	}
}

// /projects/{id} or /projects/{id}/{action}
func (s *Server) handleProjectByID(w http.ResponseWriter, r *http.Request, owner string) {
	path := strings.TrimPrefix(r.URL.Path, "/projects/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" {
		notFound(w, "not found")
		return
	}
	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			s.handleGetProject(w, r, owner, id)
		case http.MethodDelete:
			s.handleDeleteProject(w, r, owner, id)
		default:
			methodNotAllowed(w)
		}
		return
	}

	switch parts[1] {
	case "character":
		s.requirePost(w, r, func() { s.handleSaveCharacter(w, r, owner, id) })
	case "story-plan":
		s.requirePost(w, r, func() { s.handleSaveStoryPlan(w, r, owner, id) })
	case "generate":
		s.requirePost(w, r, func() { s.handleStartGeneration(w, r, owner, id) })
	case "retry":
		s.requirePost(w, r, func() { s.handleRetryGeneration(w, r, owner, id) })
	case "regenerate":
		s.requirePost(w, r, func() { s.handleRegenerateUnit(w, r, owner, id) })
	case "progress":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		s.handleProgress(w, r, owner, id)
	default:
		notFound(w, "not found")
	}
}

func (s *Server) requirePost(w http.ResponseWriter, r *http.Request, fn func()) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	fn()
}

type createProjectRequest struct {
	Title string `json:"title"`
	SKU   string `json:"sku"`
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request, owner string) {
	var req createProjectRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	p, err := s.app.CreateProject(r.Context(), owner, req.Title, req.SKU)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request, owner string) {
	projects, err := s.app.ListProjects(r.Context(), owner)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": projects,
		"count": len(projects),
	})
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request, owner, id string) {
	p, err := s.app.GetProject(r.Context(), id, owner)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request, owner, id string) {
	if err := s.app.DeleteProject(r.Context(), id, owner); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleSaveCharacter(w http.ResponseWriter, r *http.Request, owner, id string) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	image, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read image")
		return
	}
	p, err := s.app.SaveCharacter(r.Context(), id, owner, image)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleSaveStoryPlan(w http.ResponseWriter, r *http.Request, owner, id string) {
	var plan app.StoryPlan
	if err := decodeJSON(r, &plan); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	p, err := s.app.SaveStoryPlan(r.Context(), id, owner, plan)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleStartGeneration(w http.ResponseWriter, r *http.Request, owner, id string) {
	p, err := s.app.StartGeneration(r.Context(), id, owner)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, p)
}

func (s *Server) handleRetryGeneration(w http.ResponseWriter, r *http.Request, owner, id string) {
	p, err := s.app.RetryGeneration(r.Context(), id, owner)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, p)
}

type regenerateRequest struct {
	UnitIndex int    `json:"unitIndex"`
	Guidance  string `json:"guidance"`
}

func (s *Server) handleRegenerateUnit(w http.ResponseWriter, r *http.Request, owner, id string) {
	var req regenerateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.app.RegenerateUnit(r.Context(), id, owner, req.UnitIndex, req.Guidance); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request, owner, id string) {
	progress, err := s.app.GetProgress(r.Context(), id, owner)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

func decodeJSON(r *http.Request, dst any) error {
	return json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(dst)
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusNotFound, msg)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      codeForStatus(status),
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}

// writeAppError maps application error kinds onto HTTP statuses.
func writeAppError(w http.ResponseWriter, err error) {
	if errors.Is(err, app.ErrProjectNotFound) || errors.Is(err, app.ErrUnitNotFound) {
		writeError(w, http.StatusNotFound, "project not found")
		return
	}
	switch domain.KindOf(err) {
	case domain.KindValidation:
		writeError(w, http.StatusBadRequest, err.Error())
	case domain.KindConflict:
		writeError(w, http.StatusConflict, err.Error())
	case domain.KindPageBudget:
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case domain.KindTransient:
		writeError(w, http.StatusServiceUnavailable, "temporarily unavailable")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "PROJECT_INVALID_REQUEST"
	case http.StatusUnauthorized:
		return "AUTH_MISSING_OWNER"
	case http.StatusNotFound:
		return "PROJECT_NOT_FOUND"
	case http.StatusConflict:
		return "PROJECT_CONFLICT"
	case http.StatusUnprocessableEntity:
		return "PROJECT_PAGE_BUDGET_EXCEEDED"
	case http.StatusMethodNotAllowed:
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case http.StatusServiceUnavailable:
		return "SYSTEM_UNAVAILABLE"
	default:
		if status >= http.StatusInternalServerError {
			return "SYSTEM_INTERNAL_ERROR"
		}
		return "REQUEST_ERROR"
	}
}
