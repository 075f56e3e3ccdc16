// Package httpapi provides the HTTP API handler for vector.
// It delegates all business logic to the engine.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/vectorhq/vector/engine"
	"github.com/vectorhq/vector/model"
)

// Handler provides the HTTP API for vector.
type Handler struct {
	engine *engine.Engine
	router chi.Router
}

// New creates a new HTTP API handler.
func New(eng *engine.Engine) *Handler {
	h := &Handler{engine: eng}
	h.router = h.buildRouter()
	return h
}

// Router returns the HTTP router.
func (h *Handler) Router() chi.Router {
	return h.router
}

func (h *Handler) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			r.Post("/projects", h.handleCreateProject)
			r.Get("/projects", h.handleListProjects)
			r.Get("/projects/{id}", h.handleGetProject)
			r.Get("/projects/{id}/logs", h.handleGetLogs)
			r.Post("/projects/{id}/plan", h.handleStartPlanning)
			r.Get("/projects/{id}/plan", h.handleGetPlan)
			r.Post("/projects/{id}/execute", h.handleExecute)
			r.Post("/plans/{id}/approve", h.handleApprovePlan)
			r.Get("/repos", h.handleListRepoConfigs)
			r.Get("/feedback", h.handleListFeedback)
		})
		r.Get("/projects/{id}/events", h.handleProjectEvents)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	return r
}

// --- Request/Response types ---

type createProjectRequest struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	TicketType  string `json:"ticket_type,omitempty"`
	RepoID      string `json:"repo_id"`
}

type executeResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// --- Handlers ---

func (h *Handler) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req createProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	if req.RepoID == "" {
		writeError(w, http.StatusBadRequest, "repo_id is required")
		return
	}
	if len([]rune(req.Description)) > 10000 {
		writeError(w, http.StatusBadRequest, "description exceeds 10000 characters")
		return
	}
	ticketType := model.TicketType(req.TicketType)
	if ticketType == "" {
		ticketType = model.TicketBug
	}

	p, err := h.engine.CreateProject(req.Title, req.Description, ticketType, req.RepoID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *Handler) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.engine.Store().ListProjects()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list projects")
		log.Printf("Error listing projects: %v", err)
		return
	}
	if projects == nil {
		projects = []*model.Project{}
	}
	writeJSON(w, http.StatusOK, projects)
}

func (h *Handler) handleGetProject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, err := h.engine.Store().GetProject(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "project not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) handleGetLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	logs, err := h.engine.Store().GetExecutionLogs(id, 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get logs")
		return
	}
	if logs == nil {
		logs = []*model.ExecutionLog{}
	}
	writeJSON(w, http.StatusOK, logs)
}

func (h *Handler) handleStartPlanning(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, err := h.engine.StartPlanning(id)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, p)
}

func (h *Handler) handleGetPlan(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	plan, err := h.engine.Store().GetLatestPlan(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "no plan for project")
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func (h *Handler) handleApprovePlan(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	plan, err := h.engine.ApprovePlan(id)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

// handleExecute kicks off the full workflow in the background and
// returns immediately; progress streams via the events endpoint.
func (h *Handler) handleExecute(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, err := h.engine.Store().GetProject(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "project not found")
		return
	}
	if p.Status.Terminal() {
		writeError(w, http.StatusConflict, "project is in terminal state "+string(p.Status))
		return
	}

	// Detached from the request context: the workflow outlives the response.
	go func() {
		if _, err := h.engine.ExecuteWorkflow(context.Background(), id); err != nil {
			if err == engine.ErrWorkflowInFlight {
				return
			}
			log.Printf("Error executing workflow for project %s: %v", id, err)
		}
	}()

	writeJSON(w, http.StatusAccepted, executeResponse{ID: id, Status: "accepted"})
}

func (h *Handler) handleListRepoConfigs(w http.ResponseWriter, r *http.Request) {
	configs, err := h.engine.Store().ListRepoConfigs()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list repo configs")
		return
	}
	if configs == nil {
		configs = []*model.RepoConfig{}
	}
	writeJSON(w, http.StatusOK, configs)
}

func (h *Handler) handleListFeedback(w http.ResponseWriter, r *http.Request) {
	fbs, err := h.engine.Store().ListFeedback()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list feedback")
		return
	}
	if fbs == nil {
		fbs = []*model.Feedback{}
	}
	writeJSON(w, http.StatusOK, fbs)
}

func (h *Handler) handleProjectEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := h.engine.Store().GetProject(id); err != nil {
		writeError(w, http.StatusNotFound, "project not found")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	logs, err := h.engine.Store().GetExecutionLogs(id, 0)
	if err != nil {
		log.Printf("failed to load logs for project %s: %v", id, err)
		logs = nil
	}
	for _, l := range logs {
		writeSSE(w, l)
	}
	flusher.Flush()

	ch := h.engine.Bus().Subscribe(id)
	defer h.engine.Bus().Unsubscribe(id, ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case entry, ok := <-ch:
			if !ok {
				return
			}
			writeSSE(w, entry)
			flusher.Flush()
		}
	}
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("writeJSON encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeSSE(w http.ResponseWriter, entry *model.ExecutionLog) {
	data, err := json.Marshal(entry)
	if err != nil {
		log.Printf("writeSSE marshal error: %v", err)
		return
	}
	if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", entry.ID, entry.StepName, string(data)); err != nil {
		log.Printf("writeSSE write error: %v", err)
	}
}
