package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/hybridexam/internal/exam"
	"github.com/pavelanni/hybridexam/internal/handler/views"
	"github.com/pavelanni/hybridexam/internal/model"
	"github.com/pavelanni/hybridexam/internal/store"
)

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store    *store.Store
	registry *exam.Registry
	config   model.ExamConfig
}

// New creates a new Handler.
func New(s *store.Store, reg *exam.Registry, cfg model.ExamConfig) (*Handler, error) {
	if s == nil || reg == nil {
		return nil, errors.New("handler: store and registry are required")
	}
	return &Handler{store: s, registry: reg, config: cfg}, nil
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(h.csrfMiddleware)
		r.Get("/login", h.handleLoginPage)
		r.Post("/login", h.handleLogin)
		r.Post("/logout", h.handleLogout)

		r.Group(func(r chi.Router) {
			r.Use(h.requireAuth)
			r.Get("/", h.handleIndex)
			r.Post("/exam", h.handleNewExam)
			r.Get("/exam/{sessionID}", h.handleExamPage)
			r.Get("/exam/{sessionID}/state", h.handleExamState)
			r.Post("/exam/{sessionID}/start", h.handleStart)
			r.Post("/exam/{sessionID}/answer", h.handleAnswer)
			r.Post("/exam/{sessionID}/reset", h.handleReset)

			r.Group(func(r chi.Router) {
				r.Use(requireRole(model.TeamRoleAdmin))
				r.Get("/admin/teams", h.handleAdminTeamsPage)
				r.Post("/admin/teams", h.handleCreateTeam)
				r.Post("/admin/teams/{teamID}/toggle", h.handleToggleTeamActive)
			})
		})
	})
}

// BasePathMiddleware stores the configured base path in the request context for views.
func (h *Handler) BasePathMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := model.ContextWithBasePath(r.Context(), h.config.BasePath)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) path(p string) string {
	return h.config.BasePath + p
}

func (h *Handler) cookiePath() string {
	if h.config.BasePath != "" {
		return h.config.BasePath + "/"
	}
	return "/"
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		slog.Error("health check failed", "error", err)
		http.Error(w, "database unavailable", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok\n"))
}

func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	team := model.TeamFromContext(r.Context())

	var live []model.ExamSessionRecord
	for _, c := range h.registry.ForTeam(team.ID) {
		live = append(live, c.Snapshot())
	}
	history, err := h.store.ListSessionsForTeam(team.ID)
	if err != nil {
		slog.Error("failed to list sessions", "team", team.ID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := views.IndexPage(live, history, h.config).Render(r.Context(), w); err != nil {
		slog.Error("render error", "error", err)
	}
}

// handleNewExam opens a live session for the team, reusing the one it already has.
func (h *Handler) handleNewExam(w http.ResponseWriter, r *http.Request) {
	team := model.TeamFromContext(r.Context())
	if existing := h.registry.ForTeam(team.ID); len(existing) > 0 {
		http.Redirect(w, r, h.path("/exam/"+existing[0].ID()), http.StatusSeeOther)
		return
	}
	c := h.registry.Create(team.ID)
	slog.Info("exam session created", "session", c.ID(), "team", team.ID)
	http.Redirect(w, r, h.path("/exam/"+c.ID()), http.StatusSeeOther)
}

func (h *Handler) handleExamPage(w http.ResponseWriter, r *http.Request) {
	c, ok := h.controllerFor(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := views.ExamPage(c.Snapshot(), h.config).Render(r.Context(), w); err != nil {
		slog.Error("render error", "error", err)
	}
}

// stateResponse is the JSON form of a live session.
type stateResponse struct {
	model.ExamSessionRecord
	InFlight   bool `json:"in_flight"`
	MaxAnswers int  `json:"max_answers"`
}

func (h *Handler) handleExamState(w http.ResponseWriter, r *http.Request) {
	c, ok := h.controllerFor(w, r)
	if !ok {
		return
	}
	h.writeState(w, c)
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	c, ok := h.controllerFor(w, r)
	if !ok {
		return
	}
	// The call outlives a dropped connection; the controller bounds it with its own timeout.
	if err := c.Start(context.WithoutCancel(r.Context())); err != nil {
		h.controlError(w, c, err)
		return
	}
	h.respond(w, r, c)
}

func (h *Handler) handleAnswer(w http.ResponseWriter, r *http.Request) {
	c, ok := h.controllerFor(w, r)
	if !ok {
		return
	}
	if err := c.SubmitAnswer(context.WithoutCancel(r.Context()), r.FormValue("answer")); err != nil {
		h.controlError(w, c, err)
		return
	}
	h.respond(w, r, c)
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	c, ok := h.controllerFor(w, r)
	if !ok {
		return
	}
	if err := c.Reset(); err != nil {
		h.controlError(w, c, err)
		return
	}
	h.respond(w, r, c)
}

// controllerFor resolves the session in the URL. Sessions of other teams are
// reported as not found unless the caller is an admin.
func (h *Handler) controllerFor(w http.ResponseWriter, r *http.Request) (*exam.Controller, bool) {
	c, err := h.registry.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		http.Error(w, "exam session not found", http.StatusNotFound)
		return nil, false
	}
	team := model.TeamFromContext(r.Context())
	if team == nil || (team.Role != model.TeamRoleAdmin && c.TeamID() != team.ID) {
		http.Error(w, "exam session not found", http.StatusNotFound)
		return nil, false
	}
	return c, true
}

func (h *Handler) controlError(w http.ResponseWriter, c *exam.Controller, err error) {
	switch {
	case errors.Is(err, exam.ErrBusy), errors.Is(err, exam.ErrInvalidState):
		slog.Info("exam operation rejected", "session", c.ID(), "error", err)
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, exam.ErrEmptyAnswer):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		slog.Error("exam operation failed", "session", c.ID(), "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// respond answers JSON clients with the new state and redirects browsers back to the exam page.
func (h *Handler) respond(w http.ResponseWriter, r *http.Request, c *exam.Controller) {
	if r.Header.Get("Accept") == "application/json" {
		h.writeState(w, c)
		return
	}
	http.Redirect(w, r, h.path("/exam/"+c.ID()), http.StatusSeeOther)
}

func (h *Handler) writeState(w http.ResponseWriter, c *exam.Controller) {
	snap := c.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(stateResponse{
		ExamSessionRecord: snap,
		InFlight:          snap.State.InFlight(),
		MaxAnswers:        h.config.MaxAnswers,
	}); err != nil {
		slog.Error("encode state", "session", c.ID(), "error", err)
	}
}
