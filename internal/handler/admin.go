package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/hybridexam/internal/handler/views"
	"github.com/pavelanni/hybridexam/internal/model"
)

func (h *Handler) handleAdminTeamsPage(w http.ResponseWriter, r *http.Request) {
	h.renderTeams(w, r, http.StatusOK, "")
}

func (h *Handler) renderTeams(w http.ResponseWriter, r *http.Request, status int, msgID string) {
	teams, err := h.store.ListTeams()
	if err != nil {
		slog.Error("failed to list teams", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := views.AdminTeamsPage(teams, msgID).Render(r.Context(), w); err != nil {
		slog.Error("render error", "error", err)
	}
}

func (h *Handler) handleCreateTeam(w http.ResponseWriter, r *http.Request) {
	username := strings.TrimSpace(r.FormValue("username"))
	displayName := strings.TrimSpace(r.FormValue("display_name"))
	password := r.FormValue("password")
	role := model.TeamRole(r.FormValue("role"))

	if username == "" || password == "" {
		http.Error(w, "username and password required", http.StatusBadRequest)
		return
	}
	switch role {
	case "":
		role = model.TeamRoleTeam
	case model.TeamRoleTeam, model.TeamRoleAdmin:
	default:
		http.Error(w, "invalid role", http.StatusBadRequest)
		return
	}
	if displayName == "" {
		displayName = username
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		slog.Error("failed to hash password", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if _, err := h.store.CreateTeam(model.Team{
		Username:     username,
		DisplayName:  displayName,
		PasswordHash: string(hash),
		Role:         role,
		Active:       true,
	}); err != nil {
		h.renderTeams(w, r, http.StatusConflict, "TeamCreateError")
		return
	}

	http.Redirect(w, r, h.path("/admin/teams"), http.StatusSeeOther)
}

func (h *Handler) handleToggleTeamActive(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "teamID"), 10, 64)
	if err != nil {
		http.Error(w, "invalid team ID", http.StatusBadRequest)
		return
	}
	if self := model.TeamFromContext(r.Context()); self != nil && self.ID == id {
		http.Error(w, "cannot deactivate your own account", http.StatusBadRequest)
		return
	}

	if err := h.store.ToggleTeamActive(id); err != nil {
		slog.Error("failed to toggle team active", "id", id, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	team, err := h.store.GetTeamByID(id)
	if err == nil && team != nil && !team.Active {
		n, err := h.store.DeleteTeamAuthSessions(id)
		if err != nil {
			slog.Warn("failed to log out deactivated team", "id", id, "error", err)
		}
		// Archived runs stay in the store; only the live controllers go.
		live := h.registry.ForTeam(id)
		for _, c := range live {
			h.registry.Remove(c.ID())
		}
		slog.Info("team deactivated", "id", id, "username", team.Username,
			"sessions_closed", n, "exams_dropped", len(live), "exams_live", h.registry.Len())
	}

	http.Redirect(w, r, h.path("/admin/teams"), http.StatusSeeOther)
}
