package model

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// TeamRole represents an account's access level (distinct from Role which is transcript roles).
type TeamRole string

const (
	// TeamRoleTeam is a team account that takes exams.
	TeamRoleTeam TeamRole = "team"
	// TeamRoleAdmin is an admin account that manages teams.
	TeamRoleAdmin TeamRole = "admin"
)

// Team represents a login account. A team sits one exam session at a time.
type Team struct {
	ID           int64
	Username     string
	DisplayName  string
	PasswordHash string
	Role         TeamRole
	Active       bool
	CreatedAt    time.Time
}

// AuthSession represents an authentication session.
type AuthSession struct {
	ID        string
	TeamID    int64
	CreatedAt time.Time
	ExpiresAt time.Time
}

type teamCtxKey struct{}

// ContextWithTeam stores a team in the request context.
func ContextWithTeam(ctx context.Context, t *Team) context.Context {
	return context.WithValue(ctx, teamCtxKey{}, t)
}

// TeamFromContext retrieves the authenticated team from context, or nil.
func TeamFromContext(ctx context.Context) *Team {
	t, _ := ctx.Value(teamCtxKey{}).(*Team)
	return t
}

type basePathCtxKey struct{}

// ContextWithBasePath stores the base path prefix in context.
func ContextWithBasePath(ctx context.Context, basePath string) context.Context {
	return context.WithValue(ctx, basePathCtxKey{}, basePath)
}

// BasePathFromContext retrieves the base path from context (empty string if not set).
func BasePathFromContext(ctx context.Context) string {
	bp, _ := ctx.Value(basePathCtxKey{}).(string)
	return bp
}

type csrfCtxKey struct{}

// ContextWithCSRFToken stores the CSRF token in context.
func ContextWithCSRFToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, csrfCtxKey{}, token)
}

// CSRFTokenFromContext retrieves the CSRF token from context.
func CSRFTokenFromContext(ctx context.Context) string {
	t, _ := ctx.Value(csrfCtxKey{}).(string)
	return t
}

// Role identifies who produced a transcript turn.
type Role string

const (
	RoleTeam     Role = "team"
	RoleExaminer Role = "examiner"
)

// Turn is one recorded exchange in a transcript. Turns are never modified after append.
type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// ExamState is the controller's state.
type ExamState string

const (
	StateIdle      ExamState = "idle"
	StateThinking  ExamState = "thinking"
	StateActive    ExamState = "active"
	StateAnalyzing ExamState = "analyzing"
	StateFinished  ExamState = "finished"
)

// InFlight reports whether a remote call is outstanding in this state.
func (s ExamState) InFlight() bool {
	return s == StateThinking || s == StateAnalyzing
}

// ExaminerDecision is the per-round result of the examiner call.
type ExaminerDecision struct {
	Message      string `json:"botMessage"`
	NextQuestion string `json:"nextQuestion"`
	ExamOver     bool   `json:"isExamOver"`
}

// CollaborationLevel rates how well a team worked together.
type CollaborationLevel string

const (
	CollaborationLow    CollaborationLevel = "Low"
	CollaborationMedium CollaborationLevel = "Medium"
	CollaborationHigh   CollaborationLevel = "High"
)

// ParseCollaborationLevel accepts any casing of Low, Medium or High.
func ParseCollaborationLevel(s string) (CollaborationLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return CollaborationLow, nil
	case "medium":
		return CollaborationMedium, nil
	case "high":
		return CollaborationHigh, nil
	}
	return "", fmt.Errorf("unknown collaboration level %q", s)
}

// PerformanceReport is the coach's end-of-session analysis.
type PerformanceReport struct {
	TeamScore          int                `json:"teamScore"`
	CollaborationLevel CollaborationLevel `json:"collaborationLevel"`
	BehavioralAnalysis string             `json:"behavioralAnalysis"`
	ImprovementPlan    string             `json:"improvementPlan"`
}

// ExamConfig holds runtime exam parameters set via CLI flags.
type ExamConfig struct {
	Subject       string        // topic the examiner asks about
	MaxAnswers    int           // hard cap on team answers per session
	CallTimeout   time.Duration // bound on each examiner/coach call
	BasePath      string        // URL prefix for sub-path deployments (e.g. "/ru")
	SecureCookies bool          // Set Secure flag on cookies (disable for local dev)
	PromptVariant string        // Examiner prompt variant (strict, standard, lenient)
}

// ExamSessionRecord is the archived form of one exam run. ID identifies the run;
// SessionID identifies the live controller, which starts a new run after every reset.
//
// Revision increases with every state change of a run. FinalAnswer and
// ClosingMessage hold the round that ended the exam, which is not part of
// the transcript.
type ExamSessionRecord struct {
	ID             string             `json:"id"`
	SessionID      string             `json:"session_id"`
	TeamID         int64              `json:"team_id"`
	Revision       int64              `json:"revision"`
	State          ExamState          `json:"state"`
	Question       string             `json:"question"`
	Feedback       string             `json:"feedback"`
	Answered       int                `json:"answered"`
	FinalAnswer    string             `json:"final_answer,omitempty"`
	ClosingMessage string             `json:"closing_message,omitempty"`
	StartedAt      time.Time          `json:"started_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
	FinishedAt     *time.Time         `json:"finished_at,omitempty"`
	Transcript     []Turn             `json:"transcript"`
	Report         *PerformanceReport `json:"report,omitempty"`
}
