package views

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/pavelanni/hybridexam/internal/model"
)

func render(t *testing.T, ctx context.Context, c interface {
	Render(context.Context, io.Writer) error
}) string {
	t.Helper()
	var buf bytes.Buffer
	if err := c.Render(ctx, &buf); err != nil {
		t.Fatalf("Render: %v", err)
	}
	return buf.String()
}

func TestExamPageActive(t *testing.T) {
	ctx := model.ContextWithBasePath(context.Background(), "/ru")
	ctx = model.ContextWithCSRFToken(ctx, "tok123")

	snap := model.ExamSessionRecord{
		SessionID: "abc",
		State:     model.StateActive,
		Question:  "What does <App/> render?",
		Feedback:  "Good start",
		Answered:  1,
		Transcript: []model.Turn{
			{Role: model.RoleTeam, Text: "<script>alert(1)</script>"},
			{Role: model.RoleExaminer, Text: "Pass"},
		},
	}
	html := render(t, ctx, ExamPage(snap, model.ExamConfig{Subject: "React JS", MaxAnswers: 5}))

	if strings.Contains(html, "<script>alert") {
		t.Error("team text must be escaped")
	}
	if !strings.Contains(html, "What does &lt;App/&gt; render?") {
		t.Error("question should be rendered escaped")
	}
	if !strings.Contains(html, `action="/ru/exam/abc/answer"`) {
		t.Error("answer form should post under the base path")
	}
	if !strings.Contains(html, `value="tok123"`) {
		t.Error("forms should carry the CSRF token")
	}
	if strings.Contains(html, `http-equiv="refresh"`) {
		t.Error("resting states must not auto-refresh")
	}
}

func TestExamPageInFlightRefreshes(t *testing.T) {
	html := render(t, context.Background(), ExamPage(model.ExamSessionRecord{SessionID: "abc", State: model.StateAnalyzing}, model.ExamConfig{}))
	if !strings.Contains(html, `http-equiv="refresh"`) {
		t.Error("in-flight states should auto-refresh")
	}
	if strings.Contains(html, `name="answer"`) {
		t.Error("no answer form while analyzing")
	}
}

func TestExamPageFinishedShowsReport(t *testing.T) {
	snap := model.ExamSessionRecord{
		SessionID: "abc",
		State:     model.StateFinished,
		Report: &model.PerformanceReport{
			TeamScore: 88, CollaborationLevel: model.CollaborationHigh,
			BehavioralAnalysis: "Balanced", ImprovementPlan: "More examples",
		},
	}
	html := render(t, context.Background(), ExamPage(snap, model.ExamConfig{}))
	for _, want := range []string{"88 / 100", "High", "Balanced", "More examples", "/exam/abc/reset"} {
		if !strings.Contains(html, want) {
			t.Errorf("finished page missing %q", want)
		}
	}
}

func TestLoginPageShowsError(t *testing.T) {
	html := render(t, context.Background(), LoginPage("Bad <creds>"))
	if !strings.Contains(html, "Bad &lt;creds&gt;") {
		t.Error("login error should be escaped and shown")
	}
}

func TestExamPageFinishedShowsFinalAnswer(t *testing.T) {
	snap := model.ExamSessionRecord{
		SessionID:      "abc",
		State:          model.StateFinished,
		FinalAnswer:    "Hooks <b>run</b> in order",
		ClosingMessage: "Well done",
		Feedback:       "Well done",
	}
	html := render(t, context.Background(), ExamPage(snap, model.ExamConfig{}))
	if !strings.Contains(html, `<div class="turn team">`) || !strings.Contains(html, "Hooks &lt;b&gt;run&lt;/b&gt; in order") {
		t.Error("finished page should show the closing answer as a team turn")
	}
	if !strings.Contains(html, `<div class="feedback">Well done</div>`) {
		t.Error("closing message should be shown as feedback")
	}
}

func TestAdminTeamsPageTogglePaths(t *testing.T) {
	ctx := model.ContextWithBasePath(context.Background(), "/en")
	teams := []model.Team{
		{ID: 7, Username: "alpha", DisplayName: "Alpha", Role: model.TeamRoleTeam, Active: true},
		{ID: 8, Username: "beta", DisplayName: "Beta", Role: model.TeamRoleTeam},
	}
	html := render(t, ctx, AdminTeamsPage(teams, ""))
	for _, want := range []string{`action="/en/admin/teams/7/toggle"`, `action="/en/admin/teams/8/toggle"`, "<td>✓</td>", "<td>✗</td>"} {
		if !strings.Contains(html, want) {
			t.Errorf("admin page missing %q", want)
		}
	}
}
