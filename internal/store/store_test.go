package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/pavelanni/hybridexam/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("newTestStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func insertTestTeam(t *testing.T, s *Store, username string) int64 {
	t.Helper()
	id, err := s.CreateTeam(model.Team{
		Username:     username,
		DisplayName:  "Team " + username,
		PasswordHash: "hash",
		Role:         model.TeamRoleTeam,
		Active:       true,
	})
	if err != nil {
		t.Fatalf("insertTestTeam: %v", err)
	}
	return id
}

func testRecord(id string, teamID int64, state model.ExamState, turns ...model.Turn) model.ExamSessionRecord {
	now := time.Now()
	return model.ExamSessionRecord{
		ID:         id,
		SessionID:  "live-" + id,
		TeamID:     teamID,
		Revision:   1,
		State:      state,
		Question:   "Explain hooks",
		Feedback:   "Welcome",
		Answered:   len(turns) / 2,
		StartedAt:  now,
		UpdatedAt:  now,
		Transcript: turns,
	}
}

func TestTeamCRUD(t *testing.T) {
	s := newTestStore(t)

	count, err := s.TeamCount()
	if err != nil {
		t.Fatalf("TeamCount: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 teams, got %d", count)
	}

	id := insertTestTeam(t, s, "alpha")
	team, err := s.GetTeamByID(id)
	if err != nil {
		t.Fatalf("GetTeamByID: %v", err)
	}
	if team == nil || team.Username != "alpha" {
		t.Fatalf("expected team alpha, got %+v", team)
	}
	if !team.Active {
		t.Error("expected team to be active")
	}

	byName, err := s.GetTeamByUsername("alpha")
	if err != nil {
		t.Fatalf("GetTeamByUsername: %v", err)
	}
	if byName == nil || byName.ID != id {
		t.Errorf("expected team %d by username, got %+v", id, byName)
	}

	missing, err := s.GetTeamByUsername("nobody")
	if err != nil {
		t.Fatalf("GetTeamByUsername missing: %v", err)
	}
	if missing != nil {
		t.Error("expected nil for missing team")
	}

	if _, err := s.CreateTeam(model.Team{Username: "alpha", DisplayName: "dup", PasswordHash: "x", Role: model.TeamRoleTeam}); err == nil {
		t.Error("expected duplicate username to fail")
	}

	if err := s.ToggleTeamActive(id); err != nil {
		t.Fatalf("ToggleTeamActive: %v", err)
	}
	team, _ = s.GetTeamByID(id)
	if team.Active {
		t.Error("expected team to be inactive after toggle")
	}

	insertTestTeam(t, s, "beta")
	teams, err := s.ListTeams()
	if err != nil {
		t.Fatalf("ListTeams: %v", err)
	}
	if len(teams) != 2 {
		t.Errorf("expected 2 teams, got %d", len(teams))
	}
}

func TestAuthSessions(t *testing.T) {
	s := newTestStore(t)
	teamID := insertTestTeam(t, s, "alpha")

	token, err := s.CreateAuthSession(teamID)
	if err != nil {
		t.Fatalf("CreateAuthSession: %v", err)
	}
	if len(token) != 64 {
		t.Errorf("expected 64-char token, got %d", len(token))
	}

	sess, err := s.GetAuthSession(token)
	if err != nil {
		t.Fatalf("GetAuthSession: %v", err)
	}
	if sess == nil || sess.TeamID != teamID {
		t.Fatalf("expected session for team %d, got %+v", teamID, sess)
	}

	if err := s.DeleteAuthSession(token); err != nil {
		t.Fatalf("DeleteAuthSession: %v", err)
	}
	sess, err = s.GetAuthSession(token)
	if err != nil {
		t.Fatalf("GetAuthSession after delete: %v", err)
	}
	if sess != nil {
		t.Error("expected nil session after delete")
	}

	if _, err := s.CleanupExpiredSessions(); err != nil {
		t.Fatalf("CleanupExpiredSessions: %v", err)
	}

	t1, _ := s.CreateAuthSession(teamID)
	t2, _ := s.CreateAuthSession(teamID)
	n, err := s.DeleteTeamAuthSessions(teamID)
	if err != nil {
		t.Fatalf("DeleteTeamAuthSessions: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 sessions closed, got %d", n)
	}
	for _, tok := range []string{t1, t2} {
		if sess, _ := s.GetAuthSession(tok); sess != nil {
			t.Errorf("session %s should be gone", tok)
		}
	}
}

func TestRecordAppendsTurns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	teamID := insertTestTeam(t, s, "alpha")

	turns := []model.Turn{
		{Role: model.RoleTeam, Text: "useState stores state"},
		{Role: model.RoleExaminer, Text: "Correct"},
	}
	if err := s.Record(ctx, testRecord("run-1", teamID, model.StateActive, turns...)); err != nil {
		t.Fatalf("Record: %v", err)
	}

	turns = append(turns,
		model.Turn{Role: model.RoleTeam, Text: "useEffect runs after render"},
		model.Turn{Role: model.RoleExaminer, Text: "Pass"},
	)
	next := testRecord("run-1", teamID, model.StateActive, turns...)
	next.Revision = 2
	if err := s.Record(ctx, next); err != nil {
		t.Fatalf("Record again: %v", err)
	}

	rec, err := s.GetSessionRecord("run-1")
	if err != nil {
		t.Fatalf("GetSessionRecord: %v", err)
	}
	if len(rec.Transcript) != 4 {
		t.Fatalf("expected 4 turns, got %d", len(rec.Transcript))
	}
	for i, turn := range turns {
		if rec.Transcript[i] != turn {
			t.Errorf("turn %d = %+v, want %+v", i, rec.Transcript[i], turn)
		}
	}
	if rec.Answered != 2 {
		t.Errorf("expected answered 2, got %d", rec.Answered)
	}
	if rec.SessionID != "live-run-1" {
		t.Errorf("expected session id live-run-1, got %q", rec.SessionID)
	}
	if rec.Report != nil {
		t.Error("expected no report yet")
	}

	count, err := s.SessionCount()
	if err != nil {
		t.Fatalf("SessionCount: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 archived run, got %d", count)
	}
}

func TestRecordFinishedWithReport(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	teamID := insertTestTeam(t, s, "alpha")

	rec := testRecord("run-1", teamID, model.StateFinished)
	finished := time.Now()
	rec.FinishedAt = &finished
	rec.Report = &model.PerformanceReport{
		TeamScore:          71,
		CollaborationLevel: model.CollaborationMedium,
		BehavioralAnalysis: "Mostly one speaker.",
		ImprovementPlan:    "Rotate who answers.",
	}
	if err := s.Record(ctx, rec); err != nil {
		t.Fatalf("Record: %v", err)
	}

	got, err := s.GetSessionRecord("run-1")
	if err != nil {
		t.Fatalf("GetSessionRecord: %v", err)
	}
	if got.State != model.StateFinished {
		t.Errorf("expected finished, got %q", got.State)
	}
	if got.FinishedAt == nil {
		t.Error("expected finished_at to be set")
	}
	if got.Report == nil || *got.Report != *rec.Report {
		t.Errorf("expected report %+v, got %+v", rec.Report, got.Report)
	}

	list, err := s.ListSessionsForTeam(teamID)
	if err != nil {
		t.Fatalf("ListSessionsForTeam: %v", err)
	}
	if len(list) != 1 || list[0].Report == nil {
		t.Fatalf("expected one run with report, got %+v", list)
	}

	_, err = s.GetSessionRecord("missing")
	if err != sql.ErrNoRows {
		t.Errorf("expected ErrNoRows, got %v", err)
	}
}

func TestRecordIgnoresStaleSnapshot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	teamID := insertTestTeam(t, s, "alpha")

	turns := []model.Turn{
		{Role: model.RoleTeam, Text: "first answer"},
		{Role: model.RoleExaminer, Text: "ok"},
	}
	finished := testRecord("run-1", teamID, model.StateFinished, turns...)
	finished.Revision = 5
	finished.Answered = 2
	finished.Question = ""
	finished.FinalAnswer = "FINAL ANSWER"
	finished.ClosingMessage = "That's all, thanks."
	done := time.Now()
	finished.FinishedAt = &done
	finished.Report = &model.PerformanceReport{TeamScore: 64, CollaborationLevel: model.CollaborationLow}
	if err := s.Record(ctx, finished); err != nil {
		t.Fatalf("Record finished: %v", err)
	}

	// The Active snapshot taken after the first answer lands late.
	late := testRecord("run-1", teamID, model.StateActive, turns...)
	late.Revision = 3
	late.UpdatedAt = done.Add(time.Second)
	if err := s.Record(ctx, late); err != nil {
		t.Fatalf("Record late: %v", err)
	}

	got, err := s.GetSessionRecord("run-1")
	if err != nil {
		t.Fatalf("GetSessionRecord: %v", err)
	}
	if got.State != model.StateFinished || got.FinishedAt == nil {
		t.Fatalf("expected run to stay finished, got state=%q finished_at=%v", got.State, got.FinishedAt)
	}
	if got.Revision != 5 || got.Answered != 2 {
		t.Errorf("expected revision 5 with 2 answers, got %d and %d", got.Revision, got.Answered)
	}
	if got.FinalAnswer != "FINAL ANSWER" || got.ClosingMessage != "That's all, thanks." {
		t.Errorf("expected final round to be kept, got %q / %q", got.FinalAnswer, got.ClosingMessage)
	}
	if len(got.Transcript) != 2 {
		t.Errorf("expected 2 turns, got %d", len(got.Transcript))
	}
	if got.Report == nil {
		t.Error("expected report to be kept")
	}

	// A replay of the same revision is also ignored.
	replay := finished
	replay.Feedback = "changed"
	if err := s.Record(ctx, replay); err != nil {
		t.Fatalf("Record replay: %v", err)
	}
	if got, _ := s.GetSessionRecord("run-1"); got.Feedback != finished.Feedback {
		t.Errorf("expected feedback %q, got %q", finished.Feedback, got.Feedback)
	}
}

func TestPruneUnfinished(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	stale := testRecord("stale", 1, model.StateActive, model.Turn{Role: model.RoleTeam, Text: "a"}, model.Turn{Role: model.RoleExaminer, Text: "b"})
	stale.UpdatedAt = time.Now().Add(-48 * time.Hour)
	// Reports reference the run, so they must go with it.
	stale.Report = &model.PerformanceReport{TeamScore: 10, CollaborationLevel: model.CollaborationLow}
	done := testRecord("done", 1, model.StateFinished)
	done.UpdatedAt = stale.UpdatedAt
	done.FinishedAt = &done.UpdatedAt
	fresh := testRecord("fresh", 1, model.StateActive)

	for _, r := range []model.ExamSessionRecord{stale, done, fresh} {
		if err := s.Record(ctx, r); err != nil {
			t.Fatalf("Record %s: %v", r.ID, err)
		}
	}

	n, err := s.PruneUnfinished(time.Now().Add(-24 * time.Hour))
	if err != nil {
		t.Fatalf("PruneUnfinished: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 pruned run, got %d", n)
	}
	if _, err := s.GetSessionRecord("stale"); err != sql.ErrNoRows {
		t.Errorf("expected stale run to be gone, got %v", err)
	}
	turns, _ := s.GetTurns("stale")
	if len(turns) != 0 {
		t.Errorf("expected stale turns to be gone, got %d", len(turns))
	}
	if r, err := s.GetReport("stale"); err != nil || r != nil {
		t.Errorf("expected stale report to be gone, got %+v, %v", r, err)
	}
	count, _ := s.SessionCount()
	if count != 2 {
		t.Errorf("expected 2 remaining runs, got %d", count)
	}
}

func TestExamInfoMetadata(t *testing.T) {
	s := newTestStore(t)

	v, err := s.GetMetadata("subject")
	if err != nil {
		t.Fatalf("GetMetadata: %v", err)
	}
	if v != "" {
		t.Errorf("expected empty metadata, got %q", v)
	}

	want := model.ExamInfo{ExamID: "react-1", Subject: "React JS", Date: "2026-10-17", PromptVariant: "standard", MaxAnswers: 5}
	if err := s.SetExamInfo(want); err != nil {
		t.Fatalf("SetExamInfo: %v", err)
	}
	// Empty fields do not clobber stored values.
	if err := s.SetExamInfo(model.ExamInfo{Subject: "Go"}); err != nil {
		t.Fatalf("SetExamInfo partial: %v", err)
	}

	got, err := s.GetExamInfo()
	if err != nil {
		t.Fatalf("GetExamInfo: %v", err)
	}
	want.Subject = "Go"
	if got != want {
		t.Errorf("GetExamInfo = %+v, want %+v", got, want)
	}
}

func TestExportAllSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alpha := insertTestTeam(t, s, "alpha")
	beta := insertTestTeam(t, s, "beta")

	r1 := testRecord("r1", alpha, model.StateFinished, model.Turn{Role: model.RoleTeam, Text: "a"}, model.Turn{Role: model.RoleExaminer, Text: "b"})
	r1.StartedAt = time.Now().Add(-2 * time.Hour)
	r1.Answered = 2
	r1.FinalAnswer = "Effects run after paint."
	r1.ClosingMessage = "Thank you, that concludes the exam."
	r2 := testRecord("r2", beta, model.StateActive)
	r2.StartedAt = time.Now().Add(-time.Hour)
	r3 := testRecord("r3", alpha, model.StateActive)

	for _, r := range []model.ExamSessionRecord{r1, r2, r3} {
		if err := s.Record(ctx, r); err != nil {
			t.Fatalf("Record %s: %v", r.ID, err)
		}
	}

	results, err := s.ExportAllSessions()
	if err != nil {
		t.Fatalf("ExportAllSessions: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].SessionID != "r1" || results[0].Username != "alpha" || results[0].SessionNumber != 1 {
		t.Errorf("unexpected first result: %+v", results[0])
	}
	if len(results[0].Conversation) != 2 {
		t.Errorf("expected 2 turns in first result, got %d", len(results[0].Conversation))
	}
	if results[0].FinalAnswer != r1.FinalAnswer || results[0].ClosingMessage != r1.ClosingMessage {
		t.Errorf("expected final round in export, got %q / %q", results[0].FinalAnswer, results[0].ClosingMessage)
	}
	if results[1].FinalAnswer != "" {
		t.Errorf("expected no final answer for an active run, got %q", results[1].FinalAnswer)
	}
	if results[2].SessionID != "r3" || results[2].SessionNumber != 2 {
		t.Errorf("expected alpha's second run last, got %+v", results[2])
	}
	if results[1].DisplayName != "Team beta" {
		t.Errorf("expected beta display name, got %q", results[1].DisplayName)
	}
}

func TestMigrateAddsColumns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_, err = db.Exec(`CREATE TABLE exam_sessions (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		team_id INTEGER NOT NULL,
		state TEXT NOT NULL,
		question TEXT NOT NULL DEFAULT '',
		feedback TEXT NOT NULL DEFAULT '',
		answered INTEGER NOT NULL DEFAULT 0,
		started_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		finished_at DATETIME
	)`)
	if err != nil {
		t.Fatalf("create old schema: %v", err)
	}
	db.Close()

	s, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	rec := testRecord("run-1", 1, model.StateAnalyzing)
	rec.FinalAnswer = "done"
	if err := s.Record(context.Background(), rec); err != nil {
		t.Fatalf("Record: %v", err)
	}
	got, err := s.GetSessionRecord("run-1")
	if err != nil {
		t.Fatalf("GetSessionRecord: %v", err)
	}
	if got.FinalAnswer != "done" || got.Revision != 1 {
		t.Errorf("unexpected record after migration: %+v", got)
	}
}
