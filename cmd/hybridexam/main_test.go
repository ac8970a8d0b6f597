package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/hybridexam/internal/model"
	"github.com/pavelanni/hybridexam/internal/store"
)

func TestSeedAdmin(t *testing.T) {
	db, err := store.New(":memory:")
	require.NoError(t, err)
	defer db.Close()

	assert.Error(t, seedAdmin(db, ""), "empty password must be rejected on a fresh database")

	require.NoError(t, seedAdmin(db, "hunter2"))
	admin, err := db.GetTeamByUsername("admin")
	require.NoError(t, err)
	require.NotNil(t, admin)
	assert.Equal(t, model.TeamRoleAdmin, admin.Role)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte("hunter2")))

	// Existing accounts make seeding a no-op.
	require.NoError(t, seedAdmin(db, ""))
	count, err := db.TeamCount()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestExportCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exam.db")
	db, err := store.New(path)
	require.NoError(t, err)

	teamID, err := db.CreateTeam(model.Team{Username: "alpha", DisplayName: "Alpha", PasswordHash: "x", Role: model.TeamRoleTeam, Active: true})
	require.NoError(t, err)
	require.NoError(t, db.SetExamInfo(model.ExamInfo{ExamID: "react-1", Subject: "React JS", Date: "2026-10-17", PromptVariant: "standard", MaxAnswers: 5}))
	now := time.Now()
	require.NoError(t, db.Record(context.Background(), model.ExamSessionRecord{
		ID: "run-1", SessionID: "live-1", TeamID: teamID, State: model.StateFinished,
		Answered: 1, StartedAt: now, UpdatedAt: now, FinishedAt: &now,
		Transcript: []model.Turn{{Role: model.RoleTeam, Text: "a"}, {Role: model.RoleExaminer, Text: "b"}},
		Report:     &model.PerformanceReport{TeamScore: 70, CollaborationLevel: model.CollaborationLow, BehavioralAnalysis: "x", ImprovementPlan: "y"},
	}))
	require.NoError(t, db.Close())

	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"export", "--db", path, "--subject", "React 19"})
	require.NoError(t, cmd.Execute())

	var export model.ExamExport
	require.NoError(t, json.Unmarshal(out.Bytes(), &export))
	assert.Equal(t, "react-1", export.ExamID)
	assert.Equal(t, "React 19", export.Subject)
	assert.Equal(t, 5, export.MaxAnswers)
	require.Len(t, export.Results, 1)
	assert.Equal(t, "alpha", export.Results[0].Username)
	assert.Len(t, export.Results[0].Conversation, 2)
	require.NotNil(t, export.Results[0].Report)
	assert.Equal(t, 70, export.Results[0].Report.TeamScore)
}

func TestFirstNonEmpty(t *testing.T) {
	assert.Equal(t, "b", firstNonEmpty("", "b", "c"))
	assert.Equal(t, "", firstNonEmpty("", ""))
}
