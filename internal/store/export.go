package store

import (
	"fmt"

	"github.com/pavelanni/hybridexam/internal/model"
)

// ExportAllSessions builds export-ready team results from all archived runs.
func (s *Store) ExportAllSessions() ([]model.TeamResult, error) {
	sessions, err := s.ListSessions()
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	// Track run count per team for session_number.
	teamRunCount := make(map[int64]int)
	teams := make(map[int64]*model.Team)

	results := []model.TeamResult{}
	for _, sess := range sessions {
		teamRunCount[sess.TeamID]++

		rec, err := s.GetSessionRecord(sess.ID)
		if err != nil {
			return nil, fmt.Errorf("get session %s: %w", sess.ID, err)
		}

		team, ok := teams[sess.TeamID]
		if !ok {
			team, err = s.GetTeamByID(sess.TeamID)
			if err != nil {
				return nil, fmt.Errorf("get team %d: %w", sess.TeamID, err)
			}
			teams[sess.TeamID] = team
		}

		var username, displayName string
		if team != nil {
			username = team.Username
			displayName = team.DisplayName
		}

		results = append(results, model.TeamResult{
			Username:       username,
			DisplayName:    displayName,
			SessionID:      rec.ID,
			SessionNumber:  teamRunCount[sess.TeamID],
			State:          rec.State,
			StartedAt:      rec.StartedAt,
			FinishedAt:     rec.FinishedAt,
			Answered:       rec.Answered,
			Conversation:   rec.Transcript,
			FinalAnswer:    rec.FinalAnswer,
			ClosingMessage: rec.ClosingMessage,
			Report:         rec.Report,
			Feedback:       rec.Feedback,
		})
	}

	return results, nil
}
