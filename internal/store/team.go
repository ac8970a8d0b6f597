package store

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/pavelanni/hybridexam/internal/model"
)

const teamColumns = `id, username, display_name, password_hash, role, active, created_at`

// CreateTeam inserts a new team account.
func (s *Store) CreateTeam(t model.Team) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO teams (username, display_name, password_hash, role, active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		t.Username, t.DisplayName, t.PasswordHash, t.Role, t.Active, time.Now().UTC(),
	)
	if err != nil {
		slog.Error("failed to create team", "username", t.Username, "error", err)
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	slog.Info("created team", "id", id, "username", t.Username, "role", t.Role)
	return id, nil
}

// GetTeamByUsername returns a team by username, or nil if none exists.
func (s *Store) GetTeamByUsername(username string) (*model.Team, error) {
	return s.getTeam(`SELECT `+teamColumns+` FROM teams WHERE username = ?`, username)
}

// GetTeamByID returns a team by ID, or nil if none exists.
func (s *Store) GetTeamByID(id int64) (*model.Team, error) {
	return s.getTeam(`SELECT `+teamColumns+` FROM teams WHERE id = ?`, id)
}

func (s *Store) getTeam(query string, arg any) (*model.Team, error) {
	var t model.Team
	err := s.db.QueryRow(query, arg).
		Scan(&t.ID, &t.Username, &t.DisplayName, &t.PasswordHash, &t.Role, &t.Active, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTeams returns all accounts.
func (s *Store) ListTeams() ([]model.Team, error) {
	rows, err := s.db.Query(`SELECT ` + teamColumns + ` FROM teams ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var teams []model.Team
	for rows.Next() {
		var t model.Team
		if err := rows.Scan(&t.ID, &t.Username, &t.DisplayName, &t.PasswordHash, &t.Role, &t.Active, &t.CreatedAt); err != nil {
			return nil, err
		}
		teams = append(teams, t)
	}
	return teams, rows.Err()
}

// ToggleTeamActive flips the active flag on a team.
func (s *Store) ToggleTeamActive(id int64) error {
	_, err := s.db.Exec(`UPDATE teams SET active = NOT active WHERE id = ?`, id)
	return err
}

// TeamCount returns the total number of accounts.
func (s *Store) TeamCount() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM teams`).Scan(&count)
	return count, err
}
