package store

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"time"

	"github.com/pavelanni/hybridexam/internal/model"
)

// authSessionTTL covers a teaching day; teams log in again the next day.
const authSessionTTL = 12 * time.Hour

// CreateAuthSession creates a new auth session token for a team.
func (s *Store) CreateAuthSession(teamID int64) (string, error) {
	token, err := generateToken()
	if err != nil {
		return "", err
	}
	now := time.Now().UTC()
	_, err = s.db.Exec(
		`INSERT INTO auth_sessions (id, team_id, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		token, teamID, now, now.Add(authSessionTTL),
	)
	if err != nil {
		return "", err
	}
	return token, nil
}

// GetAuthSession returns the auth session for the given token, or nil if not found/expired.
func (s *Store) GetAuthSession(token string) (*model.AuthSession, error) {
	var sess model.AuthSession
	err := s.db.QueryRow(
		`SELECT id, team_id, created_at, expires_at FROM auth_sessions WHERE id = ?`, token,
	).Scan(&sess.ID, &sess.TeamID, &sess.CreatedAt, &sess.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if time.Now().After(sess.ExpiresAt) {
		_ = s.DeleteAuthSession(token)
		return nil, nil
	}
	return &sess, nil
}

// DeleteAuthSession removes a session token.
func (s *Store) DeleteAuthSession(token string) error {
	_, err := s.db.Exec(`DELETE FROM auth_sessions WHERE id = ?`, token)
	return err
}

// DeleteTeamAuthSessions logs a team out everywhere.
func (s *Store) DeleteTeamAuthSessions(teamID int64) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM auth_sessions WHERE team_id = ?`, teamID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CleanupExpiredSessions removes all expired auth sessions and reports how many went.
func (s *Store) CleanupExpiredSessions() (int64, error) {
	res, err := s.db.Exec(`DELETE FROM auth_sessions WHERE expires_at < ?`, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
