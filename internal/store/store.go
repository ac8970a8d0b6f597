package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pavelanni/hybridexam/internal/model"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection keeps ":memory:" databases coherent and serializes writers.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS teams (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'team',
		active BOOLEAN NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS auth_sessions (
		id TEXT PRIMARY KEY,
		team_id INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL,
		FOREIGN KEY (team_id) REFERENCES teams(id)
	);

	CREATE TABLE IF NOT EXISTS exam_sessions (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		team_id INTEGER NOT NULL,
		revision INTEGER NOT NULL DEFAULT 0,
		state TEXT NOT NULL,
		question TEXT NOT NULL DEFAULT '',
		feedback TEXT NOT NULL DEFAULT '',
		answered INTEGER NOT NULL DEFAULT 0,
		final_answer TEXT NOT NULL DEFAULT '',
		closing_message TEXT NOT NULL DEFAULT '',
		started_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		finished_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS turns (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		exam_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		role TEXT NOT NULL,
		text TEXT NOT NULL,
		UNIQUE (exam_id, seq),
		FOREIGN KEY (exam_id) REFERENCES exam_sessions(id)
	);

	CREATE TABLE IF NOT EXISTS reports (
		exam_id TEXT PRIMARY KEY,
		team_score INTEGER NOT NULL,
		collaboration_level TEXT NOT NULL,
		behavioral_analysis TEXT NOT NULL DEFAULT '',
		improvement_plan TEXT NOT NULL DEFAULT '',
		FOREIGN KEY (exam_id) REFERENCES exam_sessions(id)
	);

	CREATE TABLE IF NOT EXISTS exam_metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	// Columns added after the first release.
	for _, col := range []struct{ name, def string }{
		{"revision", "INTEGER NOT NULL DEFAULT 0"},
		{"final_answer", "TEXT NOT NULL DEFAULT ''"},
		{"closing_message", "TEXT NOT NULL DEFAULT ''"},
	} {
		var n int
		err := s.db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('exam_sessions') WHERE name = ?`, col.name).Scan(&n)
		if err != nil {
			return err
		}
		if n > 0 {
			continue
		}
		if _, err := s.db.Exec(`ALTER TABLE exam_sessions ADD COLUMN ` + col.name + ` ` + col.def); err != nil {
			return fmt.Errorf("add column %s: %w", col.name, err)
		}
	}
	return nil
}

// Record upserts an exam run with its transcript and report. It satisfies exam.Recorder.
// A snapshot whose revision is not newer than the stored one is ignored.
func (s *Store) Record(ctx context.Context, rec model.ExamSessionRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO exam_sessions (id, session_id, team_id, revision, state, question, feedback, answered,
		   final_answer, closing_message, started_at, updated_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET revision = excluded.revision, state = excluded.state,
		   question = excluded.question, feedback = excluded.feedback, answered = excluded.answered,
		   final_answer = excluded.final_answer, closing_message = excluded.closing_message,
		   updated_at = excluded.updated_at, finished_at = excluded.finished_at
		 WHERE excluded.revision > exam_sessions.revision`,
		rec.ID, rec.SessionID, rec.TeamID, rec.Revision, rec.State, rec.Question, rec.Feedback, rec.Answered,
		rec.FinalAnswer, rec.ClosingMessage, rec.StartedAt.UTC(), rec.UpdatedAt.UTC(), utcPtr(rec.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert exam session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Stale snapshot.
		return nil
	}

	// Turns are append-only, so only the tail beyond what is stored is new.
	var stored int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM turns WHERE exam_id = ?`, rec.ID).Scan(&stored); err != nil {
		return err
	}
	for i := stored; i < len(rec.Transcript); i++ {
		t := rec.Transcript[i]
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO turns (exam_id, seq, role, text) VALUES (?, ?, ?, ?)`,
			rec.ID, i, t.Role, t.Text,
		); err != nil {
			return fmt.Errorf("insert turn %d: %w", i, err)
		}
	}

	if rec.Report != nil {
		r := rec.Report
		_, err = tx.ExecContext(ctx,
			`INSERT INTO reports (exam_id, team_score, collaboration_level, behavioral_analysis, improvement_plan)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(exam_id) DO UPDATE SET team_score = excluded.team_score,
			   collaboration_level = excluded.collaboration_level,
			   behavioral_analysis = excluded.behavioral_analysis,
			   improvement_plan = excluded.improvement_plan`,
			rec.ID, r.TeamScore, r.CollaborationLevel, r.BehavioralAnalysis, r.ImprovementPlan,
		)
		if err != nil {
			return fmt.Errorf("upsert report: %w", err)
		}
	}

	return tx.Commit()
}

const sessionColumns = `id, session_id, team_id, revision, state, question, feedback, answered,
	final_answer, closing_message, started_at, updated_at, finished_at`

func scanSession(sc interface{ Scan(...any) error }) (model.ExamSessionRecord, error) {
	var rec model.ExamSessionRecord
	err := sc.Scan(&rec.ID, &rec.SessionID, &rec.TeamID, &rec.Revision, &rec.State, &rec.Question, &rec.Feedback,
		&rec.Answered, &rec.FinalAnswer, &rec.ClosingMessage, &rec.StartedAt, &rec.UpdatedAt, &rec.FinishedAt)
	return rec, err
}

// GetSessionRecord returns an archived run with its transcript and report.
func (s *Store) GetSessionRecord(id string) (model.ExamSessionRecord, error) {
	rec, err := scanSession(s.db.QueryRow(`SELECT `+sessionColumns+` FROM exam_sessions WHERE id = ?`, id))
	if err != nil {
		return rec, err
	}
	if rec.Transcript, err = s.GetTurns(id); err != nil {
		return rec, err
	}
	if rec.Report, err = s.GetReport(id); err != nil {
		return rec, err
	}
	return rec, nil
}

// GetTurns returns a run's transcript in order.
func (s *Store) GetTurns(examID string) ([]model.Turn, error) {
	rows, err := s.db.Query(`SELECT role, text FROM turns WHERE exam_id = ? ORDER BY seq`, examID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	turns := []model.Turn{}
	for rows.Next() {
		var t model.Turn
		if err := rows.Scan(&t.Role, &t.Text); err != nil {
			return nil, err
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// GetReport returns a run's report, or nil if the coach produced none.
func (s *Store) GetReport(examID string) (*model.PerformanceReport, error) {
	var r model.PerformanceReport
	err := s.db.QueryRow(
		`SELECT team_score, collaboration_level, behavioral_analysis, improvement_plan FROM reports WHERE exam_id = ?`, examID,
	).Scan(&r.TeamScore, &r.CollaborationLevel, &r.BehavioralAnalysis, &r.ImprovementPlan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListSessions returns all archived runs, oldest first, without transcripts.
func (s *Store) ListSessions() ([]model.ExamSessionRecord, error) {
	return s.listSessions(`SELECT `+sessionColumns+` FROM exam_sessions ORDER BY started_at, id`)
}

// ListSessionsForTeam returns a team's archived runs, newest first, with reports.
func (s *Store) ListSessionsForTeam(teamID int64) ([]model.ExamSessionRecord, error) {
	recs, err := s.listSessions(`SELECT `+sessionColumns+` FROM exam_sessions WHERE team_id = ? ORDER BY started_at DESC, id`, teamID)
	if err != nil {
		return nil, err
	}
	for i := range recs {
		if recs[i].Report, err = s.GetReport(recs[i].ID); err != nil {
			return nil, err
		}
	}
	return recs, nil
}

func (s *Store) listSessions(query string, args ...any) ([]model.ExamSessionRecord, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var recs []model.ExamSessionRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// SessionCount returns the number of archived runs.
func (s *Store) SessionCount() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM exam_sessions`).Scan(&count)
	return count, err
}

// PruneUnfinished deletes runs that never reached Finished and were last touched before cutoff.
func (s *Store) PruneUnfinished(cutoff time.Time) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stale := `SELECT id FROM exam_sessions WHERE finished_at IS NULL AND updated_at < ?`
	for _, table := range []string{"turns", "reports"} {
		if _, err := tx.Exec(`DELETE FROM `+table+` WHERE exam_id IN (`+stale+`)`, cutoff.UTC()); err != nil {
			return 0, fmt.Errorf("prune %s: %w", table, err)
		}
	}
	res, err := tx.Exec(`DELETE FROM exam_sessions WHERE finished_at IS NULL AND updated_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, tx.Commit()
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
