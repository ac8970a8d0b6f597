package store

import (
	"database/sql"
	"strconv"

	"github.com/pavelanni/hybridexam/internal/model"
)

// SetMetadata upserts a key-value pair in the exam_metadata table.
func (s *Store) SetMetadata(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO exam_metadata (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	return err
}

// GetMetadata returns the value for a metadata key, or "" if the key is missing.
func (s *Store) GetMetadata(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM exam_metadata WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// SetExamInfo stores the non-empty ExamInfo fields as metadata rows.
func (s *Store) SetExamInfo(info model.ExamInfo) error {
	pairs := []struct{ k, v string }{
		{"exam_id", info.ExamID},
		{"subject", info.Subject},
		{"date", info.Date},
		{"prompt_variant", info.PromptVariant},
	}
	if info.MaxAnswers > 0 {
		pairs = append(pairs, struct{ k, v string }{"max_answers", strconv.Itoa(info.MaxAnswers)})
	}
	for _, p := range pairs {
		if p.v == "" {
			continue
		}
		if err := s.SetMetadata(p.k, p.v); err != nil {
			return err
		}
	}
	return nil
}

// GetExamInfo reads all ExamInfo fields from metadata.
func (s *Store) GetExamInfo() (model.ExamInfo, error) {
	var info model.ExamInfo
	fields := []struct {
		key string
		dst *string
	}{
		{"exam_id", &info.ExamID},
		{"subject", &info.Subject},
		{"date", &info.Date},
		{"prompt_variant", &info.PromptVariant},
	}
	for _, f := range fields {
		v, err := s.GetMetadata(f.key)
		if err != nil {
			return info, err
		}
		*f.dst = v
	}

	ma, err := s.GetMetadata("max_answers")
	if err != nil {
		return info, err
	}
	if ma != "" {
		if info.MaxAnswers, err = strconv.Atoi(ma); err != nil {
			return info, err
		}
	}
	return info, nil
}
