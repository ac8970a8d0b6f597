package model

import "time"

// ExamExport is the top-level JSON structure for exam result export.
type ExamExport struct {
	ExamID        string       `json:"exam_id"`
	Subject       string       `json:"subject"`
	Date          string       `json:"date"`
	PromptVariant string       `json:"prompt_variant"`
	MaxAnswers    int          `json:"max_answers"`
	Results       []TeamResult `json:"results"`
}

// TeamResult holds one team's exam session data for export.
type TeamResult struct {
	Username       string             `json:"username"`
	DisplayName    string             `json:"display_name"`
	SessionID      string             `json:"session_id"`
	SessionNumber  int                `json:"session_number"`
	State          ExamState          `json:"state"`
	StartedAt      time.Time          `json:"started_at"`
	FinishedAt     *time.Time         `json:"finished_at,omitempty"`
	Answered       int                `json:"answered"`
	Conversation   []Turn             `json:"conversation"`
	FinalAnswer    string             `json:"final_answer,omitempty"`
	ClosingMessage string             `json:"closing_message,omitempty"`
	Report         *PerformanceReport `json:"report,omitempty"`
	Feedback       string             `json:"feedback,omitempty"`
}

// ExamInfo is exam-wide metadata recorded by the server and echoed in exports.
type ExamInfo struct {
	ExamID        string
	Subject       string
	Date          string
	PromptVariant string
	MaxAnswers    int
}
