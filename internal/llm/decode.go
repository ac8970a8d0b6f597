package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/pavelanni/hybridexam/internal/model"
)

type rawDecision struct {
	BotMessage   *string `json:"botMessage"`
	NextQuestion *string `json:"nextQuestion"`
	IsExamOver   *bool   `json:"isExamOver"`
}

type rawReport struct {
	TeamScore          json.RawMessage `json:"teamScore"`
	CollaborationLevel *string         `json:"collaborationLevel"`
	BehavioralAnalysis *string         `json:"behavioralAnalysis"`
	ImprovementPlan    *string         `json:"improvementPlan"`
}

// DecodeDecision strictly decodes an examiner reply. Any shape mismatch yields ErrMalformedResponse.
func DecodeDecision(raw string) (model.ExaminerDecision, error) {
	var r rawDecision
	if err := decodeObject(raw, &r); err != nil {
		return model.ExaminerDecision{}, err
	}
	if r.BotMessage == nil {
		return model.ExaminerDecision{}, malformed("missing botMessage", raw)
	}
	if r.IsExamOver == nil {
		return model.ExaminerDecision{}, malformed("missing isExamOver", raw)
	}
	d := model.ExaminerDecision{
		Message:  strings.TrimSpace(*r.BotMessage),
		ExamOver: *r.IsExamOver,
	}
	if r.NextQuestion != nil {
		d.NextQuestion = strings.TrimSpace(*r.NextQuestion)
	}
	if !d.ExamOver && d.NextQuestion == "" {
		return model.ExaminerDecision{}, malformed("missing nextQuestion while exam continues", raw)
	}
	return d, nil
}

// DecodeReport strictly decodes a coach reply. teamScore may be a number or a
// numeric string and must fall in 1..100.
func DecodeReport(raw string) (model.PerformanceReport, error) {
	var r rawReport
	if err := decodeObject(raw, &r); err != nil {
		return model.PerformanceReport{}, err
	}
	if len(r.TeamScore) == 0 || r.CollaborationLevel == nil || r.BehavioralAnalysis == nil || r.ImprovementPlan == nil {
		return model.PerformanceReport{}, malformed("missing report field", raw)
	}

	score, err := parseScore(r.TeamScore)
	if err != nil {
		return model.PerformanceReport{}, malformed(err.Error(), raw)
	}
	level, err := model.ParseCollaborationLevel(*r.CollaborationLevel)
	if err != nil {
		return model.PerformanceReport{}, malformed(err.Error(), raw)
	}

	return model.PerformanceReport{
		TeamScore:          score,
		CollaborationLevel: level,
		BehavioralAnalysis: strings.TrimSpace(*r.BehavioralAnalysis),
		ImprovementPlan:    strings.TrimSpace(*r.ImprovementPlan),
	}, nil
}

func parseScore(raw json.RawMessage) (int, error) {
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, fmt.Errorf("teamScore is neither number nor string: %s", raw)
		}
		s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%"))
		f, err = strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("teamScore %q is not numeric", s)
		}
	}
	score := int(math.Round(f))
	if score < 1 || score > 100 {
		return 0, fmt.Errorf("teamScore %d out of range 1-100", score)
	}
	return score, nil
}

// decodeObject decodes a single JSON object, tolerating a surrounding markdown code fence.
func decodeObject(raw string, v any) error {
	body := stripFence(raw)
	if !strings.HasPrefix(body, "{") {
		return malformed("not a JSON object", raw)
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(body)))
	if err := dec.Decode(v); err != nil {
		return malformed(err.Error(), raw)
	}
	if dec.More() {
		return malformed("trailing data after JSON object", raw)
	}
	return nil
}

func stripFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// malformed keeps the model output out of the error, which ends up in team feedback.
func malformed(reason, raw string) error {
	slog.Debug("malformed model response", "reason", reason, "raw", raw)
	return fmt.Errorf("%w: %s", ErrMalformedResponse, reason)
}
