package llm

import (
	"errors"
	"strings"
	"testing"

	"github.com/pavelanni/hybridexam/internal/model"
)

func TestDecodeDecision(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    model.ExaminerDecision
		wantErr bool
	}{
		{
			name: "continue",
			raw:  `{"botMessage":"Correct","nextQuestion":"Explain useEffect","isExamOver":false}`,
			want: model.ExaminerDecision{Message: "Correct", NextQuestion: "Explain useEffect"},
		},
		{
			name: "over without question",
			raw:  `{"botMessage":"Done","isExamOver":true}`,
			want: model.ExaminerDecision{Message: "Done", ExamOver: true},
		},
		{
			name: "code fence and extra field",
			raw:  "```json\n{\"botMessage\":\"Hi\",\"nextQuestion\":\"Q\",\"isExamOver\":false,\"grade\":\"Pass\"}\n```",
			want: model.ExaminerDecision{Message: "Hi", NextQuestion: "Q"},
		},
		{name: "not json", raw: "Sure! Here is your question", wantErr: true},
		{name: "missing flag", raw: `{"botMessage":"x","nextQuestion":"y"}`, wantErr: true},
		{name: "missing message", raw: `{"nextQuestion":"y","isExamOver":false}`, wantErr: true},
		{name: "flag as string", raw: `{"botMessage":"x","nextQuestion":"y","isExamOver":"false"}`, wantErr: true},
		{name: "continue without question", raw: `{"botMessage":"x","nextQuestion":"","isExamOver":false}`, wantErr: true},
		{name: "array", raw: `[{"botMessage":"x"}]`, wantErr: true},
		{name: "trailing data", raw: `{"botMessage":"x","nextQuestion":"y","isExamOver":false} {}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeDecision(tt.raw)
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedResponse) {
					t.Fatalf("DecodeDecision() error = %v, want ErrMalformedResponse", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeDecision() unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("DecodeDecision() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestDecodeReport(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		wantScore int
		wantLevel model.CollaborationLevel
		wantErr   bool
	}{
		{
			name:      "number score",
			raw:       `{"teamScore":87,"collaborationLevel":"High","behavioralAnalysis":"a","improvementPlan":"p"}`,
			wantScore: 87, wantLevel: model.CollaborationHigh,
		},
		{
			name:      "string score and lower-case level",
			raw:       `{"teamScore":"64","collaborationLevel":"medium","behavioralAnalysis":"a","improvementPlan":"p"}`,
			wantScore: 64, wantLevel: model.CollaborationMedium,
		},
		{
			name:      "fractional score rounds",
			raw:       `{"teamScore":12.6,"collaborationLevel":"Low","behavioralAnalysis":"a","improvementPlan":"p"}`,
			wantScore: 13, wantLevel: model.CollaborationLow,
		},
		{name: "score out of range", raw: `{"teamScore":140,"collaborationLevel":"Low","behavioralAnalysis":"a","improvementPlan":"p"}`, wantErr: true},
		{name: "zero score", raw: `{"teamScore":0,"collaborationLevel":"Low","behavioralAnalysis":"a","improvementPlan":"p"}`, wantErr: true},
		{name: "text score", raw: `{"teamScore":"great","collaborationLevel":"Low","behavioralAnalysis":"a","improvementPlan":"p"}`, wantErr: true},
		{name: "unknown level", raw: `{"teamScore":50,"collaborationLevel":"Stellar","behavioralAnalysis":"a","improvementPlan":"p"}`, wantErr: true},
		{name: "missing plan", raw: `{"teamScore":50,"collaborationLevel":"Low","behavioralAnalysis":"a"}`, wantErr: true},
		{name: "missing score", raw: `{"collaborationLevel":"Low","behavioralAnalysis":"a","improvementPlan":"p"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeReport(tt.raw)
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedResponse) {
					t.Fatalf("DecodeReport() error = %v, want ErrMalformedResponse", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeReport() unexpected error: %v", err)
			}
			if got.TeamScore != tt.wantScore {
				t.Errorf("TeamScore = %d, want %d", got.TeamScore, tt.wantScore)
			}
			if got.CollaborationLevel != tt.wantLevel {
				t.Errorf("CollaborationLevel = %q, want %q", got.CollaborationLevel, tt.wantLevel)
			}
		})
	}
}

func TestMalformedErrorOmitsModelOutput(t *testing.T) {
	secret := "the answer key is 42"
	replies := []string{
		"Sure! " + secret,
		`{"botMessage":"` + secret + `","nextQuestion":"y"}`,
		`{"botMessage":"x","nextQuestion":"y","isExamOver":"` + secret + `"}`,
		`{"botMessage":"x","nextQuestion":"y","isExamOver":false} {"note":"` + secret + `"}`,
	}
	for _, raw := range replies {
		_, err := DecodeDecision(raw)
		if !errors.Is(err, ErrMalformedResponse) {
			t.Fatalf("DecodeDecision(%q) error = %v, want ErrMalformedResponse", raw, err)
		}
		if strings.Contains(err.Error(), secret) {
			t.Errorf("error %q leaks the model output", err)
		}
	}

	_, err := DecodeReport(`{"teamScore":50,"collaborationLevel":"Stellar","behavioralAnalysis":"` + secret + `","improvementPlan":"p"}`)
	if !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("DecodeReport() error = %v, want ErrMalformedResponse", err)
	}
	if strings.Contains(err.Error(), secret) {
		t.Errorf("error %q leaks the model output", err)
	}
}
