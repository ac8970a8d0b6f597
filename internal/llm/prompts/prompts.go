package prompts

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"

	"github.com/pavelanni/hybridexam/internal/model"
)

// StartMarker mirrors exam.StartMarker; the examiner prompt switches to its
// greeting form when it sees it.
const StartMarker = "START_EXAM"

const maxAnswerRunes = 10000

//go:embed templates/*.txt
var DefaultFS embed.FS

var (
	teamAnswerRegex         = regexp.MustCompile(`(?i)</?\s*team-answer\b[^>]*>`)
	systemInstructionsRegex = regexp.MustCompile(`(?i)</?\s*system-instructions\b[^>]*>`)
)

// PromptVariant represents an examiner grading strictness.
type PromptVariant string

const (
	// PromptStrict only passes complete, precise answers.
	PromptStrict PromptVariant = "strict"
	// PromptStandard is the default grading variant.
	PromptStandard PromptVariant = "standard"
	// PromptLenient passes answers that show the right idea.
	PromptLenient PromptVariant = "lenient"
)

var validVariants = map[PromptVariant]bool{
	PromptStrict:   true,
	PromptStandard: true,
	PromptLenient:  true,
}

var (
	loadOnce          sync.Once
	loadErr           error
	examinerTemplates map[PromptVariant]*template.Template
	coachTemplate     *template.Template
)

// IsValidVariant checks if a prompt variant name is valid.
func IsValidVariant(v string) bool {
	return validVariants[PromptVariant(v)]
}

// ExaminerData holds template data for examiner prompts.
type ExaminerData struct {
	Subject      string
	MaxAnswers   int
	AnswerNumber int
	Transcript   string
	Answer       string
	Starting     bool
}

// CoachData holds template data for the coach prompt.
type CoachData struct {
	Subject    string
	Transcript string
}

// Load parses the prompt templates from fsys (normally DefaultFS).
// It uses sync.Once to ensure templates are loaded only once.
func Load(fsys fs.FS) error {
	loadOnce.Do(func() {
		examinerTemplates = make(map[PromptVariant]*template.Template)

		for _, v := range []PromptVariant{PromptStrict, PromptStandard, PromptLenient} {
			tmpl, err := parseFile(fsys, "templates/examiner_"+string(v)+".txt")
			if err != nil {
				loadErr = err
				return
			}
			examinerTemplates[v] = tmpl
		}

		coachTemplate, loadErr = parseFile(fsys, "templates/coach.txt")
	})
	return loadErr
}

func parseFile(fsys fs.FS, name string) (*template.Template, error) {
	content, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, fmt.Errorf("read prompt file %s: %w", name, err)
	}
	tmpl, err := template.New(name).Parse(string(content))
	if err != nil {
		return nil, fmt.Errorf("parse prompt template %s: %w", name, err)
	}
	return tmpl, nil
}

// BuildExaminerPrompt renders the examiner prompt for one round.
func BuildExaminerPrompt(variant PromptVariant, subject string, maxAnswers int, transcript []model.Turn, answer string) (string, error) {
	if examinerTemplates == nil {
		return "", errors.New("templates not initialized: call Load first")
	}
	tmpl, ok := examinerTemplates[variant]
	if !ok {
		return "", errors.New("invalid prompt variant: " + string(variant))
	}

	serialized, err := SerializeTranscript(transcript)
	if err != nil {
		return "", err
	}

	data := ExaminerData{
		Subject:      subject,
		MaxAnswers:   maxAnswers,
		AnswerNumber: CountAnswers(transcript) + 1,
		Transcript:   serialized,
		Starting:     answer == StartMarker,
	}
	if !data.Starting {
		data.Answer = sanitizeAnswer(answer)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// BuildCoachPrompt renders the coach prompt over the transcript plus the final answer.
func BuildCoachPrompt(subject string, transcript []model.Turn, finalAnswer string) (string, error) {
	if coachTemplate == nil {
		return "", errors.New("templates not initialized: call Load first")
	}

	full := make([]model.Turn, 0, len(transcript)+1)
	full = append(full, transcript...)
	full = append(full, model.Turn{Role: model.RoleTeam, Text: finalAnswer})

	serialized, err := SerializeTranscript(full)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := coachTemplate.Execute(&buf, CoachData{Subject: subject, Transcript: serialized}); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// SerializeTranscript renders turns as a JSON array of {role, text}, with team text sanitized.
func SerializeTranscript(transcript []model.Turn) (string, error) {
	clean := make([]model.Turn, len(transcript))
	for i, t := range transcript {
		clean[i] = t
		if t.Role == model.RoleTeam {
			clean[i].Text = sanitizeAnswer(t.Text)
		}
	}
	data, err := json.Marshal(clean)
	if err != nil {
		return "", fmt.Errorf("serialize transcript: %w", err)
	}
	return string(data), nil
}

// CountAnswers returns the number of team turns in the transcript.
func CountAnswers(transcript []model.Turn) int {
	count := 0
	for _, t := range transcript {
		if t.Role == model.RoleTeam {
			count++
		}
	}
	return count
}

func sanitizeAnswer(answer string) string {
	answer = teamAnswerRegex.ReplaceAllString(answer, "")
	answer = systemInstructionsRegex.ReplaceAllString(answer, "")
	answer = strings.TrimSpace(answer)

	if answer == "" {
		return "[No answer provided]"
	}

	if utf8.RuneCountInString(answer) > maxAnswerRunes {
		runes := []rune(answer)
		runes = runes[:maxAnswerRunes]
		answer = string(runes) + "\n\n[Answer truncated due to length]"
	}

	return answer
}
