package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavelanni/hybridexam/internal/model"
)

// fakeProvider is a minimal OpenAI-compatible endpoint.
type fakeProvider struct {
	mu       sync.Mutex
	replies  map[string]string // model -> completion content
	status   int
	requests []chatRequest
}

type chatRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
	ResponseFormat *struct {
		Type string `json:"type"`
	} `json:"response_format"`
}

func (p *fakeProvider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/models"):
		_, _ = w.Write([]byte(`{"object":"list","data":[
			{"id":"models/gemini-2.5-pro","object":"model"},
			{"id":"models/text-embedding-004","object":"model"},
			{"id":"models/gemini-2.5-flash","object":"model"},
			{"id":"models/imagen-3.0-generate-002","object":"model"},
			{"id":"models/aqa","object":"model"}]}`))
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/chat/completions"):
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		p.mu.Lock()
		p.requests = append(p.requests, req)
		status, content := p.status, p.replies[req.Model]
		p.mu.Unlock()

		if status != 0 {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"upstream exploded","type":"server_error"}}`))
			return
		}
		resp := map[string]any{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"model":  req.Model,
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]string{"role": "assistant", "content": content},
				"finish_reason": "stop",
			}},
		}
		_ = json.NewEncoder(w).Encode(resp)
	default:
		http.NotFound(w, r)
	}
}

func newTestClient(t *testing.T, p *fakeProvider) *Client {
	t.Helper()
	srv := httptest.NewServer(p)
	t.Cleanup(srv.Close)

	c, err := New(Config{
		BaseURL:       srv.URL + "/v1",
		APIKey:        "test",
		ExaminerModel: "gemini-2.5-flash",
		CoachModel:    "gemini-2.5-pro",
		PromptVariant: "standard",
		Subject:       "React JS",
		MaxAnswers:    5,
	})
	require.NoError(t, err)
	return c
}

func TestExamineUsesExaminerModel(t *testing.T) {
	p := &fakeProvider{replies: map[string]string{
		"gemini-2.5-flash": `{"botMessage":"Correct","nextQuestion":"Explain useEffect","isExamOver":false}`,
	}}
	c := newTestClient(t, p)

	transcript := []model.Turn{{Role: model.RoleTeam, Text: "earlier"}, {Role: model.RoleExaminer, Text: "ok"}}
	got, err := c.Examine(context.Background(), transcript, "useState stores state")
	require.NoError(t, err)
	assert.Equal(t, model.ExaminerDecision{Message: "Correct", NextQuestion: "Explain useEffect"}, got)

	require.Len(t, p.requests, 1)
	req := p.requests[0]
	assert.Equal(t, "gemini-2.5-flash", req.Model)
	require.NotNil(t, req.ResponseFormat)
	assert.Equal(t, "json_object", req.ResponseFormat.Type)
	require.Len(t, req.Messages, 1)
	assert.Contains(t, req.Messages[0].Content, "useState stores state")
	assert.Contains(t, req.Messages[0].Content, "earlier")
}

func TestAnalyzeUsesCoachModel(t *testing.T) {
	p := &fakeProvider{replies: map[string]string{
		"gemini-2.5-pro": `{"teamScore":"75","collaborationLevel":"High","behavioralAnalysis":"They agreed.","improvementPlan":"Rotate the scribe."}`,
	}}
	c := newTestClient(t, p)

	got, err := c.Analyze(context.Background(), nil, "we debated and agreed")
	require.NoError(t, err)
	assert.Equal(t, 75, got.TeamScore)
	assert.Equal(t, model.CollaborationHigh, got.CollaborationLevel)

	require.Len(t, p.requests, 1)
	assert.Equal(t, "gemini-2.5-pro", p.requests[0].Model)
	assert.Contains(t, p.requests[0].Messages[0].Content, "we debated and agreed")
}

func TestMalformedReply(t *testing.T) {
	p := &fakeProvider{replies: map[string]string{"gemini-2.5-flash": "I cannot answer in JSON"}}
	c := newTestClient(t, p)

	_, err := c.Examine(context.Background(), nil, "START_EXAM")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformedResponse))
	assert.False(t, errors.Is(err, ErrRemoteCall))
}

func TestServerErrorIsRemoteCallFailure(t *testing.T) {
	p := &fakeProvider{status: http.StatusInternalServerError}
	c := newTestClient(t, p)

	_, err := c.Analyze(context.Background(), nil, "final")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRemoteCall)
	assert.Contains(t, err.Error(), "upstream exploded")
}

func TestCanceledContext(t *testing.T) {
	p := &fakeProvider{}
	c := newTestClient(t, p)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Examine(ctx, nil, "START_EXAM")
	assert.ErrorIs(t, err, ErrRemoteCall)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAskReturnsPlainText(t *testing.T) {
	p := &fakeProvider{replies: map[string]string{"gemini-2.5-flash": "**Hooks** let you use state."}}
	c := newTestClient(t, p)

	got, err := c.Ask(context.Background(), "what are hooks?")
	require.NoError(t, err)
	assert.Equal(t, "**Hooks** let you use state.", got)
	assert.Nil(t, p.requests[0].ResponseFormat)

	_, err = c.Ask(context.Background(), "  ")
	assert.Error(t, err)
}

func TestListModelsKeepsChatModels(t *testing.T) {
	c := newTestClient(t, &fakeProvider{})

	ids, err := c.ListModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"gemini-2.5-flash", "gemini-2.5-pro"}, ids)
	assert.NoError(t, c.Ping(context.Background()))
}

func TestNewRejectsUnknownVariant(t *testing.T) {
	_, err := New(Config{PromptVariant: "harsh"})
	assert.Error(t, err)
}

func TestChatCapable(t *testing.T) {
	for id, want := range map[string]bool{
		"gemini-2.5-flash":             true,
		"gemma-3-27b-it":               true,
		"gpt-4o-mini":                  true,
		"text-embedding-004":           false,
		"gemini-embedding-001":         false,
		"aqa":                          false,
		"imagen-4.0-generate-001":      false,
		"veo-3.0-generate-preview":     false,
		"gemini-2.5-flash-preview-tts": false,
	} {
		assert.Equal(t, want, chatCapable(id), id)
	}
}
