package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/pavelanni/hybridexam/internal/llm/prompts"
	"github.com/pavelanni/hybridexam/internal/model"
)

var (
	// ErrRemoteCall covers transport errors, non-2xx responses and empty completions.
	ErrRemoteCall = errors.New("remote call failed")
	// ErrMalformedResponse is returned when a completion does not match the expected JSON shape.
	ErrMalformedResponse = errors.New("malformed model response")
)

// Config describes the provider endpoint and the two model tiers.
type Config struct {
	BaseURL       string
	APIKey        string
	ExaminerModel string // fast per-turn model
	CoachModel    string // slow end-of-session model
	PromptVariant string
	Subject       string
	MaxAnswers    int
	// RequestsPerSecond paces outbound calls across all sessions; 0 disables pacing.
	RequestsPerSecond float64
	HTTPClient        *http.Client
}

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api           *openai.Client
	examinerModel string
	coachModel    string
	variant       prompts.PromptVariant
	subject       string
	maxAnswers    int
	limiter       *rate.Limiter
}

// New creates a new LLM client and loads the prompt templates.
func New(cfg Config) (*Client, error) {
	if err := prompts.Load(prompts.DefaultFS); err != nil {
		return nil, fmt.Errorf("load prompts: %w", err)
	}
	variant := prompts.PromptVariant(cfg.PromptVariant)
	if !prompts.IsValidVariant(cfg.PromptVariant) {
		return nil, fmt.Errorf("invalid prompt variant %q", cfg.PromptVariant)
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.HTTPClient != nil {
		config.HTTPClient = cfg.HTTPClient
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &Client{
		api:           openai.NewClientWithConfig(config),
		examinerModel: cfg.ExaminerModel,
		coachModel:    cfg.CoachModel,
		variant:       variant,
		subject:       cfg.Subject,
		maxAnswers:    cfg.MaxAnswers,
		limiter:       limiter,
	}, nil
}

// Examine grades the latest answer (or opens the exam on the start marker) and
// returns the examiner's decision.
func (c *Client) Examine(ctx context.Context, transcript []model.Turn, answer string) (model.ExaminerDecision, error) {
	prompt, err := prompts.BuildExaminerPrompt(c.variant, c.subject, c.maxAnswers, transcript, answer)
	if err != nil {
		return model.ExaminerDecision{}, fmt.Errorf("build examiner prompt: %w", err)
	}

	raw, err := c.complete(ctx, c.examinerModel, prompt, 0.3, true)
	if err != nil {
		return model.ExaminerDecision{}, fmt.Errorf("examiner: %w", err)
	}
	slog.Debug("examiner response", "raw", raw)

	decision, err := DecodeDecision(raw)
	if err != nil {
		return model.ExaminerDecision{}, fmt.Errorf("examiner: %w", err)
	}
	return decision, nil
}

// Analyze asks the coach model for the end-of-session performance report.
func (c *Client) Analyze(ctx context.Context, transcript []model.Turn, finalAnswer string) (model.PerformanceReport, error) {
	prompt, err := prompts.BuildCoachPrompt(c.subject, transcript, finalAnswer)
	if err != nil {
		return model.PerformanceReport{}, fmt.Errorf("build coach prompt: %w", err)
	}

	raw, err := c.complete(ctx, c.coachModel, prompt, 0.1, true)
	if err != nil {
		return model.PerformanceReport{}, fmt.Errorf("coach: %w", err)
	}
	slog.Debug("coach response", "raw", raw)

	report, err := DecodeReport(raw)
	if err != nil {
		return model.PerformanceReport{}, fmt.Errorf("coach: %w", err)
	}
	return report, nil
}

// Ask sends a free-form prompt to the examiner model and returns the plain-text reply.
func (c *Client) Ask(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", errors.New("prompt cannot be empty")
	}
	return c.complete(ctx, c.examinerModel, prompt, 0.7, false)
}

// nonChatModels marks model families that cannot serve chat completions. The
// OpenAI-compatible listing carries no capability data, so IDs are matched by name.
var nonChatModels = []string{"embedding", "embed-", "aqa", "imagen", "veo-", "tts", "whisper", "dall-e", "moderation"}

func chatCapable(id string) bool {
	id = strings.ToLower(id)
	for _, s := range nonChatModels {
		if strings.Contains(id, s) {
			return false
		}
	}
	return true
}

// ListModels returns the provider's chat model IDs, without any "models/" prefix, sorted.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRemoteCall, err)
	}
	list, err := c.api.ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: list models: %w", ErrRemoteCall, err)
	}
	ids := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		id := strings.TrimPrefix(m.ID, "models/")
		if !chatCapable(id) {
			continue
		}
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

// Ping checks that the endpoint answers and serves the configured models.
func (c *Client) Ping(ctx context.Context) error {
	ids, err := c.ListModels(ctx)
	if err != nil {
		return err
	}
	for _, want := range []string{c.examinerModel, c.coachModel} {
		if !slices.Contains(ids, want) {
			slog.Warn("configured model not listed by provider", "model", want)
		}
	}
	return nil
}

func (c *Client) complete(ctx context.Context, modelName, prompt string, temperature float32, jsonOut bool) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("%w: %w", ErrRemoteCall, err)
	}

	req := openai.ChatCompletionRequest{
		Model: modelName,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: temperature,
	}
	if jsonOut {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrRemoteCall, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: model %s returned no choices", ErrRemoteCall, modelName)
	}
	return resp.Choices[0].Message.Content, nil
}
