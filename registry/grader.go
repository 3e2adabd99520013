package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"oguogu/core/challenge"
	"oguogu/observability"
)

const graderSystemPrompt = `You judge whether a photo proves that a challenge activity was performed.
Given the challenge title and a photo, answer with a JSON object of the form
{"is_correct": true|false, "message": "<one sentence for the challenger>"}.
Accept the photo only when it plausibly shows the described activity being performed.`

// GraderConfig configures the model-backed photo grader.
type GraderConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
	Logger  *slog.Logger
	Metrics *observability.GraderMetrics
}

// OpenAIGrader grades photo evidence with an OpenAI-compatible
// chat-completions endpoint.
type OpenAIGrader struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
	logger  *slog.Logger
	metrics *observability.GraderMetrics
}

// NewOpenAIGrader builds a grader from config, filling defaults.
func NewOpenAIGrader(cfg GraderConfig) *OpenAIGrader {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &OpenAIGrader{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		client:  &http.Client{Timeout: cfg.Timeout},
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Grade asks the model whether the photo proves the challenge activity.
func (g *OpenAIGrader) Grade(ctx context.Context, ch *challenge.Challenge, photo *PhotoContent) (*GradeResult, error) {
	req := chatRequest{
		Model: g.model,
		Messages: []chatMessage{
			{Role: "system", Content: graderSystemPrompt},
			{Role: "user", Content: []contentPart{
				{Type: "text", Text: fmt.Sprintf("Challenge: %s", ch.Title)},
				{Type: "image_url", ImageURL: &imageURL{URL: photo.DataURL()}},
			}},
		},
		ResponseFormat: &responseFormat{Type: "json_object"},
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		g.countError()
		return nil, fmt.Errorf("%w: grader: %v", ErrExternalService, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		g.countError()
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: grader: status %d: %s", ErrExternalService, resp.StatusCode, payload)
	}

	var completion chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		g.countError()
		return nil, fmt.Errorf("%w: grader: decode response: %v", ErrExternalService, err)
	}
	if len(completion.Choices) == 0 {
		g.countError()
		return nil, fmt.Errorf("%w: grader: empty completion", ErrExternalService)
	}

	result := new(GradeResult)
	if err := json.Unmarshal([]byte(completion.Choices[0].Message.Content), result); err != nil {
		g.countError()
		return nil, fmt.Errorf("%w: grader: malformed verdict: %v", ErrExternalService, err)
	}
	g.logger.Info("graded activity", "challenge", ch.Hash.Hex(), "accepted", result.IsCorrect)
	if g.metrics != nil {
		if result.IsCorrect {
			g.metrics.Accepted.Inc()
		} else {
			g.metrics.Rejected.Inc()
		}
	}
	return result, nil
}

func (g *OpenAIGrader) countError() {
	if g.metrics != nil {
		g.metrics.Errors.Inc()
	}
}
