package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/AdamTech2025/twitter-autobot/internal/config"
	"github.com/AdamTech2025/twitter-autobot/internal/fault"
)

const defaultOpenAIURL = "https://api.openai.com/v1/chat/completions"

// ErrEmptyResponse means the model answered with no usable text.
var ErrEmptyResponse = errors.New("model returned an empty response")

// OpenAIProvider talks to any OpenAI-compatible chat completions endpoint,
// including Gemini's compatibility endpoint.
type OpenAIProvider struct {
	apiKey    string
	model     string
	endpoint  string
	maxTokens int
	client    *http.Client
}

// NewOpenAIProvider creates a new OpenAI-compatible provider
func NewOpenAIProvider(apiKey, model, endpoint string, maxTokens int, client *http.Client) *OpenAIProvider {
	if endpoint == "" {
		endpoint = defaultOpenAIURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &OpenAIProvider{
		apiKey:    apiKey,
		model:     model,
		endpoint:  endpoint,
		maxTokens: maxTokens,
		client:    client,
	}
}

type chatRequest struct {
	Model     string        `json:"model"`
	MaxTokens int           `json:"max_tokens,omitempty"`
	Messages  []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (p *OpenAIProvider) Name() string  { return config.ProviderOpenAI }
func (p *OpenAIProvider) Model() string { return p.model }

// Complete sends one user message and returns the first choice.
func (p *OpenAIProvider) Complete(ctx context.Context, prompt string) (string, error) {
	return p.call(ctx, chatRequest{
		Model:     p.model,
		MaxTokens: p.maxTokens,
		Messages:  []chatMessage{{Role: "user", Content: prompt}},
	})
}

// Ping sends a one-token completion.
func (p *OpenAIProvider) Ping(ctx context.Context) error {
	_, err := p.call(ctx, chatRequest{
		Model:     p.model,
		MaxTokens: 1,
		Messages:  []chatMessage{{Role: "user", Content: "ping"}},
	})
	if errors.Is(err, ErrEmptyResponse) {
		return nil
	}
	return err
}

func (p *OpenAIProvider) call(ctx context.Context, reqBody chatRequest) (string, error) {
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", fault.Permanent(fmt.Errorf("failed to marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return "", fault.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fault.FromTransport(fmt.Errorf("failed to call %s: %w", p.endpoint, err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fault.Retryable(fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		return "", fault.FromStatus(resp.StatusCode,
			fmt.Errorf("completion endpoint returned status %d: %.300s", resp.StatusCode, string(body)))
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fault.Permanent(fmt.Errorf("failed to parse response: %w", err))
	}
	if parsed.Error != nil {
		return "", fault.Permanent(fmt.Errorf("completion error: %s - %s", parsed.Error.Type, parsed.Error.Message))
	}
	if len(parsed.Choices) == 0 || strings.TrimSpace(parsed.Choices[0].Message.Content) == "" {
		return "", fault.Permanent(ErrEmptyResponse)
	}
	return parsed.Choices[0].Message.Content, nil
}
