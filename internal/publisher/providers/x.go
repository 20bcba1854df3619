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
	"time"

	"github.com/dghubble/oauth1"

	"github.com/AdamTech2025/twitter-autobot/internal/fault"
	"github.com/AdamTech2025/twitter-autobot/internal/publisher"
	"github.com/AdamTech2025/twitter-autobot/internal/types"
)

// XPublisher creates posts through the X API v2, signing each request with
// the app's consumer key and the user's OAuth 1.0a access token.
type XPublisher struct {
	endpoint string
	config   *oauth1.Config
	base     *http.Client
}

// NewXPublisher creates a new X publisher. endpoint is the API root, for
// example https://api.twitter.com.
func NewXPublisher(endpoint, consumerKey, consumerSecret string, timeout time.Duration) *XPublisher {
	return &XPublisher{
		endpoint: strings.TrimRight(endpoint, "/"),
		config:   oauth1.NewConfig(consumerKey, consumerSecret),
		base:     &http.Client{Timeout: timeout},
	}
}

type createPostRequest struct {
	Text string `json:"text"`
}

type createPostResponse struct {
	Data struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	} `json:"data"`
}

type apiProblem struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Status int    `json:"status"`
}

// Publish posts text and returns the new post id. 429 and 5xx are
// retryable; revoked tokens, duplicate content and other 4xx are permanent.
func (p *XPublisher) Publish(ctx context.Context, cred types.Credential, text, idempotencyKey string) (string, error) {
	if cred.Token == "" || cred.Secret == "" {
		return "", fault.Permanent(errors.New("x: credential is incomplete"))
	}

	body, err := json.Marshal(createPostRequest{Text: text})
	if err != nil {
		return "", fault.Permanent(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/2/tweets", bytes.NewReader(body))
	if err != nil {
		return "", fault.Permanent(fmt.Errorf("x: failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	// oauth1 keeps only the base transport, not its timeout.
	client := p.config.Client(context.WithValue(ctx, oauth1.HTTPClient, p.base), oauth1.NewToken(cred.Token, cred.Secret))
	client.Timeout = p.base.Timeout
	resp, err := client.Do(req)
	if err != nil {
		return "", fault.FromTransport(fmt.Errorf("x: failed to call API: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fault.Retryable(fmt.Errorf("x: failed to read response: %w", err))
	}

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		var problem apiProblem
		_ = json.Unmarshal(respBody, &problem)
		msg := problem.Detail
		if msg == "" {
			msg = fmt.Sprintf("%.200s", string(respBody))
		}
		if resp.StatusCode == http.StatusForbidden && strings.Contains(strings.ToLower(msg), "duplicate content") {
			return "", fault.Permanent(fmt.Errorf("x: %w: %s", publisher.ErrDuplicateContent, msg))
		}
		return "", fault.FromStatus(resp.StatusCode, fmt.Errorf("x: status %d: %s", resp.StatusCode, msg))
	}

	var created createPostResponse
	if err := json.Unmarshal(respBody, &created); err != nil {
		return "", fault.Permanent(fmt.Errorf("x: failed to parse response: %w", err))
	}
	if created.Data.ID == "" {
		return "", fault.Permanent(errors.New("x: response carried no post id"))
	}
	return created.Data.ID, nil
}

// Ping checks the app credentials are configured and the API host answers.
func (p *XPublisher) Ping(ctx context.Context) error {
	if p.config.ConsumerKey == "" || p.config.ConsumerSecret == "" {
		return fault.Permanent(errors.New("x: consumer key not configured"))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint+"/2/openapi.json", nil)
	if err != nil {
		return fault.Permanent(err)
	}
	resp, err := p.base.Do(req)
	if err != nil {
		return fault.FromTransport(fmt.Errorf("x: unreachable: %w", err))
	}
	resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return fault.Retryable(fmt.Errorf("x: status %d", resp.StatusCode))
	}
	return nil
}
