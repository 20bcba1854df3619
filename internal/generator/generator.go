package generator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/AdamTech2025/twitter-autobot/internal/config"
	"github.com/AdamTech2025/twitter-autobot/internal/fault"
	"github.com/AdamTech2025/twitter-autobot/internal/generator/providers"
	"github.com/AdamTech2025/twitter-autobot/internal/store"
)

// ErrEmptyOutput means nothing usable was left after cleaning.
var ErrEmptyOutput = errors.New("generator: empty output")

// Provider defines the interface for LLM providers
type Provider interface {
	Name() string
	Model() string
	Complete(ctx context.Context, prompt string) (string, error)
	Ping(ctx context.Context) error
}

// Generator turns a topic into post text
type Generator struct {
	provider Provider
	timeout  time.Duration
	cacheDir string
	log      *logrus.Entry
}

// Option customises a Generator.
type Option func(*Generator)

// WithExchangeCache writes every prompt/response pair under dir.
func WithExchangeCache(dir string) Option {
	return func(g *Generator) { g.cacheDir = dir }
}

// New creates a new generator with the appropriate provider based on config
func New(cfg config.GeneratorConfig, log *logrus.Entry, opts ...Option) (*Generator, error) {
	var provider Provider

	switch cfg.Provider {
	case config.ProviderAnthropic:
		provider = providers.NewAnthropicProvider(cfg.APIKey, cfg.Model, cfg.Endpoint, cfg.MaxTokens)
	case config.ProviderOpenAI:
		provider = providers.NewOpenAIProvider(cfg.APIKey, cfg.Model, cfg.Endpoint, cfg.MaxTokens, &http.Client{})
	default:
		return nil, fmt.Errorf("unknown LLM provider: %s", cfg.Provider)
	}

	if cfg.CacheExchanges {
		dir, err := store.ArtifactDir("llm")
		if err != nil {
			return nil, err
		}
		opts = append([]Option{WithExchangeCache(dir)}, opts...)
	}
	return NewWithProvider(provider, cfg.Timeout.Duration, log, opts...), nil
}

// NewWithProvider wraps an already built provider.
func NewWithProvider(p Provider, timeout time.Duration, log *logrus.Entry, opts ...Option) *Generator {
	g := &Generator{provider: p, timeout: timeout, log: log}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Generate produces post text for topic within the configured timeout.
// Errors are classified with the fault package.
func (g *Generator) Generate(ctx context.Context, topic string) (string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	prompt := BuildPrompt(topic)
	raw, err := g.provider.Complete(ctx, prompt)
	g.saveExchange(topic, prompt, raw, err)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", fault.Retryable(fmt.Errorf("generator timed out after %s: %w", g.timeout, err))
		}
		return "", err
	}

	text := CleanPost(raw)
	if text == "" {
		return "", fault.Permanent(ErrEmptyOutput)
	}
	return text, nil
}

// Ping checks the provider is reachable and accepts the credentials.
func (g *Generator) Ping(ctx context.Context) error {
	return g.provider.Ping(ctx)
}

func (g *Generator) saveExchange(topic, prompt, response string, callErr error) {
	if g.cacheDir == "" {
		return
	}
	ex := store.LLMExchange{
		Timestamp: time.Now(),
		Provider:  g.provider.Name(),
		Model:     g.provider.Model(),
		Topic:     topic,
		Prompt:    prompt,
		Response:  response,
	}
	if callErr != nil {
		ex.Error = callErr.Error()
	}
	path, err := store.SaveLLMExchange(g.cacheDir, ex)
	if err != nil {
		g.log.WithError(err).Warn("failed to cache LLM exchange")
		return
	}
	g.log.WithField("path", path).Debug("cached LLM exchange")
}
