// Package llm talks to OpenAI-compatible chat completion endpoints and
// records every exchange for replay.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/sashabaranov/go-openai"

	"github.com/okian/revroute/internal/domain/operators"
	"github.com/okian/revroute/pkg/logger"
	"github.com/okian/revroute/pkg/metrics"
)

const defaultSystemPrompt = "You rank code reviewers. Answer with JSON only."

// Client implements operators.Generator over go-openai with retries.
type Client struct {
	api      *openai.Client
	baseURL  string
	system   string
	retries  uint
	delay    time.Duration
	maxDelay time.Duration
	log      logger.Logger
}

var _ operators.Generator = (*Client)(nil)

// New builds a client for apiKey.
func New(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}
	c := &Client{
		system:   defaultSystemPrompt,
		retries:  3,
		delay:    500 * time.Millisecond,
		maxDelay: 10 * time.Second,
		log:      logger.For("llm"),
	}
	for _, opt := range opts {
		opt(c)
	}
	cfg := openai.DefaultConfig(apiKey)
	if c.baseURL != "" {
		cfg.BaseURL = c.baseURL
	}
	c.api = openai.NewClientWithConfig(cfg)
	return c, nil
}

// Generate implements operators.Generator. Transient failures (transport
// errors, 429 and 5xx) are retried with backoff; other API errors are not.
func (c *Client) Generate(ctx context.Context, req operators.GenerateRequest) (string, error) {
	chat := openai.ChatCompletionRequest{
		Model: req.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: c.system},
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}

	var out string
	start := time.Now()
	err := retry.Do(
		func() error {
			resp, err := c.api.CreateChatCompletion(ctx, chat)
			if err != nil {
				return err
			}
			if len(resp.Choices) == 0 {
				return ErrNoChoices
			}
			out = resp.Choices[0].Message.Content
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(c.retries+1),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.Delay(c.delay),
		retry.MaxJitter(c.delay),
		retry.MaxDelay(c.maxDelay),
		retry.RetryIf(transient),
		retry.OnRetry(func(n uint, err error) {
			c.log.Warn(ctx, "llm call failed, retrying",
				logger.String("model", req.Model),
				logger.Int("attempt", int(n)+1),
				logger.Error(err))
		}),
		retry.LastErrorOnly(true),
	)
	metrics.RecordLLMCall(req.Model, err == nil, time.Since(start))
	if err != nil {
		return "", fmt.Errorf("chat completion %s: %w", req.Model, err)
	}
	return out, nil
}

// transient reports whether err is worth retrying.
func transient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return retryableStatus(reqErr.HTTPStatusCode)
	}
	return true
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError || code == 0
}
