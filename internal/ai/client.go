// Package ai drafts replies through an OpenAI-compatible chat/completions API.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/d60-Lab/ghostreply/config"
	"github.com/d60-Lab/ghostreply/pkg/logger"
)

// ErrGeneration means no usable reply came back. The caller must leave the
// tweet unprocessed.
var ErrGeneration = errors.New("reply generation failed")

// Generator produces a reply for a tweet. imageURL may be empty.
type Generator interface {
	GenerateReply(ctx context.Context, tweetText, imageURL string) (string, error)
}

type Client struct {
	http        *http.Client
	apiKey      string
	apiURL      string
	model       string
	maxTokens   int
	temperature float64
	referer     string
	title       string
	limiter     *rate.Limiter
	executor    failsafe.Executor[string]
}

type Option func(*options)

type options struct {
	baseDelay  time.Duration
	maxDelay   time.Duration
	httpClient *http.Client
}

// WithBackoff overrides the retry backoff bounds.
func WithBackoff(base, max time.Duration) Option {
	return func(o *options) { o.baseDelay, o.maxDelay = base, max }
}

// WithHTTPClient replaces the default client built from the configured timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

func NewClient(cfg config.AIConfig, opts ...Option) *Client {
	o := options{baseDelay: 500 * time.Millisecond, maxDelay: 5 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}
	if o.httpClient == nil {
		o.httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.RequestsPerMinute))
	}

	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}
	policy := retrypolicy.NewBuilder[string]().
		WithBackoff(o.baseDelay, o.maxDelay).
		WithMaxRetries(retries).
		WithJitterFactor(0.1).
		HandleIf(func(_ string, err error) bool {
			return isRetryable(err)
		}).
		OnRetry(func(e failsafe.ExecutionEvent[string]) {
			logger.Warn("ai request retry",
				zap.Int("attempt", e.Attempts()),
				zap.Error(e.LastError()),
			)
		}).
		ReturnLastFailure().
		Build()

	apiURL := strings.TrimRight(cfg.BaseURL, "/")
	if apiURL == "" {
		apiURL = "https://openrouter.ai/api/v1"
	}

	return &Client{
		http:        o.httpClient,
		apiKey:      cfg.APIKey,
		apiURL:      apiURL,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		referer:     cfg.Referer,
		title:       cfg.Title,
		limiter:     rate.NewLimiter(limit, 1),
		executor:    failsafe.With[string](policy),
	}
}

func (c *Client) GenerateReply(ctx context.Context, tweetText, imageURL string) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("%w: api key not configured", ErrGeneration)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("%w: %w", ErrGeneration, err)
	}

	payload, err := json.Marshal(c.buildRequest(tweetText, imageURL))
	if err != nil {
		return "", fmt.Errorf("%w: marshal request: %w", ErrGeneration, err)
	}

	text, err := c.executor.WithContext(ctx).Get(func() (string, error) {
		return c.complete(ctx, payload)
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrGeneration, err)
	}

	text = cleanCompletion(text)
	if text == "" {
		return "", fmt.Errorf("%w: empty completion", ErrGeneration)
	}
	return text, nil
}

func (c *Client) buildRequest(tweetText, imageURL string) chatRequest {
	var user any = userPrompt(tweetText)
	if imageURL != "" {
		user = []contentPart{
			{Type: "text", Text: userPrompt(tweetText)},
			{Type: "image_url", ImageURL: &imageRef{URL: imageURL}},
		}
	}
	return chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: user},
		},
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	}
}

func (c *Client) complete(ctx context.Context, payload []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if c.referer != "" {
		req.Header.Set("HTTP-Referer", c.referer)
	}
	if c.title != "" {
		req.Header.Set("X-Title", c.title)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return "", &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var out chatResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if out.Error != nil && out.Error.Message != "" {
		return "", fmt.Errorf("api error: %s", out.Error.Message)
	}
	if len(out.Choices) == 0 {
		return "", nil
	}
	return out.Choices[0].Message.Content, nil
}

// StatusError is a non-2xx completion response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusTooManyRequests || se.Code >= http.StatusInternalServerError
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageRef `json:"image_url,omitempty"`
}

type imageRef struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}
