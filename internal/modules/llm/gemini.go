// Package llm implements the Gemini text generator with model fallback and quota backoff.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/aristath/tradeagent/internal/clientdata"
	"github.com/rs/zerolog"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

	// DefaultModel is tried first when no model is configured
	DefaultModel = "gemini-2.5-flash"

	// ModelUnavailableFor is how long a model that answered 404 is skipped
	ModelUnavailableFor = 24 * time.Hour
	// QuotaPauseFor is how long all calls pause after a 429
	QuotaPauseFor = 15 * time.Minute
)

// DefaultFallbackModels are tried in order after the configured model
var DefaultFallbackModels = []string{"gemini-2.0-flash", "gemini-1.5-flash"}

// CallRecorder persists model call logs
type CallRecorder interface {
	RecordLLMCall(ctx context.Context, entry clientdata.LLMCallLog) error
}

// Client calls the Gemini generateContent endpoint
type Client struct {
	apiKey    string
	model     string
	fallbacks []string
	baseURL   string
	client    *http.Client
	recorder  CallRecorder
	now       func() time.Time
	log       zerolog.Logger

	mu               sync.Mutex
	unavailableUntil map[string]time.Time
	quotaPausedUntil time.Time
}

// Option is a function that configures the Client
type Option func(*Client)

// WithBaseURL sets a custom base URL
func WithBaseURL(url string) Option {
	return func(c *Client) {
		c.baseURL = url
	}
}

// WithTimeout sets a custom timeout
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.client.Timeout = timeout
	}
}

// WithHTTPClient replaces the HTTP client
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.client = client
	}
}

// WithFallbackModels replaces the fallback chain
func WithFallbackModels(models ...string) Option {
	return func(c *Client) {
		c.fallbacks = models
	}
}

// WithRecorder stores a call log row for every request
func WithRecorder(recorder CallRecorder) Option {
	return func(c *Client) {
		c.recorder = recorder
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

// New creates a new Gemini client. An empty apiKey disables all calls.
func New(apiKey, model string, log zerolog.Logger, opts ...Option) *Client {
	if model == "" {
		model = DefaultModel
	}
	c := &Client{
		apiKey:           apiKey,
		model:            model,
		fallbacks:        DefaultFallbackModels,
		baseURL:          defaultBaseURL,
		client:           &http.Client{Timeout: 60 * time.Second},
		now:              time.Now,
		log:              log.With().Str("client", "gemini").Logger(),
		unavailableUntil: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type candidate struct {
	Content content `json:"content"`
}

type usageMetadata struct {
	PromptTokenCount     *int `json:"promptTokenCount"`
	CandidatesTokenCount *int `json:"candidatesTokenCount"`
	TotalTokenCount      *int `json:"totalTokenCount"`
}

type generateResponse struct {
	Candidates    []candidate    `json:"candidates"`
	UsageMetadata *usageMetadata `json:"usageMetadata"`
}

// GenerateText returns the first candidate's text. It never fails: missing
// credentials, quota pauses, transport and model errors all yield "".
func (c *Client) GenerateText(ctx context.Context, prompt string) string {
	if c.apiKey == "" {
		c.log.Warn().Msg("Gemini API key is missing, skipping call")
		return ""
	}
	if c.quotaPaused() {
		c.log.Debug().Msg("Gemini calls paused after quota error")
		return ""
	}

	for _, model := range c.candidateModels() {
		text, status, err := c.call(ctx, model, prompt)
		if err == nil {
			if model != c.model {
				c.log.Warn().Str("configured", c.model).Str("active", model).Msg("Gemini model fallback in use")
			}
			c.mu.Lock()
			c.quotaPausedUntil = time.Time{}
			c.mu.Unlock()
			return text
		}

		c.log.Warn().Err(err).Str("model", model).Int("status", status).Msg("Gemini request failed")
		switch status {
		case http.StatusNotFound:
			c.mu.Lock()
			c.unavailableUntil[model] = c.now().Add(ModelUnavailableFor)
			c.mu.Unlock()
			continue
		case http.StatusTooManyRequests:
			c.mu.Lock()
			c.quotaPausedUntil = c.now().Add(QuotaPauseFor)
			c.mu.Unlock()
			c.log.Warn().Dur("pause", QuotaPauseFor).Msg("Gemini quota exceeded, pausing calls")
		}
		return ""
	}
	return ""
}

func (c *Client) quotaPaused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now().Before(c.quotaPausedUntil)
}

func (c *Client) candidateModels() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	models := make([]string, 0, len(c.fallbacks)+1)
	seen := make(map[string]bool)
	for _, m := range append([]string{c.model}, c.fallbacks...) {
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		if until, ok := c.unavailableUntil[m]; ok && now.Before(until) {
			continue
		}
		models = append(models, m)
	}
	return models
}

func (c *Client) call(ctx context.Context, model, prompt string) (string, int, error) {
	start := c.now()
	body, err := json.Marshal(generateRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: prompt}}}},
	})
	if err != nil {
		return "", 0, fmt.Errorf("failed to encode request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", 0, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		c.record(ctx, clientdata.LLMCallLog{Model: model, Prompt: prompt, ErrorMessage: err.Error()}, start)
		return "", 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.record(ctx, clientdata.LLMCallLog{
			Model:        model,
			Prompt:       prompt,
			StatusCode:   resp.StatusCode,
			ErrorMessage: string(raw),
		}, start)
		return "", resp.StatusCode, fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(raw), 300))
	}

	var payload generateResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		c.record(ctx, clientdata.LLMCallLog{
			Model:        model,
			Prompt:       prompt,
			StatusCode:   resp.StatusCode,
			ErrorMessage: "malformed response: " + err.Error(),
		}, start)
		return "", resp.StatusCode, fmt.Errorf("malformed response: %w", err)
	}

	var text string
	if len(payload.Candidates) > 0 && len(payload.Candidates[0].Content.Parts) > 0 {
		text = payload.Candidates[0].Content.Parts[0].Text
	}

	entry := clientdata.LLMCallLog{
		Model:      model,
		Prompt:     prompt,
		Response:   text,
		StatusCode: resp.StatusCode,
		Success:    true,
	}
	if payload.UsageMetadata != nil {
		entry.PromptTokens = payload.UsageMetadata.PromptTokenCount
		entry.ResponseTokens = payload.UsageMetadata.CandidatesTokenCount
		entry.TotalTokens = payload.UsageMetadata.TotalTokenCount
	}
	c.record(ctx, entry, start)
	return text, resp.StatusCode, nil
}

// record stores a call log row; failures are logged and dropped
func (c *Client) record(ctx context.Context, entry clientdata.LLMCallLog, start time.Time) {
	if c.recorder == nil {
		return
	}
	entry.Provider = "gemini"
	entry.DurationMs = c.now().Sub(start).Milliseconds()
	if err := c.recorder.RecordLLMCall(ctx, entry); err != nil {
		c.log.Warn().Err(err).Msg("Failed to save Gemini call log")
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
