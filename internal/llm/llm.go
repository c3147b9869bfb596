// Package llm implements the LM Classifier: calls an external language-model
// HTTP endpoint with a fixed prompt, parses/repairs/validates its JSON
// answer, and reports token usage and cost. The Provider abstraction is
// narrowed from dsmolchanov-nerve's internal/llm.Provider interface
// (Classify/Extract/Draft) down to the single Classify operation this
// pipeline needs; the raw-JSON-POST HTTP mechanics follow
// dsmolchanov-nerve's internal/billing/stripe.go form-POST idiom, adapted to
// a JSON body with a bearer Authorization header.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/stoik/mailsub/internal/domain"
	"github.com/stoik/mailsub/internal/ports"
)

// ErrAuthentication is returned for an HTTP 401 from the LM endpoint — not
// retriable.
var ErrAuthentication = errors.New("llm: authentication rejected")

// ErrLMDisabled is returned by Classify when no API key is configured.
var ErrLMDisabled = errors.New("llm: classifier disabled, no API key configured")

// DefaultRetryDelays is the fixed backoff schedule for HTTP 429/500/503,
// used when New is given a nil retryDelays.
var DefaultRetryDelays = []time.Duration{10 * time.Second, 30 * time.Second, 90 * time.Second}

const (
	DefaultMaxTokens   = 500
	DefaultTemperature = 0
	DefaultCallTimeout = 15 * time.Second
	APIVersion         = "2023-06-01"

	// MaxAttempts caps the calls Classify makes, however many RetryDelays
	// are configured.
	MaxAttempts = 3
)

// Client is the concrete ports.LMClassifier implementation.
type Client struct {
	Endpoint   string
	APIKey     string
	Model      string
	HTTPClient *http.Client

	MaxTokens            int
	Temperature          float64
	CallTimeout          time.Duration
	RetryDelays          []time.Duration
	ContentTruncateChars int

	// Sleep is injected so tests can run the retry schedule without
	// actually sleeping.
	Sleep func(time.Duration)
}

// New returns a Client. An empty apiKey leaves the classifier disabled;
// callers must check Enabled before invoking it. maxTokens, temperature,
// callTimeout, retryDelays and contentTruncateChars configure the request
// body, the retry schedule and the prompt's body-truncation cap; a zero
// maxTokens, zero callTimeout, nil retryDelays or zero contentTruncateChars
// falls back to its Default.
func New(endpoint, apiKey, model string, maxTokens int, temperature float64, callTimeout time.Duration, retryDelays []time.Duration, contentTruncateChars int) *Client {
	if maxTokens == 0 {
		maxTokens = DefaultMaxTokens
	}
	if callTimeout == 0 {
		callTimeout = DefaultCallTimeout
	}
	if retryDelays == nil {
		retryDelays = DefaultRetryDelays
	}
	if contentTruncateChars == 0 {
		contentTruncateChars = DefaultTruncateChars
	}
	return &Client{
		Endpoint:             endpoint,
		APIKey:               apiKey,
		Model:                model,
		HTTPClient:           &http.Client{},
		MaxTokens:            maxTokens,
		Temperature:          temperature,
		CallTimeout:          callTimeout,
		RetryDelays:          retryDelays,
		ContentTruncateChars: contentTruncateChars,
		Sleep:                time.Sleep,
	}
}

func (c *Client) contentTruncateChars() int {
	if c.ContentTruncateChars == 0 {
		return DefaultTruncateChars
	}
	return c.ContentTruncateChars
}

// Enabled reports whether an API key is configured.
func (c *Client) Enabled() bool {
	return c.APIKey != ""
}

type requestBody struct {
	Model       string        `json:"model"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	Messages    []messageBody `json:"messages"`
}

type messageBody struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseBody struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Classify satisfies ports.LMClassifier.
func (c *Client) Classify(ctx context.Context, row domain.MailRow) (ports.Verdict, ports.Usage, error) {
	if !c.Enabled() {
		return ports.Verdict{}, ports.Usage{}, ErrLMDisabled
	}

	prompt := buildPrompt(row, c.contentTruncateChars())
	body, err := json.Marshal(requestBody{
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: c.Temperature,
		Messages:    []messageBody{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return ports.Verdict{}, ports.Usage{}, fmt.Errorf("llm: encode request: %w", err)
	}

	attempts := len(c.RetryDelays) + 1
	if attempts > MaxAttempts {
		attempts = MaxAttempts
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		resp, usage, err := c.call(ctx, body)
		if err == nil {
			return resp, usage, nil
		}
		if errors.Is(err, ErrAuthentication) {
			return ports.Verdict{}, ports.Usage{}, err
		}
		lastErr = err
		if attempt < attempts-1 {
			c.Sleep(c.RetryDelays[attempt])
		}
	}
	return ports.Verdict{}, ports.Usage{}, fmt.Errorf("llm: exhausted retries: %w", lastErr)
}

func (c *Client) call(ctx context.Context, body []byte) (ports.Verdict, ports.Usage, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.CallTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.Endpoint, bytes.NewReader(body))
	if err != nil {
		return ports.Verdict{}, ports.Usage{}, fmt.Errorf("llm: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("anthropic-version", APIVersion)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return ports.Verdict{}, ports.Usage{}, fmt.Errorf("llm: request: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return ports.Verdict{}, ports.Usage{}, fmt.Errorf("%w: %s", ErrAuthentication, string(raw))
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusServiceUnavailable:
		return ports.Verdict{}, ports.Usage{}, fmt.Errorf("llm: retriable status %d: %s", resp.StatusCode, string(raw))
	}
	if resp.StatusCode != http.StatusOK {
		return ports.Verdict{}, ports.Usage{}, fmt.Errorf("llm: unexpected status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed responseBody
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return ports.Verdict{}, ports.Usage{}, fmt.Errorf("llm: decode response envelope: %w", err)
	}
	if len(parsed.Content) == 0 {
		return ports.Verdict{}, ports.Usage{}, errors.New("llm: empty content array in response")
	}

	verdict, err := parseResponse(parsed.Content[0].Text)
	if err != nil {
		return ports.Verdict{}, ports.Usage{}, err
	}

	usage := ports.Usage{InputTokens: parsed.Usage.InputTokens, OutputTokens: parsed.Usage.OutputTokens}
	return verdict, usage, nil
}
