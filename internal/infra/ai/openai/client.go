package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/bryanwahyu/threat-modeling-mate/internal/domain/threatmodel"
)

const (
	DefaultModel       = "gpt-4o"
	DefaultMaxTokens   = 4096
	DefaultTemperature = 0.3
)

// Options configure the model call. Zero values fall back to the defaults.
type Options struct {
	Provider    string // openai | azure
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float32
	// Timeout bounds a single call; zero means wait for the backend.
	Timeout time.Duration
}

// Client implements threatmodel.Invoker on top of the chat completions API.
type Client struct {
	*openai.Client
	Model       string
	MaxTokens   int
	Temperature float32
	Timeout     time.Duration
}

func NewClient(opts Options) *Client {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.Provider == "azure" {
		cfg = openai.DefaultAzureConfig(opts.APIKey, opts.BaseURL)
	} else if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}

	c := &Client{
		Client:      openai.NewClientWithConfig(cfg),
		Model:       opts.Model,
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
		Timeout:     opts.Timeout,
	}
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.Temperature == 0 {
		c.Temperature = DefaultTemperature
	}
	return c
}

// Invoke sends the prompt as the only user message and returns the text of
// the first choice. It does not retry; every failure comes back as a
// *threatmodel.ModelInvocationError.
func (c *Client) Invoke(ctx context.Context, prompt string) (string, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	req := openai.ChatCompletionRequest{
		Model:       c.Model,
		Temperature: c.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}
	// For reasoning models (o1/o3/o4/gpt-5*) use MaxCompletionTokens instead of MaxTokens.
	// They only accept the default temperature.
	if isReasoningModel(c.Model) {
		req.MaxCompletionTokens = c.MaxTokens
		req.Temperature = 0
	} else {
		req.MaxTokens = c.MaxTokens
	}

	resp, err := c.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", classify(err, c.Model)
	}
	if len(resp.Choices) == 0 {
		return "", &threatmodel.ModelInvocationError{
			Reason: threatmodel.ReasonEmptyResponse,
			Model:  c.Model,
			Err:    errors.New("response has no choices"),
		}
	}

	return resp.Choices[0].Message.Content, nil
}

func isReasoningModel(model string) bool {
	for _, p := range []string{"o1", "o3", "o4", "gpt-5"} {
		if strings.HasPrefix(model, p) {
			return true
		}
	}
	return false
}

// classify maps go-openai errors onto an invocation reason, using the HTTP
// status when the backend returned one.
func classify(err error, model string) *threatmodel.ModelInvocationError {
	ie := &threatmodel.ModelInvocationError{Model: model, Err: fmt.Errorf("failed to create chat completion: %w", err)}

	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		ie.Status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		ie.Status = reqErr.HTTPStatusCode
	}
	if ie.Status > 0 {
		ie.Reason = reasonFromStatus(ie.Status)
		return ie
	}

	if errors.Is(err, context.DeadlineExceeded) {
		ie.Reason = threatmodel.ReasonTimeout
		return ie
	}

	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "unauthorized") || strings.Contains(lower, "invalid api key"):
		ie.Reason = threatmodel.ReasonAuth
	case strings.Contains(lower, "rate limit") || strings.Contains(lower, "too many requests"):
		ie.Reason = threatmodel.ReasonRateLimit
	case strings.Contains(lower, "timeout"):
		ie.Reason = threatmodel.ReasonTimeout
	default:
		ie.Reason = threatmodel.ReasonUnknown
	}
	return ie
}

func reasonFromStatus(status int) threatmodel.InvocationReason {
	switch status {
	case 400, 404, 422:
		return threatmodel.ReasonFormat
	case 401, 403:
		return threatmodel.ReasonAuth
	case 402:
		return threatmodel.ReasonBilling
	case 429:
		return threatmodel.ReasonRateLimit
	case 408, 504:
		return threatmodel.ReasonTimeout
	case 500, 502, 503, 529:
		return threatmodel.ReasonOverloaded
	default:
		return threatmodel.ReasonUnknown
	}
}
