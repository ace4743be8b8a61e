// Package llmsummary generates a short natural-language summary of a
// squashed commit range via Claude, so a squash doesn't have to fall back
// to a bare concatenation of the original commit messages.
package llmsummary

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

func anthropicAPIKeyFromEnv() string {
	return os.Getenv("ANTHROPIC_API_KEY")
}

const (
	defaultModel   = "claude-3-5-haiku-20241022"
	maxRetries     = 3
	initialBackoff = 1 * time.Second
)

// ErrAPIKeyRequired is returned when NewClient is called without a key and
// ANTHROPIC_API_KEY is unset.
var ErrAPIKeyRequired = errors.New("llmsummary: API key required")

// Client summarizes squashed commit messages into a single line.
type Client struct {
	client         anthropic.Client
	model          anthropic.Model
	maxRetries     int
	initialBackoff time.Duration
}

// NewClient builds a Client. The ANTHROPIC_API_KEY environment variable
// takes precedence over apiKey when set.
func NewClient(apiKey string) (*Client, error) {
	if envKey := anthropicAPIKeyFromEnv(); envKey != "" {
		apiKey = envKey
	}
	if apiKey == "" {
		return nil, ErrAPIKeyRequired
	}
	return &Client{
		client:         anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:          defaultModel,
		maxRetries:     maxRetries,
		initialBackoff: initialBackoff,
	}, nil
}

// Summarize condenses the oldest-first commit messages of a squash range
// into one sentence describing the net effect of the range.
func (c *Client) Summarize(ctx context.Context, messages []string) (string, error) {
	prompt := buildPrompt(messages)
	return c.callWithRetry(ctx, prompt)
}

func buildPrompt(messages []string) string {
	var b strings.Builder
	b.WriteString("The following is an ordered list of commit messages from an autonomous agent's state history, oldest first. ")
	b.WriteString("Write a single sentence describing the net effect of squashing them into one commit. Do not list each message individually.\n\n")
	for i, m := range messages {
		fmt.Fprintf(&b, "%d. %s\n", i+1, m)
	}
	return b.String()
}

func (c *Client) callWithRetry(ctx context.Context, prompt string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 256,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.initialBackoff * time.Duration(math.Pow(2, float64(attempt-1)))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		message, err := c.client.Messages.New(ctx, params)
		if err == nil {
			if len(message.Content) == 0 {
				return "", fmt.Errorf("llmsummary: empty response")
			}
			content := message.Content[0]
			if content.Type != "text" {
				return "", fmt.Errorf("llmsummary: unexpected content type %q", content.Type)
			}
			return strings.TrimSpace(content.Text), nil
		}

		lastErr = err
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if !isRetryable(err) {
			return "", fmt.Errorf("llmsummary: non-retryable error: %w", err)
		}
	}
	return "", fmt.Errorf("llmsummary: failed after %d attempts: %w", c.maxRetries+1, lastErr)
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return false
}
