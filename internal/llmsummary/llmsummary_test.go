package llmsummary

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
)

func TestNewClientRequiresAPIKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	if _, err := NewClient(""); !errors.Is(err, ErrAPIKeyRequired) {
		t.Errorf("expected ErrAPIKeyRequired, got %v", err)
	}
}

func TestNewClientEnvOverridesArg(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "env-key")
	c, err := NewClient("arg-key")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if c == nil {
		t.Fatal("expected non-nil client")
	}
}

func TestBuildPromptListsMessagesInOrder(t *testing.T) {
	prompt := buildPrompt([]string{"first", "second", "third"})
	if !strings.Contains(prompt, "1. first") || !strings.Contains(prompt, "3. third") {
		t.Errorf("expected numbered messages in prompt, got %q", prompt)
	}
}

type fakeTimeoutErr struct{}

func (fakeTimeoutErr) Error() string   { return "timeout" }
func (fakeTimeoutErr) Timeout() bool   { return true }
func (fakeTimeoutErr) Temporary() bool { return true }

var _ net.Error = fakeTimeoutErr{}

func TestIsRetryableClassifiesErrors(t *testing.T) {
	if isRetryable(nil) {
		t.Errorf("nil should not be retryable")
	}
	if isRetryable(context.Canceled) {
		t.Errorf("context.Canceled should not be retryable")
	}
	if isRetryable(context.DeadlineExceeded) {
		t.Errorf("context.DeadlineExceeded should not be retryable")
	}
	if !isRetryable(fakeTimeoutErr{}) {
		t.Errorf("net.Error timeout should be retryable")
	}
	rateLimited := &anthropic.Error{StatusCode: 429}
	if !isRetryable(rateLimited) {
		t.Errorf("429 should be retryable")
	}
	serverErr := &anthropic.Error{StatusCode: 503}
	if !isRetryable(serverErr) {
		t.Errorf("503 should be retryable")
	}
	badRequest := &anthropic.Error{StatusCode: 400}
	if isRetryable(badRequest) {
		t.Errorf("400 should not be retryable")
	}
}
