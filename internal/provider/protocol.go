package provider

import (
	"context"
	"fmt"
	"time"
)

// CompletionRequest is the system's contract with the AI completion
// service: system instructions, a user prompt, and sampling settings.
// The response is a single free-text completion that callers must
// tolerate being unstructured or empty.
type CompletionRequest struct {
	System      string  `json:"system"`
	Prompt      string  `json:"prompt"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

// Service is the opaque text-completion backend. Implementations must
// respect ctx cancellation; callers take deterministic fallback paths
// on any error.
type Service interface {
	Complete(ctx context.Context, req *CompletionRequest) (string, error)
}

// Config selects and configures a concrete provider. Temperature is
// the sampling default for requests that leave it unset; Timeout bounds
// each HTTP round trip.
type Config struct {
	Type        string // "openai" or "ollama"
	Endpoint    string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

func (c Config) timeout() time.Duration {
	if c.Timeout <= 0 {
		return 60 * time.Second
	}
	return c.Timeout
}

// temperature resolves the effective sampling temperature for a
// request: the request's own setting wins, then the configured default.
func (c Config) temperature(req *CompletionRequest) float64 {
	if req.Temperature != 0 {
		return req.Temperature
	}
	return c.Temperature
}

// New constructs a provider for the configured backend type.
func New(cfg Config) (Service, error) {
	switch cfg.Type {
	case "openai", "":
		return NewOpenAIProvider(cfg), nil
	case "ollama":
		return NewOllamaProvider(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported provider type: %s", cfg.Type)
	}
}
