package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jordanhubbard/mend/internal/telemetry"
)

// OllamaProvider implements Service for Ollama's native chat API.
// See: https://github.com/ollama/ollama/blob/main/docs/api.md
type OllamaProvider struct {
	cfg      Config
	endpoint string
	client   *http.Client
}

func NewOllamaProvider(cfg Config) *OllamaProvider {
	return &OllamaProvider{
		cfg:      cfg,
		endpoint: strings.TrimSuffix(cfg.Endpoint, "/"),
		client: &http.Client{
			Timeout: cfg.timeout(),
		},
	}
}

func (p *OllamaProvider) Complete(ctx context.Context, req *CompletionRequest) (string, error) {
	ctx, span := telemetry.Tracer.Start(ctx, "provider.complete",
		trace.WithAttributes(attribute.String("provider.type", "ollama"), attribute.String("provider.model", p.cfg.Model)))
	defer span.End()

	url := fmt.Sprintf("%s/api/chat", p.endpoint)
	if strings.TrimSpace(p.cfg.Model) == "" {
		return "", fmt.Errorf("model is required")
	}

	ollamaReq := struct {
		Model    string        `json:"model"`
		Messages []chatMessage `json:"messages"`
		Stream   bool          `json:"stream"`
		Options  struct {
			Temperature float64 `json:"temperature,omitempty"`
			NumPredict  int     `json:"num_predict,omitempty"`
		} `json:"options,omitempty"`
	}{
		Model:  p.cfg.Model,
		Stream: false,
	}
	ollamaReq.Options.Temperature = p.cfg.temperature(req)
	ollamaReq.Options.NumPredict = req.MaxTokens
	if req.System != "" {
		ollamaReq.Messages = append(ollamaReq.Messages, chatMessage{Role: "system", Content: req.System})
	}
	ollamaReq.Messages = append(ollamaReq.Messages, chatMessage{Role: "user", Content: req.Prompt})

	body, err := json.Marshal(ollamaReq)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(respBody))
	}

	var ollamaResp struct {
		Message chatMessage `json:"message"`
		Done    bool        `json:"done"`
	}
	if err := json.Unmarshal(respBody, &ollamaResp); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return ollamaResp.Message.Content, nil
}
