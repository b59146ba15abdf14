package aiprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
)

// Environment variables resolving the default HTTP-backed Provider.
// Deliberately separate from the REMOTE_DB_* settings: the AI endpoint
// is an external collaborator, and this adapter is the thin capability
// boundary cmd/chat.go wires in.
const (
	EnvEndpoint = "AI_PROVIDER_URL"
	EnvAPIKey   = "AI_PROVIDER_KEY"
	EnvModel    = "AI_PROVIDER_MODEL"
)

// HTTPConfig parameterizes HTTPProvider.
type HTTPConfig struct {
	Endpoint string
	APIKey   string
	Model    string
	Client   *http.Client
}

// ConfigFromEnv builds an HTTPConfig from AI_PROVIDER_URL/KEY/MODEL,
// reporting ok=false when no endpoint is configured.
func ConfigFromEnv() (HTTPConfig, bool) {
	endpoint := os.Getenv(EnvEndpoint)
	if endpoint == "" {
		return HTTPConfig{}, false
	}
	return HTTPConfig{
		Endpoint: endpoint,
		APIKey:   os.Getenv(EnvAPIKey),
		Model:    os.Getenv(EnvModel),
	}, true
}

// HTTPProvider is the concrete Provider cmd/chat.go supplies to
// RequestController when an HTTP-compatible AI endpoint is configured. It
// is intentionally thin: a {prompt, history[]} -> JSON envelope, leaving
// field-name disagreements between providers to Text's fallback chain.
type HTTPProvider struct {
	cfg HTTPConfig
}

// NewHTTP builds an HTTPProvider.
func NewHTTP(cfg HTTPConfig) *HTTPProvider {
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}
	return &HTTPProvider{cfg: cfg}
}

type httpRequest struct {
	Model   string    `json:"model,omitempty"`
	Prompt  string    `json:"prompt"`
	History []Message `json:"history,omitempty"`
}

type httpResponse struct {
	DirectAnswer string `json:"directAnswer"`
	Response     string `json:"response"`
	Message      string `json:"message"`
	Output       string `json:"output"`
	TokensUsed   int64  `json:"tokens_used"`
}

// Ask implements Provider. The AI call has no default timeout of its
// own: cancellation is entirely user-driven through the ctx
// RequestController binds to the AI-scoped token.
func (p *HTTPProvider) Ask(ctx context.Context, question string, history []Message) (Result, error) {
	body, err := json.Marshal(httpRequest{Model: p.cfg.Model, Prompt: question, History: history})
	if err != nil {
		return Result{}, fmt.Errorf("encode ai request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build ai request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	resp, err := p.cfg.Client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("ai request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("read ai response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("ai provider returned %s: %s", resp.Status, string(data))
	}

	var raw any
	_ = json.Unmarshal(data, &raw)

	var out httpResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return Result{Raw: raw}, fmt.Errorf("decode ai response: %w", err)
	}

	return Result{
		DirectAnswer: out.DirectAnswer,
		Response:     out.Response,
		Message:      out.Message,
		Output:       out.Output,
		TokensUsed:   out.TokensUsed,
		Raw:          raw,
	}, nil
}

// EchoProvider is the no-endpoint-configured fallback: it never leaves
// the process, so `chat` stays runnable for local development without a
// live AI endpoint.
type EchoProvider struct{}

// Ask implements Provider by echoing the question back as the answer.
func (EchoProvider) Ask(ctx context.Context, question string, history []Message) (Result, error) {
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	default:
	}
	return Result{DirectAnswer: "echo: " + question}, nil
}
