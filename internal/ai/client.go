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

	"github.com/sirupsen/logrus"

	"faris/backend/internal/metrics"
)

// Config holds Ollama configuration parameters.
type Config struct {
	BaseURL        string
	Model          string
	EmbeddingModel string
	Timeout        time.Duration
	ContextWindow  int
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	HTTPClient     *http.Client
}

// Client talks to a local Ollama server.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	model          string
	embeddingModel string
	contextWindow  int
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewClient constructs a Client, filling unset options with defaults.
func NewClient(cfg Config) (*Client, error) {
	cfg.Model = strings.TrimSpace(cfg.Model)
	if cfg.Model == "" {
		return nil, ErrDisabled
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.ContextWindow <= 0 {
		cfg.ContextWindow = 8192
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 2 * time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 10 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		httpClient:     httpClient,
		baseURL:        cfg.BaseURL,
		model:          cfg.Model,
		embeddingModel: strings.TrimSpace(cfg.EmbeddingModel),
		contextWindow:  cfg.ContextWindow,
		maxAttempts:    cfg.MaxAttempts,
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
	}, nil
}

// Model returns the generation model name.
func (c *Client) Model() string {
	if c == nil {
		return ""
	}
	return c.model
}

// Generate sends a prompt and returns the raw completion, retrying
// connection failures and timeouts with exponential backoff.
func (c *Client) Generate(ctx context.Context, req Request) (string, error) {
	if c == nil {
		return "", ErrDisabled
	}

	delay := c.initialBackoff
	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		started := time.Now()
		text, err := c.generateOnce(ctx, req)
		if err == nil {
			metrics.RecordLLMCall(c.model, "success", time.Since(started))
			return text, nil
		}
		metrics.RecordLLMCall(c.model, "error", time.Since(started))

		lastErr = err
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if !Retryable(err) || attempt == c.maxAttempts-1 {
			break
		}

		logrus.WithFields(logrus.Fields{
			"model":   c.model,
			"attempt": attempt + 1,
			"delay":   delay.String(),
		}).WithError(err).Warn("model call failed, retrying")

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > c.maxBackoff {
			delay = c.maxBackoff
		}
	}
	return "", lastErr
}

// GenerateStructured generates a completion in JSON mode and parses it.
func (c *Client) GenerateStructured(ctx context.Context, req Request) (Result, error) {
	return NewStructured(c).GenerateStructured(ctx, req)
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
	NumCtx      int     `json:"num_ctx,omitempty"`
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	System  string          `json:"system,omitempty"`
	Stream  bool            `json:"stream"`
	Format  string          `json:"format,omitempty"`
	Options generateOptions `json:"options"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

func (c *Client) generateOnce(ctx context.Context, req Request) (string, error) {
	payload := generateRequest{
		Model:  c.model,
		Prompt: req.Prompt,
		System: req.System,
		Stream: false,
		Options: generateOptions{
			Temperature: req.Temperature,
			NumPredict:  req.MaxTokens,
			NumCtx:      c.contextWindow,
		},
	}
	if req.JSON {
		payload.Format = "json"
	}

	var decoded generateResponse
	if err := c.postJSON(ctx, "/api/generate", payload, &decoded); err != nil {
		return "", err
	}
	return decoded.Response, nil
}

type embeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embeddingResponse struct {
	Embedding []float64 `json:"embedding"`
}

// Embed returns the embedding vector for text using the embedding model.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	if c == nil || c.embeddingModel == "" {
		return nil, ErrDisabled
	}
	var decoded embeddingResponse
	if err := c.postJSON(ctx, "/api/embeddings", embeddingRequest{Model: c.embeddingModel, Prompt: text}, &decoded); err != nil {
		return nil, err
	}
	if len(decoded.Embedding) == 0 {
		return nil, errors.New("empty embedding returned")
	}
	return decoded.Embedding, nil
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// ListModels returns the names of models installed on the backend.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	if c == nil {
		return nil, ErrDisabled
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(ctx, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}
	var decoded tagsResponse
	if err := decodeBody(ctx, resp.Body, &decoded, "tags"); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(decoded.Models))
	for _, m := range decoded.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// Health reports whether the backend is reachable.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.ListModels(ctx)
	return err
}

func (c *Client) postJSON(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyTransportError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}
	return decodeBody(ctx, resp.Body, out, "response")
}

func classifyTransportError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrConnection, err)
}

// decodeBody reads a JSON body. A timeout or cancellation while the body
// is still streaming is classified like a transport failure.
func decodeBody(ctx context.Context, body io.Reader, out any, what string) error {
	err := json.NewDecoder(body).Decode(out)
	if err == nil {
		return nil
	}
	var netErr net.Error
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return classifyTransportError(ctx, err)
	}
	return fmt.Errorf("decode %s: %w", what, err)
}

func statusError(resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("%w %d: %s", ErrStatus, resp.StatusCode, strings.TrimSpace(string(snippet)))
}
