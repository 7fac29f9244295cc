package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, baseURL string, httpClient *http.Client) *Client {
	t.Helper()
	client, err := NewClient(Config{
		BaseURL:        baseURL,
		Model:          "test-model",
		EmbeddingModel: "test-embed",
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		HTTPClient:     httpClient,
	})
	require.NoError(t, err)
	return client
}

func TestNewClientRequiresModel(t *testing.T) {
	_, err := NewClient(Config{})
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestGenerateSendsOllamaPayload(t *testing.T) {
	var got generateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/generate", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(map[string]any{"response": `{"ok": true}`, "done": true})
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, nil)
	res, err := client.GenerateStructured(context.Background(), Request{
		Prompt:      "hello",
		System:      "be terse",
		Temperature: 0.1,
		MaxTokens:   256,
	})
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, true, res.Data["ok"])

	assert.Equal(t, "test-model", got.Model)
	assert.Equal(t, "hello", got.Prompt)
	assert.Equal(t, "be terse", got.System)
	assert.False(t, got.Stream)
	assert.Equal(t, "json", got.Format)
	assert.Equal(t, 0.1, got.Options.Temperature)
	assert.Equal(t, 256, got.Options.NumPredict)
	assert.Equal(t, 8192, got.Options.NumCtx)
}

func TestGenerateStatusErrorIsNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, nil)
	_, err := client.Generate(context.Background(), Request{Prompt: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStatus)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestGenerateRetriesTimeoutWhileReadingBody(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"response": "partial`))
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, &http.Client{Timeout: 50 * time.Millisecond})
	_, err := client.Generate(context.Background(), Request{Prompt: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.True(t, Retryable(err))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestDecodeBodyMalformedIsNotTransport(t *testing.T) {
	var out generateResponse
	err := decodeBody(context.Background(), strings.NewReader("not json"), &out, "response")
	require.Error(t, err)
	assert.False(t, Retryable(err))
	assert.Contains(t, err.Error(), "decode response")
}

type flakyTransport struct {
	failures int32
	calls    int32
	next     http.RoundTripper
}

func (f *flakyTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	n := atomic.AddInt32(&f.calls, 1)
	if n <= f.failures {
		return nil, errors.New("connection refused")
	}
	return f.next.RoundTrip(r)
}

func TestGenerateRetriesConnectionErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"response": "done"})
	}))
	defer srv.Close()

	transport := &flakyTransport{failures: 2, next: http.DefaultTransport}
	client := newTestClient(t, srv.URL, &http.Client{Transport: transport})

	text, err := client.Generate(context.Background(), Request{Prompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, "done", text)
	assert.Equal(t, int32(3), atomic.LoadInt32(&transport.calls))
}

func TestGenerateGivesUpAfterMaxAttempts(t *testing.T) {
	transport := &flakyTransport{failures: 10, next: http.DefaultTransport}
	client := newTestClient(t, "http://127.0.0.1:1", &http.Client{Transport: transport})

	_, err := client.Generate(context.Background(), Request{Prompt: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnection)
	assert.Equal(t, int32(3), atomic.LoadInt32(&transport.calls))
}

func TestGenerateHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	client := newTestClient(t, "http://127.0.0.1:1", nil)

	_, err := client.Generate(ctx, Request{Prompt: "x"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestListModelsAndEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"models": []map[string]any{{"name": "llama3.1:8b"}, {"name": "nomic-embed-text"}},
			})
		case "/api/embeddings":
			var req embeddingRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			assert.Equal(t, "test-embed", req.Model)
			_ = json.NewEncoder(w).Encode(map[string]any{"embedding": []float64{0.1, 0.2, 0.3}})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, nil)
	models, err := client.ListModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"llama3.1:8b", "nomic-embed-text"}, models)
	require.NoError(t, client.Health(context.Background()))

	vec, err := client.Embed(context.Background(), "text")
	require.NoError(t, err)
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, vec)
}

type stubGenerator struct {
	model string
	text  string
	err   error
	calls int
}

func (s *stubGenerator) Generate(ctx context.Context, req Request) (string, error) {
	s.calls++
	return s.text, s.err
}

func (s *stubGenerator) Model() string { return s.model }

func TestWithFallback(t *testing.T) {
	primary := &stubGenerator{model: "big", err: ErrConnection}
	fallback := &stubGenerator{model: "small", text: "fallback"}

	gen := WithFallback(primary, fallback)
	text, err := gen.Generate(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, "fallback", text)
	assert.Equal(t, "big", gen.Model())

	primary.err = nil
	primary.text = "primary"
	text, err = gen.Generate(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, "primary", text)
	assert.Equal(t, 1, fallback.calls)

	assert.Same(t, primary, WithFallback(primary, nil))
}

func TestWithFallbackOnlyForConnectivity(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		fallback bool
	}{
		{"connection", fmt.Errorf("%w: refused", ErrConnection), true},
		{"timeout", fmt.Errorf("%w: slow", ErrTimeout), true},
		{"status", fmt.Errorf("%w 404: model not found", ErrStatus), false},
		{"other", errors.New("boom"), false},
	}
	for _, tc := range cases {
		primary := &stubGenerator{model: "big", err: tc.err}
		fallback := &stubGenerator{model: "small", text: "fallback"}

		text, err := WithFallback(primary, fallback).Generate(context.Background(), Request{})
		if tc.fallback {
			require.NoError(t, err, tc.name)
			assert.Equal(t, "fallback", text, tc.name)
			assert.Equal(t, 1, fallback.calls, tc.name)
			continue
		}
		assert.ErrorIs(t, err, tc.err, tc.name)
		assert.Zero(t, fallback.calls, tc.name)
	}
}

func TestWithFallbackSkipsOnCancellation(t *testing.T) {
	primary := &stubGenerator{model: "big", err: context.Canceled}
	fallback := &stubGenerator{model: "small", text: "fallback"}

	_, err := WithFallback(primary, fallback).Generate(context.Background(), Request{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, fallback.calls)
}
