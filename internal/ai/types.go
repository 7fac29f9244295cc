package ai

import (
	"context"
	"errors"
)

// Keys added to a structured result when the model reply could not be parsed.
const (
	RawResponseKey = "_raw_response"
	ParseErrorKey  = "_parse_error"
)

var (
	// ErrDisabled is returned when no backend model is configured.
	ErrDisabled = errors.New("model backend disabled")
	// ErrConnection marks failures to reach the backend.
	ErrConnection = errors.New("model backend unreachable")
	// ErrTimeout marks requests that exceeded the backend timeout.
	ErrTimeout = errors.New("model backend timeout")
	// ErrStatus marks non-success HTTP responses from the backend.
	ErrStatus = errors.New("model backend error status")
	// ErrParse marks a reply that did not contain a JSON object.
	ErrParse = errors.New("model reply is not valid JSON")
)

// Request describes one generation call.
type Request struct {
	Prompt      string
	System      string
	Temperature float64
	MaxTokens   int
	// JSON asks the backend to constrain its output to a JSON object.
	JSON bool
}

// Result is the outcome of a structured generation call. OK is false when
// the reply could not be parsed; Data then carries RawResponseKey and
// ParseErrorKey.
type Result struct {
	Data map[string]any
	OK   bool
	Raw  string
}

// Generator produces raw text completions.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
	Model() string
}

// StructuredGenerator produces parsed JSON objects. A returned error means
// the backend could not be reached or answered with an error status; a
// reply that is not JSON is reported through Result.OK instead.
type StructuredGenerator interface {
	GenerateStructured(ctx context.Context, req Request) (Result, error)
}

// Retryable reports whether err is a transient backend failure.
func Retryable(err error) bool {
	return errors.Is(err, ErrConnection) || errors.Is(err, ErrTimeout)
}
