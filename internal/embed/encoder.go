package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"time"
)

// Embedder is the backend capability the encoder needs.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Config drives encoder behaviour.
type Config struct {
	CacheTTL time.Duration
	// MaxChars bounds the text sent to the backend.
	MaxChars int
}

// Encoder turns text into embedding vectors with a TTL cache.
type Encoder struct {
	backend  Embedder
	cacheTTL time.Duration
	maxChars int
	cache    sync.Map // map[string]cacheEntry
	now      func() time.Time
}

type cacheEntry struct {
	at     time.Time
	vector []float64
}

// ErrEmptyText is returned when there is nothing to encode.
var ErrEmptyText = errors.New("embed: empty text")

// NewEncoder constructs an Encoder around a backend.
func NewEncoder(backend Embedder, cfg Config) (*Encoder, error) {
	if backend == nil {
		return nil, errors.New("embed: backend is required")
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	maxChars := cfg.MaxChars
	if maxChars <= 0 {
		maxChars = 2000
	}
	return &Encoder{
		backend:  backend,
		cacheTTL: ttl,
		maxChars: maxChars,
		now:      time.Now,
	}, nil
}

// Encode returns the embedding for text, serving repeated texts from cache.
func (e *Encoder) Encode(ctx context.Context, text string) ([]float64, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyText
	}
	if runes := []rune(text); len(runes) > e.maxChars {
		text = string(runes[:e.maxChars])
	}

	key := cacheKey(text)
	if entry, ok := e.cache.Load(key); ok {
		cached := entry.(cacheEntry)
		if e.now().Sub(cached.at) < e.cacheTTL {
			return cached.vector, nil
		}
		e.cache.Delete(key)
	}

	vector, err := e.backend.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	e.cache.Store(key, cacheEntry{at: e.now(), vector: vector})
	return vector, nil
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
