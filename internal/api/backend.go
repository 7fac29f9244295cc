package api

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"faris/backend/internal/ai"
	"faris/backend/internal/config"
	"faris/backend/internal/embed"
	"faris/backend/internal/patterns"
)

// Backend bundles the model clients built from settings.
type Backend struct {
	Client    *ai.Client
	Generator ai.Generator
	Encoder   patterns.Encoder
}

// NewBackend builds the Ollama client, the optional fallback model and the
// embedding encoder described by settings.
func NewBackend(settings config.Settings) (*Backend, error) {
	base := ai.Config{
		BaseURL:        settings.Model.BaseURL,
		Model:          settings.Model.Name,
		EmbeddingModel: settings.Model.EmbeddingName,
		Timeout:        settings.Model.Timeout,
		ContextWindow:  settings.Model.ContextWindow,
		MaxAttempts:    settings.Model.MaxAttempts,
		InitialBackoff: settings.Model.InitialBackoff,
		MaxBackoff:     settings.Model.MaxBackoff,
	}
	client, err := ai.NewClient(base)
	if err != nil {
		return nil, fmt.Errorf("model client: %w", err)
	}
	b := &Backend{Client: client, Generator: client}

	if name := settings.Model.FallbackName; name != "" && name != settings.Model.Name {
		fallbackCfg := base
		fallbackCfg.Model = name
		fallback, err := ai.NewClient(fallbackCfg)
		if err != nil {
			return nil, fmt.Errorf("fallback model client: %w", err)
		}
		b.Generator = ai.WithFallback(client, fallback)
		logrus.WithField("fallback_model", name).Info("model fallback enabled")
	}

	if settings.DisableEmbeddings || settings.Model.EmbeddingName == "" {
		logrus.Info("embeddings disabled, similarity search uses pattern signatures")
		return b, nil
	}
	encoder, err := embed.NewEncoder(client, embed.Config{CacheTTL: settings.EmbeddingCacheTTL})
	if err != nil {
		return nil, fmt.Errorf("embedding encoder: %w", err)
	}
	b.Encoder = encoder
	return b, nil
}

// Apply copies the backend into a server config.
func (b *Backend) Apply(cfg *Config) {
	cfg.Model = b.Generator
	cfg.Backend = b.Client
	cfg.Encoder = b.Encoder
}
