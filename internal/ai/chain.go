package ai

import (
	"context"

	"github.com/sirupsen/logrus"
)

type generatorChain struct {
	primary  Generator
	fallback Generator
}

// WithFallback returns a generator that first tries the primary model and
// falls back to the secondary one when the primary backend is unreachable
// or times out. Status errors and cancellation of ctx are returned as is.
func WithFallback(primary, fallback Generator) Generator {
	if primary == nil {
		return fallback
	}
	if fallback == nil {
		return primary
	}
	return &generatorChain{primary: primary, fallback: fallback}
}

func (c *generatorChain) Model() string {
	return c.primary.Model()
}

func (c *generatorChain) Generate(ctx context.Context, req Request) (string, error) {
	text, err := c.primary.Generate(ctx, req)
	if err == nil {
		return text, nil
	}
	if ctx.Err() != nil || !Retryable(err) {
		return "", err
	}
	logrus.WithFields(logrus.Fields{
		"primary":  c.primary.Model(),
		"fallback": c.fallback.Model(),
	}).WithError(err).Warn("primary model failed, using fallback")
	return c.fallback.Generate(ctx, req)
}
