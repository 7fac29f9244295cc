package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidWeights is returned when the failure type weights do not sum to 1.
var ErrInvalidWeights = errors.New("failure weights must sum to 1.0")

// Weights holds the per failure type contribution to the risk score.
type Weights struct {
	Hallucination        float64 `yaml:"hallucination"`
	LogicalInconsistency float64 `yaml:"logical_inconsistency"`
	MissingAssumptions   float64 `yaml:"missing_assumptions"`
	Overconfidence       float64 `yaml:"overconfidence"`
	ScopeViolation       float64 `yaml:"scope_violation"`
	Underspecification   float64 `yaml:"underspecification"`
}

// Map returns the weights keyed by failure type name.
func (w Weights) Map() map[string]float64 {
	return map[string]float64{
		"hallucination":         w.Hallucination,
		"logical_inconsistency": w.LogicalInconsistency,
		"missing_assumptions":   w.MissingAssumptions,
		"overconfidence":        w.Overconfidence,
		"scope_violation":       w.ScopeViolation,
		"underspecification":    w.Underspecification,
	}
}

func (w Weights) sum() float64 {
	total := 0.0
	for _, v := range w.Map() {
		total += v
	}
	return total
}

// DomainMultipliers scales the risk score for sensitive domains.
type DomainMultipliers struct {
	General float64 `yaml:"general"`
	Finance float64 `yaml:"finance"`
	Medical float64 `yaml:"medical"`
	Legal   float64 `yaml:"legal"`
	Code    float64 `yaml:"code"`
}

// Map returns the multipliers keyed by domain name.
func (d DomainMultipliers) Map() map[string]float64 {
	return map[string]float64{
		"general": d.General,
		"finance": d.Finance,
		"medical": d.Medical,
		"legal":   d.Legal,
		"code":    d.Code,
	}
}

// Model configures the local model backend.
type Model struct {
	BaseURL        string        `yaml:"base_url"`
	Name           string        `yaml:"name"`
	FallbackName   string        `yaml:"fallback_name"`
	EmbeddingName  string        `yaml:"embedding_name"`
	Timeout        time.Duration `yaml:"timeout"`
	ContextWindow  int           `yaml:"context_window"`
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

// Settings is the full runtime configuration.
type Settings struct {
	Port               string            `yaml:"port"`
	DBPath             string            `yaml:"db_path"`
	AllowedOrigins     []string          `yaml:"allowed_origins"`
	LogLevel           string            `yaml:"log_level"`
	Debug              bool              `yaml:"debug"`
	Model              Model             `yaml:"model"`
	Weights            Weights           `yaml:"weights"`
	DomainMultipliers  DomainMultipliers `yaml:"domain_multipliers"`
	DetectionThreshold float64           `yaml:"detection_threshold"`
	EmbeddingCacheTTL  time.Duration     `yaml:"embedding_cache_ttl"`
	DisableEmbeddings  bool              `yaml:"disable_embeddings"`
	DisablePersistence bool              `yaml:"disable_persistence"`
	LexiconPath        string            `yaml:"lexicon_path"`
	Version            string            `yaml:"version"`
}

// Default returns the built-in settings.
func Default() Settings {
	return Settings{
		Port:           "8000",
		DBPath:         "data/faris.db",
		AllowedOrigins: []string{"http://localhost:3000", "http://127.0.0.1:3000"},
		LogLevel:       "info",
		Model: Model{
			BaseURL:        "http://localhost:11434",
			Name:           "llama3.1:8b",
			EmbeddingName:  "nomic-embed-text",
			Timeout:        120 * time.Second,
			ContextWindow:  4096,
			MaxAttempts:    3,
			InitialBackoff: 2 * time.Second,
			MaxBackoff:     10 * time.Second,
		},
		Weights: Weights{
			Hallucination:        0.35,
			LogicalInconsistency: 0.25,
			MissingAssumptions:   0.20,
			Overconfidence:       0.10,
			ScopeViolation:       0.05,
			Underspecification:   0.05,
		},
		DomainMultipliers: DomainMultipliers{
			General: 1.0,
			Finance: 1.5,
			Medical: 2.0,
			Legal:   1.8,
			Code:    1.3,
		},
		DetectionThreshold: 0.5,
		EmbeddingCacheTTL:  time.Hour,
		Version:            "1.0.0",
	}
}

// Load builds settings from defaults, an optional YAML file named by
// FARIS_CONFIG and environment overrides, in that order.
func Load() (Settings, error) {
	cfg := Default()
	if path := strings.TrimSpace(os.Getenv("FARIS_CONFIG")); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return Settings{}, err
		}
	}
	cfg.applyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return Settings{}, err
	}
	return cfg, nil
}

// LoadFile reads settings from a YAML file on top of the defaults.
func LoadFile(path string) (Settings, error) {
	cfg := Default()
	if err := cfg.mergeFile(path); err != nil {
		return Settings{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Settings{}, err
	}
	return cfg, nil
}

func (s *Settings) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, s); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (s *Settings) applyEnv(getenv func(string) string) {
	env := func(key string) string { return strings.TrimSpace(getenv(key)) }
	setFloat := func(key string, dst *float64) {
		if v := env(key); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				*dst = f
			}
		}
	}
	setBool := func(key string, dst *bool) {
		if v := env(key); v != "" {
			*dst = strings.EqualFold(v, "true") || v == "1"
		}
	}

	if v := env("PORT"); v != "" {
		s.Port = v
	}
	if v := env("FARIS_DB_PATH"); v != "" {
		s.DBPath = v
	}
	if v := env("CORS_ORIGINS"); v != "" {
		origins := make([]string, 0)
		for _, origin := range strings.Split(v, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				origins = append(origins, origin)
			}
		}
		s.AllowedOrigins = origins
	}
	if v := env("LOG_LEVEL"); v != "" {
		s.LogLevel = v
	}
	setBool("DEBUG", &s.Debug)

	if v := env("OLLAMA_BASE_URL"); v != "" {
		s.Model.BaseURL = v
	}
	if v := env("OLLAMA_MODEL"); v != "" {
		s.Model.Name = v
	}
	if v := env("OLLAMA_FALLBACK_MODEL"); v != "" {
		s.Model.FallbackName = v
	}
	if v := env("OLLAMA_EMBED_MODEL"); v != "" {
		s.Model.EmbeddingName = v
	}
	if v := env("OLLAMA_TIMEOUT"); v != "" {
		if d, err := parseSeconds(v); err == nil {
			s.Model.Timeout = d
		}
	}
	if v := env("OLLAMA_NUM_CTX"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			s.Model.ContextWindow = n
		}
	}
	if v := env("OLLAMA_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			s.Model.MaxAttempts = n
		}
	}

	setFloat("FAILURE_CONFIDENCE_THRESHOLD", &s.DetectionThreshold)
	setFloat("WEIGHT_HALLUCINATION", &s.Weights.Hallucination)
	setFloat("WEIGHT_LOGICAL_INCONSISTENCY", &s.Weights.LogicalInconsistency)
	setFloat("WEIGHT_MISSING_ASSUMPTIONS", &s.Weights.MissingAssumptions)
	setFloat("WEIGHT_OVERCONFIDENCE", &s.Weights.Overconfidence)
	setFloat("WEIGHT_SCOPE_VIOLATION", &s.Weights.ScopeViolation)
	setFloat("WEIGHT_UNDERSPECIFICATION", &s.Weights.Underspecification)
	setFloat("DOMAIN_MULTIPLIER_GENERAL", &s.DomainMultipliers.General)
	setFloat("DOMAIN_MULTIPLIER_FINANCE", &s.DomainMultipliers.Finance)
	setFloat("DOMAIN_MULTIPLIER_MEDICAL", &s.DomainMultipliers.Medical)
	setFloat("DOMAIN_MULTIPLIER_LEGAL", &s.DomainMultipliers.Legal)
	setFloat("DOMAIN_MULTIPLIER_CODE", &s.DomainMultipliers.Code)

	if v := env("EMBED_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			s.EmbeddingCacheTTL = d
		}
	}
	setBool("DISABLE_EMBEDDINGS", &s.DisableEmbeddings)
	setBool("DISABLE_PERSISTENCE", &s.DisablePersistence)
	if v := env("FARIS_LEXICON"); v != "" {
		s.LexiconPath = v
	}
}

// parseSeconds accepts either a Go duration or a bare number of seconds.
func parseSeconds(v string) (time.Duration, error) {
	if d, err := time.ParseDuration(v); err == nil {
		return d, nil
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, err
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// Validate checks the scoring configuration for consistency.
func (s Settings) Validate() error {
	if total := s.Weights.sum(); math.Abs(total-1.0) > 1e-6 {
		return fmt.Errorf("%w: got %.4f", ErrInvalidWeights, total)
	}
	for name, w := range s.Weights.Map() {
		if w < 0 {
			return fmt.Errorf("weight %s must not be negative", name)
		}
	}
	if s.DetectionThreshold < 0 || s.DetectionThreshold > 1 {
		return fmt.Errorf("detection threshold %.2f outside [0,1]", s.DetectionThreshold)
	}
	for name, m := range s.DomainMultipliers.Map() {
		if m <= 0 {
			return fmt.Errorf("domain multiplier %s must be positive", name)
		}
	}
	if strings.TrimSpace(s.Model.Name) == "" {
		return errors.New("model name is required")
	}
	return nil
}
