// Package config loads gazette settings from defaults, an optional YAML
// file, a .env file and GAZETTE_* environment variables, in that order of
// increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/poiesic/gazette/ai"
	"github.com/poiesic/gazette/chunker"
	"github.com/poiesic/gazette/storage"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable read by ApplyEnv.
const EnvPrefix = "GAZETTE_"

// Embedder backends.
const (
	EmbedderOpenAI  = "openai"
	EmbedderHashing = "hashing"
)

// AISettings configures the embedding and summarization services.
type AISettings struct {
	Embedder        string  `yaml:"embedder"`
	EmbeddingHost   string  `yaml:"embedding_host"`
	SummarizerHost  string  `yaml:"summarizer_host"`
	EmbeddingModel  string  `yaml:"embedding_model"`
	SummarizerModel string  `yaml:"summarizer_model"`
	APIToken        string  `yaml:"api_token"`
	Temperature     float64 `yaml:"temperature"`
	MaxTopics       int     `yaml:"max_topics"`
	Enrich          bool    `yaml:"enrich"`
	QueryCacheSize  int64   `yaml:"query_cache_size"`
}

// Settings is the complete runtime configuration.
type Settings struct {
	Collection  string `yaml:"collection"`
	Description string `yaml:"description"`
	DBPath      string `yaml:"db_path"`
	Metric      string `yaml:"metric"`

	MaxConcurrentRequests int           `yaml:"max_concurrent_requests"`
	RateLimitDelay        time.Duration `yaml:"rate_limit_delay"`
	RequestTimeout        time.Duration `yaml:"request_timeout"`
	UserAgent             string        `yaml:"user_agent"`

	ChunkMaxTokens int `yaml:"chunk_max_tokens"`
	ChunkOverlap   int `yaml:"chunk_overlap"`

	AI AISettings `yaml:"ai"`

	LogLevel string `yaml:"log_level"`
}

// Default returns the built-in settings.
func Default() *Settings {
	aiDefaults := ai.DefaultConfig()
	return &Settings{
		Collection:            "news_articles",
		Description:           "News articles collection",
		DBPath:                "./data/db",
		Metric:                string(storage.MetricL2),
		MaxConcurrentRequests: 5,
		RateLimitDelay:        time.Second,
		RequestTimeout:        30 * time.Second,
		ChunkMaxTokens:        chunker.DefaultMaxTokens,
		ChunkOverlap:          chunker.DefaultOverlap,
		AI: AISettings{
			Embedder:        EmbedderOpenAI,
			EmbeddingHost:   aiDefaults.EmbeddingHost,
			SummarizerHost:  aiDefaults.SummarizerHost,
			EmbeddingModel:  aiDefaults.EmbeddingModel,
			SummarizerModel: aiDefaults.SummarizerModel,
			APIToken:        aiDefaults.APIToken,
			Temperature:     aiDefaults.Temperature,
			MaxTopics:       aiDefaults.MaxTopics,
			Enrich:          true,
			QueryCacheSize:  1024,
		},
		LogLevel: "info",
	}
}

// Load builds settings from defaults, the YAML file at path (skipped when
// path is empty), ./.env if present and the environment, then validates them.
func Load(path string) (*Settings, error) {
	s := Default()
	if path != "" {
		if err := s.LoadFile(path); err != nil {
			return nil, err
		}
	}
	if err := LoadDotEnv(".env"); err != nil {
		return nil, err
	}
	if err := s.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// LoadFile overlays the YAML file at path onto s. Keys absent from the file
// keep their current values.
func (s *Settings) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, s); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

// Save writes s to path as YAML.
func (s *Settings) Save(path string) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// LoadDotEnv loads variables from the given .env files into the process
// environment without overriding variables that are already set. Missing
// files are ignored.
func LoadDotEnv(files ...string) error {
	var present []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			present = append(present, f)
		}
	}
	if len(present) == 0 {
		return nil
	}
	if err := godotenv.Load(present...); err != nil {
		return fmt.Errorf("loading env file: %w", err)
	}
	return nil
}

// ApplyEnv overrides settings from GAZETTE_* variables found by lookup.
// OPENAI_API_KEY is used as the API token when GAZETTE_API_TOKEN is unset.
func (s *Settings) ApplyEnv(lookup func(string) (string, bool)) error {
	get := func(name string) (string, bool) {
		v, ok := lookup(EnvPrefix + name)
		return strings.TrimSpace(v), ok && strings.TrimSpace(v) != ""
	}
	var errs []error
	str := func(name string, dst *string) {
		if v, ok := get(name); ok {
			*dst = v
		}
	}
	integer := func(name string, dst *int) {
		if v, ok := get(name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	duration := func(name string, dst *time.Duration) {
		if v, ok := get(name); ok {
			d, err := parseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = d
		}
	}

	str("COLLECTION", &s.Collection)
	str("DESCRIPTION", &s.Description)
	str("DB_PATH", &s.DBPath)
	str("METRIC", &s.Metric)
	integer("MAX_CONCURRENT_REQUESTS", &s.MaxConcurrentRequests)
	duration("RATE_LIMIT_DELAY", &s.RateLimitDelay)
	duration("REQUEST_TIMEOUT", &s.RequestTimeout)
	str("USER_AGENT", &s.UserAgent)
	integer("CHUNK_MAX_TOKENS", &s.ChunkMaxTokens)
	integer("CHUNK_OVERLAP", &s.ChunkOverlap)
	str("EMBEDDER", &s.AI.Embedder)
	str("EMBEDDING_HOST", &s.AI.EmbeddingHost)
	str("SUMMARIZER_HOST", &s.AI.SummarizerHost)
	str("EMBEDDING_MODEL", &s.AI.EmbeddingModel)
	str("SUMMARIZER_MODEL", &s.AI.SummarizerModel)
	integer("MAX_TOPICS", &s.AI.MaxTopics)
	str("LOG_LEVEL", &s.LogLevel)

	if v, ok := get("API_TOKEN"); ok {
		s.AI.APIToken = v
	} else if v, ok := lookup("OPENAI_API_KEY"); ok && v != "" {
		s.AI.APIToken = v
	}
	if v, ok := get("TEMPERATURE"); ok {
		t, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sTEMPERATURE: %w", EnvPrefix, err))
		} else {
			s.AI.Temperature = t
		}
	}
	if v, ok := get("ENRICH"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sENRICH: %w", EnvPrefix, err))
		} else {
			s.AI.Enrich = b
		}
	}
	return errors.Join(errs...)
}

// parseDuration accepts Go durations and plain numbers of seconds.
func parseDuration(v string) (time.Duration, error) {
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return time.ParseDuration(v)
}

// Validate checks that the settings are usable.
func (s *Settings) Validate() error {
	var errs []error
	if s.Collection == "" || strings.ContainsAny(s.Collection, ": \t\n") {
		errs = append(errs, fmt.Errorf("collection name %q is invalid", s.Collection))
	}
	if s.DBPath == "" {
		errs = append(errs, errors.New("db path is required"))
	}
	if _, err := storage.ParseMetric(s.Metric); err != nil {
		errs = append(errs, err)
	}
	if s.MaxConcurrentRequests < 1 {
		errs = append(errs, fmt.Errorf("max concurrent requests must be at least 1, got %d", s.MaxConcurrentRequests))
	}
	if s.RateLimitDelay < 0 {
		errs = append(errs, errors.New("rate limit delay must not be negative"))
	}
	if s.RequestTimeout <= 0 {
		errs = append(errs, errors.New("request timeout must be positive"))
	}
	if s.ChunkMaxTokens < 1 || s.ChunkOverlap < 0 || s.ChunkOverlap >= s.ChunkMaxTokens {
		errs = append(errs, fmt.Errorf("%w: max tokens %d, overlap %d", chunker.ErrInvalidChunkConfig, s.ChunkMaxTokens, s.ChunkOverlap))
	}
	switch s.AI.Embedder {
	case EmbedderOpenAI, EmbedderHashing:
	default:
		errs = append(errs, fmt.Errorf("unknown embedder %q", s.AI.Embedder))
	}
	if err := s.AIConfig().Validate(); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(s.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown log level %q", s.LogLevel))
	}
	return errors.Join(errs...)
}

// AIConfig converts the AI settings into an ai.Config.
func (s *Settings) AIConfig() *ai.Config {
	return ai.NewConfig(
		ai.WithEmbeddingHost(s.AI.EmbeddingHost),
		ai.WithSummarizerHost(s.AI.SummarizerHost),
		ai.WithEmbeddingModel(s.AI.EmbeddingModel),
		ai.WithSummarizerModel(s.AI.SummarizerModel),
		ai.WithAPIToken(s.AI.APIToken),
		ai.WithTemperature(s.AI.Temperature),
		ai.WithMaxTopics(s.AI.MaxTopics),
	)
}
