// Package config provides application configuration with multi-source
// priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (QUILL_* prefix, runtime override)
//  2. Config file (quill.yaml in the working directory or ~/.quill/)
//  3. Default values
//
// Main configuration categories:
//   - Server: HTTP listen address, log level
//   - Postgres: document/version store connection
//   - AI: Gemini API key, generation and embedding models, call limits
//   - Retrieval: similarity threshold, candidate limits, snippet lengths
//   - Chat: history bound, idle sweep settings
//
// Error handling follows the sentinel-error convention: Validate() wraps a
// package-level sentinel with fmt.Errorf("%w: ...") so callers can use
// errors.Is().
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrMissingAPIKey indicates the Gemini API key is not configured.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidModelName indicates the generation model name is empty or malformed.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidSimilarity indicates the similarity threshold is outside [-1, 1].
	ErrInvalidSimilarity = errors.New("invalid similarity threshold")

	// ErrInvalidHistoryLimit indicates the chat history bound is not positive.
	ErrInvalidHistoryLimit = errors.New("invalid history limit")

	// ErrInvalidSnippetLength indicates a snippet length is not positive.
	ErrInvalidSnippetLength = errors.New("invalid snippet length")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is empty.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidRetryBudget indicates the version retry budget is not positive.
	ErrInvalidRetryBudget = errors.New("invalid version retry budget")
)

// Defaults mirrored by setDefaults. Exported so other packages can reference
// the same values without loading a full Config.
const (
	// DefaultModel is the default Gemini generation model.
	DefaultModel = "gemini-2.5-flash"

	// DefaultEmbedderModel is the default Gemini embedding model.
	// gemini-embedding-001 supports truncation to 768 dimensions, which is
	// what the documents.embedding vector column is declared with.
	DefaultEmbedderModel = "gemini-embedding-001"

	// DefaultHistoryLimit bounds chat session history (messages, FIFO drop).
	DefaultHistoryLimit = 10

	// DefaultMinSimilarity is the default cosine threshold for retrieval.
	DefaultMinSimilarity = 0.7

	// DefaultGroundingLimit is how many documents ground a chat turn.
	DefaultGroundingLimit = 3

	// DefaultSnippetLength caps each grounding context snippet.
	DefaultSnippetLength = 500

	// DefaultCitationLength caps each citation preview snippet.
	DefaultCitationLength = 150

	// DefaultVersionRetries bounds the version sequencing retry loop.
	DefaultVersionRetries = 5
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr     string `mapstructure:"addr"`
	LogLevel string `mapstructure:"log_level"`
	LogJSON  bool   `mapstructure:"log_json"`
}

// PostgresConfig holds the document store connection settings.
type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"` // SENSITIVE: never logged
	DBName   string `mapstructure:"db_name"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

// URL builds a postgres:// connection URL from the configured fields.
func (p PostgresConfig) URL() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(p.User, p.Password),
		Host:   fmt.Sprintf("%s:%d", p.Host, p.Port),
		Path:   p.DBName,
	}
	q := u.Query()
	q.Set("sslmode", p.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// AIConfig holds provider settings for generation and embedding.
type AIConfig struct {
	GeminiAPIKey      string        `mapstructure:"gemini_api_key"` // SENSITIVE: never logged
	Model             string        `mapstructure:"model"`
	EmbedderModel     string        `mapstructure:"embedder_model"`
	Temperature       float32       `mapstructure:"temperature"`
	MaxTokens         int           `mapstructure:"max_tokens"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
}

// RetrievalConfig holds similarity search settings.
type RetrievalConfig struct {
	MinSimilarity  float64 `mapstructure:"min_similarity"`
	Limit          int     `mapstructure:"limit"`
	GroundingLimit int     `mapstructure:"grounding_limit"`
	SnippetLength  int     `mapstructure:"snippet_length"`
	CitationLength int     `mapstructure:"citation_length"`
}

// ChatConfig holds conversational session settings.
type ChatConfig struct {
	HistoryLimit  int           `mapstructure:"history_limit"`
	IdleTimeout   time.Duration `mapstructure:"idle_timeout"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// EmbeddingConfig holds embedding cache settings.
type EmbeddingConfig struct {
	// MaxEntries bounds the in-process embedding cache.
	// 0 means unbounded (the reference behavior).
	MaxEntries int `mapstructure:"max_entries"`
}

// DocumentConfig holds versioning settings.
type DocumentConfig struct {
	VersionRetries int `mapstructure:"version_retries"`
}

// Config stores application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	AI        AIConfig        `mapstructure:"ai"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	Chat      ChatConfig      `mapstructure:"chat"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Document  DocumentConfig  `mapstructure:"document"`
}

// Load loads configuration with priority: env > config file > defaults.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("quill")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".quill"))
	}

	setDefaults(v)

	v.SetEnvPrefix("QUILL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// GEMINI_API_KEY is the conventional variable name for the provider;
	// honor it when the prefixed form is absent.
	if cfg.AI.GeminiAPIKey == "" {
		cfg.AI.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers all default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", "127.0.0.1:3500")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_json", false)

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "quill")
	v.SetDefault("postgres.password", "quill_dev_password")
	v.SetDefault("postgres.db_name", "quill")
	v.SetDefault("postgres.ssl_mode", "disable")

	v.SetDefault("ai.model", DefaultModel)
	v.SetDefault("ai.embedder_model", DefaultEmbedderModel)
	v.SetDefault("ai.temperature", 0.7)
	v.SetDefault("ai.max_tokens", 1024)
	v.SetDefault("ai.request_timeout", 30*time.Second)
	v.SetDefault("ai.requests_per_minute", 60)

	v.SetDefault("retrieval.min_similarity", DefaultMinSimilarity)
	v.SetDefault("retrieval.limit", 5)
	v.SetDefault("retrieval.grounding_limit", DefaultGroundingLimit)
	v.SetDefault("retrieval.snippet_length", DefaultSnippetLength)
	v.SetDefault("retrieval.citation_length", DefaultCitationLength)

	v.SetDefault("chat.history_limit", DefaultHistoryLimit)
	v.SetDefault("chat.idle_timeout", 0)
	v.SetDefault("chat.sweep_interval", time.Minute)

	v.SetDefault("embedding.max_entries", 10000)

	v.SetDefault("document.version_retries", DefaultVersionRetries)
}

// Validate checks configuration invariants. It returns the first violation
// wrapped around its sentinel error.
func (c *Config) Validate() error {
	if c.Postgres.Host == "" {
		return fmt.Errorf("%w: host must not be empty", ErrInvalidPostgresHost)
	}
	if c.Postgres.Port < 1 || c.Postgres.Port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPostgresPort, c.Postgres.Port)
	}
	if c.AI.Model == "" {
		return fmt.Errorf("%w: model must not be empty", ErrInvalidModelName)
	}
	if c.AI.EmbedderModel == "" {
		return fmt.Errorf("%w: embedder model must not be empty", ErrInvalidModelName)
	}
	if c.Retrieval.MinSimilarity < -1 || c.Retrieval.MinSimilarity > 1 {
		return fmt.Errorf("%w: %v not in [-1, 1]", ErrInvalidSimilarity, c.Retrieval.MinSimilarity)
	}
	if c.Chat.HistoryLimit < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidHistoryLimit, c.Chat.HistoryLimit)
	}
	if c.Retrieval.SnippetLength < 1 {
		return fmt.Errorf("%w: snippet_length %d", ErrInvalidSnippetLength, c.Retrieval.SnippetLength)
	}
	if c.Retrieval.CitationLength < 1 {
		return fmt.Errorf("%w: citation_length %d", ErrInvalidSnippetLength, c.Retrieval.CitationLength)
	}
	if c.Document.VersionRetries < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidRetryBudget, c.Document.VersionRetries)
	}
	return nil
}

// ValidateServe performs the additional checks required to run the server,
// on top of Validate. Offline commands (version) skip these.
func (c *Config) ValidateServe() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.AI.GeminiAPIKey == "" {
		return fmt.Errorf("%w: set QUILL_AI_GEMINI_API_KEY or GEMINI_API_KEY", ErrMissingAPIKey)
	}
	return nil
}
