// Package config provides the configuration structure for tts-bench.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/book-expert/tts-bench/internal/core"
	"github.com/book-expert/tts-bench/internal/elo"
	"github.com/book-expert/tts-bench/internal/provider"
	"github.com/pelletier/go-toml/v2"
)

// Storage backends for ratings.
const (
	BackendSQLite = "sqlite"
	BackendNATSKV = "nats_kv"
)

// Default values.
const (
	defaultNATSURL            = "nats://127.0.0.1:4222"
	defaultTrialSubject       = "tts.bench.trials"
	defaultVoteSubject        = "tts.bench.votes"
	defaultAudioBucket        = "TTS_BENCH_AUDIO"
	defaultRatingsBucket      = "TTS_BENCH_RATINGS"
	defaultStorePath          = "tts-bench.db"
	defaultRetentionDays      = 90
	defaultConflictRetries    = 8
	defaultWorkers            = 4
	defaultTimeoutSeconds     = 30
	defaultPingTimeoutSeconds = 5
	defaultIterations         = 1
	defaultServerAddress      = ":8080"
	hoursPerDay               = 24
)

// ErrInvalidConfig indicates a configuration value outside its allowed range.
var ErrInvalidConfig = fmt.Errorf("%w: invalid configuration", core.ErrValidation)

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	URL                    string `toml:"url"`
	TrialSubject           string `toml:"trial_subject"`
	VoteSubject            string `toml:"vote_subject"`
	AudioObjectStoreBucket string `toml:"audio_object_store_bucket"`
	RatingsBucket          string `toml:"ratings_bucket"`
}

// StoreConfig selects and tunes the persistence layer.
type StoreConfig struct {
	// Backend holds ratings in SQLite or in a JetStream key-value bucket. Trials and
	// votes always live in SQLite.
	Backend            string `toml:"backend"`
	Path               string `toml:"path"`
	RetentionDays      int    `toml:"retention_days"`
	MaxConflictRetries int    `toml:"max_conflict_retries"`
}

// RatingConfig holds the ELO parameters.
type RatingConfig struct {
	KFactor       float64 `toml:"k_factor"`
	InitialRating float64 `toml:"initial_rating"`
}

// BenchmarkConfig bounds benchmark runs.
type BenchmarkConfig struct {
	Workers            int    `toml:"workers"`
	TimeoutSeconds     int    `toml:"timeout_seconds"`
	PingTimeoutSeconds int    `toml:"ping_timeout_seconds"`
	Iterations         int    `toml:"iterations"`
	SamplesFile        string `toml:"samples_file"`
}

// ServerConfig holds the HTTP API settings.
type ServerConfig struct {
	Address string `toml:"address"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
}

// ProviderConfig overrides the built-in endpoint of one provider. Empty fields keep
// the built-in value.
type ProviderConfig struct {
	Enabled   bool     `toml:"enabled"`
	APIKeyEnv string   `toml:"api_key_env"`
	BaseURL   string   `toml:"base_url"`
	PingURL   string   `toml:"ping_url"`
	ModelName string   `toml:"model_name"`
	Voices    []string `toml:"voices"`
	MaxChars  int      `toml:"max_chars"`
}

// Config is the root configuration structure.
type Config struct {
	NATS      NATSConfig                `toml:"nats"`
	Store     StoreConfig               `toml:"store"`
	Rating    RatingConfig              `toml:"rating"`
	Benchmark BenchmarkConfig           `toml:"benchmark"`
	Server    ServerConfig              `toml:"server"`
	Paths     PathsConfig               `toml:"paths"`
	Providers map[string]ProviderConfig `toml:"providers"`
}

// Load loads the configuration discovered by configurator, then applies defaults
// and validates it.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	return finish(&cfg)
}

// LoadFile loads the configuration from a TOML file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %s: %w", path, err)
	}

	var cfg Config

	err = toml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %s: %w", path, err)
	}

	return finish(&cfg)
}

func finish(cfg *Config) (*Config, error) {
	cfg.ApplyDefaults()

	err := cfg.Validate()
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyDefaults fills every unset value.
func (c *Config) ApplyDefaults() {
	setDefault(&c.NATS.URL, defaultNATSURL)
	setDefault(&c.NATS.TrialSubject, defaultTrialSubject)
	setDefault(&c.NATS.VoteSubject, defaultVoteSubject)
	setDefault(&c.NATS.AudioObjectStoreBucket, defaultAudioBucket)
	setDefault(&c.NATS.RatingsBucket, defaultRatingsBucket)

	setDefault(&c.Store.Backend, BackendSQLite)
	setDefault(&c.Store.Path, defaultStorePath)
	setDefault(&c.Store.RetentionDays, defaultRetentionDays)
	setDefault(&c.Store.MaxConflictRetries, defaultConflictRetries)

	setDefault(&c.Rating.KFactor, elo.DefaultKFactor)
	setDefault(&c.Rating.InitialRating, elo.DefaultRating)

	setDefault(&c.Benchmark.Workers, defaultWorkers)
	setDefault(&c.Benchmark.TimeoutSeconds, defaultTimeoutSeconds)
	setDefault(&c.Benchmark.PingTimeoutSeconds, defaultPingTimeoutSeconds)
	setDefault(&c.Benchmark.Iterations, defaultIterations)

	setDefault(&c.Server.Address, defaultServerAddress)
	setDefault(&c.Paths.BaseLogsDir, os.TempDir())
}

// Validate reports every value outside its allowed range.
func (c *Config) Validate() error {
	var errs []error

	if c.Store.Backend != BackendSQLite && c.Store.Backend != BackendNATSKV {
		errs = append(errs, fmt.Errorf("%w: store.backend must be %q or %q, got %q",
			ErrInvalidConfig, BackendSQLite, BackendNATSKV, c.Store.Backend))
	}

	kErr := core.ValidateKFactor(c.Rating.KFactor)
	if kErr != nil {
		errs = append(errs, fmt.Errorf("rating.k_factor: %w", kErr))
	}

	if c.Rating.InitialRating <= 0 {
		errs = append(errs, fmt.Errorf("%w: rating.initial_rating must be > 0, got %f",
			ErrInvalidConfig, c.Rating.InitialRating))
	}

	if c.Benchmark.Workers < 1 {
		errs = append(errs, fmt.Errorf("%w: benchmark.workers must be >= 1, got %d",
			ErrInvalidConfig, c.Benchmark.Workers))
	}

	if c.Benchmark.TimeoutSeconds < 1 {
		errs = append(errs, fmt.Errorf("%w: benchmark.timeout_seconds must be >= 1, got %d",
			ErrInvalidConfig, c.Benchmark.TimeoutSeconds))
	}

	if c.Store.RetentionDays < 0 {
		errs = append(errs, fmt.Errorf("%w: store.retention_days must be >= 0, got %d",
			ErrInvalidConfig, c.Store.RetentionDays))
	}

	for key, providerCfg := range c.Providers {
		_, parseErr := core.ParseProviderID(key)
		if parseErr != nil {
			errs = append(errs, fmt.Errorf("providers.%s: %w", key, parseErr))
		}

		if providerCfg.MaxChars < 0 {
			errs = append(errs, fmt.Errorf("%w: providers.%s.max_chars must be >= 0, got %d",
				ErrInvalidConfig, key, providerCfg.MaxChars))
		}
	}

	return errors.Join(errs...)
}

// EnabledProviders returns the enabled providers in a stable order.
func (c *Config) EnabledProviders() []core.ProviderID {
	var enabled []core.ProviderID

	for key, providerCfg := range c.Providers {
		if providerCfg.Enabled {
			enabled = append(enabled, core.ProviderID(key))
		}
	}

	slices.Sort(enabled)

	return enabled
}

// Endpoints merges the enabled providers onto the built-in endpoints and resolves
// their API keys through getenv.
func (c *Config) Endpoints(getenv func(string) string) map[core.ProviderID]provider.Endpoint {
	defaults := provider.DefaultEndpoints()
	endpoints := make(map[core.ProviderID]provider.Endpoint)

	for _, id := range c.EnabledProviders() {
		providerCfg := c.Providers[string(id)]
		endpoint := defaults[id]

		setDefault(&providerCfg.APIKeyEnv, DefaultAPIKeyEnv(id))
		endpoint.APIKey = getenv(providerCfg.APIKeyEnv)

		override(&endpoint.BaseURL, providerCfg.BaseURL)
		override(&endpoint.PingURL, providerCfg.PingURL)
		override(&endpoint.ModelName, providerCfg.ModelName)
		override(&endpoint.MaxChars, providerCfg.MaxChars)

		if len(providerCfg.Voices) > 0 {
			endpoint.Voices = slices.Clone(providerCfg.Voices)
		}

		endpoints[id] = endpoint
	}

	return endpoints
}

// CallTimeout returns the per-call vendor timeout.
func (c *Config) CallTimeout() time.Duration {
	return time.Duration(c.Benchmark.TimeoutSeconds) * time.Second
}

// PingTimeout returns the bound on the latency probe.
func (c *Config) PingTimeout() time.Duration {
	return time.Duration(c.Benchmark.PingTimeoutSeconds) * time.Second
}

// Retention returns how long trials are kept.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.Store.RetentionDays) * hoursPerDay * time.Hour
}

// DefaultAPIKeyEnv names the environment variable holding a provider's API key.
func DefaultAPIKeyEnv(id core.ProviderID) string {
	switch id {
	case core.ProviderMurf, core.ProviderMurfFalcon:
		return "MURF_API_KEY"
	case core.ProviderDeepgram, core.ProviderDeepgramAura2:
		return "DEEPGRAM_API_KEY"
	case core.ProviderElevenLabs:
		return "ELEVENLABS_API_KEY"
	case core.ProviderOpenAI:
		return "OPENAI_API_KEY"
	case core.ProviderCartesiaSonic2, core.ProviderCartesiaTurbo:
		return "CARTESIA_API_KEY"
	default:
		return ""
	}
}

func setDefault[T comparable](field *T, value T) {
	var zero T
	if *field == zero {
		*field = value
	}
}

func override[T comparable](field *T, value T) {
	var zero T
	if value != zero {
		*field = value
	}
}
