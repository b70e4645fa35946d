// Package config provides centralized configuration management for pipedemo.
// Values come from defaults, an optional YAML file and PIPEDEMO_* environment
// variables, in that order of precedence; CLI flags are applied last by the
// caller through the With* builders.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of the environment variables read by Load.
const EnvPrefix = "PIPEDEMO"

// Spawn modes.
const (
	// SpawnBootstrap re-executes this binary, which rewires its own stdio
	// onto the pipes and then replaces itself with the filter program.
	SpawnBootstrap = "bootstrap"
	// SpawnDirect starts the filter program with the pipes as its stdio.
	SpawnDirect = "direct"
)

// Message sources.
const (
	SourceCounter = "counter"
	SourceStatic  = "static"
	SourceOpenAI  = "openai"
)

// Config holds all configuration settings for pipedemo.
type Config struct {
	// Worker settings
	Filter    []string `yaml:"filter" split_words:"true"`
	SpawnMode string   `yaml:"spawn_mode" split_words:"true"`

	// Loop settings
	Interval     time.Duration `yaml:"interval" split_words:"true"`
	MaxLines     int           `yaml:"max_lines" split_words:"true"`
	DrainTimeout time.Duration `yaml:"drain_timeout" split_words:"true"`

	// Message settings
	MessageSource string   `yaml:"message_source" split_words:"true"`
	MessagePrefix string   `yaml:"message_prefix" split_words:"true"`
	Messages      []string `yaml:"messages" split_words:"true"`

	// OpenAI settings (message_source: openai), read from the environment by
	// loadOpenAIEnv
	OpenAIAPIKey  string `yaml:"openai_api_key" ignored:"true"`
	OpenAIBaseURL string `yaml:"openai_base_url" ignored:"true"`
	OpenAIModel   string `yaml:"openai_model" ignored:"true"`

	// Output settings
	TranscriptDir string `yaml:"transcript_dir" split_words:"true"`
	MetricsAddr   string `yaml:"metrics_addr" split_words:"true"`
	LogLevel      string `yaml:"log_level" split_words:"true"`
	LogDev        bool   `yaml:"log_dev" split_words:"true"`
}

// openAIEnv holds the OpenAI variables. It is processed twice: under
// PIPEDEMO_OPENAI and, for the API key only, under the OPENAI prefix the
// OpenAI tooling uses.
type openAIEnv struct {
	APIKey  string `split_words:"true"`
	BaseURL string `split_words:"true"`
	Model   string
}

var (
	globalConfig *Config
	configOnce   sync.Once
)

// Default values
const (
	DefaultFilterPath    = "/bin/cat"
	DefaultSpawnMode     = SpawnBootstrap
	DefaultInterval      = 250 * time.Millisecond
	DefaultDrainTimeout  = 2 * time.Second
	DefaultMessageSource = SourceCounter
	DefaultMessagePrefix = "Line: "
	DefaultOpenAIModel   = "gpt-4o-mini"
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
	DefaultLogLevel      = "info"
)

// DefaultFilter is the filter argv used when none is configured: cat reading
// its standard input.
func DefaultFilter() []string {
	return []string{DefaultFilterPath, "-"}
}

// Get returns the global configuration, loading from environment if not already loaded
func Get() *Config {
	configOnce.Do(func() {
		cfg, err := Load("")
		if err != nil {
			cfg = NewConfig()
		}
		globalConfig = cfg
	})
	return globalConfig
}

// Reset clears the global configuration, forcing reload on next Get()
// This is primarily useful for testing
func Reset() {
	configOnce = sync.Once{}
	globalConfig = nil
}

// NewConfig creates a configuration holding only default values.
func NewConfig() *Config {
	return &Config{
		Filter:        DefaultFilter(),
		SpawnMode:     DefaultSpawnMode,
		Interval:      DefaultInterval,
		DrainTimeout:  DefaultDrainTimeout,
		MessageSource: DefaultMessageSource,
		MessagePrefix: DefaultMessagePrefix,
		OpenAIModel:   DefaultOpenAIModel,
		OpenAIBaseURL: DefaultOpenAIBaseURL,
		LogLevel:      DefaultLogLevel,
	}
}

// Load builds a configuration from defaults, the YAML file at path (skipped
// when path is empty) and the environment.
func Load(path string) (*Config, error) {
	cfg := NewConfig()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config %s: %w", path, err)
		}
		defer f.Close()

		if err := cfg.decodeYAML(f); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}
	if err := cfg.loadOpenAIEnv(); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	return cfg, nil
}

// loadOpenAIEnv applies PIPEDEMO_OPENAI_API_KEY, PIPEDEMO_OPENAI_BASE_URL and
// PIPEDEMO_OPENAI_MODEL. OPENAI_API_KEY is the only unprefixed variable read,
// and PIPEDEMO_OPENAI_API_KEY wins over it.
func (c *Config) loadOpenAIEnv() error {
	var scoped, vendor openAIEnv
	if err := envconfig.Process(EnvPrefix+"_OPENAI", &scoped); err != nil {
		return err
	}
	if err := envconfig.Process("OPENAI", &vendor); err != nil {
		return err
	}

	apiKey := scoped.APIKey
	if apiKey == "" {
		apiKey = vendor.APIKey
	}
	c.WithOpenAI(apiKey, scoped.BaseURL, scoped.Model)
	return nil
}

// decodeYAML overlays the document in r onto c. Keys missing from the
// document keep their current values; unknown keys are rejected.
func (c *Config) decodeYAML(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// WithFilter sets the filter program argv.
func (c *Config) WithFilter(argv ...string) *Config {
	if len(argv) > 0 {
		c.Filter = argv
	}
	return c
}

// WithSpawnMode sets the spawn mode.
func (c *Config) WithSpawnMode(mode string) *Config {
	if mode != "" {
		c.SpawnMode = mode
	}
	return c
}

// WithLoop configures pacing and limits of the exchange loop.
func (c *Config) WithLoop(interval time.Duration, maxLines int, drainTimeout time.Duration) *Config {
	if interval > 0 {
		c.Interval = interval
	}
	if maxLines > 0 {
		c.MaxLines = maxLines
	}
	if drainTimeout > 0 {
		c.DrainTimeout = drainTimeout
	}
	return c
}

// WithMessages configures the message source.
func (c *Config) WithMessages(source, prefix string, messages []string) *Config {
	if source != "" {
		c.MessageSource = source
	}
	if prefix != "" {
		c.MessagePrefix = prefix
	}
	if len(messages) > 0 {
		c.Messages = messages
	}
	return c
}

// WithOpenAI configures OpenAI settings
func (c *Config) WithOpenAI(apiKey, baseURL, model string) *Config {
	if apiKey != "" {
		c.OpenAIAPIKey = apiKey
	}
	if baseURL != "" {
		c.OpenAIBaseURL = baseURL
	}
	if model != "" {
		c.OpenAIModel = model
	}
	return c
}

// WithOutput configures the transcript directory and the metrics listener.
func (c *Config) WithOutput(transcriptDir, metricsAddr string) *Config {
	if transcriptDir != "" {
		c.TranscriptDir = transcriptDir
	}
	if metricsAddr != "" {
		c.MetricsAddr = metricsAddr
	}
	return c
}

// WithLogging configures the log level and development mode.
func (c *Config) WithLogging(level string, development bool) *Config {
	if level != "" {
		c.LogLevel = level
	}
	c.LogDev = c.LogDev || development
	return c
}

// Validate checks if the configuration is valid for the intended use
func (c *Config) Validate() error {
	var errs []error

	if len(c.Filter) == 0 || c.Filter[0] == "" {
		errs = append(errs, errors.New("filter: program path required"))
	}
	switch c.SpawnMode {
	case SpawnBootstrap, SpawnDirect:
	default:
		errs = append(errs, fmt.Errorf("spawn_mode: unknown mode %q", c.SpawnMode))
	}
	if c.Interval <= 0 {
		errs = append(errs, fmt.Errorf("interval: must be positive, got %s", c.Interval))
	}
	if c.DrainTimeout < 0 {
		errs = append(errs, fmt.Errorf("drain_timeout: must not be negative, got %s", c.DrainTimeout))
	}
	if c.MaxLines < 0 {
		errs = append(errs, fmt.Errorf("max_lines: must not be negative, got %d", c.MaxLines))
	}
	switch c.MessageSource {
	case SourceCounter:
	case SourceStatic:
		if len(c.Messages) == 0 {
			errs = append(errs, errors.New("messages: static source needs at least one message"))
		}
	case SourceOpenAI:
		if c.OpenAIAPIKey == "" {
			errs = append(errs, errors.New("openai_api_key: required for the openai source (set OPENAI_API_KEY)"))
		}
	default:
		errs = append(errs, fmt.Errorf("message_source: unknown source %q", c.MessageSource))
	}

	if c.LogLevel != "" {
		var level zapcore.Level
		if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
			errs = append(errs, fmt.Errorf("log_level: %w", err))
		}
	}

	return errors.Join(errs...)
}
