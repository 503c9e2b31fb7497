// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	LLM      LLMConfig      `mapstructure:"llm" yaml:"llm"`
	Browser  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	Agent    AgentConfig    `mapstructure:"agent" yaml:"agent"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Network  NetworkConfig  `mapstructure:"network" yaml:"network"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// LLMProvider defines the supported LLM providers.
type LLMProvider string

const (
	ProviderAnthropic LLMProvider = "anthropic"
	ProviderGemini    LLMProvider = "gemini"
)

// LLMConfig selects the provider and holds per-provider model settings.
type LLMConfig struct {
	Provider LLMProvider               `mapstructure:"provider" yaml:"provider"`
	Models   map[string]LLMModelConfig `mapstructure:"models" yaml:"models"`
	// RequestsPerMinute paces outbound provider calls; 0 disables pacing.
	RequestsPerMinute float64 `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
}

// LLMModelConfig defines the configuration for a single model endpoint.
type LLMModelConfig struct {
	Provider    LLMProvider   `mapstructure:"provider" yaml:"provider"`
	Model       string        `mapstructure:"model" yaml:"model"`
	APIKey      string        `mapstructure:"api_key" yaml:"-"`
	Endpoint    string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout  time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature float32       `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
}

// BrowserConfig holds settings for the headless browser sessions.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	UserAgent         string        `mapstructure:"user_agent" yaml:"user_agent"`
	ViewportWidth     int           `mapstructure:"viewport_width" yaml:"viewport_width"`
	ViewportHeight    int           `mapstructure:"viewport_height" yaml:"viewport_height"`
	MaxActions        int           `mapstructure:"max_actions" yaml:"max_actions"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	BlockSubresources bool          `mapstructure:"block_subresources" yaml:"block_subresources"`
	Args              []string      `mapstructure:"args" yaml:"args"`
}

// AgentConfig tunes the turn loop.
type AgentConfig struct {
	MaxIterations int           `mapstructure:"max_iterations" yaml:"max_iterations"`
	TurnTimeout   time.Duration `mapstructure:"turn_timeout" yaml:"turn_timeout"`
	HistoryLimit  int           `mapstructure:"history_limit" yaml:"history_limit"`
	GuardEnabled  bool          `mapstructure:"guard_enabled" yaml:"guard_enabled"`
}

// DatabaseConfig holds the Postgres connection details for history and audit.
type DatabaseConfig struct {
	URL            string `mapstructure:"url" yaml:"url"`
	AuditQueueSize int    `mapstructure:"audit_queue_size" yaml:"audit_queue_size"`
}

// NetworkConfig tunes generic outbound HTTP behavior.
type NetworkConfig struct {
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// NewDefaultConfig creates a configuration populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "concierge")
	v.SetDefault("logger.log_file", "concierge.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- LLM --
	v.SetDefault("llm.provider", "anthropic")
	v.SetDefault("llm.requests_per_minute", 60.0)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.user_agent",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36")
	v.SetDefault("browser.viewport_width", 1366)
	v.SetDefault("browser.viewport_height", 900)
	v.SetDefault("browser.max_actions", 30)
	v.SetDefault("browser.navigation_timeout", "20s")
	v.SetDefault("browser.block_subresources", true)

	// -- Agent --
	v.SetDefault("agent.max_iterations", 20)
	v.SetDefault("agent.turn_timeout", "3m")
	v.SetDefault("agent.history_limit", 40)
	v.SetDefault("agent.guard_enabled", true)

	// -- Database --
	v.SetDefault("database.audit_queue_size", 256)

	// -- Network --
	v.SetDefault("network.timeout", "30s")
}

// NewConfigFromViper creates a configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Secrets come from the environment, never the config file.
	v.BindEnv("llm.models.anthropic.api_key", "CONCIERGE_ANTHROPIC_API_KEY")
	v.BindEnv("llm.models.gemini.api_key", "CONCIERGE_GEMINI_API_KEY")
	v.BindEnv("database.url", "CONCIERGE_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case ProviderAnthropic, ProviderGemini:
	default:
		return fmt.Errorf("llm.provider must be %q or %q, got %q",
			ProviderAnthropic, ProviderGemini, c.LLM.Provider)
	}
	if c.Browser.MaxActions <= 0 {
		return fmt.Errorf("browser.max_actions must be a positive integer")
	}
	if c.Browser.NavigationTimeout <= 0 {
		return fmt.Errorf("browser.navigation_timeout must be a positive duration")
	}
	if c.Agent.MaxIterations <= 0 {
		return fmt.Errorf("agent.max_iterations must be a positive integer")
	}
	if c.Agent.TurnTimeout <= 0 {
		return fmt.Errorf("agent.turn_timeout must be a positive duration")
	}
	if c.Database.AuditQueueSize <= 0 {
		return fmt.Errorf("database.audit_queue_size must be a positive integer")
	}
	return nil
}

// ModelFor returns the model settings for the named provider, falling back to
// a bare entry so the caller can still report a useful error on a missing key.
func (c *Config) ModelFor(provider LLMProvider) LLMModelConfig {
	if m, ok := c.LLM.Models[string(provider)]; ok {
		if m.Provider == "" {
			m.Provider = provider
		}
		return m
	}
	return LLMModelConfig{Provider: provider}
}
