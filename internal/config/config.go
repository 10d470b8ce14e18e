// Package config loads server settings from defaults, an optional config
// file, a .env file and COLLABTEXT_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"

	"github.com/weihanyau/ai-chat-live-document-editor-poc/internal/llm"
)

const (
	configName = "collabtext"
	envPrefix  = "COLLABTEXT"
)

// Config is the full server configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Document  DocumentConfig  `mapstructure:"document"`
	AI        AIConfig        `mapstructure:"ai"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DocumentConfig struct {
	CommentaryDelay  time.Duration `mapstructure:"commentary_delay"`
	ChatHistoryLimit int           `mapstructure:"chat_history_limit"`
}

type AIConfig struct {
	Provider  string `mapstructure:"provider"`
	Model     string `mapstructure:"model"`
	APIKey    string `mapstructure:"api_key"`
	BaseURL   string `mapstructure:"base_url"`
	MaxTokens int    `mapstructure:"max_tokens"`
}

// RedisConfig enables the broadcast mirror when Addr is set.
type RedisConfig struct {
	Addr    string `mapstructure:"addr"`
	Channel string `mapstructure:"channel"`
}

type DiscoveryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Service string `mapstructure:"service"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// SetDefaults registers every key with its default value. Keys must be known
// to viper for environment overrides to reach Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("document.commentary_delay", 2*time.Second)
	v.SetDefault("document.chat_history_limit", 10)
	v.SetDefault("ai.provider", llm.ProviderOpenAI)
	v.SetDefault("ai.model", "")
	v.SetDefault("ai.api_key", "")
	v.SetDefault("ai.base_url", "")
	v.SetDefault("ai.max_tokens", 0)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.channel", "collabtext:events")
	v.SetDefault("discovery.enabled", false)
	v.SetDefault("discovery.service", "_collabtext._tcp")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
}

// LoadDotEnv reads .env into the process environment. A missing file is not
// an error; variables already set win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load resolves the configuration into v. When file is empty, collabtext.*
// is looked up in the working directory and in the user config directory.
func Load(v *viper.Viper, file string) (*Config, error) {
	SetDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("server.port", envPrefix+"_SERVER_PORT", "PORT"); err != nil {
		return nil, err
	}

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", file, err)
		}
	} else {
		v.SetConfigName(configName)
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, configName))
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.Server.Port < 1 || c.Server.Port > 65535:
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	case c.Server.ShutdownTimeout <= 0:
		return errors.New("server.shutdown_timeout must be positive")
	case c.Document.CommentaryDelay <= 0:
		return errors.New("document.commentary_delay must be positive")
	case c.Document.ChatHistoryLimit < 1:
		return errors.New("document.chat_history_limit must be at least 1")
	case c.AI.MaxTokens < 0:
		return errors.New("ai.max_tokens must not be negative")
	case !slices.Contains(llm.Providers, strings.ToLower(c.AI.Provider)):
		return fmt.Errorf("ai.provider %q not one of %s", c.AI.Provider, strings.Join(llm.Providers, ", "))
	}
	return nil
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// ProviderConfig converts the ai section for llm.NewProvider.
func (c *Config) ProviderConfig() llm.ProviderConfig {
	return llm.ProviderConfig{
		Provider:  c.AI.Provider,
		Model:     c.AI.Model,
		APIKey:    c.AI.APIKey,
		BaseURL:   c.AI.BaseURL,
		MaxTokens: c.AI.MaxTokens,
	}
}

// TOML renders the configuration in config file form, with durations as
// strings and the API key masked.
func (c *Config) TOML() ([]byte, error) {
	apiKey := c.AI.APIKey
	if apiKey != "" {
		apiKey = "********"
	}
	view := map[string]any{
		"server": map[string]any{
			"host":             c.Server.Host,
			"port":             c.Server.Port,
			"allowed_origins":  c.Server.AllowedOrigins,
			"shutdown_timeout": c.Server.ShutdownTimeout.String(),
		},
		"document": map[string]any{
			"commentary_delay":   c.Document.CommentaryDelay.String(),
			"chat_history_limit": c.Document.ChatHistoryLimit,
		},
		"ai": map[string]any{
			"provider":   c.AI.Provider,
			"model":      c.AI.Model,
			"api_key":    apiKey,
			"base_url":   c.AI.BaseURL,
			"max_tokens": c.AI.MaxTokens,
		},
		"redis": map[string]any{
			"addr":    c.Redis.Addr,
			"channel": c.Redis.Channel,
		},
		"discovery": map[string]any{
			"enabled": c.Discovery.Enabled,
			"service": c.Discovery.Service,
		},
		"log": map[string]any{
			"level":  c.Log.Level,
			"pretty": c.Log.Pretty,
		},
	}

	out, err := toml.Marshal(view)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return out, nil
}
