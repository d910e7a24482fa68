// Package config loads slidegen settings from YAML with environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"slidegen/internal/models"
)

// DefaultPath is the config file looked up when none is given
const DefaultPath = "slidegen.yaml"

// Config holds all slidegen settings
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	TLS        TLSConfig        `yaml:"tls"`
	Database   DatabaseConfig   `yaml:"database"`
	Storage    StorageConfig    `yaml:"storage"`
	API        APIConfig        `yaml:"api"`
	Gemini     GeminiConfig     `yaml:"gemini"`
	Generation GenerationConfig `yaml:"generation"`
	Agent      AgentConfig      `yaml:"agent"`
	Tasks      TasksConfig      `yaml:"tasks"`
	Logging    LoggingConfig    `yaml:"logging"`
	Themes     []models.Theme   `yaml:"themes"`
}

// ServerConfig is the backend listen address
type ServerConfig struct {
	Host string `yaml:"host"`
	Port string `yaml:"port"`
}

// TLSConfig enables HTTPS on the backend
type TLSConfig struct {
	Enabled    bool   `yaml:"enabled"`
	CertFile   string `yaml:"cert_file"`
	KeyFile    string `yaml:"key_file"`
	MinVersion string `yaml:"min_version"`
}

// DatabaseConfig locates the SQLite database
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// StorageConfig locates generated image files
type StorageConfig struct {
	DataPath string `yaml:"data_path"`
}

// APIConfig is how the CLI reaches the backend
type APIConfig struct {
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"`
}

// GeminiConfig configures direct model access
type GeminiConfig struct {
	APIKey      string   `yaml:"api_key"`
	ImageModels []string `yaml:"image_models"`
	TextModel   string   `yaml:"text_model"`
	ImageSize   string   `yaml:"image_size"`
}

// GenerationConfig selects and tunes the generation strategy
type GenerationConfig struct {
	Mode               string `yaml:"mode"` // sync, async, auto
	AgentMode          bool   `yaml:"agent_mode"`
	Concurrency        int    `yaml:"concurrency"`
	PollInterval       string `yaml:"poll_interval"`
	SinglePollInterval string `yaml:"single_poll_interval"`
	MaxPollInterval    string `yaml:"max_poll_interval"`
	MaxPollErrors      int    `yaml:"max_poll_errors"`
}

// AgentConfig tunes the prompt agent
type AgentConfig struct {
	AcceptanceThreshold int  `yaml:"acceptance_threshold"`
	MaxIterations       int  `yaml:"max_iterations"`
	Sequential          bool `yaml:"sequential"`
	ImageConcurrency    int  `yaml:"image_concurrency"`
}

// TasksConfig tunes the backend worker pool and reaper
type TasksConfig struct {
	Workers      int    `yaml:"workers"`
	QueueSize    int    `yaml:"queue_size"`
	Timeout      string `yaml:"timeout"`
	ReapSchedule string `yaml:"reap_schedule"`
}

// LoggingConfig configures zap
type LoggingConfig struct {
	Level       string `yaml:"level"` // debug, info, warn, error
	Development bool   `yaml:"development"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: "8080",
		},
		TLS: TLSConfig{
			MinVersion: "1.2",
		},
		Database: DatabaseConfig{
			Path: "./data/slidegen.db",
		},
		Storage: StorageConfig{
			DataPath: "./data",
		},
		API: APIConfig{
			BaseURL: "http://localhost:8080",
		},
		Gemini: GeminiConfig{
			TextModel: "gemini-2.5-flash",
		},
		Generation: GenerationConfig{
			Mode:               "auto",
			Concurrency:        3,
			PollInterval:       "3s",
			SinglePollInterval: "2s",
			MaxPollInterval:    "30s",
			MaxPollErrors:      0,
		},
		Agent: AgentConfig{
			AcceptanceThreshold: 70,
			MaxIterations:       3,
			ImageConcurrency:    4,
		},
		Tasks: TasksConfig{
			Workers:      4,
			QueueSize:    256,
			Timeout:      "10m",
			ReapSchedule: "@every 1m",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Themes: []models.Theme{
			{ID: "minimal", Name: "Minimal"},
			{ID: "noir", Name: "Noir"},
			{ID: "editorial", Name: "Editorial"},
			{ID: "vivid", Name: "Vivid"},
		},
	}
}

// Load reads the YAML file at path over the defaults and applies
// environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("failed to read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration as YAML
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Gemini.APIKey = key
	}
	if url := os.Getenv("SLIDEGEN_API_URL"); url != "" {
		c.API.BaseURL = url
	}
	if token := os.Getenv("SLIDEGEN_API_TOKEN"); token != "" {
		c.API.Token = token
	}
	if mode := os.Getenv("SLIDEGEN_GENERATION_MODE"); mode != "" {
		c.Generation.Mode = mode
	}
	if v := os.Getenv("SLIDEGEN_AGENT_MODE"); v != "" {
		if on, err := strconv.ParseBool(v); err == nil {
			c.Generation.AgentMode = on
		}
	}
	if path := os.Getenv("DB_PATH"); path != "" {
		c.Database.Path = path
	}
	if path := os.Getenv("DATA_PATH"); path != "" {
		c.Storage.DataPath = path
	}
	if port := os.Getenv("PORT"); port != "" {
		c.Server.Port = port
	}
}

// Validate rejects settings the generation layer cannot run with
func (c *Config) Validate() error {
	switch c.Generation.Mode {
	case "", "auto", "sync", "async":
	default:
		return fmt.Errorf("invalid generation mode %q (want sync, async or auto)", c.Generation.Mode)
	}
	if c.Generation.Concurrency <= 0 {
		return fmt.Errorf("generation concurrency must be positive, got %d", c.Generation.Concurrency)
	}
	if c.Generation.MaxPollErrors < 0 {
		return fmt.Errorf("max_poll_errors must not be negative")
	}
	if c.Tasks.Workers <= 0 {
		return fmt.Errorf("task workers must be positive, got %d", c.Tasks.Workers)
	}
	for name, v := range map[string]string{
		"generation.poll_interval":        c.Generation.PollInterval,
		"generation.single_poll_interval": c.Generation.SinglePollInterval,
		"generation.max_poll_interval":    c.Generation.MaxPollInterval,
		"tasks.timeout":                   c.Tasks.Timeout,
	} {
		if v == "" {
			continue
		}
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}
	if c.TLS.Enabled && (c.TLS.CertFile == "" || c.TLS.KeyFile == "") {
		return fmt.Errorf("tls enabled without cert_file and key_file")
	}
	return nil
}

// Addr is the backend listen address
func (c *Config) Addr() string {
	return c.Server.Host + ":" + c.Server.Port
}

// GetPollInterval returns the batch poll interval
func (c *Config) GetPollInterval() time.Duration {
	return parseDuration(c.Generation.PollInterval, 3*time.Second)
}

// GetSinglePollInterval returns the single-slide poll interval
func (c *Config) GetSinglePollInterval() time.Duration {
	return parseDuration(c.Generation.SinglePollInterval, 2*time.Second)
}

// GetMaxPollInterval returns the poll backoff ceiling
func (c *Config) GetMaxPollInterval() time.Duration {
	return parseDuration(c.Generation.MaxPollInterval, 30*time.Second)
}

// GetTaskTimeout returns how long a task may stay in flight before it is reaped
func (c *Config) GetTaskTimeout() time.Duration {
	return parseDuration(c.Tasks.Timeout, 10*time.Minute)
}

func parseDuration(v string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
