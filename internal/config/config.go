package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Blob      BlobConfig      `yaml:"blob"`
	Render    RenderConfig    `yaml:"render"`
	Queue     QueueConfig     `yaml:"queue"`
	Webhooks  WebhooksConfig  `yaml:"webhooks"`
	Retention RetentionConfig `yaml:"retention"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type BlobConfig struct {
	Path string `yaml:"path"`
}

type RenderConfig struct {
	ServiceURL string        `yaml:"service_url"`
	Timeout    time.Duration `yaml:"timeout"`
}

type QueueConfig struct {
	MaxRetries    int           `yaml:"max_retries"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
	WorkerCount   int           `yaml:"worker_count"`
	RenderTimeout time.Duration `yaml:"render_timeout"`
}

type WebhooksConfig struct {
	Timeout     time.Duration `yaml:"timeout"`
	WorkerCount int           `yaml:"worker_count"`
	QueueSize   int           `yaml:"queue_size"`
}

type RetentionConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ArchivePath string `yaml:"archive_path"`
	KeepDays    int    `yaml:"keep_days"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Path: "./data/forfar.db",
		},
		Blob: BlobConfig{
			Path: "./data/pdf",
		},
		Render: RenderConfig{
			ServiceURL: "http://localhost:8081/",
			Timeout:    30 * time.Second,
		},
		Queue: QueueConfig{
			MaxRetries:    3,
			RetryDelay:    10 * time.Second,
			WorkerCount:   2,
			RenderTimeout: 60 * time.Second,
		},
		Webhooks: WebhooksConfig{
			Timeout:     10 * time.Second,
			WorkerCount: 2,
			QueueSize:   100,
		},
		Retention: RetentionConfig{
			Enabled:     false,
			ArchivePath: "./data/archives",
			KeepDays:    30,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func Load(configPath string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

func LoadFromEnv() *Config {
	cfg := defaults()

	if v := os.Getenv("FORFAR_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	if v := os.Getenv("FORFAR_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("FORFAR_BLOB_PATH"); v != "" {
		cfg.Blob.Path = v
	}

	if v := os.Getenv("FORFAR_RENDER_URL"); v != "" {
		cfg.Render.ServiceURL = v
	}

	if v := os.Getenv("FORFAR_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	return cfg
}

func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Server.ReadTimeout < 0 {
		return fmt.Errorf("server read timeout must be non-negative")
	}

	if c.Server.WriteTimeout < 0 {
		return fmt.Errorf("server write timeout must be non-negative")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}

	if c.Blob.Path == "" {
		return fmt.Errorf("blob path is required")
	}

	if c.Render.ServiceURL == "" {
		return fmt.Errorf("render service url is required")
	}

	if c.Render.Timeout < 0 {
		return fmt.Errorf("render timeout must be non-negative")
	}

	if c.Queue.MaxRetries < 0 {
		return fmt.Errorf("max retries must be non-negative")
	}

	if c.Queue.RetryDelay < 0 {
		return fmt.Errorf("retry delay must be non-negative")
	}

	if c.Queue.WorkerCount < 1 {
		return fmt.Errorf("worker count must be at least 1")
	}

	if c.Queue.RenderTimeout <= 0 {
		return fmt.Errorf("render timeout must be positive")
	}

	if c.Retention.Enabled {
		if c.Retention.ArchivePath == "" {
			return fmt.Errorf("archive path is required when retention is enabled")
		}
		if c.Retention.KeepDays < 1 {
			return fmt.Errorf("retention keep days must be at least 1")
		}
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	return nil
}
