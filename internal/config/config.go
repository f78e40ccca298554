package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Log      LogConfig
	Metrics  MetricsConfig
	Realtime RealtimeConfig
}

type ServerConfig struct {
	Port int
}

type DatabaseConfig struct {
	Path string
}

type LogConfig struct {
	File       string
	MaxSizeMB  int `mapstructure:"max_size_mb"`
	MaxBackups int `mapstructure:"max_backups"`
	MaxAgeDays int `mapstructure:"max_age_days"`
}

type MetricsConfig struct {
	Enabled bool
	Path    string
}

type RealtimeConfig struct {
	SendBuffer        int     `mapstructure:"send_buffer"`
	HistoryDefault    int     `mapstructure:"history_default"`
	HistoryMax        int     `mapstructure:"history_max"`
	MaxMessageBytes   int64   `mapstructure:"max_message_bytes"`
	MessagesPerSecond float64 `mapstructure:"messages_per_second"`
	MessageBurst      int     `mapstructure:"message_burst"`
	WriteWaitSeconds  int     `mapstructure:"write_wait_seconds"`
	PongWaitSeconds   int     `mapstructure:"pong_wait_seconds"`
}

// Load reads config.yaml if present, applies WANDFORM_* environment
// overrides, and fills everything else from defaults.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	v.SetEnvPrefix("WANDFORM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config file error: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config unmarshal error: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)

	v.SetDefault("database.path", "./data/wandform.db")

	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("realtime.send_buffer", 256)
	v.SetDefault("realtime.history_default", 20)
	v.SetDefault("realtime.history_max", 100)
	v.SetDefault("realtime.max_message_bytes", 1024*1024)
	v.SetDefault("realtime.messages_per_second", 100)
	v.SetDefault("realtime.message_burst", 200)
	v.SetDefault("realtime.write_wait_seconds", 10)
	v.SetDefault("realtime.pong_wait_seconds", 60)
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}
	if c.Realtime.SendBuffer < 1 {
		return fmt.Errorf("send_buffer must be positive, got %d", c.Realtime.SendBuffer)
	}
	if c.Realtime.HistoryDefault < 1 || c.Realtime.HistoryDefault > c.Realtime.HistoryMax {
		return fmt.Errorf("history_default %d out of range 1..%d",
			c.Realtime.HistoryDefault, c.Realtime.HistoryMax)
	}
	return nil
}
