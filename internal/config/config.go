package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	HTTP    HTTPConfig    `mapstructure:"http"`
	Log     LogConfig     `mapstructure:"log"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Engine  EngineConfig  `mapstructure:"engine"`
	Stream  StreamConfig  `mapstructure:"stream"`
	Archive ArchiveConfig `mapstructure:"archive"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type AuthConfig struct {
	// Token guards every route except health checks; empty disables the guard.
	Token string `mapstructure:"token"`
}

type EngineConfig struct {
	Retention     time.Duration `mapstructure:"retention"`
	RealtimeSpan  time.Duration `mapstructure:"realtime_span"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type StreamConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	// AllowedOrigins lists browser origins accepted on the websocket stream.
	// Empty means same-origin only; "*" accepts any.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type ArchiveConfig struct {
	DSN      string        `mapstructure:"dsn"`
	Interval time.Duration `mapstructure:"interval"`
}

func (c ArchiveConfig) Enabled() bool {
	return c.DSN != ""
}

// New returns a viper instance carrying defaults, environment binding
// (METRICS_ENGINE_RETENTION, ...) and the optional ./configs/config.yaml.
func New() *viper.Viper {
	v := viper.New()

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("auth.token", "")
	v.SetDefault("engine.retention", 25*time.Hour)
	v.SetDefault("engine.realtime_span", 30*time.Second)
	v.SetDefault("engine.sweep_interval", time.Minute)
	v.SetDefault("stream.interval", 2*time.Second)
	v.SetDefault("stream.allowed_origins", []string{})
	v.SetDefault("archive.dsn", "")
	v.SetDefault("archive.interval", time.Minute)

	v.SetEnvPrefix("metrics")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.AddConfigPath("./configs")
	return v
}

func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("cannot decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.HTTP.Addr == "" {
		return errors.New("http.addr must not be empty")
	}
	if c.Engine.Retention < 24*time.Hour {
		return fmt.Errorf("engine.retention must be at least 24h, got %s", c.Engine.Retention)
	}
	if c.Engine.RealtimeSpan <= 0 {
		return fmt.Errorf("engine.realtime_span must be greater than 0, got %s", c.Engine.RealtimeSpan)
	}
	if c.Engine.SweepInterval <= 0 {
		return fmt.Errorf("engine.sweep_interval must be greater than 0, got %s", c.Engine.SweepInterval)
	}
	if c.Stream.Interval <= 0 {
		return fmt.Errorf("stream.interval must be greater than 0, got %s", c.Stream.Interval)
	}
	if c.Archive.Enabled() && c.Archive.Interval < time.Minute {
		return fmt.Errorf("archive.interval must be at least 1m, got %s", c.Archive.Interval)
	}
	return nil
}
