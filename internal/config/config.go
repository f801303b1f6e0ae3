// Package config loads the engine configuration from YAML with sane
// defaults for every knob.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config defines the runtime configuration for the annotation engine.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Inference InferenceConfig `mapstructure:"inference"`
	Render    RenderConfig    `mapstructure:"render"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Snapshot  SnapshotConfig  `mapstructure:"snapshot"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// InferenceConfig points at the backend inference API serving live
// frames. PollInterval is a fixed configuration constant, not tunable
// mid-session.
type InferenceConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type RenderConfig struct {
	Opacity      float64 `mapstructure:"opacity"`
	ShowOutlines bool    `mapstructure:"show_outlines"`
	ShowLabels   bool    `mapstructure:"show_labels"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type SnapshotConfig struct {
	ThumbnailWidth int `mapstructure:"thumbnail_width"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load reads a YAML config file, filling unset keys with defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// New loads config.yaml from the working directory, falling back to the
// defaults when the file is missing.
func New() *Config {
	cfg, err := Load("config.yaml")
	if err != nil {
		return Default()
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)

	v.SetDefault("inference.base_url", d.Inference.BaseURL)
	v.SetDefault("inference.poll_interval", d.Inference.PollInterval)
	v.SetDefault("inference.request_timeout", d.Inference.RequestTimeout)

	v.SetDefault("render.opacity", d.Render.Opacity)
	v.SetDefault("render.show_outlines", d.Render.ShowOutlines)
	v.SetDefault("render.show_labels", d.Render.ShowLabels)

	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.ttl", d.Redis.TTL)

	v.SetDefault("snapshot.thumbnail_width", d.Snapshot.ThumbnailWidth)

	v.SetDefault("metrics.addr", d.Metrics.Addr)
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:         ":8090",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		Inference: InferenceConfig{
			BaseURL:        "http://localhost:8000",
			PollInterval:   500 * time.Millisecond,
			RequestTimeout: 5 * time.Second,
		},
		Render: RenderConfig{
			Opacity:      0.5,
			ShowOutlines: true,
			ShowLabels:   true,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
			TTL:      24 * time.Hour,
		},
		Snapshot: SnapshotConfig{
			ThumbnailWidth: 320,
		},
		Metrics: MetricsConfig{
			Addr: ":9091",
		},
	}
}
