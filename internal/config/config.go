// Package config loads schraper configuration from environment variables and
// an optional config file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Default values applied when neither the environment nor the config file
// provides a setting.
const (
	DefaultRequestsPerSecond = 10
	DefaultMaxRetries        = 3
	DefaultCooldown          = 5 * time.Minute
	DefaultRequestTimeout    = 30 * time.Second
	DefaultPollInterval      = 1 * time.Second
	DefaultMovieInterval     = 1 * time.Hour
	DefaultHitsPerPage       = 5
)

// Config is the root configuration for the service.
type Config struct {
	Debug     bool            `mapstructure:"debug"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Cinema    CinemaConfig    `mapstructure:"cinema"`
	Ratings   RatingsConfig   `mapstructure:"ratings"`
	Client    ClientConfig    `mapstructure:"client"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
}

// CinemaConfig holds settings for the cinema-chain API.
type CinemaConfig struct {
	BaseURL           string `mapstructure:"base_url"`
	Language          string `mapstructure:"language"`
	RequestsPerSecond int    `mapstructure:"requests_per_second"`
	MaxRetries        int    `mapstructure:"max_retries"`
}

// RatingsConfig holds settings for the ratings search API.
type RatingsConfig struct {
	URL               string `mapstructure:"url"`
	IndexName         string `mapstructure:"index_name"`
	HitsPerPage       int    `mapstructure:"hits_per_page"`
	RequestsPerSecond int    `mapstructure:"requests_per_second"`
	MaxRetries        int    `mapstructure:"max_retries"`
	// MaxMatchScore rejects rating matches scoring above this value.
	// Zero disables the quality gate.
	MaxMatchScore float64 `mapstructure:"max_match_score"`
}

// ClientConfig holds settings shared by all outbound HTTP clients.
type ClientConfig struct {
	Cooldown time.Duration `mapstructure:"cooldown"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// SchedulerConfig holds job scheduling settings.
type SchedulerConfig struct {
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	MovieInterval time.Duration `mapstructure:"movie_interval"`
	// JobTimeout bounds a single job run. Zero disables the bound.
	JobTimeout time.Duration `mapstructure:"job_timeout"`
}

// Load reads configuration from a .env file (if present), environment
// variables, and an optional config.yaml in the working directory.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	setDefaults(v)
	_ = v.ReadInConfig() // config file is optional

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// setDefaults registers defaults for every key so environment overrides are
// picked up by AutomaticEnv.
func setDefaults(v *viper.Viper) {
	v.SetDefault("debug", false)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "schraper")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "schraper")
	v.SetDefault("database.sslmode", "disable")

	v.SetDefault("cinema.base_url", "https://www.pathe.nl")
	v.SetDefault("cinema.language", "nl")
	v.SetDefault("cinema.requests_per_second", DefaultRequestsPerSecond)
	v.SetDefault("cinema.max_retries", DefaultMaxRetries)

	v.SetDefault("ratings.url", "")
	v.SetDefault("ratings.index_name", "content_rt")
	v.SetDefault("ratings.hits_per_page", DefaultHitsPerPage)
	v.SetDefault("ratings.requests_per_second", DefaultRequestsPerSecond)
	v.SetDefault("ratings.max_retries", DefaultMaxRetries)
	v.SetDefault("ratings.max_match_score", 0.0)

	v.SetDefault("client.cooldown", DefaultCooldown.String())
	v.SetDefault("client.timeout", DefaultRequestTimeout.String())

	v.SetDefault("scheduler.poll_interval", DefaultPollInterval.String())
	v.SetDefault("scheduler.movie_interval", DefaultMovieInterval.String())
	v.SetDefault("scheduler.job_timeout", "0s")
}

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return errors.New("database.host is required")
	}
	if c.Database.Name == "" {
		return errors.New("database.name is required")
	}
	if c.Cinema.BaseURL == "" {
		return errors.New("cinema.base_url is required")
	}
	if c.Ratings.URL == "" {
		return errors.New("ratings.url is required")
	}
	if c.Cinema.RequestsPerSecond < 0 || c.Ratings.RequestsPerSecond < 0 {
		return errors.New("requests_per_second must not be negative")
	}
	if c.Cinema.MaxRetries < 0 || c.Ratings.MaxRetries < 0 {
		return errors.New("max_retries must not be negative")
	}
	if c.Ratings.MaxMatchScore < 0 {
		return fmt.Errorf("ratings.max_match_score must not be negative, got %v", c.Ratings.MaxMatchScore)
	}
	if c.Ratings.HitsPerPage <= 0 {
		return fmt.Errorf("ratings.hits_per_page must be positive, got %d", c.Ratings.HitsPerPage)
	}
	if c.Scheduler.PollInterval <= 0 {
		return fmt.Errorf("scheduler.poll_interval must be positive, got %v", c.Scheduler.PollInterval)
	}
	if c.Scheduler.MovieInterval <= 0 {
		return fmt.Errorf("scheduler.movie_interval must be positive, got %v", c.Scheduler.MovieInterval)
	}
	return nil
}
