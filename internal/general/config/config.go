package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the single configuration tree for the dispatch service, loaded
// from one YAML file.
type Config struct {
	Database Database `yaml:"database"`
	Redis    Redis    `yaml:"redis"`
	RabbitMQ RabbitMQ `yaml:"rabbitmq"`
	HTTP     HTTP     `yaml:"http"`
	JWT      JWT      `yaml:"jwt"`
	Pricing  Pricing  `yaml:"pricing"`
	Dispatch Dispatch `yaml:"dispatch"`
}

type Database struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"database"`
}

type Redis struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type RabbitMQ struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

type HTTP struct {
	Port int `yaml:"port"`
}

type JWT struct {
	SecretKey string `yaml:"secret_key"`
}

// Pricing configures the external fare estimation collaborator.
type Pricing struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// Dispatch holds the matching and lifecycle tuning knobs.
type Dispatch struct {
	OfferWindow        time.Duration `yaml:"offer_window"`         // per-offer response window
	SearchRadiusKM     float64       `yaml:"search_radius_km"`     // candidate search radius
	CandidateLimit     int           `yaml:"candidate_limit"`      // max candidates fetched per selection
	MaxOffersPerRide   int           `yaml:"max_offers_per_ride"`  // offer rotation bound before expiry
	StoreRetryAttempts int           `yaml:"store_retry_attempts"` // bounded retries on store write failure
	StoreRetryBackoff  time.Duration `yaml:"store_retry_backoff"`  // base backoff between retries
	SweepInterval      time.Duration `yaml:"sweep_interval"`       // reconciliation sweep period
	HeartbeatTTL       time.Duration `yaml:"heartbeat_ttl"`        // presence liveness window
}

// LoadFromFile loads config from a YAML file, applies defaults, and validates
// required fields.
func LoadFromFile(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// applyDefaults sets safe defaults for optional fields.
func applyDefaults(cfg *Config) {
	// Database
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}

	// Redis
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}

	// RabbitMQ
	if cfg.RabbitMQ.Host == "" {
		cfg.RabbitMQ.Host = "localhost"
	}
	if cfg.RabbitMQ.Port == 0 {
		cfg.RabbitMQ.Port = 5672
	}
	if cfg.RabbitMQ.User == "" {
		cfg.RabbitMQ.User = "guest"
	}
	if cfg.RabbitMQ.Password == "" {
		cfg.RabbitMQ.Password = "guest"
	}

	// HTTP
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 8080
	}

	// Pricing
	if cfg.Pricing.Timeout == 0 {
		cfg.Pricing.Timeout = 2 * time.Second
	}

	// Dispatch tuning; the radius, rotation bound and retry counts are design
	// defaults, expected to be overridden per deployment.
	d := &cfg.Dispatch
	if d.OfferWindow == 0 {
		d.OfferWindow = 30 * time.Second
	}
	if d.SearchRadiusKM == 0 {
		d.SearchRadiusKM = 5.0
	}
	if d.CandidateLimit == 0 {
		d.CandidateLimit = 10
	}
	if d.MaxOffersPerRide == 0 {
		d.MaxOffersPerRide = 5
	}
	if d.StoreRetryAttempts == 0 {
		d.StoreRetryAttempts = 3
	}
	if d.StoreRetryBackoff == 0 {
		d.StoreRetryBackoff = 100 * time.Millisecond
	}
	if d.SweepInterval == 0 {
		d.SweepInterval = 30 * time.Second
	}
	if d.HeartbeatTTL == 0 {
		d.HeartbeatTTL = 90 * time.Second
	}
}

// validate checks the fields that have no sensible default.
func (cfg *Config) validate() error {
	var problems []string

	if strings.TrimSpace(cfg.Database.User) == "" {
		problems = append(problems, "database.user is required")
	}
	if strings.TrimSpace(cfg.Database.Name) == "" {
		problems = append(problems, "database.database is required")
	}
	if strings.TrimSpace(cfg.JWT.SecretKey) == "" {
		problems = append(problems, "jwt.secret_key is required")
	}
	if cfg.Dispatch.OfferWindow < time.Second {
		problems = append(problems, "dispatch.offer_window must be at least 1s")
	}
	if cfg.Dispatch.SearchRadiusKM < 0 {
		problems = append(problems, "dispatch.search_radius_km must be positive")
	}

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}
