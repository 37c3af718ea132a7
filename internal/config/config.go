// Package config loads the catalog service configuration: YAML file first,
// then the environment variables shared with the rest of JobMate, then
// validation. Fail-fast: an invalid configuration stops the process.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"jobmate/catalog-service/internal/scraper"
)

// Source kinds.
const (
	KindStatic  = "static"
	KindAdzuna  = "adzuna"
	KindJSearch = "jsearch"
)

// Event sinks.
const (
	SinkNone  = "none"
	SinkRedis = "redis"
	SinkKafka = "kafka"
)

// lockMargin is the room a run lock leaves for merge and reconcile after the
// longest allowed fetch.
const lockMargin = time.Minute

// Config holds all runtime configuration for the catalog service.
type Config struct {
	Port        string        `yaml:"port"`
	GRPCPort    string        `yaml:"grpcPort"`
	DatabaseURL string        `yaml:"databaseUrl"`
	RedisURL    string        `yaml:"redisUrl"` // optional: enables the distributed run lock
	Logging     LoggingConfig `yaml:"logging"`
	Ingest      IngestConfig  `yaml:"ingest"`
	Events      EventsConfig  `yaml:"events"`
	Adzuna      AdzunaConfig  `yaml:"adzuna"`
	JSearch     JSearchConfig `yaml:"jsearch"`
	Sources     []Source      `yaml:"sources"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// IngestConfig controls run scheduling and bounds.
type IngestConfig struct {
	ScrapeIntervalHours int           `yaml:"scrapeIntervalHours"` // default schedule for sources without one
	FetchTimeout        time.Duration `yaml:"fetchTimeout"`
	LockTTL             time.Duration `yaml:"lockTTL"`
	Concurrency         int           `yaml:"concurrency"` // sources run in parallel by run-once
	RunOnStart          bool          `yaml:"runOnStart"`
}

// EventsConfig selects where run events go.
type EventsConfig struct {
	Sink    string   `yaml:"sink"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// AdzunaConfig holds Adzuna API credentials.
type AdzunaConfig struct {
	AppID   string  `yaml:"appId"`
	AppKey  string  `yaml:"appKey"`
	Country string  `yaml:"country"` // e.g. "fr", "gb", "us"
	RPS     float64 `yaml:"rps"`
}

// JSearchConfig holds RapidAPI credentials for JSearch.
type JSearchConfig struct {
	APIKey string  `yaml:"apiKey"`
	RPS    float64 `yaml:"rps"`
	Pages  int     `yaml:"pages"`
}

// Source declares one ingestion source.
type Source struct {
	Name     string          `yaml:"name"`
	Kind     string          `yaml:"kind"`
	Schedule string          `yaml:"schedule"` // cron spec; default "@every <interval>h"
	Path     string          `yaml:"path"`     // static
	Queries  []scraper.Query `yaml:"queries"`  // adzuna
	Searches []string        `yaml:"searches"` // jsearch
	RedFlags []string        `yaml:"redFlags"`
}

// Load reads path (optional) and applies environment overrides and
// validation.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "reading config file %s", path)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "parsing config file %s", path)
		}
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Port:     "8081",
		GRPCPort: "9091",
		Logging:  LoggingConfig{Level: "info"},
		Ingest: IngestConfig{
			ScrapeIntervalHours: 6,
			FetchTimeout:        2 * time.Minute,
			LockTTL:             30 * time.Minute,
			Concurrency:         4,
			RunOnStart:          true,
		},
		Events:  EventsConfig{Sink: SinkNone, Topic: "catalog.runs"},
		Adzuna:  AdzunaConfig{Country: "fr", RPS: 1},
		JSearch: JSearchConfig{RPS: 1, Pages: 1},
	}
}

func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.RedisURL = v
	}
	if v := os.Getenv("DISCOVERY_PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("CATALOG_GRPC_PORT"); v != "" {
		cfg.GRPCPort = v
	}
	if v := os.Getenv("ADZUNA_APP_ID"); v != "" {
		cfg.Adzuna.AppID = v
	}
	if v := os.Getenv("ADZUNA_APP_KEY"); v != "" {
		cfg.Adzuna.AppKey = v
	}
	if v := os.Getenv("ADZUNA_COUNTRY"); v != "" {
		cfg.Adzuna.Country = v
	}
	if v := os.Getenv("RAPIDAPI_KEY"); v != "" {
		cfg.JSearch.APIKey = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Events.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("EVENTS_SINK"); v != "" {
		cfg.Events.Sink = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if s := os.Getenv("SCRAPE_INTERVAL_HOURS"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 1 {
			return errors.Newf("SCRAPE_INTERVAL_HOURS must be a positive integer, got %q", s)
		}
		cfg.Ingest.ScrapeIntervalHours = v
	}
	return nil
}

// Validate checks the configuration is runnable.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	if c.Ingest.ScrapeIntervalHours < 1 {
		return errors.Newf("ingest.scrapeIntervalHours must be positive, got %d", c.Ingest.ScrapeIntervalHours)
	}
	if c.Ingest.Concurrency < 1 {
		return errors.Newf("ingest.concurrency must be positive, got %d", c.Ingest.Concurrency)
	}
	if c.Ingest.FetchTimeout <= 0 {
		return errors.Newf("ingest.fetchTimeout must be positive, got %s", c.Ingest.FetchTimeout)
	}
	if c.Ingest.LockTTL < c.Ingest.FetchTimeout+lockMargin {
		return errors.Newf("ingest.lockTTL must be at least fetchTimeout + %s, got %s", lockMargin, c.Ingest.LockTTL)
	}

	switch c.Events.Sink {
	case SinkNone:
	case SinkRedis:
		if c.RedisURL == "" {
			return errors.New("events.sink=redis requires REDIS_URL")
		}
	case SinkKafka:
		if len(c.Events.Brokers) == 0 || c.Events.Topic == "" {
			return errors.New("events.sink=kafka requires brokers and a topic")
		}
	default:
		return errors.Newf("unknown events.sink %q", c.Events.Sink)
	}

	seen := make(map[string]bool, len(c.Sources))
	for i, s := range c.Sources {
		if s.Name == "" {
			return errors.Newf("sources[%d]: name is required", i)
		}
		if seen[s.Name] {
			return errors.Newf("sources[%d]: duplicate source %q", i, s.Name)
		}
		seen[s.Name] = true

		switch s.Kind {
		case KindStatic:
			if s.Path == "" {
				return errors.Newf("source %q: static sources need a path", s.Name)
			}
		case KindAdzuna:
			if len(s.Queries) == 0 {
				return errors.Newf("source %q: adzuna sources need at least one query", s.Name)
			}
		case KindJSearch:
			if len(s.Searches) == 0 {
				return errors.Newf("source %q: jsearch sources need at least one search", s.Name)
			}
		default:
			return errors.Newf("source %q: unknown kind %q", s.Name, s.Kind)
		}
	}
	return nil
}

// ScheduleFor returns the cron spec of s.
func (c *Config) ScheduleFor(s Source) string {
	if s.Schedule != "" {
		return s.Schedule
	}
	return fmt.Sprintf("@every %dh", c.Ingest.ScrapeIntervalHours)
}

// RedFlags returns the per-source exclusion terms.
func (c *Config) RedFlags() map[string][]string {
	out := make(map[string][]string, len(c.Sources))
	for _, s := range c.Sources {
		if len(s.RedFlags) > 0 {
			out[s.Name] = s.RedFlags
		}
	}
	return out
}
