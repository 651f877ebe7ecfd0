// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures every knob the crawler accepts, loaded from file,
// environment (WORDCRAWL_ prefix) and flags.
type Config struct {
	Crawler CrawlerConfig `mapstructure:"crawler"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Queue   QueueConfig   `mapstructure:"queue"`
	DB      DBConfig      `mapstructure:"db"`
	Logging LoggingConfig `mapstructure:"logging"`
	Server  ServerConfig  `mapstructure:"server"`
}

// CrawlerConfig governs crawl limits and content processing.
type CrawlerConfig struct {
	MaxDepth            int           `mapstructure:"max_depth"`
	MaxPages            int64         `mapstructure:"max_pages"`
	Workers             int           `mapstructure:"workers"`
	RateLimitDelay      time.Duration `mapstructure:"rate_limit_delay"`
	RequestTimeout      time.Duration `mapstructure:"request_timeout"`
	MaxRetries          int           `mapstructure:"max_retries"`
	UserAgent           string        `mapstructure:"user_agent"`
	MaxRedirects        int           `mapstructure:"max_redirects"`
	AllowedDomains      []string      `mapstructure:"allowed_domains"`
	BlockedDomains      []string      `mapstructure:"blocked_domains"`
	AllowedContentTypes []string      `mapstructure:"allowed_content_types"`
	MaxPageSize         int64         `mapstructure:"max_page_size"`
	MinTextLength       int           `mapstructure:"min_text_length"`
	MaxWordsPerPage     int           `mapstructure:"max_words_per_page"`
	StripQueryParams    []string      `mapstructure:"strip_query_params"`
	IncludeStopWords    bool          `mapstructure:"include_stop_words"`
}

// HTTPConfig bounds the shared transport.
type HTTPConfig struct {
	MaxConnections        int           `mapstructure:"max_connections"`
	MaxConnectionsPerHost int           `mapstructure:"max_connections_per_host"`
	DNSCacheTTL           time.Duration `mapstructure:"dns_cache_ttl"`
}

// QueueConfig selects and tunes the frontier backend.
type QueueConfig struct {
	Backend          string        `mapstructure:"backend"`
	LeaseDuration    time.Duration `mapstructure:"lease_duration"`
	RecoveryInterval time.Duration `mapstructure:"recovery_interval"`
	Retention        time.Duration `mapstructure:"retention"`
}

// DBConfig controls access to Postgres.
type DBConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"sslmode"`
}

// DSN renders the pgx connection string.
func (d DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

// LoggingConfig toggles zap behavior.
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// ServerConfig controls the ops HTTP endpoint.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// Queue backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

// Load builds a Config from an optional file plus the environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("WORDCRAWL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	if err := rejectUnknownKeys(v); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("crawler.max_depth", 3)
	v.SetDefault("crawler.max_pages", 1000)
	v.SetDefault("crawler.workers", 10)
	v.SetDefault("crawler.rate_limit_delay", "100ms")
	v.SetDefault("crawler.request_timeout", "30s")
	v.SetDefault("crawler.max_retries", 3)
	v.SetDefault("crawler.user_agent", "wordcrawl/1.0 (+https://example.com/bot)")
	v.SetDefault("crawler.max_redirects", 10)
	v.SetDefault("crawler.allowed_content_types", []string{"text/html", "application/xhtml+xml", "text/plain"})
	v.SetDefault("crawler.max_page_size", 10<<20)
	v.SetDefault("crawler.min_text_length", 0)
	v.SetDefault("crawler.max_words_per_page", 0)
	v.SetDefault("crawler.include_stop_words", false)
	v.SetDefault("http.max_connections", 100)
	v.SetDefault("http.max_connections_per_host", 20)
	v.SetDefault("http.dns_cache_ttl", "5m")
	v.SetDefault("queue.backend", BackendMemory)
	v.SetDefault("queue.lease_duration", "5m")
	v.SetDefault("queue.recovery_interval", "1m")
	v.SetDefault("queue.retention", "168h")
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.name", "wordcrawl")
	v.SetDefault("db.user", "wordcrawl")
	v.SetDefault("db.password", "")
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)
	v.SetDefault("server.port", 8080)
}

// rejectUnknownKeys fails loudly on config-file keys outside the known
// set, catching typos before a crawl silently ignores them.
func rejectUnknownKeys(v *viper.Viper) error {
	known := make(map[string]struct{})
	for _, key := range knownKeys() {
		known[key] = struct{}{}
	}
	for _, key := range v.AllKeys() {
		if _, ok := known[key]; !ok {
			return fmt.Errorf("unknown configuration key %q", key)
		}
	}
	return nil
}

func knownKeys() []string {
	return []string{
		"crawler.max_depth", "crawler.max_pages", "crawler.workers",
		"crawler.rate_limit_delay", "crawler.request_timeout", "crawler.max_retries",
		"crawler.user_agent", "crawler.max_redirects", "crawler.allowed_domains",
		"crawler.blocked_domains", "crawler.allowed_content_types", "crawler.max_page_size",
		"crawler.min_text_length", "crawler.max_words_per_page", "crawler.strip_query_params",
		"crawler.include_stop_words",
		"http.max_connections", "http.max_connections_per_host", "http.dns_cache_ttl",
		"queue.backend", "queue.lease_duration", "queue.recovery_interval", "queue.retention",
		"db.host", "db.port", "db.name", "db.user", "db.password", "db.sslmode",
		"logging.level", "logging.development",
		"server.port",
	}
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Crawler.Workers <= 0 || c.Crawler.Workers > 200 {
		return fmt.Errorf("crawler.workers must be between 1 and 200")
	}
	if c.Crawler.MaxDepth < 0 {
		return fmt.Errorf("crawler.max_depth must be >= 0")
	}
	if c.Crawler.MaxPages <= 0 {
		return fmt.Errorf("crawler.max_pages must be > 0")
	}
	if c.Crawler.RateLimitDelay < 0 {
		return fmt.Errorf("crawler.rate_limit_delay must be non-negative")
	}
	if c.Crawler.RequestTimeout <= 0 {
		return fmt.Errorf("crawler.request_timeout must be > 0")
	}
	if c.Crawler.UserAgent == "" {
		return fmt.Errorf("crawler.user_agent must be set")
	}
	if c.Queue.Backend != BackendMemory && c.Queue.Backend != BackendPostgres {
		return fmt.Errorf("queue.backend must be %q or %q", BackendMemory, BackendPostgres)
	}
	if c.Queue.LeaseDuration <= 0 {
		return fmt.Errorf("queue.lease_duration must be > 0")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	return nil
}
