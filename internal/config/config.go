// Package config loads lexstore configuration from YAML and LEXSTORE_* variables
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store backends
const (
	StoreMemory   = "memory"
	StoreKV       = "kv"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Lock backends
const (
	LockNone  = "none"
	LockLocal = "local"
	LockRedis = "redis"
)

// Feed backends
const (
	FeedLog   = "log"
	FeedKafka = "kafka"
)

// Config is the complete server configuration
type Config struct {
	Server  Server            `yaml:"server"`
	Log     Log               `yaml:"log"`
	Store   Store             `yaml:"store"`
	Lock    Lock              `yaml:"lock"`
	Feed    Feed              `yaml:"feed"`
	Admin   Admin             `yaml:"admin"`
	Retry   Retry             `yaml:"retry"`
	BaseIRI string            `yaml:"base_iri"`
	Aliases map[string]string `yaml:"aliases"`
}

// Server holds listener ports
type Server struct {
	GrpcPort    int `yaml:"grpc_port"`
	AdminPort   int `yaml:"admin_port"`
	MetricsPort int `yaml:"metrics_port"`
}

// Log mirrors logger.Config
type Log struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
	Caller bool   `yaml:"caller"`
}

// Store selects the content store backend
type Store struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
	DSN     string `yaml:"dsn"`
}

// Lock selects the per-document lock
type Lock struct {
	Backend  string        `yaml:"backend"`
	RedisURL string        `yaml:"redis_url"`
	TTL      time.Duration `yaml:"ttl"`
	Wait     time.Duration `yaml:"wait"`
}

// Feed selects where change records are published
type Feed struct {
	Backend string   `yaml:"backend"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`

	// Spool, when set, journals records so they outlive broker outages
	Spool         string        `yaml:"spool"`
	DrainInterval time.Duration `yaml:"drain_interval"`
}

// Admin guards the index-admin routes
type Admin struct {
	TrustedHosts []string `yaml:"trusted_hosts"`
	JWTSecret    string   `yaml:"jwt_secret"`
}

// Retry bounds retries of store timeouts
type Retry struct {
	Attempts int           `yaml:"attempts"`
	Wait     time.Duration `yaml:"wait"`

	// UploadPause is how long an upload waits before its single retry
	UploadPause time.Duration `yaml:"upload_pause"`
}

// Default returns a configuration that runs everything in memory
func Default() Config {
	return Config{
		Server:  Server{GrpcPort: 50061, AdminPort: 8080, MetricsPort: 9090},
		Log:     Log{Level: "info"},
		Store:   Store{Backend: StoreMemory},
		Lock:    Lock{Backend: LockLocal, TTL: 30 * time.Second, Wait: 10 * time.Second},
		Feed:    Feed{Backend: FeedLog, Topic: "lexstore.changes", DrainInterval: 30 * time.Second},
		Admin:   Admin{TrustedHosts: []string{"127.0.0.1", "::1"}},
		Retry:   Retry{Attempts: 3, Wait: time.Second, UploadPause: 10 * time.Second},
		BaseIRI: "http://data.lexstore.local",
	}
}

// Load reads path (optional) over the defaults, then applies the environment
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from LEXSTORE_* variables
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup("LEXSTORE_" + name); ok {
			*dst = v
		}
	}
	var errs []error
	num := func(name string, dst *int) {
		if v, ok := lookup("LEXSTORE_" + name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("LEXSTORE_%s: %w", name, err))
				return
			}
			*dst = n
		}
	}
	dur := func(name string, dst *time.Duration) {
		if v, ok := lookup("LEXSTORE_" + name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("LEXSTORE_%s: %w", name, err))
				return
			}
			*dst = d
		}
	}
	list := func(name string, dst *[]string) {
		if v, ok := lookup("LEXSTORE_" + name); ok {
			*dst = splitList(v)
		}
	}

	num("GRPC_PORT", &c.Server.GrpcPort)
	num("ADMIN_PORT", &c.Server.AdminPort)
	num("METRICS_PORT", &c.Server.MetricsPort)
	str("LOG_LEVEL", &c.Log.Level)
	str("STORE_BACKEND", &c.Store.Backend)
	str("STORE_PATH", &c.Store.Path)
	str("STORE_DSN", &c.Store.DSN)
	str("LOCK_BACKEND", &c.Lock.Backend)
	str("REDIS_URL", &c.Lock.RedisURL)
	dur("LOCK_TTL", &c.Lock.TTL)
	str("FEED_BACKEND", &c.Feed.Backend)
	list("FEED_BROKERS", &c.Feed.Brokers)
	str("FEED_TOPIC", &c.Feed.Topic)
	str("FEED_SPOOL", &c.Feed.Spool)
	dur("FEED_DRAIN_INTERVAL", &c.Feed.DrainInterval)
	list("ADMIN_TRUSTED_HOSTS", &c.Admin.TrustedHosts)
	str("ADMIN_JWT_SECRET", &c.Admin.JWTSecret)
	num("RETRY_ATTEMPTS", &c.Retry.Attempts)
	dur("RETRY_WAIT", &c.Retry.Wait)
	str("BASE_IRI", &c.BaseIRI)
	if v, ok := lookup("LEXSTORE_LOG_PRETTY"); ok {
		c.Log.Pretty = v == "true" || v == "1"
	}
	return errors.Join(errs...)
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Validate reports every inconsistent setting at once
func (c Config) Validate() error {
	var errs []error
	switch c.Store.Backend {
	case StoreMemory:
	case StoreKV:
		if c.Store.Path == "" {
			errs = append(errs, errors.New("store: kv backend needs a path"))
		}
	case StoreSQLite, StorePostgres:
		if c.Store.DSN == "" {
			errs = append(errs, fmt.Errorf("store: %s backend needs a dsn", c.Store.Backend))
		}
	default:
		errs = append(errs, fmt.Errorf("store: unknown backend %q", c.Store.Backend))
	}

	switch c.Lock.Backend {
	case LockNone, LockLocal:
	case LockRedis:
		if c.Lock.RedisURL == "" {
			errs = append(errs, errors.New("lock: redis backend needs redis_url"))
		}
		if c.Lock.TTL <= 0 {
			errs = append(errs, errors.New("lock: ttl must be positive"))
		}
	default:
		errs = append(errs, fmt.Errorf("lock: unknown backend %q", c.Lock.Backend))
	}

	switch c.Feed.Backend {
	case FeedLog:
	case FeedKafka:
		if len(c.Feed.Brokers) == 0 || c.Feed.Topic == "" {
			errs = append(errs, errors.New("feed: kafka backend needs brokers and a topic"))
		}
	default:
		errs = append(errs, fmt.Errorf("feed: unknown backend %q", c.Feed.Backend))
	}
	if c.Feed.Spool != "" && c.Feed.DrainInterval <= 0 {
		errs = append(errs, errors.New("feed: drain_interval must be positive with a spool"))
	}

	if c.Retry.Attempts < 1 {
		errs = append(errs, errors.New("retry: attempts must be at least 1"))
	}
	for _, port := range []int{c.Server.GrpcPort, c.Server.AdminPort, c.Server.MetricsPort} {
		if port < 0 || port > 65535 {
			errs = append(errs, fmt.Errorf("server: invalid port %d", port))
		}
	}
	return errors.Join(errs...)
}
