// Package config loads the mindmap engine configuration from TOML.
//
// Configuration is optional everywhere: a zero Config resolves to a
// fully working in-memory setup, and a TOML file only needs to state
// what it overrides. The CLI looks for mindmap.toml next to the graph
// file unless a path is given explicitly.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	apperrors "github.com/saptak/screenshotnotes-sub005/pkg/errors"
)

// =============================================================================
// Config
// =============================================================================

// Backend names for the durable cache tier.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMongo  = "mongo"
)

// Config is the root configuration document.
type Config struct {
	Layout      LayoutConfig      `toml:"layout"`
	Consistency ConsistencyConfig `toml:"consistency"`
	Cache       CacheConfig       `toml:"cache"`
	Log         LogConfig         `toml:"log"`
}

// LayoutConfig tunes the force-directed solver.
type LayoutConfig struct {
	MaxIterations   int      `toml:"max_iterations"`
	Convergence     float64  `toml:"convergence"`
	Repulsion       float64  `toml:"repulsion"`
	SpringLength    float64  `toml:"spring_length"`
	Spring          float64  `toml:"spring"`
	Damping         float64  `toml:"damping"`
	MaxDisplacement float64  `toml:"max_displacement"`
	Timeout         Duration `toml:"timeout"`
}

// ConsistencyConfig tunes change processing and conflict resolution.
type ConsistencyConfig struct {
	DeletionHops          int      `toml:"deletion_hops"`
	UpdateHops            int      `toml:"update_hops"`
	ConflictWindow        Duration `toml:"conflict_window"`
	MaxRetries            int      `toml:"max_retries"`
	IntegrityFailureLimit int      `toml:"integrity_failure_limit"`
	FullRecomputeTimeout  Duration `toml:"full_recompute_timeout"`
	Workers               int      `toml:"workers"`
	QueueSize             int      `toml:"queue_size"`
}

// CacheConfig selects and configures the durable cache tier. The
// in-memory fast tier is always present.
type CacheConfig struct {
	Backend string       `toml:"backend"`
	SQLite  SQLiteConfig `toml:"sqlite"`
	Redis   RedisConfig  `toml:"redis"`
	Mongo   MongoConfig  `toml:"mongo"`
}

// SQLiteConfig configures the embedded durable tier.
type SQLiteConfig struct {
	Path string `toml:"path"`
}

// RedisConfig configures the shared fast durable tier.
type RedisConfig struct {
	Addr     string   `toml:"addr"`
	Password string   `toml:"password"`
	DB       int      `toml:"db"`
	TTL      Duration `toml:"ttl"`
}

// MongoConfig configures the document-store durable tier.
type MongoConfig struct {
	URI      string   `toml:"uri"`
	Database string   `toml:"database"`
	Timeout  Duration `toml:"timeout"`
}

// LogConfig controls logger verbosity and format.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Duration is a time.Duration that unmarshals from TOML strings like
// "500ms" or "10s".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// =============================================================================
// Loading
// =============================================================================

// Default returns the configuration used when no file is present:
// solver and consistency defaults left to their packages, a pure
// in-memory cache, and info-level text logging.
func Default() Config {
	return Config{
		Cache: CacheConfig{Backend: BackendMemory},
		Log:   LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads and validates a TOML config file. A missing file is not
// an error when allowMissing is set; the defaults are returned.
func Load(path string, allowMissing bool) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && allowMissing {
			return cfg, nil
		}
		return cfg, apperrors.Wrap(apperrors.ErrCodeFileNotFound, err, "read config %s", path)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, apperrors.Wrap(apperrors.ErrCodeInvalidInput, err, "parse config %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints not expressible in types.
func (c *Config) Validate() error {
	switch c.Cache.Backend {
	case "", BackendMemory:
	case BackendSQLite:
		if c.Cache.SQLite.Path == "" {
			return apperrors.New(apperrors.ErrCodeInvalidInput, "cache.sqlite.path is required for the sqlite backend")
		}
	case BackendRedis:
		if c.Cache.Redis.Addr == "" {
			return apperrors.New(apperrors.ErrCodeInvalidInput, "cache.redis.addr is required for the redis backend")
		}
	case BackendMongo:
		if c.Cache.Mongo.URI == "" {
			return apperrors.New(apperrors.ErrCodeInvalidInput, "cache.mongo.uri is required for the mongo backend")
		}
	default:
		return apperrors.New(apperrors.ErrCodeInvalidInput,
			"unknown cache backend %q (want %s)", c.Cache.Backend,
			fmt.Sprintf("%s, %s, %s, or %s", BackendMemory, BackendSQLite, BackendRedis, BackendMongo))
	}

	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return apperrors.New(apperrors.ErrCodeInvalidInput, "unknown log level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return apperrors.New(apperrors.ErrCodeInvalidInput, "unknown log format %q", c.Log.Format)
	}
	return nil
}
