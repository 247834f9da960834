// Package config reads process configuration from BLOODLINK_* environment
// variables so main stays lean.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	platformredis "bloodlink/internal/platform/redis"
	"bloodlink/internal/storage/backends"
	"bloodlink/internal/storage/postgres"
)

const envPrefix = "BLOODLINK_"

// Config is everything cmd/server needs to wire the process.
type Config struct {
	OpsAddr  string
	Storage  backends.Config
	Log      Log
	Security Security
	Audit    Audit
	Seed     bool
}

type Log struct {
	Level  string
	Format string // json | console
}

type Security struct {
	BcryptCost int
	TxTimeout  time.Duration
}

// Audit configures event delivery. With no brokers, events stay in memory.
type Audit struct {
	KafkaBrokers []string
	KafkaTopic   string
	Buffer       int
}

// FromEnv builds a Config from the environment, applying defaults for
// anything unset. Malformed numbers and durations are reported, not ignored.
func FromEnv() (Config, error) {
	return load(os.Getenv)
}

func load(getenv func(string) string) (Config, error) {
	r := reader{getenv: getenv}

	cfg := Config{
		OpsAddr: r.str("OPS_ADDR", ":9090"),
		Storage: backends.Config{
			Driver:      backends.Driver(strings.ToLower(r.str("STORAGE_DRIVER", string(backends.DriverLevelDB)))),
			LevelDBPath: r.str("LEVELDB_PATH", backends.DefaultLevelDBPath),
			SQLitePath:  r.str("SQLITE_PATH", "data/bloodlink.db"),
			PostgresDSN: r.str("POSTGRES_DSN", ""),
			Postgres: postgres.PoolConfig{
				MaxOpenConns:    r.int("POSTGRES_MAX_OPEN_CONNS", 10),
				MaxIdleConns:    r.int("POSTGRES_MAX_IDLE_CONNS", 5),
				ConnMaxLifetime: r.duration("POSTGRES_CONN_MAX_LIFETIME", 30*time.Minute),
			},
			Redis: platformredis.Config{
				URL:          r.str("REDIS_URL", "redis://localhost:6379/0"),
				PoolSize:     r.int("REDIS_POOL_SIZE", 10),
				MinIdleConns: r.int("REDIS_MIN_IDLE_CONNS", 2),
				DialTimeout:  r.duration("REDIS_DIAL_TIMEOUT", 5*time.Second),
				ReadTimeout:  r.duration("REDIS_READ_TIMEOUT", 3*time.Second),
				WriteTimeout: r.duration("REDIS_WRITE_TIMEOUT", 3*time.Second),
			},
			RedisPrefix: r.str("REDIS_PREFIX", "bloodlink"),
		},
		Log: Log{
			Level:  strings.ToLower(r.str("LOG_LEVEL", "info")),
			Format: strings.ToLower(r.str("LOG_FORMAT", "json")),
		},
		Security: Security{
			BcryptCost: r.int("BCRYPT_COST", 12),
			TxTimeout:  r.duration("TX_TIMEOUT", 5*time.Second),
		},
		Audit: Audit{
			KafkaBrokers: r.list("AUDIT_KAFKA_BROKERS"),
			KafkaTopic:   r.str("AUDIT_KAFKA_TOPIC", "bloodlink.audit"),
			Buffer:       r.int("AUDIT_BUFFER", 256),
		},
		Seed: r.bool("SEED_DEMO", false),
	}
	if r.err != nil {
		return Config{}, r.err
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "console" {
		return Config{}, fmt.Errorf("%sLOG_FORMAT: want json or console, got %q", envPrefix, cfg.Log.Format)
	}
	if cfg.Audit.Buffer < 0 {
		return Config{}, fmt.Errorf("%sAUDIT_BUFFER: must not be negative", envPrefix)
	}
	return cfg, nil
}

// reader keeps the first parse error so every lookup can stay a one-liner.
type reader struct {
	getenv func(string) string
	err    error
}

func (r *reader) str(key, def string) string {
	if v := strings.TrimSpace(r.getenv(envPrefix + key)); v != "" {
		return v
	}
	return def
}

func (r *reader) int(key string, def int) int {
	v := strings.TrimSpace(r.getenv(envPrefix + key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.fail(key, err)
		return def
	}
	return n
}

func (r *reader) duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(r.getenv(envPrefix + key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.fail(key, err)
		return def
	}
	return d
}

func (r *reader) bool(key string, def bool) bool {
	v := strings.TrimSpace(r.getenv(envPrefix + key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.fail(key, err)
		return def
	}
	return b
}

func (r *reader) list(key string) []string {
	var out []string
	for _, part := range strings.Split(r.getenv(envPrefix+key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (r *reader) fail(key string, err error) {
	if r.err == nil {
		r.err = fmt.Errorf("%s%s: %w", envPrefix, key, err)
	}
}
