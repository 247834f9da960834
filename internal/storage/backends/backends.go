// Package backends selects and opens a storage backend from configuration.
package backends

import (
	"context"
	"fmt"

	platformredis "bloodlink/internal/platform/redis"
	"bloodlink/internal/storage"
	"bloodlink/internal/storage/leveldb"
	"bloodlink/internal/storage/memory"
	"bloodlink/internal/storage/postgres"
	redisstore "bloodlink/internal/storage/redis"
	"bloodlink/internal/storage/sqlite"
)

// Driver identifies a concrete storage implementation.
type Driver string

const (
	DriverMemory   Driver = "memory"   // in-process only (tests / ephemeral)
	DriverLevelDB  Driver = "leveldb"  // embedded key-value directory
	DriverSQLite   Driver = "sqlite"   // embedded sqlite file
	DriverPostgres Driver = "postgres" // PostgreSQL server
	DriverRedis    Driver = "redis"    // Redis server
)

// DefaultLevelDBPath is used when the leveldb driver has no path configured.
const DefaultLevelDBPath = "data/bloodlink.ldb"

type Config struct {
	Driver      Driver
	LevelDBPath string
	SQLitePath  string
	PostgresDSN string
	Postgres    postgres.PoolConfig
	Redis       platformredis.Config
	RedisPrefix string
}

// Open returns the backend named by cfg.Driver, defaulting to leveldb.
func Open(ctx context.Context, cfg Config) (storage.Backend, error) {
	switch cfg.Driver {
	case "", DriverLevelDB:
		path := cfg.LevelDBPath
		if path == "" {
			path = DefaultLevelDBPath
		}
		b, err := leveldb.Open(path)
		if err != nil {
			return nil, err
		}
		return b, nil
	case DriverMemory:
		return memory.New(), nil
	case DriverSQLite:
		b, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return b, nil
	case DriverPostgres:
		b, err := postgres.Open(ctx, cfg.PostgresDSN, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		return b, nil
	case DriverRedis:
		client, err := platformredis.New(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		return redisstore.New(client.Client, cfg.RedisPrefix), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
