package providers

import (
	"github.com/bradfitz/gomemcache/memcache"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/famkit/famsync/client"
	"github.com/famkit/famsync/internal/config"
	"github.com/famkit/famsync/internal/infrastructure/database"
	"github.com/famkit/famsync/internal/infrastructure/repository"
	"github.com/famkit/famsync/internal/service"
)

// NewDatabase opens a Postgres connection using the configured DSN.
func NewDatabase(conf config.Server) (*gorm.DB, error) {
	return database.NewPostgres(conf.PostgresDsn)
}

// MigrateDatabase applies migrations for the family models.
func MigrateDatabase(db *gorm.DB) error {
	return database.MigratePostgres(db)
}

// NewRedis creates the redis client backing the change channel.
func NewRedis(conf config.Server) *redis.Client {
	return database.NewRedis(conf.RedisAddr, "", conf.RedisDB)
}

// NewMemcache creates the memcache client holding family snapshots.
func NewMemcache(conf config.Server) *memcache.Client {
	return database.NewMemcached(conf.MemcachedAddr)
}

// NewRepository wires the postgres-backed storage with its change signal.
func NewRepository(db *gorm.DB, rdb *redis.Client, mc *memcache.Client) *repository.FamilyRepository {
	signal := service.NewSignalService(rdb)
	return repository.NewFamilyRepository(db, rdb, mc, signal)
}

// NewRemoteStorage constructs the HTTP client used to reach a backend in
// another process.
func NewRemoteStorage(baseURL string) *client.Client {
	return client.New(baseURL)
}
