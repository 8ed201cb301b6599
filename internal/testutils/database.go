package testutils

import (
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"terminal-terrace/blob-service/internal/model"
	dbPkg "terminal-terrace/blob-service/pkg/database"
)

// SetupTestDB creates an isolated in-memory SQLite database with every table migrated.
// TranslateError is on, matching the Postgres connection used in production.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent), // Suppress logs in tests
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("Failed to get test database handle: %v", err)
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY under concurrent tests
	sqlDB.SetMaxOpenConns(1)

	if err := model.InitTable(db); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}

	t.Cleanup(func() {
		sqlDB.Close()
	})
	return db
}

// SetupTestRedis starts an in-process Redis server for the duration of the test
func SetupTestRedis(t *testing.T) (*dbPkg.RedisClient, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := &dbPkg.RedisClient{UniversalClient: redis.NewClient(&redis.Options{Addr: mr.Addr()})}
	t.Cleanup(func() {
		client.Close()
	})
	return client, mr
}
