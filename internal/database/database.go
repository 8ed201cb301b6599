package database

import (
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"gorm.io/gorm"

	"terminal-terrace/blob-service/config"
	"terminal-terrace/blob-service/internal/model"
	"terminal-terrace/blob-service/internal/txstore"
	"terminal-terrace/blob-service/pkg/database"
)

const serviceName = "blob-service"

var (
	PostgresDB *gorm.DB
	RedisDB    *database.RedisClient
	BadgerDB   *badger.DB
)

// InitDatabase 连接 Postgres，并按 txstore.driver 打开事务存储所需的后端
func InitDatabase() {
	initPostgres()
	InitTxStoreBackend()
}

// InitTxStoreBackend 只打开事务存储的后端，离线工具不需要 Postgres
func InitTxStoreBackend() {
	switch config.Conf.TxStore.Driver {
	case "redis":
		initRedis()
	case "badger":
		initBadger()
	}
}

func initPostgres() {
	databaseConf := config.Conf.Database

	// 设置默认日志级别
	logLevel := databaseConf.LogLevel
	if logLevel == "" {
		logLevel = "warn"
	}

	var err error
	PostgresDB, err = database.InitPostgres(
		&database.PostgresConfig{
			ServiceName:     serviceName,
			Username:        databaseConf.Username,
			Password:        databaseConf.Password,
			Host:            databaseConf.Host,
			Port:            databaseConf.Port,
			Database:        databaseConf.Database,
			SSLMode:         databaseConf.SSLMode,
			LogLevel:        logLevel,
			MaxIdleConns:    databaseConf.MaxIdleConns,
			MaxOpenConns:    databaseConf.MaxOpenConns,
			ConnMaxLifetime: time.Duration(databaseConf.MaxLifetime) * time.Second,
		},
	)
	if err != nil {
		panic(err)
	}

	// 初始化数据库表
	if err := model.InitTable(PostgresDB); err != nil {
		panic(err)
	}
}

func initRedis() {
	redisConf := config.Conf.Redis

	var err error
	RedisDB, err = database.InitRedis(&database.RedisConfig{
		ServiceName: serviceName,
		Host:        redisConf.Host,
		Port:        redisConf.Port,
		Addrs:       redisConf.Addrs,
		MasterName:  redisConf.MasterName,
		Password:    redisConf.Password,
		DB:          redisConf.DB,
		PoolSize:    redisConf.PoolSize,
	})
	if err != nil {
		panic(err)
	}
}

func initBadger() {
	badgerConf := config.Conf.Badger

	var err error
	BadgerDB, err = database.InitBadger(&database.BadgerConfig{
		ServiceName: serviceName,
		Dir:         badgerConf.Dir,
		InMemory:    badgerConf.InMemory,
		SyncWrites:  badgerConf.SyncWrites,
	})
	if err != nil {
		panic(err)
	}
}

// TxStoreOptions 从上传配置得到事务存储参数
func TxStoreOptions(u config.UploadConfig) txstore.Options {
	return txstore.Options{
		ChunkSize:            config.Bytes(u.ChunkSize),
		MaxConcurrentUploads: int64(u.MaxConcurrentUploads),
		TTL:                  u.TransactionTTL,
		SlotTTL:              u.SlotTTL,
	}
}

// NewTxStore 在 InitDatabase 打开的连接上创建事务存储
func NewTxStore(driver string, opts txstore.Options) (txstore.Store, error) {
	switch driver {
	case "redis":
		if RedisDB == nil {
			return nil, fmt.Errorf("redis 未初始化")
		}
		return txstore.NewRedisStore(RedisDB.UniversalClient, opts), nil
	case "badger":
		if BadgerDB == nil {
			return nil, fmt.Errorf("badger 未初始化")
		}
		return txstore.NewBadgerStore(BadgerDB, opts), nil
	case "memory":
		return txstore.NewMemoryStore(opts), nil
	default:
		return nil, fmt.Errorf("未知的 txstore.driver: %q", driver)
	}
}

// Close 关闭所有连接，进程退出前调用
func Close() {
	if PostgresDB != nil {
		if sqlDB, err := PostgresDB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	if RedisDB != nil {
		_ = RedisDB.Close()
	}
	if BadgerDB != nil && !BadgerDB.IsClosed() {
		_ = BadgerDB.Close()
	}
}
