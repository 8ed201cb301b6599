package database

import (
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

// BadgerConfig 嵌入式 Badger 配置，单机部署时替代 Redis
type BadgerConfig struct {
	ServiceName string // 服务名称，用于日志标识
	Dir         string // 数据目录，InMemory 时忽略
	InMemory    bool   // 纯内存模式（测试用）
	SyncWrites  bool   // 每次写入都 fsync
}

// InitBadger 打开 Badger 数据库
func InitBadger(config *BadgerConfig) (*badger.DB, error) {
	if config == nil {
		return nil, fmt.Errorf("配置不能为空")
	}
	if !config.InMemory && config.Dir == "" {
		return nil, fmt.Errorf("badger 数据目录不能为空")
	}

	opts := badger.DefaultOptions(config.Dir).
		WithInMemory(config.InMemory).
		WithSyncWrites(config.SyncWrites).
		WithLogger(badgerLogger{zap.L().Sugar().With("component", "badger")})
	if config.InMemory {
		opts = opts.WithDir("").WithValueDir("")
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("打开 badger 失败: %w", err)
	}

	zap.L().Info("Badger打开成功",
		zap.String("service", serviceName(config.ServiceName)),
		zap.String("dir", config.Dir),
		zap.Bool("in_memory", config.InMemory),
	)
	return db, nil
}

// badgerLogger 把 badger 的日志接口接到 zap 上
type badgerLogger struct {
	s *zap.SugaredLogger
}

func (l badgerLogger) Errorf(format string, args ...interface{})   { l.s.Errorf(format, args...) }
func (l badgerLogger) Warningf(format string, args ...interface{}) { l.s.Warnf(format, args...) }
func (l badgerLogger) Infof(format string, args ...interface{})    { l.s.Debugf(format, args...) }
func (l badgerLogger) Debugf(format string, args ...interface{})   { l.s.Debugf(format, args...) }
