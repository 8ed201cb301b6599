package database

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisConfig Redis 配置。Addrs 多于一个地址时按集群连接，设置 MasterName 时走哨兵
type RedisConfig struct {
	ServiceName  string        // 服务名称，用于日志标识
	Host         string        // 单机地址，Addrs 为空时使用
	Port         int           // 单机端口
	Addrs        []string      // 集群或哨兵地址列表
	MasterName   string        // 哨兵主节点名
	Password     string        // Redis 密码
	DB           int           // Redis 数据库编号，集群模式忽略
	PoolSize     int           // 连接池大小
	MinIdleConns int           // 最小空闲连接数
	MaxConnAge   time.Duration // 连接最大生命周期
	DialTimeout  time.Duration // 建连超时
}

// RedisClient Redis 客户端封装，单机、集群、哨兵都以 UniversalClient 暴露
type RedisClient struct {
	redis.UniversalClient
}

// InitRedis 初始化 Redis 连接并 Ping 一次
func InitRedis(config *RedisConfig) (*RedisClient, error) {
	if config == nil {
		return nil, fmt.Errorf("配置不能为空")
	}

	setRedisDefaults(config)

	options := &redis.UniversalOptions{
		Addrs:           config.Addrs,
		MasterName:      config.MasterName,
		Password:        config.Password,
		DB:              config.DB,
		PoolSize:        config.PoolSize,
		MinIdleConns:    config.MinIdleConns,
		ConnMaxLifetime: config.MaxConnAge,
		DialTimeout:     config.DialTimeout,
	}
	client := redis.NewUniversalClient(options)

	ctx, cancel := context.WithTimeout(context.Background(), config.DialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("连接 Redis %v 失败: %w", config.Addrs, err)
	}

	zap.L().Info("Redis连接成功",
		zap.String("service", serviceName(config.ServiceName)),
		zap.Strings("addrs", config.Addrs),
		zap.String("mode", redisMode(config)),
		zap.Bool("password", config.Password != ""),
	)

	return &RedisClient{UniversalClient: client}, nil
}

func redisMode(c *RedisConfig) string {
	switch {
	case c.MasterName != "":
		return "sentinel"
	case len(c.Addrs) > 1:
		return "cluster"
	default:
		return "standalone"
	}
}

// setRedisDefaults 设置默认值
func setRedisDefaults(c *RedisConfig) {
	if len(c.Addrs) == 0 {
		if c.Host == "" {
			c.Host = "localhost"
		}
		if c.Port == 0 {
			c.Port = 6379
		}
		c.Addrs = []string{fmt.Sprintf("%s:%d", c.Host, c.Port)}
	}
	if c.PoolSize == 0 {
		c.PoolSize = 10
	}
	if c.MinIdleConns == 0 {
		c.MinIdleConns = 5
	}
	if c.MaxConnAge == 0 {
		c.MaxConnAge = 1 * time.Hour
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 5 * time.Second
	}
}
