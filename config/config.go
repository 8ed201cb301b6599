// config/config.go - 配置管理文件
package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/docker/go-units"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

var (
	Conf *AppConfig
	once sync.Once
	k    *koanf.Koanf
)

// AppConfig 应用配置结构
type AppConfig struct {
	Server      ServerConfig   `koanf:"server"`
	Database    DatabaseConfig `koanf:"database"`
	Redis       RedisConfig    `koanf:"redis"`
	Badger      BadgerConfig   `koanf:"badger"`
	TxStore     TxStoreConfig  `koanf:"txstore"`
	Storage     StorageConfig  `koanf:"storage"`
	Upload      UploadConfig   `koanf:"upload"`
	Janitor     JanitorConfig  `koanf:"janitor"`
	Log         LogConfig      `koanf:"log"`
	JWT         JWTConfig      `koanf:"jwt"`
	FrontendURL string         `koanf:"frontend_url"`
}

type ServerConfig struct {
	Host         string        `koanf:"host"`
	Port         int           `koanf:"port"`
	Mode         string        `koanf:"mode"` // debug, release
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

// Addr 监听地址
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type DatabaseConfig struct {
	Host         string `koanf:"host"`
	Port         int    `koanf:"port"`
	Username     string `koanf:"username"`
	Password     string `koanf:"password"`
	Database     string `koanf:"database"`
	SSLMode      bool   `koanf:"sslmode"`
	LogLevel     string `koanf:"log_level"` // 数据库日志级别
	MaxOpenConns int    `koanf:"max_open_conns"`
	MaxIdleConns int    `koanf:"max_idle_conns"`
	MaxLifetime  int    `koanf:"max_lifetime"` // 秒
}

type RedisConfig struct {
	Host       string   `koanf:"host"`
	Port       int      `koanf:"port"`
	Addrs      []string `koanf:"addrs"`       // 集群/哨兵地址，设置后忽略 host/port
	MasterName string   `koanf:"master_name"` // 哨兵主节点名
	Password   string   `koanf:"password"`
	DB         int      `koanf:"db"`
	PoolSize   int      `koanf:"pool_size"`
}

type BadgerConfig struct {
	Dir        string `koanf:"dir"`
	InMemory   bool   `koanf:"in_memory"`
	SyncWrites bool   `koanf:"sync_writes"`
}

// TxStoreConfig 上传事务存储后端: redis, badger, memory
type TxStoreConfig struct {
	Driver string `koanf:"driver"`
}

type StorageConfig struct {
	Root        string `koanf:"root"`         // blobs/ 与 tmp/ 的父目录
	HashWorkers int    `koanf:"hash_workers"` // 同时进行的整文件哈希数，0 表示 CPU 核数
}

// UploadConfig 上传协议参数，大小字段支持 "5MiB" 这种写法
type UploadConfig struct {
	ChunkSize            string        `koanf:"chunk_size"`
	WholeFileMax         string        `koanf:"whole_file_max"`
	MaxBlobSize          string        `koanf:"max_blob_size"`
	MaxConcurrentUploads int           `koanf:"max_concurrent_uploads"`
	SampleCount          int           `koanf:"sample_count"`
	SampleSize           string        `koanf:"sample_size"`
	TransactionTTL       time.Duration `koanf:"transaction_ttl"`
	SlotTTL              time.Duration `koanf:"slot_ttl"`
}

type JanitorConfig struct {
	Enabled  bool          `koanf:"enabled"`
	Interval time.Duration `koanf:"interval"`
	Grace    time.Duration `koanf:"grace"` // 临时文件最短保留时间
}

type LogConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // json, console
}

type JWTConfig struct {
	Secret string `koanf:"secret"` // 为空时上传接口不做认证
}

// Load 加载配置文件
func Load(configPath string) error {
	var err error
	once.Do(func() {
		// 首先加载 .env 文件到环境变量
		if envErr := godotenv.Load(); envErr != nil && !os.IsNotExist(envErr) {
			log.Printf("警告: 无法加载 .env 文件: %v", envErr)
		}

		k = koanf.New(".")
		Conf, err = load(k, configPath)
	})

	return err
}

func load(k *koanf.Koanf, configPath string) (*AppConfig, error) {
	// 1. 加载配置文件
	if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("加载配置文件失败: %w", err)
	}

	// 2. 加载标准环境变量（APP_ 前缀）
	// 例如：APP_DATABASE_HOST -> database.host
	if err := k.Load(env.Provider("APP_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "APP_")), "_", ".", -1)
	}), nil); err != nil {
		log.Printf("加载环境变量失败: %v", err)
	}

	// 3. 加载简化的环境变量名（向后兼容）
	loadCustomEnvVars(k)

	// 4. 解析到结构体
	conf := &AppConfig{}
	if err := k.Unmarshal("", conf); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	setDefaults(conf)

	// 5. 验证必需配置
	if err := validateConfig(conf); err != nil {
		return nil, err
	}
	return conf, nil
}

// loadCustomEnvVars 加载自定义环境变量名（简化命名）
func loadCustomEnvVars(k *koanf.Koanf) {
	pairs := map[string]string{
		"DB_HOST":        "database.host",
		"DB_PORT":        "database.port",
		"DB_USERNAME":    "database.username",
		"DB_PASSWORD":    "database.password",
		"REDIS_HOST":     "redis.host",
		"REDIS_PORT":     "redis.port",
		"REDIS_PASSWORD": "redis.password",
		"JWT_SECRET":     "jwt.secret",
		"LOG_LEVEL":      "log.level",
		"STORAGE_ROOT":   "storage.root",
		"TXSTORE_DRIVER": "txstore.driver",
		"FRONTEND_URL":   "frontend_url",
	}
	for envName, key := range pairs {
		if v := os.Getenv(envName); v != "" {
			k.Set(key, v)
		}
	}
	if v := os.Getenv("DB_SSLMODE"); v != "" {
		k.Set("database.sslmode", v == "true")
	}
}

// setDefaults 未配置的上传参数使用协议默认值
func setDefaults(conf *AppConfig) {
	if conf.Server.Port == 0 {
		conf.Server.Port = 8080
	}
	if conf.Server.ReadTimeout == 0 {
		conf.Server.ReadTimeout = 60 * time.Second
	}
	if conf.Server.WriteTimeout == 0 {
		conf.Server.WriteTimeout = 60 * time.Second
	}
	if conf.TxStore.Driver == "" {
		conf.TxStore.Driver = "redis"
	}
	if conf.Storage.Root == "" {
		conf.Storage.Root = "data"
	}
	u := &conf.Upload
	if u.ChunkSize == "" {
		u.ChunkSize = "5MiB"
	}
	if u.WholeFileMax == "" {
		u.WholeFileMax = "15MiB"
	}
	if u.MaxBlobSize == "" {
		u.MaxBlobSize = "0"
	}
	if u.MaxConcurrentUploads == 0 {
		u.MaxConcurrentUploads = 5
	}
	if u.SampleCount == 0 {
		u.SampleCount = 10
	}
	if u.SampleSize == "" {
		u.SampleSize = "1MiB"
	}
	if u.TransactionTTL == 0 {
		u.TransactionTTL = 72 * time.Hour
	}
	if u.SlotTTL == 0 {
		u.SlotTTL = 60 * time.Second
	}
	if conf.Janitor.Interval == 0 {
		conf.Janitor.Interval = time.Hour
	}
	if conf.Janitor.Grace == 0 {
		conf.Janitor.Grace = 10 * time.Minute
	}
}

// validateConfig 验证配置的有效性
func validateConfig(conf *AppConfig) error {
	switch conf.TxStore.Driver {
	case "redis", "badger", "memory":
	default:
		return fmt.Errorf("未知的 txstore.driver: %q", conf.TxStore.Driver)
	}

	for name, v := range map[string]string{
		"upload.chunk_size":     conf.Upload.ChunkSize,
		"upload.whole_file_max": conf.Upload.WholeFileMax,
		"upload.max_blob_size":  conf.Upload.MaxBlobSize,
		"upload.sample_size":    conf.Upload.SampleSize,
	} {
		if _, err := units.RAMInBytes(v); err != nil {
			return fmt.Errorf("%s 格式错误: %w", name, err)
		}
	}

	if conf.JWT.Secret == "" {
		log.Println("⚠️  Warning: jwt.secret is empty, upload routes are not authenticated")
	}

	return nil
}

// MustLoad 加载配置，失败则 panic
func MustLoad(configPath string) {
	if err := Load(configPath); err != nil {
		log.Fatalf("配置加载失败: %v", err)
	}
}

// Bytes 解析 "5MiB" 这类大小配置，格式已在加载时校验
func Bytes(v string) uint64 {
	n, err := units.RAMInBytes(v)
	if err != nil || n < 0 {
		return 0
	}
	return uint64(n)
}
