package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"terminal-terrace/blob-service/config"
	"terminal-terrace/blob-service/internal/blobfs"
	"terminal-terrace/blob-service/internal/catalog"
	"terminal-terrace/blob-service/internal/database"
	"terminal-terrace/blob-service/internal/janitor"
	"terminal-terrace/blob-service/internal/metrics"
	"terminal-terrace/blob-service/internal/route"
	"terminal-terrace/blob-service/internal/upload"
	"terminal-terrace/blob-service/pkg/logger"
)

func main() {
	configPath := pflag.StringP("config", "c", "config.yaml", "配置文件路径")
	pflag.Parse()

	// 1. 加载配置
	config.MustLoad(*configPath)
	conf := config.Conf

	log := logger.MustNew(conf.Log.Level, conf.Log.Format)
	defer func() { _ = log.Sync() }()
	zap.ReplaceGlobals(log)

	if conf.Server.Mode != "" {
		gin.SetMode(conf.Server.Mode)
	}

	// 2. 初始化数据库
	database.InitDatabase()
	defer database.Close()

	store, err := database.NewTxStore(conf.TxStore.Driver, database.TxStoreOptions(conf.Upload))
	if err != nil {
		log.Fatal("创建事务存储失败", zap.Error(err))
	}
	files, err := blobfs.New(afero.NewOsFs(), conf.Storage.Root, conf.Storage.HashWorkers)
	if err != nil {
		log.Fatal("初始化存储目录失败", zap.Error(err))
	}

	m := metrics.New(true)
	cat := catalog.NewBlobRepository(database.PostgresDB)
	uploadCfg := upload.ConfigFrom(conf.Upload)
	svc := upload.NewService(uploadCfg, store, cat, files, m, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if conf.Janitor.Enabled {
		j := janitor.New(store, files, m, log, conf.Janitor.Grace)
		go j.Run(ctx, conf.Janitor.Interval)
	}

	// 3. 设置路由
	r := route.SetupRouter(route.Deps{
		Upload:      svc,
		Catalog:     cat,
		Store:       store,
		Files:       files,
		Metrics:     m,
		Log:         log,
		JWTSecret:   conf.JWT.Secret,
		FrontendURL: conf.FrontendURL,
	})

	srv := &http.Server{
		Addr:              conf.Server.Addr(),
		Handler:           r,
		ReadTimeout:       conf.Server.ReadTimeout,
		WriteTimeout:      conf.Server.WriteTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	// 4. 启动服务
	go func() {
		log.Info("服务启动",
			zap.String("addr", srv.Addr),
			zap.String("txstore", conf.TxStore.Driver),
			zap.String("storage", conf.Storage.Root),
			zap.Uint64("chunk_size", uploadCfg.ChunkSize),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("服务启动失败", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("收到退出信号，开始关闭")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("服务关闭超时", zap.Error(err))
	}
	log.Info("服务已退出")
}
