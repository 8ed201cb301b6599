package route

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"terminal-terrace/blob-service/internal/blob"
	"terminal-terrace/blob-service/internal/blobfs"
	"terminal-terrace/blob-service/internal/catalog"
	"terminal-terrace/blob-service/internal/metrics"
	"terminal-terrace/blob-service/internal/middleware"
	"terminal-terrace/blob-service/internal/txstore"
	"terminal-terrace/blob-service/internal/upload"
)

// Deps 路由需要的依赖，由 main 组装
type Deps struct {
	Upload      *upload.Service
	Catalog     catalog.Catalog
	Store       txstore.Store
	Files       *blobfs.Store
	Metrics     *metrics.Metrics
	Log         *zap.Logger
	JWTSecret   string
	FrontendURL string
}

func initRoute(r *gin.Engine, d Deps) {
	// Swagger 文档路由
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	r.GET("/healthz", healthz(d.Catalog, d.Store))
	r.GET("/metrics", gin.WrapH(d.Metrics.Handler()))

	// API 路由组
	apiV1 := r.Group("/api/v1")
	{
		upload.RegisterRoutes(apiV1, upload.NewHandler(d.Upload), middleware.JWTAuth(d.JWTSecret))
		blob.RegisterRoutes(apiV1, blob.NewHandler(d.Catalog, d.Files))
	}
}

func SetupRouter(d Deps) *gin.Engine {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Metrics == nil {
		d.Metrics = metrics.New(false)
	}

	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(d.Log))

	allowedOrigins := []string{"http://localhost:5173"}
	if d.FrontendURL != "" {
		allowedOrigins = []string{d.FrontendURL}
	}

	// 设置跨域请求，客户端需要读 Retry-After 决定何时重试分片
	r.Use(cors.New(cors.Config{
		AllowOrigins:  allowedOrigins,
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Content-Range", "Accept", "Authorization"},
		ExposeHeaders: []string{"Retry-After", "ETag"},
	}))

	initRoute(r, d)

	return r
}

type pinger interface {
	Ping(ctx context.Context) error
}

// healthz 目录数据库和事务存储都可用才算健康
func healthz(cat, store pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status := gin.H{"catalog": "ok", "txstore": "ok"}
		healthy := true
		if err := cat.Ping(ctx); err != nil {
			status["catalog"] = err.Error()
			healthy = false
		}
		if err := store.Ping(ctx); err != nil {
			status["txstore"] = err.Error()
			healthy = false
		}

		if !healthy {
			c.JSON(http.StatusServiceUnavailable, status)
			return
		}
		c.JSON(http.StatusOK, status)
	}
}
