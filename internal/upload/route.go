package upload

import (
	"github.com/gin-gonic/gin"
)

func RegisterRoutes(r *gin.RouterGroup, h *Handler, auth gin.HandlerFunc) {
	uploads := r.Group("/uploads")
	uploads.Use(auth)
	{
		uploads.POST("", h.Init)
		uploads.GET("/:id", h.Status)
		uploads.DELETE("/:id", h.Cancel)
		uploads.PUT("/:id/chunks", h.Chunk)
		uploads.PUT("/:id/file", h.WholeFile)
		uploads.POST("/:id/complete", h.Complete)
		uploads.POST("/:id/verify", h.Verify)
	}
}
