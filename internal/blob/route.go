package blob

import (
	"github.com/gin-gonic/gin"
)

func RegisterRoutes(r *gin.RouterGroup, h *Handler) {
	blobs := r.Group("/blobs")
	{
		blobs.GET("/:id", h.GetInfo)
		blobs.GET("/:id/content", h.GetContent)
	}
}
