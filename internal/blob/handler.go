// Package blob 已存内容的只读接口
package blob

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"terminal-terrace/blob-service/internal/blobfs"
	"terminal-terrace/blob-service/internal/catalog"
	"terminal-terrace/blob-service/internal/dto"
	blobModel "terminal-terrace/blob-service/internal/model/blob"
	"terminal-terrace/blob-service/pkg/response"
)

type Handler struct {
	catalog catalog.Catalog
	files   *blobfs.Store
}

func NewHandler(cat catalog.Catalog, files *blobfs.Store) *Handler {
	return &Handler{catalog: cat, files: files}
}

func (h *Handler) find(c *gin.Context) (*blobModel.Blob, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		dto.ErrorResponse(c, response.NewBusinessError(
			response.WithErrorCode(response.InvalidParameter),
			response.WithErrorMessage("无效的 blob ID"),
		))
		return nil, false
	}

	b, err := h.catalog.FindByID(c.Request.Context(), uint(id))
	if errors.Is(err, catalog.ErrNotFound) {
		dto.ErrorResponse(c, response.NewBusinessError(
			response.WithErrorCode(response.NotFound),
			response.WithErrorMessage("blob 不存在"),
		))
		return nil, false
	}
	if err != nil {
		dto.HandleError(c, response.NewBusinessError(
			response.WithErrorCode(response.Internal),
			response.WithErrorMessage("查询 blob 失败"),
			response.WithError(err),
		))
		return nil, false
	}
	return b, true
}

// GetInfo 获取 blob 元数据
// @Summary 获取 blob 信息
// @Tags blob
// @Produce json
// @Param id path int true "blob ID"
// @Success 200 {object} response.Response{data=blobModel.Blob}
// @Failure 404 {object} response.Response
// @Router /blobs/{id} [get]
func (h *Handler) GetInfo(c *gin.Context) {
	b, ok := h.find(c)
	if !ok {
		return
	}
	dto.SuccessResponse(c, b)
}

// GetContent 返回 blob 内容，支持 Range 与条件请求
// @Summary 下载 blob 内容
// @Tags blob
// @Produce octet-stream
// @Param id path int true "blob ID"
// @Success 200 {file} binary
// @Failure 404 {object} response.Response
// @Router /blobs/{id}/content [get]
func (h *Handler) GetContent(c *gin.Context) {
	b, ok := h.find(c)
	if !ok {
		return
	}

	f, err := h.files.Open(b.Path)
	if err != nil {
		zap.L().Error("打开 blob 文件失败", zap.Uint("blob_id", b.ID), zap.String("path", b.Path), zap.Error(err))
		dto.ErrorResponse(c, response.NewBusinessError(
			response.WithErrorCode(response.Internal),
			response.WithErrorMessage("文件读取失败"),
		))
		return
	}
	defer f.Close()

	// 内容寻址，内容永不改变，可以长期缓存
	c.Header("Content-Type", b.MimeType)
	c.Header("Cache-Control", "public, max-age=31536000, immutable")
	c.Header("ETag", `"`+b.Hash+`"`)

	http.ServeContent(c.Writer, c.Request, "", b.CreatedAt, f)
}
