package upload

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"terminal-terrace/blob-service/internal/dto"
	"terminal-terrace/blob-service/pkg/response"
)

type Handler struct {
	service *Service
	cfg     Config
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service, cfg: service.cfg}
}

// readBody 读取请求体，超过 limit 返回 PayloadTooLarge
func readBody(c *gin.Context, limit uint64) ([]byte, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, int64(limit))
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, errTooLarge("请求体过大", limit)
		}
		return nil, errBadRequest("读取请求体失败", response.WithError(err))
	}
	return body, nil
}

// parseContentRange 解析 "bytes a-b/total"，b 为闭区间终点，返回半开区间 [a, b+1)
func parseContentRange(header string) (start, end uint64, err error) {
	value, ok := strings.CutPrefix(strings.TrimSpace(header), "bytes ")
	if !ok {
		return 0, 0, errors.New("missing bytes unit")
	}
	rng, _, ok := strings.Cut(value, "/")
	if !ok {
		return 0, 0, errors.New("missing total")
	}
	first, last, ok := strings.Cut(rng, "-")
	if !ok {
		return 0, 0, errors.New("missing range separator")
	}
	if start, err = strconv.ParseUint(first, 10, 64); err != nil {
		return 0, 0, err
	}
	lastByte, err := strconv.ParseUint(last, 10, 64)
	if err != nil {
		return 0, 0, err
	}
	if lastByte < start {
		return 0, 0, errors.New("range end before start")
	}
	return start, lastByte + 1, nil
}

// Init 初始化上传
// @Summary 初始化上传
// @Description 目录中已有相同哈希时返回挑战区间（verify_ranges），否则创建分片或整文件上传事务
// @Tags 上传
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body InitUploadRequest true "内容哈希与大小"
// @Success 200 {object} response.Response{data=InitUploadResponse}
// @Failure 413 {object} response.Response
// @Failure 507 {object} response.Response
// @Router /uploads [post]
func (h *Handler) Init(c *gin.Context) {
	var req InitUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.ValidationErrorResponse(c, err)
		return
	}

	resp, err := h.service.Init(c.Request.Context(), req.Hash, *req.Size)
	if err != nil {
		dto.HandleError(c, err)
		return
	}
	dto.SuccessResponse(c, resp)
}

// Chunk 上传分片
// @Summary 上传分片
// @Description 请求体为分片原始字节，Content-Range 指定位置，例如 "bytes 0-5242879/20000000"
// @Tags 上传
// @Accept octet-stream
// @Produce json
// @Security BearerAuth
// @Param id path string true "事务 ID"
// @Param Content-Range header string true "bytes start-end/total"
// @Success 200 {object} response.Response
// @Failure 409 {object} response.Response
// @Failure 413 {object} response.Response
// @Failure 429 {object} response.Response
// @Router /uploads/{id}/chunks [put]
func (h *Handler) Chunk(c *gin.Context) {
	start, end, err := parseContentRange(c.GetHeader("Content-Range"))
	if err != nil {
		dto.ErrorResponse(c, errBadRequest("Content-Range 格式错误", response.WithError(err)))
		return
	}
	// 多读 1 字节，让长度不符的请求体在服务层被识别
	body, err := readBody(c, h.cfg.ChunkSize+1)
	if err != nil {
		dto.HandleError(c, err)
		return
	}

	if err := h.service.Chunk(c.Request.Context(), c.Param("id"), start, end, body); err != nil {
		dto.HandleError(c, err)
		return
	}
	dto.SuccessResponse(c, gin.H{"received": len(body)})
}

// WholeFile 整文件上传
// @Summary 整文件上传
// @Tags 上传
// @Accept octet-stream
// @Produce json
// @Security BearerAuth
// @Param id path string true "事务 ID"
// @Success 200 {object} response.Response{data=BlobResponse}
// @Failure 400 {object} response.Response
// @Failure 413 {object} response.Response
// @Failure 422 {object} response.Response
// @Router /uploads/{id}/file [put]
func (h *Handler) WholeFile(c *gin.Context) {
	body, err := readBody(c, h.cfg.WholeFileMax)
	if err != nil {
		dto.HandleError(c, err)
		return
	}

	resp, err := h.service.WholeFile(c.Request.Context(), c.Param("id"), body)
	if err != nil {
		dto.HandleError(c, err)
		return
	}
	dto.SuccessResponse(c, resp)
}

// Complete 完成分片上传
// @Summary 完成上传
// @Description 有缺失分片时 success=false 并返回缺失列表，事务保持打开
// @Tags 上传
// @Produce json
// @Security BearerAuth
// @Param id path string true "事务 ID"
// @Success 200 {object} response.Response{data=CompleteUploadResponse}
// @Failure 403 {object} response.Response
// @Failure 422 {object} response.Response
// @Router /uploads/{id}/complete [post]
func (h *Handler) Complete(c *gin.Context) {
	resp, err := h.service.Complete(c.Request.Context(), c.Param("id"))
	if err != nil {
		dto.HandleError(c, err)
		return
	}
	dto.SuccessResponse(c, resp)
}

// Verify 持有校验
// @Summary 持有校验
// @Description 请求体为挑战区间内容按顺序拼接后的字节
// @Tags 上传
// @Accept octet-stream
// @Produce json
// @Security BearerAuth
// @Param id path string true "事务 ID"
// @Success 200 {object} response.Response{data=BlobResponse}
// @Failure 404 {object} response.Response
// @Failure 422 {object} response.Response "内容不符或长度不符，事务已删除"
// @Router /uploads/{id}/verify [post]
func (h *Handler) Verify(c *gin.Context) {
	// 超长的证明只读 limit+1 字节交给 Verify 判定不符，事务照样被消耗
	limit := int64(h.cfg.SampleCount * h.cfg.SampleSize)
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, limit+1))
	if err != nil {
		dto.HandleError(c, errBadRequest("读取请求体失败", response.WithError(err)))
		return
	}

	resp, err := h.service.Verify(c.Request.Context(), c.Param("id"), body)
	if err != nil {
		dto.HandleError(c, err)
		return
	}
	dto.SuccessResponse(c, resp)
}

// Status 查询事务状态
// @Summary 查询上传状态
// @Tags 上传
// @Produce json
// @Security BearerAuth
// @Param id path string true "事务 ID"
// @Success 200 {object} response.Response{data=StatusResponse}
// @Failure 404 {object} response.Response
// @Router /uploads/{id} [get]
func (h *Handler) Status(c *gin.Context) {
	resp, err := h.service.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		dto.HandleError(c, err)
		return
	}
	dto.SuccessResponse(c, resp)
}

// Cancel 取消上传
// @Summary 取消上传
// @Tags 上传
// @Produce json
// @Security BearerAuth
// @Param id path string true "事务 ID"
// @Success 200 {object} response.Response
// @Router /uploads/{id} [delete]
func (h *Handler) Cancel(c *gin.Context) {
	if err := h.service.Cancel(c.Request.Context(), c.Param("id")); err != nil {
		dto.HandleError(c, err)
		return
	}
	dto.SuccessResponse(c, nil)
}
