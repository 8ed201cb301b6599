package upload

import (
	"errors"
	"io/fs"

	"terminal-terrace/blob-service/internal/blobfs"
	"terminal-terrace/blob-service/internal/txstore"
	"terminal-terrace/blob-service/pkg/response"
)

func errBadRequest(msg string, opts ...response.ErrorOption) *response.BusinessError {
	return response.NewBusinessError(append([]response.ErrorOption{
		response.WithErrorCode(response.InvalidParameter),
		response.WithErrorMessage(msg),
	}, opts...)...)
}

func errNotFound(id string) *response.BusinessError {
	return response.NewBusinessError(
		response.WithErrorCode(response.NotFound),
		response.WithErrorMessage("上传事务不存在或已过期"),
		response.WithDetail("transactionId", id),
	)
}

// errWrongStep 操作与事务模式不匹配
func errWrongStep(op string, mode txstore.ModeKind) *response.BusinessError {
	return response.NewBusinessError(
		response.WithErrorCode(response.Conflict),
		response.WithErrorMessage("当前事务模式不支持该操作"),
		response.WithDetail("operation", op),
		response.WithDetail("mode", mode),
	)
}

func errTooLarge(msg string, limit uint64) *response.BusinessError {
	return response.NewBusinessError(
		response.WithErrorCode(response.PayloadTooLarge),
		response.WithErrorMessage(msg),
		response.WithDetail("limit", limit),
	)
}

func errHashMismatch() *response.BusinessError {
	return response.NewBusinessError(
		response.WithErrorCode(response.UnprocessableEntity),
		response.WithErrorMessage("内容哈希校验失败"),
	)
}

func errInternal(msg string, err error) *response.BusinessError {
	return response.NewBusinessError(
		response.WithErrorCode(response.Internal),
		response.WithErrorMessage(msg),
		response.WithError(err),
	)
}

// storeErr 事务存储错误：不存在映射为 NotFound，其余都是后端故障
func storeErr(id string, err error) *response.BusinessError {
	if errors.Is(err, txstore.ErrNotFound) {
		return errNotFound(id)
	}
	return errInternal("事务存储不可用", err)
}

// fileErr 文件错误：临时文件被取消删除映射为 NotFound，空间不足单独区分
func fileErr(id, msg string, err error) *response.BusinessError {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return errNotFound(id)
	case errors.Is(err, blobfs.ErrNoSpace):
		return response.NewBusinessError(
			response.WithErrorCode(response.InsufficientStorage),
			response.WithErrorMessage("存储空间不足"),
			response.WithError(err),
		)
	default:
		return errInternal(msg, err)
	}
}

// resultOf 指标里的结果标签
func resultOf(err error) string {
	if err == nil {
		return "ok"
	}
	var be *response.BusinessError
	if errors.As(err, &be) {
		return be.Code.String()
	}
	return "error"
}
