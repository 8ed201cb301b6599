package dto

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	res "terminal-terrace/blob-service/pkg/response"
)

func SuccessResponse(c *gin.Context, data any) {
	c.JSON(http.StatusOK, res.SuccessResponse(data))
}

// ErrorResponse 按业务码返回对应的 HTTP 状态，细节放在 data 里
func ErrorResponse(c *gin.Context, err *res.BusinessError) {
	if err.Retryable() {
		c.Header("Retry-After", "1")
	}
	c.JSON(err.HTTPStatus(), res.ErrorResponse(err.Code, err.Msg, err.Details))
}

// HandleError 非业务错误一律按内部错误处理，原因只写日志不返回给客户端
func HandleError(c *gin.Context, err error) {
	var be *res.BusinessError
	if errors.As(err, &be) {
		if be.Code == res.Internal && be.Err != nil {
			zap.L().Error(be.Msg, zap.String("path", c.FullPath()), zap.Error(be.Err))
		}
		ErrorResponse(c, be)
		return
	}
	zap.L().Error("未处理的错误", zap.String("path", c.FullPath()), zap.Error(err))
	ErrorResponse(c, res.NewBusinessError(
		res.WithErrorCode(res.Internal),
		res.WithErrorMessage("服务器内部错误"),
	))
}

// ValidationErrorResponse 处理验证错误，返回友好的JSON字段名
func ValidationErrorResponse(c *gin.Context, err error) {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		firstErr := validationErrs[0]
		jsonField := toLowerCamel(firstErr.Field())

		var message string
		switch firstErr.Tag() {
		case "required":
			message = fmt.Sprintf("字段 '%s' 是必填项", jsonField)
		case "len":
			message = fmt.Sprintf("字段 '%s' 长度必须为 %s", jsonField, firstErr.Param())
		case "hexadecimal":
			message = fmt.Sprintf("字段 '%s' 必须是十六进制字符串", jsonField)
		default:
			message = fmt.Sprintf("字段 '%s' 验证失败: %s", jsonField, firstErr.Tag())
		}

		ErrorResponse(c, res.NewBusinessError(
			res.WithErrorCode(res.ParseError),
			res.WithErrorMessage(message),
			res.WithDetail("field", jsonField),
		))
		return
	}

	// 如果不是 validation 错误，返回原始错误消息
	ErrorResponse(c, res.NewBusinessError(
		res.WithErrorCode(res.ParseError),
		res.WithErrorMessage("参数错误: "+err.Error()),
	))
}

// toLowerCamel 字段名转成 JSON 里的写法：TransactionID -> transactionID
func toLowerCamel(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
