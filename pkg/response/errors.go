package response

import (
	"fmt"
	"net/http"
)

// 业务错误码
const (
	// 失败
	Fail ResponseCode = 0
	// 参数解析错误
	ParseError ResponseCode = 1
	// 参数错误
	InvalidParameter ResponseCode = 2
	// 未认证
	Unauthorized ResponseCode = 3
	// 无权限（当前模式禁止该操作）
	Forbidden ResponseCode = 4
	// 资源不存在或已过期
	NotFound ResponseCode = 5
	// 步骤错误：事务模式与操作不匹配
	Conflict ResponseCode = 6
	// 请求体过大
	PayloadTooLarge ResponseCode = 7
	// 并发上传槽位已满，可重试
	TooManyRequests ResponseCode = 8
	// 哈希校验失败
	UnprocessableEntity ResponseCode = 9
	// 存储空间不足
	InsufficientStorage ResponseCode = 10
	// 内部错误
	Internal ResponseCode = 11
)

var httpStatus = map[ResponseCode]int{
	Fail:                http.StatusInternalServerError,
	ParseError:          http.StatusBadRequest,
	InvalidParameter:    http.StatusBadRequest,
	Unauthorized:        http.StatusUnauthorized,
	Forbidden:           http.StatusForbidden,
	NotFound:            http.StatusNotFound,
	Conflict:            http.StatusConflict,
	PayloadTooLarge:     http.StatusRequestEntityTooLarge,
	TooManyRequests:     http.StatusTooManyRequests,
	UnprocessableEntity: http.StatusUnprocessableEntity,
	InsufficientStorage: http.StatusInsufficientStorage,
	Internal:            http.StatusInternalServerError,
}

var codeNames = map[ResponseCode]string{
	Success:             "ok",
	Fail:                "fail",
	ParseError:          "parse_error",
	InvalidParameter:    "invalid_parameter",
	Unauthorized:        "unauthorized",
	Forbidden:           "forbidden",
	NotFound:            "not_found",
	Conflict:            "conflict",
	PayloadTooLarge:     "payload_too_large",
	TooManyRequests:     "too_many_requests",
	UnprocessableEntity: "unprocessable_entity",
	InsufficientStorage: "insufficient_storage",
	Internal:            "internal",
}

// String 用于日志和指标标签
func (c ResponseCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("code_%d", int(c))
}

type BusinessError struct {
	Code    ResponseCode
	Msg     string
	Err     error
	Details map[string]any
}

type ErrorOption func(*BusinessError)

func WithErrorCode(code ResponseCode) ErrorOption {
	return func(be *BusinessError) {
		be.Code = code
	}
}

func WithErrorMessage(msg string) ErrorOption {
	return func(be *BusinessError) {
		be.Msg = msg
	}
}

func WithError(err error) ErrorOption {
	return func(be *BusinessError) {
		be.Err = err
	}
}

// WithDetail 附加结构化错误细节，例如 {"expected": 1024}
func WithDetail(key string, value any) ErrorOption {
	return func(be *BusinessError) {
		if be.Details == nil {
			be.Details = make(map[string]any)
		}
		be.Details[key] = value
	}
}

func NewBusinessError(opts ...ErrorOption) *BusinessError {
	err := &BusinessError{
		Code: Fail,
		Msg:  "business error",
		Err:  nil,
	}
	for _, opt := range opts {
		opt(err)
	}
	return err
}

func (e *BusinessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *BusinessError) Unwrap() error {
	return e.Err
}

// HTTPStatus 业务码对应的 HTTP 状态码
func (e *BusinessError) HTTPStatus() int {
	if s, ok := httpStatus[e.Code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Retryable 仅槽位耗尽可以原样重试
func (e *BusinessError) Retryable() bool {
	return e.Code == TooManyRequests
}
