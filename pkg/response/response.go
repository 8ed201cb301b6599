package response

type ResponseCode int

// 统一业务代码
const (
	Success ResponseCode = 100
)

// Response 所有 JSON 接口的统一外层结构
type Response struct {
	Message string       `json:"message"`
	Code    ResponseCode `json:"code"`
	Data    any          `json:"data"`
}

func SuccessResponse(data any) Response {
	return Response{
		Message: "success",
		Code:    Success,
		Data:    data,
	}
}

// ErrorResponse 错误响应，details 为空时 data 为 null
func ErrorResponse(code ResponseCode, msg string, details map[string]any) Response {
	resp := Response{
		Message: msg,
		Code:    code,
	}
	if len(details) > 0 {
		resp.Data = details
	}
	return resp
}
