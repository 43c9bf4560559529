package response

import (
	"encoding/json"
	"fmt"
	"io"
)

// Response 服务端统一响应结构（HTTP 业务层固定 200 + 业务 code）。
// 客户端侧只做解码：code != 0 即业务失败。
type Response struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data,omitempty"`
}

// 业务状态码（与服务端保持一致）
const (
	CodeSuccess        = 0     // 成功
	CodeParamError     = 10001 // 参数错误
	CodeUserNotFound   = 10002 // 用户不存在
	CodePasswordError  = 10003 // 密码错误（登录失败）
	CodeTokenInvalid   = 10004 // Token 无效/过期
	CodePermissionDeny = 10005 // 权限不足
	CodeInternalError  = 99999 // 内部错误
)

// APIError 业务失败（code != 0）。
type APIError struct {
	Code int
	Msg  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Code, e.Msg)
}

// Decode 从 HTTP body 解出信封；业务失败返回 *APIError。
// out 为 nil 时只校验 code。
func Decode(body io.Reader, out any) error {
	var resp Response
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if resp.Code != CodeSuccess {
		return &APIError{Code: resp.Code, Msg: resp.Msg}
	}
	if out == nil || len(resp.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Data, out); err != nil {
		return fmt.Errorf("decode response data: %w", err)
	}
	return nil
}

// Success 构造成功响应（mockserver/测试用，与服务端格式一致）。
func Success(data any, args ...string) *Response {
	msg := "success"
	for _, arg := range args {
		msg = arg
	}
	var raw json.RawMessage
	if data != nil {
		raw, _ = json.Marshal(data)
	}
	return &Response{Code: CodeSuccess, Msg: msg, Data: raw}
}

// Error 构造错误响应（mockserver/测试用）。
func Error(code int, msg string) *Response {
	return &Response{Code: code, Msg: msg}
}
