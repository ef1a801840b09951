// Package resp 提供统一的 JSON 响应封装。
package resp

import (
	"encoding/json"
	"net/http"
)

// 业务错误码。HTTP 状态码表达传输层语义，业务码供客户端做分支处理。
const (
	CodeOK                = 0
	CodeInvalidParam      = 40001
	CodeUnauthorized      = 40101
	CodeForbidden         = 40301
	CodeNotFound          = 40401
	CodeConflict          = 40901
	CodeInsufficientStock = 42201 // 库存不足，附带缺口数字
	CodeExpiredStock      = 42202 // 过期库存阻断销售
	CodeTimeout           = 50401
	CodeInternalError     = 50001
)

// HTTPStatusFromCode 返回业务码对应的默认 HTTP 状态码。
func HTTPStatusFromCode(code int) int {
	switch code {
	case CodeOK:
		return http.StatusOK
	case CodeInvalidParam:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeInsufficientStock, CodeExpiredStock:
		return http.StatusUnprocessableEntity
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Body 是所有接口共享的响应结构。
type Body struct {
	Code      int         `json:"code"`
	Message   string      `json:"message,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
	TraceID   string      `json:"trace_id,omitempty"`
}

// OK 写出成功响应。
func OK(w http.ResponseWriter, data interface{}, requestID, traceID string) {
	write(w, http.StatusOK, &Body{
		Code:      CodeOK,
		Data:      data,
		RequestID: requestID,
		TraceID:   traceID,
	})
}

// Error 写出错误响应。
func Error(w http.ResponseWriter, status, code int, message, requestID, traceID string) {
	write(w, status, &Body{
		Code:      code,
		Message:   message,
		RequestID: requestID,
		TraceID:   traceID,
	})
}

// ErrorWithData 写出携带数据的错误响应（如库存不足时的缺口详情）。
func ErrorWithData(w http.ResponseWriter, status, code int, message string, data interface{}, requestID, traceID string) {
	write(w, status, &Body{
		Code:      code,
		Message:   message,
		Data:      data,
		RequestID: requestID,
		TraceID:   traceID,
	})
}

func write(w http.ResponseWriter, status int, body *Body) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
