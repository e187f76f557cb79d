package studio

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/chaos-io/cutout/codec"
	"github.com/chaos-io/cutout/rembg"
	"github.com/chaos-io/cutout/session"
)

// Response 统一的 JSON 返回
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func ok(c *gin.Context, code int, data any) {
	c.JSON(code, Response{Success: true, Data: data})
}

func fail(c *gin.Context, code int, message string, err error) {
	resp := Response{Success: false, Message: message}
	if err != nil {
		resp.Error = err.Error()
	}
	c.JSON(code, resp)
}

// failWith 按错误类型选择状态码，data 一般是会话状态
func failWith(c *gin.Context, err error, data any) {
	code := statusOf(err)
	c.JSON(code, Response{Success: false, Message: http.StatusText(code), Data: data, Error: err.Error()})
}

func statusOf(err error) int {
	var inferErr *rembg.InferenceError
	switch {
	case errors.Is(err, rembg.ErrModelNotReady):
		return http.StatusServiceUnavailable
	case errors.As(err, &inferErr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, codec.ErrDecode):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrNoResult):
		return http.StatusNotFound
	case errors.Is(err, session.ErrBusy),
		errors.Is(err, session.ErrInvalidTransition),
		errors.Is(err, session.ErrEditorClosed):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}
