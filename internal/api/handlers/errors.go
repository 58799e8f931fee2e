package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"cluster-backend/internal/service"
	"cluster-backend/internal/store/types"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// statusFor 把服务层错误映射为 HTTP 状态码
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidClusterState), errors.Is(err, service.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrConflictingOperation):
		return http.StatusConflict
	case errors.Is(err, types.ErrNotFound), errors.Is(err, service.ErrUnknownTask):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, log zerolog.Logger, err error, msg string) {
	code := statusFor(err)
	event := log.Warn()
	if code >= http.StatusInternalServerError {
		event = log.Error()
	}
	event.Err(err).Str("path", c.FullPath()).Int("code", code).Msg(msg)
	c.JSON(code, gin.H{"error": err.Error()})
}

// intParam 解析路径中的整数 ID
func intParam(c *gin.Context, name string) (int, bool) {
	id, err := strconv.Atoi(c.Param(name))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + name})
		return 0, false
	}
	return id, true
}
