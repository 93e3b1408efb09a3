// Package middleware 提供 HTTP 中间件
package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"pustakam-api/internal/interfaces/http/dto"
	"pustakam-api/pkg/errors"
	"pustakam-api/pkg/logger"
)

// Recovery Panic 恢复中间件
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error(c.Request.Context(), "panic recovered",
					fmt.Errorf("%v", err),
					"stack", string(debug.Stack()),
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
				)
				c.Abort()
				dto.ErrorWithDetail(c, http.StatusInternalServerError, "internal server error",
					&dto.ErrorDetail{ErrorCode: string(errors.CodeInternalError)})
			}
		}()

		c.Next()
	}
}
