package middleware

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/charlesng35/marketlive/pkg/errors"
	"github.com/charlesng35/marketlive/pkg/logger"
	"github.com/charlesng35/marketlive/pkg/response"
)

// Recovery converts panics into a 500 envelope. When the response has already started,
// as with an upgraded websocket, the request is only aborted.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			logger.WithModule("http").Error("panic recovered",
				zap.String("method", c.Request.Method),
				zap.String("path", c.Request.URL.Path),
				zap.Any("error", r),
				zap.Stack("stack"),
			)
			if c.Writer.Written() {
				c.Abort()
				return
			}
			response.Error(c, errors.ErrInternalServer)
		}()
		c.Next()
	}
}

// NotFoundHandler answers unknown routes with the error envelope.
func NotFoundHandler(c *gin.Context) {
	msg := fmt.Sprintf("route %s not found", c.Request.URL.Path)
	response.Error(c, errors.New(errors.ErrNotFound.Code, msg, http.StatusNotFound))
}
