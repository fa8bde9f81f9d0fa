package ssl

import (
	"strconv"

	"TradeRAG/pkg/zlog"

	"github.com/gin-gonic/gin"
	"github.com/unrolled/secure"
	"go.uber.org/zap"
)

// SecureHeaders 安全响应头；启用 TLS 时额外做 HTTPS 跳转与 HSTS
func SecureHeaders(tlsEnabled bool, host string, port int) gin.HandlerFunc {
	opts := secure.Options{
		FrameDeny:          true,
		ContentTypeNosniff: true,
		BrowserXssFilter:   true,
	}
	if tlsEnabled {
		opts.SSLRedirect = true
		opts.SSLHost = host + ":" + strconv.Itoa(port)
		opts.STSSeconds = 31536000
	}
	sm := secure.New(opts)
	return func(c *gin.Context) {
		// Process 出错时已写入响应（如重定向），只需中止链
		if err := sm.Process(c.Writer, c.Request); err != nil {
			zlog.Debug("secure middleware rejected request", zap.String("path", c.Request.URL.Path), zap.Error(err))
			c.Abort()
			return
		}
		c.Next()
	}
}
