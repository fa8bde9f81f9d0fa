package jwt

import (
	"strings"

	"TradeRAG/pkg/back"
	"TradeRAG/pkg/util/myjwt"
	"TradeRAG/pkg/xerr"

	"github.com/gin-gonic/gin"
)

const CtxOperator = "operator"

// Auth 校验 Bearer token。signer 为 nil（未配置 jwt key）时默认拒绝，
// 只有显式 allowAnonymous 才放行
func Auth(signer *myjwt.Signer, allowAnonymous bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if signer == nil {
			if !allowAnonymous {
				back.Error(c, xerr.ErrAdminClosed.Code, xerr.ErrAdminClosed.Message)
				c.Abort()
				return
			}
			c.Next()
			return
		}
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			back.Error(c, xerr.Unauthorized, "missing or invalid authorization header")
			c.Abort()
			return
		}

		claims, err := signer.ParseToken(strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			back.Error(c, xerr.Unauthorized, "invalid token")
			c.Abort()
			return
		}

		c.Set(CtxOperator, claims.Operator)
		c.Next()
	}
}
