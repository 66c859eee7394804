package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// AllowAnyOrigin は任意のオリジンを許可する指定。
const AllowAnyOrigin = "*"

// CORS は指定されたオリジンからのクロスオリジンリクエストを許可するGinミドルウェアを返す。
// allowedOrigins に "*" が含まれる場合は任意のオリジン、メソッド、ヘッダーを許可する。
// プリフライトリクエストはゲートウェイで204を返し、下流へは転送しない。
func CORS(allowedOrigins []string) gin.HandlerFunc {
	allowAny := false
	originsSet := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o == AllowAnyOrigin {
			allowAny = true
		}
		originsSet[o] = struct{}{}
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		_, listed := originsSet[origin]
		allowed := origin != "" && (allowAny || listed)

		if allowed {
			if allowAny {
				c.Header("Access-Control-Allow-Origin", AllowAnyOrigin)
			} else {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Vary", "Origin")
			}
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", allowHeaders(c, allowAny))
			c.Header("Access-Control-Expose-Headers", HeaderRequestID)
			c.Header("Access-Control-Max-Age", "86400")
		}

		if isPreflight(c) {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// allowHeaders は許可するリクエストヘッダーを返す。
// 任意のヘッダーを許可する場合はプリフライトで要求されたヘッダーをそのまま返す。
func allowHeaders(c *gin.Context, allowAny bool) string {
	if requested := c.GetHeader("Access-Control-Request-Headers"); allowAny && requested != "" {
		return requested
	}
	return "Authorization, Content-Type, " + HeaderRequestID
}

// isPreflight はCORSのプリフライトリクエストかどうかを判定する。
func isPreflight(c *gin.Context) bool {
	return c.Request.Method == http.MethodOptions &&
		c.GetHeader("Origin") != "" &&
		c.GetHeader("Access-Control-Request-Method") != ""
}
