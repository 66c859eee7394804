package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// HeaderRequestID はリクエストを追跡するためのHTTPヘッダーキー。
	HeaderRequestID = "X-Request-ID"

	contextKeyRequestID = "request_id"
	maxRequestIDLength  = 128
)

// RequestID はリクエストIDを付与するGinミドルウェアを返す。
// クライアントが送ったIDが妥当であればそのまま使い、無ければUUIDを生成する。
// IDはレスポンスヘッダーと下流へ転送するリクエストヘッダーの両方に設定する。
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if !validRequestID(id) {
			id = uuid.NewString()
		}
		c.Set(contextKeyRequestID, id)
		c.Request.Header.Set(HeaderRequestID, id)
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}

// validRequestID は表示可能なASCII文字だけからなる長さ制限内のIDかを判定する。
func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x21 || id[i] > 0x7e {
			return false
		}
	}
	return true
}

// GetRequestID はGinコンテキストからリクエストIDを取得する。
func GetRequestID(c *gin.Context) string {
	v, _ := c.Get(contextKeyRequestID)
	id, _ := v.(string)
	return id
}
