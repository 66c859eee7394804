package gateway

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/gateway/internal/dispatch"
	"github.com/nao1215/gateway/internal/route"
)

// statusClientClosedRequest は呼び出し元が応答前に切断したことを表すログ用のステータス。
// 呼び出し元には何も送らない。
const statusClientClosedRequest = 499

// 理由コード。ログ、メトリクス、イベントログで使う。
const (
	reasonNoMatchingRoute       = "no_matching_route"
	reasonDownstreamUnreachable = "downstream_unreachable"
	reasonDownstreamTimeout     = "downstream_timeout"
	reasonClientCanceled        = "client_canceled"
	reasonInternal              = "internal"
)

// failure はエラーに対応するステータスコード、呼び出し元へのメッセージ、理由コードの組。
type failure struct {
	status  int
	message string
	reason  string
}

// classify はパイプラインのエラーをレスポンスに対応付ける。
// 認証エラーは middleware.JWTAuth が401として応答するためここでは扱わない。
func classify(err error) failure {
	switch {
	case errors.Is(err, route.ErrNoMatchingRoute):
		return failure{http.StatusNotFound, "ルートが見つかりません", reasonNoMatchingRoute}
	case errors.Is(err, dispatch.ErrDownstreamTimeout):
		return failure{http.StatusGatewayTimeout, "下流サービスが時間内に応答しませんでした", reasonDownstreamTimeout}
	case errors.Is(err, dispatch.ErrDownstreamUnreachable):
		return failure{http.StatusBadGateway, "下流サービスとの通信に失敗しました", reasonDownstreamUnreachable}
	case errors.Is(err, dispatch.ErrClientCanceled):
		return failure{statusClientClosedRequest, "", reasonClientCanceled}
	default:
		return failure{http.StatusInternalServerError, "内部エラーが発生しました", reasonInternal}
	}
}

// abortWith はエラーに対応するJSONレスポンスを返して処理を中断する。
// 呼び出し元が切断済みの場合はボディを書かない。
func abortWith(c *gin.Context, f failure) {
	if f.message == "" {
		c.AbortWithStatus(f.status)
		return
	}
	c.AbortWithStatusJSON(f.status, gin.H{"error": f.message})
}
