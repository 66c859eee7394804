package gateway

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nao1215/gateway/internal/dispatch"
	"github.com/nao1215/gateway/internal/route"
	"github.com/nao1215/gateway/pkg/event"
	"github.com/nao1215/gateway/pkg/middleware"
)

// contextKeyExchange はGinコンテキストにパイプラインの進行状況を格納するキー。
const contextKeyExchange = "gateway_exchange"

// exchange はパイプラインを通過中の1リクエストの状態。
type exchange struct {
	*lifecycle
	start      time.Time
	rule       *route.Rule
	params     route.Params
	reason     string
	target     string
	downstream time.Duration
}

// exchangeOf はGinコンテキストから進行状況を取得する。
func exchangeOf(c *gin.Context) *exchange {
	v, _ := c.Get(contextKeyExchange)
	ex, _ := v.(*exchange)
	return ex
}

// requiresAuthentication は一致したルートが認証を必要とするかを返す。
func requiresAuthentication(c *gin.Context) bool {
	ex := exchangeOf(c)
	return ex != nil && ex.rule != nil && ex.rule.RequiresAuthentication
}

// advance は状態を進める。不正な遷移はパイプラインの実装誤りのため500で中断する。
func (s *Server) advance(c *gin.Context, ex *exchange, next State) bool {
	if err := ex.advance(next); err != nil {
		s.logger.Error("パイプラインの状態遷移に失敗",
			zap.String("request_id", middleware.GetRequestID(c)),
			zap.Error(err),
		)
		abortWith(c, classify(err))
		return false
	}
	return true
}

// observe はパイプラインの最初に置き、終端に達したリクエストをメトリクスとイベントログに記録する。
func (s *Server) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		ex := &exchange{lifecycle: newLifecycle(), start: time.Now()}
		c.Set(contextKeyExchange, ex)

		c.Next()

		if err := middleware.AuthError(c); err != nil && ex.State() == StateAuthenticating {
			if ex.advance(StateRejected) == nil {
				ex.reason = middleware.FailureReason(err)
			}
		}
		if !ex.State().Terminal() {
			return
		}
		s.metrics.observe(ex)
		s.record(c, ex)
	}
}

// lookup はルート表を照合し、一致したルートを進行状況に設定する。
func (s *Server) lookup() gin.HandlerFunc {
	return func(c *gin.Context) {
		ex := exchangeOf(c)
		if !s.advance(c, ex, StateRouting) {
			return
		}

		match, ok := s.routes.Load().Match(c.Request.Method, c.Request.URL.Path)
		if !ok {
			f := classify(route.ErrNoMatchingRoute)
			if s.advance(c, ex, StateNotFound) {
				ex.reason = f.reason
				abortWith(c, f)
			}
			return
		}

		ex.rule = match.Rule
		ex.params = match.Params
		if s.advance(c, ex, StateAuthenticating) {
			c.Next()
		}
	}
}

// forward は認証を通過したリクエストを下流サービスへ転送する。
func (s *Server) forward() gin.HandlerFunc {
	return func(c *gin.Context) {
		ex := exchangeOf(c)
		if !s.advance(c, ex, StateAuthenticated) || !s.advance(c, ex, StateDispatching) {
			return
		}

		result, err := s.dispatcher.Dispatch(c.Writer, c.Request, ex.rule, ex.params)
		if result != nil {
			ex.target = result.Target
			ex.downstream = result.Duration
		}
		if err != nil {
			f := classify(err)
			if !s.advance(c, ex, StateDownstreamFailure) {
				return
			}
			ex.reason = f.reason
			if !errors.Is(err, dispatch.ErrClientCanceled) {
				s.logger.Warn("下流サービスの呼び出しに失敗",
					zap.String("route", ex.rule.Name),
					zap.String("target", ex.target),
					zap.String("reason", f.reason),
					zap.String("request_id", middleware.GetRequestID(c)),
					zap.Error(err),
				)
			}
			abortWith(c, f)
			return
		}

		s.advance(c, ex, StateForwarded)
		// ボディの無いレスポンスでもGinの既定の404ボディを書かせない
		c.Writer.WriteHeaderNow()
	}
}

// record は終端イベントをイベントログに記録する。
func (s *Server) record(c *gin.Context, ex *exchange) {
	data := event.RequestData{
		Method:    c.Request.Method,
		Path:      c.Request.URL.Path,
		State:     string(ex.State()),
		Status:    c.Writer.Status(),
		Reason:    ex.reason,
		Target:    ex.target,
		LatencyMS: time.Since(ex.start).Milliseconds(),
	}
	if ex.rule != nil {
		data.Route = ex.rule.Name
	}
	if identity := middleware.GetIdentity(c); identity != nil {
		data.Subject = identity.Subject
	}

	ev, err := event.ForRequest(middleware.GetRequestID(c), eventTypeOf(ex.State()), data)
	if err != nil {
		s.logger.Warn("イベントの生成に失敗", zap.Error(err))
		return
	}
	s.recorder.Record(ev)
}

// eventTypeOf は終端状態に対応するイベントの種類を返す。
func eventTypeOf(state State) event.Type {
	switch state {
	case StateForwarded:
		return event.TypeRequestForwarded
	case StateRejected:
		return event.TypeRequestRejected
	case StateNotFound:
		return event.TypeRouteNotFound
	default:
		return event.TypeDownstreamFailed
	}
}
