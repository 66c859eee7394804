package dispatch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/nao1215/gateway/internal/route"
	"github.com/nao1215/gateway/pkg/httpclient"
	"github.com/nao1215/gateway/pkg/logging"
	"github.com/nao1215/gateway/pkg/middleware"
)

// tracerName はトレーサーの計装名。
const tracerName = "github.com/nao1215/gateway/internal/dispatch"

// DefaultTimeout はルートにもゲートウェイにも期限が設定されていない場合の下流呼び出し期限。
const DefaultTimeout = 30 * time.Second

// Result は転送の結果。
type Result struct {
	// Target は転送先URL。
	Target string
	// StatusCode は下流サービスが返したステータスコード。
	StatusCode int
	// Duration は下流呼び出しにかかった時間。
	Duration time.Duration
}

// Dispatcher はリクエストを下流サービスへ転送する。複数のゴルーチンから同時に使用できる。
type Dispatcher struct {
	client     *httpclient.Client
	timeout    time.Duration
	logger     *zap.Logger
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
}

// Option は Dispatcher の設定を変更する。
type Option func(*Dispatcher)

// WithLogger はロガーを設定する。
func WithLogger(l *zap.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithPropagator はトレースコンテキストの伝播方式を設定する。
// 未設定の場合はotelのグローバル設定を使う。
func WithPropagator(p propagation.TextMapPropagator) Option {
	return func(d *Dispatcher) { d.propagator = p }
}

// New は Dispatcher を生成する。timeout はルート固有の期限が無い場合に使う既定の期限。
func New(client *httpclient.Client, timeout time.Duration, opts ...Option) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	d := &Dispatcher{
		client:  client,
		timeout: timeout,
		tracer:  otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = logging.OrGlobal(d.logger)
	if d.propagator == nil {
		d.propagator = otel.GetTextMapPropagator()
	}
	return d
}

// Timeout はルートに適用する下流呼び出し期限を返す。
func (d *Dispatcher) Timeout(rule *route.Rule) time.Duration {
	if rule.Timeout > 0 {
		return rule.Timeout
	}
	return d.timeout
}

// Dispatch はリクエストをルートの転送先へ送り、レスポンスを w にそのまま中継する。
// 下流呼び出しに失敗した場合は w に何も書き込まずにエラーを返す。
// 呼び出し元の切断は ErrClientCanceled になる。
func (d *Dispatcher) Dispatch(w http.ResponseWriter, r *http.Request, rule *route.Rule, params route.Params) (*Result, error) {
	target := rule.DownstreamURL(params, r.URL.RawQuery)
	result := &Result{Target: target}

	ctx, cancel := context.WithTimeout(r.Context(), d.Timeout(rule))
	defer cancel()

	ctx, span := d.tracer.Start(ctx, "dispatch "+rule.Name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("gateway.route", rule.Name),
			attribute.String("http.request.method", r.Method),
			attribute.String("url.full", target),
		),
	)
	defer span.End()

	var userID string
	if identity, ok := middleware.IdentityFromContext(r.Context()); ok {
		userID = identity.UserID()
	}

	out, err := http.NewRequestWithContext(ctx, r.Method, target, r.Body)
	if err != nil {
		return result, d.fail(span, rule, target, ErrDownstreamUnreachable, err)
	}
	out.ContentLength = r.ContentLength
	if r.ContentLength == 0 {
		out.Body = http.NoBody
	}
	out.Header = outboundHeader(r, userID)
	d.propagator.Inject(ctx, propagation.HeaderCarrier(out.Header))

	start := time.Now()
	resp, err := d.client.Do(out)
	result.Duration = time.Since(start)
	if err != nil {
		return result, d.fail(span, rule, target, d.classify(r.Context(), ctx, err), err)
	}
	defer resp.Body.Close()

	result.StatusCode = resp.StatusCode
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	copyResponseHeader(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		// ステータスは送信済みのため、呼び出し元には途中までのボディが届く。
		span.RecordError(err)
		d.logger.Warn("下流レスポンスの中継に失敗",
			zap.String("route", rule.Name),
			zap.String("target", target),
			zap.Error(err),
		)
	}
	result.Duration = time.Since(start)
	return result, nil
}

// classify は通信エラーを転送失敗の理由に分類する。
func (d *Dispatcher) classify(inbound, outbound context.Context, err error) error {
	switch {
	case inbound.Err() != nil:
		return ErrClientCanceled
	case errors.Is(outbound.Err(), context.DeadlineExceeded),
		errors.Is(err, context.DeadlineExceeded),
		httpclient.IsTimeout(err):
		return ErrDownstreamTimeout
	default:
		return ErrDownstreamUnreachable
	}
}

// fail は失敗をスパンに記録し、Error を返す。
func (d *Dispatcher) fail(span trace.Span, rule *route.Rule, target string, reason, cause error) error {
	span.RecordError(cause)
	span.SetStatus(codes.Error, reason.Error())
	return &Error{Reason: reason, Route: rule.Name, Target: target, Cause: cause}
}
