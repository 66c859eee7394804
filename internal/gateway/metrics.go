package gateway

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// unmatchedRoute はルートに一致しなかったリクエストのrouteラベル。
const unmatchedRoute = "unmatched"

// metrics はゲートウェイのPrometheusメトリクス。
// プロセス全体のデフォルトレジストリは使わず、サーバーごとに専用のレジストリへ登録する。
type metrics struct {
	registry           *prometheus.Registry
	requests           *prometheus.CounterVec
	authFailures       *prometheus.CounterVec
	downstreamDuration *prometheus.HistogramVec
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "終端状態ごとのパイプライン処理件数。",
		}, []string{"route", "outcome"}),
		authFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_auth_failures_total",
			Help: "理由ごとの認証失敗件数。",
		}, []string{"reason"}),
		downstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_downstream_duration_seconds",
			Help:    "下流サービス呼び出しの所要時間。",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
	m.registry.MustRegister(
		m.requests,
		m.authFailures,
		m.downstreamDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// observe は1リクエストの終端を記録する。
func (m *metrics) observe(ex *exchange) {
	routeName := unmatchedRoute
	if ex.rule != nil {
		routeName = ex.rule.Name
	}
	m.requests.WithLabelValues(routeName, outcome(ex)).Inc()

	switch ex.State() {
	case StateRejected:
		m.authFailures.WithLabelValues(ex.reason).Inc()
	case StateForwarded, StateDownstreamFailure:
		if ex.downstream > 0 {
			m.downstreamDuration.WithLabelValues(routeName).Observe(ex.downstream.Seconds())
		}
	}
}

// handler は /metrics のハンドラを返す。
func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		Registry: m.registry,
		Timeout:  10 * time.Second,
	})
}

// outcome はrequestsメトリクスのoutcomeラベルを返す。
func outcome(ex *exchange) string {
	switch ex.State() {
	case StateForwarded:
		return "forwarded"
	case StateRejected:
		return "rejected"
	case StateNotFound:
		return "not_found"
	case StateDownstreamFailure:
		if ex.reason == reasonClientCanceled {
			return reasonClientCanceled
		}
		return "downstream_failure"
	default:
		return "incomplete"
	}
}
