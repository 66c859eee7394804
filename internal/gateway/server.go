package gateway

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nao1215/gateway/internal/dispatch"
	"github.com/nao1215/gateway/internal/eventstore"
	"github.com/nao1215/gateway/internal/route"
	"github.com/nao1215/gateway/pkg/event"
	"github.com/nao1215/gateway/pkg/logging"
	"github.com/nao1215/gateway/pkg/middleware"
	"github.com/nao1215/gateway/pkg/token"
)

// devTokenTTL は開発用トークンの有効期間。
const devTokenTTL = 24 * time.Hour

// Server はAPI Gatewayサービスの HTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// routes は現在のルート表への参照。
	routes *route.Holder
	// trust はトークン検証の信頼パラメータ。
	trust *token.TrustParameters
	// dispatcher は下流サービスへの転送を行う。
	dispatcher *dispatch.Dispatcher
	// recorder は終端イベントの記録先。
	recorder eventstore.Recorder
	metrics  *metrics
	logger   *zap.Logger
	now      func() time.Time
	// corsOrigins はクロスオリジンを許可するオリジン。空の場合はCORSヘッダーを付けない。
	corsOrigins []string
	// devToken は開発用トークン発行エンドポイントを有効にする。
	devToken bool
	// generation はルート表の入れ替え回数。
	generation atomic.Int64
	// ownEndpoints はゲートウェイ自身が応答するエンドポイント。
	ownEndpoints []endpoint
}

// endpoint はメソッドとパスの組。
type endpoint struct {
	method string
	path   string
}

// Option は Server の設定を変更する。
type Option func(*Server)

// WithLogger はロガーを設定する。
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithRecorder はイベントの記録先を設定する。未設定の場合は記録しない。
func WithRecorder(r eventstore.Recorder) Option {
	return func(s *Server) { s.recorder = r }
}

// WithCORS はクロスオリジンを許可するオリジンを設定する。"*" は任意のオリジン。
func WithCORS(origins []string) Option {
	return func(s *Server) { s.corsOrigins = origins }
}

// WithDevToken は開発用トークン発行エンドポイントを有効にする。
// 信頼パラメータが共有鍵でない場合は有効にしても登録しない。
func WithDevToken(enabled bool) Option {
	return func(s *Server) { s.devToken = enabled }
}

// WithClock はトークン検証に使う現在時刻の取得関数を設定する。
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// NewServer は新しいGatewayサーバーを生成する。
func NewServer(routes *route.Holder, trust *token.TrustParameters, dispatcher *dispatch.Dispatcher, opts ...Option) *Server {
	s := &Server{
		routes:     routes,
		trust:      trust,
		dispatcher: dispatcher,
		recorder:   eventstore.NopRecorder{},
		metrics:    newMetrics(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.OrGlobal(s.logger)

	router := gin.New()
	// パイプラインのパターン照合は末尾のスラッシュを無視するため、Ginによるリダイレクトは行わない。
	router.RedirectTrailingSlash = false
	router.Use(middleware.Recovery(s.logger))
	router.Use(middleware.RequestID())
	router.Use(middleware.AccessLog(s.logger))
	if len(s.corsOrigins) > 0 {
		router.Use(middleware.CORS(s.corsOrigins))
	}
	s.router = router
	s.setupRoutes()
	s.warnShadowed(routes.Load())

	return s
}

// Handler はHTTPハンドラを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes はゲートウェイ自身のエンドポイントとパイプラインを登録する。
func (s *Server) setupRoutes() {
	s.handle(http.MethodGet, "/health", s.handleHealth())
	s.handle(http.MethodGet, "/metrics", gin.WrapH(s.metrics.handler()))

	if s.devToken {
		if s.trust.Symmetric() {
			s.handle(http.MethodPost, "/auth/dev-token", s.handleDevToken())
			s.logger.Warn("開発用トークン発行エンドポイントが有効です")
		} else {
			s.logger.Warn("JWK鍵セットでは開発用トークンを発行できないため、エンドポイントを登録しません")
		}
	}

	// それ以外のリクエストはすべてルート表に従って転送する
	s.router.NoRoute(
		s.observe(),
		s.lookup(),
		middleware.JWTAuth(s.trust,
			middleware.WithRequired(requiresAuthentication),
			middleware.WithClock(s.now),
			middleware.WithAuthLogger(s.logger),
		),
		s.forward(),
	)
}

// handle はゲートウェイ自身のエンドポイントを登録する。
func (s *Server) handle(method, path string, h gin.HandlerFunc) {
	s.router.Handle(method, path, h)
	s.ownEndpoints = append(s.ownEndpoints, endpoint{method: method, path: path})
}

// shadowedRoutes はゲートウェイ自身のエンドポイントに隠されて到達できないルートを返す。
// キーは "メソッド パス"、値はそのリクエストに最初に一致するルート名。
func (s *Server) shadowedRoutes(table *route.Table) map[string]string {
	shadowed := make(map[string]string)
	for _, e := range s.ownEndpoints {
		if m, ok := table.Match(e.method, e.path); ok {
			shadowed[e.method+" "+e.path] = m.Rule.Name
		}
	}
	return shadowed
}

// warnShadowed はゲートウェイ自身のエンドポイントと重なるルートを警告する。
// 重なったリクエストはゲートウェイが応答し、下流へは転送しない。
func (s *Server) warnShadowed(table *route.Table) {
	for ep, name := range s.shadowedRoutes(table) {
		s.logger.Warn("ゲートウェイのエンドポイントと重なるルートがあります",
			zap.String("route", name),
			zap.String("endpoint", ep),
		)
	}
}

// ReloadRoutes は新しいルート定義からルート表を構築し、現在の表と入れ替える。
// 構築に失敗した場合は現在の表をそのまま使い続ける。
func (s *Server) ReloadRoutes(defs []route.Definition) error {
	table, err := route.Build(defs)
	if err != nil {
		return err
	}
	s.warnShadowed(table)
	s.routes.Store(table)
	generation := s.generation.Add(1)

	names := make([]string, 0, table.Len())
	for _, r := range table.Rules() {
		names = append(names, r.Name)
	}
	s.logger.Info("ルート表を再読み込み",
		zap.Int64("generation", generation),
		zap.Int("routes", table.Len()),
	)

	ev, err := event.ForRoutesReloaded(generation, event.RoutesReloadedData{Routes: table.Len(), Names: names})
	if err != nil {
		s.logger.Warn("イベントの生成に失敗", zap.Error(err))
		return nil
	}
	s.recorder.Record(ev)
	return nil
}

// handleHealth はヘルスチェックのハンドラを返す。
func (s *Server) handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "gateway",
			"routes":  s.routes.Load().Len(),
		})
	}
}

// devTokenRequest は開発用トークン発行のリクエストボディ。
type devTokenRequest struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

// handleDevToken は開発用JWTトークンを発行するハンドラを返す。
// 本番環境では無効化すべき。
func (s *Server) handleDevToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req devTokenRequest
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "リクエストボディが不正です"})
				return
			}
		}
		if req.UserID == "" {
			req.UserID = "dev-user"
		}
		if req.Email == "" {
			req.Email = "dev@localhost"
		}

		now := s.now()
		signed, err := token.GenerateJWT(s.trust, req.UserID, devTokenTTL, now, map[string]any{"email": req.Email})
		if err != nil {
			s.logger.Error("トークン生成に失敗", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "トークン生成に失敗しました"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"token":      signed,
			"user_id":    req.UserID,
			"expires_at": now.Add(devTokenTTL).UTC().Format(time.RFC3339),
		})
	}
}
