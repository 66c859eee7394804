package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nao1215/gateway/pkg/logging"
	"github.com/nao1215/gateway/pkg/token"
)

// ErrMissingCredential は Authorization ヘッダーに Bearer トークンが無いことを表す。
var ErrMissingCredential = errors.New("Authorization ヘッダーに Bearer トークンがありません")

const (
	// bearerPrefix は Authorization ヘッダーのスキーム。大文字小文字は区別しない。
	bearerPrefix = "Bearer "
	// unauthorizedMessage はすべての認証失敗で返す共通のメッセージ。
	unauthorizedMessage = "認証に失敗しました"

	contextKeyIdentity  = "identity"
	contextKeyUserID    = "user_id"
	contextKeyAuthError = "auth_error"
)

// identityKey はリクエストコンテキストに認証済みの主体を格納するキー。
type identityKey struct{}

// BearerToken は Authorization ヘッダーの値からトークンを取り出す。
func BearerToken(header string) (string, error) {
	if len(header) < len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return "", ErrMissingCredential
	}
	tokenString := strings.TrimSpace(header[len(bearerPrefix):])
	if tokenString == "" {
		return "", ErrMissingCredential
	}
	return tokenString, nil
}

// Authorize はリクエストの認証を行う。
// requiresAuth が false の場合は無条件に通過させ、nil の Identity を返す。
func Authorize(r *http.Request, requiresAuth bool, trust *token.TrustParameters, now time.Time) (*token.Identity, error) {
	if !requiresAuth {
		return nil, nil
	}
	tokenString, err := BearerToken(r.Header.Get("Authorization"))
	if err != nil {
		return nil, err
	}
	return token.Validate(tokenString, trust, now)
}

// AuthOption は JWTAuth の動作を変更する。
type AuthOption func(*authConfig)

type authConfig struct {
	required func(*gin.Context) bool
	now      func() time.Time
	logger   *zap.Logger
}

// WithRequired は認証が必要かどうかをリクエストごとに判定する関数を設定する。
// 未設定の場合はすべてのリクエストで認証を要求する。
func WithRequired(fn func(*gin.Context) bool) AuthOption {
	return func(c *authConfig) { c.required = fn }
}

// WithClock は検証に使う現在時刻の取得関数を設定する。
func WithClock(now func() time.Time) AuthOption {
	return func(c *authConfig) { c.now = now }
}

// WithAuthLogger は認証失敗の理由を出力するロガーを設定する。
func WithAuthLogger(l *zap.Logger) AuthOption {
	return func(c *authConfig) { c.logger = l }
}

// JWTAuth はJWTトークンを検証するGinミドルウェアを返す。
// 検証に成功した場合、Ginコンテキストとリクエストコンテキストに認証済みの主体を設定する。
// 失敗した場合は理由によらず同じ401レスポンスを返し、理由はログとGinコンテキストにだけ残す。
func JWTAuth(trust *token.TrustParameters, opts ...AuthOption) gin.HandlerFunc {
	cfg := authConfig{
		required: func(*gin.Context) bool { return true },
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	logger := logging.OrGlobal(cfg.logger)

	return func(c *gin.Context) {
		identity, err := Authorize(c.Request, cfg.required(c), trust, cfg.now())
		if err != nil {
			c.Set(contextKeyAuthError, err)
			logger.Info("認証に失敗",
				zap.String("reason", FailureReason(err)),
				zap.String("method", c.Request.Method),
				zap.String("path", c.Request.URL.Path),
				zap.String("request_id", GetRequestID(c)),
				zap.Error(err),
			)
			c.Header("WWW-Authenticate", "Bearer")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": unauthorizedMessage,
			})
			return
		}

		if identity != nil {
			c.Set(contextKeyIdentity, identity)
			c.Set(contextKeyUserID, identity.UserID())
			c.Request = c.Request.WithContext(WithIdentity(c.Request.Context(), identity))
		}
		c.Next()
	}
}

// FailureReason は認証エラーをメトリクスやイベントログ用の短いコードに変換する。
func FailureReason(err error) string {
	if errors.Is(err, ErrMissingCredential) {
		return "missing_credential"
	}
	return token.ReasonCode(err)
}

// WithIdentity は認証済みの主体をコンテキストに設定する。
func WithIdentity(ctx context.Context, identity *token.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFromContext はコンテキストから認証済みの主体を取得する。
func IdentityFromContext(ctx context.Context) (*token.Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(*token.Identity)
	return identity, ok && identity != nil
}

// GetIdentity はGinコンテキストから認証済みの主体を取得する。
// 認証が不要なルートでは nil を返す。
func GetIdentity(c *gin.Context) *token.Identity {
	v, _ := c.Get(contextKeyIdentity)
	identity, _ := v.(*token.Identity)
	return identity
}

// GetUserID はGinコンテキストからユーザーIDを取得する。
// JWTAuthミドルウェアが事前に適用されている必要がある。
func GetUserID(c *gin.Context) string {
	userID, _ := c.Get(contextKeyUserID)
	if id, ok := userID.(string); ok {
		return id
	}
	return ""
}

// AuthError はJWTAuthミドルウェアが拒否した理由を返す。拒否していない場合は nil。
func AuthError(c *gin.Context) error {
	v, _ := c.Get(contextKeyAuthError)
	err, _ := v.(error)
	return err
}
