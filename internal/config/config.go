package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/nao1215/gateway/pkg/token"
)

// 環境変数名。
const (
	EnvPort               = "PORT"
	EnvJWTSecret          = "JWT_SECRET"
	EnvJWTKeyFile         = "JWT_KEY_FILE"
	EnvJWTIssuer          = "JWT_ISSUER"
	EnvJWTAudience        = "JWT_AUDIENCE"
	EnvRoutesFile         = "ROUTES_FILE"
	EnvDownstreamTimeout  = "DOWNSTREAM_TIMEOUT"
	EnvShutdownTimeout    = "SHUTDOWN_TIMEOUT"
	EnvCORSAllowedOrigins = "CORS_ALLOWED_ORIGINS"
	EnvLogLevel           = "LOG_LEVEL"
	EnvLogFile            = "LOG_FILE"
	EnvEventLogDB         = "EVENTLOG_DB"
	EnvDevTokenEnabled    = "DEV_TOKEN_ENABLED"
)

// ErrInvalidSetting は設定値を解釈できないことを表す。
var ErrInvalidSetting = errors.New("設定値が不正です")

// MissingSettingError は必須の設定が欠けていることを表す。
type MissingSettingError struct {
	// Names は欠けている設定の名前。
	Names []string
}

// Error implements error.
func (e *MissingSettingError) Error() string {
	return "必須の設定がありません: " + strings.Join(e.Names, ", ")
}

// Config はゲートウェイプロセスの設定。
type Config struct {
	// Port はリッスンポート。
	Port string
	// JWTSecret はHMAC署名の共有鍵。JWTKeyFile と排他。
	JWTSecret string
	// JWTKeyFile はJWK鍵セットファイルのパス。
	JWTKeyFile string
	// JWTIssuer は期待するトークン発行者。
	JWTIssuer string
	// JWTAudience は期待するトークン受信者。
	JWTAudience string
	// RoutesFile はルート定義ファイルのパス。
	RoutesFile string
	// DownstreamTimeout は下流呼び出しの既定の期限。
	DownstreamTimeout time.Duration
	// ShutdownTimeout はグレースフルシャットダウンの待ち時間。
	ShutdownTimeout time.Duration
	// CORSAllowedOrigins はクロスオリジンを許可するオリジン。"*" は任意のオリジン。
	CORSAllowedOrigins []string
	// LogLevel はログレベル。
	LogLevel string
	// LogFile はログファイルのパス。空の場合は標準エラー出力のみ。
	LogFile string
	// EventLogDB はイベントログのSQLiteファイルのパス。空の場合は記録しない。
	EventLogDB string
	// DevTokenEnabled は開発用トークン発行エンドポイントを有効にする。
	DevTokenEnabled bool
}

// Load は環境変数から設定を読み込む。
func Load() (*Config, error) {
	return LoadFrom(os.Getenv)
}

// LoadFrom は getenv で取得した値から設定を読み込む。
// 欠けている必須設定と解釈できない値は、まとめて1つのエラーで返す。
func LoadFrom(getenv func(string) string) (*Config, error) {
	env := environment(getenv)

	cfg := &Config{
		Port:               env.getEnvOr(EnvPort, "8080"),
		JWTSecret:          env.get(EnvJWTSecret),
		JWTKeyFile:         env.get(EnvJWTKeyFile),
		JWTIssuer:          env.get(EnvJWTIssuer),
		JWTAudience:        env.get(EnvJWTAudience),
		RoutesFile:         env.getEnvOr(EnvRoutesFile, "routes.yaml"),
		CORSAllowedOrigins: splitList(env.get(EnvCORSAllowedOrigins)),
		LogLevel:           env.getEnvOr(EnvLogLevel, "info"),
		LogFile:            env.get(EnvLogFile),
		EventLogDB:         env.get(EnvEventLogDB),
	}

	var errs []error
	if missing := cfg.missingTrustSettings(); len(missing) > 0 {
		errs = append(errs, &MissingSettingError{Names: missing})
	}
	if cfg.JWTSecret != "" && cfg.JWTKeyFile != "" {
		errs = append(errs, fmt.Errorf("%w: %s と %s は同時に指定できません", ErrInvalidSetting, EnvJWTSecret, EnvJWTKeyFile))
	}

	var err error
	if cfg.DownstreamTimeout, err = env.duration(EnvDownstreamTimeout, 30*time.Second); err != nil {
		errs = append(errs, err)
	}
	if cfg.ShutdownTimeout, err = env.duration(EnvShutdownTimeout, 10*time.Second); err != nil {
		errs = append(errs, err)
	}
	if cfg.DevTokenEnabled, err = env.boolean(EnvDevTokenEnabled); err != nil {
		errs = append(errs, err)
	}
	if port, err := strconv.Atoi(cfg.Port); err != nil || port < 1 || port > 65535 {
		errs = append(errs, fmt.Errorf("%w: %s=%q", ErrInvalidSetting, EnvPort, cfg.Port))
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

// missingTrustSettings はトークン検証に必要で欠けている設定の名前を返す。
func (c *Config) missingTrustSettings() []string {
	var missing []string
	if c.JWTSecret == "" && c.JWTKeyFile == "" {
		missing = append(missing, EnvJWTSecret+" または "+EnvJWTKeyFile)
	}
	if c.JWTIssuer == "" {
		missing = append(missing, EnvJWTIssuer)
	}
	if c.JWTAudience == "" {
		missing = append(missing, EnvJWTAudience)
	}
	return missing
}

// TrustParameters は設定からトークン検証の信頼パラメータを構築する。
// JWK鍵セットファイルはここで一度だけ読み込む。
func (c *Config) TrustParameters() (*token.TrustParameters, error) {
	if c.JWTKeyFile != "" {
		set, err := token.LoadKeySet(c.JWTKeyFile)
		if err != nil {
			return nil, err
		}
		return token.NewWithKeySet(set, c.JWTIssuer, c.JWTAudience)
	}
	return token.NewSymmetric(c.JWTSecret, c.JWTIssuer, c.JWTAudience)
}

// environment は環境変数の取得関数。
type environment func(string) string

func (e environment) get(key string) string {
	return strings.TrimSpace(e(key))
}

// getEnvOr は環境変数を取得し、設定されていない場合はデフォルト値を返す。
func (e environment) getEnvOr(key, defaultValue string) string {
	if v := e.get(key); v != "" {
		return v
	}
	return defaultValue
}

func (e environment) duration(key string, defaultValue time.Duration) (time.Duration, error) {
	v := e.get(key)
	if v == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%w: %s=%q は正の期間である必要があります", ErrInvalidSetting, key, v)
	}
	return d, nil
}

func (e environment) boolean(key string) (bool, error) {
	v := e.get(key)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%w: %s=%q", ErrInvalidSetting, key, v)
	}
	return b, nil
}

// splitList はカンマ区切りの値を分割する。空の要素は除く。
func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
