package config

import (
	"errors"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/nao1215/gateway/pkg/token"
)

// envOf は map をもとにした環境変数の取得関数を返す。
func envOf(values map[string]string) func(string) string {
	return func(key string) string { return values[key] }
}

// validEnv は必須の設定がそろった環境変数を返す。
func validEnv() map[string]string {
	return map[string]string{
		EnvJWTSecret:   "test-secret-key-for-gateway",
		EnvJWTIssuer:   "https://issuer.example.com",
		EnvJWTAudience: "gateway-api",
	}
}

// TestLoadFrom は環境変数からの設定読み込みを検証する。
func TestLoadFrom(t *testing.T) {
	t.Parallel()

	t.Run("既定値が補完されること", func(t *testing.T) {
		t.Parallel()

		cfg, err := LoadFrom(envOf(validEnv()))
		if err != nil {
			t.Fatalf("LoadFrom()でエラーが発生: %v", err)
		}
		if cfg.Port != "8080" {
			t.Errorf("Port = %q, want %q", cfg.Port, "8080")
		}
		if cfg.RoutesFile != "routes.yaml" {
			t.Errorf("RoutesFile = %q, want %q", cfg.RoutesFile, "routes.yaml")
		}
		if cfg.DownstreamTimeout != 30*time.Second {
			t.Errorf("DownstreamTimeout = %v, want 30s", cfg.DownstreamTimeout)
		}
		if cfg.ShutdownTimeout != 10*time.Second {
			t.Errorf("ShutdownTimeout = %v, want 10s", cfg.ShutdownTimeout)
		}
		if cfg.LogLevel != "info" {
			t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
		}
		if cfg.DevTokenEnabled {
			t.Error("DevTokenEnabled = true, want false")
		}
		if cfg.EventLogDB != "" {
			t.Errorf("EventLogDB = %q, want empty", cfg.EventLogDB)
		}
	})

	t.Run("指定した値が反映されること", func(t *testing.T) {
		t.Parallel()

		env := validEnv()
		env[EnvPort] = "9090"
		env[EnvDownstreamTimeout] = "2s"
		env[EnvCORSAllowedOrigins] = " https://a.example.com, ,https://b.example.com "
		env[EnvDevTokenEnabled] = "true"
		env[EnvEventLogDB] = "/var/lib/gateway/events.db"

		cfg, err := LoadFrom(envOf(env))
		if err != nil {
			t.Fatalf("LoadFrom()でエラーが発生: %v", err)
		}
		if cfg.Port != "9090" {
			t.Errorf("Port = %q, want %q", cfg.Port, "9090")
		}
		if cfg.DownstreamTimeout != 2*time.Second {
			t.Errorf("DownstreamTimeout = %v, want 2s", cfg.DownstreamTimeout)
		}
		want := []string{"https://a.example.com", "https://b.example.com"}
		if !slices.Equal(cfg.CORSAllowedOrigins, want) {
			t.Errorf("CORSAllowedOrigins = %v, want %v", cfg.CORSAllowedOrigins, want)
		}
		if !cfg.DevTokenEnabled {
			t.Error("DevTokenEnabled = false, want true")
		}
	})

	t.Run("欠けている信頼パラメータがすべて報告されること", func(t *testing.T) {
		t.Parallel()

		_, err := LoadFrom(envOf(map[string]string{}))
		var missing *MissingSettingError
		if !errors.As(err, &missing) {
			t.Fatalf("err = %v, want MissingSettingError", err)
		}
		want := []string{"JWT_SECRET または JWT_KEY_FILE", EnvJWTIssuer, EnvJWTAudience}
		if !slices.Equal(missing.Names, want) {
			t.Errorf("Names = %v, want %v", missing.Names, want)
		}
	})

	t.Run("鍵だけが欠けている場合は鍵だけが報告されること", func(t *testing.T) {
		t.Parallel()

		env := validEnv()
		delete(env, EnvJWTSecret)

		_, err := LoadFrom(envOf(env))
		var missing *MissingSettingError
		if !errors.As(err, &missing) {
			t.Fatalf("err = %v, want MissingSettingError", err)
		}
		if len(missing.Names) != 1 || missing.Names[0] != "JWT_SECRET または JWT_KEY_FILE" {
			t.Errorf("Names = %v", missing.Names)
		}
	})

	t.Run("共有鍵と鍵セットの同時指定はエラーになること", func(t *testing.T) {
		t.Parallel()

		env := validEnv()
		env[EnvJWTKeyFile] = "/etc/gateway/jwks.json"

		if _, err := LoadFrom(envOf(env)); !errors.Is(err, ErrInvalidSetting) {
			t.Errorf("err = %v, want %v", err, ErrInvalidSetting)
		}
	})

	t.Run("不正な値はまとめて報告されること", func(t *testing.T) {
		t.Parallel()

		env := validEnv()
		env[EnvPort] = "http"
		env[EnvDownstreamTimeout] = "soon"
		env[EnvShutdownTimeout] = "-1s"
		env[EnvDevTokenEnabled] = "yes please"

		_, err := LoadFrom(envOf(env))
		if !errors.Is(err, ErrInvalidSetting) {
			t.Fatalf("err = %v, want %v", err, ErrInvalidSetting)
		}
		joined, ok := err.(interface{ Unwrap() []error })
		if !ok {
			t.Fatalf("err = %T, want joined error", err)
		}
		if got := len(joined.Unwrap()); got != 4 {
			t.Errorf("エラー数 = %d, want 4: %v", got, err)
		}
	})
}

// TestConfigTrustParameters は設定からの信頼パラメータ構築を検証する。
func TestConfigTrustParameters(t *testing.T) {
	t.Parallel()

	t.Run("共有鍵から構築できること", func(t *testing.T) {
		t.Parallel()

		cfg, err := LoadFrom(envOf(validEnv()))
		if err != nil {
			t.Fatalf("LoadFrom()でエラーが発生: %v", err)
		}
		trust, err := cfg.TrustParameters()
		if err != nil {
			t.Fatalf("TrustParameters()でエラーが発生: %v", err)
		}
		if !trust.Symmetric() {
			t.Error("Symmetric() = false, want true")
		}
		if trust.Issuer != "https://issuer.example.com" || trust.Audience != "gateway-api" {
			t.Errorf("issuer/audience = %q/%q", trust.Issuer, trust.Audience)
		}

		now := time.Now()
		signed, err := token.GenerateJWT(trust, "user-1", time.Minute, now, nil)
		if err != nil {
			t.Fatalf("GenerateJWT()でエラーが発生: %v", err)
		}
		if _, err := token.Validate(signed, trust, now); err != nil {
			t.Errorf("Validate()でエラーが発生: %v", err)
		}
	})

	t.Run("存在しない鍵セットファイルはエラーになること", func(t *testing.T) {
		t.Parallel()

		env := validEnv()
		delete(env, EnvJWTSecret)
		env[EnvJWTKeyFile] = filepath.Join(t.TempDir(), "missing.json")

		cfg, err := LoadFrom(envOf(env))
		if err != nil {
			t.Fatalf("LoadFrom()でエラーが発生: %v", err)
		}
		if _, err := cfg.TrustParameters(); err == nil {
			t.Error("期待したエラーが発生しなかった")
		}
	})
}

// TestLoad はプロセスの環境変数からの読み込みを検証する。
func TestLoad(t *testing.T) {
	for key, value := range validEnv() {
		t.Setenv(key, value)
	}
	t.Setenv(EnvPort, "18080")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load()でエラーが発生: %v", err)
	}
	if cfg.Port != "18080" {
		t.Errorf("Port = %q, want %q", cfg.Port, "18080")
	}
}
