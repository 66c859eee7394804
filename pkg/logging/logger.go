// Package logging はゲートウェイ全体で使用する構造化ロガー（zap）を提供する。
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	globalLogger = zap.NewNop()
	globalMu     sync.RWMutex
)

// Config はロガーの設定。
type Config struct {
	// Level は出力する最小のログレベル（debug, info, warn, error）。
	Level string
	// File はログファイルのパス。空の場合は標準エラー出力のみ。
	File string
	// MaxSizeMB はローテーションするファイルサイズ（MB）。
	MaxSizeMB int
	// MaxBackups は保持する古いファイルの数。
	MaxBackups int
	// MaxAgeDays は古いファイルを保持する日数。
	MaxAgeDays int
}

// ParseLevel はログレベル文字列を変換する。不明な値は info として扱う。
func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// New はJSON形式のロガーを生成する。
// File が指定されている場合はlumberjackでローテーションしながらファイルにも書き出し、
// 返却するio.Closerでファイルを閉じる。File が空の場合のio.Closerは何もしない。
func New(cfg Config) (*zap.Logger, io.Closer, error) {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	sinks := []zapcore.WriteSyncer{zapcore.Lock(os.Stderr)}
	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, nil, fmt.Errorf("ログディレクトリの作成に失敗: %w", err)
		}
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    orDefault(cfg.MaxSizeMB, 100),
			MaxBackups: orDefault(cfg.MaxBackups, 3),
			MaxAge:     orDefault(cfg.MaxAgeDays, 28),
			Compress:   true,
		}
		sinks = append(sinks, zapcore.AddSync(rotator))
		closer = rotator
	}

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encCfg),
		zapcore.NewMultiWriteSyncer(sinks...),
		zap.NewAtomicLevelAt(ParseLevel(cfg.Level)),
	)
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)), closer, nil
}

// nopCloser は閉じるものが無い場合の io.Closer。
type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// Global はプロセス全体のロガーを返す。SetGlobal が呼ばれるまでは何も出力しない。
func Global() *zap.Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}

// SetGlobal はプロセス全体のロガーを設定する。nil の場合は何も出力しないロガーになる。
func SetGlobal(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	globalMu.Lock()
	globalLogger = l
	globalMu.Unlock()
}

// OrGlobal は l が nil の場合にプロセス全体のロガーを返す。
func OrGlobal(l *zap.Logger) *zap.Logger {
	if l != nil {
		return l
	}
	return Global()
}
