// API Gatewayサービスのエントリポイント。
// ルート表に従ってリクエストを内部サービスへ転送し、必要なルートではJWT認証を行う。
// 外部からアクセス可能な唯一のサービスであり、セキュリティの境界線となる。
package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/nao1215/gateway/internal/config"
	"github.com/nao1215/gateway/internal/dispatch"
	"github.com/nao1215/gateway/internal/eventstore"
	"github.com/nao1215/gateway/internal/gateway"
	"github.com/nao1215/gateway/internal/route"
	"github.com/nao1215/gateway/pkg/httpclient"
	"github.com/nao1215/gateway/pkg/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("設定の読み込みに失敗: %v", err)
	}

	logger, closer, err := logging.New(logging.Config{Level: cfg.LogLevel, File: cfg.LogFile})
	if err != nil {
		log.Fatalf("ロガーの初期化に失敗: %v", err)
	}
	defer closer.Close()
	defer func() { _ = logger.Sync() }()
	logging.SetGlobal(logger)

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Gatewayサービスが異常終了しました", zap.Error(err))
	}
}

// run はゲートウェイを起動し、終了シグナルを受け取るまで処理を続ける。
func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	trust, err := cfg.TrustParameters()
	if err != nil {
		return err
	}

	routes, err := config.LoadRoutes(cfg.RoutesFile)
	if err != nil {
		return err
	}
	table, err := route.Build(routes.Definitions)
	if err != nil {
		return err
	}
	for _, r := range table.Rules() {
		logger.Info("ルートを登録",
			zap.String("route", r.Name),
			zap.String("pattern", r.UpstreamPathPattern),
			zap.Strings("methods", r.Methods()),
			zap.String("downstream", r.Address()),
			zap.Bool("requires_authentication", r.RequiresAuthentication),
		)
	}

	var recorder eventstore.Recorder = eventstore.NopRecorder{}
	if cfg.EventLogDB != "" {
		store, err := eventstore.Open(ctx, cfg.EventLogDB)
		if err != nil {
			return err
		}
		defer store.Close()

		writer := eventstore.NewWriter(store, eventstore.DefaultQueueSize, logger)
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			if err := writer.Close(closeCtx); err != nil {
				logger.Warn("イベントログの書き込み待ちを打ち切りました", zap.Error(err))
			}
		}()
		recorder = writer
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	timeout := cfg.DownstreamTimeout
	if routes.DownstreamTimeout > 0 {
		timeout = routes.DownstreamTimeout
	}
	client := httpclient.New(httpclient.DefaultOptions())
	defer client.CloseIdleConnections()

	server := gateway.NewServer(
		route.NewHolder(table),
		trust,
		dispatch.New(client, timeout, dispatch.WithLogger(logger)),
		gateway.WithLogger(logger),
		gateway.WithRecorder(recorder),
		gateway.WithCORS(cfg.CORSAllowedOrigins),
		gateway.WithDevToken(cfg.DevTokenEnabled),
	)

	httpServer := &http.Server{
		Addr:              net.JoinHostPort("", cfg.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Gatewayサービスを起動します", zap.String("addr", httpServer.Addr), zap.Int("routes", table.Len()))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Gatewayサービスを停止します")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
