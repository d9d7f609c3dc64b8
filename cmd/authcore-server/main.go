// Command authcore-server serves the authcore HTTP API.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/httpapi"
	"github.com/MrEthical07/authcore/metrics/export/prometheus"
	"go.uber.org/zap"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(2)
	}

	log, err := newLogger(cfg)
	if err != nil {
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(2)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Error("server stopped", zap.Error(err))
		os.Exit(1)
	}
}

func newLogger(cfg serverConfig) (*zap.Logger, error) {
	if cfg.dev() {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(cfg serverConfig, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cl closers
	defer cl.run()

	ecfg, err := cfg.engineConfig()
	if err != nil {
		return err
	}

	tp, shutdownTracing, err := setupTracing(ctx, cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	cl.add(func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(sctx)
	})

	rdb, err := openRedis(cfg, log, &cl)
	if err != nil {
		return err
	}
	audit, err := openAuditLog(ctx, cfg, rdb, &cl)
	if err != nil {
		return err
	}
	users, err := openUsers(ctx, cfg, ecfg, log, &cl)
	if err != nil {
		return err
	}
	alerts, otp, err := openNotifier(cfg, log, &cl)
	if err != nil {
		return err
	}

	engine, err := authcore.New().
		WithConfig(ecfg).
		WithRedis(rdb).
		WithUserProvider(users).
		WithAuditLog(audit).
		WithAlertSink(alerts).
		WithOTPSender(otp).
		WithLogger(log).
		WithTracerProvider(tp).
		Build()
	if err != nil {
		return err
	}
	cl.add(engine.Close)

	if sweeper := engine.NewSweeper(); sweeper != nil {
		go sweeper.Run(ctx)
		cl.add(sweeper.Stop)
	}

	e := httpapi.NewServer(engine, httpapi.Options{
		RequestTimeout:    cfg.RequestTimeout,
		Metrics:           prometheus.NewExporter(engine).Handler(),
		Logger:            log,
		TrustProxyHeaders: cfg.TrustProxyHeaders,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           e,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", cfg.HTTPAddr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(sctx)
}
