package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	config "github.com/goshlabs/onboarding-pipeline/internal/config/send-worker"
	"github.com/goshlabs/onboarding-pipeline/internal/mail"
	"github.com/goshlabs/onboarding-pipeline/internal/obs"
	"github.com/goshlabs/onboarding-pipeline/internal/obs/retry"
	"github.com/goshlabs/onboarding-pipeline/internal/queue"
	pg "github.com/goshlabs/onboarding-pipeline/internal/repository/postgres"
)

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

func configPath() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "config/send-worker.yaml"
}

func main() {
	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	cfg, err := config.Load(configPath())
	if err != nil {
		log.Fatal(err)
	}

	l, err := obs.NewLogger(cfg.Log.AsLoggerConfig())
	if err != nil {
		log.Fatal(err)
	}

	l.Info("starting send-worker",
		zap.String("queue", cfg.Queue.Name),
		zap.String("metrics_addr", cfg.Server.MetricsAddr),
		zap.String("smtp_addr", cfg.SMTP.Addr),
	)

	otelCloser, err := obs.SetupOTel(rootCtx, cfg.OTEL.AsOTELConfig())
	if err != nil {
		l.Warn("otel init", zap.Error(err))
	}
	if otelCloser != nil {
		defer func() { _ = otelCloser.Shutdown(context.Background()) }()
	}

	db, err := pg.New(rootCtx, cfg.DB)
	if err != nil {
		l.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()
	l.Info("db connected")

	ms := obs.BootstrapMetricsServer(cfg.Server.MetricsAddr, func(ctx context.Context) error {
		hctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
		defer cancel()
		return db.Pool.Ping(hctx)
	}, l)

	records := pg.NewNotificationRepo(db)
	jobs := pg.NewJobRepo(db)
	mailer := mail.New(cfg.SMTP).WithLogger(l)

	mux := queue.NewEmailHandlerMux(records, mailer, systemClock{}, l, retry.DefaultSMTPPolicy(l))
	runner := queue.NewRunner(
		l, jobs, mux,
		cfg.Queue.Name,
		cfg.Queue.Workers,
		cfg.Queue.Batch,
		cfg.Queue.Tick,
		cfg.Queue.ActiveTTL,
	)

	errCh := make(chan error, 1)
	go func() { errCh <- runner.Run(rootCtx) }()

	l.Info("send-worker started")

	var runErr error
	select {
	case <-rootCtx.Done():
		l.Info("shutdown signal")
	case runErr = <-errCh:
		if runErr != nil && !errors.Is(runErr, context.Canceled) {
			l.Error("runner error", zap.Error(runErr))
		}
	}

	shCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = ms.Shutdown(shCtx)
	l.Info("bye")
}
