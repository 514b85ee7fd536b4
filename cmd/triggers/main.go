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

	"github.com/goshlabs/onboarding-pipeline/internal/actions"
	config "github.com/goshlabs/onboarding-pipeline/internal/config/triggers"
	"github.com/goshlabs/onboarding-pipeline/internal/dispatch"
	"github.com/goshlabs/onboarding-pipeline/internal/domain/job"
	"github.com/goshlabs/onboarding-pipeline/internal/obs"
	"github.com/goshlabs/onboarding-pipeline/internal/repository/kafka"
	pg "github.com/goshlabs/onboarding-pipeline/internal/repository/postgres"
	"github.com/goshlabs/onboarding-pipeline/internal/services/triggers"
	"github.com/goshlabs/onboarding-pipeline/internal/templates"
)

func configPath() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "config/triggers.yaml"
}

func wiring(db *pg.DB, cfg *config.Config, l *zap.Logger) (*dispatch.Dispatcher, error) {
	tmpl, err := templates.Load()
	if err != nil {
		return nil, err
	}

	deps := actions.Deps{
		Log:     l,
		Records: pg.NewNotificationRepo(db),
		Jobs:    pg.NewJobRepo(db),
		Users:   pg.NewUserRepo(db),
		Invites: pg.NewInviteRepo(db),
		Tmpl:    tmpl,
		Tx:      pg.NewTransactor(db, l),
		Queue:   cfg.Enqueue.Queue,
		Retries: cfg.Enqueue.Retries,
		Backoff: job.Backoff{
			Kind:  job.BackoffKind(cfg.Enqueue.BackoffKind),
			Delay: cfg.Enqueue.BackoffDelay,
		},
	}

	return dispatch.New(l, cfg.Poll.BatchLimit, actions.Streams(deps)...), nil
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

	l.Info("starting triggers",
		zap.Any("kafka_in", cfg.In),
		zap.String("metrics_addr", cfg.Server.MetricsAddr),
		zap.Duration("poll_tick", cfg.Poll.Tick),
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

	cons := kafka.BootstrapConsumer(rootCtx, cfg.In.AsConsumerConfig(), l).WithLogger(l)
	defer func() { _ = cons.Close() }()

	d, err := wiring(db, cfg, l)
	if err != nil {
		l.Fatal("wiring", zap.Error(err))
	}

	ctrl := &triggers.Controller{Log: l, Sub: cons, D: d, TableStreams: actions.TableStreams}
	poll := triggers.NewPollRunner(l, d, cfg.Poll.Tick)

	errCh := make(chan error, 2)
	go func() { errCh <- ctrl.Run(rootCtx) }()
	go func() { errCh <- poll.Run(rootCtx) }()

	l.Info("triggers started")

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
