package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/k11v/staticdeploy/internal/deploy"
	"github.com/k11v/staticdeploy/internal/deployamqp"
	"github.com/k11v/staticdeploy/internal/deploycloudfront"
	"github.com/k11v/staticdeploy/internal/deploymetrics"
	"github.com/k11v/staticdeploy/internal/deploypg"
	"github.com/k11v/staticdeploy/internal/deployredis"
	"github.com/k11v/staticdeploy/internal/deploys3"
	"github.com/k11v/staticdeploy/internal/pgutil"
	"github.com/k11v/staticdeploy/internal/server"
)

func main() {
	os.Exit(run(os.Environ()))
}

func run(environ []string) int {
	cfg, err := parseConfig(environ)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}

	level := slog.LevelInfo
	if cfg.Development {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err = runWorker(ctx, cfg); err != nil {
		slog.Error("didn't run worker", "error", err)
		return 1
	}
	return 0
}

func runWorker(ctx context.Context, cfg *config) error {
	db, err := pgutil.NewPool(ctx, cfg.Postgres.DSN)
	if err != nil {
		return err
	}
	defer db.Close()

	s3Client, err := deploys3.NewClient(ctx, &deploys3.NewClientParams{
		ConnectionString: cfg.S3.URL,
		Region:           cfg.S3.Region,
	})
	if err != nil {
		return err
	}

	var invalidator deploy.Invalidator
	if cfg.CDN.DistributionID != "" || cfg.CDN.Domain != "" {
		cloudfrontClient, err := deploycloudfront.NewClient(ctx, cfg.CDN.Region)
		if err != nil {
			return err
		}
		invalidator = deploycloudfront.NewInvalidator(cloudfrontClient, slog.Default())
	}

	var events EventPublisher
	if cfg.Redis.URL != "" {
		redisClient, err := deployredis.NewClient(ctx, cfg.Redis.URL)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		events = deployredis.NewPublisher(redisClient)
	}

	metrics := deploymetrics.New(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
	if !cfg.Server.Disabled {
		srv := server.New(&cfg.Server, slog.Default(), metrics.Handler(), db.Ping)
		go func() {
			slog.Info("starting server", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("didn't serve", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				slog.Error("didn't shut down server", "error", err)
			}
		}()
	}

	pipeline := deploy.NewPipeline(
		&deploy.Config{
			WorkDir:               cfg.Worker.workDir(),
			Bucket:                cfg.S3.Bucket,
			StorageDomain:         cfg.S3.Domain,
			CDNDomain:             cfg.CDN.Domain,
			DefaultDistributionID: cfg.CDN.DistributionID,
			InstallCommand:        cfg.Worker.InstallCommand,
			BuildCommand:          cfg.Worker.BuildCommand,
			RemoveArtifacts:       !cfg.Worker.KeepArtifacts,
		},
		deploy.ExecCommander{},
		deploys3.NewStorage(s3Client, cfg.S3.Bucket),
		invalidator,
		slog.Default(),
	)

	worker := &Worker{
		Consumer: deployamqp.NewBroker(cfg.AMQP.URL, cfg.AMQP.Queue),
		Handler: &Handler{
			Pipeline: pipeline,
			Store:    deploypg.NewStore(db),
			Events:   events,
			Metrics:  metrics,
			Log:      slog.Default(),
		},
		Slots: cfg.Worker.Slots,
	}

	slog.Info("starting worker", "slots", worker.Slots, "queue", cfg.AMQP.Queue)
	return worker.Run(ctx)
}
