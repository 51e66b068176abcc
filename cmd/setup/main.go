// Command setup migrates the database, creates the bucket and declares the
// job queue. Each step is idempotent.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/k11v/staticdeploy/internal/deployamqp"
	"github.com/k11v/staticdeploy/internal/deploys3"
	"github.com/k11v/staticdeploy/internal/postgresprovision"
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
	ctx := context.Background()

	if err = postgresprovision.Setup(cfg.Postgres.DSN); err != nil {
		slog.Error("didn't set up postgres", "error", err)
		return 1
	}
	slog.Info("set up postgres")

	s3Client, err := deploys3.NewClient(ctx, &deploys3.NewClientParams{
		ConnectionString: cfg.S3.URL,
		Region:           cfg.S3.Region,
	})
	if err != nil {
		slog.Error("didn't create s3 client", "error", err)
		return 1
	}
	if err = deploys3.Setup(ctx, s3Client, cfg.S3.Bucket); err != nil {
		slog.Error("didn't set up s3", "error", err, "bucket", cfg.S3.Bucket)
		return 1
	}
	slog.Info("set up s3", "bucket", cfg.S3.Bucket)

	if err = deployamqp.Setup(cfg.AMQP.URL, cfg.AMQP.Queue); err != nil {
		slog.Error("didn't set up amqp", "error", err, "queue", cfg.AMQP.Queue)
		return 1
	}
	slog.Info("set up amqp", "queue", cfg.AMQP.Queue)

	return 0
}
