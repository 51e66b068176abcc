package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseConfig(t *testing.T) {
	t.Run("applies defaults", func(t *testing.T) {
		cfg, err := parseConfig([]string{"STATICDEPLOY_S3_BUCKET=sites"})
		if err != nil {
			t.Fatalf("didn't want %q", err)
		}
		if cfg.Worker.Slots != 2 {
			t.Errorf("got slots %d, want 2", cfg.Worker.Slots)
		}
		if cfg.AMQP.Queue != "deployment.created" {
			t.Errorf("got queue %q", cfg.AMQP.Queue)
		}
		if cfg.S3.Domain != "s3.amazonaws.com" {
			t.Errorf("got s3 domain %q", cfg.S3.Domain)
		}
		if want := filepath.Join(os.TempDir(), "staticdeploy"); cfg.Worker.workDir() != want {
			t.Errorf("got work dir %q, want %q", cfg.Worker.workDir(), want)
		}
	})

	t.Run("reads variables", func(t *testing.T) {
		cfg, err := parseConfig([]string{
			"STATICDEPLOY_S3_BUCKET=sites",
			"STATICDEPLOY_WORKER_SLOTS=4",
			"STATICDEPLOY_WORKER_WORK_DIR=/var/lib/staticdeploy",
			"STATICDEPLOY_WORKER_KEEP_ARTIFACTS=true",
			"STATICDEPLOY_CDN_DISTRIBUTION_ID=E123",
			"STATICDEPLOY_REDIS_URL=redis://127.0.0.1:6379/0",
			"STATICDEPLOY_SERVER_PORT=8081",
		})
		if err != nil {
			t.Fatalf("didn't want %q", err)
		}
		if cfg.Worker.Slots != 4 || cfg.Worker.workDir() != "/var/lib/staticdeploy" || !cfg.Worker.KeepArtifacts {
			t.Errorf("got worker config %+v", cfg.Worker)
		}
		if cfg.Server.Port != 8081 {
			t.Errorf("got server port %d, want 8081", cfg.Server.Port)
		}
		if cfg.CDN.DistributionID != "E123" || cfg.Redis.URL != "redis://127.0.0.1:6379/0" {
			t.Errorf("got %+v", cfg)
		}
	})

	t.Run("requires a bucket", func(t *testing.T) {
		if _, err := parseConfig(nil); err == nil {
			t.Fatal("got nil error")
		}
	})
}
