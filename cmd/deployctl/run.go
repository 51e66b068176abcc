package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/cobra"

	"github.com/k11v/staticdeploy/internal/deploy"
	"github.com/k11v/staticdeploy/internal/deploycloudfront"
	"github.com/k11v/staticdeploy/internal/deploys3"
)

func newRunCommand(environ []string) *cobra.Command {
	var (
		flags          inputFlags
		workDir        string
		keepArtifacts  bool
		installCommand string
		buildCommand   string
	)

	cmd := &cobra.Command{
		Use:   "run REPOSITORY_URL",
		Short: "Run one deployment in this process",
		Long: `Run clones, builds and uploads a repository without going through the queue.

Progress and log lines are printed as they happen. The result is printed as JSON.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := parseConfig(environ)
			if err != nil {
				return err
			}
			if cfg.S3.Bucket == "" {
				return errors.New("STATICDEPLOY_S3_BUCKET is required")
			}
			input, err := flags.input(args[0])
			if err != nil {
				return err
			}
			if workDir == "" {
				workDir = filepath.Join(os.TempDir(), "staticdeploy")
			}

			pipeline, err := newPipeline(cmd.Context(), cfg, &deploy.Config{
				WorkDir:         workDir,
				InstallCommand:  installCommand,
				BuildCommand:    buildCommand,
				RemoveArtifacts: !keepArtifacts,
			})
			if err != nil {
				return err
			}

			job := &terminalJob{w: cmd.OutOrStdout()}
			result, err := pipeline.Run(cmd.Context(), input, job)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
	flags.register(cmd.Flags())
	cmd.Flags().StringVar(&workDir, "work-dir", "", "Directory for clones and artifacts (default: $TMPDIR/staticdeploy)")
	cmd.Flags().BoolVar(&keepArtifacts, "keep-artifacts", false, "Keep the artifact directory after upload")
	cmd.Flags().StringVar(&installCommand, "install-command", "", "Override the dependency install command")
	cmd.Flags().StringVar(&buildCommand, "build-command", "", "Override the build command")
	return cmd
}

// newPipeline fills the storage and CDN parts of pipelineConfig from cfg
// and wires the clients.
func newPipeline(ctx context.Context, cfg *config, pipelineConfig *deploy.Config) (*deploy.Pipeline, error) {
	pipelineConfig.Bucket = cfg.S3.Bucket
	pipelineConfig.StorageDomain = cfg.S3.Domain
	pipelineConfig.CDNDomain = cfg.CDN.Domain
	pipelineConfig.DefaultDistributionID = cfg.CDN.DistributionID

	s3Client, err := deploys3.NewClient(ctx, &deploys3.NewClientParams{
		ConnectionString: cfg.S3.URL,
		Region:           cfg.S3.Region,
	})
	if err != nil {
		return nil, err
	}

	var invalidator deploy.Invalidator
	if cfg.CDN.DistributionID != "" || cfg.CDN.Domain != "" {
		cloudfrontClient, err := deploycloudfront.NewClient(ctx, cfg.CDN.Region)
		if err != nil {
			return nil, err
		}
		invalidator = deploycloudfront.NewInvalidator(cloudfrontClient, slog.Default())
	}

	return deploy.NewPipeline(pipelineConfig, deploy.ExecCommander{}, deploys3.NewStorage(s3Client, cfg.S3.Bucket), invalidator, slog.Default()), nil
}

var _ deploy.Job = (*terminalJob)(nil)

// terminalJob prints progress and log lines to w.
type terminalJob struct {
	mu       sync.Mutex
	w        io.Writer
	progress int
}

func (j *terminalJob) ReportProgress(ctx context.Context, percent int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.progress = percent
	_, _ = fmt.Fprintf(j.w, "[%3d%%] progress\n", percent)
}

func (j *terminalJob) AppendLog(ctx context.Context, line string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	_, _ = fmt.Fprintf(j.w, "[%3d%%] %s\n", j.progress, line)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
