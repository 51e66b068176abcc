package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/k11v/staticdeploy/internal/deploypg"
	"github.com/k11v/staticdeploy/internal/deployredis"
	"github.com/k11v/staticdeploy/internal/deploys3"
	"github.com/k11v/staticdeploy/internal/pgutil"
)

func newStatusCommand(environ []string) *cobra.Command {
	var (
		logs    bool
		live    bool
		objects bool
	)

	cmd := &cobra.Command{
		Use:   "status DEPLOYMENT_ID",
		Short: "Show the state of a deployment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := parseConfig(environ)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			id := args[0]

			if objects && cfg.S3.Bucket == "" {
				return errors.New("STATICDEPLOY_S3_BUCKET is required for --objects")
			}

			if live {
				if cfg.Redis.URL == "" {
					return errors.New("STATICDEPLOY_REDIS_URL is required for --live")
				}
				client, err := deployredis.NewClient(ctx, cfg.Redis.URL)
				if err != nil {
					return err
				}
				defer client.Close()

				state, err := deployredis.NewPublisher(client).State(ctx, id)
				if err != nil {
					return err
				}
				if len(state) == 0 {
					return fmt.Errorf("no live state for deployment %s", id)
				}
				return printJSON(cmd.OutOrStdout(), state)
			}

			db, err := pgutil.NewPool(ctx, cfg.Postgres.DSN)
			if err != nil {
				return err
			}
			defer db.Close()
			store := deploypg.NewStore(db)

			d, err := store.Get(ctx, id)
			if errors.Is(err, deploypg.ErrNotFound) {
				return fmt.Errorf("deployment %s not found", id)
			} else if err != nil {
				return err
			}
			printDeployment(cmd.OutOrStdout(), d)

			if logs {
				lines, err := store.Logs(ctx, id)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout())
				for _, line := range lines {
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), line)
				}
			}

			if objects {
				s3Client, err := deploys3.NewClient(ctx, &deploys3.NewClientParams{
					ConnectionString: cfg.S3.URL,
					Region:           cfg.S3.Region,
				})
				if err != nil {
					return err
				}
				keys, err := deploys3.NewStorage(s3Client, cfg.S3.Bucket).ListKeys(ctx, id+"/")
				if err != nil {
					return err
				}
				printObjects(cmd.OutOrStdout(), cfg.S3.Bucket, keys)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&logs, "logs", "l", false, "Print the stored log lines")
	cmd.Flags().BoolVar(&live, "live", false, "Read the live state from Redis instead of Postgres")
	cmd.Flags().BoolVar(&objects, "objects", false, "List the objects stored under the deployment prefix")
	return cmd
}

func printDeployment(w io.Writer, d *deploypg.Deployment) {
	_, _ = fmt.Fprintf(w, "id:       %s\n", d.ID)
	_, _ = fmt.Fprintf(w, "name:     %s\n", d.Name)
	_, _ = fmt.Fprintf(w, "repo:     %s (%s)\n", d.RepositoryURL, d.Branch)
	_, _ = fmt.Fprintf(w, "status:   %s %d%%\n", d.Status, d.Progress)
	_, _ = fmt.Fprintf(w, "updated:  %s\n", d.UpdatedAt.Format(time.RFC3339))
	if d.Error != "" {
		_, _ = fmt.Fprintf(w, "error:    %s: %s\n", d.ErrorKind, d.Error)
	}
	if d.Result != nil {
		_, _ = fmt.Fprintf(w, "url:      %s\n", d.Result.StorageURL)
		if d.Result.CDNURL != "" {
			_, _ = fmt.Fprintf(w, "cdn:      %s\n", d.Result.CDNURL)
		}
		_, _ = fmt.Fprintf(w, "files:    %d/%d\n", d.Result.UploadedFiles, d.Result.TotalFiles)
	}
}

func printObjects(w io.Writer, bucket string, keys []string) {
	_, _ = fmt.Fprintf(w, "stored:   %d object(s) in s3://%s\n", len(keys), bucket)
	for _, key := range keys {
		_, _ = fmt.Fprintf(w, "  %s\n", key)
	}
}
