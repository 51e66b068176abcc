package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/k11v/staticdeploy/internal/deployamqp"
	"github.com/k11v/staticdeploy/internal/deploypg"
	"github.com/k11v/staticdeploy/internal/pgutil"
)

func newEnqueueCommand(environ []string) *cobra.Command {
	var (
		flags  inputFlags
		record bool
	)

	cmd := &cobra.Command{
		Use:   "enqueue REPOSITORY_URL",
		Short: "Queue a deployment for the worker",
		Long: `Enqueue publishes a deployment job to the worker queue and prints its ID.

With --record the deployment is also stored as queued, so status can find it before a worker picks it up.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := parseConfig(environ)
			if err != nil {
				return err
			}
			input, err := flags.input(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			if record {
				db, err := pgutil.NewPool(ctx, cfg.Postgres.DSN)
				if err != nil {
					return err
				}
				defer db.Close()

				_, err = deploypg.NewStore(db).Create(ctx, &deploypg.StoreCreateParams{
					ID:            input.DeploymentID,
					Name:          input.Name,
					RepositoryURL: input.RepositoryURL,
					Branch:        input.Branch,
				})
				if errors.Is(err, deploypg.ErrAlreadyExists) {
					return fmt.Errorf("deployment %s already exists", input.DeploymentID)
				} else if err != nil {
					return err
				}
			}

			broker := deployamqp.NewBroker(cfg.AMQP.URL, cfg.AMQP.Queue)
			if err = broker.SendJob(ctx, input); err != nil {
				return err
			}

			_, _ = fmt.Fprintln(cmd.OutOrStdout(), input.DeploymentID)
			return nil
		},
	}
	flags.register(cmd.Flags())
	cmd.Flags().BoolVar(&record, "record", false, "Store the deployment as queued before publishing")
	return cmd
}
