package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newStatsCommand(env *commandEnv) *cobra.Command {
	var queueName string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show queue depth counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := env.load()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			provider, err := env.connectProvider(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer provider.Disconnect(context.Background())

			stats, err := provider.Stats(ctx, queueName)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "queue:     %s\n", stats.Queue)
			fmt.Fprintf(out, "waiting:   %d\n", stats.Waiting)
			fmt.Fprintf(out, "delayed:   %d\n", stats.Delayed)
			fmt.Fprintf(out, "active:    %d\n", stats.Active)
			fmt.Fprintf(out, "completed: %d\n", stats.Completed)
			fmt.Fprintf(out, "failed:    %d\n", stats.Failed)
			return nil
		},
	}

	cmd.Flags().StringVarP(&queueName, "queue", "q", "", "queue to inspect (required)")
	_ = cmd.MarkFlagRequired("queue")
	return cmd
}
