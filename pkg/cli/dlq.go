package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/relayq/relayq/pkg/config"
	redisprovider "github.com/relayq/relayq/pkg/queue/redis"
)

func newDLQCommand(env *commandEnv) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect and replay dead-lettered jobs (redis provider only)",
	}
	cmd.AddCommand(newDLQListCommand(env))
	cmd.AddCommand(newDLQReplayCommand(env))
	return cmd
}

func newDLQListCommand(env *commandEnv) *cobra.Command {
	var (
		queueName string
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent dead-lettered jobs for a queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			provider, cleanup, err := connectRedis(ctx, env)
			if err != nil {
				return err
			}
			defer cleanup()

			entries, err := provider.ListDLQ(ctx, queueName, limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no dead-lettered jobs")
				return nil
			}
			for _, entry := range entries {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  job=%s name=%s attempts=%d failed_at=%s reason=%q\n",
					entry.ID, entry.Job.ID, entry.Job.Name, entry.Job.Attempts,
					entry.FailedAt.Format("2006-01-02T15:04:05Z07:00"), entry.Reason)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&queueName, "queue", "q", "", "original queue (required)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum entries to list")
	_ = cmd.MarkFlagRequired("queue")
	return cmd
}

func newDLQReplayCommand(env *commandEnv) *cobra.Command {
	var queueName string

	cmd := &cobra.Command{
		Use:   "replay <entry-id>...",
		Short: "Re-enqueue dead-lettered jobs onto their original queue",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			provider, cleanup, err := connectRedis(ctx, env)
			if err != nil {
				return err
			}
			defer cleanup()

			replayed, err := provider.ReplayDLQ(ctx, queueName, args)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "replayed %d of %d jobs\n", replayed, len(args))
			return nil
		},
	}

	cmd.Flags().StringVarP(&queueName, "queue", "q", "", "original queue (required)")
	_ = cmd.MarkFlagRequired("queue")
	return cmd
}

// connectRedis builds the redis provider regardless of provider.type; the
// DLQ surface is redis-specific.
func connectRedis(ctx context.Context, env *commandEnv) (*redisprovider.Provider, func(), error) {
	cfg, log, err := env.load()
	if err != nil {
		return nil, nil, err
	}
	if cfg.Provider.Type != config.ProviderRedis {
		return nil, nil, fmt.Errorf("dlq commands require provider.type %s (configured: %s)",
			config.ProviderRedis, cfg.Provider.Type)
	}

	provider, err := redisprovider.New(redisprovider.Config{
		URL:              cfg.Provider.Redis.URL,
		Prefix:           cfg.Provider.Redis.Prefix,
		OperationTimeout: cfg.Provider.Redis.OperationTimeout,
		LeaseTTL:         cfg.Provider.Redis.LeaseTTL,
		RetryDelay:       cfg.Provider.Redis.RetryDelay,
		MaxRetryDelay:    cfg.Provider.Redis.MaxRetryDelay,
		DLQSuffix:        cfg.Provider.Redis.DLQSuffix,
	}, log)
	if err != nil {
		return nil, nil, err
	}
	if err := provider.Connect(ctx); err != nil {
		return nil, nil, err
	}
	cleanup := func() { _ = provider.Disconnect(context.Background()) }
	return provider, cleanup, nil
}
