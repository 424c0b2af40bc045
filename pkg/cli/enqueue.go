package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/relayq/relayq/pkg/queue"
)

func newEnqueueCommand(env *commandEnv) *cobra.Command {
	var (
		queueName   string
		payload     string
		delay       time.Duration
		priority    int
		maxAttempts int
	)

	cmd := &cobra.Command{
		Use:   "enqueue <job-name>",
		Short: "Add a job to a queue",
		Args:  cobra.ExactArgs(1),
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

			bound, err := queue.Bind(provider, queueName)
			if err != nil {
				return err
			}
			q, err := queue.NewQueue(bound, log, queue.QueueConfig{
				DefaultMaxAttempts: cfg.Queue.DefaultMaxAttempts,
			})
			if err != nil {
				return err
			}

			job, err := q.Add(ctx, args[0], []byte(payload), queue.AddOptions{
				Delay:       delay,
				Priority:    priority,
				MaxAttempts: maxAttempts,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "enqueued job %s on queue %s (status %s)\n", job.ID, job.Queue, job.Status)
			return nil
		},
	}

	cmd.Flags().StringVarP(&queueName, "queue", "q", "", "target queue (required)")
	cmd.Flags().StringVarP(&payload, "payload", "p", "{}", "job payload")
	cmd.Flags().DurationVar(&delay, "delay", 0, "delay before the job becomes runnable")
	cmd.Flags().IntVar(&priority, "priority", 0, "job priority (higher runs first)")
	cmd.Flags().IntVar(&maxAttempts, "max-attempts", 0, "override queue.default_max_attempts")
	_ = cmd.MarkFlagRequired("queue")
	return cmd
}
