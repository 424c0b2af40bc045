package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newHealthCommand(env *commandEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check provider connectivity",
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

			status, err := provider.Health(ctx)
			if err != nil {
				return err
			}
			if !status.Connected {
				return fmt.Errorf("provider %s is unhealthy: %s", provider.Name(), status.Error)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "provider %s is healthy (latency %s)\n", provider.Name(), status.Latency)
			return nil
		},
	}
}
