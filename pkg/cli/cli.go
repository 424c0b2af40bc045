// Package cli assembles the relayq command tree: work, enqueue, stats,
// health, dlq, and version subcommands over a config-selected provider.
package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/relayq/relayq/pkg/config"
	"github.com/relayq/relayq/pkg/observability/logger"
	"github.com/relayq/relayq/pkg/queue"
	"github.com/relayq/relayq/pkg/queue/factory"
	"github.com/relayq/relayq/pkg/version"
)

// Options customizes the command tree for an embedding application.
type Options struct {
	Name        string
	Description string
	ConfigPath  string
	EnvPrefix   string

	// Handlers maps job names to handlers for the work command. Jobs with
	// an unregistered name fail and follow the provider's retry path.
	Handlers map[string]queue.Handler

	// CustomCommands are appended to the root command.
	CustomCommands []*cobra.Command
}

// NewRootCommand builds the relayq CLI.
func NewRootCommand(opts Options) *cobra.Command {
	if strings.TrimSpace(opts.Name) == "" {
		opts.Name = "relayq"
	}
	if strings.TrimSpace(opts.Description) == "" {
		opts.Description = "provider-agnostic job queue"
	}
	if strings.TrimSpace(opts.EnvPrefix) == "" {
		opts.EnvPrefix = "RELAYQ"
	}

	rootCmd := &cobra.Command{
		Use:           opts.Name,
		Short:         opts.Description,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var cfgPath string
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config-file", "c", opts.ConfigPath, "config file path")

	env := &commandEnv{opts: opts, configPath: &cfgPath}

	rootCmd.AddCommand(newWorkCommand(env))
	rootCmd.AddCommand(newEnqueueCommand(env))
	rootCmd.AddCommand(newStatsCommand(env))
	rootCmd.AddCommand(newHealthCommand(env))
	rootCmd.AddCommand(newDLQCommand(env))
	rootCmd.AddCommand(newVersionCommand(env))
	rootCmd.AddCommand(opts.CustomCommands...)

	return rootCmd
}

// Execute runs the CLI and exits non-zero on error.
func Execute(opts Options) {
	if err := NewRootCommand(opts).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

type commandEnv struct {
	opts       Options
	configPath *string
}

func (e *commandEnv) load() (*config.Config, logger.Logger, error) {
	cfg, err := config.NewViperLoader(*e.configPath, e.opts.EnvPrefix).Load()
	if err != nil {
		return nil, nil, err
	}

	level, err := logger.ParseLogLevel(cfg.Logging.Level)
	if err != nil {
		return nil, nil, err
	}
	format, err := logger.ParseLogFormat(cfg.Logging.Format)
	if err != nil {
		return nil, nil, err
	}
	zl, err := logger.NewZapLogger(logger.Config{Level: level, Format: format})
	if err != nil {
		return nil, nil, fmt.Errorf("build logger failed: %w", err)
	}
	log := logger.WrapAsync(zl, logger.AsyncConfig{
		Enabled:   cfg.Logging.Async,
		QueueSize: cfg.Logging.AsyncQueueSize,
	})
	return cfg, log.With("service", cfg.Service.Name), nil
}

// connectProvider builds and connects the configured provider. The caller
// owns Disconnect.
func (e *commandEnv) connectProvider(ctx context.Context, cfg *config.Config, log logger.Logger) (queue.Provider, error) {
	provider, err := factory.NewProvider(cfg.Provider, log)
	if err != nil {
		return nil, err
	}
	if err := provider.Connect(ctx); err != nil {
		return nil, err
	}
	return provider, nil
}

func newVersionCommand(env *commandEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build version metadata",
		RunE: func(cmd *cobra.Command, args []string) error {
			info := version.Current(env.opts.Name)
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s (commit %s, built %s)\n",
				info.Service, info.Version, info.Commit, info.BuildTime)
			return nil
		},
	}
}
