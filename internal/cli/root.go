// Package cli implements the austin command line.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/Mortal/austin/internal/config"
	"github.com/Mortal/austin/internal/controller"
	"github.com/Mortal/austin/internal/logging"
	"github.com/Mortal/austin/pkg/version"
)

// runFunc executes a profiling run for a fully assembled configuration.
type runFunc func(cmd *cobra.Command, cfg config.Config) error

// NewRootCmd returns the austin command.
func NewRootCmd() *cobra.Command {
	return newRootCmd(afero.NewOsFs(), runProfiler)
}

func newRootCmd(fs afero.Fs, run runFunc) *cobra.Command {
	var flags flagValues

	cmd := &cobra.Command{
		Use:   "austin [flags] command [args...]",
		Short: "Frame stack sampler for CPython",
		Long: `Austin samples the frame stacks of a running CPython interpreter without
instrumenting it, and writes one line per sample:

  P<pid>;T<iid>:<tid>;<file>:<function>:<line>;... <metric>

Either run a command under the profiler or attach to a process with -p.
Flags after the command are passed to it untouched.

Defaults can be set in a YAML file (--config) and AUSTIN_* environment
variables; flags take precedence.`,
		Example: `  austin python3 app.py
  austin -si 1ms -o app.austin python3 app.py
  austin -C -x 10 -p 4242`,
		Version:       version.Version,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(fs, flags.configPath)
			if err != nil {
				return err
			}
			flags.apply(cmd.Flags(), &cfg)
			if len(args) > 0 {
				cfg.Command = args
			}

			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cmd, cfg)
		},
	}

	flags.addFlags(cmd.Flags())
	cmd.Flags().SetInterspersed(false)
	cmd.MarkFlagsMutuallyExclusive("sleepless", "memory", "full")
	_ = cmd.RegisterFlagCompletionFunc("format", func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		return []string{string(config.FormatAustin), string(config.FormatPprof)}, cobra.ShellCompDirectiveNoFileComp
	})
	cmd.SetVersionTemplate(version.String() + "\n")

	return cmd
}

func runProfiler(cmd *cobra.Command, cfg config.Config) error {
	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.LogLevel
	logCfg.Output = cmd.ErrOrStderr()
	logger := logging.New(logCfg)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	ctrl, err := controller.New(cfg, controller.Options{
		Stdin:   cmd.InOrStdin(),
		Stdout:  cmd.OutOrStdout(),
		Stderr:  cmd.ErrOrStderr(),
		Signals: sigCh,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctrl.Run(ctx); err != nil {
		return fmt.Errorf("profiling failed: %w", err)
	}
	return nil
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
