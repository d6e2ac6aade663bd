package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"fragility/internal/config"
)

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var flags analysisFlags
	var settle time.Duration
	var existing bool

	cmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: "Analyse recordings as they are dropped into a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if settle < minSettle {
				return fmt.Errorf("--settle must be at least %s, got %s", minSettle, settle)
			}
			dir, err := config.ExpandPath(args[0])
			if err != nil {
				return err
			}
			if info, err := os.Stat(dir); err != nil {
				return fmt.Errorf("inspect watch dir: %w", err)
			} else if !info.IsDir() {
				return fmt.Errorf("%s is not a directory", dir)
			}
			req, err := ctx.prepareAnalysis(cmd, &flags)
			if err != nil {
				return err
			}
			runner, _, err := ctx.newRunner(cmd, flags.overrides())
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger(cmd)
			if err != nil {
				return err
			}

			w := newInboxWatcher(dir, settle, logger, func(_ context.Context, path string) error {
				one := req
				one.path = path
				summary, err := ctx.analyze(cmd, runner, one)
				if err != nil {
					return err
				}
				printRunSummary(cmd.OutOrStdout(), summary)
				return nil
			})
			w.existing = existing
			return w.Run(cmd.Context())
		},
	}
	flags.register(cmd)
	cmd.Flags().DurationVar(&settle, "settle", 2*time.Second, "Quiet period before a new file is analysed")
	cmd.Flags().BoolVar(&existing, "existing", false, "Also analyse recordings already in the directory")
	return cmd
}
