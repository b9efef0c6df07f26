// Command gridctl validates table configs and runs grid plans from the
// command line.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
)

var version = "0.1.0"

type globals struct {
	configPath string
	logLevel   string
	logger     *slog.Logger
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:   "gridctl",
		Short: "Plan, list and export configured data grids",
		Long: `gridctl loads gridengine.yaml, the entity catalog and the table configs it
names, and runs grid requests against the configured PostgreSQL database.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			var lvl slog.Level
			if err := lvl.UnmarshalText([]byte(g.logLevel)); err != nil {
				return fmt.Errorf("--log-level: %w", err)
			}
			g.logger = slog.New(tint.NewHandler(cmd.ErrOrStderr(), &tint.Options{
				Level:      lvl,
				TimeFormat: time.Kitchen,
				NoColor:    runtime.GOOS == "windows",
			}))
			slog.SetDefault(g.logger)
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", "gridengine.yaml", "application config file")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "warn", "log level (debug|info|warn|error)")

	root.AddCommand(
		newValidateCmd(g),
		newPlanCmd(g),
		newListCmd(g),
		newDistinctCmd(g),
		newExportCmd(g),
	)
	return root
}

func main() {
	ctx := context.Background()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
