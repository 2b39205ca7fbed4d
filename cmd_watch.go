package main

import (
	"context"
	"time"

	"github.com/firefart/dmarcingest/internal/spool"
	"github.com/spf13/cobra"
)

var watchDebounce time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Store reports dropped into the spool directory",
	Long: `Watch the configured spool directory. Every file is stored as its own
batch and afterwards moved to processed/ or failed/. Metrics are served
on metricsListen while watching.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cfgFile, newLogger(cmd.ErrOrStderr(), debug))
		if err != nil {
			return err
		}
		defer a.Close()

		w, err := spool.New(a.config.SpoolDir, watchDebounce, a.logger)
		if err != nil {
			return err
		}
		a.serveMetrics(cmd.Context())
		return w.Run(cmd.Context(), a.handleSpoolFile)
	},
}

func init() {
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", 500*time.Millisecond, "time a file has to stay unchanged before it is processed")
	rootCmd.AddCommand(watchCmd)
}

func (a *app) handleSpoolFile(ctx context.Context, name string, content []byte) error {
	_, err := a.storeFiles(ctx, []namedFile{{name: name, content: content}})
	return err
}
