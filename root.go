package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	cfgFile   string
	debug     bool
	ownerFlag string
)

var rootCmd = &cobra.Command{
	Use:   "dmarcingest",
	Short: "Validate, transform and store DMARC aggregate reports",
	Long: `dmarcingest reads DMARC aggregate (RUA) reports, validates them and
turns them into a canonical JSON shape.

Reports can be analyzed on the fly, stored in a MySQL or SQLite database,
fetched from an IMAP mailbox or picked up from a spool directory.`,
	SilenceUsage: true,
}

// Execute runs the root command until it finishes or an interrupt arrives.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file to use (.json, .yaml or .yml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "print debug output")
	rootCmd.PersistentFlags().StringVar(&ownerFlag, "owner", "", "owner of stored reports, overrides the config file")
}
