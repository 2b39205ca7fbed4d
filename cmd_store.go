package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var storeCmd = &cobra.Command{
	Use:   "store FILE...",
	Short: "Validate reports and store them as one batch",
	Long: `Validate every given report and store them in the database. The files
form a single batch: if any report fails validation nothing is stored.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger(cmd.ErrOrStderr(), debug)
		a, err := newApp(cfgFile, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		files, err := readFiles(args)
		if err != nil {
			return err
		}
		reports, err := a.storeFiles(cmd.Context(), files)
		if err != nil {
			printError(cmd.ErrOrStderr(), "store", err)
			return fmt.Errorf("batch rejected, nothing was stored")
		}
		for _, r := range reports {
			fmt.Fprintf(cmd.OutOrStdout(), "stored report %s for %s (%d records)\n", r.ReportID, r.Domain, len(r.Records))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(storeCmd)
}
