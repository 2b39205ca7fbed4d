package main

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Print the stored reports of the owner as JSON",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cfgFile, newLogger(cmd.ErrOrStderr(), debug))
		if err != nil {
			return err
		}
		defer a.Close()

		reports, err := a.store.List(cmd.Context(), a.config.Owner)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(reports)
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}
