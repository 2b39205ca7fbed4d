package main

import (
	"github.com/spf13/cobra"
)

var deleteCmd = &cobra.Command{
	Use:   "delete REPORT_ID...",
	Short: "Delete stored reports of the owner",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cfgFile, newLogger(cmd.ErrOrStderr(), debug))
		if err != nil {
			return err
		}
		defer a.Close()

		return a.service.Delete(cmd.Context(), args, a.config.Owner)
	},
}

func init() {
	rootCmd.AddCommand(deleteCmd)
}
