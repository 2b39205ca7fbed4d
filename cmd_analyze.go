package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/firefart/dmarcingest/internal/dmarc"
	"github.com/firefart/dmarcingest/internal/metrics"
	"github.com/spf13/cobra"
)

var analyzeStrict bool

var analyzeCmd = &cobra.Command{
	Use:   "analyze FILE...",
	Short: "Transform reports to JSON without storing them",
	Long: `Transform one or more reports (.xml, .xml.gz or .zip) into the canonical
JSON shape and print them. Without --strict only the structure of a report
is checked; with --strict every field is validated as it would be on store.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		files, err := readFiles(args)
		if err != nil {
			return err
		}
		svc := dmarc.NewService(nil,
			dmarc.WithRecorder(metrics.New()),
			dmarc.WithLogger(newLogger(cmd.ErrOrStderr(), debug)),
		)
		return analyzeFiles(cmd.OutOrStdout(), cmd.ErrOrStderr(), svc, files, analyzeStrict)
	},
}

func init() {
	analyzeCmd.Flags().BoolVar(&analyzeStrict, "strict", false, "validate every field before transforming")
	rootCmd.AddCommand(analyzeCmd)
}

// analyzeFiles prints the reports that could be transformed and reports
// every failure to errOut. The error is non-nil if any file failed.
func analyzeFiles(out, errOut io.Writer, svc *dmarc.Service, files []namedFile, strict bool) error {
	transform := svc.Analyze
	if strict {
		transform = svc.AnalyzeStrict
	}

	reports := make([]*dmarc.Report, 0, len(files))
	failed := 0
	for _, f := range files {
		_, payload, err := dmarc.ReadFile(f.name, f.content)
		if err == nil {
			var report *dmarc.Report
			report, err = transform(payload)
			if err == nil {
				reports = append(reports, report)
				continue
			}
		}
		printError(errOut, f.name, err)
		failed++
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(reports); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d reports failed", failed, len(files))
	}
	return nil
}
