package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/firefart/dmarcingest/internal/dmarc"
	"github.com/firefart/dmarcingest/internal/imap"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
)

var (
	fetchDaemon bool
	fetchKeep   bool
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Store reports received in an IMAP mailbox",
	Long: `Fetch report mails from the configured IMAP folder. The attachments of
each mail are stored as one batch. Processed mails are deleted unless
--keep is given; mails that could not be stored because of a database
error stay in the mailbox for the next run.

With --daemon the mailbox is polled on the configured cron schedule and
metrics are served on metricsListen.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cfgFile, newLogger(cmd.ErrOrStderr(), debug))
		if err != nil {
			return err
		}
		defer a.Close()

		if a.config.ImapConfig.Host == "" {
			return fmt.Errorf("no imap host configured")
		}
		fetcher := imap.NewFetcher(a.config.ImapConfig, a.config.BatchSize, fetchKeep, a.logger)

		if !fetchDaemon {
			return fetcher.Run(cmd.Context(), a.handleMail)
		}
		return a.runScheduled(cmd.Context(), func(ctx context.Context) error {
			return fetcher.Run(ctx, a.handleMail)
		})
	},
}

func init() {
	fetchCmd.Flags().BoolVar(&fetchDaemon, "daemon", false, "keep running and fetch on the configured schedule")
	fetchCmd.Flags().BoolVar(&fetchKeep, "keep", false, "do not delete processed mails")
	rootCmd.AddCommand(fetchCmd)
}

func (a *app) handleMail(ctx context.Context, msg imap.Message) error {
	if len(msg.Attachments) == 0 {
		a.logger.Info("mail does not seem to be a valid dmarc report", "subject", msg.Subject)
		return nil
	}

	files := make([]namedFile, 0, len(msg.Attachments))
	for _, att := range msg.Attachments {
		files = append(files, namedFile{name: att.Filename, content: att.Content})
	}

	reports, err := a.storeFiles(ctx, files)
	if err != nil {
		var perr *dmarc.PersistenceError
		if errors.As(err, &perr) {
			return fmt.Errorf("%w: %w", imap.ErrRetry, err)
		}
		return err
	}
	a.logger.Info("stored reports from mail", "subject", msg.Subject, "reports", len(reports))
	return nil
}

// runScheduled runs job once right away and then on the configured
// schedule until ctx is done. Overlapping runs are skipped.
func (a *app) runScheduled(ctx context.Context, job func(context.Context) error) error {
	if _, err := cron.ParseStandard(a.config.Schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", a.config.Schedule, err)
	}

	run := func() {
		a.logger.Info("starting new run")
		if err := job(ctx); err != nil {
			// only log the error here so we keep the loop running
			a.logger.Error("run failed", "error", err)
			return
		}
		a.logger.Info("run finished")
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(a.config.Schedule, run); err != nil {
		return fmt.Errorf("failed to schedule fetch: %w", err)
	}

	a.serveMetrics(ctx)

	// used to start immediately, otherwise the first run happens after the
	// first period
	run()

	c.Start()
	a.logger.Info("scheduler started", "schedule", a.config.Schedule)

	<-ctx.Done()
	a.logger.Info("context done")
	<-c.Stop().Done()
	return nil
}
