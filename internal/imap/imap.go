package imap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/firefart/dmarcingest/internal/config"
	"github.com/firefart/dmarcingest/internal/mail"
	"github.com/hashicorp/go-multierror"
)

// ErrRetry marks a handler failure that should leave the message in the
// mailbox for the next run.
var ErrRetry = errors.New("retry later")

// Message is a fetched mail together with its report attachments.
type Message struct {
	UID         uint32
	Subject     string
	Attachments []mail.Attachment
}

// Handler processes one message. Messages are flagged as deleted after the
// handler returns unless the error wraps ErrRetry.
type Handler func(ctx context.Context, msg Message) error

type Fetcher struct {
	conf      config.IMAPConfig
	batchSize int
	keep      bool
	logger    *slog.Logger
}

// NewFetcher creates a Fetcher. With keep set, no message is ever deleted
// and only a single batch is processed per run.
func NewFetcher(conf config.IMAPConfig, batchSize int, keep bool, logger *slog.Logger) *Fetcher {
	if batchSize <= 0 {
		batchSize = 30
	}
	return &Fetcher{
		conf:      conf,
		batchSize: batchSize,
		keep:      keep,
		logger:    logger,
	}
}

func Connect(conf config.IMAPConfig, logger imap.Logger) (*client.Client, error) {
	tlsConfig := tls.Config{} // nolint: gosec
	if conf.IgnoreCert {
		tlsConfig.InsecureSkipVerify = true // nolint:gosec
	}
	if conf.SSL {
		c, err := client.DialTLS(conf.Host, &tlsConfig)
		if err != nil {
			return nil, err
		}
		c.Timeout = conf.Timeout.Duration
		c.ErrorLog = logger
		return c, nil
	}
	c, err := client.Dial(conf.Host)
	if err != nil {
		return nil, err
	}
	c.ErrorLog = logger
	c.Timeout = conf.Timeout.Duration
	support, err := c.SupportStartTLS()
	if err != nil {
		return nil, err
	}
	if support {
		if err := c.StartTLS(&tlsConfig); err != nil {
			return nil, err
		}
	}

	return c, nil
}

func HasImapFolder(c *client.Client, folderName string) (bool, error) {
	mailboxes := make(chan *imap.MailboxInfo, 10)
	done := make(chan error, 1)
	go func() {
		done <- c.List("", "*", mailboxes)
	}()

	hasFolder := false
	// drain the channel so List can finish
	for m := range mailboxes {
		if m.Name == folderName {
			hasFolder = true
		}
	}

	if err := <-done; err != nil {
		return false, err
	}

	return hasFolder, nil
}

func MarkMessageAsDeleted(c *client.Client, msgUID uint32) error {
	seq := new(imap.SeqSet)
	seq.AddNum(msgUID)
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	flags := []interface{}{imap.DeletedFlag}
	if err := c.UidStore(seq, item, flags, nil); err != nil {
		return err
	}
	return nil
}

// Run processes the folder in batches as some IMAP servers have pretty
// short timeouts and the imap library does not handle reconnects.
// Failed messages do not stop the run; their errors are returned together
// once the folder is done.
func (f *Fetcher) Run(ctx context.Context, handle Handler) error {
	result := &multierror.Error{}
	hasMore := true
	for hasMore {
		f.logger.Debug("starting new imap loop", "batch_size", f.batchSize)
		if err := ctx.Err(); err != nil {
			return err
		}
		var err error
		hasMore, err = f.fetchBatch(ctx, handle, result)
		if err != nil {
			return err
		}
	}
	return result.ErrorOrNil()
}

func (f *Fetcher) fetchBatch(ctx context.Context, handle Handler, failed *multierror.Error) (bool, error) {
	c, err := Connect(f.conf, slog.NewLogLogger(f.logger.Handler(), slog.LevelError))
	if err != nil {
		return false, fmt.Errorf("could not connect to %s: %w", f.conf.Host, err)
	}
	f.logger.Debug("connected to imap server")

	if err := c.Login(f.conf.User, f.conf.Pass); err != nil {
		return false, fmt.Errorf("could not login: %w", err)
	}
	f.logger.Debug("successful login")

	defer func() {
		if err := c.Logout(); err != nil {
			f.logger.Error("error on logout", "error", err)
		}
	}()

	hasFolder, err := HasImapFolder(c, f.conf.Folder)
	if err != nil {
		return false, fmt.Errorf("could not check if folder %s exists: %w", f.conf.Folder, err)
	}
	if !hasFolder {
		return false, fmt.Errorf("imap folder %s not found in account", f.conf.Folder)
	}

	mbox, err := c.Select(f.conf.Folder, false)
	if err != nil {
		return false, fmt.Errorf("could not select folder %s: %w", f.conf.Folder, err)
	}
	f.logger.Info("opened mailbox", "name", mbox.Name, "messages", mbox.Messages, "unseen", mbox.Unseen)

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.DeletedFlag}
	ids, err := c.Search(criteria)
	if err != nil {
		return false, fmt.Errorf("could not search for mails: %w", err)
	}
	f.logger.Debug("found mails without the deleted flag", "count", len(ids))
	if len(ids) == 0 {
		return false, nil
	}

	seqset := new(imap.SeqSet)
	hasMore := len(ids) > f.batchSize
	if hasMore {
		ids = ids[:f.batchSize]
	}
	seqset.AddNum(ids...)
	f.logger.Debug("fetching messages", "seqset", seqset.String())

	messages := make(chan *imap.Message)
	done := make(chan error, 1)
	section := &imap.BodySectionName{}
	items := []imap.FetchItem{
		section.FetchItem(),
		imap.FetchEnvelope,
		imap.FetchFlags,
		imap.FetchUid,
	}
	go func() {
		done <- c.Fetch(seqset, items, messages)
	}()

	toDelete := make(map[uint32]string)
	kept := 0
	for msg := range messages {
		subject := ""
		if msg.Envelope != nil {
			subject = msg.Envelope.Subject
		}
		f.logger.Info("processing email", "subject", subject, "uid", msg.Uid)

		if err := f.process(ctx, msg, subject, handle); err != nil {
			if errors.Is(err, ErrRetry) {
				f.logger.Warn("keeping message for the next run", "uid", msg.Uid, "error", err)
				kept++
				continue
			}
			f.logger.Error("could not process message", "uid", msg.Uid, "error", err)
			failed.Errors = append(failed.Errors, fmt.Errorf("message %d (%s): %w", msg.Uid, subject, err))
		}
		// always delete a processed message to clean up junk behind
		toDelete[msg.Uid] = subject
	}

	f.logger.Debug("waiting for fetch to finish")
	if err := <-done; err != nil {
		return false, fmt.Errorf("error on fetch: %w", err)
	}

	if f.keep {
		f.logger.Info("processed emails", "count", len(ids), "deleted", 0)
		return false, nil
	}

	for uid, subject := range toDelete {
		f.logger.Info("marking message as deleted", "subject", subject, "uid", uid)
		if err := MarkMessageAsDeleted(c, uid); err != nil {
			f.logger.Error("could not set delete flag", "uid", uid, "error", err)
			continue
		}
	}

	f.logger.Info("running expunge command")
	if err := c.Expunge(nil); err != nil {
		return false, fmt.Errorf("could not expunge: %w", err)
	}

	f.logger.Info("processed emails", "count", len(ids), "deleted", len(toDelete))
	// kept messages would be fetched again in the next batch
	return hasMore && kept == 0, nil
}

func (f *Fetcher) process(ctx context.Context, msg *imap.Message, subject string, handle Handler) error {
	r := msg.GetBody(&imap.BodySectionName{})
	if r == nil {
		return fmt.Errorf("server didn't return message body")
	}
	attachments, err := mail.Extract(ctx, r, f.logger)
	if err != nil {
		return err
	}
	return handle(ctx, Message{
		UID:         msg.Uid,
		Subject:     subject,
		Attachments: attachments,
	})
}
