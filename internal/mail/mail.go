package mail

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/emersion/go-message/mail"
	"github.com/firefart/dmarcingest/internal/helper"

	// needed to handle other charsets too
	_ "github.com/emersion/go-message/charset"
)

// Attachment is a file carried by a report mail.
type Attachment struct {
	Filename string
	Content  []byte
}

// Extract returns every report attachment of the mail read from r. Inline
// parts are only returned when they carry a supported archive, as some
// reporters inline the attachment instead of attaching it.
func Extract(ctx context.Context, r io.Reader, logger *slog.Logger) ([]Attachment, error) {
	m, err := mail.CreateReader(r)
	if err != nil {
		return nil, fmt.Errorf("could not create reader: %w", err)
	}
	defer m.Close()

	logger.Debug("mail headers",
		"date", m.Header.Get("Date"),
		"from", m.Header.Get("From"),
		"subject", m.Header.Get("Subject"),
	)

	var attachments []Attachment
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		p, err := m.NextPart()
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return nil, fmt.Errorf("could not get next part: %w", err)
		}

		switch h := p.Header.(type) {
		case *mail.InlineHeader:
			b, err := io.ReadAll(p.Body)
			if err != nil {
				return nil, fmt.Errorf("could not read inline body: %w", err)
			}
			if !helper.IsSupportedArchive(b) {
				continue
			}
			_, params, err := h.ContentDisposition()
			if err != nil {
				return nil, fmt.Errorf("could not get content disposition: %w", err)
			}
			filename, ok := params["filename"]
			if !ok {
				return nil, fmt.Errorf("could not determine filename of inline attachment")
			}
			logger.Info("found inline attachment", "filename", filename)
			attachments = append(attachments, Attachment{Filename: filename, Content: b})
		case *mail.AttachmentHeader:
			filename, err := h.Filename()
			if err != nil {
				return nil, fmt.Errorf("could not get attachment filename: %w", err)
			}
			b, err := io.ReadAll(p.Body)
			if err != nil {
				return nil, fmt.Errorf("could not read attachment: %w", err)
			}
			logger.Info("found attachment", "filename", filename)
			attachments = append(attachments, Attachment{Filename: filename, Content: b})
		default:
			logger.Debug("skipping part with unknown header type")
		}
	}
	return attachments, nil
}
