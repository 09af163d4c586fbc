// Package inbound accepts email deliveries, threads them through the
// resolver, and persists attachment content.
package inbound

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/znz-systems/threadline/internal/blob"
	"github.com/znz-systems/threadline/internal/metrics"
	"github.com/znz-systems/threadline/internal/models"
	"github.com/znz-systems/threadline/internal/store"
	"github.com/znz-systems/threadline/internal/thread"
)

var (
	ErrSenderRequired    = errors.New("sender address is required")
	ErrRecipientRequired = errors.New("recipient address is required")
)

// Delivery is one inbound message as handed over by the intake surfaces
// (HTTP API or SMTP listener).
type Delivery struct {
	Sender      string
	Recipient   string
	Subject     string
	TextBody    string
	HTMLBody    string
	RawRFC822   string
	Attachments []Attachment
}

type Attachment struct {
	FileName    string
	ContentType string
	Content     []byte
}

// HasBinaryContent reports whether the delivery carries any non-empty binary
// part. This is what sets the persisted email's has_attachment flag.
func (d Delivery) HasBinaryContent() bool {
	for _, a := range d.Attachments {
		if len(a.Content) > 0 {
			return true
		}
	}
	return false
}

type Service struct {
	resolver *thread.Resolver
	emails   store.EmailStore
	blobs    blob.Store
}

func NewService(resolver *thread.Resolver, emails store.EmailStore, blobs blob.Store) *Service {
	return &Service{
		resolver: resolver,
		emails:   emails,
		blobs:    blobs,
	}
}

// Ingest validates the delivery, places it in its thread, and stores its
// attachments. The email is persisted fully linked or not at all. Attachment
// writes happen after the email exists and do not fail the ingest: surfacing
// an error here would requeue the job and re-resolve the already-persisted
// email into a duplicate, so a failed write is logged and counted instead.
func (s *Service) Ingest(ctx context.Context, d Delivery) (*models.Email, error) {
	d.Sender = strings.TrimSpace(d.Sender)
	if d.Sender == "" {
		return nil, ErrSenderRequired
	}
	senderAddr, err := mail.ParseAddress(d.Sender)
	if err != nil {
		return nil, fmt.Errorf("invalid sender address: %w", err)
	}

	d.Recipient = strings.TrimSpace(d.Recipient)
	if d.Recipient == "" {
		return nil, ErrRecipientRequired
	}
	recipientAddr, err := mail.ParseAddress(d.Recipient)
	if err != nil {
		return nil, fmt.Errorf("invalid recipient address: %w", err)
	}

	email, err := s.resolver.Resolve(ctx, thread.Descriptor{
		Direction:     models.EmailInbound,
		FromAddress:   strings.ToLower(senderAddr.Address),
		ToAddress:     strings.ToLower(recipientAddr.Address),
		Subject:       strings.TrimSpace(d.Subject),
		TextBody:      strings.TrimSpace(d.TextBody),
		HTMLBody:      strings.TrimSpace(d.HTMLBody),
		HasAttachment: d.HasBinaryContent(),
	})
	if err != nil {
		return nil, err
	}

	for _, attachment := range d.Attachments {
		if len(attachment.Content) == 0 {
			continue
		}
		key := blob.AttachmentKey(email.ID, attachment.FileName)
		if err := s.blobs.Put(ctx, key, attachment.ContentType, attachment.Content); err != nil {
			metrics.AttachmentStoreFailures.Inc()
			slog.ErrorContext(ctx, "failed to store attachment content",
				"email_id", email.ID,
				"file_name", attachment.FileName,
				"error", err,
			)
			continue
		}
		if _, err := s.emails.CreateEmailAttachment(ctx, models.EmailAttachmentCreateParams{
			EmailID:     email.ID,
			FileName:    attachment.FileName,
			ContentType: attachment.ContentType,
			SizeBytes:   int64(len(attachment.Content)),
			BlobKey:     key,
		}); err != nil {
			metrics.AttachmentStoreFailures.Inc()
			slog.ErrorContext(ctx, "failed to store attachment metadata",
				"email_id", email.ID,
				"file_name", attachment.FileName,
				"error", err,
			)
		}
	}

	slog.InfoContext(ctx, "inbound email threaded",
		"email_id", email.ID,
		"thread_level", email.ThreadLevel,
		"account_id", email.AccountID,
		"attachments", len(d.Attachments),
	)
	return email, nil
}
