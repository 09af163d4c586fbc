// Package mail is the outbound send boundary: it threads the message, embeds
// its reference token into the transport subject, and hands it to the mail
// transport.
package mail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	netmail "net/mail"
	"path"
	"path/filepath"
	"strings"

	"github.com/znz-systems/threadline/internal/blob"
	"github.com/znz-systems/threadline/internal/metrics"
	"github.com/znz-systems/threadline/internal/models"
	"github.com/znz-systems/threadline/internal/store"
	"github.com/znz-systems/threadline/internal/thread"
	"github.com/znz-systems/threadline/internal/token"
)

var (
	ErrFromRequired = errors.New("from address is required")
	ErrToRequired   = errors.New("to address is required")
)

// SendRequest describes an outbound send. FromAddress is explicit: the
// caller decides who the message is from. ParentID comes from a reply
// action; AccountID is required when the message starts a new thread and is
// ignored when a parent supplies the context. AttachmentKeys name blob
// objects uploaded ahead of the send.
type SendRequest struct {
	AccountID      int64
	FromAddress    string
	ToAddress      string
	Subject        string
	TextBody       string
	HTMLBody       string
	ParentID       *int64
	AttachmentKeys []string
}

type Service struct {
	resolver  *thread.Resolver
	emails    store.EmailStore
	blobs     blob.Store
	transport Transport
}

func NewService(resolver *thread.Resolver, emails store.EmailStore, blobs blob.Store, transport Transport) *Service {
	return &Service{
		resolver:  resolver,
		emails:    emails,
		blobs:     blobs,
		transport: transport,
	}
}

// BuildSubject produces the transport subject for an outbound email by
// embedding its reference token. Prior tokens in the subject are left alone;
// the receiving side matches the last one.
func BuildSubject(subject, referenceToken string) string {
	return token.Embed(strings.TrimSpace(subject), referenceToken)
}

// Send threads and persists the outbound email, then delivers it. The
// persisted record is returned even when transport delivery fails, so the
// caller can re-send without creating a second thread entry.
func (s *Service) Send(ctx context.Context, req SendRequest) (*models.Email, error) {
	req.FromAddress = strings.TrimSpace(req.FromAddress)
	if req.FromAddress == "" {
		return nil, ErrFromRequired
	}
	fromAddr, err := netmail.ParseAddress(req.FromAddress)
	if err != nil {
		return nil, fmt.Errorf("invalid from address: %w", err)
	}
	req.ToAddress = strings.TrimSpace(req.ToAddress)
	if req.ToAddress == "" {
		return nil, ErrToRequired
	}
	toAddr, err := netmail.ParseAddress(req.ToAddress)
	if err != nil {
		return nil, fmt.Errorf("invalid to address: %w", err)
	}

	attachments, err := s.loadAttachments(ctx, req.AttachmentKeys)
	if err != nil {
		return nil, err
	}

	email, err := s.resolver.Resolve(ctx, thread.Descriptor{
		Direction:     models.EmailOutbound,
		FromAddress:   strings.ToLower(fromAddr.Address),
		ToAddress:     strings.ToLower(toAddr.Address),
		Subject:       strings.TrimSpace(req.Subject),
		TextBody:      strings.TrimSpace(req.TextBody),
		HTMLBody:      strings.TrimSpace(req.HTMLBody),
		HasAttachment: len(attachments) > 0,
		ParentID:      req.ParentID,
		AccountID:     req.AccountID,
	})
	if err != nil {
		return nil, err
	}

	// The email is persisted at this point. Metadata failures are logged and
	// counted rather than surfaced: an error alongside a non-nil email means
	// transport failure, and only that path should prompt a re-send.
	for _, key := range req.AttachmentKeys {
		if _, err := s.emails.CreateEmailAttachment(ctx, models.EmailAttachmentCreateParams{
			EmailID:     email.ID,
			FileName:    path.Base(key),
			ContentType: contentTypeForKey(key),
			SizeBytes:   attachmentSize(attachments, path.Base(key)),
			BlobKey:     key,
		}); err != nil {
			metrics.AttachmentStoreFailures.Inc()
			slog.ErrorContext(ctx, "failed to store attachment metadata",
				"email_id", email.ID,
				"blob_key", key,
				"error", err,
			)
		}
	}

	msg := OutboundEmail{
		FromAddress: email.FromAddress,
		ToAddress:   email.ToAddress,
		Subject:     BuildSubject(email.Subject, email.ReferenceToken),
		TextBody:    email.TextBody,
		HTMLBody:    email.HTMLBody,
		Attachments: attachments,
	}
	if err := s.transport.Send(ctx, msg); err != nil {
		return email, fmt.Errorf("send email %d: %w", email.ID, err)
	}

	slog.InfoContext(ctx, "outbound email sent",
		"email_id", email.ID,
		"thread_level", email.ThreadLevel,
		"to", email.ToAddress,
	)
	return email, nil
}

func (s *Service) loadAttachments(ctx context.Context, keys []string) ([]OutboundAttachment, error) {
	var out []OutboundAttachment
	for _, key := range keys {
		content, err := s.blobs.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("load attachment %q: %w", key, err)
		}
		out = append(out, OutboundAttachment{
			FileName:    path.Base(key),
			ContentType: contentTypeForKey(key),
			Content:     content,
		})
	}
	return out, nil
}

func contentTypeForKey(key string) string {
	if ct := mime.TypeByExtension(filepath.Ext(key)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func attachmentSize(attachments []OutboundAttachment, fileName string) int64 {
	for _, a := range attachments {
		if a.FileName == fileName {
			return int64(len(a.Content))
		}
	}
	return 0
}
