package inbound

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/jhillyerd/enmime"
)

const defaultMaxAttachmentBytes int64 = 5 * 1024 * 1024

// ParseRFC822 turns a raw message into a Delivery. Attachments larger than
// maxAttachmentBytes are dropped with a log line rather than failing the
// whole delivery.
func ParseRFC822(raw string, maxAttachmentBytes int64) (Delivery, error) {
	if strings.TrimSpace(raw) == "" {
		return Delivery{}, fmt.Errorf("raw RFC822 payload is empty")
	}
	if maxAttachmentBytes <= 0 {
		maxAttachmentBytes = defaultMaxAttachmentBytes
	}

	env, err := enmime.ReadEnvelope(strings.NewReader(raw))
	if err != nil {
		return Delivery{}, fmt.Errorf("parse message: %w", err)
	}

	d := Delivery{
		Sender:    strings.TrimSpace(env.GetHeader("From")),
		Subject:   strings.TrimSpace(env.GetHeader("Subject")),
		TextBody:  strings.TrimSpace(env.Text),
		HTMLBody:  strings.TrimSpace(env.HTML),
		RawRFC822: raw,
	}

	if addrs, err := env.AddressList("To"); err == nil && len(addrs) > 0 {
		d.Recipient = addrs[0].Address
	}

	for _, part := range env.Attachments {
		if len(part.Content) == 0 {
			continue
		}
		if int64(len(part.Content)) > maxAttachmentBytes {
			slog.Warn("dropping oversized attachment",
				"file_name", part.FileName,
				"size_bytes", len(part.Content),
				"limit_bytes", maxAttachmentBytes,
			)
			continue
		}
		d.Attachments = append(d.Attachments, Attachment{
			FileName:    part.FileName,
			ContentType: part.ContentType,
			Content:     part.Content,
		})
	}

	return d, nil
}
