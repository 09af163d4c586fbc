package mail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/smtp"

	"github.com/jhillyerd/enmime"
)

// smtpSendMail is stubbed in tests.
var smtpSendMail = smtp.SendMail

// OutboundEmail is a transport-ready message: the subject already carries the
// embedded reference token.
type OutboundEmail struct {
	FromAddress string
	ToAddress   string
	Subject     string
	TextBody    string
	HTMLBody    string
	Attachments []OutboundAttachment
}

type OutboundAttachment struct {
	FileName    string
	ContentType string
	Content     []byte
}

// Transport delivers an outbound email. The SMTP client is the production
// implementation; tests substitute their own.
type Transport interface {
	Send(ctx context.Context, msg OutboundEmail) error
}

type SMTPClient struct {
	host string
	port int
	user string
	pass string
}

func NewSMTPClient(host string, port int, user, pass string) *SMTPClient {
	return &SMTPClient{
		host: host,
		port: port,
		user: user,
		pass: pass,
	}
}

func (c *SMTPClient) Send(_ context.Context, msg OutboundEmail) error {
	if (c.user == "") != (c.pass == "") {
		return errors.New("incomplete SMTP credentials: user and password must both be set or both be blank")
	}

	body, err := buildMessage(msg)
	if err != nil {
		return fmt.Errorf("build outbound message: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", c.host, c.port)
	var auth smtp.Auth
	if c.user != "" {
		auth = smtp.PlainAuth("", c.user, c.pass, c.host)
	}
	return smtpSendMail(addr, auth, msg.FromAddress, []string{msg.ToAddress}, body)
}

// NoopTransport is used when no SMTP relay is configured. Sends still thread
// and persist; delivery is logged and skipped.
type NoopTransport struct{}

func (NoopTransport) Send(ctx context.Context, msg OutboundEmail) error {
	slog.InfoContext(ctx, "SMTP disabled, skipping delivery", "to", msg.ToAddress, "subject", msg.Subject)
	return nil
}

func buildMessage(msg OutboundEmail) ([]byte, error) {
	b := enmime.Builder().
		From("", msg.FromAddress).
		To("", msg.ToAddress).
		Subject(msg.Subject)
	if msg.TextBody != "" {
		b = b.Text([]byte(msg.TextBody))
	}
	if msg.HTMLBody != "" {
		b = b.HTML([]byte(msg.HTMLBody))
	}
	for _, a := range msg.Attachments {
		b = b.AddAttachment(a.Content, a.ContentType, a.FileName)
	}

	part, err := b.Build()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := part.Encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
