package inbound

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/emersion/go-smtp"
	"github.com/znz-systems/threadline/internal/store"
)

const maxInboundMessageBytes = 10 * 1024 * 1024

// Server is the SMTP intake. It accepts deliveries and enqueues ingest jobs;
// threading happens asynchronously in the worker so a slow database never
// stalls the SMTP conversation.
type Server struct {
	smtpServer     *smtp.Server
	jobs           store.IngestJobStore
	jobMaxAttempts int
}

func NewServer(addr, domain string, jobs store.IngestJobStore, jobMaxAttempts int) *Server {
	s := &Server{
		jobs:           jobs,
		jobMaxAttempts: jobMaxAttempts,
	}

	smtpSrv := smtp.NewServer(s)
	smtpSrv.Addr = addr
	smtpSrv.Domain = domain
	smtpSrv.ReadTimeout = 30 * time.Second
	smtpSrv.WriteTimeout = 30 * time.Second
	smtpSrv.MaxMessageBytes = maxInboundMessageBytes
	smtpSrv.MaxRecipients = 1
	smtpSrv.AllowInsecureAuth = true

	s.smtpServer = smtpSrv
	return s
}

func (s *Server) Start() error {
	slog.Info("inbound SMTP server starting", "addr", s.smtpServer.Addr)
	return s.smtpServer.ListenAndServe()
}

func (s *Server) Shutdown() error {
	return s.smtpServer.Close()
}

// NewSession implements smtp.Backend.
func (s *Server) NewSession(_ *smtp.Conn) (smtp.Session, error) {
	return &session{server: s}, nil
}

type session struct {
	server *Server
	from   string
	to     string
}

func (s *session) Mail(from string, _ *smtp.MailOptions) error {
	s.from = from
	return nil
}

func (s *session) Rcpt(to string, _ *smtp.RcptOptions) error {
	s.to = to
	return nil
}

func (s *session) Data(r io.Reader) error {
	if s.from == "" || s.to == "" {
		return errors.New("missing envelope sender or recipient")
	}

	raw, err := io.ReadAll(io.LimitReader(r, maxInboundMessageBytes))
	if err != nil {
		return err
	}

	payload, err := json.Marshal(IngestJobPayload{
		Sender:    s.from,
		Recipient: s.to,
		RawRFC822: string(raw),
	})
	if err != nil {
		return err
	}

	job, err := s.server.jobs.EnqueueIngestJob(context.Background(), payload, s.server.jobMaxAttempts)
	if err != nil {
		slog.Error("failed to enqueue inbound delivery",
			"from", s.from, "to", s.to, "error", err)
		return &smtp.SMTPError{
			Code:         451,
			EnhancedCode: smtp.EnhancedCode{4, 3, 0},
			Message:      "temporary failure, try again later",
		}
	}

	slog.Info("inbound delivery queued", "from", s.from, "to", s.to, "job_id", job.ID)
	return nil
}

func (s *session) Reset() {
	s.from = ""
	s.to = ""
}

func (s *session) Logout() error {
	return nil
}
