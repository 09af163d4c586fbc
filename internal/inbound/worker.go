package inbound

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/znz-systems/threadline/internal/metrics"
	"github.com/znz-systems/threadline/internal/store"
	"github.com/znz-systems/threadline/internal/thread"
)

type WorkerOptions struct {
	PollInterval       time.Duration
	RetryBaseDelay     time.Duration
	MaxRetryDelay      time.Duration
	MaxAttachmentBytes int64
}

// Worker drains the ingest-job queue. Deliveries that fail for reasons a
// retry cannot fix (bad addresses, no matching account) are marked failed;
// everything else, including exhausted token retries, is requeued with
// backoff up to the job's attempt budget.
type Worker struct {
	jobs               store.IngestJobStore
	ingest             *Service
	pollInterval       time.Duration
	retryBaseDelay     time.Duration
	maxRetryDelay      time.Duration
	maxAttachmentBytes int64
}

func NewWorker(jobs store.IngestJobStore, ingest *Service, opts WorkerOptions) *Worker {
	poll := opts.PollInterval
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}
	retryBase := opts.RetryBaseDelay
	if retryBase <= 0 {
		retryBase = 5 * time.Second
	}
	maxRetry := opts.MaxRetryDelay
	if maxRetry <= 0 {
		maxRetry = 10 * time.Minute
	}
	maxAttachmentBytes := opts.MaxAttachmentBytes
	if maxAttachmentBytes <= 0 {
		maxAttachmentBytes = defaultMaxAttachmentBytes
	}

	return &Worker{
		jobs:               jobs,
		ingest:             ingest,
		pollInterval:       poll,
		retryBaseDelay:     retryBase,
		maxRetryDelay:      maxRetry,
		maxAttachmentBytes: maxAttachmentBytes,
	}
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		worked, err := w.processOne(ctx)
		if err != nil {
			slog.Error("ingest worker cycle failed", "error", err)
		}
		if worked {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *Worker) processOne(ctx context.Context) (bool, error) {
	job, err := w.jobs.ClaimNextIngestJob(ctx)
	if err != nil {
		return false, fmt.Errorf("claim ingest job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	var payload IngestJobPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return true, w.fail(ctx, job.ID, "invalid payload: "+err.Error())
	}
	payload.Normalize()

	delivery := payload.ToDelivery()
	if payload.RawRFC822 != "" {
		parsed, parseErr := ParseRFC822(payload.RawRFC822, w.maxAttachmentBytes)
		if parseErr != nil {
			return true, w.fail(ctx, job.ID, "invalid raw_rfc822: "+parseErr.Error())
		}
		if delivery.Sender == "" {
			delivery.Sender = parsed.Sender
		}
		if delivery.Recipient == "" {
			delivery.Recipient = parsed.Recipient
		}
		if delivery.Subject == "" {
			delivery.Subject = parsed.Subject
		}
		if delivery.TextBody == "" {
			delivery.TextBody = parsed.TextBody
		}
		if delivery.HTMLBody == "" {
			delivery.HTMLBody = parsed.HTMLBody
		}
		delivery.Attachments = parsed.Attachments
	}

	email, ingestErr := w.ingest.Ingest(ctx, delivery)
	if ingestErr == nil {
		if err := w.jobs.MarkIngestJobDone(ctx, job.ID, email.ID); err != nil {
			return true, fmt.Errorf("mark ingest job done: %w", err)
		}
		metrics.IngestJobsProcessed.WithLabelValues("done").Inc()
		return true, nil
	}

	if isPermanentIngestError(ingestErr) || job.Attempts >= job.MaxAttempts {
		return true, w.fail(ctx, job.ID, ingestErr.Error())
	}

	nextRun := time.Now().UTC().Add(w.retryDelay(job.Attempts))
	if err := w.jobs.MarkIngestJobRetry(ctx, job.ID, nextRun, ingestErr.Error()); err != nil {
		return true, fmt.Errorf("mark ingest job retry: %w", err)
	}
	metrics.IngestJobsProcessed.WithLabelValues("retried").Inc()
	return true, nil
}

func (w *Worker) fail(ctx context.Context, jobID int64, lastError string) error {
	if err := w.jobs.MarkIngestJobFailed(ctx, jobID, lastError); err != nil {
		return fmt.Errorf("mark ingest job failed: %w", err)
	}
	metrics.IngestJobsProcessed.WithLabelValues("failed").Inc()
	return nil
}

func (w *Worker) retryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := w.retryBaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= w.maxRetryDelay {
			return w.maxRetryDelay
		}
	}
	if delay > w.maxRetryDelay {
		return w.maxRetryDelay
	}
	return delay
}

func isPermanentIngestError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrSenderRequired) || errors.Is(err, ErrRecipientRequired) {
		return true
	}
	if errors.Is(err, thread.ErrNoAccountForAddress) || errors.Is(err, thread.ErrParentNotFound) {
		return true
	}
	message := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(message, "invalid sender address") ||
		strings.Contains(message, "invalid recipient address")
}
