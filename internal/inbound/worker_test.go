package inbound

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/znz-systems/threadline/internal/models"
	"github.com/znz-systems/threadline/internal/thread"
)

type mockJobStore struct {
	queued  []*models.IngestJob
	done    map[int64]int64
	retried map[int64]string
	failed  map[int64]string
	nextID  int64
}

func newMockJobStore() *mockJobStore {
	return &mockJobStore{
		done:    map[int64]int64{},
		retried: map[int64]string{},
		failed:  map[int64]string{},
		nextID:  1,
	}
}

func (m *mockJobStore) enqueue(payload IngestJobPayload, attempts, maxAttempts int) *models.IngestJob {
	body, _ := json.Marshal(payload)
	job := &models.IngestJob{
		ID:          m.nextID,
		Status:      "queued",
		Payload:     body,
		Attempts:    attempts,
		MaxAttempts: maxAttempts,
		AvailableAt: time.Now(),
	}
	m.nextID++
	m.queued = append(m.queued, job)
	return job
}

func (m *mockJobStore) EnqueueIngestJob(_ context.Context, payload []byte, maxAttempts int) (*models.IngestJob, error) {
	job := &models.IngestJob{
		ID:          m.nextID,
		Status:      "queued",
		Payload:     payload,
		MaxAttempts: maxAttempts,
		AvailableAt: time.Now(),
	}
	m.nextID++
	m.queued = append(m.queued, job)
	return job, nil
}

func (m *mockJobStore) ClaimNextIngestJob(_ context.Context) (*models.IngestJob, error) {
	if len(m.queued) == 0 {
		return nil, nil
	}
	job := m.queued[0]
	m.queued = m.queued[1:]
	job.Attempts++
	job.Status = "processing"
	return job, nil
}

func (m *mockJobStore) MarkIngestJobDone(_ context.Context, jobID, emailID int64) error {
	m.done[jobID] = emailID
	return nil
}

func (m *mockJobStore) MarkIngestJobRetry(_ context.Context, jobID int64, _ time.Time, lastError string) error {
	m.retried[jobID] = lastError
	return nil
}

func (m *mockJobStore) MarkIngestJobFailed(_ context.Context, jobID int64, lastError string) error {
	m.failed[jobID] = lastError
	return nil
}

func newTestWorker() (*Worker, *mockJobStore, *mockEmailStore) {
	emails := newMockEmailStore()
	accounts := newMockAccountStore()
	accounts.byAddress["customer@example.com"] = &models.Account{ID: 1, PublicID: uuid.New(), Name: "ACC1"}
	resolver := thread.NewResolver(emails, accounts, thread.ResolverOptions{})
	svc := NewService(resolver, emails, newMockBlobStore())
	jobs := newMockJobStore()
	return NewWorker(jobs, svc, WorkerOptions{}), jobs, emails
}

func TestWorker_ProcessesStructuredJob(t *testing.T) {
	w, jobs, emails := newTestWorker()
	job := jobs.enqueue(IngestJobPayload{
		Sender:    "customer@example.com",
		Recipient: "support@znz.example",
		Subject:   "Hello",
		TextBody:  "hi",
	}, 0, 5)

	worked, err := w.processOne(context.Background())
	if err != nil {
		t.Fatalf("processOne returned error: %v", err)
	}
	if !worked {
		t.Fatal("expected a job to be worked")
	}
	emailID, ok := jobs.done[job.ID]
	if !ok {
		t.Fatalf("expected job done, state: retried=%v failed=%v", jobs.retried, jobs.failed)
	}
	if _, exists := emails.emails[emailID]; !exists {
		t.Fatalf("done job references missing email %d", emailID)
	}
}

func TestWorker_FillsGapsFromRawRFC822(t *testing.T) {
	w, jobs, emails := newTestWorker()
	raw := "From: customer@example.com\r\n" +
		"To: support@znz.example\r\n" +
		"Subject: Raw subject\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"raw body"
	job := jobs.enqueue(IngestJobPayload{RawRFC822: raw}, 0, 5)

	if _, err := w.processOne(context.Background()); err != nil {
		t.Fatalf("processOne returned error: %v", err)
	}
	emailID, ok := jobs.done[job.ID]
	if !ok {
		t.Fatalf("expected job done, failed=%v retried=%v", jobs.failed, jobs.retried)
	}
	email := emails.emails[emailID]
	if email.Subject != "Raw subject" || email.TextBody != "raw body" {
		t.Fatalf("unexpected parsed email: %+v", email)
	}
}

func TestWorker_InvalidPayloadFailsPermanently(t *testing.T) {
	w, jobs, _ := newTestWorker()
	job := &models.IngestJob{ID: 99, Status: "queued", Payload: []byte("not json"), MaxAttempts: 5}
	jobs.queued = append(jobs.queued, job)

	if _, err := w.processOne(context.Background()); err != nil {
		t.Fatalf("processOne returned error: %v", err)
	}
	if _, ok := jobs.failed[job.ID]; !ok {
		t.Fatal("expected invalid payload to fail the job")
	}
}

func TestWorker_UnknownAccountFailsPermanently(t *testing.T) {
	w, jobs, _ := newTestWorker()
	job := jobs.enqueue(IngestJobPayload{
		Sender:    "stranger@nowhere.example",
		Recipient: "unknown@nowhere.example",
		Subject:   "Hello",
	}, 0, 5)

	if _, err := w.processOne(context.Background()); err != nil {
		t.Fatalf("processOne returned error: %v", err)
	}
	if _, ok := jobs.failed[job.ID]; !ok {
		t.Fatalf("expected permanent failure, retried=%v", jobs.retried)
	}
	if _, ok := jobs.retried[job.ID]; ok {
		t.Fatal("account resolution failures must not be retried")
	}
}

func TestWorker_TransientErrorRequeues(t *testing.T) {
	w, jobs, emails := newTestWorker()
	emails.createErr = context.DeadlineExceeded
	job := jobs.enqueue(IngestJobPayload{
		Sender:    "customer@example.com",
		Recipient: "support@znz.example",
		Subject:   "Hello",
	}, 0, 5)

	if _, err := w.processOne(context.Background()); err != nil {
		t.Fatalf("processOne returned error: %v", err)
	}
	if _, ok := jobs.retried[job.ID]; !ok {
		t.Fatalf("expected retry, failed=%v done=%v", jobs.failed, jobs.done)
	}
}

func TestWorker_AttemptBudgetExhaustedFails(t *testing.T) {
	w, jobs, emails := newTestWorker()
	emails.createErr = context.DeadlineExceeded
	// Attempts is already at the budget when claimed.
	job := jobs.enqueue(IngestJobPayload{
		Sender:    "customer@example.com",
		Recipient: "support@znz.example",
		Subject:   "Hello",
	}, 4, 5)

	if _, err := w.processOne(context.Background()); err != nil {
		t.Fatalf("processOne returned error: %v", err)
	}
	if _, ok := jobs.failed[job.ID]; !ok {
		t.Fatalf("expected failure after attempt budget, retried=%v", jobs.retried)
	}
}

func TestWorker_RetryDelayBacksOffExponentially(t *testing.T) {
	w := NewWorker(newMockJobStore(), nil, WorkerOptions{
		RetryBaseDelay: time.Second,
		MaxRetryDelay:  10 * time.Second,
	})
	if d := w.retryDelay(1); d != time.Second {
		t.Fatalf("attempt 1: expected 1s, got %v", d)
	}
	if d := w.retryDelay(3); d != 4*time.Second {
		t.Fatalf("attempt 3: expected 4s, got %v", d)
	}
	if d := w.retryDelay(10); d != 10*time.Second {
		t.Fatalf("attempt 10: expected cap of 10s, got %v", d)
	}
}
