package handlers

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/znz-systems/threadline/internal/blob"
	"github.com/znz-systems/threadline/internal/mail"
	"github.com/znz-systems/threadline/internal/models"
	"github.com/znz-systems/threadline/internal/store"
)

type mockEmailStore struct {
	mu          sync.Mutex
	emails      map[int64]*models.Email
	nextID      int64
	byToken     map[string]int64
	attachments []models.EmailAttachment
	repliedIDs  []int64
	createErr   error
}

func newMockEmailStore() *mockEmailStore {
	return &mockEmailStore{
		emails:  make(map[int64]*models.Email),
		byToken: make(map[string]int64),
		nextID:  1,
	}
}

func (m *mockEmailStore) add(e *models.Email) *models.Email {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == 0 {
		e.ID = m.nextID
		m.nextID++
	} else if e.ID >= m.nextID {
		m.nextID = e.ID + 1
	}
	if e.PublicID == uuid.Nil {
		e.PublicID = uuid.New()
	}
	m.emails[e.ID] = e
	if e.ReferenceToken != "" {
		m.byToken[e.ReferenceToken] = e.ID
	}
	return e
}

func (m *mockEmailStore) CreateEmail(_ context.Context, params models.EmailCreateParams) (*models.Email, error) {
	if m.createErr != nil {
		return nil, m.createErr
	}
	m.mu.Lock()
	if _, taken := m.byToken[params.ReferenceToken]; taken {
		m.mu.Unlock()
		return nil, store.ErrTokenConflict
	}
	m.mu.Unlock()
	email := &models.Email{
		ReferenceToken: params.ReferenceToken,
		ParentID:       params.ParentID,
		ThreadLevel:    params.ThreadLevel,
		AccountID:      params.AccountID,
		FromAddress:    params.FromAddress,
		ToAddress:      params.ToAddress,
		Subject:        params.Subject,
		TextBody:       params.TextBody,
		HTMLBody:       params.HTMLBody,
		Direction:      params.Direction,
		Status:         params.Status,
		HasAttachment:  params.HasAttachment,
		SentAt:         params.SentAt,
		CreatedAt:      time.Now().UTC(),
	}
	return m.add(email), nil
}

func (m *mockEmailStore) FindEmailByToken(_ context.Context, token string) (*models.Email, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byToken[token]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return m.emails[id], nil
}

func (m *mockEmailStore) GetEmailByID(_ context.Context, id int64) (*models.Email, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	email, ok := m.emails[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return email, nil
}

func (m *mockEmailStore) GetEmailByPublicID(_ context.Context, publicID uuid.UUID) (*models.Email, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, email := range m.emails {
		if email.PublicID == publicID {
			return email, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockEmailStore) MarkEmailReplied(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if email, ok := m.emails[id]; ok {
		email.Status = models.EmailReplied
	}
	m.repliedIDs = append(m.repliedIDs, id)
	return nil
}

func (m *mockEmailStore) ListThreadEmails(_ context.Context, rootID int64) ([]models.Email, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inThread := map[int64]bool{rootID: true}
	var out []models.Email
	if root, ok := m.emails[rootID]; ok {
		out = append(out, *root)
	}
	// Levels are small in tests; sweep until no new members turn up.
	for {
		added := false
		for _, email := range m.emails {
			if email.ParentID == nil || inThread[email.ID] || !inThread[*email.ParentID] {
				continue
			}
			inThread[email.ID] = true
			out = append(out, *email)
			added = true
		}
		if !added {
			break
		}
	}
	return out, nil
}

func (m *mockEmailStore) CreateEmailAttachment(_ context.Context, params models.EmailAttachmentCreateParams) (*models.EmailAttachment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	att := models.EmailAttachment{
		ID:          int64(len(m.attachments) + 1),
		EmailID:     params.EmailID,
		FileName:    params.FileName,
		ContentType: params.ContentType,
		SizeBytes:   params.SizeBytes,
		BlobKey:     params.BlobKey,
		CreatedAt:   time.Now().UTC(),
	}
	m.attachments = append(m.attachments, att)
	return &att, nil
}

func (m *mockEmailStore) ListEmailAttachmentsByEmailID(_ context.Context, emailID int64) ([]models.EmailAttachment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.EmailAttachment
	for _, att := range m.attachments {
		if att.EmailID == emailID {
			out = append(out, att)
		}
	}
	return out, nil
}

type mockAccountStore struct {
	byAddress map[string]*models.Account
}

func newMockAccountStore() *mockAccountStore {
	return &mockAccountStore{byAddress: make(map[string]*models.Account)}
}

func (m *mockAccountStore) CreateAccount(_ context.Context, name string) (*models.Account, error) {
	return &models.Account{ID: 1, Name: name}, nil
}

func (m *mockAccountStore) AddAccountAddress(_ context.Context, accountID int64, address string) (*models.AccountAddress, error) {
	return &models.AccountAddress{AccountID: accountID, Address: address}, nil
}

func (m *mockAccountStore) GetAccountByID(_ context.Context, id int64) (*models.Account, error) {
	for _, acct := range m.byAddress {
		if acct.ID == id {
			return acct, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockAccountStore) GetAccountByAddress(_ context.Context, address string) (*models.Account, error) {
	acct, ok := m.byAddress[address]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return acct, nil
}

type mockBlobStore struct {
	objects map[string][]byte
}

func newMockBlobStore() *mockBlobStore {
	return &mockBlobStore{objects: make(map[string][]byte)}
}

func (m *mockBlobStore) Put(_ context.Context, key, _ string, body []byte) error {
	m.objects[key] = body
	return nil
}

func (m *mockBlobStore) Get(_ context.Context, key string) ([]byte, error) {
	body, ok := m.objects[key]
	if !ok {
		return nil, blob.ErrObjectNotFound
	}
	return body, nil
}

func (m *mockBlobStore) Delete(_ context.Context, key string) error {
	delete(m.objects, key)
	return nil
}

type mockTransport struct {
	sent    []mail.OutboundEmail
	sendErr error
}

func (m *mockTransport) Send(_ context.Context, msg mail.OutboundEmail) error {
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, msg)
	return nil
}

type mockJobStore struct {
	mu         sync.Mutex
	jobs       []*models.IngestJob
	enqueueErr error
}

func (m *mockJobStore) EnqueueIngestJob(_ context.Context, payload []byte, maxAttempts int) (*models.IngestJob, error) {
	if m.enqueueErr != nil {
		return nil, m.enqueueErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	job := &models.IngestJob{
		ID:          int64(len(m.jobs) + 1),
		Status:      "queued",
		Payload:     payload,
		MaxAttempts: maxAttempts,
		CreatedAt:   time.Now().UTC(),
	}
	m.jobs = append(m.jobs, job)
	return job, nil
}

func (m *mockJobStore) ClaimNextIngestJob(context.Context) (*models.IngestJob, error) {
	return nil, nil
}

func (m *mockJobStore) MarkIngestJobDone(context.Context, int64, int64) error { return nil }

func (m *mockJobStore) MarkIngestJobRetry(context.Context, int64, time.Time, string) error {
	return nil
}

func (m *mockJobStore) MarkIngestJobFailed(context.Context, int64, string) error { return nil }
