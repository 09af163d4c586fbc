package postgres

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/znz-systems/threadline/internal/metrics"
	"github.com/znz-systems/threadline/internal/models"
	"github.com/znz-systems/threadline/internal/store"
)

const emailColumns = `id, public_id, reference_token, parent_id, thread_level, account_id,
	from_address, to_address, subject, text_body, html_body, direction, status,
	has_attachment, sent_at, created_at`

type EmailStore struct {
	db *sql.DB
}

func NewEmailStore(db *sql.DB) *EmailStore {
	return &EmailStore{db: db}
}

func (s *EmailStore) CreateEmail(ctx context.Context, params models.EmailCreateParams) (*models.Email, error) {
	e := &models.Email{
		PublicID:       uuid.New(),
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
	}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO emails (public_id, reference_token, parent_id, thread_level, account_id,
			from_address, to_address, subject, text_body, html_body, direction, status,
			has_attachment, sent_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		 RETURNING id, created_at`,
		e.PublicID, e.ReferenceToken, e.ParentID, e.ThreadLevel, e.AccountID,
		e.FromAddress, e.ToAddress, e.Subject, e.TextBody, e.HTMLBody,
		string(e.Direction), string(e.Status), e.HasAttachment, e.SentAt,
	).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" && pqErr.Constraint == "emails_reference_token_key" {
			return nil, store.ErrTokenConflict
		}
		return nil, err
	}
	return e, nil
}

// FindEmailByToken returns the email holding the given reference token. The
// unique index makes more than one row impossible under normal operation; if
// the store nevertheless holds duplicates, the earliest-created row wins and
// the anomaly is logged.
func (s *EmailStore) FindEmailByToken(ctx context.Context, token string) (*models.Email, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+emailColumns+`
		 FROM emails WHERE reference_token = $1
		 ORDER BY created_at ASC, id ASC
		 LIMIT 2`, token)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var found []models.Email
	for rows.Next() {
		var e models.Email
		if err := scanEmail(rows, &e); err != nil {
			return nil, err
		}
		found = append(found, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, sql.ErrNoRows
	}
	if len(found) > 1 {
		metrics.DuplicateTokenRows.Inc()
		slog.Warn("multiple emails share a reference token, using earliest",
			"token", token,
			"email_id", found[0].ID,
		)
	}
	return &found[0], nil
}

func (s *EmailStore) GetEmailByID(ctx context.Context, id int64) (*models.Email, error) {
	e := &models.Email{}
	err := scanEmail(s.db.QueryRowContext(ctx,
		`SELECT `+emailColumns+` FROM emails WHERE id = $1`, id), e)
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (s *EmailStore) GetEmailByPublicID(ctx context.Context, publicID uuid.UUID) (*models.Email, error) {
	e := &models.Email{}
	err := scanEmail(s.db.QueryRowContext(ctx,
		`SELECT `+emailColumns+` FROM emails WHERE public_id = $1`, publicID), e)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// MarkEmailReplied flips an email's status to replied. Re-marking an already
// replied email is a no-op, which lets concurrent replies to the same parent
// apply the side effect safely.
func (s *EmailStore) MarkEmailReplied(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE emails SET status = 'replied' WHERE id = $1`, id)
	return err
}

// ListThreadEmails returns the given email and every descendant reachable
// through parent_id, ordered by depth then creation time.
func (s *EmailStore) ListThreadEmails(ctx context.Context, rootID int64) ([]models.Email, error) {
	rows, err := s.db.QueryContext(ctx,
		`WITH RECURSIVE thread AS (
			SELECT `+emailColumns+` FROM emails WHERE id = $1
			UNION ALL
			SELECT e.id, e.public_id, e.reference_token, e.parent_id, e.thread_level, e.account_id,
				e.from_address, e.to_address, e.subject, e.text_body, e.html_body, e.direction,
				e.status, e.has_attachment, e.sent_at, e.created_at
			FROM emails e
			JOIN thread t ON e.parent_id = t.id
		)
		SELECT `+emailColumns+` FROM thread
		ORDER BY thread_level ASC, created_at ASC, id ASC`, rootID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var emails []models.Email
	for rows.Next() {
		var e models.Email
		if err := scanEmail(rows, &e); err != nil {
			return nil, err
		}
		emails = append(emails, e)
	}
	return emails, rows.Err()
}

func (s *EmailStore) CreateEmailAttachment(ctx context.Context, params models.EmailAttachmentCreateParams) (*models.EmailAttachment, error) {
	a := &models.EmailAttachment{
		EmailID:     params.EmailID,
		FileName:    params.FileName,
		ContentType: params.ContentType,
		SizeBytes:   params.SizeBytes,
		BlobKey:     params.BlobKey,
	}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO email_attachments (email_id, file_name, content_type, size_bytes, blob_key)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at`,
		a.EmailID, a.FileName, a.ContentType, a.SizeBytes, a.BlobKey,
	).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (s *EmailStore) ListEmailAttachmentsByEmailID(ctx context.Context, emailID int64) ([]models.EmailAttachment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, email_id, file_name, content_type, size_bytes, blob_key, created_at
		 FROM email_attachments WHERE email_id = $1
		 ORDER BY id ASC`, emailID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attachments []models.EmailAttachment
	for rows.Next() {
		var a models.EmailAttachment
		if err := rows.Scan(&a.ID, &a.EmailID, &a.FileName, &a.ContentType, &a.SizeBytes, &a.BlobKey, &a.CreatedAt); err != nil {
			return nil, err
		}
		attachments = append(attachments, a)
	}
	return attachments, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEmail(row rowScanner, e *models.Email) error {
	return row.Scan(
		&e.ID, &e.PublicID, &e.ReferenceToken, &e.ParentID, &e.ThreadLevel, &e.AccountID,
		&e.FromAddress, &e.ToAddress, &e.Subject, &e.TextBody, &e.HTMLBody, &e.Direction,
		&e.Status, &e.HasAttachment, &e.SentAt, &e.CreatedAt,
	)
}
