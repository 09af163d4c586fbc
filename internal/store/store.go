package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/znz-systems/threadline/internal/models"
)

// ErrTokenConflict is returned by CreateEmail when the reference token is
// already taken. Callers recover by regenerating the token and retrying.
var ErrTokenConflict = errors.New("reference token already in use")

// EmailStore persists emails and enforces reference-token uniqueness at the
// storage layer (unique index), not as an application-level check. Lookups
// that find nothing return sql.ErrNoRows.
type EmailStore interface {
	CreateEmail(ctx context.Context, params models.EmailCreateParams) (*models.Email, error)
	FindEmailByToken(ctx context.Context, token string) (*models.Email, error)
	GetEmailByID(ctx context.Context, id int64) (*models.Email, error)
	GetEmailByPublicID(ctx context.Context, publicID uuid.UUID) (*models.Email, error)
	MarkEmailReplied(ctx context.Context, id int64) error
	ListThreadEmails(ctx context.Context, rootID int64) ([]models.Email, error)
	CreateEmailAttachment(ctx context.Context, params models.EmailAttachmentCreateParams) (*models.EmailAttachment, error)
	ListEmailAttachmentsByEmailID(ctx context.Context, emailID int64) ([]models.EmailAttachment, error)
}

// AccountStore is the context-by-address collaborator used when a message
// starts a new thread and its account cannot be inherited from a parent.
type AccountStore interface {
	CreateAccount(ctx context.Context, name string) (*models.Account, error)
	AddAccountAddress(ctx context.Context, accountID int64, address string) (*models.AccountAddress, error)
	GetAccountByID(ctx context.Context, id int64) (*models.Account, error)
	GetAccountByAddress(ctx context.Context, address string) (*models.Account, error)
}

type IngestJobStore interface {
	EnqueueIngestJob(ctx context.Context, payload []byte, maxAttempts int) (*models.IngestJob, error)
	ClaimNextIngestJob(ctx context.Context) (*models.IngestJob, error)
	MarkIngestJobDone(ctx context.Context, jobID, emailID int64) error
	MarkIngestJobRetry(ctx context.Context, jobID int64, nextAvailableAt time.Time, lastError string) error
	MarkIngestJobFailed(ctx context.Context, jobID int64, lastError string) error
}
