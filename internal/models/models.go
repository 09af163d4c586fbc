package models

import (
	"time"

	"github.com/google/uuid"
)

type EmailDirection string

const (
	EmailInbound  EmailDirection = "inbound"
	EmailOutbound EmailDirection = "outbound"
)

type EmailStatus string

const (
	EmailSent     EmailStatus = "sent"
	EmailReceived EmailStatus = "received"
	EmailReplied  EmailStatus = "replied"
)

// Email is a single message in a conversation tree. ParentID is a plain
// back-reference to another Email's ID, nil for thread roots. ReferenceToken
// is assigned exactly once at creation and is the only key used to correlate
// a later reply with this message.
type Email struct {
	ID             int64
	PublicID       uuid.UUID
	ReferenceToken string
	ParentID       *int64
	ThreadLevel    int
	AccountID      int64
	FromAddress    string
	ToAddress      string
	Subject        string
	TextBody       string
	HTMLBody       string
	Direction      EmailDirection
	Status         EmailStatus
	HasAttachment  bool
	SentAt         time.Time
	CreatedAt      time.Time
}

type EmailCreateParams struct {
	ReferenceToken string
	ParentID       *int64
	ThreadLevel    int
	AccountID      int64
	FromAddress    string
	ToAddress      string
	Subject        string
	TextBody       string
	HTMLBody       string
	Direction      EmailDirection
	Status         EmailStatus
	HasAttachment  bool
	SentAt         time.Time
}

type EmailAttachment struct {
	ID          int64
	EmailID     int64
	FileName    string
	ContentType string
	SizeBytes   int64
	BlobKey     string
	CreatedAt   time.Time
}

type EmailAttachmentCreateParams struct {
	EmailID     int64
	FileName    string
	ContentType string
	SizeBytes   int64
	BlobKey     string
}

// Account is the business context a thread belongs to. Every email in a
// thread carries the root's AccountID.
type Account struct {
	ID        int64
	PublicID  uuid.UUID
	Name      string
	CreatedAt time.Time
}

type AccountAddress struct {
	ID        int64
	AccountID int64
	Address   string
	CreatedAt time.Time
}

type IngestJob struct {
	ID          int64
	Status      string
	Payload     []byte
	Attempts    int
	MaxAttempts int
	AvailableAt time.Time
	LockedAt    *time.Time
	LastError   string
	EmailID     *int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DoneAt      *time.Time
}
