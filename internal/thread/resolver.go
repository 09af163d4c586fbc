// Package thread decides where an email belongs in its conversation tree:
// root or reply, which message is the parent, and how deep in the thread the
// new message sits.
package thread

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/znz-systems/threadline/internal/metrics"
	"github.com/znz-systems/threadline/internal/models"
	"github.com/znz-systems/threadline/internal/store"
	"github.com/znz-systems/threadline/internal/token"
)

var (
	// ErrTokenRetriesExhausted means every insert attempt collided on the
	// reference token. The message was not persisted; the caller decides
	// whether to reject or requeue the delivery.
	ErrTokenRetriesExhausted = errors.New("exhausted reference token insert attempts")

	// ErrNoAccountForAddress means a new thread root could not be tied to
	// any business account. Nothing is persisted in that case.
	ErrNoAccountForAddress = errors.New("no account matches the message address")

	// ErrParentNotFound means an explicitly supplied parent id (a reply
	// action) points at no stored email.
	ErrParentNotFound = errors.New("explicit parent email not found")
)

const defaultMaxInsertAttempts = 3

// Descriptor is a raw message to be placed in a thread. ParentID, when set,
// comes from an explicit reply action and takes precedence over anything in
// the subject. AccountID may be pre-resolved by the outbound boundary; zero
// means resolve it from the addresses.
type Descriptor struct {
	Direction     models.EmailDirection
	FromAddress   string
	ToAddress     string
	Subject       string
	TextBody      string
	HTMLBody      string
	HasAttachment bool
	ParentID      *int64
	AccountID     int64
	SentAt        time.Time
}

type Resolver struct {
	emails            store.EmailStore
	accounts          store.AccountStore
	maxInsertAttempts int
}

type ResolverOptions struct {
	MaxInsertAttempts int
}

func NewResolver(emails store.EmailStore, accounts store.AccountStore, opts ResolverOptions) *Resolver {
	attempts := opts.MaxInsertAttempts
	if attempts <= 0 {
		attempts = defaultMaxInsertAttempts
	}
	return &Resolver{
		emails:            emails,
		accounts:          accounts,
		maxInsertAttempts: attempts,
	}
}

// Resolve links the message into its thread and persists it. The returned
// email carries a freshly generated reference token of its own, distinct
// from whatever token it matched against: the matched token names the
// parent, the new token is what future replies will match against this
// message.
func (r *Resolver) Resolve(ctx context.Context, d Descriptor) (*models.Email, error) {
	parent, err := r.findParent(ctx, d)
	if err != nil {
		return nil, err
	}

	params := models.EmailCreateParams{
		FromAddress:   d.FromAddress,
		ToAddress:     d.ToAddress,
		Subject:       d.Subject,
		TextBody:      d.TextBody,
		HTMLBody:      d.HTMLBody,
		Direction:     d.Direction,
		HasAttachment: d.HasAttachment,
		SentAt:        d.SentAt,
	}
	if params.SentAt.IsZero() {
		params.SentAt = time.Now().UTC()
	}
	if d.Direction == models.EmailOutbound {
		params.Status = models.EmailSent
	} else {
		params.Status = models.EmailReceived
	}

	if parent != nil {
		params.ParentID = &parent.ID
		params.ThreadLevel = parent.ThreadLevel + 1
		params.AccountID = parent.AccountID
	} else {
		accountID, err := r.resolveAccount(ctx, d)
		if err != nil {
			return nil, err
		}
		params.AccountID = accountID
	}

	email, err := r.insertWithFreshToken(ctx, params)
	if err != nil {
		return nil, err
	}

	if parent != nil {
		// Idempotent: already-replied parents stay replied. The new email is
		// fully linked at this point, so a failure here is logged rather than
		// failing the resolution.
		if err := r.emails.MarkEmailReplied(ctx, parent.ID); err != nil {
			slog.ErrorContext(ctx, "failed to mark parent email replied",
				"parent_id", parent.ID,
				"email_id", email.ID,
				"error", err,
			)
		}
	}

	position := "root"
	if parent != nil {
		position = "reply"
	}
	metrics.EmailsResolved.WithLabelValues(string(d.Direction), position).Inc()

	return email, nil
}

// findParent locates the message being replied to, or nil for a new root.
func (r *Resolver) findParent(ctx context.Context, d Descriptor) (*models.Email, error) {
	if d.ParentID != nil {
		parent, err := r.emails.GetEmailByID(ctx, *d.ParentID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, fmt.Errorf("%w: id %d", ErrParentNotFound, *d.ParentID)
			}
			return nil, fmt.Errorf("get explicit parent: %w", err)
		}
		return parent, nil
	}

	tok, ok := token.Extract(d.Subject)
	if !ok {
		return nil, nil
	}

	parent, err := r.emails.FindEmailByToken(ctx, tok)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// The token points at nothing we hold: the parent was deleted or
			// the token came from outside. The message starts a new thread.
			metrics.DanglingReferences.Inc()
			slog.WarnContext(ctx, "subject token resolves to no stored email, starting new thread",
				"token", tok,
				"from", d.FromAddress,
			)
			return nil, nil
		}
		return nil, fmt.Errorf("find email by token: %w", err)
	}
	return parent, nil
}

// resolveAccount ties a new thread root to a business account: the
// pre-resolved id when the caller supplied one, otherwise a lookup by the
// counterpart addresses.
func (r *Resolver) resolveAccount(ctx context.Context, d Descriptor) (int64, error) {
	if d.AccountID > 0 {
		return d.AccountID, nil
	}

	lookupOrder := []string{d.FromAddress, d.ToAddress}
	if d.Direction == models.EmailOutbound {
		lookupOrder = []string{d.ToAddress, d.FromAddress}
	}
	for _, address := range lookupOrder {
		if address == "" {
			continue
		}
		account, err := r.accounts.GetAccountByAddress(ctx, address)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			return 0, fmt.Errorf("get account by address: %w", err)
		}
		return account.ID, nil
	}
	return 0, fmt.Errorf("%w: from %q, to %q", ErrNoAccountForAddress, d.FromAddress, d.ToAddress)
}

// insertWithFreshToken generates the message's own token and inserts,
// regenerating on a token collision. A failed attempt leaves nothing behind,
// so each retry starts from a clean slate with a token never exposed before.
func (r *Resolver) insertWithFreshToken(ctx context.Context, params models.EmailCreateParams) (*models.Email, error) {
	for attempt := 1; attempt <= r.maxInsertAttempts; attempt++ {
		tok, err := token.Generate()
		if err != nil {
			return nil, err
		}
		params.ReferenceToken = tok

		email, err := r.emails.CreateEmail(ctx, params)
		if err == nil {
			return email, nil
		}
		if !errors.Is(err, store.ErrTokenConflict) {
			return nil, fmt.Errorf("create email: %w", err)
		}
		metrics.TokenConflicts.Inc()
		slog.WarnContext(ctx, "reference token collision on insert, regenerating",
			"attempt", attempt,
		)
	}
	return nil, fmt.Errorf("%w after %d attempts", ErrTokenRetriesExhausted, r.maxInsertAttempts)
}
