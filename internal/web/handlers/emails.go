package handlers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/znz-systems/threadline/internal/mail"
	"github.com/znz-systems/threadline/internal/models"
	"github.com/znz-systems/threadline/internal/store"
	"github.com/znz-systems/threadline/internal/thread"
)

const defaultSendAPIMaxBodyBytes int64 = 1024 * 1024

// EmailHandler serves the outbound send endpoint and the email/thread read
// endpoints.
type EmailHandler struct {
	emails       store.EmailStore
	outbound     *mail.Service
	maxBodyBytes int64
}

func NewEmailHandler(emails store.EmailStore, outbound *mail.Service, maxBodyBytes int64) *EmailHandler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultSendAPIMaxBodyBytes
	}
	return &EmailHandler{
		emails:       emails,
		outbound:     outbound,
		maxBodyBytes: maxBodyBytes,
	}
}

type emailJSON struct {
	ID             uuid.UUID  `json:"id"`
	ReferenceToken string     `json:"reference_token"`
	ParentID       *uuid.UUID `json:"parent_id,omitempty"`
	ThreadLevel    int        `json:"thread_level"`
	FromAddress    string     `json:"from_address"`
	ToAddress      string     `json:"to_address"`
	Subject        string     `json:"subject"`
	Direction      string     `json:"direction"`
	Status         string     `json:"status"`
	HasAttachment  bool       `json:"has_attachment"`
	SentAt         time.Time  `json:"sent_at"`
}

func (h *EmailHandler) HandleSendEmail(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)

	var payload struct {
		AccountID      int64    `json:"account_id"`
		FromAddress    string   `json:"from_address"`
		ToAddress      string   `json:"to_address"`
		Subject        string   `json:"subject"`
		TextBody       string   `json:"text_body"`
		HTMLBody       string   `json:"html_body"`
		ParentID       string   `json:"parent_id"`
		AttachmentKeys []string `json:"attachment_keys"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, jsonResponse{Error: "payload too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, jsonResponse{Error: "invalid JSON payload"})
		return
	}

	req := mail.SendRequest{
		AccountID:      payload.AccountID,
		FromAddress:    payload.FromAddress,
		ToAddress:      payload.ToAddress,
		Subject:        payload.Subject,
		TextBody:       payload.TextBody,
		HTMLBody:       payload.HTMLBody,
		AttachmentKeys: payload.AttachmentKeys,
	}
	if payload.ParentID != "" {
		parentPublicID, err := uuid.Parse(payload.ParentID)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, jsonResponse{Error: "parent_id must be a valid UUID"})
			return
		}
		parent, err := h.emails.GetEmailByPublicID(r.Context(), parentPublicID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				writeJSON(w, http.StatusNotFound, jsonResponse{Error: "parent email not found"})
				return
			}
			slog.Error("failed to look up parent email", "parent_public_id", parentPublicID, "error", err)
			writeJSON(w, http.StatusInternalServerError, jsonResponse{Error: "internal server error"})
			return
		}
		req.ParentID = &parent.ID
	}

	email, err := h.outbound.Send(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, mail.ErrFromRequired), errors.Is(err, mail.ErrToRequired):
			writeJSON(w, http.StatusBadRequest, jsonResponse{Error: err.Error()})
		case errors.Is(err, thread.ErrParentNotFound):
			writeJSON(w, http.StatusNotFound, jsonResponse{Error: "parent email not found"})
		case errors.Is(err, thread.ErrNoAccountForAddress):
			writeJSON(w, http.StatusUnprocessableEntity, jsonResponse{Error: "no account for the given addresses"})
		case email != nil:
			// Persisted but not delivered: report the id so the caller can
			// re-send without creating a duplicate thread entry.
			slog.Error("outbound email persisted but not delivered", "email_id", email.ID, "error", err)
			writeJSON(w, http.StatusBadGateway, map[string]interface{}{
				"error":    "transport delivery failed",
				"email_id": email.PublicID,
			})
		default:
			slog.Error("failed to send email", "error", err)
			writeJSON(w, http.StatusInternalServerError, jsonResponse{Error: "internal server error"})
		}
		return
	}

	parentPublic, ok := h.parentPublicID(r, email)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, jsonResponse{Error: "internal server error"})
		return
	}
	writeJSON(w, http.StatusCreated, toEmailJSON(email, parentPublic))
}

func (h *EmailHandler) HandleGetEmail(w http.ResponseWriter, r *http.Request) {
	email, ok := h.emailFromPath(w, r)
	if !ok {
		return
	}
	parentPublic, okParent := h.parentPublicID(r, email)
	if !okParent {
		writeJSON(w, http.StatusInternalServerError, jsonResponse{Error: "internal server error"})
		return
	}
	writeJSON(w, http.StatusOK, toEmailJSON(email, parentPublic))
}

// HandleGetThread returns the complete conversation the email belongs to,
// from the root down, ordered by depth then creation.
func (h *EmailHandler) HandleGetThread(w http.ResponseWriter, r *http.Request) {
	email, ok := h.emailFromPath(w, r)
	if !ok {
		return
	}

	root := email
	for root.ParentID != nil {
		parent, err := h.emails.GetEmailByID(r.Context(), *root.ParentID)
		if err != nil {
			slog.Error("failed to walk thread to root", "email_id", root.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, jsonResponse{Error: "internal server error"})
			return
		}
		root = parent
	}

	emails, err := h.emails.ListThreadEmails(r.Context(), root.ID)
	if err != nil {
		slog.Error("failed to list thread", "root_id", root.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, jsonResponse{Error: "internal server error"})
		return
	}

	publicByID := make(map[int64]uuid.UUID, len(emails))
	for _, e := range emails {
		publicByID[e.ID] = e.PublicID
	}
	out := make([]emailJSON, 0, len(emails))
	for i := range emails {
		var parentPublic *uuid.UUID
		if emails[i].ParentID != nil {
			if pub, found := publicByID[*emails[i].ParentID]; found {
				parentPublic = &pub
			}
		}
		out = append(out, toEmailJSON(&emails[i], parentPublic))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"root_id": root.PublicID,
		"emails":  out,
	})
}

func (h *EmailHandler) emailFromPath(w http.ResponseWriter, r *http.Request) (*models.Email, bool) {
	publicID, err := uuid.Parse(chi.URLParam(r, "emailID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, jsonResponse{Error: "email id must be a valid UUID"})
		return nil, false
	}
	email, err := h.emails.GetEmailByPublicID(r.Context(), publicID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, jsonResponse{Error: "email not found"})
			return nil, false
		}
		slog.Error("failed to load email", "public_id", publicID, "error", err)
		writeJSON(w, http.StatusInternalServerError, jsonResponse{Error: "internal server error"})
		return nil, false
	}
	return email, true
}

func (h *EmailHandler) parentPublicID(r *http.Request, email *models.Email) (*uuid.UUID, bool) {
	if email.ParentID == nil {
		return nil, true
	}
	parent, err := h.emails.GetEmailByID(r.Context(), *email.ParentID)
	if err != nil {
		slog.Error("failed to load parent email", "parent_id", *email.ParentID, "error", err)
		return nil, false
	}
	return &parent.PublicID, true
}

func toEmailJSON(e *models.Email, parentPublic *uuid.UUID) emailJSON {
	return emailJSON{
		ID:             e.PublicID,
		ReferenceToken: e.ReferenceToken,
		ParentID:       parentPublic,
		ThreadLevel:    e.ThreadLevel,
		FromAddress:    e.FromAddress,
		ToAddress:      e.ToAddress,
		Subject:        e.Subject,
		Direction:      string(e.Direction),
		Status:         string(e.Status),
		HasAttachment:  e.HasAttachment,
		SentAt:         e.SentAt,
	}
}
