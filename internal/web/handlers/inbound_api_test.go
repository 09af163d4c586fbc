package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/znz-systems/threadline/internal/inbound"
)

func TestHandleReceiveEmailQueuesJob(t *testing.T) {
	jobs := &mockJobStore{}
	handler := NewInboundAPIHandler(jobs, 0, 5)

	body := `{"sender":"user@example.com","recipient":"support@acme.example","subject":"Re: Welcome (001GA00004sSae3YAC)","text_body":"Thanks!"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/inbound/emails", strings.NewReader(body))
	rr := httptest.NewRecorder()
	handler.HandleReceiveEmail(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		OK    bool  `json:"ok"`
		JobID int64 `json:"job_id"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp.OK || resp.JobID == 0 {
		t.Errorf("expected ok response with a job id, got %+v", resp)
	}
	if len(jobs.jobs) != 1 {
		t.Fatalf("expected 1 queued job, got %d", len(jobs.jobs))
	}
	if jobs.jobs[0].MaxAttempts != 5 {
		t.Errorf("expected max attempts 5, got %d", jobs.jobs[0].MaxAttempts)
	}

	var payload inbound.IngestJobPayload
	if err := json.Unmarshal(jobs.jobs[0].Payload, &payload); err != nil {
		t.Fatalf("failed to decode queued payload: %v", err)
	}
	if payload.Sender != "user@example.com" || payload.Recipient != "support@acme.example" {
		t.Errorf("unexpected queued payload: %+v", payload)
	}
}

func TestHandleReceiveEmailRawOnly(t *testing.T) {
	jobs := &mockJobStore{}
	handler := NewInboundAPIHandler(jobs, 0, 3)

	body := `{"raw_rfc822":"From: user@example.com\r\nTo: support@acme.example\r\nSubject: Hi\r\n\r\nBody"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/inbound/emails", strings.NewReader(body))
	rr := httptest.NewRecorder()
	handler.HandleReceiveEmail(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestHandleReceiveEmailRejectsUnusablePayload(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"empty object", `{}`, http.StatusBadRequest},
		{"sender only", `{"sender":"user@example.com"}`, http.StatusBadRequest},
		{"whitespace fields", `{"sender":"  ","recipient":"  "}`, http.StatusBadRequest},
		{"not JSON", `not json`, http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			handler := NewInboundAPIHandler(&mockJobStore{}, 0, 3)
			req := httptest.NewRequest(http.MethodPost, "/api/v1/inbound/emails", strings.NewReader(tc.body))
			rr := httptest.NewRecorder()
			handler.HandleReceiveEmail(rr, req)
			if rr.Code != tc.want {
				t.Errorf("expected status %d, got %d: %s", tc.want, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestHandleReceiveEmailBodyTooLarge(t *testing.T) {
	handler := NewInboundAPIHandler(&mockJobStore{}, 64, 3)

	body := `{"sender":"user@example.com","recipient":"support@acme.example","text_body":"` + strings.Repeat("x", 256) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/inbound/emails", strings.NewReader(body))
	rr := httptest.NewRecorder()
	handler.HandleReceiveEmail(rr, req)

	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected status 413, got %d", rr.Code)
	}
}

func TestHandleReceiveEmailEnqueueFailure(t *testing.T) {
	handler := NewInboundAPIHandler(&mockJobStore{enqueueErr: errors.New("db down")}, 0, 3)

	body := `{"sender":"user@example.com","recipient":"support@acme.example"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/inbound/emails", strings.NewReader(body))
	rr := httptest.NewRecorder()
	handler.HandleReceiveEmail(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", rr.Code)
	}
}
