package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/znz-systems/threadline/internal/inbound"
	"github.com/znz-systems/threadline/internal/store"
)

const defaultInboundAPIMaxBodyBytes int64 = 1024 * 1024

// InboundAPIHandler accepts inbound deliveries over HTTP and queues them for
// the ingest worker. Threading happens asynchronously; the caller gets a 202
// with the job id.
type InboundAPIHandler struct {
	jobs           store.IngestJobStore
	maxBodyBytes   int64
	jobMaxAttempts int
}

func NewInboundAPIHandler(jobs store.IngestJobStore, maxBodyBytes int64, jobMaxAttempts int) *InboundAPIHandler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultInboundAPIMaxBodyBytes
	}
	return &InboundAPIHandler{
		jobs:           jobs,
		maxBodyBytes:   maxBodyBytes,
		jobMaxAttempts: jobMaxAttempts,
	}
}

func (h *InboundAPIHandler) HandleReceiveEmail(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)

	var payload inbound.IngestJobPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, jsonResponse{Error: "payload too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, jsonResponse{Error: "invalid JSON payload"})
		return
	}
	payload.Normalize()
	if !payload.IsUsable() {
		writeJSON(w, http.StatusBadRequest, jsonResponse{Error: "payload needs raw_rfc822 or sender and recipient"})
		return
	}

	body, err := json.Marshal(payload)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, jsonResponse{Error: "internal server error"})
		return
	}
	job, err := h.jobs.EnqueueIngestJob(r.Context(), body, h.jobMaxAttempts)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, jsonResponse{Error: "failed to queue delivery"})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"ok":     true,
		"job_id": job.ID,
	})
}
