// Package metrics exposes Prometheus counters for thread resolution. The
// dangling-reference and duplicate-token counters double as data-integrity
// signals: they should stay at zero in a healthy deployment.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EmailsResolved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threadline_emails_resolved_total",
			Help: "Emails resolved and persisted, by direction and thread position.",
		},
		[]string{"direction", "position"},
	)

	DanglingReferences = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "threadline_dangling_references_total",
			Help: "Subject tokens that resolved to no stored email; the message was threaded as a new root.",
		},
	)

	TokenConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "threadline_token_conflicts_total",
			Help: "Insert-time reference token collisions recovered by regenerating and retrying.",
		},
	)

	DuplicateTokenRows = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "threadline_duplicate_token_rows_total",
			Help: "Token lookups that found more than one row despite the unique index.",
		},
	)

	AttachmentStoreFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "threadline_attachment_store_failures_total",
			Help: "Attachments whose content or metadata could not be stored after their email was persisted.",
		},
	)

	IngestJobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threadline_ingest_jobs_processed_total",
			Help: "Ingest jobs finished by the worker, by outcome.",
		},
		[]string{"outcome"},
	)
)
