// Package audit produces the append-only trail of eligibility state changes.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/trezcool/masomo-eligibility/core"
)

type Action string

const (
	ActionTenantRegistered             Action = "TENANT_REGISTERED"
	ActionDocumentUploaded             Action = "DOCUMENT_UPLOADED"
	ActionVerificationApproved         Action = "VERIFICATION_APPROVED"
	ActionVerificationRejected         Action = "VERIFICATION_REJECTED"
	ActionVerificationRequiresMoreInfo Action = "VERIFICATION_REQUIRES_MORE_INFO"
	ActionEligibilityExpired           Action = "ELIGIBILITY_EXPIRED"
	ActionAppealSubmitted              Action = "APPEAL_SUBMITTED"
	ActionAppealReviewed               Action = "APPEAL_REVIEWED"
	ActionBulkActionFailed             Action = "BULK_ACTION_FAILED"
	ActionVerificationFailed           Action = "VERIFICATION_FAILED"
	ActionAppealReviewFailed           Action = "APPEAL_REVIEW_FAILED"
	ActionDeadlineReminderSent         Action = "DEADLINE_REMINDER_SENT"
)

type Details map[string]interface{}

// Entry is one immutable audit record.
type Entry struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id"`
	Action      Action    `json:"action"`
	Details     Details   `json:"details"`
	PerformedBy string    `json:"performed_by"`
	Timestamp   time.Time `json:"timestamp"` // UTC
}

type (
	// Sink persists entries. It must never mutate an appended entry.
	Sink interface {
		Append(ctx context.Context, entry Entry) error
	}

	// Store is a Sink the admin surface can also list.
	Store interface {
		Sink
		Query(ctx context.Context, filter Filter, page core.Page) ([]Entry, int, error)
	}

	// Filter is an AND of its non-zero fields. From and To are inclusive.
	Filter struct {
		TenantID string
		Action   Action
		From     time.Time
		To       time.Time
	}
)

// Recorder stamps entries and hands them to the sink.
// Sink failures are logged and counted, never returned: the audited change has already happened.
type Recorder struct {
	sink    Sink
	log     core.Logger
	metrics core.Metrics
	now     func() time.Time
}

func NewRecorder(sink Sink, log core.Logger, metrics core.Metrics) *Recorder {
	return &Recorder{
		sink:    sink,
		log:     log,
		metrics: metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (r *Recorder) Record(ctx context.Context, entry Entry) {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = r.now()
	}
	if entry.Details == nil {
		entry.Details = Details{}
	}

	if err := r.sink.Append(ctx, entry); err != nil {
		r.metrics.IncAuditFailure()
		r.log.Error("audit: failed to append entry", err, map[string]interface{}{
			"tenant_id":    entry.TenantID,
			"action":       entry.Action,
			"performed_by": entry.PerformedBy,
			"details":      entry.Details,
		})
	}
}
