package eligibility

import (
	"time"

	"github.com/trezcool/masomo-eligibility/core/audit"
	"github.com/trezcool/masomo-eligibility/core/grace"
	"github.com/trezcool/masomo-eligibility/core/notification"
)

// rule is one edge of the state machine.
type rule struct {
	from   []Status
	to     Status
	audit  audit.Action
	notify notification.Kind
	docs   DocumentStatus // status given to the tenant's PENDING documents, if any
}

func (r rule) accepts(s Status) bool {
	for _, from := range r.from {
		if s == from {
			return true
		}
	}
	return false
}

var (
	// admin decisions, only on tenants under review
	decisionRules = map[Action]rule{
		ActionApprove: {
			from:   []Status{StatusUnderReview},
			to:     StatusEligible,
			audit:  audit.ActionVerificationApproved,
			notify: notification.KindApproved,
			docs:   DocApproved,
		},
		ActionReject: {
			from:   []Status{StatusUnderReview},
			to:     StatusRejected,
			audit:  audit.ActionVerificationRejected,
			notify: notification.KindRejected,
			docs:   DocRejected,
		},
		ActionRequiresMoreInfo: {
			from:   []Status{StatusUnderReview},
			to:     StatusRequiresMoreInfo,
			audit:  audit.ActionVerificationRequiresMoreInfo,
			notify: notification.KindRequiresMoreInfo,
			docs:   DocRequiresMoreInfo,
		},
	}

	submitRule = rule{
		from:  []Status{StatusPending},
		to:    StatusUnderReview,
		audit: audit.ActionDocumentUploaded,
	}

	expireRule = rule{
		from:   []Status{StatusPending, StatusUnderReview, StatusRequiresMoreInfo},
		to:     StatusExpired,
		audit:  audit.ActionEligibilityExpired,
		notify: notification.KindExpired,
	}

	// appeal outcomes reopen a closed decision and settle it in the same write.
	// EXPIRED is only reachable here through an appeal opened before the tenant lapsed.
	appealRules = map[AppealOutcome]rule{
		AppealApproved: {
			from:   []Status{StatusRejected, StatusRequiresMoreInfo, StatusExpired},
			to:     StatusEligible,
			audit:  audit.ActionAppealReviewed,
			notify: notification.KindAppealApproved,
			docs:   DocApproved,
		},
		AppealRejected: {
			from:   []Status{StatusRejected, StatusRequiresMoreInfo, StatusExpired},
			to:     StatusRejected,
			audit:  audit.ActionAppealReviewed,
			notify: notification.KindAppealRejected,
			docs:   DocRejected,
		},
		AppealMoreInfo: {
			from:   []Status{StatusRejected, StatusRequiresMoreInfo, StatusExpired},
			to:     StatusRequiresMoreInfo,
			audit:  audit.ActionAppealReviewed,
			notify: notification.KindAppealMoreInfo,
		},
	}
)

// AppealOutcome is the tenant-level effect of a reviewed appeal.
type AppealOutcome string

const (
	AppealApproved AppealOutcome = "APPROVED"
	AppealRejected AppealOutcome = "REJECTED"
	AppealMoreInfo AppealOutcome = "MORE_INFO_REQUESTED"
)

// advance moves t to r.to, keeping the deadline invariant:
// only in-grace statuses carry a deadline, and entering grace from outside opens a fresh window.
func advance(t Tenant, r rule, now time.Time, cfg grace.Config, reviewer, notes string) Transition {
	next := t
	next.Documents = nil
	next.Status = r.to
	next.UpdatedAt = now
	next.Version = t.Version + 1

	switch {
	case r.to == StatusEligible:
		verified := now
		next.VerifiedAt = &verified
		next.Deadline = nil
	case !r.to.InGrace():
		next.Deadline = nil
	case !t.Status.InGrace() || t.Deadline == nil:
		deadline := grace.Deadline(now, cfg)
		next.Deadline = &deadline
	}

	tr := Transition{Tenant: next, From: t.Status}
	if r.docs != "" {
		tr.Review = &DocumentReview{
			Status:     r.docs,
			ReviewedBy: reviewer,
			ReviewedAt: now,
			Notes:      notes,
		}
	}
	return tr
}
