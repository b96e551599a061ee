// Package appeal lets a tenant contest a REJECTED or REQUIRES_MORE_INFO decision, and lets
// admins settle the appeal back onto the tenant.
package appeal

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-eligibility/core"
	"github.com/trezcool/masomo-eligibility/core/audit"
	"github.com/trezcool/masomo-eligibility/core/eligibility"
	"github.com/trezcool/masomo-eligibility/core/notification"
)

var (
	typeTag  = "appeal_type"
	typeText = "appeal_type must be one of documentation, eligibility, status, tier or general"

	decisionTag  = "appeal_decision"
	decisionText = "decision must be one of APPROVED, REJECTED or MORE_INFO_REQUESTED"

	outcomes = map[Status]eligibility.AppealOutcome{
		StatusApproved:          eligibility.AppealApproved,
		StatusRejected:          eligibility.AppealRejected,
		StatusMoreInfoRequested: eligibility.AppealMoreInfo,
	}

	notifications = map[Status]notification.Kind{
		StatusApproved:          notification.KindAppealApproved,
		StatusRejected:          notification.KindAppealRejected,
		StatusMoreInfoRequested: notification.KindAppealMoreInfo,
	}
)

type (
	// Repository is the appeal store.
	Repository interface {
		// CreateAppeal fails with a *core.ConflictError if the tenant already has an open appeal.
		CreateAppeal(ctx context.Context, a Appeal) (Appeal, error)
		GetAppeal(ctx context.Context, id string) (Appeal, error)
		QueryAppeals(ctx context.Context, filter Filter, ordering []core.DBOrdering, page *core.Page) ([]Appeal, int, error)
		// UpdateAppeal writes a only if the stored appeal still has status from.
		UpdateAppeal(ctx context.Context, a Appeal, from Status) (Appeal, error)
	}

	// Tenants is the eligibility state machine as seen from appeals.
	Tenants interface {
		Get(ctx context.Context, id string) (eligibility.Tenant, error)
		ApplyAppealOutcome(ctx context.Context, tenantID string, outcome eligibility.AppealOutcome, notes string, actor core.Actor) (eligibility.Tenant, error)
	}

	Deps struct {
		Repo      Repository
		Tenants   Tenants
		Validator *core.Validator
		Audit     *audit.Recorder
		Notifier  *notification.Dispatcher
		Logger    core.Logger
		Now       func() time.Time
	}

	Service struct {
		repo     Repository
		tenants  Tenants
		validate *core.Validator
		audit    *audit.Recorder
		notifier *notification.Dispatcher
		log      core.Logger
		now      func() time.Time
	}
)

func NewService(deps Deps) *Service {
	svc := &Service{
		repo:     deps.Repo,
		tenants:  deps.Tenants,
		validate: deps.Validator,
		audit:    deps.Audit,
		notifier: deps.Notifier,
		log:      deps.Logger,
		now:      deps.Now,
	}
	if svc.log == nil {
		svc.log = core.NopLogger
	}
	if svc.now == nil {
		svc.now = func() time.Time { return time.Now().UTC() }
	}
	if svc.notifier == nil {
		svc.notifier = notification.NewDispatcher(nil, svc.log, core.NopMetrics)
	}
	svc.validate.Register(typeTag, typeText, typeValidation)
	svc.validate.Register(decisionTag, decisionText, decisionValidation)
	return svc
}

// Submit opens an appeal against the tenant's current decision.
func (svc *Service) Submit(ctx context.Context, tenantID string, na NewAppeal, actor core.Actor) (Appeal, error) {
	na.Clean()
	if err := svc.validate.Check(na); err != nil {
		return Appeal{}, err
	}

	t, err := svc.tenants.Get(ctx, tenantID)
	if err != nil {
		return Appeal{}, err
	}
	if t.Status != eligibility.StatusRejected && t.Status != eligibility.StatusRequiresMoreInfo {
		return Appeal{}, core.NewValidationError(errors.Errorf(
			"appeals can only be submitted for REJECTED or REQUIRES_MORE_INFO decisions, institution is %s", t.Status))
	}

	now := svc.now()
	a, err := svc.repo.CreateAppeal(ctx, Appeal{
		TenantID:            t.ID,
		Type:                na.Type,
		OriginalDecision:    t.Status,
		Reason:              na.Reason,
		SupportingDocuments: na.SupportingDocuments,
		Status:              StatusPending,
		CreatedAt:           now,
		UpdatedAt:           now,
	})
	if err != nil {
		if core.IsConflict(err) {
			return Appeal{}, err
		}
		return Appeal{}, errors.Wrap(err, "creating appeal")
	}

	svc.audit.Record(ctx, audit.Entry{
		TenantID:    t.ID,
		Action:      audit.ActionAppealSubmitted,
		PerformedBy: actor.ID,
		Details: audit.Details{
			"appeal_id":         a.ID,
			"appeal_type":       a.Type,
			"original_decision": a.OriginalDecision,
			"documents":         len(a.SupportingDocuments),
		},
	})
	return a, nil
}

func (svc *Service) Get(ctx context.Context, id string) (Appeal, error) {
	return svc.repo.GetAppeal(ctx, id)
}

// ForTenant lists a tenant's appeals, most recent first.
func (svc *Service) ForTenant(ctx context.Context, tenantID string) ([]Appeal, error) {
	if _, err := svc.tenants.Get(ctx, tenantID); err != nil {
		return nil, err
	}
	appeals, _, err := svc.repo.QueryAppeals(ctx, Filter{TenantID: tenantID}, []core.DBOrdering{{Field: "created_at"}}, nil)
	if err != nil {
		return nil, errors.Wrap(err, "querying appeals")
	}
	return appeals, nil
}

// Pending lists the open appeals, oldest first.
func (svc *Service) Pending(ctx context.Context, page core.Page) ([]Appeal, core.Pagination, error) {
	return svc.Query(ctx, OpenStatuses, page)
}

// Query lists appeals in any of statuses (every appeal if empty), oldest first.
func (svc *Service) Query(ctx context.Context, statuses []Status, page core.Page) ([]Appeal, core.Pagination, error) {
	for _, st := range statuses {
		if !st.Valid() {
			return nil, core.Pagination{}, core.NewValidationError(nil, core.FieldError{Field: "status", Error: "invalid appeal status"})
		}
	}
	page.Clean()
	appeals, total, err := svc.repo.QueryAppeals(ctx, Filter{Statuses: statuses}, []core.DBOrdering{{Field: "created_at", Ascending: true}}, &page)
	if err != nil {
		return nil, core.Pagination{}, errors.Wrap(err, "querying appeals")
	}
	return appeals, core.NewPagination(page, total), nil
}

// Review settles an open appeal. The appeal is claimed first so that a concurrent review
// loses with a conflict; if the tenant can no longer take the outcome the claim is undone.
func (svc *Service) Review(ctx context.Context, appealID string, rv Review, actor core.Actor) (Appeal, error) {
	if err := svc.validate.Check(rv); err != nil {
		return Appeal{}, err
	}
	rv.ReviewNotes = core.CleanString(rv.ReviewNotes)
	if rv.Decision != StatusApproved && rv.ReviewNotes == "" {
		return Appeal{}, core.NewValidationError(nil, core.FieldError{
			Field: "review_notes",
			Error: "review notes are required unless the appeal is approved",
		})
	}

	orig, err := svc.repo.GetAppeal(ctx, appealID)
	if err != nil {
		return Appeal{}, err
	}
	if !orig.Status.Open() {
		err = core.NewConflictError("appeal has already been %s", orig.Status)
		svc.recordFailure(ctx, orig, rv.Decision, actor, err)
		return Appeal{}, err
	}

	now := svc.now()
	claimed := orig
	claimed.Status = rv.Decision
	claimed.ReviewNotes = rv.ReviewNotes
	claimed.ReviewedBy = actor.ID
	claimed.ReviewedAt = &now
	claimed.UpdatedAt = now
	if claimed, err = svc.repo.UpdateAppeal(ctx, claimed, orig.Status); err != nil {
		svc.recordFailure(ctx, orig, rv.Decision, actor, err)
		return Appeal{}, err
	}

	t, err := svc.tenants.ApplyAppealOutcome(ctx, orig.TenantID, outcomes[rv.Decision], rv.ReviewNotes, actor)
	if err != nil {
		if _, rbErr := svc.repo.UpdateAppeal(ctx, orig, claimed.Status); rbErr != nil {
			svc.log.Error("appeal: failed to release claim", rbErr, map[string]interface{}{"appeal_id": orig.ID})
		}
		svc.recordFailure(ctx, orig, rv.Decision, actor, err)
		return Appeal{}, err
	}

	svc.audit.Record(ctx, audit.Entry{
		TenantID:    t.ID,
		Action:      audit.ActionAppealReviewed,
		PerformedBy: actor.ID,
		Details: audit.Details{
			"appeal_id":     claimed.ID,
			"decision":      claimed.Status,
			"review_notes":  claimed.ReviewNotes,
			"tenant_status": t.Status,
		},
	})
	svc.notifier.Send(ctx, notification.Intent{
		TenantID:     t.ID,
		TenantName:   t.Name,
		ContactEmail: t.ContactEmail,
		Kind:         notifications[claimed.Status],
		Notes:        claimed.ReviewNotes,
		Deadline:     t.Deadline,
		Actor:        actor,
	})
	return claimed, nil
}

func (svc *Service) recordFailure(ctx context.Context, a Appeal, decision Status, actor core.Actor, err error) {
	svc.audit.Record(ctx, audit.Entry{
		TenantID:    a.TenantID,
		Action:      audit.ActionAppealReviewFailed,
		PerformedBy: actor.ID,
		Details: audit.Details{
			"appeal_id":     a.ID,
			"appeal_status": a.Status,
			"decision":      decision,
			"error":         err.Error(),
		},
	})
}

// Stats summarizes every appeal. Review time only counts resolved appeals.
func (svc *Service) Stats(ctx context.Context) (Stats, error) {
	appeals, _, err := svc.repo.QueryAppeals(ctx, Filter{}, nil, nil)
	if err != nil {
		return Stats{}, errors.Wrap(err, "querying appeals")
	}

	stats := Stats{Total: len(appeals), ByType: make(map[Type]int, len(Types))}
	for _, typ := range Types {
		stats.ByType[typ] = 0
	}

	var reviewed int
	var hours float64
	for _, a := range appeals {
		stats.ByType[a.Type]++
		switch a.Status {
		case StatusPending:
			stats.Pending++
		case StatusMoreInfoRequested:
			stats.MoreInfoRequested++
		case StatusApproved:
			stats.Approved++
		case StatusRejected:
			stats.Rejected++
		}
		if !a.Status.Open() && a.ReviewedAt != nil {
			reviewed++
			hours += a.ReviewedAt.Sub(a.CreatedAt).Hours()
		}
	}
	if reviewed > 0 {
		stats.AvgReviewTimeHours = hours / float64(reviewed)
	}
	return stats, nil
}

// Custom Validators

func typeValidation(fl validator.FieldLevel) bool {
	t, ok := fl.Field().Interface().(Type)
	if !ok {
		return false
	}
	for _, typ := range Types {
		if t == typ {
			return true
		}
	}
	return false
}

func decisionValidation(fl validator.FieldLevel) bool {
	s, ok := fl.Field().Interface().(Status)
	return ok && s != StatusPending && s.Valid()
}
