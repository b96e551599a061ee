// Package eligibility owns a tenant's verification lifecycle: registration, document
// submission, admin decisions and grace-period expiry.
package eligibility

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-eligibility/core"
	"github.com/trezcool/masomo-eligibility/core/audit"
	"github.com/trezcool/masomo-eligibility/core/grace"
	"github.com/trezcool/masomo-eligibility/core/notification"
)

type (
	// Repository is the tenant store. Writes to a tenant's status go through ApplyTransition only.
	Repository interface {
		// CreateTenant fails with a *core.ConflictError when the slug is taken.
		CreateTenant(ctx context.Context, t Tenant) (Tenant, error)
		// GetTenant fails with a *core.NotFoundError; documents are not loaded.
		GetTenant(ctx context.Context, id string) (Tenant, error)
		// QueryTenants applies AND on the filter fields. A nil page returns every match.
		QueryTenants(ctx context.Context, filter QueryFilter, ordering []core.DBOrdering, page *core.Page) ([]Tenant, int, error)
		// ApplyTransition writes tr.Tenant only if the stored tenant still has status tr.From and
		// version tr.Tenant.Version-1, together with the document review if any.
		// A mismatch is a *core.ConflictError and nothing is written.
		ApplyTransition(ctx context.Context, tr Transition) (Tenant, error)
		CreateDocument(ctx context.Context, d Document) (Document, error)
		QueryDocuments(ctx context.Context, tenantIDs ...string) ([]Document, error)
		// CountTenants counts tenants per status, those with at least threshold students,
		// and documents per status.
		CountTenants(ctx context.Context, threshold int) (Counts, error)
		// CountActivity counts registrations, approvals and rejections at or after since.
		CountActivity(ctx context.Context, since time.Time) (Activity, error)
	}

	Config struct {
		StudentThreshold int
		Grace            grace.Config
		BulkConcurrency  int
	}

	Deps struct {
		Repo      Repository
		Validator *core.Validator
		Audit     *audit.Recorder
		Notifier  *notification.Dispatcher
		Metrics   core.Metrics
		Logger    core.Logger
		Config    Config
		Now       func() time.Time
	}

	Service struct {
		repo     Repository
		validate *core.Validator
		audit    *audit.Recorder
		notifier *notification.Dispatcher
		metrics  core.Metrics
		log      core.Logger
		conf     Config
		now      func() time.Time
	}
)

// ConfigFrom maps and checks the environment-level configuration.
func ConfigFrom(conf *core.Config) (Config, error) {
	cfg := Config{
		StudentThreshold: conf.Eligibility.StudentThreshold,
		Grace:            grace.ConfigFrom(conf.Grace),
		BulkConcurrency:  conf.Bulk.Concurrency,
	}
	if err := cfg.Grace.Validate(); err != nil {
		return Config{}, errors.Wrap(err, "invalid grace configuration")
	}
	if cfg.StudentThreshold <= 0 {
		return Config{}, errors.Errorf("eligibility.studentThreshold must be positive, got %d", cfg.StudentThreshold)
	}
	if cfg.BulkConcurrency <= 0 {
		return Config{}, errors.Errorf("bulk.concurrency must be positive, got %d", cfg.BulkConcurrency)
	}
	return cfg, nil
}

func NewService(deps Deps) *Service {
	svc := &Service{
		repo:     deps.Repo,
		validate: deps.Validator,
		audit:    deps.Audit,
		notifier: deps.Notifier,
		metrics:  deps.Metrics,
		log:      deps.Logger,
		conf:     deps.Config,
		now:      deps.Now,
	}
	if svc.log == nil {
		svc.log = core.NopLogger
	}
	if svc.metrics == nil {
		svc.metrics = core.NopMetrics
	}
	if svc.now == nil {
		svc.now = func() time.Time { return time.Now().UTC() }
	}
	if svc.notifier == nil {
		svc.notifier = notification.NewDispatcher(nil, svc.log, svc.metrics)
	}
	if svc.conf.BulkConcurrency < 1 {
		svc.conf.BulkConcurrency = 1
	}
	RegisterValidators(svc.validate)
	return svc
}

// GraceConfig is the grace configuration tenants are classified with.
func (svc *Service) GraceConfig() grace.Config { return svc.conf.Grace }

// Register creates a tenant. Tenants at or above the student threshold start PENDING with a
// fresh grace window; the others settle in EXPIRED ("not applicable") without a deadline.
func (svc *Service) Register(ctx context.Context, nt NewTenant, actor core.Actor) (Tenant, error) {
	nt.Clean()
	if err := svc.validate.Check(nt); err != nil {
		return Tenant{}, err
	}

	now := svc.now()
	t := Tenant{
		Name:         nt.Name,
		Slug:         nt.Slug,
		ContactEmail: nt.ContactEmail,
		StudentCount: nt.StudentCount,
		Status:       StatusExpired,
		CreatedAt:    now,
		UpdatedAt:    now,
		Version:      1,
	}
	if nt.StudentCount >= svc.conf.StudentThreshold {
		deadline := grace.Deadline(now, svc.conf.Grace)
		t.Status = StatusPending
		t.Deadline = &deadline
	}

	t, err := svc.repo.CreateTenant(ctx, t)
	if err != nil {
		return Tenant{}, errors.Wrap(err, "creating tenant")
	}

	svc.audit.Record(ctx, audit.Entry{
		TenantID:    t.ID,
		Action:      audit.ActionTenantRegistered,
		PerformedBy: actor.ID,
		Details: audit.Details{
			"student_count": t.StudentCount,
			"threshold":     svc.conf.StudentThreshold,
			"status":        t.Status,
			"deadline":      t.Deadline,
		},
	})
	return t, nil
}

// Get returns a tenant along with its documents.
func (svc *Service) Get(ctx context.Context, id string) (Tenant, error) {
	t, err := svc.repo.GetTenant(ctx, id)
	if err != nil {
		return Tenant{}, err
	}
	docs, err := svc.repo.QueryDocuments(ctx, t.ID)
	if err != nil {
		return Tenant{}, errors.Wrap(err, "querying documents")
	}
	t.Documents = docs
	return t, nil
}

func (svc *Service) Documents(ctx context.Context, tenantID string) ([]Document, error) {
	t, err := svc.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return t.Documents, nil
}

// UploadDocument records the metadata of a document stored elsewhere.
// The first document of a PENDING tenant puts it under review.
func (svc *Service) UploadDocument(ctx context.Context, tenantID string, nd NewDocument, actor core.Actor) (Document, error) {
	nd.Clean()
	if err := svc.validate.Check(nd); err != nil {
		return Document{}, err
	}

	t, err := svc.repo.GetTenant(ctx, tenantID)
	if err != nil {
		return Document{}, err
	}
	switch {
	case t.Status == StatusEligible:
		return Document{}, core.NewValidationError(errors.New("institution is already verified"))
	case t.Status == StatusExpired && t.StudentCount < svc.conf.StudentThreshold:
		return Document{}, core.NewValidationError(errors.Errorf(
			"institution does not meet the eligibility threshold of %d students", svc.conf.StudentThreshold))
	}

	now := svc.now()
	doc, err := svc.repo.CreateDocument(ctx, Document{
		TenantID:  t.ID,
		Type:      nd.Type,
		FileName:  nd.FileName,
		FileURL:   nd.FileURL,
		FileSize:  nd.FileSize,
		MimeType:  nd.MimeType,
		Status:    DocPending,
		CreatedAt: now,
	})
	if err != nil {
		return Document{}, errors.Wrap(err, "creating document")
	}

	details := audit.Details{
		"document_id":   doc.ID,
		"document_type": doc.Type,
		"file_name":     doc.FileName,
	}
	if submitRule.accepts(t.Status) {
		tr := advance(t, submitRule, now, svc.conf.Grace, actor.ID, "")
		switch _, err := svc.repo.ApplyTransition(ctx, tr); {
		case err == nil:
			svc.metrics.ObserveTransition(string(tr.From), string(tr.Tenant.Status))
			details["status_change"] = map[string]Status{"from": tr.From, "to": tr.Tenant.Status}
		case core.IsConflict(err):
			// another upload got there first
		default:
			return Document{}, errors.Wrap(err, "submitting tenant for review")
		}
	}

	svc.audit.Record(ctx, audit.Entry{
		TenantID:    t.ID,
		Action:      audit.ActionDocumentUploaded,
		PerformedBy: actor.ID,
		Details:     details,
	})
	return doc, nil
}

// Decide applies an admin decision to a tenant under review.
func (svc *Service) Decide(ctx context.Context, tenantID string, d Decision, actor core.Actor) (Tenant, error) {
	if err := svc.validate.Check(d); err != nil {
		return Tenant{}, err
	}
	d.ReviewNotes = core.CleanString(d.ReviewNotes)

	r, ok := decisionRules[d.Action]
	if !ok {
		return Tenant{}, core.NewValidationError(nil, core.FieldError{Field: "action", Error: actionText})
	}
	return svc.transition(ctx, tenantID, r, actor, d.ReviewNotes, audit.Details{"action": d.Action})
}

// Expire lapses an in-grace tenant whose grace period is over as of now.
func (svc *Service) Expire(ctx context.Context, tenantID string, now time.Time) (Tenant, error) {
	t, err := svc.repo.GetTenant(ctx, tenantID)
	if err != nil {
		svc.recordFailure(ctx, tenantID, "", expireRule, core.SystemActor, err, nil)
		return Tenant{}, err
	}
	refuse := func(err error) (Tenant, error) {
		svc.recordFailure(ctx, t.ID, t.Status, expireRule, core.SystemActor, err, nil)
		return Tenant{}, err
	}
	if !expireRule.accepts(t.Status) {
		return refuse(core.NewConflictError("tenant is %s and cannot expire", t.Status))
	}
	if t.Deadline == nil {
		return refuse(core.NewConflictError("tenant has no eligibility deadline"))
	}
	details := grace.Calculate(*t.Deadline, now, svc.conf.Grace)
	if !details.Status.Lapsed() {
		return refuse(core.NewConflictError("grace period is still %s", details.Status))
	}

	tr := advance(t, expireRule, now, svc.conf.Grace, core.SystemActor.ID, "")
	return svc.commit(ctx, t, tr, expireRule, core.SystemActor, "", audit.Details{
		"deadline":       details.Deadline,
		"days_remaining": details.DaysRemaining,
		"grace_level":    details.Status,
	})
}

// ApplyAppealOutcome settles a reviewed appeal onto its tenant. The tenant must still be in the
// REJECTED or REQUIRES_MORE_INFO status the appeal was raised against, or EXPIRED if it lapsed
// while the appeal was open.
// The caller records the audit entry and sends the notification.
func (svc *Service) ApplyAppealOutcome(ctx context.Context, tenantID string, outcome AppealOutcome, notes string, actor core.Actor) (Tenant, error) {
	r, ok := appealRules[outcome]
	if !ok {
		return Tenant{}, errors.Errorf("unknown appeal outcome %q", outcome)
	}
	details := audit.Details{"appeal_outcome": outcome}
	t, err := svc.repo.GetTenant(ctx, tenantID)
	if err != nil {
		svc.recordFailure(ctx, tenantID, "", r, actor, err, details)
		return Tenant{}, err
	}
	if !r.accepts(t.Status) {
		err = core.NewConflictError("tenant is %s and cannot take an appeal outcome", t.Status)
		svc.recordFailure(ctx, t.ID, t.Status, r, actor, err, details)
		return Tenant{}, err
	}

	tr := advance(t, r, svc.now(), svc.conf.Grace, actor.ID, notes)
	next, err := svc.repo.ApplyTransition(ctx, tr)
	if err != nil {
		svc.recordFailure(ctx, t.ID, t.Status, r, actor, err, details)
		return Tenant{}, err
	}
	svc.metrics.ObserveTransition(string(tr.From), string(next.Status))
	return next, nil
}

func (svc *Service) transition(ctx context.Context, tenantID string, r rule, actor core.Actor, notes string, details audit.Details) (Tenant, error) {
	t, err := svc.repo.GetTenant(ctx, tenantID)
	if err != nil {
		svc.recordFailure(ctx, tenantID, "", r, actor, err, details)
		return Tenant{}, err
	}
	if !r.accepts(t.Status) {
		err = core.NewConflictError("tenant is %s, expected %s", t.Status, r.from[0])
		svc.recordFailure(ctx, t.ID, t.Status, r, actor, err, details)
		return Tenant{}, err
	}
	tr := advance(t, r, svc.now(), svc.conf.Grace, actor.ID, notes)
	return svc.commit(ctx, t, tr, r, actor, notes, details)
}

// recordFailure audits a state change that was refused or could not be written.
// actual is empty when the tenant could not be loaded.
func (svc *Service) recordFailure(ctx context.Context, tenantID string, actual Status, r rule, actor core.Actor, err error, extra audit.Details) {
	details := audit.Details{
		"attempted": r.audit,
		"expected":  r.from,
		"to":        r.to,
		"error":     err.Error(),
	}
	if actual != "" {
		details["actual"] = actual
	}
	for k, v := range extra {
		details[k] = v
	}
	svc.audit.Record(ctx, audit.Entry{
		TenantID:    tenantID,
		Action:      audit.ActionVerificationFailed,
		PerformedBy: actor.ID,
		Details:     details,
	})
}

// commit writes the transition, then records and announces it.
func (svc *Service) commit(ctx context.Context, prev Tenant, tr Transition, r rule, actor core.Actor, notes string, details audit.Details) (Tenant, error) {
	next, err := svc.repo.ApplyTransition(ctx, tr)
	if err != nil {
		svc.recordFailure(ctx, prev.ID, prev.Status, r, actor, err, details)
		return Tenant{}, err
	}
	svc.metrics.ObserveTransition(string(tr.From), string(next.Status))

	if details == nil {
		details = audit.Details{}
	}
	details["from"] = tr.From
	details["to"] = next.Status
	if notes != "" {
		details["review_notes"] = notes
	}
	svc.audit.Record(ctx, audit.Entry{
		TenantID:    next.ID,
		Action:      r.audit,
		PerformedBy: actor.ID,
		Details:     details,
	})

	if r.notify != "" {
		svc.notifier.Send(ctx, notification.Intent{
			TenantID:     next.ID,
			TenantName:   prev.Name,
			ContactEmail: prev.ContactEmail,
			Kind:         r.notify,
			Notes:        notes,
			Deadline:     next.Deadline,
			Actor:        actor,
		})
	}
	return next, nil
}

// Queue lists the tenants in status with their documents, most recent first.
func (svc *Service) Queue(ctx context.Context, status Status, page core.Page) ([]Tenant, core.Pagination, error) {
	if !status.Valid() {
		return nil, core.Pagination{}, core.NewValidationError(nil, core.FieldError{Field: "status", Error: "invalid eligibility status"})
	}
	page.Clean()

	filter := QueryFilter{Statuses: []Status{status}}
	tenants, total, err := svc.repo.QueryTenants(ctx, filter, []core.DBOrdering{{Field: "created_at"}}, &page)
	if err != nil {
		return nil, core.Pagination{}, errors.Wrap(err, "querying tenants")
	}
	if err = svc.attachDocuments(ctx, tenants); err != nil {
		return nil, core.Pagination{}, err
	}
	return tenants, core.NewPagination(page, total), nil
}

// Export lists every tenant matching filter with its documents, most recent first.
func (svc *Service) Export(ctx context.Context, filter QueryFilter) ([]Tenant, error) {
	filter.Clean()
	for _, st := range filter.Statuses {
		if !st.Valid() {
			return nil, core.NewValidationError(nil, core.FieldError{Field: "status", Error: "invalid eligibility status"})
		}
	}
	tenants, _, err := svc.repo.QueryTenants(ctx, filter, []core.DBOrdering{{Field: "created_at"}}, nil)
	if err != nil {
		return nil, errors.Wrap(err, "querying tenants")
	}
	if err = svc.attachDocuments(ctx, tenants); err != nil {
		return nil, err
	}
	return tenants, nil
}

// Due lists in-grace tenants whose deadline is before now, oldest deadline first.
func (svc *Service) Due(ctx context.Context, now time.Time) ([]Tenant, error) {
	filter := QueryFilter{Statuses: expireRule.from, DueBefore: now}
	tenants, _, err := svc.repo.QueryTenants(ctx, filter, []core.DBOrdering{{Field: "eligibility_deadline", Ascending: true}}, nil)
	if err != nil {
		return nil, errors.Wrap(err, "querying due tenants")
	}
	return tenants, nil
}

func (svc *Service) attachDocuments(ctx context.Context, tenants []Tenant) error {
	if len(tenants) == 0 {
		return nil
	}
	ids := make([]string, 0, len(tenants))
	for _, t := range tenants {
		ids = append(ids, t.ID)
	}
	docs, err := svc.repo.QueryDocuments(ctx, ids...)
	if err != nil {
		return errors.Wrap(err, "querying documents")
	}
	byTenant := make(map[string][]Document, len(tenants))
	for _, d := range docs {
		byTenant[d.TenantID] = append(byTenant[d.TenantID], d)
	}
	for i := range tenants {
		tenants[i].Documents = byTenant[tenants[i].ID]
	}
	return nil
}
