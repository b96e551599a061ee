package appeal_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-eligibility/core"
	"github.com/trezcool/masomo-eligibility/core/appeal"
	"github.com/trezcool/masomo-eligibility/core/audit"
	"github.com/trezcool/masomo-eligibility/core/eligibility"
	"github.com/trezcool/masomo-eligibility/core/grace"
	"github.com/trezcool/masomo-eligibility/core/notification"
	inmemdb "github.com/trezcool/masomo-eligibility/storage/database/inmem"
	testutil "github.com/trezcool/masomo-eligibility/tests"
)

var (
	ctx    = context.Background()
	admin  = core.Actor{ID: "admin-1"}
	owner  = core.Actor{ID: "owner-1"}
	start  = time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
	reason = strings.Repeat("Our enrollment figures were misread by the reviewer. ", 2)
)

type fixture struct {
	tenants  *eligibility.Service
	appeals  *appeal.Service
	audit    audit.Store
	notified *testutil.RecordingNotifier
	clock    *testutil.Clock
}

func setup(t *testing.T) *fixture {
	t.Helper()
	return setupWith(t, nil)
}

// setupWith lets a test decorate the state machine the appeals are settled on.
func setupWith(t *testing.T, wrap func(appeal.Tenants) appeal.Tenants) *fixture {
	t.Helper()
	db := inmemdb.Open()
	f := &fixture{
		audit:    inmemdb.NewAuditRepository(db),
		notified: new(testutil.RecordingNotifier),
		clock:    testutil.NewClock(start),
	}
	validate := core.NewValidator()
	recorder := audit.NewRecorder(f.audit, core.NopLogger, core.NopMetrics)
	dispatcher := notification.NewDispatcher(f.notified, core.NopLogger, core.NopMetrics)

	f.tenants = eligibility.NewService(eligibility.Deps{
		Repo:      inmemdb.NewTenantRepository(db),
		Validator: validate,
		Audit:     recorder,
		Notifier:  dispatcher,
		Config:    eligibility.Config{StudentThreshold: 1500, Grace: grace.DefaultConfig},
		Now:       f.clock.Now,
	})
	var tenants appeal.Tenants = f.tenants
	if wrap != nil {
		tenants = wrap(tenants)
	}
	f.appeals = appeal.NewService(appeal.Deps{
		Repo:      inmemdb.NewAppealRepository(db),
		Tenants:   tenants,
		Validator: validate,
		Audit:     recorder,
		Notifier:  dispatcher,
		Now:       f.clock.Now,
	})
	return f
}

// decided registers a tenant, submits a document and applies action.
func (f *fixture) decided(t *testing.T, slug string, action eligibility.Action) eligibility.Tenant {
	t.Helper()
	tnt, err := f.tenants.Register(ctx, eligibility.NewTenant{Name: slug, Slug: slug, StudentCount: 2000}, owner)
	require.NoError(t, err)
	_, err = f.tenants.UploadDocument(ctx, tnt.ID, eligibility.NewDocument{
		Type:     eligibility.DocAICTEApproval,
		FileName: "aicte.pdf",
		FileURL:  "https://files.masomo.dev/aicte.pdf",
		FileSize: 1024,
		MimeType: "application/pdf",
	}, owner)
	require.NoError(t, err)
	tnt, err = f.tenants.Decide(ctx, tnt.ID, eligibility.Decision{Action: action, ReviewNotes: "initial review"}, admin)
	require.NoError(t, err)
	return tnt
}

func (f *fixture) submit(t *testing.T, tenantID string) appeal.Appeal {
	t.Helper()
	a, err := f.appeals.Submit(ctx, tenantID, appeal.NewAppeal{
		Reason:              reason,
		SupportingDocuments: []string{"https://files.masomo.dev/enrollment.pdf"},
	}, owner)
	require.NoError(t, err)
	return a
}

// Reject, appeal, approve the appeal: the tenant ends up verified.
func TestAppealApproved(t *testing.T) {
	f := setup(t)
	tnt := f.decided(t, "greenfield", eligibility.ActionReject)

	a := f.submit(t, tnt.ID)
	assert.Equal(t, appeal.StatusPending, a.Status)
	assert.Equal(t, appeal.TypeStatus, a.Type)
	assert.Equal(t, eligibility.StatusRejected, a.OriginalDecision)

	f.clock.Set(start.Add(48 * time.Hour))
	reviewed, err := f.appeals.Review(ctx, a.ID, appeal.Review{Decision: appeal.StatusApproved}, admin)
	require.NoError(t, err)
	assert.Equal(t, appeal.StatusApproved, reviewed.Status)
	assert.Equal(t, admin.ID, reviewed.ReviewedBy)
	require.NotNil(t, reviewed.ReviewedAt)

	got, err := f.tenants.Get(ctx, tnt.ID)
	require.NoError(t, err)
	assert.Equal(t, eligibility.StatusEligible, got.Status)
	assert.Nil(t, got.Deadline)
	require.NotNil(t, got.VerifiedAt)

	entries, _, err := f.audit.Query(ctx, audit.Filter{TenantID: tnt.ID}, core.Page{Number: 1, Limit: 100})
	require.NoError(t, err)
	actions := make([]audit.Action, 0, len(entries))
	for _, e := range entries {
		actions = append(actions, e.Action)
	}
	assert.Contains(t, actions, audit.ActionAppealSubmitted)
	assert.Contains(t, actions, audit.ActionAppealReviewed)
	assert.Equal(t, notification.KindAppealApproved, f.notified.Kinds()[len(f.notified.Kinds())-1])

	t.Run("resolved appeals cannot be reviewed again", func(t *testing.T) {
		_, err := f.appeals.Review(ctx, a.ID, appeal.Review{Decision: appeal.StatusRejected, ReviewNotes: "changed my mind"}, admin)
		assert.True(t, core.IsConflict(err))
		assert.Contains(t, f.actions(t, tnt.ID), audit.ActionAppealReviewFailed)
	})
}

func TestAppealRejectedAndMoreInfo(t *testing.T) {
	f := setup(t)

	t.Run("rejected appeal keeps the tenant rejected", func(t *testing.T) {
		tnt := f.decided(t, "alpha", eligibility.ActionReject)
		a := f.submit(t, tnt.ID)

		_, err := f.appeals.Review(ctx, a.ID, appeal.Review{Decision: appeal.StatusRejected, ReviewNotes: "Documents are insufficient"}, admin)
		require.NoError(t, err)

		got, err := f.tenants.Get(ctx, tnt.ID)
		require.NoError(t, err)
		assert.Equal(t, eligibility.StatusRejected, got.Status)
		assert.Nil(t, got.Deadline)
	})

	t.Run("more info moves a rejected tenant back into grace", func(t *testing.T) {
		tnt := f.decided(t, "beta", eligibility.ActionReject)
		a := f.submit(t, tnt.ID)

		reviewed, err := f.appeals.Review(ctx, a.ID, appeal.Review{Decision: appeal.StatusMoreInfoRequested, ReviewNotes: "Send the NCTE letter"}, admin)
		require.NoError(t, err)
		assert.True(t, reviewed.Status.Open())

		got, err := f.tenants.Get(ctx, tnt.ID)
		require.NoError(t, err)
		assert.Equal(t, eligibility.StatusRequiresMoreInfo, got.Status)
		require.NotNil(t, got.Deadline)
		assert.True(t, f.clock.Now().AddDate(0, 0, grace.DefaultConfig.InitialDays).Equal(*got.Deadline))

		// the appeal is still open and can be settled
		_, err = f.appeals.Review(ctx, a.ID, appeal.Review{Decision: appeal.StatusApproved}, admin)
		require.NoError(t, err)
		got, err = f.tenants.Get(ctx, tnt.ID)
		require.NoError(t, err)
		assert.Equal(t, eligibility.StatusEligible, got.Status)
	})
}

func TestSubmit(t *testing.T) {
	f := setup(t)

	t.Run("one open appeal per tenant", func(t *testing.T) {
		tnt := f.decided(t, "alpha", eligibility.ActionRequiresMoreInfo)
		a := f.submit(t, tnt.ID)

		_, err := f.appeals.Submit(ctx, tnt.ID, appeal.NewAppeal{Reason: reason}, owner)
		require.True(t, core.IsConflict(err))

		_, err = f.appeals.Review(ctx, a.ID, appeal.Review{Decision: appeal.StatusRejected, ReviewNotes: "No new evidence"}, admin)
		require.NoError(t, err)

		// allowed again once resolved
		f.submit(t, tnt.ID)
		appeals, err := f.appeals.ForTenant(ctx, tnt.ID)
		require.NoError(t, err)
		assert.Len(t, appeals, 2)
	})

	t.Run("only rejected or more-info tenants may appeal", func(t *testing.T) {
		tnt := f.decided(t, "beta", eligibility.ActionApprove)
		_, err := f.appeals.Submit(ctx, tnt.ID, appeal.NewAppeal{Reason: reason}, owner)
		assert.True(t, core.IsValidation(err))
	})

	t.Run("reason too short", func(t *testing.T) {
		tnt := f.decided(t, "gamma", eligibility.ActionReject)
		_, err := f.appeals.Submit(ctx, tnt.ID, appeal.NewAppeal{Reason: "Please reconsider"}, owner)
		var vErr *core.ValidationError
		require.ErrorAs(t, err, &vErr)
		assert.Equal(t, "appeal_reason", vErr.Fields[0].Field)
	})

	t.Run("unknown appeal type", func(t *testing.T) {
		tnt := f.decided(t, "delta", eligibility.ActionReject)
		_, err := f.appeals.Submit(ctx, tnt.ID, appeal.NewAppeal{Type: "vibes", Reason: reason}, owner)
		assert.True(t, core.IsValidation(err))
	})

	t.Run("unknown tenant", func(t *testing.T) {
		_, err := f.appeals.Submit(ctx, "unknown", appeal.NewAppeal{Reason: reason}, owner)
		assert.True(t, core.IsNotFound(err))
	})
}

func TestReview_Validation(t *testing.T) {
	f := setup(t)
	tnt := f.decided(t, "alpha", eligibility.ActionReject)
	a := f.submit(t, tnt.ID)

	_, err := f.appeals.Review(ctx, a.ID, appeal.Review{Decision: appeal.StatusRejected}, admin)
	var vErr *core.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "review_notes", vErr.Fields[0].Field)

	_, err = f.appeals.Review(ctx, a.ID, appeal.Review{Decision: appeal.StatusPending, ReviewNotes: "x"}, admin)
	assert.True(t, core.IsValidation(err))

	_, err = f.appeals.Review(ctx, "unknown", appeal.Review{Decision: appeal.StatusApproved}, admin)
	assert.True(t, core.IsNotFound(err))
}

func (f *fixture) actions(t *testing.T, tenantID string) []audit.Action {
	t.Helper()
	entries, _, err := f.audit.Query(ctx, audit.Filter{TenantID: tenantID}, core.Page{Number: 1, Limit: 100})
	require.NoError(t, err)
	actions := make([]audit.Action, 0, len(entries))
	for _, e := range entries {
		actions = append(actions, e.Action)
	}
	return actions
}

// The scanner lapsed the tenant while its appeal was open: the appeal still settles it.
func TestReview_TenantExpiredWhileAppealOpen(t *testing.T) {
	f := setup(t)
	alpha := f.decided(t, "alpha", eligibility.ActionRequiresMoreInfo)
	beta := f.decided(t, "beta", eligibility.ActionRequiresMoreInfo)
	a := f.submit(t, alpha.ID)
	b := f.submit(t, beta.ID)

	f.clock.Set(start.AddDate(0, 0, 45))
	for _, id := range []string{alpha.ID, beta.ID} {
		got, err := f.tenants.Expire(ctx, id, f.clock.Now())
		require.NoError(t, err)
		require.Equal(t, eligibility.StatusExpired, got.Status)
	}

	t.Run("approved", func(t *testing.T) {
		reviewed, err := f.appeals.Review(ctx, a.ID, appeal.Review{Decision: appeal.StatusApproved}, admin)
		require.NoError(t, err)
		assert.Equal(t, appeal.StatusApproved, reviewed.Status)

		got, err := f.tenants.Get(ctx, alpha.ID)
		require.NoError(t, err)
		assert.Equal(t, eligibility.StatusEligible, got.Status)
		assert.Nil(t, got.Deadline)
		require.NotNil(t, got.VerifiedAt)
	})

	t.Run("more info opens a fresh grace window", func(t *testing.T) {
		reviewed, err := f.appeals.Review(ctx, b.ID, appeal.Review{Decision: appeal.StatusMoreInfoRequested, ReviewNotes: "send the student ID samples"}, admin)
		require.NoError(t, err)
		assert.Equal(t, appeal.StatusMoreInfoRequested, reviewed.Status)

		got, err := f.tenants.Get(ctx, beta.ID)
		require.NoError(t, err)
		assert.Equal(t, eligibility.StatusRequiresMoreInfo, got.Status)
		require.NotNil(t, got.Deadline)
		assert.True(t, f.clock.Now().AddDate(0, 0, grace.DefaultConfig.InitialDays).Equal(*got.Deadline))
	})

	t.Run("expired tenants cannot open a new appeal", func(t *testing.T) {
		tnt := f.decided(t, "gamma", eligibility.ActionRequiresMoreInfo)
		_, err := f.tenants.Expire(ctx, tnt.ID, f.clock.Now().AddDate(0, 0, grace.DefaultConfig.InitialDays+1))
		require.NoError(t, err)

		_, err = f.appeals.Submit(ctx, tnt.ID, appeal.NewAppeal{Reason: reason}, owner)
		assert.True(t, core.IsValidation(err))
	})
}

type refusingTenants struct {
	appeal.Tenants
}

func (refusingTenants) ApplyAppealOutcome(context.Context, string, eligibility.AppealOutcome, string, core.Actor) (eligibility.Tenant, error) {
	return eligibility.Tenant{}, core.NewConflictError("tenant is UNDER_REVIEW and cannot take an appeal outcome")
}

// When the tenant refuses the outcome the appeal claim is released and the failure audited.
func TestReview_ClaimReleasedOnRefusal(t *testing.T) {
	f := setupWith(t, func(inner appeal.Tenants) appeal.Tenants { return refusingTenants{inner} })
	tnt := f.decided(t, "alpha", eligibility.ActionReject)
	a := f.submit(t, tnt.ID)

	_, err := f.appeals.Review(ctx, a.ID, appeal.Review{Decision: appeal.StatusApproved}, admin)
	require.True(t, core.IsConflict(err))

	got, err := f.appeals.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, appeal.StatusPending, got.Status)
	assert.Empty(t, got.ReviewedBy)
	assert.Contains(t, f.actions(t, tnt.ID), audit.ActionAppealReviewFailed)
}

func TestReview_ConcurrentReviewsSettleOnce(t *testing.T) {
	f := setup(t)
	tnt := f.decided(t, "alpha", eligibility.ActionReject)
	a := f.submit(t, tnt.ID)

	reviews := []appeal.Review{
		{Decision: appeal.StatusApproved},
		{Decision: appeal.StatusRejected, ReviewNotes: "no"},
		{Decision: appeal.StatusApproved},
	}
	errs := make([]error, len(reviews))
	var wg sync.WaitGroup
	for i, rv := range reviews {
		wg.Add(1)
		go func(i int, rv appeal.Review) {
			defer wg.Done()
			_, errs[i] = f.appeals.Review(ctx, a.ID, rv, admin)
		}(i, rv)
	}
	wg.Wait()

	var settled int
	for _, err := range errs {
		if err == nil {
			settled++
			continue
		}
		assert.True(t, core.IsConflict(err))
	}
	assert.Equal(t, 1, settled)
}

func TestQueriesAndStats(t *testing.T) {
	f := setup(t)
	alpha := f.decided(t, "alpha", eligibility.ActionReject)
	beta := f.decided(t, "beta", eligibility.ActionReject)
	gamma := f.decided(t, "gamma", eligibility.ActionRequiresMoreInfo)

	a := f.submit(t, alpha.ID)
	f.clock.Set(start.Add(time.Hour))
	f.submit(t, beta.ID)
	f.clock.Set(start.Add(2 * time.Hour))
	_, err := f.appeals.Submit(ctx, gamma.ID, appeal.NewAppeal{Type: appeal.TypeDocumentation, Reason: reason}, owner)
	require.NoError(t, err)

	f.clock.Set(start.Add(12 * time.Hour))
	_, err = f.appeals.Review(ctx, a.ID, appeal.Review{Decision: appeal.StatusApproved}, admin)
	require.NoError(t, err)

	pending, pg, err := f.appeals.Pending(ctx, core.Page{Number: 1, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 2, pg.Total)
	require.Len(t, pending, 2)
	assert.Equal(t, beta.ID, pending[0].TenantID, "oldest first")

	resolved, _, err := f.appeals.Query(ctx, []appeal.Status{appeal.StatusApproved}, core.Page{})
	require.NoError(t, err)
	require.Len(t, resolved, 1)
	assert.Equal(t, a.ID, resolved[0].ID)

	_, _, err = f.appeals.Query(ctx, []appeal.Status{"LOST"}, core.Page{})
	assert.True(t, core.IsValidation(err))

	stats, err := f.appeals.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.Pending)
	assert.Equal(t, 1, stats.Approved)
	assert.Equal(t, 0, stats.Rejected)
	assert.Equal(t, 2, stats.ByType[appeal.TypeStatus])
	assert.Equal(t, 1, stats.ByType[appeal.TypeDocumentation])
	assert.Equal(t, 0, stats.ByType[appeal.TypeTier])
	assert.InDelta(t, 12.0, stats.AvgReviewTimeHours, 0.001)
}
