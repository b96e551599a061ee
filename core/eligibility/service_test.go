package eligibility_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-eligibility/core"
	"github.com/trezcool/masomo-eligibility/core/audit"
	"github.com/trezcool/masomo-eligibility/core/eligibility"
	"github.com/trezcool/masomo-eligibility/core/grace"
	"github.com/trezcool/masomo-eligibility/core/notification"
	inmemdb "github.com/trezcool/masomo-eligibility/storage/database/inmem"
	testutil "github.com/trezcool/masomo-eligibility/tests"
)

var (
	ctx   = context.Background()
	admin = core.Actor{ID: "admin-1", Email: "admin@masomo.dev"}
	owner = core.Actor{ID: "owner-1", Email: "owner@greenfield.edu"}
	start = time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
)

type fixture struct {
	svc      *eligibility.Service
	repo     eligibility.Repository
	audit    audit.Store
	clock    *testutil.Clock
	notified *testutil.RecordingNotifier
}

func setup(t *testing.T) *fixture {
	t.Helper()
	return setupWith(t, nil)
}

// setupWith lets a test decorate the tenant store.
func setupWith(t *testing.T, wrap func(eligibility.Repository) eligibility.Repository) *fixture {
	t.Helper()
	db := inmemdb.Open()
	f := &fixture{
		repo:     inmemdb.NewTenantRepository(db),
		audit:    inmemdb.NewAuditRepository(db),
		clock:    testutil.NewClock(start),
		notified: new(testutil.RecordingNotifier),
	}
	if wrap != nil {
		f.repo = wrap(f.repo)
	}
	f.svc = eligibility.NewService(eligibility.Deps{
		Repo:      f.repo,
		Validator: core.NewValidator(),
		Audit:     audit.NewRecorder(f.audit, core.NopLogger, core.NopMetrics),
		Notifier:  notification.NewDispatcher(f.notified, core.NopLogger, core.NopMetrics),
		Config: eligibility.Config{
			StudentThreshold: 1500,
			Grace:            grace.DefaultConfig,
			BulkConcurrency:  4,
		},
		Now: f.clock.Now,
	})
	return f
}

func (f *fixture) register(t *testing.T, slug string, students int) eligibility.Tenant {
	t.Helper()
	tnt, err := f.svc.Register(ctx, eligibility.NewTenant{
		Name:         "Institution " + slug,
		Slug:         slug,
		ContactEmail: "admin@" + slug + ".edu",
		StudentCount: students,
	}, owner)
	require.NoError(t, err)
	return tnt
}

func (f *fixture) upload(t *testing.T, tenantID string) eligibility.Document {
	t.Helper()
	doc, err := f.svc.UploadDocument(ctx, tenantID, testutil.NewDocument(), owner)
	require.NoError(t, err)
	return doc
}

func (f *fixture) failures(t *testing.T, tenantID string) []audit.Entry {
	t.Helper()
	entries, _, err := f.audit.Query(ctx, audit.Filter{TenantID: tenantID, Action: audit.ActionVerificationFailed}, core.Page{Number: 1, Limit: 100})
	require.NoError(t, err)
	return entries
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

func TestRegister(t *testing.T) {
	f := setup(t)

	t.Run("above threshold opens a grace window", func(t *testing.T) {
		tnt := f.register(t, "greenfield", 2000)
		assert.Equal(t, eligibility.StatusPending, tnt.Status)
		require.NotNil(t, tnt.Deadline)
		assert.True(t, start.AddDate(0, 0, 30).Equal(*tnt.Deadline))
		assert.Nil(t, tnt.VerifiedAt)
		assert.Equal(t, 1, tnt.Version)
		assert.Equal(t, []audit.Action{audit.ActionTenantRegistered}, f.actions(t, tnt.ID))
	})

	t.Run("exactly at threshold is eligible for verification", func(t *testing.T) {
		tnt := f.register(t, "edge-college", 1500)
		assert.Equal(t, eligibility.StatusPending, tnt.Status)
	})

	t.Run("below threshold is not applicable", func(t *testing.T) {
		tnt := f.register(t, "tiny-school", 200)
		assert.Equal(t, eligibility.StatusExpired, tnt.Status)
		assert.Nil(t, tnt.Deadline)
	})

	t.Run("duplicate slug", func(t *testing.T) {
		_, err := f.svc.Register(ctx, eligibility.NewTenant{Name: "Other", Slug: "greenfield", StudentCount: 10}, owner)
		assert.True(t, core.IsConflict(err))
	})

	t.Run("invalid input", func(t *testing.T) {
		_, err := f.svc.Register(ctx, eligibility.NewTenant{Name: "  ", Slug: "Bad Slug!", StudentCount: -1}, owner)
		require.True(t, core.IsValidation(err))
		var vErr *core.ValidationError
		require.ErrorAs(t, err, &vErr)
		fields := make([]string, 0, len(vErr.Fields))
		for _, fe := range vErr.Fields {
			fields = append(fields, fe.Field)
		}
		assert.ElementsMatch(t, []string{"name", "slug", "student_count"}, fields)
	})
}

// Register, upload, approve: the happy path.
func TestVerificationApproved(t *testing.T) {
	f := setup(t)
	tnt := f.register(t, "greenfield", 2000)

	f.clock.Advance(24 * time.Hour)
	doc := f.upload(t, tnt.ID)
	assert.Equal(t, eligibility.DocPending, doc.Status)

	got, err := f.svc.Get(ctx, tnt.ID)
	require.NoError(t, err)
	assert.Equal(t, eligibility.StatusUnderReview, got.Status)
	assert.True(t, tnt.Deadline.Equal(*got.Deadline), "grace-to-grace keeps the deadline")
	require.Len(t, got.Documents, 1)

	f.clock.Advance(24 * time.Hour)
	approved, err := f.svc.Decide(ctx, tnt.ID, eligibility.Decision{Action: eligibility.ActionApprove, ReviewNotes: "All good"}, admin)
	require.NoError(t, err)
	assert.Equal(t, eligibility.StatusEligible, approved.Status)
	assert.Nil(t, approved.Deadline)
	require.NotNil(t, approved.VerifiedAt)
	assert.True(t, f.clock.Now().Equal(*approved.VerifiedAt))
	assert.Equal(t, 3, approved.Version)

	docs, err := f.svc.Documents(ctx, tnt.ID)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, eligibility.DocApproved, docs[0].Status)
	assert.Equal(t, admin.ID, docs[0].ReviewedBy)
	assert.Equal(t, "All good", docs[0].ReviewNotes)

	assert.ElementsMatch(t, []audit.Action{
		audit.ActionTenantRegistered,
		audit.ActionDocumentUploaded,
		audit.ActionVerificationApproved,
	}, f.actions(t, tnt.ID))
	assert.Equal(t, []notification.Kind{notification.KindApproved}, f.notified.Kinds())

	t.Run("verified tenants cannot upload", func(t *testing.T) {
		_, err := f.svc.UploadDocument(ctx, tnt.ID, testutil.NewDocument(), owner)
		assert.True(t, core.IsValidation(err))
	})
}

func TestVerificationRejectedAndMoreInfo(t *testing.T) {
	f := setup(t)

	rejected := f.register(t, "rejected-college", 2000)
	f.upload(t, rejected.ID)
	got, err := f.svc.Decide(ctx, rejected.ID, eligibility.Decision{Action: eligibility.ActionReject, ReviewNotes: "Forged certificate"}, admin)
	require.NoError(t, err)
	assert.Equal(t, eligibility.StatusRejected, got.Status)
	assert.Nil(t, got.Deadline)
	assert.Nil(t, got.VerifiedAt)

	docs, err := f.svc.Documents(ctx, rejected.ID)
	require.NoError(t, err)
	assert.Equal(t, eligibility.DocRejected, docs[0].Status)

	moreInfo := f.register(t, "moreinfo-college", 2000)
	f.upload(t, moreInfo.ID)
	f.clock.Advance(10 * 24 * time.Hour)
	got, err = f.svc.Decide(ctx, moreInfo.ID, eligibility.Decision{Action: eligibility.ActionRequiresMoreInfo, ReviewNotes: "Need ID samples"}, admin)
	require.NoError(t, err)
	assert.Equal(t, eligibility.StatusRequiresMoreInfo, got.Status)
	require.NotNil(t, got.Deadline)
	assert.True(t, moreInfo.Deadline.Equal(*got.Deadline))

	assert.Equal(t, []notification.Kind{notification.KindRejected, notification.KindRequiresMoreInfo}, f.notified.Kinds())
}

func TestDecide_InvalidTransitionLeavesTenantUnchanged(t *testing.T) {
	f := setup(t)
	tnt := f.register(t, "greenfield", 2000)

	_, err := f.svc.Decide(ctx, tnt.ID, eligibility.Decision{Action: eligibility.ActionApprove}, admin)
	require.True(t, core.IsConflict(err))

	got, err := f.svc.Get(ctx, tnt.ID)
	require.NoError(t, err)
	assert.Equal(t, eligibility.StatusPending, got.Status)
	assert.Equal(t, tnt.Version, got.Version)
	assert.Empty(t, f.notified.Kinds())

	// the refusal is audited, the tenant is not
	assert.ElementsMatch(t, []audit.Action{audit.ActionTenantRegistered, audit.ActionVerificationFailed}, f.actions(t, tnt.ID))
	failed := f.failures(t, tnt.ID)
	require.Len(t, failed, 1)
	assert.Equal(t, admin.ID, failed[0].PerformedBy)
	assert.Equal(t, "VERIFICATION_APPROVED", fmt.Sprint(failed[0].Details["attempted"]))
	assert.Equal(t, "PENDING", fmt.Sprint(failed[0].Details["actual"]))
	assert.Contains(t, fmt.Sprint(failed[0].Details["error"]), "tenant is PENDING")

	_, err = f.svc.Decide(ctx, "unknown", eligibility.Decision{Action: eligibility.ActionApprove}, admin)
	assert.True(t, core.IsNotFound(err))
	assert.Len(t, f.failures(t, "unknown"), 1)

	_, err = f.svc.Decide(ctx, tnt.ID, eligibility.Decision{Action: "ESCALATE"}, admin)
	assert.True(t, core.IsValidation(err))

	// REQUEST_INFO is only spelled that way in bulk requests
	_, err = f.svc.Decide(ctx, tnt.ID, eligibility.Decision{Action: eligibility.ActionRequestInfo}, admin)
	assert.True(t, core.IsValidation(err))
}

func TestDecide_ConcurrentDecisionsCommitOnce(t *testing.T) {
	f := setup(t)
	tnt := f.register(t, "greenfield", 2000)
	f.upload(t, tnt.ID)

	actions := []eligibility.Action{eligibility.ActionApprove, eligibility.ActionReject, eligibility.ActionApprove, eligibility.ActionReject}
	errs := make([]error, len(actions))
	var wg sync.WaitGroup
	for i, a := range actions {
		wg.Add(1)
		go func(i int, a eligibility.Action) {
			defer wg.Done()
			_, errs[i] = f.svc.Decide(ctx, tnt.ID, eligibility.Decision{Action: a}, admin)
		}(i, a)
	}
	wg.Wait()

	var committed int
	for _, err := range errs {
		if err == nil {
			committed++
			continue
		}
		assert.True(t, core.IsConflict(err))
	}
	assert.Equal(t, 1, committed)

	got, err := f.svc.Get(ctx, tnt.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Version)
	assert.Len(t, f.notified.Kinds(), 1)
}

func TestUploadDocument(t *testing.T) {
	f := setup(t)

	t.Run("below threshold", func(t *testing.T) {
		small := f.register(t, "tiny-school", 100)
		_, err := f.svc.UploadDocument(ctx, small.ID, testutil.NewDocument(), owner)
		assert.True(t, core.IsValidation(err))
	})

	t.Run("invalid metadata", func(t *testing.T) {
		tnt := f.register(t, "greenfield", 2000)
		nd := testutil.NewDocument()
		nd.MimeType = "application/zip"
		nd.FileSize = eligibility.MaxDocumentSize + 1
		nd.Type = "DIPLOMA"
		_, err := f.svc.UploadDocument(ctx, tnt.ID, nd, owner)
		var vErr *core.ValidationError
		require.ErrorAs(t, err, &vErr)
		assert.Len(t, vErr.Fields, 3)
	})

	t.Run("unknown tenant", func(t *testing.T) {
		_, err := f.svc.UploadDocument(ctx, "unknown", testutil.NewDocument(), owner)
		assert.True(t, core.IsNotFound(err))
	})

	t.Run("further uploads keep the tenant under review", func(t *testing.T) {
		tnt := f.register(t, "busy-college", 2000)
		f.upload(t, tnt.ID)
		f.upload(t, tnt.ID)

		got, err := f.svc.Get(ctx, tnt.ID)
		require.NoError(t, err)
		assert.Equal(t, eligibility.StatusUnderReview, got.Status)
		assert.Equal(t, 2, got.Version)
		assert.Len(t, got.Documents, 2)
	})

	t.Run("rejected tenants may upload new evidence", func(t *testing.T) {
		tnt := f.register(t, "retry-college", 2000)
		f.upload(t, tnt.ID)
		_, err := f.svc.Decide(ctx, tnt.ID, eligibility.Decision{Action: eligibility.ActionReject}, admin)
		require.NoError(t, err)

		f.upload(t, tnt.ID)
		got, err := f.svc.Get(ctx, tnt.ID)
		require.NoError(t, err)
		assert.Equal(t, eligibility.StatusRejected, got.Status)
		require.Len(t, got.Documents, 2)
		assert.Equal(t, eligibility.DocRejected, got.Documents[0].Status)
		assert.Equal(t, eligibility.DocPending, got.Documents[1].Status)
	})
}

func TestExpire(t *testing.T) {
	f := setup(t)
	tnt := f.register(t, "greenfield", 2000)

	_, err := f.svc.Expire(ctx, tnt.ID, f.clock.Now().AddDate(0, 0, 10))
	require.True(t, core.IsConflict(err), "grace period still running")
	refused := f.failures(t, tnt.ID)
	require.Len(t, refused, 1)
	assert.Equal(t, core.SystemActor.ID, refused[0].PerformedBy)
	assert.Equal(t, "ELIGIBILITY_EXPIRED", fmt.Sprint(refused[0].Details["attempted"]))

	due, err := f.svc.Due(ctx, f.clock.Now().AddDate(0, 0, 10))
	require.NoError(t, err)
	assert.Empty(t, due)

	later := f.clock.Now().AddDate(0, 0, 31)
	due, err = f.svc.Due(ctx, later)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, tnt.ID, due[0].ID)

	expired, err := f.svc.Expire(ctx, tnt.ID, later)
	require.NoError(t, err)
	assert.Equal(t, eligibility.StatusExpired, expired.Status)
	assert.Nil(t, expired.Deadline)

	_, err = f.svc.Expire(ctx, tnt.ID, later)
	assert.True(t, core.IsConflict(err), "already expired")
	assert.Len(t, f.failures(t, tnt.ID), 2)

	entries, _, err := f.audit.Query(ctx, audit.Filter{TenantID: tnt.ID, Action: audit.ActionEligibilityExpired}, core.Page{Number: 1, Limit: 10})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, core.SystemActor.ID, entries[0].PerformedBy)
	assert.Equal(t, []notification.Kind{notification.KindExpired}, f.notified.Kinds())

	// an expired tenant above the threshold can start over
	f.upload(t, tnt.ID)
}

func TestQueueAndExport(t *testing.T) {
	f := setup(t)
	a := f.register(t, "alpha", 2000)
	f.clock.Advance(time.Hour)
	b := f.register(t, "beta", 3000)
	f.register(t, "gamma", 3000) // stays PENDING
	f.upload(t, a.ID)
	f.upload(t, b.ID)

	queue, pg, err := f.svc.Queue(ctx, eligibility.StatusUnderReview, core.Page{Number: 1, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, pg.Total)
	assert.Equal(t, 2, pg.TotalPages)
	require.Len(t, queue, 1)
	assert.Equal(t, b.ID, queue[0].ID, "most recent first")
	assert.Len(t, queue[0].Documents, 1)

	_, _, err = f.svc.Queue(ctx, "ARCHIVED", core.Page{})
	assert.True(t, core.IsValidation(err))

	exported, err := f.svc.Export(ctx, eligibility.QueryFilter{Search: "  ALPHA "})
	require.NoError(t, err)
	require.Len(t, exported, 1)
	assert.Equal(t, a.ID, exported[0].ID)

	all, err := f.svc.Export(ctx, eligibility.QueryFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
