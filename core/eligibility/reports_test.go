package eligibility_test

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-eligibility/core"
	"github.com/trezcool/masomo-eligibility/core/audit"
	"github.com/trezcool/masomo-eligibility/core/eligibility"
	"github.com/trezcool/masomo-eligibility/core/grace"
	"github.com/trezcool/masomo-eligibility/core/notification"
)

func TestAnalytics(t *testing.T) {
	f := setup(t)

	f.clock.Set(start.AddDate(0, 0, -20))
	old := f.register(t, "old", 2000)
	f.upload(t, old.ID)
	_, err := f.svc.Decide(ctx, old.ID, eligibility.Decision{Action: eligibility.ActionReject}, admin)
	require.NoError(t, err)

	f.clock.Set(start.AddDate(0, 0, -3))
	alpha := f.register(t, "alpha", 2000)
	f.upload(t, alpha.ID)

	f.clock.Set(start)
	_, err = f.svc.Decide(ctx, alpha.ID, eligibility.Decision{Action: eligibility.ActionApprove}, admin)
	require.NoError(t, err)
	f.register(t, "small", 100)
	f.register(t, "beta", 2000)

	res, err := f.svc.Analytics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Total)
	assert.Equal(t, 3, res.RequiringVerification)
	assert.Equal(t, map[eligibility.Status]int{
		eligibility.StatusRejected: 1,
		eligibility.StatusEligible: 1,
		eligibility.StatusExpired:  1,
		eligibility.StatusPending:  1,
	}, res.ByStatus)
	assert.Equal(t, map[eligibility.DocumentStatus]int{eligibility.DocRejected: 1, eligibility.DocApproved: 1}, res.Documents)
	assert.True(t, start.Equal(res.GeneratedAt))

	assert.Equal(t, 2, res.Today.Registered)
	assert.Equal(t, 1, res.Today.Approved)
	assert.Zero(t, res.Today.Rejected)
	assert.InDelta(t, 3.0, res.Today.AvgProcessingDays, 0.001)

	assert.Equal(t, 3, res.Week.Registered)
	assert.Zero(t, res.Week.Rejected)

	assert.Equal(t, 4, res.Month.Registered)
	assert.Equal(t, 1, res.Month.Approved)
	assert.Equal(t, 1, res.Month.Rejected)
}

type failingNotifier struct{ tenantID string }

func (n failingNotifier) Notify(_ context.Context, intent notification.Intent) error {
	if intent.TenantID == n.tenantID {
		return errors.New("smtp down")
	}
	return nil
}

func TestRemind(t *testing.T) {
	f := setup(t)
	alpha := f.register(t, "alpha", 2000)
	f.clock.Advance(24 * time.Hour)
	beta := f.register(t, "beta", 2000)
	f.register(t, "small", 100)

	// alpha is due in 7 days, beta in 8
	f.clock.Set(start.AddDate(0, 0, 23))

	t.Run("dry run only lists", func(t *testing.T) {
		rep, err := f.svc.Remind(ctx, eligibility.Reminder{Days: 7, DryRun: true}, admin)
		require.NoError(t, err)
		assert.Equal(t, 1, rep.Found)
		require.Len(t, rep.Tenants, 1)
		assert.Equal(t, alpha.ID, rep.Tenants[0].ID)
		assert.Zero(t, rep.Sent)
		assert.Empty(t, f.notified.Kinds())
	})

	t.Run("reminds the tenants due that day", func(t *testing.T) {
		rep, err := f.svc.Remind(ctx, eligibility.Reminder{Days: 7}, admin)
		require.NoError(t, err)
		assert.Equal(t, 1, rep.Found)
		assert.Equal(t, 1, rep.Sent)
		assert.Zero(t, rep.Failed)

		intents := f.notified.Intents()
		require.Len(t, intents, 1)
		assert.Equal(t, notification.KindDeadlineReminder, intents[0].Kind)
		assert.Equal(t, alpha.ID, intents[0].TenantID)
		require.NotNil(t, intents[0].Deadline)
		assert.True(t, alpha.Deadline.Equal(*intents[0].Deadline))

		assert.Contains(t, f.actions(t, alpha.ID), audit.ActionDeadlineReminderSent)
		assert.NotContains(t, f.actions(t, beta.ID), audit.ActionDeadlineReminderSent)
	})

	t.Run("nobody is due", func(t *testing.T) {
		rep, err := f.svc.Remind(ctx, eligibility.Reminder{Days: 9}, admin)
		require.NoError(t, err)
		assert.Zero(t, rep.Found)
		assert.Empty(t, rep.Tenants)
	})

	t.Run("decided tenants are skipped", func(t *testing.T) {
		f.upload(t, beta.ID)
		_, err := f.svc.Decide(ctx, beta.ID, eligibility.Decision{Action: eligibility.ActionApprove}, admin)
		require.NoError(t, err)

		rep, err := f.svc.Remind(ctx, eligibility.Reminder{Days: 8, DryRun: true}, admin)
		require.NoError(t, err)
		assert.Zero(t, rep.Found)
	})

	t.Run("days out of range", func(t *testing.T) {
		_, err := f.svc.Remind(ctx, eligibility.Reminder{Days: -1}, admin)
		assert.True(t, core.IsValidation(err))
	})
}

func TestRemind_FailedDeliveryIsCounted(t *testing.T) {
	f := setup(t)
	alpha := f.register(t, "alpha", 2000)
	beta := f.register(t, "beta", 2000)

	svc := eligibility.NewService(eligibility.Deps{
		Repo:      f.repo,
		Validator: core.NewValidator(),
		Audit:     audit.NewRecorder(f.audit, core.NopLogger, core.NopMetrics),
		Notifier:  notification.NewDispatcher(failingNotifier{tenantID: alpha.ID}, core.NopLogger, core.NopMetrics),
		Config:    eligibility.Config{StudentThreshold: 1500, Grace: grace.DefaultConfig, BulkConcurrency: 1},
		Now:       f.clock.Now,
	})
	rep, err := svc.Remind(ctx, eligibility.Reminder{Days: grace.DefaultConfig.InitialDays}, admin)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Found)
	assert.Equal(t, 1, rep.Sent)
	assert.Equal(t, 1, rep.Failed)
	assert.NotContains(t, f.actions(t, alpha.ID), audit.ActionDeadlineReminderSent)
	assert.Contains(t, f.actions(t, beta.ID), audit.ActionDeadlineReminderSent)
}
