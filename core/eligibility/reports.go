package eligibility

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-eligibility/core"
	"github.com/trezcool/masomo-eligibility/core/audit"
	"github.com/trezcool/masomo-eligibility/core/notification"
)

func startOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Analytics reports the verification workload and throughput as of now.
func (svc *Service) Analytics(ctx context.Context) (Analytics, error) {
	now := svc.now()
	counts, err := svc.repo.CountTenants(ctx, svc.conf.StudentThreshold)
	if err != nil {
		return Analytics{}, errors.Wrap(err, "counting tenants")
	}

	res := Analytics{
		Total:                 counts.Total,
		RequiringVerification: counts.AboveThreshold,
		ByStatus:              counts.ByStatus,
		Documents:             counts.Documents,
		GeneratedAt:           now,
	}
	windows := []struct {
		dst   *Activity
		since time.Time
	}{
		{&res.Today, startOfDay(now)},
		{&res.Week, now.AddDate(0, 0, -7)},
		{&res.Month, now.AddDate(0, 0, -30)},
	}
	for _, w := range windows {
		if *w.dst, err = svc.repo.CountActivity(ctx, w.since); err != nil {
			return Analytics{}, errors.Wrap(err, "counting activity")
		}
	}
	return res, nil
}

// Remind notifies every in-grace tenant whose deadline falls on the UTC day rm.Days from now.
// A dry run only lists them. Deliveries are independent: a failed one is counted and the others go on.
func (svc *Service) Remind(ctx context.Context, rm Reminder, actor core.Actor) (ReminderReport, error) {
	if err := svc.validate.Check(rm); err != nil {
		return ReminderReport{}, err
	}

	day := startOfDay(svc.now()).AddDate(0, 0, rm.Days)
	filter := QueryFilter{Statuses: expireRule.from, DueAfter: day, DueBefore: day.AddDate(0, 0, 1)}
	tenants, _, err := svc.repo.QueryTenants(ctx, filter, []core.DBOrdering{{Field: "eligibility_deadline", Ascending: true}}, nil)
	if err != nil {
		return ReminderReport{}, errors.Wrap(err, "querying tenants to remind")
	}

	report := ReminderReport{Days: rm.Days, DryRun: rm.DryRun, Found: len(tenants), Tenants: tenants, Deadline: day}
	if rm.DryRun {
		return report, nil
	}
	for _, t := range tenants {
		err := svc.notifier.Deliver(ctx, notification.Intent{
			TenantID:     t.ID,
			TenantName:   t.Name,
			ContactEmail: t.ContactEmail,
			Kind:         notification.KindDeadlineReminder,
			Deadline:     t.Deadline,
			Actor:        actor,
		})
		if err != nil {
			report.Failed++
			continue
		}
		report.Sent++
		svc.audit.Record(ctx, audit.Entry{
			TenantID:    t.ID,
			Action:      audit.ActionDeadlineReminderSent,
			PerformedBy: actor.ID,
			Details: audit.Details{
				"days_remaining": rm.Days,
				"deadline":       t.Deadline,
				"status":         t.Status,
			},
		})
	}
	svc.log.Info("eligibility: deadline reminders sent", map[string]interface{}{
		"days":   rm.Days,
		"found":  report.Found,
		"sent":   report.Sent,
		"failed": report.Failed,
	})
	return report, nil
}
