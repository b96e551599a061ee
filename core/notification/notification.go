// Package notification describes the intents emitted when a tenant's eligibility changes.
// Delivery belongs to the notifiers under services/notify.
package notification

import (
	"context"
	"time"

	"go.uber.org/multierr"

	"github.com/trezcool/masomo-eligibility/core"
)

type Kind string

const (
	KindApproved         Kind = "APPROVED"
	KindRejected         Kind = "REJECTED"
	KindRequiresMoreInfo Kind = "REQUIRES_MORE_INFO"
	KindExpired          Kind = "EXPIRED"
	KindAppealApproved   Kind = "APPEAL_APPROVED"
	KindAppealRejected   Kind = "APPEAL_REJECTED"
	KindAppealMoreInfo   Kind = "APPEAL_MORE_INFO"
	KindDeadlineReminder Kind = "DEADLINE_REMINDER"
)

var subjects = map[Kind]string{
	KindApproved:         "Your institution has been verified",
	KindRejected:         "Your verification was not approved",
	KindRequiresMoreInfo: "More information is needed for your verification",
	KindExpired:          "Your verification deadline has passed",
	KindAppealApproved:   "Your appeal has been approved",
	KindAppealRejected:   "Your appeal has been rejected",
	KindAppealMoreInfo:   "More information is needed for your appeal",
	KindDeadlineReminder: "Your verification deadline is approaching",
}

// Subject is the human readable headline of a kind.
func (k Kind) Subject() string {
	if s, ok := subjects[k]; ok {
		return s
	}
	return string(k)
}

// Intent asks for a tenant to be told about a decision.
type Intent struct {
	TenantID     string     `json:"tenant_id"`
	TenantName   string     `json:"tenant_name"`
	ContactEmail string     `json:"contact_email,omitempty"`
	Kind         Kind       `json:"kind"`
	Notes        string     `json:"notes,omitempty"`
	Deadline     *time.Time `json:"deadline,omitempty"`
	Actor        core.Actor `json:"actor"`
	OccurredAt   time.Time  `json:"occurred_at"`
}

type Notifier interface {
	Notify(ctx context.Context, intent Intent) error
}

// Multi notifies every notifier, collecting all failures.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, intent Intent) error {
	var err error
	for _, n := range m {
		err = multierr.Append(err, n.Notify(ctx, intent))
	}
	return err
}

// Nop drops every intent.
type Nop struct{}

func (Nop) Notify(context.Context, Intent) error { return nil }

// Dispatcher emits intents after a committed transition.
// A failed delivery is logged and counted, it never undoes the transition.
type Dispatcher struct {
	notifier Notifier
	log      core.Logger
	metrics  core.Metrics
}

func NewDispatcher(notifier Notifier, log core.Logger, metrics core.Metrics) *Dispatcher {
	if notifier == nil {
		notifier = Nop{}
	}
	return &Dispatcher{notifier: notifier, log: log, metrics: metrics}
}

func (d *Dispatcher) Send(ctx context.Context, intent Intent) {
	_ = d.Deliver(ctx, intent)
}

// Deliver is Send for callers that report on each delivery. The failure is logged and counted too.
func (d *Dispatcher) Deliver(ctx context.Context, intent Intent) error {
	if intent.OccurredAt.IsZero() {
		intent.OccurredAt = time.Now().UTC()
	}
	err := d.notifier.Notify(ctx, intent)
	if err != nil {
		d.metrics.IncNotificationFailure()
		d.log.Error("notification: delivery failed", err, map[string]interface{}{
			"tenant_id": intent.TenantID,
			"kind":      intent.Kind,
		})
	}
	return err
}
