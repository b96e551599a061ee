package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/trezcool/masomo-eligibility/core/eligibility"
	"github.com/trezcool/masomo-eligibility/core/notification"
)

// Clock is a settable time source for services that take a Now func.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(now time.Time) *Clock {
	return &Clock{now: now}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *Clock) Set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// RecordingNotifier keeps every intent it is handed.
type RecordingNotifier struct {
	mu      sync.Mutex
	intents []notification.Intent
}

func (n *RecordingNotifier) Notify(_ context.Context, intent notification.Intent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.intents = append(n.intents, intent)
	return nil
}

func (n *RecordingNotifier) Intents() []notification.Intent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notification.Intent(nil), n.intents...)
}

func (n *RecordingNotifier) Kinds() []notification.Kind {
	intents := n.Intents()
	kinds := make([]notification.Kind, 0, len(intents))
	for _, i := range intents {
		kinds = append(kinds, i.Kind)
	}
	return kinds
}

// NewDocument returns a valid enrollment upload.
func NewDocument() eligibility.NewDocument {
	return eligibility.NewDocument{
		Type:     eligibility.DocEnrollmentData,
		FileName: "enrollment-2026.pdf",
		FileURL:  "https://files.masomo.dev/enrollment-2026.pdf",
		FileSize: 2 << 20,
		MimeType: "application/pdf",
	}
}
