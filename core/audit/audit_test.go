package audit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-eligibility/core"
)

type memSink struct {
	mu      sync.Mutex
	entries []Entry
	err     error
}

func (s *memSink) Append(_ context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.entries = append(s.entries, entry)
	return nil
}

type countingMetrics struct {
	core.Metrics
	auditFailures int
}

func (m *countingMetrics) IncAuditFailure() { m.auditFailures++ }

type capturingLogger struct {
	core.Logger
	errors []string
}

func (l *capturingLogger) Error(msg string, _ ...interface{}) { l.errors = append(l.errors, msg) }

func TestRecorder_StampsEntries(t *testing.T) {
	sink := new(memSink)
	rec := NewRecorder(sink, core.NopLogger, core.NopMetrics)
	fixed := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
	rec.now = func() time.Time { return fixed }

	rec.Record(context.Background(), Entry{TenantID: "t-1", Action: ActionTenantRegistered, PerformedBy: "owner"})

	require.Len(t, sink.entries, 1)
	e := sink.entries[0]
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, fixed, e.Timestamp)
	assert.NotNil(t, e.Details)
	assert.Equal(t, ActionTenantRegistered, e.Action)
}

func TestRecorder_SinkFailureIsReported(t *testing.T) {
	sink := &memSink{err: errors.New("disk full")}
	metrics := &countingMetrics{Metrics: core.NopMetrics}
	logger := &capturingLogger{Logger: core.NopLogger}
	rec := NewRecorder(sink, logger, metrics)

	assert.NotPanics(t, func() {
		rec.Record(context.Background(), Entry{TenantID: "t-1", Action: ActionVerificationApproved})
	})
	assert.Equal(t, 1, metrics.auditFailures)
	assert.Equal(t, []string{"audit: failed to append entry"}, logger.errors)
}
