package grace

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

func TestDaysRemaining(t *testing.T) {
	tests := []struct {
		name     string
		deadline time.Time
		want     int
	}{
		{name: "exactly 30 days", deadline: now.AddDate(0, 0, 30), want: 30},
		{name: "partial day rounds up", deadline: now.Add(36 * time.Hour), want: 2},
		{name: "one second left", deadline: now.Add(time.Second), want: 1},
		{name: "deadline is now", deadline: now, want: 0},
		{name: "half a day late", deadline: now.Add(-12 * time.Hour), want: 0},
		{name: "31 days late", deadline: now.AddDate(0, 0, -31), want: -31},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DaysRemaining(tt.deadline, now))
		})
	}
}

func TestCalculate(t *testing.T) {
	tests := []struct {
		name     string
		deadline time.Time
		want     Status
	}{
		{name: "fresh deadline", deadline: now.AddDate(0, 0, 30), want: StatusActive},
		{name: "8 days", deadline: now.AddDate(0, 0, 8), want: StatusActive},
		{name: "7 days", deadline: now.AddDate(0, 0, 7), want: StatusWarning},
		{name: "4 days", deadline: now.AddDate(0, 0, 4), want: StatusWarning},
		{name: "3 days", deadline: now.AddDate(0, 0, 3), want: StatusCritical},
		{name: "1 day", deadline: now.AddDate(0, 0, 1), want: StatusCritical},
		{name: "deadline day", deadline: now, want: StatusExpired},
		{name: "31 days past", deadline: now.AddDate(0, 0, -31), want: StatusExpired},
		{name: "89 days past", deadline: now.AddDate(0, 0, -89), want: StatusExpired},
		{name: "90 days past", deadline: now.AddDate(0, 0, -90), want: StatusSuspended},
		{name: "91 days past", deadline: now.AddDate(0, 0, -91), want: StatusSuspended},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Calculate(tt.deadline, now, DefaultConfig)
			assert.Equal(t, tt.want, got.Status)
			assert.Equal(t, tt.deadline, got.Deadline)
		})
	}
}

func TestLapsedIffNoDaysRemaining(t *testing.T) {
	configs := []Config{
		DefaultConfig,
		{InitialDays: 14, WarningThresholdDays: 5, CriticalThresholdDays: 2, SuspensionThresholdDays: 30},
		{InitialDays: 60, WarningThresholdDays: 10, CriticalThresholdDays: 1, SuspensionThresholdDays: 1},
	}
	for _, cfg := range configs {
		for offset := -150; offset <= 150; offset++ {
			d := Calculate(now.Add(time.Duration(offset)*12*time.Hour), now, cfg)
			assert.Equal(t, d.DaysRemaining <= 0, d.Status.Lapsed(), "offset %d, cfg %+v", offset, cfg)
		}

		// the EXPIRED/SUSPENDED boundary is exactly the suspension threshold
		last := Calculate(now.AddDate(0, 0, -(cfg.SuspensionThresholdDays - 1)), now, cfg)
		first := Calculate(now.AddDate(0, 0, -cfg.SuspensionThresholdDays), now, cfg)
		if cfg.SuspensionThresholdDays > 1 {
			assert.Equal(t, StatusExpired, last.Status)
		}
		assert.Equal(t, StatusSuspended, first.Status)
	}
}

func TestDeadline(t *testing.T) {
	assert.Equal(t, now.AddDate(0, 0, 30), Deadline(now, DefaultConfig))
}

func TestRestrictions(t *testing.T) {
	assert.Empty(t, Restrictions(StatusActive))
	assert.Len(t, Restrictions(StatusExpired), 3)

	r := Restrictions(StatusSuspended)
	r[0] = "tampered"
	assert.NotEqual(t, "tampered", Restrictions(StatusSuspended)[0])
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig.Validate())
	assert.Error(t, Config{InitialDays: 30, WarningThresholdDays: 3, CriticalThresholdDays: 7, SuspensionThresholdDays: 90}.Validate())
	assert.Error(t, Config{InitialDays: 0, WarningThresholdDays: 7, CriticalThresholdDays: 3, SuspensionThresholdDays: 90}.Validate())
}
