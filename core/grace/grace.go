// Package grace classifies the time left before an eligibility deadline into grace tiers.
package grace

import (
	"math"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-eligibility/core"
)

const day = 24 * time.Hour

// Status is a grace tier.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusWarning   Status = "WARNING"
	StatusCritical  Status = "CRITICAL"
	StatusExpired   Status = "EXPIRED"
	StatusSuspended Status = "SUSPENDED"
)

// Lapsed reports whether the deadline has passed.
func (s Status) Lapsed() bool {
	return s == StatusExpired || s == StatusSuspended
}

type Config struct {
	InitialDays             int
	WarningThresholdDays    int
	CriticalThresholdDays   int
	SuspensionThresholdDays int
}

var DefaultConfig = Config{
	InitialDays:             30,
	WarningThresholdDays:    7,
	CriticalThresholdDays:   3,
	SuspensionThresholdDays: 90,
}

// ConfigFrom maps the environment-level configuration.
func ConfigFrom(conf core.GraceConfig) Config {
	return Config{
		InitialDays:             conf.InitialDays,
		WarningThresholdDays:    conf.WarningThresholdDays,
		CriticalThresholdDays:   conf.CriticalThresholdDays,
		SuspensionThresholdDays: conf.SuspensionThresholdDays,
	}
}

func (c Config) Validate() error {
	if c.InitialDays <= 0 || c.WarningThresholdDays <= 0 || c.CriticalThresholdDays <= 0 || c.SuspensionThresholdDays <= 0 {
		return errors.New("grace thresholds must be positive")
	}
	if !(c.CriticalThresholdDays < c.WarningThresholdDays && c.WarningThresholdDays < c.InitialDays) {
		return errors.New("grace thresholds must satisfy critical < warning < initial")
	}
	return nil
}

// Details is the classification of a deadline at a given instant.
type Details struct {
	Status        Status    `json:"status"`
	DaysRemaining int       `json:"days_remaining"`
	Deadline      time.Time `json:"deadline"`
	Restrictions  []string  `json:"restrictions"`
}

// Deadline returns the end of the initial grace window opened at start.
func Deadline(start time.Time, cfg Config) time.Time {
	return start.AddDate(0, 0, cfg.InitialDays)
}

// DaysRemaining is ceil((deadline - now) / 1 day); negative once the deadline has passed.
func DaysRemaining(deadline, now time.Time) int {
	return int(math.Ceil(float64(deadline.Sub(now)) / float64(day)))
}

// Classify maps a days-remaining count to its tier.
// The deadline day itself (0) is already past grace.
func Classify(daysRemaining int, cfg Config) Status {
	if daysRemaining <= 0 {
		if -daysRemaining >= cfg.SuspensionThresholdDays {
			return StatusSuspended
		}
		return StatusExpired
	}
	if daysRemaining <= cfg.CriticalThresholdDays {
		return StatusCritical
	}
	if daysRemaining <= cfg.WarningThresholdDays {
		return StatusWarning
	}
	return StatusActive
}

// Calculate classifies deadline as seen at now.
func Calculate(deadline, now time.Time, cfg Config) Details {
	days := DaysRemaining(deadline, now)
	status := Classify(days, cfg)
	return Details{
		Status:        status,
		DaysRemaining: days,
		Deadline:      deadline,
		Restrictions:  Restrictions(status),
	}
}

var restrictions = map[Status][]string{
	StatusActive:   {},
	StatusWarning:  {"Consider completing verification soon"},
	StatusCritical: {"Verification required to maintain full access"},
	StatusExpired: {
		"New course creation disabled",
		"Student enrollment disabled",
		"Read-only mode enabled",
	},
	StatusSuspended: {
		"Full access suspended",
		"Contact support to restore",
	},
}

// Restrictions lists the human readable restrictions applying to a tier.
func Restrictions(status Status) []string {
	r := restrictions[status]
	out := make([]string, len(r))
	copy(out, r)
	return out
}
