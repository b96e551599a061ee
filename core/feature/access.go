package feature

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/trezcool/masomo-eligibility/core"
	"github.com/trezcool/masomo-eligibility/core/eligibility"
	"github.com/trezcool/masomo-eligibility/core/grace"
)

// Access answers "may this tenant use this feature right now".
type Access struct {
	Allowed            bool               `json:"allowed"`
	Feature            Feature            `json:"feature"`
	Status             eligibility.Status `json:"status"`
	GraceLevel         grace.Status       `json:"grace_level"`
	DaysRemaining      *int               `json:"days_remaining"`
	RestrictedFeatures []Feature          `json:"restricted_features,omitempty"`
	Message            string             `json:"message"`
}

// GraceLevel places a tenant on the grace scale. Only in-grace tenants with a deadline are
// classified from the clock; verified tenants are ACTIVE and every other status has lapsed.
func GraceLevel(t eligibility.Tenant, now time.Time, cfg grace.Config) (grace.Status, *int) {
	switch {
	case t.Status == eligibility.StatusEligible:
		return grace.StatusActive, nil
	case !t.Status.InGrace():
		return grace.StatusExpired, nil
	case t.Deadline == nil:
		return grace.StatusCritical, nil
	}
	d := grace.Calculate(*t.Deadline, now, cfg)
	return d.Status, &d.DaysRemaining
}

// Check combines the allow-lists with the tenant's grace level. The restricted list and the
// status explanation are only given on a denial.
func Check(t eligibility.Tenant, f Feature, now time.Time, cfg grace.Config) Access {
	level, days := GraceLevel(t, now, cfg)
	access := Access{
		Allowed:       IsAllowed(f, t.Status),
		Feature:       f,
		Status:        t.Status,
		GraceLevel:    level,
		DaysRemaining: days,
		Message:       Message(level),
	}
	if !access.Allowed {
		access.RestrictedFeatures = Restricted(t.Status)
		access.Message = DenialMessage(t.Status, level)
	}
	return access
}

// DenialMessage explains a refused feature for a tenant in status.
func DenialMessage(status eligibility.Status, level grace.Status) string {
	label := strings.ToLower(strings.ReplaceAll(string(status), "_", " "))
	return fmt.Sprintf("This feature is restricted for %s institutions. %s", label, Message(level))
}

type TenantGetter interface {
	Get(ctx context.Context, id string) (eligibility.Tenant, error)
}

// Checker resolves tenants before checking their access.
type Checker struct {
	tenants TenantGetter
	grace   grace.Config
	now     func() time.Time
}

func NewChecker(tenants TenantGetter, cfg grace.Config, now func() time.Time) *Checker {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Checker{tenants: tenants, grace: cfg, now: now}
}

func (c *Checker) Access(ctx context.Context, tenantID string, f Feature) (Access, error) {
	if !IsKnown(f) {
		return Access{}, core.NewValidationError(nil, core.FieldError{Field: "feature", Error: "unknown feature"})
	}
	t, err := c.tenants.Get(ctx, tenantID)
	if err != nil {
		return Access{}, err
	}
	return Check(t, f, c.now(), c.grace), nil
}

// Summary is a tenant's full eligibility picture, as shown on its dashboard.
type Summary struct {
	TenantID           string             `json:"tenant_id"`
	Status             eligibility.Status `json:"status"`
	Deadline           *time.Time         `json:"eligibility_deadline"`
	VerifiedAt         *time.Time         `json:"verified_at"`
	GraceLevel         grace.Status       `json:"grace_level"`
	DaysRemaining      *int               `json:"days_remaining"`
	Restrictions       []string           `json:"restrictions"`
	AllowedFeatures    []Feature          `json:"allowed_features"`
	RestrictedFeatures []Feature          `json:"restricted_features"`
	Message            string             `json:"message"`
}

func Summarize(t eligibility.Tenant, now time.Time, cfg grace.Config) Summary {
	level, days := GraceLevel(t, now, cfg)
	return Summary{
		TenantID:           t.ID,
		Status:             t.Status,
		Deadline:           t.Deadline,
		VerifiedAt:         t.VerifiedAt,
		GraceLevel:         level,
		DaysRemaining:      days,
		Restrictions:       grace.Restrictions(level),
		AllowedFeatures:    Allowed(t.Status),
		RestrictedFeatures: Restricted(t.Status),
		Message:            Message(level),
	}
}

func (c *Checker) Summary(ctx context.Context, tenantID string) (Summary, error) {
	t, err := c.tenants.Get(ctx, tenantID)
	if err != nil {
		return Summary{}, err
	}
	return Summarize(t, c.now(), c.grace), nil
}
