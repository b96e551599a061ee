// Package feature gates platform capabilities on a tenant's eligibility status.
package feature

import (
	"github.com/trezcool/masomo-eligibility/core/eligibility"
	"github.com/trezcool/masomo-eligibility/core/grace"
)

// Feature is a named platform capability.
type Feature string

const (
	CustomDomain      Feature = "custom_domain"
	Branding          Feature = "branding"
	CourseCreation    Feature = "course_creation"
	StudentManagement Feature = "student_management"
	LiveSessions      Feature = "live_sessions"
	Assessments       Feature = "assessments"
	Certificates      Feature = "certificates"
	Analytics         Feature = "analytics"
	APIAccess         Feature = "api_access"
)

var (
	// All is the full superset, granted to ELIGIBLE tenants.
	All = []Feature{
		CustomDomain,
		Branding,
		CourseCreation,
		StudentManagement,
		LiveSessions,
		Assessments,
		Certificates,
		Analytics,
		APIAccess,
	}

	// institutions may keep working while review is pending
	provisional = []Feature{CourseCreation, StudentManagement, Analytics}

	// read-only visibility, no new commitments
	readOnly = []Feature{Analytics}

	allowList = map[eligibility.Status][]Feature{
		eligibility.StatusEligible:         All,
		eligibility.StatusPending:          provisional,
		eligibility.StatusUnderReview:      provisional,
		eligibility.StatusRequiresMoreInfo: provisional,
		eligibility.StatusRejected:         readOnly,
		eligibility.StatusExpired:          readOnly,
	}

	messages = map[grace.Status]string{
		grace.StatusActive:    "Your verification is in progress. Please complete verification within your deadline.",
		grace.StatusWarning:   "Your verification deadline is approaching. Please submit your documents soon.",
		grace.StatusCritical:  "Your verification deadline is very close. Submit your documents immediately to avoid feature restrictions.",
		grace.StatusExpired:   "Your verification deadline has passed. Please contact support to restore your account.",
		grace.StatusSuspended: "Your account is suspended after the verification deadline. Please contact support to restore it.",
	}
)

// IsKnown reports whether f is one of the platform features.
func IsKnown(f Feature) bool {
	for _, known := range All {
		if f == known {
			return true
		}
	}
	return false
}

// Allowed returns the allow-list for status. Unknown statuses get the most restrictive list.
func Allowed(status eligibility.Status) []Feature {
	list, ok := allowList[status]
	if !ok {
		list = readOnly
	}
	out := make([]Feature, len(list))
	copy(out, list)
	return out
}

// IsAllowed is a pure membership test.
func IsAllowed(f Feature, status eligibility.Status) bool {
	for _, allowed := range Allowed(status) {
		if f == allowed {
			return true
		}
	}
	return false
}

// Restricted is the set difference between the ELIGIBLE allow-list and status's.
func Restricted(status eligibility.Status) []Feature {
	restricted := make([]Feature, 0, len(All))
	for _, f := range All {
		if !IsAllowed(f, status) {
			restricted = append(restricted, f)
		}
	}
	return restricted
}

// Message is the tenant-facing explanation for a grace tier.
func Message(level grace.Status) string {
	return messages[level]
}
