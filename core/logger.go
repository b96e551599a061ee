package core

import "time"

type (
	// Logger is any service that can log messages.
	// args may carry errors, map[string]interface{} context and an Actor.
	Logger interface {
		Debug(msg string, args ...interface{})
		Info(msg string, args ...interface{})
		Warn(msg string, args ...interface{})
		Error(msg string, args ...interface{})
		Fatal(msg string, args ...interface{})
	}

	// Metrics records the counters the eligibility core exposes.
	Metrics interface {
		ObserveTransition(from, to string)
		ObserveBulk(action string, successful, failed, skipped int)
		ObserveScan(expired, skipped, failed int, took time.Duration)
		IncAuditFailure()
		IncNotificationFailure()
	}

	// Actor is whoever performed an action: an admin, a tenant user or a system job.
	Actor struct {
		ID    string `json:"id"`
		Email string `json:"email,omitempty"`
	}
)

// SystemActor performs time-driven transitions.
var SystemActor = Actor{ID: "system:expiry-scanner"}

type nopLogger struct{}

// NopLogger discards everything.
var NopLogger Logger = nopLogger{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{}) {}
func (nopLogger) Warn(string, ...interface{}) {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Fatal(string, ...interface{}) {}

type nopMetrics struct{}

// NopMetrics records nothing.
var NopMetrics Metrics = nopMetrics{}

func (nopMetrics) ObserveTransition(string, string) {}
func (nopMetrics) ObserveBulk(string, int, int, int) {}
func (nopMetrics) ObserveScan(int, int, int, time.Duration) {}
func (nopMetrics) IncAuditFailure() {}
func (nopMetrics) IncNotificationFailure() {}
