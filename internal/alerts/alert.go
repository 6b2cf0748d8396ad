// Package alerts forwards change and comm-fault notifications to message
// brokers.
package alerts

import (
	"context"
	"time"

	"github.com/georgelake2/plcaudit/internal/monitor"
)

// Severities attached to alerts.
const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
	SeverityInfo     = "info"
)

// Alert is the JSON payload sent to every publisher.
type Alert struct {
	Kind        string          `json:"kind"`
	Severity    string          `json:"severity"`
	Scenario    string          `json:"scenario"`
	Controller  string          `json:"controller"`
	Seq         uint64          `json:"seq"`
	MonotonicMs int64           `json:"t_ms"`
	Timestamp   string          `json:"timestamp"`
	Authorized  *bool           `json:"authorized,omitempty"`
	Before      *monitor.Values `json:"before,omitempty"`
	After       *monitor.Values `json:"after,omitempty"`
	Error       string          `json:"error,omitempty"`
	Failures    int             `json:"failures,omitempty"`
	Attempts    int             `json:"attempts,omitempty"`
}

// Publisher delivers alerts to one destination.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, a Alert) error
	Close() error
}

// Source identifies where alerts come from.
type Source struct {
	Scenario   string
	Controller string
}

// FromEvent converts a monitor event to an alert. Baseline and read
// failure events are not alerted and return false.
func FromEvent(e monitor.Event, src Source, now time.Time) (Alert, bool) {
	a := Alert{
		Kind:        e.Kind.String(),
		Scenario:    src.Scenario,
		Controller:  src.Controller,
		Seq:         e.Seq,
		MonotonicMs: e.AtMs,
		Timestamp:   now.UTC().Format(time.RFC3339Nano),
	}
	switch e.Kind {
	case monitor.EventAuditChange, monitor.EventPIDChange:
		authorized := e.Authorized
		before, after := e.Before, e.After
		a.Authorized = &authorized
		a.Before = &before
		a.After = &after
		a.Severity = SeverityInfo
		if !authorized {
			a.Severity = SeverityCritical
		}
	case monitor.EventCommFaultStart:
		a.Severity = SeverityWarning
		a.Failures = e.Failures
	case monitor.EventCommFaultEnd:
		a.Severity = SeverityInfo
	case monitor.EventReconnected:
		a.Severity = SeverityInfo
		a.Attempts = e.Attempts
	default:
		return Alert{}, false
	}
	if e.Err != nil {
		a.Error = e.Err.Error()
	}
	return a, true
}
