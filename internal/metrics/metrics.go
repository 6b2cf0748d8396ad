package metrics

// Detection counters and timing for a monitoring run

import (
	"fmt"
	"sync"

	"github.com/georgelake2/plcaudit/internal/monitor"
)

// Clock supplies monotonic milliseconds.
type Clock interface {
	NowMs() int64
}

// Event names written to the event CSV.
const (
	EventBaseline       = "BASELINE"
	EventAudit          = "AUDIT"
	EventPID            = "PID"
	EventReadFail       = "READ_FAIL"
	EventCommFaultStart = "COMM_FAULT_START"
	EventCommFaultEnd   = "COMM_FAULT_END"
)

// Row types in the event CSV.
const (
	LineEvent   = "EVENT"
	LineSummary = "SUMMARY"
)

// NotApplicable marks an unset authorized column or timing field.
const NotApplicable = -1

// Metrics is a snapshot of the counters for one scenario.
type Metrics struct {
	Scenario string

	AuthorizedAuditChanges   uint32
	UnauthorizedAuditChanges uint32
	AuthorizedPIDChanges     uint32
	UnauthorizedPIDChanges   uint32
	ReadFailures             uint32
	CommFaultIntervals       uint32

	// -1 until set.
	BaselineEstablishedMs int64
	FirstDetectionMs      int64

	TotalCommFaultDurMs int64
}

func newMetrics(scenario string) Metrics {
	return Metrics{
		Scenario:              scenario,
		BaselineEstablishedMs: NotApplicable,
		FirstDetectionMs:      NotApplicable,
	}
}

// EventLine is one row of the event CSV.
type EventLine struct {
	Type       string
	TMs        int64
	Event      string
	Authorized int
	Metrics    Metrics
}

// LineWriter receives every event row the recorder produces.
type LineWriter interface {
	WriteLine(EventLine) error
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithLineWriter streams event rows to w.
func WithLineWriter(w LineWriter) Option {
	return func(r *Recorder) { r.out = w }
}

// Recorder accumulates detection metrics. It is safe for concurrent use
// and implements monitor.EventSink.
type Recorder struct {
	mu    sync.Mutex
	clock Clock
	out   LineWriter
	m     Metrics

	faultActive  bool
	faultStartMs int64
	writeErr     error
}

// NewRecorder returns a Recorder for scenario timed by clock.
func NewRecorder(scenario string, clock Clock, opts ...Option) *Recorder {
	r := &Recorder{clock: clock, m: newMetrics(scenario)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reset clears all counters and fault state, keeping the scenario.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m = newMetrics(r.m.Scenario)
	r.faultActive = false
	r.faultStartMs = 0
}

// Snapshot returns a copy of the current metrics.
func (r *Recorder) Snapshot() Metrics {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.m
}

// CommFaultActive reports whether a fault interval is open.
func (r *Recorder) CommFaultActive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.faultActive
}

// Err returns the first error from the line writer, if any.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writeErr
}

// MarkBaselineEstablished stamps the baseline time. Later calls restamp it.
func (r *Recorder) MarkBaselineEstablished() {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.clock.NowMs()
	r.m.BaselineEstablishedMs = t
	r.emit(t, EventBaseline, NotApplicable)
}

func (r *Recorder) RecordAuditChange(authorized bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if authorized {
		r.m.AuthorizedAuditChanges++
	} else {
		r.m.UnauthorizedAuditChanges++
	}
	t := r.clock.NowMs()
	r.markFirstDetection(t)
	r.emit(t, EventAudit, boolColumn(authorized))
}

func (r *Recorder) RecordPIDChange(authorized bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if authorized {
		r.m.AuthorizedPIDChanges++
	} else {
		r.m.UnauthorizedPIDChanges++
	}
	t := r.clock.NowMs()
	r.markFirstDetection(t)
	r.emit(t, EventPID, boolColumn(authorized))
}

func (r *Recorder) RecordReadFailure() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m.ReadFailures++
	r.emit(r.clock.NowMs(), EventReadFail, NotApplicable)
}

// RecordCommFaultStart opens a fault interval. It is a no-op while one is
// already open.
func (r *Recorder) RecordCommFaultStart() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.faultActive {
		return
	}
	r.faultActive = true
	r.faultStartMs = r.clock.NowMs()
	r.m.CommFaultIntervals++
	r.emit(r.faultStartMs, EventCommFaultStart, NotApplicable)
}

// RecordCommFaultEnd closes the open fault interval, if any, and adds its
// duration when the clock moved forward.
func (r *Recorder) RecordCommFaultEnd() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.faultActive {
		return
	}
	end := r.clock.NowMs()
	r.faultActive = false
	if end > r.faultStartMs {
		r.m.TotalCommFaultDurMs += end - r.faultStartMs
	}
	r.emit(end, EventCommFaultEnd, NotApplicable)
}

// SummaryLine returns the SUMMARY row for the current metrics.
func (r *Recorder) SummaryLine() EventLine {
	r.mu.Lock()
	defer r.mu.Unlock()
	return EventLine{Type: LineSummary, TMs: r.clock.NowMs(), Event: "-1", Authorized: NotApplicable, Metrics: r.m}
}

// DumpSummary writes the SUMMARY row to the line writer and returns the
// human-readable form.
func (r *Recorder) DumpSummary() string {
	line := r.SummaryLine()
	r.mu.Lock()
	r.write(line)
	r.mu.Unlock()
	return FormatSummary(line.Metrics)
}

func (r *Recorder) markFirstDetection(t int64) {
	if r.m.FirstDetectionMs < 0 {
		r.m.FirstDetectionMs = t
	}
}

func (r *Recorder) emit(t int64, event string, authorized int) {
	r.write(EventLine{Type: LineEvent, TMs: t, Event: event, Authorized: authorized, Metrics: r.m})
}

func (r *Recorder) write(line EventLine) {
	if r.out == nil {
		return
	}
	if err := r.out.WriteLine(line); err != nil && r.writeErr == nil {
		r.writeErr = err
	}
}

// HandleEvent maps monitor notifications onto the recorder.
func (r *Recorder) HandleEvent(e monitor.Event) {
	switch e.Kind {
	case monitor.EventBaselinesEstablished:
		r.MarkBaselineEstablished()
	case monitor.EventAuditChange:
		r.RecordAuditChange(e.Authorized)
	case monitor.EventPIDChange:
		r.RecordPIDChange(e.Authorized)
	case monitor.EventReadFailure:
		r.RecordReadFailure()
	case monitor.EventCommFaultStart:
		r.RecordCommFaultStart()
	case monitor.EventCommFaultEnd:
		r.RecordCommFaultEnd()
	}
}

func (r *Recorder) HandleTick(monitor.TickRecord) {}

func boolColumn(b bool) int {
	if b {
		return 1
	}
	return 0
}

// FormatSummary renders m on one line.
func FormatSummary(m Metrics) string {
	return fmt.Sprintf("Scenario='%s' Metrics: auth_audit=%d unauth_audit=%d auth_pid=%d unauth_pid=%d "+
		"read_fail=%d comm_faults=%d baseline_ms=%d first_det_ms=%d comm_fault_total_ms=%d",
		m.Scenario,
		m.AuthorizedAuditChanges, m.UnauthorizedAuditChanges,
		m.AuthorizedPIDChanges, m.UnauthorizedPIDChanges,
		m.ReadFailures, m.CommFaultIntervals,
		m.BaselineEstablishedMs, m.FirstDetectionMs, m.TotalCommFaultDurMs)
}
