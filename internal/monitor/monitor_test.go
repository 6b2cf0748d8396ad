package monitor

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"
)

const (
	auditTag = "Inst.AuditValue"
	authTag  = "Inst.AuthorizedUser"
	kpTag    = "Inst.WDG_Kp"
	kiTag    = "Inst.WDG_Ki"
	kdTag    = "Inst.WDG_Kd"
)

var errRead = errors.New("read timeout")

type fakeReader struct {
	vals  Values
	fail  map[string]error
	calls []string
	hook  func(tag string)
}

func (r *fakeReader) err(tag string) error {
	r.calls = append(r.calls, tag)
	if r.hook != nil {
		r.hook(tag)
	}
	return r.fail[tag]
}

func (r *fakeReader) ReadLint(_ context.Context, tag string) (int64, error) {
	if err := r.err(tag); err != nil {
		return 0, err
	}
	return r.vals.Audit, nil
}

func (r *fakeReader) ReadDint(_ context.Context, tag string) (int32, error) {
	if err := r.err(tag); err != nil {
		return 0, err
	}
	return r.vals.Authorized, nil
}

func (r *fakeReader) ReadReal(_ context.Context, tag string) (float32, error) {
	if err := r.err(tag); err != nil {
		return 0, err
	}
	switch tag {
	case kpTag:
		return r.vals.Kp, nil
	case kiTag:
		return r.vals.Ki, nil
	default:
		return r.vals.Kd, nil
	}
}

func (r *fakeReader) failAll(err error) {
	r.fail = map[string]error{auditTag: err, authTag: err, kpTag: err, kiTag: err, kdTag: err}
}

type fakeConn struct {
	closes   int
	opens    int
	openErrs []error
	onOpen   func()
}

func (c *fakeConn) Close() error {
	c.closes++
	return nil
}

func (c *fakeConn) Open(context.Context) error {
	c.opens++
	if c.onOpen != nil {
		c.onOpen()
	}
	if len(c.openErrs) == 0 {
		return nil
	}
	err := c.openErrs[0]
	c.openErrs = c.openErrs[1:]
	return err
}

type fakeClock struct {
	now    int64
	sleeps []time.Duration
	onSlp  func(n int)
}

func (c *fakeClock) NowMs() int64 { return c.now }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.sleeps = append(c.sleeps, d)
	c.now += d.Milliseconds()
	if c.onSlp != nil {
		c.onSlp(len(c.sleeps))
	}
	return ctx.Err()
}

type recordingSink struct {
	events []Event
	ticks  []TickRecord
}

func (s *recordingSink) HandleEvent(e Event)     { s.events = append(s.events, e) }
func (s *recordingSink) HandleTick(r TickRecord) { s.ticks = append(s.ticks, r) }

func (s *recordingSink) kinds() []EventKind {
	out := make([]EventKind, len(s.events))
	for i, e := range s.events {
		out[i] = e.Kind
	}
	return out
}

func (s *recordingSink) reset() {
	s.events = nil
	s.ticks = nil
}

type fakeResponder struct {
	increments []string
	alarms     []string
}

func (r *fakeResponder) IncrementDint(_ context.Context, tag string) (int32, error) {
	r.increments = append(r.increments, tag)
	return int32(len(r.increments)), nil
}

func (r *fakeResponder) WriteBool(_ context.Context, tag string, value bool) error {
	if value {
		r.alarms = append(r.alarms, tag)
	}
	return nil
}

type harness struct {
	m     *Monitor
	r     *fakeReader
	conn  *fakeConn
	clock *fakeClock
	sink  *recordingSink
}

func newHarness(t *testing.T, cfg Config, start Values) *harness {
	t.Helper()
	h := &harness{
		r:     &fakeReader{vals: start},
		conn:  &fakeConn{},
		clock: &fakeClock{},
		sink:  &recordingSink{},
	}
	cfg.AuditTag, cfg.AuthTag = auditTag, authTag
	cfg.KpTag, cfg.KiTag, cfg.KdTag = kpTag, kiTag, kdTag
	m, err := New(cfg, Deps{Reader: h.r, Conn: h.conn, Sink: h.sink, Clock: h.clock})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.m = m
	return h
}

func (h *harness) tick(t *testing.T) {
	t.Helper()
	if err := h.m.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
}

func equalKinds(a, b []EventKind) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

var startValues = Values{Audit: 100, Authorized: 0, PID: PID{Kp: 1.0, Ki: 0.5, Kd: 0.05}}

func TestNewValidatesDeps(t *testing.T) {
	full := Config{AuditTag: "a", AuthTag: "b", KpTag: "c", KiTag: "d", KdTag: "e"}
	if _, err := New(full, Deps{Conn: &fakeConn{}}); err == nil {
		t.Error("expected error without reader")
	}
	if _, err := New(full, Deps{Reader: &fakeReader{}}); err == nil {
		t.Error("expected error without reconnector")
	}
	missing := full
	missing.KiTag = ""
	if _, err := New(missing, Deps{Reader: &fakeReader{}, Conn: &fakeConn{}}); err == nil {
		t.Error("expected error for missing Ki tag")
	}
	m, err := New(full, Deps{Reader: &fakeReader{}, Conn: &fakeConn{}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	cfg := m.Config()
	if cfg.FailureThreshold != DefaultFailureThreshold || cfg.ReconnectDelay != DefaultReconnectDelay || cfg.Period != DefaultPeriod {
		t.Errorf("defaults not applied: %+v", cfg)
	}
}

func TestFirstTickSeedsBaselines(t *testing.T) {
	h := newHarness(t, Config{}, startValues)
	h.tick(t)

	want := []EventKind{EventBaselineSeeded, EventBaselineSeeded, EventBaselinesEstablished}
	if got := h.sink.kinds(); !equalKinds(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	if h.sink.events[0].Field != FieldAudit || h.sink.events[1].Field != FieldPID {
		t.Errorf("seed order = %q, %q", h.sink.events[0].Field, h.sink.events[1].Field)
	}
	st := h.m.State()
	if !st.HaveAuditBaseline || !st.HavePIDBaseline || !st.BaselineMarked {
		t.Errorf("state = %+v", st)
	}
	if st.LastAudit != 100 || st.LastPID != startValues.PID {
		t.Errorf("baselines = %d %+v", st.LastAudit, st.LastPID)
	}
	if len(h.sink.ticks) != 1 || h.sink.ticks[0].Comparison.AnyChange {
		t.Errorf("seeding tick must not report a change: %+v", h.sink.ticks)
	}
}

func TestUnchangedTicksAreQuiet(t *testing.T) {
	h := newHarness(t, Config{}, startValues)
	h.tick(t)
	h.sink.reset()

	for i := 0; i < 10; i++ {
		h.tick(t)
	}
	if len(h.sink.events) != 0 {
		t.Errorf("unexpected events: %v", h.sink.kinds())
	}
	if len(h.sink.ticks) != 10 {
		t.Errorf("ticks = %d, want 10", len(h.sink.ticks))
	}
	for _, rec := range h.sink.ticks {
		if rec.Comparison.AnyChange || len(rec.Comparison.ChangedFields) != 0 {
			t.Errorf("tick %d reported change: %+v", rec.Seq, rec.Comparison)
		}
	}
}

func TestAuditChangeClassification(t *testing.T) {
	tests := []struct {
		name       string
		auth       int32
		authorized bool
	}{
		{"operator", 1, true},
		{"negative id counts as authorized", -7, true},
		{"no operator", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Config{}, startValues)
			h.tick(t)
			h.sink.reset()

			h.r.vals.Audit = 101
			h.r.vals.Authorized = tt.auth
			h.tick(t)

			if len(h.sink.events) != 1 {
				t.Fatalf("events = %v", h.sink.kinds())
			}
			e := h.sink.events[0]
			if e.Kind != EventAuditChange || e.Authorized != tt.authorized {
				t.Errorf("event = %+v", e)
			}
			if e.Before.Audit != 100 || e.After.Audit != 101 {
				t.Errorf("before/after = %d/%d", e.Before.Audit, e.After.Audit)
			}
			cmp := h.sink.ticks[0].Comparison
			if !cmp.ChgAudit || cmp.Authorized != tt.authorized || cmp.Unauthorized == tt.authorized {
				t.Errorf("comparison = %+v", cmp)
			}
			if got := h.m.State().LastAudit; got != 101 {
				t.Errorf("baseline = %d, want 101", got)
			}

			h.sink.reset()
			h.tick(t)
			if len(h.sink.events) != 0 {
				t.Errorf("baseline not advanced, events = %v", h.sink.kinds())
			}
		})
	}
}

func TestPIDTolerance(t *testing.T) {
	tol := float32(PIDTolerance)
	tests := []struct {
		name    string
		kp      float32
		changed bool
	}{
		{"identical", 0, false},
		{"exactly tolerance", tol, false},
		{"negative tolerance", -tol, false},
		{"just above tolerance", math.Nextafter32(tol, 1), true},
		{"large step", 0.25, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Config{}, Values{Audit: 1, Authorized: 1})
			h.tick(t)
			h.sink.reset()

			h.r.vals.Kp = tt.kp
			h.tick(t)

			changed := len(h.sink.events) == 1 && h.sink.events[0].Kind == EventPIDChange
			if changed != tt.changed {
				t.Fatalf("changed = %v, want %v (events %v)", changed, tt.changed, h.sink.kinds())
			}
			cmp := h.sink.ticks[0].Comparison
			if cmp.ChgKp != tt.changed || cmp.ChgKi || cmp.ChgKd {
				t.Errorf("comparison = %+v", cmp)
			}
			if tt.changed && h.m.State().LastPID.Kp != tt.kp {
				t.Errorf("Kp baseline = %v, want %v", h.m.State().LastPID.Kp, tt.kp)
			}
			if !tt.changed && h.m.State().LastPID.Kp != 0 {
				t.Errorf("Kp baseline moved to %v", h.m.State().LastPID.Kp)
			}
		})
	}
}

func TestPIDChangeAdvancesAllGains(t *testing.T) {
	h := newHarness(t, Config{}, startValues)
	h.tick(t)
	h.sink.reset()

	h.r.vals.Kd = 0.2
	h.r.vals.Ki = 0.5000001
	h.tick(t)

	if len(h.sink.events) != 1 || h.sink.events[0].Kind != EventPIDChange {
		t.Fatalf("events = %v", h.sink.kinds())
	}
	if h.sink.events[0].Authorized {
		t.Error("change with auth=0 classified as authorized")
	}
	cmp := h.sink.ticks[0].Comparison
	if len(cmp.ChangedFields) != 1 || cmp.ChangedFields[0] != "Kd" {
		t.Errorf("changed fields = %v", cmp.ChangedFields)
	}
	st := h.m.State()
	if st.LastPID.Kd != 0.2 || st.LastPID.Ki != float32(0.5000001) {
		t.Errorf("PID baseline = %+v", st.LastPID)
	}
}

func TestAuditAndPIDInSameTick(t *testing.T) {
	h := newHarness(t, Config{}, startValues)
	h.tick(t)
	h.sink.reset()

	h.r.vals.Audit = 200
	h.r.vals.Kp = 3
	h.r.vals.Authorized = 1
	h.tick(t)

	want := []EventKind{EventAuditChange, EventPIDChange}
	if got := h.sink.kinds(); !equalKinds(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	if h.sink.events[0].Seq >= h.sink.events[1].Seq {
		t.Error("sequence numbers not increasing")
	}
	cmp := h.sink.ticks[0].Comparison
	if len(cmp.ChangedFields) != 2 || !cmp.Authorized || cmp.Unauthorized {
		t.Errorf("comparison = %+v", cmp)
	}
}

func TestUnauthorizedResponse(t *testing.T) {
	h := newHarness(t, Config{UnauthorizedCounterTag: "Inst.UnauthorizedCount", AlarmTag: "Inst.Alarm"}, startValues)
	resp := &fakeResponder{}
	h.m.responder = resp
	h.tick(t)

	h.r.vals.Audit = 101
	h.r.vals.Authorized = 1
	h.tick(t)
	if len(resp.increments) != 0 || len(resp.alarms) != 0 {
		t.Fatalf("authorized change triggered a response: %+v", resp)
	}

	h.r.vals.Audit = 102
	h.r.vals.Authorized = 0
	h.tick(t)
	if len(resp.increments) != 1 || resp.increments[0] != "Inst.UnauthorizedCount" {
		t.Errorf("increments = %v", resp.increments)
	}
	if len(resp.alarms) != 1 || resp.alarms[0] != "Inst.Alarm" {
		t.Errorf("alarms = %v", resp.alarms)
	}
}

func TestPartialFailureStillReadsEveryTag(t *testing.T) {
	h := newHarness(t, Config{}, startValues)
	h.r.fail = map[string]error{kpTag: errRead}
	h.tick(t)

	if len(h.r.calls) != 5 {
		t.Errorf("reads issued = %d, want 5", len(h.r.calls))
	}
	if len(h.sink.events) != 1 || h.sink.events[0].Kind != EventReadFailure {
		t.Fatalf("events = %v", h.sink.kinds())
	}
	e := h.sink.events[0]
	if e.Field != kpTag || !errors.Is(e.Err, errRead) || e.Failures != 1 {
		t.Errorf("event = %+v", e)
	}
	if st := h.m.State(); st.HaveAuditBaseline || st.HavePIDBaseline {
		t.Error("baseline seeded from a failed tick")
	}
	if len(h.sink.ticks) != 0 {
		t.Error("tick record emitted for a failed tick")
	}
}

func TestFailuresBelowThresholdDoNotReconnect(t *testing.T) {
	h := newHarness(t, Config{}, startValues)
	h.tick(t)
	h.r.failAll(errRead)
	for i := 0; i < DefaultFailureThreshold-1; i++ {
		h.tick(t)
	}
	if h.conn.closes != 0 || h.conn.opens != 0 {
		t.Errorf("closes=%d opens=%d", h.conn.closes, h.conn.opens)
	}
	if got := h.m.State().ConsecutiveFailures; got != DefaultFailureThreshold-1 {
		t.Errorf("failures = %d", got)
	}

	// A good read in between resets the streak.
	h.r.fail = nil
	h.sink.reset()
	h.tick(t)
	if got := h.sink.ticks[0].Comm.RetryCount; got != DefaultFailureThreshold-1 {
		t.Errorf("retry count = %d", got)
	}
	if got := h.m.State().ConsecutiveFailures; got != 0 {
		t.Errorf("failures after success = %d", got)
	}
}

func TestThresholdTriggersSingleRecovery(t *testing.T) {
	h := newHarness(t, Config{}, startValues)
	h.tick(t)
	h.r.failAll(errRead)
	h.conn.openErrs = []error{errors.New("refused"), errors.New("refused")}
	var countersDuringOpen []int
	h.conn.onOpen = func() {
		countersDuringOpen = append(countersDuringOpen, h.m.state.ConsecutiveFailures)
	}
	h.sink.reset()

	for i := 0; i < DefaultFailureThreshold; i++ {
		h.tick(t)
	}

	want := []EventKind{
		EventReadFailure, EventReadFailure, EventReadFailure, EventReadFailure, EventReadFailure,
		EventCommFaultStart, EventReconnected,
	}
	if got := h.sink.kinds(); !equalKinds(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	if h.conn.closes != 1 || h.conn.opens != 3 {
		t.Errorf("closes=%d opens=%d", h.conn.closes, h.conn.opens)
	}
	for i, n := range countersDuringOpen {
		if n != DefaultFailureThreshold {
			t.Errorf("attempt %d saw counter %d before success", i+1, n)
		}
	}
	if len(h.clock.sleeps) != 2 {
		t.Errorf("backoff sleeps = %v", h.clock.sleeps)
	}
	for _, d := range h.clock.sleeps {
		if d != DefaultReconnectDelay {
			t.Errorf("backoff = %v", d)
		}
	}
	if got := h.sink.events[len(h.sink.events)-1].Attempts; got != 3 {
		t.Errorf("attempts = %d", got)
	}
	st := h.m.State()
	if st.ConsecutiveFailures != 0 || !st.CommFault {
		t.Errorf("state after reconnect = %+v", st)
	}

	h.r.fail = nil
	h.sink.reset()
	h.tick(t)
	if got := h.sink.kinds(); !equalKinds(got, []EventKind{EventCommFaultEnd}) {
		t.Errorf("events after recovery = %v", got)
	}
	if h.m.State().CommFault {
		t.Error("comm fault still flagged")
	}
}

func TestConfigurableThreshold(t *testing.T) {
	h := newHarness(t, Config{FailureThreshold: 2, ReconnectDelay: 50 * time.Millisecond}, startValues)
	h.r.failAll(errRead)
	h.tick(t)
	if h.conn.closes != 0 {
		t.Fatal("reconnected below threshold")
	}
	h.tick(t)
	if h.conn.closes != 1 || h.conn.opens != 1 {
		t.Errorf("closes=%d opens=%d", h.conn.closes, h.conn.opens)
	}
}

func TestReconnectCancelledDuringBackoff(t *testing.T) {
	h := newHarness(t, Config{FailureThreshold: 1}, startValues)
	h.r.failAll(errRead)
	h.conn.openErrs = []error{errors.New("refused"), errors.New("refused"), errors.New("refused")}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.clock.onSlp = func(int) { cancel() }

	err := h.m.Tick(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Tick = %v, want context.Canceled", err)
	}
	if h.conn.opens != 1 {
		t.Errorf("opens = %d, want 1", h.conn.opens)
	}
	for _, e := range h.sink.events {
		if e.Kind == EventReconnected {
			t.Error("reconnected event after cancellation")
		}
	}
	if got := h.m.State().ConsecutiveFailures; got != 1 {
		t.Errorf("counter reset without a successful open: %d", got)
	}
}

func TestCancelDuringReadIsNotAFailure(t *testing.T) {
	h := newHarness(t, Config{}, startValues)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.r.hook = func(tag string) {
		if tag == kpTag {
			cancel()
		}
	}
	h.r.fail = map[string]error{kdTag: context.Canceled}

	if err := h.m.Tick(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Tick = %v", err)
	}
	if len(h.sink.events) != 0 || h.m.State().ConsecutiveFailures != 0 {
		t.Errorf("cancellation counted as failure: %v", h.sink.kinds())
	}
}

func TestRunPacesAndStops(t *testing.T) {
	h := newHarness(t, Config{Period: 200 * time.Millisecond}, startValues)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.clock.onSlp = func(n int) {
		if n == 3 {
			cancel()
		}
	}

	if err := h.m.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v", err)
	}
	if len(h.sink.ticks) != 3 {
		t.Errorf("ticks = %d, want 3", len(h.sink.ticks))
	}
	for _, d := range h.clock.sleeps {
		if d != 200*time.Millisecond {
			t.Errorf("sleep = %v", d)
		}
	}
}

func TestMultiSinkFansOut(t *testing.T) {
	a, b := &recordingSink{}, &recordingSink{}
	ms := MultiSink{a, b}
	ms.HandleEvent(Event{Kind: EventAuditChange})
	ms.HandleTick(TickRecord{Seq: 9})
	for _, s := range []*recordingSink{a, b} {
		if len(s.events) != 1 || len(s.ticks) != 1 || s.ticks[0].Seq != 9 {
			t.Errorf("sink = %+v", s)
		}
	}
}

func TestEventKindString(t *testing.T) {
	if EventReadFailure.String() != "READ_FAIL" || EventKind(99).String() != "EVENT(99)" {
		t.Error("unexpected names")
	}
}
