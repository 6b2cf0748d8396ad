// Package monitor implements the audit/PID change detector and its
// communication-fault recovery loop.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/georgelake2/plcaudit/internal/logging"
)

const (
	DefaultFailureThreshold = 5
	DefaultReconnectDelay   = time.Second
	DefaultPeriod           = 200 * time.Millisecond

	// PIDTolerance is the largest gain difference treated as unchanged.
	PIDTolerance = 1e-6
)

// TagReader performs the typed reads the monitor needs.
type TagReader interface {
	ReadLint(ctx context.Context, tag string) (int64, error)
	ReadDint(ctx context.Context, tag string) (int32, error)
	ReadReal(ctx context.Context, tag string) (float32, error)
}

// Reconnector tears down and re-establishes the controller session.
type Reconnector interface {
	Close() error
	Open(ctx context.Context) error
}

// Responder reacts to unauthorized changes by writing back to the PLC.
type Responder interface {
	IncrementDint(ctx context.Context, tag string) (int32, error)
	WriteBool(ctx context.Context, tag string, value bool) error
}

// Config names the monitored tags and the recovery policy.
type Config struct {
	AuditTag string
	AuthTag  string
	KpTag    string
	KiTag    string
	KdTag    string

	Period           time.Duration
	FailureThreshold int
	ReconnectDelay   time.Duration

	// Optional responses to an unauthorized change. Empty disables.
	UnauthorizedCounterTag string
	AlarmTag               string
}

// Deps are the collaborators of a Monitor. Reader and Conn are required.
type Deps struct {
	Reader    TagReader
	Conn      Reconnector
	Sink      EventSink
	Clock     Clock
	Logger    *logging.Logger
	Responder Responder
}

// State is the monitor's baseline and fault bookkeeping.
type State struct {
	LastAudit           int64
	LastPID             PID
	HaveAuditBaseline   bool
	HavePIDBaseline     bool
	BaselineMarked      bool
	ConsecutiveFailures int
	CommFault           bool
	Ticks               uint64
}

// Monitor polls the five tags and classifies changes. Tick and Run must
// be driven from a single goroutine; State may be read concurrently.
type Monitor struct {
	cfg       Config
	reader    TagReader
	conn      Reconnector
	sink      EventSink
	clock     Clock
	logger    *logging.Logger
	responder Responder

	state State
	seq   uint64

	mu       sync.Mutex
	snapshot State
}

// New validates cfg, fills defaults and returns a Monitor.
func New(cfg Config, deps Deps) (*Monitor, error) {
	if deps.Reader == nil {
		return nil, errors.New("monitor: tag reader is required")
	}
	if deps.Conn == nil {
		return nil, errors.New("monitor: reconnector is required")
	}
	for name, tag := range map[string]string{
		"audit": cfg.AuditTag, "authorized": cfg.AuthTag,
		"kp": cfg.KpTag, "ki": cfg.KiTag, "kd": cfg.KdTag,
	} {
		if tag == "" {
			return nil, fmt.Errorf("monitor: %s tag is required", name)
		}
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.Period <= 0 {
		cfg.Period = DefaultPeriod
	}
	m := &Monitor{
		cfg:       cfg,
		reader:    deps.Reader,
		conn:      deps.Conn,
		sink:      deps.Sink,
		clock:     deps.Clock,
		logger:    deps.Logger,
		responder: deps.Responder,
	}
	if m.sink == nil {
		m.sink = nopSink{}
	}
	if m.clock == nil {
		m.clock = NewSystemClock()
	}
	if m.logger == nil {
		m.logger = logging.Discard()
	}
	return m, nil
}

// Config returns the effective configuration.
func (m *Monitor) Config() Config { return m.cfg }

// State returns a copy of the state as of the last completed tick.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot
}

func (m *Monitor) publish() {
	m.mu.Lock()
	m.snapshot = m.state
	m.mu.Unlock()
}

func (m *Monitor) emit(e Event) {
	m.seq++
	e.Seq = m.seq
	e.AtMs = m.clock.NowMs()
	m.sink.HandleEvent(e)
}

// Run ticks every Period until ctx is done. A tick that overruns the
// period is followed immediately by the next one.
func (m *Monitor) Run(ctx context.Context) error {
	period := m.cfg.Period.Milliseconds()
	next := m.clock.NowMs()
	for {
		if err := m.Tick(ctx); err != nil {
			return err
		}
		next += period
		now := m.clock.NowMs()
		wait := next - now
		if wait < 0 {
			next = now
			wait = 0
		}
		if err := m.clock.Sleep(ctx, time.Duration(wait)*time.Millisecond); err != nil {
			return err
		}
	}
}

// Tick performs one poll: read all tags, then either account a failure
// (recovering the session at the threshold) or classify changes. The
// only error returned is ctx's; device failures are handled internally.
func (m *Monitor) Tick(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer m.publish()
	m.state.Ticks++

	cur, failed, err := m.readAll(ctx)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if err != nil {
		return m.handleFailure(ctx, failed, err)
	}

	retries := m.state.ConsecutiveFailures
	m.state.ConsecutiveFailures = 0
	if m.state.CommFault {
		m.state.CommFault = false
		m.logger.Info("Communication restored")
		m.emit(Event{Kind: EventCommFaultEnd})
	}

	rec := TickRecord{Current: cur, Comm: Comm{Status: "OK", ReadOK: true, RetryCount: retries}}
	rec.Baseline = Baseline{
		HaveAudit: m.state.HaveAuditBaseline,
		HavePID:   m.state.HavePIDBaseline,
		Audit:     m.state.LastAudit,
		PID:       m.state.LastPID,
	}
	m.classifyAudit(ctx, cur, &rec.Comparison)
	m.classifyPID(ctx, cur, &rec.Comparison)

	if !m.state.BaselineMarked && m.state.HaveAuditBaseline && m.state.HavePIDBaseline {
		m.state.BaselineMarked = true
		m.logger.Info("Baselines established")
		m.emit(Event{Kind: EventBaselinesEstablished, After: cur})
	}

	m.seq++
	rec.Seq = m.seq
	rec.AtMs = m.clock.NowMs()
	m.sink.HandleTick(rec)
	return nil
}

// readAll issues every read even after an earlier one fails so that each
// tick costs the same number of transactions.
func (m *Monitor) readAll(ctx context.Context) (Values, []string, error) {
	var (
		v      Values
		failed []string
		errs   []error
	)
	note := func(tag string, err error) {
		if err != nil {
			failed = append(failed, tag)
			errs = append(errs, fmt.Errorf("%s: %w", tag, err))
		}
	}
	var err error
	v.Audit, err = m.reader.ReadLint(ctx, m.cfg.AuditTag)
	note(m.cfg.AuditTag, err)
	v.Authorized, err = m.reader.ReadDint(ctx, m.cfg.AuthTag)
	note(m.cfg.AuthTag, err)
	v.Kp, err = m.reader.ReadReal(ctx, m.cfg.KpTag)
	note(m.cfg.KpTag, err)
	v.Ki, err = m.reader.ReadReal(ctx, m.cfg.KiTag)
	note(m.cfg.KiTag, err)
	v.Kd, err = m.reader.ReadReal(ctx, m.cfg.KdTag)
	note(m.cfg.KdTag, err)
	return v, failed, errors.Join(errs...)
}

func (m *Monitor) handleFailure(ctx context.Context, failed []string, err error) error {
	m.state.ConsecutiveFailures++
	n := m.state.ConsecutiveFailures
	m.logger.Warn("Read failed (%d/%d consecutive): %v", n, m.cfg.FailureThreshold, err)
	m.emit(Event{
		Kind:     EventReadFailure,
		Field:    strings.Join(failed, ","),
		Err:      err,
		Failures: n,
	})
	if n < m.cfg.FailureThreshold {
		return nil
	}
	return m.recover(ctx)
}

// recover closes the session and retries Open every ReconnectDelay until
// it succeeds or ctx is done. The failure counter is reset only after a
// successful Open.
func (m *Monitor) recover(ctx context.Context) error {
	if !m.state.CommFault {
		m.state.CommFault = true
		m.emit(Event{Kind: EventCommFaultStart, Failures: m.state.ConsecutiveFailures})
	}
	m.logger.Warn("Persistent read failures; reconnecting to controller")
	if err := m.conn.Close(); err != nil {
		m.logger.Debug("Close before reconnect: %v", err)
	}
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := m.conn.Open(ctx)
		if err == nil {
			m.state.ConsecutiveFailures = 0
			m.logger.Info("Reconnected after %d attempt(s)", attempt)
			m.emit(Event{Kind: EventReconnected, Attempts: attempt})
			return nil
		}
		m.logger.Warn("Reconnect attempt %d failed: %v", attempt, err)
		if err := m.clock.Sleep(ctx, m.cfg.ReconnectDelay); err != nil {
			return err
		}
	}
}
