package monitor

import "fmt"

// EventKind identifies a monitor notification.
type EventKind int

const (
	EventBaselineSeeded EventKind = iota + 1
	EventBaselinesEstablished
	EventAuditChange
	EventPIDChange
	EventReadFailure
	EventCommFaultStart
	EventCommFaultEnd
	EventReconnected
)

func (k EventKind) String() string {
	switch k {
	case EventBaselineSeeded:
		return "BASELINE_SEEDED"
	case EventBaselinesEstablished:
		return "BASELINE"
	case EventAuditChange:
		return "AUDIT"
	case EventPIDChange:
		return "PID"
	case EventReadFailure:
		return "READ_FAIL"
	case EventCommFaultStart:
		return "COMM_FAULT_START"
	case EventCommFaultEnd:
		return "COMM_FAULT_END"
	case EventReconnected:
		return "RECONNECTED"
	default:
		return fmt.Sprintf("EVENT(%d)", int(k))
	}
}

// Seeded baseline names carried in Event.Field.
const (
	FieldAudit = "audit"
	FieldPID   = "pid"
)

// PID holds the three controller gains.
type PID struct {
	Kp float32 `json:"Kp"`
	Ki float32 `json:"Ki"`
	Kd float32 `json:"Kd"`
}

// Values is one coherent snapshot of the five monitored tags.
type Values struct {
	Audit      int64 `json:"AuditValue"`
	Authorized int32 `json:"AuthorizedUser"`
	PID
}

// Event is a side-effecting notification from the monitor. Only the
// fields relevant to Kind are set.
type Event struct {
	Kind EventKind
	Seq  uint64
	AtMs int64

	// Field is the seeded baseline (FieldAudit or FieldPID) or, for read
	// failures, the tags that failed.
	Field string

	// Authorized, Before and After describe a classified change.
	Authorized bool
	Before     Values
	After      Values

	Err      error
	Failures int // consecutive failed ticks, for READ_FAIL and COMM_FAULT_START
	Attempts int // reconnect attempts, for RECONNECTED
}

// Baseline is the reference state before a tick was classified.
type Baseline struct {
	HaveAudit bool  `json:"have_audit"`
	HavePID   bool  `json:"have_pid"`
	Audit     int64 `json:"AuditValue"`
	PID
}

// Comparison summarises what a tick changed.
type Comparison struct {
	AnyChange     bool     `json:"any_change"`
	Unauthorized  bool     `json:"unauthorized_change"`
	Authorized    bool     `json:"authorized_change"`
	ChangedFields []string `json:"changed_fields"`
	ChgAudit      bool     `json:"chg_AuditValue"`
	ChgKp         bool     `json:"chg_Kp"`
	ChgKi         bool     `json:"chg_Ki"`
	ChgKd         bool     `json:"chg_Kd"`
	DeltaKp       float64  `json:"delta_Kp"`
	DeltaKi       float64  `json:"delta_Ki"`
	DeltaKd       float64  `json:"delta_Kd"`
}

// Comm describes link health as of a tick.
type Comm struct {
	Status     string `json:"comm_status"`
	ReadOK     bool   `json:"read_ok"`
	RetryCount int    `json:"retry_count"`
}

// TickRecord is emitted once per fully successful tick.
type TickRecord struct {
	Seq        uint64
	AtMs       int64
	Current    Values
	Baseline   Baseline
	Comparison Comparison
	Comm       Comm
}

// EventSink receives monitor notifications. Calls are made from the
// monitor goroutine and should not block for long.
type EventSink interface {
	HandleEvent(Event)
	HandleTick(TickRecord)
}

// MultiSink fans every notification out to each sink in order.
type MultiSink []EventSink

func (m MultiSink) HandleEvent(e Event) {
	for _, s := range m {
		s.HandleEvent(e)
	}
}

func (m MultiSink) HandleTick(r TickRecord) {
	for _, s := range m {
		s.HandleTick(r)
	}
}

type nopSink struct{}

func (nopSink) HandleEvent(Event)     {}
func (nopSink) HandleTick(TickRecord) {}
