package metrics

// Event CSV and per-tick JSONL output

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/georgelake2/plcaudit/internal/monitor"
	"github.com/georgelake2/plcaudit/internal/plctime"
)

// EventHeader is the first row of every event CSV.
var EventHeader = []string{
	"type",
	"t_ms",
	"scenario",
	"event",
	"authorized",
	"auth_audit",
	"unauth_audit",
	"auth_pid",
	"unauth_pid",
	"read_fail",
	"comm_faults",
	"baseline_ms",
	"first_det_ms",
	"comm_fault_ms",
}

// EventWriter writes EventLines as CSV rows, flushing after each row.
type EventWriter struct {
	mu     sync.Mutex
	closer io.Closer
	csv    *csv.Writer
}

// NewEventWriter writes the header to w and returns the writer.
func NewEventWriter(w io.Writer) (*EventWriter, error) {
	ew := &EventWriter{csv: csv.NewWriter(w)}
	if c, ok := w.(io.Closer); ok {
		ew.closer = c
	}
	if err := ew.csv.Write(EventHeader); err != nil {
		return nil, fmt.Errorf("write CSV header: %w", err)
	}
	ew.csv.Flush()
	return ew, ew.csv.Error()
}

// CreateEventFile creates path and returns an EventWriter over it.
func CreateEventFile(path string) (*EventWriter, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create CSV file: %w", err)
	}
	ew, err := NewEventWriter(file)
	if err != nil {
		file.Close()
		return nil, err
	}
	return ew, nil
}

func (w *EventWriter) WriteLine(l EventLine) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.csv.Write(eventRecord(l)); err != nil {
		return fmt.Errorf("write CSV record: %w", err)
	}
	w.csv.Flush()
	return w.csv.Error()
}

// Close flushes and closes the underlying file, if the writer owns one.
func (w *EventWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.csv.Flush()
	err := w.csv.Error()
	if w.closer != nil {
		if cerr := w.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func eventRecord(l EventLine) []string {
	m := l.Metrics
	u := func(v uint32) string { return strconv.FormatUint(uint64(v), 10) }
	i := func(v int64) string { return strconv.FormatInt(v, 10) }
	return []string{
		l.Type,
		i(l.TMs),
		m.Scenario,
		l.Event,
		strconv.Itoa(l.Authorized),
		u(m.AuthorizedAuditChanges),
		u(m.UnauthorizedAuditChanges),
		u(m.AuthorizedPIDChanges),
		u(m.UnauthorizedPIDChanges),
		u(m.ReadFailures),
		u(m.CommFaultIntervals),
		i(m.BaselineEstablishedMs),
		i(m.FirstDetectionMs),
		i(m.TotalCommFaultDurMs),
	}
}

// RunContext is the per-run metadata stamped on every tick entry.
type RunContext struct {
	ScenarioID      string
	ScenarioVariant string
	TrialID         string
	ChangeExpected  bool
	ChangeType      string

	PollPeriod         time.Duration
	AgentVersion       string
	PLCFirmwareVersion string

	// PLCTimeMs is the controller clock at startup in epoch ms, or 0 when
	// it could not be read.
	PLCTimeMs int64
}

// LogEntry is one JSONL record. Integer tag values are strings so 64-bit
// values survive JSON consumers that parse numbers as doubles.
type LogEntry struct {
	ScenarioID      string `json:"scenario_id"`
	ScenarioVariant string `json:"scenario_variant"`
	TrialID         string `json:"trial_id"`
	ChangeExpected  bool   `json:"change_expected"`
	ChangeType      string `json:"change_type"`

	PollSeq          uint64 `json:"poll_seq"`
	HostTimestampISO string `json:"host_timestamp_iso"`
	HostTimestampMs  int64  `json:"host_timestamp_ms"`

	PLCTime    PLCTime            `json:"plc_time"`
	Current    CurrentValues      `json:"current"`
	Baseline   BaselineValues     `json:"baseline"`
	Comparison monitor.Comparison `json:"comparison"`
	Comm       monitor.Comm       `json:"comm"`
	Metadata   Metadata           `json:"metadata"`
}

type PLCTime struct {
	ISO string `json:"plc_timestamp_iso"`
	Ms  int64  `json:"plc_timestamp_ms"`
}

// Gains encode NaN and infinities as null.
type CurrentValues struct {
	AuditValue     string        `json:"AuditValue"`
	AuthorizedUser string        `json:"AuthorizedUser"`
	Kp             monitor.Float `json:"Kp"`
	Ki             monitor.Float `json:"Ki"`
	Kd             monitor.Float `json:"Kd"`
}

type BaselineValues struct {
	AuditValue string        `json:"AuditValue"`
	Kp         monitor.Float `json:"Kp"`
	Ki         monitor.Float `json:"Ki"`
	Kd         monitor.Float `json:"Kd"`
}

type Metadata struct {
	PollPeriodMs       int64  `json:"poll_period_ms"`
	AgentVersion       string `json:"agent_version"`
	PLCFirmwareVersion string `json:"plc_firmware_version"`
}

// TickWriter writes one LogEntry per successful tick as JSON lines. It
// implements monitor.EventSink.
type TickWriter struct {
	mu     sync.Mutex
	closer io.Closer
	enc    *json.Encoder
	run    RunContext
	now    func() time.Time
	err    error
}

func NewTickWriter(w io.Writer, run RunContext) *TickWriter {
	tw := &TickWriter{enc: json.NewEncoder(w), run: run, now: time.Now}
	if c, ok := w.(io.Closer); ok {
		tw.closer = c
	}
	return tw
}

// CreateTickFile creates path and returns a TickWriter over it.
func CreateTickFile(path string, run RunContext) (*TickWriter, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create JSONL file: %w", err)
	}
	return NewTickWriter(file, run), nil
}

// Entry builds the LogEntry for rec.
func (w *TickWriter) Entry(rec monitor.TickRecord) LogEntry {
	host := w.now().UTC()
	run := w.run
	e := LogEntry{
		ScenarioID:       run.ScenarioID,
		ScenarioVariant:  run.ScenarioVariant,
		TrialID:          run.TrialID,
		ChangeExpected:   run.ChangeExpected,
		ChangeType:       run.ChangeType,
		PollSeq:          rec.Seq,
		HostTimestampISO: plctime.FormatISO(host.UnixMilli()),
		HostTimestampMs:  host.UnixMilli(),
		Comparison:       rec.Comparison,
		Comm:             rec.Comm,
		Metadata: Metadata{
			PollPeriodMs:       run.PollPeriod.Milliseconds(),
			AgentVersion:       run.AgentVersion,
			PLCFirmwareVersion: run.PLCFirmwareVersion,
		},
	}
	if run.PLCTimeMs > 0 {
		e.PLCTime = PLCTime{ISO: plctime.FormatISO(run.PLCTimeMs), Ms: run.PLCTimeMs}
	}
	if e.Comparison.ChangedFields == nil {
		e.Comparison.ChangedFields = []string{}
	}
	cur := rec.Current
	e.Current = CurrentValues{
		AuditValue:     strconv.FormatInt(cur.Audit, 10),
		AuthorizedUser: strconv.FormatInt(int64(cur.Authorized), 10),
		Kp:             monitor.Float(cur.Kp),
		Ki:             monitor.Float(cur.Ki),
		Kd:             monitor.Float(cur.Kd),
	}
	base := rec.Baseline
	e.Baseline = BaselineValues{
		AuditValue: strconv.FormatInt(base.Audit, 10),
		Kp:         monitor.Float(base.Kp),
		Ki:         monitor.Float(base.Ki),
		Kd:         monitor.Float(base.Kd),
	}
	return e
}

func (w *TickWriter) HandleTick(rec monitor.TickRecord) {
	entry := w.Entry(rec)
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enc.Encode(entry); err != nil && w.err == nil {
		w.err = fmt.Errorf("write JSONL entry: %w", err)
	}
}

func (w *TickWriter) HandleEvent(monitor.Event) {}

// Err returns the first write error.
func (w *TickWriter) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

func (w *TickWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closer == nil {
		return w.err
	}
	if err := w.closer.Close(); err != nil {
		return err
	}
	return w.err
}
