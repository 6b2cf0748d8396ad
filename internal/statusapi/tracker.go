// Package statusapi serves a read-only JSON view of a running monitor:
// link health, detection counters, the last tick and recent events.
package statusapi

import (
	"sync"
	"time"

	"github.com/georgelake2/plcaudit/internal/monitor"
)

// recentEvents bounds the event history kept for /api/events.
const recentEvents = 64

// EventView is the JSON form of a monitor event.
type EventView struct {
	Kind       string          `json:"kind"`
	Seq        uint64          `json:"seq"`
	TMs        int64           `json:"t_ms"`
	Time       string          `json:"time"`
	Field      string          `json:"field,omitempty"`
	Authorized *bool           `json:"authorized,omitempty"`
	Before     *monitor.Values `json:"before,omitempty"`
	After      *monitor.Values `json:"after,omitempty"`
	Error      string          `json:"error,omitempty"`
	Failures   int             `json:"failures,omitempty"`
	Attempts   int             `json:"attempts,omitempty"`
}

// TickView is the JSON form of the last successful tick.
type TickView struct {
	Seq        uint64             `json:"poll_seq"`
	TMs        int64              `json:"t_ms"`
	Time       string             `json:"time"`
	Current    monitor.Values     `json:"current"`
	Baseline   monitor.Baseline   `json:"baseline"`
	Comparison monitor.Comparison `json:"comparison"`
	Comm       monitor.Comm       `json:"comm"`
}

// Tracker keeps the latest tick and a bounded event history. It
// implements monitor.EventSink.
type Tracker struct {
	mu       sync.RWMutex
	now      func() time.Time
	started  time.Time
	lastTick *TickView
	events   []EventView
	counts   map[string]uint64
}

func NewTracker() *Tracker {
	return &Tracker{
		now:     time.Now,
		started: time.Now(),
		counts:  make(map[string]uint64),
	}
}

func (t *Tracker) HandleEvent(e monitor.Event) {
	v := EventView{
		Kind:     e.Kind.String(),
		Seq:      e.Seq,
		TMs:      e.AtMs,
		Field:    e.Field,
		Failures: e.Failures,
		Attempts: e.Attempts,
	}
	switch e.Kind {
	case monitor.EventAuditChange, monitor.EventPIDChange:
		authorized, before, after := e.Authorized, e.Before, e.After
		v.Authorized, v.Before, v.After = &authorized, &before, &after
	}
	if e.Err != nil {
		v.Error = e.Err.Error()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	v.Time = t.now().UTC().Format(time.RFC3339Nano)
	t.counts[v.Kind]++
	t.events = append(t.events, v)
	if len(t.events) > recentEvents {
		t.events = append(t.events[:0], t.events[len(t.events)-recentEvents:]...)
	}
}

func (t *Tracker) HandleTick(r monitor.TickRecord) {
	v := &TickView{
		Seq:        r.Seq,
		TMs:        r.AtMs,
		Current:    r.Current,
		Baseline:   r.Baseline,
		Comparison: r.Comparison,
		Comm:       r.Comm,
	}
	if v.Comparison.ChangedFields == nil {
		v.Comparison.ChangedFields = []string{}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	v.Time = t.now().UTC().Format(time.RFC3339Nano)
	t.lastTick = v
}

// LastTick returns the most recent tick, or nil before the first one.
func (t *Tracker) LastTick() *TickView {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.lastTick == nil {
		return nil
	}
	v := *t.lastTick
	return &v
}

// Events returns the retained events, oldest first.
func (t *Tracker) Events() []EventView {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]EventView(nil), t.events...)
}

// Counts returns the number of events seen per kind.
func (t *Tracker) Counts() map[string]uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]uint64, len(t.counts))
	for k, n := range t.counts {
		out[k] = n
	}
	return out
}

func (t *Tracker) Uptime() time.Duration {
	return t.now().Sub(t.started)
}
