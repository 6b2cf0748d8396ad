package monitor

import "context"

// nearlyEqual compares in single precision, matching the width of the
// REAL tags.
func nearlyEqual(a, b float32) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d <= float32(PIDTolerance)
}

func (m *Monitor) classifyAudit(ctx context.Context, cur Values, cmp *Comparison) {
	if !m.state.HaveAuditBaseline {
		m.state.LastAudit = cur.Audit
		m.state.HaveAuditBaseline = true
		m.logger.Info("Baseline %s = %d (0x%016X)", m.cfg.AuditTag, cur.Audit, uint64(cur.Audit))
		m.emit(Event{Kind: EventBaselineSeeded, Field: FieldAudit, After: cur})
		return
	}
	if cur.Audit == m.state.LastAudit {
		return
	}

	before := m.previous(cur)
	authorized := cur.Authorized != 0
	cmp.AnyChange = true
	cmp.ChgAudit = true
	cmp.ChangedFields = append(cmp.ChangedFields, "AuditValue")
	m.markAuthorization(cmp, authorized)

	if authorized {
		m.logger.Info("Authorized change: %s %d -> %d (auth=%d)", m.cfg.AuditTag, m.state.LastAudit, cur.Audit, cur.Authorized)
	} else {
		m.logger.Warn("UNAUTHORIZED change: %s %d -> %d (auth=%d)", m.cfg.AuditTag, m.state.LastAudit, cur.Audit, cur.Authorized)
	}
	m.emit(Event{Kind: EventAuditChange, Authorized: authorized, Before: before, After: cur})
	m.state.LastAudit = cur.Audit
	if !authorized {
		m.respond(ctx)
	}
}

func (m *Monitor) classifyPID(ctx context.Context, cur Values, cmp *Comparison) {
	if !m.state.HavePIDBaseline {
		m.state.LastPID = cur.PID
		m.state.HavePIDBaseline = true
		m.logger.Info("Baseline PID Kp=%.6f Ki=%.6f Kd=%.6f", cur.Kp, cur.Ki, cur.Kd)
		m.emit(Event{Kind: EventBaselineSeeded, Field: FieldPID, After: cur})
		return
	}

	last := m.state.LastPID
	cmp.ChgKp = !nearlyEqual(cur.Kp, last.Kp)
	cmp.ChgKi = !nearlyEqual(cur.Ki, last.Ki)
	cmp.ChgKd = !nearlyEqual(cur.Kd, last.Kd)
	cmp.DeltaKp = float64(cur.Kp) - float64(last.Kp)
	cmp.DeltaKi = float64(cur.Ki) - float64(last.Ki)
	cmp.DeltaKd = float64(cur.Kd) - float64(last.Kd)
	if !cmp.ChgKp && !cmp.ChgKi && !cmp.ChgKd {
		return
	}

	for _, f := range []struct {
		changed bool
		name    string
	}{{cmp.ChgKp, "Kp"}, {cmp.ChgKi, "Ki"}, {cmp.ChgKd, "Kd"}} {
		if f.changed {
			cmp.ChangedFields = append(cmp.ChangedFields, f.name)
		}
	}
	before := m.previous(cur)
	authorized := cur.Authorized != 0
	cmp.AnyChange = true
	m.markAuthorization(cmp, authorized)

	if authorized {
		m.logger.Info("Authorized PID change: Kp %.6f->%.6f Ki %.6f->%.6f Kd %.6f->%.6f (auth=%d)",
			last.Kp, cur.Kp, last.Ki, cur.Ki, last.Kd, cur.Kd, cur.Authorized)
	} else {
		m.logger.Warn("UNAUTHORIZED PID change: Kp %.6f->%.6f Ki %.6f->%.6f Kd %.6f->%.6f (auth=%d)",
			last.Kp, cur.Kp, last.Ki, cur.Ki, last.Kd, cur.Kd, cur.Authorized)
	}
	m.emit(Event{Kind: EventPIDChange, Authorized: authorized, Before: before, After: cur})
	m.state.LastPID = cur.PID
	if !authorized {
		m.respond(ctx)
	}
}

// previous is cur with the monitored fields replaced by their baselines.
func (m *Monitor) previous(cur Values) Values {
	return Values{Audit: m.state.LastAudit, Authorized: cur.Authorized, PID: m.state.LastPID}
}

func (m *Monitor) markAuthorization(cmp *Comparison, authorized bool) {
	if authorized {
		cmp.Authorized = true
	} else {
		cmp.Unauthorized = true
	}
}

func (m *Monitor) respond(ctx context.Context) {
	if m.responder == nil {
		return
	}
	if tag := m.cfg.UnauthorizedCounterTag; tag != "" {
		n, err := m.responder.IncrementDint(ctx, tag)
		if err != nil {
			m.logger.Warn("Failed to bump %s: %v", tag, err)
		} else {
			m.logger.Verbose("%s = %d", tag, n)
		}
	}
	if tag := m.cfg.AlarmTag; tag != "" {
		if err := m.responder.WriteBool(ctx, tag, true); err != nil {
			m.logger.Warn("Failed to raise %s: %v", tag, err)
		}
	}
}
