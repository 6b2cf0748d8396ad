package server

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/georgelake2/plcaudit/internal/cip/client"
	"github.com/georgelake2/plcaudit/internal/cip/protocol"
	"github.com/georgelake2/plcaudit/internal/config"
	"github.com/georgelake2/plcaudit/internal/enip"
	"github.com/georgelake2/plcaudit/internal/monitor"
)

const base = config.DefaultBaseTag + "."

func newTestServer(t *testing.T) *Server {
	t.Helper()
	srv, err := New(config.EmulatorConfig{Listen: "127.0.0.1:0", Tags: config.DefaultEmulatorTags()}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return srv
}

func startTestServer(t *testing.T) *Server {
	t.Helper()
	srv := newTestServer(t)
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = srv.Stop() })
	return srv
}

func frame(t *testing.T, cmd uint16, handle uint32, body []byte) enip.Frame {
	t.Helper()
	raw, err := enip.BuildFrame(cmd, handle, body)
	if err != nil {
		t.Fatal(err)
	}
	h, err := enip.DecodeHeader(raw)
	if err != nil {
		t.Fatal(err)
	}
	return enip.Frame{Header: h, Body: body}
}

func TestLoadTagsDefaults(t *testing.T) {
	tags, err := LoadTags(config.DefaultEmulatorTags())
	if err != nil {
		t.Fatalf("LoadTags: %v", err)
	}
	if tags.Len() != len(config.DefaultEmulatorTags()) {
		t.Errorf("Len = %d", tags.Len())
	}
	v, ok := tags.Get(base + "auditvalue")
	if !ok || v != protocol.Lint(100) {
		t.Errorf("audit = %v, %v", v, ok)
	}
	if err := tags.Set(base+"WDG_Kp", protocol.Dint(1)); err == nil {
		t.Error("Set with wrong type should fail")
	}
	if err := tags.Set("Missing", protocol.Dint(1)); err == nil {
		t.Error("Set on undefined tag should fail")
	}
	if err := tags.Define("", protocol.TypeDINT); err == nil {
		t.Error("Define with empty name should fail")
	}
}

func TestServeCIP(t *testing.T) {
	srv := newTestServer(t)

	mustRead := func(tag string, n uint16) []byte {
		req, err := protocol.BuildReadRequest(tag, n)
		if err != nil {
			t.Fatal(err)
		}
		return req
	}
	mustWrite := func(tag string, v protocol.Value) []byte {
		req, err := protocol.BuildWriteRequest(tag, v)
		if err != nil {
			t.Fatal(err)
		}
		return req
	}

	tests := []struct {
		name   string
		req    []byte
		status uint8
		ext    []uint16
	}{
		{"read lint", mustRead(base+"AuditValue", 1), protocol.StatusSuccess, nil},
		{"read zero elements", mustRead(base+"AuditValue", 0), protocol.StatusSuccess, nil},
		{"read array", mustRead(base+"DateTime", 7), protocol.StatusSuccess, nil},
		{"read past end", mustRead(base+"DateTime", 8), protocol.StatusVendorSpecific, []uint16{extBeyondEnd}},
		{"unknown tag", mustRead("NoSuchTag", 1), protocol.StatusPathSegmentError, nil},
		{"write matching type", mustWrite(base+"AuthorizedUser", protocol.Dint(7)), protocol.StatusSuccess, nil},
		{"write wrong type", mustWrite(base+"AuditValue", protocol.Dint(5)), protocol.StatusVendorSpecific, []uint16{extTypeMismatch}},
		{"write unknown tag", mustWrite("NoSuchTag", protocol.Dint(5)), protocol.StatusPathSegmentError, nil},
		{"unsupported service", []byte{0x0E, 0x00}, protocol.StatusServiceNotSupported, nil},
		{"truncated", []byte{protocol.ServiceReadTag, 0x05, 0x91}, protocol.StatusNotEnoughData, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := protocol.ParseReply(srv.serveCIP(tt.req))
			if tt.status == protocol.StatusSuccess {
				if err != nil {
					t.Fatalf("reply error: %v", err)
				}
				return
			}
			var se *protocol.StatusError
			if !errors.As(err, &se) {
				t.Fatalf("err = %v, want StatusError", err)
			}
			if se.Status != tt.status {
				t.Errorf("status = 0x%02X, want 0x%02X", se.Status, tt.status)
			}
			if len(se.ExtStatus) != len(tt.ext) || (len(tt.ext) > 0 && se.ExtStatus[0] != tt.ext[0]) {
				t.Errorf("ext = %v, want %v", se.ExtStatus, tt.ext)
			}
		})
	}

	if v, _ := srv.Tags().Get(base + "AuthorizedUser"); v != protocol.Dint(7) {
		t.Errorf("AuthorizedUser after write = %v", v)
	}
	if v, _ := srv.Tags().Get(base + "AuditValue"); v != protocol.Lint(100) {
		t.Errorf("AuditValue changed by mismatched write: %v", v)
	}
}

func TestHandleFrameSessions(t *testing.T) {
	srv := newTestServer(t)
	c := &conn{remote: "test"}

	read, _ := protocol.BuildReadRequest(base+"AuditValue", 1)
	reply, _ := srv.handleFrame(c, frame(t, enip.CommandSendRRData, 0x1234, enip.WrapSendRRData(read)))
	h, _ := enip.DecodeHeader(reply)
	if h.Status != enip.StatusInvalidSession {
		t.Errorf("unregistered SendRRData status = 0x%X", h.Status)
	}

	reply, _ = srv.handleFrame(c, frame(t, enip.CommandRegisterSession, 0, []byte{0x02, 0x00, 0x00, 0x00}))
	h, _ = enip.DecodeHeader(reply)
	if h.Status != enip.StatusUnsupportedRev || c.handle != 0 {
		t.Errorf("version 2 register: status 0x%X handle 0x%X", h.Status, c.handle)
	}

	reply, act := srv.handleFrame(c, frame(t, enip.CommandRegisterSession, 0, enip.RegisterSessionBody))
	h, _ = enip.DecodeHeader(reply)
	if act != actionReply || h.Status != enip.StatusSuccess || h.SessionHandle == 0 || h.SessionHandle != c.handle {
		t.Fatalf("register: act=%v status=0x%X handle=0x%X", act, h.Status, h.SessionHandle)
	}
	handle := c.handle

	reply, _ = srv.handleFrame(c, frame(t, enip.CommandSendRRData, handle+1, enip.WrapSendRRData(read)))
	h, _ = enip.DecodeHeader(reply)
	if h.Status != enip.StatusInvalidSession {
		t.Errorf("wrong handle status = 0x%X", h.Status)
	}

	reply, _ = srv.handleFrame(c, frame(t, enip.CommandSendRRData, handle, enip.WrapSendRRData(read)))
	h, _ = enip.DecodeHeader(reply)
	if h.Status != enip.StatusSuccess {
		t.Fatalf("SendRRData status = 0x%X", h.Status)
	}
	cip, err := enip.ExtractUnconnectedData(reply[enip.HeaderSize:])
	if err != nil {
		t.Fatal(err)
	}
	v, err := protocol.ParseReadReply(cip)
	if err != nil || v != protocol.Lint(100) {
		t.Errorf("read = %v, %v", v, err)
	}
	if srv.Requests() != 1 {
		t.Errorf("Requests = %d", srv.Requests())
	}

	if _, act := srv.handleFrame(c, frame(t, enip.CommandUnregisterSession, handle, nil)); act != actionClose || c.handle != 0 {
		t.Errorf("unregister: act=%v handle=0x%X", act, c.handle)
	}
}

func TestFaultCounters(t *testing.T) {
	var f faultState
	f.set(Faults{DropEveryN: 2, CloseEveryN: 3})
	var got []faultAction
	for i := 0; i < 6; i++ {
		got = append(got, f.next())
	}
	want := []faultAction{{}, {drop: true}, {close: true}, {drop: true}, {}, {drop: true, close: true}}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("reply %d: %+v, want %+v", i+1, got[i], want[i])
		}
	}
}

func dial(t *testing.T, srv *Server) (*client.Session, *client.Tags) {
	t.Helper()
	sess := client.NewSession(srv.Addr(), client.WithTransport(client.NewTCPTransport(2*time.Second)))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sess.Open(ctx); err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = sess.Close() })
	return sess, client.NewTags(sess, nil)
}

func TestClientAgainstEmulator(t *testing.T) {
	srv := startTestServer(t)
	sess, tags := dial(t, srv)
	ctx := context.Background()

	if sess.Handle() == 0 {
		t.Fatal("zero session handle")
	}
	audit, err := tags.ReadLint(ctx, base+"AuditValue")
	if err != nil || audit != 100 {
		t.Fatalf("ReadLint = %d, %v", audit, err)
	}
	kp, err := tags.ReadReal(ctx, base+"WDG_Kp")
	if err != nil || kp != 1.0 {
		t.Fatalf("ReadReal = %v, %v", kp, err)
	}
	dt, err := tags.ReadDintArray7(ctx, base+"DateTime")
	if err != nil || dt != [7]int32{2025, 10, 1, 12, 0, 0, 0} {
		t.Fatalf("ReadDintArray7 = %v, %v", dt, err)
	}
	if _, err := tags.ReadDint(ctx, base+"AuditValue"); !errors.Is(err, client.ErrTypeMismatch) {
		t.Errorf("ReadDint on LINT: %v", err)
	}
	if _, err := tags.ReadDint(ctx, "Nope"); err == nil {
		t.Error("read of unknown tag succeeded")
	}

	n, err := tags.IncrementDint(ctx, base+"UnauthorizedCount")
	if err != nil || n != 1 {
		t.Fatalf("IncrementDint = %d, %v", n, err)
	}
	if err := tags.WriteBool(ctx, base+"Alarm", true); err != nil {
		t.Fatalf("WriteBool: %v", err)
	}
	if v, _ := srv.Tags().Get(base + "Alarm"); v != protocol.Bool(true) {
		t.Errorf("Alarm = %v", v)
	}
	if !sess.IsOpen() {
		t.Error("session closed after protocol errors")
	}
}

func TestDropFaultTimesOut(t *testing.T) {
	srv := startTestServer(t)
	_, tags := dial(t, srv)
	srv.SetFaults(Faults{DropEveryN: 2})

	ctx := context.Background()
	if _, err := tags.ReadLint(ctx, base+"AuditValue"); err != nil {
		t.Fatalf("first read: %v", err)
	}
	tctx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	_, err := tags.ReadLint(tctx, base+"AuditValue")
	if !errors.Is(err, client.ErrTransport) {
		t.Fatalf("dropped reply: %v", err)
	}
}

func TestCloseFault(t *testing.T) {
	srv := startTestServer(t)
	sess, tags := dial(t, srv)
	srv.SetFaults(Faults{CloseEveryN: 1})

	if _, err := tags.ReadLint(context.Background(), base+"AuditValue"); !errors.Is(err, client.ErrTransport) {
		t.Fatalf("read on closed connection: %v", err)
	}
	if sess.IsOpen() {
		t.Error("session still open after transport failure")
	}
}

func TestOfflineRefusesSessions(t *testing.T) {
	srv := startTestServer(t)
	_, tags := dial(t, srv)
	srv.SetOffline(true)

	if _, err := tags.ReadLint(context.Background(), base+"AuditValue"); err == nil {
		t.Fatal("read succeeded while offline")
	}
	sess := client.NewSession(srv.Addr(), client.WithTransport(client.NewTCPTransport(time.Second)))
	if err := sess.Open(context.Background()); err == nil {
		t.Fatal("Open succeeded while offline")
	}

	srv.SetOffline(false)
	if err := sess.Open(context.Background()); err != nil {
		t.Fatalf("Open after online: %v", err)
	}
	_ = sess.Close()
}

type eventLog struct {
	mu     sync.Mutex
	events []monitor.Event
}

func (l *eventLog) HandleEvent(e monitor.Event) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) HandleTick(monitor.TickRecord) {}

func (l *eventLog) kinds() []monitor.EventKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]monitor.EventKind, len(l.events))
	for i, e := range l.events {
		out[i] = e.Kind
	}
	return out
}

func (l *eventLog) reset() {
	l.mu.Lock()
	l.events = nil
	l.mu.Unlock()
}

func equalKinds(a, b []monitor.EventKind) bool {
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

func TestMonitorAgainstEmulator(t *testing.T) {
	srv := startTestServer(t)
	sess, tags := dial(t, srv)
	log := &eventLog{}

	m, err := monitor.New(monitor.Config{
		AuditTag:               base + "AuditValue",
		AuthTag:                base + "AuthorizedUser",
		KpTag:                  base + "WDG_Kp",
		KiTag:                  base + "WDG_Ki",
		KdTag:                  base + "WDG_Kd",
		FailureThreshold:       2,
		ReconnectDelay:         10 * time.Millisecond,
		UnauthorizedCounterTag: base + "UnauthorizedCount",
		AlarmTag:               base + "Alarm",
	}, monitor.Deps{Reader: tags, Conn: sess, Sink: log, Responder: tags})
	if err != nil {
		t.Fatalf("monitor.New: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := m.Tick(ctx); err != nil {
		t.Fatalf("seed tick: %v", err)
	}
	want := []monitor.EventKind{monitor.EventBaselineSeeded, monitor.EventBaselineSeeded, monitor.EventBaselinesEstablished}
	if got := log.kinds(); !equalKinds(got, want) {
		t.Fatalf("seed events = %v, want %v", got, want)
	}

	log.reset()
	_ = srv.Tags().Set(base+"AuditValue", protocol.Lint(101))
	_ = srv.Tags().Set(base+"WDG_Kd", protocol.Real(0.07))
	if err := m.Tick(ctx); err != nil {
		t.Fatalf("change tick: %v", err)
	}
	want = []monitor.EventKind{monitor.EventAuditChange, monitor.EventPIDChange}
	if got := log.kinds(); !equalKinds(got, want) {
		t.Fatalf("change events = %v, want %v", got, want)
	}
	if v, _ := srv.Tags().Get(base + "UnauthorizedCount"); v != protocol.Dint(2) {
		t.Errorf("UnauthorizedCount = %v, want 2", v)
	}
	if v, _ := srv.Tags().Get(base + "Alarm"); v != protocol.Bool(true) {
		t.Errorf("Alarm = %v", v)
	}

	log.reset()
	srv.SetOffline(true)
	if err := m.Tick(ctx); err != nil {
		t.Fatalf("first failing tick: %v", err)
	}
	online := time.AfterFunc(100*time.Millisecond, func() { srv.SetOffline(false) })
	defer online.Stop()
	if err := m.Tick(ctx); err != nil {
		t.Fatalf("threshold tick: %v", err)
	}
	if err := m.Tick(ctx); err != nil {
		t.Fatalf("recovered tick: %v", err)
	}
	want = []monitor.EventKind{
		monitor.EventReadFailure,
		monitor.EventReadFailure,
		monitor.EventCommFaultStart,
		monitor.EventReconnected,
		monitor.EventCommFaultEnd,
	}
	if got := log.kinds(); !equalKinds(got, want) {
		t.Fatalf("recovery events = %v, want %v", got, want)
	}
	if st := m.State(); st.CommFault || st.ConsecutiveFailures != 0 {
		t.Errorf("state after recovery = %+v", st)
	}
}

func TestStopIdempotent(t *testing.T) {
	srv := newTestServer(t)
	if err := srv.Stop(); err != nil {
		t.Errorf("Stop before Start: %v", err)
	}
	if err := srv.Start(); err != nil {
		t.Fatal(err)
	}
	if srv.Addr() == "" {
		t.Fatal("empty Addr after Start")
	}
	if err := srv.Stop(); err != nil {
		t.Errorf("Stop: %v", err)
	}
	if err := srv.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}
