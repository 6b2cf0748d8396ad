package app

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	cipclient "github.com/georgelake2/plcaudit/internal/cip/client"
	"github.com/georgelake2/plcaudit/internal/cip/protocol"
	"github.com/georgelake2/plcaudit/internal/config"
	"github.com/georgelake2/plcaudit/internal/logging"
	"github.com/georgelake2/plcaudit/internal/metrics"
	"github.com/georgelake2/plcaudit/internal/monitor"
	"github.com/georgelake2/plcaudit/internal/server"
)

const base = config.DefaultBaseTag + "."

func startEmulator(t *testing.T) (*server.Server, string, int) {
	t.Helper()
	srv, err := server.New(config.EmulatorConfig{Listen: "127.0.0.1:0", Tags: config.DefaultEmulatorTags()}, nil)
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { srv.Stop() })
	host, portStr, err := net.SplitHostPort(srv.Addr())
	if err != nil {
		t.Fatalf("SplitHostPort: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	return srv, host, port
}

func emulatorConfig(host string, port int) *config.Config {
	cfg := config.CreateDefaultConfig()
	cfg.Controller.IP = host
	cfg.Controller.Port = port
	return cfg
}

func quietLogger() *logging.Logger {
	return logging.Discard()
}

func TestMonitorOptionsApply(t *testing.T) {
	cfg := config.CreateDefaultConfig()
	MonitorOptions{
		IP:           "10.1.1.1",
		Port:         2222,
		BaseTag:      "Line1",
		PollMs:       50,
		Threshold:    2,
		EventsCSV:    "e.csv",
		TicksJSONL:   "t.jsonl",
		TracePCAP:    "w.pcap",
		StatusListen: "127.0.0.1:0",
		NoWait:       true,
	}.apply(cfg)

	if cfg.Address() != "10.1.1.1:2222" {
		t.Errorf("address = %s", cfg.Address())
	}
	if cfg.Tag(cfg.Tags.Audit) != "Line1.AuditValue" {
		t.Errorf("audit tag = %s", cfg.Tag(cfg.Tags.Audit))
	}
	if cfg.Monitor.PollMs != 50 || cfg.Monitor.FailureThreshold != 2 {
		t.Errorf("monitor = %+v", cfg.Monitor)
	}
	if cfg.Output != (config.OutputConfig{EventsCSV: "e.csv", TicksJSONL: "t.jsonl", TracePCAP: "w.pcap"}) {
		t.Errorf("output = %+v", cfg.Output)
	}
	if !cfg.Status.Enabled || cfg.Network.Wait {
		t.Errorf("status enabled = %v, network wait = %v", cfg.Status.Enabled, cfg.Network.Wait)
	}

	mc := monitorConfig(cfg)
	if mc.KdTag != "Line1.WDG_Kd" || mc.Period != 50*time.Millisecond || mc.ReconnectDelay != time.Second {
		t.Errorf("monitor config = %+v", mc)
	}

	// Zero values keep the file settings.
	cfg = config.CreateDefaultConfig()
	MonitorOptions{}.apply(cfg)
	if cfg.Address() != config.CreateDefaultConfig().Address() || !cfg.Network.Wait {
		t.Errorf("empty options changed the config")
	}
}

func TestReadStartup(t *testing.T) {
	_, host, port := startEmulator(t)
	cfg := emulatorConfig(host, port)
	ctx := context.Background()

	sess := newSession(cfg, quietLogger(), nil)
	if err := sess.Open(ctx); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer sess.Close()
	tags := cipclient.NewTags(sess, nil)

	info := readStartup(ctx, tags, cfg, quietLogger())
	if !info.HaveStatus || info.ControllerStatus != 1 {
		t.Errorf("status = %d (have %v)", info.ControllerStatus, info.HaveStatus)
	}
	want := time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC).UnixMilli()
	if info.PLCTimeMs != want {
		t.Errorf("PLCTimeMs = %d, want %d", info.PLCTimeMs, want)
	}
	if !info.HaveInitial || info.Initial.Audit != 100 || info.Initial.Kp != 1.0 {
		t.Errorf("initial = %+v", info.Initial)
	}

	cfg.Tags.ControllerStatus = "Missing"
	cfg.Tags.DateTime = ""
	cfg.Tags.Ki = "Missing"
	info = readStartup(ctx, tags, cfg, quietLogger())
	if info.HaveStatus || info.PLCTimeMs != 0 || info.HaveInitial {
		t.Errorf("failed reads should leave fields unset: %+v", info)
	}
}

func TestConnectWithRetry(t *testing.T) {
	srv, host, port := startEmulator(t)
	cfg := emulatorConfig(host, port)
	clock := monitor.NewSystemClock()

	t.Run("gives up on cancel", func(t *testing.T) {
		srv.SetOffline(true)
		defer srv.SetOffline(false)
		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()
		sess := newSession(cfg, quietLogger(), nil)
		err := connectWithRetry(ctx, sess, 20*time.Millisecond, clock, quietLogger())
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("err = %v, want deadline exceeded", err)
		}
	})

	t.Run("succeeds once online", func(t *testing.T) {
		srv.SetOffline(true)
		time.AfterFunc(100*time.Millisecond, func() { srv.SetOffline(false) })
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		sess := newSession(cfg, quietLogger(), nil)
		defer sess.Close()
		if err := connectWithRetry(ctx, sess, 20*time.Millisecond, clock, quietLogger()); err != nil {
			t.Fatalf("connectWithRetry: %v", err)
		}
		if sess.Handle() == 0 {
			t.Fatalf("no session handle")
		}
	})
}

func TestToolsAgainstEmulator(t *testing.T) {
	srv, host, port := startEmulator(t)
	ctx := context.Background()
	opts := func(tag, typ, value string, out *bytes.Buffer) ToolOptions {
		return ToolOptions{IP: host, Port: port, LogLevel: "silent", Tag: tag, Type: typ, Value: value, Stdout: out}
	}

	reads := []struct {
		tag, typ, want string
	}{
		{base + "AuditValue", "lint", "= 100"},
		{base + "AuditValue", "", "= 100 (LINT)"},
		{base + "WDG_Kp", "real", "= 1"},
		{base + "ControllerStatus", "dint", "= 1"},
		{base + "DateTime", "dint7", "[2025 10 1 12 0 0 0] 2025-10-01T12:00:00.000Z"},
	}
	for _, tt := range reads {
		var out bytes.Buffer
		if err := RunRead(ctx, opts(tt.tag, tt.typ, "", &out)); err != nil {
			t.Fatalf("RunRead %s: %v", tt.tag, err)
		}
		if !strings.Contains(out.String(), tt.want) {
			t.Errorf("RunRead %s %s = %q, want %q", tt.tag, tt.typ, out.String(), tt.want)
		}
	}

	var out bytes.Buffer
	if err := RunWrite(ctx, opts(base+"Alarm", "bool", "true", &out)); err != nil {
		t.Fatalf("RunWrite: %v", err)
	}
	if v, _ := srv.Tags().Get(base + "Alarm"); v != protocol.Bool(true) {
		t.Errorf("Alarm = %v", v)
	}
	if err := RunWrite(ctx, opts(base+"AuthorizedUser", "DINT", "7", &out)); err != nil {
		t.Fatalf("RunWrite: %v", err)
	}
	if v, _ := srv.Tags().Get(base + "AuthorizedUser"); v != protocol.Dint(7) {
		t.Errorf("AuthorizedUser = %v", v)
	}

	out.Reset()
	if err := RunIncrement(ctx, opts(base+"UnauthorizedCount", "", "", &out)); err != nil {
		t.Fatalf("RunIncrement: %v", err)
	}
	if !strings.Contains(out.String(), "= 1") {
		t.Errorf("RunIncrement output = %q", out.String())
	}
}

func TestToolErrors(t *testing.T) {
	_, host, port := startEmulator(t)
	ctx := context.Background()
	tests := []struct {
		name string
		run  func(context.Context, ToolOptions) error
		opts ToolOptions
		want string
	}{
		{"unknown read type", RunRead, ToolOptions{Tag: "x", Type: "string"}, "unknown read type"},
		{"missing tag", RunRead, ToolOptions{Type: "dint"}, "tag name is required"},
		{"write real", RunWrite, ToolOptions{Tag: "x", Type: "real", Value: "1"}, "BOOL and DINT"},
		{"bad dint", RunWrite, ToolOptions{Tag: "x", Type: "dint", Value: "lots"}, "not a valid DINT"},
		{"dint overflow", RunWrite, ToolOptions{Tag: base + "UnauthorizedCount", Type: "dint", Value: "4294967297"}, "out of range"},
		{"unknown tag", RunRead, ToolOptions{Tag: "NoSuchTag", Type: "dint"}, "does not recognise the tag"},
		{"wrong type", RunRead, ToolOptions{Tag: base + "AuditValue", Type: "dint"}, "different data type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.opts.IP, tt.opts.Port, tt.opts.LogLevel = host, port, "silent"
			tt.opts.Stdout = &bytes.Buffer{}
			err := tt.run(ctx, tt.opts)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestToolConnectFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().(*net.TCPAddr)
	ln.Close()

	err = RunRead(context.Background(), ToolOptions{IP: "127.0.0.1", Port: addr.Port, LogLevel: "silent", Tag: "x", Type: "dint"})
	if err == nil || !strings.Contains(err.Error(), "Failed to open an EtherNet/IP session") {
		t.Fatalf("err = %v", err)
	}
}

// waitForFile polls path until it contains want or the deadline passes.
func waitForFile(t *testing.T, path, want string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if data, err := os.ReadFile(path); err == nil && strings.Contains(string(data), want) {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("%s never contained %q", path, want)
}

func TestRunMonitorAgainstEmulator(t *testing.T) {
	srv, host, port := startEmulator(t)
	dir := t.TempDir()
	eventsPath := filepath.Join(dir, "events.csv")
	ticksPath := filepath.Join(dir, "ticks.jsonl")
	tracePath := filepath.Join(dir, "wire.pcap")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var stdout bytes.Buffer
	done := make(chan error, 1)
	go func() {
		done <- RunMonitor(ctx, MonitorOptions{
			IP:         host,
			Port:       port,
			PollMs:     20,
			EventsCSV:  eventsPath,
			TicksJSONL: ticksPath,
			TracePCAP:  tracePath,
			LogLevel:   "silent",
			NoWait:     true,
			Version:    "test",
			Stdout:     &stdout,
		})
	}()

	waitForFile(t, eventsPath, metrics.EventBaseline, 5*time.Second)
	if err := srv.Tags().Set(base+"WDG_Kp", protocol.Real(2.5)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	waitForFile(t, eventsPath, metrics.EventPID, 5*time.Second)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("RunMonitor: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("RunMonitor did not stop")
	}

	lines, err := metrics.ReadEventsCSV(eventsPath)
	if err != nil {
		t.Fatalf("ReadEventsCSV: %v", err)
	}
	var pid *metrics.EventLine
	for i := range lines {
		if lines[i].Event == metrics.EventPID {
			pid = &lines[i]
		}
	}
	if pid == nil || pid.Authorized != 0 || pid.Metrics.UnauthorizedPIDChanges != 1 {
		t.Fatalf("PID row = %+v", pid)
	}
	if last := lines[len(lines)-1]; last.Type != metrics.LineSummary {
		t.Errorf("last row type = %s, want %s", last.Type, metrics.LineSummary)
	}

	f, err := os.Open(ticksPath)
	if err != nil {
		t.Fatalf("open ticks: %v", err)
	}
	defer f.Close()
	ticks := 0
	changed := false
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		ticks++
		if strings.Contains(scanner.Text(), `"unauthorized_change":true`) {
			changed = true
		}
	}
	if ticks < 2 || !changed {
		t.Errorf("ticks = %d, unauthorized change logged = %v", ticks, changed)
	}

	if info, err := os.Stat(tracePath); err != nil || info.Size() <= 24 {
		t.Errorf("wire trace missing or empty: %v", err)
	}
	if !strings.Contains(stdout.String(), "1 unauthorized") {
		t.Errorf("final summary = %q", stdout.String())
	}
}

func TestRunInitAndValidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plcaudit.yaml")
	var out bytes.Buffer
	if err := RunInit(InitOptions{Output: path, Stdout: &out}); err != nil {
		t.Fatalf("RunInit: %v", err)
	}
	if err := RunInit(InitOptions{Output: path, Stdout: &out}); err == nil {
		t.Fatalf("RunInit overwrote an existing file")
	}
	if err := RunInit(InitOptions{Output: path, Force: true, Stdout: &out}); err != nil {
		t.Fatalf("RunInit --force: %v", err)
	}

	out.Reset()
	if err := RunValidateConfig(path, &out); err != nil {
		t.Fatalf("RunValidateConfig: %v", err)
	}
	if !strings.Contains(out.String(), "Config OK") {
		t.Errorf("output = %q", out.String())
	}

	if err := os.WriteFile(path, []byte("monitor:\n  poll_ms: -5\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := RunValidateConfig(path, &out); err == nil {
		t.Fatalf("negative poll_ms accepted")
	}
}

func TestRunSummarize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.csv")
	w, err := metrics.CreateEventFile(path)
	if err != nil {
		t.Fatalf("CreateEventFile: %v", err)
	}
	clock := &stepClock{}
	rec := metrics.NewRecorder("s1", clock, metrics.WithLineWriter(w))
	rec.MarkBaselineEstablished()
	rec.RecordAuditChange(false)
	rec.RecordAuditChange(true)
	rec.RecordReadFailure()
	rec.DumpSummary()
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	var out bytes.Buffer
	if err := RunSummarize(path, &out); err != nil {
		t.Fatalf("RunSummarize: %v", err)
	}
	text := out.String()
	for _, want := range []string{"Run summary: s1", "1 unauthorized", "5 rows", "AUDIT              2", "READ_FAIL          1"} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q:\n%s", want, text)
		}
	}
}

type stepClock struct{ ms int64 }

func (c *stepClock) NowMs() int64 {
	c.ms += 10
	return c.ms
}
