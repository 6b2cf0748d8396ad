package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/georgelake2/plcaudit/internal/alerts"
	"github.com/georgelake2/plcaudit/internal/capture"
	cipclient "github.com/georgelake2/plcaudit/internal/cip/client"
	"github.com/georgelake2/plcaudit/internal/config"
	"github.com/georgelake2/plcaudit/internal/logging"
	"github.com/georgelake2/plcaudit/internal/metrics"
	"github.com/georgelake2/plcaudit/internal/monitor"
	"github.com/georgelake2/plcaudit/internal/netdetect"
	"github.com/georgelake2/plcaudit/internal/statusapi"
	"github.com/georgelake2/plcaudit/internal/tui"
)

// shutdownTimeout bounds draining alerts and stopping the status API.
const shutdownTimeout = 5 * time.Second

// MonitorOptions are command-line overrides applied on top of the config
// file. Zero values keep the file's settings.
type MonitorOptions struct {
	ConfigPath string
	AutoCreate bool

	IP           string
	Port         int
	BaseTag      string
	PollMs       int
	Threshold    int
	EventsCSV    string
	TicksJSONL   string
	TracePCAP    string
	StatusListen string
	LogLevel     string
	TUI          bool
	NoWait       bool

	Version string
	Stdout  io.Writer
}

// apply writes the overrides into cfg.
func (o MonitorOptions) apply(cfg *config.Config) {
	if o.IP != "" {
		cfg.Controller.IP = o.IP
	}
	if o.Port != 0 {
		cfg.Controller.Port = o.Port
	}
	if o.BaseTag != "" {
		cfg.Controller.BaseTag = o.BaseTag
	}
	if o.PollMs != 0 {
		cfg.Monitor.PollMs = o.PollMs
	}
	if o.Threshold != 0 {
		cfg.Monitor.FailureThreshold = o.Threshold
	}
	if o.EventsCSV != "" {
		cfg.Output.EventsCSV = o.EventsCSV
	}
	if o.TicksJSONL != "" {
		cfg.Output.TicksJSONL = o.TicksJSONL
	}
	if o.TracePCAP != "" {
		cfg.Output.TracePCAP = o.TracePCAP
	}
	if o.StatusListen != "" {
		cfg.Status.Enabled = true
		cfg.Status.Listen = o.StatusListen
	}
	if o.NoWait {
		cfg.Network.Wait = false
	}
}

// monitorConfig maps the file configuration onto the monitor.
func monitorConfig(cfg *config.Config) monitor.Config {
	return monitor.Config{
		AuditTag:               cfg.Tag(cfg.Tags.Audit),
		AuthTag:                cfg.Tag(cfg.Tags.Authorized),
		KpTag:                  cfg.Tag(cfg.Tags.Kp),
		KiTag:                  cfg.Tag(cfg.Tags.Ki),
		KdTag:                  cfg.Tag(cfg.Tags.Kd),
		Period:                 cfg.PollPeriod(),
		FailureThreshold:       cfg.Monitor.FailureThreshold,
		ReconnectDelay:         cfg.ReconnectDelay(),
		UnauthorizedCounterTag: cfg.Response.UnauthorizedCounterTag,
		AlarmTag:               cfg.Response.AlarmTag,
	}
}

// RunMonitor loads the configuration, opens the controller session and
// runs the monitor until ctx is done, SIGINT/SIGTERM arrives or the
// dashboard is closed.
func RunMonitor(ctx context.Context, opts MonitorOptions) error {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	cfg, err := loadConfig(opts.ConfigPath, opts.AutoCreate)
	if err != nil {
		return err
	}
	opts.apply(cfg)
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := newLogger(cfg.Logging, opts.LogLevel, opts.TUI)
	if err != nil {
		return err
	}
	defer logger.Close()
	logger.LogStartup(cfg.Address(), cfg.Controller.BaseTag, cfg.Monitor.PollMs, cfg.Monitor.FailureThreshold, opts.ConfigPath)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
			logger.Info("Received interrupt signal, shutting down gracefully...")
			cancel()
		case <-ctx.Done():
		}
	}()

	if cfg.Network.Wait {
		route, err := netdetect.WaitForNetwork(ctx, cfg.Controller.IP, time.Duration(cfg.Network.TimeoutMs)*time.Millisecond, logger)
		if err != nil {
			return fmt.Errorf("wait for network: %w", err)
		}
		logger.Info("Network ready: local address %s", route.LocalIP)
	}

	var trace *capture.Capture
	var tracer cipclient.Tracer
	if cfg.Output.TracePCAP != "" {
		trace, err = capture.Create(cfg.Output.TracePCAP, cfg.Address())
		if err != nil {
			return err
		}
		defer trace.Close()
		tracer = trace
		logger.Info("Writing wire trace to %s", cfg.Output.TracePCAP)
	}

	clock := monitor.NewSystemClock()
	sess := newSession(cfg, logger, tracer)
	defer sess.Close()
	if err := connectWithRetry(ctx, sess, cfg.ReconnectDelay(), clock, logger); err != nil {
		return err
	}
	tags := cipclient.NewTags(sess, logger)
	start := readStartup(ctx, tags, cfg, logger)

	sinks, err := openSinks(ctx, cfg, clock, start, opts, logger)
	if err != nil {
		return err
	}
	defer sinks.close(logger)

	mon, err := monitor.New(monitorConfig(cfg), monitor.Deps{
		Reader:    tags,
		Conn:      sess,
		Sink:      sinks.all,
		Clock:     clock,
		Logger:    logger,
		Responder: tags,
	})
	if err != nil {
		return err
	}
	if cfg.Status.Enabled {
		router := statusapi.NewRouter(statusapi.Info{
			Scenario:   cfg.Scenario.ID,
			Controller: cfg.Address(),
			Version:    opts.Version,
		}, sinks.tracker, sinks.recorder, mon)
		if sinks.status, err = statusapi.Start(cfg.Status.Listen, router, logger); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := mon.Run(gctx)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil
		}
		return err
	})
	if sinks.dashboard != nil {
		g.Go(func() error {
			err := sinks.dashboard.Run(gctx)
			cancel()
			return err
		})
	}
	if every := cfg.SummaryInterval(); every > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(every)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					logger.Info("%s", sinks.recorder.DumpSummary())
				}
			}
		})
	}
	runErr := g.Wait()

	logger.Info("Monitor stopped after %d ticks", mon.State().Ticks)
	if err := sess.Close(); err != nil {
		logger.Debug("Close session: %v", err)
	}
	logger.Info("%s", sinks.recorder.DumpSummary())
	fmt.Fprintln(opts.Stdout, tui.RenderSummary(sinks.recorder.Snapshot()))
	if trace != nil {
		logger.Verbose("Wire trace: %d packets", trace.PacketCount())
	}
	return runErr
}

// runSinks owns every consumer of monitor notifications.
type runSinks struct {
	all        monitor.MultiSink
	recorder   *metrics.Recorder
	events     *metrics.EventWriter
	ticks      *metrics.TickWriter
	dispatcher *alerts.Dispatcher
	tracker    *statusapi.Tracker
	status     *statusapi.Server
	dashboard  *tui.Dashboard
}

func openSinks(ctx context.Context, cfg *config.Config, clock monitor.Clock, start startupInfo, opts MonitorOptions, logger *logging.Logger) (*runSinks, error) {
	s := &runSinks{tracker: statusapi.NewTracker()}

	var recOpts []metrics.Option
	if path := cfg.Output.EventsCSV; path != "" {
		events, err := metrics.CreateEventFile(path)
		if err != nil {
			return nil, err
		}
		s.events = events
		recOpts = append(recOpts, metrics.WithLineWriter(events))
		logger.Info("Writing events to %s", path)
	}
	s.recorder = metrics.NewRecorder(cfg.Scenario.ID, clock, recOpts...)
	s.all = append(s.all, s.recorder, s.tracker)

	if path := cfg.Output.TicksJSONL; path != "" {
		ticks, err := metrics.CreateTickFile(path, metrics.RunContext{
			ScenarioID:         cfg.Scenario.ID,
			ScenarioVariant:    cfg.Scenario.Variant,
			TrialID:            cfg.Scenario.TrialID,
			ChangeExpected:     cfg.Scenario.ChangeExpected,
			ChangeType:         cfg.Scenario.ChangeType,
			PollPeriod:         cfg.PollPeriod(),
			AgentVersion:       opts.Version,
			PLCFirmwareVersion: cfg.Scenario.PLCFirmwareVersion,
			PLCTimeMs:          start.PLCTimeMs,
		})
		if err != nil {
			s.close(logger)
			return nil, err
		}
		s.ticks = ticks
		s.all = append(s.all, ticks)
		logger.Info("Writing ticks to %s", path)
	}

	pubs, err := alerts.FromConfig(ctx, cfg.Alerts, logger)
	if err != nil {
		logger.Warn("Some alert publishers are disabled: %v", err)
	}
	if len(pubs) > 0 {
		s.dispatcher = alerts.DispatcherFromConfig(pubs, cfg.Alerts, alerts.Source{
			Scenario:   cfg.Scenario.ID,
			Controller: cfg.Address(),
		}, logger)
		s.all = append(s.all, s.dispatcher)
	}

	if opts.TUI {
		s.dashboard = tui.NewDashboard(tui.Info{
			Scenario:   cfg.Scenario.ID,
			Controller: cfg.Address(),
			BaseTag:    cfg.Controller.BaseTag,
			PollMs:     cfg.Monitor.PollMs,
		})
		s.all = append(s.all, s.dashboard)
	}
	return s, nil
}

// close flushes and releases every sink. Errors are logged.
func (s *runSinks) close(logger *logging.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if s.status != nil {
		if err := s.status.Shutdown(ctx); err != nil {
			logger.Warn("Stop status API: %v", err)
		}
	}
	if s.dispatcher != nil {
		if err := s.dispatcher.Close(ctx); err != nil {
			logger.Warn("Close alerts: %v", err)
		}
		st := s.dispatcher.Stats()
		logger.Verbose("Alerts: %d sent, %d failed, %d dropped", st.Sent, st.Failed, st.Dropped)
	}
	if s.recorder != nil {
		if err := s.recorder.Err(); err != nil {
			logger.Warn("Event output incomplete: %v", err)
		}
	}
	if s.events != nil {
		if err := s.events.Close(); err != nil {
			logger.Warn("Close events file: %v", err)
		}
	}
	if s.ticks != nil {
		if err := s.ticks.Err(); err != nil {
			logger.Warn("Tick output incomplete: %v", err)
		}
		if err := s.ticks.Close(); err != nil {
			logger.Warn("Close ticks file: %v", err)
		}
	}
}
