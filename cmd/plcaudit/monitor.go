package main

import (
	"github.com/spf13/cobra"

	"github.com/georgelake2/plcaudit/internal/app"
)

type monitorFlags struct {
	config       string
	quickStart   bool
	ip           string
	port         int
	base         string
	pollMs       int
	threshold    int
	tui          bool
	eventsCSV    string
	ticksJSONL   string
	tracePCAP    string
	statusListen string
	noWait       bool
	logging      logFlags
}

func newMonitorCmd() *cobra.Command {
	flags := &monitorFlags{}

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Monitor audit and PID tags for changes",
		Long: `Poll the audit value, authorization flag and PID gains every poll period and
classify each change. An audit or PID change is authorized only when the
authorization tag is nonzero on the tick that observed it.

Every tick performs all five reads. After the configured number of
consecutive failed ticks the session is closed and reopened until the
controller answers again.

Press Ctrl+C to stop; a summary of the run is printed on exit.`,
		Example: `  # Monitor the controller named in plcaudit.yaml
  plcaudit monitor --config plcaudit.yaml

  # Override the controller and record events and ticks
  plcaudit monitor --ip 10.100.10.185 --events-csv events.csv --ticks-jsonl ticks.jsonl

  # Live dashboard with the HTTP status API
  plcaudit monitor --tui --status-listen 127.0.0.1:8089`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if handleHelpArg(cmd, args) {
				return nil
			}
			level, err := flags.logging.level()
			if err != nil {
				return err
			}
			return app.RunMonitor(cmd.Context(), app.MonitorOptions{
				ConfigPath:   flags.config,
				AutoCreate:   flags.quickStart,
				IP:           flags.ip,
				Port:         flags.port,
				BaseTag:      flags.base,
				PollMs:       flags.pollMs,
				Threshold:    flags.threshold,
				EventsCSV:    flags.eventsCSV,
				TicksJSONL:   flags.ticksJSONL,
				TracePCAP:    flags.tracePCAP,
				StatusListen: flags.statusListen,
				LogLevel:     level,
				TUI:          flags.tui,
				NoWait:       flags.noWait,
				Version:      version,
				Stdout:       cmd.OutOrStdout(),
			})
		},
	}

	cmd.Flags().StringVar(&flags.config, "config", "", "Config file path (defaults when empty)")
	cmd.Flags().BoolVar(&flags.quickStart, "quick-start", false, "Create the config file from defaults if it does not exist")
	cmd.Flags().StringVar(&flags.ip, "ip", "", "Controller IP address (overrides config)")
	cmd.Flags().IntVar(&flags.port, "port", 0, "Controller port (overrides config)")
	cmd.Flags().StringVar(&flags.base, "base", "", "Base tag holding the monitored members (overrides config)")
	cmd.Flags().IntVar(&flags.pollMs, "poll-ms", 0, "Poll period in milliseconds (overrides config)")
	cmd.Flags().IntVar(&flags.threshold, "threshold", 0, "Consecutive failed ticks before reconnecting (overrides config)")
	cmd.Flags().BoolVar(&flags.tui, "tui", false, "Show the live dashboard")
	cmd.Flags().StringVar(&flags.eventsCSV, "events-csv", "", "Write the event CSV to this path")
	cmd.Flags().StringVar(&flags.ticksJSONL, "ticks-jsonl", "", "Write one JSON line per tick to this path")
	cmd.Flags().StringVar(&flags.tracePCAP, "trace-pcap", "", "Write a pcap trace of the controller session to this path")
	cmd.Flags().StringVar(&flags.statusListen, "status-listen", "", "Serve the HTTP status API on host:port")
	cmd.Flags().BoolVar(&flags.noWait, "no-wait", false, "Skip waiting for a network route to the controller")
	flags.logging.register(cmd)

	return cmd
}
