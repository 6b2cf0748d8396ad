package app

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/georgelake2/plcaudit/internal/config"
	"github.com/georgelake2/plcaudit/internal/metrics"
	"github.com/georgelake2/plcaudit/internal/tui"
)

// InitOptions configure the init command.
type InitOptions struct {
	Output      string
	Interactive bool
	Force       bool
	Stdout      io.Writer
}

// RunInit writes a configuration file, optionally filled in by the wizard.
func RunInit(opts InitOptions) error {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if !opts.Force {
		if _, err := os.Stat(opts.Output); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", opts.Output)
		}
	}
	cfg := config.CreateDefaultConfig()
	if opts.Interactive {
		if err := tui.RunWizard(cfg); err != nil {
			return fmt.Errorf("wizard: %w", err)
		}
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := config.WriteConfig(opts.Output, cfg); err != nil {
		return err
	}
	fmt.Fprintf(opts.Stdout, "Wrote %s\n", opts.Output)
	return nil
}

// RunValidateConfig loads path and reports whether it is valid.
func RunValidateConfig(path string, out io.Writer) error {
	if out == nil {
		out = os.Stdout
	}
	cfg, err := config.LoadConfig(path, false)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Config OK: %s (controller %s, base %q, %d emulator tags)\n",
		path, cfg.Address(), cfg.Controller.BaseTag, len(cfg.Emulator.Tags))
	return nil
}

// RunSummarize prints the metrics recorded in an event CSV: the last
// row's counters and the number of rows per event.
func RunSummarize(path string, out io.Writer) error {
	if out == nil {
		out = os.Stdout
	}
	lines, err := metrics.ReadEventsCSV(path)
	if err != nil {
		return err
	}
	if len(lines) == 0 {
		return fmt.Errorf("%s has no event rows", path)
	}

	counts := make(map[string]int)
	for _, l := range lines {
		if l.Type == metrics.LineEvent {
			counts[l.Event]++
		}
	}
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)

	last := lines[len(lines)-1]
	fmt.Fprintln(out, tui.RenderSummary(last.Metrics))
	fmt.Fprintf(out, "%d rows, last at t=%d ms\n", len(lines), last.TMs)
	for _, name := range names {
		fmt.Fprintf(out, "  %-18s %d\n", name, counts[name])
	}
	return nil
}
