package tui

import (
	"fmt"
	"net"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cast"

	"github.com/georgelake2/plcaudit/internal/config"
)

// WizardValues are the answers collected by the init wizard, as typed.
type WizardValues struct {
	IP         string
	Port       string
	BaseTag    string
	PollMs     string
	Threshold  string
	ScenarioID string
	Variant    string
	EventsCSV  string
	TicksJSONL string
	Response   bool
	StatusAPI  bool
	StatusAddr string
}

// ValuesFrom seeds the wizard with the current configuration.
func ValuesFrom(cfg *config.Config) WizardValues {
	return WizardValues{
		IP:         cfg.Controller.IP,
		Port:       strconv.Itoa(cfg.Controller.Port),
		BaseTag:    cfg.Controller.BaseTag,
		PollMs:     strconv.Itoa(cfg.Monitor.PollMs),
		Threshold:  strconv.Itoa(cfg.Monitor.FailureThreshold),
		ScenarioID: cfg.Scenario.ID,
		Variant:    cfg.Scenario.Variant,
		EventsCSV:  cfg.Output.EventsCSV,
		TicksJSONL: cfg.Output.TicksJSONL,
		Response:   cfg.Response.UnauthorizedCounterTag != "" || cfg.Response.AlarmTag != "",
		StatusAPI:  cfg.Status.Enabled,
		StatusAddr: cfg.Status.Listen,
	}
}

// Apply converts the answers and writes them into cfg.
func (v WizardValues) Apply(cfg *config.Config) error {
	port, err := intInRange(v.Port, 1, 65535)
	if err != nil {
		return fmt.Errorf("port: %w", err)
	}
	poll, err := intInRange(v.PollMs, 1, 3600000)
	if err != nil {
		return fmt.Errorf("poll interval: %w", err)
	}
	threshold, err := intInRange(v.Threshold, 1, 1000)
	if err != nil {
		return fmt.Errorf("failure threshold: %w", err)
	}
	cfg.Controller.IP = v.IP
	cfg.Controller.Port = port
	cfg.Controller.BaseTag = v.BaseTag
	cfg.Monitor.PollMs = poll
	cfg.Monitor.FailureThreshold = threshold
	cfg.Scenario.ID = v.ScenarioID
	cfg.Scenario.Variant = v.Variant
	cfg.Output.EventsCSV = v.EventsCSV
	cfg.Output.TicksJSONL = v.TicksJSONL
	if v.Response {
		if cfg.Response.UnauthorizedCounterTag == "" {
			cfg.Response.UnauthorizedCounterTag = cfg.Tag("UnauthorizedCount")
		}
		if cfg.Response.AlarmTag == "" {
			cfg.Response.AlarmTag = cfg.Tag("Alarm")
		}
	} else {
		cfg.Response = config.ResponseConfig{}
	}
	cfg.Status.Enabled = v.StatusAPI
	if v.StatusAddr != "" {
		cfg.Status.Listen = v.StatusAddr
	}
	return nil
}

func intInRange(s string, lo, hi int) (int, error) {
	n, err := cast.ToIntE(s)
	if err != nil {
		return 0, fmt.Errorf("%q is not a number", s)
	}
	if n < lo || n > hi {
		return 0, fmt.Errorf("%d is outside %d..%d", n, lo, hi)
	}
	return n, nil
}

func rangeValidator(lo, hi int) func(string) error {
	return func(s string) error {
		_, err := intInRange(s, lo, hi)
		return err
	}
}

func validateIP(s string) error {
	if net.ParseIP(s) == nil {
		return fmt.Errorf("%q is not an IP address", s)
	}
	return nil
}

func validateHostPort(s string) error {
	if _, _, err := net.SplitHostPort(s); err != nil {
		return fmt.Errorf("expected host:port")
	}
	return nil
}

func required(s string) error {
	if s == "" {
		return fmt.Errorf("required")
	}
	return nil
}

// BuildWizard returns the init form bound to v.
func BuildWizard(v *WizardValues) *huh.Form {
	controller := huh.NewGroup(
		huh.NewInput().
			Title("Controller IP").
			Description("Address of the Logix controller.").
			Validate(validateIP).
			Value(&v.IP),
		huh.NewInput().
			Title("Port").
			Description("EtherNet/IP TCP port (default 44818).").
			Validate(rangeValidator(1, 65535)).
			Value(&v.Port),
		huh.NewInput().
			Title("Base tag").
			Description("UDT instance holding the monitored members.").
			Value(&v.BaseTag),
	).Title("Controller")

	polling := huh.NewGroup(
		huh.NewInput().
			Title("Poll interval (ms)").
			Validate(rangeValidator(1, 3600000)).
			Value(&v.PollMs),
		huh.NewInput().
			Title("Failure threshold").
			Description("Consecutive failed polls before reconnecting.").
			Validate(rangeValidator(1, 1000)).
			Value(&v.Threshold),
		huh.NewConfirm().
			Title("Respond to unauthorized changes?").
			Description("Increment <base>.UnauthorizedCount and set <base>.Alarm.").
			Value(&v.Response),
	).Title("Monitoring")

	scenario := huh.NewGroup(
		huh.NewInput().
			Title("Scenario ID").
			Validate(required).
			Value(&v.ScenarioID),
		huh.NewInput().
			Title("Variant (optional)").
			Value(&v.Variant),
		huh.NewInput().
			Title("Events CSV (optional)").
			Description("Path for the event stream; empty disables.").
			Value(&v.EventsCSV),
		huh.NewInput().
			Title("Ticks JSONL (optional)").
			Description("Path for per-tick records; empty disables.").
			Value(&v.TicksJSONL),
	).Title("Scenario")

	status := huh.NewGroup(
		huh.NewConfirm().
			Title("Enable status API?").
			Value(&v.StatusAPI),
	)

	statusAddr := huh.NewGroup(
		huh.NewInput().
			Title("Status API listen address").
			Validate(validateHostPort).
			Value(&v.StatusAddr),
	).WithHideFunc(func() bool { return !v.StatusAPI })

	return huh.NewForm(controller, polling, scenario, status, statusAddr)
}

// RunWizard asks for the main settings and updates cfg in place.
func RunWizard(cfg *config.Config) error {
	v := ValuesFrom(cfg)
	if err := BuildWizard(&v).Run(); err != nil {
		return err
	}
	return v.Apply(cfg)
}
