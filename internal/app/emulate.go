package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/georgelake2/plcaudit/internal/server"
)

// EmulatorOptions configure the controller emulator.
type EmulatorOptions struct {
	ConfigPath  string
	Listen      string
	LogLevel    string
	DropEveryN  int
	CloseEveryN int
}

// RunEmulator serves the configured tag table until ctx is done or
// SIGINT/SIGTERM arrives.
func RunEmulator(ctx context.Context, opts EmulatorOptions) error {
	cfg, err := loadConfig(opts.ConfigPath, false)
	if err != nil {
		return err
	}
	if opts.Listen != "" {
		cfg.Emulator.Listen = opts.Listen
	}
	logger, err := newLogger(cfg.Logging, opts.LogLevel, false)
	if err != nil {
		return err
	}
	defer logger.Close()

	srv, err := server.New(cfg.Emulator, logger)
	if err != nil {
		return err
	}
	if opts.DropEveryN > 0 || opts.CloseEveryN > 0 {
		srv.SetFaults(server.Faults{DropEveryN: opts.DropEveryN, CloseEveryN: opts.CloseEveryN})
		logger.Info("Fault injection: drop every %d, close every %d", opts.DropEveryN, opts.CloseEveryN)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	err = srv.Serve(ctx)
	logger.Info("Served %d requests", srv.Requests())
	return err
}
