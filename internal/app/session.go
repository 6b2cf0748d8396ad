package app

import (
	"context"
	"fmt"
	"time"

	cipclient "github.com/georgelake2/plcaudit/internal/cip/client"
	"github.com/georgelake2/plcaudit/internal/config"
	"github.com/georgelake2/plcaudit/internal/logging"
	"github.com/georgelake2/plcaudit/internal/monitor"
)

// loadConfig reads the config file, or the defaults when path is empty.
func loadConfig(path string, autoCreate bool) (*config.Config, error) {
	if path == "" {
		return config.CreateDefaultConfig(), nil
	}
	return config.LoadConfig(path, autoCreate)
}

// newLogger builds the logger from the logging section. A non-empty
// override replaces the configured level.
func newLogger(cfg config.LoggingConfig, override string, noConsole bool) (*logging.Logger, error) {
	name := cfg.Level
	if override != "" {
		name = override
	}
	level, err := logging.ParseLevel(name)
	if err != nil {
		return nil, err
	}
	logger, err := logging.NewLoggerWithFile(level, logging.FileOptions{
		Path:       cfg.File,
		MaxSizeMB:  cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAgeDays: cfg.MaxAgeDays,
		Compress:   cfg.Compress,
		NoConsole:  noConsole,
	})
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	return logger, nil
}

// newSession creates an unconnected session to the configured controller.
// tracer may be nil.
func newSession(cfg *config.Config, logger *logging.Logger, tracer cipclient.Tracer) *cipclient.Session {
	opts := []cipclient.Option{
		cipclient.WithTransport(cipclient.NewTCPTransport(cfg.IOTimeout())),
		cipclient.WithLogger(logger),
	}
	if tracer != nil {
		opts = append(opts, cipclient.WithTracer(tracer))
	}
	return cipclient.NewSession(cfg.Address(), opts...)
}

// connectWithRetry opens the session, waiting delay between attempts,
// until it succeeds or ctx is done.
func connectWithRetry(ctx context.Context, sess *cipclient.Session, delay time.Duration, clock monitor.Clock, logger *logging.Logger) error {
	if delay <= 0 {
		delay = monitor.DefaultReconnectDelay
	}
	for attempt := 1; ; attempt++ {
		err := sess.Open(ctx)
		if err == nil {
			logger.Info("Session registered with %s (handle 0x%08X)", sess.Addr(), sess.Handle())
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		logger.Warn("Connect attempt %d to %s failed: %v", attempt, sess.Addr(), err)
		if err := clock.Sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// connectOnce opens the session for a one-shot command.
func connectOnce(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*cipclient.Session, error) {
	sess := newSession(cfg, logger, nil)
	if err := sess.Open(ctx); err != nil {
		return nil, err
	}
	return sess, nil
}
