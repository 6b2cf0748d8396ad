package app

import (
	"context"

	cipclient "github.com/georgelake2/plcaudit/internal/cip/client"
	"github.com/georgelake2/plcaudit/internal/config"
	"github.com/georgelake2/plcaudit/internal/logging"
	"github.com/georgelake2/plcaudit/internal/monitor"
	"github.com/georgelake2/plcaudit/internal/plctime"
)

// startupInfo is what the one-off reads before monitoring learned.
type startupInfo struct {
	ControllerStatus int32
	HaveStatus       bool

	// PLCTimeMs is the controller clock in epoch ms, 0 when unavailable.
	PLCTimeMs int64

	Initial     monitor.Values
	HaveInitial bool
}

// readStartup performs the startup reads on a freshly opened session.
// It must finish before the monitor takes over the session. Failures are
// logged and leave the corresponding fields unset.
func readStartup(ctx context.Context, tags *cipclient.Tags, cfg *config.Config, logger *logging.Logger) startupInfo {
	var info startupInfo

	if name := cfg.Tags.ControllerStatus; name != "" {
		status, err := tags.ReadDint(ctx, cfg.Tag(name))
		if err != nil {
			logger.Warn("Controller status unavailable: %v", err)
		} else {
			info.ControllerStatus, info.HaveStatus = status, true
			logger.Info("Controller status: %d", status)
		}
	}

	if name := cfg.Tags.DateTime; name != "" {
		raw, err := tags.ReadDintArray7(ctx, cfg.Tag(name))
		if err != nil {
			logger.Warn("Controller clock unavailable: %v", err)
		} else {
			dt := plctime.FromArray(raw)
			ms, err := dt.EpochMillis(cfg.Controller.TZOffsetMinutes)
			if err != nil {
				logger.Warn("Controller clock %s not usable: %v", dt, err)
			} else {
				info.PLCTimeMs = ms
				logger.Info("Controller clock: %s (%s)", dt, plctime.FormatISO(ms))
			}
		}
	}

	var v monitor.Values
	var err error
	if v.Audit, err = tags.ReadLint(ctx, cfg.Tag(cfg.Tags.Audit)); err != nil {
		logger.Warn("Initial audit read failed: %v", err)
		return info
	}
	if v.Authorized, err = tags.ReadDint(ctx, cfg.Tag(cfg.Tags.Authorized)); err != nil {
		logger.Warn("Initial authorization read failed: %v", err)
		return info
	}
	for _, g := range []struct {
		name string
		dst  *float32
	}{
		{cfg.Tags.Kp, &v.Kp},
		{cfg.Tags.Ki, &v.Ki},
		{cfg.Tags.Kd, &v.Kd},
	} {
		if *g.dst, err = tags.ReadReal(ctx, cfg.Tag(g.name)); err != nil {
			logger.Warn("Initial PID read failed: %v", err)
			return info
		}
	}
	info.Initial, info.HaveInitial = v, true
	logger.Info("Initial values: AuditValue=%d AuthorizedUser=%d Kp=%g Ki=%g Kd=%g",
		v.Audit, v.Authorized, v.Kp, v.Ki, v.Kd)
	return info
}
