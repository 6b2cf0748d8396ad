package alerts

import (
	"context"
	"errors"
	"time"

	"github.com/georgelake2/plcaudit/internal/config"
	"github.com/georgelake2/plcaudit/internal/logging"
)

// FromConfig connects every enabled publisher. Publishers that fail to
// connect are skipped with a warning; the error lists them all.
func FromConfig(ctx context.Context, cfg config.AlertsConfig, logger *logging.Logger) ([]Publisher, error) {
	var (
		pubs []Publisher
		errs []error
	)
	if cfg.MQTT.Enabled {
		p, err := DialMQTT(ctx, cfg.MQTT)
		if err != nil {
			errs = append(errs, err)
		} else {
			pubs = append(pubs, p)
		}
	}
	if cfg.Valkey.Enabled {
		p, err := DialValkey(ctx, cfg.Valkey)
		if err != nil {
			errs = append(errs, err)
		} else {
			pubs = append(pubs, p)
		}
	}
	if cfg.Kafka.Enabled {
		pubs = append(pubs, NewKafkaPublisher(cfg.Kafka))
	}
	for _, err := range errs {
		logger.Warn("Alert publisher unavailable: %v", err)
	}
	for _, p := range pubs {
		logger.Info("Alerts enabled: %s", p.Name())
	}
	return pubs, errors.Join(errs...)
}

// DispatcherFromConfig builds a dispatcher over pubs using the queue
// settings in cfg.
func DispatcherFromConfig(pubs []Publisher, cfg config.AlertsConfig, src Source, logger *logging.Logger) *Dispatcher {
	return NewDispatcher(pubs, DispatcherOptions{
		Source:         src,
		QueueSize:      cfg.QueueSize,
		PublishTimeout: time.Duration(cfg.PublishTimeoutMs) * time.Millisecond,
		Logger:         logger,
	})
}
