package config

import (
	stderrors "errors"
	"fmt"
	"net"

	"gopkg.in/validator.v2"

	"github.com/georgelake2/plcaudit/internal/cip/protocol"
	"github.com/georgelake2/plcaudit/internal/logging"
)

// Validate checks field constraints and cross-field rules.
func Validate(cfg *Config) error {
	var errs []error
	if err := validator.Validate(cfg); err != nil {
		errs = append(errs, err)
	}

	if _, err := logging.ParseLevel(cfg.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	for field, name := range map[string]string{
		"tags.audit":      cfg.Tags.Audit,
		"tags.authorized": cfg.Tags.Authorized,
		"tags.kp":         cfg.Tags.Kp,
		"tags.ki":         cfg.Tags.Ki,
		"tags.kd":         cfg.Tags.Kd,
	} {
		if name == "" {
			continue
		}
		if _, err := protocol.EncodeSymbolPath(cfg.Tag(name)); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field, err))
		}
	}

	if cfg.Alerts.MQTT.Enabled && cfg.Alerts.MQTT.Broker == "" {
		errs = append(errs, fmt.Errorf("alerts.mqtt.broker is required when mqtt is enabled"))
	}
	if cfg.Alerts.Valkey.Enabled && cfg.Alerts.Valkey.Addr == "" {
		errs = append(errs, fmt.Errorf("alerts.valkey.addr is required when valkey is enabled"))
	}
	if cfg.Alerts.Kafka.Enabled {
		if len(cfg.Alerts.Kafka.Brokers) == 0 {
			errs = append(errs, fmt.Errorf("alerts.kafka.brokers is required when kafka is enabled"))
		}
		if cfg.Alerts.Kafka.Topic == "" {
			errs = append(errs, fmt.Errorf("alerts.kafka.topic is required when kafka is enabled"))
		}
	}
	if cfg.Status.Enabled {
		if _, _, err := net.SplitHostPort(cfg.Status.Listen); err != nil {
			errs = append(errs, fmt.Errorf("status.listen: %w", err))
		}
	}

	seen := make(map[string]bool)
	for i, tag := range cfg.Emulator.Tags {
		if err := validator.Validate(tag); err != nil {
			errs = append(errs, fmt.Errorf("emulator.tags[%d]: %w", i, err))
			continue
		}
		if seen[tag.Name] {
			errs = append(errs, fmt.Errorf("emulator.tags[%d]: duplicate tag %q", i, tag.Name))
		}
		seen[tag.Name] = true
		typ, _, err := tag.EmulatorValues()
		if err != nil {
			errs = append(errs, fmt.Errorf("emulator.tags[%d]: %w", i, err))
			continue
		}
		if len(tag.Values) > 0 && typ != protocol.TypeDINT {
			errs = append(errs, fmt.Errorf("emulator.tags[%d]: arrays must be DINT, got %s", i, typ))
		}
	}

	return stderrors.Join(errs...)
}
