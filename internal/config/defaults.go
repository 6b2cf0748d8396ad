package config

// Default controller layout: a Logix controller exposing a UDT instance
// whose members carry the audit counter, authorization flag and PID gains.
const (
	DefaultIP               = "10.100.10.185"
	DefaultPort             = 44818
	DefaultBaseTag          = "WDG_Status_Instance"
	DefaultPollMs           = 200
	DefaultFailureThreshold = 5
	DefaultReconnectDelayMs = 1000
	DefaultSummaryInterval  = 10
	DefaultNetworkTimeoutMs = 15000
	DefaultAlertQueueSize   = 256
	DefaultPublishTimeoutMs = 2000
	DefaultEmulatorListen   = "127.0.0.1:44818"
	DefaultStatusListen     = "127.0.0.1:8089"
)

// CreateDefaultConfig returns a configuration that monitors the default
// controller layout with all optional outputs disabled.
func CreateDefaultConfig() *Config {
	return &Config{
		Controller: ControllerConfig{
			IP:      DefaultIP,
			Port:    DefaultPort,
			BaseTag: DefaultBaseTag,
		},
		Tags: TagsConfig{
			Audit:            "AuditValue",
			Authorized:       "AuthorizedUser",
			Kp:               "WDG_Kp",
			Ki:               "WDG_Ki",
			Kd:               "WDG_Kd",
			ControllerStatus: "ControllerStatus",
			DateTime:         "DateTime",
		},
		Monitor: MonitorConfig{
			PollMs:             DefaultPollMs,
			FailureThreshold:   DefaultFailureThreshold,
			ReconnectDelayMs:   DefaultReconnectDelayMs,
			SummaryIntervalSec: DefaultSummaryInterval,
		},
		Scenario: ScenarioConfig{
			ID:      "baseline",
			Variant: "default",
			TrialID: "1",
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 14,
		},
		Network: NetworkConfig{
			Wait:      true,
			TimeoutMs: DefaultNetworkTimeoutMs,
		},
		Alerts: AlertsConfig{
			QueueSize:        DefaultAlertQueueSize,
			PublishTimeoutMs: DefaultPublishTimeoutMs,
			MQTT: MQTTConfig{
				Port:     1883,
				ClientID: "plcaudit",
				Topic:    "plcaudit/alerts",
				QoS:      1,
			},
			Valkey: ValkeyConfig{
				Addr:      "127.0.0.1:6379",
				KeyPrefix: "plcaudit",
				Channel:   "plcaudit:alerts",
			},
			Kafka: KafkaConfig{
				Topic:        "plcaudit-alerts",
				RequiredAcks: 1,
			},
		},
		Status: StatusConfig{
			Listen: DefaultStatusListen,
		},
		Emulator: EmulatorConfig{
			Listen: DefaultEmulatorListen,
			Tags:   DefaultEmulatorTags(),
		},
	}
}

// DefaultEmulatorTags mirrors the default controller layout.
func DefaultEmulatorTags() []EmulatorTag {
	base := DefaultBaseTag + "."
	return []EmulatorTag{
		{Name: base + "AuditValue", Type: "LINT", Value: 100},
		{Name: base + "AuthorizedUser", Type: "DINT", Value: 0},
		{Name: base + "WDG_Kp", Type: "REAL", Value: 1.0},
		{Name: base + "WDG_Ki", Type: "REAL", Value: 0.5},
		{Name: base + "WDG_Kd", Type: "REAL", Value: 0.05},
		{Name: base + "ControllerStatus", Type: "DINT", Value: 1},
		{Name: base + "DateTime", Type: "DINT", Values: []interface{}{2025, 10, 1, 12, 0, 0, 0}},
		{Name: base + "UnauthorizedCount", Type: "DINT", Value: 0},
		{Name: base + "Alarm", Type: "BOOL", Value: false},
	}
}

// applyDefaults fills zero values that YAML may have cleared.
func applyDefaults(cfg *Config) {
	if cfg.Controller.Port == 0 {
		cfg.Controller.Port = DefaultPort
	}
	if cfg.Monitor.PollMs == 0 {
		cfg.Monitor.PollMs = DefaultPollMs
	}
	if cfg.Monitor.FailureThreshold == 0 {
		cfg.Monitor.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.Alerts.QueueSize == 0 {
		cfg.Alerts.QueueSize = DefaultAlertQueueSize
	}
	if cfg.Alerts.PublishTimeoutMs == 0 {
		cfg.Alerts.PublishTimeoutMs = DefaultPublishTimeoutMs
	}
	if cfg.Status.Listen == "" {
		cfg.Status.Listen = DefaultStatusListen
	}
	if cfg.Emulator.Listen == "" {
		cfg.Emulator.Listen = DefaultEmulatorListen
	}
}
