package config

// Configuration file handling for plcaudit

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/georgelake2/plcaudit/internal/errors"
)

// Config is the complete plcaudit configuration file.
type Config struct {
	Controller ControllerConfig `yaml:"controller"`
	Tags       TagsConfig       `yaml:"tags"`
	Monitor    MonitorConfig    `yaml:"monitor"`
	Response   ResponseConfig   `yaml:"response"`
	Scenario   ScenarioConfig   `yaml:"scenario"`
	Logging    LoggingConfig    `yaml:"logging"`
	Output     OutputConfig     `yaml:"output"`
	Network    NetworkConfig    `yaml:"network"`
	Alerts     AlertsConfig     `yaml:"alerts"`
	Status     StatusConfig     `yaml:"status"`
	Emulator   EmulatorConfig   `yaml:"emulator"`
}

// ControllerConfig addresses the monitored controller.
type ControllerConfig struct {
	IP              string `yaml:"ip" validate:"nonzero"`
	Port            int    `yaml:"port" validate:"min=1,max=65535"`
	BaseTag         string `yaml:"base_tag"`
	IOTimeoutMs     int    `yaml:"io_timeout_ms" validate:"min=0"` // 0 leaves socket operations unbounded
	TZOffsetMinutes int    `yaml:"tz_offset_minutes" validate:"min=-840,max=840"`
}

// TagsConfig names the monitored tags relative to the controller base tag.
type TagsConfig struct {
	Audit            string `yaml:"audit" validate:"nonzero"`
	Authorized       string `yaml:"authorized" validate:"nonzero"`
	Kp               string `yaml:"kp" validate:"nonzero"`
	Ki               string `yaml:"ki" validate:"nonzero"`
	Kd               string `yaml:"kd" validate:"nonzero"`
	ControllerStatus string `yaml:"controller_status"`
	DateTime         string `yaml:"date_time"`
}

// MonitorConfig tunes the polling loop.
type MonitorConfig struct {
	PollMs             int `yaml:"poll_ms" validate:"min=1"`
	FailureThreshold   int `yaml:"failure_threshold" validate:"min=1"`
	ReconnectDelayMs   int `yaml:"reconnect_delay_ms" validate:"min=0"`
	SummaryIntervalSec int `yaml:"summary_interval_sec" validate:"min=0"`
}

// ResponseConfig names optional controller tags written when an
// unauthorized change is detected.
type ResponseConfig struct {
	UnauthorizedCounterTag string `yaml:"unauthorized_counter_tag"`
	AlarmTag               string `yaml:"alarm_tag"`
}

// ScenarioConfig labels every emitted record for experiment bookkeeping.
type ScenarioConfig struct {
	ID                 string `yaml:"id" validate:"nonzero"`
	Variant            string `yaml:"variant"`
	TrialID            string `yaml:"trial_id"`
	ChangeExpected     bool   `yaml:"change_expected"`
	ChangeType         string `yaml:"change_type"`
	PLCFirmwareVersion string `yaml:"plc_firmware_version"`
}

// LoggingConfig controls the leveled logger and its rotating file.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" validate:"min=0"`
	MaxBackups int    `yaml:"max_backups" validate:"min=0"`
	MaxAgeDays int    `yaml:"max_age_days" validate:"min=0"`
	Compress   bool   `yaml:"compress"`
}

// OutputConfig names the optional record files. Empty disables each.
type OutputConfig struct {
	EventsCSV  string `yaml:"events_csv"`
	TicksJSONL string `yaml:"ticks_jsonl"`
	TracePCAP  string `yaml:"trace_pcap"`
}

// NetworkConfig controls the wait for a usable route before connecting.
type NetworkConfig struct {
	Wait      bool `yaml:"wait"`
	TimeoutMs int  `yaml:"timeout_ms" validate:"min=0"`
}

// AlertsConfig configures the change-alert publishers.
type AlertsConfig struct {
	QueueSize        int          `yaml:"queue_size" validate:"min=0"`
	PublishTimeoutMs int          `yaml:"publish_timeout_ms" validate:"min=0"`
	MQTT             MQTTConfig   `yaml:"mqtt"`
	Valkey           ValkeyConfig `yaml:"valkey"`
	Kafka            KafkaConfig  `yaml:"kafka"`
}

type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	Port     int    `yaml:"port" validate:"min=0,max=65535"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Topic    string `yaml:"topic"`
	QoS      int    `yaml:"qos" validate:"min=0,max=2"`
	Retain   bool   `yaml:"retain"`
}

type ValkeyConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db" validate:"min=0"`
	KeyPrefix string `yaml:"key_prefix"`
	Channel   string `yaml:"channel"`
	TTLSec    int    `yaml:"ttl_sec" validate:"min=0"`
}

type KafkaConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Brokers      []string `yaml:"brokers"`
	Topic        string   `yaml:"topic"`
	RequiredAcks int      `yaml:"required_acks" validate:"min=-1,max=1"`
}

// StatusConfig enables the read-only HTTP status endpoint.
type StatusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// EmulatorConfig seeds the built-in controller emulator.
type EmulatorConfig struct {
	Listen string        `yaml:"listen"`
	Tags   []EmulatorTag `yaml:"tags"`
}

// EmulatorTag is one tag served by the emulator. Scalars use Value;
// arrays set Values and are always DINT.
type EmulatorTag struct {
	Name   string        `yaml:"name" validate:"nonzero"`
	Type   string        `yaml:"type" validate:"nonzero"`
	Value  interface{}   `yaml:"value,omitempty"`
	Values []interface{} `yaml:"values,omitempty"`
}

// Tag joins a configured tag name onto the controller base tag.
func (c *Config) Tag(name string) string {
	base := strings.Trim(c.Controller.BaseTag, ".")
	if base == "" || name == "" {
		return name
	}
	return base + "." + name
}

// Address returns host:port for the controller.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Controller.IP, c.Controller.Port)
}

func (c *Config) PollPeriod() time.Duration {
	return time.Duration(c.Monitor.PollMs) * time.Millisecond
}

func (c *Config) ReconnectDelay() time.Duration {
	return time.Duration(c.Monitor.ReconnectDelayMs) * time.Millisecond
}

func (c *Config) IOTimeout() time.Duration {
	return time.Duration(c.Controller.IOTimeoutMs) * time.Millisecond
}

func (c *Config) SummaryInterval() time.Duration {
	return time.Duration(c.Monitor.SummaryIntervalSec) * time.Second
}

// LoadConfig loads a configuration file, creating it from defaults when
// autoCreate is set and the file does not exist.
func LoadConfig(path string, autoCreate bool) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, errors.WrapConfigError(fmt.Errorf("read config file: %w", err), path)
		}
		if !autoCreate {
			return nil, errors.WrapConfigError(fmt.Errorf("config file not found: %s", path), path)
		}
		if err := WriteDefaultConfig(path); err != nil {
			return nil, fmt.Errorf("create default config: %w", err)
		}
		if data, err = os.ReadFile(path); err != nil {
			return nil, errors.WrapConfigError(fmt.Errorf("read created config file: %w", err), path)
		}
	}

	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, errors.WrapConfigError(err, path)
	}
	return cfg, nil
}

// ParseConfig decodes YAML on top of the defaults and validates the result.
func ParseConfig(data []byte) (*Config, error) {
	cfg := CreateDefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// WriteDefaultConfig writes the default configuration to path.
func WriteDefaultConfig(path string) error {
	return WriteConfig(path, CreateDefaultConfig())
}

// WriteConfig serialises cfg to path with a short header.
func WriteConfig(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	header := "# plcaudit configuration\n# Tag names under 'tags' are relative to controller.base_tag.\n\n"
	if err := os.WriteFile(path, append([]byte(header), data...), 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}
