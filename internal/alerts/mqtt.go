package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/georgelake2/plcaudit/internal/config"
)

// mqttClient is the part of pahomqtt.Client the publisher uses.
type mqttClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
	Disconnect(quiesce uint)
}

// MQTTPublisher publishes alerts to <topic>/<kind>.
type MQTTPublisher struct {
	cfg    config.MQTTConfig
	client mqttClient
}

// DialMQTT connects to the configured broker.
func DialMQTT(ctx context.Context, cfg config.MQTTConfig) (*MQTTPublisher, error) {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Broker, cfg.Port))
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetKeepAlive(30 * time.Second)

	client := pahomqtt.NewClient(opts)
	if err := waitToken(ctx, client.Connect(), 5*time.Second); err != nil {
		return nil, fmt.Errorf("connect to MQTT broker %s:%d: %w", cfg.Broker, cfg.Port, err)
	}
	return &MQTTPublisher{cfg: cfg, client: client}, nil
}

func (p *MQTTPublisher) Name() string {
	return fmt.Sprintf("mqtt://%s:%d", p.cfg.Broker, p.cfg.Port)
}

// Topic returns the topic an alert of kind is published on.
func (p *MQTTPublisher) Topic(kind string) string {
	return strings.TrimSuffix(p.cfg.Topic, "/") + "/" + strings.ToLower(kind)
}

func (p *MQTTPublisher) Publish(ctx context.Context, a Alert) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	token := p.client.Publish(p.Topic(a.Kind), byte(p.cfg.QoS), p.cfg.Retain, payload)
	return waitToken(ctx, token, 0)
}

func (p *MQTTPublisher) Close() error {
	p.client.Disconnect(250)
	return nil
}

// waitToken waits for t to complete, for ctx, or for limit when non-zero.
func waitToken(ctx context.Context, t pahomqtt.Token, limit time.Duration) error {
	var timeout <-chan time.Time
	if limit > 0 {
		timer := time.NewTimer(limit)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case <-t.Done():
		return t.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timeout:
		return fmt.Errorf("timed out after %v", limit)
	}
}
