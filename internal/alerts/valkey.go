package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/georgelake2/plcaudit/internal/config"
)

// valkeyClient is the part of *redis.Client the publisher uses.
type valkeyClient interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Close() error
}

// ValkeyPublisher stores the latest alert of each kind under
// <prefix>:<scenario>:last:<kind> and publishes every alert on the
// configured channel.
type ValkeyPublisher struct {
	cfg    config.ValkeyConfig
	client valkeyClient
}

// DialValkey connects and pings the server.
func DialValkey(ctx context.Context, cfg config.ValkeyConfig) (*ValkeyPublisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to Valkey at %s: %w", cfg.Addr, err)
	}
	return &ValkeyPublisher{cfg: cfg, client: client}, nil
}

func (p *ValkeyPublisher) Name() string { return "valkey://" + p.cfg.Addr }

// Key returns the key holding the latest alert of kind.
func (p *ValkeyPublisher) Key(scenario, kind string) string {
	return joinKey(p.cfg.KeyPrefix, scenario, "last", strings.ToLower(kind))
}

func (p *ValkeyPublisher) Publish(ctx context.Context, a Alert) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	ttl := time.Duration(p.cfg.TTLSec) * time.Second
	if err := p.client.Set(ctx, p.Key(a.Scenario, a.Kind), data, ttl).Err(); err != nil {
		return fmt.Errorf("set key: %w", err)
	}
	if p.cfg.Channel != "" {
		if err := p.client.Publish(ctx, p.cfg.Channel, data).Err(); err != nil {
			return fmt.Errorf("publish: %w", err)
		}
	}
	return nil
}

func (p *ValkeyPublisher) Close() error { return p.client.Close() }

// joinKey joins non-empty segments with ':'.
func joinKey(segments ...string) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ":")
}
