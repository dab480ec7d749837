// Package presence publishes the agent's status and mood to an MQTT
// broker as retained messages, so dashboards and other agents can
// observe it. The publisher is optional; an unconfigured broker
// disables it.
package presence

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/hcengineering/huly-ai-agent-sub000/internal/config"
)

// Publisher manages the MQTT connection and pushes status updates.
type Publisher struct {
	cfg    config.MQTTConfig
	logger *slog.Logger

	mu     sync.Mutex
	cm     *autopaho.ConnectionManager
	status string
	ctx    context.Context
}

// New creates a Publisher but does not connect. Call [Publisher.Start]
// to begin the connection.
func New(cfg config.MQTTConfig, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		cfg:    cfg,
		logger: logger.With("component", "presence"),
	}
}

// Start connects to the MQTT broker and blocks until ctx is
// cancelled. On every (re-)connect the current status is republished.
func (p *Publisher) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(p.cfg.BrokerURL)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: p.cfg.Username,
		ConnectPassword: []byte(p.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   p.cfg.Topic + "/availability",
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			p.logger.Info("mqtt connected to broker", "broker", p.cfg.BrokerURL)
			p.publishPayload(ctx, cm, p.cfg.Topic+"/availability", []byte("online"))
			p.mu.Lock()
			status := p.status
			p.mu.Unlock()
			if status != "" {
				p.publishStatus(ctx, cm, status)
			}
		},
		OnConnectError: func(err error) {
			p.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: p.cfg.ClientID,
		},
	}

	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	p.mu.Lock()
	p.cm = cm
	p.ctx = ctx
	p.mu.Unlock()

	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p.publishPayload(stopCtx, cm, p.cfg.Topic+"/availability", []byte("offline"))
	return cm.Disconnect(stopCtx)
}

// Publish records the agent's status and pushes it to the broker when
// connected. Safe to call before Start and on a nil Publisher; the
// status is replayed on connect.
func (p *Publisher) Publish(status string) {
	if p == nil {
		return
	}
	p.mu.Lock()
	p.status = status
	cm := p.cm
	ctx := p.ctx
	p.mu.Unlock()
	if cm == nil || ctx == nil {
		return
	}
	p.publishStatus(ctx, cm, status)
}

func (p *Publisher) publishStatus(ctx context.Context, cm *autopaho.ConnectionManager, status string) {
	payload, err := json.Marshal(map[string]string{
		"status":     status,
		"updated_at": time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return
	}
	p.publishPayload(ctx, cm, p.cfg.Topic+"/status", payload)
}

func (p *Publisher) publishPayload(ctx context.Context, cm *autopaho.ConnectionManager, topic string, payload []byte) {
	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := cm.Publish(pubCtx, &paho.Publish{
		Topic:   topic,
		Payload: payload,
		QoS:     1,
		Retain:  true,
	}); err != nil {
		p.logger.Warn("mqtt publish failed", "topic", topic, "error", err)
	}
}
