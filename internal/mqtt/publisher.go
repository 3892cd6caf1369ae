package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/nugget/terrarium-irc/internal/buildinfo"
	"github.com/nugget/terrarium-irc/internal/config"
	"github.com/nugget/terrarium-irc/internal/events"
)

// StatusInterval is how often the status document is refreshed.
const StatusInterval = time.Minute

// TokenCounter reports today's model token usage. *usage.Store
// satisfies it through a small adapter in main.
type TokenCounter interface {
	TokensToday(ctx context.Context) (int64, error)
}

// Publisher forwards bus events to the broker.
type Publisher struct {
	cfg      config.MQTTConfig
	clientID string
	bus      *events.Bus
	tokens   TokenCounter
	logger   *slog.Logger
	cm       *autopaho.ConnectionManager
}

// New creates a Publisher but does not connect. A nil tokens omits
// token usage from the status document.
func New(cfg config.MQTTConfig, instanceID string, bus *events.Bus, tokens TokenCounter, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "terrarium-" + instanceID
	}
	return &Publisher{
		cfg:      cfg,
		clientID: clientID,
		bus:      bus,
		tokens:   tokens,
		logger:   logger,
	}
}

// Start connects and forwards events until ctx is cancelled.
func (p *Publisher) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(p.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: p.cfg.Username,
		ConnectPassword: []byte(p.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   p.availabilityTopic(),
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			p.logger.Info("mqtt connected to broker", "broker", p.cfg.Broker)
			p.publishAvailability(ctx, cm, "online")
		},
		OnConnectError: func(err error) {
			p.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: p.clientID,
		},
	}
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	p.cm = cm

	connCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		// autopaho keeps retrying in the background.
		p.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}

	p.run(ctx)
	return nil
}

// Stop publishes "offline" and disconnects.
func (p *Publisher) Stop(ctx context.Context) error {
	if p.cm == nil {
		return nil
	}
	p.publishAvailability(ctx, p.cm, "offline")
	return p.cm.Disconnect(ctx)
}

// AwaitConnection blocks until the broker connection is up or ctx
// expires.
func (p *Publisher) AwaitConnection(ctx context.Context) error {
	if p.cm == nil {
		return fmt.Errorf("mqtt publisher not started")
	}
	return p.cm.AwaitConnection(ctx)
}

func (p *Publisher) run(ctx context.Context) {
	sub := p.bus.Subscribe(128)
	defer p.bus.Unsubscribe(sub)

	ticker := time.NewTicker(StatusInterval)
	defer ticker.Stop()
	p.publishStatus(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub:
			if !ok {
				return
			}
			p.publishEvent(ctx, e)
		case <-ticker.C:
			p.publishStatus(ctx)
		}
	}
}

func (p *Publisher) prefix() string {
	if p.cfg.TopicPrefix == "" {
		return "terrarium"
	}
	return strings.TrimRight(p.cfg.TopicPrefix, "/")
}

func (p *Publisher) availabilityTopic() string { return p.prefix() + "/availability" }

func (p *Publisher) statusTopic() string { return p.prefix() + "/status" }

func (p *Publisher) eventTopic(e events.Event) string {
	source, kind := e.Source, e.Kind
	if source == "" {
		source = "unknown"
	}
	return p.prefix() + "/events/" + topicSafe(source) + "/" + topicSafe(kind)
}

// topicSafe replaces MQTT wildcard and separator characters.
func topicSafe(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '+', '#', '/':
			return '_'
		}
		return r
	}, s)
}

func (p *Publisher) publishEvent(ctx context.Context, e events.Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		p.logger.Debug("mqtt marshal event", "kind", e.Kind, "error", err)
		return
	}
	if _, err := p.cm.Publish(ctx, &paho.Publish{
		Topic:   p.eventTopic(e),
		Payload: payload,
		QoS:     0,
	}); err != nil {
		p.logger.Debug("mqtt event publish failed", "kind", e.Kind, "error", err)
	}
}

// status is the retained status document.
type status struct {
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	TokensToday   *int64 `json:"tokens_today,omitempty"`
	UpdatedAt     string `json:"updated_at"`
}

func (p *Publisher) status(ctx context.Context) status {
	st := status{
		Version:       buildinfo.Version,
		UptimeSeconds: int64(buildinfo.Uptime().Seconds()),
		UpdatedAt:     time.Now().UTC().Format(time.RFC3339),
	}
	if p.tokens != nil {
		if n, err := p.tokens.TokensToday(ctx); err == nil {
			st.TokensToday = &n
		} else {
			p.logger.Debug("token usage unavailable for status", "error", err)
		}
	}
	return st
}

func (p *Publisher) publishStatus(ctx context.Context) {
	if p.cm == nil {
		return
	}
	payload, err := json.Marshal(p.status(ctx))
	if err != nil {
		return
	}
	if _, err := p.cm.Publish(ctx, &paho.Publish{
		Topic:   p.statusTopic(),
		Payload: payload,
		QoS:     0,
		Retain:  true,
	}); err != nil {
		p.logger.Debug("mqtt status publish failed", "error", err)
	}
}

func (p *Publisher) publishAvailability(ctx context.Context, cm *autopaho.ConnectionManager, state string) {
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   p.availabilityTopic(),
		Payload: []byte(state),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		p.logger.Warn("mqtt availability publish failed", "status", state, "error", err)
	} else {
		p.logger.Info("mqtt availability published", "status", state)
	}
}
