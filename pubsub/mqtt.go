package pubsub

import (
	"context"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// Handler receives one message.
type Handler func(topic string, payload []byte)

type MQTTConfig struct {
	URL      string
	ClientID string
	Username string
	Password string

	QoS byte
	// Retain publishes with the retain flag, so a worker that subscribes late still gets its pairing.
	Retain bool

	ConnectTimeout time.Duration
}

// MQTT is a broker connection. Subscriptions are restored after a reconnect.
type MQTT struct {
	log    *zap.SugaredLogger
	cfg    MQTTConfig
	client mqtt.Client

	subsMu sync.Mutex
	subs   map[string]Handler
}

// DialMQTT connects to the broker, returning once the connection is up or ctx is done.
func DialMQTT(ctx context.Context, log *zap.SugaredLogger, cfg MQTTConfig) (*MQTT, error) {
	m := &MQTT{
		log:  log.Named("mqtt"),
		cfg:  cfg,
		subs: map[string]Handler{},
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.URL).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetAutoReconnect(true).
		SetOrderMatters(true).
		SetOnConnectHandler(m.onConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			m.log.Warnw("connection lost", "URL", cfg.URL, "Error", err)
		})
	m.client = mqtt.NewClient(opts)

	m.log.Debugw("connecting", "URL", cfg.URL, "ClientID", cfg.ClientID)
	if err := waitToken(ctx, m.client.Connect()); err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", cfg.URL, err)
	}
	return m, nil
}

// onConnect runs on the initial connection and on every reconnect.
func (m *MQTT) onConnect(c mqtt.Client) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	m.log.Debugw("connected", "URL", m.cfg.URL, "Subscriptions", len(m.subs))
	for filter, h := range m.subs {
		// can't wait on the token from inside the paho callback goroutine
		c.Subscribe(filter, m.cfg.QoS, m.wrap(h))
	}
}

func (m *MQTT) wrap(h Handler) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		m.log.Debugw("received", "Topic", msg.Topic(), "Bytes", len(msg.Payload()))
		h(msg.Topic(), msg.Payload())
	}
}

func (m *MQTT) Subscribe(ctx context.Context, filter string, h Handler) error {
	m.subsMu.Lock()
	m.subs[filter] = h
	m.subsMu.Unlock()

	if err := waitToken(ctx, m.client.Subscribe(filter, m.cfg.QoS, m.wrap(h))); err != nil {
		return fmt.Errorf("subscribing to %s: %w", filter, err)
	}
	m.log.Debugw("subscribed", "Filter", filter)
	return nil
}

func (m *MQTT) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := waitToken(ctx, m.client.Publish(topic, m.cfg.QoS, m.cfg.Retain, payload)); err != nil {
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}
	return nil
}

func (m *MQTT) Close() {
	m.client.Disconnect(250)
}

func waitToken(ctx context.Context, t mqtt.Token) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.Done():
	}
	return t.Error()
}
