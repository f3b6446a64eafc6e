package mqtt

import (
	"errors"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sweeney/smart-thermostat/internal/thermostat"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
)

var errTimeout = errors.New("timeout")

// Options configures a RealClient.
type Options struct {
	Broker     string
	ClientID   string // random when empty
	Username   string
	Password   string
	Topics     Topics
	BufferSize int
}

// RealClient talks to an actual MQTT broker. Publishes made while the
// connection is down are buffered and replayed, oldest first, on reconnect.
type RealClient struct {
	client paho.Client
	topics Topics

	mu        sync.Mutex
	buffer    *ringBuffer
	subs      map[string]Handler
	connected bool // has connected at least once
}

// NewRealClient connects to the broker. If the broker is unreachable the
// client keeps retrying in the background and buffers until it connects.
func NewRealClient(o Options) (*RealClient, error) {
	if o.Broker == "" {
		return nil, errors.New("mqtt: broker is required")
	}
	if o.ClientID == "" {
		o.ClientID = "smart-thermostat-" + uuid.NewString()[:8]
	}
	if o.BufferSize == 0 {
		o.BufferSize = DefaultBufferSize
	}

	c := &RealClient{
		topics: o.Topics,
		buffer: newRingBuffer(o.BufferSize),
		subs:   make(map[string]Handler),
	}

	opts := paho.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(o.ClientID).
		SetUsername(o.Username).
		SetPassword(o.Password).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(o.Topics.System(), string(willPayload()), 1, true).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Warn().Err(err).Msg("mqtt connection lost")
		})

	c.client = paho.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		log.Warn().Str("broker", o.Broker).Msg("mqtt broker not reachable yet, buffering")
		return c, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return c, nil
}

func (c *RealClient) onConnect(client paho.Client) {
	c.mu.Lock()
	reconnect := c.connected
	c.connected = true
	subs := make(map[string]Handler, len(c.subs))
	for topic, h := range c.subs {
		subs[topic] = h
	}
	pending := c.buffer.drain()
	c.mu.Unlock()

	log.Info().Bool("reconnect", reconnect).Msg("mqtt connected")

	for topic, h := range subs {
		if err := c.subscribe(topic, h); err != nil {
			log.Error().Err(err).Str("topic", topic).Msg("mqtt resubscribe failed")
		}
	}
	for _, m := range pending {
		if err := c.send(m); err != nil {
			log.Error().Err(err).Str("topic", m.topic).Msg("mqtt replay failed")
		}
	}
	if len(pending) > 0 {
		log.Info().Int("count", len(pending)).Msg("mqtt replayed buffered messages")
	}
	if reconnect {
		if err := c.PublishSystem(SystemEvent{Timestamp: time.Now(), Event: "RECONNECTED"}); err != nil {
			log.Error().Err(err).Msg("mqtt publish reconnected")
		}
	}
}

// Publish sends payload, or buffers it while the connection is down.
func (c *RealClient) Publish(topic string, qos byte, retained bool, payload []byte) error {
	m := pendingMsg{topic: topic, payload: payload, qos: qos, retained: retained}
	if !c.client.IsConnectionOpen() {
		c.mu.Lock()
		c.buffer.push(m)
		c.mu.Unlock()
		return nil
	}
	return c.send(m)
}

func (c *RealClient) send(m pendingMsg) error {
	token := c.client.Publish(m.topic, m.qos, m.retained, m.payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish %s: %w", m.topic, errTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", m.topic, err)
	}
	return nil
}

// PublishState sends the retained thermostat snapshot.
func (c *RealClient) PublishState(snap thermostat.Snapshot) error {
	payload, err := FormatStatePayload(snap)
	if err != nil {
		return fmt.Errorf("format state payload: %w", err)
	}
	return c.Publish(c.topics.State(), 0, true, payload)
}

// PublishSystem sends a system lifecycle event at QoS 1.
func (c *RealClient) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return c.Publish(c.topics.System(), 1, event.Retained, payload)
}

// Subscribe registers handler for topic and subscribes now if connected.
func (c *RealClient) Subscribe(topic string, handler Handler) error {
	c.mu.Lock()
	c.subs[topic] = handler
	c.mu.Unlock()

	if !c.client.IsConnectionOpen() {
		return nil
	}
	return c.subscribe(topic, handler)
}

func (c *RealClient) subscribe(topic string, handler Handler) error {
	token := c.client.Subscribe(topic, 1, func(_ paho.Client, m paho.Message) {
		handler(m.Topic(), m.Payload())
	})
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("subscribe %s: %w", topic, errTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return nil
}

// IsConnected reports whether the broker connection is up.
func (c *RealClient) IsConnected() bool {
	return c.client.IsConnectionOpen()
}

// Buffered returns the number of messages waiting for a connection.
func (c *RealClient) Buffered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buffer.len()
}

// Close disconnects from the broker.
func (c *RealClient) Close() error {
	c.client.Disconnect(1000)
	return nil
}
