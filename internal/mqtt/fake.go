package mqtt

import (
	"sync"

	"github.com/sweeney/smart-thermostat/internal/thermostat"
)

// Message is a publish recorded by FakeClient.
type Message struct {
	Topic    string
	QoS      byte
	Retained bool
	Payload  []byte
}

// FakeClient records publishes and lets tests deliver messages to
// subscribers.
type FakeClient struct {
	mu sync.Mutex

	// Topics sets the state and system topics.
	Topics Topics

	// Messages contains every publish, in order.
	Messages []Message

	// States contains all published snapshots.
	States []thermostat.Snapshot

	// SystemEvents contains all system events that were published.
	SystemEvents []SystemEvent

	// PublishError, if set, is returned by every publish.
	PublishError error

	// Closed tracks if Close was called.
	Closed bool

	// Connected controls the return value of IsConnected.
	Connected bool

	subs map[string]Handler
}

// NewFakeClient creates a connected FakeClient for testing.
func NewFakeClient() *FakeClient {
	return &FakeClient{Connected: true, subs: make(map[string]Handler)}
}

// Publish records a raw message.
func (f *FakeClient) Publish(topic string, qos byte, retained bool, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	f.Messages = append(f.Messages, Message{Topic: topic, QoS: qos, Retained: retained, Payload: payload})
	return nil
}

// PublishState records the snapshot and its payload.
func (f *FakeClient) PublishState(snap thermostat.Snapshot) error {
	payload, err := FormatStatePayload(snap)
	if err != nil {
		return err
	}
	if err := f.Publish(f.Topics.State(), 0, true, payload); err != nil {
		return err
	}
	f.mu.Lock()
	f.States = append(f.States, snap)
	f.mu.Unlock()
	return nil
}

// PublishSystem records the system event and its payload.
func (f *FakeClient) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}
	if err := f.Publish(f.Topics.System(), 1, event.Retained, payload); err != nil {
		return err
	}
	f.mu.Lock()
	f.SystemEvents = append(f.SystemEvents, event)
	f.mu.Unlock()
	return nil
}

// Subscribe records the handler.
func (f *FakeClient) Subscribe(topic string, handler Handler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[topic] = handler
	return nil
}

// Subscribed reports whether topic has a handler.
func (f *FakeClient) Subscribed(topic string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.subs[topic]
	return ok
}

// Deliver hands payload to the topic's handler, as the broker would.
// Reports false when nothing is subscribed.
func (f *FakeClient) Deliver(topic string, payload []byte) bool {
	f.mu.Lock()
	h, ok := f.subs[topic]
	f.mu.Unlock()
	if !ok {
		return false
	}
	h(topic, payload)
	return true
}

// Sent returns the payloads published to topic.
func (f *FakeClient) Sent(topic string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, m := range f.Messages {
		if m.Topic == topic {
			out = append(out, string(m.Payload))
		}
	}
	return out
}

// IsConnected reports whether the fake client is "connected".
func (f *FakeClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Connected
}

// Close marks the client as closed.
func (f *FakeClient) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

// Reset clears recorded messages. Subscriptions are kept.
func (f *FakeClient) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Messages = nil
	f.States = nil
	f.SystemEvents = nil
	f.PublishError = nil
	f.Closed = false
}
