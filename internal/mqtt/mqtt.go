// Package mqtt connects the thermostat to an MQTT broker: sensor readings
// in, actuator commands and state out, remote commands on a set topic.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sweeney/smart-thermostat/internal/thermostat"
)

// DefaultPrefix is the topic prefix used when none is configured.
const DefaultPrefix = "home/thermostat"

// Topics derives the thermostat's own topics from a prefix.
type Topics struct {
	Prefix string
}

// State is the retained thermostat snapshot topic.
func (t Topics) State() string { return t.prefix() + "/state" }

// System is the lifecycle event topic (STARTUP, SHUTDOWN, HEARTBEAT, OFFLINE).
func (t Topics) System() string { return t.prefix() + "/system" }

// Command is the topic remote commands are read from.
func (t Topics) Command() string { return t.prefix() + "/set" }

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return DefaultPrefix
	}
	return t.Prefix
}

// Publisher publishes messages to the broker.
type Publisher interface {
	// Publish sends a raw payload. Returns error if publishing fails
	// (should not crash the process).
	Publish(topic string, qos byte, retained bool, payload []byte) error

	// PublishState sends the retained thermostat snapshot.
	PublishState(snap thermostat.Snapshot) error

	// PublishSystem sends a system lifecycle event.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// Handler receives messages for a subscribed topic.
type Handler func(topic string, payload []byte)

// Subscriber registers topic handlers. Subscriptions survive reconnects.
type Subscriber interface {
	Subscribe(topic string, handler Handler) error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// Client is the whole broker surface the daemon uses.
type Client interface {
	Publisher
	Subscriber
	ConnectionStatus
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool
}

// SystemPayload is the payload for events that carry no status snapshot
// (LWT, RECONNECTED).
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp,omitempty"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly.
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	inner := SystemPayloadInner{
		Event:  event.Event,
		Reason: event.Reason,
	}
	if !event.Timestamp.IsZero() {
		inner.Timestamp = event.Timestamp.UTC().Format(time.RFC3339)
	}
	return json.Marshal(SystemPayload{System: inner})
}

// StatePayload wraps a thermostat snapshot for the state topic.
type StatePayload struct {
	Thermostat thermostat.Snapshot `json:"thermostat"`
}

// FormatStatePayload creates the JSON payload for the state topic.
func FormatStatePayload(snap thermostat.Snapshot) ([]byte, error) {
	return json.Marshal(StatePayload{Thermostat: snap})
}

// willPayload is registered as the last will on the system topic.
func willPayload() []byte {
	data, _ := FormatSystemPayload(SystemEvent{Event: "OFFLINE", Reason: "LWT"})
	return data
}
