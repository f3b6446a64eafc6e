package status

import (
	"encoding/json"
	"time"

	"github.com/sweeney/smart-thermostat/internal/thermostat"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string               `json:"event,omitempty"`
	Reason        string               `json:"reason,omitempty"`
	Ready         bool                 `json:"ready"`
	UptimeSeconds int64                `json:"uptime_seconds"`
	StartTime     string               `json:"start_time"`
	Timestamp     string               `json:"timestamp"`
	MQTT          MQTTStatus           `json:"mqtt"`
	Thermostat    *thermostat.Snapshot `json:"thermostat,omitempty"`
	Config        *ConfigJSON          `json:"config,omitempty"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	HTTPAddr     string `json:"http_addr"`
	TopicPrefix  string `json:"topic_prefix"`
	SensorTopic  string `json:"sensor_topic"`
	OutdoorTopic string `json:"outdoor_topic,omitempty"`
	HeartbeatSec int64  `json:"heartbeat_seconds"`
	StatePath    string `json:"state_path"`
}

func buildInner(snap Snapshot) StatusInner {
	inner := StatusInner{
		Ready:         snap.Updated,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
	}
	if snap.Updated {
		th := snap.Thermostat
		inner.Thermostat = &th
	}
	return inner
}

func buildConfig(c Config) *ConfigJSON {
	return &ConfigJSON{
		HTTPAddr:     c.HTTPAddr,
		TopicPrefix:  c.TopicPrefix,
		SensorTopic:  c.SensorTopic,
		OutdoorTopic: c.OutdoorTopic,
		HeartbeatSec: int64(c.Heartbeat / time.Second),
		StatePath:    c.StatePath,
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	inner.Config = buildConfig(snap.Config)

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
// Config is only carried by STARTUP.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	if event == "STARTUP" {
		inner.Config = buildConfig(snap.Config)
	}

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
