// Package status provides a thread-safe view of the daemon for the HTTP
// server and lifecycle events.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/smart-thermostat/internal/thermostat"
)

// Config contains daemon configuration for display.
type Config struct {
	Broker       string
	HTTPAddr     string
	TopicPrefix  string
	SensorTopic  string
	OutdoorTopic string
	Heartbeat    time.Duration
	StatePath    string
}

// Snapshot is a point-in-time view of daemon state. It is a value type,
// safe to use after the lock is released.
type Snapshot struct {
	Thermostat    thermostat.Snapshot
	Updated       bool // Thermostat has been set at least once
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{StartTime: startTime, Config: cfg},
		now:  time.Now,
	}
}

// Update stores the latest thermostat snapshot.
func (t *Tracker) Update(th thermostat.Snapshot) {
	t.mu.Lock()
	t.snap.Thermostat = th
	t.snap.Updated = true
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// Snapshot returns a copy of the daemon state with Now set to the time of
// the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	now := t.now
	t.mu.RUnlock()
	s.Now = now()
	return s
}
