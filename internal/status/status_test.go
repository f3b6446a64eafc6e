package status

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/smart-thermostat/internal/thermostat"
)

var start = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func fixedTracker(now time.Time, cfg Config) *Tracker {
	tr := NewTracker(start, cfg)
	tr.now = func() time.Time { return now }
	return tr
}

func TestNewTracker(t *testing.T) {
	cfg := Config{Broker: "tcp://localhost:1883", HTTPAddr: ":8080"}
	snap := NewTracker(start, cfg).Snapshot()

	if !snap.StartTime.Equal(start) {
		t.Errorf("StartTime: got %v, want %v", snap.StartTime, start)
	}
	if snap.Config.HTTPAddr != ":8080" {
		t.Errorf("Config.HTTPAddr: got %q", snap.Config.HTTPAddr)
	}
	if snap.Updated {
		t.Error("expected Updated=false initially")
	}
	if snap.MQTTConnected {
		t.Error("expected MQTTConnected=false initially")
	}
}

func TestUpdateAndSnapshot(t *testing.T) {
	tr := NewTracker(start, Config{})
	tr.Update(thermostat.Snapshot{Name: "hall", HVACMode: thermostat.HVACHeat, Output: 30})
	tr.SetMQTTConnected(true)

	snap := tr.Snapshot()
	if !snap.Updated {
		t.Error("expected Updated=true")
	}
	if snap.Thermostat.Name != "hall" || snap.Thermostat.Output != 30 {
		t.Errorf("thermostat: %+v", snap.Thermostat)
	}
	if !snap.MQTTConnected {
		t.Error("expected MQTTConnected=true")
	}
}

func TestSnapshotUptime(t *testing.T) {
	snap := fixedTracker(start.Add(90*time.Minute), Config{}).Snapshot()
	if got := snap.Uptime(); got != 90*time.Minute {
		t.Errorf("Uptime: got %v, want 1h30m", got)
	}
}

func TestFormatJSON(t *testing.T) {
	tr := fixedTracker(start.Add(2*time.Hour), Config{
		Broker:      "tcp://broker:1883",
		HTTPAddr:    ":8080",
		TopicPrefix: "home/thermostat",
		SensorTopic: "sensors/hall",
		Heartbeat:   15 * time.Minute,
		StatePath:   "/var/lib/thermostat.db",
	})
	temp := 19.5
	tr.Update(thermostat.Snapshot{Name: "hall", CurrentTemp: &temp, HVACAction: thermostat.ActionHeating})
	tr.SetMQTTConnected(true)

	var parsed StatusJSON
	if err := json.Unmarshal(FormatJSON(tr.Snapshot()), &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	s := parsed.Status
	if !s.Ready || s.UptimeSeconds != 7200 {
		t.Errorf("ready=%v uptime=%d", s.Ready, s.UptimeSeconds)
	}
	if s.StartTime != "2026-01-01T00:00:00Z" || s.Timestamp != "2026-01-01T02:00:00Z" {
		t.Errorf("times: %s %s", s.StartTime, s.Timestamp)
	}
	if !s.MQTT.Connected || s.MQTT.Broker != "tcp://broker:1883" {
		t.Errorf("mqtt: %+v", s.MQTT)
	}
	if s.Thermostat == nil || s.Thermostat.HVACAction != thermostat.ActionHeating || *s.Thermostat.CurrentTemp != 19.5 {
		t.Errorf("thermostat: %+v", s.Thermostat)
	}
	if s.Config == nil || s.Config.HeartbeatSec != 900 || s.Config.SensorTopic != "sensors/hall" {
		t.Errorf("config: %+v", s.Config)
	}
	if s.Event != "" {
		t.Error("web status should carry no event")
	}
}

func TestFormatJSONBeforeFirstUpdate(t *testing.T) {
	var parsed map[string]map[string]any
	if err := json.Unmarshal(FormatJSON(fixedTracker(start, Config{}).Snapshot()), &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed["status"]["ready"] != false {
		t.Error("expected ready=false")
	}
	if _, ok := parsed["status"]["thermostat"]; ok {
		t.Error("thermostat should be omitted before the first update")
	}
}

func TestFormatStatusEvent(t *testing.T) {
	tr := fixedTracker(start.Add(time.Minute), Config{HTTPAddr: ":8080"})
	tr.Update(thermostat.Snapshot{Name: "hall"})

	var startup StatusJSON
	if err := json.Unmarshal(FormatStatusEvent(tr.Snapshot(), "STARTUP", ""), &startup); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if startup.Status.Event != "STARTUP" || startup.Status.Config == nil {
		t.Errorf("startup: %+v", startup.Status)
	}

	raw := FormatStatusEvent(tr.Snapshot(), "SHUTDOWN", "SIGTERM")
	var shutdown map[string]map[string]any
	if err := json.Unmarshal(raw, &shutdown); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if shutdown["status"]["reason"] != "SIGTERM" {
		t.Errorf("reason: %v", shutdown["status"]["reason"])
	}
	if _, ok := shutdown["status"]["config"]; ok {
		t.Error("SHUTDOWN should omit config")
	}
}

func TestFormatStatusEventOmitsReasonWhenEmpty(t *testing.T) {
	raw := FormatStatusEvent(fixedTracker(start, Config{}).Snapshot(), "HEARTBEAT", "")
	var parsed map[string]map[string]any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if _, ok := parsed["status"]["reason"]; ok {
		t.Error("reason should be omitted")
	}
}

func TestConcurrentAccess(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			tr.Update(thermostat.Snapshot{Output: float64(i)})
			tr.SetMQTTConnected(i%2 == 0)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			_ = FormatJSON(tr.Snapshot())
		}
	}()

	wg.Wait()
}
