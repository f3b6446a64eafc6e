package internal

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/sweeney/smart-thermostat/internal/config"
	"github.com/sweeney/smart-thermostat/internal/mqtt"
	"github.com/sweeney/smart-thermostat/internal/thermostat"
)

const roomConfig = `
name: Living room
mqtt:
  broker: tcp://localhost:1883
sensor: sensors/living
heater:
  type: mqtt
  topic: boiler/set
thermostat:
  initial_hvac_mode: heat
  target_temp: 21
  kp: 100
  pwm: 15m
`

// room is a crude thermal model: it warms while the heater runs and
// loses heat towards the outside otherwise.
type room struct {
	temp    float64
	outside float64
}

func (r *room) step(heating bool, dt time.Duration) {
	m := dt.Minutes()
	if heating {
		r.temp += 0.4 * m
	}
	r.temp -= 0.01 * (r.temp - r.outside) * m
}

// TestIntegrationClosedLoop drives a simulated room from config through the
// MQTT sensor router, the thermostat and an MQTT heater.
func TestIntegrationClosedLoop(t *testing.T) {
	cfg, err := config.Parse([]byte(roomConfig))
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}

	now := time.Date(2026, 1, 1, 6, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	client := mqtt.NewFakeClient()
	heater := mqtt.NewActuator(client, mqtt.ActuatorConfig{
		Topic:      cfg.Heater.Topic,
		PayloadOn:  cfg.Heater.PayloadOn,
		PayloadOff: cfg.Heater.PayloadOff,
		Now:        clock,
	})

	th, err := thermostat.New(cfg.ToThermostat(clock), heater, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("new thermostat: %v", err)
	}
	ctx := context.Background()
	if err := th.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	readings := make(chan thermostat.Reading, 1)
	router := mqtt.NewSensorRouter(readings, cfg.MQTT.ValueKey)
	router.Now = clock
	if err := router.Subscribe(client, cfg.Sensor); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	r := &room{temp: 17, outside: 5}
	var lastHour []float64
	const total = 8 * 60
	for minute := 0; minute < total; minute++ {
		r.step(heater.Active(), time.Minute)
		now = now.Add(time.Minute)

		payload := fmt.Sprintf(`{"temperature": %.2f, "humidity": 40}`, r.temp)
		if !client.Deliver(cfg.Sensor, []byte(payload)) {
			t.Fatal("sensor topic not subscribed")
		}
		if err := th.HandleReading(ctx, <-readings); err != nil {
			t.Fatalf("minute %d: %v", minute, err)
		}
		if err := th.Tick(ctx); err != nil {
			t.Fatalf("minute %d tick: %v", minute, err)
		}
		if minute >= total-60 {
			lastHour = append(lastHour, r.temp)
		}
	}

	var sum float64
	for _, v := range lastHour {
		sum += v
	}
	avg := sum / float64(len(lastHour))
	if avg < 19.5 || avg > 22 {
		t.Errorf("room settled at %.2f °C, want near 21", avg)
	}

	var on, off int
	for _, p := range client.Sent(cfg.Heater.Topic) {
		switch p {
		case "ON":
			on++
		case "OFF":
			off++
		}
	}
	if on < 3 || off < 3 {
		t.Errorf("heater should cycle, got %d on and %d off commands", on, off)
	}

	snap := th.Snapshot()
	if !snap.Active || snap.HVACMode != thermostat.HVACHeat {
		t.Errorf("snapshot: active=%v mode=%s", snap.Active, snap.HVACMode)
	}
}

// TestIntegrationCommandOverMQTT turns the heater off through the command
// topic and checks it is switched off.
func TestIntegrationCommandOverMQTT(t *testing.T) {
	cfg, err := config.Parse([]byte(roomConfig))
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	now := time.Date(2026, 1, 1, 6, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	client := mqtt.NewFakeClient()
	heater := mqtt.NewActuator(client, mqtt.ActuatorConfig{Topic: cfg.Heater.Topic, Now: clock})
	th, err := thermostat.New(cfg.ToThermostat(clock), heater, nil, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := th.Start(ctx); err != nil {
		t.Fatal(err)
	}

	readings := make(chan thermostat.Reading, 1)
	router := mqtt.NewSensorRouter(readings, "")
	router.Now = clock
	if err := router.Subscribe(client, cfg.Sensor); err != nil {
		t.Fatal(err)
	}
	client.Deliver(cfg.Sensor, []byte("16.0"))
	if err := th.HandleReading(ctx, <-readings); err != nil {
		t.Fatal(err)
	}
	if !heater.Active() {
		t.Fatal("heater should be on in a cold room")
	}

	commands := make(chan thermostat.Command, 1)
	topic := mqtt.Topics{Prefix: cfg.MQTT.TopicPrefix}.Command()
	if err := mqtt.SubscribeCommands(client, topic, commands); err != nil {
		t.Fatal(err)
	}
	client.Deliver(topic, []byte(`{"hvac_mode":"off"}`))
	now = now.Add(time.Minute)
	if err := th.Apply(ctx, <-commands); err != nil {
		t.Fatalf("apply: %v", err)
	}

	if heater.Active() {
		t.Error("heater should be off after hvac_mode off")
	}
	sent := client.Sent(cfg.Heater.Topic)
	if len(sent) == 0 || sent[len(sent)-1] != "OFF" {
		t.Errorf("last heater command: %v", sent)
	}
}
