package mqtt

import (
	"testing"
	"time"

	"github.com/sweeney/smart-thermostat/internal/thermostat"
)

func TestSensorValue(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		key     string
		want    string
	}{
		{"bare number", "21.5", "", "21.5"},
		{"whitespace", " 19 \n", "", "19"},
		{"json default key", `{"temperature": 20.25, "humidity": 40}`, "", "20.25"},
		{"json custom key", `{"temp_c": 18}`, "temp_c", "18"},
		{"json string value", `{"temperature": "22.0"}`, "", "22.0"},
		{"json missing key", `{"humidity": 40}`, "", ""},
		{"broken json", `{"temperature":`, "", `{"temperature":`},
		{"unavailable", "unavailable", "", "unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SensorValue([]byte(tt.payload), tt.key); got != tt.want {
				t.Errorf("SensorValue(%q) = %q, want %q", tt.payload, got, tt.want)
			}
		})
	}
}

func TestSensorRouterRoutesByTopic(t *testing.T) {
	at := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	out := make(chan thermostat.Reading, 4)
	r := NewSensorRouter(out, "")
	r.Now = func() time.Time { return at }

	f := NewFakeClient()
	if err := r.Subscribe(f, "sensors/living", "", "sensors/outside"); err != nil {
		t.Fatal(err)
	}
	if f.Subscribed("") {
		t.Error("empty topic should be skipped")
	}

	f.Deliver("sensors/outside", []byte(`{"temperature": 3.5}`))
	f.Deliver("sensors/living", []byte("20.1"))

	got := <-out
	if got.Source != "sensors/outside" || got.Value != "3.5" || !got.Time.Equal(at) {
		t.Errorf("first reading: %+v", got)
	}
	got = <-out
	if got.Source != "sensors/living" || got.Value != "20.1" {
		t.Errorf("second reading: %+v", got)
	}
}

func TestSensorRouterDropsWhenFull(t *testing.T) {
	out := make(chan thermostat.Reading, 1)
	r := NewSensorRouter(out, "")

	r.Handle("s", []byte("1"))
	r.Handle("s", []byte("2")) // must not block

	if got := <-out; got.Value != "1" {
		t.Errorf("kept %q, want the first reading", got.Value)
	}
	select {
	case extra := <-out:
		t.Errorf("unexpected reading %+v", extra)
	default:
	}
}
