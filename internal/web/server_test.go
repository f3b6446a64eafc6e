package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/sweeney/smart-thermostat/internal/status"
	"github.com/sweeney/smart-thermostat/internal/thermostat"
)

type fakeCommander struct {
	cmds []thermostat.Command
	err  error
}

func (f *fakeCommander) Apply(_ context.Context, c thermostat.Command) error {
	f.cmds = append(f.cmds, c)
	return f.err
}

func newTestServer(t *testing.T, cmd Commander) (*httptest.Server, *status.Tracker) {
	t.Helper()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tr := status.NewTracker(start, status.Config{
		Broker:      "tcp://192.168.1.200:1883",
		HTTPAddr:    ":8080",
		SensorTopic: "sensors/living",
		Heartbeat:   15 * time.Minute,
	})
	srv := New(":0", tr, cmd)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, tr
}

func livingRoom() thermostat.Snapshot {
	cur, target := 19.5, 21.0
	return thermostat.Snapshot{
		Name:        "Living room",
		HVACMode:    thermostat.HVACHeat,
		HVACAction:  thermostat.ActionHeating,
		Preset:      thermostat.PresetNone,
		CurrentTemp: &cur,
		TargetTemp:  &target,
		Output:      62.5,
	}
}

func TestJSONEndpoint(t *testing.T) {
	ts, tr := newTestServer(t, nil)
	tr.Update(livingRoom())
	tr.SetMQTTConnected(true)

	resp, err := http.Get(ts.URL + "/index.json")
	if err != nil {
		t.Fatalf("GET /index.json: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: got %q, want application/json", ct)
	}

	var sj status.StatusJSON
	if err := json.NewDecoder(resp.Body).Decode(&sj); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if !sj.Status.Ready || !sj.Status.MQTT.Connected {
		t.Errorf("ready=%v connected=%v", sj.Status.Ready, sj.Status.MQTT.Connected)
	}
	if sj.Status.Thermostat == nil || sj.Status.Thermostat.Output != 62.5 {
		t.Errorf("thermostat: %+v", sj.Status.Thermostat)
	}
}

func TestHTMLEndpoint(t *testing.T) {
	ts, tr := newTestServer(t, nil)
	tr.Update(livingRoom())

	for _, path := range []string{"/", "/index.html"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode != 200 {
			t.Errorf("%s: status %d", path, resp.StatusCode)
		}
		if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
			t.Errorf("%s: Content-Type %q", path, ct)
		}
		page := string(body)
		for _, want := range []string{"<title>Living room</title>", "19.5 °C", "21.0 °C", "heating", "62.5", "sensors/living", "15m0s"} {
			if !strings.Contains(page, want) {
				t.Errorf("%s: page missing %q", path, want)
			}
		}
	}
}

func TestHTMLBeforeFirstUpdate(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "Starting up.") {
		t.Error("expected the startup placeholder")
	}
}

func TestHTMLShowsAutotune(t *testing.T) {
	ts, tr := newTestServer(t, nil)
	snap := livingRoom()
	snap.Autotune = &thermostat.AutotuneStatus{State: "relay step up", Rule: "ziegler-nichols", PeakCount: 3, BufferFill: 0.5, BufferLength: 120}
	tr.Update(snap)

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	page := string(body)
	for _, want := range []string{"relay step up (ziegler-nichols)", "50% of 120 samples"} {
		if !strings.Contains(page, want) {
			t.Errorf("page missing %q", want)
		}
	}
}

func TestNotFoundForUnknownPath(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/nonexistent")
	if err != nil {
		t.Fatalf("GET /nonexistent: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != 404 {
		t.Errorf("status: got %d, want 404", resp.StatusCode)
	}
}

func TestCommandEndpoint(t *testing.T) {
	fc := &fakeCommander{}
	ts, tr := newTestServer(t, fc)
	tr.Update(livingRoom())

	resp, err := http.Post(ts.URL+"/api/command", "application/json", strings.NewReader(`{"target_temp":22.5}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Fatalf("status: got %d, want 200", resp.StatusCode)
	}
	if len(fc.cmds) != 1 || fc.cmds[0].TargetTemp == nil || *fc.cmds[0].TargetTemp != 22.5 {
		t.Errorf("commands: %+v", fc.cmds)
	}
}

func TestCommandEndpointErrors(t *testing.T) {
	tests := []struct {
		name   string
		method string
		body   string
		err    error
		want   int
	}{
		{"get", http.MethodGet, "", nil, http.StatusMethodNotAllowed},
		{"bad json", http.MethodPost, `{"target_temp":`, nil, http.StatusBadRequest},
		{"empty", http.MethodPost, `{}`, nil, http.StatusBadRequest},
		{"invalid value", http.MethodPost, `{"preset":"party"}`, fmt.Errorf("wrapped: %w", thermostat.ErrUnknownPreset), http.StatusBadRequest},
		{"device failure", http.MethodPost, `{"hvac_mode":"off"}`, errors.New("relay stuck"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, _ := newTestServer(t, &fakeCommander{err: tt.err})
			req, _ := http.NewRequest(tt.method, ts.URL+"/api/command", strings.NewReader(tt.body))
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status: got %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestCommandsDisabledWithoutCommander(t *testing.T) {
	ts, _ := newTestServer(t, nil)
	resp, err := http.Post(ts.URL+"/api/command", "application/json", strings.NewReader(`{"target_temp":20}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status: got %d, want 403", resp.StatusCode)
	}
}

func TestFormSubmission(t *testing.T) {
	fc := &fakeCommander{}
	ts, _ := newTestServer(t, fc)
	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}

	resp, err := client.PostForm(ts.URL+"/set", url.Values{
		"hvac_mode":   {"heat"},
		"preset":      {"eco"},
		"target_temp": {"20.5"},
	})
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusSeeOther || resp.Header.Get("Location") != "/" {
		t.Errorf("status %d location %q", resp.StatusCode, resp.Header.Get("Location"))
	}

	resp, err = client.PostForm(ts.URL+"/set", url.Values{"hvac_mode": {"cool"}, "preset": {"away"}})
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if len(fc.cmds) != 2 {
		t.Fatalf("applied %d commands, want 2", len(fc.cmds))
	}
	first := fc.cmds[0]
	if *first.HVACMode != thermostat.HVACHeat || *first.TargetTemp != 20.5 || first.Preset != nil {
		t.Errorf("target should override preset: %+v", first)
	}
	second := fc.cmds[1]
	if *second.HVACMode != thermostat.HVACCool || *second.Preset != thermostat.PresetAway || second.TargetTemp != nil {
		t.Errorf("second command: %+v", second)
	}
}

func TestFormRejectsBadInput(t *testing.T) {
	fc := &fakeCommander{}
	ts, _ := newTestServer(t, fc)

	for _, form := range []url.Values{
		{"hvac_mode": {"dry"}},
		{"target_temp": {"warm"}},
		{"preset": {"party"}},
	} {
		resp, err := http.PostForm(ts.URL+"/set", form)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%v: status %d, want 400", form, resp.StatusCode)
		}
	}
	if len(fc.cmds) != 0 {
		t.Errorf("nothing should be applied, got %d commands", len(fc.cmds))
	}
}

func TestStateChangesReflectedInResponse(t *testing.T) {
	ts, tr := newTestServer(t, nil)

	get := func() status.StatusJSON {
		resp, err := http.Get(ts.URL + "/index.json")
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		var sj status.StatusJSON
		json.NewDecoder(resp.Body).Decode(&sj)
		return sj
	}

	if get().Status.Ready {
		t.Error("expected Ready=false initially")
	}

	snap := livingRoom()
	snap.HVACMode = thermostat.HVACOff
	tr.Update(snap)
	tr.SetMQTTConnected(true)

	sj := get()
	if !sj.Status.Ready || sj.Status.Thermostat.HVACMode != thermostat.HVACOff {
		t.Errorf("status not updated: %+v", sj.Status)
	}
}
