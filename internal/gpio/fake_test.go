package gpio

import (
	"context"
	"errors"
	"testing"
)

var _ Relay = (*FakeRelay)(nil)
var _ Relay = (*RealRelay)(nil)

func TestFakeRelaySwitching(t *testing.T) {
	ctx := context.Background()
	f := NewFakeRelay(false)

	if f.Active() {
		t.Fatal("should start off")
	}
	if err := f.TurnOn(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !f.Active() {
		t.Error("expected on after TurnOn")
	}
	if err := f.TurnOff(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Active() {
		t.Error("expected off after TurnOff")
	}

	want := []string{"on", "off"}
	got := f.History()
	if len(got) != len(want) {
		t.Fatalf("expected %d calls, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("call %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestFakeRelaySetValue(t *testing.T) {
	ctx := context.Background()
	f := NewFakeRelay(false)

	if err := f.SetValue(ctx, 42.5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !f.Active() {
		t.Error("positive value should switch on")
	}
	if err := f.SetValue(ctx, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Active() {
		t.Error("zero value should switch off")
	}
	if len(f.Values) != 2 || f.Values[0] != 42.5 {
		t.Errorf("unexpected values: %v", f.Values)
	}
	if f.History()[0] != "value=42.5" {
		t.Errorf("unexpected call: %q", f.History()[0])
	}
}

func TestFakeRelayError(t *testing.T) {
	f := NewFakeRelay(false)
	f.Err = errors.New("simulated error")

	err := f.TurnOn(context.Background())
	if err == nil || err.Error() != "simulated error" {
		t.Errorf("unexpected error: %v", err)
	}
	if f.Active() {
		t.Error("failed command should not change state")
	}
}

func TestFakeRelayClose(t *testing.T) {
	f := NewFakeRelay(true)

	if f.Closed {
		t.Error("should not be closed initially")
	}
	if err := f.Close(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if !f.Closed {
		t.Error("should be closed after Close()")
	}
	if f.Active() {
		t.Error("should be off after Close()")
	}
}

func TestFakeRelayReset(t *testing.T) {
	f := NewFakeRelay(false)
	_ = f.TurnOn(context.Background())
	f.Reset()
	if len(f.History()) != 0 {
		t.Error("expected no calls after Reset")
	}
	if !f.Active() {
		t.Error("Reset should keep state")
	}
}
