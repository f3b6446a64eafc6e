package gpio

import (
	"context"
	"fmt"
	"sync"
)

// FakeRelay is a test double that records every command.
type FakeRelay struct {
	mu sync.Mutex

	on bool

	// Calls records commands in order: "on", "off" or "value=<v>".
	Calls []string

	// Values records arguments to SetValue.
	Values []float64

	// Err, if set, is returned by every command and leaves the state alone.
	Err error

	// Closed tracks if Close was called
	Closed bool
}

// NewFakeRelay creates a FakeRelay in the given state.
func NewFakeRelay(on bool) *FakeRelay {
	return &FakeRelay{on: on}
}

func (f *FakeRelay) Active() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.on
}

func (f *FakeRelay) TurnOn(ctx context.Context) error {
	return f.record("on", true)
}

func (f *FakeRelay) TurnOff(ctx context.Context) error {
	return f.record("off", false)
}

func (f *FakeRelay) SetValue(ctx context.Context, v float64) error {
	f.mu.Lock()
	f.Values = append(f.Values, v)
	f.mu.Unlock()
	return f.record(fmt.Sprintf("value=%g", v), v > 0)
}

func (f *FakeRelay) record(call string, on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, call)
	if f.Err != nil {
		return f.Err
	}
	f.on = on
	return nil
}

// Set forces the observed state, as if changed outside the thermostat.
func (f *FakeRelay) Set(on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.on = on
}

// History returns a copy of Calls.
func (f *FakeRelay) History() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Calls...)
}

// Reset clears recorded calls.
func (f *FakeRelay) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = nil
	f.Values = nil
}

// Close marks the relay as closed and off.
func (f *FakeRelay) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	f.on = false
	return nil
}
