// Package pwm turns a continuous control output into on/off switching of a
// binary device over a fixed period, honouring minimum on and off times.
package pwm

import (
	"math"
	"time"
)

// Limits are the minimum durations a device must stay on or off.
type Limits struct {
	MinOn  time.Duration
	MinOff time.Duration
}

// Window is the on and off share of one modulation period.
type Window struct {
	On  time.Duration
	Off time.Duration
}

// Split maps |output| in [0, difference] to an on/off window over period.
func Split(output, difference float64, period time.Duration) Window {
	if difference <= 0 {
		return Window{Off: period}
	}
	frac := math.Min(math.Abs(output)/difference, 1)
	on := time.Duration(math.Round(float64(period) * frac))
	return Window{On: on, Off: period - on}
}

// Adjust stretches a too-short phase up to its minimum, scaling the other
// phase by the same factor. The on phase is fixed first, then the off phase.
func (w Window) Adjust(l Limits) Window {
	if w.On > 0 && w.On < l.MinOn {
		w.Off = scale(w.Off, l.MinOn, w.On)
		w.On = l.MinOn
	}
	if w.Off > 0 && w.Off < l.MinOff {
		w.On = scale(w.On, l.MinOff, w.Off)
		w.Off = l.MinOff
	}
	return w
}

func scale(d, num, den time.Duration) time.Duration {
	return time.Duration(math.Round(float64(d) * float64(num) / float64(den)))
}

// Action is what the modulator asks of the device.
type Action int

const (
	Hold Action = iota
	TurnOn
	TurnOff
)

func (a Action) String() string {
	switch a {
	case TurnOn:
		return "on"
	case TurnOff:
		return "off"
	default:
		return "hold"
	}
}

// Decision is the outcome of one modulation step.
type Decision struct {
	Action Action
	// Refresh marks a keep-alive re-assertion of the current state.
	Refresh bool
	Window  Window
	// Remaining is the time left in the current phase when holding.
	Remaining time.Duration
}

// Modulator tracks the last transition and decides the next switch.
// Not safe for concurrent use.
type Modulator struct {
	period     time.Duration
	difference float64
	keepAlive  bool
	changed    time.Time
}

// NewModulator returns a modulator whose first phase starts at now. A
// positive keepAlive makes waiting phases re-assert the device state.
func NewModulator(period time.Duration, difference float64, keepAlive time.Duration, now time.Time) *Modulator {
	return &Modulator{
		period:     period,
		difference: difference,
		keepAlive:  keepAlive > 0,
		changed:    now,
	}
}

func (m *Modulator) Period() time.Duration { return m.period }

// Changed is the time of the last requested transition.
func (m *Modulator) Changed() time.Time { return m.changed }

// Decide maps output to a switch action. A saturated output always asks
// for on and a zero output for off; anything in between runs the duty
// cycle. forceOn and forceOff end the current phase early.
func (m *Modulator) Decide(now time.Time, output float64, active bool, l Limits, forceOn, forceOff bool) Decision {
	out := math.Abs(output)
	switch {
	case out >= m.difference:
		if !active {
			m.changed = now
		}
		return Decision{Action: TurnOn, Refresh: active, Window: Window{On: m.period}}
	case out == 0:
		if active {
			m.changed = now
		}
		return Decision{Action: TurnOff, Refresh: !active, Window: Window{Off: m.period}}
	}

	w := Split(out, m.difference, m.period).Adjust(l)
	passed := now.Sub(m.changed)
	d := Decision{Window: w}

	if active {
		if w.On <= passed || forceOff {
			m.changed = now
			d.Action = TurnOff
			return d
		}
		d.Remaining = w.On - passed
		if m.keepAlive {
			d.Action, d.Refresh = TurnOn, true
		}
		return d
	}

	if w.Off <= passed || forceOn {
		m.changed = now
		d.Action = TurnOn
		return d
	}
	d.Remaining = w.Off - passed
	if m.keepAlive {
		d.Action, d.Refresh = TurnOff, true
	}
	return d
}
