package pwm

import "time"

// Verdict is the guard's answer to a switch request.
type Verdict int

const (
	// Refresh re-asserts the state the device is already in.
	Refresh Verdict = iota
	// Switch changes the device state.
	Switch
	// Reject refuses the change because the current cycle is too short.
	Reject
)

func (v Verdict) String() string {
	switch v {
	case Switch:
		return "switch"
	case Reject:
		return "reject"
	default:
		return "refresh"
	}
}

// Guard enforces minimum cycle durations on actual state changes.
type Guard struct {
	last time.Time
}

// NewGuard starts the first cycle at now.
func NewGuard(now time.Time) *Guard {
	return &Guard{last: now}
}

// Last is the time of the most recent accepted switch.
func (g *Guard) Last() time.Time { return g.last }

// Check decides whether a request to turn the device on (or off) may go
// through. Turning on needs MinOff since the last switch, turning off
// needs MinOn unless force is set.
func (g *Guard) Check(now time.Time, active, on bool, l Limits, force bool) Verdict {
	if on == active {
		return Refresh
	}
	elapsed := now.Sub(g.last)
	need := l.MinOn
	if on {
		need = l.MinOff
		force = false
	}
	if elapsed >= need || force {
		g.last = now
		return Switch
	}
	return Reject
}
