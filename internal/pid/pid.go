// Package pid implements the proportional-integral-derivative control law used by
// the thermostat. It has no I/O: sample timestamps are passed in by the caller and
// the wall clock used for sampling-period throttling is injectable via Config.Now.
package pid

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// Mode selects between the PID law and the tolerance-based on/off fallback.
type Mode string

const (
	ModeAuto Mode = "AUTO"
	ModeOff  Mode = "OFF"
)

// ParseMode accepts "auto" or "off" in any case.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToUpper(strings.TrimSpace(s))) {
	case ModeAuto:
		return ModeAuto, nil
	case ModeOff:
		return ModeOff, nil
	}
	return "", fmt.Errorf("%w %q", ErrUnknownMode, s)
}

var (
	ErrInvalidLimits   = errors.New("pid: out_min must be less than out_max")
	ErrMissingGain     = errors.New("pid: gain must be specified")
	ErrInvalidIntegral = errors.New("pid: integral must be a finite number")
	ErrUnknownMode     = errors.New("pid: unknown mode")
)

// Gains are the controller coefficients. Ke scales the outdoor compensation term.
type Gains struct {
	Kp float64 `json:"kp"`
	Ki float64 `json:"ki"`
	Kd float64 `json:"kd"`
	Ke float64 `json:"ke"`
}

// GainsUpdate is a partial gain change; nil fields are left untouched.
type GainsUpdate struct {
	Kp *float64 `json:"kp,omitempty"`
	Ki *float64 `json:"ki,omitempty"`
	Kd *float64 `json:"kd,omitempty"`
	Ke *float64 `json:"ke,omitempty"`
}

// Terms holds the constituents of the last computed output.
type Terms struct {
	P     float64 `json:"p"`
	I     float64 `json:"i"`
	D     float64 `json:"d"`
	E     float64 `json:"e"`
	Error float64 `json:"error"`
	DT    float64 `json:"dt"` // seconds between the two samples used
}

// Config describes a controller. SamplingPeriod 0 recomputes on every call.
type Config struct {
	Gains          Gains
	OutMin         float64
	OutMax         float64
	SamplingPeriod time.Duration
	ColdTolerance  float64
	HotTolerance   float64
	Now            func() time.Time
}

// Controller is a single PID loop. Not safe for concurrent use.
type Controller struct {
	gains          Gains
	outMin, outMax float64
	mode           Mode
	samplingPeriod time.Duration
	coldTolerance  float64
	hotTolerance   float64
	now            func() time.Time

	integral   float64
	terms      Terms
	output     float64
	lastOutput float64

	input, lastInput         float64
	haveInput, haveLastInput bool
	inputTime, lastInputTime time.Time

	setPoint, lastSetPoint float64
}

// New validates cfg and returns a controller in ModeAuto.
func New(cfg Config) (*Controller, error) {
	for _, g := range []float64{cfg.Gains.Kp, cfg.Gains.Ki, cfg.Gains.Kd} {
		if !finite(g) {
			return nil, ErrMissingGain
		}
	}
	if !finite(cfg.Gains.Ke) {
		cfg.Gains.Ke = 0
	}
	if !(cfg.OutMin < cfg.OutMax) {
		return nil, ErrInvalidLimits
	}
	if cfg.SamplingPeriod < 0 {
		cfg.SamplingPeriod = 0
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	c := &Controller{
		gains:          cfg.Gains,
		outMin:         cfg.OutMin,
		outMax:         cfg.OutMax,
		mode:           ModeAuto,
		samplingPeriod: cfg.SamplingPeriod,
		coldTolerance:  math.Abs(cfg.ColdTolerance),
		hotTolerance:   math.Abs(cfg.HotTolerance),
		now:            cfg.Now,
	}
	c.output = clamp(0, c.outMin, c.outMax)
	return c, nil
}

// Calc feeds one temperature sample and returns the clamped output and whether it
// was recomputed. inputTime and lastInputTime are only used when the sampling
// period is 0; otherwise samples are stamped with the wall clock. ext is the
// outdoor temperature, nil when unknown.
func (c *Controller) Calc(input, setPoint float64, inputTime, lastInputTime time.Time, ext *float64) (float64, bool) {
	if c.samplingPeriod > 0 && !c.inputTime.IsZero() && c.now().Sub(c.inputTime) < c.samplingPeriod {
		return c.output, false
	}

	c.lastInput, c.haveLastInput = c.input, c.haveInput
	if c.samplingPeriod == 0 {
		c.lastInputTime = lastInputTime
	} else {
		c.lastInputTime = c.inputTime
	}
	c.lastOutput = c.output

	c.input, c.haveInput = input, true
	if c.samplingPeriod == 0 {
		c.inputTime = inputTime
	} else {
		c.inputTime = c.now()
	}
	c.lastSetPoint = c.setPoint
	c.setPoint = setPoint

	if c.mode == ModeOff {
		switch {
		case input <= setPoint-c.coldTolerance:
			c.output = c.outMax
			return c.output, true
		case input >= setPoint+c.hotTolerance:
			c.output = c.outMin
			return c.output, true
		}
		return c.output, false
	}

	c.terms.Error = setPoint - input
	inputDiff := 0.0
	if c.haveLastInput {
		inputDiff = input - c.lastInput
	}
	c.terms.DT = 0
	if !c.lastInputTime.IsZero() && !c.inputTime.IsZero() {
		c.terms.DT = c.inputTime.Sub(c.lastInputTime).Seconds()
	}
	dext := 0.0
	if ext != nil {
		dext = setPoint - *ext
	}

	// Integrate only while unsaturated and with a stable set point.
	if c.outMin < c.lastOutput && c.lastOutput < c.outMax && c.lastSetPoint == c.setPoint {
		c.integral += c.gains.Ki * c.terms.Error * c.terms.DT
		c.integral = clamp(c.integral, c.outMin, c.outMax)
	}

	c.terms.P = c.gains.Kp * c.terms.Error
	c.terms.I = c.integral
	c.terms.D = 0
	if c.terms.DT != 0 {
		c.terms.D = -c.gains.Kd * inputDiff / c.terms.DT
	}
	c.terms.E = c.gains.Ke * dext

	c.output = clamp(c.terms.P+c.terms.I+c.terms.D+c.terms.E, c.outMin, c.outMax)
	return c.output, true
}

// SetGains applies the non-nil, finite fields of u.
func (c *Controller) SetGains(u GainsUpdate) {
	set := func(dst *float64, v *float64) {
		if v != nil && finite(*v) {
			*dst = *v
		}
	}
	set(&c.gains.Kp, u.Kp)
	set(&c.gains.Ki, u.Ki)
	set(&c.gains.Kd, u.Kd)
	set(&c.gains.Ke, u.Ke)
}

// Gains returns the current coefficients.
func (c *Controller) Gains() Gains { return c.gains }

// SetMode switches between the PID law and the on/off fallback.
func (c *Controller) SetMode(m Mode) { c.mode = m }

// Mode returns the current mode.
func (c *Controller) Mode() Mode { return c.mode }

// SetLimits changes the output bounds, re-clamping the integral and held output.
func (c *Controller) SetLimits(outMin, outMax float64) error {
	if !(outMin < outMax) {
		return ErrInvalidLimits
	}
	c.outMin, c.outMax = outMin, outMax
	c.integral = clamp(c.integral, outMin, outMax)
	c.output = clamp(c.output, outMin, outMax)
	return nil
}

// Limits returns the output bounds.
func (c *Controller) Limits() (outMin, outMax float64) { return c.outMin, c.outMax }

// SetIntegral overwrites the accumulated integral, clamped to the output bounds.
func (c *Controller) SetIntegral(v float64) error {
	if !finite(v) {
		return ErrInvalidIntegral
	}
	c.integral = clamp(v, c.outMin, c.outMax)
	c.terms.I = c.integral
	return nil
}

// ResetIntegral zeroes the integral, or moves it to the nearest bound when
// zero is outside the output range.
func (c *Controller) ResetIntegral() {
	c.integral = clamp(0, c.outMin, c.outMax)
	c.terms.I = c.integral
}

// Integral returns the accumulated integral.
func (c *Controller) Integral() float64 { return c.integral }

// ClearSamples forgets the sample pair so the next calc starts from a clean state,
// e.g. after the thermostat was switched off.
func (c *Controller) ClearSamples() {
	c.input, c.lastInput = 0, 0
	c.haveInput, c.haveLastInput = false, false
	c.inputTime, c.lastInputTime = time.Time{}, time.Time{}
}

// Terms returns the constituents of the last recomputation.
func (c *Controller) Terms() Terms { return c.terms }

// Output returns the last output.
func (c *Controller) Output() float64 { return c.output }

// SamplingPeriod returns the configured throttle period.
func (c *Controller) SamplingPeriod() time.Duration { return c.samplingPeriod }

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
