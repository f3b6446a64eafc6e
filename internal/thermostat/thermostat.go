// Package thermostat runs the control loop: it turns sensor readings and
// commands into PID or autotune computations and drives the actuator.
package thermostat

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sweeney/smart-thermostat/internal/autotune"
	"github.com/sweeney/smart-thermostat/internal/pid"
	"github.com/sweeney/smart-thermostat/internal/pwm"
)

// Config is a fully resolved thermostat configuration.
type Config struct {
	Name          string
	UniqueID      string
	SensorSource  string
	OutdoorSource string // optional

	ACMode          bool
	ForceOffState   bool
	InitialHVACMode HVACMode // empty: restored, else off
	TargetTemp      *float64
	MinTemp         float64
	MaxTemp         float64
	Presets         map[Preset]float64
	PresetSync      bool
	BoostPIDOff     bool

	Gains          pid.Gains
	ColdTolerance  float64
	HotTolerance   float64
	SamplingPeriod time.Duration
	SensorStall    time.Duration // 0 disables
	OutputSafety   float64

	OutputPrecision int
	OutputMin       float64
	OutputMax       float64
	ClampLow        float64
	ClampHigh       float64

	PWM          time.Duration // 0 drives a continuous device
	KeepAlive    time.Duration
	CyclesPIDOn  pwm.Limits
	CyclesPIDOff pwm.Limits
	Autotune     autotune.Rule // empty: no autotune
	Lookback     time.Duration
	Noiseband    float64

	Now func() time.Time
}

func (c Config) validate() error {
	switch {
	case c.SensorSource == "":
		return fmt.Errorf("%w: sensor source is required", ErrInvalidConfig)
	case !(c.OutputMin < c.OutputMax):
		return fmt.Errorf("%w: output_min must be below output_max", ErrInvalidConfig)
	case !(c.ClampLow < c.ClampHigh):
		return fmt.Errorf("%w: output_clamp_low must be below output_clamp_high", ErrInvalidConfig)
	case !(c.MinTemp < c.MaxTemp):
		return fmt.Errorf("%w: min_temp must be below max_temp", ErrInvalidConfig)
	case c.PWM < 0:
		return fmt.Errorf("%w: pwm must not be negative", ErrInvalidConfig)
	}
	if c.InitialHVACMode != "" {
		if _, err := ParseHVACMode(string(c.InitialHVACMode)); err != nil {
			return err
		}
	}
	for p := range c.Presets {
		if _, err := ParsePreset(string(p)); err != nil || p == PresetNone {
			return fmt.Errorf("%w: preset %q", ErrInvalidConfig, p)
		}
	}
	return nil
}

type trigger int

const (
	triggerNone trigger = iota
	triggerSensor
	triggerOutdoor
)

// Thermostat is the control loop for one zone. All methods are safe for
// concurrent use; each runs to completion under a single lock.
type Thermostat struct {
	mu  sync.Mutex
	cfg Config
	log zerolog.Logger
	now func() time.Time

	heater Actuator
	cooler Actuator // may be nil

	ctrl       controller
	gains      pid.Gains // configured gains, kept across autotune
	difference float64
	minOut     float64
	maxOut     float64

	active      bool
	restored    bool
	hvacMode    HVACMode
	preset      Preset
	presets     map[Preset]float64
	target      float64
	haveTarget  bool
	savedTarget float64

	current, previous *float64
	curTime, prevTime time.Time
	outdoor           *float64
	lastSensor        time.Time
	trigger           trigger

	output   float64
	terms    pid.Terms
	forceOn  bool
	forceOff bool

	mod   *pwm.Modulator
	guard *pwm.Guard
}

// New validates cfg and builds a thermostat. cooler may be nil, in which
// case the heater is driven in every mode.
func New(cfg Config, heater, cooler Actuator, logger zerolog.Logger) (*Thermostat, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if heater == nil {
		return nil, fmt.Errorf("%w: heater actuator is required", ErrInvalidConfig)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	t := &Thermostat{
		cfg:        cfg,
		log:        logger,
		now:        cfg.Now,
		heater:     heater,
		cooler:     cooler,
		gains:      cfg.Gains,
		difference: cfg.OutputMax - cfg.OutputMin,
		hvacMode:   cfg.InitialHVACMode,
		preset:     PresetNone,
		presets:    make(map[Preset]float64, len(cfg.Presets)),
		output:     cfg.OutputMin,
	}
	for p, v := range cfg.Presets {
		t.presets[p] = v
	}
	if cfg.TargetTemp != nil {
		t.target, t.haveTarget = *cfg.TargetTemp, true
	}
	if cfg.ACMode {
		t.minOut, t.maxOut = t.bounds(HVACCool)
	} else {
		t.minOut, t.maxOut = t.bounds(HVACHeat)
	}

	now := t.now()
	t.lastSensor = now
	t.mod = pwm.NewModulator(cfg.PWM, t.difference, cfg.KeepAlive, time.Time{})
	t.guard = pwm.NewGuard(now)

	if cfg.Autotune != "" {
		tuner, err := autotune.New(autotune.Config{
			OutStep:   t.difference,
			Lookback:  cfg.Lookback,
			OutMin:    t.minOut,
			OutMax:    t.maxOut,
			Noiseband: cfg.Noiseband,
		})
		if err != nil {
			return nil, fmt.Errorf("init autotune: %w", err)
		}
		t.ctrl = &tuneLoop{tuner: tuner, rule: cfg.Autotune}
		t.log.Warn().Str("rule", string(cfg.Autotune)).
			Msg("autotune will latch the target temperature after the sensor cadence is measured")
	} else {
		p, err := t.newPID(cfg.Gains)
		if err != nil {
			return nil, err
		}
		t.ctrl = &pidLoop{pid: p}
		t.log.Debug().Float64("kp", cfg.Gains.Kp).Float64("ki", cfg.Gains.Ki).
			Float64("kd", cfg.Gains.Kd).Msg("pid gains")
	}
	return t, nil
}

func (t *Thermostat) newPID(g pid.Gains) (*pid.Controller, error) {
	p, err := pid.New(pid.Config{
		Gains:          g,
		OutMin:         t.minOut,
		OutMax:         t.maxOut,
		SamplingPeriod: t.cfg.SamplingPeriod,
		ColdTolerance:  t.cfg.ColdTolerance,
		HotTolerance:   t.cfg.HotTolerance,
		Now:            t.now,
	})
	if err != nil {
		return nil, fmt.Errorf("init pid: %w", err)
	}
	return p, nil
}

// bounds returns the output range for mode. Off keeps the current range.
func (t *Thermostat) bounds(mode HVACMode) (float64, float64) {
	switch mode {
	case HVACHeat:
		return t.cfg.ClampLow, t.cfg.ClampHigh
	case HVACCool:
		return -t.cfg.ClampHigh, -t.cfg.ClampLow
	case HVACHeatCool:
		return -t.cfg.ClampHigh, t.cfg.ClampHigh
	}
	return t.minOut, t.maxOut
}

// Start completes restoration, defaults the mode to off and runs the first
// control cycle.
func (t *Thermostat) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.restored {
		t.restoreLocked(SavedState{})
	}
	if t.hvacMode == "" {
		t.hvacMode = HVACOff
	}
	return t.controlLocked(ctx, true)
}

// HandleReading ingests a sensor sample. Unparseable values are logged and
// dropped without running a cycle.
func (t *Thermostat) HandleReading(ctx context.Context, r Reading) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var tr trigger
	switch {
	case r.Source == t.cfg.SensorSource:
		tr = triggerSensor
	case t.cfg.OutdoorSource != "" && r.Source == t.cfg.OutdoorSource:
		tr = triggerOutdoor
	default:
		return fmt.Errorf("%w: %q", ErrUnknownSource, r.Source)
	}

	v, err := strconv.ParseFloat(strings.TrimSpace(r.Value), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		t.log.Debug().Str("source", r.Source).Str("value", r.Value).Msg("unable to parse sensor value")
		return nil
	}

	now := t.now()
	at := r.Time
	if at.IsZero() {
		at = now
	}
	t.trigger = tr
	if tr == triggerOutdoor {
		t.outdoor = &v
		t.log.Debug().Float64("temp", v).Msg("received outdoor temperature")
		return t.controlLocked(ctx, false)
	}

	t.previous = t.current
	t.current = &v
	t.prevTime = t.curTime
	t.curTime = at
	t.lastSensor = now
	t.log.Debug().Float64("temp", v).Msg("received temperature")
	return t.controlLocked(ctx, true)
}

// Tick runs a keep-alive cycle without forcing a recompute.
func (t *Thermostat) Tick(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.controlLocked(ctx, false)
}

func (t *Thermostat) controlLocked(ctx context.Context, calc bool) error {
	now := t.now()
	if !t.active && t.current != nil && t.haveTarget {
		t.active = true
		t.log.Info().Float64("temp", *t.current).Float64("target", t.target).Msg("activating thermostat")
	}

	if !t.active || t.hvacMode == HVACOff || t.hvacMode == "" {
		if t.cfg.ForceOffState && t.hvacMode == HVACOff && t.device().Active() {
			t.log.Debug().Msg("device active while hvac is off, turning it off")
			if t.cfg.PWM > 0 {
				return t.switchLocked(ctx, now, false, true)
			}
			t.output = t.cfg.OutputMin
			return t.device().SetValue(ctx, t.output)
		}
		return nil
	}

	switch {
	case t.cfg.SensorStall > 0 && now.Sub(t.lastSensor) > t.cfg.SensorStall:
		if t.output != t.cfg.OutputSafety {
			t.log.Warn().Dur("since", now.Sub(t.lastSensor)).Float64("output", t.cfg.OutputSafety).
				Msg("sensor stalled, using safety output")
		}
		t.output = t.cfg.OutputSafety
	case calc || t.cfg.SamplingPeriod != 0:
		if err := t.calcLocked(now); err != nil {
			return err
		}
	}
	return t.actuateLocked(ctx, now)
}

func (t *Thermostat) calcLocked(now time.Time) error {
	if t.prevTime.IsZero() {
		t.prevTime = now
	}
	if t.curTime.IsZero() {
		t.curTime = now
	}
	if t.prevTime.After(t.curTime) {
		t.prevTime = t.curTime
	}

	switch c := t.ctrl.(type) {
	case *tuneLoop:
		if t.trigger == triggerSensor {
			t.trigger = triggerNone
			if c.tuner.Run(*t.current, t.target, now) {
				if err := t.finishTuning(c); err != nil {
					return err
				}
			}
		}
		t.output = c.tuner.Output()
		t.terms = pid.Terms{}
	case *pidLoop:
		out, updated := c.pid.Calc(*t.current, t.target, t.curTime, t.prevTime, t.outdoor)
		t.terms = c.pid.Terms()
		t.output = round(out, t.cfg.OutputPrecision)
		if updated {
			t.log.Debug().Float64("output", t.output).Float64("error", t.terms.Error).
				Float64("dt", t.terms.DT).Float64("p", t.terms.P).Float64("i", t.terms.I).
				Float64("d", t.terms.D).Float64("e", t.terms.E).Msg("new pid output")
		}
	}
	return nil
}

// finishTuning swaps the finished tuner for a PID controller.
func (t *Thermostat) finishTuning(c *tuneLoop) error {
	g := t.gains
	if c.tuner.State() == autotune.StateSucceeded {
		for _, r := range autotune.Rules() {
			p, err := c.tuner.Params(r)
			if err != nil {
				continue
			}
			t.log.Info().Str("rule", string(r)).Float64("kp", p.Kp).Float64("ki", p.Ki).
				Float64("kd", p.Kd).Msg("autotune result")
		}
		p, err := c.tuner.Params(c.rule)
		if err != nil {
			return err
		}
		g.Kp, g.Ki, g.Kd = p.Kp, p.Ki, p.Kd
		t.log.Warn().Str("rule", string(c.rule)).Float64("ku", c.tuner.Ku()).Float64("pu", c.tuner.Pu()).
			Float64("kp", g.Kp).Float64("ki", g.Ki).Float64("kd", g.Kd).Msg("autotune succeeded, switching to pid")
	} else {
		t.log.Warn().Int("peaks", c.tuner.PeakCount()).Msg("autotune failed, using configured gains")
	}

	p, err := t.newPID(g)
	if err != nil {
		return err
	}
	t.gains = g
	t.ctrl = &pidLoop{pid: p}
	return nil
}

func (t *Thermostat) actuateLocked(ctx context.Context, now time.Time) error {
	if t.cfg.PWM == 0 {
		return t.device().SetValue(ctx, math.Abs(t.output))
	}

	d := t.mod.Decide(now, t.output, t.device().Active(), t.limits(), t.forceOn, t.forceOff)
	t.forceOn, t.forceOff = false, false
	switch d.Action {
	case pwm.TurnOn:
		return t.switchLocked(ctx, now, true, false)
	case pwm.TurnOff:
		return t.switchLocked(ctx, now, false, false)
	}
	t.log.Debug().Dur("remaining", d.Remaining).Dur("on", d.Window.On).Dur("off", d.Window.Off).
		Msg("waiting for pwm phase")
	return nil
}

// switchLocked turns the current device on or off subject to the minimum
// cycle guard.
func (t *Thermostat) switchLocked(ctx context.Context, now time.Time, on, force bool) error {
	dev := t.device()
	state := "off"
	if on {
		state = "on"
	}
	switch t.guard.Check(now, dev.Active(), on, t.limits(), force) {
	case pwm.Reject:
		t.log.Info().Str("state", state).Msg("reject switch request: cycle is too short")
		return nil
	case pwm.Refresh:
		t.log.Debug().Str("state", state).Msg("refresh device state")
	case pwm.Switch:
		t.log.Info().Str("state", state).Msg("switching device")
	}
	if on {
		return dev.TurnOn(ctx)
	}
	return dev.TurnOff(ctx)
}

// device is the cooler in cool mode when one is configured, else the heater.
func (t *Thermostat) device() Actuator {
	if t.hvacMode == HVACCool && t.cooler != nil {
		return t.cooler
	}
	return t.heater
}

// limits picks the bang-bang cycle limits while the PID is off or tuning.
func (t *Thermostat) limits() pwm.Limits {
	if t.pidMode() == pid.ModeOff {
		return t.cfg.CyclesPIDOff
	}
	return t.cfg.CyclesPIDOn
}

func (t *Thermostat) pidMode() pid.Mode {
	if c, ok := t.ctrl.(*pidLoop); ok {
		return c.pid.Mode()
	}
	return pid.ModeOff
}

func (t *Thermostat) clearSamplesLocked() {
	t.previous = nil
	t.prevTime = time.Time{}
	if c, ok := t.ctrl.(*pidLoop); ok {
		c.pid.ClearSamples()
	}
}

func round(v float64, precision int) float64 {
	if precision <= 0 {
		return math.RoundToEven(v)
	}
	scale := math.Pow(10, float64(precision))
	return math.Round(v*scale) / scale
}
