package thermostat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/sweeney/smart-thermostat/internal/pid"
)

// Restore applies persisted state. Call it before Start; absent fields keep
// their configured values.
func (t *Thermostat) Restore(s SavedState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.restoreLocked(s)
}

func (t *Thermostat) restoreLocked(s SavedState) {
	t.restored = true

	switch {
	case s.TargetTemp != nil:
		t.target, t.haveTarget = *s.TargetTemp, true
	case !t.haveTarget:
		t.target, t.haveTarget = t.cfg.MinTemp, true
		if t.cfg.ACMode {
			t.target = t.cfg.MaxTemp
		}
		t.log.Warn().Float64("target", t.target).Msg("no setpoint to restore, using fallback")
	}

	for p, v := range s.Presets {
		if np, err := ParsePreset(string(p)); err == nil && np != PresetNone {
			t.presets[np] = v
		}
	}
	if s.Preset != nil {
		if p, err := ParsePreset(string(*s.Preset)); err == nil && p != PresetNone {
			if v, ok := t.presets[p]; ok {
				t.savedTarget = t.target
				t.target = v
				t.preset = p
			}
		}
	}
	if t.hvacMode == "" && s.HVACMode != nil {
		if m, err := ParseHVACMode(string(*s.HVACMode)); err == nil {
			t.applyHVACModeLocked(m)
		}
	}

	c, ok := t.ctrl.(*pidLoop)
	if !ok {
		return
	}
	if err := t.setGainsLocked(pid.GainsUpdate{Kp: s.Kp, Ki: s.Ki, Kd: s.Kd, Ke: s.Ke}); err != nil {
		t.log.Warn().Err(err).Msg("ignoring saved gains")
	}
	if s.Integral != nil {
		if err := c.pid.SetIntegral(*s.Integral); err != nil {
			t.log.Warn().Err(err).Msg("ignoring saved integral")
		}
	}
	if s.PIDMode != nil {
		if m, err := pid.ParseMode(string(*s.PIDMode)); err == nil {
			c.pid.SetMode(m)
		}
	}
}

// SetTargetTemperature changes the set point. Raising it above the current
// temperature forces the next PWM phase on, lowering it forces it off.
func (t *Thermostat) SetTargetTemperature(ctx context.Context, v float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.setTargetLocked(v); err != nil {
		return err
	}
	return t.controlLocked(ctx, true)
}

func (t *Thermostat) setTargetLocked(v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return ErrInvalidValue
	}
	if t.current != nil {
		switch {
		case v > *t.current:
			t.forceOn = true
		case v < *t.current:
			t.forceOff = true
		}
	}
	if t.cfg.PresetSync {
		for _, p := range Presets() {
			if pv, ok := t.presets[p]; ok && pv == v {
				return t.setPresetLocked(p)
			}
		}
	}
	if err := t.setPresetLocked(PresetNone); err != nil {
		return err
	}
	t.target, t.haveTarget = v, true
	return nil
}

// SetHVACMode turns the current device off and switches direction.
func (t *Thermostat) SetHVACMode(ctx context.Context, m HVACMode) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.setHVACModeLocked(ctx, m); err != nil {
		return err
	}
	if t.hvacMode == HVACOff {
		return nil
	}
	return t.controlLocked(ctx, true)
}

func (t *Thermostat) setHVACModeLocked(ctx context.Context, raw HVACMode) error {
	m, err := ParseHVACMode(string(raw))
	if err != nil {
		return err
	}
	if err := t.offLocked(ctx); err != nil {
		return err
	}
	t.applyHVACModeLocked(m)
	if m == HVACOff && t.cfg.PWM == 0 {
		return t.device().SetValue(ctx, t.output)
	}
	return nil
}

func (t *Thermostat) offLocked(ctx context.Context) error {
	if t.cfg.PWM > 0 {
		return t.switchLocked(ctx, t.now(), false, true)
	}
	return t.device().TurnOff(ctx)
}

// applyHVACModeLocked updates mode and bounds without touching the device.
func (t *Thermostat) applyHVACModeLocked(m HVACMode) {
	prev := t.hvacMode
	t.minOut, t.maxOut = t.bounds(m)
	t.hvacMode = m
	if m == HVACOff {
		t.output = t.cfg.OutputMin
	}
	if m == HVACOff || prev == HVACOff {
		t.clearSamplesLocked()
	}
	if c, ok := t.ctrl.(*pidLoop); ok {
		if err := c.pid.SetLimits(t.minOut, t.maxOut); err != nil {
			t.log.Error().Err(err).Msg("unable to apply output limits")
		}
	}
	if prev != m {
		t.log.Info().Str("from", string(prev)).Str("to", string(m)).Msg("hvac mode changed")
	}
}

// SetPresetMode selects a preset, or PresetNone to return to the saved
// target.
func (t *Thermostat) SetPresetMode(ctx context.Context, p Preset) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.setPresetLocked(p); err != nil {
		return err
	}
	return t.controlLocked(ctx, true)
}

func (t *Thermostat) setPresetLocked(p Preset) error {
	if np, err := ParsePreset(string(p)); err == nil {
		p = np
	}
	if p != PresetNone {
		if _, ok := t.presets[p]; !ok {
			return fmt.Errorf("%w: %q", ErrUnknownPreset, p)
		}
	}
	switch {
	case p != PresetNone && t.preset == PresetNone:
		t.savedTarget = t.target
		t.target = t.presets[p]
	case p == PresetNone && t.preset != PresetNone:
		t.target = t.savedTarget
	case p == PresetNone:
		return nil
	default:
		t.target = t.presets[p]
	}
	t.haveTarget = true
	t.preset = p

	if t.cfg.BoostPIDOff {
		if p == PresetBoost {
			t.setPIDModeLocked(pid.ModeOff)
		} else {
			t.setPIDModeLocked(pid.ModeAuto)
		}
	}
	return nil
}

// SetPresetTemperature sets a preset temperature, clamped to the allowed
// range. A nil value disables the preset.
func (t *Thermostat) SetPresetTemperature(ctx context.Context, p Preset, v *float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.setPresetTempLocked(p, v); err != nil {
		return err
	}
	return t.controlLocked(ctx, true)
}

func (t *Thermostat) setPresetTempLocked(raw Preset, v *float64) error {
	p, err := ParsePreset(string(raw))
	if err != nil || p == PresetNone {
		return fmt.Errorf("%w: %q", ErrUnknownPreset, raw)
	}
	if v == nil {
		delete(t.presets, p)
		return nil
	}
	if math.IsNaN(*v) || math.IsInf(*v, 0) {
		return ErrInvalidValue
	}
	t.presets[p] = math.Max(math.Min(*v, t.cfg.MaxTemp), t.cfg.MinTemp)
	return nil
}

// SetGains updates any subset of the gains. While autotuning the gains are
// kept as the fallback used if tuning fails.
func (t *Thermostat) SetGains(ctx context.Context, u pid.GainsUpdate) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.setGainsLocked(u); err != nil {
		return err
	}
	return t.controlLocked(ctx, true)
}

func (t *Thermostat) setGainsLocked(u pid.GainsUpdate) error {
	for _, g := range []*float64{u.Kp, u.Ki, u.Kd, u.Ke} {
		if g != nil && (math.IsNaN(*g) || math.IsInf(*g, 0)) {
			return ErrInvalidValue
		}
	}
	if u.Kp != nil {
		t.gains.Kp = *u.Kp
	}
	if u.Ki != nil {
		t.gains.Ki = *u.Ki
	}
	if u.Kd != nil {
		t.gains.Kd = *u.Kd
	}
	if u.Ke != nil {
		t.gains.Ke = *u.Ke
	}
	if c, ok := t.ctrl.(*pidLoop); ok {
		c.pid.SetGains(u)
	}
	return nil
}

// SetPIDMode switches between the PID law and on/off control. It has no
// effect while autotuning.
func (t *Thermostat) SetPIDMode(ctx context.Context, m pid.Mode) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.setPIDModeLocked(m)
	return t.controlLocked(ctx, true)
}

func (t *Thermostat) setPIDModeLocked(m pid.Mode) {
	if c, ok := t.ctrl.(*pidLoop); ok {
		c.pid.SetMode(m)
	}
}

// ClearIntegral zeroes the accumulated integral.
func (t *Thermostat) ClearIntegral(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clearIntegralLocked()
	return t.controlLocked(ctx, true)
}

func (t *Thermostat) clearIntegralLocked() {
	if c, ok := t.ctrl.(*pidLoop); ok {
		c.pid.ResetIntegral()
		t.terms.I = c.pid.Integral()
	}
}

// Command is a batch of changes, applied in field order with a single
// control cycle at the end. A nil preset temperature disables that preset.
type Command struct {
	HVACMode      *HVACMode           `json:"hvac_mode,omitempty"`
	Gains         *pid.GainsUpdate    `json:"gains,omitempty"`
	PIDMode       *pid.Mode           `json:"pid_mode,omitempty"`
	PresetTemps   map[Preset]*float64 `json:"preset_temps,omitempty"`
	Preset        *Preset             `json:"preset,omitempty"`
	TargetTemp    *float64            `json:"target_temp,omitempty"`
	ClearIntegral bool                `json:"clear_integral,omitempty"`
}

// Empty reports whether c changes nothing.
func (c Command) Empty() bool {
	return c.HVACMode == nil && c.Gains == nil && c.PIDMode == nil && len(c.PresetTemps) == 0 &&
		c.Preset == nil && c.TargetTemp == nil && !c.ClearIntegral
}

// ErrEmptyCommand is returned when decoding a command that changes nothing.
var ErrEmptyCommand = errors.New("thermostat: empty command")

// DecodeCommand parses a JSON command. Unknown fields are rejected.
func DecodeCommand(data []byte) (Command, error) {
	var c Command
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&c); err != nil {
		return Command{}, fmt.Errorf("decode command: %w", err)
	}
	if c.Empty() {
		return Command{}, ErrEmptyCommand
	}
	return c, nil
}

// Apply executes c. It stops at the first invalid field; fields before it
// stay applied.
func (t *Thermostat) Apply(ctx context.Context, c Command) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if c.HVACMode != nil {
		if err := t.setHVACModeLocked(ctx, *c.HVACMode); err != nil {
			return fmt.Errorf("hvac mode: %w", err)
		}
	}
	if c.Gains != nil {
		if err := t.setGainsLocked(*c.Gains); err != nil {
			return fmt.Errorf("gains: %w", err)
		}
	}
	if c.PIDMode != nil {
		m, err := pid.ParseMode(string(*c.PIDMode))
		if err != nil {
			return err
		}
		t.setPIDModeLocked(m)
	}
	temps := make(map[Preset]*float64, len(c.PresetTemps))
	for raw, v := range c.PresetTemps {
		p, err := ParsePreset(string(raw))
		if err != nil || p == PresetNone {
			return fmt.Errorf("%w: %q", ErrUnknownPreset, raw)
		}
		temps[p] = v
	}
	for _, p := range Presets() {
		v, ok := temps[p]
		if !ok {
			continue
		}
		if err := t.setPresetTempLocked(p, v); err != nil {
			return fmt.Errorf("preset %s: %w", p, err)
		}
	}
	if c.Preset != nil {
		if err := t.setPresetLocked(*c.Preset); err != nil {
			return err
		}
	}
	if c.TargetTemp != nil {
		if err := t.setTargetLocked(*c.TargetTemp); err != nil {
			return fmt.Errorf("target: %w", err)
		}
	}
	if c.ClearIntegral {
		t.clearIntegralLocked()
	}
	return t.controlLocked(ctx, true)
}
