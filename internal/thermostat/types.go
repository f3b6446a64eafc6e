package thermostat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sweeney/smart-thermostat/internal/autotune"
	"github.com/sweeney/smart-thermostat/internal/pid"
)

// HVACMode is the operating direction of the thermostat.
type HVACMode string

const (
	HVACOff      HVACMode = "off"
	HVACHeat     HVACMode = "heat"
	HVACCool     HVACMode = "cool"
	HVACHeatCool HVACMode = "heat_cool"
)

// ParseHVACMode accepts a mode name in any case.
func ParseHVACMode(s string) (HVACMode, error) {
	m := HVACMode(strings.ToLower(strings.TrimSpace(s)))
	switch m {
	case HVACOff, HVACHeat, HVACCool, HVACHeatCool:
		return m, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownHVACMode, s)
}

// HVACAction is what the device is doing right now.
type HVACAction string

const (
	ActionOff     HVACAction = "off"
	ActionIdle    HVACAction = "idle"
	ActionHeating HVACAction = "heating"
	ActionCooling HVACAction = "cooling"
)

// Preset is a named target temperature.
type Preset string

const (
	PresetNone     Preset = "none"
	PresetAway     Preset = "away"
	PresetEco      Preset = "eco"
	PresetBoost    Preset = "boost"
	PresetComfort  Preset = "comfort"
	PresetHome     Preset = "home"
	PresetSleep    Preset = "sleep"
	PresetActivity Preset = "activity"
)

// Presets lists the named presets in display order.
func Presets() []Preset {
	return []Preset{PresetAway, PresetEco, PresetBoost, PresetComfort, PresetHome, PresetSleep, PresetActivity}
}

// ParsePreset accepts a preset name in any case.
func ParsePreset(s string) (Preset, error) {
	p := Preset(strings.ToLower(strings.TrimSpace(s)))
	if p == PresetNone {
		return p, nil
	}
	for _, known := range Presets() {
		if p == known {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPreset, s)
}

var (
	ErrInvalidConfig   = errors.New("thermostat: invalid config")
	ErrUnknownHVACMode = errors.New("thermostat: unknown hvac mode")
	ErrUnknownPreset   = errors.New("thermostat: unknown preset")
	ErrUnknownSource   = errors.New("thermostat: unknown sensor source")
	ErrInvalidValue    = errors.New("thermostat: value must be a finite number")
)

// Actuator drives a heater, cooler or valve. Binary devices implement
// TurnOn/TurnOff; continuous ones SetValue. Active reports the observed
// device state.
type Actuator interface {
	Active() bool
	TurnOn(ctx context.Context) error
	TurnOff(ctx context.Context) error
	SetValue(ctx context.Context, v float64) error
}

// Invert swaps on and off for a device wired with reverse polarity.
func Invert(a Actuator) Actuator {
	return inverted{a}
}

type inverted struct {
	Actuator
}

func (i inverted) Active() bool { return !i.Actuator.Active() }
func (i inverted) TurnOn(ctx context.Context) error { return i.Actuator.TurnOff(ctx) }
func (i inverted) TurnOff(ctx context.Context) error { return i.Actuator.TurnOn(ctx) }

// Reading is a raw sensor sample. Value is parsed as a float.
type Reading struct {
	Source string
	Value  string
	Time   time.Time
}

// SavedState is what survives a restart. Absent fields fall back to config.
type SavedState struct {
	HVACMode   *HVACMode          `json:"hvac_mode,omitempty"`
	TargetTemp *float64           `json:"target_temp,omitempty"`
	Preset     *Preset            `json:"preset,omitempty"`
	Presets    map[Preset]float64 `json:"presets,omitempty"`
	Kp         *float64           `json:"kp,omitempty"`
	Ki         *float64           `json:"ki,omitempty"`
	Kd         *float64           `json:"kd,omitempty"`
	Ke         *float64           `json:"ke,omitempty"`
	Integral   *float64           `json:"pid_i,omitempty"`
	PIDMode    *pid.Mode          `json:"pid_mode,omitempty"`
}

// AutotuneStatus describes a running relay experiment.
type AutotuneStatus struct {
	State        autotune.State `json:"state"`
	Rule         autotune.Rule  `json:"rule"`
	SampleTime   float64        `json:"sample_time"` // seconds
	SetPoint     float64        `json:"set_point"`
	PeakCount    int            `json:"peak_count"`
	BufferFill   float64        `json:"buffer_full"`
	BufferLength int            `json:"buffer_length"`
}

// Snapshot is a point-in-time view of the thermostat.
type Snapshot struct {
	Name         string             `json:"name"`
	UniqueID     string             `json:"unique_id"`
	Active       bool               `json:"active"`
	HVACMode     HVACMode           `json:"hvac_mode"`
	HVACAction   HVACAction         `json:"hvac_action"`
	Preset       Preset             `json:"preset"`
	Presets      map[Preset]float64 `json:"presets"`
	CurrentTemp  *float64           `json:"current_temp"`
	OutdoorTemp  *float64           `json:"outdoor_temp"`
	TargetTemp   *float64           `json:"target_temp"`
	Output       float64            `json:"control_output"`
	DeviceActive bool               `json:"device_active"`
	Gains        pid.Gains          `json:"gains"`
	PIDMode      pid.Mode           `json:"pid_mode"`
	Terms        pid.Terms          `json:"terms"`
	Integral     float64            `json:"pid_i"`
	LastSensor   time.Time          `json:"last_sensor_update"`
	Autotune     *AutotuneStatus    `json:"autotune,omitempty"`
}
