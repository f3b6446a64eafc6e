package config

import (
	"time"

	"github.com/sweeney/smart-thermostat/internal/autotune"
	"github.com/sweeney/smart-thermostat/internal/pid"
	"github.com/sweeney/smart-thermostat/internal/pwm"
	"github.com/sweeney/smart-thermostat/internal/thermostat"
)

// CycleLimits resolves the minimum cycle durations. Unset values fall back
// along the chain: off after on, PID-off on after on, PID-off off after
// PID-off on.
func (t *ThermostatConfig) CycleLimits() (pidOn, pidOff pwm.Limits) {
	pidOn.MinOn = t.MinCycleDuration.Duration()
	pidOn.MinOff = pidOn.MinOn
	if t.MinOffCycleDuration != nil {
		pidOn.MinOff = t.MinOffCycleDuration.Duration()
	}
	pidOff.MinOn = pidOn.MinOn
	if t.MinCycleDurationPIDOff != nil {
		pidOff.MinOn = t.MinCycleDurationPIDOff.Duration()
	}
	pidOff.MinOff = pidOff.MinOn
	if t.MinOffCycleDurationPIDOff != nil {
		pidOff.MinOff = t.MinOffCycleDurationPIDOff.Duration()
	}
	return pidOn, pidOff
}

// ToThermostat builds the control loop configuration. Readings are routed
// by topic, so the sensor topics double as reading sources.
func (c *Config) ToThermostat(now func() time.Time) thermostat.Config {
	t := c.Thermostat
	pidOn, pidOff := t.CycleLimits()

	presets := make(map[thermostat.Preset]float64, len(t.Presets))
	for name, v := range t.Presets {
		p, _ := thermostat.ParsePreset(name)
		presets[p] = v
	}

	var mode thermostat.HVACMode
	if t.InitialHVACMode != "" {
		mode, _ = thermostat.ParseHVACMode(t.InitialHVACMode)
	}
	var rule autotune.Rule
	if t.AutotuneEnabled() {
		rule, _ = autotune.ParseRule(t.Autotune)
	}

	return thermostat.Config{
		Name:          c.Name,
		UniqueID:      c.UniqueID,
		SensorSource:  c.Sensor,
		OutdoorSource: c.OutdoorSensor,

		ACMode:          t.ACMode,
		ForceOffState:   t.ForceOffState,
		InitialHVACMode: mode,
		TargetTemp:      t.TargetTemp,
		MinTemp:         t.MinTemp,
		MaxTemp:         t.MaxTemp,
		Presets:         presets,
		PresetSync:      t.PresetSyncMode == "sync",
		BoostPIDOff:     t.BoostPIDOff,

		Gains:          pid.Gains{Kp: t.Kp, Ki: t.Ki, Kd: t.Kd, Ke: t.Ke},
		ColdTolerance:  t.ColdTolerance,
		HotTolerance:   t.HotTolerance,
		SamplingPeriod: t.SamplingPeriod.Duration(),
		SensorStall:    t.SensorStall.Duration(),
		OutputSafety:   t.OutputSafety,

		OutputPrecision: t.OutputPrecision,
		OutputMin:       t.OutputMin,
		OutputMax:       t.OutputMax,
		ClampLow:        t.OutClampLow,
		ClampHigh:       t.OutClampHigh,

		PWM:          t.PWM.Duration(),
		KeepAlive:    t.KeepAlive.Duration(),
		CyclesPIDOn:  pidOn,
		CyclesPIDOff: pidOff,
		Autotune:     rule,
		Lookback:     t.Lookback.Duration(),
		Noiseband:    t.Noiseband,

		Now: now,
	}
}
