package thermostat

// Snapshot returns a copy of the current state.
func (t *Thermostat) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Snapshot{
		Name:         t.cfg.Name,
		UniqueID:     t.cfg.UniqueID,
		Active:       t.active,
		HVACMode:     t.hvacMode,
		HVACAction:   t.actionLocked(),
		Preset:       t.preset,
		Presets:      t.presetsCopy(),
		CurrentTemp:  copyFloat(t.current),
		OutdoorTemp:  copyFloat(t.outdoor),
		Output:       t.output,
		DeviceActive: t.device().Active(),
		Gains:        t.gains,
		PIDMode:      t.pidMode(),
		Terms:        t.terms,
		LastSensor:   t.lastSensor,
	}
	if t.haveTarget {
		v := t.target
		s.TargetTemp = &v
	}

	switch c := t.ctrl.(type) {
	case *pidLoop:
		s.Gains = c.pid.Gains()
		s.Integral = c.pid.Integral()
	case *tuneLoop:
		s.Autotune = &AutotuneStatus{
			State:        c.tuner.State(),
			Rule:         c.rule,
			SampleTime:   c.tuner.SampleTime().Seconds(),
			SetPoint:     c.tuner.SetPoint(),
			PeakCount:    c.tuner.PeakCount(),
			BufferFill:   c.tuner.BufferFill(),
			BufferLength: c.tuner.BufferLength(),
		}
	}
	return s
}

// SavedState returns the state worth persisting across restarts.
func (t *Thermostat) SavedState() SavedState {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := SavedState{Presets: t.presetsCopy()}
	if t.hvacMode != "" {
		m := t.hvacMode
		s.HVACMode = &m
	}
	if t.haveTarget {
		// While a preset is active the user's own target is the saved one.
		v := t.target
		if t.preset != PresetNone {
			v = t.savedTarget
		}
		s.TargetTemp = &v
	}
	p := t.preset
	s.Preset = &p

	c, ok := t.ctrl.(*pidLoop)
	if !ok {
		return s
	}
	g := c.pid.Gains()
	s.Kp, s.Ki, s.Kd, s.Ke = &g.Kp, &g.Ki, &g.Kd, &g.Ke
	i := c.pid.Integral()
	s.Integral = &i
	m := c.pid.Mode()
	s.PIDMode = &m
	return s
}

func (t *Thermostat) actionLocked() HVACAction {
	switch {
	case t.hvacMode == HVACOff || t.hvacMode == "":
		return ActionOff
	case !t.device().Active():
		return ActionIdle
	case t.hvacMode == HVACCool:
		return ActionCooling
	}
	return ActionHeating
}

func (t *Thermostat) presetsCopy() map[Preset]float64 {
	out := make(map[Preset]float64, len(t.presets))
	for p, v := range t.presets {
		out[p] = v
	}
	return out
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
