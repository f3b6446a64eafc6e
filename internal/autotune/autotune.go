// Package autotune estimates PID gains by relay feedback: the output is
// toggled between two levels around a latched set point and the induced
// oscillation yields the ultimate gain Ku and ultimate period Pu.
package autotune

import (
	"errors"
	"math"
	"sort"
	"time"
)

// State is the phase of the relay experiment.
type State string

const (
	StateOff       State = "off"
	StateStepUp    State = "relay step up"
	StateStepDown  State = "relay step down"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

const (
	// PeakAmplitudeTolerance is the relative deviation under which the
	// oscillation is considered stable.
	PeakAmplitudeTolerance = 0.05
	// MaxPeaks is the number of inflections after which tuning gives up.
	MaxPeaks = 20
	// PeakWindow is the number of recent peaks kept for analysis.
	PeakWindow = 5

	defaultBootstrapSamples = 10
)

var (
	ErrInvalidStep   = errors.New("autotune: output step must be at least 1")
	ErrInvalidLimits = errors.New("autotune: output minimum must be below maximum")
)

// Config parameterises a Tuner.
type Config struct {
	OutStep          float64
	Lookback         time.Duration
	OutMin           float64
	OutMax           float64
	Noiseband        float64
	BootstrapSamples int
}

type sample struct {
	value float64
	at    time.Time
}

// Tuner runs a single relay experiment. Not safe for concurrent use.
type Tuner struct {
	cfg Config

	state         State
	output        float64
	initialOutput float64
	setPoint      float64

	sampleTime time.Duration
	lastStamp  time.Time
	intervals  []time.Duration
	lastRun    time.Time

	inputs *ring[sample]
	peaks  *ring[sample]

	peakType  int // 1 max, -1 min, 0 none yet
	peakCount int
	amplitude float64
	ku        float64
	pu        float64
}

// New validates cfg and returns a tuner in StateOff.
func New(cfg Config) (*Tuner, error) {
	if cfg.OutStep < 1 {
		return nil, ErrInvalidStep
	}
	if !(cfg.OutMin < cfg.OutMax) {
		return nil, ErrInvalidLimits
	}
	if cfg.BootstrapSamples <= 0 {
		cfg.BootstrapSamples = defaultBootstrapSamples
	}
	cfg.Noiseband = math.Abs(cfg.Noiseband)
	return &Tuner{
		cfg:    cfg,
		state:  StateOff,
		output: clamp(0, cfg.OutMin, cfg.OutMax),
		inputs: newRing[sample](cfg.BootstrapSamples),
		peaks:  newRing[sample](PeakWindow),
	}, nil
}

// Run feeds one input sample. It returns true once the experiment has
// finished, either succeeded or failed; Output then holds the neutral value.
func (t *Tuner) Run(input, setPoint float64, now time.Time) bool {
	switch t.state {
	case StateSucceeded, StateFailed:
		return true
	}

	if t.sampleTime == 0 {
		if !t.bootstrap(setPoint, now) {
			return false
		}
	}

	if t.state == StateOff {
		t.start()
	} else if now.Sub(t.lastRun) < t.sampleTime*9/10 {
		return false
	}
	t.lastRun = now

	switch t.state {
	case StateStepUp:
		if input > t.setPoint+t.cfg.Noiseband {
			t.state = StateStepDown
		}
	case StateStepDown:
		if input < t.setPoint-t.cfg.Noiseband {
			t.state = StateStepUp
		}
	}
	if t.state == StateStepUp {
		t.output = t.initialOutput + t.cfg.OutStep
	} else {
		t.output = t.initialOutput - t.cfg.OutStep
	}
	t.output = clamp(t.output, t.cfg.OutMin, t.cfg.OutMax)

	isMax, isMin := true, true
	t.inputs.each(func(s sample) {
		isMax = isMax && input >= s.value
		isMin = isMin && input <= s.value
	})
	t.inputs.push(sample{value: input, at: now})
	if !t.inputs.full() {
		return false
	}

	inflection := false
	switch {
	case isMax:
		inflection = t.peakType == -1
		t.peakType = 1
	case isMin:
		inflection = t.peakType == 1
		t.peakType = -1
	}

	if inflection {
		t.peakCount++
		t.peaks.push(sample{value: input, at: now})
		if t.peakCount >= PeakWindow && t.converged() {
			t.state = StateSucceeded
		}
	}

	if t.peakCount >= MaxPeaks {
		t.output = clamp(0, t.cfg.OutMin, t.cfg.OutMax)
		t.state = StateFailed
		return true
	}
	if t.state == StateSucceeded {
		t.output = clamp(0, t.cfg.OutMin, t.cfg.OutMax)
		t.ku = 4 * t.cfg.OutStep / (t.amplitude * math.Pi)
		p1 := t.peaks.at(3).at.Sub(t.peaks.at(1).at)
		p2 := t.peaks.at(4).at.Sub(t.peaks.at(2).at)
		t.pu = 0.5 * (p1 + p2).Seconds()
		return true
	}
	return false
}

// bootstrap measures the sensor cadence. It reports true once the sample
// time is known.
func (t *Tuner) bootstrap(setPoint float64, now time.Time) bool {
	if t.lastStamp.IsZero() {
		t.lastStamp = now
		return false
	}
	t.intervals = append(t.intervals, now.Sub(t.lastStamp))
	t.lastStamp = now
	if len(t.intervals) < t.cfg.BootstrapSamples {
		return false
	}

	st := median(t.intervals[len(t.intervals)/2:])
	t.intervals = t.intervals[:0]
	if st <= 0 {
		return false
	}
	t.sampleTime = st
	t.setPoint = setPoint

	size := int(math.Round(float64(t.cfg.Lookback) / float64(st)))
	t.inputs = newRing[sample](size)
	return true
}

func (t *Tuner) start() {
	t.inputs.clear()
	t.peaks.clear()
	t.peakType = 0
	t.peakCount = 0
	t.amplitude = 0
	t.ku, t.pu = 0, 0
	t.initialOutput = 0
	t.state = StateStepUp
}

// converged measures the induced amplitude over the peak window and
// reports whether successive swings agree within tolerance. The sum runs
// over the first len-2 swings only and is halved, giving half the mean
// peak-to-peak swing.
func (t *Tuner) converged() bool {
	n := t.peaks.len()
	ref := t.peaks.at(n - 2).value
	hi, lo := ref, ref
	var sum float64
	for i := 0; i < n-2; i++ {
		v := t.peaks.at(i).value
		sum += math.Abs(v - t.peaks.at(i+1).value)
		hi = math.Max(hi, v)
		lo = math.Min(lo, v)
	}
	t.amplitude = sum / float64(2*(n-2))
	if t.amplitude == 0 {
		return false
	}
	dev := (0.5*(hi-lo) - t.amplitude) / t.amplitude
	return dev < PeakAmplitudeTolerance
}

// Reset returns the tuner to StateOff, keeping the measured sample time.
func (t *Tuner) Reset() {
	t.state = StateOff
	t.output = clamp(0, t.cfg.OutMin, t.cfg.OutMax)
}

// Params applies rule to the measured Ku and Pu.
func (t *Tuner) Params(rule Rule) (Params, error) {
	return Compute(rule, t.ku, t.pu)
}

func (t *Tuner) State() State { return t.state }

func (t *Tuner) Output() float64 { return t.output }

// Ku is the ultimate gain; zero until success.
func (t *Tuner) Ku() float64 { return t.ku }

// Pu is the ultimate period in seconds; zero until success.
func (t *Tuner) Pu() float64 { return t.pu }

func (t *Tuner) PeakCount() int { return t.peakCount }

// Amplitude is the last induced amplitude estimate.
func (t *Tuner) Amplitude() float64 { return t.amplitude }

// SampleTime is zero while bootstrapping.
func (t *Tuner) SampleTime() time.Duration { return t.sampleTime }

func (t *Tuner) SetPoint() float64 { return t.setPoint }

func (t *Tuner) Step() float64 { return t.cfg.OutStep }

func (t *Tuner) Noiseband() float64 { return t.cfg.Noiseband }

// BufferLength is the capacity of the input ring.
func (t *Tuner) BufferLength() int { return t.inputs.capacity() }

// BufferFill is the filled fraction of the input ring, in [0, 1].
func (t *Tuner) BufferFill() float64 {
	return float64(t.inputs.len()) / float64(t.inputs.capacity())
}

func median(ds []time.Duration) time.Duration {
	s := append([]time.Duration(nil), ds...)
	sort.Slice(s, func(i, j int) bool { return s[i] < s[j] })
	n := len(s)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
