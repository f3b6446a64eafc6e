package mqtt

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// ActuatorConfig describes a device driven through the broker.
type ActuatorConfig struct {
	Topic      string // command topic
	StateTopic string // optional; device reports its state here
	PayloadOn  string
	PayloadOff string
	Retained   bool
	// MinRefresh bounds how often an unchanged command is resent.
	// Zero resends every time.
	MinRefresh time.Duration
	Now        func() time.Time
}

// Actuator drives a switch or valve by publishing commands. It satisfies
// thermostat.Actuator.
type Actuator struct {
	pub     Publisher
	cfg     ActuatorConfig
	limiter *rate.Limiter

	mu    sync.Mutex
	on    bool
	value float64
}

// NewActuator creates an actuator publishing through pub.
func NewActuator(pub Publisher, cfg ActuatorConfig) *Actuator {
	if cfg.PayloadOn == "" {
		cfg.PayloadOn = "ON"
	}
	if cfg.PayloadOff == "" {
		cfg.PayloadOff = "OFF"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	limit := rate.Inf
	if cfg.MinRefresh > 0 {
		limit = rate.Every(cfg.MinRefresh)
	}
	return &Actuator{
		pub:     pub,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Active reports the last commanded or reported state.
func (a *Actuator) Active() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.on
}

// Value returns the last value sent with SetValue.
func (a *Actuator) Value() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.value
}

// TurnOn publishes the on payload.
func (a *Actuator) TurnOn(ctx context.Context) error {
	return a.command(ctx, true, a.cfg.PayloadOn)
}

// TurnOff publishes the off payload.
func (a *Actuator) TurnOff(ctx context.Context) error {
	return a.command(ctx, false, a.cfg.PayloadOff)
}

// SetValue publishes v as a decimal string. The device counts as active
// while v is non-zero.
func (a *Actuator) SetValue(ctx context.Context, v float64) error {
	a.mu.Lock()
	same := v == a.value && a.on == (v != 0)
	a.mu.Unlock()
	if err := a.send(ctx, same, strconv.FormatFloat(v, 'f', -1, 64)); err != nil {
		return err
	}
	a.mu.Lock()
	a.value = v
	a.on = v != 0
	a.mu.Unlock()
	return nil
}

func (a *Actuator) command(ctx context.Context, on bool, payload string) error {
	a.mu.Lock()
	same := a.on == on
	a.mu.Unlock()
	if err := a.send(ctx, same, payload); err != nil {
		return err
	}
	a.mu.Lock()
	a.on = on
	a.mu.Unlock()
	return nil
}

// send publishes unless this is an unchanged command inside the refresh window.
func (a *Actuator) send(ctx context.Context, unchanged bool, payload string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	allowed := a.limiter.AllowN(a.cfg.Now(), 1)
	if unchanged && !allowed {
		log.Debug().Str("topic", a.cfg.Topic).Msg("skip refresh")
		return nil
	}
	return a.pub.Publish(a.cfg.Topic, 1, a.cfg.Retained, []byte(payload))
}

// HandleState tracks the state the device reports on its state topic.
func (a *Actuator) HandleState(_ string, payload []byte) {
	p := strings.TrimSpace(string(payload))
	a.mu.Lock()
	defer a.mu.Unlock()
	switch {
	case strings.EqualFold(p, a.cfg.PayloadOn):
		a.on = true
	case strings.EqualFold(p, a.cfg.PayloadOff):
		a.on = false
	default:
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			log.Debug().Str("topic", a.cfg.StateTopic).Str("payload", p).Msg("unrecognised device state")
			return
		}
		a.value = v
		a.on = v != 0
	}
}

// Subscribe follows the device's state topic, if one is configured.
func (a *Actuator) Subscribe(sub Subscriber) error {
	if a.cfg.StateTopic == "" {
		return nil
	}
	return sub.Subscribe(a.cfg.StateTopic, a.HandleState)
}
