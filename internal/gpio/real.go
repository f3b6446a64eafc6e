//go:build linux

package gpio

import (
	"context"
	"fmt"
	"sync"

	"github.com/warthog618/go-gpiocdev"
)

// RealRelay switches an output line on actual hardware.
type RealRelay struct {
	mu   sync.Mutex
	chip *gpiocdev.Chip
	line *gpiocdev.Line
	pin  int
	on   bool
}

// NewRealRelay requests pin on chip as an output, initially off. With
// activeLow the line is driven low for on, as most relay boards expect.
func NewRealRelay(chipName string, pin int, activeLow bool) (*RealRelay, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	opts := []gpiocdev.LineReqOption{gpiocdev.AsOutput(0), gpiocdev.WithConsumer(Consumer)}
	if activeLow {
		opts = append(opts, gpiocdev.AsActiveLow)
	}
	line, err := chip.RequestLine(pin, opts...)
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request relay pin %d: %w", pin, err)
	}

	return &RealRelay{chip: chip, line: line, pin: pin}, nil
}

func (r *RealRelay) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.on
}

func (r *RealRelay) TurnOn(ctx context.Context) error { return r.set(true) }

func (r *RealRelay) TurnOff(ctx context.Context) error { return r.set(false) }

func (r *RealRelay) SetValue(ctx context.Context, v float64) error { return r.set(v > 0) }

func (r *RealRelay) set(on bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v := 0
	if on {
		v = 1
	}
	if err := r.line.SetValue(v); err != nil {
		return fmt.Errorf("set relay pin %d: %w", r.pin, err)
	}
	r.on = on
	return nil
}

// Close turns the relay off, then returns the pin to an input with
// pull-down so the relay stays released across reboot.
func (r *RealRelay) Close() error {
	var errs []error

	if r.line != nil {
		if err := r.set(false); err != nil {
			errs = append(errs, err)
		}
		if err := r.line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure relay pin: %w", err))
		}
		if err := r.line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close relay pin: %w", err))
		}
	}
	if r.chip != nil {
		if err := r.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
