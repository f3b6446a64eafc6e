//go:build !linux

package gpio

import (
	"context"
	"errors"
)

var errUnsupported = errors.New("gpio: not supported on this platform (requires Linux)")

// RealRelay is not available on non-Linux platforms.
type RealRelay struct{}

// NewRealRelay returns an error on non-Linux platforms.
func NewRealRelay(chipName string, pin int, activeLow bool) (*RealRelay, error) {
	return nil, errUnsupported
}

func (r *RealRelay) Active() bool { return false }

func (r *RealRelay) TurnOn(ctx context.Context) error { return errUnsupported }

func (r *RealRelay) TurnOff(ctx context.Context) error { return errUnsupported }

func (r *RealRelay) SetValue(ctx context.Context, v float64) error { return errUnsupported }

func (r *RealRelay) Close() error { return nil }
