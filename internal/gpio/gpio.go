// Package gpio drives a heater or cooler relay from a GPIO output line.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

import "context"

// Relay is a binary output. It satisfies thermostat.Actuator.
type Relay interface {
	// Active returns the last commanded logical state.
	Active() bool

	TurnOn(ctx context.Context) error
	TurnOff(ctx context.Context) error

	// SetValue switches on for any positive value.
	SetValue(ctx context.Context, v float64) error

	// Close drives the line off and releases it.
	Close() error
}

// DefaultChip is the Raspberry Pi header chip.
const DefaultChip = "gpiochip0"

// Consumer labels requested lines in gpioinfo.
const Consumer = "smart-thermostat"
