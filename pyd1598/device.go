// Package pyd1598 drives an Excelitas PYD1598 passive infrared sensor over its
// two dedicated lines.
//
// The serial-in line carries the 25-bit configuration word from the host to
// the sensor. The direct-link line is bidirectional: the host clocks a 40-bit
// frame (measurement followed by a readback of the configuration) out of it,
// and in wake-up mode the sensor raises it to signal a motion event.
//
// Both transfers are bit-banged with microsecond timing, so the package
// depends on an injected Host for busy-waits and critical sections, and on
// two injected Pins. A Device is not safe for concurrent use.
package pyd1598

import (
	"fmt"
	"log/slog"
	"time"
)

// Level is a digital line level.
type Level bool

const (
	Low  Level = false
	High Level = true
)

func (l Level) String() string {
	if l {
		return "high"
	}
	return "low"
}

// Pin is one digital line exclusively owned by a Device.
type Pin interface {
	// Out configures the pin as an output driving l.
	Out(l Level) error

	// In configures the pin as a high-impedance input.
	In() error

	// Set drives an output pin to l.
	Set(l Level) error

	// Read samples the current level.
	Read() (Level, error)
}

// Host provides the platform timing primitives.
type Host interface {
	// Delay busy-waits for d. It must not yield to a scheduler.
	Delay(d time.Duration)

	// Critical runs fn with preemption suppressed and returns its error.
	Critical(fn func() error) error
}

// Line names used in errors and logs
const (
	LineSerialIn   = "serial-in"
	LineDirectLink = "direct-link"
)

// Device holds the state of one sensor.
type Device struct {
	serialIn   Pin
	directLink Pin
	host       Host
	logger     *slog.Logger

	desired       Config
	readback      Config
	readbackValid bool
	fetched       bool

	measurement Measurement
	measured    bool
	measuredAs  SignalSource
}

// Option configures a Device.
type Option func(*Device)

// WithLogger sets the logger used for protocol debug output.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Device) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithConfig sets the initial desired configuration. Reserved bits are forced;
// New rejects a register whose fields are not accepted by the setters.
func WithConfig(c Config) Option {
	return func(d *Device) {
		d.desired = c.forceReserved()
	}
}

// New returns a Device driving serialIn and directLink. The desired
// configuration starts as ReservedOnly; nothing is sent to the sensor until
// Push is called.
func New(serialIn, directLink Pin, host Host, opts ...Option) (*Device, error) {
	if serialIn == nil || directLink == nil {
		return nil, fmt.Errorf("%w: nil pin", ErrInvalidArgument)
	}
	if host == nil {
		return nil, fmt.Errorf("%w: nil host", ErrInvalidArgument)
	}
	if serialIn == directLink {
		return nil, fmt.Errorf("%w: serial-in and direct-link share a pin", ErrInvalidArgument)
	}

	d := &Device{
		serialIn:   serialIn,
		directLink: directLink,
		host:       host,
		logger:     slog.Default(),
		desired:    ReservedOnly,
	}
	for _, opt := range opts {
		opt(d)
	}
	if err := Unpack(d.desired).Validate(); err != nil {
		return nil, fmt.Errorf("initial configuration %s: %w", d.desired, err)
	}
	return d, nil
}

// Desired returns the configuration the driver wants the sensor to run.
func (d *Device) Desired() Config {
	return d.desired
}

// Readback returns the configuration decoded from the last fetched frame and
// whether it matched the desired configuration at that time. ok is false
// until a frame has been fetched.
func (d *Device) Readback() (c Config, valid bool, ok bool) {
	return d.readback, d.readbackValid, d.fetched
}

// Measurement returns the last successfully fetched measurement.
func (d *Device) Measurement() (Measurement, bool) {
	return d.measurement, d.measured
}
