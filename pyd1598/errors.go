package pyd1598

import (
	"errors"
	"fmt"
)

// Error classes. Every error returned by this package matches exactly one of
// them with errors.Is.
var (
	ErrInvalidArgument = errors.New("pyd1598: invalid argument")
	ErrDevice          = errors.New("pyd1598: device error")
	ErrIO              = errors.New("pyd1598: i/o error")
	ErrInvalidState    = errors.New("pyd1598: invalid state")
)

// LineError reports a failed pin capability call.
type LineError struct {
	Line string // "serial-in" or "direct-link"
	Op   string
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("pyd1598: %s %s: %v", e.Line, e.Op, e.Err)
}

func (e *LineError) Unwrap() []error {
	return []error{ErrDevice, e.Err}
}

// MismatchError indicates that the configuration read back from the sensor
// differs from the configuration the driver expects it to run.
type MismatchError struct {
	Want Config
	Got  Config
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("pyd1598: configuration readback mismatch: want %s, got %s (diff 0x%07X)",
		e.Want, e.Got, uint32(e.Want^e.Got))
}

func (e *MismatchError) Is(target error) bool {
	return target == ErrIO
}

func rangeError(f field, v, max int) error {
	return fmt.Errorf("%w: %s %d out of range 0-%d", ErrInvalidArgument, f.name, v, max)
}

func modeError(op string, mode OperationMode) error {
	return fmt.Errorf("%w: %s requires %s mode, configured %s", ErrInvalidState, op, WakeUp, mode)
}
