package plugins

import (
	"fmt"
	"log/slog"

	"github.com/linht/pir-manager/pyd1598"
)

// Backend names
const (
	BackendGPIOCdev = "gpiocdev"
	BackendPeriph   = "periph"
	BackendRPIO     = "rpio"
	BackendSim      = "sim"
)

// Lines are the two sensor lines plus the timing host that drives them
type Lines struct {
	SerialIn   pyd1598.Pin
	DirectLink pyd1598.Pin
	Host       pyd1598.Host
}

// LineBackend opens sensor lines on one GPIO implementation
type LineBackend interface {
	// Name returns the backend identifier
	Name() string

	// Open claims the two line offsets for the named sensor. Both lines are
	// left as inputs.
	Open(sensor string, serialIn, directLink int) (Lines, error)

	// Close releases every line opened through the backend
	Close() error
}

// OpenBackend creates the backend selected in cfg
func OpenBackend(cfg PIRConfig) (LineBackend, error) {
	var (
		b   LineBackend
		err error
	)
	switch cfg.Backend {
	case BackendGPIOCdev, "":
		b, err = NewChardevBackend(cfg.GPIOChip, cfg.Realtime)
	case BackendPeriph:
		b, err = NewPeriphBackend(cfg.Realtime)
	case BackendRPIO:
		b, err = NewRPIOBackend(cfg.Realtime)
	case BackendSim:
		b = NewSimBackend(cfg.SimEventInterval)
	default:
		return nil, fmt.Errorf("unknown GPIO backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	slog.Info("GPIO backend opened", "backend", b.Name(), "realtime", cfg.Realtime)
	return b, nil
}
