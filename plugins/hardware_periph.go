package plugins

import (
	"errors"
	"fmt"
	"strconv"
	"sync"

	"periph.io/x/conn/v3/driver/driverreg"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/linht/pir-manager/pyd1598"
)

// PeriphBackend opens sensor lines through the periph.io GPIO registry.
// Offsets are looked up by their GPIO number.
type PeriphBackend struct {
	mu    sync.Mutex
	pins  []gpio.PinIO
	host  *SpinHost
	state *driverreg.State
}

func NewPeriphBackend(realtime bool) (*PeriphBackend, error) {
	state, err := host.Init()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize periph.io: %w", err)
	}
	return &PeriphBackend{
		host:  NewSpinHost(realtime),
		state: state,
	}, nil
}

func (b *PeriphBackend) Name() string {
	return BackendPeriph
}

func (b *PeriphBackend) Open(sensor string, serialIn, directLink int) (Lines, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	si, err := periphPin(serialIn)
	if err != nil {
		return Lines{}, fmt.Errorf("serial-in for %s: %w", sensor, err)
	}
	dl, err := periphPin(directLink)
	if err != nil {
		return Lines{}, fmt.Errorf("direct-link for %s: %w", sensor, err)
	}

	b.pins = append(b.pins, si, dl)
	return Lines{
		SerialIn:   &periphLine{pin: si},
		DirectLink: &periphLine{pin: dl},
		Host:       b.host,
	}, nil
}

func periphPin(offset int) (gpio.PinIO, error) {
	p := gpioreg.ByName(strconv.Itoa(offset))
	if p == nil {
		return nil, fmt.Errorf("GPIO%d not found", offset)
	}
	if err := p.In(gpio.Float, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("failed to set GPIO%d as input: %w", offset, err)
	}
	return p, nil
}

// Close leaves every pin floating
func (b *PeriphBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var errs []error
	for _, p := range b.pins {
		if err := p.In(gpio.Float, gpio.NoEdge); err != nil {
			errs = append(errs, fmt.Errorf("failed to release %s: %w", p.Name(), err))
		}
	}
	b.pins = nil
	return errors.Join(errs...)
}

// Info lists the periph drivers that loaded
func (b *PeriphBackend) Info() map[string]interface{} {
	loaded := make([]string, 0, len(b.state.Loaded))
	for _, d := range b.state.Loaded {
		loaded = append(loaded, d.String())
	}
	return map[string]interface{}{
		"drivers": loaded,
		"pins":    len(b.pins),
	}
}

type periphLine struct {
	pin gpio.PinIO
}

func (p *periphLine) Out(l pyd1598.Level) error {
	return p.pin.Out(gpio.Level(l))
}

func (p *periphLine) In() error {
	return p.pin.In(gpio.Float, gpio.NoEdge)
}

// Set is Out on periph: the pin is already an output, Out only changes the
// level.
func (p *periphLine) Set(l pyd1598.Level) error {
	return p.pin.Out(gpio.Level(l))
}

func (p *periphLine) Read() (pyd1598.Level, error) {
	return pyd1598.Level(p.pin.Read()), nil
}
