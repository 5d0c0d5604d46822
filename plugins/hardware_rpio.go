package plugins

import (
	"fmt"
	"sync"

	"github.com/stianeikeland/go-rpio/v4"

	"github.com/linht/pir-manager/pyd1598"
)

// RPIOBackend drives the Raspberry Pi GPIO registers through /dev/gpiomem.
// Offsets are BCM pin numbers.
type RPIOBackend struct {
	mu   sync.Mutex
	pins []rpio.Pin
	host *SpinHost
}

func NewRPIOBackend(realtime bool) (*RPIOBackend, error) {
	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("failed to open rpio: %w", err)
	}
	return &RPIOBackend{host: NewSpinHost(realtime)}, nil
}

func (b *RPIOBackend) Name() string {
	return BackendRPIO
}

func (b *RPIOBackend) Open(sensor string, serialIn, directLink int) (Lines, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, offset := range []int{serialIn, directLink} {
		if offset < 0 || offset > 53 {
			return Lines{}, fmt.Errorf("%s: BCM pin %d out of range", sensor, offset)
		}
	}

	si, dl := rpio.Pin(serialIn), rpio.Pin(directLink)
	for _, p := range []rpio.Pin{si, dl} {
		p.Input()
		p.PullOff()
	}
	b.pins = append(b.pins, si, dl)

	return Lines{
		SerialIn:   rpioPin(si),
		DirectLink: rpioPin(dl),
		Host:       b.host,
	}, nil
}

func (b *RPIOBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, p := range b.pins {
		p.Input()
	}
	b.pins = nil
	return rpio.Close()
}

// rpioPin cannot fail once the register block is mapped
type rpioPin rpio.Pin

func rpioState(l pyd1598.Level) rpio.State {
	if l {
		return rpio.High
	}
	return rpio.Low
}

func (p rpioPin) Out(l pyd1598.Level) error {
	pin := rpio.Pin(p)
	pin.Write(rpioState(l))
	pin.Output()
	return nil
}

func (p rpioPin) In() error {
	rpio.Pin(p).Input()
	return nil
}

func (p rpioPin) Set(l pyd1598.Level) error {
	rpio.Pin(p).Write(rpioState(l))
	return nil
}

func (p rpioPin) Read() (pyd1598.Level, error) {
	return rpio.Pin(p).Read() == rpio.High, nil
}
