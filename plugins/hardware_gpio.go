package plugins

import (
	"errors"
	"fmt"
	"sync"

	"github.com/warthog618/go-gpiocdev"

	"github.com/linht/pir-manager/pyd1598"
)

// ChardevBackend opens sensor lines through the Linux GPIO character device
type ChardevBackend struct {
	mu       sync.Mutex
	chip     *gpiocdev.Chip
	chipPath string
	lines    []*gpiocdev.Line
	host     *SpinHost
}

// NewChardevBackend opens the GPIO chip
func NewChardevBackend(chipPath string, realtime bool) (*ChardevBackend, error) {
	if chipPath == "" {
		chipPath = "gpiochip0"
	}

	chip, err := gpiocdev.NewChip(chipPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open GPIO chip %s: %w", chipPath, err)
	}

	return &ChardevBackend{
		chip:     chip,
		chipPath: chipPath,
		host:     NewSpinHost(realtime),
	}, nil
}

func (b *ChardevBackend) Name() string {
	return BackendGPIOCdev
}

// Open requests both offsets as inputs
func (b *ChardevBackend) Open(sensor string, serialIn, directLink int) (Lines, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.chip == nil {
		return Lines{}, fmt.Errorf("GPIO chip %s is closed", b.chipPath)
	}

	si, err := b.chip.RequestLine(
		serialIn,
		gpiocdev.AsInput,
		gpiocdev.WithConsumer("pyd1598-"+sensor+"-si"),
	)
	if err != nil {
		return Lines{}, fmt.Errorf("failed to request serial-in line %d: %w", serialIn, err)
	}

	dl, err := b.chip.RequestLine(
		directLink,
		gpiocdev.AsInput,
		gpiocdev.WithConsumer("pyd1598-"+sensor+"-dl"),
	)
	if err != nil {
		si.Close()
		return Lines{}, fmt.Errorf("failed to request direct-link line %d: %w", directLink, err)
	}

	b.lines = append(b.lines, si, dl)
	return Lines{
		SerialIn:   &chardevPin{line: si},
		DirectLink: &chardevPin{line: dl},
		Host:       b.host,
	}, nil
}

// Close releases all GPIO resources
func (b *ChardevBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var errs []error
	for _, l := range b.lines {
		if err := l.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close line %d: %w", l.Offset(), err))
		}
	}
	b.lines = nil

	if b.chip != nil {
		if err := b.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close GPIO chip: %w", err))
		}
		b.chip = nil
	}
	return errors.Join(errs...)
}

// Info returns information about the GPIO chip
func (b *ChardevBackend) Info() map[string]interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.chip == nil {
		return map[string]interface{}{"path": b.chipPath, "closed": true}
	}
	return map[string]interface{}{
		"name":  b.chip.Name,
		"label": b.chip.Label,
		"path":  b.chipPath,
		"lines": len(b.lines),
	}
}

// chardevPin switches direction with a line reconfigure, which keeps the
// line requested while it floats.
type chardevPin struct {
	line *gpiocdev.Line
}

func levelValue(l pyd1598.Level) int {
	if l {
		return 1
	}
	return 0
}

func (p *chardevPin) Out(l pyd1598.Level) error {
	return p.line.Reconfigure(gpiocdev.AsOutput(levelValue(l)))
}

func (p *chardevPin) In() error {
	return p.line.Reconfigure(gpiocdev.AsInput)
}

func (p *chardevPin) Set(l pyd1598.Level) error {
	return p.line.SetValue(levelValue(l))
}

func (p *chardevPin) Read() (pyd1598.Level, error) {
	v, err := p.line.Value()
	if err != nil {
		return pyd1598.Low, err
	}
	return v == 1, nil
}
