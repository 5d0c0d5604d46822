package plugins

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/linht/pir-manager/pyd1598"
	"github.com/linht/pir-manager/pyd1598/sim"
)

// SimBackend runs every sensor against a simulated PYD1598 so the manager
// works without hardware. Each sensor gets its own model and virtual clock.
type SimBackend struct {
	mu            sync.Mutex
	sensors       map[string]*sim.Sensor
	order         []string
	eventInterval time.Duration
	start         time.Time
}

func NewSimBackend(eventInterval time.Duration) *SimBackend {
	return &SimBackend{
		sensors:       make(map[string]*sim.Sensor),
		eventInterval: eventInterval,
		start:         time.Now(),
	}
}

func (b *SimBackend) Name() string {
	return BackendSim
}

func (b *SimBackend) Open(sensor string, serialIn, directLink int) (Lines, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.sensors[sensor]; exists {
		return Lines{}, fmt.Errorf("simulated sensor %s already open", sensor)
	}

	s := sim.New()
	phase := float64(len(b.order))
	s.SetSignal(func() pyd1598.Measurement {
		// slow drift around mid-scale with a little noise
		t := time.Since(b.start).Seconds()
		v := 8192 + 600*math.Sin(t/7+phase) + rand.NormFloat64()*20
		return pyd1598.Measurement{Count: uint16(v) & 0x3FFF}
	})

	b.sensors[sensor] = s
	b.order = append(b.order, sensor)
	return Lines{
		SerialIn:   s.SerialIn(),
		DirectLink: s.DirectLink(),
		Host:       s,
	}, nil
}

func (b *SimBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sensors = make(map[string]*sim.Sensor)
	b.order = nil
	return nil
}

// Inject raises a wake-up event on the named sensor
func (b *SimBackend) Inject(sensor string) error {
	b.mu.Lock()
	s, ok := b.sensors[sensor]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: unknown sensor %s", pyd1598.ErrInvalidArgument, sensor)
	}
	s.Trigger()
	return nil
}

// Model returns the simulated sensor behind name, for tests
func (b *SimBackend) Model(sensor string) (*sim.Sensor, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sensors[sensor]
	return s, ok
}

// Run triggers a random sensor every event interval until ctx is done
func (b *SimBackend) Run(ctx context.Context) {
	if b.eventInterval <= 0 {
		return
	}
	ticker := time.NewTicker(b.eventInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.mu.Lock()
			var name string
			if len(b.order) > 0 {
				name = b.order[rand.Intn(len(b.order))]
			}
			b.mu.Unlock()

			if name != "" {
				slog.Debug("Simulated motion", "sensor", name)
				b.Inject(name)
			}
		}
	}
}
