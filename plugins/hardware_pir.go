package plugins

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/linht/pir-manager/pyd1598"
)

// SensorConfig describes one sensor and its wiring
type SensorConfig struct {
	Name       string        `yaml:"name"`
	SerialIn   int           `yaml:"serial_in"`
	DirectLink int           `yaml:"direct_link"`
	Profile    ProfileConfig `yaml:"profile"`
}

// PIRSensor is one sensor of the array. The driver device is not safe for
// concurrent use, so every access goes through With.
type PIRSensor struct {
	name       string
	serialIn   int
	directLink int

	mu          sync.Mutex
	dev         *pyd1598.Device
	lastEvent   time.Time
	lastReading *ReadingView
	lastError   error
	events      uint64
	repushes    uint64
}

// Name returns the sensor name
func (s *PIRSensor) Name() string {
	return s.name
}

// With runs fn with exclusive access to the sensor's device. The recorded
// last error is left alone; line transfers report through Transfer or
// noteTransfer.
func (s *PIRSensor) With(fn func(d *pyd1598.Device) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.dev)
}

// Transfer is With for fn that runs a line sequence. Its outcome becomes the
// sensor's last error.
func (s *PIRSensor) Transfer(fn func(d *pyd1598.Device) error) error {
	return s.With(func(d *pyd1598.Device) error {
		return s.noteTransfer(fn(d))
	})
}

// noteTransfer records the outcome of a line sequence and returns err.
// Success clears the last error, device and i/o failures replace it, and
// errors raised before the lines were touched leave it unchanged. Called
// with mu held.
func (s *PIRSensor) noteTransfer(err error) error {
	switch {
	case err == nil:
		s.lastError = nil
	case errors.Is(err, pyd1598.ErrDevice), errors.Is(err, pyd1598.ErrIO):
		s.lastError = err
	}
	return err
}

// Desired returns the sensor's desired configuration
func (s *PIRSensor) Desired() pyd1598.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dev.Desired()
}

// record stores the outcome of a successful fetch. Called with mu held.
func (s *PIRSensor) record(r pyd1598.Reading, event bool, at time.Time) {
	v := NewReadingView(r)
	s.lastReading = &v
	if event {
		s.lastEvent = at
		s.events++
	}
}

// SensorStatus is the JSON status of one sensor
type SensorStatus struct {
	Name          string       `json:"name"`
	SerialIn      int          `json:"serial_in"`
	DirectLink    int          `json:"direct_link"`
	Desired       ConfigView   `json:"desired"`
	Readback      string       `json:"readback,omitempty"`
	ReadbackValid bool         `json:"readback_valid"`
	LastReading   *ReadingView `json:"last_reading,omitempty"`
	LastEvent     string       `json:"last_event,omitempty"`
	Events        uint64       `json:"events"`
	Repushes      uint64       `json:"repushes"`
	LastError     string       `json:"last_error,omitempty"`
}

// Status returns a snapshot of the sensor
func (s *PIRSensor) Status() SensorStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := SensorStatus{
		Name:        s.name,
		SerialIn:    s.serialIn,
		DirectLink:  s.directLink,
		Desired:     NewConfigView(s.dev.Desired()),
		LastReading: s.lastReading,
		Events:      s.events,
		Repushes:    s.repushes,
	}
	if rb, valid, ok := s.dev.Readback(); ok {
		st.Readback = rb.String()
		st.ReadbackValid = valid
	}
	if !s.lastEvent.IsZero() {
		st.LastEvent = humanize.Time(s.lastEvent)
	}
	if s.lastError != nil {
		st.LastError = s.lastError.Error()
	}
	return st
}

// PIRArray is the named, ordered set of sensors of one installation
type PIRArray struct {
	backend LineBackend
	sensors []*PIRSensor
	byName  map[string]*PIRSensor
}

// NewPIRArray opens every configured sensor on backend and applies its
// profile on top of the factory defaults. Nothing is pushed; call
// ConfigureAll for that.
func NewPIRArray(cfgs []SensorConfig, backend LineBackend, logger *slog.Logger) (*PIRArray, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if len(cfgs) == 0 {
		return nil, fmt.Errorf("%w: no sensors configured", pyd1598.ErrInvalidArgument)
	}

	a := &PIRArray{
		backend: backend,
		byName:  make(map[string]*PIRSensor),
	}

	owners := make(map[int]string)
	for _, cfg := range cfgs {
		if cfg.Name == "" {
			return nil, fmt.Errorf("%w: sensor without a name", pyd1598.ErrInvalidArgument)
		}
		if _, dup := a.byName[cfg.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate sensor name %s", pyd1598.ErrInvalidArgument, cfg.Name)
		}
		for _, offset := range []int{cfg.SerialIn, cfg.DirectLink} {
			if owner, taken := owners[offset]; taken {
				return nil, fmt.Errorf("%w: line %d of %s already used by %s",
					pyd1598.ErrInvalidArgument, offset, cfg.Name, owner)
			}
			owners[offset] = cfg.Name
		}

		lines, err := backend.Open(cfg.Name, cfg.SerialIn, cfg.DirectLink)
		if err != nil {
			return nil, fmt.Errorf("failed to open lines for %s: %w", cfg.Name, err)
		}

		dev, err := pyd1598.New(lines.SerialIn, lines.DirectLink, lines.Host,
			pyd1598.WithLogger(logger.With("sensor", cfg.Name)))
		if err != nil {
			return nil, fmt.Errorf("sensor %s: %w", cfg.Name, err)
		}
		dev.SetDefaults()
		if err := cfg.Profile.Apply(dev); err != nil {
			return nil, fmt.Errorf("sensor %s profile: %w", cfg.Name, err)
		}

		s := &PIRSensor{
			name:       cfg.Name,
			serialIn:   cfg.SerialIn,
			directLink: cfg.DirectLink,
			dev:        dev,
		}
		a.sensors = append(a.sensors, s)
		a.byName[cfg.Name] = s

		logger.Info("PIR sensor added",
			"name", cfg.Name,
			"serial_in", cfg.SerialIn,
			"direct_link", cfg.DirectLink,
			"config", dev.Desired().String())
	}
	return a, nil
}

// Count returns the number of sensors
func (a *PIRArray) Count() int {
	return len(a.sensors)
}

// Sensor returns the sensor at index i
func (a *PIRArray) Sensor(i int) (*PIRSensor, error) {
	if i < 0 || i >= len(a.sensors) {
		return nil, fmt.Errorf("%w: sensor index %d out of range 0-%d",
			pyd1598.ErrInvalidArgument, i, len(a.sensors)-1)
	}
	return a.sensors[i], nil
}

func (a *PIRArray) ByName(name string) (*PIRSensor, bool) {
	s, ok := a.byName[name]
	return s, ok
}

// Names returns the sensor names in configuration order
func (a *PIRArray) Names() []string {
	names := make([]string, len(a.sensors))
	for i, s := range a.sensors {
		names[i] = s.name
	}
	return names
}

// ConfigureAll pushes the desired configuration to every sensor. A failing
// sensor does not stop the others.
func (a *PIRArray) ConfigureAll() error {
	var errs []error
	for _, s := range a.sensors {
		if err := s.Transfer((*pyd1598.Device).Push); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}

// AnyTriggered returns the wake-up sensors with a pending event. Sensors in
// forced readout are skipped.
func (a *PIRArray) AnyTriggered() ([]string, error) {
	var (
		triggered []string
		errs      []error
	)
	for _, s := range a.sensors {
		var hit bool
		err := s.With(func(d *pyd1598.Device) error {
			if d.OperationMode() != pyd1598.WakeUp {
				return nil
			}
			var err error
			hit, err = d.Triggered()
			return s.noteTransfer(err)
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
			continue
		}
		if hit {
			triggered = append(triggered, s.name)
		}
	}
	return triggered, errors.Join(errs...)
}

// Statuses returns the status of every sensor in order
func (a *PIRArray) Statuses() []SensorStatus {
	out := make([]SensorStatus, len(a.sensors))
	for i, s := range a.sensors {
		out[i] = s.Status()
	}
	return out
}

// Close releases the backend lines
func (a *PIRArray) Close() error {
	return a.backend.Close()
}
