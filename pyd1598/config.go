package pyd1598

import (
	"fmt"
	"time"
)

// OperationMode selects how the sensor reports.
type OperationMode uint8

const (
	ForcedReadout OperationMode = 0
	// InterruptReadout is a valid hardware encoding that this driver never
	// produces; SetOperationMode rejects it.
	InterruptReadout OperationMode = 1
	WakeUp           OperationMode = 2
)

func (m OperationMode) String() string {
	switch m {
	case ForcedReadout:
		return "forced-readout"
	case InterruptReadout:
		return "interrupt-readout"
	case WakeUp:
		return "wake-up"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// SignalSource selects the signal reported in the measurement.
type SignalSource uint8

const (
	SourceBandPass    SignalSource = 0
	SourceLowPass     SignalSource = 1
	SourceTemperature SignalSource = 3
)

func (s SignalSource) String() string {
	switch s {
	case SourceBandPass:
		return "band-pass"
	case SourceLowPass:
		return "low-pass"
	case SourceTemperature:
		return "temperature"
	default:
		return fmt.Sprintf("source(%d)", uint8(s))
	}
}

// HPFCutoff is the high-pass filter cut-off of the band-pass filter.
type HPFCutoff uint8

const (
	HPF400mHz HPFCutoff = 0
	HPF200mHz HPFCutoff = 1
)

func (h HPFCutoff) String() string {
	switch h {
	case HPF400mHz:
		return "0.4Hz"
	case HPF200mHz:
		return "0.2Hz"
	default:
		return fmt.Sprintf("hpf(%d)", uint8(h))
	}
}

// CountMode selects which threshold crossings the pulse counter counts.
type CountMode uint8

const (
	CountWithoutSignChange CountMode = 0
	CountAll               CountMode = 1
)

func (m CountMode) String() string {
	switch m {
	case CountWithoutSignChange:
		return "without-bpf-sign-change"
	case CountAll:
		return "all"
	default:
		return fmt.Sprintf("count(%d)", uint8(m))
	}
}

// Factory profile applied by SetDefaults.
var DefaultFields = Fields{
	Threshold:     31,
	BlindTime:     6,
	PulseCounter:  0,
	WindowTime:    0,
	OperationMode: WakeUp,
	SignalSource:  SourceLowPass,
	HPFCutoff:     HPF400mHz,
	CountMode:     CountAll,
}

// Validate checks every field of f against its documented range.
func (f Fields) Validate() error {
	checks := []struct {
		f   field
		v   int
		max int
	}{
		{fieldThreshold, int(f.Threshold), 255},
		{fieldBlindTime, int(f.BlindTime), 15},
		{fieldPulseCounter, int(f.PulseCounter), 3},
		{fieldWindowTime, int(f.WindowTime), 3},
	}
	for _, c := range checks {
		if c.v > c.max {
			return rangeError(c.f, c.v, c.max)
		}
	}
	if err := checkMode(f.OperationMode); err != nil {
		return err
	}
	if err := checkSource(f.SignalSource); err != nil {
		return err
	}
	if f.HPFCutoff > HPF200mHz {
		return rangeError(fieldHPF, int(f.HPFCutoff), 1)
	}
	if f.CountMode > CountAll {
		return rangeError(fieldCountMode, int(f.CountMode), 1)
	}
	return nil
}

func checkMode(m OperationMode) error {
	if m != ForcedReadout && m != WakeUp {
		return fmt.Errorf("%w: operation_mode %s not supported", ErrInvalidArgument, m)
	}
	return nil
}

func checkSource(s SignalSource) error {
	if s != SourceBandPass && s != SourceLowPass && s != SourceTemperature {
		return fmt.Errorf("%w: signal_source %s not supported", ErrInvalidArgument, s)
	}
	return nil
}

func (d *Device) setField(f field, v, max int) error {
	if v < 0 || v > max {
		return rangeError(f, v, max)
	}
	d.desired = d.desired.with(f, uint32(v))
	return nil
}

// SetThreshold sets the detection threshold, 0-255.
func (d *Device) SetThreshold(v int) error { return d.setField(fieldThreshold, v, 255) }

// SetBlindTime sets the blind time, 0-15 (0.5 s + 0.5 s * v).
func (d *Device) SetBlindTime(v int) error { return d.setField(fieldBlindTime, v, 15) }

// SetPulseCounter sets the pulse counter, 0-3 (1 + v pulses).
func (d *Device) SetPulseCounter(v int) error { return d.setField(fieldPulseCounter, v, 3) }

// SetWindowTime sets the window time, 0-3 (2 s + 2 s * v).
func (d *Device) SetWindowTime(v int) error { return d.setField(fieldWindowTime, v, 3) }

// SetOperationMode accepts ForcedReadout and WakeUp.
func (d *Device) SetOperationMode(m OperationMode) error {
	if err := checkMode(m); err != nil {
		return err
	}
	d.desired = d.desired.with(fieldMode, uint32(m))
	return nil
}

func (d *Device) SetSignalSource(s SignalSource) error {
	if err := checkSource(s); err != nil {
		return err
	}
	d.desired = d.desired.with(fieldSource, uint32(s))
	return nil
}

func (d *Device) SetHPFCutoff(h HPFCutoff) error {
	if h > HPF200mHz {
		return rangeError(fieldHPF, int(h), 1)
	}
	d.desired = d.desired.with(fieldHPF, uint32(h))
	return nil
}

func (d *Device) SetCountMode(m CountMode) error {
	if m > CountAll {
		return rangeError(fieldCountMode, int(m), 1)
	}
	d.desired = d.desired.with(fieldCountMode, uint32(m))
	return nil
}

// SetFields validates f and replaces the whole desired register.
func (d *Device) SetFields(f Fields) error {
	if err := f.Validate(); err != nil {
		return err
	}
	d.desired = Pack(f)
	return nil
}

// SetDefaults applies the factory profile.
func (d *Device) SetDefaults() {
	d.desired = Pack(DefaultFields)
}

func (d *Device) Threshold() uint8             { return d.desired.Threshold() }
func (d *Device) BlindTime() uint8             { return d.desired.BlindTime() }
func (d *Device) PulseCounter() uint8          { return d.desired.PulseCounter() }
func (d *Device) WindowTime() uint8            { return d.desired.WindowTime() }
func (d *Device) OperationMode() OperationMode { return d.desired.OperationMode() }
func (d *Device) SignalSource() SignalSource   { return d.desired.SignalSource() }
func (d *Device) HPFCutoff() HPFCutoff         { return d.desired.HPFCutoff() }
func (d *Device) CountMode() CountMode         { return d.desired.CountMode() }

// BlindDuration is the blind time as a duration.
func (c Config) BlindDuration() time.Duration {
	return 500*time.Millisecond + time.Duration(c.BlindTime())*500*time.Millisecond
}

// WindowDuration is the window time as a duration.
func (c Config) WindowDuration() time.Duration {
	return 2*time.Second + time.Duration(c.WindowTime())*2*time.Second
}

// Pulses is the number of pulses needed to raise an event.
func (c Config) Pulses() int {
	return 1 + int(c.PulseCounter())
}

// ValidateReadback compares the last fetched readback with the desired
// configuration. It returns a *MismatchError when they differ.
func (d *Device) ValidateReadback() error {
	if !d.fetched {
		return fmt.Errorf("%w: no frame fetched", ErrInvalidState)
	}
	if d.readback != d.desired {
		return &MismatchError{Want: d.desired, Got: d.readback}
	}
	return nil
}
