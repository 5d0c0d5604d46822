package plugins

import (
	"fmt"
	"strings"

	"github.com/linht/pir-manager/pyd1598"
)

// FieldInfo describes one configuration register field for the UI
type FieldInfo struct {
	Name        string   `json:"name"`
	Bits        string   `json:"bits"`
	Min         int      `json:"min"`
	Max         int      `json:"max"`
	Values      []string `json:"values,omitempty"`
	Default     string   `json:"default"`
	Description string   `json:"description"`
}

// RegisterFields lists the PYD1598 configuration fields, MSB first
var RegisterFields = []FieldInfo{
	{"threshold", "24:17", 0, 255, nil, "31", "Detection threshold on the band-pass filtered signal"},
	{"blind_time", "16:13", 0, 15, nil, "6", "Time after an event during which motion is ignored (0.5s + 0.5s * value)"},
	{"pulse_counter", "12:11", 0, 3, nil, "0", "Threshold crossings needed inside the window (1 + value)"},
	{"window_time", "10:9", 0, 3, nil, "0", "Pulse counting window (2s + 2s * value)"},
	{"operation_mode", "8:7", 0, 2, []string{"forced", "wake-up"}, "wake-up", "Forced readout or wake-up on motion"},
	{"signal_source", "6:5", 0, 3, []string{"bpf", "lpf", "temperature"}, "lpf", "Signal reported in the measurement"},
	{"reserved", "4:3", 2, 2, nil, "2", "Must be 2"},
	{"hpf_cutoff", "2", 0, 1, []string{"0.4hz", "0.2hz"}, "0.4hz", "High-pass cut-off of the band-pass filter"},
	{"reserved", "1", 0, 0, nil, "0", "Must be 0"},
	{"count_mode", "0", 0, 1, []string{"without-sign-change", "all"}, "all", "Count crossings with or without band-pass sign change"},
}

// ProfileConfig is a partial sensor configuration. Nil or empty fields are
// left unchanged when applied.
type ProfileConfig struct {
	Threshold     *int   `yaml:"threshold" json:"threshold,omitempty"`
	BlindTime     *int   `yaml:"blind_time" json:"blind_time,omitempty"`
	PulseCounter  *int   `yaml:"pulse_counter" json:"pulse_counter,omitempty"`
	WindowTime    *int   `yaml:"window_time" json:"window_time,omitempty"`
	OperationMode string `yaml:"operation_mode" json:"operation_mode,omitempty"`
	SignalSource  string `yaml:"signal_source" json:"signal_source,omitempty"`
	HPFCutoff     string `yaml:"hpf_cutoff" json:"hpf_cutoff,omitempty"`
	CountMode     string `yaml:"count_mode" json:"count_mode,omitempty"`
}

// Apply writes the set fields of the profile into the desired register of d.
// Fields are applied in register order; the first invalid one aborts.
func (p ProfileConfig) Apply(d *pyd1598.Device) error {
	ints := []struct {
		v   *int
		set func(int) error
	}{
		{p.Threshold, d.SetThreshold},
		{p.BlindTime, d.SetBlindTime},
		{p.PulseCounter, d.SetPulseCounter},
		{p.WindowTime, d.SetWindowTime},
	}
	for _, f := range ints {
		if f.v == nil {
			continue
		}
		if err := f.set(*f.v); err != nil {
			return err
		}
	}

	if p.OperationMode != "" {
		m, err := ParseOperationMode(p.OperationMode)
		if err != nil {
			return err
		}
		if err := d.SetOperationMode(m); err != nil {
			return err
		}
	}
	if p.SignalSource != "" {
		s, err := ParseSignalSource(p.SignalSource)
		if err != nil {
			return err
		}
		if err := d.SetSignalSource(s); err != nil {
			return err
		}
	}
	if p.HPFCutoff != "" {
		h, err := ParseHPFCutoff(p.HPFCutoff)
		if err != nil {
			return err
		}
		if err := d.SetHPFCutoff(h); err != nil {
			return err
		}
	}
	if p.CountMode != "" {
		c, err := ParseCountMode(p.CountMode)
		if err != nil {
			return err
		}
		if err := d.SetCountMode(c); err != nil {
			return err
		}
	}
	return nil
}

// ParseOperationMode accepts "forced" and "wake-up"
func ParseOperationMode(s string) (pyd1598.OperationMode, error) {
	switch strings.ToLower(s) {
	case "forced", "forced-readout":
		return pyd1598.ForcedReadout, nil
	case "wake-up", "wakeup":
		return pyd1598.WakeUp, nil
	}
	return 0, fmt.Errorf("%w: operation_mode %q, use forced or wake-up", pyd1598.ErrInvalidArgument, s)
}

func ParseSignalSource(s string) (pyd1598.SignalSource, error) {
	switch strings.ToLower(s) {
	case "bpf", "band-pass":
		return pyd1598.SourceBandPass, nil
	case "lpf", "low-pass":
		return pyd1598.SourceLowPass, nil
	case "temperature", "temp":
		return pyd1598.SourceTemperature, nil
	}
	return 0, fmt.Errorf("%w: signal_source %q, use bpf, lpf or temperature", pyd1598.ErrInvalidArgument, s)
}

func ParseHPFCutoff(s string) (pyd1598.HPFCutoff, error) {
	switch strings.ToLower(s) {
	case "0.4hz", "0.4":
		return pyd1598.HPF400mHz, nil
	case "0.2hz", "0.2":
		return pyd1598.HPF200mHz, nil
	}
	return 0, fmt.Errorf("%w: hpf_cutoff %q, use 0.4hz or 0.2hz", pyd1598.ErrInvalidArgument, s)
}

func ParseCountMode(s string) (pyd1598.CountMode, error) {
	switch strings.ToLower(s) {
	case "all":
		return pyd1598.CountAll, nil
	case "without-sign-change":
		return pyd1598.CountWithoutSignChange, nil
	}
	return 0, fmt.Errorf("%w: count_mode %q, use all or without-sign-change", pyd1598.ErrInvalidArgument, s)
}

// ConfigView is the JSON form of a configuration register
type ConfigView struct {
	Raw           string `json:"raw"`
	Threshold     uint8  `json:"threshold"`
	BlindTime     uint8  `json:"blind_time"`
	PulseCounter  uint8  `json:"pulse_counter"`
	WindowTime    uint8  `json:"window_time"`
	OperationMode string `json:"operation_mode"`
	SignalSource  string `json:"signal_source"`
	HPFCutoff     string `json:"hpf_cutoff"`
	CountMode     string `json:"count_mode"`
	BlindSeconds  string `json:"blind"`
	WindowSeconds string `json:"window"`
	Pulses        int    `json:"pulses"`
}

func NewConfigView(c pyd1598.Config) ConfigView {
	return ConfigView{
		Raw:           c.String(),
		Threshold:     c.Threshold(),
		BlindTime:     c.BlindTime(),
		PulseCounter:  c.PulseCounter(),
		WindowTime:    c.WindowTime(),
		OperationMode: c.OperationMode().String(),
		SignalSource:  c.SignalSource().String(),
		HPFCutoff:     c.HPFCutoff().String(),
		CountMode:     c.CountMode().String(),
		BlindSeconds:  c.BlindDuration().String(),
		WindowSeconds: c.WindowDuration().String(),
		Pulses:        c.Pulses(),
	}
}

// ReadingView is the JSON form of a reading
type ReadingView struct {
	Source     string `json:"source"`
	Value      int32  `json:"value"`
	Raw        uint16 `json:"raw"`
	OutOfRange bool   `json:"out_of_range"`
}

func NewReadingView(r pyd1598.Reading) ReadingView {
	return ReadingView{
		Source:     r.Source.String(),
		Value:      r.Value,
		Raw:        r.Raw,
		OutOfRange: r.OutOfRange,
	}
}

// ProfileFromConfig returns a profile with every field of c set, using the
// same names ProfileConfig.Apply accepts.
func ProfileFromConfig(c pyd1598.Config) ProfileConfig {
	threshold := int(c.Threshold())
	blind := int(c.BlindTime())
	pulses := int(c.PulseCounter())
	window := int(c.WindowTime())

	p := ProfileConfig{
		Threshold:     &threshold,
		BlindTime:     &blind,
		PulseCounter:  &pulses,
		WindowTime:    &window,
		OperationMode: "forced",
		SignalSource:  "lpf",
		HPFCutoff:     "0.4hz",
		CountMode:     "all",
	}
	if c.OperationMode() == pyd1598.WakeUp {
		p.OperationMode = "wake-up"
	}
	switch c.SignalSource() {
	case pyd1598.SourceBandPass:
		p.SignalSource = "bpf"
	case pyd1598.SourceTemperature:
		p.SignalSource = "temperature"
	}
	if c.HPFCutoff() == pyd1598.HPF200mHz {
		p.HPFCutoff = "0.2hz"
	}
	if c.CountMode() == pyd1598.CountWithoutSignChange {
		p.CountMode = "without-sign-change"
	}
	return p
}
