package pyd1598

import "fmt"

// Reading is a measurement interpreted for the signal source it was taken with.
type Reading struct {
	Source     SignalSource
	Value      int32 // signed for band-pass, unsigned otherwise
	Raw        uint16
	OutOfRange bool
}

// measurementFor returns the last measurement if it was taken with source
// and source is still the configured one.
func (d *Device) measurementFor(source SignalSource) (Measurement, error) {
	if configured := d.SignalSource(); configured != source {
		return Measurement{}, fmt.Errorf("%w: %s readout requested, signal source is %s",
			ErrInvalidState, source, configured)
	}
	if !d.measured {
		return Measurement{}, fmt.Errorf("%w: no measurement fetched", ErrInvalidState)
	}
	if d.measuredAs != source {
		return Measurement{}, fmt.Errorf("%w: last measurement was taken with %s, fetch again",
			ErrInvalidState, d.measuredAs)
	}
	return d.measurement, nil
}

// BandPass returns the band-pass filtered PIR signal as a signed count.
func (d *Device) BandPass() (count int16, outOfRange bool, err error) {
	m, err := d.measurementFor(SourceBandPass)
	if err != nil {
		return 0, false, err
	}
	return signed14(m.Count), m.OutOfRange, nil
}

// LowPass returns the low-pass filtered PIR signal.
func (d *Device) LowPass() (count uint16, outOfRange bool, err error) {
	m, err := d.measurementFor(SourceLowPass)
	if err != nil {
		return 0, false, err
	}
	return m.Count, m.OutOfRange, nil
}

// Temperature returns the raw temperature sensor count.
func (d *Device) Temperature() (count uint16, outOfRange bool, err error) {
	m, err := d.measurementFor(SourceTemperature)
	if err != nil {
		return 0, false, err
	}
	return m.Count, m.OutOfRange, nil
}

// Reading interprets the last measurement for the configured signal source.
func (d *Device) Reading() (Reading, error) {
	source := d.SignalSource()
	m, err := d.measurementFor(source)
	if err != nil {
		return Reading{}, err
	}

	r := Reading{Source: source, Raw: m.Count, OutOfRange: m.OutOfRange, Value: int32(m.Count)}
	if source == SourceBandPass {
		r.Value = int32(signed14(m.Count))
	}
	return r, nil
}
