package pyd1598_test

import (
	"errors"
	"testing"

	"gotest.tools/v3/assert"

	"github.com/linht/pir-manager/pyd1598"
	"github.com/linht/pir-manager/pyd1598/sim"
)

func newDevice(t *testing.T, opts ...pyd1598.Option) (*pyd1598.Device, *sim.Sensor) {
	t.Helper()
	s := sim.New()
	d, err := pyd1598.New(s.SerialIn(), s.DirectLink(), s, opts...)
	assert.NilError(t, err)
	return d, s
}

func TestNewRejectsBadArguments(t *testing.T) {
	s := sim.New()

	_, err := pyd1598.New(nil, s.DirectLink(), s)
	assert.ErrorIs(t, err, pyd1598.ErrInvalidArgument)

	_, err = pyd1598.New(s.SerialIn(), s.DirectLink(), nil)
	assert.ErrorIs(t, err, pyd1598.ErrInvalidArgument)

	_, err = pyd1598.New(s.SerialIn(), s.SerialIn(), s)
	assert.ErrorIs(t, err, pyd1598.ErrInvalidArgument)
}

func TestNewStartsReservedOnly(t *testing.T) {
	d, s := newDevice(t)
	assert.Equal(t, d.Desired(), pyd1598.ReservedOnly)

	_, _, ok := d.Readback()
	assert.Assert(t, !ok)
	_, ok = d.Measurement()
	assert.Assert(t, !ok)

	// construction never touches the lines
	assert.Equal(t, s.Stats().CriticalCalls, 0)
	assert.Assert(t, s.Floating())
}

func TestWithConfigForcesReserved(t *testing.T) {
	// defaults with both reserved fields inverted
	d, _ := newDevice(t, pyd1598.WithConfig(0x3EC131^0x1A))
	assert.Equal(t, d.Desired(), pyd1598.Config(0x3EC131))
	assert.Equal(t, uint32(d.Desired())>>3&3, uint32(2))
	assert.Equal(t, uint32(d.Desired())>>1&1, uint32(0))
}

func TestWithConfigRejectsUnsupportedFields(t *testing.T) {
	interrupt := pyd1598.DefaultFields
	interrupt.OperationMode = pyd1598.InterruptReadout

	sourceTwo := pyd1598.DefaultFields
	sourceTwo.SignalSource = 2

	tests := []struct {
		name string
		c    pyd1598.Config
	}{
		{"interrupt readout", pyd1598.Pack(interrupt)},
		{"mode 3", pyd1598.Pack(pyd1598.DefaultFields) | 3<<7},
		{"source 2", pyd1598.Pack(sourceTwo)},
		{"all ones", 0x1FFFFFF},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := sim.New()
			d, err := pyd1598.New(s.SerialIn(), s.DirectLink(), s, pyd1598.WithConfig(tt.c))
			assert.ErrorIs(t, err, pyd1598.ErrInvalidArgument)
			assert.Assert(t, d == nil)

			// nothing reached the sensor
			assert.Equal(t, s.Latched(), pyd1598.ReservedOnly)
			assert.Equal(t, s.Stats().CriticalCalls, 0)
		})
	}
}

func TestSetDefaults(t *testing.T) {
	d, _ := newDevice(t)
	d.SetDefaults()

	assert.Equal(t, d.Desired(), pyd1598.Config(0x3EC131))
	assert.Equal(t, d.Threshold(), uint8(31))
	assert.Equal(t, d.BlindTime(), uint8(6))
	assert.Equal(t, d.PulseCounter(), uint8(0))
	assert.Equal(t, d.WindowTime(), uint8(0))
	assert.Equal(t, d.OperationMode(), pyd1598.WakeUp)
	assert.Equal(t, d.SignalSource(), pyd1598.SourceLowPass)
	assert.Equal(t, d.HPFCutoff(), pyd1598.HPF400mHz)
	assert.Equal(t, d.CountMode(), pyd1598.CountAll)
}

func TestSettersRange(t *testing.T) {
	tests := []struct {
		name string
		set  func(d *pyd1598.Device, v int) error
		get  func(d *pyd1598.Device) uint8
		put  func(f *pyd1598.Fields, v uint8)
		max  int
	}{
		{"threshold", (*pyd1598.Device).SetThreshold, (*pyd1598.Device).Threshold,
			func(f *pyd1598.Fields, v uint8) { f.Threshold = v }, 255},
		{"blind_time", (*pyd1598.Device).SetBlindTime, (*pyd1598.Device).BlindTime,
			func(f *pyd1598.Fields, v uint8) { f.BlindTime = v }, 15},
		{"pulse_counter", (*pyd1598.Device).SetPulseCounter, (*pyd1598.Device).PulseCounter,
			func(f *pyd1598.Fields, v uint8) { f.PulseCounter = v }, 3},
		{"window_time", (*pyd1598.Device).SetWindowTime, (*pyd1598.Device).WindowTime,
			func(f *pyd1598.Fields, v uint8) { f.WindowTime = v }, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, _ := newDevice(t)
			d.SetDefaults()

			others := d.Desired().Fields()
			for v := 0; v <= tt.max; v++ {
				assert.NilError(t, tt.set(d, v))
				assert.Equal(t, int(tt.get(d)), v)

				// no other field moves
				want := others
				tt.put(&want, uint8(v))
				assert.DeepEqual(t, d.Desired().Fields(), want)
			}

			before := d.Desired()
			assert.ErrorIs(t, tt.set(d, tt.max+1), pyd1598.ErrInvalidArgument)
			assert.ErrorIs(t, tt.set(d, -1), pyd1598.ErrInvalidArgument)
			assert.Equal(t, d.Desired(), before)
		})
	}
}

func TestSetOperationMode(t *testing.T) {
	d, _ := newDevice(t)

	assert.NilError(t, d.SetOperationMode(pyd1598.WakeUp))
	assert.Equal(t, d.OperationMode(), pyd1598.WakeUp)
	assert.NilError(t, d.SetOperationMode(pyd1598.ForcedReadout))
	assert.Equal(t, d.OperationMode(), pyd1598.ForcedReadout)

	err := d.SetOperationMode(pyd1598.InterruptReadout)
	assert.ErrorIs(t, err, pyd1598.ErrInvalidArgument)
	assert.ErrorIs(t, d.SetOperationMode(3), pyd1598.ErrInvalidArgument)
	assert.Equal(t, d.OperationMode(), pyd1598.ForcedReadout)
}

func TestSetSignalSource(t *testing.T) {
	d, _ := newDevice(t)

	for _, s := range []pyd1598.SignalSource{pyd1598.SourceTemperature, pyd1598.SourceLowPass, pyd1598.SourceBandPass} {
		assert.NilError(t, d.SetSignalSource(s))
		assert.Equal(t, d.SignalSource(), s)
	}
	assert.ErrorIs(t, d.SetSignalSource(2), pyd1598.ErrInvalidArgument)
	assert.Equal(t, d.SignalSource(), pyd1598.SourceBandPass)
}

func TestSetBinaryFields(t *testing.T) {
	d, _ := newDevice(t)

	assert.NilError(t, d.SetHPFCutoff(pyd1598.HPF200mHz))
	assert.Equal(t, d.HPFCutoff(), pyd1598.HPF200mHz)
	assert.ErrorIs(t, d.SetHPFCutoff(2), pyd1598.ErrInvalidArgument)

	assert.NilError(t, d.SetCountMode(pyd1598.CountAll))
	assert.Equal(t, d.CountMode(), pyd1598.CountAll)
	assert.ErrorIs(t, d.SetCountMode(2), pyd1598.ErrInvalidArgument)

	// reserved bits survive every write
	assert.Equal(t, uint32(d.Desired())&0x1A, uint32(0x10))
}

func TestSetFields(t *testing.T) {
	d, _ := newDevice(t)

	f := pyd1598.DefaultFields
	f.Threshold = 200
	f.OperationMode = pyd1598.ForcedReadout
	assert.NilError(t, d.SetFields(f))
	assert.DeepEqual(t, d.Desired().Fields(), f)

	bad := f
	bad.WindowTime = 4
	err := d.SetFields(bad)
	assert.ErrorIs(t, err, pyd1598.ErrInvalidArgument)
	assert.ErrorContains(t, err, "window_time")
	assert.DeepEqual(t, d.Desired().Fields(), f)

	bad = f
	bad.OperationMode = pyd1598.InterruptReadout
	assert.ErrorIs(t, d.SetFields(bad), pyd1598.ErrInvalidArgument)
}

func TestErrorClassesAreDistinct(t *testing.T) {
	classes := []error{pyd1598.ErrInvalidArgument, pyd1598.ErrDevice, pyd1598.ErrIO, pyd1598.ErrInvalidState}
	for i, a := range classes {
		for j, b := range classes {
			assert.Equal(t, errors.Is(a, b), i == j)
		}
	}
}
