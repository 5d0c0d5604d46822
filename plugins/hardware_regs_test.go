package plugins

import (
	"testing"

	"gotest.tools/v3/assert"

	"github.com/linht/pir-manager/pyd1598"
	"github.com/linht/pir-manager/pyd1598/sim"
)

func bareDevice(t *testing.T) *pyd1598.Device {
	t.Helper()
	s := sim.New()
	d, err := pyd1598.New(s.SerialIn(), s.DirectLink(), s)
	assert.NilError(t, err)
	return d
}

func TestParseEnums(t *testing.T) {
	mode, err := ParseOperationMode("Wake-Up")
	assert.NilError(t, err)
	assert.Equal(t, mode, pyd1598.WakeUp)
	_, err = ParseOperationMode("interrupt")
	assert.ErrorIs(t, err, pyd1598.ErrInvalidArgument)

	source, err := ParseSignalSource("temperature")
	assert.NilError(t, err)
	assert.Equal(t, source, pyd1598.SourceTemperature)
	_, err = ParseSignalSource("2")
	assert.ErrorIs(t, err, pyd1598.ErrInvalidArgument)

	hpf, err := ParseHPFCutoff("0.2Hz")
	assert.NilError(t, err)
	assert.Equal(t, hpf, pyd1598.HPF200mHz)
	_, err = ParseHPFCutoff("1hz")
	assert.ErrorIs(t, err, pyd1598.ErrInvalidArgument)

	count, err := ParseCountMode("without-sign-change")
	assert.NilError(t, err)
	assert.Equal(t, count, pyd1598.CountWithoutSignChange)
	_, err = ParseCountMode("some")
	assert.ErrorIs(t, err, pyd1598.ErrInvalidArgument)
}

func TestProfileApplyPartial(t *testing.T) {
	d := bareDevice(t)
	d.SetDefaults()

	p := ProfileConfig{BlindTime: intp(15), SignalSource: "bpf"}
	assert.NilError(t, p.Apply(d))

	want := pyd1598.DefaultFields
	want.BlindTime = 15
	want.SignalSource = pyd1598.SourceBandPass
	assert.Equal(t, d.Desired(), pyd1598.Pack(want))
}

func TestProfileApplyStopsAtInvalidField(t *testing.T) {
	d := bareDevice(t)

	p := ProfileConfig{Threshold: intp(40), WindowTime: intp(4), CountMode: "all"}
	err := p.Apply(d)
	assert.ErrorIs(t, err, pyd1598.ErrInvalidArgument)

	// fields before the invalid one are applied, later ones are not
	assert.Equal(t, d.Threshold(), uint8(40))
	assert.Equal(t, d.CountMode(), pyd1598.CountWithoutSignChange)
}

func TestProfileFromConfigRoundTrip(t *testing.T) {
	configs := []pyd1598.Config{
		pyd1598.Pack(pyd1598.DefaultFields),
		pyd1598.Pack(pyd1598.Fields{
			Threshold:     255,
			BlindTime:     1,
			PulseCounter:  3,
			WindowTime:    2,
			OperationMode: pyd1598.ForcedReadout,
			SignalSource:  pyd1598.SourceTemperature,
			HPFCutoff:     pyd1598.HPF200mHz,
			CountMode:     pyd1598.CountWithoutSignChange,
		}),
		pyd1598.ReservedOnly,
	}

	for _, c := range configs {
		t.Run(c.String(), func(t *testing.T) {
			d := bareDevice(t)
			d.SetDefaults()
			assert.NilError(t, ProfileFromConfig(c).Apply(d))
			assert.Equal(t, d.Desired(), c)
		})
	}
}

func TestConfigViewDefaults(t *testing.T) {
	v := NewConfigView(pyd1598.Pack(pyd1598.DefaultFields))
	assert.Equal(t, v.Raw, "0x03EC131")
	assert.Equal(t, v.Threshold, uint8(31))
	assert.Equal(t, v.OperationMode, "wake-up")
	assert.Equal(t, v.SignalSource, "low-pass")
	assert.Equal(t, v.BlindSeconds, "3.5s")
	assert.Equal(t, v.WindowSeconds, "2s")
	assert.Equal(t, v.Pulses, 1)
}

func TestReadingViewBandPass(t *testing.T) {
	v := NewReadingView(pyd1598.Reading{
		Source: pyd1598.SourceBandPass,
		Value:  -3,
		Raw:    0x3FFD,
	})
	assert.Equal(t, v.Source, "band-pass")
	assert.Equal(t, v.Value, int32(-3))
	assert.Equal(t, v.Raw, uint16(0x3FFD))
}
