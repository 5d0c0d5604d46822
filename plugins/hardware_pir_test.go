package plugins

import (
	"testing"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"

	"github.com/linht/pir-manager/pyd1598"
	"github.com/linht/pir-manager/pyd1598/sim"
)

func intp(v int) *int { return &v }

func simArray(t *testing.T, cfgs ...SensorConfig) (*PIRArray, *SimBackend) {
	t.Helper()
	b := NewSimBackend(0)
	a, err := NewPIRArray(cfgs, b, nil)
	assert.NilError(t, err)
	t.Cleanup(func() { a.Close() })
	return a, b
}

func model(t *testing.T, b *SimBackend, name string) *sim.Sensor {
	t.Helper()
	s, ok := b.Model(name)
	assert.Assert(t, ok, "no simulated sensor %s", name)
	return s
}

func sensorCfg(name string, si, dl int, mode string) SensorConfig {
	return SensorConfig{
		Name:       name,
		SerialIn:   si,
		DirectLink: dl,
		Profile:    ProfileConfig{OperationMode: mode},
	}
}

func TestNewPIRArrayValidation(t *testing.T) {
	tests := []struct {
		name string
		cfgs []SensorConfig
	}{
		{"empty", nil},
		{"unnamed", []SensorConfig{{SerialIn: 17, DirectLink: 27}}},
		{"duplicate name", []SensorConfig{
			sensorCfg("front", 17, 27, ""),
			sensorCfg("front", 22, 23, ""),
		}},
		{"shared line", []SensorConfig{
			sensorCfg("front", 17, 27, ""),
			sensorCfg("back", 27, 22, ""),
		}},
		{"same line twice", []SensorConfig{sensorCfg("front", 17, 17, "")}},
		{"bad profile", []SensorConfig{{
			Name: "front", SerialIn: 17, DirectLink: 27,
			Profile: ProfileConfig{Threshold: intp(300)},
		}}},
		{"interrupt mode", []SensorConfig{sensorCfg("front", 17, 27, "interrupt")}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewPIRArray(tc.cfgs, NewSimBackend(0), nil)
			assert.ErrorIs(t, err, pyd1598.ErrInvalidArgument)
		})
	}
}

func TestNewPIRArrayAppliesProfile(t *testing.T) {
	a, b := simArray(t, SensorConfig{
		Name: "front", SerialIn: 17, DirectLink: 27,
		Profile: ProfileConfig{Threshold: intp(50), OperationMode: "forced"},
	})

	want := pyd1598.DefaultFields
	want.Threshold = 50
	want.OperationMode = pyd1598.ForcedReadout

	s, ok := a.ByName("front")
	assert.Assert(t, ok)
	s.With(func(d *pyd1598.Device) error {
		assert.Equal(t, d.Desired(), pyd1598.Pack(want))
		return nil
	})

	// nothing is pushed until ConfigureAll
	m := model(t, b, "front")
	assert.Equal(t, m.Latched(), pyd1598.ReservedOnly)
	assert.Equal(t, m.Stats().Pushes, 0)
}

func TestConfigureAll(t *testing.T) {
	a, b := simArray(t,
		sensorCfg("front", 17, 27, "wake-up"),
		sensorCfg("back", 22, 23, "forced"))

	assert.NilError(t, a.ConfigureAll())

	for _, name := range a.Names() {
		s, _ := a.ByName(name)
		s.With(func(d *pyd1598.Device) error {
			assert.Equal(t, model(t, b, name).Latched(), d.Desired(), "sensor %s", name)
			return nil
		})
	}
}

func TestConfigureAllContinuesPastFailure(t *testing.T) {
	a, b := simArray(t,
		sensorCfg("front", 17, 27, ""),
		sensorCfg("back", 22, 23, ""))

	model(t, b, "front").FailNext(pyd1598.LineSerialIn, sim.OpOut)

	err := a.ConfigureAll()
	assert.ErrorIs(t, err, pyd1598.ErrDevice)
	assert.ErrorContains(t, err, "front")
	assert.Equal(t, model(t, b, "front").Latched(), pyd1598.ReservedOnly)
	assert.Equal(t, model(t, b, "back").Latched(), pyd1598.Pack(pyd1598.DefaultFields))
}

func TestAnyTriggered(t *testing.T) {
	a, b := simArray(t,
		sensorCfg("front", 17, 27, "wake-up"),
		sensorCfg("back", 22, 23, "wake-up"),
		sensorCfg("side", 5, 6, "forced"))
	assert.NilError(t, a.ConfigureAll())

	triggered, err := a.AnyTriggered()
	assert.NilError(t, err)
	assert.Check(t, is.Len(triggered, 0))

	assert.NilError(t, b.Inject("back"))
	// forced readout sensors never raise an event
	assert.NilError(t, b.Inject("side"))

	triggered, err = a.AnyTriggered()
	assert.NilError(t, err)
	assert.DeepEqual(t, triggered, []string{"back"})
}

func TestSensorIndex(t *testing.T) {
	a, _ := simArray(t,
		sensorCfg("front", 17, 27, ""),
		sensorCfg("back", 22, 23, ""))

	assert.Equal(t, a.Count(), 2)
	assert.DeepEqual(t, a.Names(), []string{"front", "back"})

	s, err := a.Sensor(1)
	assert.NilError(t, err)
	assert.Equal(t, s.Name(), "back")

	_, err = a.Sensor(2)
	assert.ErrorIs(t, err, pyd1598.ErrInvalidArgument)
	_, err = a.Sensor(-1)
	assert.ErrorIs(t, err, pyd1598.ErrInvalidArgument)
}

func TestStatus(t *testing.T) {
	a, _ := simArray(t, sensorCfg("front", 17, 27, "forced"))
	assert.NilError(t, a.ConfigureAll())

	s, _ := a.ByName("front")
	st := s.Status()
	assert.Equal(t, st.Readback, "")
	assert.Equal(t, st.Desired.OperationMode, "forced-readout")

	assert.NilError(t, s.With((*pyd1598.Device).Fetch))
	st = s.Status()
	assert.Equal(t, st.Readback, st.Desired.Raw)
	assert.Assert(t, st.ReadbackValid)
	assert.Equal(t, st.LastError, "")

	// rejected before the lines are touched, not a transfer failure
	err := s.Transfer(func(d *pyd1598.Device) error { return d.Reset() })
	assert.ErrorIs(t, err, pyd1598.ErrInvalidState)
	assert.Equal(t, s.Status().LastError, "")
}

func TestLastErrorKeptUntilNextTransfer(t *testing.T) {
	a, b := simArray(t, sensorCfg("front", 17, 27, "forced"))
	model(t, b, "front").FailNext(pyd1598.LineSerialIn, sim.OpOut)

	assert.ErrorIs(t, a.ConfigureAll(), pyd1598.ErrDevice)
	s, _ := a.ByName("front")
	failure := s.Status().LastError
	assert.Assert(t, is.Contains(failure, "serial-in"))

	// read-only access and skipped sensors keep the failure visible
	assert.NilError(t, s.With(func(d *pyd1598.Device) error {
		_ = d.Desired()
		return nil
	}))
	_ = s.Desired()
	_, err := a.AnyTriggered()
	assert.NilError(t, err)
	err = s.Transfer(func(d *pyd1598.Device) error { return d.SetThreshold(300) })
	assert.ErrorIs(t, err, pyd1598.ErrInvalidArgument)
	assert.Equal(t, s.Status().LastError, failure)

	// a successful transfer clears it
	assert.NilError(t, a.ConfigureAll())
	assert.Equal(t, s.Status().LastError, "")
}
