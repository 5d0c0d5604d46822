package plugins

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"

	"github.com/linht/pir-manager/pyd1598"
	"github.com/linht/pir-manager/pyd1598/sim"
)

func newTestPoller(t *testing.T, cfgs ...SensorConfig) (*Poller, *PIRArray, *SimBackend, *Metrics) {
	t.Helper()
	a, b := simArray(t, cfgs...)
	assert.NilError(t, a.ConfigureAll())

	for _, name := range a.Names() {
		model(t, b, name).SetSignal(func() pyd1598.Measurement {
			return pyd1598.Measurement{Count: 0x0F0F}
		})
	}

	m := NewMetrics(prometheus.NewRegistry())
	return NewPoller(a, time.Millisecond, m, nil), a, b, m
}

func TestPollForcedReadout(t *testing.T) {
	p, a, _, m := newTestPoller(t, sensorCfg("front", 17, 27, "forced"))

	events := p.PollOnce()
	assert.Assert(t, is.Len(events, 1))

	ev := events[0]
	assert.Equal(t, ev.Sensor, "front")
	assert.Assert(t, !ev.Triggered)
	assert.Equal(t, ev.Reading.Source, "low-pass")
	assert.Equal(t, ev.Reading.Value, int32(0x0F0F))

	s, _ := a.ByName("front")
	st := s.Status()
	assert.Assert(t, st.LastReading != nil)
	assert.Equal(t, st.Events, uint64(0))
	assert.Equal(t, st.LastEvent, "")

	assert.Equal(t, testutil.ToFloat64(m.polls), 1.0)
	assert.Equal(t, testutil.ToFloat64(m.reading.WithLabelValues("front", "low-pass")), float64(0x0F0F))
}

func TestPollWakeUp(t *testing.T) {
	p, a, b, m := newTestPoller(t,
		sensorCfg("front", 17, 27, "wake-up"),
		sensorCfg("back", 22, 23, "wake-up"))

	assert.Check(t, is.Len(p.PollOnce(), 0))

	assert.NilError(t, b.Inject("back"))
	events := p.PollOnce()
	assert.Assert(t, is.Len(events, 1))
	assert.Equal(t, events[0].Sensor, "back")
	assert.Assert(t, events[0].Triggered)

	// the event is cleared by the reset
	assert.Assert(t, !model(t, b, "back").Triggered())
	assert.Check(t, is.Len(p.PollOnce(), 0))

	s, _ := a.ByName("back")
	st := s.Status()
	assert.Equal(t, st.Events, uint64(1))
	assert.Assert(t, st.LastEvent != "")
	assert.Equal(t, testutil.ToFloat64(m.events.WithLabelValues("back")), 1.0)
}

func TestPollRepushesOnMismatch(t *testing.T) {
	p, a, b, m := newTestPoller(t, sensorCfg("front", 17, 27, "forced"))

	// desired changed without a push
	s, _ := a.ByName("front")
	assert.NilError(t, s.With(func(d *pyd1598.Device) error {
		return d.SetThreshold(100)
	}))

	events := p.PollOnce()
	assert.Assert(t, is.Len(events, 1))
	assert.Equal(t, model(t, b, "front").Latched().Threshold(), uint8(100))
	assert.Equal(t, s.Status().Repushes, uint64(1))
	assert.Equal(t, testutil.ToFloat64(m.repushes.WithLabelValues("front")), 1.0)
}

func TestPollCorruptReadback(t *testing.T) {
	p, a, b, m := newTestPoller(t, sensorCfg("front", 17, 27, "forced"))
	sensor := model(t, b, "front")

	sensor.CorruptReadback(1 << 20)
	assert.Check(t, is.Len(p.PollOnce(), 0))
	assert.Equal(t, testutil.ToFloat64(m.errors.WithLabelValues("front", "io")), 1.0)

	s, _ := a.ByName("front")
	assert.Equal(t, s.Status().Repushes, uint64(1))
	assert.Assert(t, s.Status().LastError != "")

	sensor.CorruptReadback(0)
	assert.Check(t, is.Len(p.PollOnce(), 1))
}

func TestPollDeviceFaultSkipsSensor(t *testing.T) {
	p, _, b, m := newTestPoller(t,
		sensorCfg("front", 17, 27, "forced"),
		sensorCfg("back", 22, 23, "forced"))

	model(t, b, "front").FailNext(pyd1598.LineDirectLink, sim.OpOut)

	events := p.PollOnce()
	assert.Assert(t, is.Len(events, 1))
	assert.Equal(t, events[0].Sensor, "back")
	assert.Equal(t, testutil.ToFloat64(m.errors.WithLabelValues("front", "device")), 1.0)
	assert.Assert(t, model(t, b, "front").Floating())
}

func TestSubscribe(t *testing.T) {
	p, _, _, _ := newTestPoller(t, sensorCfg("front", 17, 27, "forced"))

	id, ch := p.Subscribe()
	events := p.PollOnce()
	assert.Assert(t, is.Len(events, 1))

	select {
	case ev := <-ch:
		assert.Equal(t, ev.ID, events[0].ID)
	default:
		t.Fatal("event not delivered")
	}

	p.Unsubscribe(id)
	_, ok := <-ch
	assert.Assert(t, !ok)
}

func TestRunClosesSubscribers(t *testing.T) {
	p, _, _, _ := newTestPoller(t, sensorCfg("front", 17, 27, "forced"))
	_, ch := p.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(ctx)
	}()

	select {
	case ev := <-ch:
		assert.Equal(t, ev.Sensor, "front")
	case <-time.After(5 * time.Second):
		t.Fatal("no event from the running poller")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("poller did not stop")
	}

	// drain what was published before the stop
	for range ch {
	}
}
