package plugins

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/linht/pir-manager/pyd1598"
)

const (
	DefaultPollInterval = time.Second
	subscriberBuffer    = 32
)

// Event is one reading taken by the poller. Triggered is set for wake-up
// events; forced-readout samples have it cleared.
type Event struct {
	ID        uuid.UUID   `json:"id"`
	Sensor    string      `json:"sensor"`
	Time      time.Time   `json:"time"`
	Triggered bool        `json:"triggered"`
	Reading   ReadingView `json:"reading"`
}

// Poller reads every sensor of the array at a fixed interval and fans the
// resulting events out to subscribers.
type Poller struct {
	array    *PIRArray
	interval time.Duration
	metrics  *Metrics
	logger   *slog.Logger

	subsMu sync.RWMutex
	subs   map[uuid.UUID]chan Event
}

// NewPoller creates a poller. A nil metrics gets a private registry.
func NewPoller(array *PIRArray, interval time.Duration, metrics *Metrics, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if metrics == nil {
		metrics = NewMetrics(prometheus.NewRegistry())
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		array:    array,
		interval: interval,
		metrics:  metrics,
		logger:   logger,
		subs:     make(map[uuid.UUID]chan Event),
	}
}

// Run polls until ctx is cancelled
func (p *Poller) Run(ctx context.Context) {
	p.logger.Info("PIR poller started", "interval", p.interval, "sensors", p.array.Count())

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("PIR poller stopped")
			p.closeSubscribers()
			return
		case <-ticker.C:
			p.PollOnce()
		}
	}
}

// PollOnce runs one cycle over all sensors and returns the events it
// published. A failing sensor does not stop the cycle.
func (p *Poller) PollOnce() []Event {
	p.metrics.polls.Inc()

	var events []Event
	for i := 0; i < p.array.Count(); i++ {
		s, _ := p.array.Sensor(i)

		ev, err := p.pollSensor(s)
		if err != nil {
			p.metrics.observeError(s.name, err)
			p.logger.Warn("Sensor poll failed", "sensor", s.name, "class", ErrorClass(err), "error", err)
			continue
		}
		if ev == nil {
			continue
		}

		p.metrics.observeReading(s.name, ev.Reading, ev.Triggered)
		p.publish(*ev)
		events = append(events, *ev)
	}
	return events
}

func (p *Poller) pollSensor(s *PIRSensor) (*Event, error) {
	var ev *Event
	err := s.With(func(d *pyd1598.Device) error {
		triggered := false

		switch d.OperationMode() {
		case pyd1598.WakeUp:
			hit, err := d.Triggered()
			if err := s.noteTransfer(err); err != nil {
				return err
			}
			if !hit {
				return nil
			}
			triggered = true
			if err := s.noteTransfer(p.fetch(s, d, d.ResetAndFetch)); err != nil {
				return err
			}
		default:
			if err := s.noteTransfer(p.fetch(s, d, d.Fetch)); err != nil {
				return err
			}
		}

		r, err := d.Reading()
		if err != nil {
			return err
		}

		now := time.Now()
		s.record(r, triggered, now)
		ev = &Event{
			ID:        uuid.New(),
			Sensor:    s.name,
			Time:      now,
			Triggered: triggered,
			Reading:   NewReadingView(r),
		}
		if triggered {
			p.logger.Info("Motion detected", "sensor", s.name, "value", r.Value)
		}
		return nil
	})
	return ev, err
}

// fetch runs the fetch sequence and, on a readback mismatch, pushes the
// desired configuration once and fetches again. Called with the sensor
// locked.
func (p *Poller) fetch(s *PIRSensor, d *pyd1598.Device, sequence func() error) error {
	err := sequence()
	if !errors.Is(err, pyd1598.ErrIO) {
		return err
	}

	p.logger.Warn("Readback mismatch, pushing configuration again", "sensor", s.name, "error", err)
	s.repushes++
	p.metrics.observeRepush(s.name)

	if perr := d.Push(); perr != nil {
		return fmt.Errorf("re-push after mismatch: %w", perr)
	}
	return d.Fetch()
}

// Subscribe returns a channel receiving every published event. Slow
// subscribers miss events rather than stall the poller.
func (p *Poller) Subscribe() (uuid.UUID, <-chan Event) {
	id := uuid.New()
	ch := make(chan Event, subscriberBuffer)

	p.subsMu.Lock()
	p.subs[id] = ch
	p.subsMu.Unlock()
	return id, ch
}

func (p *Poller) Unsubscribe(id uuid.UUID) {
	p.subsMu.Lock()
	defer p.subsMu.Unlock()

	if ch, ok := p.subs[id]; ok {
		close(ch)
		delete(p.subs, id)
	}
}

func (p *Poller) publish(ev Event) {
	p.subsMu.RLock()
	defer p.subsMu.RUnlock()

	for id, ch := range p.subs {
		select {
		case ch <- ev:
		default:
			p.logger.Debug("Subscriber too slow, event dropped", "subscriber", id, "event", ev.ID)
		}
	}
}

func (p *Poller) closeSubscribers() {
	p.subsMu.Lock()
	defer p.subsMu.Unlock()

	for id, ch := range p.subs {
		close(ch)
		delete(p.subs, id)
	}
}
