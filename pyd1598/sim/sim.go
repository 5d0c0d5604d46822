// Package sim models a PYD1598 at line level so the driver can run without
// hardware.
//
// A Sensor exposes its serial-in and direct-link lines as pyd1598.Pin and
// implements pyd1598.Host with a virtual clock that only advances on Delay.
// It decodes pushed configuration bits, latches them after the serial-in low
// hold, answers frame requests with its measurement and an echo of the
// latched configuration, and raises direct-link on wake-up events.
package sim

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/linht/pir-manager/pyd1598"
)

// Sensor-side timing minimums. The driver's margins sit above these.
const (
	LatchMin   = 580 * time.Microsecond
	RequestMin = 100 * time.Microsecond
	EndMin     = 1000 * time.Microsecond
	ResetMin   = 150 * time.Microsecond
)

// Op names a pin capability call for fault injection.
type Op string

const (
	OpOut  Op = "out"
	OpIn   Op = "in"
	OpSet  Op = "set"
	OpRead Op = "read"
)

// ErrInjected is returned by a pin call that was set up to fail.
var ErrInjected = errors.New("sim: injected fault")

type fault struct {
	line string
	op   Op
}

// Sensor is a simulated PYD1598 with its two lines.
type Sensor struct {
	mu sync.Mutex

	now           time.Duration
	criticalDepth int
	criticalCalls int
	violations    int

	si *Line
	dl *Line

	latched    pyd1598.Config
	shift      uint32
	shifted    int
	expectData bool
	siLowSince time.Duration

	measurement pyd1598.Measurement
	signal      func() pyd1598.Measurement
	corrupt     uint32
	triggered   bool

	inFrame       bool
	frame         pyd1598.Frame
	bitIdx        int
	clocked       bool
	lastBit       pyd1598.Level
	dlHighSince   time.Duration
	dlLowSince    time.Duration
	requestSeen   bool
	lowPeriodSeen bool

	pushes int
	frames int
	resets int

	faults map[fault]bool
}

// New returns a sensor running the power-on configuration.
func New() *Sensor {
	s := &Sensor{
		latched: pyd1598.ReservedOnly,
		faults:  make(map[fault]bool),
	}
	s.si = &Line{s: s, name: pyd1598.LineSerialIn}
	s.dl = &Line{s: s, name: pyd1598.LineDirectLink}
	return s
}

// SerialIn returns the serial-in line.
func (s *Sensor) SerialIn() *Line { return s.si }

// DirectLink returns the direct-link line.
func (s *Sensor) DirectLink() *Line { return s.dl }

// Delay advances the virtual clock.
func (s *Sensor) Delay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now += d
	s.tick()
}

// Critical runs fn and records that it ran inside a critical section.
func (s *Sensor) Critical(fn func() error) error {
	s.mu.Lock()
	s.criticalDepth++
	s.criticalCalls++
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.criticalDepth--
		s.mu.Unlock()
	}()
	return fn()
}

// SetMeasurement sets the measurement sent in the next frames.
func (s *Sensor) SetMeasurement(m pyd1598.Measurement) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.measurement = m
}

// SetSignal installs a generator called at every frame request. It takes
// precedence over SetMeasurement.
func (s *Sensor) SetSignal(fn func() pyd1598.Measurement) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signal = fn
}

// CorruptReadback flips the given bits of the configuration echo in every
// following frame. Zero restores a clean echo.
func (s *Sensor) CorruptReadback(mask uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.corrupt = mask
}

// Trigger latches a motion event. It has no effect unless the latched
// configuration selects wake-up mode.
func (s *Sensor) Trigger() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latched.OperationMode() == pyd1598.WakeUp {
		s.triggered = true
	}
}

// FailNext makes the next op on the named line return ErrInjected.
func (s *Sensor) FailNext(line string, op Op) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[fault{line, op}] = true
}

// Latched returns the configuration the sensor is running.
func (s *Sensor) Latched() pyd1598.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latched
}

// Triggered reports whether an event is pending.
func (s *Sensor) Triggered() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.triggered
}

// Floating reports whether both lines are inputs.
func (s *Sensor) Floating() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.si.output && !s.dl.output
}

// Stats is a snapshot of the sensor counters.
type Stats struct {
	Pushes        int
	Frames        int
	Resets        int
	CriticalCalls int
	// Violations counts lines driven outside a critical section.
	Violations int
	Elapsed    time.Duration
}

func (s *Sensor) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Pushes:        s.pushes,
		Frames:        s.frames,
		Resets:        s.resets,
		CriticalCalls: s.criticalCalls,
		Violations:    s.violations,
		Elapsed:       s.now,
	}
}

// tick applies the time-dependent behavior of the sensor. Called with mu held.
func (s *Sensor) tick() {
	if s.si.output && s.si.level == pyd1598.Low &&
		s.shifted >= pyd1598.ConfigBits && s.now-s.siLowSince >= LatchMin {
		s.latched = pyd1598.Config(s.shift & (1<<pyd1598.ConfigBits - 1))
		s.shifted = 0
		s.pushes++
		if s.latched.OperationMode() != pyd1598.WakeUp {
			s.triggered = false
		}
	}

	if !s.dl.output {
		return
	}
	switch s.dl.level {
	case pyd1598.High:
		if !s.requestSeen && s.now-s.dlHighSince >= RequestMin {
			s.requestSeen = true
			s.startFrame()
		}
	case pyd1598.Low:
		if s.lowPeriodSeen {
			return
		}
		if s.inFrame && s.bitIdx >= pyd1598.FrameBits && s.now-s.dlLowSince >= EndMin {
			s.inFrame = false
			s.lowPeriodSeen = true
			s.frames++
			return
		}
		// direct-link is held low during a push too; that is not a reset
		if !s.inFrame && !s.si.output && s.now-s.dlLowSince >= ResetMin {
			s.lowPeriodSeen = true
			if s.triggered {
				s.triggered = false
				s.resets++
			}
		}
	}
}

func (s *Sensor) startFrame() {
	m := s.measurement
	if s.signal != nil {
		m = s.signal()
	}
	echo := s.latched ^ pyd1598.Config(s.corrupt)
	s.frame = pyd1598.EncodeFrame(echo, m)
	s.inFrame = true
	s.bitIdx = 0
	s.clocked = false
}

// Line is one simulated sensor line.
type Line struct {
	s      *Sensor
	name   string
	output bool
	level  pyd1598.Level
}

func (l *Line) String() string { return "sim:" + l.name }

func (l *Line) fail(op Op) error {
	k := fault{l.name, op}
	if l.s.faults[k] {
		delete(l.s.faults, k)
		return fmt.Errorf("%w: %s %s", ErrInjected, l.name, op)
	}
	return nil
}

func (l *Line) Out(v pyd1598.Level) error {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	if err := l.fail(OpOut); err != nil {
		return err
	}
	l.drive(v)
	return nil
}

func (l *Line) In() error {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	if err := l.fail(OpIn); err != nil {
		return err
	}
	l.output = false
	return nil
}

func (l *Line) Set(v pyd1598.Level) error {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	if err := l.fail(OpSet); err != nil {
		return err
	}
	if !l.output {
		return fmt.Errorf("sim: %s is not an output", l.name)
	}
	l.drive(v)
	return nil
}

func (l *Line) Read() (pyd1598.Level, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	if err := l.fail(OpRead); err != nil {
		return pyd1598.Low, err
	}
	if l.output {
		return l.level, nil
	}
	if l != l.s.dl {
		return pyd1598.Low, nil
	}
	return l.s.sample(), nil
}

// drive sets an output level and feeds the edge to the sensor logic.
func (l *Line) drive(v pyd1598.Level) {
	s := l.s
	if s.criticalDepth == 0 {
		s.violations++
	}
	rising := v == pyd1598.High && (!l.output || l.level == pyd1598.Low)
	falling := v == pyd1598.Low && (!l.output || l.level == pyd1598.High)
	l.output = true
	l.level = v

	if l == s.si {
		s.serialInEdge(v, rising, falling)
	} else {
		s.directLinkEdge(rising, falling)
	}
}

func (s *Sensor) serialInEdge(v pyd1598.Level, rising, falling bool) {
	switch {
	case s.expectData:
		s.shift <<= 1
		if v == pyd1598.High {
			s.shift |= 1
		}
		s.shifted++
		s.expectData = false
	case rising:
		s.expectData = true
	}
	if falling {
		s.siLowSince = s.now
	}
}

func (s *Sensor) directLinkEdge(rising, falling bool) {
	if rising {
		s.dlHighSince = s.now
		s.requestSeen = false
		if s.inFrame {
			s.clocked = true
		}
	}
	if falling {
		s.dlLowSince = s.now
		s.lowPeriodSeen = false
	}
}

// sample returns the level the sensor drives on a floating direct-link.
func (s *Sensor) sample() pyd1598.Level {
	if !s.inFrame {
		return pyd1598.Level(s.triggered)
	}
	if s.clocked && s.bitIdx < pyd1598.FrameBits {
		shift := pyd1598.FrameBits - 1 - s.bitIdx
		s.lastBit = uint64(s.frame)>>uint(shift)&1 == 1
		s.bitIdx++
		s.clocked = false
	}
	return s.lastBit
}
