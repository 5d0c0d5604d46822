package pyd1598

import (
	"errors"
	"time"
)

// Line timing. Minimums from the datasheet carry a 20% margin where the
// sensor only specifies a lower bound.
const (
	// lines driven low before the first bit, >= 200ns
	tSettle = 240 * time.Nanosecond
	// clock half-pulse, 200ns..2us
	tEdge = 1 * time.Microsecond

	tBitHold    = 80 * time.Microsecond * 6 / 5
	tLatch      = 650 * time.Microsecond * 6 / 5
	tRequest    = 120 * time.Microsecond * 6 / 5
	tReadSettle = 3 * time.Microsecond
	tEndOfFrame = 1250 * time.Microsecond * 6 / 5
	tResetPulse = 160 * time.Microsecond * 6 / 5
)

type line struct {
	name string
	pin  Pin
}

func (l line) out(v Level) error {
	if err := l.pin.Out(v); err != nil {
		return &LineError{Line: l.name, Op: "configure output", Err: err}
	}
	return nil
}

func (l line) in() error {
	if err := l.pin.In(); err != nil {
		return &LineError{Line: l.name, Op: "configure input", Err: err}
	}
	return nil
}

func (l line) set(v Level) error {
	if err := l.pin.Set(v); err != nil {
		return &LineError{Line: l.name, Op: "set " + v.String(), Err: err}
	}
	return nil
}

func (l line) read() (Level, error) {
	v, err := l.pin.Read()
	if err != nil {
		return Low, &LineError{Line: l.name, Op: "read", Err: err}
	}
	return v, nil
}

func (d *Device) si() line { return line{LineSerialIn, d.serialIn} }
func (d *Device) dl() line { return line{LineDirectLink, d.directLink} }

// release leaves both lines floating. It is called on every exit path of a
// sequence that touched them.
func (d *Device) release() error {
	return errors.Join(d.si().in(), d.dl().in())
}

// Push writes the desired configuration to the sensor. On failure the caller
// has to push again; no partial transfer is retried.
func (d *Device) Push() error {
	word := d.desired
	d.logger.Debug("pyd1598 push", "config", word.String())

	return d.host.Critical(func() error {
		return errors.Join(d.push(word), d.release())
	})
}

func (d *Device) push(word Config) error {
	si, dl := d.si(), d.dl()

	if err := si.out(Low); err != nil {
		return err
	}
	if err := dl.out(Low); err != nil {
		return err
	}
	d.host.Delay(tSettle)

	for i := ConfigBits - 1; i >= 0; i-- {
		bit := Level(uint32(word)>>uint(i)&1 == 1)

		if err := si.set(Low); err != nil {
			return err
		}
		d.host.Delay(tSettle)
		if err := si.set(High); err != nil {
			return err
		}
		d.host.Delay(tEdge)
		if err := si.set(bit); err != nil {
			return err
		}
		d.host.Delay(tBitHold)
	}

	// Latch: both lines stay low for tLatch and the sensor takes the word.
	if err := si.set(Low); err != nil {
		return err
	}
	if err := dl.set(Low); err != nil {
		return err
	}
	d.host.Delay(tLatch)
	return nil
}

// Fetch reads a frame from the sensor, stores the readback and validates it
// against the desired configuration. A mismatch is returned as a
// *MismatchError and the measurement is discarded.
func (d *Device) Fetch() error {
	var frame Frame
	err := d.host.Critical(func() error {
		var err error
		frame, err = d.fetch()
		return errors.Join(err, d.dl().in())
	})
	if err != nil {
		return err
	}
	return d.accept(frame)
}

// fetch clocks one frame out of the direct-link line. It leaves the line
// driven low; the caller releases it.
func (d *Device) fetch() (Frame, error) {
	dl := d.dl()

	if err := dl.out(High); err != nil {
		return 0, err
	}
	d.host.Delay(tRequest)

	var word uint64
	for i := 0; i < FrameBits; i++ {
		if err := dl.out(Low); err != nil {
			return 0, err
		}
		d.host.Delay(tEdge)
		if err := dl.set(High); err != nil {
			return 0, err
		}
		d.host.Delay(tEdge)
		if err := dl.in(); err != nil {
			return 0, err
		}
		d.host.Delay(tReadSettle)

		v, err := dl.read()
		if err != nil {
			return 0, err
		}
		word <<= 1
		if v == High {
			word |= 1
		}
	}

	if err := dl.out(Low); err != nil {
		return 0, err
	}
	d.host.Delay(tEndOfFrame)
	return Frame(word), nil
}

func (d *Device) accept(f Frame) error {
	readback, m := DecodeFrame(f)
	d.readback = readback
	d.fetched = true
	d.readbackValid = readback == d.desired

	if !d.readbackValid {
		d.logger.Debug("pyd1598 readback mismatch", "want", d.desired.String(), "got", readback.String())
		return &MismatchError{Want: d.desired, Got: readback}
	}

	d.measurement = m
	d.measured = true
	d.measuredAs = readback.SignalSource()
	d.logger.Debug("pyd1598 fetch", "count", m.Count, "out_of_range", m.OutOfRange)
	return nil
}
