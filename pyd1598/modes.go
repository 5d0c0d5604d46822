package pyd1598

import "errors"

// Reset clears a latched wake-up event by holding direct-link low.
// It is only valid in wake-up mode.
func (d *Device) Reset() error {
	if mode := d.OperationMode(); mode != WakeUp {
		return modeError("reset", mode)
	}
	d.logger.Debug("pyd1598 reset")

	return d.host.Critical(func() error {
		dl := d.dl()
		err := dl.out(Low)
		if err == nil {
			d.host.Delay(tResetPulse)
		}
		return errors.Join(err, dl.in())
	})
}

// ResetAndFetch resets the event and reads a frame in one sequence. The
// direct-link line is not released between the reset pulse and the frame
// request. It is only valid in wake-up mode.
func (d *Device) ResetAndFetch() error {
	if mode := d.OperationMode(); mode != WakeUp {
		return modeError("reset-and-fetch", mode)
	}
	d.logger.Debug("pyd1598 reset and fetch")

	var frame Frame
	err := d.host.Critical(func() error {
		dl := d.dl()
		if err := dl.out(Low); err != nil {
			return errors.Join(err, dl.in())
		}
		d.host.Delay(tResetPulse)

		var err error
		frame, err = d.fetch()
		return errors.Join(err, dl.in())
	})
	if err != nil {
		return err
	}
	return d.accept(frame)
}

// Triggered reports whether the sensor has latched a wake-up event. A true
// result should be followed by ResetAndFetch. It is only valid in wake-up
// mode.
func (d *Device) Triggered() (bool, error) {
	if mode := d.OperationMode(); mode != WakeUp {
		return false, modeError("trigger poll", mode)
	}

	dl := d.dl()
	if err := dl.in(); err != nil {
		return false, err
	}
	v, err := dl.read()
	if err != nil {
		return false, err
	}
	return v == High, nil
}
