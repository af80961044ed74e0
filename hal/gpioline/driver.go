// Package gpioline implements p25kfd.LineDriver over two periph.io GPIO
// pins, the production line driver for a KFD built from a Raspberry Pi (or
// similar single-board computer) driving the DATA and SENSE lines
// directly.
package gpioline

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	p25kfd "github.com/kfdcore/go-p25kfd"
)

// Driver drives DATA as an open-drain-style output (Out(gpio.Low) to
// assert BUSY, In(PullUp, NoEdge) to release IDLE) and SENSE as a plain
// push-pull output, matching the polarities p25kfd.LineDriver documents.
type Driver struct {
	data  gpio.PinIO
	sense gpio.PinIO
}

// Open claims dataPin and sensePin by name (e.g. "GPIO17") via
// periph.io/x/conn/v3/gpio/gpioreg, initializing the periph host on first
// use.
func Open(dataPin, sensePin string) (*Driver, error) {
	if dataPin == "" || sensePin == "" {
		return nil, fmt.Errorf("%w: pin identifiers must not be empty", p25kfd.ErrInvalidPin)
	}

	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}

	data := gpioreg.ByName(dataPin)
	if data == nil {
		return nil, fmt.Errorf("%w: DATA pin %q not found", p25kfd.ErrInvalidPin, dataPin)
	}
	sense := gpioreg.ByName(sensePin)
	if sense == nil {
		return nil, fmt.Errorf("%w: SENSE pin %q not found", p25kfd.ErrInvalidPin, sensePin)
	}

	d := &Driver{data: data, sense: sense}
	if err := d.DataIdle(); err != nil {
		return nil, err
	}
	if err := d.SenseDisconnect(); err != nil {
		return nil, err
	}
	return d, nil
}

// OpenWithLines wraps two already-resolved gpio.PinIO values, for callers
// that manage pin resolution themselves (e.g. tests substituting a
// periph.io GPIO simulator).
func OpenWithLines(data, sense gpio.PinIO) *Driver {
	return &Driver{data: data, sense: sense}
}

func (d *Driver) DataBusy() error {
	if err := d.data.Out(gpio.Low); err != nil {
		return fmt.Errorf("DATA busy: %w", err)
	}
	return nil
}

func (d *Driver) DataIdle() error {
	if err := d.data.In(gpio.PullUp, gpio.NoEdge); err != nil {
		return fmt.Errorf("DATA idle: %w", err)
	}
	return nil
}

func (d *Driver) DataIsBusy() (bool, error) {
	return d.data.Read() == gpio.Low, nil
}

func (d *Driver) DataIsIdle() (bool, error) {
	return d.data.Read() == gpio.High, nil
}

func (d *Driver) SenseConnect() error {
	if err := d.sense.Out(gpio.Low); err != nil {
		return fmt.Errorf("SENSE connect: %w", err)
	}
	return nil
}

func (d *Driver) SenseDisconnect() error {
	if err := d.sense.Out(gpio.High); err != nil {
		return fmt.Errorf("SENSE disconnect: %w", err)
	}
	return nil
}

func (d *Driver) SenseIsConnected() (bool, error) {
	return d.sense.Read() == gpio.Low, nil
}

func (d *Driver) SenseIsDisconnected() (bool, error) {
	return d.sense.Read() == gpio.High, nil
}

// Close releases both pins to a safe high-impedance/idle state.
func (d *Driver) Close() error {
	if err := d.DataIdle(); err != nil {
		return err
	}
	return d.SenseDisconnect()
}
