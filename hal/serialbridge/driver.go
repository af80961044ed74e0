// Package serialbridge implements p25kfd.LineDriver on top of a USB-serial
// adapter's modem-control lines: RTS drives DATA, DTR drives SENSE, and CTS
// /DSR read back what's actually on the wire. This is the bridge most
// off-the-shelf USB-to-TTL dongles support without a dedicated GPIO header,
// at the cost of the bit timing accuracy a direct GPIO line driver gives
// hal/gpioline.
package serialbridge

import (
	"fmt"

	"go.bug.st/serial"
)

// Driver bit-bangs the three-wire interface over a serial port's RTS/DTR
// output lines and CTS/DSR input lines.
type Driver struct {
	port serial.Port
}

// Open claims portName (e.g. "/dev/ttyUSB0" or "COM3") and configures it
// for modem-control bit-banging: baud rate is irrelevant since no UART
// framing is used, but a port must still be opened at some rate to claim
// the RTS/DTR lines.
func Open(portName string) (*Driver, error) {
	port, err := serial.Open(portName, &serial.Mode{
		BaudRate: 9600,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
	}

	d := &Driver{port: port}
	if err := d.DataIdle(); err != nil {
		_ = port.Close()
		return nil, err
	}
	if err := d.SenseDisconnect(); err != nil {
		_ = port.Close()
		return nil, err
	}
	return d, nil
}

// RTS asserted (true) pulls DATA low; released lets the adapter's pull-up
// or the peer win, matching the open-collector semantics LineDriver
// documents.
func (d *Driver) DataBusy() error {
	if err := d.port.SetRTS(true); err != nil {
		return fmt.Errorf("DATA busy: %w", err)
	}
	return nil
}

func (d *Driver) DataIdle() error {
	if err := d.port.SetRTS(false); err != nil {
		return fmt.Errorf("DATA idle: %w", err)
	}
	return nil
}

// DataIsBusy reads back CTS, the input pin most USB-serial adapters wire to
// the line a bit-bang driver is sharing with a peer.
func (d *Driver) DataIsBusy() (bool, error) {
	bits, err := d.port.GetModemStatusBits()
	if err != nil {
		return false, fmt.Errorf("DATA read: %w", err)
	}
	return !bits.CTS, nil
}

func (d *Driver) DataIsIdle() (bool, error) {
	busy, err := d.DataIsBusy()
	return !busy, err
}

func (d *Driver) SenseConnect() error {
	if err := d.port.SetDTR(true); err != nil {
		return fmt.Errorf("SENSE connect: %w", err)
	}
	return nil
}

func (d *Driver) SenseDisconnect() error {
	if err := d.port.SetDTR(false); err != nil {
		return fmt.Errorf("SENSE disconnect: %w", err)
	}
	return nil
}

func (d *Driver) SenseIsConnected() (bool, error) {
	bits, err := d.port.GetModemStatusBits()
	if err != nil {
		return false, fmt.Errorf("SENSE read: %w", err)
	}
	return !bits.DSR, nil
}

func (d *Driver) SenseIsDisconnected() (bool, error) {
	conn, err := d.SenseIsConnected()
	return !conn, err
}

// Close releases the serial port.
func (d *Driver) Close() error {
	if err := d.port.Close(); err != nil {
		return fmt.Errorf("serial close failed: %w", err)
	}
	return nil
}
