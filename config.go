package p25kfd

import (
	"fmt"
	"time"
)

// StopBitPolarity selects how the byte framer's four stop cells are driven.
type StopBitPolarity int

const (
	// StopBitsBusy drives all four stop cells LOW, matching KFDtool's
	// three-wire convention.
	StopBitsBusy StopBitPolarity = iota
	// StopBitsIdle releases all four stop cells HIGH, the standard
	// asynchronous convention.
	StopBitsIdle
)

// Config holds the TWI configuration a session is built from: pin
// identifiers, bit timing, and the two device-dependent knobs the original
// firmware exposed as empirically-tuned settings rather than constants.
type Config struct {
	DataPin string
	SensePin string

	// TXKilobaud/RXKilobaud select the bit period in microseconds as
	// 1000/kilobaud, matching the source's txKilobaud/rxKilobaud fields.
	// Typical range is 2-9 kilobaud; the default of 4 gives a 250us cell.
	TXKilobaud int
	RXKilobaud int

	StopBits StopBitPolarity

	// PostReadyDelay is held after the peer acknowledges READY_REQ, before
	// the first KMM octet is sent. Device-dependent; defaults to 0 per the
	// source. See the design note on this being left as a knob rather than
	// hard-coded.
	PostReadyDelay time.Duration

	// FastSend skips per-byte inter-byte gap enforcement for back-to-back
	// transmission of an entire frame, mirroring the source's
	// sendBytesFast fast-path.
	FastSend bool
}

// DefaultConfig returns the configuration this module's teacher hardware
// ships with: 4 kbaud both directions, KFDtool-compatible BUSY stop bits,
// no post-ready delay.
func DefaultConfig() *Config {
	return &Config{
		TXKilobaud: 4,
		RXKilobaud: 4,
		StopBits:   StopBitsBusy,
	}
}

// Option configures a Config at construction time.
type Option func(*Config) error

// WithPins sets the DATA and SENSE pin identifiers, resolved by hal/gpioline
// via periph.io/x/conn/v3/gpio/gpioreg.ByName.
func WithPins(dataPin, sensePin string) Option {
	return func(c *Config) error {
		if dataPin == "" || sensePin == "" {
			return fmt.Errorf("%w: pin identifiers must not be empty", ErrInvalidPin)
		}
		c.DataPin = dataPin
		c.SensePin = sensePin
		return nil
	}
}

// WithTXKilobaud sets the transmit line speed.
func WithTXKilobaud(kbaud int) Option {
	return func(c *Config) error {
		if kbaud < 2 || kbaud > 9 {
			return fmt.Errorf("%w: %d kbaud", ErrUnsupportedBaud, kbaud)
		}
		c.TXKilobaud = kbaud
		return nil
	}
}

// WithRXKilobaud sets the receive line speed.
func WithRXKilobaud(kbaud int) Option {
	return func(c *Config) error {
		if kbaud < 2 || kbaud > 9 {
			return fmt.Errorf("%w: %d kbaud", ErrUnsupportedBaud, kbaud)
		}
		c.RXKilobaud = kbaud
		return nil
	}
}

// WithStopBitPolarity sets the framer's stop-cell convention.
func WithStopBitPolarity(p StopBitPolarity) Option {
	return func(c *Config) error {
		c.StopBits = p
		return nil
	}
}

// WithPostReadyDelay sets the hold delay after the READY handshake.
func WithPostReadyDelay(d time.Duration) Option {
	return func(c *Config) error {
		c.PostReadyDelay = d
		return nil
	}
}

// WithFastSend enables or disables the fast-send framing path.
func WithFastSend(enabled bool) Option {
	return func(c *Config) error {
		c.FastSend = enabled
		return nil
	}
}

// TXBitPeriod returns the transmit bit-cell width.
func (c *Config) TXBitPeriod() time.Duration {
	return time.Duration(1000/c.TXKilobaud) * time.Microsecond
}

// RXBitPeriod returns the receive bit-cell width.
func (c *Config) RXBitPeriod() time.Duration {
	return time.Duration(1000/c.RXKilobaud) * time.Microsecond
}
