package p25kfd

import (
	"time"

	"github.com/kfdcore/go-p25kfd/internal/twi"
)

// ByteFramer serializes and deserializes single octets on the DATA line,
// and emits the raw key-signature wake pulse that precedes every session -
// both operations need direct, timed control of the line rather than the
// higher-level envelope framing the session link builds on top.
type ByteFramer struct {
	line     LineDriver
	clock    Clock
	critical CriticalSection
	cfg      *Config
}

// NewByteFramer builds a ByteFramer over line, ticking against clock and
// bracketing each transmitted/received byte with critical.
func NewByteFramer(line LineDriver, clock Clock, critical CriticalSection, cfg *Config) *ByteFramer {
	return &ByteFramer{line: line, clock: clock, critical: critical, cfg: cfg}
}

// SendKeySignature emits the wake pattern that precedes every session:
// SENSE asserted LOW, DATA driven BUSY for exactly 100ms, then released
// IDLE for 5ms. There is no inter-pulse train and no programmable gap
// before whatever the caller sends next.
func (f *ByteFramer) SendKeySignature() error {
	if err := f.line.SenseConnect(); err != nil {
		return err
	}
	if err := f.line.DataBusy(); err != nil {
		return err
	}
	f.critical.Enter()
	f.clock.BusyWaitUntil(f.clock.Now().Add(100 * time.Millisecond))
	f.critical.Exit()

	if err := f.line.DataIdle(); err != nil {
		return err
	}
	f.critical.Enter()
	f.clock.BusyWaitUntil(f.clock.Now().Add(5 * time.Millisecond))
	f.critical.Exit()
	return nil
}

// SendKeySignatureAndReadyReq emits the key signature immediately followed
// by the READY_REQ octet, with no gap between them, matching the combined
// fast-path the session link's handshake retry loop uses.
func (f *ByteFramer) SendKeySignatureAndReadyReq() error {
	if err := f.SendKeySignature(); err != nil {
		return err
	}
	return f.TransmitByte(twi.OpReadyReq)
}

// TransmitByte frames and sends one octet: a LOW start cell, eight
// bit-reversed data cells (LSB-first, 1=IDLE/HIGH, 0=BUSY/LOW), one parity
// cell computed over the unreversed input octet, four stop cells at the
// configured polarity, then a return to IDLE and, unless FastSend is set, a
// two-bit-period inter-byte gap.
func (f *ByteFramer) TransmitByte(b byte) error {
	period := f.cfg.TXBitPeriod()
	reversed := twi.ReverseBits(b)
	parityHigh := !twi.EvenParity(b)

	f.critical.Enter()
	defer f.critical.Exit()

	if err := f.sendCell(false, period); err != nil { // start bit: LOW
		return err
	}

	for i := 0; i < 8; i++ {
		bit := (reversed>>i)&1 == 1
		if err := f.sendCell(bit, period); err != nil {
			return err
		}
	}

	if err := f.sendCell(parityHigh, period); err != nil {
		return err
	}

	stopHigh := f.cfg.StopBits == StopBitsIdle
	for i := 0; i < 4; i++ {
		if err := f.sendCell(stopHigh, period); err != nil {
			return err
		}
	}

	if err := f.line.DataIdle(); err != nil {
		return err
	}

	if !f.cfg.FastSend {
		f.clock.BusyWaitUntil(f.clock.Now().Add(2 * period))
	}
	return nil
}

// sendCell drives DATA for one bit period: high means release to IDLE, low
// means assert BUSY.
func (f *ByteFramer) sendCell(high bool, period time.Duration) error {
	deadline := f.clock.Now().Add(period)
	if high {
		if err := f.line.DataIdle(); err != nil {
			return err
		}
	} else {
		if err := f.line.DataBusy(); err != nil {
			return err
		}
	}
	f.clock.BusyWaitUntil(deadline)
	return nil
}

// ReceiveKeySignature waits up to timeout for DATA to go BUSY, then waits
// for it to release back to IDLE, without attempting to decode any bit
// cells. The wake pulse SendKeySignature emits carries no data - a
// byte-level read would misinterpret its 100ms hold as a garbled
// start/data/parity sequence, so a peer detecting the start of a session
// must wait out the pulse here before switching to ReceiveByte for the
// READY_REQ octet that follows it.
func (f *ByteFramer) ReceiveKeySignature(timeout time.Duration) error {
	deadline := f.clock.Now().Add(timeout)

	busy, err := f.line.DataIsBusy()
	if err != nil {
		return err
	}
	for !busy {
		if f.clock.Now().After(deadline) {
			return ErrProtocolTimeout
		}
		if busy, err = f.line.DataIsBusy(); err != nil {
			return err
		}
	}

	idle, err := f.line.DataIsIdle()
	if err != nil {
		return err
	}
	for !idle {
		if f.clock.Now().After(deadline) {
			return ErrProtocolTimeout
		}
		if idle, err = f.line.DataIsIdle(); err != nil {
			return err
		}
	}
	return nil
}

// ReceiveByte waits up to timeout for a start bit, then samples the nine
// bit cells that follow it (8 data, parity - the framer discards the stop
// cells' values but still drains them) and returns the decoded octet.
// A parity mismatch is logged but does not fail the read; the session
// link's CRC is authoritative per the error-handling design.
func (f *ByteFramer) ReceiveByte(timeout time.Duration) (byte, error) {
	deadline := f.clock.Now().Add(timeout)
	entryLow, err := f.line.DataIsBusy()
	if err != nil {
		return 0, err
	}
	low := entryLow
	for !low {
		if f.clock.Now().After(deadline) {
			return 0, ErrProtocolTimeout
		}
		low, err = f.line.DataIsBusy()
		if err != nil {
			return 0, err
		}
	}

	period := f.cfg.RXBitPeriod()

	f.critical.Enter()
	defer f.critical.Exit()

	if !entryLow {
		f.clock.BusyWaitUntil(f.clock.Now().Add(period / 2))
	}

	// Cell 0 is the start bit; already consumed by the edge wait above.
	var reversed byte
	for i := 0; i < 8; i++ {
		bit, err := f.sampleCell(period)
		if err != nil {
			return 0, err
		}
		if bit {
			reversed |= 1 << i
		}
	}

	parityBit, err := f.sampleCell(period)
	if err != nil {
		return 0, err
	}

	value := twi.ReverseBits(reversed)
	if !twi.EvenParity(value) != parityBit {
		Debugf("parity mismatch on received byte 0x%02X", value)
	}

	f.drainStopCells()
	return value, nil
}

func (f *ByteFramer) sampleCell(period time.Duration) (bool, error) {
	deadline := f.clock.Now().Add(period)
	f.clock.BusyWaitUntil(deadline)
	return f.line.DataIsIdle()
}

// drainStopCells waits up to 50ms for the line to return IDLE, absorbing
// the stop cells before the next byte can be received.
func (f *ByteFramer) drainStopCells() {
	deadline := f.clock.Now().Add(50 * time.Millisecond)
	for {
		idle, err := f.line.DataIsIdle()
		if err != nil || idle || f.clock.Now().After(deadline) {
			return
		}
	}
}
