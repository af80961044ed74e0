// Package testing provides a bit-level three-wire bus simulator: two
// LineDriver views of one shared DATA/SENSE pair, plus a VirtualRadio that
// answers the KFD side the way a real mobile radio or KVL would, so the
// Byte Framer, Session Link, and KMM Protocol layers can be exercised
// end-to-end without real GPIO hardware.
package testing

import "github.com/kfdcore/go-p25kfd/internal/syncutil"

// SharedBus models the physical DATA/SENSE pair both ends read and write.
// DATA is open-collector: the line reads LOW if either end asserts it, and
// only reads HIGH when both release it. SENSE is driven exclusively by the
// KFD end; the radio end only observes it.
type SharedBus struct {
	mu syncutil.Mutex

	dataDriveKFD   bool // true = asserting BUSY (LOW)
	dataDriveRadio bool
	senseAsserted  bool // true = SENSE driven LOW (connected)
}

// NewSharedBus returns a bus with both DATA drivers released (line IDLE)
// and SENSE disconnected, matching power-on defaults.
func NewSharedBus() *SharedBus {
	return &SharedBus{}
}

func (b *SharedBus) dataLow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dataDriveKFD || b.dataDriveRadio
}

// KFDEnd returns the LineDriver the KFD side of a test uses.
func (b *SharedBus) KFDEnd() *busEnd {
	return &busEnd{bus: b, isKFD: true}
}

// RadioEnd returns the LineDriver a VirtualRadio drives.
func (b *SharedBus) RadioEnd() *busEnd {
	return &busEnd{bus: b, isKFD: false}
}

// busEnd is one side's LineDriver view onto a SharedBus.
type busEnd struct {
	bus   *SharedBus
	isKFD bool
}

func (e *busEnd) DataBusy() error {
	e.bus.mu.Lock()
	if e.isKFD {
		e.bus.dataDriveKFD = true
	} else {
		e.bus.dataDriveRadio = true
	}
	e.bus.mu.Unlock()
	return nil
}

func (e *busEnd) DataIdle() error {
	e.bus.mu.Lock()
	if e.isKFD {
		e.bus.dataDriveKFD = false
	} else {
		e.bus.dataDriveRadio = false
	}
	e.bus.mu.Unlock()
	return nil
}

func (e *busEnd) DataIsBusy() (bool, error) { return e.bus.dataLow(), nil }
func (e *busEnd) DataIsIdle() (bool, error) { return !e.bus.dataLow(), nil }

func (e *busEnd) SenseConnect() error {
	if !e.isKFD {
		return nil // the radio end never drives SENSE
	}
	e.bus.mu.Lock()
	e.bus.senseAsserted = true
	e.bus.mu.Unlock()
	return nil
}

func (e *busEnd) SenseDisconnect() error {
	if !e.isKFD {
		return nil
	}
	e.bus.mu.Lock()
	e.bus.senseAsserted = false
	e.bus.mu.Unlock()
	return nil
}

func (e *busEnd) SenseIsConnected() (bool, error) {
	e.bus.mu.Lock()
	defer e.bus.mu.Unlock()
	return e.bus.senseAsserted, nil
}

func (e *busEnd) SenseIsDisconnected() (bool, error) {
	connected, err := e.SenseIsConnected()
	return !connected, err
}

func (e *busEnd) Close() error { return nil }
