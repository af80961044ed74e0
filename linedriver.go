package p25kfd

import "sync"

// LineDriver presents a narrow, side-effect-free interface over the two
// general-purpose digital pins of the three-wire interface. DATA is an
// open-collector-style shared wire: both ends may drive it LOW, neither may
// drive it HIGH. "Busy" means assert LOW; "idle" means release and let the
// pull-up resistor win. The interface forbids the illegal "drive HIGH"
// state by construction - there is no DataHigh method.
type LineDriver interface {
	// DataBusy configures DATA as a driven output at logic LOW.
	DataBusy() error
	// DataIdle configures DATA as a high-impedance input with an enabled
	// pull-up, so the line floats HIGH.
	DataIdle() error
	// DataIsBusy samples DATA; true if driven LOW by either end.
	DataIsBusy() (bool, error)
	// DataIsIdle samples DATA; true if HIGH. Exactly one of DataIsBusy and
	// DataIsIdle is true at any instant.
	DataIsIdle() (bool, error)

	// SenseConnect drives SENSE LOW, signaling the peer that a KFD is
	// physically attached.
	SenseConnect() error
	// SenseDisconnect drives SENSE HIGH.
	SenseDisconnect() error
	SenseIsConnected() (bool, error)
	SenseIsDisconnected() (bool, error)

	// Close releases both pins.
	Close() error
}

// MockLineDriver is an in-memory LineDriver for unit tests of the byte
// framer, session link, and KMM protocol layers above it, mirroring the
// call-count/error-injection shape of a table-driven mock transport.
type MockLineDriver struct {
	mu          sync.Mutex
	dataBusy    bool
	senseConn   bool
	dataErr     error
	senseErr    error
	closed      bool
	dataCalls   int
	senseCalls  int
}

// NewMockLineDriver returns a MockLineDriver with DATA idle and SENSE
// disconnected, matching power-on defaults.
func NewMockLineDriver() *MockLineDriver {
	return &MockLineDriver{}
}

func (m *MockLineDriver) DataBusy() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dataCalls++
	if m.dataErr != nil {
		return m.dataErr
	}
	m.dataBusy = true
	return nil
}

func (m *MockLineDriver) DataIdle() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dataCalls++
	if m.dataErr != nil {
		return m.dataErr
	}
	m.dataBusy = false
	return nil
}

func (m *MockLineDriver) DataIsBusy() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dataErr != nil {
		return false, m.dataErr
	}
	return m.dataBusy, nil
}

func (m *MockLineDriver) DataIsIdle() (bool, error) {
	busy, err := m.DataIsBusy()
	return !busy, err
}

func (m *MockLineDriver) SenseConnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.senseCalls++
	if m.senseErr != nil {
		return m.senseErr
	}
	m.senseConn = true
	return nil
}

func (m *MockLineDriver) SenseDisconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.senseCalls++
	if m.senseErr != nil {
		return m.senseErr
	}
	m.senseConn = false
	return nil
}

func (m *MockLineDriver) SenseIsConnected() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.senseErr != nil {
		return false, m.senseErr
	}
	return m.senseConn, nil
}

func (m *MockLineDriver) SenseIsDisconnected() (bool, error) {
	conn, err := m.SenseIsConnected()
	return !conn, err
}

func (m *MockLineDriver) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// SetDataError injects an error returned by every DATA operation.
func (m *MockLineDriver) SetDataError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dataErr = err
}

// SetSenseError injects an error returned by every SENSE operation.
func (m *MockLineDriver) SetSenseError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.senseErr = err
}

// DataCallCount returns how many times a DATA method was invoked.
func (m *MockLineDriver) DataCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dataCalls
}

// IsClosed reports whether Close was called.
func (m *MockLineDriver) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
