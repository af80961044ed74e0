package p25kfd

import (
	"testing"
	"time"

	testutil "github.com/kfdcore/go-p25kfd/internal/testing"
	"github.com/kfdcore/go-p25kfd/internal/twi"
	"github.com/stretchr/testify/require"
)

// instantClock satisfies Clock without any real delay, so tests that only
// care about call ordering (not actual bit timing) run instantly.
type instantClock struct{ now time.Time }

func (c *instantClock) Now() time.Time { return c.now }
func (c *instantClock) BusyWaitUntil(t time.Time) {
	if t.After(c.now) {
		c.now = t
	}
}

func TestByteFramerTransmitReceiveRoundTrip(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		b    byte
	}{
		{"zero", 0x00},
		{"all ones", 0xFF},
		{"alternating a5", 0xA5},
		{"alternating 5a", 0x5A},
		{"single low bit", 0x01},
		{"single high bit", 0x80},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			bus := testutil.NewSharedBus()
			cfg := DefaultConfig()
			tx := NewByteFramer(bus.KFDEnd(), RealClock(), NoopCriticalSection{}, cfg)
			rx := NewByteFramer(bus.RadioEnd(), RealClock(), NoopCriticalSection{}, cfg)

			errCh := make(chan error, 1)
			go func() { errCh <- tx.TransmitByte(tt.b) }()

			got, err := rx.ReceiveByte(2 * time.Second)
			require.NoError(t, err)
			require.NoError(t, <-errCh)
			require.Equal(t, tt.b, got)
		})
	}
}

// levelRecordingLine wraps MockLineDriver and records every DATA level
// commanded, in call order, so a test can assert on the literal cell levels
// TransmitByte drives rather than just the round-tripped value.
type levelRecordingLine struct {
	*MockLineDriver
	levels []bool // true = busy/LOW, false = idle/HIGH
}

func newLevelRecordingLine() *levelRecordingLine {
	return &levelRecordingLine{MockLineDriver: NewMockLineDriver()}
}

func (l *levelRecordingLine) DataBusy() error {
	l.levels = append(l.levels, true)
	return l.MockLineDriver.DataBusy()
}

func (l *levelRecordingLine) DataIdle() error {
	l.levels = append(l.levels, false)
	return l.MockLineDriver.DataIdle()
}

func TestByteFramerTransmitByteParityCellLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name           string
		b              byte
		wantParityHigh bool
	}{
		{"even population count drives parity low", 0x03, false},
		{"odd population count drives parity high", 0x01, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			line := newLevelRecordingLine()
			f := NewByteFramer(line, &instantClock{now: time.Now()}, NoopCriticalSection{}, DefaultConfig())
			require.NoError(t, f.TransmitByte(tt.b))

			const parityCellIndex = 9 // start(0) + 8 data cells(1-8) + parity(9)
			require.Greater(t, len(line.levels), parityCellIndex)
			parityHigh := !line.levels[parityCellIndex]
			require.Equal(t, tt.wantParityHigh, parityHigh)
		})
	}
}

func TestByteFramerReceiveByteTimeout(t *testing.T) {
	t.Parallel()
	line := NewMockLineDriver() // DATA stays idle forever, nothing ever transmits
	f := NewByteFramer(line, RealClock(), NoopCriticalSection{}, DefaultConfig())

	_, err := f.ReceiveByte(5 * time.Millisecond)
	require.ErrorIs(t, err, ErrProtocolTimeout)
}

func TestByteFramerSendKeySignature(t *testing.T) {
	t.Parallel()
	line := NewMockLineDriver()
	clock := &instantClock{now: time.Now()}
	f := NewByteFramer(line, clock, NoopCriticalSection{}, DefaultConfig())

	require.NoError(t, f.SendKeySignature())

	connected, err := line.SenseIsConnected()
	require.NoError(t, err)
	require.True(t, connected, "SENSE should remain asserted after the key signature")

	idle, err := line.DataIsIdle()
	require.NoError(t, err)
	require.True(t, idle, "DATA should be released after the key signature")
}

func TestByteFramerSendKeySignatureAndReadyReq(t *testing.T) {
	t.Parallel()
	bus := testutil.NewSharedBus()
	cfg := DefaultConfig()
	tx := NewByteFramer(bus.KFDEnd(), RealClock(), NoopCriticalSection{}, cfg)
	rx := NewByteFramer(bus.RadioEnd(), RealClock(), NoopCriticalSection{}, cfg)

	errCh := make(chan error, 1)
	go func() { errCh <- tx.SendKeySignatureAndReadyReq() }()

	require.NoError(t, rx.ReceiveKeySignature(2*time.Second))
	opcode, err := rx.ReceiveByte(2 * time.Second)
	require.NoError(t, err)
	require.NoError(t, <-errCh)
	require.Equal(t, twi.OpReadyReq, opcode)
}

func TestByteFramerReceiveKeySignatureTimesOutWithoutPulse(t *testing.T) {
	t.Parallel()
	line := NewMockLineDriver()
	f := NewByteFramer(line, RealClock(), NoopCriticalSection{}, DefaultConfig())

	err := f.ReceiveKeySignature(5 * time.Millisecond)
	require.ErrorIs(t, err, ErrProtocolTimeout)
}
