package p25kfd

import (
	"testing"
	"time"

	testutil "github.com/kfdcore/go-p25kfd/internal/testing"
	"github.com/kfdcore/go-p25kfd/internal/twi"
	"github.com/stretchr/testify/require"
)

func newTestSession(t *testing.T, kind testutil.RadioKind) (*Session, *testutil.VirtualRadio, func()) {
	t.Helper()
	cfg := DefaultConfig()
	bus := testutil.NewSharedBus()
	radio := testutil.NewVirtualRadio(bus, kind, cfg)
	radio.Run()

	session := NewSession(bus.KFDEnd(), RealClock(), NoopCriticalSection{}, cfg)
	return session, radio, radio.Stop
}

func TestSessionBeginSessionMobileRadio(t *testing.T) {
	t.Parallel()
	session, _, stop := newTestSession(t, testutil.RadioMobileRadio)
	defer stop()

	require.NoError(t, session.BeginSession())
	require.Equal(t, StateReady, session.State())
	require.Equal(t, PeerMobileRadio, session.Peer())
}

func TestSessionBeginSessionKVL(t *testing.T) {
	t.Parallel()
	session, _, stop := newTestSession(t, testutil.RadioKVL)
	defer stop()

	require.NoError(t, session.BeginSession())
	require.Equal(t, PeerKVL, session.Peer())
}

func TestSessionBeginSessionRetriesThenSucceeds(t *testing.T) {
	t.Parallel()
	session, radio, stop := newTestSession(t, testutil.RadioMobileRadio)
	defer stop()

	radio.DropNextReady()
	require.NoError(t, session.BeginSession())
	require.Equal(t, StateReady, session.State())
}

func TestSessionBeginSessionRejectsConcurrentUse(t *testing.T) {
	t.Parallel()
	session, _, stop := newTestSession(t, testutil.RadioMobileRadio)
	defer stop()

	require.NoError(t, session.begin())
	err := session.BeginSession()
	require.ErrorIs(t, err, ErrSessionInProgress)
}

func TestSessionSendReceiveKMMRoundTrip(t *testing.T) {
	t.Parallel()
	session, _, stop := newTestSession(t, testutil.RadioMobileRadio)
	defer stop()

	require.NoError(t, session.BeginSession())

	body := BuildZeroizeCommand()
	kmm := wrapKMM(twi.MsgZeroizeCmd, body)
	resp, err := session.Exchange(kmm, KMMResponseTimeout)
	require.NoError(t, err)
	require.NotEmpty(t, resp)
	require.Equal(t, twi.MsgZeroizeRsp, resp[0])
}

func TestSessionReceiveKMMCRCMismatch(t *testing.T) {
	t.Parallel()
	session, radio, stop := newTestSession(t, testutil.RadioMobileRadio)
	defer stop()

	require.NoError(t, session.BeginSession())
	radio.CorruptNextCRC()

	kmm := wrapKMM(twi.MsgZeroizeCmd, BuildZeroizeCommand())
	_, err := session.Exchange(kmm, KMMResponseTimeout)
	require.ErrorIs(t, err, ErrCRCMismatch)
}

func TestSessionEndSessionReturnsToIdle(t *testing.T) {
	t.Parallel()
	session, _, stop := newTestSession(t, testutil.RadioMobileRadio)
	defer stop()

	require.NoError(t, session.BeginSession())
	require.NoError(t, session.EndSession())
	require.Equal(t, StateIdle, session.State())
	require.False(t, session.IsOperationInProgress())
}

func TestSessionSendKMMBeforeReadyFails(t *testing.T) {
	t.Parallel()
	line := NewMockLineDriver()
	session := NewSession(line, RealClock(), NoopCriticalSection{}, DefaultConfig())

	err := session.SendKMM(wrapKMM(twi.MsgZeroizeCmd, BuildZeroizeCommand()))
	require.ErrorIs(t, err, ErrNotReady)
}

func TestSessionBeginSessionClearsStaleAbort(t *testing.T) {
	t.Parallel()
	session, _, stop := newTestSession(t, testutil.RadioMobileRadio)
	defer stop()

	session.Abort()
	require.True(t, session.aborted())

	// begin() clears any stale abort flag from a previous operation.
	require.NoError(t, session.BeginSession())
	require.False(t, session.aborted())
}

func TestSessionBeginSessionTimesOutWithNoPeer(t *testing.T) {
	t.Parallel()
	line := NewMockLineDriver() // nothing ever answers
	cfg := DefaultConfig()
	session := NewSession(line, RealClock(), NoopCriticalSection{}, cfg)

	start := time.Now()
	err := session.BeginSession()
	require.Error(t, err)
	require.ErrorIs(t, err, ErrHandshakeTimeout)
	require.False(t, session.IsOperationInProgress())
	require.Less(t, time.Since(start), 30*time.Second)
}
