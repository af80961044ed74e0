package p25kfd

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/kfdcore/go-p25kfd/internal/syncutil"
	"github.com/kfdcore/go-p25kfd/internal/twi"
)

// SessionState is one of {Idle, KeySigSent, Ready, KmmExchange, TearDown}.
// A session is transient: it lives only for one operation on one target
// radio and must return to Idle before the next.
type SessionState int

const (
	StateIdle SessionState = iota
	StateKeySigSent
	StateReady
	StateKmmExchange
	StateTearDown
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateKeySigSent:
		return "KeySigSent"
	case StateReady:
		return "Ready"
	case StateKmmExchange:
		return "KmmExchange"
	case StateTearDown:
		return "TearDown"
	default:
		return "Unknown"
	}
}

// PeerType identifies who answered the READY handshake.
type PeerType int

const (
	PeerUnknown PeerType = iota
	PeerMobileRadio
	PeerKVL
)

// Session owns exactly one Line Driver/Byte Framer pair and carries out one
// TWI conversation at a time; ErrSessionInProgress guards the "only one
// session at a time" invariant.
type Session struct {
	framer *ByteFramer
	line   LineDriver
	cfg    *Config

	// mu guards the state/peer/inFlight triple below; the abort flag is
	// separate and lock-free since it must be settable from another
	// goroutine while a session is blocked inside a byte-timed read.
	mu       syncutil.Mutex
	state    SessionState
	peer     PeerType
	inFlight bool
	abort    atomic.Bool
}

// NewSession builds a Session over line, using cfg for timing.
func NewSession(line LineDriver, clock Clock, critical CriticalSection, cfg *Config) *Session {
	return &Session{
		framer: NewByteFramer(line, clock, critical, cfg),
		line:   line,
		cfg:    cfg,
		state:  StateIdle,
	}
}

// State returns the current SessionState.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(state SessionState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// IsOperationInProgress reports whether a session-owning operation is
// currently running.
func (s *Session) IsOperationInProgress() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

// Abort requests cancellation. The session checks this flag between key
// items in multi-key operations and between send and receive within a
// single exchange, then jumps directly to teardown.
func (s *Session) Abort() { s.abort.Store(true) }

func (s *Session) aborted() bool { return s.abort.Load() }

// begin marks the session in-flight and clears any stale abort flag from a
// previous operation; it fails fast if another operation is already
// running.
func (s *Session) begin() error {
	s.mu.Lock()
	if s.inFlight {
		s.mu.Unlock()
		return ErrSessionInProgress
	}
	s.inFlight = true
	s.mu.Unlock()
	s.abort.Store(false)
	return nil
}

func (s *Session) end() {
	s.mu.Lock()
	s.state = StateIdle
	s.inFlight = false
	s.mu.Unlock()
}

// BeginSession runs the key-signature + READY_REQ handshake, retrying up to
// HandshakeMaxAttempts times with HandshakeRetryPause between attempts. On
// success the session becomes Ready and Peer() reports which kind of
// device answered.
func (s *Session) BeginSession() error {
	if err := s.begin(); err != nil {
		return err
	}
	s.setState(StateKeySigSent)

	var lastErr error
	for attempt := 1; attempt <= HandshakeMaxAttempts; attempt++ {
		if err := s.framer.SendKeySignatureAndReadyReq(); err != nil {
			s.end()
			return NewProtocolError("BeginSession", err, false)
		}

		b, err := s.framer.ReceiveByte(HandshakeReadyTimeout)
		if err == nil {
			var peer PeerType
			switch b {
			case twi.OpReadyMR:
				peer = PeerMobileRadio
			case twi.OpReadyKVL:
				peer = PeerKVL
			default:
				s.end()
				return NewProtocolErrorWithBytes("BeginSession", ErrUnexpectedOpcode, []byte{b}, false)
			}
			s.mu.Lock()
			s.peer = peer
			s.state = StateReady
			s.mu.Unlock()
			if s.cfg.PostReadyDelay > 0 {
				time.Sleep(s.cfg.PostReadyDelay)
			}
			return nil
		}
		lastErr = err

		if attempt < HandshakeMaxAttempts {
			time.Sleep(HandshakeRetryPause)
		}
	}

	s.end()
	return NewProtocolError("BeginSession", fmt.Errorf("%w: %v", ErrHandshakeTimeout, lastErr), false)
}

// Peer reports which kind of device answered the handshake.
func (s *Session) Peer() PeerType {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peer
}

// SendKMM wraps kmm in the TWI envelope (opcode 0xC2, big-endian length,
// control+dest_rsi+kmm body, low-byte-first CRC-16) and transmits it
// octet-by-octet.
func (s *Session) SendKMM(kmm []byte) error {
	if st := s.State(); st != StateReady && st != StateKmmExchange {
		return NewProtocolError("SendKMM", ErrNotReady, false)
	}
	s.setState(StateKmmExchange)

	body := make([]byte, 0, 4+len(kmm))
	body = append(body, 0x00) // control
	body = append(body, twi.BroadcastRSI[:]...)
	body = append(body, kmm...)

	crc := twi.CRC16(body)
	frame := make([]byte, 0, 3+len(body)+2)
	frame = append(frame, twi.OpKMM)
	length := uint16(len(body) + 2) //nolint:gosec // body length is bounded by KMM message construction
	frame = append(frame, byte(length>>8), byte(length))
	frame = append(frame, body...)
	frame = append(frame, byte(crc), byte(crc>>8))

	for _, b := range frame {
		if err := s.framer.TransmitByte(b); err != nil {
			return NewProtocolError("SendKMM", err, false)
		}
	}
	return nil
}

// ReceiveKMM reads one TWI envelope frame back, verifies its CRC, and
// returns the inner kmm payload (control and dest_rsi stripped).
func (s *Session) ReceiveKMM(timeout time.Duration) ([]byte, error) {
	if s.State() != StateKmmExchange {
		return nil, NewProtocolError("ReceiveKMM", ErrNotReady, false)
	}

	opcode, err := s.framer.ReceiveByte(timeout)
	if err != nil {
		return nil, NewProtocolError("ReceiveKMM", fmt.Errorf("%w: %v", ErrProtocolTimeout, err), true)
	}
	if opcode != twi.OpKMM {
		return nil, NewProtocolErrorWithBytes("ReceiveKMM", ErrUnexpectedOpcode, []byte{opcode}, false)
	}

	lenHi, err := s.framer.ReceiveByte(timeout)
	if err != nil {
		return nil, NewProtocolError("ReceiveKMM", err, true)
	}
	lenLo, err := s.framer.ReceiveByte(timeout)
	if err != nil {
		return nil, NewProtocolError("ReceiveKMM", err, true)
	}
	length := binary.BigEndian.Uint16([]byte{lenHi, lenLo})
	if length < 6 || length > 512 {
		return nil, NewProtocolErrorWithBytes("ReceiveKMM", ErrInvalidFrameLength, []byte{lenHi, lenLo}, false)
	}

	body := make([]byte, length)
	for i := range body {
		b, err := s.framer.ReceiveByte(timeout)
		if err != nil {
			return nil, NewProtocolError("ReceiveKMM", err, true)
		}
		body[i] = b
	}

	payload := body[:len(body)-2]
	gotCRC := uint16(body[len(body)-2]) | uint16(body[len(body)-1])<<8
	wantCRC := twi.CRC16(payload)
	if gotCRC != wantCRC {
		return nil, NewProtocolErrorWithBytes("ReceiveKMM", ErrCRCMismatch, body, false)
	}

	// payload = control(1) + dest_rsi(3) + kmm(N)
	if len(payload) < 4 {
		return nil, NewProtocolErrorWithBytes("ReceiveKMM", ErrInvalidFrameLength, payload, false)
	}
	return payload[4:], nil
}

// Exchange sends kmm and waits for the response, the single request/response
// step every KMM Protocol operation is built from.
func (s *Session) Exchange(kmm []byte, timeout time.Duration) ([]byte, error) {
	if err := s.SendKMM(kmm); err != nil {
		return nil, err
	}
	if s.aborted() {
		return nil, NewProtocolError("Exchange", ErrAborted, false)
	}
	return s.ReceiveKMM(timeout)
}

// EndSession runs the teardown sequence (TRANSFER_DONE exchange, then
// DISCONNECT/DISCONNECT_ACK with the ack wait tolerated on timeout) and
// returns the session to Idle. SENSE is left asserted LOW; the physical
// interface stays enabled between sessions.
func (s *Session) EndSession() error {
	defer s.end()
	s.setState(StateTearDown)

	if err := s.framer.TransmitByte(twi.OpTransferDone); err != nil {
		return NewProtocolError("EndSession", err, false)
	}
	if b, err := s.framer.ReceiveByte(TeardownTransferDoneTimeout); err != nil || b != twi.OpTransferDone {
		Debugf("teardown: TRANSFER_DONE echo missing or mismatched (byte=%02X err=%v)", b, err)
	}

	if err := s.framer.TransmitByte(twi.OpDisconnect); err != nil {
		return NewProtocolError("EndSession", err, false)
	}
	if _, err := s.framer.ReceiveByte(TeardownDisconnectAckTimeout); err != nil {
		Debugf("teardown: DISCONNECT_ACK not received (tolerated): %v", err)
	}
	return nil
}
