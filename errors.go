package p25kfd

import (
	"errors"
	"fmt"
)

// Sentinel errors, one family per error-handling kind this module
// distinguishes. Wrap these with fmt.Errorf("...: %w", ErrX) or use the
// New*Error constructors below to attach operation context.
var (
	// Configuration errors - not recoverable without correcting input.
	ErrInvalidPin       = errors.New("invalid GPIO pin configuration")
	ErrUnsupportedBaud  = errors.New("unsupported line speed")
	ErrKeyLengthMismatch = errors.New("key material length does not match algorithm")
	ErrInvalidAlgorithm = errors.New("unrecognized algorithm identifier")
	ErrInvalidSLN       = errors.New("storage location number out of range")
	ErrInvalidParameter = errors.New("invalid parameter")

	// Line fault - raised only by explicit self-test.
	ErrLineFault = errors.New("line fault detected")

	// Handshake - three READY_REQ attempts elicited no response.
	ErrHandshakeTimeout = errors.New("handshake timeout: no READY response")

	// Protocol timeout - peer did not respond to a KMM within the operation
	// timeout.
	ErrProtocolTimeout = errors.New("protocol timeout: no response from peer")

	// Protocol violation - unexpected opcode, bad length field, CRC mismatch.
	ErrUnexpectedOpcode  = errors.New("unexpected opcode from peer")
	ErrInvalidFrameLength = errors.New("invalid frame length")
	ErrCRCMismatch       = errors.New("CRC mismatch")

	// Negative acknowledgment - peer rejected the operation outright.
	ErrNegativeAck = errors.New("peer returned negative acknowledgment")

	// Per-key rejection - inside a RekeyAck, one key's status was not
	// success.
	ErrKeyRejected = errors.New("peer rejected key")

	// Aborted - user requested cancellation.
	ErrAborted = errors.New("operation aborted")

	// Session invariants.
	ErrSessionInProgress = errors.New("a session is already in progress")
	ErrNotReady          = errors.New("session is not in the Ready state")
)

// ProtocolError wraps a sentinel error with the operation and any raw bytes
// that triggered it, mirroring the taxonomy in the error-handling design:
// every failure reaches the caller tagged with enough context to log without
// re-deriving it.
type ProtocolError struct {
	Err       error
	Op        string
	RawBytes  []byte
	Retryable bool
}

func (e *ProtocolError) Error() string {
	if len(e.RawBytes) > 0 {
		return fmt.Sprintf("%s: %v (% X)", e.Op, e.Err, e.RawBytes)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// NewProtocolError builds a *ProtocolError for op wrapping err, without raw
// bytes.
func NewProtocolError(op string, err error, retryable bool) *ProtocolError {
	return &ProtocolError{Op: op, Err: err, Retryable: retryable}
}

// NewProtocolErrorWithBytes attaches the offending raw bytes for
// diagnostics, e.g. a frame that failed its CRC check.
func NewProtocolErrorWithBytes(op string, err error, raw []byte, retryable bool) *ProtocolError {
	return &ProtocolError{Op: op, Err: err, RawBytes: raw, Retryable: retryable}
}

// IsRetryable reports whether err (or a *ProtocolError wrapping it) should
// be retried by RetryWithConfig. The session's handshake loop does not
// consult it.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	switch {
	case errors.Is(err, ErrHandshakeTimeout),
		errors.Is(err, ErrProtocolTimeout),
		errors.Is(err, ErrCRCMismatch):
		return true
	default:
		return false
	}
}

// IsAborted reports whether err represents user cancellation rather than a
// genuine failure, so callers can suppress error dialogs for it.
func IsAborted(err error) bool {
	return errors.Is(err, ErrAborted)
}

// Result is the tagged (success, message, status) triple every public
// operation returns instead of a bare error. Nothing inside the core is
// caught and discarded; a failing internal call is always translated into a
// Result at the public boundary.
type Result struct {
	Message string
	Status  byte
	Success bool
}

// Ok builds a successful Result with the given TIA status code (usually
// 0x00, but e.g. 0x04 for "key previously erased").
func Ok(message string, status byte) Result {
	return Result{Success: true, Message: message, Status: status}
}

// Fail builds a failed Result. status is the TIA status code if one was
// returned by the peer, or 0xFF if the failure is local (timeout, CRC,
// abort).
func Fail(message string, status byte) Result {
	return Result{Success: false, Message: message, Status: status}
}

// FailErr builds a failed Result from a Go error, using its message text.
func FailErr(err error, status byte) Result {
	return Result{Success: false, Message: err.Error(), Status: status}
}
