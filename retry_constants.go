package p25kfd

import "time"

// Handshake retry constants govern the READY_REQ retry loop in the session
// link. The peer's timing budget (100ms BUSY + 5ms IDLE key signature, ~2s
// READY wait, 500ms inter-attempt pause) is fixed by the wire protocol, not
// tunable backoff — so this is a flat retry, not exponential.
const (
	// HandshakeMaxAttempts is the number of full key-signature + READY_REQ
	// cycles attempted before surfacing a handshake timeout.
	HandshakeMaxAttempts = 3
	// HandshakeReadyTimeout bounds how long the session link waits for a
	// READY_MR/READY_KVL octet after sending READY_REQ.
	HandshakeReadyTimeout = 2 * time.Second
	// HandshakeRetryPause is the fixed gap between failed handshake
	// attempts.
	HandshakeRetryPause = 500 * time.Millisecond
)

// Session teardown timing.
const (
	// TeardownTransferDoneTimeout bounds the wait for the peer's
	// TRANSFER_DONE echo.
	TeardownTransferDoneTimeout = 1 * time.Second
	// TeardownDisconnectAckTimeout bounds the wait for DISCONNECT_ACK; a
	// timeout here is tolerated, not an error.
	TeardownDisconnectAckTimeout = 1 * time.Second
)

// KMM exchange timing.
const (
	// KMMResponseTimeout bounds how long the session waits for a KMM
	// response before declaring a protocol timeout.
	KMMResponseTimeout = 5 * time.Second
	// KeyloadResponseTimeout bounds how long the session waits for a
	// RekeyAck/NegativeAck after a ModifyKeyCommand; the peer's key-derivation
	// work on keyload is slower than a plain inventory/control exchange.
	KeyloadResponseTimeout = 10 * time.Second
	// EraseAllKeysTimeout is longer than KMMResponseTimeout, and equal to
	// KeyloadResponseTimeout, because zeroizing every slot in the radio's
	// key store is slower than a plain inventory/control exchange.
	EraseAllKeysTimeout = 10 * time.Second
)

// Connection-level retry configuration for ConnectKFD, reusing the
// exponential-backoff-with-jitter machinery in retry.go for the one place
// this module dials into hardware rather than following the peer's fixed
// wire timing.
const (
	DefaultConnectionRetries    = 3
	ConnectionInitialBackoff    = 100 * time.Millisecond
	ConnectionMaxBackoff        = 500 * time.Millisecond
	ConnectionBackoffMultiplier = 2.0
	ConnectionJitter            = 0.1
	ConnectionRetryTimeout      = 10 * time.Second
)

// Self-test timing: the debounce window used to distinguish a momentarily
// bouncing line from one that is genuinely stuck.
const SelfTestSettleDelay = 2 * time.Millisecond
