package p25kfd

import (
	"context"
	"fmt"
	"time"

	"github.com/kfdcore/go-p25kfd/internal/twi"
)

// ProgressCallback reports (current, total, status_message) during a
// multi-key keyload. Optional; when absent, progress is silently
// discarded.
type ProgressCallback func(current, total int, status string)

// KFD is the composition root for one Key Fill Device conversation: it
// owns the LineDriver, ByteFramer (via Session), and issues KMM Protocol
// operations over it. Thread Safety: like the teacher's Device, KFD is NOT
// thread-safe; callers needing concurrent access should serialize with an
// external mutex or use separate KFD instances over separate LineDrivers.
type KFD struct {
	session *Session
	line    LineDriver
	cfg     *Config
}

// New builds a KFD over line using cfg (DefaultConfig() if nil), applying
// opts.
func New(line LineDriver, cfg *Config, opts ...Option) (*KFD, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}
	session := NewSession(line, RealClock(), NewOSThreadCriticalSection(), cfg)
	return &KFD{session: session, line: line, cfg: cfg}, nil
}

// LineDriverFactory creates a LineDriver bound to a specific pin pair,
// mirroring the teacher's TransportFactory.
type LineDriverFactory func(cfg *Config) (LineDriver, error)

// ConnectOption configures ConnectKFD.
type ConnectOption func(*connectConfig) error

type connectConfig struct {
	factory           LineDriverFactory
	deviceOptions     []Option
	connectionRetries int
}

// WithDeviceOptions adds Config-level options applied after the LineDriver
// is created.
func WithDeviceOptions(opts ...Option) ConnectOption {
	return func(c *connectConfig) error {
		c.deviceOptions = append(c.deviceOptions, opts...)
		return nil
	}
}

// WithLineDriverFactory sets the factory used to create the LineDriver.
func WithLineDriverFactory(factory LineDriverFactory) ConnectOption {
	return func(c *connectConfig) error {
		c.factory = factory
		return nil
	}
}

// WithConnectionRetries sets the number of hardware-claim retry attempts.
func WithConnectionRetries(attempts int) ConnectOption {
	return func(c *connectConfig) error {
		if attempts < 1 {
			return fmt.Errorf("%w: connection retries must be at least 1", ErrInvalidParameter)
		}
		c.connectionRetries = attempts
		return nil
	}
}

// ConnectKFD claims the configured GPIO pins (via a LineDriverFactory,
// typically hal/gpioline.Open) and returns a ready-to-use KFD, retrying
// pin claim with jittered backoff since GPIO character devices can be
// transiently busy right after a previous process releases them.
func ConnectKFD(cfg *Config, opts ...ConnectOption) (*KFD, error) {
	cc := &connectConfig{connectionRetries: DefaultConnectionRetries}
	for _, opt := range opts {
		if err := opt(cc); err != nil {
			return nil, err
		}
	}
	if cc.factory == nil {
		return nil, fmt.Errorf("%w: no LineDriverFactory provided", ErrInvalidParameter)
	}

	retryCfg := &RetryConfig{
		MaxAttempts:       cc.connectionRetries,
		InitialBackoff:    ConnectionInitialBackoff,
		MaxBackoff:        ConnectionMaxBackoff,
		BackoffMultiplier: ConnectionBackoffMultiplier,
		Jitter:            ConnectionJitter,
		RetryTimeout:      ConnectionRetryTimeout,
	}

	var line LineDriver
	err := RetryWithConfig(context.Background(), retryCfg, func() error {
		var err error
		line, err = cc.factory(cfg)
		if err != nil {
			// Factory errors carry no retry classification of their own;
			// mark them retryable so a transiently busy pin is claimed again.
			return NewProtocolError("ConnectKFD", err, true)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to claim GPIO lines after %d attempts: %w", cc.connectionRetries, err)
	}

	return New(line, cfg, cc.deviceOptions...)
}

// Close releases the underlying LineDriver.
func (d *KFD) Close() error {
	return d.line.Close()
}

// Abort requests cancellation of any in-progress operation.
func (d *KFD) Abort() { d.session.Abort() }

// IsOperationInProgress reports whether an operation currently owns the
// session.
func (d *KFD) IsOperationInProgress() bool { return d.session.IsOperationInProgress() }

// SetFastSend enables or disables the fast-send framing path.
func (d *KFD) SetFastSend(enabled bool) error {
	return d.applyConfigOption(WithFastSend(enabled))
}

// SetPostReadyDelay sets the hold delay after the READY handshake.
func (d *KFD) SetPostReadyDelay(delay time.Duration) error {
	return d.applyConfigOption(WithPostReadyDelay(delay))
}

// SetStopBitPolarity sets the byte framer's stop-cell convention.
func (d *KFD) SetStopBitPolarity(p StopBitPolarity) error {
	return d.applyConfigOption(WithStopBitPolarity(p))
}

// SetTXKilobaud sets the transmit line speed.
func (d *KFD) SetTXKilobaud(kbaud int) error {
	return d.applyConfigOption(WithTXKilobaud(kbaud))
}

// SetRXKilobaud sets the receive line speed.
func (d *KFD) SetRXKilobaud(kbaud int) error {
	return d.applyConfigOption(WithRXKilobaud(kbaud))
}

// applyConfigOption refuses to mutate configuration while a session-owning
// operation is in progress, since changing bit timing or framing mid-session
// would desync the byte framer from whatever the peer expects.
func (d *KFD) applyConfigOption(opt Option) error {
	if d.session.IsOperationInProgress() {
		return fmt.Errorf("%w: cannot change configuration while an operation is in progress", ErrSessionInProgress)
	}
	return opt(d.cfg)
}

// SelfTest checks that both lines can reach both of their states: it
// releases and then asserts DATA, then drives SENSE HIGH and then LOW,
// reading each line back after SelfTestSettleDelay. A detected fault is
// reported as Ok with the fault code (0x01-0x04) in Status.
func (d *KFD) SelfTest() Result {
	if d.session.IsOperationInProgress() {
		return Fail("operation in progress", twi.StatusInternalError)
	}

	if err := d.line.DataIdle(); err != nil {
		return FailErr(err, twi.StatusInternalError)
	}
	time.Sleep(SelfTestSettleDelay)
	dataIdle, err := d.line.DataIsIdle()
	if err != nil {
		return FailErr(err, twi.StatusInternalError)
	}
	if !dataIdle {
		_ = d.line.SenseConnect()
		return Ok("DATA stuck low", 0x01)
	}

	if err := d.line.DataBusy(); err != nil {
		return FailErr(err, twi.StatusInternalError)
	}
	time.Sleep(SelfTestSettleDelay)
	dataBusy, err := d.line.DataIsBusy()
	if err != nil {
		return FailErr(err, twi.StatusInternalError)
	}
	_ = d.line.DataIdle()
	if !dataBusy {
		_ = d.line.SenseConnect()
		return Ok("DATA stuck high", 0x03)
	}

	if err := d.line.SenseDisconnect(); err != nil {
		return FailErr(err, twi.StatusInternalError)
	}
	time.Sleep(SelfTestSettleDelay)
	senseDisc, err := d.line.SenseIsDisconnected()
	if err != nil {
		return FailErr(err, twi.StatusInternalError)
	}
	if !senseDisc {
		_ = d.line.SenseConnect()
		return Ok("SENSE stuck low", 0x02)
	}

	if err := d.line.SenseConnect(); err != nil {
		return FailErr(err, twi.StatusInternalError)
	}
	time.Sleep(SelfTestSettleDelay)
	senseConn, err := d.line.SenseIsConnected()
	if err != nil {
		return FailErr(err, twi.StatusInternalError)
	}
	if !senseConn {
		return Ok("SENSE stuck high", 0x04)
	}

	return Ok("self-test passed", 0x00)
}

// DetectPeer runs only the signature + READY_REQ handshake, reports which
// kind of device answered, and tears down immediately without exchanging
// any KMM.
func (d *KFD) DetectPeer() (PeerType, Result) {
	if err := d.session.BeginSession(); err != nil {
		return PeerUnknown, FailErr(err, twi.StatusInternalError)
	}
	peer := d.session.Peer()
	d.session.setState(StateReady)
	if err := d.session.EndSession(); err != nil {
		return peer, FailErr(err, twi.StatusInternalError)
	}
	return peer, Ok("peer detected", 0x00)
}

// Keyload begins a session, sends a single-key ModifyKeyCommand, reads one
// response, and tears down. Success requires a RekeyAck whose key status
// indicates accepted or overwritten (or, for an erase item, key previously
// erased).
func (d *KFD) Keyload(key KeyItem) Result {
	return d.KeyloadMultiple([]KeyItem{key}, nil)
}

// KeyloadMultiple holds one session across len(keys) ModifyKey exchanges,
// reporting per-step progress and short-circuiting on the first failure.
// It respects Abort() between keys.
func (d *KFD) KeyloadMultiple(keys []KeyItem, progress ProgressCallback) Result {
	if len(keys) == 0 {
		return Fail("no keys to load", twi.StatusInternalError)
	}
	for _, k := range keys {
		if err := k.Validate(); err != nil {
			return FailErr(err, twi.StatusInternalError)
		}
	}

	if err := d.session.BeginSession(); err != nil {
		return FailErr(err, twi.StatusInternalError)
	}
	defer func() { _ = d.session.EndSession() }()

	status := twi.KeyStatusAccepted
	for i, key := range keys {
		if d.session.aborted() {
			return Fail(fmt.Sprintf("aborted after %d of %d keys", i, len(keys)), twi.StatusInternalError)
		}
		if progress != nil {
			progress(i+1, len(keys), fmt.Sprintf("loading key %d of %d", i+1, len(keys)))
		}

		body, err := BuildModifyKeyCommand([]KeyItem{key})
		if err != nil {
			return FailErr(err, twi.StatusInternalError)
		}
		resp, err := d.session.Exchange(wrapKMM(twi.MsgModifyKeyCmd, body), KeyloadResponseTimeout)
		if err != nil {
			return FailErr(err, twi.StatusInternalError)
		}

		res := interpretKeyloadResponse(resp, i+1, len(keys), key.Erase)
		if !res.Success {
			return res
		}
		if res.Status != twi.KeyStatusAccepted {
			status = res.Status
		}
		if progress != nil {
			progress(i+1, len(keys), res.Message)
		}
	}

	return Ok(fmt.Sprintf("loaded %d of %d keys", len(keys), len(keys)), status)
}

func interpretKeyloadResponse(resp []byte, index, total int, isErase bool) Result {
	if len(resp) < 1 {
		return Fail(fmt.Sprintf("key %d of %d: empty response", index, total), twi.StatusInternalError)
	}
	switch resp[0] {
	case twi.MsgRekeyAck:
		statuses, err := parseRekeyAck(resp)
		if err != nil {
			return FailErr(err, twi.StatusInternalError)
		}
		status := twi.KeyStatusAccepted
		for _, s := range statuses {
			if !s.AcceptedFor(isErase) {
				return Fail(fmt.Sprintf("key %d of %d rejected: status 0x%02X", index, total, s.Status), s.Status)
			}
			if s.Status == twi.KeyStatusKeyPreviouslyErased {
				status = s.Status
			}
		}
		return Ok(fmt.Sprintf("key %d of %d loaded", index, total), status)
	case twi.MsgNegativeAck:
		status, err := parseNegativeAck(resp)
		if err != nil {
			return FailErr(err, twi.StatusInternalError)
		}
		return Fail(fmt.Sprintf("key %d of %d rejected by peer: status 0x%02X", index, total, status), status)
	default:
		return Fail(fmt.Sprintf("key %d of %d: unexpected response message id 0x%02X", index, total, resp[0]), twi.StatusInternalError)
	}
}

// EraseKey is equivalent to Keyload with the erase flag set and empty key
// material. Calling it twice on the same (keyset, SLN) is legal; the
// second call surfaces the peer's "key previously erased" status (0x04)
// and is reported as success.
func (d *KFD) EraseKey(keysetID byte, sln uint16) Result {
	return d.Keyload(KeyItem{KeysetID: keysetID, SLN: sln, Erase: true})
}

// EraseAllKeys begins a session, sends ZeroizeCommand, and treats any
// non-NegativeAck response within EraseAllKeysTimeout as success.
func (d *KFD) EraseAllKeys() Result {
	if err := d.session.BeginSession(); err != nil {
		return FailErr(err, twi.StatusInternalError)
	}
	defer func() { _ = d.session.EndSession() }()

	resp, err := d.session.Exchange(wrapKMM(twi.MsgZeroizeCmd, BuildZeroizeCommand()), EraseAllKeysTimeout)
	if err != nil {
		return FailErr(err, twi.StatusInternalError)
	}
	if len(resp) >= 1 && resp[0] == twi.MsgNegativeAck {
		status, _ := parseNegativeAck(resp)
		return Fail(fmt.Sprintf("erase all keys rejected: status 0x%02X", status), status)
	}
	return Ok("all keys erased", 0x00)
}

// ViewKeyInfo lists every key currently loaded in the peer's store.
func (d *KFD) ViewKeyInfo() ([]InventoryKeyInfo, Result) {
	resp, res := d.inventoryExchange(twi.InvListAllUniqueKeyInfo)
	if !res.Success {
		return nil, res
	}
	info, err := parseInventoryResponse(resp)
	if err != nil {
		return nil, FailErr(err, twi.StatusInternalError)
	}
	return info, res
}

// ViewKeysetInfo lists the peer's active and inactive keyset ids.
func (d *KFD) ViewKeysetInfo() ([]KeysetInfo, Result) {
	activeResp, res := d.inventoryExchange(twi.InvListActiveKsetIDs)
	if !res.Success {
		return nil, res
	}
	active, err := parseKeysetIDs(activeResp, true)
	if err != nil {
		return nil, FailErr(err, twi.StatusInternalError)
	}

	inactiveResp, res := d.inventoryExchange(twi.InvListInactiveKsetIDs)
	if !res.Success {
		return nil, res
	}
	inactive, err := parseKeysetIDs(inactiveResp, false)
	if err != nil {
		return nil, FailErr(err, twi.StatusInternalError)
	}

	return append(active, inactive...), Ok("keyset info retrieved", 0x00)
}

// ViewMNP lists the peer's MNP (message number protection) entries.
func (d *KFD) ViewMNP() ([]MNPInfo, Result) {
	resp, res := d.inventoryExchange(twi.InvListMNP)
	if !res.Success {
		return nil, res
	}
	entries, err := parseRSIMessageNumberList(resp)
	if err != nil {
		return nil, FailErr(err, twi.StatusInternalError)
	}
	out := make([]MNPInfo, len(entries))
	for i, e := range entries {
		out[i] = MNPInfo{RSI: e.RSI, MessageNumber: e.MessageNumber}
	}
	return out, res
}

// ViewKMFRSI lists the peer's Key Management Facility RSIs.
func (d *KFD) ViewKMFRSI() ([]KMFRSIItem, Result) {
	resp, res := d.inventoryExchange(twi.InvListKMFRSI)
	if !res.Success {
		return nil, res
	}
	entries, err := parseRSIMessageNumberList(resp)
	if err != nil {
		return nil, FailErr(err, twi.StatusInternalError)
	}
	out := make([]KMFRSIItem, len(entries))
	for i, e := range entries {
		out[i] = KMFRSIItem{RSI: e.RSI, MessageNumber: e.MessageNumber}
	}
	return out, res
}

// ChangeRSI (LoadRSI) sends a ChangeRsiCmd assigning the peer a new RSI and
// message number.
func (d *KFD) ChangeRSI(rsi [3]byte, messageNumber uint16) Result {
	return d.simpleExchange(twi.MsgChangeRsiCmd, BuildChangeRSICommand(rsi, messageNumber), twi.MsgChangeRsiRsp)
}

// ActivateKeyset (Changeover) sends a ChangeoverCmd switching the peer's
// active keyset.
func (d *KFD) ActivateKeyset(keysetID byte) Result {
	return d.simpleExchange(twi.MsgChangeoverCmd, BuildChangeoverCommand(keysetID), twi.MsgChangeoverRsp)
}

func (d *KFD) inventoryExchange(invType twi.InventoryType) ([]byte, Result) {
	if err := d.session.BeginSession(); err != nil {
		return nil, FailErr(err, twi.StatusInternalError)
	}
	defer func() { _ = d.session.EndSession() }()

	resp, err := d.session.Exchange(wrapKMM(twi.MsgInventoryCmd, BuildInventoryCommand(invType)), KMMResponseTimeout)
	if err != nil {
		return nil, FailErr(err, twi.StatusInternalError)
	}
	if len(resp) >= 1 && resp[0] == twi.MsgNegativeAck {
		status, _ := parseNegativeAck(resp)
		return nil, Fail(fmt.Sprintf("inventory rejected: status 0x%02X", status), status)
	}
	if len(resp) < 1 || resp[0] != twi.MsgInventoryRsp {
		return nil, Fail("unexpected inventory response", twi.StatusInternalError)
	}
	return resp, Ok("inventory retrieved", 0x00)
}

func (d *KFD) simpleExchange(messageID byte, body []byte, expectRsp byte) Result {
	if err := d.session.BeginSession(); err != nil {
		return FailErr(err, twi.StatusInternalError)
	}
	defer func() { _ = d.session.EndSession() }()

	resp, err := d.session.Exchange(wrapKMM(messageID, body), KMMResponseTimeout)
	if err != nil {
		return FailErr(err, twi.StatusInternalError)
	}
	if len(resp) >= 1 && resp[0] == twi.MsgNegativeAck {
		status, _ := parseNegativeAck(resp)
		return Fail(fmt.Sprintf("rejected: status 0x%02X", status), status)
	}
	if len(resp) < 1 || resp[0] != expectRsp {
		return Fail("unexpected response message id", twi.StatusInternalError)
	}
	return Ok("ok", 0x00)
}
