package testing

import (
	"encoding/binary"
	"sync"
	"time"

	p25kfd "github.com/kfdcore/go-p25kfd"
	"github.com/kfdcore/go-p25kfd/internal/twi"
)

// RadioKind selects which handshake response byte a VirtualRadio answers
// with.
type RadioKind int

const (
	RadioMobileRadio RadioKind = iota
	RadioKVL
)

// VirtualRadio answers the KFD side of a SharedBus the way a real target
// device would: it waits for the key signature and READY_REQ, answers with
// its READY opcode, then dispatches whatever KMM commands arrive against an
// in-memory key store. It is driven by its own goroutine and stopped with
// Stop.
type VirtualRadio struct {
	framer *p25kfd.ByteFramer
	kind   RadioKind

	mu       sync.Mutex
	keys     map[uint16]storedKey // by SLN
	stop     chan struct{}
	done     chan struct{}
	dropReady bool
	corruptCRC bool
	nextNegativeAck byte // 0 = none
}

type storedKey struct {
	keyID       uint16
	algorithmID p25kfd.AlgorithmID
	status      byte
}

// NewVirtualRadio builds a VirtualRadio driving the radio end of bus.
func NewVirtualRadio(bus *SharedBus, kind RadioKind, cfg *p25kfd.Config) *VirtualRadio {
	if cfg == nil {
		cfg = p25kfd.DefaultConfig()
	}
	return &VirtualRadio{
		framer: p25kfd.NewByteFramer(bus.RadioEnd(), p25kfd.RealClock(), p25kfd.NoopCriticalSection{}, cfg),
		kind:   kind,
		keys:   make(map[uint16]storedKey),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// DropNextReady causes the next handshake attempt to receive no response,
// exercising the KFD side's retry loop.
func (r *VirtualRadio) DropNextReady() {
	r.mu.Lock()
	r.dropReady = true
	r.mu.Unlock()
}

// CorruptNextCRC causes the next KMM response frame's CRC bytes to be
// flipped, exercising ErrCRCMismatch on the KFD side.
func (r *VirtualRadio) CorruptNextCRC() {
	r.mu.Lock()
	r.corruptCRC = true
	r.mu.Unlock()
}

// RejectNextCommand causes the next KMM command to receive a NegativeAck
// carrying status instead of its normal response.
func (r *VirtualRadio) RejectNextCommand(status byte) {
	r.mu.Lock()
	r.nextNegativeAck = status
	r.mu.Unlock()
}

// Run starts the radio's session loop in a new goroutine: one handshake
// followed by KMM command dispatch until teardown, repeated until Stop is
// called or a session ends in an error (for example no key signature within
// 5s), whichever comes first.
func (r *VirtualRadio) Run() {
	go func() {
		defer close(r.done)
		for {
			select {
			case <-r.stop:
				return
			default:
			}
			if err := r.runOneSession(); err != nil {
				return
			}
		}
	}()
}

// Stop halts the radio's session loop and waits for it to exit.
func (r *VirtualRadio) Stop() {
	close(r.stop)
	<-r.done
}

func (r *VirtualRadio) runOneSession() error {
	// Wait out the key signature's wake pulse before switching to
	// byte-level reception for READY_REQ; ReceiveByte has no notion of an
	// abnormally long low pulse and would otherwise decode it as garbage.
	if err := r.framer.ReceiveKeySignature(5 * time.Second); err != nil {
		return err
	}

	req, err := r.framer.ReceiveByte(5 * time.Second)
	if err != nil {
		return err
	}
	if req != twi.OpReadyReq {
		return nil
	}

	r.mu.Lock()
	drop := r.dropReady
	r.dropReady = false
	r.mu.Unlock()
	if drop {
		return nil
	}

	readyOp := twi.OpReadyMR
	if r.kind == RadioKVL {
		readyOp = twi.OpReadyKVL
	}
	if err := r.framer.TransmitByte(readyOp); err != nil {
		return err
	}

	for {
		opcode, err := r.framer.ReceiveByte(10 * time.Second)
		if err != nil {
			return err
		}
		switch opcode {
		case twi.OpTransferDone:
			_ = r.framer.TransmitByte(twi.OpTransferDone)
		case twi.OpDisconnect:
			_ = r.framer.TransmitByte(twi.OpDisconnectAck)
			return nil
		case twi.OpKMM:
			if err := r.handleKMMFrame(); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func (r *VirtualRadio) handleKMMFrame() error {
	lenHi, err := r.framer.ReceiveByte(2 * time.Second)
	if err != nil {
		return err
	}
	lenLo, err := r.framer.ReceiveByte(2 * time.Second)
	if err != nil {
		return err
	}
	length := binary.BigEndian.Uint16([]byte{lenHi, lenLo})

	body := make([]byte, length)
	for i := range body {
		b, err := r.framer.ReceiveByte(2 * time.Second)
		if err != nil {
			return err
		}
		body[i] = b
	}
	if len(body) < 6 {
		return nil
	}
	kmm := body[4 : len(body)-2] // strip control+dest_rsi and CRC

	response := r.dispatch(kmm)
	return r.sendEnvelope(response)
}

func (r *VirtualRadio) sendEnvelope(kmm []byte) error {
	envBody := make([]byte, 0, 4+len(kmm))
	envBody = append(envBody, 0x00)
	envBody = append(envBody, twi.BroadcastRSI[:]...)
	envBody = append(envBody, kmm...)

	crc := twi.CRC16(envBody)
	r.mu.Lock()
	corrupt := r.corruptCRC
	r.corruptCRC = false
	r.mu.Unlock()
	if corrupt {
		crc ^= 0xFFFF
	}

	frame := make([]byte, 0, 3+len(envBody)+2)
	frame = append(frame, twi.OpKMM)
	total := uint16(len(envBody) + 2) //nolint:gosec // bounded by KMM sizes
	frame = append(frame, byte(total>>8), byte(total))
	frame = append(frame, envBody...)
	frame = append(frame, byte(crc), byte(crc>>8))

	for _, b := range frame {
		if err := r.framer.TransmitByte(b); err != nil {
			return err
		}
	}
	return nil
}

// dispatch produces the inner KMM response body for one inbound KMM
// message, mutating the in-memory key store for ModifyKeyCommand/Zeroize.
func (r *VirtualRadio) dispatch(kmm []byte) []byte {
	if len(kmm) < 1 {
		return []byte{twi.MsgNegativeAck, twi.StatusInternalError}
	}

	r.mu.Lock()
	reject := r.nextNegativeAck
	r.nextNegativeAck = 0
	r.mu.Unlock()
	if reject != 0 {
		return []byte{twi.MsgNegativeAck, reject}
	}

	messageID := kmm[0]
	// kmm = message_id(1) + message_length(2) + message_format(1) +
	// dest_rsi(3) + src_rsi(3) + body.
	const kmmHeaderLen = 10
	var body []byte
	if len(kmm) >= kmmHeaderLen {
		body = kmm[kmmHeaderLen:]
	}

	switch messageID {
	case twi.MsgModifyKeyCmd:
		return r.handleModifyKey(body)
	case twi.MsgZeroizeCmd:
		r.mu.Lock()
		r.keys = make(map[uint16]storedKey)
		r.mu.Unlock()
		return []byte{twi.MsgZeroizeRsp}
	case twi.MsgInventoryCmd:
		return r.handleInventory(body)
	case twi.MsgChangeoverCmd:
		return []byte{twi.MsgChangeoverRsp}
	case twi.MsgChangeRsiCmd:
		return []byte{twi.MsgChangeRsiRsp}
	default:
		return []byte{twi.MsgNegativeAck, twi.StatusUnsupported}
	}
}

func (r *VirtualRadio) handleModifyKey(body []byte) []byte {
	if len(body) < 9 {
		return []byte{twi.MsgNegativeAck, twi.StatusInvalidKeyLen}
	}
	keysetID := body[5]
	algorithmID := p25kfd.AlgorithmID(body[6])
	keyLength := int(body[7])
	numKeys := int(body[8])
	_ = keysetID

	response := []byte{twi.MsgRekeyAck}
	offset := 9
	for i := 0; i < numKeys; i++ {
		if offset+5+keyLength > len(body) {
			break
		}
		keyFormat := body[offset]
		sln := binary.BigEndian.Uint16(body[offset+1 : offset+3])
		keyID := binary.BigEndian.Uint16(body[offset+3 : offset+5])
		offset += 5 + keyLength

		erase := keyFormat&(1<<5) != 0
		status := byte(twi.KeyStatusAccepted)

		r.mu.Lock()
		if erase {
			if _, existed := r.keys[sln]; !existed {
				status = twi.KeyStatusKeyPreviouslyErased
			}
			delete(r.keys, sln)
		} else {
			if _, existed := r.keys[sln]; existed {
				status = twi.KeyStatusOverwritten
			}
			r.keys[sln] = storedKey{keyID: keyID, algorithmID: algorithmID, status: status}
		}
		r.mu.Unlock()

		response = binary.BigEndian.AppendUint16(response, keyID)
		response = append(response, byte(algorithmID), status)
	}
	return response
}

func (r *VirtualRadio) handleInventory(body []byte) []byte {
	if len(body) < 1 {
		return []byte{twi.MsgNegativeAck, twi.StatusInternalError}
	}
	invType := twi.InventoryType(body[0])

	response := []byte{twi.MsgInventoryRsp, byte(invType)}
	if invType == twi.InvListAllUniqueKeyInfo {
		r.mu.Lock()
		defer r.mu.Unlock()
		for sln, k := range r.keys {
			response = binary.BigEndian.AppendUint16(response, k.keyID)
			response = append(response, byte(k.algorithmID))
			response = binary.BigEndian.AppendUint16(response, sln)
		}
	}
	return response
}
