package p25kfd

import (
	"encoding/binary"
	"fmt"

	"github.com/kfdcore/go-p25kfd/internal/twi"
)

// AlgorithmID is the 8-bit code selecting a key's symmetric algorithm.
type AlgorithmID byte

const (
	AlgClear    AlgorithmID = 0x80
	AlgDESOFB   AlgorithmID = 0x81
	Alg3DES2Key AlgorithmID = 0x82
	Alg3DES3Key AlgorithmID = 0x83
	AlgAES256   AlgorithmID = 0x84
	AlgAES128   AlgorithmID = 0x85
	AlgAESCBC   AlgorithmID = 0x86
	AlgADP      AlgorithmID = 0xAA
)

// KeyLength returns the expected key material length in bytes for a, or
// (0, false) if a is not recognized.
func (a AlgorithmID) KeyLength() (int, bool) {
	switch a {
	case AlgClear:
		return 0, true
	case AlgDESOFB:
		return 8, true
	case Alg3DES2Key:
		return 16, true
	case Alg3DES3Key:
		return 24, true
	case AlgAES128:
		return 16, true
	case AlgAES256, AlgAESCBC:
		return 32, true
	case AlgADP:
		return 5, true
	default:
		return 0, false
	}
}

// kekRangeStart is the first SLN value in the Key-Encryption-Key range;
// SLNs below it are Traffic Encryption Keys.
const kekRangeStart = 0xF000

// IsKEK reports whether sln falls in the Key-Encryption-Key range
// (0xF000-0xFFFF); the KEK bit in a transmitted key_format byte is derived
// from this range alone, never set explicitly by the caller.
func IsKEK(sln uint16) bool { return sln >= kekRangeStart }

// KeyItem is the unit of a keyload: a caller-owned value type copied into a
// command body before transmission.
type KeyItem struct {
	KeysetID    byte
	SLN         uint16
	KeyID       uint16
	AlgorithmID AlgorithmID
	Material    []byte
	Erase       bool
}

// Validate checks the invariants a KeyItem must satisfy before it can be
// framed: material length matches the algorithm's expected length, unless
// Erase is set, in which case neither the material nor the algorithm is
// checked (an erase frames key_length zero bytes in place of material).
func (k KeyItem) Validate() error {
	if k.KeysetID == 0 {
		return fmt.Errorf("%w: keyset id must be 1-255", ErrInvalidSLN)
	}
	if k.Erase {
		return nil
	}
	length, ok := k.AlgorithmID.KeyLength()
	if !ok {
		return fmt.Errorf("%w: 0x%02X", ErrInvalidAlgorithm, byte(k.AlgorithmID))
	}
	if len(k.Material) != length {
		return fmt.Errorf("%w: algorithm 0x%02X wants %d bytes, got %d",
			ErrKeyLengthMismatch, byte(k.AlgorithmID), length, len(k.Material))
	}
	return nil
}

const keyFormatEraseBit = 1 << 5
const keyFormatKEKBit = 1 << 7

// keyFormatByte derives the key_format octet: bit 7 set when the SLN falls
// in the KEK range, bit 5 set when the item is an erase. The original
// firmware never set bit 7; this corrects that per the round-trip
// invariant that ModifyKeyCommand's key_format must reflect SLN-derived
// KEK status (see DESIGN.md).
func keyFormatByte(k KeyItem) byte {
	var b byte
	if IsKEK(k.SLN) {
		b |= keyFormatKEKBit
	}
	if k.Erase {
		b |= keyFormatEraseBit
	}
	return b
}

// BuildModifyKeyCommand builds a ModifyKeyCommand body for a batch of keys
// that must already share KeysetID, AlgorithmID, and key length (the
// session layer enforces this by construction before calling in).
func BuildModifyKeyCommand(keys []KeyItem) ([]byte, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: no keys to load", ErrInvalidParameter)
	}
	first := keys[0]
	keyLength, ok := first.AlgorithmID.KeyLength()
	if !ok && !first.Erase {
		return nil, fmt.Errorf("%w: 0x%02X", ErrInvalidAlgorithm, byte(first.AlgorithmID))
	}
	for _, k := range keys {
		if err := k.Validate(); err != nil {
			return nil, err
		}
		if k.KeysetID != first.KeysetID || k.AlgorithmID != first.AlgorithmID {
			return nil, fmt.Errorf("%w: batched keys must share keyset and algorithm", ErrInvalidParameter)
		}
	}

	body := make([]byte, 0, 9+len(keys)*(5+keyLength))
	body = append(body,
		0x00,                  // decryption_instruction
		0x00,                  // extended_decryption_instruction
		byte(twi.KEKAlgorithmClear), // kek_algorithm_id
		0x00, 0x00,            // kek_key_id
		first.KeysetID,
		byte(first.AlgorithmID),
		byte(keyLength), //nolint:gosec // key lengths are all <=32
		byte(len(keys)),
	)

	for _, k := range keys {
		body = append(body, keyFormatByte(k))
		body = binary.BigEndian.AppendUint16(body, k.SLN)
		body = binary.BigEndian.AppendUint16(body, k.KeyID)
		if k.Erase {
			body = append(body, make([]byte, keyLength)...)
		} else {
			body = append(body, k.Material...)
		}
	}
	return body, nil
}

// BuildZeroizeCommand returns the single-octet ZeroizeCommand body.
func BuildZeroizeCommand() []byte {
	return []byte{twi.MsgZeroizeCmd}
}

// BuildInventoryCommand returns the single-octet InventoryCommand body
// selecting invType.
func BuildInventoryCommand(invType twi.InventoryType) []byte {
	return []byte{byte(invType)}
}

// BuildChangeRSICommand builds a ChangeRsiCmd body: the new RSI followed by
// a message number, per spec's KMM identifier table.
func BuildChangeRSICommand(rsi [3]byte, messageNumber uint16) []byte {
	body := make([]byte, 0, 5)
	body = append(body, rsi[:]...)
	return binary.BigEndian.AppendUint16(body, messageNumber)
}

// BuildChangeoverCommand builds a ChangeoverCmd body activating keysetID.
func BuildChangeoverCommand(keysetID byte) []byte {
	return []byte{keysetID}
}

// wrapKMM wraps a message body in the inner KMM frame layout: message_id,
// big-endian message_length (7+len(body)), response_kind, broadcast
// dest_rsi and src_rsi, then the body. No preamble is emitted; this module
// only implements the three-wire transport.
func wrapKMM(messageID byte, body []byte) []byte {
	frame := make([]byte, 0, 8+len(body))
	frame = append(frame, messageID)
	frame = binary.BigEndian.AppendUint16(frame, uint16(7+len(body))) //nolint:gosec // bounded by KMM body sizes
	frame = append(frame, twi.ResponseKindImmediate)
	frame = append(frame, twi.BroadcastRSI[:]...)
	frame = append(frame, twi.BroadcastRSI[:]...)
	frame = append(frame, body...)
	return frame
}

// KeyStatus is one per-key result inside a RekeyAck response.
type KeyStatus struct {
	KeyID       uint16
	AlgorithmID AlgorithmID
	Status      byte
}

// Accepted reports whether this key's status means the peer stored it.
func (k KeyStatus) Accepted() bool {
	return k.Status == twi.KeyStatusAccepted || k.Status == twi.KeyStatusOverwritten
}

// AcceptedFor reports whether this key's status means the operation
// succeeded, given whether it was an erase. Erasing an already-erased slot
// is idempotent: the peer's "key previously erased" status counts as
// success only in that case, never for a normal keyload.
func (k KeyStatus) AcceptedFor(isErase bool) bool {
	if k.Accepted() {
		return true
	}
	return isErase && k.Status == twi.KeyStatusKeyPreviouslyErased
}

// parseRekeyAck parses a RekeyAck's per-key status triples.
func parseRekeyAck(body []byte) ([]KeyStatus, error) {
	if len(body) < 1 {
		return nil, fmt.Errorf("%w: empty RekeyAck body", ErrInvalidFrameLength)
	}
	// body[0] is the message_id byte the caller already checked.
	triples := body[1:]
	if len(triples)%4 != 0 {
		return nil, fmt.Errorf("%w: RekeyAck body length %d not a multiple of 4", ErrInvalidFrameLength, len(triples))
	}
	statuses := make([]KeyStatus, 0, len(triples)/4)
	for i := 0; i < len(triples); i += 4 {
		statuses = append(statuses, KeyStatus{
			KeyID:       binary.BigEndian.Uint16(triples[i : i+2]),
			AlgorithmID: AlgorithmID(triples[i+2]),
			Status:      triples[i+3],
		})
	}
	return statuses, nil
}

// parseNegativeAck extracts the single status byte from a NegativeAck body.
func parseNegativeAck(body []byte) (byte, error) {
	if len(body) < 2 {
		return 0, fmt.Errorf("%w: empty NegativeAck body", ErrInvalidFrameLength)
	}
	return body[1], nil
}

// InventoryKeyInfo is one entry of a ListAllUniqueKeyInfo response.
type InventoryKeyInfo struct {
	KeyID       uint16
	AlgorithmID AlgorithmID
	SLN         uint16
}

// parseInventoryResponse parses an InventoryRsp body carrying
// (key_id:2, algorithm_id:1, sln:2) tuples, used by ViewKeyInfo.
func parseInventoryResponse(body []byte) ([]InventoryKeyInfo, error) {
	if len(body) < 2 {
		return nil, fmt.Errorf("%w: empty InventoryRsp body", ErrInvalidFrameLength)
	}
	tuples := body[2:] // skip message_id + inventory type octet
	if len(tuples)%5 != 0 {
		return nil, fmt.Errorf("%w: InventoryRsp body length %d not a multiple of 5", ErrInvalidFrameLength, len(tuples))
	}
	out := make([]InventoryKeyInfo, 0, len(tuples)/5)
	for i := 0; i < len(tuples); i += 5 {
		out = append(out, InventoryKeyInfo{
			KeyID:       binary.BigEndian.Uint16(tuples[i : i+2]),
			AlgorithmID: AlgorithmID(tuples[i+2]),
			SLN:         binary.BigEndian.Uint16(tuples[i+3 : i+5]),
		})
	}
	return out, nil
}

// KeysetInfo is one entry of an active/inactive keyset listing.
type KeysetInfo struct {
	KeysetID byte
	Active   bool
}

// parseKeysetIDs parses a ListActiveKsetIds/ListInactiveKsetIds response
// body, a flat list of keyset id octets after the header.
func parseKeysetIDs(body []byte, active bool) ([]KeysetInfo, error) {
	if len(body) < 2 {
		return nil, fmt.Errorf("%w: empty InventoryRsp body", ErrInvalidFrameLength)
	}
	ids := body[2:]
	out := make([]KeysetInfo, 0, len(ids))
	for _, id := range ids {
		out = append(out, KeysetInfo{KeysetID: id, Active: active})
	}
	return out, nil
}

// MNPInfo is one message-number/RSI pair from a ListMnp response.
type MNPInfo struct {
	RSI           [3]byte
	MessageNumber uint16
}

// KMFRSIItem is one entry of a ListKmfRsi response.
type KMFRSIItem struct {
	RSI           [3]byte
	MessageNumber uint16
}

func parseRSIMessageNumberList(body []byte) ([]struct {
	RSI           [3]byte
	MessageNumber uint16
}, error) {
	if len(body) < 2 {
		return nil, fmt.Errorf("%w: empty InventoryRsp body", ErrInvalidFrameLength)
	}
	entries := body[2:]
	if len(entries)%5 != 0 {
		return nil, fmt.Errorf("%w: entry list length %d not a multiple of 5", ErrInvalidFrameLength, len(entries))
	}
	out := make([]struct {
		RSI           [3]byte
		MessageNumber uint16
	}, 0, len(entries)/5)
	for i := 0; i < len(entries); i += 5 {
		var rsi [3]byte
		copy(rsi[:], entries[i:i+3])
		out = append(out, struct {
			RSI           [3]byte
			MessageNumber uint16
		}{RSI: rsi, MessageNumber: binary.BigEndian.Uint16(entries[i+3 : i+5])})
	}
	return out, nil
}
