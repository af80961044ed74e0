package p25kfd

import (
	"encoding/hex"
	"testing"

	"github.com/kfdcore/go-p25kfd/internal/twi"
)

func TestKeyItemValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		item    KeyItem
		wantErr error
	}{
		{
			name: "valid AES-256",
			item: KeyItem{KeysetID: 1, SLN: 202, KeyID: 1, AlgorithmID: AlgAES256, Material: make([]byte, 32)},
		},
		{
			name:    "zero keyset id rejected",
			item:    KeyItem{KeysetID: 0, SLN: 202, AlgorithmID: AlgAES256, Material: make([]byte, 32)},
			wantErr: ErrInvalidSLN,
		},
		{
			name:    "wrong material length",
			item:    KeyItem{KeysetID: 1, SLN: 202, AlgorithmID: AlgAES256, Material: make([]byte, 16)},
			wantErr: ErrKeyLengthMismatch,
		},
		{
			name:    "unknown algorithm",
			item:    KeyItem{KeysetID: 1, SLN: 202, AlgorithmID: 0xEE, Material: []byte{1}},
			wantErr: ErrInvalidAlgorithm,
		},
		{
			name: "erase needs no material",
			item: KeyItem{KeysetID: 1, SLN: 202, Erase: true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.item.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error wrapping %v", tt.wantErr)
			}
		})
	}
}

func TestIsKEK(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		sln  uint16
		want bool
	}{
		{"below range", 0xEFFF, false},
		{"start of range", 0xF000, true},
		{"top of range", 0xFFFF, true},
		{"ordinary TEK", 202, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := IsKEK(tt.sln); got != tt.want {
				t.Errorf("IsKEK(0x%04X) = %v, want %v", tt.sln, got, tt.want)
			}
		})
	}
}

// TestModifyKeyCommandKEKBit verifies that a (non-erase) key whose SLN falls
// in the KEK range is transmitted with bit 7 of key_format set.
func TestModifyKeyCommandKEKBit(t *testing.T) {
	t.Parallel()
	body, err := BuildModifyKeyCommand([]KeyItem{{
		KeysetID:    1,
		SLN:         0xF001,
		KeyID:       5,
		AlgorithmID: AlgAES256,
		Material:    make([]byte, 32),
	}})
	if err != nil {
		t.Fatalf("BuildModifyKeyCommand() error = %v", err)
	}
	// header is 9 bytes: decrypt(1)+ext(1)+kekAlg(1)+kekId(2)+keyset(1)+alg(1)+len(1)+numKeys(1)
	keyFormat := body[9]
	if keyFormat&keyFormatKEKBit == 0 {
		t.Errorf("key_format = 0x%02X, want bit 7 set for KEK-range SLN", keyFormat)
	}
}

func TestModifyKeyCommandAES256Body(t *testing.T) {
	t.Parallel()
	material, _ := hex.DecodeString("0102030405060708090A0B0C0D0E0F101112131415161718191A1B1C1D1E1F20")
	body, err := BuildModifyKeyCommand([]KeyItem{{
		KeysetID:    1,
		SLN:         202,
		KeyID:       1,
		AlgorithmID: AlgAES256,
		Material:    material,
	}})
	if err != nil {
		t.Fatalf("BuildModifyKeyCommand() error = %v", err)
	}
	want := []byte{
		0x00, 0x00, twi.KEKAlgorithmClear, 0x00, 0x00, // decrypt/ext/kek header
		0x01,       // keyset id
		byte(AlgAES256),
		32,   // key length
		0x01, // num keys
		0x00, // key_format: not KEK, not erase
		0x00, 0xCA, // sln 202
		0x00, 0x01, // key id 1
	}
	want = append(want, material...)
	if len(body) != len(want) {
		t.Fatalf("body length = %d, want %d", len(body), len(want))
	}
	for i := range want {
		if body[i] != want[i] {
			t.Fatalf("body[%d] = 0x%02X, want 0x%02X", i, body[i], want[i])
		}
	}
}

func TestBuildModifyKeyCommandRejectsMixedKeysets(t *testing.T) {
	t.Parallel()
	_, err := BuildModifyKeyCommand([]KeyItem{
		{KeysetID: 1, SLN: 1, AlgorithmID: AlgClear, Erase: true},
		{KeysetID: 2, SLN: 2, AlgorithmID: AlgClear, Erase: true},
	})
	if err == nil {
		t.Fatal("expected error for mixed keyset ids")
	}
}

func TestBuildModifyKeyCommandEmpty(t *testing.T) {
	t.Parallel()
	if _, err := BuildModifyKeyCommand(nil); err == nil {
		t.Fatal("expected error for empty key list")
	}
}

func TestBuildZeroizeCommand(t *testing.T) {
	t.Parallel()
	body := BuildZeroizeCommand()
	if len(body) != 1 || body[0] != twi.MsgZeroizeCmd {
		t.Fatalf("BuildZeroizeCommand() = % X, want single MsgZeroizeCmd octet", body)
	}
}

func TestParseRekeyAck(t *testing.T) {
	t.Parallel()
	body := []byte{twi.MsgRekeyAck, 0x00, 0x01, byte(AlgAES256), twi.KeyStatusAccepted}
	statuses, err := parseRekeyAck(body)
	if err != nil {
		t.Fatalf("parseRekeyAck() error = %v", err)
	}
	if len(statuses) != 1 {
		t.Fatalf("len(statuses) = %d, want 1", len(statuses))
	}
	if !statuses[0].Accepted() {
		t.Errorf("statuses[0].Accepted() = false, want true")
	}
	if statuses[0].KeyID != 1 {
		t.Errorf("KeyID = %d, want 1", statuses[0].KeyID)
	}
}

func TestParseRekeyAckOverwrittenAccepted(t *testing.T) {
	t.Parallel()
	body := []byte{twi.MsgRekeyAck, 0x00, 0x01, byte(AlgAES256), twi.KeyStatusOverwritten}
	statuses, err := parseRekeyAck(body)
	if err != nil {
		t.Fatalf("parseRekeyAck() error = %v", err)
	}
	if !statuses[0].Accepted() {
		t.Error("overwritten status should be treated as accepted")
	}
}

func TestKeyStatusAcceptedForErase(t *testing.T) {
	t.Parallel()
	previouslyErased := KeyStatus{Status: twi.KeyStatusKeyPreviouslyErased}
	if previouslyErased.AcceptedFor(true) != true {
		t.Error("AcceptedFor(true) should treat key-previously-erased as success")
	}
	if previouslyErased.AcceptedFor(false) != false {
		t.Error("AcceptedFor(false) should not treat key-previously-erased as success on a normal keyload")
	}

	accepted := KeyStatus{Status: twi.KeyStatusAccepted}
	if !accepted.AcceptedFor(true) || !accepted.AcceptedFor(false) {
		t.Error("AcceptedFor should treat a plain accepted status as success regardless of erase")
	}

	rejected := KeyStatus{Status: twi.StatusInvalidKeyID}
	if rejected.AcceptedFor(true) || rejected.AcceptedFor(false) {
		t.Error("AcceptedFor should never treat an unrelated rejection status as success")
	}
}

func TestParseRekeyAckMalformed(t *testing.T) {
	t.Parallel()
	if _, err := parseRekeyAck([]byte{twi.MsgRekeyAck, 0x00, 0x01}); err == nil {
		t.Fatal("expected error for truncated triple")
	}
}

func TestParseNegativeAck(t *testing.T) {
	t.Parallel()
	status, err := parseNegativeAck([]byte{twi.MsgNegativeAck, twi.StatusInvalidKeyID})
	if err != nil {
		t.Fatalf("parseNegativeAck() error = %v", err)
	}
	if status != twi.StatusInvalidKeyID {
		t.Errorf("status = 0x%02X, want 0x%02X", status, twi.StatusInvalidKeyID)
	}
}

func TestParseInventoryResponse(t *testing.T) {
	t.Parallel()
	body := []byte{twi.MsgInventoryRsp, byte(twi.InvListAllUniqueKeyInfo),
		0x00, 0x01, byte(AlgAES256), 0x00, 0xCA,
		0x00, 0x02, byte(AlgDESOFB), 0x00, 0xCB,
	}
	info, err := parseInventoryResponse(body)
	if err != nil {
		t.Fatalf("parseInventoryResponse() error = %v", err)
	}
	if len(info) != 2 {
		t.Fatalf("len(info) = %d, want 2", len(info))
	}
	if info[0].SLN != 202 || info[1].SLN != 203 {
		t.Errorf("unexpected SLNs: %+v", info)
	}
}

func TestBuildChangeRSICommand(t *testing.T) {
	t.Parallel()
	body := BuildChangeRSICommand([3]byte{0x01, 0x02, 0x03}, 42)
	want := []byte{0x01, 0x02, 0x03, 0x00, 0x2A}
	if len(body) != len(want) {
		t.Fatalf("len(body) = %d, want %d", len(body), len(want))
	}
	for i := range want {
		if body[i] != want[i] {
			t.Fatalf("body[%d] = 0x%02X, want 0x%02X", i, body[i], want[i])
		}
	}
}
