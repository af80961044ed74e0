package twi

// TWI opcode octets, exchanged outside the KMM envelope by the session link.
const (
	OpReadyReq       byte = 0xC0
	OpReadyMR        byte = 0xD0
	OpReadyKVL       byte = 0xD1
	OpTransferDone   byte = 0xC1
	OpKMM            byte = 0xC2
	OpDisconnect     byte = 0x92
	OpDisconnectAck  byte = 0x90
)

// KMM message identifiers (spec TIA-102.AACD-A subset plus the vendor
// extensions this module supplements per the original firmware's header).
const (
	MsgInventoryCmd  byte = 0x00
	MsgInventoryRsp  byte = 0x01
	MsgModifyKeyCmd  byte = 0x04
	MsgRekeyAck      byte = 0x07
	MsgNegativeAck   byte = 0x08
	MsgZeroizeCmd    byte = 0x0A
	MsgChangeoverCmd byte = 0x0D
	MsgChangeRsiCmd  byte = 0x0E
	MsgZeroizeRsp    byte = 0x0F
	MsgChangeoverRsp byte = 0x11
	MsgChangeRsiRsp  byte = 0x12
)

// InventoryType selects the kind of listing an InventoryCommand requests.
type InventoryType byte

const (
	InvNull                 InventoryType = 0x00
	InvSendCurrentDateTime  InventoryType = 0x01
	InvListActiveKsetIDs    InventoryType = 0x02
	InvListInactiveKsetIDs  InventoryType = 0x03
	InvListActiveKeyIDs     InventoryType = 0x04
	InvListInactiveKeyIDs   InventoryType = 0x05
	InvListAllKsetTagging   InventoryType = 0x06
	InvListAllUniqueKeyInfo InventoryType = 0x07
	InvListActiveKeys       InventoryType = 0xFD
	InvListMNP              InventoryType = 0xFE
	InvListKMFRSI           InventoryType = 0xFF
)

// Response kind octet for the inner KMM message_format field.
const (
	ResponseKindImmediate byte = 0xC0
	ResponseKindDelayed   byte = 0x80
)

// NegativeAck status codes carried in the single-byte NegativeAck body.
const (
	StatusInvalidKeyID    byte = 0x08
	StatusInvalidKeyLen   byte = 0x0B
	StatusInvalidKeyset   byte = 0x0C
	StatusUnsupported     byte = 0x0D
	StatusKeyNotFound     byte = 0x10
	StatusInternalError   byte = 0xFF
)

// Per-key status codes carried in a RekeyAck's status triples.
const (
	KeyStatusAccepted           byte = 0x00
	KeyStatusOverwritten        byte = 0x02
	KeyStatusKeyPreviouslyErased byte = 0x04
)

// BroadcastRSI is the 24-bit radio system identity used for three-wire
// sessions where no specific RSI is being addressed.
var BroadcastRSI = [3]byte{0xFF, 0xFF, 0xFF}

// KEK algorithm ID used for the (always-clear, in this module's scope) KEK
// fields of a ModifyKeyCommand body.
const KEKAlgorithmClear byte = 0x80
