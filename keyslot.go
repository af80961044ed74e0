package p25kfd

import "encoding/hex"

// KeySlot is a caller-facing, named description of one key, the shape a
// keyload UI or config file works with before it is turned into the wire
// KeyItem this module actually transmits. It carries no persistence,
// encryption, or storage semantics; a caller owning a key container is
// responsible for all of that and hands this module only KeySlot/KeyGroup
// values already decided upon.
type KeySlot struct {
	Name        string
	Description string
	AlgorithmID AlgorithmID
	KeyID       uint16
	SLN         uint16
	KeyHex      string
	Selected    bool
}

// ToKeyItem converts s into the KeyItem BuildModifyKeyCommand consumes,
// decoding KeyHex and stamping keysetID. Erase is never implied by a
// KeySlot; callers wanting to erase a slot call KFD.EraseKey directly.
func (s KeySlot) ToKeyItem(keysetID byte) (KeyItem, error) {
	material, err := hex.DecodeString(s.KeyHex)
	if err != nil {
		return KeyItem{}, err
	}
	return KeyItem{
		KeysetID:    keysetID,
		SLN:         s.SLN,
		KeyID:       s.KeyID,
		AlgorithmID: s.AlgorithmID,
		Material:    material,
	}, nil
}

// KeyGroup is a named collection of KeySlots sharing one keyset, mirroring
// how a keyload plan groups related keys (e.g. all SLNs for one talkgroup
// set) under a single KeysetID.
type KeyGroup struct {
	Name            string
	Description     string
	KeysetID        byte
	UseActiveKeyset bool
	Keys            []KeySlot
}

// SelectedKeys returns the subset of Keys with Selected set.
func (g KeyGroup) SelectedKeys() []KeySlot {
	out := make([]KeySlot, 0, len(g.Keys))
	for _, k := range g.Keys {
		if k.Selected {
			out = append(out, k)
		}
	}
	return out
}

// ToKeyItems converts every selected key in g into a KeyItem batch ready
// for KFD.KeyloadMultiple. keysetID is used unless UseActiveKeyset is set,
// in which case activeKeysetID (the peer's currently active keyset, from
// ViewKeysetInfo) is used instead.
func (g KeyGroup) ToKeyItems(activeKeysetID byte) ([]KeyItem, error) {
	keysetID := g.KeysetID
	if g.UseActiveKeyset {
		keysetID = activeKeysetID
	}
	selected := g.SelectedKeys()
	items := make([]KeyItem, 0, len(selected))
	for _, slot := range selected {
		item, err := slot.ToKeyItem(keysetID)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}
