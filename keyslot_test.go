package p25kfd

import "testing"

func TestKeySlotToKeyItem(t *testing.T) {
	t.Parallel()
	slot := KeySlot{
		Name:        "Talkgroup Common",
		AlgorithmID: AlgAES256,
		KeyID:       7,
		SLN:         42,
		KeyHex:      "0102030405060708090A0B0C0D0E0F101112131415161718191A1B1C1D1E1F20",
	}
	item, err := slot.ToKeyItem(3)
	if err != nil {
		t.Fatalf("ToKeyItem() error = %v", err)
	}
	if item.KeysetID != 3 {
		t.Errorf("KeysetID = %d, want 3", item.KeysetID)
	}
	if item.SLN != 42 || item.KeyID != 7 {
		t.Errorf("SLN/KeyID = %d/%d, want 42/7", item.SLN, item.KeyID)
	}
	if len(item.Material) != 32 {
		t.Errorf("len(Material) = %d, want 32", len(item.Material))
	}
	if item.Erase {
		t.Error("ToKeyItem should never set Erase")
	}
}

func TestKeySlotToKeyItemInvalidHex(t *testing.T) {
	t.Parallel()
	slot := KeySlot{AlgorithmID: AlgAES128, KeyHex: "not-hex"}
	if _, err := slot.ToKeyItem(1); err == nil {
		t.Fatal("expected error decoding invalid hex")
	}
}

func TestKeyGroupSelectedKeys(t *testing.T) {
	t.Parallel()
	group := KeyGroup{
		KeysetID: 1,
		Keys: []KeySlot{
			{Name: "a", Selected: true},
			{Name: "b", Selected: false},
			{Name: "c", Selected: true},
		},
	}
	selected := group.SelectedKeys()
	if len(selected) != 2 {
		t.Fatalf("len(SelectedKeys()) = %d, want 2", len(selected))
	}
	if selected[0].Name != "a" || selected[1].Name != "c" {
		t.Errorf("unexpected selection order: %+v", selected)
	}
}

func TestKeyGroupToKeyItemsUsesGroupKeyset(t *testing.T) {
	t.Parallel()
	group := KeyGroup{
		KeysetID: 5,
		Keys: []KeySlot{
			{AlgorithmID: AlgAES128, KeyHex: "0102030405060708090A0B0C0D0E0F10", Selected: true, SLN: 1},
		},
	}
	items, err := group.ToKeyItems(9) // active keyset should be ignored
	if err != nil {
		t.Fatalf("ToKeyItems() error = %v", err)
	}
	if len(items) != 1 || items[0].KeysetID != 5 {
		t.Fatalf("items = %+v, want single item with KeysetID 5", items)
	}
}

func TestKeyGroupToKeyItemsUsesActiveKeyset(t *testing.T) {
	t.Parallel()
	group := KeyGroup{
		KeysetID:        5,
		UseActiveKeyset: true,
		Keys: []KeySlot{
			{AlgorithmID: AlgAES128, KeyHex: "0102030405060708090A0B0C0D0E0F10", Selected: true, SLN: 1},
		},
	}
	items, err := group.ToKeyItems(9)
	if err != nil {
		t.Fatalf("ToKeyItems() error = %v", err)
	}
	if len(items) != 1 || items[0].KeysetID != 9 {
		t.Fatalf("items = %+v, want single item with KeysetID 9", items)
	}
}

func TestKeyGroupToKeyItemsSkipsUnselected(t *testing.T) {
	t.Parallel()
	group := KeyGroup{
		KeysetID: 1,
		Keys: []KeySlot{
			{AlgorithmID: AlgAES128, KeyHex: "0102030405060708090A0B0C0D0E0F10", Selected: false},
		},
	}
	items, err := group.ToKeyItems(0)
	if err != nil {
		t.Fatalf("ToKeyItems() error = %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("len(items) = %d, want 0", len(items))
	}
}
