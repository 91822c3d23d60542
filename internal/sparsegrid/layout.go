package sparsegrid

// Block and pool layout.
const (
	BlockEdge     = 4
	CellsPerBlock = BlockEdge * BlockEdge * BlockEdge

	// WordsPerCell holds mass and momentum x/y/z as fixed point. After the
	// grid update words 1-3 hold velocity as f32.
	WordsPerCell = 4
	SlotWords    = CellsPerBlock * WordsPerCell
	SlotBytes    = SlotWords * 4

	// Hash map entry: block key, physical slot.
	EntryWords = 2
	EntryBytes = EntryWords * 4

	// KeyBits is the per-axis width of a packed block key.
	KeyBits = 10
	keyMask = 1<<KeyBits - 1
)

// Sentinel words.
const (
	EmptyKey       uint32 = 0xFFFFFFFF
	SlotPending    uint32 = 0xFFFFFFFF
	SlotOverflowed uint32 = 0xFFFFFFFE
)

// Control block words.
const (
	CtrlAllocated = iota
	CtrlDropped
	CtrlFixedOverflows
	ctrlReserved

	ControlWords = 4
	ControlBytes = ControlWords * 4
)

// BlockKey packs a block coordinate. Coordinates must be in [0, 1024).
func BlockKey(bx, by, bz uint32) uint32 {
	return bx | by<<KeyBits | bz<<(2*KeyBits)
}

// UnpackKey is the inverse of BlockKey.
func UnpackKey(key uint32) (bx, by, bz uint32) {
	return key & keyMask, key >> KeyBits & keyMask, key >> (2 * KeyBits) & keyMask
}

// CellIndex is the cell's index inside its block.
func CellIndex(lx, ly, lz uint32) uint32 {
	return lx + ly*BlockEdge + lz*BlockEdge*BlockEdge
}

// CellWord is the first pool word of a cell.
func CellWord(slot, cell uint32) uint32 {
	return slot*SlotWords + cell*WordsPerCell
}
