package simhost

// FlatMemory is the flat byte-addressable "real memory" a Process reads
// through on a speculative cache miss and writes through on commit. It is
// a plain word-keyed map, not a model of any particular address space
// layout (spec.md §1 lists real memory's own representation as out of
// scope for the TM core).
type FlatMemory struct {
	words map[uint64]uint32
}

// NewFlatMemory creates an all-zero memory.
func NewFlatMemory() *FlatMemory {
	return &FlatMemory{words: make(map[uint64]uint32)}
}

func (m *FlatMemory) ReadWord(addr uint64) uint32 {
	return m.words[addr&^3]
}

func (m *FlatMemory) WriteWord(addr uint64, word uint32) {
	m.words[addr&^3] = word
}
