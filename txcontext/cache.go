package txcontext

// SpeculativeCache is the address-to-word map a TransactionContext owns
// (spec.md §4.3). Keys are word-aligned; sub-word operations decompose
// into a load-splice-store over the containing word's slot. It carries no
// locking: a Context, and therefore its cache, belongs to exactly one pid
// at a time under the single-threaded-cooperative scheduling model
// (spec.md §5).
//
// Grounded on the teacher's capabilities/cache.go cacheStore: the same
// "map keyed by address, get-or-fetch on miss" shape, narrowed from a MESI
// state/metadata entry down to a bare 32-bit word slot.
type SpeculativeCache struct {
	mem   Memory
	words map[uint64]uint32
}

// NewSpeculativeCache creates an empty cache backed by mem for fetch-on-miss.
func NewSpeculativeCache(mem Memory) *SpeculativeCache {
	return &SpeculativeCache{mem: mem, words: make(map[uint64]uint32)}
}

func wordAddr(addr uint64) uint64 { return addr &^ 3 }

// LoadWord returns the word at the containing word-aligned address,
// materializing it from real memory on first touch within the transaction
// (spec.md §4.3).
func (c *SpeculativeCache) LoadWord(addr uint64) uint32 {
	wa := wordAddr(addr)
	if w, ok := c.words[wa]; ok {
		return w
	}
	var w uint32
	if c.mem != nil {
		w = c.mem.ReadWord(wa)
	}
	c.words[wa] = w
	return w
}

// StoreWord overwrites the word-aligned slot for addr.
func (c *SpeculativeCache) StoreWord(addr uint64, word uint32) {
	c.words[wordAddr(addr)] = word
}

// LoadByte returns the byte at addr, taken from the containing word.
func (c *SpeculativeCache) LoadByte(addr uint64) byte {
	word := c.LoadWord(addr)
	shift := byteShift(addr)
	return byte(word >> shift)
}

// StoreByte splices b into the byte-offset within addr's containing word,
// leaving the other three bytes of that word unmodified.
func (c *SpeculativeCache) StoreByte(addr uint64, b byte) {
	word := c.LoadWord(addr)
	shift := byteShift(addr)
	mask := uint32(0xFF) << shift
	word = (word &^ mask) | (uint32(b) << shift)
	c.StoreWord(addr, word)
}

// LoadHalf returns the 16-bit half-word at addr.
func (c *SpeculativeCache) LoadHalf(addr uint64) uint16 {
	word := c.LoadWord(addr)
	shift := halfShift(addr)
	return uint16(word >> shift)
}

// StoreHalf splices h into addr's containing word, preserving the other half.
func (c *SpeculativeCache) StoreHalf(addr uint64, h uint16) {
	word := c.LoadWord(addr)
	shift := halfShift(addr)
	mask := uint32(0xFFFF) << shift
	word = (word &^ mask) | (uint32(h) << shift)
	c.StoreWord(addr, word)
}

// LoadSingle reinterprets the word at addr as an IEEE-754 single.
func (c *SpeculativeCache) LoadSingle(addr uint64) uint32 {
	return c.LoadWord(addr)
}

// StoreSingle stores bits as the word at addr.
func (c *SpeculativeCache) StoreSingle(addr uint64, bits uint32) {
	c.StoreWord(addr, bits)
}

// LoadDouble composes two adjacent word slots into a 64-bit value,
// big-endian pairing: the high word sits at the lower address (spec.md §4.3).
func (c *SpeculativeCache) LoadDouble(addr uint64) uint64 {
	base := addr &^ 7
	hi := c.LoadWord(base)
	lo := c.LoadWord(base + 4)
	return uint64(hi)<<32 | uint64(lo)
}

// StoreDouble decomposes bits into its two word slots at addr (big-endian
// word pairing, matching LoadDouble).
func (c *SpeculativeCache) StoreDouble(addr uint64, bits uint64) {
	base := addr &^ 7
	c.StoreWord(base, uint32(bits>>32))
	c.StoreWord(base+4, uint32(bits))
}

// Dirty returns every (word-aligned address, word) pair currently buffered,
// for commit-time release to real memory (spec.md §4.2, commitTransaction).
func (c *SpeculativeCache) Dirty() map[uint64]uint32 {
	out := make(map[uint64]uint32, len(c.words))
	for addr, w := range c.words {
		out[addr] = w
	}
	return out
}

func byteShift(addr uint64) uint64 {
	// Big-endian byte numbering within the word: byte 0 is the
	// most-significant byte, matching SwapWord's reconciliation of target
	// endianness in byteorder.go.
	return (3 - (addr & 3)) * 8
}

func halfShift(addr uint64) uint64 {
	return (2 - (addr & 2)) * 8
}
