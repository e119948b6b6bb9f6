package txcontext

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/tmsim/gcm"
)

func newTestGCM(t *testing.T, conflictDetection, versioning bool) *gcm.GCM {
	cycle := uint64(0)
	g, err := gcm.New(conflictDetection, versioning, 64, 4, gcm.DefaultConfig(), nil, func() uint64 { return cycle })
	require.NoError(t, err)
	return g
}

func TestBeginCommitReleasesSpeculativeWritesToMemory(t *testing.T) {
	g := newTestGCM(t, true, true)
	mem := newFakeMemory()
	thread := newFakeThread(0, mem)
	backoff := NewBackoffPolicy(0, 1, 0)

	BeginTransaction(g, thread, Picode{Addr: 0x1000, Next: 0x1004}, backoff)
	require.NotNil(t, thread.TransContext())
	require.Equal(t, uint64(0x1004), thread.pc)

	res := StoreWord(g, thread, Picode{Addr: 0x2000, Next: 0x2004}, 0x400, 0xdeadbeef, backoff)
	require.Equal(t, AccessSuccess, res)
	require.Equal(t, uint32(0), mem.ReadWord(0x400), "write must stay private until commit")

	CommitTransaction(g, thread, Picode{Addr: 0x3000, Next: 0x3004}, backoff)
	// commit returns COMMIT_DELAY first; re-invoke to simulate the host retry.
	CommitTransaction(g, thread, Picode{Addr: 0x3000, Next: 0x3004}, backoff)

	assert.Equal(t, SwapWord(0xdeadbeef), mem.ReadWord(0x400))
	assert.Nil(t, thread.TransContext())
}

func TestAbortRestoresRegistersAndDiscardsWrites(t *testing.T) {
	g := newTestGCM(t, true, true)
	mem := newFakeMemory()
	thread := newFakeThread(0, mem)
	thread.gpr[5] = 111
	backoff := NewBackoffPolicy(0, 1, 0)

	BeginTransaction(g, thread, Picode{Addr: 0x1000, Next: 0x1004}, backoff)
	thread.SetGPR(5, 222)
	StoreWord(g, thread, Picode{Addr: 0x1004, Next: 0x1008}, 0x400, 0xabcd, backoff)

	AbortTransaction(g, thread, Picode{Addr: 0x1004, Next: 0x1008}, backoff)

	assert.Equal(t, uint64(111), thread.GPR(5))
	assert.Equal(t, uint32(0), mem.ReadWord(0x400))
	assert.Equal(t, uint64(0x1000), thread.pc)
	assert.True(t, thread.aborting)
	assert.Equal(t, 1, thread.AbortCount())
}

func TestSubsumedNestedBeginCommit(t *testing.T) {
	g := newTestGCM(t, true, true)
	mem := newFakeMemory()
	thread := newFakeThread(0, mem)
	backoff := NewBackoffPolicy(0, 1, 0)

	BeginTransaction(g, thread, Picode{Addr: 0x100, Next: 0x104}, backoff)
	outer := thread.TransContext()

	BeginTransaction(g, thread, Picode{Addr: 0x200, Next: 0x204}, backoff)
	require.Equal(t, gcm.BCSubsumed, thread.bcFlag)
	require.Same(t, outer, thread.TransContext(), "subsumed begin must not replace the outer context")

	CommitTransaction(g, thread, Picode{Addr: 0x300, Next: 0x304}, backoff)
	require.Equal(t, gcm.BCSubsumed, thread.bcFlag)
	require.Same(t, outer, thread.TransContext())
}

func TestByteStoreLeavesOtherBytesOfWordIntact(t *testing.T) {
	cache := NewSpeculativeCache(newFakeMemory())
	cache.StoreWord(0x100, 0x11223344)
	cache.StoreByte(0x101, 0xFF)
	got := cache.LoadWord(0x100)
	assert.Equal(t, uint32(0x11FF3344), got)
}

func TestSpeculativeCacheRoundTrip(t *testing.T) {
	cache := NewSpeculativeCache(newFakeMemory())
	cache.StoreWord(0x40, 0x12345678)
	assert.Equal(t, uint32(0x12345678), cache.LoadWord(0x40))

	cache.StoreDouble(0x80, 0x1122334455667788)
	assert.Equal(t, uint64(0x1122334455667788), cache.LoadDouble(0x80))
}
