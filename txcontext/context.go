package txcontext

import (
	"github.com/sirupsen/logrus"

	"github.com/example/tmsim/gcm"
)

// Context is the per-active-transaction object spec.md §3 describes: a
// saved register snapshot, a speculative memory buffer, a pointer to the
// parent context for nested transactions, and the begin instruction handle
// for replay.
type Context struct {
	GPR   [NumGPR]uint64
	FP    [NumFPR]uint64
	Lo    uint64
	Hi    uint64
	FCR0  uint32
	FCR31 uint32

	Tid        int
	Parent     *Context
	BeginInstr Picode
	Cache      *SpeculativeCache

	// Deferred is a slot for an instruction whose retirement is postponed
	// until this transaction resolves (spec.md §4.2). Nothing in this
	// package sets, reads or replays it.
	Deferred *Picode
}

func snapshot(thread Thread) *Context {
	ctx := &Context{}
	for i := 0; i < NumGPR; i++ {
		ctx.GPR[i] = thread.GPR(i)
	}
	for i := 0; i < NumFPR; i++ {
		ctx.FP[i] = thread.FPR(i)
	}
	ctx.Lo, ctx.Hi = thread.LoHi()
	ctx.FCR0 = thread.FCR0()
	ctx.FCR31 = thread.FCR31()
	return ctx
}

func (ctx *Context) restore(thread Thread) {
	for i := 0; i < NumGPR; i++ {
		thread.SetGPR(i, ctx.GPR[i])
	}
	for i := 0; i < NumFPR; i++ {
		// spec.md §9 open question 1: the source restores FP registers
		// from the *integer* snapshot array (this->reg[i], not this->fp[i])
		// — almost certainly a bug, and not preserved here. This restores
		// from ctx.FP, the corrected behavior; see DESIGN.md for the
		// divergence note.
		thread.SetFPR(i, ctx.FP[i])
	}
	thread.SetLoHi(ctx.Lo, ctx.Hi)
	thread.SetFCR31(ctx.FCR31)
}

var log = logrus.WithField("component", "txcontext")

// BeginTransaction calls gcm.Begin and either installs a fresh Context,
// propagates a subsumed begin, or stalls and rewinds PC to replay the
// begin after a backoff (spec.md §4.2).
func BeginTransaction(g *gcm.GCM, thread Thread, pc Picode, backoff BackoffPolicy) {
	result := g.Begin(thread.Pid(), pc.Addr)

	switch result.Outcome {
	case gcm.BeginSuccess:
		ctx := snapshot(thread)
		ctx.Tid = int(pc.Immed)
		ctx.Parent = thread.TransContext()
		ctx.BeginInstr = pc
		ctx.Cache = NewSpeculativeCache(thread.Memory())
		thread.SetTransContext(ctx)
		thread.SetTMBCFlag(result.BCFlag)
		thread.SetTMTid(ctx.Tid)
		thread.IncTMDepth()
		thread.SetPCIcode(pc.Next)

	case gcm.BeginBackoff:
		stall := backoff.AbortBackoff(result.AbortCount)
		g.StallUntil(thread.Pid(), stall)
		thread.SetPCIcode(pc.Addr)

	case gcm.BeginIgnore:
		thread.SetTMBCFlag(result.BCFlag)
		thread.IncTMDepth()
		thread.SetPCIcode(pc.Next)
	}
}

// CommitTransaction calls gcm.Commit and drives the resulting stall/replay,
// abort-cascade, or successful release of the speculative cache to real
// memory (spec.md §4.2).
func CommitTransaction(g *gcm.GCM, thread Thread, pc Picode, backoff BackoffPolicy) {
	ctx := thread.TransContext()
	if ctx == nil {
		return
	}
	result := g.Commit(thread.Pid(), ctx.Tid)
	commitBase, commitVar, _, _ := g.StallParams()

	switch result.Outcome {
	case gcm.CommitDelay:
		stall := backoff.RandomDelay(commitBase + commitVar*result.WriteSetSize)
		g.StallUntil(thread.Pid(), stall)
		thread.SetPCIcode(pc.Addr)

	case gcm.CommitNack:
		g.StallUntil(thread.Pid(), g.NackStallCycles())
		thread.SetPCIcode(pc.Addr)

	case gcm.CommitIgnore:
		thread.DecTMDepth()
		thread.SetTMBCFlag(result.BCFlag)
		thread.SetPCIcode(pc.Next)

	case gcm.CommitAbort:
		AbortTransaction(g, thread, pc, backoff)

	case gcm.CommitSuccess:
		thread.DecTMDepth()
		mem := thread.Memory()
		if mem != nil {
			for addr, word := range ctx.Cache.Dirty() {
				mem.WriteWord(addr, word)
			}
		}
		log.WithFields(logrus.Fields{"pid": thread.Pid(), "utid": result.Tuid, "writeSetSize": result.WriteSetSize}).
			Debug("released speculative writes to real memory")
		thread.SetTMBCFlag(result.BCFlag)
		thread.SetPCIcode(pc.Next)
		thread.SetTransContext(ctx.Parent)
	}
}

// AbortTransaction calls gcm.Abort, restores the saved register snapshot,
// stalls for the randomized abort cost, and rewinds PC to the begin
// instruction so the transaction replays (spec.md §4.2).
func AbortTransaction(g *gcm.GCM, thread Thread, pc Picode, backoff BackoffPolicy) {
	ctx := thread.TransContext()
	if ctx == nil {
		return
	}
	tid := ctx.Tid
	result := g.Abort(thread.Pid(), tid)
	if result.Outcome != gcm.AbortSuccess {
		return
	}

	thread.IncAbortCount()
	thread.DecTMDepth()
	ctx.restore(thread)

	_, _, abortBase, abortVar := g.StallParams()
	stall := backoff.RandomDelay(abortBase + abortVar*result.WriteSetSize)
	g.StallUntil(thread.Pid(), stall)
	thread.SetPCIcode(ctx.BeginInstr.Addr)
	thread.SetTMAborting(true)
	thread.SetTransContext(ctx.Parent)
}

// ---- typed speculative accessors -----------------------------------------

// AccessResult tells the caller how to drive the host after a typed load or
// store: whether to retry (stall already installed), cascade into an
// abort, or continue to the next instruction.
type AccessResult int

const (
	AccessSuccess AccessResult = iota
	AccessStalled
	AccessAborted
)

func drive(g *gcm.GCM, thread Thread, pc Picode, outcome gcm.AccessOutcome, backoff BackoffPolicy) AccessResult {
	switch outcome {
	case gcm.Nack:
		thread.SetTMNacking(true)
		g.StallUntil(thread.Pid(), g.NackStallCycles())
		return AccessStalled
	case gcm.Abort:
		AbortTransaction(g, thread, pc, backoff)
		return AccessAborted
	default:
		return AccessSuccess
	}
}

// LoadWord performs a speculative word load: consults GCM for the
// coherence verdict, then reads through the Context's SpeculativeCache.
func LoadWord(g *gcm.GCM, thread Thread, pc Picode, addr uint64, backoff BackoffPolicy) (uint32, AccessResult) {
	ctx := thread.TransContext()
	outcome := g.Read(thread.Pid(), ctx.Tid, addr)
	res := drive(g, thread, pc, outcome, backoff)
	if res != AccessSuccess {
		return 0, res
	}
	return SwapWord(ctx.Cache.LoadWord(addr)), AccessSuccess
}

// StoreWord performs a speculative word store.
func StoreWord(g *gcm.GCM, thread Thread, pc Picode, addr uint64, value uint32, backoff BackoffPolicy) AccessResult {
	ctx := thread.TransContext()
	outcome := g.Write(thread.Pid(), ctx.Tid, addr)
	res := drive(g, thread, pc, outcome, backoff)
	if res != AccessSuccess {
		return res
	}
	ctx.Cache.StoreWord(addr, SwapWord(value))
	return AccessSuccess
}

// LoadHalf performs a speculative half-word load.
func LoadHalf(g *gcm.GCM, thread Thread, pc Picode, addr uint64, backoff BackoffPolicy) (uint16, AccessResult) {
	ctx := thread.TransContext()
	outcome := g.Read(thread.Pid(), ctx.Tid, addr)
	res := drive(g, thread, pc, outcome, backoff)
	if res != AccessSuccess {
		return 0, res
	}
	return SwapShort(ctx.Cache.LoadHalf(addr)), AccessSuccess
}

// StoreHalf performs a speculative half-word store.
func StoreHalf(g *gcm.GCM, thread Thread, pc Picode, addr uint64, value uint16, backoff BackoffPolicy) AccessResult {
	ctx := thread.TransContext()
	outcome := g.Write(thread.Pid(), ctx.Tid, addr)
	res := drive(g, thread, pc, outcome, backoff)
	if res != AccessSuccess {
		return res
	}
	ctx.Cache.StoreHalf(addr, SwapShort(value))
	return AccessSuccess
}

// LoadByte performs a speculative byte load.
func LoadByte(g *gcm.GCM, thread Thread, pc Picode, addr uint64, backoff BackoffPolicy) (byte, AccessResult) {
	ctx := thread.TransContext()
	outcome := g.Read(thread.Pid(), ctx.Tid, addr)
	res := drive(g, thread, pc, outcome, backoff)
	if res != AccessSuccess {
		return 0, res
	}
	return ctx.Cache.LoadByte(addr), AccessSuccess
}

// StoreByte performs a speculative byte store.
func StoreByte(g *gcm.GCM, thread Thread, pc Picode, addr uint64, value byte, backoff BackoffPolicy) AccessResult {
	ctx := thread.TransContext()
	outcome := g.Write(thread.Pid(), ctx.Tid, addr)
	res := drive(g, thread, pc, outcome, backoff)
	if res != AccessSuccess {
		return res
	}
	ctx.Cache.StoreByte(addr, value)
	return AccessSuccess
}

// LoadSingle performs a speculative single-precision FP load.
func LoadSingle(g *gcm.GCM, thread Thread, pc Picode, addr uint64, backoff BackoffPolicy) (uint32, AccessResult) {
	ctx := thread.TransContext()
	outcome := g.Read(thread.Pid(), ctx.Tid, addr)
	res := drive(g, thread, pc, outcome, backoff)
	if res != AccessSuccess {
		return 0, res
	}
	return SwapWord(ctx.Cache.LoadSingle(addr)), AccessSuccess
}

// StoreSingle performs a speculative single-precision FP store.
func StoreSingle(g *gcm.GCM, thread Thread, pc Picode, addr uint64, bits uint32, backoff BackoffPolicy) AccessResult {
	ctx := thread.TransContext()
	outcome := g.Write(thread.Pid(), ctx.Tid, addr)
	res := drive(g, thread, pc, outcome, backoff)
	if res != AccessSuccess {
		return res
	}
	ctx.Cache.StoreSingle(addr, SwapWord(bits))
	return AccessSuccess
}

// LoadDouble performs a speculative double-precision FP load.
func LoadDouble(g *gcm.GCM, thread Thread, pc Picode, addr uint64, backoff BackoffPolicy) (uint64, AccessResult) {
	ctx := thread.TransContext()
	outcome := g.Read(thread.Pid(), ctx.Tid, addr)
	res := drive(g, thread, pc, outcome, backoff)
	if res != AccessSuccess {
		return 0, res
	}
	return ctx.Cache.LoadDouble(addr), AccessSuccess
}

// StoreDouble performs a speculative double-precision FP store.
func StoreDouble(g *gcm.GCM, thread Thread, pc Picode, addr uint64, bits uint64, backoff BackoffPolicy) AccessResult {
	ctx := thread.TransContext()
	outcome := g.Write(thread.Pid(), ctx.Tid, addr)
	res := drive(g, thread, pc, outcome, backoff)
	if res != AccessSuccess {
		return res
	}
	ctx.Cache.StoreDouble(addr, bits)
	return AccessSuccess
}

// CacheReadBuffer decomposes a count-byte transfer into word transfers plus
// a byte-granularity remainder, per spec.md §4.2's buffer-op description.
func CacheReadBuffer(g *gcm.GCM, thread Thread, pc Picode, addr uint64, count int, backoff BackoffPolicy) ([]byte, AccessResult) {
	out := make([]byte, 0, count)
	words := count / 4
	for i := 0; i < words; i++ {
		w, res := LoadWord(g, thread, pc, addr+uint64(i*4), backoff)
		if res != AccessSuccess {
			return nil, res
		}
		out = append(out, byte(w>>24), byte(w>>16), byte(w>>8), byte(w))
	}
	rem := count % 4
	for i := 0; i < rem; i++ {
		b, res := LoadByte(g, thread, pc, addr+uint64(words*4+i), backoff)
		if res != AccessSuccess {
			return nil, res
		}
		out = append(out, b)
	}
	return out, AccessSuccess
}

// CacheWriteBuffer is the store-side counterpart of CacheReadBuffer.
func CacheWriteBuffer(g *gcm.GCM, thread Thread, pc Picode, addr uint64, data []byte, backoff BackoffPolicy) AccessResult {
	words := len(data) / 4
	for i := 0; i < words; i++ {
		w := uint32(data[i*4])<<24 | uint32(data[i*4+1])<<16 | uint32(data[i*4+2])<<8 | uint32(data[i*4+3])
		if res := StoreWord(g, thread, pc, addr+uint64(i*4), w, backoff); res != AccessSuccess {
			return res
		}
	}
	rem := len(data) % 4
	for i := 0; i < rem; i++ {
		if res := StoreByte(g, thread, pc, addr+uint64(words*4+i), data[words*4+i], backoff); res != AccessSuccess {
			return res
		}
	}
	return AccessSuccess
}
