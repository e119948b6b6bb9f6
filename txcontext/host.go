// Package txcontext implements the per-active-transaction context that
// buffers speculative data and drives the host simulator's calls into the
// Global Coherence Manager (package gcm).
package txcontext

// Picode stands in for the host simulator's decoded instruction handle
// (spec.md §6: "picode.addr/immed/next"). The TM core never interprets an
// instruction's opcode; it only needs these three fields to compute PC
// rewinds and to carry a begin instruction's thread-id immediate.
type Picode struct {
	Addr  uint64
	Immed uint64
	Next  uint64
}

// Memory is real (non-speculative) memory, the collaborator spec.md §1
// lists as out of scope ("file-level I/O" aside, byte-order conversion and
// the broader CPU simulator own it). SpeculativeCache reads through it on
// a first touch and writes through it on commit.
type Memory interface {
	ReadWord(addr uint64) uint32
	WriteWord(addr uint64, word uint32)
}

// Thread is the minimal slice of the host simulator's thread object that
// Context needs (spec.md §6, "Host-simulator callbacks consumed by
// Context"). A real host simulator's thread type satisfies this with
// thin adapter methods over its register file and TM bookkeeping fields.
type Thread interface {
	Pid() int
	Memory() Memory

	GPR(i int) uint64
	SetGPR(i int, v uint64)
	FPR(i int) uint64
	SetFPR(i int, v uint64)
	LoHi() (lo, hi uint64)
	SetLoHi(lo, hi uint64)
	FCR0() uint32
	FCR31() uint32
	SetFCR31(v uint32)

	SetPCIcode(pc uint64)

	IncTMDepth()
	DecTMDepth()
	TMDepth() int

	SetTMBCFlag(flag int)
	SetTMAborting(aborting bool)
	SetTMNacking(nacking bool)
	SetTMTid(tid int)

	AbortCount() int
	IncAbortCount()

	TransContext() *Context
	SetTransContext(ctx *Context)
}

// NumGPR and NumFPR mirror spec.md §3's register-snapshot shape: "33 GPRs,
// 32 FP regs" (the 33rd GPR slot is the architectural always-zero/link
// register some hosts keep addressable for snapshot symmetry).
const (
	NumGPR = 33
	NumFPR = 32
)
