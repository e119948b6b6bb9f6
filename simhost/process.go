package simhost

import "github.com/example/tmsim/txcontext"

// Process is the host-simulator thread stand-in: the concrete register
// file, TM bookkeeping fields, and speculative-context pointer that
// satisfies txcontext.Thread. A real CPU simulator's thread type would
// carry a decoder and pipeline state alongside these same fields; Process
// keeps only what the TM core's Thread interface requires (spec.md §6).
type Process struct {
	pid int
	mem txcontext.Memory

	gpr [txcontext.NumGPR]uint64
	fpr [txcontext.NumFPR]uint64
	lo  uint64
	hi  uint64

	fcr0  uint32
	fcr31 uint32

	// pc is the address of the instruction this Process will execute next;
	// Driver indexes its Script by pc/4.
	pc uint64

	tmDepth    int
	bcFlag     int
	aborting   bool
	nacking    bool
	tmTid      int
	abortCount int

	ctx *txcontext.Context

	// stallRemaining is the number of cycles Driver must let this Process
	// idle before retrying its current instruction, drained from GCM after
	// every BeginTransaction/CommitTransaction/AbortTransaction/typed-access
	// call (gcm.GCM.StallCyclesFor).
	stallRemaining int
}

// NewProcess creates a Process at address 0 with a zeroed register file.
func NewProcess(pid int, mem txcontext.Memory) *Process {
	return &Process{pid: pid, mem: mem}
}

func (p *Process) Pid() int            { return p.pid }
func (p *Process) Memory() txcontext.Memory { return p.mem }

func (p *Process) GPR(i int) uint64       { return p.gpr[i] }
func (p *Process) SetGPR(i int, v uint64) { p.gpr[i] = v }
func (p *Process) FPR(i int) uint64       { return p.fpr[i] }
func (p *Process) SetFPR(i int, v uint64) { p.fpr[i] = v }
func (p *Process) LoHi() (uint64, uint64) { return p.lo, p.hi }
func (p *Process) SetLoHi(lo, hi uint64)  { p.lo, p.hi = lo, hi }
func (p *Process) FCR0() uint32           { return p.fcr0 }
func (p *Process) FCR31() uint32          { return p.fcr31 }
func (p *Process) SetFCR31(v uint32)      { p.fcr31 = v }

func (p *Process) SetPCIcode(pc uint64) { p.pc = pc }
func (p *Process) PC() uint64           { return p.pc }

func (p *Process) IncTMDepth()  { p.tmDepth++ }
func (p *Process) DecTMDepth()  { p.tmDepth-- }
func (p *Process) TMDepth() int { return p.tmDepth }

func (p *Process) SetTMBCFlag(flag int)        { p.bcFlag = flag }
func (p *Process) SetTMAborting(aborting bool) { p.aborting = aborting }
func (p *Process) SetTMNacking(nacking bool)   { p.nacking = nacking }
func (p *Process) SetTMTid(tid int)            { p.tmTid = tid }

func (p *Process) AbortCount() int { return p.abortCount }
func (p *Process) IncAbortCount()  { p.abortCount++ }

func (p *Process) TransContext() *txcontext.Context        { return p.ctx }
func (p *Process) SetTransContext(ctx *txcontext.Context) { p.ctx = ctx }

var _ txcontext.Thread = (*Process)(nil)
