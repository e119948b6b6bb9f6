package txcontext

type fakeMemory struct {
	words map[uint64]uint32
}

func newFakeMemory() *fakeMemory { return &fakeMemory{words: make(map[uint64]uint32)} }

func (m *fakeMemory) ReadWord(addr uint64) uint32  { return m.words[addr&^3] }
func (m *fakeMemory) WriteWord(addr uint64, w uint32) { m.words[addr&^3] = w }

type fakeThread struct {
	pid        int
	mem        *fakeMemory
	gpr        [NumGPR]uint64
	fpr        [NumFPR]uint64
	lo, hi     uint64
	fcr0, fcr31 uint32
	pc         uint64
	tmDepth    int
	bcFlag     int
	aborting   bool
	nacking    bool
	tmTid      int
	abortCount int
	ctx        *Context
}

func newFakeThread(pid int, mem *fakeMemory) *fakeThread {
	return &fakeThread{pid: pid, mem: mem}
}

func (t *fakeThread) Pid() int       { return t.pid }
func (t *fakeThread) Memory() Memory { return t.mem }

func (t *fakeThread) GPR(i int) uint64      { return t.gpr[i] }
func (t *fakeThread) SetGPR(i int, v uint64) { t.gpr[i] = v }
func (t *fakeThread) FPR(i int) uint64      { return t.fpr[i] }
func (t *fakeThread) SetFPR(i int, v uint64) { t.fpr[i] = v }
func (t *fakeThread) LoHi() (uint64, uint64) { return t.lo, t.hi }
func (t *fakeThread) SetLoHi(lo, hi uint64)  { t.lo, t.hi = lo, hi }
func (t *fakeThread) FCR0() uint32          { return t.fcr0 }
func (t *fakeThread) FCR31() uint32         { return t.fcr31 }
func (t *fakeThread) SetFCR31(v uint32)     { t.fcr31 = v }

func (t *fakeThread) SetPCIcode(pc uint64) { t.pc = pc }

func (t *fakeThread) IncTMDepth()   { t.tmDepth++ }
func (t *fakeThread) DecTMDepth()   { t.tmDepth-- }
func (t *fakeThread) TMDepth() int  { return t.tmDepth }

func (t *fakeThread) SetTMBCFlag(flag int)        { t.bcFlag = flag }
func (t *fakeThread) SetTMAborting(aborting bool) { t.aborting = aborting }
func (t *fakeThread) SetTMNacking(nacking bool)   { t.nacking = nacking }
func (t *fakeThread) SetTMTid(tid int)            { t.tmTid = tid }

func (t *fakeThread) AbortCount() int { return t.abortCount }
func (t *fakeThread) IncAbortCount()  { t.abortCount++ }

func (t *fakeThread) TransContext() *Context        { return t.ctx }
func (t *fakeThread) SetTransContext(ctx *Context) { t.ctx = ctx }

var _ Thread = (*fakeThread)(nil)
var _ Memory = (*fakeMemory)(nil)
