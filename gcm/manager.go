// Package gcm implements the Global Coherence Manager: the per-cache-line
// reader/writer state table, the per-pid transaction-state vector, and the
// eager/lazy conflict-resolution protocols that decide whether a
// speculative memory access succeeds, stalls, or aborts.
package gcm

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Policy names the conflict-detection/versioning combination a GCM was
// constructed with (spec.md §4.1 table).
type Policy int

const (
	// PolicyEagerEager detects conflicts at access time and finalizes
	// commits through commitEE. Writes are still buffered in the
	// transaction's speculative cache until commit.
	PolicyEagerEager Policy = iota
	// PolicyEagerLazy detects conflicts at access time but buffers writes
	// and publishes them only on commit.
	PolicyEagerLazy
	// PolicyLazyLazy detects conflicts only at commit time.
	PolicyLazyLazy
)

func (p Policy) String() string {
	switch p {
	case PolicyEagerEager:
		return "eager-eager"
	case PolicyEagerLazy:
		return "eager-lazy"
	case PolicyLazyLazy:
		return "lazy-lazy"
	default:
		return "unknown"
	}
}

// Clock supplies the monotonic cycle counter the host simulator owns
// (spec.md §6, "globalClock").
type Clock func() uint64

// GCM is the Global Coherence Manager. All of its state — the cache-line
// table, the transaction-state vector, and the lazy-versioning commit
// token — are explicit fields of this value; there is no package-level
// singleton (spec.md §9, "Global state").
type GCM struct {
	conflictDetection bool
	versioning        bool
	policy            Policy
	cacheLineSize     uint64

	lines  *lineTable
	trans  *transVector
	cfg    Config
	report Reporter
	clock  Clock
	log    *logrus.Entry

	currentCommitter int
	stalls           map[int]int
}

// New constructs a GCM. conflictDetection=true selects eager conflict
// detection (checked at access time); versioning=true selects eager
// versioning, which here picks the commitEE path, the primary/secondary
// stall mapping in StallParams, and a non-zero write-set size on Abort.
// Under every policy writes stay in the speculative cache until commit. The
// (versioning=true, conflictDetection=false) combination is unsupported
// and fails construction, per spec.md §4.1's table and §7's "Configuration
// fatal" category.
func New(conflictDetection, versioning bool, cacheLineSize uint64, numPids int, cfg Config, out Reporter, clock Clock) (*GCM, error) {
	if versioning && !conflictDetection {
		return nil, fmt.Errorf("gcm: unsupported policy combination: lazy conflict detection requires lazy versioning")
	}
	if cacheLineSize == 0 || cacheLineSize&(cacheLineSize-1) != 0 {
		return nil, fmt.Errorf("gcm: cacheLineSize must be a positive power of two, got %d", cacheLineSize)
	}
	if numPids <= 0 {
		return nil, fmt.Errorf("gcm: numPids must be positive, got %d", numPids)
	}
	if out == nil {
		out = NopReporter{}
	}
	if clock == nil {
		clock = func() uint64 { return 0 }
	}

	var policy Policy
	switch {
	case versioning && conflictDetection:
		policy = PolicyEagerEager
	case !versioning && conflictDetection:
		policy = PolicyEagerLazy
	default:
		policy = PolicyLazyLazy
	}

	return &GCM{
		conflictDetection: conflictDetection,
		versioning:        versioning,
		policy:            policy,
		cacheLineSize:     cacheLineSize,
		lines:             newLineTable(),
		trans:             newTransVector(numPids),
		cfg:               cfg,
		report:            out,
		clock:             clock,
		log:               logrus.WithField("component", "gcm"),
		currentCommitter:  -1,
		stalls:            make(map[int]int),
	}, nil
}

// Policy reports which of the three supported policies this GCM runs.
func (g *GCM) Policy() Policy { return g.policy }

// addrToCacheLine masks raddr down to its containing cache-line address
// (spec.md §4.1, "addrToCacheLine").
func (g *GCM) addrToCacheLine(addr uint64) uint64 {
	return addr &^ (g.cacheLineSize - 1)
}

// StallParams resolves the (base, var) stall-cycle pair the host should use
// for commit and abort, per the primary/secondary mapping in spec.md §6:
// the "primary" path is commit under eager versioning and abort under lazy
// versioning; "secondary" is the complementary path.
func (g *GCM) StallParams() (commitBase, commitVar, abortBase, abortVar int) {
	if g.versioning {
		return g.cfg.PrimaryBaseStallCycles, g.cfg.PrimaryVarStallCycles,
			g.cfg.SecondaryBaseStallCycles, g.cfg.SecondaryVarStallCycles
	}
	return g.cfg.SecondaryBaseStallCycles, g.cfg.SecondaryVarStallCycles,
		g.cfg.PrimaryBaseStallCycles, g.cfg.PrimaryVarStallCycles
}

// NackStallCycles is the configured stall duration after a NACK.
func (g *GCM) NackStallCycles() int { return g.cfg.NackStallCycles }

// BackoffConfig exposes the exponential/linear backoff knobs for the
// context layer's randomized-delay computation (spec.md §4.2).
func (g *GCM) BackoffConfig() (expBase, linBound, applyRandomization int) {
	return g.cfg.AbortExpBackoff, g.cfg.AbortLinBackoff, g.cfg.ApplyRandomization
}

// StallUntil records that pid should remain stalled for cycles more cycles.
// The GCM never blocks on this itself; the host scheduler consults it via
// StallCyclesFor and resumes the pid once the stall elapses (spec.md §5).
func (g *GCM) StallUntil(pid int, cycles int) {
	if cycles <= 0 {
		return
	}
	g.stalls[pid] = cycles
}

// StallCyclesFor returns and clears the stall the host still owes pid.
func (g *GCM) StallCyclesFor(pid int) int {
	c := g.stalls[pid]
	delete(g.stalls, pid)
	return c
}

// Snapshot returns defensive copies of the line table and transaction
// vector, for telemetry (web.Server, tests).
func (g *GCM) Snapshot() (map[uint64]CacheLine, []TransState) {
	return g.lines.snapshot(), g.trans.snapshot()
}

// ---- read / write -----------------------------------------------------

// Read performs a speculative load's coherence check (spec.md §4.1.1,
// §4.1.6).
func (g *GCM) Read(pid, tid int, raddr uint64) AccessOutcome {
	if g.conflictDetection {
		return g.readEE(pid, tid, raddr)
	}
	return g.readLL(pid, tid, raddr)
}

// Write performs a speculative store's coherence check (spec.md §4.1.2,
// §4.1.6).
func (g *GCM) Write(pid, tid int, raddr uint64) AccessOutcome {
	if g.conflictDetection {
		return g.writeEE(pid, tid, raddr)
	}
	return g.writeLL(pid, tid, raddr)
}

func (g *GCM) readEE(pid, tid int, raddr uint64) AccessOutcome {
	caddr := g.addrToCacheLine(raddr)
	l := g.lines.line(caddr)
	me := g.trans.get(pid)

	if nackPid := otherMember(l.Writers, pid); nackPid != -1 {
		return g.resolveConflictEE(pid, tid, raddr, caddr, me, nackPid, true)
	}

	l.Readers[pid] = struct{}{}
	l.recompute()
	g.report.RegisterLoad(AccessEvent{Utid: me.Utid, BeginPC: me.BeginPC, Pid: pid, Tid: tid, Raddr: raddr, Caddr: caddr, MyTs: me.Timestamp})
	me.State = Running
	return Success
}

func (g *GCM) writeEE(pid, tid int, raddr uint64) AccessOutcome {
	caddr := g.addrToCacheLine(raddr)
	l := g.lines.line(caddr)
	me := g.trans.get(pid)

	if nackPid := otherMember(l.Readers, pid); nackPid != -1 {
		return g.resolveConflictEE(pid, tid, raddr, caddr, me, nackPid, false)
	}
	if nackPid := otherMember(l.Writers, pid); nackPid != -1 {
		return g.resolveConflictEE(pid, tid, raddr, caddr, me, nackPid, false)
	}

	l.Writers[pid] = struct{}{}
	l.recompute()
	g.report.RegisterStore(AccessEvent{Utid: me.Utid, BeginPC: me.BeginPC, Pid: pid, Tid: tid, Raddr: raddr, Caddr: caddr, MyTs: me.Timestamp})
	me.State = Running
	return Success
}

// resolveConflictEE applies the timestamp-vs-cycle-flag rule shared by
// readEE and writeEE (spec.md §4.1.1 steps 2-4, §4.1.2;
// original_source/src/src/libtrans/transCoherence.cpp:175-188): check the
// abort guard first (nackTs <= myTs && cycleFlag), then raise the
// opponent's cycle flag only when nackTs >= myTs (the opponent is the same
// age or younger), then NACK unconditionally. The NACK itself never
// depends on the flag-raise condition — every conflict that doesn't meet
// the abort guard falls through to NACK regardless of ages, which is what
// keeps the eager-exclusion invariant (spec.md §8 property 1) intact.
func (g *GCM) resolveConflictEE(pid, tid int, raddr, caddr uint64, me *TransState, nackPid int, isLoad bool) AccessOutcome {
	nackTs := g.trans.get(nackPid).Timestamp
	myTs := me.Timestamp
	evt := AccessEvent{Utid: me.Utid, BeginPC: me.BeginPC, Pid: pid, Tid: tid, Raddr: raddr, Caddr: caddr, MyTs: myTs, OtherTs: nackTs}

	if nackTs <= myTs && me.CycleFlag {
		me.State = Aborting
		if isLoad {
			g.report.ReportNackLoad(evt)
		} else {
			g.report.ReportNackStore(evt)
		}
		g.report.ReportAbort(AbortEvent{Utid: me.Utid, Pid: pid, Reason: AbortReason{AborterPid: nackPid, Address: caddr}})
		g.log.WithFields(logrus.Fields{"pid": pid, "utid": me.Utid, "caddr": caddr, "nackPid": nackPid}).
			Debug("cycle-flag self-abort on eager conflict")
		return Abort
	}

	if nackTs >= myTs {
		g.trans.get(nackPid).CycleFlag = true
	}
	if isLoad {
		g.report.ReportNackLoad(evt)
	} else {
		g.report.ReportNackStore(evt)
	}
	me.State = Nacked
	return Nack
}

func (g *GCM) readLL(pid, tid int, raddr uint64) AccessOutcome {
	me := g.trans.get(pid)
	if me.State == DoAbort {
		g.report.ReportAbort(AbortEvent{Utid: me.Utid, Pid: pid, Reason: me.AbortReason})
		return Abort
	}
	caddr := g.addrToCacheLine(raddr)
	l := g.lines.line(caddr)
	l.Readers[pid] = struct{}{}
	l.recompute()
	g.report.RegisterLoad(AccessEvent{Utid: me.Utid, BeginPC: me.BeginPC, Pid: pid, Tid: tid, Raddr: raddr, Caddr: caddr, MyTs: me.Timestamp})
	return Success
}

func (g *GCM) writeLL(pid, tid int, raddr uint64) AccessOutcome {
	me := g.trans.get(pid)
	if me.State == DoAbort {
		g.report.ReportAbort(AbortEvent{Utid: me.Utid, Pid: pid, Reason: me.AbortReason})
		return Abort
	}
	caddr := g.addrToCacheLine(raddr)
	l := g.lines.line(caddr)
	l.Writers[pid] = struct{}{}
	l.recompute()
	g.report.RegisterStore(AccessEvent{Utid: me.Utid, BeginPC: me.BeginPC, Pid: pid, Tid: tid, Raddr: raddr, Caddr: caddr, MyTs: me.Timestamp})
	return Success
}

// ---- begin --------------------------------------------------------------

// Begin starts (or subsumes into) a transaction for pid (spec.md §4.1.3).
func (g *GCM) Begin(pid int, beginPC uint64) BeginResult {
	me := g.trans.get(pid)

	if me.Depth > 0 {
		me.Depth++
		return BeginResult{Outcome: BeginIgnore, BCFlag: BCSubsumed, Tuid: me.Utid}
	}

	if me.State == Aborting {
		g.lines.removePid(pid)
		me.State = Aborted
		me.AbortCount++
	}

	if me.State == Aborted {
		me.State = Running
		return BeginResult{Outcome: BeginBackoff, AbortCount: me.AbortCount}
	}

	bcFlag := BCFresh
	if me.AbortCount > 0 {
		bcFlag = BCReplay
	}
	me.Timestamp = g.clock()
	me.BeginPC = beginPC
	me.CycleFlag = false
	me.State = Running
	me.Utid = g.trans.issueUtid()
	me.Depth++
	me.CyclesOnBegin = g.clock()

	g.report.RegisterBegin(BeginEvent{Utid: me.Utid, Pid: pid, BeginPC: beginPC, BCFlag: bcFlag})
	return BeginResult{Outcome: BeginSuccess, BCFlag: bcFlag, Tuid: me.Utid}
}

// ---- commit ---------------------------------------------------------------

// Commit advances pid's transaction toward finalization (spec.md §4.1.4,
// §4.1.7).
func (g *GCM) Commit(pid, tid int) CommitResult {
	if g.conflictDetection && g.versioning {
		return g.commitEE(pid)
	}
	return g.commitLL(pid)
}

func (g *GCM) commitEE(pid int) CommitResult {
	me := g.trans.get(pid)

	if me.Depth > 1 {
		me.Depth--
		return CommitResult{Outcome: CommitIgnore, BCFlag: BCSubsumed, Tuid: me.Utid}
	}

	if me.State == Committing {
		writeSetSize := g.lines.writeSetSize(pid)
		g.lines.removePid(pid)
		g.report.RegisterCommit(CommitEvent{Utid: me.Utid, Pid: pid, WriteSetSize: writeSetSize})
		me.CommitPhaseCycles += g.clock() - me.CyclesOnBegin
		resetAfterFinalize(me)
		me.State = Committed
		return CommitResult{Outcome: CommitSuccess, WriteSetSize: writeSetSize, Tuid: me.Utid}
	}

	writeSetSize := g.lines.writeSetSize(pid)
	me.State = Committing
	return CommitResult{Outcome: CommitDelay, WriteSetSize: writeSetSize, Tuid: me.Utid}
}

// commitLL implements lazy commit under both EagerLazy and LazyLazy
// policies, serialized through the single global currentCommitter token
// (spec.md §4.1.7).
func (g *GCM) commitLL(pid int) CommitResult {
	me := g.trans.get(pid)

	if me.State == DoAbort {
		g.report.ReportAbort(AbortEvent{Utid: me.Utid, Pid: pid, Reason: me.AbortReason})
		return CommitResult{Outcome: CommitAbort, Tuid: me.Utid}
	}
	if me.Depth > 1 {
		me.Depth--
		return CommitResult{Outcome: CommitIgnore, BCFlag: BCSubsumed, Tuid: me.Utid}
	}

	if me.State == Committing {
		writeSetSize := 0
		for addr, l := range g.lines.lines {
			if _, wrote := l.Writers[pid]; wrote {
				writeSetSize++
				for other := range l.Readers {
					if other == pid {
						continue
					}
					g.markDoAbort(other, pid, addr)
				}
				for other := range l.Writers {
					if other == pid {
						continue
					}
					g.markDoAbort(other, pid, addr)
				}
				clear(l.Readers)
				clear(l.Writers)
			} else if _, read := l.Readers[pid]; read {
				delete(l.Readers, pid)
			}
			l.recompute()
		}
		g.report.RegisterCommit(CommitEvent{Utid: me.Utid, Pid: pid, WriteSetSize: writeSetSize})
		g.currentCommitter = -1
		resetAfterFinalize(me)
		me.State = Committed
		return CommitResult{Outcome: CommitSuccess, WriteSetSize: writeSetSize, Tuid: me.Utid}
	}

	if g.currentCommitter >= 0 {
		me.State = Nacked
		g.report.ReportNackCommit(CommitEvent{Utid: me.Utid, Pid: pid})
		return CommitResult{Outcome: CommitNack, Tuid: me.Utid}
	}

	g.currentCommitter = pid
	me.State = Committing
	writeSetSize := g.lines.writeSetSize(pid)
	g.report.ReportNackCommitFN(CommitEvent{Utid: me.Utid, Pid: pid, WriteSetSize: writeSetSize})
	return CommitResult{Outcome: CommitDelay, WriteSetSize: writeSetSize, Tuid: me.Utid}
}

func (g *GCM) markDoAbort(victim, aborter int, caddr uint64) {
	v := g.trans.get(victim)
	v.State = DoAbort
	v.AbortReason = AbortReason{AborterPid: aborter, Address: caddr}
}

func resetAfterFinalize(me *TransState) {
	me.Timestamp = notInTransaction
	me.BeginPC = 0
	me.CycleFlag = false
	me.AbortCount = 0
	me.Depth = 0
}

// ---- abort ----------------------------------------------------------------

// Abort unwinds pid's transaction entirely (spec.md §4.1.5, §4.1.8).
func (g *GCM) Abort(pid, tid int) AbortResult {
	me := g.trans.get(pid)

	writeSetSize := 0
	if g.versioning {
		writeSetSize = g.lines.writeSetSize(pid)
	}
	// Lines are not cleaned here under any policy; cleanup is deferred to
	// the next begin (spec.md §4.1.5) so other transactions can still
	// observe the aborter until it actually restarts. Under lazy
	// versioning writes never left the speculative cache, so writeSetSize
	// is reported as 0.
	me.Timestamp = notInTransaction
	me.BeginPC = 0
	me.CycleFlag = false
	me.Depth = 0
	me.State = Aborting
	me.AbortPhaseCycles += g.clock() - me.CyclesOnBegin

	if g.currentCommitter == pid {
		g.currentCommitter = -1
	}

	g.log.WithFields(logrus.Fields{"pid": pid, "utid": me.Utid, "writeSetSize": writeSetSize, "policy": g.policy}).
		Info("transaction aborted")
	return AbortResult{Outcome: AbortSuccess, WriteSetSize: writeSetSize}
}

// CheckAbort polls for a pending forced abort (spec.md §4.1.9). Eager
// read/write paths do not check DoAbort themselves (spec.md §9 open
// question 4); the host is expected to call this between instructions.
func (g *GCM) CheckAbort(pid, tid int) bool {
	me := g.trans.get(pid)
	if me.State != DoAbort {
		return false
	}
	g.report.ReportAbort(AbortEvent{Utid: me.Utid, Pid: pid, Reason: me.AbortReason})
	me.State = Aborting
	return true
}

// TransState returns a copy of pid's current slot, for callers (txcontext,
// tests) that need to inspect lifecycle/depth/timestamp without reaching
// into GCM internals.
func (g *GCM) TransState(pid int) TransState {
	return *g.trans.get(pid)
}
