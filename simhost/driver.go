package simhost

import (
	"github.com/sirupsen/logrus"

	"github.com/example/tmsim/gcm"
	"github.com/example/tmsim/txcontext"
)

var log = logrus.WithField("component", "simhost")

// Driver is the cooperative single-goroutine scheduler loop that exercises
// gcm and txcontext end to end: each tick, every pid whose stall has
// elapsed executes its current Script instruction, exactly the way the
// teacher's Simulator.Run ticks every Master/Slave/Relay once per cycle
// (spec.md §5's single-threaded-cooperative model, grounded on
// Readm-flow_control_sim/simulator.go).
type Driver struct {
	g       *gcm.GCM
	backoff txcontext.BackoffPolicy
	procs   []*Process
	scripts []Script
	cycle   *uint64
}

// NewDriver builds a Driver over one Process per script. cycle is the same
// counter backing g's Clock, so StallParams/randomized-delay stalls the
// Driver installs line up with the GCM's notion of "now".
func NewDriver(g *gcm.GCM, backoff txcontext.BackoffPolicy, mem txcontext.Memory, scripts []Script, cycle *uint64) *Driver {
	procs := make([]*Process, len(scripts))
	for i := range scripts {
		procs[i] = NewProcess(i, mem)
	}
	return &Driver{g: g, backoff: backoff, procs: procs, scripts: scripts, cycle: cycle}
}

// Processes exposes the underlying Process slice, for tests and the web
// snapshot endpoint to inspect register/TM-bookkeeping state.
func (d *Driver) Processes() []*Process { return d.procs }

// Run advances the simulation up to maxCycles, or until every pid has
// finished its Script, whichever comes first. It returns true if every
// Script ran to completion.
func (d *Driver) Run(maxCycles uint64) bool {
	for *d.cycle < maxCycles {
		allDone := true
		for i, proc := range d.procs {
			if !d.finished(i) {
				allDone = false
				d.step(proc, d.scripts[i])
			}
		}
		if allDone {
			log.WithField("cycle", *d.cycle).Info("all processes finished")
			return true
		}
		*d.cycle++
	}
	return false
}

func (d *Driver) finished(i int) bool {
	proc := d.procs[i]
	return proc.stallRemaining == 0 && int(proc.pc/4) >= len(d.scripts[i])
}

// step executes proc's current instruction, or idles it one cycle if it is
// still stalled from a prior call into gcm.
func (d *Driver) step(proc *Process, script Script) {
	if proc.stallRemaining > 0 {
		proc.stallRemaining--
		return
	}

	idx := int(proc.pc / 4)
	if idx >= len(script) {
		return
	}
	instr := script[idx]
	pc := txcontext.Picode{Addr: proc.pc, Next: proc.pc + 4, Immed: uint64(proc.pid)}

	switch instr.Op {
	case OpBegin:
		txcontext.BeginTransaction(d.g, proc, pc, d.backoff)
	case OpCommit:
		txcontext.CommitTransaction(d.g, proc, pc, d.backoff)
	case OpAbort:
		txcontext.AbortTransaction(d.g, proc, pc, d.backoff)
	case OpLoadWord:
		if _, res := txcontext.LoadWord(d.g, proc, pc, instr.Addr, d.backoff); res == txcontext.AccessSuccess {
			proc.SetPCIcode(pc.Next)
		}
	case OpStoreWord:
		if res := txcontext.StoreWord(d.g, proc, pc, instr.Addr, instr.Value, d.backoff); res == txcontext.AccessSuccess {
			proc.SetPCIcode(pc.Next)
		}
	case OpLoadByte:
		if _, res := txcontext.LoadByte(d.g, proc, pc, instr.Addr, d.backoff); res == txcontext.AccessSuccess {
			proc.SetPCIcode(pc.Next)
		}
	case OpStoreByte:
		if res := txcontext.StoreByte(d.g, proc, pc, instr.Addr, byte(instr.Value), d.backoff); res == txcontext.AccessSuccess {
			proc.SetPCIcode(pc.Next)
		}
	}

	proc.stallRemaining = d.g.StallCyclesFor(proc.pid)
}
