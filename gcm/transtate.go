package gcm

// TxLifecycle enumerates the states a per-pid transaction slot moves through.
// See spec.md §4.1.10 for the transition diagram.
type TxLifecycle int

const (
	Invalid TxLifecycle = iota
	Running
	Nacked
	Committing
	Committed
	DoAbort
	Aborting
	Aborted
)

func (s TxLifecycle) String() string {
	switch s {
	case Invalid:
		return "Invalid"
	case Running:
		return "Running"
	case Nacked:
		return "Nacked"
	case Committing:
		return "Committing"
	case Committed:
		return "Committed"
	case DoAbort:
		return "DoAbort"
	case Aborting:
		return "Aborting"
	case Aborted:
		return "Aborted"
	default:
		return "Unknown"
	}
}

// notInTransaction is the sentinel timestamp spec.md §3 assigns to a pid
// that has never begun a transaction: "~0ULL − 1024" in the source. Go has
// no unsigned wraparound literal worth preserving here, so the sentinel is
// simply the maximum representable value minus the same offset.
const notInTransaction uint64 = ^uint64(0) - 1024

// AbortReason records which peer aborted this pid's transaction and at what
// address, set by the aborter (spec.md §3, "abortReason").
type AbortReason struct {
	AborterPid int
	Address    uint64
}

// TransState is one pid's slot in the process-global transaction-state
// vector (spec.md §3 "TransState[pid]").
type TransState struct {
	State       TxLifecycle
	Timestamp   uint64
	CycleFlag   bool
	BeginPC     uint64
	Utid        uint64
	Depth       int
	AbortCount  int
	AbortReason AbortReason

	CyclesOnBegin uint64
	// Cycle accounting accumulated across commit/abort phases; exposed for
	// telemetry only, never consulted by control flow.
	CommitPhaseCycles uint64
	AbortPhaseCycles  uint64
}

// transVector is the fixed-size array indexed by pid. It carries no locking
// at all: spec.md §5's single-threaded-cooperative scheduling model means
// exactly one pid's GCM call is ever in flight at a time, so there is no
// concurrent access to guard against inside the core itself.
//
// Grounded on the teacher's capabilities/cache.go cacheStore: the same
// "plain map/slice of small structs" shape, generalized from a per-address
// cache-line entry to a per-pid transaction-state slot.
type transVector struct {
	slots    []TransState
	nextUtid uint64
}

func newTransVector(numPids int) *transVector {
	v := &transVector{slots: make([]TransState, numPids)}
	for i := range v.slots {
		v.slots[i] = TransState{State: Invalid, Timestamp: notInTransaction}
	}
	return v
}

func (v *transVector) get(pid int) *TransState {
	return &v.slots[pid]
}

func (v *transVector) issueUtid() uint64 {
	id := v.nextUtid
	v.nextUtid++
	return id
}

func (v *transVector) snapshot() []TransState {
	out := make([]TransState, len(v.slots))
	copy(out, v.slots)
	return out
}
