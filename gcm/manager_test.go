package gcm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClock(cycle *uint64) Clock {
	return func() uint64 { return *cycle }
}

func TestUnsupportedPolicyFailsConstruction(t *testing.T) {
	cycle := uint64(0)
	_, err := New(false, true, 64, 4, DefaultConfig(), nil, testClock(&cycle))
	require.Error(t, err)
}

func TestEagerExclusionOnSuccessfulRead(t *testing.T) {
	cycle := uint64(0)
	g, err := New(true, true, 64, 4, DefaultConfig(), nil, testClock(&cycle))
	require.NoError(t, err)

	g.Begin(0, 0x400)
	outcome := g.Read(0, 0, 0x100)
	require.Equal(t, Success, outcome)

	lines, _ := g.Snapshot()
	line := lines[0x100]
	assert.Len(t, line.Writers, 0)
	_, isReader := line.Readers[0]
	assert.True(t, isReader)
}

func TestEagerReadWriteConflictDoesNotFlagAnOlderHolder(t *testing.T) {
	cycle := uint64(10)
	g, err := New(true, true, 64, 4, DefaultConfig(), nil, testClock(&cycle))
	require.NoError(t, err)

	g.Begin(0, 0) // P0 timestamp=10, the older holder
	require.Equal(t, Success, g.Read(0, 0, 0x100))

	cycle = 20
	g.Begin(1, 0) // P1 timestamp=20, the younger attacker

	outcome := g.Write(1, 0, 0x100)
	require.Equal(t, Nack, outcome)
	assert.False(t, g.TransState(0).CycleFlag,
		"nackTs(P0)=10 < myTs(P1)=20, so the guard (nackTs >= myTs) does not fire")
}

func TestEagerReadWriteConflictFlagsAYoungerHolder(t *testing.T) {
	cycle := uint64(20)
	g, err := New(true, true, 64, 4, DefaultConfig(), nil, testClock(&cycle))
	require.NoError(t, err)

	g.Begin(1, 0) // P1 timestamp=20, the younger holder
	require.Equal(t, Success, g.Read(1, 0, 0x100))

	cycle = 10
	g.Begin(0, 0) // P0 timestamp=10, the older attacker

	outcome := g.Write(0, 0, 0x100)
	require.Equal(t, Nack, outcome)
	assert.True(t, g.TransState(1).CycleFlag,
		"nackTs(P1)=20 >= myTs(P0)=10: the older attacker marks the younger holder as possibly deadlocked")
}

func TestBeginSubsumptionTracksDepthAndUtid(t *testing.T) {
	cycle := uint64(0)
	g, err := New(true, true, 64, 4, DefaultConfig(), nil, testClock(&cycle))
	require.NoError(t, err)

	first := g.Begin(0, 0)
	require.Equal(t, BeginSuccess, first.Outcome)
	require.Equal(t, BCFresh, first.BCFlag)

	second := g.Begin(0, 0)
	require.Equal(t, BeginIgnore, second.Outcome)
	require.Equal(t, BCSubsumed, second.BCFlag)
	require.Equal(t, first.Tuid, second.Tuid)
	require.Equal(t, 2, g.TransState(0).Depth)

	innerCommit := g.Commit(0, 0)
	require.Equal(t, CommitIgnore, innerCommit.Outcome)
	require.Equal(t, 1, g.TransState(0).Depth)

	outerCommit := g.Commit(0, 0)
	require.Equal(t, CommitDelay, outerCommit.Outcome)
	final := g.Commit(0, 0)
	require.Equal(t, CommitSuccess, final.Outcome)
	require.Equal(t, 0, g.TransState(0).Depth)
}

func TestUtidMonotonicAcrossPids(t *testing.T) {
	cycle := uint64(0)
	g, err := New(true, true, 64, 4, DefaultConfig(), nil, testClock(&cycle))
	require.NoError(t, err)

	r0 := g.Begin(0, 0)
	r1 := g.Begin(1, 0)
	require.Greater(t, r1.Tuid, r0.Tuid)
}

func TestLazyPublishInvalidatesConflictingReader(t *testing.T) {
	cycle := uint64(0)
	g, err := New(false, false, 64, 4, DefaultConfig(), nil, testClock(&cycle))
	require.NoError(t, err)

	g.Begin(0, 0)
	g.Begin(1, 0)

	require.Equal(t, Success, g.Read(0, 0, 0x200))
	require.Equal(t, Success, g.Read(1, 0, 0x200))
	require.Equal(t, Success, g.Write(0, 0, 0x200))

	commitDelay := g.Commit(0, 0)
	require.Equal(t, CommitDelay, commitDelay.Outcome)
	final := g.Commit(0, 0)
	require.Equal(t, CommitSuccess, final.Outcome)
	require.Equal(t, 1, final.WriteSetSize)

	p1 := g.TransState(1)
	require.Equal(t, DoAbort, p1.State)
	require.Equal(t, 0, p1.AbortReason.AborterPid)
	require.Equal(t, uint64(0x200)&^63, p1.AbortReason.Address)

	require.Equal(t, Abort, g.Read(1, 0, 0x200))
}

func TestLazyCommitAtomicityBlocksConcurrentCommitter(t *testing.T) {
	cycle := uint64(0)
	g, err := New(false, false, 64, 4, DefaultConfig(), nil, testClock(&cycle))
	require.NoError(t, err)

	g.Begin(0, 0)
	g.Begin(1, 0)
	g.Write(0, 0, 0x300)
	g.Write(1, 0, 0x340)

	first := g.Commit(0, 0)
	require.Equal(t, CommitDelay, first.Outcome)

	blocked := g.Commit(1, 0)
	require.Equal(t, CommitNack, blocked.Outcome)

	final := g.Commit(0, 0)
	require.Equal(t, CommitSuccess, final.Outcome)
}

func TestBackoffReplayAfterAbort(t *testing.T) {
	cycle := uint64(0)
	g, err := New(true, true, 64, 4, DefaultConfig(), nil, testClock(&cycle))
	require.NoError(t, err)

	g.Begin(0, 0)
	abortResult := g.Abort(0, 0)
	require.Equal(t, AbortSuccess, abortResult.Outcome)
	require.Equal(t, 0, g.TransState(0).AbortCount)

	backoff := g.Begin(0, 0)
	require.Equal(t, BeginBackoff, backoff.Outcome)
	require.Equal(t, 1, backoff.AbortCount)

	replay := g.Begin(0, 0)
	require.Equal(t, BeginSuccess, replay.Outcome)
	require.Equal(t, BCReplay, replay.BCFlag)
}

func TestCheckAbortTransitionsDoAbortToAborting(t *testing.T) {
	cycle := uint64(0)
	g, err := New(false, false, 64, 4, DefaultConfig(), nil, testClock(&cycle))
	require.NoError(t, err)
	g.Begin(0, 0)
	g.trans.get(0).State = DoAbort
	g.trans.get(0).AbortReason = AbortReason{AborterPid: 9, Address: 0x40}

	require.True(t, g.CheckAbort(0, 0))
	require.Equal(t, Aborting, g.TransState(0).State)
	require.False(t, g.CheckAbort(0, 0))
}
