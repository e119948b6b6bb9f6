package simhost

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/tmsim/gcm"
	"github.com/example/tmsim/txcontext"
)

func newTestDriver(t *testing.T, scenario Scenario) (*Driver, *FlatMemory) {
	cycle := new(uint64)
	clock := func() uint64 { return *cycle }
	g, err := gcm.New(scenario.ConflictDetection, scenario.Versioning, scenario.CacheLineSize, len(scenario.Scripts), scenario.Config, nil, clock)
	require.NoError(t, err)

	mem := NewFlatMemory()
	backoff := txcontext.NewBackoffPolicy(0, 1, 0)
	return NewDriver(g, backoff, mem, scenario.Scripts, cycle), mem
}

func TestEagerConflictScenarioRunsToCompletion(t *testing.T) {
	scenario, err := GetScenarioByName("eager-conflict")
	require.NoError(t, err)

	d, mem := newTestDriver(t, scenario)
	done := d.Run(10_000)

	require.True(t, done, "scenario must converge well within the cycle budget")
	assert.Equal(t, txcontext.SwapWord(0xdeadbeef), mem.ReadWord(0x100))
}

func TestLazyInvalidateScenarioForcesLoserToAbort(t *testing.T) {
	scenario, err := GetScenarioByName("lazy-invalidate")
	require.NoError(t, err)

	d, mem := newTestDriver(t, scenario)
	done := d.Run(10_000)

	require.True(t, done)
	assert.Equal(t, txcontext.SwapWord(1), mem.ReadWord(0x200))
	assert.GreaterOrEqual(t, d.Processes()[1].AbortCount(), 1, "the reader must be forced to abort once the writer invalidates it")
}

func TestNestedSubsumptionScenarioPublishesOnce(t *testing.T) {
	scenario, err := GetScenarioByName("nested-subsumption")
	require.NoError(t, err)

	d, mem := newTestDriver(t, scenario)
	done := d.Run(10_000)

	require.True(t, done)
	assert.Equal(t, txcontext.SwapWord(7), mem.ReadWord(0x300))
}

func TestUnknownScenarioNameErrors(t *testing.T) {
	_, err := GetScenarioByName("does-not-exist")
	require.Error(t, err)
}
