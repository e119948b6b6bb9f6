package gcm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type countingReporter struct {
	aborts int
}

func (c *countingReporter) RegisterLoad(AccessEvent)       {}
func (c *countingReporter) RegisterStore(AccessEvent)      {}
func (c *countingReporter) RegisterBegin(BeginEvent)       {}
func (c *countingReporter) RegisterCommit(CommitEvent)     {}
func (c *countingReporter) ReportNackLoad(AccessEvent)     {}
func (c *countingReporter) ReportNackStore(AccessEvent)    {}
func (c *countingReporter) ReportNackCommit(CommitEvent)   {}
func (c *countingReporter) ReportNackCommitFN(CommitEvent) {}
func (c *countingReporter) ReportAbort(AbortEvent)         { c.aborts++ }

func TestBrokerFansOutToEveryRegisteredReporter(t *testing.T) {
	a := &countingReporter{}
	b := &countingReporter{}
	broker := NewBroker()
	broker.Register(a)
	broker.Register(b)

	broker.ReportAbort(AbortEvent{Utid: 1, Pid: 0, Reason: AbortReason{AborterPid: 1, Address: 0x100}})

	assert.Equal(t, 1, a.aborts)
	assert.Equal(t, 1, b.aborts)
}

func TestNilBrokerIsANoop(t *testing.T) {
	var broker *Broker
	assert.NotPanics(t, func() {
		broker.ReportAbort(AbortEvent{})
		broker.RegisterBegin(BeginEvent{})
	})
}

func TestDependencyLogRecordsOnlyAborts(t *testing.T) {
	log := NewDependencyLog()
	log.RegisterBegin(BeginEvent{Utid: 1, Pid: 0})
	log.ReportAbort(AbortEvent{Utid: 7, Pid: 2, Reason: AbortReason{AborterPid: 3, Address: 0x200}})

	edges := log.Edges()
	assert.Len(t, edges, 1)
	assert.Equal(t, DependencyEdge{AborterPid: 3, VictimUtid: 7, Caddr: 0x200}, edges[0])
}

func TestDependencyLogEdgesIsADefensiveCopy(t *testing.T) {
	log := NewDependencyLog()
	log.ReportAbort(AbortEvent{Utid: 1, Reason: AbortReason{AborterPid: 1}})

	edges := log.Edges()
	edges[0].Caddr = 0xdead

	again := log.Edges()
	assert.NotEqual(t, uint64(0xdead), again[0].Caddr)
}
