package gcm

import "github.com/sirupsen/logrus"

// AccessEvent is the payload passed to registerLoad/registerStore and their
// Nack counterparts (spec.md §6, "Payloads are (utid, beginPC, pid, tid,
// raddr, caddr, myTs, otherTs, ...) tuples").
type AccessEvent struct {
	Utid    uint64
	BeginPC uint64
	Pid     int
	Tid     int
	Raddr   uint64
	Caddr   uint64
	MyTs    uint64
	OtherTs uint64
}

// BeginEvent is the payload passed to registerBegin.
type BeginEvent struct {
	Utid    uint64
	Pid     int
	BeginPC uint64
	BCFlag  int
}

// CommitEvent is the payload passed to registerCommit.
type CommitEvent struct {
	Utid         uint64
	Pid          int
	WriteSetSize int
}

// AbortEvent is the payload passed to reportAbort.
type AbortEvent struct {
	Utid   uint64
	Pid    int
	Reason AbortReason
}

// Reporter is the fire-and-forget telemetry sink spec.md §6 describes.
// Reporter calls never influence GCM control flow; a nil Reporter is valid
// and every GCM operation treats it as a no-op sink.
type Reporter interface {
	RegisterLoad(AccessEvent)
	RegisterStore(AccessEvent)
	RegisterBegin(BeginEvent)
	RegisterCommit(CommitEvent)
	ReportNackLoad(AccessEvent)
	ReportNackStore(AccessEvent)
	ReportNackCommit(CommitEvent)
	ReportNackCommitFN(CommitEvent)
	ReportAbort(AbortEvent)
}

// NopReporter discards every event. Used when a GCM is constructed with a
// nil Reporter.
type NopReporter struct{}

func (NopReporter) RegisterLoad(AccessEvent)       {}
func (NopReporter) RegisterStore(AccessEvent)      {}
func (NopReporter) RegisterBegin(BeginEvent)       {}
func (NopReporter) RegisterCommit(CommitEvent)     {}
func (NopReporter) ReportNackLoad(AccessEvent)     {}
func (NopReporter) ReportNackStore(AccessEvent)    {}
func (NopReporter) ReportNackCommit(CommitEvent)   {}
func (NopReporter) ReportNackCommitFN(CommitEvent) {}
func (NopReporter) ReportAbort(AbortEvent)         {}

// Broker fans a single event out to any number of registered Reporters.
//
// Grounded on the teacher's hooks/broker.go PluginBroker: the same
// "register N handlers, emit to all of them in registration order, ignore a
// nil broker" shape, simplified from the teacher's many hook-stage
// interfaces down to the single Reporter interface spec.md §6 names.
type Broker struct {
	reporters []Reporter
}

// NewBroker creates an empty broker.
func NewBroker() *Broker { return &Broker{} }

// Register adds r to the fan-out list. A nil r is ignored.
func (b *Broker) Register(r Reporter) {
	if b == nil || r == nil {
		return
	}
	b.reporters = append(b.reporters, r)
}

func (b *Broker) RegisterLoad(e AccessEvent) {
	if b == nil {
		return
	}
	for _, r := range b.reporters {
		r.RegisterLoad(e)
	}
}

func (b *Broker) RegisterStore(e AccessEvent) {
	if b == nil {
		return
	}
	for _, r := range b.reporters {
		r.RegisterStore(e)
	}
}

func (b *Broker) RegisterBegin(e BeginEvent) {
	if b == nil {
		return
	}
	for _, r := range b.reporters {
		r.RegisterBegin(e)
	}
}

func (b *Broker) RegisterCommit(e CommitEvent) {
	if b == nil {
		return
	}
	for _, r := range b.reporters {
		r.RegisterCommit(e)
	}
}

func (b *Broker) ReportNackLoad(e AccessEvent) {
	if b == nil {
		return
	}
	for _, r := range b.reporters {
		r.ReportNackLoad(e)
	}
}

func (b *Broker) ReportNackStore(e AccessEvent) {
	if b == nil {
		return
	}
	for _, r := range b.reporters {
		r.ReportNackStore(e)
	}
}

func (b *Broker) ReportNackCommit(e CommitEvent) {
	if b == nil {
		return
	}
	for _, r := range b.reporters {
		r.ReportNackCommit(e)
	}
}

func (b *Broker) ReportNackCommitFN(e CommitEvent) {
	if b == nil {
		return
	}
	for _, r := range b.reporters {
		r.ReportNackCommitFN(e)
	}
}

func (b *Broker) ReportAbort(e AbortEvent) {
	if b == nil {
		return
	}
	for _, r := range b.reporters {
		r.ReportAbort(e)
	}
}

var _ Reporter = (*Broker)(nil)

// LogReporter emits every GCM event as a structured logrus line. main.go
// always registers it on its Broker, alongside a DependencyLog and, when
// -web is set, a web.Hub.
type LogReporter struct {
	log *logrus.Entry
}

// NewLogReporter wraps log (or logrus.StandardLogger() if nil) as a Reporter.
func NewLogReporter(log *logrus.Logger) *LogReporter {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &LogReporter{log: log.WithField("component", "gcm.report")}
}

func (r *LogReporter) RegisterLoad(e AccessEvent) {
	r.log.WithFields(logrus.Fields{"pid": e.Pid, "utid": e.Utid, "addr": e.Raddr}).Debug("load")
}

func (r *LogReporter) RegisterStore(e AccessEvent) {
	r.log.WithFields(logrus.Fields{"pid": e.Pid, "utid": e.Utid, "addr": e.Raddr}).Debug("store")
}

func (r *LogReporter) RegisterBegin(e BeginEvent) {
	r.log.WithFields(logrus.Fields{"pid": e.Pid, "utid": e.Utid, "bcFlag": e.BCFlag}).Info("begin")
}

func (r *LogReporter) RegisterCommit(e CommitEvent) {
	r.log.WithFields(logrus.Fields{"pid": e.Pid, "utid": e.Utid, "writeSetSize": e.WriteSetSize}).Info("commit")
}

func (r *LogReporter) ReportNackLoad(e AccessEvent) {
	r.log.WithFields(logrus.Fields{"pid": e.Pid, "utid": e.Utid, "addr": e.Raddr, "otherTs": e.OtherTs}).Debug("nack load")
}

func (r *LogReporter) ReportNackStore(e AccessEvent) {
	r.log.WithFields(logrus.Fields{"pid": e.Pid, "utid": e.Utid, "addr": e.Raddr, "otherTs": e.OtherTs}).Debug("nack store")
}

func (r *LogReporter) ReportNackCommit(e CommitEvent) {
	r.log.WithFields(logrus.Fields{"pid": e.Pid, "utid": e.Utid}).Debug("nack commit")
}

func (r *LogReporter) ReportNackCommitFN(e CommitEvent) {
	r.log.WithFields(logrus.Fields{"pid": e.Pid, "utid": e.Utid}).Debug("nack commit (claiming committer slot)")
}

func (r *LogReporter) ReportAbort(e AbortEvent) {
	r.log.WithFields(logrus.Fields{"pid": e.Pid, "utid": e.Utid, "aborterPid": e.Reason.AborterPid, "addr": e.Reason.Address}).
		Warn("abort")
}

var _ Reporter = (*LogReporter)(nil)

// DependencyEdge records one forced-abort relationship: aborter's commit
// (or cycle-flag win) forced victim's transaction to abort at caddr.
// SPEC_FULL.md's supplemented "abort-dependency log" feature: the TM-scoped
// analog of the teacher's transaction_graph.go dependency DAG, narrowed to
// the one edge kind the reporting sink already has enough information to
// produce (spec.md §6).
type DependencyEdge struct {
	AborterPid int
	VictimUtid uint64
	Caddr      uint64
}

// DependencyLog accumulates DependencyEdge values off every ReportAbort
// call. Register it on a Broker alongside a LogReporter or web.Hub.
type DependencyLog struct {
	edges []DependencyEdge
}

// NewDependencyLog creates an empty log.
func NewDependencyLog() *DependencyLog { return &DependencyLog{} }

func (d *DependencyLog) RegisterLoad(AccessEvent)       {}
func (d *DependencyLog) RegisterStore(AccessEvent)      {}
func (d *DependencyLog) RegisterBegin(BeginEvent)       {}
func (d *DependencyLog) RegisterCommit(CommitEvent)     {}
func (d *DependencyLog) ReportNackLoad(AccessEvent)     {}
func (d *DependencyLog) ReportNackStore(AccessEvent)    {}
func (d *DependencyLog) ReportNackCommit(CommitEvent)   {}
func (d *DependencyLog) ReportNackCommitFN(CommitEvent) {}

func (d *DependencyLog) ReportAbort(e AbortEvent) {
	d.edges = append(d.edges, DependencyEdge{
		AborterPid: e.Reason.AborterPid,
		VictimUtid: e.Utid,
		Caddr:      e.Reason.Address,
	})
}

// Edges returns a defensive copy of every recorded edge, for web.Server's
// JSON endpoint.
func (d *DependencyLog) Edges() []DependencyEdge {
	out := make([]DependencyEdge, len(d.edges))
	copy(out, d.edges)
	return out
}

var _ Reporter = (*DependencyLog)(nil)
