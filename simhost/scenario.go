package simhost

import (
	"fmt"
	"math/rand"

	"github.com/pelletier/go-toml"

	"github.com/example/tmsim/gcm"
)

// Scenario bundles everything a Driver needs to run: the policy knobs for
// gcm.New and one Script per simulated pid. It replaces the teacher's
// predefined Config table (soc_configs.go's GetPredefinedConfigs /
// GetConfigByName) with a TM-shaped equivalent.
type Scenario struct {
	ConflictDetection bool
	Versioning        bool
	CacheLineSize     uint64
	Config            gcm.Config
	Scripts           []Script
}

// Clone deep-copies s, the way the teacher's GetConfigByName deep-copies
// its predefined Config so two callers never share mutable state.
func (s Scenario) Clone() Scenario {
	out := s
	out.Scripts = make([]Script, len(s.Scripts))
	for i, script := range s.Scripts {
		out.Scripts[i] = append(Script{}, script...)
	}
	return out
}

type opFile struct {
	Op    string `toml:"op"`
	Addr  uint64 `toml:"addr"`
	Value uint32 `toml:"value"`
}

type processFile struct {
	Ops []opFile `toml:"ops"`
}

type scenarioFile struct {
	ConflictDetection   bool        `toml:"conflictDetection"`
	Versioning          bool        `toml:"versioning"`
	CacheLineSize       uint64      `toml:"cacheLineSize"`
	TransactionalMemory gcm.Config  `toml:"TransactionalMemory"`
	Processes           []processFile `toml:"processes"`
}

// LoadScenario parses a TOML scenario document into a Scenario, the same
// way gcm.LoadConfig parses the "[TransactionalMemory]" table, plus a
// "[[processes]]" array-of-tables giving each pid's instruction stream.
func LoadScenario(data []byte) (Scenario, error) {
	var raw scenarioFile
	raw.TransactionalMemory = gcm.DefaultConfig()

	tree, err := toml.LoadBytes(data)
	if err != nil {
		return Scenario{}, fmt.Errorf("simhost: parse scenario: %w", err)
	}
	if err := tree.Unmarshal(&raw); err != nil {
		return Scenario{}, fmt.Errorf("simhost: decode scenario: %w", err)
	}
	if err := gcm.ValidateConfig(&raw.TransactionalMemory); err != nil {
		return Scenario{}, err
	}

	scripts := make([]Script, len(raw.Processes))
	for i, p := range raw.Processes {
		script := make(Script, 0, len(p.Ops))
		for _, op := range p.Ops {
			instr, err := decodeOp(op.Op, op.Addr, op.Value)
			if err != nil {
				return Scenario{}, fmt.Errorf("simhost: process %d: %w", i, err)
			}
			script = append(script, instr)
		}
		scripts[i] = script
	}

	cacheLineSize := raw.CacheLineSize
	if cacheLineSize == 0 {
		cacheLineSize = 64
	}

	return Scenario{
		ConflictDetection: raw.ConflictDetection,
		Versioning:        raw.Versioning,
		CacheLineSize:     cacheLineSize,
		Config:            raw.TransactionalMemory,
		Scripts:           scripts,
	}, nil
}

func decodeOp(name string, addr uint64, value uint32) (Instr, error) {
	switch name {
	case "begin":
		return Begin(), nil
	case "commit":
		return Commit(), nil
	case "abort":
		return Abort(), nil
	case "load":
		return LoadWord(addr), nil
	case "store":
		return StoreWord(addr, value), nil
	case "loadByte":
		return LoadByte(addr), nil
	case "storeByte":
		return StoreByte(addr, byte(value)), nil
	default:
		return Instr{}, fmt.Errorf("unknown op %q", name)
	}
}

// NamedScenario pairs a Scenario with the name and description
// GetScenarioByName looks callers up by, the TM analog of the teacher's
// SOCNetworkConfig entry in GetPredefinedConfigs.
type NamedScenario struct {
	Name        string
	Description string
	Scenario    Scenario
}

// PredefinedScenarios returns the built-in scenarios, grounded on
// soc_configs.go's GetPredefinedConfigs: a literal Go-constructed table
// instead of a config file, for the common cases a CLI user wants without
// writing TOML.
func PredefinedScenarios() []NamedScenario {
	// The reader's commit must land well after the writer's has finalized
	// and invalidated it, or it simply self-removes from the line's reader
	// set on its own commit and never sees a forced abort. Thirty unrelated
	// loads give the writer's ~18-cycle commit-delay stall plenty of margin.
	loserScript := Script{Begin(), LoadWord(0x200)}
	for i := 0; i < 30; i++ {
		loserScript = append(loserScript, LoadWord(0x600))
	}
	loserScript = append(loserScript, Commit())

	return []NamedScenario{
		{
			Name:        "eager-conflict",
			Description: "two pids under eager-eager contend for one word; the younger writer NACKs against the older reader",
			Scenario: Scenario{
				ConflictDetection: true,
				Versioning:        true,
				CacheLineSize:     64,
				Config:            gcm.DefaultConfig(),
				Scripts: []Script{
					{Begin(), LoadWord(0x100), Commit()},
					{Begin(), StoreWord(0x100, 0xdeadbeef), Commit()},
				},
			},
		},
		{
			Name:        "lazy-invalidate",
			Description: "under lazy-lazy one pid writes and commits a line another pid has read; the reader is forced to abort on its next access",
			Scenario: Scenario{
				ConflictDetection: false,
				Versioning:        false,
				CacheLineSize:     64,
				Config:            gcm.DefaultConfig(),
				Scripts: []Script{
					{Begin(), LoadWord(0x200), StoreWord(0x200, 1), Commit()},
					loserScript,
				},
			},
		},
		{
			Name:        "nested-subsumption",
			Description: "a single pid nests a transaction inside another; the inner begin/commit subsume into the outer",
			Scenario: Scenario{
				ConflictDetection: true,
				Versioning:        true,
				CacheLineSize:     64,
				Config:            gcm.DefaultConfig(),
				Scripts: []Script{
					{Begin(), Begin(), StoreWord(0x300, 7), Commit(), Commit()},
				},
			},
		},
	}
}

// GetScenarioByName returns a clone of the named predefined scenario, or an
// error if name is not found (mirroring the teacher's GetConfigByName,
// which signals "not found" with a nil return; an error fits spec.md §7's
// result-code-over-panic convention better than a nil Scenario would).
func GetScenarioByName(name string) (Scenario, error) {
	for _, ns := range PredefinedScenarios() {
		if ns.Name == name {
			return ns.Scenario.Clone(), nil
		}
	}
	return Scenario{}, fmt.Errorf("simhost: no predefined scenario named %q", name)
}

// RandomScript produces a randomized Script for one pid: a begin, followed
// by numOps random loads/stores over [0, addrSpace), followed by a commit.
// Grounded on the teacher's ProbabilityGenerator (request_generator.go),
// which likewise takes an injected *rand.Rand rather than drawing from the
// global math/rand functions, so a -seed flag reproduces a run exactly.
func RandomScript(rng *rand.Rand, numOps int, addrSpace uint64) Script {
	script := make(Script, 0, numOps+2)
	script = append(script, Begin())
	for i := 0; i < numOps; i++ {
		addr := rng.Uint64() % addrSpace &^ 3
		if rng.Intn(2) == 0 {
			script = append(script, LoadWord(addr))
		} else {
			script = append(script, StoreWord(addr, rng.Uint32()))
		}
	}
	script = append(script, Commit())
	return script
}
