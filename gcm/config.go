package gcm

import (
	"fmt"

	"github.com/pelletier/go-toml"
)

// Config holds the integer parameters spec.md §6 requires the host's
// configuration loader to supply under the "TransactionalMemory" section.
//
// Grounded on the teacher's soc_configs.go/config_validator.go pairing: a
// plain struct plus a Validate function that fills in defaults and rejects
// out-of-range values, except the TM core loads its struct from a TOML
// document (via github.com/pelletier/go-toml, pulled from the xmysql-server
// pack member) rather than a hard-coded Go literal, since spec.md §6
// describes a "keyed store" external to the core.
type Config struct {
	NackStallCycles          int `toml:"nackStallCycles"`
	PrimaryBaseStallCycles   int `toml:"primaryBaseStallCycles"`
	PrimaryVarStallCycles    int `toml:"primaryVarStallCycles"`
	SecondaryBaseStallCycles int `toml:"secondaryBaseStallCycles"`
	SecondaryVarStallCycles  int `toml:"secondaryVarStallCycles"`
	AbortExpBackoff          int `toml:"abortExpBackoff"`
	AbortLinBackoff          int `toml:"abortLinBackoff"`
	ApplyRandomization       int `toml:"applyRandomization"`
}

// DefaultConfig mirrors the defaults the teacher's ValidateConfig fills in
// for an all-zero Config value.
func DefaultConfig() Config {
	return Config{
		NackStallCycles:          4,
		PrimaryBaseStallCycles:   16,
		PrimaryVarStallCycles:    2,
		SecondaryBaseStallCycles: 16,
		SecondaryVarStallCycles:  2,
		AbortExpBackoff:          2,
		AbortLinBackoff:          32,
		ApplyRandomization:       1,
	}
}

// LoadConfig reads a TOML document and decodes its "[TransactionalMemory]"
// table into a Config, validating the result the way the teacher's
// ValidateConfig validates a decoded Config.
func LoadConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()

	tree, err := toml.LoadBytes(data)
	if err != nil {
		return Config{}, fmt.Errorf("gcm: parse config: %w", err)
	}
	sub, ok := tree.Get("TransactionalMemory").(*toml.Tree)
	if !ok {
		return cfg, nil
	}
	if err := sub.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("gcm: decode TransactionalMemory table: %w", err)
	}
	if err := ValidateConfig(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ValidateConfig applies structural checks to Config and fills in defaults
// for a zero nackStallCycles or abortLinBackoff, mirroring the teacher's
// ValidateConfig. Other zero-valued fields are kept as zero.
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("gcm: config is nil")
	}
	if cfg.NackStallCycles < 0 {
		return fmt.Errorf("gcm: nackStallCycles must be non-negative, got %d", cfg.NackStallCycles)
	}
	if cfg.AbortLinBackoff < 0 {
		return fmt.Errorf("gcm: abortLinBackoff must be non-negative, got %d", cfg.AbortLinBackoff)
	}
	if cfg.AbortExpBackoff < 0 {
		return fmt.Errorf("gcm: abortExpBackoff must be non-negative, got %d", cfg.AbortExpBackoff)
	}
	if cfg.NackStallCycles == 0 {
		cfg.NackStallCycles = DefaultConfig().NackStallCycles
	}
	if cfg.AbortLinBackoff == 0 {
		cfg.AbortLinBackoff = DefaultConfig().AbortLinBackoff
	}
	return nil
}
