// Package config loads the process-wide configuration surface of
// spec.md §6 ("CLI / config surface") from a TOML file, grounded on
// teacher's app/config.go CothorityConfig Save/Load pair.
package config

import (
	"os"

	"github.com/BurntSushi/toml"
	"github.com/cellfabric/fabric/cellagent"
	"golang.org/x/xerrors"
)

// DebugFlags are the per-subsystem trace/debug flags named in spec.md
// §6: "all, ca, pe, pe_cm, pe_port, flow_control, discover, manifest,
// saved_msgs, etc.".
type DebugFlags struct {
	All         bool
	CA          bool
	PE          bool
	PECm        bool
	PEPort      bool
	FlowControl bool
	Discover    bool
	Manifest    bool
	SavedMsgs   bool
}

// Config is the single process-wide configuration spec.md §6 describes.
type Config struct {
	// OutputTracePath is the file Sink appends trace records to.
	OutputTracePath string

	// QuenchPolicy selects how a cell agent quenches duplicate
	// rebroadcasts (spec.md §4.7, cellagent.QuenchPolicy).
	QuenchPolicy string

	// MaxPortsPerCell bounds how many physical ports a cell boots with.
	MaxPortsPerCell uint16

	// ContinueOnError mirrors spec.md §7's propagation policy toggle. It
	// is read only by cmd/cellboot's replay subcommand: when true, a
	// trace record whose handler fails is logged and skipped; when false,
	// replay stops at the first such error.
	ContinueOnError bool

	// ReplayMode is loaded and saved with the rest of the config, but
	// cmd/cellboot does not read it; replay runs only when the replay
	// subcommand is given on the command line.
	ReplayMode bool

	Debug DebugFlags

	// AutoBreak optionally names a "cell:port" edge the rack simulator
	// should sever partway through a run, to exercise failover
	// (spec.md §6).
	AutoBreak string
}

// Default returns the configuration a freshly booted cell uses absent
// an override file.
func Default() Config {
	return Config{
		OutputTracePath: "trace.ndjson",
		QuenchPolicy:    "simple",
		MaxPortsPerCell: 64,
		ContinueOnError: true,
	}
}

// Load reads and decodes a TOML config file, falling back to Default
// for any field the file doesn't set (BurntSushi/toml leaves unset
// fields at their Go zero value, so callers should start from Default
// and decode on top of it).
func Load(path string) (Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, xerrors.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to path as TOML, overwriting any existing file.
func (c Config) Save(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return xerrors.Errorf("config %s: %w", path, err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(c); err != nil {
		return xerrors.Errorf("config %s: %w", path, err)
	}
	return nil
}

// QuenchPolicyValue parses QuenchPolicy into a cellagent.QuenchPolicy,
// defaulting to QuenchSimple for an empty or unrecognized value.
func (c Config) QuenchPolicyValue() cellagent.QuenchPolicy {
	if c.QuenchPolicy == "root_port" {
		return cellagent.QuenchRootPort
	}
	return cellagent.QuenchSimple
}
