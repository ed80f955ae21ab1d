// Package config holds the engine's typed configuration, loaded from a
// TOML file via pelletier/go-toml/v2, with zero-value-safe defaults
// matching spec.md §6.
//
// Adapted from the teacher's cmd/coordinator main.go flag-parsing style
// (small flat struct, sane defaults, a single load function) generalized
// from command-line flags into a TOML document.
package config

import (
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
)

// Config is the full set of §6 tunables for one node.
type Config struct {
	Avalanche Avalanche `toml:"avalanche"`
	Shard     Shard     `toml:"shard"`
	Engine    Engine    `toml:"engine"`
	Storage   Storage   `toml:"storage"`
}

// Avalanche holds the consensus engine's parameters.
type Avalanche struct {
	SampleSize  int           `toml:"sample_size"`
	Threshold   float64       `toml:"threshold"`
	MaxRounds   int           `toml:"max_rounds"`
	VoteTimeout time.Duration `toml:"vote_timeout"`
}

// Shard holds the shard manager's sharding and 2PC parameters.
type Shard struct {
	PrepareTimeout           time.Duration `toml:"prepare_timeout"`
	MinShards                int           `toml:"min_shards"`
	MaxShards                int           `toml:"max_shards"`
	MaxTransactionsPerShard  int           `toml:"max_transactions_per_shard"`
	ReshardThreshold         float64       `toml:"reshard_threshold"`
	RebalanceInterval        time.Duration `toml:"rebalance_interval"`
}

// Engine holds the orchestrator's own tunables.
type Engine struct {
	MaxInflight int `toml:"max_inflight"`
}

// Storage holds the [storage] section: a backend name and a bbolt file
// path. It is loaded but not read by anything in this module; the demo
// always uses storage.MemoryStore.
type Storage struct {
	// Backend is "memory" or "bolt".
	Backend string `toml:"backend"`
	// Path is a bbolt database file path.
	Path string `toml:"path"`
}

// Default returns spec.md §6's documented defaults.
func Default() Config {
	return Config{
		Avalanche: Avalanche{
			SampleSize:  20,
			Threshold:   0.8,
			MaxRounds:   10,
			VoteTimeout: 5 * time.Second,
		},
		Shard: Shard{
			PrepareTimeout:          5 * time.Second,
			MinShards:               1,
			MaxShards:               16,
			MaxTransactionsPerShard: 10_000,
			ReshardThreshold:        0.8,
			RebalanceInterval:       time.Hour,
		},
		Engine: Engine{
			MaxInflight: 1000,
		},
		Storage: Storage{
			Backend: "memory",
		},
	}
}

// Load reads and decodes a TOML config file at path, starting from
// Default() so that any field the file omits keeps its documented
// default rather than zeroing out.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "read config %s", path)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parse config %s", path)
	}
	return cfg, nil
}
