package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultMatchesDocumentedValues(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 20, cfg.Avalanche.SampleSize)
	assert.Equal(t, 0.8, cfg.Avalanche.Threshold)
	assert.Equal(t, 10, cfg.Avalanche.MaxRounds)
	assert.Equal(t, 5*time.Second, cfg.Avalanche.VoteTimeout)
	assert.Equal(t, 1, cfg.Shard.MinShards)
	assert.Equal(t, 16, cfg.Shard.MaxShards)
	assert.Equal(t, 10_000, cfg.Shard.MaxTransactionsPerShard)
	assert.Equal(t, 0.8, cfg.Shard.ReshardThreshold)
	assert.Equal(t, 1000, cfg.Engine.MaxInflight)
	assert.Equal(t, "memory", cfg.Storage.Backend)
}

func TestLoadOverlaysPartialFileOntoDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	contents := `
[avalanche]
sample_size = 5

[shard]
max_shards = 8
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Avalanche.SampleSize)
	// Fields the file doesn't mention keep their Default() value.
	assert.Equal(t, 0.8, cfg.Avalanche.Threshold, "untouched threshold should keep its default")
	assert.Equal(t, 8, cfg.Shard.MaxShards)
	assert.Equal(t, 1, cfg.Shard.MinShards, "untouched min shards should keep its default")
}

func TestLoadMissingFileReturnsError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestLoadMalformedTomlReturnsError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("not = [valid toml"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}
