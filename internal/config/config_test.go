package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigPassesItsOwnBounds(t *testing.T) {
	cfg := DefaultConfig()
	assert.Greater(t, cfg.Executor.GlobalCapacity, int64(0))
	assert.Greater(t, cfg.Cache.MemoryBudgetBytes, int64(0))
	assert.Greater(t, cfg.Pipeline.JobTimeout.Seconds(), 0.0)
}

func TestValidateRejectsMissingProviders(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.validate()
	assert.ErrorContains(t, err, "provider")
}

func TestValidateRejectsNonPositiveGlobalCapacity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Providers = []ProviderConfig{{Tag: "BI", Kind: "bing"}}
	cfg.Executor.GlobalCapacity = 0
	err := cfg.validate()
	assert.ErrorContains(t, err, "global_capacity")
}

func TestLoadMergesConfigFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := `
providers:
  - tag: BI
    kind: bing
    max_zoom: 18
pipeline:
  job_timeout: 5s
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Len(t, cfg.Providers, 1)
	assert.Equal(t, "BI", cfg.Providers[0].Tag)
	assert.Equal(t, "5s", cfg.Pipeline.JobTimeout.String())
	// Unspecified sections keep their defaults.
	assert.Equal(t, DefaultConfig().Executor.GlobalCapacity, cfg.Executor.GlobalCapacity)
}

func TestLoadRejectsUnreadableConfigFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	assert.Error(t, err)
}
