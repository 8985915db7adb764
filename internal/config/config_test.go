package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	herr "github.com/danielpatrickdp/hybrid-router/internal/errors"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Validate(Default()))
}

func TestLoadYAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hybrid.yaml")
	yml := `
session:
  history_cap: 20
  max_response_chars: 200
reservoir:
  size: 64
  leak_rate: 0.5
heuristic:
  keywords: [prove, derive]
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))

	t.Setenv("HYBRID_HISTORY_CAP", "30")
	t.Setenv("ORCHESTRATOR_NEURAL", "false")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 30, cfg.Session.HistoryCap, "env overrides yaml")
	assert.Equal(t, 200, cfg.Session.MaxResponseChars)
	assert.Equal(t, 64, cfg.Reservoir.Size)
	assert.Equal(t, 0.5, cfg.Reservoir.LeakRate)
	assert.Equal(t, []string{"prove", "derive"}, cfg.Heuristic.Keywords)
	assert.False(t, cfg.Neural.Enabled)
	// untouched fields keep defaults
	assert.Equal(t, 0.95, cfg.Reservoir.SpectralRadius)
	assert.Equal(t, 500, cfg.Heuristic.LongQueryChars)
}

func TestApplyEnvKeywords(t *testing.T) {
	cfg := Default()
	require.NoError(t, ApplyEnv(&cfg, envMap(map[string]string{
		"HYBRID_KEYWORDS":           " prove , , analyze ",
		"HYBRID_LEAK_RATE":          "0.3",
		"HYBRID_STORE_PATH":         "/tmp/x.db",
		"HYBRID_MAX_RESPONSE_CHARS": "64",
	})))
	assert.Equal(t, 64, cfg.Session.MaxResponseChars)
	assert.Equal(t, []string{"prove", "analyze"}, cfg.Heuristic.Keywords)
	assert.Equal(t, 0.3, cfg.Reservoir.LeakRate)
	assert.Equal(t, "/tmp/x.db", cfg.Store.Path)
}

func TestApplyEnvBadValue(t *testing.T) {
	cfg := Default()
	err := ApplyEnv(&cfg, envMap(map[string]string{"HYBRID_EPOCHS": "many"}))
	require.Error(t, err)
	assert.True(t, herr.IsKind(err, herr.KindInvalidArgument))
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"spectral radius at one", func(c *Config) { c.Reservoir.SpectralRadius = 1.0 }},
		{"zero leak", func(c *Config) { c.Reservoir.LeakRate = 0 }},
		{"leak above one", func(c *Config) { c.Reservoir.LeakRate = 1.5 }},
		{"short over long", func(c *Config) { c.Heuristic.ShortQueryChars = 600 }},
		{"confidence over one", func(c *Config) { c.Heuristic.LongConfidence = 1.2 }},
		{"one fold", func(c *Config) { c.Training.Folds = 1 }},
		{"splits too large", func(c *Config) { c.Training.ValidationSplit, c.Training.TestSplit = 0.5, 0.5 }},
		{"no history", func(c *Config) { c.Session.HistoryCap = 0 }},
		{"negative response cap", func(c *Config) { c.Session.MaxResponseChars = -1 }},
		{"tiny feature dim", func(c *Config) { c.Features.Dimension = 8 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := Validate(cfg)
			require.Error(t, err)
			assert.True(t, herr.IsKind(err, herr.KindInvalidArgument))
		})
	}
}

func TestLeakRateOfOneIsValid(t *testing.T) {
	cfg := Default()
	cfg.Reservoir.LeakRate = 1
	assert.NoError(t, Validate(cfg))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
