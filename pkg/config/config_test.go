package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 20000.0, cfg.Coverage.Radius)
	assert.Equal(t, []int{2000, 2005, 2010, 2014}, cfg.Coverage.Years)
	assert.Equal(t, "R", cfg.Coverage.Class)
	assert.Equal(t, 1, cfg.Coverage.DuplicateDecimal)
	assert.InDelta(t, 1.0/3.0, cfg.MPI.Cutoff, 1e-12)
	assert.Equal(t, 0.95, cfg.MPI.Confidence)
	assert.Equal(t, "cluster", cfg.MPI.Unit)
	assert.Equal(t, runtime.NumCPU(), cfg.Workers)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "out", cfg.Paths.Output)
	assert.Empty(t, cfg.PostGIS.DSN)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
paths:
  forests: cf.shp
  clusters:
    - dhs2000.shp
    - dhs2014.shp
coverage:
  radius: 5000
  years: [2000, 2014]
  class: ""
mpi:
  unit: region
log:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "cf.shp", cfg.Paths.Forests)
	assert.Equal(t, []string{"dhs2000.shp", "dhs2014.shp"}, cfg.Paths.Clusters)
	assert.Equal(t, 5000.0, cfg.Coverage.Radius)
	assert.Equal(t, []int{2000, 2014}, cfg.Coverage.Years)
	assert.Equal(t, "", cfg.Coverage.Class)
	assert.Equal(t, "region", cfg.MPI.Unit)
	assert.Equal(t, "debug", cfg.Log.Level)
	// Defaults still apply for unset values
	assert.Equal(t, 0.95, cfg.MPI.Confidence)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("coverage:\n  radius: 5000\n"), 0644))
	t.Setenv("CFPOV_COVERAGE_RADIUS", "10000")
	t.Setenv("CFPOV_POSTGIS_DSN", "postgres://localhost/cf")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 10000.0, cfg.Coverage.Radius)
	assert.Equal(t, "postgres://localhost/cf", cfg.PostGIS.DSN)
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"negative radius", "coverage:\n  radius: -1\n"},
		{"unknown class", "coverage:\n  class: X\n"},
		{"cutoff above one", "mpi:\n  cutoff: 1.5\n"},
		{"confidence one", "mpi:\n  confidence: 1\n"},
		{"unknown unit", "mpi:\n  unit: district\n"},
		{"malformed", "coverage: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := chdirTemp(t)
			require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(tt.yaml), 0644))
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestInitLogger(t *testing.T) {
	orig := zap.L()
	t.Cleanup(func() { zap.ReplaceGlobals(orig) })

	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.True(t, zap.L().Core().Enabled(zap.DebugLevel))

	require.NoError(t, InitLogger(LogConfig{Level: "warn", Format: "json"}))
	assert.False(t, zap.L().Core().Enabled(zap.InfoLevel))

	assert.Error(t, InitLogger(LogConfig{Level: "loud"}))
}
