package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, 30.0, cfg.SpeedKPH)
	assert.Equal(t, 24.3448, cfg.Depot.Lat)
	assert.Equal(t, 30, cfg.SolveBudgetSec)
}

func TestLoadYAMLWithEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
addr: ":9090"
speed_kph: 40
depot:
  name: "North Base"
  lat: 24.40
  lng: 124.15
`), 0o644))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("SPEED_KPH", "25")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, 25.0, cfg.SpeedKPH, "environment overrides the file")
	assert.Equal(t, "North Base", cfg.Depot.Name)
	assert.Equal(t, 24.40, cfg.DepotLocation().Lat)
}

func TestLoadRejectsBadDepot(t *testing.T) {
	t.Setenv("DEPOT_LAT", "123.0")
	_, err := Load()
	require.Error(t, err)
}
