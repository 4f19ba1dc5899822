package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefault_AppliesDocumentedDefaults(t *testing.T) {
	cfg := Default()
	require.Equal(t, 8045, cfg.Port)
	require.False(t, cfg.AllowLANAccess)
	require.Equal(t, 300, cfg.RequestTimeout)
	require.Equal(t, SchedulingRoundRobin, cfg.SchedulingMode)
}

func TestBindAddress_LoopbackByDefault(t *testing.T) {
	cfg := Default()
	require.Equal(t, "127.0.0.1:8045", cfg.BindAddress())
}

func TestBindAddress_AllowLANBindsAllInterfaces(t *testing.T) {
	cfg := Default()
	cfg.AllowLANAccess = true
	cfg.Port = 9000
	require.Equal(t, "0.0.0.0:9000", cfg.BindAddress())
}

func TestLoad_OverridesOnlySpecifiedFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 9100\napi_key: secret123\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9100, cfg.Port)
	require.Equal(t, "secret123", cfg.APIKey)
	require.Equal(t, 300, cfg.RequestTimeout, "unspecified fields should keep their default")
	require.Equal(t, SchedulingRoundRobin, cfg.SchedulingMode)
}

func TestLoad_MissingFileErrors(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	require.Error(t, err)
}

func TestLoad_InvalidYAMLErrors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: [this is not valid"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestStore_GetReturnsLatestSetValue(t *testing.T) {
	cfg1 := Default()
	store := NewStore(cfg1)
	require.Equal(t, cfg1, store.Get())

	cfg2 := Default()
	cfg2.Port = 1234
	store.Set(cfg2)
	require.Equal(t, 1234, store.Get().Port)
}
