package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultMountsMemfsAtRoot(t *testing.T) {
	cfg := Default()
	require.Len(t, cfg.Devices, 1)
	require.Len(t, cfg.Mounts, 1)
	require.Equal(t, "/", cfg.Mounts[0].MountPoint)
	require.Equal(t, "memfs", cfg.Mounts[0].FsType)
	require.Equal(t, 1024, cfg.Cache.MaxPages)
}

func TestLoadParsesDevicesAndMounts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vfsdemo.yaml")
	doc := `
devices:
  - name: disk0
    kind: file
    path: /tmp/vfsdemo.img
    size_bytes: 1048576
    sector_size: 512
    block_size: 4096
mounts:
  - device: disk0
    mount_point: /
    fs_type: memfs
cache:
  max_pages: 64
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Devices, 1)
	require.Equal(t, "disk0", cfg.Devices[0].Name)
	require.Equal(t, "file", cfg.Devices[0].Kind)
	require.EqualValues(t, 1048576, cfg.Devices[0].SizeBytes)
	require.Equal(t, 64, cfg.Cache.MaxPages)
}

func TestLoadDefaultsCacheWhenUnset(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vfsdemo.yaml")
	require.NoError(t, os.WriteFile(path, []byte("devices: []\nmounts: []\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 1024, cfg.Cache.MaxPages)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/vfsdemo.yaml")
	require.Error(t, err)
}
