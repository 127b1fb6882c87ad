// Package config loads the demo CLI's declarative YAML configuration:
// which block devices to create, which filesystem to mount where, and
// how many pages the shared page cache should hold. Grounded on
// AnishMulay-sandstore's cmd/mcp/main.go config-struct/yaml-tag shape.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DeviceConfig describes one block device to construct at startup.
type DeviceConfig struct {
	Name       string `yaml:"name"`
	Kind       string `yaml:"kind"` // "memory" or "file"
	Path       string `yaml:"path,omitempty"`
	SizeBytes  int64  `yaml:"size_bytes"`
	SectorSize int    `yaml:"sector_size"`
	BlockSize  int    `yaml:"block_size"`
	ReadOnly   bool   `yaml:"read_only"`
	Major      uint32 `yaml:"major"`
	Minor      uint32 `yaml:"minor"`
}

// MountConfig describes one filesystem mount.
type MountConfig struct {
	Device     string `yaml:"device"`
	MountPoint string `yaml:"mount_point"`
	FsType     string `yaml:"fs_type"`
	ReadOnly   bool   `yaml:"read_only"`
	Options    string `yaml:"options,omitempty"`
}

// CacheConfig sizes the shared page cache.
type CacheConfig struct {
	MaxPages int `yaml:"max_pages"`
}

// Config is the top-level demo configuration document.
type Config struct {
	Devices []DeviceConfig `yaml:"devices"`
	Mounts  []MountConfig  `yaml:"mounts"`
	Cache   CacheConfig    `yaml:"cache"`
	LogLevel string        `yaml:"log_level,omitempty"`
}

// Default returns a single memory device mounted at "/" with memfs,
// used when no config file is supplied.
func Default() *Config {
	return &Config{
		Devices: []DeviceConfig{{
			Name: "mem0", Kind: "memory",
			SizeBytes: 4 * 1024 * 1024, SectorSize: 512, BlockSize: 4096,
			Major: 8, Minor: 0,
		}},
		Mounts: []MountConfig{{
			Device: "mem0", MountPoint: "/", FsType: "memfs",
		}},
		Cache: CacheConfig{MaxPages: 1024},
	}
}

// Load reads and parses a YAML config file from path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if cfg.Cache.MaxPages == 0 {
		cfg.Cache.MaxPages = 1024
	}
	return &cfg, nil
}
