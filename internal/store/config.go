package store

import (
	"os"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"github.com/eigerco/nodestore/pkg/db/cold"
	"github.com/eigerco/nodestore/pkg/db/pebble"
)

// Config describes where and how the node's databases are opened.
type Config struct {
	// Path is the data directory; store directories are relative to it.
	Path    string     `yaml:"path"`
	Hot     HotConfig  `yaml:"hot"`
	Cold    ColdConfig `yaml:"cold"`
	Metrics bool       `yaml:"metrics"`
}

type HotConfig struct {
	Dir          string `yaml:"dir"`
	CacheSize    int64  `yaml:"cache_size"`
	MemTableSize uint64 `yaml:"memtable_size"`
	Sync         bool   `yaml:"sync"`
}

type ColdConfig struct {
	Enabled            bool   `yaml:"enabled"`
	Dir                string `yaml:"dir"`
	BlockCacheCapacity int    `yaml:"block_cache_capacity"`
	BloomFilterBits    int    `yaml:"bloom_filter_bits"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	hot := pebble.DefaultOptions()
	coldOpts := cold.DefaultOptions()
	return Config{
		Path: "data",
		Hot: HotConfig{
			Dir:          "hot",
			CacheSize:    hot.CacheSize,
			MemTableSize: hot.MemTableSize,
			Sync:         hot.Sync,
		},
		Cold: ColdConfig{
			Dir:                "cold",
			BlockCacheCapacity: coldOpts.BlockCacheCapacity,
			BloomFilterBits:    coldOpts.BloomFilterBits,
		},
	}
}

// LoadConfig reads a YAML file on top of DefaultConfig and validates it.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "read config")
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML on top of DefaultConfig and validates the result.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrap(err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch {
	case c.Path == "":
		return errors.Wrap(ErrInvalidConfig, "path is empty")
	case c.Hot.Dir == "":
		return errors.Wrap(ErrInvalidConfig, "hot.dir is empty")
	case c.Hot.CacheSize < 0:
		return errors.Wrapf(ErrInvalidConfig, "hot.cache_size %d is negative", c.Hot.CacheSize)
	case c.Cold.Enabled && c.Cold.Dir == "":
		return errors.Wrap(ErrInvalidConfig, "cold.dir is empty")
	case c.Cold.Enabled && c.Cold.Dir == c.Hot.Dir:
		return errors.Wrapf(ErrInvalidConfig, "hot and cold stores share directory %q", c.Hot.Dir)
	case c.Cold.BlockCacheCapacity < 0:
		return errors.Wrapf(ErrInvalidConfig, "cold.block_cache_capacity %d is negative", c.Cold.BlockCacheCapacity)
	case c.Cold.BloomFilterBits < 0:
		return errors.Wrapf(ErrInvalidConfig, "cold.bloom_filter_bits %d is negative", c.Cold.BloomFilterBits)
	}
	return nil
}

func (c HotConfig) options() pebble.Options {
	return pebble.Options{
		CacheSize:    c.CacheSize,
		MemTableSize: c.MemTableSize,
		Sync:         c.Sync,
	}
}

func (c ColdConfig) options() cold.Options {
	return cold.Options{
		BlockCacheCapacity: c.BlockCacheCapacity,
		BloomFilterBits:    c.BloomFilterBits,
	}
}
