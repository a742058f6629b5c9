package pool

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// defaultPageSize is the PAGE_SIZE well-known constant.
const defaultPageSize = 4096

// defaultHugePageMultiple is the number of PAGE_SIZE pages folded into
// one huge-pool granule when Config doesn't override it.
const defaultHugePageMultiple = 512 // 2 MiB at a 4 KiB page size

// defaultDirectMapSize is a conservative bring-up default for
// EXT_DIRECT_MAP_SIZE: large enough to exercise the pool in tests
// without reserving real address space on the host.
const defaultDirectMapSize = 256 * 1024 * 1024

// Config names overrides for the well-known layout constants
// (PAGE_SIZE multiplier, direct-map window bounds, pool capacities): a
// flat struct, yaml-tagged, with normalize() filling in defaults for
// whatever the host-side bring-up harness left unset. The core's hot
// path never reads a Config directly — only the harness that
// constructs an Mmap{Page,Huge}Pool at startup does.
type Config struct {
	PageSize         int    `yaml:"pageSize,omitempty"`
	HugePageMultiple int    `yaml:"hugePageMultiple,omitempty"`
	DirectMapAddr    uint64 `yaml:"directMapAddr,omitempty"`
	DirectMapSize    uint64 `yaml:"directMapSize,omitempty"`
	MaxPages         int    `yaml:"maxPages,omitempty"`
	MaxHugeRegions   int    `yaml:"maxHugeRegions,omitempty"`
}

func (c *Config) normalize() {
	if c.PageSize == 0 {
		c.PageSize = defaultPageSize
	}
	if c.HugePageMultiple == 0 {
		c.HugePageMultiple = defaultHugePageMultiple
	}
	if c.DirectMapSize == 0 {
		c.DirectMapSize = defaultDirectMapSize
	}
	if c.MaxPages == 0 {
		c.MaxPages = int(c.DirectMapSize) / c.PageSize
	}
	if c.MaxHugeRegions == 0 {
		c.MaxHugeRegions = c.MaxPages / c.HugePageMultiple
	}
}

// LoadConfig reads a pool Config from a yaml file, defaulting every
// unset field via normalize(). A missing file is not an error: the
// bring-up harness is expected to run with every default when no
// override file is present.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.normalize()
			return cfg, nil
		}
		return Config{}, fmt.Errorf("pool: read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("pool: parse config: %w", err)
	}
	cfg.normalize()
	return cfg, nil
}
