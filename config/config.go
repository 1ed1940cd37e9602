// Package config carries the Go-native form of spec §6's resolver config
// knobs, loadable from a TOML file the way the teacher loads Gopkg.toml,
// using github.com/pelletier/go-toml's struct-tag unmarshaling.
package config

import (
	"os"

	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
)

// GroupPackageType is one of the package-membership classes a group
// expansion can pull in.
type GroupPackageType string

const (
	GroupMandatory GroupPackageType = "mandatory"
	GroupDefault   GroupPackageType = "default"
	GroupOptional  GroupPackageType = "optional"
)

// MultilibPolicy selects how the resolver treats multiple compatible
// arches of one requirement.
type MultilibPolicy string

const (
	MultilibBest MultilibPolicy = "best"
	MultilibAll  MultilibPolicy = "all"
)

// Config is the set of resolver-honored options enumerated in spec §6.
type Config struct {
	Obsoletes bool `toml:"obsoletes"`

	ExactArch     bool     `toml:"exactarch"`
	ExactArchList []string `toml:"exactarchlist"`

	InstallOnlyPkgs  []string `toml:"installonlypkgs"`
	InstallOnlyLimit int      `toml:"installonly_limit"`

	SkipBroken bool `toml:"skip_broken"`

	GroupPackageTypes      []GroupPackageType `toml:"group_package_types"`
	EnableGroupConditionals bool              `toml:"enable_group_conditionals"`

	MultilibPolicy  MultilibPolicy `toml:"multilib_policy"`
	OverwriteGroups bool           `toml:"overwrite_groups"`

	DisableExcludes []string `toml:"disable_excludes"`
	Exclude         []string `toml:"exclude"`
}

// Default returns the spec-documented defaults: obsoletes on, install-only
// limit 3 (matching yum's historical kernel-keep default), group types
// mandatory+default, multilib policy "best".
func Default() *Config {
	return &Config{
		Obsoletes:               true,
		InstallOnlyLimit:        3,
		GroupPackageTypes:       []GroupPackageType{GroupMandatory, GroupDefault},
		EnableGroupConditionals: true,
		MultilibPolicy:          MultilibBest,
	}
}

// Load reads and parses a TOML config file, starting from Default() so an
// omitted field keeps its default rather than zeroing out.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading config %q", path)
	}
	cfg := Default()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parsing config %q", path)
	}
	return cfg, nil
}

// IsInstallOnly reports whether name is configured as an install-only
// package.
func (c *Config) IsInstallOnly(name string) bool {
	for _, n := range c.InstallOnlyPkgs {
		if n == name {
			return true
		}
	}
	return false
}

// WantsExactArch reports whether name requires exact-arch update matching,
// either globally (ExactArch) or via the per-name override list.
func (c *Config) WantsExactArch(name string) bool {
	if c.ExactArch {
		return true
	}
	for _, n := range c.ExactArchList {
		if n == name {
			return true
		}
	}
	return false
}

// WantsGroupType reports whether t is among the configured group package
// types to expand.
func (c *Config) WantsGroupType(t GroupPackageType) bool {
	for _, gt := range c.GroupPackageTypes {
		if gt == t {
			return true
		}
	}
	return false
}
