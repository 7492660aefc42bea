package crates

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// ConfigFile is the optional per-workspace policy override, relative to the
// workspace root.
const ConfigFile = "cargorun.toml"

type policyConfig struct {
	Crates map[string]crateConfig `toml:"crates"`
}

type crateConfig struct {
	Flags []string `toml:"flags"`
}

// LoadPolicy returns the policy table for the workspace: the built-in
// defaults, with each crate named in an optional cargorun.toml replacing its
// default entry. A missing config file yields the defaults unchanged.
func LoadPolicy(root string) (Policy, error) {
	policy := make(Policy, len(defaultPolicy))
	for crate, flags := range defaultPolicy {
		policy[crate] = append([]Flag(nil), flags...)
	}

	path := filepath.Join(root, ConfigFile)

	var cfg policyConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if os.IsNotExist(err) {
			return policy, nil
		}
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}

	for crate, c := range cfg.Crates {
		flags := make([]Flag, 0, len(c.Flags))
		for _, f := range c.Flags {
			flags = append(flags, Flag(f))
		}
		policy[crate] = flags
	}
	return policy, nil
}
