package crates

// Package crates discovers the buildable crates of a cargo workspace and
// holds the per-crate test policy.

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// CommonDir is the subdirectory holding crates that build as independent
// parallel groups, outside the main workspace.
const CommonDir = "common"

// Crate is a discovered buildable unit.
type Crate struct {
	// Unique crate name
	Name string
	// Directory containing the crate's Cargo.toml
	Dir string
}

type cargoManifest struct {
	Package struct {
		Name string `toml:"name"`
	} `toml:"package"`
}

// manifestName reads the package name from the Cargo.toml in dir. Falls back
// to the directory basename when the manifest carries no package section
// (e.g. a virtual workspace manifest).
func manifestName(dir string) string {
	var manifest cargoManifest
	if _, err := toml.DecodeFile(filepath.Join(dir, "Cargo.toml"), &manifest); err == nil {
		if manifest.Package.Name != "" {
			return manifest.Package.Name
		}
	}
	return filepath.Base(dir)
}

// scanCrates returns one Crate per immediate subdirectory of root that
// directly contains a Cargo.toml, in filesystem-scan order. Directories
// without a manifest are skipped.
func scanCrates(root string) ([]Crate, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan %s: %w", root, err)
	}

	var found []Crate
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(root, entry.Name())
		if _, err := os.Stat(filepath.Join(dir, "Cargo.toml")); err != nil {
			continue
		}
		found = append(found, Crate{Name: entry.Name(), Dir: dir})
	}
	return found, nil
}

// ListMain returns the primary crate of the workspace followed by the crates
// in its immediate subdirectories.
func ListMain(root string) ([]Crate, error) {
	if _, err := os.Stat(filepath.Join(root, "Cargo.toml")); err != nil {
		return nil, fmt.Errorf("no Cargo.toml in workspace root %s: %w", root, err)
	}
	main := []Crate{{Name: manifestName(root), Dir: root}}

	sub, err := scanCrates(root)
	if err != nil {
		return nil, err
	}
	return append(main, sub...), nil
}

// ListCommon returns the crates under common/, each of which builds as its
// own group.
func ListCommon(root string) ([]Crate, error) {
	return scanCrates(filepath.Join(root, CommonDir))
}

// Names returns the crate names in order.
func Names(list []Crate) []string {
	names := make([]string, 0, len(list))
	for _, c := range list {
		names = append(names, c.Name)
	}
	return names
}
