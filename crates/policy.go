package crates

import (
	"fmt"

	"github.com/cargorun/cargorun/model"
)

// Flag restricts how a crate is built and run.
type Flag string

const (
	// Crate is never submitted to the build driver
	DoNotBuild Flag = "do-not-build"
	// Crate builds only for arm architectures
	BuildArmOnly Flag = "build-arm-only"
	// Crate builds only for x86_64
	BuildX86Only Flag = "build-x86-only"
	// Crate's test binaries are built but never executed
	DoNotRun Flag = "do-not-run"
	// Tests run only on arm architectures
	RunArmOnly Flag = "run-arm-only"
	// Tests run only on x86_64
	RunX86Only Flag = "run-x86-only"
	// Tests are passed --test-threads=1
	SingleThreaded Flag = "single-threaded"
)

var knownFlags = map[Flag]bool{
	DoNotBuild:     true,
	BuildArmOnly:   true,
	BuildX86Only:   true,
	DoNotRun:       true,
	RunArmOnly:     true,
	RunX86Only:     true,
	SingleThreaded: true,
}

// defaultPolicy is the built-in restriction table for the workspace's crates.
// An entry in cargorun.toml replaces the entry here for the same crate.
// Validation runs against the discovered crate set, so a stale entry after a
// crate rename fails fast instead of silently losing its restrictions.
var defaultPolicy = Policy{
	"aarch64":           {BuildArmOnly, RunArmOnly},
	"x86_64":            {BuildX86Only, RunX86Only},
	"devices":           {SingleThreaded},
	"fuzz":              {DoNotBuild},
	"integration_tests": {SingleThreaded},
	"io_uring":          {DoNotRun},
	"kvm":               {DoNotRun},
}

// Policy maps crate names to their restriction flags. A crate without an
// entry is fully buildable and runnable on every architecture.
type Policy map[string][]Flag

func (p Policy) has(crate string, flag Flag) bool {
	for _, f := range p[crate] {
		if f == flag {
			return true
		}
	}
	return false
}

// matches applies a pair of architecture restriction flags. A crate carrying
// both restrictions at once matches no architecture at all; Validate reports
// that as a configuration conflict.
func (p Policy) matches(crate string, arch model.Arch, armOnly, x86Only Flag) bool {
	arm := p.has(crate, armOnly)
	x86 := p.has(crate, x86Only)
	switch {
	case arm && x86:
		return false
	case arm:
		return arch.IsArm()
	case x86:
		return arch == model.ArchX86_64
	}
	return true
}

// ShouldBuild reports whether the crate is eligible for a build targeting
// arch.
func (p Policy) ShouldBuild(crate string, arch model.Arch) bool {
	if p.has(crate, DoNotBuild) {
		return false
	}
	return p.matches(crate, arch, BuildArmOnly, BuildX86Only)
}

// ShouldRun reports whether test binaries owned by the crate execute on arch.
func (p Policy) ShouldRun(crate string, arch model.Arch) bool {
	if p.has(crate, DoNotRun) {
		return false
	}
	return p.matches(crate, arch, RunArmOnly, RunX86Only)
}

// SingleThreaded reports whether the crate's tests must run serially.
func (p Policy) SingleThreaded(crate string) bool {
	return p.has(crate, SingleThreaded)
}

// Validate checks the policy against the discovered crate set. An entry for
// an unknown crate is a fatal configuration error. Conflicting architecture
// restrictions are returned as warnings so they are never silently resolved.
func (p Policy) Validate(known []string) ([]string, error) {
	knownSet := make(map[string]bool, len(known))
	for _, name := range known {
		knownSet[name] = true
	}

	var warnings []string
	for crate, flags := range p {
		if !knownSet[crate] {
			return nil, fmt.Errorf("policy references unknown crate %q", crate)
		}
		for _, f := range flags {
			if !knownFlags[f] {
				return nil, fmt.Errorf("policy for crate %q uses unknown flag %q", crate, f)
			}
		}
		if p.has(crate, BuildArmOnly) && p.has(crate, BuildX86Only) {
			warnings = append(warnings, fmt.Sprintf("crate %q has conflicting build restrictions, it will build for neither x86_64 nor arm", crate))
		}
		if p.has(crate, RunArmOnly) && p.has(crate, RunX86Only) {
			warnings = append(warnings, fmt.Sprintf("crate %q has conflicting run restrictions, its tests will run on neither x86_64 nor arm", crate))
		}
	}
	return warnings, nil
}
