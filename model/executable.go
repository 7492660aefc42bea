package model

import "fmt"

// Executable describes a binary produced by a cargo build, collected from
// cargo's JSON build log. Test and non-test binaries both appear here.
type Executable struct {
	// Absolute path of the binary on the build host
	Path string
	// Name of the crate that owns the binary
	CrateName string
	// Cargo target name within the crate
	Target string
	// True for binaries produced by `cargo test --no-run`
	IsTest bool
	// True when cargo reused a cached build instead of recompiling
	Fresh bool
}

// Name returns the stable identity of the executable.
func (e Executable) Name() string {
	return fmt.Sprintf("%s:%s", e.CrateName, e.Target)
}

// TestResult holds the outcome of one execution attempt of a test binary.
// Repeated runs of the same binary produce independent results.
type TestResult struct {
	// Executable name, see Executable.Name
	Name string
	// True when the binary exited with status 0
	Success bool
	// Combined stdout/stderr, possibly with a timeout note appended
	Log string
}
