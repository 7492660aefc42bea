package model

import "runtime"

// Arch identifies a CPU architecture test binaries are built for.
type Arch string

const (
	ArchX86_64  Arch = "x86_64"
	ArchAarch64 Arch = "aarch64"
	ArchArmhf   Arch = "armhf"
)

// Arches lists all architectures the runner can build for.
var Arches = []Arch{ArchX86_64, ArchAarch64, ArchArmhf}

// IsArm reports whether the architecture belongs to the arm family.
func (a Arch) IsArm() bool {
	return a == ArchAarch64 || a == ArchArmhf
}

// Valid reports whether a is a supported architecture.
func (a Arch) Valid() bool {
	for _, known := range Arches {
		if a == known {
			return true
		}
	}
	return false
}

// NormalizeArch maps uname/GOARCH style names to an Arch.
func NormalizeArch(s string) Arch {
	switch s {
	case "x86_64", "amd64":
		return ArchX86_64
	case "aarch64", "arm64":
		return ArchAarch64
	case "armv7l", "arm", "armhf":
		return ArchArmhf
	}
	return Arch(s)
}

// HostArch returns the architecture of the machine cargorun runs on.
func HostArch() Arch {
	return NormalizeArch(runtime.GOARCH)
}
