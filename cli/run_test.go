package cli

import (
	"testing"

	"github.com/cargorun/cargorun/crates"
	"github.com/cargorun/cargorun/model"
)

func TestBuildable(t *testing.T) {
	list := []crates.Crate{
		{Name: "vmm", Dir: "/w"},
		{Name: "devices", Dir: "/w/devices"},
		{Name: "fuzz", Dir: "/w/fuzz"},
		{Name: "x86_64", Dir: "/w/x86_64"},
	}
	policy := crates.Policy{
		"fuzz":   {crates.DoNotBuild},
		"x86_64": {crates.BuildX86Only},
	}

	tests := []struct {
		name string
		arch model.Arch
		want []string
	}{
		{name: "x86_64 keeps arch-matching crates", arch: model.ArchX86_64, want: []string{"vmm", "devices", "x86_64"}},
		{name: "aarch64 drops x86-only crates", arch: model.ArchAarch64, want: []string{"vmm", "devices"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := crates.Names(buildable(list, policy, tt.arch))
			if len(got) != len(tt.want) {
				t.Fatalf("buildable(%s) = %v, want %v", tt.arch, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("buildable(%s)[%d] = %q, want %q", tt.arch, i, got[i], tt.want[i])
				}
			}
			for _, name := range got {
				if name == "fuzz" {
					t.Errorf("do-not-build crate reached the build set: %v", got)
				}
			}
		})
	}
}

func TestFindPrimaryBinary(t *testing.T) {
	executables := []model.Executable{
		{Path: "/t/debug/deps/vmm-1234", CrateName: "vmm", Target: "vmm", IsTest: true},
		{Path: "/t/debug/vmm", CrateName: "vmm", Target: "vmm", IsTest: false},
		{Path: "/t/debug/deps/devices-5678", CrateName: "devices", Target: "devices", IsTest: true},
	}

	tests := []struct {
		name     string
		primary  string
		wantPath string
		wantErr  bool
	}{
		{
			name:     "finds non-test binary",
			primary:  "vmm",
			wantPath: "/t/debug/vmm",
		},
		{
			name:    "test binary does not count",
			primary: "devices",
			wantErr: true,
		},
		{
			name:    "unknown target",
			primary: "ghost",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := findPrimaryBinary(executables, tt.primary)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("findPrimaryBinary(%q) expected error, got %v", tt.primary, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("findPrimaryBinary(%q) failed: %v", tt.primary, err)
			}
			if got.Path != tt.wantPath {
				t.Errorf("findPrimaryBinary(%q) = %q, want %q", tt.primary, got.Path, tt.wantPath)
			}
		})
	}
}
