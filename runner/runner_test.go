package runner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cargorun/cargorun/crates"
	"github.com/cargorun/cargorun/model"
	"github.com/cargorun/cargorun/target"
)

type fakeCall struct {
	Binary string
	Args   []string
}

type fakeExecutor struct {
	mu    sync.Mutex
	calls []fakeCall
	fn    func(binary string) (target.ExecResult, error)
}

func (f *fakeExecutor) Exec(_ context.Context, binary string, args []string, _ time.Duration) (target.ExecResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, fakeCall{Binary: binary, Args: args})
	f.mu.Unlock()

	if f.fn != nil {
		return f.fn(binary)
	}
	return target.ExecResult{ExitCode: 0, Output: "ok"}, nil
}

func testBinary(crate, name string) model.Executable {
	return model.Executable{
		Path:      "/target/debug/deps/" + name,
		CrateName: crate,
		Target:    name,
		IsTest:    true,
	}
}

func drain(results <-chan model.TestResult) []model.TestResult {
	var all []model.TestResult
	for r := range results {
		all = append(all, r)
	}
	return all
}

func TestPlanFilters(t *testing.T) {
	policy := crates.Policy{
		"never":    {crates.DoNotRun},
		"arm-only": {crates.RunArmOnly},
	}
	engine := NewEngine(zerolog.Nop(), &fakeExecutor{}, Options{
		Arch:   model.ArchX86_64,
		Policy: policy,
	})

	executables := []model.Executable{
		testBinary("vmm", "vmm_tests"),
		testBinary("never", "never_tests"),
		testBinary("arm-only", "arm_tests"),
		// Non-test binaries are never executed.
		{Path: "/target/debug/vmm", CrateName: "vmm", Target: "vmm", IsTest: false},
	}

	plan := engine.Plan(executables)
	require.Len(t, plan, 1)
	assert.Equal(t, "vmm:vmm_tests", plan[0].Name())
}

func TestPlanRepeatLaw(t *testing.T) {
	engine := NewEngine(zerolog.Nop(), &fakeExecutor{}, Options{
		Arch:   model.ArchX86_64,
		Policy: crates.Policy{},
		Repeat: 3,
	})

	executables := []model.Executable{
		testBinary("a", "a_tests"),
		testBinary("b", "b_tests"),
	}

	plan := engine.Plan(executables)
	assert.Len(t, plan, 6)

	counts := map[string]int{}
	for _, exe := range plan {
		counts[exe.Name()]++
	}
	assert.Equal(t, map[string]int{"a:a_tests": 3, "b:b_tests": 3}, counts)
}

func TestRunDeliversOneResultPerAttempt(t *testing.T) {
	exec := &fakeExecutor{}
	engine := NewEngine(zerolog.Nop(), exec, Options{
		Arch:   model.ArchX86_64,
		Policy: crates.Policy{},
		Repeat: 4,
	})

	plan := engine.Plan([]model.Executable{testBinary("a", "a_tests")})
	require.Len(t, plan, 4)

	results := drain(engine.Run(context.Background(), plan))
	require.Len(t, results, 4)
	for _, r := range results {
		assert.True(t, r.Success)
		assert.Equal(t, "a:a_tests", r.Name)
	}
}

func TestRunSingleThreadedFlag(t *testing.T) {
	exec := &fakeExecutor{}
	engine := NewEngine(zerolog.Nop(), exec, Options{
		Arch:   model.ArchX86_64,
		Policy: crates.Policy{"serial": {crates.SingleThreaded}},
	})

	plan := engine.Plan([]model.Executable{
		testBinary("serial", "serial_tests"),
		testBinary("parallel", "parallel_tests"),
	})
	drain(engine.Run(context.Background(), plan))

	byBinary := map[string][]string{}
	for _, call := range exec.calls {
		byBinary[call.Binary] = call.Args
	}
	assert.Equal(t, []string{"--test-threads=1"}, byBinary["/target/debug/deps/serial_tests"])
	assert.Empty(t, byBinary["/target/debug/deps/parallel_tests"])
}

func TestRunTimeoutIsIsolated(t *testing.T) {
	exec := &fakeExecutor{
		fn: func(binary string) (target.ExecResult, error) {
			if binary == "/target/debug/deps/frozen_tests" {
				return target.ExecResult{ExitCode: -1, Output: "partial output", TimedOut: true}, nil
			}
			return target.ExecResult{ExitCode: 0, Output: "ok"}, nil
		},
	}
	engine := NewEngine(zerolog.Nop(), exec, Options{
		Arch:    model.ArchX86_64,
		Policy:  crates.Policy{},
		Timeout: 60 * time.Second,
	})

	plan := engine.Plan([]model.Executable{
		testBinary("frozen", "frozen_tests"),
		testBinary("fine", "fine_tests"),
	})
	results := drain(engine.Run(context.Background(), plan))
	require.Len(t, results, 2)

	byName := map[string]model.TestResult{}
	for _, r := range results {
		byName[r.Name] = r
	}

	frozen := byName["frozen:frozen_tests"]
	assert.False(t, frozen.Success)
	assert.Contains(t, frozen.Log, "partial output")
	assert.Contains(t, frozen.Log, "Process timed out after 60s")

	assert.True(t, byName["fine:fine_tests"].Success)
}

func TestRunExitCodeFailure(t *testing.T) {
	exec := &fakeExecutor{
		fn: func(string) (target.ExecResult, error) {
			return target.ExecResult{ExitCode: 101, Output: "test panicked"}, nil
		},
	}
	engine := NewEngine(zerolog.Nop(), exec, Options{Arch: model.ArchX86_64, Policy: crates.Policy{}})

	plan := engine.Plan([]model.Executable{testBinary("a", "a_tests")})
	results := drain(engine.Run(context.Background(), plan))
	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
	assert.Equal(t, "test panicked", results[0].Log)
}

func TestRunSpawnErrorBecomesFailedResult(t *testing.T) {
	exec := &fakeExecutor{
		fn: func(string) (target.ExecResult, error) {
			return target.ExecResult{}, errors.New("scp: connection refused")
		},
	}
	engine := NewEngine(zerolog.Nop(), exec, Options{Arch: model.ArchX86_64, Policy: crates.Policy{}})

	plan := engine.Plan([]model.Executable{testBinary("a", "a_tests")})
	results := drain(engine.Run(context.Background(), plan))
	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
	assert.Contains(t, results[0].Log, "connection refused")
}
