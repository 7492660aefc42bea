package runner

// Package runner executes test binaries against a resolved target under a
// bounded worker pool, with per-test timeouts and optional repetition for
// flake detection.

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/cargorun/cargorun/crates"
	"github.com/cargorun/cargorun/model"
	"github.com/cargorun/cargorun/target"
)

const (
	// DefaultTimeout kills a test to keep frozen binaries from stalling the run.
	DefaultTimeout = 60 * time.Second
	// DefaultParallelism is the worker pool size for test execution.
	DefaultParallelism = 4
)

// Executor runs one binary on the execution target. target.Session
// implements it; tests substitute fakes.
type Executor interface {
	Exec(ctx context.Context, binary string, args []string, timeout time.Duration) (target.ExecResult, error)
}

// Options configures a test execution engine.
type Options struct {
	// Architecture the binaries were built for, drives policy filtering
	Arch model.Arch
	// Per-crate run restrictions
	Policy crates.Policy
	// Per-test wall clock limit, DefaultTimeout when zero
	Timeout time.Duration
	// Worker pool size, DefaultParallelism when zero
	Parallelism int
	// Run every test binary this many times to surface flakes
	Repeat int
}

// Engine schedules test binaries onto an executor.
type Engine struct {
	logger zerolog.Logger
	exec   Executor
	opts   Options
}

// NewEngine creates an engine, applying option defaults.
func NewEngine(logger zerolog.Logger, exec Executor, opts Options) *Engine {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = DefaultParallelism
	}
	if opts.Repeat < 1 {
		opts.Repeat = 1
	}
	return &Engine{
		logger: logger,
		exec:   exec,
		opts:   opts,
	}
}

// Plan reduces the executables to the runnable test binaries and expands
// them for repetition. Repeated attempts are shuffled so reruns of the same
// binary do not execute back to back, which would mask state-dependent
// flakes.
func (e *Engine) Plan(executables []model.Executable) []model.Executable {
	var plan []model.Executable
	for _, exe := range executables {
		if !exe.IsTest {
			continue
		}
		if !e.opts.Policy.ShouldRun(exe.CrateName, e.opts.Arch) {
			e.logger.Debug().
				Str("name", exe.Name()).
				Str("arch", string(e.opts.Arch)).
				Msg("Skipping test binary per policy")
			continue
		}
		plan = append(plan, exe)
	}

	if e.opts.Repeat > 1 {
		single := plan
		plan = make([]model.Executable, 0, len(single)*e.opts.Repeat)
		for i := 0; i < e.opts.Repeat; i++ {
			plan = append(plan, single...)
		}
		rand.Shuffle(len(plan), func(i, j int) {
			plan[i], plan[j] = plan[j], plan[i]
		})
	}

	return plan
}

// Run executes the planned binaries and streams one result per attempt in
// completion order. Failures and timeouts never abort the pool, the channel
// always delivers len(plan) results.
func (e *Engine) Run(ctx context.Context, plan []model.Executable) <-chan model.TestResult {
	return Map(ctx, e.opts.Parallelism, plan, e.runOne)
}

func (e *Engine) runOne(ctx context.Context, exe model.Executable) model.TestResult {
	var args []string
	if e.opts.Policy.SingleThreaded(exe.CrateName) {
		args = append(args, "--test-threads=1")
	}

	e.logger.Debug().Str("name", exe.Name()).Msg("Running test binary")

	res, err := e.exec.Exec(ctx, exe.Path, args, e.opts.Timeout)
	if err != nil {
		// The binary could not be spawned at all; record it as a failed
		// attempt so the report stays complete.
		return model.TestResult{
			Name:    exe.Name(),
			Success: false,
			Log:     err.Error(),
		}
	}

	log := res.Output
	if res.TimedOut {
		log += fmt.Sprintf("\n\nProcess timed out after %ds\n", int(e.opts.Timeout.Seconds()))
	}

	return model.TestResult{
		Name:    exe.Name(),
		Success: !res.TimedOut && res.ExitCode == 0,
		Log:     log,
	}
}
