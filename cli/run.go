package cli

// This file contains the end-to-end test run orchestration: resolve the
// execution target, discover and filter crates, build, prepare the target
// and execute the test binaries.

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/cargorun/cargorun/cargo"
	"github.com/cargorun/cargorun/crates"
	"github.com/cargorun/cargorun/model"
	"github.com/cargorun/cargorun/runner"
	"github.com/cargorun/cargorun/target"
)

func (a *App) runTests(ctx *cli.Context) error {
	verbose := ctx.Bool("verbose")

	root, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to determine workspace root: %w", err)
	}

	// Resolve the execution target and the architecture to build for.
	var tgt target.Target
	if s := ctx.String("target"); s != "" {
		tgt, err = target.Parse(s)
	} else {
		tgt, err = target.Default(root)
	}
	if err != nil {
		return err
	}
	a.logger.Info().Str("target", tgt.String()).Msg("Test target")

	arch, err := tgt.Arch(ctx.String("arch"))
	if err != nil {
		return err
	}
	a.logger.Info().Str("arch", string(arch)).Msg("Building for architecture")

	// Discover crates and validate the policy before any build work.
	mainCrates, err := crates.ListMain(root)
	if err != nil {
		return err
	}
	commonCrates, err := crates.ListCommon(root)
	if err != nil {
		return err
	}

	policy, err := crates.LoadPolicy(root)
	if err != nil {
		return err
	}
	known := append(crates.Names(mainCrates), crates.Names(commonCrates)...)
	warnings, err := policy.Validate(known)
	if err != nil {
		return err
	}
	for _, warning := range warnings {
		a.logger.Warn().Msg(warning)
	}

	// Detailed crash backtraces for every binary spawned during this run.
	os.Setenv("RUST_BACKTRACE", "1")

	// The VM must be up before tests execute; boot is idempotent.
	if tgt.Kind == target.KindVM {
		vms := target.NewVMManager(a.logger, root)
		if err := vms.Boot(ctx.Context, tgt.VMArch); err != nil {
			return err
		}
	}

	driver := cargo.NewDriver(a.logger, verbose, os.Stdout)
	executables, err := a.buildAll(ctx.Context, driver, buildConfig{
		Root:     root,
		Main:     mainCrates,
		Common:   commonCrates,
		Policy:   policy,
		Arch:     arch,
		Features: ctx.StringSlice("features"),
	})
	if err != nil {
		return err
	}

	if ctx.Bool("build-only") {
		fmt.Println("Not running tests as requested.")
		return nil
	}

	session, err := target.NewSession(a.logger, tgt)
	if err != nil {
		return err
	}
	defer session.Close()

	// Stage the primary binary, integration tests execute it directly.
	primary, err := findPrimaryBinary(executables, mainCrates[0].Name)
	if err != nil {
		return err
	}
	if err := session.Prepare(primary.Path); err != nil {
		return err
	}

	engine := runner.NewEngine(a.logger, session, runner.Options{
		Arch:   arch,
		Policy: policy,
		Repeat: ctx.Int("repeat"),
	})
	plan := engine.Plan(executables)

	reporter := runner.NewReporter(os.Stdout, verbose)
	reporter.Header(len(plan), tgt.String())
	results := reporter.Consume(engine.Run(ctx.Context, plan))
	if err := reporter.Summarize(results); err != nil {
		return cli.Exit("", 1)
	}
	return nil
}

func (a *App) setTarget(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return fmt.Errorf("usage: %s set-target <host | vm:ARCH | ssh:HOST>", AppName)
	}
	tgt, err := target.Parse(ctx.Args().First())
	if err != nil {
		return err
	}
	root, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to determine workspace root: %w", err)
	}
	if err := target.SetDefault(root, tgt); err != nil {
		return err
	}
	a.logger.Info().Str("target", tgt.String()).Msg("Default test target updated")
	return nil
}

type buildConfig struct {
	Root     string
	Main     []crates.Crate
	Common   []crates.Crate
	Policy   crates.Policy
	Arch     model.Arch
	Features []string
}

// buildAll compiles the eligible main crates in one cargo invocation, then
// the common crate groups in parallel, collecting executables as the build
// logs stream in. Any build failure aborts the run.
func (a *App) buildAll(ctx context.Context, driver *cargo.Driver, cfg buildConfig) ([]model.Executable, error) {
	env := target.CargoEnv(cfg.Arch)

	out := make(chan model.Executable)
	var collected []model.Executable
	done := make(chan struct{})
	go func() {
		defer close(done)
		for exe := range out {
			collected = append(collected, exe)
		}
	}()

	eligible := crates.Names(buildable(cfg.Main, cfg.Policy, cfg.Arch))

	a.logger.Info().Strs("crates", eligible).Msg("Building tests")
	buildErr := driver.BuildExecutables(ctx, cargo.BuildOptions{
		Dir:      cfg.Root,
		Crates:   eligible,
		Features: cfg.Features,
		Env:      env,
	}, out)

	if buildErr == nil {
		groups := buildable(cfg.Common, cfg.Policy, cfg.Arch)

		groupErrs := runner.Map(ctx, runner.DefaultParallelism, groups, func(ctx context.Context, crate crates.Crate) error {
			a.logger.Info().Str("crate", crates.CommonDir+"/"+crate.Name).Msg("Building tests")
			return driver.BuildExecutables(ctx, cargo.BuildOptions{
				Dir: crate.Dir,
				Env: env,
			}, out)
		})
		for err := range groupErrs {
			if err != nil && buildErr == nil {
				buildErr = err
			}
		}
	}

	close(out)
	<-done

	if buildErr != nil {
		return nil, buildErr
	}
	return collected, nil
}

// buildable filters the crate list through the build policy for arch. Crates
// dropped here are never submitted to the build driver.
func buildable(list []crates.Crate, policy crates.Policy, arch model.Arch) []crates.Crate {
	var out []crates.Crate
	for _, crate := range list {
		if policy.ShouldBuild(crate.Name, arch) {
			out = append(out, crate)
		}
	}
	return out
}

// findPrimaryBinary locates the workspace's main non-test binary among the
// build products.
func findPrimaryBinary(executables []model.Executable, primaryCrate string) (model.Executable, error) {
	for _, exe := range executables {
		if !exe.IsTest && exe.Target == primaryCrate {
			return exe, nil
		}
	}
	return model.Executable{}, fmt.Errorf("cannot find the %s binary among the build products", primaryCrate)
}
