package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

const AppName = "cargorun"

const runDescription = `Runs tests for the workspace locally, in a VM or on a remote device.

To build and run all tests locally:

    $ cargorun run --target=host

To cross-compile tests for aarch64 and run them on a built-in VM:

    $ cargorun run --target=vm:aarch64

The VM will be automatically set up and booted. It remains running between
test runs.

Tests can also be run on a remote device via SSH. It is your responsibility
that runtime dependencies of the workspace are provided there.

    $ cargorun run --target=ssh:hostname

The default test target can be managed with ` + "`cargorun set-target`" + `.

To see full build and test output, add the -v or --verbose flag.`

type App struct {
	logger zerolog.Logger
	cli    *cli.App
}

func New() *App {

	// Set default log level to info
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	logger :=
		log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339Nano,
		})

	app := &App{
		logger: logger,
		cli: &cli.App{
			Name:  AppName,
			Usage: "Build and run tests for a multi-crate cargo workspace",
			Flags: []cli.Flag{
				&cli.BoolFlag{
					Name:    "verbose",
					Aliases: []string{"v"},
					Usage:   "Print all build and test output",
				},
			},
			Before: func(ctx *cli.Context) error {
				if ctx.Bool("verbose") {
					zerolog.SetGlobalLevel(zerolog.DebugLevel)
				}
				return nil
			},
		},
	}

	runFlags := []cli.Flag{
		&cli.StringFlag{
			Name:  "target",
			Usage: "Execute tests on the selected target (host | vm:ARCH | ssh:HOST)",
		},
		&cli.StringFlag{
			Name:  "arch",
			Usage: "Target architecture to build for (x86_64 | aarch64 | armhf)",
		},
		&cli.BoolFlag{
			Name:  "build-only",
			Usage: "Build test binaries without executing them",
		},
		&cli.IntFlag{
			Name:  "repeat",
			Usage: "Repeat each test N times to check for flakes",
			Value: 1,
		},
		&cli.StringSliceFlag{
			Name:  "features",
			Usage: "Build with this feature set instead of the default features",
		},
	}

	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:        "run",
		Usage:       "Build and run all tests",
		Description: runDescription,
		Action:      app.runTests,
		Flags:       runFlags,
	})
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:      "set-target",
		Usage:     "Persist the default execution target for this workspace",
		ArgsUsage: "<host | vm:ARCH | ssh:HOST>",
		Action:    app.setTarget,
	})

	// Default action when no subcommand is specified
	app.cli.Action = app.runTests
	app.cli.Flags = append(app.cli.Flags, runFlags...)

	return app
}

func (a *App) Run(args []string) error {
	return a.cli.Run(args)
}

// SetVersion sets the version information for the CLI application
func (a *App) SetVersion(version, commit, date string) {
	a.cli.Version = version
	if commit != "none" && commit != "" {
		a.cli.Version = fmt.Sprintf("%s (commit: %s, built: %s)", version, commit[:8], date)
	}
}
