package cargo

// Package cargo drives the external cargo toolchain and turns its streaming
// JSON build log into Executable values. Diagnostics are buffered and only
// replayed when a build fails, unless verbose mode streams them live.

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"

	"github.com/cargorun/cargorun/model"
)

// Cargo emits multi-line rendered diagnostics as single JSON records.
const maxLineSize = 1024 * 1024

// BuildOptions configures one build-and-collect pass over a set of crates.
type BuildOptions struct {
	// Working directory for the cargo invocation
	Dir string
	// Crates to build, passed as -p flags. Empty builds the package in Dir.
	Crates []string
	// Feature set, passed with --no-default-features when non-empty
	Features []string
	// Extra KEY=VALUE entries appended to the environment
	Env []string
}

// Driver invokes cargo and parses its build log.
type Driver struct {
	logger  zerolog.Logger
	verbose bool
	stdout  io.Writer
}

// NewDriver creates a build driver. Diagnostics are written to out, live in
// verbose mode or replayed on failure otherwise.
func NewDriver(logger zerolog.Logger, verbose bool, out io.Writer) *Driver {
	if out == nil {
		out = os.Stdout
	}
	return &Driver{
		logger:  logger,
		verbose: verbose,
		stdout:  out,
	}
}

// BuildExecutables runs a plain build pass followed by a test build pass
// (--no-run) and sends every produced binary on out as soon as cargo reports
// it. The plain pass runs first so compile errors in non-test code surface
// on their own. A non-zero cargo exit is fatal to the run.
func (d *Driver) BuildExecutables(ctx context.Context, opts BuildOptions, out chan<- model.Executable) error {
	var flags []string
	if len(opts.Features) > 0 {
		flags = append(flags, "--no-default-features", "--features", strings.Join(opts.Features, ","))
	}
	for _, crate := range opts.Crates {
		flags = append(flags, "-p", crate)
	}

	if err := d.run(ctx, "build", flags, opts, out); err != nil {
		return err
	}
	return d.run(ctx, "test", append([]string{"--no-run"}, flags...), opts, out)
}

func (d *Driver) run(ctx context.Context, command string, flags []string, opts BuildOptions, out chan<- model.Executable) error {
	args := []string{command, "--message-format=json-diagnostic-rendered-ansi"}
	args = append(args, flags...)

	cmd := exec.CommandContext(ctx, "cargo", args...)
	cmd.Dir = opts.Dir
	if len(opts.Env) > 0 {
		cmd.Env = append(os.Environ(), opts.Env...)
	}

	// Merge stderr into the stdout stream, the log protocol interleaves
	// plain diagnostics with JSON records on both.
	pr, pw, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("failed to create log pipe: %w", err)
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	d.logger.Debug().
		Str("command", cmd.String()).
		Str("dir", opts.Dir).
		Msg("Invoking cargo")

	if err := cmd.Start(); err != nil {
		pw.Close()
		pr.Close()
		return fmt.Errorf("failed to start cargo: %w", err)
	}
	pw.Close()

	messages, scanErr := d.consume(pr, out)
	if scanErr != nil {
		// Keep draining so cargo never blocks on a full pipe before Wait.
		io.Copy(io.Discard, pr)
	}
	pr.Close()

	if err := cmd.Wait(); err != nil {
		// The buffer holds everything that was suppressed in quiet mode.
		if !d.verbose {
			for _, msg := range messages {
				fmt.Fprintln(d.stdout, msg)
			}
		}
		return fmt.Errorf("cargo %s failed: %w", command, err)
	}
	if scanErr != nil {
		return fmt.Errorf("failed to read cargo output: %w", scanErr)
	}
	return nil
}

// consume scans the build log line by line as cargo runs. Plain lines and
// rendered compiler messages accumulate in the returned buffer; executable
// records are sent downstream immediately so consumers can start acting on
// early results while the build continues.
func (d *Driver) consume(r io.Reader, out chan<- model.Executable) ([]string, error) {
	var messages []string

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := scanner.Text()

		if !strings.HasPrefix(line, "{") {
			messages = append(messages, line)
			if d.verbose {
				fmt.Fprintln(d.stdout, line)
			}
			continue
		}

		var msg buildMessage
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			// Not part of the protocol, treat like a plain line.
			messages = append(messages, line)
			if d.verbose {
				fmt.Fprintln(d.stdout, line)
			}
			continue
		}

		switch {
		case msg.Message != nil:
			messages = append(messages, msg.Message.Rendered)
			if d.verbose {
				fmt.Fprint(d.stdout, msg.Message.Rendered)
			}
		case msg.Executable != "":
			exe := model.Executable{
				Path:      msg.Executable,
				CrateName: msg.crateName(),
				IsTest:    msg.Profile != nil && msg.Profile.Test,
				Fresh:     msg.Fresh,
			}
			if msg.Target != nil {
				exe.Target = msg.Target.Name
			}
			d.logger.Debug().
				Str("binary", exe.Path).
				Str("name", exe.Name()).
				Bool("test", exe.IsTest).
				Msg("Collected executable")
			out <- exe
		}
	}

	return messages, scanner.Err()
}
