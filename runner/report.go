package runner

import (
	"fmt"
	"io"

	"github.com/cargorun/cargorun/model"
)

// Reporter renders test progress and the final summary. In quiet mode each
// passing attempt prints a single progress dot; failures always print their
// full transcript, verbose mode prints every transcript.
type Reporter struct {
	out     io.Writer
	verbose bool
}

// NewReporter creates a reporter writing to out.
func NewReporter(out io.Writer, verbose bool) *Reporter {
	return &Reporter{
		out:     out,
		verbose: verbose,
	}
}

// Header announces the run before results start streaming.
func (r *Reporter) Header(attempts int, targetName string) {
	fmt.Fprintf(r.out, "Running %d test binaries on %s", attempts, targetName)
}

// Consume drains the result stream, rendering progress as results complete,
// and returns everything for the summary.
func (r *Reporter) Consume(results <-chan model.TestResult) []model.TestResult {
	var all []model.TestResult
	for result := range results {
		if !result.Success || r.verbose {
			status := "passed"
			if !result.Success {
				status = "failed"
			}
			fmt.Fprintln(r.out)
			fmt.Fprintln(r.out, "--------------------------------")
			fmt.Fprintln(r.out, "-", result.Name, status)
			fmt.Fprintln(r.out, "--------------------------------")
			fmt.Fprintln(r.out, result.Log)
		} else {
			fmt.Fprint(r.out, ".")
		}
		all = append(all, result)
	}
	fmt.Fprintln(r.out)
	return all
}

// Summarize partitions the results and prints the final verdict. It returns
// an error naming the failure count when any attempt failed, nil when the
// whole run passed.
func (r *Reporter) Summarize(results []model.TestResult) error {
	var failed []model.TestResult
	for _, result := range results {
		if !result.Success {
			failed = append(failed, result)
		}
	}

	if len(failed) == 0 {
		fmt.Fprintln(r.out, "All tests passed.")
		return nil
	}

	fmt.Fprintf(r.out, "%d of %d tests failed:\n", len(failed), len(results))
	for _, result := range failed {
		fmt.Fprintf(r.out, "  %s\n", result.Name)
	}
	return fmt.Errorf("%d of %d tests failed", len(failed), len(results))
}
