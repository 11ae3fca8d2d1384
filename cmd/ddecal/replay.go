package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/ddecal/go-controller/internal/replay"
)

// #region replay-cmd
var replayFixture string

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay a fixture and compare against its expected outcomes",
	Long: `Replay solves every interval of a fixture with the interval's target as
the inner step and prints a comparison against expected_results.

Exit codes: 0 when every interval matches, 1 on any mismatch, 2 on bad input.`,
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().StringVar(&replayFixture, "fixture", "", "fixture file (JSON or YAML)")
}

func runReplay(cmd *cobra.Command, args []string) error {
	if replayFixture == "" {
		return usageError(errors.New("usage: ddecal replay --fixture path/to/fixture.json"))
	}
	f, err := replay.LoadFixture(replayFixture)
	if err != nil {
		return usageError(fmt.Errorf("load fixture: %w", err))
	}
	intervals, err := f.ToIntervals()
	if err != nil {
		return usageError(err)
	}
	cfg := f.ToReplayConfig()
	cfg.Logger = logger

	results, err := replay.Replay(cmd.Context(), cfg, intervals)
	if err != nil {
		return usageError(err)
	}
	if diverge := printComparison(results, f.ExpectedResults); diverge > 0 {
		return &exitError{code: 1, err: fmt.Errorf("%d intervals diverge from the fixture", diverge)}
	}
	return nil
}

// #endregion replay-cmd

// #region output

// printComparison prints one row per interval and returns the number of
// mismatches. Intervals without an expectation count as mismatches.
func printComparison(results []replay.ReplayResult, expected []replay.FixtureExpectedResult) int {
	fmt.Printf("%-12s| %-15s| %-15s| %-11s| %s\n", "Interval", "Expected", "Replayed", "Iterations", "Match")
	fmt.Printf("%-12s+%-16s+%-16s+%-12s+%s\n",
		"------------", "----------------", "----------------", "------------", "------")

	total := len(results)
	if len(expected) > total {
		total = len(expected)
	}
	var matches int
	for i := 0; i < total; i++ {
		var exp replay.FixtureExpectedResult
		var got replay.ReplayResult
		if i < len(expected) {
			exp = expected[i]
		}
		if i < len(results) {
			got = results[i]
		}
		id := got.ID
		if id == "" {
			id = exp.ID
		}

		problems := compareResult(exp, got)
		match := "OK"
		if len(problems) > 0 {
			match = "DIFF " + strings.Join(problems, "; ")
		} else {
			matches++
		}
		fmt.Printf("%-12s| %-15s| %-15s| %-11d| %s\n", id, exp.Outcome, got.Outcome, got.Iterations, match)
		if got.Outcome == replay.OutcomeDiverged && got.Reason != "" {
			fmt.Fprintf(os.Stderr, "  %s: %s\n", id, got.Reason)
		}
	}

	diverge := total - matches
	fmt.Printf("\nSummary: %d total, %d match, %d diverge\n", total, matches, diverge)
	return diverge
}

func compareResult(exp replay.FixtureExpectedResult, got replay.ReplayResult) []string {
	var problems []string
	if exp.ID != got.ID {
		problems = append(problems, fmt.Sprintf("id %q", got.ID))
	}
	if exp.Outcome != got.Outcome {
		problems = append(problems, "outcome")
	}
	if exp.Iterations != 0 && exp.Iterations != got.Iterations {
		problems = append(problems, fmt.Sprintf("expected %d iterations", exp.Iterations))
	}
	for _, name := range exp.Results {
		if !hasResult(got, name) {
			problems = append(problems, "missing result "+name)
		}
	}
	return problems
}

func hasResult(r replay.ReplayResult, name string) bool {
	for _, cr := range r.Results {
		for _, res := range cr.Results {
			if res.Name == name {
				return true
			}
		}
	}
	return false
}

// #endregion output
