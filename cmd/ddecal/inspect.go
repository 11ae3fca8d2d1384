package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/ddecal/go-controller/internal/logging"
	"github.com/danielpatrickdp/ddecal/go-controller/internal/store"
)

// #region inspect-cmd
var (
	inspectDB       string
	inspectLast     int
	inspectRun      string
	inspectActivate string
	inspectJSON     bool
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "List stored runs and their constraint results",
	Long: `Inspect reads the run database written by solve.

Without --run it lists the most recent runs. With --run it shows one run,
its constraint results and its iteration log. --activate points the active
run, which seeds the next solve, at an earlier run.`,
	RunE: runInspect,
}

func init() {
	inspectCmd.Flags().StringVar(&inspectDB, "db", "", "run database")
	inspectCmd.Flags().IntVar(&inspectLast, "last", 20, "show N most recent runs")
	inspectCmd.Flags().StringVar(&inspectRun, "run", "", "show a single run")
	inspectCmd.Flags().StringVar(&inspectActivate, "activate", "", "make this run the active run")
	inspectCmd.Flags().BoolVar(&inspectJSON, "json", false, "output as JSON instead of table")
}

func runInspect(cmd *cobra.Command, args []string) error {
	if inspectDB == "" {
		return usageError(errors.New("usage: ddecal inspect --db path/to/ddecal.db [--last N] [--run id] [--activate id] [--json]"))
	}
	st, err := store.NewStore(inspectDB)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer st.Close()

	if inspectActivate != "" {
		if err := st.SetActive(inspectActivate); err != nil {
			return err
		}
		fmt.Printf("active run: %s\n", inspectActivate)
		return nil
	}
	if inspectRun != "" {
		return runDetailMode(st, inspectRun, inspectJSON)
	}
	return runListMode(st, inspectLast, inspectJSON)
}

// #endregion inspect-cmd

// #region list-mode
type listRow struct {
	RunID      string  `json:"run_id"`
	Mode       string  `json:"mode"`
	Time       float64 `json:"time"`
	Iterations int     `json:"iterations"`
	Converged  bool    `json:"converged"`
	Flagged    int     `json:"flagged"`
	GainNorm   float64 `json:"gain_norm"`
	Active     bool    `json:"active"`
	CreatedAt  string  `json:"created_at"`
}

func runListMode(st *store.Store, last int, jsonOut bool) error {
	runs, err := st.ListRuns(last)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(os.Stderr, "no runs found")
		return nil
	}
	var activeID string
	if active, err := st.GetActive(); err == nil {
		activeID = active.RunID
	}

	// Store returns newest first; print chronologically.
	rows := make([]listRow, len(runs))
	for i, r := range runs {
		rows[len(runs)-1-i] = listRow{
			RunID:      r.RunID,
			Mode:       r.Mode,
			Time:       r.Time,
			Iterations: r.Iterations,
			Converged:  r.Converged,
			Flagged:    r.Flagged,
			GainNorm:   gainNorm(r.Solutions),
			Active:     r.RunID == activeID,
			CreatedAt:  r.CreatedAt.Format("2006-01-02T15:04:05Z"),
		}
	}
	if jsonOut {
		return printJSON(rows)
	}

	fmt.Printf("%-12s  %-18s  %12s  %5s  %-5s  %7s  %10s  %s\n",
		"Run", "Mode", "Time", "Iter", "Conv", "Flagged", "Gain Norm", "Created")
	fmt.Printf("%-12s+-%-18s+-%12s+-%5s+-%-5s+-%7s+-%10s+-%s\n",
		"------------", "------------------", "------------", "-----", "-----", "-------", "----------", "--------------------")
	for _, r := range rows {
		id := shortID(r.RunID)
		if r.Active {
			id += "*"
		}
		fmt.Printf("%-12s  %-18s  %12.2f  %5d  %-5v  %7d  %10.4f  %s\n",
			id, r.Mode, r.Time, r.Iterations, r.Converged, r.Flagged, r.GainNorm, r.CreatedAt)
	}
	fmt.Println("\n* active run")
	return nil
}

// #endregion list-mode

// #region detail-mode
type detailOutput struct {
	RunID      string          `json:"run_id"`
	ParentID   string          `json:"parent_id,omitempty"`
	Mode       string          `json:"mode"`
	Time       float64         `json:"time"`
	Dims       []int           `json:"dims"`
	Iterations int             `json:"iterations"`
	Converged  bool            `json:"converged"`
	Flagged    int             `json:"flagged"`
	CreatedAt  string          `json:"created_at"`
	Results    []resultSummary `json:"results"`
	Steps      []iterationRow  `json:"iterations_log"`
}

type resultSummary struct {
	Constraint string  `json:"constraint"`
	Name       string  `json:"name"`
	Axes       string  `json:"axes"`
	Dims       []int   `json:"dims"`
	Min        float64 `json:"min"`
	Max        float64 `json:"max"`
}

type iterationRow struct {
	Iteration int      `json:"iteration"`
	Step      *float64 `json:"step,omitempty"`
	Satisfied bool     `json:"satisfied"`
	Converged bool     `json:"converged"`
	Reason    string   `json:"reason,omitempty"`
}

func runDetailMode(st *store.Store, runID string, jsonOut bool) error {
	run, err := st.GetRun(runID)
	if err != nil {
		return err
	}
	results, err := st.GetResults(runID)
	if err != nil {
		return err
	}
	steps, err := logging.ListIterations(st.DB(), runID)
	if err != nil {
		return err
	}

	out := detailOutput{
		RunID:      run.RunID,
		ParentID:   run.ParentID,
		Mode:       run.Mode,
		Time:       run.Time,
		Dims:       run.Shape.Dims(),
		Iterations: run.Iterations,
		Converged:  run.Converged,
		Flagged:    run.Flagged,
		CreatedAt:  run.CreatedAt.Format("2006-01-02T15:04:05Z"),
	}
	for _, rr := range results {
		lo, hi := valueRange(rr.Result.Vals)
		out.Results = append(out.Results, resultSummary{
			Constraint: rr.Constraint,
			Name:       rr.Result.Name,
			Axes:       rr.Result.Axes,
			Dims:       rr.Result.Dims,
			Min:        lo,
			Max:        hi,
		})
	}
	for _, e := range steps {
		row := iterationRow{Iteration: e.Iteration, Satisfied: e.Satisfied, Converged: e.Converged, Reason: e.Reason}
		if !math.IsNaN(e.StepMagnitude) {
			step := e.StepMagnitude
			row.Step = &step
		}
		out.Steps = append(out.Steps, row)
	}

	if jsonOut {
		return printJSON(out)
	}

	fmt.Printf("Run:        %s\n", out.RunID)
	if out.ParentID != "" {
		fmt.Printf("Parent:     %s\n", out.ParentID)
	}
	fmt.Printf("Mode:       %s\n", out.Mode)
	fmt.Printf("Time:       %.3f\n", out.Time)
	fmt.Printf("Dims:       %v\n", out.Dims)
	fmt.Printf("Iterations: %d (converged=%v)\n", out.Iterations, out.Converged)
	fmt.Printf("Flagged:    %d\n", out.Flagged)
	fmt.Printf("Created:    %s\n", out.CreatedAt)

	fmt.Printf("\nResults:\n")
	if len(out.Results) == 0 {
		fmt.Println("  (none)")
	}
	for _, r := range out.Results {
		fmt.Printf("  %-20s %-12s %-6s %-14v [%.4g, %.4g]\n", r.Constraint, r.Name, r.Axes, r.Dims, r.Min, r.Max)
	}

	fmt.Printf("\nIterations:\n")
	for _, s := range out.Steps {
		step := "-"
		if s.Step != nil {
			step = fmt.Sprintf("%.3e", *s.Step)
		}
		fmt.Printf("  %4d  %10s  satisfied=%-5v converged=%-5v %s\n", s.Iteration, step, s.Satisfied, s.Converged, s.Reason)
	}
	return nil
}

// #endregion detail-mode

// #region helpers
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// gainNorm is the RMS amplitude of the finite solutions.
func gainNorm(v []complex128) float64 {
	var sum float64
	var n int
	for _, c := range v {
		a := math.Hypot(real(c), imag(c))
		if math.IsNaN(a) || math.IsInf(a, 0) {
			continue
		}
		sum += a * a
		n++
	}
	if n == 0 {
		return 0
	}
	return math.Sqrt(sum / float64(n))
}

// valueRange returns the smallest and largest finite value, or zeros when
// there are none.
func valueRange(v []float64) (float64, float64) {
	lo, hi := math.NaN(), math.NaN()
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			continue
		}
		if math.IsNaN(lo) || x < lo {
			lo = x
		}
		if math.IsNaN(hi) || x > hi {
			hi = x
		}
	}
	if math.IsNaN(lo) {
		return 0, 0
	}
	return lo, hi
}

// #endregion helpers
