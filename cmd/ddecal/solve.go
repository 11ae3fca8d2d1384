package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/danielpatrickdp/ddecal/go-controller/internal/codec"
	"github.com/danielpatrickdp/ddecal/go-controller/internal/config"
	"github.com/danielpatrickdp/ddecal/go-controller/internal/logging"
	"github.com/danielpatrickdp/ddecal/go-controller/internal/replay"
	"github.com/danielpatrickdp/ddecal/go-controller/internal/solver"
	"github.com/danielpatrickdp/ddecal/go-controller/internal/store"
)

// #region solve-cmd
var (
	solveScenario    string
	solveSettings    string
	solveDB          string
	solveStepperAddr string
	solveTimings     bool
)

var solveCmd = &cobra.Command{
	Use:   "solve",
	Short: "Solve every interval of a scenario and store the runs",
	Long: `Solve reads a scenario (the replay fixture format: settings, antennas,
directions, frequencies and intervals), solves each interval and commits the
solutions and constraint results to the run database.

The inner step comes from --stepper-addr when given, otherwise from each
interval's target.

Examples:
  ddecal solve --scenario session.yaml --db ddecal.db
  ddecal solve --scenario session.yaml --settings tec.yaml --stepper-addr localhost:7071`,
	RunE: runSolve,
}

func init() {
	solveCmd.Flags().StringVar(&solveScenario, "scenario", "", "scenario file (JSON or YAML)")
	solveCmd.Flags().StringVar(&solveSettings, "settings", "", "settings YAML replacing the scenario settings")
	solveCmd.Flags().StringVar(&solveDB, "db", "ddecal.db", "run database")
	solveCmd.Flags().StringVar(&solveStepperAddr, "stepper-addr", "", "address of a remote step service")
	solveCmd.Flags().BoolVar(&solveTimings, "timings", false, "print time spent per constraint")
}

// #endregion solve-cmd

// #region solve-run
func runSolve(cmd *cobra.Command, args []string) error {
	if solveScenario == "" {
		return usageError(errors.New("usage: ddecal solve --scenario path/to/scenario.yaml [--settings settings.yaml] [--db ddecal.db] [--stepper-addr host:port]"))
	}

	f, err := replay.LoadFixture(solveScenario)
	if err != nil {
		return fmt.Errorf("load scenario: %w", err)
	}
	if solveSettings != "" {
		s, err := config.Load(solveSettings)
		if err != nil {
			return err
		}
		f.Settings = s
	}
	intervals, err := f.ToIntervals()
	if err != nil {
		return fmt.Errorf("scenario intervals: %w", err)
	}

	st, err := store.NewStore(solveDB)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer st.Close()

	// Run IDs are fixed up front so iteration rows can reference them.
	runIDs := make(map[string]string, len(intervals))
	for _, iv := range intervals {
		runIDs[iv.ID] = store.NewRunID()
	}

	cfg := f.ToReplayConfig()
	cfg.Logger = logger
	cfg.Observer = func(id string, r solver.IterationReport) {
		if err := logging.LogIteration(st.DB(), logging.EntryFromReport(runIDs[id], r)); err != nil {
			logger.Warn("iteration log failed", zap.String("interval", id), zap.Error(err))
		}
	}
	if solveStepperAddr != "" {
		client, err := codec.NewStepClient(solveStepperAddr)
		if err != nil {
			return fmt.Errorf("connect stepper: %w", err)
		}
		defer client.Close()
		cfg.Stepper = client
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	start := time.Now()
	results, err := replay.Replay(ctx, cfg, intervals)
	if err != nil {
		return err
	}

	settingsJSON, err := json.Marshal(f.Settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	fmt.Printf("%-12s| %-36s| %-15s| %s\n", "Interval", "Run", "Outcome", "Iterations")
	fmt.Printf("%-12s+%-37s+%-16s+%s\n", "------------", "-------------------------------------", "----------------", "----------")
	var parent string
	for i, r := range results {
		rec, err := st.CommitRun(store.RunRecord{
			RunID:        runIDs[r.ID],
			ParentID:     parent,
			Mode:         string(f.Settings.Mode),
			Time:         intervals[i].Time,
			Shape:        r.Solutions.Shape(),
			Solutions:    r.Solutions.Data(),
			Iterations:   r.Iterations,
			Converged:    r.Outcome == replay.OutcomeConverged,
			SettingsJSON: string(settingsJSON),
		}, r.Results)
		if err != nil {
			return fmt.Errorf("commit interval %s: %w", r.ID, err)
		}
		fmt.Printf("%-12s| %-36s| %-15s| %d\n", r.ID, rec.RunID, r.Outcome, r.Iterations)
		if r.Outcome == replay.OutcomeDiverged {
			fmt.Fprintf(os.Stderr, "interval %s: %s\n", r.ID, r.Reason)
		}
		if cfg.PropagateSolutions && r.Outcome != replay.OutcomeDiverged {
			parent = rec.RunID
		}
	}

	sum := replay.Summarize(results)
	fmt.Printf("\nSummary: %d total, %d converged, %d max_iterations, %d stalled, %d diverged\n",
		sum.TotalIntervals, sum.Converged, sum.MaxIterations, sum.Stalled, sum.Diverged)

	if solveTimings {
		fmt.Printf("\nTotal solve time: %s\n", time.Since(start).Round(time.Millisecond))
		for _, r := range results {
			fmt.Printf("[%s]\n%s", r.ID, r.Timings)
		}
	}
	if sum.Diverged > 0 {
		return &exitError{code: 1, err: fmt.Errorf("%d intervals diverged", sum.Diverged)}
	}
	return nil
}

// #endregion solve-run
