package replay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/ddecal/go-controller/internal/config"
	"github.com/danielpatrickdp/ddecal/go-controller/internal/factory"
	"github.com/danielpatrickdp/ddecal/go-controller/internal/solutions"
	"github.com/danielpatrickdp/ddecal/go-controller/internal/solver"
)

// Interval outcomes.
const (
	OutcomeConverged     = "converged"
	OutcomeMaxIterations = "max_iterations"
	OutcomeStalled       = "stalled"
	OutcomeDiverged      = "diverged"
)

// #region types
// Interval is one recorded solution interval for replay.
type Interval struct {
	ID     string
	Time   float64
	Target solutions.Span
}

// ReplayConfig bundles the settings and geometry of a replay run.
type ReplayConfig struct {
	Settings           config.Settings
	Antennas           []solutions.Antenna
	Directions         []solutions.Direction
	Frequencies        []float64
	PropagateSolutions bool
	Logger             *zap.Logger

	// Weights are flat per-antenna, per-channel-block constraint weights,
	// channel fastest. SubSolutionWeights, when set, take precedence.
	Weights            []float64
	SubSolutionWeights [][]float64

	// Stepper replaces the per-interval target stepper when set.
	Stepper solver.Stepper
	// Observer receives every iteration report, tagged with the interval ID.
	Observer func(intervalID string, r solver.IterationReport)
}

// Shape returns the solution shape for the configured geometry.
func (c ReplayConfig) Shape() solutions.Shape {
	nSub := 0
	for _, n := range c.Settings.SolutionsPerDirection {
		nSub += int(n)
	}
	if len(c.Settings.SolutionsPerDirection) == 0 {
		nSub = len(c.Directions)
	}
	return solutions.Shape{
		NChannelBlocks: len(c.Frequencies),
		NAntennas:      len(c.Antennas),
		NSubSolutions:  nSub,
		NPolarizations: c.Settings.Mode.NPolarizations(),
	}
}

// ReplayResult captures the outcome of solving one interval.
type ReplayResult struct {
	ID         string
	Outcome    string
	Reason     string
	Iterations int
	Results    []solver.ConstraintResults
	Solutions  solutions.Span
	Timings    string // per-constraint apply times
}

// ReplaySummary provides aggregate stats from a replay run.
type ReplaySummary struct {
	TotalIntervals int
	Converged      int
	MaxIterations  int
	Stalled        int
	Diverged       int
}

// #endregion types

// #region replay
// Replay solves every interval in order with a stepper that proposes the
// interval's target, or with cfg.Stepper when one is set. Setup and stepper
// errors abort the run; a diverged interval is recorded and the next interval
// starts from the last good solutions.
func Replay(ctx context.Context, cfg ReplayConfig, intervals []Interval) ([]ReplayResult, error) {
	names := make([]string, len(cfg.Antennas))
	positions := make([][3]float64, len(cfg.Antennas))
	for i, a := range cfg.Antennas {
		names[i] = a.Name
		positions[i] = a.Position
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	shape := cfg.Shape()
	initial := InitialSolutions(shape)
	results := make([]ReplayResult, 0, len(intervals))

	for _, iv := range intervals {
		if iv.Target.Shape() != shape {
			return results, fmt.Errorf("interval %s: %w: target %v, expected %v",
				iv.ID, solutions.ErrShapeMismatch, iv.Target.Shape().Dims(), shape.Dims())
		}

		// 1. Fresh solver and constraints per interval
		s, err := factory.CreateSolver(cfg.Settings, names, factory.WithLogger(logger))
		if err != nil {
			return results, fmt.Errorf("interval %s: %w", iv.ID, err)
		}
		if err := factory.InitializeSolverConstraints(s, cfg.Settings, positions, names, cfg.Directions, cfg.Frequencies); err != nil {
			return results, fmt.Errorf("interval %s: %w", iv.ID, err)
		}
		if len(cfg.Weights) > 0 {
			s.SetWeights(cfg.Weights)
		}
		if len(cfg.SubSolutionWeights) > 0 {
			s.SetSubSolutionWeights(cfg.SubSolutionWeights)
		}
		stepper := cfg.Stepper
		if stepper == nil {
			stepper = solver.NewTargetStepper(iv.Target)
		}
		s.SetStepper(stepper)
		if cfg.Observer != nil {
			s.SetObserver(func(r solver.IterationReport) { cfg.Observer(iv.ID, r) })
		}

		// 2. Solve
		sol := initial.Clone()
		var stats, timings strings.Builder
		start := time.Now()
		out, err := s.Solve(ctx, sol, iv.Time, &stats)
		s.GetTimings(&timings, time.Since(start))
		r := ReplayResult{
			ID:         iv.ID,
			Iterations: out.Iterations,
			Results:    out.Results,
			Solutions:  sol,
			Reason:     strings.TrimSpace(stats.String()),
			Timings:    timings.String(),
		}
		switch {
		case err != nil && ctx.Err() != nil:
			return results, err
		case errors.Is(err, solver.ErrDiverged):
			r.Outcome = OutcomeDiverged
			r.Reason = err.Error()
		case err != nil:
			return results, fmt.Errorf("interval %s: %w", iv.ID, err)
		case out.Converged:
			r.Outcome = OutcomeConverged
		case out.Stalled:
			r.Outcome = OutcomeStalled
		default:
			r.Outcome = OutcomeMaxIterations
		}
		results = append(results, r)

		// 3. Propagate good solutions to the next interval
		if cfg.PropagateSolutions && r.Outcome != OutcomeDiverged {
			initial = sol
		}
	}
	return results, nil
}

// InitialSolutions returns unit diagonal gains of the given shape.
func InitialSolutions(shape solutions.Shape) solutions.Span {
	sp := solutions.Allocate(shape)
	fillDiagonal(sp, func(int, int) complex128 { return 1 })
	return sp
}

// Summarize computes aggregate stats from replay results.
func Summarize(results []ReplayResult) ReplaySummary {
	s := ReplaySummary{TotalIntervals: len(results)}
	for _, r := range results {
		switch r.Outcome {
		case OutcomeConverged:
			s.Converged++
		case OutcomeMaxIterations:
			s.MaxIterations++
		case OutcomeStalled:
			s.Stalled++
		case OutcomeDiverged:
			s.Diverged++
		}
	}
	return s
}

// #endregion replay
