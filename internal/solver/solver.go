package solver

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/danielpatrickdp/ddecal/go-controller/internal/constraint"
	"github.com/danielpatrickdp/ddecal/go-controller/internal/eval"
	"github.com/danielpatrickdp/ddecal/go-controller/internal/solutions"
)

// #region solver
// Solver owns the iteration loop: it steps every channel block, damps the
// update, and then runs its constraints in registration order.
type Solver struct {
	config      Config
	logger      *zap.Logger
	stepper     Stepper
	health      *eval.EvalHarness
	constraints []constraint.Constraint
	applyTime   []time.Duration
	observer    func(IterationReport)
}

// New creates a solver. A nil logger disables logging.
func New(config Config, logger *zap.Logger) *Solver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Solver{
		config: config,
		logger: logger.With(zap.String("component", "solver")),
		health: eval.NewEvalHarness(config.Eval),
	}
}

// Config returns the iteration parameters.
func (s *Solver) Config() Config { return s.config }

// NSolutionPolarizations is the number of polarizations per gain this solver handles.
func (s *Solver) NSolutionPolarizations() int { return s.config.NPolarizations }

// SetStepper sets the inner step used by Solve.
func (s *Solver) SetStepper(stepper Stepper) { s.stepper = stepper }

// SetObserver registers a callback invoked after every completed iteration.
func (s *Solver) SetObserver(fn func(IterationReport)) { s.observer = fn }

// AddConstraints appends constraints. They are applied in the order added.
func (s *Solver) AddConstraints(cs ...constraint.Constraint) {
	s.constraints = append(s.constraints, cs...)
	s.applyTime = append(s.applyTime, make([]time.Duration, len(cs))...)
}

// Constraints returns the registered constraints in application order.
func (s *Solver) Constraints() []constraint.Constraint { return s.constraints }

// SetWeights hands flat per-antenna, per-channel-block weights to every
// registered constraint. Call it after the constraints are initialized.
func (s *Solver) SetWeights(weights []float64) {
	for _, c := range s.constraints {
		c.SetWeights(weights)
	}
}

// SetSubSolutionWeights hands per-sub-solution weights to every registered constraint.
func (s *Solver) SetSubSolutionWeights(weights [][]float64) {
	for _, c := range s.constraints {
		c.SetSubSolutionWeights(weights)
	}
}

// #endregion solver

// #region solve
// Solve iterates until the solutions have converged with every constraint
// satisfied on two consecutive iterations, the solutions stall, or the
// iteration cap is reached. sol is updated in place.
func (s *Solver) Solve(ctx context.Context, sol solutions.Span, t float64, stats io.Writer) (Outcome, error) {
	var out Outcome
	if s.stepper == nil {
		return out, ErrNoStepper
	}
	if p := sol.Shape().NPolarizations; p != s.config.NPolarizations {
		return out, fmt.Errorf("%w: solver handles %d polarizations, solutions have %d",
			solutions.ErrShapeMismatch, s.config.NPolarizations, p)
	}

	next := solutions.Allocate(sol.Shape())
	var precisionReached, previouslyConverged bool

	for iteration := 0; iteration < s.config.MaxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		// 1. Unconstrained step per channel block
		if err := s.step(ctx, sol, next); err != nil {
			return out, fmt.Errorf("iteration %d: %w", iteration, err)
		}
		magnitude := dampedUpdate(sol, next, s.config.StepSize)
		out.StepMagnitudes = append(out.StepMagnitudes, magnitude)
		reached := magnitude <= s.config.Tolerance
		precisionReached = precisionReached || reached

		// 2. Every constraint prepares before any applies
		finalIter := iteration+1 >= s.config.MaxIterations
		for _, c := range s.constraints {
			c.PrepareIteration(precisionReached, iteration, finalIter)
		}

		// 3. Apply sequentially; later constraints see earlier ones' writes
		satisfied, results, err := s.applyConstraints(sol, t, stats)
		if err != nil {
			return out, fmt.Errorf("iteration %d: %w", iteration, err)
		}
		out.Results = results
		out.Iterations = iteration + 1
		solverIterations.Inc()

		// 4. Health check
		health := s.health.Run(sol)
		converged := reached && satisfied
		if s.observer != nil {
			s.observer(IterationReport{
				Iteration:     iteration,
				StepMagnitude: magnitude,
				Satisfied:     satisfied,
				Converged:     converged,
				Health:        health,
			})
		}
		if !health.Passed {
			solverDiverged.Inc()
			if stats != nil {
				fmt.Fprintf(stats, "solver: iteration %d: %s\n", iteration, health.Reason)
			}
			s.logger.Warn("solutions diverged",
				zap.Int("iteration", iteration),
				zap.Int("non_finite", health.NonFinite),
				zap.String("reason", health.Reason))
			return out, fmt.Errorf("%w: iteration %d: %s", ErrDiverged, iteration, health.Reason)
		}

		s.logger.Debug("iteration",
			zap.Int("iteration", iteration),
			zap.Float64("step", magnitude),
			zap.Bool("satisfied", satisfied))

		// 5. Stop only after one more iteration past first convergence
		if converged && previouslyConverged {
			out.Converged = true
			break
		}
		previouslyConverged = previouslyConverged || converged

		if s.config.DetectStalling && isStalled(out.StepMagnitudes, s.config.StepSize) {
			out.Stalled = true
			break
		}
	}

	s.logger.Info("solve finished",
		zap.Int("iterations", out.Iterations),
		zap.Bool("converged", out.Converged),
		zap.Bool("stalled", out.Stalled))
	return out, nil
}

// step runs the stepper for every channel block in parallel. Channel block
// views are disjoint, so the writes into next never overlap.
func (s *Solver) step(ctx context.Context, sol, next solutions.Span) error {
	g, gctx := errgroup.WithContext(ctx)
	if s.config.NThreads > 0 {
		g.SetLimit(s.config.NThreads)
	}
	for ch := 0; ch < sol.Shape().NChannelBlocks; ch++ {
		g.Go(func() error {
			if err := s.stepper.Step(gctx, ch, sol.ChannelBlock(ch), next.ChannelBlock(ch)); err != nil {
				return fmt.Errorf("step channel block %d: %w", ch, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (s *Solver) applyConstraints(sol solutions.Span, t float64, stats io.Writer) (bool, []ConstraintResults, error) {
	satisfied := true
	results := make([]ConstraintResults, 0, len(s.constraints))
	for i, c := range s.constraints {
		start := time.Now()
		res, err := c.Apply(sol, t, stats)
		elapsed := time.Since(start)
		s.applyTime[i] += elapsed
		constraintApplySeconds.WithLabelValues(c.Name()).Observe(elapsed.Seconds())
		if err != nil {
			return false, nil, fmt.Errorf("apply %s: %w", c.Name(), err)
		}
		if !c.Satisfied() {
			satisfied = false
		}
		results = append(results, ConstraintResults{Constraint: c.Name(), Results: res})
	}
	return satisfied, results, nil
}

// #endregion solve

// #region timings
// GetTimings writes the time spent in each constraint relative to duration.
// A constraint that panics while reporting is logged and skipped.
func (s *Solver) GetTimings(w io.Writer, duration time.Duration) {
	if w == nil {
		return
	}
	for i, c := range s.constraints {
		fmt.Fprintf(w, "solver: %s applied for %s\n", c.Name(), s.applyTime[i])
		s.constraintTimings(c, w, duration)
	}
}

func (s *Solver) constraintTimings(c constraint.Constraint, w io.Writer, duration time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("constraint timings panicked",
				zap.String("constraint", c.Name()),
				zap.Any("panic", r))
		}
	}()
	c.GetTimings(w, duration)
}

// #endregion timings
