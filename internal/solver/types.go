package solver

import (
	"context"
	"errors"

	"github.com/danielpatrickdp/ddecal/go-controller/internal/constraint"
	"github.com/danielpatrickdp/ddecal/go-controller/internal/eval"
	"github.com/danielpatrickdp/ddecal/go-controller/internal/solutions"
)

var (
	// ErrDiverged is returned when the solutions fail the health check.
	ErrDiverged = errors.New("solutions diverged")
	// ErrNoStepper is returned by Solve when no Stepper has been set.
	ErrNoStepper = errors.New("solver has no stepper")
)

// #region stepper
// Stepper computes the unconstrained next estimate for one channel block.
// current and next are single-channel-block views; Step must only read
// current and only write next. Calls for different channel blocks run
// concurrently.
type Stepper interface {
	Step(ctx context.Context, channelBlock int, current, next solutions.Span) error
}

// StepperFunc adapts a function to the Stepper interface.
type StepperFunc func(ctx context.Context, channelBlock int, current, next solutions.Span) error

// Step calls f.
func (f StepperFunc) Step(ctx context.Context, channelBlock int, current, next solutions.Span) error {
	return f(ctx, channelBlock, current, next)
}

// #endregion stepper

// #region config
// Config holds the iteration parameters of a Solver.
type Config struct {
	NPolarizations int     // 1 scalar, 2 diagonal, 4 full-Jones
	MaxIterations  int     // hard cap on outer iterations
	Tolerance      float64 // relative step size below which precision is reached
	StepSize       float64 // damping of each update, in (0, 1]
	DetectStalling bool    // stop when the step size no longer changes
	NThreads       int     // channel blocks stepped in parallel (0 = unlimited)
	Eval           eval.EvalConfig
}

// DefaultConfig returns sensible defaults for a scalar solve.
func DefaultConfig() Config {
	return Config{
		NPolarizations: 1,
		MaxIterations:  50,
		Tolerance:      1e-5,
		StepSize:       0.2,
		Eval:           eval.DefaultEvalConfig(),
	}
}

// #endregion config

// #region outcome
// ConstraintResults are the Results one constraint returned in the last iteration.
type ConstraintResults struct {
	Constraint string
	Results    []constraint.Result
}

// Outcome summarizes a Solve call.
type Outcome struct {
	Iterations     int
	Converged      bool
	Stalled        bool
	StepMagnitudes []float64
	Results        []ConstraintResults
}

// IterationReport is passed to the observer after every completed iteration.
type IterationReport struct {
	Iteration     int
	StepMagnitude float64
	Satisfied     bool
	Converged     bool
	Health        eval.EvalResult
}

// #endregion outcome
