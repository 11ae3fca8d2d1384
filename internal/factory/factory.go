package factory

import (
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/ddecal/go-controller/internal/config"
	"github.com/danielpatrickdp/ddecal/go-controller/internal/constraint"
	"github.com/danielpatrickdp/ddecal/go-controller/internal/solutions"
	"github.com/danielpatrickdp/ddecal/go-controller/internal/solver"
)

// supportedAlgorithms lists the solver algorithms this build can run.
var supportedAlgorithms = map[string]bool{
	"directionsolve":     true,
	"directioniterative": true,
	"hybrid":             true,
}

// #region options
// Option customizes CreateSolver.
type Option func(*options)

type options struct {
	logger *zap.Logger
}

// WithLogger sets the logger handed to the solver.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// #endregion options

// #region create-solver
// CreateSolver returns a solver configured for the calibration mode in
// settings. It fails with config.ErrUnsupported for modes or algorithms that
// cannot be built and with config.ErrIncompatible when settings contradict
// each other or the station list.
func CreateSolver(settings config.Settings, stationNames []string, opts ...Option) (*solver.Solver, error) {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if settings.Mode == config.CalTECScreen {
		return nil, fmt.Errorf("%w: calibration mode %q needs screen fitting", config.ErrUnsupported, settings.Mode)
	}
	if !supportedAlgorithms[settings.SolverAlgorithm] {
		return nil, fmt.Errorf("%w: solver algorithm %q", config.ErrUnsupported, settings.SolverAlgorithm)
	}
	if err := checkCompatibility(settings, stationNames); err != nil {
		return nil, err
	}

	cfg := solver.DefaultConfig()
	cfg.NPolarizations = settings.Mode.NPolarizations()
	cfg.MaxIterations = settings.MaxIterations
	cfg.Tolerance = settings.Tolerance
	cfg.StepSize = settings.StepSize
	cfg.DetectStalling = settings.DetectStalling
	cfg.NThreads = settings.NThreads

	o.logger.Info("created solver",
		zap.String("component", "factory"),
		zap.String("mode", string(settings.Mode)),
		zap.String("algorithm", settings.SolverAlgorithm),
		zap.Int("polarizations", cfg.NPolarizations),
		zap.Int("stations", len(stationNames)))
	return solver.New(cfg, o.logger), nil
}

func checkCompatibility(settings config.Settings, stationNames []string) error {
	if len(stationNames) == 0 {
		return fmt.Errorf("%w: no stations", config.ErrIncompatible)
	}
	mode := settings.Mode
	if settings.ApproximateTEC && !mode.IsTECMode() {
		return fmt.Errorf("%w: approximate TEC requires a TEC mode, got %q", config.ErrIncompatible, mode)
	}
	if settings.PhaseReference && !mode.IsPhaseMode() {
		return fmt.Errorf("%w: phase reference requires a phase mode, got %q", config.ErrIncompatible, mode)
	}
	if settings.RotationDiagonalMode != "" {
		if mode != config.CalRotationAndDiagonal {
			return fmt.Errorf("%w: rotation diagonal mode requires mode %q, got %q",
				config.ErrIncompatible, config.CalRotationAndDiagonal, mode)
		}
		if _, err := constraint.ParseDiagonalMode(settings.RotationDiagonalMode); err != nil {
			return fmt.Errorf("%w: %v", config.ErrUnsupported, err)
		}
	}
	if settings.CoreConstraint > 0 && len(settings.AntennaConstraint) > 0 {
		return fmt.Errorf("%w: core constraint and antenna constraint are mutually exclusive", config.ErrIncompatible)
	}
	if settings.SmoothnessConstraint == 0 && (settings.SmoothnessRefDistance > 0 || len(settings.SmoothnessDDFactors) > 0) {
		return fmt.Errorf("%w: smoothness options set without a smoothness constraint", config.ErrIncompatible)
	}
	known := make(map[string]bool, len(stationNames))
	for _, n := range stationNames {
		known[n] = true
	}
	for gi, group := range settings.AntennaConstraint {
		for _, n := range group {
			if !known[n] {
				return fmt.Errorf("%w: antenna constraint group %d names unknown station %q", config.ErrIncompatible, gi, n)
			}
		}
	}
	return nil
}

// #endregion create-solver

// #region initialize-constraints
// InitializeSolverConstraints builds the constraints implied by settings,
// initializes them with the given geometry and registers them on s in order:
// antenna constraint, smoothness, then the constraint of the calibration mode.
// Positions and names must list the used antennas in solving order.
func InitializeSolverConstraints(
	s *solver.Solver,
	settings config.Settings,
	antennaPositions [][3]float64,
	antennaNames []string,
	sourcePositions []solutions.Direction,
	frequencies []float64,
) error {
	if len(antennaPositions) != len(antennaNames) {
		return fmt.Errorf("%w: %d antenna positions for %d antenna names",
			constraint.ErrInvalidDimensions, len(antennaPositions), len(antennaNames))
	}
	if len(antennaNames) == 0 {
		return fmt.Errorf("%w: no antennas", constraint.ErrInvalidDimensions)
	}
	if len(sourcePositions) == 0 {
		return fmt.Errorf("%w: no directions", constraint.ErrInvalidDimensions)
	}
	if len(frequencies) == 0 {
		return fmt.Errorf("%w: no channel blocks", constraint.ErrInvalidDimensions)
	}
	if p := settings.Mode.NPolarizations(); p != s.NSolutionPolarizations() {
		return fmt.Errorf("%w: mode %q needs %d polarizations, solver has %d",
			config.ErrIncompatible, settings.Mode, p, s.NSolutionPolarizations())
	}

	perDirection := settings.SolutionsPerDirection
	if len(perDirection) == 0 {
		perDirection = make([]uint32, len(sourcePositions))
		for i := range perDirection {
			perDirection[i] = 1
		}
	}
	if len(perDirection) != len(sourcePositions) {
		return fmt.Errorf("%w: %d solutions_per_direction entries for %d directions",
			config.ErrIncompatible, len(perDirection), len(sourcePositions))
	}

	var cs []constraint.Constraint

	// 1. Antenna constraint
	groups, err := antennaGroups(settings, antennaPositions, antennaNames)
	if err != nil {
		return err
	}
	if len(groups) > 0 {
		cs = append(cs, constraint.NewAntennaConstraint(groups))
	}

	// 2. Smoothness
	var smoothness *constraint.SmoothnessConstraint
	if settings.SmoothnessConstraint > 0 {
		smoothness = constraint.NewSmoothnessConstraint(settings.SmoothnessConstraint, settings.SmoothnessRefFrequency)
		cs = append(cs, smoothness)
	}

	// 3. Mode constraint
	modeConstraint, err := constraintForMode(settings)
	if err != nil {
		return err
	}
	if modeConstraint != nil {
		cs = append(cs, modeConstraint)
	}

	for _, c := range cs {
		if err := c.Initialize(len(antennaNames), perDirection, frequencies); err != nil {
			return fmt.Errorf("initialize %s: %w", c.Name(), err)
		}
	}
	if smoothness != nil {
		if settings.SmoothnessRefDistance > 0 {
			factors := distanceFactors(antennaPositions, settings.SmoothnessRefDistance)
			if err := smoothness.SetAntennaFactors(factors); err != nil {
				return fmt.Errorf("smoothness antenna factors: %w", err)
			}
		}
		if len(settings.SmoothnessDDFactors) > 0 {
			if err := smoothness.SetDirectionFactors(settings.SmoothnessDDFactors); err != nil {
				return fmt.Errorf("smoothness direction factors: %w", err)
			}
		}
	}

	s.AddConstraints(cs...)
	return nil
}

// antennaGroups resolves the antenna constraint to index groups. A core
// constraint groups every antenna within that distance of the first antenna.
func antennaGroups(settings config.Settings, positions [][3]float64, names []string) ([][]int, error) {
	if settings.CoreConstraint > 0 {
		var core []int
		for a, p := range positions {
			if distance(positions[0], p) <= settings.CoreConstraint {
				core = append(core, a)
			}
		}
		if len(core) < 2 {
			return nil, nil
		}
		return [][]int{core}, nil
	}

	index := make(map[string]int, len(names))
	for a, n := range names {
		index[n] = a
	}
	var groups [][]int
	for gi, named := range settings.AntennaConstraint {
		group := make([]int, 0, len(named))
		for _, n := range named {
			a, ok := index[n]
			if !ok {
				return nil, fmt.Errorf("%w: antenna constraint group %d names unknown antenna %q",
					config.ErrIncompatible, gi, n)
			}
			group = append(group, a)
		}
		groups = append(groups, group)
	}
	return groups, nil
}

// constraintForMode returns the constraint that restricts solutions to the
// calibration mode, or nil when the mode needs none.
func constraintForMode(settings config.Settings) (constraint.Constraint, error) {
	switch settings.Mode {
	case config.CalScalar, config.CalDiagonal, config.CalFullJones:
		return nil, nil
	case config.CalScalarPhase, config.CalDiagonalPhase:
		return constraint.NewPhaseOnlyConstraint(settings.PhaseReference), nil
	case config.CalScalarAmplitude, config.CalDiagonalAmplitude:
		return constraint.NewAmplitudeOnlyConstraint(), nil
	case config.CalTEC, config.CalTECAndPhase:
		mode := constraint.TECOnly
		if settings.Mode == config.CalTECAndPhase {
			mode = constraint.TECAndPhase
		}
		if settings.ApproximateTEC {
			c := constraint.NewApproximateTECConstraint(mode, settings.PhaseReference, settings.MaxApproxIterations)
			if settings.MaxTEC > 0 {
				c.SetSearchRange(settings.MaxTEC)
			}
			return c, nil
		}
		c := constraint.NewTECConstraint(mode, settings.PhaseReference)
		if settings.MaxTEC > 0 {
			c.SetSearchRange(settings.MaxTEC)
		}
		return c, nil
	case config.CalRotation:
		return constraint.NewRotationConstraint(), nil
	case config.CalRotationAndDiagonal:
		dm, err := constraint.ParseDiagonalMode(settings.RotationDiagonalMode)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", config.ErrUnsupported, err)
		}
		return constraint.NewRotationAndDiagonalConstraint(dm), nil
	}
	return nil, fmt.Errorf("%w: no constraint for calibration mode %q", config.ErrUnsupported, settings.Mode)
}

// distanceFactors scales the smoothing kernel down for antennas further from
// the first antenna than refDistance.
func distanceFactors(positions [][3]float64, refDistance float64) []float64 {
	factors := make([]float64, len(positions))
	for a, p := range positions {
		factors[a] = refDistance / math.Max(distance(positions[0], p), refDistance)
	}
	return factors
}

func distance(a, b [3]float64) float64 {
	dx, dy, dz := a[0]-b[0], a[1]-b[1], a[2]-b[2]
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// #endregion initialize-constraints
