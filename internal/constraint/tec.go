package constraint

import (
	"errors"
	"fmt"
	"io"
	"math"
	"math/cmplx"
	"time"

	"github.com/danielpatrickdp/ddecal/go-controller/internal/solutions"
)

// TECPhaseFactor converts differential TEC (TECU) to phase: phase = TECPhaseFactor * tec / freq.
const TECPhaseFactor = -8.44797245e9

// ErrPolarizations is returned when a constraint cannot handle the number of
// solution polarizations it is given.
var ErrPolarizations = errors.New("unsupported number of solution polarizations")

// #region tec-mode
// TECMode selects whether a free phase offset is fitted next to the TEC.
type TECMode int

const (
	TECOnly TECMode = iota
	TECAndPhase
)

// #endregion tec-mode

// #region tec-constraint
// TECConstraint replaces scalar solutions by the best fitting ionospheric
// delay per antenna and sub-solution, and reports the fitted values.
type TECConstraint struct {
	WeightedBase
	mode           TECMode
	phaseReference bool
	maxTEC         float64

	tec    []float64
	phase  []float64
	weight []float64
}

// NewTECConstraint creates a TEC constraint searching |tec| <= 0.5 TECU.
func NewTECConstraint(mode TECMode, phaseReference bool) *TECConstraint {
	return &TECConstraint{mode: mode, phaseReference: phaseReference, maxTEC: 0.5}
}

func (c *TECConstraint) Name() string { return "tec" }

// SetSearchRange sets the largest absolute TEC considered by the fit.
func (c *TECConstraint) SetSearchRange(maxTEC float64) {
	if maxTEC > 0 {
		c.maxTEC = maxTEC
	}
}

func (c *TECConstraint) Initialize(nAntennas int, solutionsPerDirection []uint32, frequencies []float64) error {
	if err := c.Base.Initialize(nAntennas, solutionsPerDirection, frequencies); err != nil {
		return err
	}
	for i, f := range frequencies {
		if !(f > 0) {
			return fmt.Errorf("%w: channel block %d has frequency %g", ErrInvalidDimensions, i, f)
		}
	}
	n := nAntennas * c.nSubSolutions
	c.tec = make([]float64, n)
	c.phase = make([]float64, n)
	c.weight = make([]float64, n)
	return nil
}

func (c *TECConstraint) Apply(sol solutions.Span, _ float64, stats io.Writer) ([]Result, error) {
	return c.apply(sol, stats, false)
}

func (c *TECConstraint) GetTimings(w io.Writer, duration time.Duration) {
	c.writeTimings(w, c.Name(), duration)
}

func (c *TECConstraint) apply(sol solutions.Span, stats io.Writer, coarse bool) ([]Result, error) {
	defer c.track(time.Now())
	if err := c.checkSpan(sol); err != nil {
		return nil, err
	}
	if p := sol.Shape().NPolarizations; p != 1 {
		return nil, fmt.Errorf("%s: %w: %d", c.Name(), ErrPolarizations, p)
	}
	if c.phaseReference {
		referencePhases(sol)
	}

	unfitted := 0
	for ant := 0; ant < c.nAntennas; ant++ {
		for sub := 0; sub < c.nSubSolutions; sub++ {
			i := ant*c.nSubSolutions + sub
			tec, offset, w := c.fit(sol, ant, sub, coarse)
			c.weight[i] = w
			if w == 0 {
				c.tec[i], c.phase[i] = 0, 0
				unfitted++
				continue
			}
			c.tec[i], c.phase[i] = tec, offset
			for ch, f := range c.frequencies {
				sol.Set(ch, ant, sub, 0, cmplx.Rect(1, TECPhaseFactor*tec/f+offset))
			}
		}
	}
	if unfitted > 0 {
		statf(stats, "tec: %d antenna/sub-solution pairs had no finite weighted samples", unfitted)
	}

	dims := []int{c.nAntennas, c.nSubSolutions, 1}
	results := []Result{{
		Vals:    append([]float64(nil), c.tec...),
		Weights: append([]float64(nil), c.weight...),
		Axes:    "ant,dir,freq",
		Dims:    dims,
		Name:    "tec",
	}}
	if c.mode == TECAndPhase {
		results = append(results, Result{
			Vals:    append([]float64(nil), c.phase...),
			Weights: append([]float64(nil), c.weight...),
			Axes:    "ant,dir,freq",
			Dims:    append([]int(nil), dims...),
			Name:    "phase",
		})
	}
	return results, nil
}

// fit searches a TEC grid for the best phase agreement and, unless coarse,
// refines the optimum with a golden-section search.
func (c *TECConstraint) fit(sol solutions.Span, ant, sub int, coarse bool) (tec, offset, weight float64) {
	phasors := make([]complex128, 0, len(c.frequencies))
	freqs := make([]float64, 0, len(c.frequencies))
	weights := make([]float64, 0, len(c.frequencies))
	fmin := math.Inf(1)
	for ch, f := range c.frequencies {
		v := sol.At(ch, ant, sub, 0)
		w := c.Weight(sub, ant, ch)
		if !IsFinite(v) || v == 0 || !(w > 0) {
			continue
		}
		phasors = append(phasors, unitPhasor(v))
		freqs = append(freqs, f)
		weights = append(weights, w)
		weight += w
		fmin = math.Min(fmin, f)
	}
	if len(phasors) == 0 {
		return 0, 0, 0
	}

	sum := func(t float64) complex128 {
		var z complex128
		for k, p := range phasors {
			z += complex(weights[k], 0) * p * cmplx.Rect(1, -TECPhaseFactor*t/freqs[k])
		}
		return z
	}
	score := func(t float64) float64 {
		z := sum(t)
		if c.mode == TECAndPhase {
			return cmplx.Abs(z)
		}
		return real(z)
	}

	// Grid step keeps the phase change between grid points below pi/4 at the lowest frequency.
	step := math.Pi / 4 / math.Abs(TECPhaseFactor/fmin)
	if coarse {
		step *= 4
	}
	best, bestScore := 0.0, math.Inf(-1)
	for t := -c.maxTEC; t <= c.maxTEC+step/2; t += step {
		if s := score(t); s > bestScore {
			best, bestScore = t, s
		}
	}
	if !coarse {
		best = goldenMax(score, best-step, best+step, 40)
	}
	if c.mode == TECAndPhase {
		offset = cmplx.Phase(sum(best))
	}
	return best, offset, weight
}

// #endregion tec-constraint

// #region approximate-tec
// ApproximateTECConstraint fits TEC on a coarse grid until the solver reports
// that precision has been reached, a number of iterations has passed, or the
// final iteration starts; then it switches to the exact fit. It is not
// satisfied while still approximating.
type ApproximateTECConstraint struct {
	TECConstraint
	maxApproxIterations int
	finished            bool
}

// NewApproximateTECConstraint creates the two-stage TEC constraint.
func NewApproximateTECConstraint(mode TECMode, phaseReference bool, maxApproxIterations int) *ApproximateTECConstraint {
	return &ApproximateTECConstraint{
		TECConstraint:       *NewTECConstraint(mode, phaseReference),
		maxApproxIterations: maxApproxIterations,
	}
}

func (c *ApproximateTECConstraint) Name() string { return "approximatetec" }

func (c *ApproximateTECConstraint) Initialize(nAntennas int, solutionsPerDirection []uint32, frequencies []float64) error {
	c.finished = false
	return c.TECConstraint.Initialize(nAntennas, solutionsPerDirection, frequencies)
}

func (c *ApproximateTECConstraint) PrepareIteration(hasReachedPrecision bool, iteration int, finalIter bool) {
	if c.finished {
		return
	}
	if hasReachedPrecision || finalIter || (c.maxApproxIterations > 0 && iteration >= c.maxApproxIterations) {
		c.finished = true
	}
}

func (c *ApproximateTECConstraint) Satisfied() bool { return c.finished }

func (c *ApproximateTECConstraint) Apply(sol solutions.Span, _ float64, stats io.Writer) ([]Result, error) {
	return c.apply(sol, stats, !c.finished)
}

func (c *ApproximateTECConstraint) GetTimings(w io.Writer, duration time.Duration) {
	c.writeTimings(w, c.Name(), duration)
}

// #endregion approximate-tec

// goldenMax maximises f on [a, b] with a fixed number of golden-section steps.
func goldenMax(f func(float64) float64, a, b float64, steps int) float64 {
	ratio := (math.Sqrt(5) - 1) / 2
	x1 := b - ratio*(b-a)
	x2 := a + ratio*(b-a)
	f1, f2 := f(x1), f(x2)
	for i := 0; i < steps; i++ {
		if f1 < f2 {
			a, x1, f1 = x1, x2, f2
			x2 = a + ratio*(b-a)
			f2 = f(x2)
		} else {
			b, x2, f2 = x2, x1, f1
			x1 = b - ratio*(b-a)
			f1 = f(x1)
		}
	}
	return (a + b) / 2
}
