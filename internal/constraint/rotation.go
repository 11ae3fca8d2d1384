package constraint

import (
	"fmt"
	"io"
	"math"
	"math/cmplx"
	"time"

	"github.com/danielpatrickdp/ddecal/go-controller/internal/solutions"
)

// #region rotation-helpers
// rotationAngle estimates the Faraday rotation angle of a 2x2 Jones matrix
// stored as [xx, xy, yx, yy], assuming J = g * [[cos, -sin], [sin, cos]].
func rotationAngle(j []complex128) float64 {
	p := j[0] + j[3]
	q := j[2] - j[1]
	return math.Atan2(real(q*cmplx.Conj(p)), real(p*cmplx.Conj(p)))
}

// setRotation writes diag(a, b) * R(theta) into j.
func setRotation(j []complex128, theta float64, a, b complex128) {
	c, s := complex(math.Cos(theta), 0), complex(math.Sin(theta), 0)
	j[0] = a * c
	j[1] = -a * s
	j[2] = b * s
	j[3] = b * c
}

func jonesFinite(j []complex128) bool {
	for _, v := range j {
		if !IsFinite(v) {
			return false
		}
	}
	return true
}

// #endregion rotation-helpers

// #region rotation-constraint
// RotationConstraint replaces full-Jones solutions by a pure rotation and
// reports the rotation angle per antenna, sub-solution and channel block.
type RotationConstraint struct {
	WeightedBase
}

// NewRotationConstraint creates a rotation constraint.
func NewRotationConstraint() *RotationConstraint {
	return &RotationConstraint{}
}

func (c *RotationConstraint) Name() string { return "rotation" }

func (c *RotationConstraint) Apply(sol solutions.Span, _ float64, stats io.Writer) ([]Result, error) {
	defer c.track(time.Now())
	if err := c.checkSpan(sol); err != nil {
		return nil, err
	}
	if p := sol.Shape().NPolarizations; p != 4 {
		return nil, fmt.Errorf("%s: %w: %d", c.Name(), ErrPolarizations, p)
	}
	rot := newAntDirFreqResult("rotation", c.nAntennas, c.nSubSolutions, c.nChannelBlocks, 1)
	nonFinite := 0
	for ch := 0; ch < c.nChannelBlocks; ch++ {
		for ant := 0; ant < c.nAntennas; ant++ {
			for sub := 0; sub < c.nSubSolutions; sub++ {
				j := sol.Gains(ch, ant, sub)
				if !jonesFinite(j) {
					nonFinite++
					continue
				}
				theta := rotationAngle(j)
				setRotation(j, theta, 1, 1)
				i := rot.index(ant, sub, ch, 0)
				rot.Vals[i] = theta
				rot.Weights[i] = c.Weight(sub, ant, ch)
			}
		}
	}
	if nonFinite > 0 {
		statf(stats, "rotation: %d non-finite Jones matrices", nonFinite)
	}
	return []Result{rot.Result}, nil
}

func (c *RotationConstraint) GetTimings(w io.Writer, duration time.Duration) {
	c.writeTimings(w, c.Name(), duration)
}

// #endregion rotation-constraint

// #region rotation-diagonal
// DiagonalMode restricts the diagonal part of a rotation+diagonal solution.
type DiagonalMode string

const (
	DiagonalFull      DiagonalMode = "diagonal"
	DiagonalPhase     DiagonalMode = "diagonalphase"
	DiagonalAmplitude DiagonalMode = "diagonalamplitude"
	DiagonalScalar    DiagonalMode = "scalar"
	ScalarPhase       DiagonalMode = "scalarphase"
	ScalarAmplitude   DiagonalMode = "scalaramplitude"
)

// ParseDiagonalMode validates a diagonal mode name. Empty means DiagonalFull.
func ParseDiagonalMode(s string) (DiagonalMode, error) {
	switch m := DiagonalMode(s); m {
	case "":
		return DiagonalFull, nil
	case DiagonalFull, DiagonalPhase, DiagonalAmplitude, DiagonalScalar, ScalarPhase, ScalarAmplitude:
		return m, nil
	}
	return "", fmt.Errorf("unknown rotation diagonal mode %q", s)
}

// RotationAndDiagonalConstraint replaces full-Jones solutions by
// diag(a, b) * R(theta) and reports rotation, amplitude and phase.
type RotationAndDiagonalConstraint struct {
	WeightedBase
	mode DiagonalMode
}

// NewRotationAndDiagonalConstraint creates the constraint with the given diagonal restriction.
func NewRotationAndDiagonalConstraint(mode DiagonalMode) *RotationAndDiagonalConstraint {
	if mode == "" {
		mode = DiagonalFull
	}
	return &RotationAndDiagonalConstraint{mode: mode}
}

func (c *RotationAndDiagonalConstraint) Name() string { return "rotationanddiagonal" }

func (c *RotationAndDiagonalConstraint) Apply(sol solutions.Span, _ float64, stats io.Writer) ([]Result, error) {
	defer c.track(time.Now())
	if err := c.checkSpan(sol); err != nil {
		return nil, err
	}
	if p := sol.Shape().NPolarizations; p != 4 {
		return nil, fmt.Errorf("%s: %w: %d", c.Name(), ErrPolarizations, p)
	}
	rot := newAntDirFreqResult("rotation", c.nAntennas, c.nSubSolutions, c.nChannelBlocks, 1)
	amp := newAntDirFreqResult("amplitude", c.nAntennas, c.nSubSolutions, c.nChannelBlocks, 2)
	phs := newAntDirFreqResult("phase", c.nAntennas, c.nSubSolutions, c.nChannelBlocks, 2)
	nonFinite := 0
	for ch := 0; ch < c.nChannelBlocks; ch++ {
		for ant := 0; ant < c.nAntennas; ant++ {
			for sub := 0; sub < c.nSubSolutions; sub++ {
				j := sol.Gains(ch, ant, sub)
				if !jonesFinite(j) {
					nonFinite++
					continue
				}
				theta := rotationAngle(j)
				// J * R(-theta) leaves the diagonal part.
				cs, sn := complex(math.Cos(theta), 0), complex(math.Sin(theta), 0)
				a := j[0]*cs - j[1]*sn
				b := j[2]*sn + j[3]*cs
				a, b = c.restrict(a, b)
				setRotation(j, theta, a, b)

				w := c.Weight(sub, ant, ch)
				i := rot.index(ant, sub, ch, 0)
				rot.Vals[i], rot.Weights[i] = theta, w
				for pol, v := range [2]complex128{a, b} {
					k := amp.index(ant, sub, ch, pol)
					amp.Vals[k], amp.Weights[k] = cmplx.Abs(v), w
					phs.Vals[k], phs.Weights[k] = cmplx.Phase(v), w
				}
			}
		}
	}
	if nonFinite > 0 {
		statf(stats, "rotationanddiagonal: %d non-finite Jones matrices", nonFinite)
	}
	return []Result{rot.Result, amp.Result, phs.Result}, nil
}

func (c *RotationAndDiagonalConstraint) restrict(a, b complex128) (complex128, complex128) {
	switch c.mode {
	case DiagonalPhase:
		return unitPhasor(a), unitPhasor(b)
	case DiagonalAmplitude:
		return complex(cmplx.Abs(a), 0), complex(cmplx.Abs(b), 0)
	case DiagonalScalar:
		m := (a + b) / 2
		return m, m
	case ScalarPhase:
		m := unitPhasor(a + b)
		return m, m
	case ScalarAmplitude:
		m := complex((cmplx.Abs(a)+cmplx.Abs(b))/2, 0)
		return m, m
	}
	return a, b
}

func (c *RotationAndDiagonalConstraint) GetTimings(w io.Writer, duration time.Duration) {
	c.writeTimings(w, c.Name(), duration)
}

// #endregion rotation-diagonal

// #region result-builder
type antDirFreqResult struct {
	Result
	nSub, nCh, nPol int
}

func newAntDirFreqResult(name string, nAnt, nSub, nCh, nPol int) antDirFreqResult {
	axes := "ant,dir,freq"
	dims := []int{nAnt, nSub, nCh}
	if nPol > 1 {
		axes += ",pol"
		dims = append(dims, nPol)
	}
	n := nAnt * nSub * nCh * nPol
	return antDirFreqResult{
		Result: Result{Vals: make([]float64, n), Weights: make([]float64, n), Axes: axes, Dims: dims, Name: name},
		nSub:   nSub,
		nCh:    nCh,
		nPol:   nPol,
	}
}

func (r antDirFreqResult) index(ant, sub, ch, pol int) int {
	return ((ant*r.nSub+sub)*r.nCh+ch)*r.nPol + pol
}

// #endregion result-builder
