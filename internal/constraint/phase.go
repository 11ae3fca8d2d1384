package constraint

import (
	"io"
	"math/cmplx"
	"time"

	"github.com/danielpatrickdp/ddecal/go-controller/internal/solutions"
)

// #region phase-only
// PhaseOnlyConstraint keeps only the phase of every solution.
type PhaseOnlyConstraint struct {
	Base
	phaseReference bool
}

// NewPhaseOnlyConstraint creates a phase-only constraint. With phaseReference
// set, phases are made relative to the first antenna.
func NewPhaseOnlyConstraint(phaseReference bool) *PhaseOnlyConstraint {
	return &PhaseOnlyConstraint{phaseReference: phaseReference}
}

func (c *PhaseOnlyConstraint) Name() string { return "phaseonly" }

func (c *PhaseOnlyConstraint) Apply(sol solutions.Span, _ float64, stats io.Writer) ([]Result, error) {
	defer c.track(time.Now())
	if err := c.checkSpan(sol); err != nil {
		return nil, err
	}
	data := sol.Data()
	nonFinite := 0
	for i, v := range data {
		if !IsFinite(v) {
			nonFinite++
			continue
		}
		data[i] = unitPhasor(v)
	}
	if c.phaseReference {
		referencePhases(sol)
	}
	if nonFinite > 0 {
		statf(stats, "phaseonly: %d non-finite solutions", nonFinite)
	}
	return nil, nil
}

func (c *PhaseOnlyConstraint) GetTimings(w io.Writer, duration time.Duration) {
	c.writeTimings(w, c.Name(), duration)
}

// #endregion phase-only

// #region amplitude-only
// AmplitudeOnlyConstraint removes the phase of every solution.
type AmplitudeOnlyConstraint struct {
	Base
}

// NewAmplitudeOnlyConstraint creates an amplitude-only constraint.
func NewAmplitudeOnlyConstraint() *AmplitudeOnlyConstraint {
	return &AmplitudeOnlyConstraint{}
}

func (c *AmplitudeOnlyConstraint) Name() string { return "amplitudeonly" }

func (c *AmplitudeOnlyConstraint) Apply(sol solutions.Span, _ float64, stats io.Writer) ([]Result, error) {
	defer c.track(time.Now())
	if err := c.checkSpan(sol); err != nil {
		return nil, err
	}
	data := sol.Data()
	nonFinite := 0
	for i, v := range data {
		if !IsFinite(v) {
			nonFinite++
			continue
		}
		data[i] = complex(cmplx.Abs(v), 0)
	}
	if nonFinite > 0 {
		statf(stats, "amplitudeonly: %d non-finite solutions", nonFinite)
	}
	return nil, nil
}

func (c *AmplitudeOnlyConstraint) GetTimings(w io.Writer, duration time.Duration) {
	c.writeTimings(w, c.Name(), duration)
}

// #endregion amplitude-only

// #region helpers
// unitPhasor returns v scaled to unit amplitude; zero maps to 1.
func unitPhasor(v complex128) complex128 {
	a := cmplx.Abs(v)
	if a == 0 {
		return 1
	}
	return v / complex(a, 0)
}

// referencePhases rotates every antenna so that antenna 0 has zero phase,
// per channel block, sub-solution and polarization.
func referencePhases(sol solutions.Span) {
	sh := sol.Shape()
	for ch := 0; ch < sh.NChannelBlocks; ch++ {
		for sub := 0; sub < sh.NSubSolutions; sub++ {
			for pol := 0; pol < sh.NPolarizations; pol++ {
				ref := sol.At(ch, 0, sub, pol)
				if !IsFinite(ref) {
					continue
				}
				rot := cmplx.Conj(unitPhasor(ref))
				for ant := 0; ant < sh.NAntennas; ant++ {
					sol.Set(ch, ant, sub, pol, sol.At(ch, ant, sub, pol)*rot)
				}
			}
		}
	}
}

// #endregion helpers
