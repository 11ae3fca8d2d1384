package constraint

import (
	"fmt"
	"io"
	"time"

	"github.com/danielpatrickdp/ddecal/go-controller/internal/solutions"
)

// #region antenna-constraint
// AntennaConstraint forces every antenna of a group to share one solution, the
// weighted mean of the group. It is used to tie core stations together.
type AntennaConstraint struct {
	WeightedBase
	groups [][]int
}

// NewAntennaConstraint creates a constraint over the given antenna index groups.
func NewAntennaConstraint(groups [][]int) *AntennaConstraint {
	c := &AntennaConstraint{}
	for _, g := range groups {
		c.groups = append(c.groups, append([]int(nil), g...))
	}
	return c
}

func (c *AntennaConstraint) Name() string { return "antenna" }

// Groups returns the antenna index groups.
func (c *AntennaConstraint) Groups() [][]int { return c.groups }

// Initialize checks that every group member is a valid antenna index.
func (c *AntennaConstraint) Initialize(nAntennas int, solutionsPerDirection []uint32, frequencies []float64) error {
	if err := c.Base.Initialize(nAntennas, solutionsPerDirection, frequencies); err != nil {
		return err
	}
	for gi, g := range c.groups {
		for _, a := range g {
			if a < 0 || a >= nAntennas {
				return fmt.Errorf("%w: antenna group %d refers to antenna %d of %d", ErrInvalidDimensions, gi, a, nAntennas)
			}
		}
	}
	return nil
}

// Apply replaces the solutions of each group by their weighted mean.
func (c *AntennaConstraint) Apply(sol solutions.Span, _ float64, stats io.Writer) ([]Result, error) {
	defer c.track(time.Now())
	if err := c.checkSpan(sol); err != nil {
		return nil, err
	}
	nPol := sol.Shape().NPolarizations
	skipped := 0
	for ch := 0; ch < c.nChannelBlocks; ch++ {
		for sub := 0; sub < c.nSubSolutions; sub++ {
			for pol := 0; pol < nPol; pol++ {
				for _, g := range c.groups {
					if len(g) < 2 {
						continue
					}
					var sum complex128
					var wsum float64
					for _, a := range g {
						v := sol.At(ch, a, sub, pol)
						if !IsFinite(v) {
							continue
						}
						w := c.Weight(sub, a, ch)
						sum += complex(w, 0) * v
						wsum += w
					}
					if wsum == 0 {
						skipped++
						continue
					}
					mean := sum / complex(wsum, 0)
					for _, a := range g {
						sol.Set(ch, a, sub, pol, mean)
					}
				}
			}
		}
	}
	if skipped > 0 {
		statf(stats, "antenna: %d group averages skipped without finite weighted samples", skipped)
	}
	return nil, nil
}

func (c *AntennaConstraint) GetTimings(w io.Writer, duration time.Duration) {
	c.writeTimings(w, c.Name(), duration)
}

// #endregion antenna-constraint
