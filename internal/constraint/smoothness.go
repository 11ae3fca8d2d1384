package constraint

import (
	"fmt"
	"io"
	"math"
	"time"

	"github.com/danielpatrickdp/ddecal/go-controller/internal/solutions"
)

// fwhmToSigma converts a Gaussian full width at half maximum to its standard deviation.
var fwhmToSigma = 1.0 / (2.0 * math.Sqrt(2.0*math.Ln2))

// #region smoothness-constraint
// SmoothnessConstraint smooths every solution over frequency with a Gaussian
// kernel. The kernel width is the configured bandwidth, scaled by
// frequency/refFrequency when a reference frequency is set, and by optional
// per-antenna and per-direction factors.
type SmoothnessConstraint struct {
	WeightedBase
	bandwidth       float64
	refFrequency    float64
	antennaFactors  []float64
	directionFactor []float64

	scratch []complex128
}

// NewSmoothnessConstraint creates a smoother with the given kernel FWHM in Hz.
// refFrequency of 0 disables frequency scaling.
func NewSmoothnessConstraint(bandwidth, refFrequency float64) *SmoothnessConstraint {
	return &SmoothnessConstraint{bandwidth: bandwidth, refFrequency: refFrequency}
}

func (c *SmoothnessConstraint) Name() string { return "smoothness" }

// Initialize allocates per-antenna and per-direction factors, all 1.
func (c *SmoothnessConstraint) Initialize(nAntennas int, solutionsPerDirection []uint32, frequencies []float64) error {
	if err := c.Base.Initialize(nAntennas, solutionsPerDirection, frequencies); err != nil {
		return err
	}
	if c.bandwidth <= 0 {
		return fmt.Errorf("%w: smoothness bandwidth must be positive, got %g", ErrInvalidDimensions, c.bandwidth)
	}
	c.antennaFactors = ones(nAntennas)
	c.directionFactor = ones(len(solutionsPerDirection))
	c.scratch = make([]complex128, len(frequencies))
	return nil
}

// SetAntennaFactors scales the kernel width per antenna. Must follow Initialize.
func (c *SmoothnessConstraint) SetAntennaFactors(factors []float64) error {
	if len(factors) != c.nAntennas {
		return fmt.Errorf("%w: %d antenna factors for %d antennas", ErrInvalidDimensions, len(factors), c.nAntennas)
	}
	for a, f := range factors {
		if !(f > 0) {
			return fmt.Errorf("%w: antenna %d has kernel factor %g", ErrInvalidDimensions, a, f)
		}
	}
	c.antennaFactors = append([]float64(nil), factors...)
	return nil
}

// SetDirectionFactors scales the kernel width per direction. Must follow Initialize.
func (c *SmoothnessConstraint) SetDirectionFactors(factors []float64) error {
	if len(factors) != c.NDirections() {
		return fmt.Errorf("%w: %d direction factors for %d directions", ErrInvalidDimensions, len(factors), c.NDirections())
	}
	for d, f := range factors {
		if !(f > 0) {
			return fmt.Errorf("%w: direction %d has kernel factor %g", ErrInvalidDimensions, d, f)
		}
	}
	c.directionFactor = append([]float64(nil), factors...)
	return nil
}

// AntennaFactors returns the per-antenna kernel scale factors.
func (c *SmoothnessConstraint) AntennaFactors() []float64 { return c.antennaFactors }

// Apply replaces every solution by its kernel-weighted average over channel blocks.
func (c *SmoothnessConstraint) Apply(sol solutions.Span, _ float64, stats io.Writer) ([]Result, error) {
	defer c.track(time.Now())
	if err := c.checkSpan(sol); err != nil {
		return nil, err
	}
	nPol := sol.Shape().NPolarizations
	freqs := c.frequencies
	nonFinite := 0
	for ant := 0; ant < c.nAntennas; ant++ {
		for sub := 0; sub < c.nSubSolutions; sub++ {
			width := c.bandwidth * c.antennaFactors[ant] * c.directionFactor[c.DirectionOf(sub)]
			for pol := 0; pol < nPol; pol++ {
				for i, fi := range freqs {
					sigma := width * fwhmToSigma
					if c.refFrequency > 0 {
						sigma *= fi / c.refFrequency
					}
					if sigma <= 0 {
						c.scratch[i] = sol.At(i, ant, sub, pol)
						continue
					}
					var sum complex128
					var wsum float64
					for j, fj := range freqs {
						v := sol.At(j, ant, sub, pol)
						if !IsFinite(v) {
							continue
						}
						d := (fi - fj) / sigma
						k := math.Exp(-0.5*d*d) * c.Weight(sub, ant, j)
						sum += complex(k, 0) * v
						wsum += k
					}
					if wsum == 0 {
						c.scratch[i] = sol.At(i, ant, sub, pol)
						if !IsFinite(c.scratch[i]) {
							nonFinite++
						}
						continue
					}
					c.scratch[i] = sum / complex(wsum, 0)
				}
				for i := range freqs {
					sol.Set(i, ant, sub, pol, c.scratch[i])
				}
			}
		}
	}
	if nonFinite > 0 {
		statf(stats, "smoothness: %d non-finite solutions left unsmoothed", nonFinite)
	}
	return nil, nil
}

func (c *SmoothnessConstraint) GetTimings(w io.Writer, duration time.Duration) {
	c.writeTimings(w, c.Name(), duration)
}

// #endregion smoothness-constraint

func ones(n int) []float64 {
	v := make([]float64, n)
	for i := range v {
		v[i] = 1
	}
	return v
}
