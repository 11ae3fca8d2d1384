package constraint

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/danielpatrickdp/ddecal/go-controller/internal/solutions"
)

// ErrInvalidDimensions is returned by Initialize when the run dimensions are unusable.
var ErrInvalidDimensions = errors.New("invalid constraint dimensions")

// ErrNotInitialized is returned by Apply when Initialize has not succeeded yet.
var ErrNotInitialized = errors.New("constraint not initialized")

// #region constraint
// Constraint is applied to the solutions between solver iterations.
//
// Per iteration the solver calls PrepareIteration on every constraint before
// calling Apply on any of them. PrepareIteration is not safe for concurrent use.
// Apply may rewrite solutions in place and may return Results that are persisted
// instead of, or next to, the raw solutions.
type Constraint interface {
	Name() string

	Initialize(nAntennas int, solutionsPerDirection []uint32, frequencies []float64) error
	SetWeights(weights []float64)
	SetSubSolutionWeights(weights [][]float64)

	PrepareIteration(hasReachedPrecision bool, iteration int, finalIter bool)
	Satisfied() bool
	Apply(sol solutions.Span, time float64, stats io.Writer) ([]Result, error)
	GetTimings(w io.Writer, duration time.Duration)

	NAntennas() int
	NDirections() int
	NSubSolutions() int
	NChannelBlocks() int
	GetSubSolutions(direction int) uint32
}

// #endregion constraint

// #region result
// Result is a named tensor a constraint emits for persistence, e.g. TEC values.
// Vals and Weights are flat; Axes lists the axis names, fastest varying last,
// and Dims holds the matching sizes.
type Result struct {
	Vals    []float64 `json:"vals"`
	Weights []float64 `json:"weights"`
	Axes    string    `json:"axes"`
	Dims    []int     `json:"dims"`
	Name    string    `json:"name"`
}

// Size is the product of Dims.
func (r Result) Size() int {
	if len(r.Dims) == 0 {
		return 0
	}
	n := 1
	for _, d := range r.Dims {
		n *= d
	}
	return n
}

// AxisNames splits Axes.
func (r Result) AxisNames() []string {
	if r.Axes == "" {
		return nil
	}
	return strings.Split(r.Axes, ",")
}

// Validate checks that the flat arrays agree with the axis metadata.
func (r Result) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("result: empty name")
	}
	if len(r.AxisNames()) != len(r.Dims) {
		return fmt.Errorf("result %s: %d axes %q but %d dims", r.Name, len(r.AxisNames()), r.Axes, len(r.Dims))
	}
	if len(r.Vals) != r.Size() || len(r.Weights) != r.Size() {
		return fmt.Errorf("result %s: dims %v need %d values, have %d vals and %d weights",
			r.Name, r.Dims, r.Size(), len(r.Vals), len(r.Weights))
	}
	return nil
}

// #endregion result

// #region finite
// IsFinite reports whether both parts of value are finite.
func IsFinite(value complex128) bool {
	re, im := real(value), imag(value)
	return !math.IsNaN(re) && !math.IsInf(re, 0) && !math.IsNaN(im) && !math.IsInf(im, 0)
}

// #endregion finite

// statf writes a diagnostic line when a statistics sink is present.
func statf(w io.Writer, format string, args ...any) {
	if w == nil {
		return
	}
	fmt.Fprintf(w, format+"\n", args...)
}
