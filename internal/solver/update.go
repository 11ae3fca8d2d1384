package solver

import (
	"math"
	"math/cmplx"

	"github.com/danielpatrickdp/ddecal/go-controller/internal/solutions"
)

// stallIterations is the minimum number of iterations before stall detection.
const stallIterations = 30

// #region update-function
// dampedUpdate moves sol a fraction stepSize towards next and returns the
// norm of the change relative to the norm of the new solutions.
func dampedUpdate(sol, next solutions.Span, stepSize float64) float64 {
	cur := sol.Data()
	proposed := next.Data()
	step := complex(stepSize, 0)
	keep := complex(1-stepSize, 0)

	var diffSumSq, normSumSq float64
	for i, old := range cur {
		v := keep*old + step*proposed[i]
		cur[i] = v
		d := cmplx.Abs(v - old)
		diffSumSq += d * d
		a := cmplx.Abs(v)
		normSumSq += a * a
	}
	if normSumSq == 0 {
		return math.Sqrt(diffSumSq)
	}
	return math.Sqrt(diffSumSq / normSumSq)
}

// #endregion update-function

// #region stall
// isStalled reports whether the last two step magnitudes are so close that
// further iterations will not make progress.
func isStalled(magnitudes []float64, stepSize float64) bool {
	n := len(magnitudes)
	if n < stallIterations {
		return false
	}
	prev := magnitudes[n-2]
	if prev == 0 {
		return false
	}
	return math.Abs(magnitudes[n-1]/prev-1) < 1e-4/stepSize
}

// #endregion stall
