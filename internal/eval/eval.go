package eval

import (
	"fmt"
	"math"
	"math/cmplx"

	"github.com/danielpatrickdp/ddecal/go-controller/internal/solutions"
)

// #region eval-harness
// EvalHarness runs lightweight health checks on the solution tensor after
// constraints have been applied.
type EvalHarness struct {
	config EvalConfig
}

// NewEvalHarness creates an eval harness with the given configuration.
func NewEvalHarness(config EvalConfig) *EvalHarness {
	return &EvalHarness{config: config}
}

// Run checks the solutions and returns pass/fail with metrics.
func (h *EvalHarness) Run(sol solutions.Span) EvalResult {
	var metrics []EvalMetric
	passed := true
	var failReasons []string

	// 1. Finiteness
	nonFinite, maxAmp := scan(sol.Data())
	finitePass := nonFinite == 0 || !h.config.FailOnNonFinite
	metrics = append(metrics, EvalMetric{
		Name:  "non_finite",
		Value: float64(nonFinite),
		Pass:  nonFinite == 0,
	})
	if !finitePass {
		passed = false
		failReasons = append(failReasons, fmt.Sprintf("%d non-finite solutions", nonFinite))
	}

	// 2. Amplitude bound
	ampPass := h.config.MaxAmplitude <= 0 || maxAmp <= h.config.MaxAmplitude
	metrics = append(metrics, EvalMetric{
		Name:  "max_amplitude",
		Value: maxAmp,
		Pass:  ampPass,
	})
	if !ampPass {
		passed = false
		failReasons = append(failReasons, fmt.Sprintf("amplitude %.4f exceeds %.4f", maxAmp, h.config.MaxAmplitude))
	}

	// 3. Channel continuity: informational only
	jump := maxChannelJump(sol)
	metrics = append(metrics, EvalMetric{
		Name:  "max_channel_jump",
		Value: jump,
		Pass:  jump <= h.config.MaxChannelJump,
	})

	reason := "all checks passed"
	if !passed {
		reason = fmt.Sprintf("eval failed: %s", failReasons[0])
		if len(failReasons) > 1 {
			reason = fmt.Sprintf("eval failed: %d checks: %s", len(failReasons), failReasons[0])
		}
	}

	return EvalResult{
		Passed:    passed,
		Metrics:   metrics,
		Reason:    reason,
		NonFinite: nonFinite,
	}
}

// #endregion eval-harness

// #region helpers
// scan counts non-finite values and returns the largest finite amplitude.
func scan(data []complex128) (int, float64) {
	var nonFinite int
	var maxAmp float64
	for _, v := range data {
		if cmplx.IsNaN(v) || cmplx.IsInf(v) {
			nonFinite++
			continue
		}
		if a := cmplx.Abs(v); a > maxAmp {
			maxAmp = a
		}
	}
	return nonFinite, maxAmp
}

// maxChannelJump is the largest absolute difference between the same gain in
// adjacent channel blocks.
func maxChannelJump(sol solutions.Span) float64 {
	sh := sol.Shape()
	per := sh.NAntennas * sh.NSubSolutions * sh.NPolarizations
	data := sol.Data()
	var jump float64
	for ch := 1; ch < sh.NChannelBlocks; ch++ {
		prev := data[(ch-1)*per : ch*per]
		cur := data[ch*per : (ch+1)*per]
		for i := range cur {
			d := cmplx.Abs(cur[i] - prev[i])
			if !math.IsNaN(d) && !math.IsInf(d, 0) && d > jump {
				jump = d
			}
		}
	}
	return jump
}

// #endregion helpers
