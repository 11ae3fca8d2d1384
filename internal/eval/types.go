package eval

// #region eval-config
// EvalConfig holds thresholds for per-iteration solution health checks.
type EvalConfig struct {
	MaxAmplitude    float64 // reject if any gain amplitude exceeds this (0 = disabled)
	MaxChannelJump  float64 // warn if adjacent channel blocks differ by more than this
	FailOnNonFinite bool    // reject if any gain is NaN or Inf
}

// DefaultEvalConfig returns sensible defaults for calibration runs.
func DefaultEvalConfig() EvalConfig {
	return EvalConfig{
		MaxAmplitude:    0,
		MaxChannelJump:  1.0,
		FailOnNonFinite: true,
	}
}

// #endregion eval-config

// #region eval-metric
// EvalMetric captures a single validation check result.
type EvalMetric struct {
	Name  string
	Value float64
	Pass  bool
}

// #endregion eval-metric

// #region eval-result
// EvalResult is the output of a health check over the solution tensor.
type EvalResult struct {
	Passed    bool
	Metrics   []EvalMetric
	Reason    string
	NonFinite int
}

// #endregion eval-result
