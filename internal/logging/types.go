package logging

import "time"

// #region iteration-entry
// IterationEntry is a single row in the iteration_log table.
type IterationEntry struct {
	RunID         string
	Iteration     int
	StepMagnitude float64
	Satisfied     bool
	Converged     bool
	HealthJSON    string
	Reason        string
	CreatedAt     time.Time
}

// #endregion iteration-entry
