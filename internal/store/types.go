package store

import (
	"time"

	"github.com/danielpatrickdp/ddecal/go-controller/internal/constraint"
	"github.com/danielpatrickdp/ddecal/go-controller/internal/solutions"
)

// #region run-record
// RunRecord is the outcome of one solution interval.
type RunRecord struct {
	RunID        string
	ParentID     string // run whose solutions seeded this one
	Mode         string
	Time         float64 // central time of the solution interval
	Shape        solutions.Shape
	Solutions    []complex128
	Flagged      int // non-finite solutions
	Iterations   int
	Converged    bool
	SettingsJSON string
	CreatedAt    time.Time
}

// Span returns a view over the stored solutions.
func (r RunRecord) Span() (solutions.Span, error) {
	return solutions.NewSpan(r.Solutions, r.Shape)
}

// #endregion run-record

// #region result-record
// ResultRecord is one constraint Result persisted for a run.
type ResultRecord struct {
	RunID      string
	Constraint string
	Seq        int
	Result     constraint.Result
}

// #endregion result-record
