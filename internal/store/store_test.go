package store

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/danielpatrickdp/ddecal/go-controller/internal/constraint"
	"github.com/danielpatrickdp/ddecal/go-controller/internal/solutions"
	"github.com/danielpatrickdp/ddecal/go-controller/internal/solver"
)

func tempDB(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := NewStore(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewStoreFailureReleasesDB(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	dir := t.TempDir()
	if _, err := NewStore(filepath.Join(dir, "missing", "test.db")); err == nil {
		t.Fatal("expected error for a database in a missing directory")
	}

	garbage := filepath.Join(dir, "garbage.db")
	if err := os.WriteFile(garbage, bytes.Repeat([]byte("not a database\n"), 512), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewStore(garbage); err == nil {
		t.Fatal("expected error for a file that is not a database")
	}
}

func sampleRun() RunRecord {
	shape := solutions.Shape{NChannelBlocks: 2, NAntennas: 2, NSubSolutions: 1, NPolarizations: 1}
	return RunRecord{
		Mode:       "tec",
		Time:       4.5e9,
		Shape:      shape,
		Solutions:  []complex128{1, complex(0, 1), complex(-1, 0.5), 2},
		Iterations: 7,
		Converged:  true,
	}
}

func sampleResults() []solver.ConstraintResults {
	return []solver.ConstraintResults{
		{Constraint: "antenna"},
		{Constraint: "tec", Results: []constraint.Result{
			{Vals: []float64{0, 0.05}, Weights: []float64{2, 2}, Axes: "ant,dir,freq", Dims: []int{2, 1, 1}, Name: "tec"},
			{Vals: []float64{0, 0.7}, Weights: []float64{2, 2}, Axes: "ant,dir,freq", Dims: []int{2, 1, 1}, Name: "phase"},
		}},
	}
}

func TestCommitAndGetRun(t *testing.T) {
	s := tempDB(t)

	rec, err := s.CommitRun(sampleRun(), sampleResults())
	if err != nil {
		t.Fatalf("CommitRun: %v", err)
	}
	if rec.RunID == "" {
		t.Fatal("expected run ID to be filled in")
	}

	got, err := s.GetRun(rec.RunID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if diff := cmp.Diff(rec.Solutions, got.Solutions); diff != "" {
		t.Fatalf("solutions mismatch (-want +got):\n%s", diff)
	}
	if got.Shape != rec.Shape {
		t.Fatalf("expected shape %v, got %v", rec.Shape, got.Shape)
	}
	if !got.Converged || got.Iterations != 7 || got.Mode != "tec" || got.Time != 4.5e9 {
		t.Fatalf("unexpected run fields: %+v", got)
	}
	span, err := got.Span()
	if err != nil {
		t.Fatalf("Span: %v", err)
	}
	if span.At(1, 0, 0, 0) != complex(-1, 0.5) {
		t.Fatalf("unexpected value %v", span.At(1, 0, 0, 0))
	}
}

func TestResultsRoundTrip(t *testing.T) {
	s := tempDB(t)
	rec, err := s.CommitRun(sampleRun(), sampleResults())
	if err != nil {
		t.Fatalf("CommitRun: %v", err)
	}

	got, err := s.GetResults(rec.RunID)
	if err != nil {
		t.Fatalf("GetResults: %v", err)
	}
	want := []ResultRecord{
		{RunID: rec.RunID, Constraint: "tec", Seq: 0, Result: sampleResults()[1].Results[0]},
		{RunID: rec.RunID, Constraint: "tec", Seq: 1, Result: sampleResults()[1].Results[1]},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("results mismatch (-want +got):\n%s", diff)
	}
}

func TestCommitRejectsInvalidResult(t *testing.T) {
	s := tempDB(t)
	bad := []solver.ConstraintResults{{Constraint: "tec", Results: []constraint.Result{
		{Vals: []float64{1, 2}, Weights: []float64{1}, Axes: "ant", Dims: []int{2}, Name: "tec"},
	}}}

	if _, err := s.CommitRun(sampleRun(), bad); err == nil {
		t.Fatal("expected error for mismatched weights")
	}
	runs, err := s.ListRuns(10)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 0 {
		t.Fatalf("expected rollback to leave no runs, got %d", len(runs))
	}
}

func TestCommitRejectsShapeMismatch(t *testing.T) {
	s := tempDB(t)
	run := sampleRun()
	run.Solutions = run.Solutions[:3]
	if _, err := s.CommitRun(run, nil); err == nil {
		t.Fatal("expected error for short solutions")
	}
}

func TestFlaggedCountsNonFinite(t *testing.T) {
	s := tempDB(t)
	run := sampleRun()
	run.Solutions[1] = complex(math.NaN(), 0)
	run.Solutions[3] = complex(0, math.Inf(-1))

	rec, err := s.CommitRun(run, nil)
	if err != nil {
		t.Fatalf("CommitRun: %v", err)
	}
	got, err := s.GetRun(rec.RunID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Flagged != 2 {
		t.Fatalf("expected 2 flagged, got %d", got.Flagged)
	}
	if !math.IsNaN(real(got.Solutions[1])) {
		t.Fatalf("expected NaN to survive the round trip, got %v", got.Solutions[1])
	}
}

func TestActiveRunAndSetActive(t *testing.T) {
	s := tempDB(t)

	if _, err := s.GetActive(); err == nil {
		t.Fatal("expected error before any run")
	}

	first, err := s.CommitRun(sampleRun(), nil)
	if err != nil {
		t.Fatalf("CommitRun: %v", err)
	}
	second := sampleRun()
	second.ParentID = first.RunID
	second, err = s.CommitRun(second, nil)
	if err != nil {
		t.Fatalf("CommitRun: %v", err)
	}

	active, err := s.GetActive()
	if err != nil {
		t.Fatalf("GetActive: %v", err)
	}
	if active.RunID != second.RunID || active.ParentID != first.RunID {
		t.Fatalf("unexpected active run %s (parent %s)", active.RunID, active.ParentID)
	}

	if err := s.SetActive(first.RunID); err != nil {
		t.Fatalf("SetActive: %v", err)
	}
	active, _ = s.GetActive()
	if active.RunID != first.RunID {
		t.Fatalf("expected %s after SetActive, got %s", first.RunID, active.RunID)
	}

	if err := s.SetActive("missing"); err == nil {
		t.Fatal("expected error for unknown run")
	}
}

func TestUnknownParentRejected(t *testing.T) {
	s := tempDB(t)
	run := sampleRun()
	run.ParentID = "does-not-exist"
	if _, err := s.CommitRun(run, nil); err == nil {
		t.Fatal("expected foreign key error")
	}
}

func TestListRunsLimit(t *testing.T) {
	s := tempDB(t)
	for i := 0; i < 3; i++ {
		if _, err := s.CommitRun(sampleRun(), nil); err != nil {
			t.Fatalf("CommitRun: %v", err)
		}
	}
	runs, err := s.ListRuns(2)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
}

func TestComplexEncoding(t *testing.T) {
	in := []complex128{complex(1.5, -2), 0, complex(math.MaxFloat64, math.SmallestNonzeroFloat64)}
	out := decodeComplex(encodeComplex(in))
	if diff := cmp.Diff(in, out); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}
