package replay

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

// #region fixture-tests

// runFixture loads a fixture, replays it and compares each interval against
// the expected outcome. These are the regression tests for the solve loop and
// the constraint wiring.
func runFixture(t *testing.T, name string) {
	t.Helper()
	f, err := LoadFixture(filepath.Join("testdata", name))
	if err != nil {
		t.Fatalf("LoadFixture: %v", err)
	}
	intervals, err := f.ToIntervals()
	if err != nil {
		t.Fatalf("ToIntervals: %v", err)
	}

	results, err := Replay(context.Background(), f.ToReplayConfig(), intervals)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(results) != len(f.ExpectedResults) {
		t.Fatalf("expected %d results, got %d", len(f.ExpectedResults), len(results))
	}

	for i, expected := range f.ExpectedResults {
		actual := results[i]
		if actual.ID != expected.ID {
			t.Errorf("interval %d: expected id=%s, got %s", i, expected.ID, actual.ID)
		}
		if actual.Outcome != expected.Outcome {
			t.Errorf("interval %d (%s): expected outcome=%s, got %s (reason: %s)",
				i, expected.ID, expected.Outcome, actual.Outcome, actual.Reason)
		}
		if expected.Iterations != 0 && actual.Iterations != expected.Iterations {
			t.Errorf("interval %d (%s): expected %d iterations, got %d",
				i, expected.ID, expected.Iterations, actual.Iterations)
		}
		for _, name := range expected.Results {
			if !hasResult(actual, name) {
				t.Errorf("interval %d (%s): missing result %q", i, expected.ID, name)
			}
		}
	}
}

func hasResult(r ReplayResult, name string) bool {
	for _, cr := range r.Results {
		for _, res := range cr.Results {
			if res.Name == name {
				return true
			}
		}
	}
	return false
}

func TestFixture_TECSession(t *testing.T) {
	runFixture(t, "tec_session.json")
}

func TestFixture_ScalarSession(t *testing.T) {
	runFixture(t, "scalar_session.json")
}

func TestFixture_RotationSessionYAML(t *testing.T) {
	runFixture(t, "rotation_session.yaml")
}

func TestLoadFixture_KeepsDefaults(t *testing.T) {
	f, err := LoadFixture(filepath.Join("testdata", "scalar_session.json"))
	if err != nil {
		t.Fatalf("LoadFixture: %v", err)
	}
	if f.Settings.SolverAlgorithm != "directionsolve" {
		t.Errorf("expected default solver algorithm, got %q", f.Settings.SolverAlgorithm)
	}
	if f.Settings.Tolerance != 1e-5 {
		t.Errorf("expected default tolerance, got %g", f.Settings.Tolerance)
	}
	if got := f.Shape(); got.NSubSolutions != 2 || got.NAntennas != 2 || got.NPolarizations != 1 {
		t.Errorf("unexpected shape %+v", got)
	}
}

func TestLoadFixture_Weights(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weighted.yaml")
	doc := `
settings:
  mode: tec
antennas:
  - {name: CS001, position: [0, 0, 0]}
  - {name: CS002, position: [50, 0, 0]}
directions:
  - {name: A}
frequencies: [1.3e8, 1.4e8]
weights: [1, 1, 0, 0]
sub_solution_weights:
  - [1, 2, 3, 4]
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	f, err := LoadFixture(path)
	if err != nil {
		t.Fatalf("LoadFixture: %v", err)
	}
	cfg := f.ToReplayConfig()
	if len(cfg.Weights) != 4 || cfg.Weights[2] != 0 {
		t.Errorf("unexpected weights %v", cfg.Weights)
	}
	if len(cfg.SubSolutionWeights) != 1 || cfg.SubSolutionWeights[0][3] != 4 {
		t.Errorf("unexpected sub-solution weights %v", cfg.SubSolutionWeights)
	}
}

func TestLoadFixture_Missing(t *testing.T) {
	if _, err := LoadFixture(filepath.Join("testdata", "missing.json")); err == nil {
		t.Fatal("expected error for missing fixture")
	}
}

// #endregion fixture-tests
