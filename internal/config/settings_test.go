package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSettingsValid(t *testing.T) {
	require.NoError(t, DefaultSettings().Validate())
}

func TestParseOverridesDefaults(t *testing.T) {
	s, err := Parse([]byte(`
mode: tecandphase
maxiter: 120
approximatetec: true
smoothnessconstraint: 2.0e6
antennaconstraint:
  - [CS001, CS002]
solutions_per_direction: [1, 3]
`))
	require.NoError(t, err)
	assert.Equal(t, CalTECAndPhase, s.Mode)
	assert.Equal(t, 120, s.MaxIterations)
	assert.True(t, s.ApproximateTEC)
	assert.Equal(t, 2.0e6, s.SmoothnessConstraint)
	assert.Equal(t, [][]string{{"CS001", "CS002"}}, s.AntennaConstraint)
	assert.Equal(t, []uint32{1, 3}, s.SolutionsPerDirection)
	assert.Equal(t, DefaultSettings().StepSize, s.StepSize)
}

func TestParseRejectsUnknownMode(t *testing.T) {
	_, err := Parse([]byte("mode: gainonly\n"))
	assert.True(t, errors.Is(err, ErrUnsupported), "got %v", err)
}

func TestNewValidatorRegistersCalType(t *testing.T) {
	v, err := newValidator()
	require.NoError(t, err)
	type modeOnly struct {
		Mode string `validate:"caltype"`
	}
	assert.NoError(t, v.Struct(modeOnly{Mode: "scalarphase"}))
	assert.Error(t, v.Struct(modeOnly{Mode: "gainonly"}))
}

func TestValidateRanges(t *testing.T) {
	cases := []struct {
		name   string
		modify func(*Settings)
	}{
		{"zero iterations", func(s *Settings) { s.MaxIterations = 0 }},
		{"zero tolerance", func(s *Settings) { s.Tolerance = 0 }},
		{"step too large", func(s *Settings) { s.StepSize = 1.5 }},
		{"negative smoothness", func(s *Settings) { s.SmoothnessConstraint = -1 }},
		{"singleton antenna group", func(s *Settings) { s.AntennaConstraint = [][]string{{"CS001"}} }},
		{"zero sub-solutions", func(s *Settings) { s.SolutionsPerDirection = []uint32{1, 0} }},
		{"zero dd factor", func(s *Settings) { s.SmoothnessDDFactors = []float64{1, 0} }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := DefaultSettings()
			tc.modify(&s)
			err := s.Validate()
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("DDECAL_MODE", "diagonal")
	t.Setenv("DDECAL_MAX_ITERATIONS", "7")
	t.Setenv("DDECAL_TOLERANCE", "0.001")
	s := DefaultSettings()
	require.NoError(t, ApplyEnv(&s))
	assert.Equal(t, CalDiagonal, s.Mode)
	assert.Equal(t, 7, s.MaxIterations)
	assert.Equal(t, 0.001, s.Tolerance)

	t.Setenv("DDECAL_THREADS", "many")
	assert.ErrorIs(t, ApplyEnv(&s), ErrInvalid)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mode: fulljones\nstepsize: 0.5\n"), 0o644))
	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, CalFullJones, s.Mode)
	assert.Equal(t, 0.5, s.StepSize)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestCalTypePolarizations(t *testing.T) {
	cases := map[CalType]int{
		CalScalar:              1,
		CalTEC:                 1,
		CalDiagonalPhase:       2,
		CalFullJones:           4,
		CalRotationAndDiagonal: 4,
	}
	for c, want := range cases {
		assert.Equal(t, want, c.NPolarizations(), string(c))
	}
	assert.True(t, CalTEC.IsPhaseMode())
	assert.False(t, CalScalarAmplitude.IsPhaseMode())
	assert.True(t, CalTECAndPhase.IsTECMode())
}
