package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var (
	// ErrUnsupported marks a calibration mode or algorithm that cannot be built.
	ErrUnsupported = errors.New("unsupported configuration")
	// ErrIncompatible marks settings that contradict each other.
	ErrIncompatible = errors.New("incompatible configuration")
	// ErrInvalid marks a setting outside its allowed range.
	ErrInvalid = errors.New("invalid configuration")
)

// #region settings
// Settings holds the calibration configuration for one run.
type Settings struct {
	Mode            CalType `yaml:"mode" json:"mode" validate:"caltype"`
	SolverAlgorithm string  `yaml:"solveralgorithm" json:"solveralgorithm" validate:"required"`
	MaxIterations   int     `yaml:"maxiter" json:"maxiter" validate:"gte=1"`
	Tolerance       float64 `yaml:"tolerance" json:"tolerance" validate:"gt=0"`
	StepSize        float64 `yaml:"stepsize" json:"stepsize" validate:"gt=0,lte=1"`
	DetectStalling  bool    `yaml:"detectstalling" json:"detectstalling"`
	NThreads        int     `yaml:"nthreads" json:"nthreads" validate:"gte=0"`

	// SolutionsPerDirection defaults to one sub-solution per direction when empty.
	SolutionsPerDirection []uint32 `yaml:"solutions_per_direction" json:"solutions_per_direction" validate:"dive,gte=1"`

	ApproximateTEC      bool    `yaml:"approximatetec" json:"approximatetec"`
	MaxApproxIterations int     `yaml:"maxapproxiter" json:"maxapproxiter" validate:"gte=0"`
	MaxTEC              float64 `yaml:"maxtec" json:"maxtec" validate:"gte=0"`
	PhaseReference      bool    `yaml:"phasereference" json:"phasereference"`

	CoreConstraint    float64    `yaml:"coreconstraint" json:"coreconstraint" validate:"gte=0"`
	AntennaConstraint [][]string `yaml:"antennaconstraint" json:"antennaconstraint" validate:"dive,min=2"`

	SmoothnessConstraint   float64   `yaml:"smoothnessconstraint" json:"smoothnessconstraint" validate:"gte=0"`
	SmoothnessRefFrequency float64   `yaml:"smoothnessreffrequency" json:"smoothnessreffrequency" validate:"gte=0"`
	SmoothnessRefDistance  float64   `yaml:"smoothnessrefdistance" json:"smoothnessrefdistance" validate:"gte=0"`
	SmoothnessDDFactors    []float64 `yaml:"smoothness_dd_factors" json:"smoothness_dd_factors" validate:"dive,gt=0"`

	RotationDiagonalMode string `yaml:"rotationdiagonalmode" json:"rotationdiagonalmode"`
}

// DefaultSettings returns sensible defaults for a scalar solve.
func DefaultSettings() Settings {
	return Settings{
		Mode:                CalScalar,
		SolverAlgorithm:     "directionsolve",
		MaxIterations:       50,
		Tolerance:           1e-5,
		StepSize:            0.2,
		MaxApproxIterations: 20,
	}
}

// #endregion settings

// #region load
// Load reads YAML settings on top of the defaults, applies environment
// overrides and validates the result.
func Load(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("read settings %s: %w", path, err)
	}
	s, err := Parse(data)
	if err != nil {
		return Settings{}, fmt.Errorf("settings %s: %w", path, err)
	}
	return s, nil
}

// Parse decodes YAML settings on top of the defaults.
func Parse(data []byte) (Settings, error) {
	s := DefaultSettings()
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Settings{}, fmt.Errorf("parse: %w", err)
	}
	if err := ApplyEnv(&s); err != nil {
		return Settings{}, err
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// #endregion load

// #region env
// ApplyEnv overrides settings from DDECAL_* environment variables.
func ApplyEnv(s *Settings) error {
	if v := os.Getenv("DDECAL_MODE"); v != "" {
		s.Mode = CalType(v)
	}
	if v := os.Getenv("DDECAL_SOLVER_ALGORITHM"); v != "" {
		s.SolverAlgorithm = v
	}
	if err := envInt("DDECAL_MAX_ITERATIONS", &s.MaxIterations); err != nil {
		return err
	}
	if err := envInt("DDECAL_THREADS", &s.NThreads); err != nil {
		return err
	}
	if err := envFloat("DDECAL_TOLERANCE", &s.Tolerance); err != nil {
		return err
	}
	return envFloat("DDECAL_STEP_SIZE", &s.StepSize)
}

func envInt(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%w: %s=%q: %v", ErrInvalid, key, v, err)
	}
	*dst = n
	return nil
}

func envFloat(key string, dst *float64) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("%w: %s=%q: %v", ErrInvalid, key, v, err)
	}
	*dst = f
	return nil
}

// #endregion env

// #region validate
var validate *validator.Validate

func init() {
	v, err := newValidator()
	if err != nil {
		panic(fmt.Sprintf("config: %v", err))
	}
	validate = v
}

func newValidator() (*validator.Validate, error) {
	v := validator.New()
	err := v.RegisterValidation("caltype", func(fl validator.FieldLevel) bool {
		_, err := ParseCalType(fl.Field().String())
		return err == nil
	})
	if err != nil {
		return nil, fmt.Errorf("register caltype validation: %w", err)
	}
	return v, nil
}

// Validate checks every field against its allowed range.
func (s Settings) Validate() error {
	if err := validate.Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			if fe.Tag() == "caltype" {
				return fmt.Errorf("%w: calibration mode %q", ErrUnsupported, s.Mode)
			}
			return fmt.Errorf("%w: %s fails %q (value %v)", ErrInvalid, fe.Namespace(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// #endregion validate
