package replay

import (
	"encoding/json"
	"fmt"
	"math"
	"math/cmplx"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/danielpatrickdp/ddecal/go-controller/internal/config"
	"github.com/danielpatrickdp/ddecal/go-controller/internal/constraint"
	"github.com/danielpatrickdp/ddecal/go-controller/internal/solutions"
)

// #region fixture-types

// Fixture is the top-level structure of a replay fixture.
type Fixture struct {
	Description        string                  `json:"description" yaml:"description"`
	Settings           config.Settings         `json:"settings" yaml:"settings"`
	Antennas           []solutions.Antenna     `json:"antennas" yaml:"antennas"`
	Directions         []solutions.Direction   `json:"directions" yaml:"directions"`
	Frequencies        []float64               `json:"frequencies" yaml:"frequencies"`
	PropagateSolutions bool                    `json:"propagate_solutions" yaml:"propagate_solutions"`
	Weights            []float64               `json:"weights,omitempty" yaml:"weights,omitempty"`
	SubSolutionWeights [][]float64             `json:"sub_solution_weights,omitempty" yaml:"sub_solution_weights,omitempty"`
	Intervals          []FixtureInterval       `json:"intervals" yaml:"intervals"`
	ExpectedResults    []FixtureExpectedResult `json:"expected_results" yaml:"expected_results"`
}

// FixtureInterval is one solution interval and the gains the stepper proposes.
type FixtureInterval struct {
	ID     string        `json:"id" yaml:"id"`
	Time   float64       `json:"time" yaml:"time"`
	Target FixtureTarget `json:"target" yaml:"target"`
}

// FixtureTarget describes the proposed gains.
//
//	unit:      unit diagonal gains (also the empty kind)
//	constant:  every diagonal gain is Value
//	tec:       diagonal gains exp(i * TECPhaseFactor * TEC[ant] / freq)
//	values:    explicit re/im pairs in solution order
//	nonfinite: every gain is NaN
type FixtureTarget struct {
	Kind   string       `json:"kind" yaml:"kind"`
	Value  [2]float64   `json:"value" yaml:"value"`
	TEC    []float64    `json:"tec" yaml:"tec"`
	Values [][2]float64 `json:"values" yaml:"values"`
}

// FixtureExpectedResult captures the expected outcome per interval. Zero
// Iterations are not checked.
type FixtureExpectedResult struct {
	ID         string   `json:"id" yaml:"id"`
	Outcome    string   `json:"outcome" yaml:"outcome"`
	Iterations int      `json:"iterations" yaml:"iterations"`
	Results    []string `json:"results" yaml:"results"`
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads a JSON or YAML fixture file. Settings not named in the
// file keep their defaults.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	f := Fixture{Settings: config.DefaultSettings()}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &f)
	default:
		err = json.Unmarshal(data, &f)
	}
	if err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	return &f, nil
}

// ToReplayConfig converts the fixture geometry and settings to a ReplayConfig.
func (f *Fixture) ToReplayConfig() ReplayConfig {
	return ReplayConfig{
		Settings:           f.Settings,
		Antennas:           f.Antennas,
		Directions:         f.Directions,
		Frequencies:        f.Frequencies,
		PropagateSolutions: f.PropagateSolutions,
		Weights:            f.Weights,
		SubSolutionWeights: f.SubSolutionWeights,
	}
}

// Shape returns the solution shape implied by the fixture.
func (f *Fixture) Shape() solutions.Shape {
	return ReplayConfig{Settings: f.Settings, Antennas: f.Antennas, Directions: f.Directions, Frequencies: f.Frequencies}.Shape()
}

// ToIntervals builds the domain intervals with their target solutions.
func (f *Fixture) ToIntervals() ([]Interval, error) {
	shape := f.Shape()
	out := make([]Interval, len(f.Intervals))
	for i, fi := range f.Intervals {
		target, err := fi.Target.build(shape, f.Frequencies)
		if err != nil {
			return nil, fmt.Errorf("interval %s: %w", fi.ID, err)
		}
		out[i] = Interval{ID: fi.ID, Time: fi.Time, Target: target}
	}
	return out, nil
}

func (t FixtureTarget) build(shape solutions.Shape, freqs []float64) (solutions.Span, error) {
	sp := solutions.Allocate(shape)
	switch t.Kind {
	case "", "unit":
		fillDiagonal(sp, func(int, int) complex128 { return 1 })
	case "constant":
		fillDiagonal(sp, func(int, int) complex128 { return complex(t.Value[0], t.Value[1]) })
	case "tec":
		if len(t.TEC) != shape.NAntennas {
			return solutions.Span{}, fmt.Errorf("%d TEC values for %d antennas", len(t.TEC), shape.NAntennas)
		}
		fillDiagonal(sp, func(ch, ant int) complex128 {
			return cmplx.Exp(complex(0, constraint.TECPhaseFactor*t.TEC[ant]/freqs[ch]))
		})
	case "values":
		if len(t.Values) != sp.Len() {
			return solutions.Span{}, fmt.Errorf("%d values for %d solutions", len(t.Values), sp.Len())
		}
		for i, v := range t.Values {
			sp.Data()[i] = complex(v[0], v[1])
		}
	case "nonfinite":
		sp.Fill(complex(math.NaN(), 0))
	default:
		return solutions.Span{}, fmt.Errorf("unknown target kind %q", t.Kind)
	}
	return sp, nil
}

// fillDiagonal sets the diagonal polarizations of every gain to gain(ch, ant)
// and the off-diagonal ones to zero.
func fillDiagonal(sp solutions.Span, gain func(ch, ant int) complex128) {
	sh := sp.Shape()
	for ch := 0; ch < sh.NChannelBlocks; ch++ {
		for ant := 0; ant < sh.NAntennas; ant++ {
			g := gain(ch, ant)
			for sub := 0; sub < sh.NSubSolutions; sub++ {
				pols := sp.Gains(ch, ant, sub)
				for p := range pols {
					pols[p] = 0
					if isDiagonal(p, len(pols)) {
						pols[p] = g
					}
				}
			}
		}
	}
}

func isDiagonal(pol, nPol int) bool {
	return nPol != 4 || pol == 0 || pol == 3
}

// #endregion fixture-loader
