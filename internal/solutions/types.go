package solutions

import (
	"errors"
	"fmt"
	"math"
)

// ErrShapeMismatch is returned when a buffer does not match the requested dimensions.
var ErrShapeMismatch = errors.New("solution shape mismatch")

// #region antenna
// Antenna is a used station with its position in ITRF metres.
type Antenna struct {
	Name     string     `json:"name" yaml:"name"`
	Position [3]float64 `json:"position" yaml:"position"`
}

// #endregion antenna

// #region direction
// Direction is a calibration direction on the sky, in radians.
type Direction struct {
	Name string  `json:"name,omitempty" yaml:"name,omitempty"`
	RA   float64 `json:"ra" yaml:"ra"`
	Dec  float64 `json:"dec" yaml:"dec"`
}

// #endregion direction

// #region shape
// Shape describes a solution tensor: channel block x antenna x sub-solution x polarization.
type Shape struct {
	NChannelBlocks int `json:"n_channel_blocks"`
	NAntennas      int `json:"n_antennas"`
	NSubSolutions  int `json:"n_sub_solutions"`
	NPolarizations int `json:"n_polarizations"`
}

// Size is the number of complex values covered by the shape.
func (s Shape) Size() int {
	return s.NChannelBlocks * s.NAntennas * s.NSubSolutions * s.NPolarizations
}

// Validate rejects negative dimensions and shapes whose Size does not fit in an int.
func (s Shape) Validate() error {
	n := 1
	for _, d := range s.Dims() {
		if d < 0 {
			return fmt.Errorf("%w: negative dimension in %v", ErrShapeMismatch, s.Dims())
		}
		if d != 0 && n > math.MaxInt/d {
			return fmt.Errorf("%w: shape %v is too large", ErrShapeMismatch, s.Dims())
		}
		n *= d
	}
	return nil
}

// Dims returns the shape as a slice, slowest varying first.
func (s Shape) Dims() []int {
	return []int{s.NChannelBlocks, s.NAntennas, s.NSubSolutions, s.NPolarizations}
}

// #endregion shape
