package config

import "fmt"

// #region caltype
// CalType selects what kind of solution is calibrated.
type CalType string

const (
	CalScalar              CalType = "scalar"
	CalScalarPhase         CalType = "scalarphase"
	CalScalarAmplitude     CalType = "scalaramplitude"
	CalDiagonal            CalType = "diagonal"
	CalDiagonalPhase       CalType = "diagonalphase"
	CalDiagonalAmplitude   CalType = "diagonalamplitude"
	CalFullJones           CalType = "fulljones"
	CalTEC                 CalType = "tec"
	CalTECAndPhase         CalType = "tecandphase"
	CalTECScreen           CalType = "tecscreen"
	CalRotation            CalType = "rotation"
	CalRotationAndDiagonal CalType = "rotation+diagonal"
)

var calTypes = []CalType{
	CalScalar, CalScalarPhase, CalScalarAmplitude,
	CalDiagonal, CalDiagonalPhase, CalDiagonalAmplitude,
	CalFullJones, CalTEC, CalTECAndPhase, CalTECScreen,
	CalRotation, CalRotationAndDiagonal,
}

// ParseCalType maps a mode name to a CalType.
func ParseCalType(s string) (CalType, error) {
	for _, c := range calTypes {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: calibration mode %q", ErrUnsupported, s)
}

// NPolarizations is the number of solution polarizations the mode solves for.
func (c CalType) NPolarizations() int {
	switch c {
	case CalDiagonal, CalDiagonalPhase, CalDiagonalAmplitude:
		return 2
	case CalFullJones, CalRotation, CalRotationAndDiagonal:
		return 4
	}
	return 1
}

// IsPhaseMode reports whether only phases are solved for.
func (c CalType) IsPhaseMode() bool {
	switch c {
	case CalScalarPhase, CalDiagonalPhase, CalTEC, CalTECAndPhase, CalTECScreen:
		return true
	}
	return false
}

// IsTECMode reports whether solutions are parametrized by TEC.
func (c CalType) IsTECMode() bool {
	return c == CalTEC || c == CalTECAndPhase || c == CalTECScreen
}

// #endregion caltype
