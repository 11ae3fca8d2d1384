package constraint

import (
	"bytes"
	"math"
	"math/cmplx"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/ddecal/go-controller/internal/solutions"
)

const tol = 1e-9

func TestAntennaConstraintAveragesGroup(t *testing.T) {
	c := NewAntennaConstraint([][]int{{0, 2}})
	require.NoError(t, c.Initialize(3, []uint32{1}, []float64{1e8}))
	sol := solutions.Allocate(solutions.Shape{NChannelBlocks: 1, NAntennas: 3, NSubSolutions: 1, NPolarizations: 1})
	sol.Set(0, 0, 0, 0, 1)
	sol.Set(0, 1, 0, 0, 10)
	sol.Set(0, 2, 0, 0, 3i)

	res, err := c.Apply(sol, 0, nil)
	require.NoError(t, err)
	assert.Empty(t, res)
	assert.Equal(t, complex(0.5, 1.5), sol.At(0, 0, 0, 0))
	assert.Equal(t, complex(0.5, 1.5), sol.At(0, 2, 0, 0))
	assert.Equal(t, complex(10, 0), sol.At(0, 1, 0, 0))
}

func TestAntennaConstraintSkipsNonFinite(t *testing.T) {
	c := NewAntennaConstraint([][]int{{0, 1}})
	require.NoError(t, c.Initialize(2, []uint32{1}, []float64{1e8}))
	sol := solutions.Allocate(solutions.Shape{NChannelBlocks: 1, NAntennas: 2, NSubSolutions: 1, NPolarizations: 1})
	sol.Set(0, 0, 0, 0, complex(math.NaN(), 0))
	sol.Set(0, 1, 0, 0, 2)
	_, err := c.Apply(sol, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, complex(2, 0), sol.At(0, 0, 0, 0))
}

func TestAntennaConstraintRejectsUnknownAntenna(t *testing.T) {
	c := NewAntennaConstraint([][]int{{0, 4}})
	err := c.Initialize(3, []uint32{1}, []float64{1e8})
	assert.ErrorIs(t, err, ErrInvalidDimensions)
}

func TestSmoothnessKeepsConstantAndFlattensNoise(t *testing.T) {
	freqs := []float64{100e6, 101e6, 102e6, 103e6, 104e6}
	c := NewSmoothnessConstraint(10e6, 0)
	require.NoError(t, c.Initialize(1, []uint32{1}, freqs))
	sol := solutions.Allocate(solutions.Shape{NChannelBlocks: 5, NAntennas: 1, NSubSolutions: 1, NPolarizations: 1})
	sol.Fill(2 + 1i)
	_, err := c.Apply(sol, 0, nil)
	require.NoError(t, err)
	for ch := range freqs {
		assert.InDelta(t, 2, real(sol.At(ch, 0, 0, 0)), tol)
		assert.InDelta(t, 1, imag(sol.At(ch, 0, 0, 0)), tol)
	}

	for ch := range freqs {
		sol.Set(ch, 0, 0, 0, complex(float64(ch%2), 0))
	}
	_, err = c.Apply(sol, 0, nil)
	require.NoError(t, err)
	spread := real(sol.At(1, 0, 0, 0)) - real(sol.At(2, 0, 0, 0))
	assert.Less(t, math.Abs(spread), 0.2)
}

func TestSmoothnessKernelWidensWithFrequency(t *testing.T) {
	// The middle channel holds a spike; a wider kernel pulls it further down.
	spikeAfterSmoothing := func(bandwidth, refFrequency float64, freqs []float64) float64 {
		t.Helper()
		c := NewSmoothnessConstraint(bandwidth, refFrequency)
		require.NoError(t, c.Initialize(1, []uint32{1}, freqs))
		sol := solutions.Allocate(solutions.Shape{NChannelBlocks: 3, NAntennas: 1, NSubSolutions: 1, NPolarizations: 1})
		sol.Set(1, 0, 0, 0, 1)
		_, err := c.Apply(sol, 0, nil)
		require.NoError(t, err)
		return real(sol.At(1, 0, 0, 0))
	}
	low := []float64{10e6, 11e6, 12e6}
	high := []float64{100e6, 101e6, 102e6}

	unscaled := spikeAfterSmoothing(1e6, 0, high)
	assert.InDelta(t, unscaled, spikeAfterSmoothing(1e6, 0, low), tol)

	atLow := spikeAfterSmoothing(1e6, 10e6, low)
	atHigh := spikeAfterSmoothing(1e6, 10e6, high)
	assert.Greater(t, atLow, 0.7)
	assert.Less(t, atLow, unscaled)
	assert.Less(t, atHigh, 0.5)

	// A reference above the band narrows the kernel.
	assert.Greater(t, spikeAfterSmoothing(1e6, 200e6, high), unscaled)
}

func TestSmoothnessFactorsValidated(t *testing.T) {
	c := NewSmoothnessConstraint(1e6, 0)
	require.NoError(t, c.Initialize(2, []uint32{1, 1}, []float64{1e8}))
	assert.Error(t, c.SetAntennaFactors([]float64{1}))
	assert.Error(t, c.SetAntennaFactors([]float64{1, 0}))
	assert.NoError(t, c.SetAntennaFactors([]float64{1, 0.5}))
	assert.Error(t, c.SetDirectionFactors([]float64{1}))
	assert.NoError(t, c.SetDirectionFactors([]float64{1, 2}))

	bad := NewSmoothnessConstraint(0, 0)
	assert.ErrorIs(t, bad.Initialize(1, []uint32{1}, []float64{1e8}), ErrInvalidDimensions)
}

func TestPhaseOnlyNormalisesAndReferences(t *testing.T) {
	c := NewPhaseOnlyConstraint(true)
	require.NoError(t, c.Initialize(2, []uint32{1}, []float64{1e8}))
	sol := solutions.Allocate(solutions.Shape{NChannelBlocks: 1, NAntennas: 2, NSubSolutions: 1, NPolarizations: 1})
	sol.Set(0, 0, 0, 0, cmplx.Rect(3, 0.5))
	sol.Set(0, 1, 0, 0, cmplx.Rect(0.2, 1.5))
	_, err := c.Apply(sol, 0, nil)
	require.NoError(t, err)
	assert.InDelta(t, 1, cmplx.Abs(sol.At(0, 0, 0, 0)), tol)
	assert.InDelta(t, 0, cmplx.Phase(sol.At(0, 0, 0, 0)), tol)
	assert.InDelta(t, 1, cmplx.Abs(sol.At(0, 1, 0, 0)), tol)
	assert.InDelta(t, 1.0, cmplx.Phase(sol.At(0, 1, 0, 0)), tol)
}

func TestPhaseOnlyReportsNonFinite(t *testing.T) {
	c := NewPhaseOnlyConstraint(false)
	require.NoError(t, c.Initialize(1, []uint32{1}, []float64{1e8}))
	sol := solutions.Allocate(solutions.Shape{NChannelBlocks: 1, NAntennas: 1, NSubSolutions: 1, NPolarizations: 2})
	sol.Set(0, 0, 0, 0, complex(math.Inf(1), 0))
	var stats bytes.Buffer
	_, err := c.Apply(sol, 0, &stats)
	require.NoError(t, err)
	assert.Contains(t, stats.String(), "1 non-finite")
	assert.Equal(t, complex(1, 0), sol.At(0, 0, 0, 1))
}

func TestAmplitudeOnly(t *testing.T) {
	c := NewAmplitudeOnlyConstraint()
	require.NoError(t, c.Initialize(1, []uint32{1}, []float64{1e8}))
	sol := solutions.Allocate(solutions.Shape{NChannelBlocks: 1, NAntennas: 1, NSubSolutions: 1, NPolarizations: 1})
	sol.Set(0, 0, 0, 0, 3+4i)
	_, err := c.Apply(sol, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, complex(5, 0), sol.At(0, 0, 0, 0))
}

func tecSolutions(freqs []float64, tecs []float64, offset float64) solutions.Span {
	sol := solutions.Allocate(solutions.Shape{NChannelBlocks: len(freqs), NAntennas: len(tecs), NSubSolutions: 1, NPolarizations: 1})
	for ch, f := range freqs {
		for ant, tec := range tecs {
			sol.Set(ch, ant, 0, 0, cmplx.Rect(1.3, TECPhaseFactor*tec/f+offset))
		}
	}
	return sol
}

func TestTECConstraintRecoversTEC(t *testing.T) {
	freqs := []float64{120e6, 130e6, 140e6, 150e6, 160e6, 170e6}
	tecs := []float64{0, 0.05, -0.12}
	c := NewTECConstraint(TECOnly, false)
	require.NoError(t, c.Initialize(len(tecs), []uint32{1}, freqs))
	sol := tecSolutions(freqs, tecs, 0)

	res, err := c.Apply(sol, 0, nil)
	require.NoError(t, err)
	require.Len(t, res, 1)
	require.NoError(t, res[0].Validate())
	assert.Equal(t, "tec", res[0].Name)
	assert.Equal(t, []int{3, 1, 1}, res[0].Dims)
	for ant, want := range tecs {
		assert.InDelta(t, want, res[0].Vals[ant], 1e-4, "antenna %d", ant)
		assert.InDelta(t, 6, res[0].Weights[ant], tol)
	}
	assert.InDelta(t, 1, cmplx.Abs(sol.At(0, 1, 0, 0)), tol)
}

func TestTECAndPhaseRecoversOffset(t *testing.T) {
	freqs := []float64{120e6, 135e6, 150e6, 165e6}
	c := NewTECConstraint(TECAndPhase, false)
	require.NoError(t, c.Initialize(1, []uint32{1}, freqs))
	sol := tecSolutions(freqs, []float64{0.08}, 0.7)
	res, err := c.Apply(sol, 0, nil)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "phase", res[1].Name)
	assert.InDelta(t, 0.08, res[0].Vals[0], 1e-4)
	assert.InDelta(t, 0.7, res[1].Vals[0], 1e-3)
}

func TestTECPhaseReferenceFitsRelativeTEC(t *testing.T) {
	freqs := []float64{120e6, 130e6, 140e6, 150e6, 160e6, 170e6}
	tecs := []float64{0.03, 0.05, -0.12}

	c := NewTECConstraint(TECOnly, false)
	require.NoError(t, c.Initialize(len(tecs), []uint32{1}, freqs))
	res, err := c.Apply(tecSolutions(freqs, tecs, 0), 0, nil)
	require.NoError(t, err)
	assert.InDelta(t, 0.03, res[0].Vals[0], 1e-4)

	c = NewTECConstraint(TECOnly, true)
	require.NoError(t, c.Initialize(len(tecs), []uint32{1}, freqs))
	sol := tecSolutions(freqs, tecs, 0)
	res, err = c.Apply(sol, 0, nil)
	require.NoError(t, err)
	for ant, tec := range tecs {
		assert.InDelta(t, tec-tecs[0], res[0].Vals[ant], 1e-4, "antenna %d", ant)
	}
	for ch := range freqs {
		assert.InDelta(t, 0, cmplx.Phase(sol.At(ch, 0, 0, 0)), 1e-6, "channel block %d", ch)
	}
}

func TestTECRejectsFullJones(t *testing.T) {
	c := NewTECConstraint(TECOnly, false)
	require.NoError(t, c.Initialize(1, []uint32{1}, []float64{1e8}))
	_, err := c.Apply(solutions.Allocate(solutions.Shape{NChannelBlocks: 1, NAntennas: 1, NSubSolutions: 1, NPolarizations: 4}), 0, nil)
	assert.ErrorIs(t, err, ErrPolarizations)
}

func TestTECUnfittedReportsZeroWeight(t *testing.T) {
	c := NewTECConstraint(TECOnly, false)
	require.NoError(t, c.Initialize(1, []uint32{1}, []float64{1e8, 2e8}))
	sol := solutions.Allocate(solutions.Shape{NChannelBlocks: 2, NAntennas: 1, NSubSolutions: 1, NPolarizations: 1})
	sol.Fill(complex(math.NaN(), 0))
	var stats bytes.Buffer
	res, err := c.Apply(sol, 0, &stats)
	require.NoError(t, err)
	assert.Zero(t, res[0].Weights[0])
	assert.Contains(t, stats.String(), "no finite weighted samples")
}

func TestApproximateTECStages(t *testing.T) {
	freqs := []float64{120e6, 140e6, 160e6}
	c := NewApproximateTECConstraint(TECOnly, false, 3)
	require.NoError(t, c.Initialize(1, []uint32{1}, freqs))
	assert.False(t, c.Satisfied())

	c.PrepareIteration(false, 0, false)
	assert.False(t, c.Satisfied())
	c.PrepareIteration(false, 2, false)
	assert.False(t, c.Satisfied())
	c.PrepareIteration(false, 3, false)
	assert.True(t, c.Satisfied())

	require.NoError(t, c.Initialize(1, []uint32{1}, freqs))
	assert.False(t, c.Satisfied())
	c.PrepareIteration(true, 0, false)
	assert.True(t, c.Satisfied())

	require.NoError(t, c.Initialize(1, []uint32{1}, freqs))
	c.PrepareIteration(false, 0, true)
	assert.True(t, c.Satisfied())
}

func TestApproximateTECCoarseThenExact(t *testing.T) {
	freqs := []float64{120e6, 130e6, 140e6, 150e6, 160e6}
	c := NewApproximateTECConstraint(TECOnly, false, 10)
	require.NoError(t, c.Initialize(1, []uint32{1}, freqs))

	sol := tecSolutions(freqs, []float64{0.0317}, 0)
	c.PrepareIteration(false, 0, false)
	res, err := c.Apply(sol, 0, nil)
	require.NoError(t, err)
	assert.InDelta(t, 0.0317, res[0].Vals[0], 0.05)

	sol = tecSolutions(freqs, []float64{0.0317}, 0)
	c.PrepareIteration(true, 1, false)
	res, err = c.Apply(sol, 0, nil)
	require.NoError(t, err)
	assert.InDelta(t, 0.0317, res[0].Vals[0], 1e-4)
}

func jones(theta float64, a, b complex128) []complex128 {
	j := make([]complex128, 4)
	setRotation(j, theta, a, b)
	return j
}

func TestRotationConstraintRecoversAngle(t *testing.T) {
	c := NewRotationConstraint()
	require.NoError(t, c.Initialize(1, []uint32{1}, []float64{1e8, 2e8}))
	sol := solutions.Allocate(solutions.Shape{NChannelBlocks: 2, NAntennas: 1, NSubSolutions: 1, NPolarizations: 4})
	copy(sol.Gains(0, 0, 0), jones(0.3, 2, 2))
	copy(sol.Gains(1, 0, 0), jones(-0.4, 1i, 1i))

	res, err := c.Apply(sol, 0, nil)
	require.NoError(t, err)
	require.Len(t, res, 1)
	require.NoError(t, res[0].Validate())
	assert.Equal(t, "ant,dir,freq", res[0].Axes)
	assert.InDelta(t, 0.3, res[0].Vals[0], tol)
	assert.InDelta(t, -0.4, res[0].Vals[1], tol)
	assert.InDelta(t, math.Cos(0.3), real(sol.At(0, 0, 0, 0)), tol)
	assert.InDelta(t, -math.Sin(0.3), real(sol.At(0, 0, 0, 1)), tol)
}

func TestRotationAndDiagonalRecoversParts(t *testing.T) {
	c := NewRotationAndDiagonalConstraint(DiagonalFull)
	require.NoError(t, c.Initialize(1, []uint32{1}, []float64{1e8}))
	sol := solutions.Allocate(solutions.Shape{NChannelBlocks: 1, NAntennas: 1, NSubSolutions: 1, NPolarizations: 4})
	a, b := cmplx.Rect(1.5, 0.2), cmplx.Rect(0.9, -0.1)
	copy(sol.Gains(0, 0, 0), jones(0.25, a, b))

	res, err := c.Apply(sol, 0, nil)
	require.NoError(t, err)
	require.Len(t, res, 3)
	for _, r := range res {
		require.NoError(t, r.Validate())
	}
	assert.Equal(t, "amplitude", res[1].Name)
	assert.Equal(t, []int{1, 1, 1, 2}, res[1].Dims)
	assert.InDelta(t, 1.5, res[1].Vals[0], 1e-6)
	assert.InDelta(t, 0.9, res[1].Vals[1], 1e-6)
	assert.InDelta(t, 0.2, res[2].Vals[0], 1e-6)
	assert.InDelta(t, -0.1, res[2].Vals[1], 1e-6)
}

func TestRotationAndDiagonalScalarPhase(t *testing.T) {
	c := NewRotationAndDiagonalConstraint(ScalarPhase)
	require.NoError(t, c.Initialize(1, []uint32{1}, []float64{1e8}))
	sol := solutions.Allocate(solutions.Shape{NChannelBlocks: 1, NAntennas: 1, NSubSolutions: 1, NPolarizations: 4})
	copy(sol.Gains(0, 0, 0), jones(0.1, cmplx.Rect(2, 0.3), cmplx.Rect(3, 0.3)))
	res, err := c.Apply(sol, 0, nil)
	require.NoError(t, err)
	assert.InDelta(t, 1, res[1].Vals[0], 1e-9)
	assert.InDelta(t, 1, res[1].Vals[1], 1e-9)
	assert.InDelta(t, 0.3, res[2].Vals[0], 1e-9)
}

func TestRotationAndDiagonalRestrictModes(t *testing.T) {
	const theta = 0.25
	a, b := cmplx.Rect(1.5, 0.2), cmplx.Rect(0.9, -0.1)
	mean := (a + b) / 2
	cases := []struct {
		mode         DiagonalMode
		wantA, wantB complex128
	}{
		{DiagonalPhase, cmplx.Rect(1, 0.2), cmplx.Rect(1, -0.1)},
		{DiagonalAmplitude, 1.5, 0.9},
		{DiagonalScalar, mean, mean},
		{ScalarAmplitude, 1.2, 1.2},
	}
	for _, tc := range cases {
		t.Run(string(tc.mode), func(t *testing.T) {
			c := NewRotationAndDiagonalConstraint(tc.mode)
			require.NoError(t, c.Initialize(1, []uint32{1}, []float64{1e8}))
			sol := solutions.Allocate(solutions.Shape{NChannelBlocks: 1, NAntennas: 1, NSubSolutions: 1, NPolarizations: 4})
			copy(sol.Gains(0, 0, 0), jones(theta, a, b))

			res, err := c.Apply(sol, 0, nil)
			require.NoError(t, err)
			require.Len(t, res, 3)
			assert.InDelta(t, theta, res[0].Vals[0], 1e-9)
			for pol, want := range []complex128{tc.wantA, tc.wantB} {
				assert.InDelta(t, cmplx.Abs(want), res[1].Vals[pol], 1e-9, "amplitude pol %d", pol)
				assert.InDelta(t, cmplx.Phase(want), res[2].Vals[pol], 1e-9, "phase pol %d", pol)
			}
			for i, want := range jones(theta, tc.wantA, tc.wantB) {
				got := sol.Gains(0, 0, 0)[i]
				assert.InDelta(t, real(want), real(got), 1e-9, "element %d", i)
				assert.InDelta(t, imag(want), imag(got), 1e-9, "element %d", i)
			}
		})
	}
}

func TestParseDiagonalMode(t *testing.T) {
	m, err := ParseDiagonalMode("")
	require.NoError(t, err)
	assert.Equal(t, DiagonalFull, m)
	_, err = ParseDiagonalMode("bogus")
	assert.Error(t, err)
}

func TestGoldenMax(t *testing.T) {
	x := goldenMax(func(x float64) float64 { return -(x - 0.3) * (x - 0.3) }, 0, 1, 60)
	assert.InDelta(t, 0.3, x, 1e-6)
}
