package constraint

import (
	"fmt"
	"io"
	"time"

	"github.com/danielpatrickdp/ddecal/go-controller/internal/solutions"
)

// #region base
// Base holds the dimensions shared by every constraint and the default
// behaviour: weights are ignored, PrepareIteration and GetTimings do nothing,
// and the constraint is always satisfied.
type Base struct {
	nAntennas             int
	nChannelBlocks        int
	nSubSolutions         int
	solutionsPerDirection []uint32
	frequencies           []float64

	applyTime time.Duration
}

// Initialize stores the run dimensions. Variants that need more state override
// it and call through first.
func (b *Base) Initialize(nAntennas int, solutionsPerDirection []uint32, frequencies []float64) error {
	if nAntennas <= 0 {
		return fmt.Errorf("%w: need at least one antenna, got %d", ErrInvalidDimensions, nAntennas)
	}
	if len(solutionsPerDirection) == 0 {
		return fmt.Errorf("%w: no directions", ErrInvalidDimensions)
	}
	if len(frequencies) == 0 {
		return fmt.Errorf("%w: no channel blocks", ErrInvalidDimensions)
	}
	var total int
	for _, n := range solutionsPerDirection {
		total += int(n)
	}
	if total == 0 {
		return fmt.Errorf("%w: directions have no sub-solutions", ErrInvalidDimensions)
	}

	b.nAntennas = nAntennas
	b.solutionsPerDirection = append([]uint32(nil), solutionsPerDirection...)
	b.frequencies = append([]float64(nil), frequencies...)
	b.nChannelBlocks = len(frequencies)
	b.nSubSolutions = total
	return nil
}

func (b *Base) SetWeights([]float64) {}
func (b *Base) SetSubSolutionWeights([][]float64) {}
func (b *Base) PrepareIteration(bool, int, bool) {}
func (b *Base) Satisfied() bool { return true }
func (b *Base) GetTimings(io.Writer, time.Duration) {}

func (b *Base) NAntennas() int { return b.nAntennas }
func (b *Base) NDirections() int { return len(b.solutionsPerDirection) }
func (b *Base) NSubSolutions() int { return b.nSubSolutions }
func (b *Base) NChannelBlocks() int { return b.nChannelBlocks }

// GetSubSolutions returns the number of sub-solutions of a direction, or 0 when
// the direction does not exist.
func (b *Base) GetSubSolutions(direction int) uint32 {
	if direction < 0 || direction >= len(b.solutionsPerDirection) {
		return 0
	}
	return b.solutionsPerDirection[direction]
}

// Frequencies returns the mean frequency of each channel block.
func (b *Base) Frequencies() []float64 { return b.frequencies }

// DirectionOf maps a sub-solution index to its direction. It returns -1 when
// the index is negative or not below NSubSolutions.
func (b *Base) DirectionOf(subSolution int) int {
	if subSolution < 0 {
		return -1
	}
	offset := 0
	for d, n := range b.solutionsPerDirection {
		offset += int(n)
		if subSolution < offset {
			return d
		}
	}
	return -1
}

// checkSpan verifies that sol matches the initialized dimensions.
func (b *Base) checkSpan(sol solutions.Span) error {
	if b.nAntennas == 0 {
		return ErrNotInitialized
	}
	sh := sol.Shape()
	if sh.NChannelBlocks != b.nChannelBlocks || sh.NAntennas != b.nAntennas || sh.NSubSolutions != b.nSubSolutions {
		return fmt.Errorf("%w: span %v, constraint expects [%d %d %d *]",
			solutions.ErrShapeMismatch, sh.Dims(), b.nChannelBlocks, b.nAntennas, b.nSubSolutions)
	}
	return nil
}

func (b *Base) track(start time.Time) {
	b.applyTime += time.Since(start)
}

// writeTimings prints the share of duration spent in Apply.
func (b *Base) writeTimings(w io.Writer, name string, duration time.Duration) {
	if w == nil {
		return
	}
	pct := 0.0
	if duration > 0 {
		pct = 100 * float64(b.applyTime) / float64(duration)
	}
	fmt.Fprintf(w, "%s: %s (%.1f%%)\n", name, b.applyTime.Round(time.Microsecond), pct)
}

// #endregion base

// #region weighted-base
// WeightedBase is a Base that keeps the weights it is given.
type WeightedBase struct {
	Base
	weights            []float64
	subSolutionWeights [][]float64
}

// SetWeights stores flat weights of size n_antennas * n_channel_blocks, channel fastest.
func (w *WeightedBase) SetWeights(weights []float64) {
	w.weights = append([]float64(nil), weights...)
}

// SetSubSolutionWeights stores one flat weight vector per sub-solution. When
// set, the flat weights are no longer consulted.
func (w *WeightedBase) SetSubSolutionWeights(weights [][]float64) {
	w.subSolutionWeights = make([][]float64, len(weights))
	for i, v := range weights {
		w.subSolutionWeights[i] = append([]float64(nil), v...)
	}
}

// Weight resolves the weight of one antenna, channel block and sub-solution.
func (w *WeightedBase) Weight(subSolution, antenna, channelBlock int) float64 {
	idx := antenna*w.nChannelBlocks + channelBlock
	if len(w.subSolutionWeights) > 0 {
		if subSolution < len(w.subSolutionWeights) && idx < len(w.subSolutionWeights[subSolution]) {
			return w.subSolutionWeights[subSolution][idx]
		}
		return 0
	}
	if len(w.weights) > 0 {
		if idx < len(w.weights) {
			return w.weights[idx]
		}
		return 0
	}
	return 1
}

// #endregion weighted-base
