package solutions

import "fmt"

// #region span
// Span is a non-owning view over a contiguous solution buffer indexed
// [channel block][antenna][sub-solution][polarization], polarization fastest.
// The buffer belongs to the solver; constraints only ever receive a Span.
type Span struct {
	data  []complex128
	shape Shape
}

// NewSpan wraps data with the given shape. The buffer length must match exactly.
func NewSpan(data []complex128, shape Shape) (Span, error) {
	if err := shape.Validate(); err != nil {
		return Span{}, err
	}
	if len(data) != shape.Size() {
		return Span{}, fmt.Errorf("%w: buffer has %d values, shape %v needs %d",
			ErrShapeMismatch, len(data), shape.Dims(), shape.Size())
	}
	return Span{data: data, shape: shape}, nil
}

// Allocate creates a zeroed buffer of the given shape and returns a view on it.
func Allocate(shape Shape) Span {
	return Span{data: make([]complex128, shape.Size()), shape: shape}
}

// Shape returns the dimensions of the view.
func (s Span) Shape() Shape { return s.shape }

// Data exposes the underlying buffer. Writes are visible to every view on it.
func (s Span) Data() []complex128 { return s.data }

// Len is the number of complex values in the view.
func (s Span) Len() int { return len(s.data) }

// Index converts a 4D position into a flat offset.
func (s Span) Index(ch, ant, sub, pol int) int {
	return ((ch*s.shape.NAntennas+ant)*s.shape.NSubSolutions+sub)*s.shape.NPolarizations + pol
}

// At returns one value.
func (s Span) At(ch, ant, sub, pol int) complex128 {
	return s.data[s.Index(ch, ant, sub, pol)]
}

// Set writes one value.
func (s Span) Set(ch, ant, sub, pol int, v complex128) {
	s.data[s.Index(ch, ant, sub, pol)] = v
}

// Gains returns the polarization slice for one channel block, antenna and sub-solution.
// The returned slice aliases the buffer.
func (s Span) Gains(ch, ant, sub int) []complex128 {
	i := s.Index(ch, ant, sub, 0)
	return s.data[i : i+s.shape.NPolarizations : i+s.shape.NPolarizations]
}

// ChannelBlock returns the view of a single channel block. Views of different
// channel blocks never overlap, so they may be written concurrently.
func (s Span) ChannelBlock(ch int) Span {
	per := s.shape.NAntennas * s.shape.NSubSolutions * s.shape.NPolarizations
	sub := s.shape
	sub.NChannelBlocks = 1
	return Span{data: s.data[ch*per : (ch+1)*per : (ch+1)*per], shape: sub}
}

// CopyFrom copies all values from other, which must have the same shape.
func (s Span) CopyFrom(other Span) error {
	if s.shape != other.shape {
		return fmt.Errorf("%w: copy %v into %v", ErrShapeMismatch, other.shape.Dims(), s.shape.Dims())
	}
	copy(s.data, other.data)
	return nil
}

// Clone returns an owning deep copy.
func (s Span) Clone() Span {
	data := make([]complex128, len(s.data))
	copy(data, s.data)
	return Span{data: data, shape: s.shape}
}

// Fill sets every value to v.
func (s Span) Fill(v complex128) {
	for i := range s.data {
		s.data[i] = v
	}
}

// #endregion span
