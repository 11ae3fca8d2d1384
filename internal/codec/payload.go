package codec

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/ddecal/go-controller/internal/solutions"
)

// ErrPayload is returned for a malformed step request or response.
var ErrPayload = errors.New("malformed step payload")

// #region encode
func encodeRequest(channelBlock int, current solutions.Span) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"channel_block": structpb.NewNumberValue(float64(channelBlock)),
		"shape":         shapeValue(current.Shape()),
		"current":       valuesValue(current.Data()),
	}}
}

func encodeResponse(next solutions.Span) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"next": valuesValue(next.Data()),
	}}
}

func shapeValue(sh solutions.Shape) *structpb.Value {
	dims := sh.Dims()
	vals := make([]*structpb.Value, len(dims))
	for i, d := range dims {
		vals[i] = structpb.NewNumberValue(float64(d))
	}
	return structpb.NewListValue(&structpb.ListValue{Values: vals})
}

// valuesValue interleaves real and imaginary parts.
func valuesValue(data []complex128) *structpb.Value {
	vals := make([]*structpb.Value, 0, 2*len(data))
	for _, c := range data {
		vals = append(vals, structpb.NewNumberValue(real(c)), structpb.NewNumberValue(imag(c)))
	}
	return structpb.NewListValue(&structpb.ListValue{Values: vals})
}

// #endregion encode

// #region decode
func decodeRequest(in *structpb.Struct) (int, solutions.Span, error) {
	fields := in.GetFields()
	ch, ok := fields["channel_block"]
	if !ok {
		return 0, solutions.Span{}, fmt.Errorf("%w: missing channel_block", ErrPayload)
	}
	shape, err := decodeShape(fields["shape"])
	if err != nil {
		return 0, solutions.Span{}, err
	}
	current := fields["current"]
	if n := len(current.GetListValue().GetValues()); n%2 != 0 || n/2 != shape.Size() {
		return 0, solutions.Span{}, fmt.Errorf("%w: %d numbers for shape %v", ErrPayload, n, shape.Dims())
	}
	data := make([]complex128, shape.Size())
	if err := decodeValues(current, data); err != nil {
		return 0, solutions.Span{}, err
	}
	span, err := solutions.NewSpan(data, shape)
	if err != nil {
		return 0, solutions.Span{}, err
	}
	return int(ch.GetNumberValue()), span, nil
}

func decodeShape(v *structpb.Value) (solutions.Shape, error) {
	dims := v.GetListValue().GetValues()
	if len(dims) != 4 {
		return solutions.Shape{}, fmt.Errorf("%w: shape has %d dimensions", ErrPayload, len(dims))
	}
	n := make([]int, 4)
	for i, d := range dims {
		f := d.GetNumberValue()
		if !(f >= 0 && f <= math.MaxInt32) || f != math.Trunc(f) {
			return solutions.Shape{}, fmt.Errorf("%w: invalid dimension %g", ErrPayload, f)
		}
		n[i] = int(f)
	}
	shape := solutions.Shape{NChannelBlocks: n[0], NAntennas: n[1], NSubSolutions: n[2], NPolarizations: n[3]}
	if err := shape.Validate(); err != nil {
		return solutions.Shape{}, fmt.Errorf("%w: %v", ErrPayload, err)
	}
	return shape, nil
}

func decodeValues(v *structpb.Value, dst []complex128) error {
	vals := v.GetListValue().GetValues()
	if len(vals) != 2*len(dst) {
		return fmt.Errorf("%w: %d numbers for %d complex values", ErrPayload, len(vals), len(dst))
	}
	for i := range dst {
		dst[i] = complex(vals[2*i].GetNumberValue(), vals[2*i+1].GetNumberValue())
	}
	return nil
}

// #endregion decode
