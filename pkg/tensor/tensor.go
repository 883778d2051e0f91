// Package tensor describes dense numeric arrays exchanged with the compute
// step: embeddings, logits and masks.
package tensor

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Version is the descriptor format version written by this package.
const Version = 1

// DType is the element type of a tensor.
type DType string

// Supported element types.
const (
	Float16 DType = "float16"
	Float32 DType = "float32"
	Float64 DType = "float64"
	Int32   DType = "int32"
	Int64   DType = "int64"
	Uint8   DType = "uint8"
	Bool    DType = "bool"
)

var (
	// ErrUnknownDType is returned for element types outside the supported set.
	ErrUnknownDType = errors.New("unknown dtype")
	// ErrShapeMismatch is returned when the data length disagrees with the shape.
	ErrShapeMismatch = errors.New("data length does not match shape")
)

// Width returns the size of one element in bytes, or 0 for unknown types.
func (d DType) Width() int {
	switch d {
	case Uint8, Bool:
		return 1
	case Float16:
		return 2
	case Float32, Int32:
		return 4
	case Float64, Int64:
		return 8
	default:
		return 0
	}
}

// Tensor is a little-endian, row-major dense array.
type Tensor struct {
	Version int    `cbor:"v" json:"v"`
	Shape   []int  `cbor:"shape" json:"shape"`
	DType   DType  `cbor:"dtype" json:"dtype"`
	Data    []byte `cbor:"data" json:"data"`
}

// ElementCount returns the product of the shape dimensions.
func (t *Tensor) ElementCount() int {
	if t == nil {
		return 0
	}
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// ByteSize returns element count times element width. It is the figure the
// embedding cache charges against its memory budget.
func (t *Tensor) ByteSize() int64 {
	if t == nil {
		return 0
	}
	return int64(t.ElementCount()) * int64(t.DType.Width())
}

// Validate checks the dtype, dimensions and data length.
func (t *Tensor) Validate() error {
	if t == nil {
		return errors.New("nil tensor")
	}
	if t.DType.Width() == 0 {
		return fmt.Errorf("%w: %q", ErrUnknownDType, t.DType)
	}
	for i, d := range t.Shape {
		if d < 0 {
			return fmt.Errorf("negative dimension %d at axis %d", d, i)
		}
	}
	if int64(len(t.Data)) != t.ByteSize() {
		return fmt.Errorf("%w: shape %v dtype %s wants %d bytes, have %d",
			ErrShapeMismatch, t.Shape, t.DType, t.ByteSize(), len(t.Data))
	}
	return nil
}

// FromFloat32 builds a float32 tensor from values laid out in row-major order.
func FromFloat32(shape []int, values []float32) (*Tensor, error) {
	data := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(v))
	}
	t := &Tensor{Version: Version, Shape: append([]int(nil), shape...), DType: Float32, Data: data}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// Float32s decodes the data of a float32 tensor.
func (t *Tensor) Float32s() ([]float32, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("tensor has dtype %s, want %s", t.DType, Float32)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	out := make([]float32, len(t.Data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(t.Data[i*4:]))
	}
	return out, nil
}
