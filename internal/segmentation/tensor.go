package segmentation

import "fmt"

// Tensor is a dense row-major float32 grid.
type Tensor struct {
	Shape []int
	Data  []float32
}

// NewTensor allocates a zeroed tensor of the given shape.
func NewTensor(shape ...int) *Tensor {
	s := make([]int, len(shape))
	copy(s, shape)
	return &Tensor{Shape: s, Data: make([]float32, volume(s))}
}

// Len returns the number of elements implied by the shape.
func (t *Tensor) Len() int {
	return volume(t.Shape)
}

// Validate reports whether the data length matches the shape.
func (t *Tensor) Validate() error {
	if t == nil {
		return fmt.Errorf("%w: nil tensor", ErrShape)
	}
	for _, d := range t.Shape {
		if d <= 0 {
			return fmt.Errorf("%w: non-positive dimension in %v", ErrShape, t.Shape)
		}
	}
	if len(t.Data) != t.Len() {
		return fmt.Errorf("%w: shape %v needs %d values, got %d", ErrShape, t.Shape, t.Len(), len(t.Data))
	}
	return nil
}

func volume(shape []int) int {
	if len(shape) == 0 {
		return 0
	}
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}
