package segmentation

import (
	"fmt"
	"math"
)

// ClassMask holds one class index per pixel, row-major.
type ClassMask struct {
	Height int
	Width  int
	Pix    []uint8
}

// NewClassMask allocates a zero-filled mask.
func NewClassMask(height, width int) *ClassMask {
	return &ClassMask{Height: height, Width: width, Pix: make([]uint8, height*width)}
}

// At returns the class of pixel (x, y).
func (m *ClassMask) At(x, y int) uint8 {
	return m.Pix[y*m.Width+x]
}

// Shape returns [height, width].
func (m *ClassMask) Shape() []int {
	return []int{m.Height, m.Width}
}

// Rows returns the mask as nested rows of ints, which is how it goes over JSON.
func (m *ClassMask) Rows() [][]int {
	rows := make([][]int, m.Height)
	for y := range rows {
		row := make([]int, m.Width)
		for x := range row {
			row[x] = int(m.Pix[y*m.Width+x])
		}
		rows[y] = row
	}
	return rows
}

// Histogram counts pixels per class for classes [0, numClasses).
func (m *ClassMask) Histogram(numClasses int) []int {
	counts := make([]int, numClasses)
	for _, c := range m.Pix {
		if int(c) < numClasses {
			counts[c]++
		}
	}
	return counts
}

// MaskFromRows is the inverse of Rows. Every value must fit a uint8 and rows
// must share a length.
func MaskFromRows(rows [][]int) (*ClassMask, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: empty mask", ErrShape)
	}
	m := NewClassMask(len(rows), len(rows[0]))
	for y, row := range rows {
		if len(row) != m.Width {
			return nil, fmt.Errorf("%w: row %d has %d values, want %d", ErrShape, y, len(row), m.Width)
		}
		for x, v := range row {
			if v < 0 || v > math.MaxUint8 {
				return nil, fmt.Errorf("%w: value %d at (%d,%d)", ErrPaletteRange, v, x, y)
			}
			m.Pix[y*m.Width+x] = uint8(v)
		}
	}
	return m, nil
}

// Postprocess reduces a [1, H, W, C] score tensor to a class mask by taking
// the argmax over C. Ties go to the lowest index; NaN never wins.
func Postprocess(pred *Tensor) (*ClassMask, error) {
	if err := pred.Validate(); err != nil {
		return nil, err
	}
	if len(pred.Shape) != 4 || pred.Shape[0] != 1 {
		return nil, fmt.Errorf("%w: want [1 H W C], got %v", ErrShape, pred.Shape)
	}
	h, w, c := pred.Shape[1], pred.Shape[2], pred.Shape[3]
	if c > math.MaxUint8+1 {
		return nil, fmt.Errorf("%w: %d classes do not fit in uint8", ErrShape, c)
	}

	mask := NewClassMask(h, w)
	for i := range mask.Pix {
		mask.Pix[i] = uint8(argmax(pred.Data[i*c : (i+1)*c]))
	}
	return mask, nil
}

func argmax(scores []float32) int {
	best := -1
	var bestVal float32
	for i, v := range scores {
		if v != v {
			continue
		}
		if best < 0 || v > bestVal {
			best, bestVal = i, v
		}
	}
	if best < 0 {
		return 0
	}
	return best
}
