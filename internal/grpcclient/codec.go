package grpcclient

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/example/segment-api/internal/segmentation"
)

const maxRank = 8

// EncodeTensor lays a tensor out as little-endian uint32 rank, uint32 dims,
// then float32 values.
func EncodeTensor(t *segmentation.Tensor) ([]byte, error) {
	if t == nil {
		return nil, fmt.Errorf("%w: nil tensor", segmentation.ErrShape)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if len(t.Shape) > maxRank {
		return nil, fmt.Errorf("%w: rank %d exceeds %d", segmentation.ErrShape, len(t.Shape), maxRank)
	}

	buf := make([]byte, 4+4*len(t.Shape)+4*len(t.Data))
	binary.LittleEndian.PutUint32(buf, uint32(len(t.Shape)))
	off := 4
	for _, d := range t.Shape {
		binary.LittleEndian.PutUint32(buf[off:], uint32(d))
		off += 4
	}
	for _, v := range t.Data {
		binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(v))
		off += 4
	}
	return buf, nil
}

// DecodeTensor is the inverse of EncodeTensor.
func DecodeTensor(buf []byte) (*segmentation.Tensor, error) {
	if len(buf) < 4 {
		return nil, fmt.Errorf("%w: payload too short", segmentation.ErrShape)
	}
	rank := int(binary.LittleEndian.Uint32(buf))
	if rank == 0 || rank > maxRank || len(buf) < 4+4*rank {
		return nil, fmt.Errorf("%w: bad rank %d", segmentation.ErrShape, rank)
	}

	shape := make([]int, rank)
	n := 1
	off := 4
	for i := range shape {
		shape[i] = int(binary.LittleEndian.Uint32(buf[off:]))
		n *= shape[i]
		if shape[i] == 0 || n > len(buf)/4 {
			return nil, fmt.Errorf("%w: shape %v does not fit payload", segmentation.ErrShape, shape[:i+1])
		}
		off += 4
	}
	if len(buf)-off != 4*n {
		return nil, fmt.Errorf("%w: shape %v needs %d values, payload has %d bytes", segmentation.ErrShape, shape, n, len(buf)-off)
	}

	data := make([]float32, n)
	for i := range data {
		data[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[off:]))
		off += 4
	}
	return &segmentation.Tensor{Shape: shape, Data: data}, nil
}
