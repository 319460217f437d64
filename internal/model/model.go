package model

import (
	"context"

	"github.com/example/segment-api/internal/segmentation"
)

// Predictor is the black-box network: an NHWC input tensor in, per-pixel
// class scores out. Implementations must be safe for concurrent calls.
type Predictor interface {
	Predict(ctx context.Context, input *segmentation.Tensor) (*segmentation.Tensor, error)
}

// PredictorFunc adapts a function to the Predictor interface.
type PredictorFunc func(ctx context.Context, input *segmentation.Tensor) (*segmentation.Tensor, error)

// Predict calls f.
func (f PredictorFunc) Predict(ctx context.Context, input *segmentation.Tensor) (*segmentation.Tensor, error) {
	return f(ctx, input)
}

// Opener produces a ready predictor, typically by reading a model artifact.
type Opener func(ctx context.Context) (Predictor, error)
