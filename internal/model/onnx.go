package model

import (
	"context"
	"fmt"
	"os"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/example/segment-api/internal/segmentation"
)

// ONNXConfig locates an exported model and names its graph inputs/outputs.
type ONNXConfig struct {
	Path              string
	SharedLibraryPath string
	InputName         string
	OutputName        string
	InputShape        []int
	NumClasses        int
}

// ONNXPredictor runs an ONNX graph through onnxruntime. Tensors are allocated
// per call so concurrent Predict calls do not share buffers.
type ONNXPredictor struct {
	session     *ort.DynamicAdvancedSession
	inputShape  ort.Shape
	outputShape ort.Shape
}

// OpenONNX returns an Opener for the configured artifact. Only the inference
// graph is loaded; training-time losses and metrics are not part of the export.
func OpenONNX(cfg ONNXConfig) Opener {
	return func(ctx context.Context) (Predictor, error) {
		return NewONNXPredictor(cfg)
	}
}

// NewONNXPredictor initialises the runtime and creates a session.
func NewONNXPredictor(cfg ONNXConfig) (*ONNXPredictor, error) {
	if len(cfg.InputShape) != 4 {
		return nil, fmt.Errorf("%w: onnx input shape must be NHWC, got %v", segmentation.ErrShape, cfg.InputShape)
	}
	if _, err := os.Stat(cfg.Path); err != nil {
		return nil, fmt.Errorf("model artifact not found: %w", err)
	}

	if cfg.SharedLibraryPath != "" {
		ort.SetSharedLibraryPath(cfg.SharedLibraryPath)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
		}
	}

	session, err := ort.NewDynamicAdvancedSession(cfg.Path,
		[]string{cfg.InputName}, []string{cfg.OutputName}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &ONNXPredictor{
		session:     session,
		inputShape:  toShape(cfg.InputShape),
		outputShape: ort.NewShape(1, int64(cfg.InputShape[1]), int64(cfg.InputShape[2]), int64(cfg.NumClasses)),
	}, nil
}

// Predict runs one forward pass.
func (p *ONNXPredictor) Predict(ctx context.Context, input *segmentation.Tensor) (*segmentation.Tensor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if int64(len(input.Data)) != p.inputShape.FlattenedSize() {
		return nil, fmt.Errorf("%w: input has %d values, model expects %v", segmentation.ErrShape, len(input.Data), p.inputShape)
	}

	in, err := ort.NewTensor(p.inputShape, input.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer in.Destroy()

	out, err := ort.NewEmptyTensor[float32](p.outputShape)
	if err != nil {
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	defer out.Destroy()

	if err := p.session.Run([]ort.ArbitraryTensor{in}, []ort.ArbitraryTensor{out}); err != nil {
		return nil, fmt.Errorf("onnx run: %w", err)
	}

	shape := make([]int, len(p.outputShape))
	for i, d := range p.outputShape {
		shape[i] = int(d)
	}
	result := segmentation.NewTensor(shape...)
	copy(result.Data, out.GetData())
	return result, nil
}

// Close destroys the session and the runtime environment.
func (p *ONNXPredictor) Close() error {
	if p.session != nil {
		if err := p.session.Destroy(); err != nil {
			return err
		}
		p.session = nil
	}
	if ort.IsInitialized() {
		return ort.DestroyEnvironment()
	}
	return nil
}

func toShape(dims []int) ort.Shape {
	s := make([]int64, len(dims))
	for i, d := range dims {
		s[i] = int64(d)
	}
	return ort.NewShape(s...)
}
