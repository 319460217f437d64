package model

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/example/segment-api/internal/logging"
	"github.com/example/segment-api/internal/segmentation"
)

// State is the lifecycle of the loaded model.
type State int32

const (
	NotReady State = iota
	Ready
	LoadFailed
)

func (s State) String() string {
	switch s {
	case NotReady:
		return "not_ready"
	case Ready:
		return "ready"
	case LoadFailed:
		return "load_failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

var errLoadInProgress = errors.New("model load already in progress")

// Holder owns the predictor and its lifecycle. A load happens at most once;
// LoadFailed is terminal.
type Holder struct {
	mu         sync.RWMutex
	state      State
	loading    bool
	predictor  Predictor
	loadErr    error
	inputShape []int
	numClasses int
	logger     *zap.Logger
}

// NewHolder creates a holder in NotReady. inputShape is the NHWC shape the
// model consumes and numClasses the size of its class axis.
func NewHolder(inputShape []int, numClasses int, logger *zap.Logger) *Holder {
	shape := make([]int, len(inputShape))
	copy(shape, inputShape)
	return &Holder{
		state:      NotReady,
		inputShape: shape,
		numClasses: numClasses,
		logger:     logger.Named("model_holder"),
	}
}

// State returns the current lifecycle state.
func (h *Holder) State() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

// Err returns the load failure, if any.
func (h *Holder) Err() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.loadErr
}

// Predictor returns the loaded model or ErrModelUnavailable.
func (h *Holder) Predictor() (Predictor, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.state != Ready {
		return nil, segmentation.ErrModelUnavailable
	}
	return h.predictor, nil
}

// Load opens the model and checks its output geometry with a zero-valued
// probe. Requests observe NotReady while the load runs.
func (h *Holder) Load(ctx context.Context, open Opener) error {
	h.mu.Lock()
	switch {
	case h.loading:
		h.mu.Unlock()
		return errLoadInProgress
	case h.state != NotReady:
		err := h.loadErr
		h.mu.Unlock()
		return err
	}
	h.loading = true
	h.mu.Unlock()

	start := time.Now()
	predictor, err := open(ctx)
	if err == nil {
		if err = h.probe(ctx, predictor); err != nil {
			closePredictor(predictor)
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.loading = false
	if err != nil {
		wrapped := logging.NewOperationError("model.load", "", err)
		h.state = LoadFailed
		h.loadErr = wrapped
		h.logger.Error("model load failed", zap.Error(wrapped), zap.Duration("elapsed", time.Since(start)))
		return wrapped
	}
	h.state = Ready
	h.predictor = predictor
	h.logger.Info("model loaded",
		zap.Ints("input_shape", h.inputShape),
		zap.Int("num_classes", h.numClasses),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

func (h *Holder) probe(ctx context.Context, p Predictor) error {
	out, err := p.Predict(ctx, segmentation.NewTensor(h.inputShape...))
	if err != nil {
		return fmt.Errorf("%w: probe: %v", segmentation.ErrInference, err)
	}
	if err := out.Validate(); err != nil {
		return err
	}
	if len(out.Shape) != 4 || out.Shape[0] != 1 || out.Shape[1] != h.inputShape[1] || out.Shape[2] != h.inputShape[2] {
		return fmt.Errorf("%w: model output %v does not match input %v", segmentation.ErrShape, out.Shape, h.inputShape)
	}
	if out.Shape[3] != h.numClasses {
		return fmt.Errorf("%w: model emits %d classes, palette has %d", segmentation.ErrPaletteRange, out.Shape[3], h.numClasses)
	}
	return nil
}

// Close releases the predictor if it holds native resources.
func (h *Holder) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	p := h.predictor
	h.predictor = nil
	if h.state == Ready {
		h.state = NotReady
	}
	return closePredictor(p)
}

func closePredictor(p Predictor) error {
	if c, ok := p.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
