package usecase

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/segment-api/internal/logging"
	"github.com/example/segment-api/internal/model"
	"github.com/example/segment-api/internal/repository"
	"github.com/example/segment-api/internal/segmentation"
)

// ErrAuditDisabled is returned by lookups when no prediction repository is configured.
var ErrAuditDisabled = errors.New("prediction log is disabled")

// ModelSource hands out the loaded predictor; model.Holder implements it.
type ModelSource interface {
	State() model.State
	Predictor() (model.Predictor, error)
	Err() error
}

// PredictionRepository defines the persistence operations needed by the use case.
type PredictionRepository interface {
	SaveLog(ctx context.Context, log *repository.PredictionLog) error
	FindByRequestID(ctx context.Context, requestID string) (*repository.PredictionLog, error)
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
}

// Upload is one submitted file.
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
	Subject     string
}

// MaskResult is the outcome of Predict.
type MaskResult struct {
	RequestID string
	Filename  string
	Mask      *segmentation.ClassMask
	CacheHit  bool
}

// ImageResult is the outcome of PredictImage.
type ImageResult struct {
	RequestID string
	Filename  string
	PNG       []byte
	CacheHit  bool
}

// Status describes service readiness.
type Status struct {
	Message     string
	ModelLoaded bool
	State       model.State
	LoadError   error
}

// SegmentationUseCase runs the inference pipeline around the loaded model.
type SegmentationUseCase struct {
	models         ModelSource
	preprocessor   *segmentation.Preprocessor
	palette        segmentation.Palette
	cache          Cache
	cacheTTL       time.Duration
	modelID        string
	repo           PredictionRepository
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	now            func() time.Time
}

// Option configures optional collaborators.
type Option func(*SegmentationUseCase)

// WithCache enables the class mask cache. modelID namespaces keys so masks from
// a different artifact are never served.
func WithCache(cache Cache, ttl time.Duration, modelID string) Option {
	return func(uc *SegmentationUseCase) {
		uc.cache = cache
		uc.cacheTTL = ttl
		uc.modelID = modelID
	}
}

// WithRepository enables the prediction audit log.
func WithRepository(repo PredictionRepository) Option {
	return func(uc *SegmentationUseCase) {
		uc.repo = repo
	}
}

// NewSegmentationUseCase constructs a new use case instance.
func NewSegmentationUseCase(models ModelSource, preprocessor *segmentation.Preprocessor, palette segmentation.Palette, logger *zap.Logger, opts ...Option) *SegmentationUseCase {
	uc := &SegmentationUseCase{
		models:         models,
		preprocessor:   preprocessor,
		palette:        palette,
		modelID:        "default",
		logger:         logger.Named("segmentation_usecase"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(uc)
	}
	return uc
}

// Status reports whether predictions can be served.
func (uc *SegmentationUseCase) Status() Status {
	state := uc.models.State()
	return Status{
		Message:     "API is running",
		ModelLoaded: state == model.Ready,
		State:       state,
		LoadError:   uc.models.Err(),
	}
}

// Predict returns the class mask for an uploaded image.
func (uc *SegmentationUseCase) Predict(ctx context.Context, upload Upload) (*MaskResult, error) {
	requestID := uuid.NewString()
	start := uc.now()

	mask, hit, err := uc.segment(ctx, requestID, upload)
	uc.record(ctx, requestID, "predict", upload, mask, hit, start, err)
	if err != nil {
		return nil, err
	}
	return &MaskResult{RequestID: requestID, Filename: upload.Filename, Mask: mask, CacheHit: hit}, nil
}

// PredictImage returns the colorized mask encoded as PNG.
func (uc *SegmentationUseCase) PredictImage(ctx context.Context, upload Upload) (*ImageResult, error) {
	requestID := uuid.NewString()
	start := uc.now()

	mask, hit, err := uc.segment(ctx, requestID, upload)
	var encoded []byte
	if err == nil {
		encoded, err = uc.render(requestID, mask)
	}
	uc.record(ctx, requestID, "predict_image", upload, mask, hit, start, err)
	if err != nil {
		return nil, err
	}
	return &ImageResult{RequestID: requestID, Filename: upload.Filename, PNG: encoded, CacheHit: hit}, nil
}

// GetPrediction retrieves the audit record of a past request.
func (uc *SegmentationUseCase) GetPrediction(ctx context.Context, requestID string) (*repository.PredictionLog, error) {
	if uc.repo == nil {
		return nil, ErrAuditDisabled
	}
	return uc.repo.FindByRequestID(ctx, requestID)
}

func (uc *SegmentationUseCase) segment(ctx context.Context, requestID string, upload Upload) (*segmentation.ClassMask, bool, error) {
	opLogger := logging.WithOperation(uc.logger, "usecase.segment", requestID)

	predictor, err := uc.models.Predictor()
	if err != nil {
		return nil, false, logging.NewOperationError("usecase.model_unavailable", requestID, err)
	}
	if !IsImageContentType(upload.ContentType) {
		return nil, false, logging.NewOperationError("usecase.validate_upload", requestID,
			fmt.Errorf("%w: got %q", segmentation.ErrInvalidContentType, upload.ContentType))
	}

	digest := sha1.Sum(upload.Data)
	hash := hex.EncodeToString(digest[:])
	if mask, ok := uc.lookupMask(ctx, requestID, hash); ok {
		opLogger.Debug("mask served from cache", zap.String("sha1", hash))
		return mask, true, nil
	}

	input, err := uc.preprocessor.Preprocess(upload.Data)
	if err != nil {
		wrapped := logging.NewOperationError("usecase.preprocess", requestID, err)
		opLogger.Warn("preprocessing failed", zap.Error(wrapped), zap.String("filename", upload.Filename))
		return nil, false, wrapped
	}

	pred, err := predictor.Predict(ctx, input)
	if err != nil {
		wrapped := logging.NewOperationError("usecase.inference", requestID, fmt.Errorf("%w: %v", segmentation.ErrInference, err))
		opLogger.Error("model call failed", zap.Error(wrapped))
		return nil, false, wrapped
	}

	mask, err := segmentation.Postprocess(pred)
	if err != nil {
		wrapped := logging.NewOperationError("usecase.postprocess", requestID, fmt.Errorf("%w: %v", segmentation.ErrInference, err))
		opLogger.Error("postprocessing failed", zap.Error(wrapped))
		return nil, false, wrapped
	}
	if classes := pred.Shape[3]; classes != len(uc.palette) {
		wrapped := logging.NewOperationError("usecase.postprocess", requestID,
			fmt.Errorf("%w: model returned %d classes, palette has %d", segmentation.ErrPaletteRange, classes, len(uc.palette)))
		opLogger.Error("model emitted a class outside the palette; check model.num_classes", zap.Error(wrapped))
		return nil, false, wrapped
	}

	uc.storeMask(ctx, requestID, hash, mask)
	return mask, false, nil
}

func (uc *SegmentationUseCase) render(requestID string, mask *segmentation.ClassMask) ([]byte, error) {
	img, err := segmentation.Colorize(mask, uc.palette)
	if err != nil {
		wrapped := logging.NewOperationError("usecase.colorize", requestID, err)
		if errors.Is(err, segmentation.ErrPaletteRange) {
			uc.logger.Error("model emitted a class outside the palette; check model.num_classes", zap.Error(wrapped))
		}
		return nil, wrapped
	}
	encoded, err := segmentation.EncodePNG(img)
	if err != nil {
		return nil, logging.NewOperationError("usecase.encode_png", requestID, err)
	}
	return encoded, nil
}

func (uc *SegmentationUseCase) lookupMask(ctx context.Context, requestID, hash string) (*segmentation.ClassMask, bool) {
	if uc.cache == nil {
		return nil, false
	}
	value, err := uc.withCacheGet(ctx, requestID, "cache.get.mask", maskCacheKey(uc.modelID, hash))
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logging.WithOperation(uc.logger, "usecase.lookup_mask", requestID).Warn("failed to read cache", zap.Error(err))
		}
		return nil, false
	}
	mask, err := decodeCachedMask(value, len(uc.palette))
	if err != nil {
		logging.WithOperation(uc.logger, "usecase.lookup_mask", requestID).Warn("failed to decode cached mask", zap.Error(err))
		return nil, false
	}
	return mask, true
}

func (uc *SegmentationUseCase) storeMask(ctx context.Context, requestID, hash string, mask *segmentation.ClassMask) {
	if uc.cache == nil {
		return
	}
	value, err := encodeCachedMask(mask)
	if err != nil {
		logging.WithOperation(uc.logger, "usecase.store_mask", requestID).Warn("failed to serialize mask", zap.Error(err))
		return
	}
	key := maskCacheKey(uc.modelID, hash)
	if err := uc.withCacheRetry(ctx, requestID, "cache.set.mask", func() error {
		return uc.cache.Set(ctx, key, value, uc.cacheTTL)
	}); err != nil {
		logging.WithOperation(uc.logger, "usecase.store_mask", requestID).Warn("failed to cache mask", zap.Error(err))
	}
}

func (uc *SegmentationUseCase) record(ctx context.Context, requestID, endpoint string, upload Upload, mask *segmentation.ClassMask, hit bool, start time.Time, predErr error) {
	if uc.repo == nil {
		return
	}
	digest := sha1.Sum(upload.Data)
	log := &repository.PredictionLog{
		RequestID:   requestID,
		Subject:     upload.Subject,
		Endpoint:    endpoint,
		Filename:    upload.Filename,
		ContentType: upload.ContentType,
		SHA1Hash:    hex.EncodeToString(digest[:]),
		LatencyMs:   float64(uc.now().Sub(start).Microseconds()) / 1000,
		CacheHit:    hit,
		Success:     predErr == nil,
		CreatedAt:   uc.now().UTC(),
	}
	if mask != nil {
		log.Height, log.Width = mask.Height, mask.Width
		if hist, err := json.Marshal(mask.Histogram(len(uc.palette))); err == nil {
			log.Histogram = string(hist)
		}
	}
	if predErr != nil {
		log.Details = predErr.Error()
	} else {
		log.Details = fmt.Sprintf("shape:%dx%d cache_hit:%t", log.Height, log.Width, hit)
	}

	if err := uc.repo.SaveLog(ctx, log); err != nil {
		logging.WithOperation(uc.logger, "usecase.record", requestID).Warn("failed to persist prediction log", zap.Error(err))
	}
}

func (uc *SegmentationUseCase) withCacheRetry(ctx context.Context, requestID, operation string, fn func() error) error {
	attempts := uc.retryAttempts
	if attempts < 1 {
		attempts = 1
	}

	backoff := uc.initialBackoff
	opLogger := logging.WithOperation(uc.logger, operation, requestID)
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= uc.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("redis operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}
		if !repository.IsTransientError(err) || attempt == attempts-1 {
			return logging.NewOperationError(operation, requestID, err)
		}
		opLogger.Warn("transient redis error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

func (uc *SegmentationUseCase) withCacheGet(ctx context.Context, requestID, operation, cacheKey string) (string, error) {
	var result string
	err := uc.withCacheRetry(ctx, requestID, operation, func() error {
		value, err := uc.cache.Get(ctx, cacheKey)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

// IsImageContentType reports whether a declared media type is in the image family.
func IsImageContentType(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = contentType
	}
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(mediaType)), "image/")
}
