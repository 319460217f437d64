package handlers

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/example/segment-api/internal/auth"
	"github.com/example/segment-api/internal/logging"
	"github.com/example/segment-api/internal/repository"
	"github.com/example/segment-api/internal/segmentation"
	"github.com/example/segment-api/internal/usecase"
)

// DefaultMaxUploadSize caps uploads when no limit is configured.
const DefaultMaxUploadSize = 10 << 20

// multipart framing on top of the file itself
const multipartSlack = 1 << 20

const notLoadedDetail = "model is not loaded yet"

// RegisterRoutes wires the HTTP handlers to the Gin router. guards run before
// prediction and audit routes.
func RegisterRoutes(router *gin.Engine, uc *usecase.SegmentationUseCase, maxUploadSize int64, guards ...gin.HandlerFunc) {
	if maxUploadSize <= 0 {
		maxUploadSize = DefaultMaxUploadSize
	}

	router.GET("/", func(c *gin.Context) {
		status := uc.Status()
		c.JSON(http.StatusOK, gin.H{
			"status":       status.Message,
			"model_loaded": status.ModelLoaded,
			"model_state":  status.State.String(),
		})
	})

	router.GET("/health", func(c *gin.Context) {
		status := uc.Status()
		code := http.StatusOK
		if !status.ModelLoaded {
			code = http.StatusServiceUnavailable
		}
		body := gin.H{"status": "ok", "state": status.State.String()}
		if status.LoadError != nil {
			body["error"] = status.LoadError.Error()
		}
		c.JSON(code, body)
	})

	router.GET("/docs", docsHandler)

	protected := router.Group("/", guards...)

	protected.POST("/predict", func(c *gin.Context) {
		upload, ok := readUpload(c, uc, maxUploadSize)
		if !ok {
			return
		}
		result, err := uc.Predict(c.Request.Context(), upload)
		if err != nil {
			writeError(c, err)
			return
		}
		c.Header("X-Request-ID", result.RequestID)
		c.JSON(http.StatusOK, gin.H{
			"filename": result.Filename,
			"mask":     result.Mask.Rows(),
			"shape":    result.Mask.Shape(),
		})
	})

	protected.POST("/predict_image", func(c *gin.Context) {
		upload, ok := readUpload(c, uc, maxUploadSize)
		if !ok {
			return
		}
		result, err := uc.PredictImage(c.Request.Context(), upload)
		if err != nil {
			writeError(c, err)
			return
		}
		c.Header("X-Request-ID", result.RequestID)
		c.Data(http.StatusOK, "image/png", result.PNG)
	})

	protected.GET("/predictions/:id", func(c *gin.Context) {
		requestID := c.Param("id")
		if requestID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "id is required"})
			return
		}

		log, err := uc.GetPrediction(c.Request.Context(), requestID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) || errors.Is(err, usecase.ErrAuditDisabled) {
				c.JSON(http.StatusNotFound, gin.H{"detail": "prediction not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"request_id":   log.RequestID,
			"subject":      log.Subject,
			"endpoint":     log.Endpoint,
			"filename":     log.Filename,
			"content_type": log.ContentType,
			"sha1":         log.SHA1Hash,
			"shape":        []int{log.Height, log.Width},
			"histogram":    log.Histogram,
			"latency_ms":   log.LatencyMs,
			"cache_hit":    log.CacheHit,
			"success":      log.Success,
			"details":      log.Details,
			"created_at":   log.CreatedAt,
		})
	})

	protected.GET("/metrics/summary", func(c *gin.Context) {
		summary, err := uc.GetMetricsSummary(c.Request.Context())
		if err != nil {
			if errors.Is(err, usecase.ErrAuditDisabled) {
				c.JSON(http.StatusNotFound, gin.H{"detail": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
			return
		}
		c.JSON(http.StatusOK, summary)
	})
}

// readUpload checks readiness first, then pulls the "file" field. It writes
// the error response itself and reports whether the caller should continue.
func readUpload(c *gin.Context, uc *usecase.SegmentationUseCase, maxUploadSize int64) (usecase.Upload, bool) {
	if !uc.Status().ModelLoaded {
		c.JSON(http.StatusServiceUnavailable, gin.H{"detail": notLoadedDetail})
		return usecase.Upload{}, false
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadSize+multipartSlack)
	file, err := c.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"detail": "file too large"})
			return usecase.Upload{}, false
		}
		c.JSON(http.StatusBadRequest, gin.H{"detail": "file is required"})
		return usecase.Upload{}, false
	}
	if file.Size > maxUploadSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"detail": "file too large"})
		return usecase.Upload{}, false
	}

	data, err := readFile(file)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "failed to read upload"})
		return usecase.Upload{}, false
	}

	subject, _ := auth.GetSubject(c.Request.Context())
	return usecase.Upload{
		Filename:    file.Filename,
		ContentType: file.Header.Get("Content-Type"),
		Data:        data,
		Subject:     subject,
	}, true
}

func readFile(file *multipart.FileHeader) ([]byte, error) {
	src, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer src.Close()
	return io.ReadAll(src)
}

func writeError(c *gin.Context, err error) {
	_ = c.Error(err)
	if requestID := logging.RequestIDOf(err); requestID != "" {
		c.Header("X-Request-ID", requestID)
	}
	switch {
	case errors.Is(err, segmentation.ErrModelUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"detail": notLoadedDetail})
	case errors.Is(err, segmentation.ErrInvalidContentType):
		c.JSON(http.StatusBadRequest, gin.H{"detail": segmentation.ErrInvalidContentType.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
	}
}
