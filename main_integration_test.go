package main

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"net"
	"net/http"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/segment-api/internal/client"
	"github.com/example/segment-api/internal/config"
	"github.com/example/segment-api/internal/handlers"
	"github.com/example/segment-api/internal/middleware"
	"github.com/example/segment-api/internal/model"
	"github.com/example/segment-api/internal/segmentation"
	"github.com/example/segment-api/internal/usecase"
)

func TestServerGracefulShutdown(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()

	requestStarted := make(chan struct{})
	releaseRequest := make(chan struct{})
	defer func() {
		select {
		case <-releaseRequest:
		default:
			close(releaseRequest)
		}
	}()

	preprocessor, err := segmentation.NewPreprocessor(16, 16, "bilinear")
	if err != nil {
		t.Fatalf("failed to build preprocessor: %v", err)
	}
	holder := model.NewHolder(preprocessor.InputShape(), 8, logger)
	loaded := false
	err = holder.Load(context.Background(), func(ctx context.Context) (model.Predictor, error) {
		return model.PredictorFunc(func(ctx context.Context, input *segmentation.Tensor) (*segmentation.Tensor, error) {
			if loaded {
				select {
				case <-requestStarted:
				default:
					close(requestStarted)
				}
				<-releaseRequest
			}
			return segmentation.NewTensor(1, input.Shape[1], input.Shape[2], 8), nil
		}), nil
	})
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	loaded = true

	uc := usecase.NewSegmentationUseCase(holder, preprocessor, segmentation.Cityscapes, logger)
	router := gin.New()
	router.Use(gin.Recovery(), middleware.Logger(logger), middleware.CORS())
	handlers.RegisterRoutes(router, uc, config.Default().Upload.MaxSize)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}
	server := &http.Server{Handler: router}

	signalCh := make(chan os.Signal, 1)
	done := make(chan error, 1)
	go func() {
		done <- serveHTTPServerWithOptions(server, 2*time.Second, logger, listener, signalCh)
	}()

	addr := listener.Addr().String()
	waitForServer(t, addr)

	api := client.New("http://"+addr, 2*time.Second)
	status, err := api.Status(context.Background())
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if !status.ModelLoaded {
		t.Fatalf("expected loaded model, got %+v", status)
	}

	var frame bytes.Buffer
	if err := png.Encode(&frame, image.NewRGBA(image.Rect(0, 0, 32, 24))); err != nil {
		t.Fatalf("failed to encode frame: %v", err)
	}

	respCh := make(chan *client.MaskResponse, 1)
	errCh := make(chan error, 1)
	go func() {
		resp, err := api.Predict(context.Background(), "frame.png", frame.Bytes())
		if err != nil {
			errCh <- err
			return
		}
		respCh <- resp
	}()

	select {
	case <-requestStarted:
	case <-time.After(2 * time.Second):
		t.Fatal("request did not start in time")
	}

	signalCh <- syscall.SIGTERM

	time.Sleep(50 * time.Millisecond)
	close(releaseRequest)

	select {
	case resp := <-respCh:
		if len(resp.Shape) != 2 || resp.Shape[0] != 16 || resp.Shape[1] != 16 {
			t.Fatalf("unexpected shape %v", resp.Shape)
		}
		if resp.RequestID == "" {
			t.Fatal("missing request id")
		}
	case err := <-errCh:
		t.Fatalf("request failed: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("request did not complete")
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("server did not shutdown cleanly: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not exit after shutdown")
	}
}

func TestModelIDNamespacesBackends(t *testing.T) {
	onnx := config.ModelConfig{Backend: "onnx", Path: "/models/final_model.onnx"}
	remote := config.ModelConfig{Backend: "grpc", RemoteAddr: "model:50051"}
	if got := modelID(onnx); got != "final_model.onnx" {
		t.Fatalf("unexpected onnx id %q", got)
	}
	if got := modelID(remote); got != "grpc:model:50051" {
		t.Fatalf("unexpected grpc id %q", got)
	}
}

func waitForServer(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 50*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("server %s did not become ready", addr)
}
