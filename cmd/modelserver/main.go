package main

import (
	"context"
	"flag"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/example/segment-api/internal/config"
	"github.com/example/segment-api/internal/grpcclient"
	"github.com/example/segment-api/internal/logging"
	"github.com/example/segment-api/internal/model"
	"github.com/example/segment-api/internal/segmentation"
)

// modelserver exposes the local ONNX model over gRPC so the API can run with
// model.backend=grpc on a separate host.
func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	listen := flag.String("listen", ":50051", "gRPC listen address")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}
	logger, err := logging.NewLogger(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	shape := []int{1, cfg.Model.Height, cfg.Model.Width, segmentation.Channels}
	holder := model.NewHolder(shape, cfg.Model.NumClasses, logger)
	defer holder.Close() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	err = holder.Load(ctx, model.OpenONNX(model.ONNXConfig{
		Path:              cfg.Model.Path,
		SharedLibraryPath: cfg.Model.SharedLibraryPath,
		InputName:         cfg.Model.InputName,
		OutputName:        cfg.Model.OutputName,
		InputShape:        shape,
		NumClasses:        cfg.Model.NumClasses,
	}))
	cancel()
	if err != nil {
		logger.Fatal("failed to load model", zap.Error(err))
	}
	predictor, err := holder.Predictor()
	if err != nil {
		logger.Fatal("model not ready", zap.Error(err))
	}

	lis, err := net.Listen("tcp", *listen)
	if err != nil {
		logger.Fatal("failed to listen", zap.Error(err), zap.String("addr", *listen))
	}
	srv := grpc.NewServer()
	grpcclient.RegisterModelServer(srv, predictor, logger)

	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sig := <-ch
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		srv.GracefulStop()
	}()

	logger.Info("model server listening", zap.String("addr", lis.Addr().String()))
	if err := srv.Serve(lis); err != nil {
		logger.Fatal("grpc server failed", zap.Error(err))
	}
}
