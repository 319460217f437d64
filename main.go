package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/segment-api/internal/auth"
	"github.com/example/segment-api/internal/config"
	"github.com/example/segment-api/internal/grpcclient"
	"github.com/example/segment-api/internal/handlers"
	"github.com/example/segment-api/internal/logging"
	"github.com/example/segment-api/internal/middleware"
	"github.com/example/segment-api/internal/model"
	"github.com/example/segment-api/internal/repository"
	"github.com/example/segment-api/internal/segmentation"
	"github.com/example/segment-api/internal/usecase"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}
	if err := cfg.Validate(len(segmentation.Cityscapes)); err != nil {
		panic(err)
	}

	logger, err := logging.NewLogger(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	preprocessor, err := segmentation.NewPreprocessor(cfg.Model.Height, cfg.Model.Width, cfg.Model.Resample,
		segmentation.WithMaxPixels(cfg.Upload.MaxPixels))
	if err != nil {
		logger.Fatal("invalid preprocessing settings", zap.Error(err))
	}

	holder := model.NewHolder(preprocessor.InputShape(), cfg.Model.NumClasses, logger)
	defer holder.Close() //nolint:errcheck
	if err := holder.Load(ctx, modelOpener(cfg.Model, preprocessor.InputShape(), logger)); err != nil {
		// keep serving: status routes report the failure and predictions answer 503
		logger.Error("model unavailable", zap.Error(err), zap.String("backend", cfg.Model.Backend))
	}

	var opts []usecase.Option
	if cfg.Cache.Enabled {
		redisCtx, redisCancel := context.WithTimeout(ctx, 5*time.Second)
		redisClient := initRedis(redisCtx, cfg.Cache, logger)
		redisCancel()
		defer redisClient.Close()
		opts = append(opts, usecase.WithCache(usecase.NewRedisCache(redisClient), cfg.Cache.TTL, modelID(cfg.Model)))
	}
	if cfg.Database.Enabled {
		db := initDatabase(ctx, cfg.Database, logger)
		repo := repository.NewPredictionRepository(db, logger)
		if err := repo.AutoMigrate(ctx); err != nil {
			logger.Fatal("auto migrate failed", zap.Error(err))
		}
		opts = append(opts, usecase.WithRepository(repo))
	}

	uc := usecase.NewSegmentationUseCase(holder, preprocessor, segmentation.Cityscapes, logger, opts...)

	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.MaxMultipartMemory = cfg.Upload.MaxSize
	r.Use(gin.Recovery(), middleware.Logger(logger), middleware.CORS())
	if cfg.RateLimit.Enabled {
		limit, err := middleware.RateLimit(cfg.RateLimit.Rate)
		if err != nil {
			logger.Fatal("invalid rate limit", zap.Error(err), zap.String("rate", cfg.RateLimit.Rate))
		}
		r.Use(limit)
	}

	handlers.RegisterRoutes(r, uc, cfg.Upload.MaxSize, auth.Middleware(cfg.Auth))

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	logger.Info("segmentation API listening",
		zap.String("addr", server.Addr),
		zap.String("model_state", holder.State().String()),
	)
	if err := serveHTTPServer(server, cfg.Server.ShutdownTimeout, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func modelOpener(cfg config.ModelConfig, inputShape []int, logger *zap.Logger) model.Opener {
	if cfg.Backend == "grpc" {
		return func(ctx context.Context) (model.Predictor, error) {
			remote, err := grpcclient.DialModel(ctx, cfg.RemoteAddr, cfg.RemoteTimeout, logger)
			if err != nil {
				return nil, err
			}
			return remote, nil
		}
	}
	return model.OpenONNX(model.ONNXConfig{
		Path:              cfg.Path,
		SharedLibraryPath: cfg.SharedLibraryPath,
		InputName:         cfg.InputName,
		OutputName:        cfg.OutputName,
		InputShape:        inputShape,
		NumClasses:        cfg.NumClasses,
	})
}

// modelID namespaces cached masks per model artifact.
func modelID(cfg config.ModelConfig) string {
	if cfg.Backend == "grpc" {
		return "grpc:" + cfg.RemoteAddr
	}
	return filepath.Base(cfg.Path)
}

func initDatabase(ctx context.Context, cfg config.DatabaseConfig, zapLogger *zap.Logger) *gorm.DB {
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		zapLogger.Fatal("failed to connect to database", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		zapLogger.Fatal("failed to access db handle", zap.Error(err))
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := sqlDB.PingContext(ctx); err != nil {
		zapLogger.Fatal("database ping failed", zap.Error(err))
	}

	return db
}

func initRedis(ctx context.Context, cfg config.CacheConfig, zapLogger *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		zapLogger.Fatal("redis connection failed", zap.Error(err))
	}
	return client
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	var (
		sigCh       <-chan os.Signal
		stopSignals func()
	)

	if signalCh != nil {
		sigCh = signalCh
		stopSignals = func() {}
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigCh = ch
		stopSignals = func() {
			signal.Stop(ch)
		}
	}
	defer stopSignals()

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
