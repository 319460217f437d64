package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/example/segment-api/internal/client"
	"github.com/example/segment-api/internal/config"
	"github.com/example/segment-api/internal/dashboard"
	"github.com/example/segment-api/internal/logging"
	"github.com/example/segment-api/internal/samples"
	"github.com/example/segment-api/internal/segmentation"
	"github.com/example/segment-api/internal/transform"
)

type options struct {
	configPath string
	server     string
	dataDir    string
	token      string
	list       bool
	id         string
	params     transform.Params
	out        string
	format     string
	quality    int
}

func main() {
	opts := parseFlags(os.Args[1:])
	if err := run(context.Background(), opts); err != nil {
		fmt.Fprintf(os.Stderr, "segclient: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) options {
	fs := flag.NewFlagSet("segclient", flag.ExitOnError)
	defaults := transform.DefaultParams()

	var o options
	fs.StringVar(&o.configPath, "config", "config.yaml", "path to the YAML configuration file")
	fs.StringVar(&o.server, "server", "", "API base URL (overrides client.server_url)")
	fs.StringVar(&o.dataDir, "data", "", "sample directory with images/ and masks/ (overrides client.data_dir)")
	fs.StringVar(&o.token, "token", os.Getenv("SEGMENT_CLIENT_TOKEN"), "bearer token when the API requires auth")
	fs.BoolVar(&o.list, "list", false, "list available sample ids and exit")
	fs.StringVar(&o.id, "id", "", "sample id to segment (default: first available)")
	fs.Float64Var(&o.params.Brightness, "brightness", defaults.Brightness, "brightness factor")
	fs.Float64Var(&o.params.Contrast, "contrast", defaults.Contrast, "contrast factor")
	fs.Float64Var(&o.params.Saturation, "saturation", defaults.Saturation, "saturation factor")
	fs.Float64Var(&o.params.Sharpness, "sharpness", defaults.Sharpness, "sharpness factor")
	fs.Float64Var(&o.params.BlurRadius, "blur", defaults.BlurRadius, "gaussian blur radius, 0 disables")
	fs.BoolVar(&o.params.Flip, "flip", false, "mirror the image horizontally")
	fs.StringVar(&o.out, "out", "", "comparison image path (overrides client.output)")
	fs.StringVar(&o.format, "format", "", "png, jpg or webp (overrides client.format)")
	fs.IntVar(&o.quality, "quality", 0, "jpg/webp quality (overrides client.quality)")
	_ = fs.Parse(args)
	return o
}

func run(ctx context.Context, o options) error {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}
	applyConfig(&o, cfg.Client)
	if err := o.params.Validate(); err != nil {
		return err
	}

	logger, err := logging.NewLogger(config.LogConfig{Mode: "debug"})
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ds := samples.NewDataset(o.dataDir, cfg.Client.ImageSuffix, cfg.Client.MaskSuffix)
	ids, err := ds.IDs()
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return fmt.Errorf("no images found in %s", ds.ImageDir)
	}
	if o.list {
		for _, id := range ids {
			fmt.Println(id)
		}
		return nil
	}
	if o.id == "" {
		o.id = ids[0]
	}

	sample, err := ds.Load(o.id)
	if err != nil {
		return err
	}
	input := transform.Apply(sample.Image, o.params)

	var truth image.Image
	if mask := transform.FlipMask(sample.Truth, o.params); mask != nil {
		if truth, err = segmentation.Colorize(mask, segmentation.Cityscapes); err != nil {
			return err
		}
	}

	prediction, err := predict(ctx, client.New(o.server, cfg.Client.Timeout, client.WithToken(o.token)), input, logger)
	if err != nil {
		var apiErr *client.APIError
		if !errors.As(err, &apiErr) {
			return fmt.Errorf("API unavailable at %s: %w", o.server, err)
		}
		return err
	}

	panel := dashboard.Compose(input, truth, prediction, segmentation.Cityscapes, segmentation.CityscapesLabels)
	if err := dashboard.Save(panel, o.out, o.format, o.quality); err != nil {
		return err
	}
	logger.Info("comparison written", zap.String("id", o.id), zap.String("path", o.out))
	return nil
}

func predict(ctx context.Context, api *client.Client, input image.Image, logger *zap.Logger) (image.Image, error) {
	encoded, err := segmentation.EncodePNG(input)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := api.Predict(ctx, "image.png", encoded)
	if err != nil {
		return nil, err
	}
	mask, err := resp.ClassMask()
	if err != nil {
		return nil, err
	}
	logger.Debug("prediction received",
		zap.String("request_id", resp.RequestID),
		zap.Ints("shape", resp.Shape),
		zap.Duration("elapsed", time.Since(start)),
	)
	return segmentation.Colorize(mask, segmentation.Cityscapes)
}

func applyConfig(o *options, cfg config.ClientConfig) {
	if o.server == "" {
		o.server = cfg.ServerURL
	}
	if o.dataDir == "" {
		o.dataDir = cfg.DataDir
	}
	if o.out == "" {
		o.out = cfg.Output
	}
	if o.format == "" {
		o.format = cfg.Format
	}
	if o.quality == 0 {
		o.quality = cfg.Quality
	}
}
