package segmentation

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Channels is the number of color channels fed to the model.
const Channels = 3

var resampleFilters = map[string]resize.InterpolationFunction{
	"nearest":  resize.NearestNeighbor,
	"bilinear": resize.Bilinear,
	"bicubic":  resize.Bicubic,
	"mitchell": resize.MitchellNetravali,
	"lanczos2": resize.Lanczos2,
	"lanczos3": resize.Lanczos3,
}

// DefaultMaxPixels bounds the decoded size of an upload when no limit is given.
const DefaultMaxPixels = 25_000_000

// Preprocessor turns encoded images into model input tensors of a fixed size.
type Preprocessor struct {
	height    int
	width     int
	filter    resize.InterpolationFunction
	maxPixels int64
}

// PreprocessorOption configures a Preprocessor.
type PreprocessorOption func(*Preprocessor)

// WithMaxPixels rejects images whose width*height exceeds n before they are
// decoded. n <= 0 keeps the default.
func WithMaxPixels(n int64) PreprocessorOption {
	return func(p *Preprocessor) {
		if n > 0 {
			p.maxPixels = n
		}
	}
}

// NewPreprocessor builds a preprocessor for a height x width model input.
func NewPreprocessor(height, width int, resample string, opts ...PreprocessorOption) (*Preprocessor, error) {
	if height <= 0 || width <= 0 {
		return nil, fmt.Errorf("invalid target size %dx%d", width, height)
	}
	filter, ok := resampleFilters[strings.ToLower(resample)]
	if !ok {
		return nil, fmt.Errorf("unknown resample filter %q", resample)
	}
	p := &Preprocessor{height: height, width: width, filter: filter, maxPixels: DefaultMaxPixels}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// InputShape is the NHWC shape of tensors produced by Preprocess.
func (p *Preprocessor) InputShape() []int {
	return []int{1, p.height, p.width, Channels}
}

// Decode reads any registered image encoding.
func Decode(data []byte) (image.Image, string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return img, format, nil
}

// Preprocess decodes data and returns a [1, H, W, 3] tensor with samples in [0, 1].
// Only the header is read before the pixel limit is enforced.
func (p *Preprocessor) Preprocess(data []byte) (*Tensor, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: empty image %dx%d", ErrDecode, cfg.Width, cfg.Height)
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); pixels > p.maxPixels {
		return nil, fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrDecode, cfg.Width, cfg.Height, p.maxPixels)
	}

	img, _, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return p.FromImage(img), nil
}

// FromImage converts an already decoded image.
func (p *Preprocessor) FromImage(img image.Image) *Tensor {
	rgb := ToRGB(img)
	resized := imaging.Clone(resize.Resize(uint(p.width), uint(p.height), rgb, p.filter))

	t := NewTensor(p.InputShape()...)
	i := 0
	for y := 0; y < p.height; y++ {
		row := resized.Pix[y*resized.Stride : y*resized.Stride+p.width*4]
		for x := 0; x < p.width; x++ {
			px := row[x*4 : x*4+3]
			t.Data[i] = float32(px[0]) / 255
			t.Data[i+1] = float32(px[1]) / 255
			t.Data[i+2] = float32(px[2]) / 255
			i += Channels
		}
	}
	return t
}

// ToRGB returns an opaque copy of img. Alpha is discarded rather than
// composited, gray sources are replicated across channels.
func ToRGB(img image.Image) *image.RGBA {
	src := imaging.Clone(img)
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	copy(dst.Pix, src.Pix)
	for i := 3; i < len(dst.Pix); i += 4 {
		dst.Pix[i] = 0xff
	}
	return dst
}
