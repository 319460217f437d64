package transform

import (
	"bytes"
	"image"
	"image/color"
	"testing"

	"github.com/example/segment-api/internal/segmentation"
)

func testImage() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, 6, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 6; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(40 * x), G: uint8(60 * y), B: 90, A: 255})
		}
	}
	return img
}

func TestDefaultParamsAreIdentity(t *testing.T) {
	src := testImage()
	out := Apply(src, DefaultParams())
	if !bytes.Equal(out.Pix, src.Pix) {
		t.Fatal("default params changed the image")
	}
	if &out.Pix[0] == &src.Pix[0] {
		t.Fatal("Apply must not alias its input")
	}
}

func TestZeroBlurIsNoop(t *testing.T) {
	src := testImage()
	p := DefaultParams()
	p.BlurRadius = 0
	if out := Apply(src, p); !bytes.Equal(out.Pix, src.Pix) {
		t.Fatal("blur radius 0 changed the image")
	}
}

func TestDoubleFlipIsIdentity(t *testing.T) {
	src := testImage()
	p := DefaultParams()
	p.Flip = true

	once := Apply(src, p)
	if bytes.Equal(once.Pix, src.Pix) {
		t.Fatal("flip had no effect")
	}
	if once.NRGBAAt(0, 0) != src.NRGBAAt(5, 0) {
		t.Fatalf("expected mirrored pixel, got %v", once.NRGBAAt(0, 0))
	}
	if twice := Apply(once, p); !bytes.Equal(twice.Pix, src.Pix) {
		t.Fatal("double flip is not the identity")
	}
}

func TestBrightnessScalesSamples(t *testing.T) {
	src := testImage()
	p := DefaultParams()

	p.Brightness = 0
	dark := Apply(src, p)
	if c := dark.NRGBAAt(3, 2); c.R != 0 || c.G != 0 || c.B != 0 || c.A != 255 {
		t.Fatalf("brightness 0 should give black, got %v", c)
	}

	p.Brightness = 2
	bright := Apply(src, p)
	if c := bright.NRGBAAt(1, 1); c.R != 80 || c.G != 120 || c.B != 180 {
		t.Fatalf("unexpected doubled pixel %v", c)
	}
	if c := bright.NRGBAAt(5, 3); c.R != 255 || c.G != 255 {
		t.Fatalf("expected clipping, got %v", c)
	}
}

func TestZeroSaturationIsGrey(t *testing.T) {
	p := DefaultParams()
	p.Saturation = 0
	out := Apply(testImage(), p)
	for i := 0; i < len(out.Pix); i += 4 {
		if out.Pix[i] != out.Pix[i+1] || out.Pix[i+1] != out.Pix[i+2] {
			t.Fatalf("pixel %d is not grey: %v", i/4, out.Pix[i:i+3])
		}
	}
}

func TestZeroContrastIsFlat(t *testing.T) {
	p := DefaultParams()
	p.Contrast = 0
	out := Apply(testImage(), p)
	first := out.NRGBAAt(0, 0)
	for y := 0; y < 4; y++ {
		for x := 0; x < 6; x++ {
			if out.NRGBAAt(x, y) != first {
				t.Fatalf("pixel (%d,%d) differs from mean grey", x, y)
			}
		}
	}
}

func TestBlurAndSharpnessPreserveBounds(t *testing.T) {
	p := DefaultParams()
	p.Sharpness = 2
	p.BlurRadius = 1.5
	out := Apply(testImage(), p)
	if out.Bounds() != image.Rect(0, 0, 6, 4) {
		t.Fatalf("unexpected bounds %v", out.Bounds())
	}
}

func TestValidateRejectsNegativeValues(t *testing.T) {
	if err := DefaultParams().Validate(); err != nil {
		t.Fatalf("defaults should be valid: %v", err)
	}
	p := DefaultParams()
	p.Contrast = -0.5
	if err := p.Validate(); err == nil {
		t.Fatal("expected error for negative contrast")
	}
	p = DefaultParams()
	p.BlurRadius = -1
	if err := p.Validate(); err == nil {
		t.Fatal("expected error for negative blur radius")
	}
}

func TestFlipMaskMirrorsRows(t *testing.T) {
	mask := segmentation.NewClassMask(2, 3)
	copy(mask.Pix, []uint8{0, 1, 2, 3, 4, 5})

	if got := FlipMask(mask, DefaultParams()); got != mask {
		t.Fatal("mask should be returned unchanged without flip")
	}

	p := DefaultParams()
	p.Flip = true
	flipped := FlipMask(mask, p)
	if !bytes.Equal(flipped.Pix, []uint8{2, 1, 0, 5, 4, 3}) {
		t.Fatalf("unexpected flipped mask %v", flipped.Pix)
	}
	if FlipMask(nil, p) != nil {
		t.Fatal("nil mask should stay nil")
	}
}
