package transform

import (
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"

	"github.com/example/segment-api/internal/segmentation"
)

// Params are the user-adjustable enhancements applied before prediction.
type Params struct {
	Flip       bool
	Brightness float64
	Contrast   float64
	Saturation float64
	Sharpness  float64
	BlurRadius float64
}

// DefaultParams leaves the image untouched.
func DefaultParams() Params {
	return Params{
		Brightness: 1.0,
		Contrast:   1.0,
		Saturation: 1.0,
		Sharpness:  1.0,
	}
}

// Validate rejects negative or non-finite values.
func (p Params) Validate() error {
	values := []struct {
		name  string
		value float64
	}{
		{"brightness", p.Brightness},
		{"contrast", p.Contrast},
		{"saturation", p.Saturation},
		{"sharpness", p.Sharpness},
		{"blur radius", p.BlurRadius},
	}
	for _, v := range values {
		if math.IsNaN(v.value) || math.IsInf(v.value, 0) || v.value < 0 {
			return fmt.Errorf("%s must be a non-negative number, got %v", v.name, v.value)
		}
	}
	return nil
}

// smoothing kernel used as the sharpness reference
var smooth = [9]float64{
	1, 1, 1,
	1, 5, 1,
	1, 1, 1,
}

// Apply runs flip, brightness, contrast, saturation, sharpness and blur in
// that order. Factors of exactly 1 and a non-positive blur radius are skipped.
// The input is never modified.
func Apply(img image.Image, p Params) *image.NRGBA {
	out := imaging.Clone(img)

	if p.Flip {
		out = imaging.FlipH(out)
	}
	if p.Brightness != 1 {
		out = blend(out, nil, p.Brightness)
	}
	if p.Contrast != 1 {
		mean := meanLuma(out)
		out = blend(out, func(r, g, b uint8) (uint8, uint8, uint8) { return mean, mean, mean }, p.Contrast)
	}
	if p.Saturation != 1 {
		out = blend(out, func(r, g, b uint8) (uint8, uint8, uint8) {
			l := luma(r, g, b)
			return l, l, l
		}, p.Saturation)
	}
	if p.Sharpness != 1 {
		out = blendImages(out, imaging.Convolve3x3(out, smooth, &imaging.ConvolveOptions{Normalize: true}), p.Sharpness)
	}
	if p.BlurRadius > 0 {
		out = imaging.Blur(out, p.BlurRadius)
	}
	return out
}

// FlipMask mirrors a class mask horizontally when p.Flip is set so that it
// stays aligned with the transformed image.
func FlipMask(mask *segmentation.ClassMask, p Params) *segmentation.ClassMask {
	if mask == nil || !p.Flip {
		return mask
	}
	flipped := segmentation.NewClassMask(mask.Height, mask.Width)
	for y := 0; y < mask.Height; y++ {
		row := y * mask.Width
		for x := 0; x < mask.Width; x++ {
			flipped.Pix[row+x] = mask.Pix[row+mask.Width-1-x]
		}
	}
	return flipped
}

// blend interpolates every pixel from a reference colour towards the source
// by factor. A nil reference means black.
func blend(img *image.NRGBA, ref func(r, g, b uint8) (uint8, uint8, uint8), factor float64) *image.NRGBA {
	dst := image.NewNRGBA(img.Rect)
	for i := 0; i+3 < len(img.Pix); i += 4 {
		r, g, b := img.Pix[i], img.Pix[i+1], img.Pix[i+2]
		var dr, dg, db uint8
		if ref != nil {
			dr, dg, db = ref(r, g, b)
		}
		dst.Pix[i] = mix(dr, r, factor)
		dst.Pix[i+1] = mix(dg, g, factor)
		dst.Pix[i+2] = mix(db, b, factor)
		dst.Pix[i+3] = img.Pix[i+3]
	}
	return dst
}

func blendImages(img, ref *image.NRGBA, factor float64) *image.NRGBA {
	dst := image.NewNRGBA(img.Rect)
	for i := 0; i+3 < len(img.Pix); i += 4 {
		dst.Pix[i] = mix(ref.Pix[i], img.Pix[i], factor)
		dst.Pix[i+1] = mix(ref.Pix[i+1], img.Pix[i+1], factor)
		dst.Pix[i+2] = mix(ref.Pix[i+2], img.Pix[i+2], factor)
		dst.Pix[i+3] = img.Pix[i+3]
	}
	return dst
}

func mix(ref, src uint8, factor float64) uint8 {
	v := float64(ref) + factor*(float64(src)-float64(ref))
	return uint8(math.Round(math.Max(0, math.Min(255, v))))
}

func luma(r, g, b uint8) uint8 {
	return uint8((299*uint32(r) + 587*uint32(g) + 114*uint32(b) + 500) / 1000)
}

func meanLuma(img *image.NRGBA) uint8 {
	n := len(img.Pix) / 4
	if n == 0 {
		return 0
	}
	var sum uint64
	for i := 0; i+3 < len(img.Pix); i += 4 {
		sum += uint64(luma(img.Pix[i], img.Pix[i+1], img.Pix[i+2]))
	}
	return uint8(math.Round(float64(sum) / float64(n)))
}
