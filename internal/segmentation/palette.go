package segmentation

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
)

// Palette maps a class index to its display color.
type Palette []color.RGBA

// Cityscapes is the 8-category palette the model was trained against.
var Cityscapes = Palette{
	{R: 128, G: 64, B: 128, A: 255}, // flat
	{R: 220, G: 20, B: 60, A: 255},  // human
	{R: 0, G: 0, B: 142, A: 255},    // vehicle
	{R: 70, G: 70, B: 70, A: 255},   // construction
	{R: 220, G: 220, B: 0, A: 255},  // object
	{R: 107, G: 142, B: 35, A: 255}, // nature
	{R: 70, G: 130, B: 180, A: 255}, // sky
	{R: 0, G: 0, B: 0, A: 255},      // void
}

// CityscapesLabels names the Cityscapes palette entries in order.
var CityscapesLabels = []string{"Flat", "Human", "Vehicle", "Construction", "Object", "Nature", "Sky", "Void"}

// Colorize paints every pixel with its class color. A class without a palette
// entry fails the whole call with ErrPaletteRange.
func Colorize(mask *ClassMask, palette Palette) (*image.RGBA, error) {
	if len(mask.Pix) != mask.Height*mask.Width {
		return nil, fmt.Errorf("%w: mask %dx%d has %d pixels", ErrShape, mask.Width, mask.Height, len(mask.Pix))
	}
	img := image.NewRGBA(image.Rect(0, 0, mask.Width, mask.Height))
	for i, class := range mask.Pix {
		if int(class) >= len(palette) {
			return nil, fmt.Errorf("%w: class %d at pixel %d, palette has %d colors", ErrPaletteRange, class, i, len(palette))
		}
		c := palette[class]
		img.Pix[i*4] = c.R
		img.Pix[i*4+1] = c.G
		img.Pix[i*4+2] = c.B
		img.Pix[i*4+3] = 0xff
	}
	return img, nil
}

// EncodePNG encodes img with the default compression level.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}
