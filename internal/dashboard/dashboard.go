package dashboard

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"io"
	"os"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/example/segment-api/internal/segmentation"
)

const (
	padding      = 10
	legendHeight = 32
	swatchSize   = 16
)

var (
	background  = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	placeholder = color.NRGBA{R: 240, G: 240, B: 240, A: 255}
	textColor   = color.NRGBA{R: 30, G: 30, B: 30, A: 255}
)

// Compose lays input, ground truth and prediction side by side at the input
// size, above a legend strip. A nil truth or prediction is drawn as a grey
// placeholder. Masks are resized with nearest neighbour so class borders stay
// sharp.
func Compose(input, truth, prediction image.Image, palette segmentation.Palette, labels []string) *image.NRGBA {
	w, h := input.Bounds().Dx(), input.Bounds().Dy()
	width := 3*w + 4*padding
	height := h + 3*padding + legendHeight

	canvas := imaging.New(width, height, background)
	canvas = imaging.Paste(canvas, input, image.Pt(padding, padding))
	canvas = imaging.Paste(canvas, fitPanel(truth, w, h), image.Pt(2*padding+w, padding))
	canvas = imaging.Paste(canvas, fitPanel(prediction, w, h), image.Pt(3*padding+2*w, padding))

	drawLegend(canvas, image.Rect(padding, h+2*padding, width-padding, height-padding), palette, labels)
	return canvas
}

func fitPanel(img image.Image, w, h int) image.Image {
	if img == nil {
		return imaging.New(w, h, placeholder)
	}
	if img.Bounds().Dx() == w && img.Bounds().Dy() == h {
		return img
	}
	return imaging.Resize(img, w, h, imaging.NearestNeighbor)
}

func drawLegend(dst *image.NRGBA, area image.Rectangle, palette segmentation.Palette, labels []string) {
	if len(palette) == 0 {
		return
	}
	step := area.Dx() / len(palette)
	top := area.Min.Y + (area.Dy()-swatchSize)/2

	drawer := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(textColor),
		Face: basicfont.Face7x13,
	}
	for i, c := range palette {
		x := area.Min.X + i*step
		swatch := image.Rect(x, top, x+swatchSize, top+swatchSize)
		draw.Draw(dst, swatch, image.NewUniform(c), image.Point{}, draw.Src)

		if i >= len(labels) {
			continue
		}
		label := labels[i]
		// Face7x13 glyphs are 7px wide
		if room := (step - swatchSize - 8) / 7; room < len(label) {
			if room <= 0 {
				continue
			}
			label = label[:room]
		}
		drawer.Dot = fixed.P(x+swatchSize+4, top+swatchSize-3)
		drawer.DrawString(label)
	}
}

// Save writes img as png, jpg/jpeg or webp. quality applies to jpg and webp.
func Save(img image.Image, path, format string, quality int) error {
	format = strings.ToLower(format)
	switch format {
	case "webp", "png", "jpg", "jpeg":
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := encode(f, img, format, quality); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func encode(w io.Writer, img image.Image, format string, quality int) error {
	switch format {
	case "webp":
		return webp.Encode(w, img, &webp.Options{Quality: float32(quality)})
	case "png":
		return imaging.Encode(w, img, imaging.PNG)
	default:
		return imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(quality))
	}
}
