package dashboard

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"

	"github.com/example/segment-api/internal/segmentation"
)

func solid(w, h int, c color.Color) *image.NRGBA {
	return imaging.New(w, h, c)
}

func TestComposeGeometry(t *testing.T) {
	input := solid(40, 30, color.NRGBA{R: 255, A: 255})
	prediction := solid(4, 3, segmentation.Cityscapes[6])

	out := Compose(input, nil, prediction, segmentation.Cityscapes, segmentation.CityscapesLabels)

	wantW := 3*40 + 4*padding
	wantH := 30 + 3*padding + legendHeight
	if out.Bounds().Dx() != wantW || out.Bounds().Dy() != wantH {
		t.Fatalf("unexpected size %v, want %dx%d", out.Bounds(), wantW, wantH)
	}
	if got := out.NRGBAAt(padding+5, padding+5); got != (color.NRGBA{R: 255, A: 255}) {
		t.Fatalf("input panel pixel %v", got)
	}
	if got := out.NRGBAAt(2*padding+40+5, padding+5); got != placeholder {
		t.Fatalf("missing truth should be a placeholder, got %v", got)
	}
	sky := segmentation.Cityscapes[6]
	want := color.NRGBA{R: sky.R, G: sky.G, B: sky.B, A: 255}
	if got := out.NRGBAAt(3*padding+80+39, padding+29); got != want {
		t.Fatalf("prediction should be stretched to the input size, got %v", got)
	}
}

func TestComposeDrawsLegendSwatches(t *testing.T) {
	input := solid(100, 20, color.White)
	out := Compose(input, nil, nil, segmentation.Cityscapes, segmentation.CityscapesLabels)

	area := image.Rect(padding, 20+2*padding, out.Bounds().Dx()-padding, out.Bounds().Dy()-padding)
	step := area.Dx() / len(segmentation.Cityscapes)
	top := area.Min.Y + (area.Dy()-swatchSize)/2
	for i, c := range segmentation.Cityscapes {
		got := out.NRGBAAt(area.Min.X+i*step+swatchSize/2, top+swatchSize/2)
		if got != (color.NRGBA{R: c.R, G: c.G, B: c.B, A: 255}) {
			t.Fatalf("swatch %d: got %v want %v", i, got, c)
		}
	}
}

func TestSaveFormats(t *testing.T) {
	dir := t.TempDir()
	img := solid(8, 6, color.NRGBA{R: 10, G: 200, B: 30, A: 255})

	for _, format := range []string{"png", "jpg", "webp"} {
		path := filepath.Join(dir, "out."+format)
		if err := Save(img, path, format, 90); err != nil {
			t.Fatalf("%s: %v", format, err)
		}
		f, err := os.Open(path)
		if err != nil {
			t.Fatalf("%s: %v", format, err)
		}
		var decoded image.Image
		if format == "webp" {
			decoded, err = webp.Decode(f)
		} else {
			decoded, err = imaging.Decode(f)
		}
		f.Close()
		if err != nil {
			t.Fatalf("%s: decode: %v", format, err)
		}
		if decoded.Bounds().Dx() != 8 || decoded.Bounds().Dy() != 6 {
			t.Fatalf("%s: unexpected bounds %v", format, decoded.Bounds())
		}
	}

	if err := Save(img, filepath.Join(dir, "out.gif"), "gif", 90); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}
