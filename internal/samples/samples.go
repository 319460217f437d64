package samples

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/example/segment-api/internal/segmentation"
)

// ErrUnknownSample is returned when no image exists for an id.
var ErrUnknownSample = errors.New("unknown sample id")

// Dataset is a directory of Cityscapes-style samples:
// <root>/images/<id><ImageSuffix> and <root>/masks/<id><MaskSuffix>.
type Dataset struct {
	ImageDir    string
	MaskDir     string
	ImageSuffix string
	MaskSuffix  string
}

// Sample is one loaded image and, when available, its ground truth
// converted to categories.
type Sample struct {
	ID    string
	Image *image.RGBA
	Truth *segmentation.ClassMask
}

// NewDataset lays a dataset out under root.
func NewDataset(root, imageSuffix, maskSuffix string) *Dataset {
	return &Dataset{
		ImageDir:    filepath.Join(root, "images"),
		MaskDir:     filepath.Join(root, "masks"),
		ImageSuffix: imageSuffix,
		MaskSuffix:  maskSuffix,
	}
}

// IDs lists the sample ids in lexicographic order. A missing image directory
// yields an empty list.
func (d *Dataset) IDs() ([]string, error) {
	entries, err := os.ReadDir(d.ImageDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, d.ImageSuffix) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, d.ImageSuffix))
	}
	sort.Strings(ids)
	return ids, nil
}

func (d *Dataset) ImagePath(id string) string {
	return filepath.Join(d.ImageDir, id+d.ImageSuffix)
}

func (d *Dataset) MaskPath(id string) string {
	return filepath.Join(d.MaskDir, id+d.MaskSuffix)
}

// Load reads the image for id and its ground truth if the mask file exists.
func (d *Dataset) Load(id string) (*Sample, error) {
	data, err := os.ReadFile(d.ImagePath(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownSample, id)
		}
		return nil, err
	}
	img, _, err := segmentation.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("sample %s: %w", id, err)
	}
	sample := &Sample{ID: id, Image: segmentation.ToRGB(img)}

	maskData, err := os.ReadFile(d.MaskPath(id))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return sample, nil
	case err != nil:
		return nil, err
	}
	maskImg, _, err := segmentation.Decode(maskData)
	if err != nil {
		return nil, fmt.Errorf("sample %s mask: %w", id, err)
	}
	sample.Truth = CategoriesFromLabelImage(maskImg)
	return sample, nil
}

// CategoriesFromLabelImage converts a labelIds image to a category mask.
func CategoriesFromLabelImage(img image.Image) *segmentation.ClassMask {
	b := img.Bounds()
	mask := segmentation.NewClassMask(b.Dy(), b.Dx())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			mask.Pix[(y-b.Min.Y)*mask.Width+(x-b.Min.X)] = CategoryFromLabelID(labelAt(img, x, y))
		}
	}
	return mask
}

func labelAt(img image.Image, x, y int) int {
	switch m := img.(type) {
	case *image.Gray:
		return int(m.GrayAt(x, y).Y)
	case *image.Gray16:
		return int(m.Gray16At(x, y).Y)
	case *image.Paletted:
		return int(m.ColorIndexAt(x, y))
	default:
		return int(color.GrayModel.Convert(img.At(x, y)).(color.Gray).Y)
	}
}

// CategoryFromLabelID maps a Cityscapes labelId to one of the eight categories.
func CategoryFromLabelID(id int) uint8 {
	switch {
	case id >= 7 && id <= 10:
		return 0 // flat
	case id == 24 || id == 25:
		return 1 // human
	case id >= 26 && id <= 33:
		return 2 // vehicle
	case id >= 11 && id <= 16:
		return 3 // construction
	case id >= 17 && id <= 20:
		return 4 // object
	case id == 21 || id == 22:
		return 5 // nature
	case id == 23:
		return 6 // sky
	default:
		return 7 // void
	}
}
