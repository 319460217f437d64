package segmentation

import "errors"

var (
	// ErrDecode is returned when uploaded bytes are not a readable image.
	ErrDecode = errors.New("unable to decode image")
	// ErrInvalidContentType is returned when the declared upload type is not image/*.
	ErrInvalidContentType = errors.New("file must be an image")
	// ErrModelUnavailable is returned when no model is loaded.
	ErrModelUnavailable = errors.New("model is not loaded")
	// ErrInference wraps any failure surfaced by the model call.
	ErrInference = errors.New("inference failed")
	// ErrPaletteRange means a class index has no palette entry. It indicates a
	// model/configuration mismatch.
	ErrPaletteRange = errors.New("class index outside palette range")
	// ErrShape is returned for tensors that do not have the expected layout.
	ErrShape = errors.New("unexpected tensor shape")
)
