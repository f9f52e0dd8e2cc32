package imaging

import (
	"bytes"
	"image"
	"image/jpeg"
	_ "image/png"

	"go.uber.org/zap"
	"golang.org/x/image/draw"
)

const jpegQuality = 85

// Resizer shrinks uploads under a dimension budget before they travel
// to the inference endpoints. Normalization is best effort: any
// decode, scale, or encode problem falls back to the original bytes.
type Resizer struct {
	logger *zap.Logger
}

// NewResizer builds a resizer.
func NewResizer(logger *zap.Logger) *Resizer {
	return &Resizer{logger: logger.Named("imaging")}
}

// Normalize returns the image scaled so neither side exceeds
// maxDimension, re-encoded as JPEG. Images already within budget pass
// through untouched.
func (r *Resizer) Normalize(data []byte, maxDimension int) []byte {
	if maxDimension <= 0 {
		return data
	}

	decoded, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		r.logger.Debug("normalize skipped, decode failed", zap.Error(err))
		return data
	}

	bounds := decoded.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width <= maxDimension && height <= maxDimension && format == "jpeg" {
		return data
	}

	scaledWidth, scaledHeight := width, height
	if width > maxDimension || height > maxDimension {
		if width >= height {
			scaledWidth = maxDimension
			scaledHeight = height * maxDimension / width
		} else {
			scaledHeight = maxDimension
			scaledWidth = width * maxDimension / height
		}
		if scaledWidth < 1 {
			scaledWidth = 1
		}
		if scaledHeight < 1 {
			scaledHeight = 1
		}
	}

	scaled := image.NewRGBA(image.Rect(0, 0, scaledWidth, scaledHeight))
	draw.CatmullRom.Scale(scaled, scaled.Bounds(), decoded, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, scaled, &jpeg.Options{Quality: jpegQuality}); err != nil {
		r.logger.Debug("normalize skipped, encode failed", zap.Error(err))
		return data
	}
	return buf.Bytes()
}
