package delivery

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"io"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/tendant/simple-image/pkg/simpleimage"
)

// DefaultQuality is used for lossy encodes when the request sets none
const DefaultQuality = 85

// ErrUnsupportedFormat is returned for output formats the renderer cannot encode
var ErrUnsupportedFormat = errors.New("output format not supported by renderer")

var anchors = map[string]imaging.Anchor{
	"center": imaging.Center,
	"north":  imaging.Top,
	"south":  imaging.Bottom,
	"east":   imaging.Right,
	"west":   imaging.Left,
}

func anchorFor(gravity string) imaging.Anchor {
	if a, ok := anchors[gravity]; ok {
		return a
	}
	// auto and face have no detector behind them
	return imaging.Center
}

// Render applies the geometry of spec to img. Quality and format are applied
// by Encode.
func Render(img image.Image, spec simpleimage.TransformSpec) image.Image {
	w, h := spec.Width, spec.Height
	if w <= 0 && h <= 0 {
		return img
	}

	crop := spec.Crop
	if crop == "" {
		crop = simpleimage.DefaultCrop
	}

	// a single dimension keeps the aspect ratio in every mode
	if w <= 0 || h <= 0 {
		if crop == "limit" && !exceeds(img, w, h) {
			return img
		}
		return imaging.Resize(img, w, h, imaging.Lanczos)
	}

	switch crop {
	case "scale":
		return imaging.Resize(img, w, h, imaging.Lanczos)
	case "fit":
		return imaging.Fit(img, w, h, imaging.Lanczos)
	case "limit":
		if !exceeds(img, w, h) {
			return img
		}
		return imaging.Fit(img, w, h, imaging.Lanczos)
	case "pad":
		fitted := imaging.Fit(img, w, h, imaging.Lanczos)
		return imaging.PasteCenter(imaging.New(w, h, color.White), fitted)
	case "thumb":
		return imaging.Thumbnail(img, w, h, imaging.Lanczos)
	default:
		return imaging.Fill(img, w, h, anchorFor(spec.Gravity), imaging.Lanczos)
	}
}

func exceeds(img image.Image, w, h int) bool {
	b := img.Bounds()
	return (w > 0 && b.Dx() > w) || (h > 0 && b.Dy() > h)
}

// Encode writes img in format and returns the content type written.
func Encode(out io.Writer, img image.Image, format string, quality int) (string, error) {
	if quality <= 0 {
		quality = DefaultQuality
	}

	switch format {
	case "jpg", "jpeg":
		return "image/jpeg", imaging.Encode(out, img, imaging.JPEG, imaging.JPEGQuality(quality))
	case "png":
		return "image/png", imaging.Encode(out, img, imaging.PNG)
	case "webp":
		return "image/webp", webp.Encode(out, img, &webp.Options{Quality: float32(quality)})
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

// formatForMime picks the output format used when a request does not name one
func formatForMime(mimeType string) string {
	switch mimeType {
	case "image/jpeg":
		return "jpg"
	case "image/webp":
		return "webp"
	default:
		return "png"
	}
}
