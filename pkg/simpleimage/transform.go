package simpleimage

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultCrop is applied whenever a width or height is requested without a
// crop mode.
const DefaultCrop = "fill"

// BuildTransformPath renders spec as a delivery transformation path. Parts are
// emitted in a fixed order (dimensions and crop, quality, format, gravity) and
// joined with "/". Unset fields are skipped. A crop without dimensions is
// ignored.
func BuildTransformPath(spec TransformSpec) string {
	var parts []string

	if spec.Width > 0 || spec.Height > 0 {
		var dims []string
		if spec.Width > 0 {
			dims = append(dims, "w_"+strconv.Itoa(spec.Width))
		}
		if spec.Height > 0 {
			dims = append(dims, "h_"+strconv.Itoa(spec.Height))
		}
		crop := spec.Crop
		if crop == "" {
			crop = DefaultCrop
		}
		dims = append(dims, "c_"+crop)
		parts = append(parts, strings.Join(dims, ","))
	}
	if spec.Quality > 0 {
		parts = append(parts, "q_"+strconv.Itoa(spec.Quality))
	}
	if spec.Format != "" {
		parts = append(parts, "f_"+spec.Format)
	}
	if spec.Gravity != "" {
		parts = append(parts, "g_"+spec.Gravity)
	}

	return strings.Join(parts, "/")
}

// SpliceTransformURL inserts path into remoteURL right after the first upload
// path marker. An empty path returns remoteURL unchanged.
func SpliceTransformURL(remoteURL, path string) (string, error) {
	idx := strings.Index(remoteURL, UploadPathMarker)
	if idx < 0 {
		return "", fmt.Errorf("%w: %s", ErrInvalidRemoteURL, remoteURL)
	}
	if path == "" {
		return remoteURL, nil
	}
	head := remoteURL[:idx+len(UploadPathMarker)]
	tail := remoteURL[idx+len(UploadPathMarker):]
	return head + strings.Trim(path, "/") + "/" + tail, nil
}

// ParseTransformPath is the inverse of BuildTransformPath. It accepts the
// leading segments of a delivery path and returns the parsed spec together
// with the number of segments consumed. Parsing stops at the first segment
// that is not a transformation segment.
func ParseTransformPath(segments []string) (TransformSpec, int, error) {
	var spec TransformSpec
	consumed := 0

	for _, segment := range segments {
		if !IsTransformSegment(segment) {
			break
		}
		for _, token := range strings.Split(segment, ",") {
			key, value, _ := strings.Cut(token, "_")
			switch key {
			case "w", "h", "q":
				n, err := strconv.Atoi(value)
				if err != nil || n <= 0 {
					return TransformSpec{}, 0, fmt.Errorf("%w: bad value in %q", ErrInvalidTransform, token)
				}
				switch key {
				case "w":
					spec.Width = n
				case "h":
					spec.Height = n
				default:
					spec.Quality = n
				}
			case "c":
				spec.Crop = value
			case "f":
				spec.Format = value
			case "g":
				spec.Gravity = value
			}
		}
		consumed++
	}

	if (spec.Width > 0 || spec.Height > 0) && spec.Crop == "" {
		spec.Crop = DefaultCrop
	}
	spec.Name = "delivery"
	if err := ValidateTransformSpec(spec); err != nil {
		return TransformSpec{}, 0, err
	}
	spec.Name = ""
	return spec, consumed, nil
}

// IsTransformSegment reports whether a path segment consists only of
// transformation tokens such as "w_100,h_80,c_fill" or "q_80".
func IsTransformSegment(segment string) bool {
	if segment == "" {
		return false
	}
	for _, token := range strings.Split(segment, ",") {
		key, value, ok := strings.Cut(token, "_")
		if !ok || value == "" {
			return false
		}
		switch key {
		case "w", "h", "c", "q", "f", "g":
		default:
			return false
		}
	}
	return true
}
