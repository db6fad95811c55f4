package simpleimage

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

// ProbeImage reads the image header of data and returns its dimensions and
// format. Width and height are nil when the header cannot be decoded.
func ProbeImage(data []byte) (width, height *int, format string) {
	cfg, name, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, nil, ""
	}
	if name == "jpeg" {
		name = "jpg"
	}
	return IntPtr(cfg.Width), IntPtr(cfg.Height), name
}
