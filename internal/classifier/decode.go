package classifier

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

var (
	// ErrDecode is returned when the input is not a readable image.
	ErrDecode = errors.New("cannot decode image")
	// ErrShape is returned when a tensor does not have the size the model declares.
	ErrShape = errors.New("tensor shape mismatch")
)

// DefaultMaxPixels matches the decompression bomb limit of common imaging
// libraries (about 89 megapixels).
const DefaultMaxPixels = 1024 * 1024 * 1024 / 4 / 3

// Decode parses encoded image bytes, refusing rasters larger than
// DefaultMaxPixels.
func Decode(data []byte) (image.Image, error) {
	return DecodeLimited(data, DefaultMaxPixels)
}

// DecodeLimited reads the header first and rejects images whose declared
// width*height exceeds maxPixels before any pixel buffer is allocated.
// A non-positive maxPixels disables the check.
func DecodeLimited(data []byte, maxPixels int64) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrDecode)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: empty raster %dx%d", ErrDecode, cfg.Width, cfg.Height)
	}
	if maxPixels > 0 && int64(cfg.Width)*int64(cfg.Height) > maxPixels {
		return nil, fmt.Errorf("%w: %dx%d exceeds the %d pixel limit", ErrDecode, cfg.Width, cfg.Height, maxPixels)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, fmt.Errorf("%w: empty raster %dx%d", ErrDecode, b.Dx(), b.Dy())
	}
	return img, nil
}

// DecodeBase64 drops an optional data-URI header ("data:image/jpeg;base64,")
// and decodes the payload. Padding is optional.
func DecodeBase64(s string) ([]byte, error) {
	if i := strings.LastIndexByte(s, ','); i >= 0 {
		s = s[i+1:]
	}
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n':
			return -1
		}
		return r
	}, s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty base64 payload", ErrDecode)
	}

	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		var rawErr error
		data, rawErr = base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
		if rawErr != nil {
			return nil, fmt.Errorf("%w: invalid base64: %v", ErrDecode, err)
		}
	}
	return data, nil
}
