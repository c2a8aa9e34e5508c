package storage

import (
	"bytes"
	"fmt"
	"path"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

const (
	DefaultQuality  = 80
	WebPContentType = "image/webp"
)

type ConversionError struct {
	Filename string
	Err      error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("convert %s: %v", e.Filename, e.Err)
}

func (e *ConversionError) Unwrap() error {
	return e.Err
}

// ToWebFormat re-encodes a jpeg, png or webp image as lossy WebP and returns
// the bytes with the derived ".webp" filename.
func ToWebFormat(data []byte, filename string, quality int) ([]byte, string, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, "", &ConversionError{Filename: filename, Err: err}
	}

	var buf bytes.Buffer
	if err := webp.Encode(&buf, img, &webp.Options{Lossless: false, Quality: float32(ClampQuality(quality))}); err != nil {
		return nil, "", &ConversionError{Filename: filename, Err: err}
	}

	return buf.Bytes(), WebPFilename(filename), nil
}

func ClampQuality(q int) int {
	switch {
	case q <= 0:
		return DefaultQuality
	case q > 100:
		return 100
	}
	return q
}

// WebPFilename swaps the last extension for ".webp".
func WebPFilename(filename string) string {
	base := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if base == "." || base == "/" {
		base = ""
	}
	if strings.Contains(base, ".") {
		base = strings.TrimSuffix(base, path.Ext(base))
	} else {
		base = ""
	}
	if base == "" {
		base = "image"
	}
	return base + ".webp"
}
