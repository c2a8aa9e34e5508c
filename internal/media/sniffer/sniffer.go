package sniffer

import (
	"bytes"
	"errors"
	"io"
	"mime"
	"strings"
)

type MediaType string

const (
	TypeJPEG MediaType = "jpeg"
	TypePNG  MediaType = "png"
	TypeWEBP MediaType = "webp"
)

var (
	ErrUnknownType  = errors.New("unsupported image type")
	ErrTypeMismatch = errors.New("declared content type does not match file contents")
)

type Result struct {
	Type MediaType
	MIME string
}

// Detect reads the first 512 bytes of r and classifies them. The consumed
// head is returned so callers can replay it.
func Detect(r io.Reader) (Result, []byte, error) {
	head := make([]byte, 512)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return Result{}, nil, err
	}
	head = head[:n]

	result, err := DetectHead(head)
	return result, head, err
}

func DetectHead(head []byte) (Result, error) {
	switch {
	case isJPEG(head):
		return Result{Type: TypeJPEG, MIME: "image/jpeg"}, nil
	case isPNG(head):
		return Result{Type: TypePNG, MIME: "image/png"}, nil
	case isWEBP(head):
		return Result{Type: TypeWEBP, MIME: "image/webp"}, nil
	}
	return Result{}, ErrUnknownType
}

// Validate sniffs data and checks it against the declared Content-Type. An
// empty or generic declared type defers to the sniffed one.
func Validate(data []byte, declared string) (Result, error) {
	result, err := DetectHead(data)
	if err != nil {
		return Result{}, err
	}

	declared = NormalizeMIME(declared)
	if declared == "" || declared == "application/octet-stream" {
		return result, nil
	}
	if declared == "image/jpg" {
		declared = "image/jpeg"
	}
	if declared != result.MIME {
		return Result{}, ErrTypeMismatch
	}
	return result, nil
}

func isJPEG(head []byte) bool {
	return len(head) > 3 &&
		head[0] == 0xff &&
		head[1] == 0xd8 &&
		head[2] == 0xff
}

func isPNG(head []byte) bool {
	pngMagic := []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}
	return len(head) >= len(pngMagic) && bytes.Equal(head[:len(pngMagic)], pngMagic)
}

func isWEBP(head []byte) bool {
	return len(head) >= 12 &&
		bytes.Equal(head[:4], []byte("RIFF")) &&
		bytes.Equal(head[8:12], []byte("WEBP"))
}

func NormalizeMIME(contentType string) string {
	if contentType == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		if idx := strings.Index(contentType, ";"); idx >= 0 {
			contentType = contentType[:idx]
		}
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return mediaType
}
