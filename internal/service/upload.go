package service

import (
	"errors"
	"fmt"

	"boatmarket/internal/media/sniffer"
)

type UploadFile struct {
	Filename    string
	ContentType string
	Data        []byte
}

type FileFailure struct {
	Filename string `json:"filename"`
	Error    string `json:"error"`
}

// ValidateUpload accepts jpeg, png and webp files up to maxSize bytes whose
// contents agree with the declared type.
func ValidateUpload(file UploadFile, maxSize int64) error {
	if len(file.Data) == 0 {
		return invalid("file", "empty file")
	}
	if maxSize > 0 && int64(len(file.Data)) > maxSize {
		return invalid("file", fmt.Sprintf("%s exceeds %d bytes", file.Filename, maxSize))
	}
	if _, err := sniffer.Validate(file.Data, file.ContentType); err != nil {
		if errors.Is(err, sniffer.ErrTypeMismatch) {
			return invalid("file", file.Filename+": content does not match declared type")
		}
		return invalid("file", file.Filename+": only jpeg, png and webp images are allowed")
	}
	return nil
}
