package handlers

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"boatmarket/internal/service"
)

type stageResponse struct {
	Keys   []string              `json:"keys"`
	URLs   []string              `json:"urls"`
	Failed []service.FileFailure `json:"failed"`
}

// StageUpload stores pre-checkout images under the caller's staging
// session. Each file succeeds or fails on its own.
func (h HandlerSet) StageUpload(c *gin.Context) {
	sessionID := c.PostForm("sessionId")
	if !service.ValidSessionID(sessionID) {
		badRequest(c, "invalid_session_id", "sessionId must match [A-Za-z0-9_-]{1,64}")
		return
	}

	quality := 0
	if raw := c.PostForm("quality"); raw != "" {
		q, err := strconv.Atoi(raw)
		if err != nil || q < 1 || q > 100 {
			badRequest(c, "invalid_quality", "quality must be between 1 and 100")
			return
		}
		quality = q
	}
	convert := c.DefaultPostForm("convert", "true") != "false"

	files, err := h.readUploads(c)
	if err != nil {
		badRequest(c, "invalid_files", err.Error())
		return
	}

	resp := stageResponse{Keys: []string{}, URLs: []string{}, Failed: []service.FileFailure{}}
	for _, file := range files {
		if err := service.ValidateUpload(file, h.cfg.Uploads.MaxFileSize); err != nil {
			resp.Failed = append(resp.Failed, service.FileFailure{Filename: file.Filename, Error: err.Error()})
			continue
		}

		result := h.staging.Stage(c.Request.Context(), service.StageInput{
			SessionID:   sessionID,
			Filename:    file.Filename,
			ContentType: file.ContentType,
			Data:        file.Data,
			Quality:     quality,
			Raw:         !convert,
		})
		if !result.Success {
			resp.Failed = append(resp.Failed, service.FileFailure{Filename: file.Filename, Error: result.Error})
			continue
		}
		resp.Keys = append(resp.Keys, result.Key)
		resp.URLs = append(resp.URLs, result.URL)
	}

	status := http.StatusOK
	if len(resp.Keys) == 0 {
		status = http.StatusBadRequest
	}
	c.JSON(status, resp)
}

// readUploads collects the "file" and "file*" parts of a multipart form.
func (h HandlerSet) readUploads(c *gin.Context) ([]service.UploadFile, error) {
	form, err := c.MultipartForm()
	if err != nil {
		return nil, fmt.Errorf("multipart form required")
	}

	fields := make([]string, 0, len(form.File))
	for field := range form.File {
		if strings.HasPrefix(field, "file") {
			fields = append(fields, field)
		}
	}
	sort.Strings(fields)

	var headers []*multipart.FileHeader
	for _, field := range fields {
		headers = append(headers, form.File[field]...)
	}
	if len(headers) == 0 {
		return nil, fmt.Errorf("no files")
	}
	if limit := h.cfg.Uploads.MaxFiles; limit > 0 && len(headers) > limit {
		return nil, fmt.Errorf("at most %d files per request", limit)
	}

	files := make([]service.UploadFile, 0, len(headers))
	for _, fh := range headers {
		data, err := readPart(fh, h.cfg.Uploads.MaxFileSize)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", fh.Filename, err)
		}
		files = append(files, service.UploadFile{
			Filename:    fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Data:        data,
		})
	}
	return files, nil
}

// readPart reads at most one byte past maxSize so oversize files still fail
// validation without being buffered whole.
func readPart(fh *multipart.FileHeader, maxSize int64) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if maxSize > 0 {
		r = io.LimitReader(f, maxSize+1)
	}
	return io.ReadAll(r)
}
