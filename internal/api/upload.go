package api

import (
	"errors"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"

	"github.com/google/uuid"
)

// maxUploadSize caps image uploads at 10 MB.
const maxUploadSize = 10 * 1024 * 1024

var imageExtensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// upload stores a validated image and returns the URL the client embeds in
// a chat frame. Content is sniffed rather than trusted from the header.
func (a *App) upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			errResp := NewRequestEntityTooLargeError()
			a.writeJson(w, errResp.StatusCode, errResp)
			return
		}
		errResp := NewBadRequestError()
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	file, _, err := r.FormFile("image")
	if err != nil {
		errResp := NewBadRequestError()
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}
	defer file.Close()

	head := make([]byte, 512)
	n, err := io.ReadFull(file, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		errResp := NewInternalServerError(err)
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	contentType := http.DetectContentType(head[:n])
	ext, ok := imageExtensions[contentType]
	if !ok {
		errResp := NewUnsupportedMediaTypeError()
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := os.MkdirAll(a.cfg.UploadDir, 0o755); err != nil {
		errResp := NewInternalServerError(err)
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	name := uuid.NewString() + ext
	dst, err := os.Create(filepath.Join(a.cfg.UploadDir, name))
	if err != nil {
		errResp := NewInternalServerError(err)
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}
	defer dst.Close()

	if _, err := dst.Write(head[:n]); err == nil {
		_, err = io.Copy(dst, file)
	}
	if err != nil {
		os.Remove(dst.Name())
		errResp := NewInternalServerError(err)
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	a.writeJson(w, http.StatusOK, map[string]string{
		"url": path.Join("/uploads", name),
	})
}
