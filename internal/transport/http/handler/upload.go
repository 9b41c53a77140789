package handler

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/gin-gonic/gin"

	"gopherchat/internal/app"
	"gopherchat/internal/storage"
	"gopherchat/internal/transport/http/response"
)

type UploadHandler struct {
	uploadService *app.UploadService
	blobs         storage.Storage
	maxBody       int64
}

func NewUploadHandler(uploadService *app.UploadService, blobs storage.Storage, maxFileSize int64, maxFiles int) *UploadHandler {
	maxBody := int64(0)
	if maxFileSize > 0 && maxFiles > 0 {
		// room for multipart framing on top of the files themselves
		maxBody = maxFileSize*int64(maxFiles) + 1<<20
	}
	return &UploadHandler{uploadService: uploadService, blobs: blobs, maxBody: maxBody}
}

func (h *UploadHandler) Upload(c *gin.Context) {
	if h.maxBody > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBody)
	}

	form, err := c.MultipartForm()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(c, http.StatusRequestEntityTooLarge, response.CodeFileTooLarge, "upload too large")
			return
		}
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "multipart form with files is required")
		return
	}

	files, err := h.uploadService.Save(c.Request.Context(), form.File["files"])
	if err != nil {
		writeError(c, "upload", err)
		return
	}

	response.OK(c, files)
}

// Serve streams a blob from the store.
func (h *UploadHandler) Serve(c *gin.Context) {
	key := strings.TrimPrefix(path.Clean("/"+c.Param("key")), "/")
	if key == "" {
		response.Error(c, http.StatusNotFound, response.CodeNotFound, "file not found")
		return
	}

	rc, err := h.blobs.Read(c.Request.Context(), key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			response.Error(c, http.StatusNotFound, response.CodeNotFound, "file not found")
			return
		}
		writeError(c, "serve upload", err)
		return
	}
	defer rc.Close()

	contentType := mime.TypeByExtension(path.Ext(key))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("Content-Type", contentType)
	c.Header("Cache-Control", "public, max-age=31536000, immutable")
	c.Header("X-Content-Type-Options", "nosniff")
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, rc); err != nil {
		c.Error(err)
	}
}
