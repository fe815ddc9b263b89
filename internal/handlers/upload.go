package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"support-chat/internal/uploads"
)

// UploadHandler accepts chat attachments and returns their hosted URL.
// Uploading does not touch any chat; the client sends the message with
// the returned URL afterwards.
type UploadHandler struct {
	uploader uploads.Uploader
}

// NewUploadHandler builds an UploadHandler.
func NewUploadHandler(uploader uploads.Uploader) *UploadHandler {
	return &UploadHandler{uploader: uploader}
}

// Upload stores one multipart file field named "file".
func (h *UploadHandler) Upload(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing file"})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable file"})
		return
	}
	defer file.Close()

	contentType := fileHeader.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	result, err := h.uploader.Upload(c.Request.Context(), fileHeader.Filename, contentType, file, fileHeader.Size)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "upload failed"})
		return
	}

	c.JSON(http.StatusOK, result)
}
