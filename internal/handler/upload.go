package handler

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/apex/log"
	"github.com/cockroachdb/errors"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/stemsplit/api/internal/model"
	"github.com/stemsplit/api/internal/service"
	"github.com/stemsplit/api/pkg/response"
)

type UploadHandler struct {
	service *service.UploadService
	tempDir string
}

func NewUploadHandler(svc *service.UploadService, tempDir string) *UploadHandler {
	return &UploadHandler{
		service: svc,
		tempDir: tempDir,
	}
}

// Audio handles POST /api/upload-audio
func (h *UploadHandler) Audio(c *fiber.Ctx) error {
	file, err := c.FormFile("file")
	if err != nil {
		return response.ValidationError(c, "File is required", nil)
	}

	if err := h.service.Validate(file.Filename, file.Size); err != nil {
		if errors.Is(err, service.ErrFileTooLarge) {
			return response.PayloadTooLarge(c, fmt.Sprintf("File too large. Maximum size is %dMB.", h.service.MaxSize()/(1024*1024)))
		}
		return response.ValidationError(c, "Invalid file type. Supported: "+service.AllowedExtensions, fiber.Map{
			"filename": file.Filename,
		})
	}

	if err := os.MkdirAll(h.tempDir, 0o755); err != nil {
		return response.ServiceError(c, "Failed to prepare upload")
	}
	localPath := filepath.Join(h.tempDir, uuid.New().String()+filepath.Ext(file.Filename))
	defer os.Remove(localPath)

	if err := c.SaveFile(file, localPath); err != nil {
		log.WithError(err).Error("failed to save upload")
		return response.ServiceError(c, "Failed to save file")
	}

	result, err := h.service.UploadAudio(c.UserContext(), file.Filename, localPath, file.Size)
	if err != nil {
		if errors.Is(err, model.ErrInvalidRequest) {
			return response.ValidationError(c, err.Error(), nil)
		}
		log.WithError(err).WithField("filename", file.Filename).Error("upload failed")
		return response.ServiceError(c, "Upload failed")
	}

	return response.OK(c, result)
}
