package service

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/apex/log"
	"github.com/cockroachdb/errors"

	"github.com/stemsplit/api/internal/model"
	"github.com/stemsplit/api/internal/storage"
)

// ErrFileTooLarge is returned for uploads over the configured ceiling. The
// returned error is also marked model.ErrInvalidRequest.
var ErrFileTooLarge = errors.New("file too large")

var allowedExtensions = map[string]string{
	".aif":  "audio/aiff",
	".mp3":  "audio/mpeg",
	".flac": "audio/flac",
	".wav":  "audio/wav",
}

// AllowedExtensions lists the accepted upload extensions, for error messages.
const AllowedExtensions = ".aif, .mp3, .flac, .wav"

// UploadService stores caller uploads in the gateway's object store
type UploadService struct {
	store   storage.ObjectStore
	maxSize int64
}

func NewUploadService(store storage.ObjectStore, maxSize int64) *UploadService {
	return &UploadService{
		store:   store,
		maxSize: maxSize,
	}
}

// MaxSize is the upload ceiling in bytes
func (s *UploadService) MaxSize() int64 {
	return s.maxSize
}

// Validate checks the file name and size before anything is read
func (s *UploadService) Validate(filename string, size int64) error {
	name := filepath.Base(filename)
	if name == "" || name == "." || name == string(filepath.Separator) {
		return errors.Mark(errors.New("no file selected"), model.ErrInvalidRequest)
	}
	if _, ok := allowedExtensions[strings.ToLower(filepath.Ext(name))]; !ok {
		return errors.Mark(errors.Newf("unsupported file type %q", filepath.Ext(name)), model.ErrInvalidRequest)
	}
	if size > s.maxSize {
		return errors.Mark(errors.WithDetailf(ErrFileTooLarge, "size %d exceeds %d", size, s.maxSize), model.ErrInvalidRequest)
	}
	return nil
}

// UploadAudio stores the file at localPath under its original name
func (s *UploadService) UploadAudio(ctx context.Context, filename, localPath string, size int64) (*model.UploadAudioResponse, error) {
	if err := s.Validate(filename, size); err != nil {
		return nil, err
	}

	objectName := filepath.Base(filename)
	contentType := allowedExtensions[strings.ToLower(filepath.Ext(objectName))]

	if _, err := s.store.Put(ctx, localPath, objectName, contentType); err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"object": objectName,
		"size":   size,
	}).Info("audio uploaded")

	return &model.UploadAudioResponse{
		Success:     true,
		Filename:    objectName,
		ObjectName:  objectName,
		Size:        size,
		ContentType: contentType,
	}, nil
}
