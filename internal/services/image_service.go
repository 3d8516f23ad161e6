package services

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/shutterfeed/backend/internal/models"
	"github.com/shutterfeed/backend/internal/pkg/logger"
	"github.com/shutterfeed/backend/internal/storage"
)

var allowedImageTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
}

// ImageService writes uploaded images to disk and records an Upload document
// pointing at them.
type ImageService struct {
	uploadDir string
	maxBytes  int64
	uploads   storage.Uploads
	log       *logger.Logger
	now       func() time.Time
}

func NewImageService(uploadDir string, maxSizeMB int64, uploads storage.Uploads, log *logger.Logger) (*ImageService, error) {
	if err := os.MkdirAll(uploadDir, 0755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &ImageService{
		uploadDir: uploadDir,
		maxBytes:  maxSizeMB * 1024 * 1024,
		uploads:   uploads,
		log:       log.With("service", "ImageService"),
		now:       time.Now,
	}, nil
}

func (s *ImageService) MaxBytes() int64 { return s.maxBytes }

// Upload stores a JPEG or PNG image. The type is sniffed from the content,
// not taken from the client.
func (s *ImageService) Upload(ctx context.Context, ownerID primitive.ObjectID, filename string, file io.Reader) (*models.Upload, error) {
	const op = "services.ImageService.Upload"

	br := bufio.NewReaderSize(file, 512)
	head, err := br.Peek(512)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return nil, fmt.Errorf("%s: read: %w", op, err)
	}
	contentType := http.DetectContentType(head)
	ext, ok := allowedImageTypes[contentType]
	if !ok {
		return nil, ErrInvalidImage
	}

	name := uuid.New().String() + ext
	filePath := filepath.Join(s.uploadDir, name)

	dst, err := os.Create(filePath)
	if err != nil {
		return nil, fmt.Errorf("%s: create file: %w", op, err)
	}

	size, err := io.Copy(dst, io.LimitReader(br, s.maxBytes+1))
	closeErr := dst.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(filePath)
		return nil, fmt.Errorf("%s: save file: %w", op, err)
	}
	if size > s.maxBytes {
		os.Remove(filePath)
		return nil, NewValidationError(map[string]string{"image": "File too large"})
	}

	upload := &models.Upload{
		Name:        filepath.Base(filename),
		Location:    "/uploads/" + name,
		ContentType: contentType,
		Size:        size,
		Owner:       ownerID,
		CreatedAt:   stamp(s.now()),
	}
	if err := s.uploads.CreateUpload(ctx, upload); err != nil {
		os.Remove(filePath)
		s.log.Error("record upload failed", "op", op, "err", err)
		return nil, storeErr(op, err)
	}

	s.log.Info("image uploaded", "op", op, "upload_id", upload.ID.Hex(), "size", size)
	return upload, nil
}

func (s *ImageService) GetByID(ctx context.Context, id primitive.ObjectID) (*models.Upload, error) {
	const op = "services.ImageService.GetByID"

	upload, err := s.uploads.UploadByID(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, storeErr(op, err)
	}
	return upload, nil
}
