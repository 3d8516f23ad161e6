package handlers

import (
	"mime/multipart"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/shutterfeed/backend/internal/middleware"
	"github.com/shutterfeed/backend/internal/models"
	"github.com/shutterfeed/backend/internal/pkg/logger"
	"github.com/shutterfeed/backend/internal/services"
)

type ImageHandler struct {
	imageService *services.ImageService
	timeout      time.Duration
	log          *logger.Logger
}

func NewImageHandler(imageService *services.ImageService, timeout time.Duration, log *logger.Logger) *ImageHandler {
	return &ImageHandler{
		imageService: imageService,
		timeout:      timeout,
		log:          log.With("handler", "ImageHandler"),
	}
}

func (h *ImageHandler) Upload(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r.Context())

	file, header, ok := readImageForm(w, r, h.imageService.MaxBytes())
	if !ok {
		return
	}
	defer file.Close()

	ctx, cancel := contextWithTimeout(r.Context(), h.timeout)
	defer cancel()

	upload, err := h.imageService.Upload(ctx, userID, header.Filename, file)
	if err != nil {
		writeError(w, h.log, "Upload", err)
		return
	}

	writeJSON(w, http.StatusCreated, models.NewSuccessResponse(upload))
}

func (h *ImageHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseObjectID(w, chi.URLParam(r, "id"), "id")
	if !ok {
		return
	}

	ctx, cancel := contextWithTimeout(r.Context(), h.timeout)
	defer cancel()

	upload, err := h.imageService.GetByID(ctx, id)
	if err != nil {
		writeError(w, h.log, "Get", err)
		return
	}
	writeJSON(w, http.StatusOK, models.NewSuccessResponse(upload))
}

// readImageForm limits the body and pulls the "image" part out of a multipart form.
func readImageForm(w http.ResponseWriter, r *http.Request, maxBytes int64) (multipart.File, *multipart.FileHeader, bool) {
	// room for the other form fields
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+1<<20)

	if err := r.ParseMultipartForm(maxBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, models.NewErrorResponse("File too large or invalid form data"))
		return nil, nil, false
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, models.NewErrorResponse("No image file provided"))
		return nil, nil, false
	}
	return file, header, true
}
