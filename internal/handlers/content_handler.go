package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/shutterfeed/backend/internal/middleware"
	"github.com/shutterfeed/backend/internal/models"
	"github.com/shutterfeed/backend/internal/pkg/logger"
	"github.com/shutterfeed/backend/internal/services"
)

// ContentHandler serves posts, comments and the resolved read views.
type ContentHandler struct {
	graph   *services.ContentGraph
	images  *services.ImageService
	timeout time.Duration
	log     *logger.Logger
}

func NewContentHandler(graph *services.ContentGraph, images *services.ImageService, timeout time.Duration, log *logger.Logger) *ContentHandler {
	return &ContentHandler{
		graph:   graph,
		images:  images,
		timeout: timeout,
		log:     log.With("handler", "ContentHandler"),
	}
}

func (h *ContentHandler) Feed(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := contextWithTimeout(r.Context(), h.timeout)
	defer cancel()

	posts, err := h.graph.Feed(ctx)
	if err != nil {
		writeError(w, h.log, "Feed", err)
		return
	}
	writeJSON(w, http.StatusOK, models.NewSuccessResponse(posts))
}

// CreatePost takes a JSON body referencing an already uploaded image.
func (h *ContentHandler) CreatePost(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r.Context())

	var req models.CreatePostRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if errs := req.Validate(); len(errs) > 0 {
		writeJSON(w, http.StatusBadRequest, models.NewValidationErrorResponse(errs))
		return
	}

	in := services.CreatePostInput{Caption: req.Caption, Title: req.Title}
	if req.ImageID != "" {
		id, _ := primitive.ObjectIDFromHex(req.ImageID)
		in.ImageID = &id
	}

	ctx, cancel := contextWithTimeout(r.Context(), h.timeout)
	defer cancel()

	post, err := h.graph.CreatePost(ctx, userID, in)
	h.respondCreated(w, "CreatePost", post, err)
}

// NewPostWithImage uploads the "image" part of a multipart form and creates
// the post from the "caption" and "title" fields in one request.
func (h *ContentHandler) NewPostWithImage(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r.Context())

	file, header, ok := readImageForm(w, r, h.images.MaxBytes())
	if !ok {
		return
	}
	defer file.Close()

	req := models.CreatePostRequest{Caption: r.FormValue("caption"), Title: r.FormValue("title")}
	if errs := req.Validate(); len(errs) > 0 {
		writeJSON(w, http.StatusBadRequest, models.NewValidationErrorResponse(errs))
		return
	}

	ctx, cancel := contextWithTimeout(r.Context(), h.timeout)
	defer cancel()

	upload, err := h.images.Upload(ctx, userID, header.Filename, file)
	if err != nil {
		writeError(w, h.log, "NewPostWithImage", err)
		return
	}

	post, err := h.graph.CreatePost(ctx, userID, services.CreatePostInput{
		Caption: req.Caption,
		Title:   req.Title,
		ImageID: &upload.ID,
	})
	h.respondCreated(w, "NewPostWithImage", post, err)
}

func (h *ContentHandler) GetPost(w http.ResponseWriter, r *http.Request) {
	postID, ok := parseObjectID(w, chi.URLParam(r, "postId"), "postId")
	if !ok {
		return
	}

	ctx, cancel := contextWithTimeout(r.Context(), h.timeout)
	defer cancel()

	post, err := h.graph.PostByID(ctx, postID)
	if err != nil {
		writeError(w, h.log, "GetPost", err)
		return
	}
	writeJSON(w, http.StatusOK, models.NewSuccessResponse(post))
}

func (h *ContentHandler) Comment(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r.Context())
	postID, ok := parseObjectID(w, chi.URLParam(r, "postId"), "postId")
	if !ok {
		return
	}

	var req models.CreateCommentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if errs := req.Validate(); len(errs) > 0 {
		writeJSON(w, http.StatusBadRequest, models.NewValidationErrorResponse(errs))
		return
	}

	ctx, cancel := contextWithTimeout(r.Context(), h.timeout)
	defer cancel()

	comment, err := h.graph.PostComment(ctx, userID, postID, req.Content)
	h.respondCreated(w, "Comment", comment, err)
}

// MyPosts lists the signed-in user's posts, newest first.
func (h *ContentHandler) MyPosts(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r.Context())

	ctx, cancel := contextWithTimeout(r.Context(), h.timeout)
	defer cancel()

	posts, err := h.graph.ProfilePosts(ctx, userID)
	if err != nil {
		writeError(w, h.log, "MyPosts", err)
		return
	}
	writeJSON(w, http.StatusOK, models.NewSuccessResponse(posts))
}

func (h *ContentHandler) PublicProfile(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := contextWithTimeout(r.Context(), h.timeout)
	defer cancel()

	profile, err := h.graph.PublicProfile(ctx, chi.URLParam(r, "username"))
	if err != nil {
		writeError(w, h.log, "PublicProfile", err)
		return
	}
	writeJSON(w, http.StatusOK, models.NewSuccessResponse(profile))
}

// respondCreated answers 201, with a warning when only the primary document was written.
func (h *ContentHandler) respondCreated(w http.ResponseWriter, op string, created interface{}, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, models.NewSuccessResponse(created))
	case errors.Is(err, services.ErrPartialWrite):
		h.log.Warn("created with partial write", "op", op, "err", err)
		writeJSON(w, http.StatusCreated, models.NewWarningResponse(created, partialWriteWarning))
	default:
		writeError(w, h.log, op, err)
	}
}
