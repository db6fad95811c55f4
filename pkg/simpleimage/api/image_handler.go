package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/tendant/simple-image/pkg/simpleimage"
)

// Upload limits
const (
	DefaultMaxUploadBytes = 10 << 20
	DefaultMaxFiles       = 10
)

// Multipart field names
const (
	FormFieldImage  = "image"
	FormFieldImages = "images"
)

var errNotAnImage = errors.New("only image files are allowed")

// ImageHandler handles HTTP requests for images using pkg/simpleimage
type ImageHandler struct {
	service        simpleimage.Service
	validate       *validator.Validate
	authenticate   func(http.Handler) http.Handler
	logger         *slog.Logger
	maxUploadBytes int64
	maxFiles       int
}

// HandlerOption configures an ImageHandler
type HandlerOption func(*ImageHandler)

// WithAuthenticator sets the middleware that establishes the caller identity.
// The default trusts the development identity headers.
func WithAuthenticator(mw func(http.Handler) http.Handler) HandlerOption {
	return func(h *ImageHandler) {
		h.authenticate = mw
	}
}

// WithLogger sets the handler logger
func WithLogger(logger *slog.Logger) HandlerOption {
	return func(h *ImageHandler) {
		h.logger = logger
	}
}

// WithMaxUploadBytes bounds the size of a single uploaded file
func WithMaxUploadBytes(n int64) HandlerOption {
	return func(h *ImageHandler) {
		if n > 0 {
			h.maxUploadBytes = n
		}
	}
}

// WithMaxFiles bounds the number of files in a multi-file upload
func WithMaxFiles(n int) HandlerOption {
	return func(h *ImageHandler) {
		if n > 0 {
			h.maxFiles = n
		}
	}
}

// NewImageHandler creates a new image handler
func NewImageHandler(service simpleimage.Service, opts ...HandlerOption) *ImageHandler {
	h := &ImageHandler{
		service:        service,
		validate:       newValidator(),
		authenticate:   HeaderAuthenticator,
		logger:         slog.Default(),
		maxUploadBytes: DefaultMaxUploadBytes,
		maxFiles:       DefaultMaxFiles,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes returns the routes for images. Every route requires an
// authenticated caller; deletion and cleanup require the admin role.
func (h *ImageHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(h.authenticate)

	r.Post("/upload", h.Upload)
	r.Post("/upload-multiple", h.UploadMultiple)

	r.Get("/", h.ListImages)
	r.Get("/entity/{entityType}/{entityId}", h.GetImagesByEntity)
	r.Get("/{id}", h.GetImage)
	r.Put("/{id}", h.UpdateImage)

	r.Post("/{id}/reference", h.AddReference)
	r.Delete("/{id}/reference", h.RemoveReference)
	r.Post("/references/sync", h.SyncReferences)

	r.Post("/{id}/transform", h.Transform)

	r.With(RequireAdmin).Delete("/{id}", h.DeleteImage)
	r.With(RequireAdmin).Post("/cleanup", h.Cleanup)

	return r
}

// Upload stores a single image from the "image" multipart field
func (h *ImageHandler) Upload(w http.ResponseWriter, r *http.Request) {
	form, ok := h.parseUploadForm(w, r, 1)
	if !ok {
		return
	}

	headers := r.MultipartForm.File[FormFieldImage]
	if len(headers) == 0 {
		writeMessage(w, r, http.StatusBadRequest, "no file uploaded")
		return
	}

	file, err := h.readImage(headers[0])
	if err != nil {
		writeMessage(w, r, http.StatusBadRequest, err.Error())
		return
	}

	image, err := h.service.Upload(r.Context(), simpleimage.UploadRequest{
		Data:       file.Data,
		FileName:   file.FileName,
		MimeType:   file.MimeType,
		UploaderID: callerID(r),
		Options:    form.options(),
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	h.logger.Info("Image uploaded", "image_id", image.ID.String(), "reference_count", image.ReferenceCount)
	writeData(w, r, http.StatusCreated, "image uploaded", map[string]interface{}{"image": image})
}

// UploadMultiple stores every file of the "images" multipart field
func (h *ImageHandler) UploadMultiple(w http.ResponseWriter, r *http.Request) {
	form, ok := h.parseUploadForm(w, r, h.maxFiles)
	if !ok {
		return
	}

	headers := r.MultipartForm.File[FormFieldImages]
	if len(headers) == 0 {
		writeMessage(w, r, http.StatusBadRequest, "no files uploaded")
		return
	}
	if len(headers) > h.maxFiles {
		writeMessage(w, r, http.StatusBadRequest, fmt.Sprintf("at most %d files per request", h.maxFiles))
		return
	}

	files := make([]simpleimage.UploadFile, 0, len(headers))
	for _, header := range headers {
		file, err := h.readImage(header)
		if err != nil {
			writeMessage(w, r, http.StatusBadRequest, fmt.Sprintf("%s: %v", header.Filename, err))
			return
		}
		files = append(files, file)
	}

	images, err := h.service.UploadMultiple(r.Context(), simpleimage.UploadMultipleRequest{
		Files:      files,
		UploaderID: callerID(r),
		Options:    form.options(),
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeData(w, r, http.StatusCreated, fmt.Sprintf("%d images uploaded", len(images)), map[string]interface{}{"images": images})
}

// ListImages returns one page of images
func (h *ImageHandler) ListImages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filters := simpleimage.ImageListFilters{
		Search:     q.Get("search"),
		Folder:     q.Get("folder"),
		EntityID:   q.Get("entity_id"),
		UploaderID: q.Get("uploaded_by"),
		UnusedOnly: q.Get("unused_only") == "true",
		Tags:       splitList(q.Get("tags")),
	}
	if raw := q.Get("entity_type"); raw != "" {
		entityType, err := simpleimage.ParseEntityType(raw)
		if err != nil {
			writeMessage(w, r, http.StatusBadRequest, err.Error())
			return
		}
		filters.EntityType = entityType
	}

	page, err := queryInt(q.Get("page"))
	if err != nil || page < 0 || page > simpleimage.MaxPage {
		writeMessage(w, r, http.StatusBadRequest, "invalid page")
		return
	}
	limit, err := queryInt(q.Get("limit"))
	if err != nil || limit < 0 {
		writeMessage(w, r, http.StatusBadRequest, "invalid limit")
		return
	}

	list, err := h.service.GetAllImages(r.Context(), simpleimage.ListImagesRequest{
		Filters:    filters,
		Pagination: simpleimage.Pagination{Page: page, Limit: limit},
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeData(w, r, http.StatusOK, "", list)
}

// GetImagesByEntity returns every image referenced by one entity
func (h *ImageHandler) GetImagesByEntity(w http.ResponseWriter, r *http.Request) {
	entityType, err := simpleimage.ParseEntityType(chi.URLParam(r, "entityType"))
	if err != nil {
		writeMessage(w, r, http.StatusBadRequest, err.Error())
		return
	}

	images, err := h.service.GetImagesByEntity(r.Context(), entityType, chi.URLParam(r, "entityId"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeData(w, r, http.StatusOK, "", map[string]interface{}{"images": images})
}

// GetImage returns one image
func (h *ImageHandler) GetImage(w http.ResponseWriter, r *http.Request) {
	id, ok := imageID(w, r)
	if !ok {
		return
	}

	image, err := h.service.GetImage(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeData(w, r, http.StatusOK, "", map[string]interface{}{"image": image})
}

// UpdateImage changes tags and description
func (h *ImageHandler) UpdateImage(w http.ResponseWriter, r *http.Request) {
	id, ok := imageID(w, r)
	if !ok {
		return
	}

	var req UpdateImageRequest
	if !h.decode(w, r, &req) {
		return
	}

	image, err := h.service.UpdateMetadata(r.Context(), simpleimage.UpdateMetadataRequest{
		ImageID:     id,
		Tags:        req.Tags,
		Description: req.Description,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeData(w, r, http.StatusOK, "image updated", map[string]interface{}{"image": image})
}

// AddReference records that an entity field displays the image
func (h *ImageHandler) AddReference(w http.ResponseWriter, r *http.Request) {
	id, ok := imageID(w, r)
	if !ok {
		return
	}

	var req ReferenceRequest
	if !h.decode(w, r, &req) {
		return
	}

	image, err := h.service.AddReference(r.Context(), id, simpleimage.UsageReference{
		EntityType: simpleimage.EntityType(req.EntityType),
		EntityID:   req.EntityID,
		Field:      req.Field,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeData(w, r, http.StatusOK, "reference added", map[string]interface{}{"image": image})
}

// RemoveReference drops references and deletes the image when none remain
func (h *ImageHandler) RemoveReference(w http.ResponseWriter, r *http.Request) {
	id, ok := imageID(w, r)
	if !ok {
		return
	}

	var req RemoveReferenceRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.service.RemoveReference(r.Context(), id, simpleimage.ReferenceMatch{
		EntityType: simpleimage.EntityType(req.EntityType),
		EntityID:   req.EntityID,
		Field:      req.Field,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	if result.Deleted {
		writeData(w, r, http.StatusOK, "image deleted (no more references)", result)
		return
	}
	writeData(w, r, http.StatusOK, "reference removed", result)
}

// SyncReferences reconciles the images one entity field points at
func (h *ImageHandler) SyncReferences(w http.ResponseWriter, r *http.Request) {
	var req SyncReferencesRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.service.SyncReferences(r.Context(), simpleimage.SyncReferencesRequest{
		EntityType: simpleimage.EntityType(req.EntityType),
		EntityID:   req.EntityID,
		Field:      req.Field,
		OldIDs:     req.OldIDs,
		NewIDs:     req.NewIDs,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeData(w, r, http.StatusOK, "references synced", result)
}

// Transform returns the URL of a named transformation
func (h *ImageHandler) Transform(w http.ResponseWriter, r *http.Request) {
	id, ok := imageID(w, r)
	if !ok {
		return
	}

	var req TransformRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.service.Transform(r.Context(), id, req.spec())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeData(w, r, http.StatusOK, "transformation generated", result)
}

// DeleteImage removes an unreferenced image
func (h *ImageHandler) DeleteImage(w http.ResponseWriter, r *http.Request) {
	id, ok := imageID(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteImage(r.Context(), id); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	h.logger.Info("Image deleted", "image_id", id.String())
	writeMessage(w, r, http.StatusOK, "image deleted")
}

// Cleanup deletes unreferenced images older than days_old days
func (h *ImageHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("days_old")
	if raw == "" {
		raw = r.URL.Query().Get("daysOld")
	}
	days, err := queryInt(raw)
	if err != nil {
		writeMessage(w, r, http.StatusBadRequest, "invalid days_old")
		return
	}

	deleted, err := h.service.CleanupUnused(r.Context(), days)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeData(w, r, http.StatusOK, fmt.Sprintf("cleaned up %d unused images", deleted), map[string]int{"deleted_count": deleted})
}

func (h *ImageHandler) parseUploadForm(w http.ResponseWriter, r *http.Request, files int) (UploadForm, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes*int64(files)+1<<20)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeMessage(w, r, http.StatusRequestEntityTooLarge, "upload exceeds maximum allowed size")
			return UploadForm{}, false
		}
		writeMessage(w, r, http.StatusBadRequest, "expected multipart/form-data")
		return UploadForm{}, false
	}

	values := r.MultipartForm.Value
	form := UploadForm{
		Description: first(values["description"]),
		Folder:      first(values["folder"]),
		EntityType:  first(values["entity_type"]),
		EntityID:    first(values["entity_id"]),
		Field:       first(values["field"]),
	}
	for _, raw := range values["tags"] {
		form.Tags = append(form.Tags, splitList(raw)...)
	}

	if err := h.validate.Struct(form); err != nil {
		writeValidation(w, r, err)
		return UploadForm{}, false
	}
	return form, true
}

func (h *ImageHandler) readImage(header *multipart.FileHeader) (simpleimage.UploadFile, error) {
	if header.Size > h.maxUploadBytes {
		return simpleimage.UploadFile{}, fmt.Errorf("file exceeds %d bytes", h.maxUploadBytes)
	}

	f, err := header.Open()
	if err != nil {
		return simpleimage.UploadFile{}, err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, h.maxUploadBytes+1))
	if err != nil {
		return simpleimage.UploadFile{}, err
	}
	if int64(len(data)) > h.maxUploadBytes {
		return simpleimage.UploadFile{}, fmt.Errorf("file exceeds %d bytes", h.maxUploadBytes)
	}
	if len(data) == 0 {
		return simpleimage.UploadFile{}, simpleimage.ErrEmptyUpload
	}

	detected := mimetype.Detect(data)
	if !strings.HasPrefix(detected.String(), "image/") {
		return simpleimage.UploadFile{}, errNotAnImage
	}

	return simpleimage.UploadFile{
		Data:     data,
		FileName: header.Filename,
		MimeType: detected.String(),
	}, nil
}

func (h *ImageHandler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeMessage(w, r, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeValidation(w, r, err)
		return false
	}
	return true
}

func imageID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeMessage(w, r, http.StatusBadRequest, "invalid image id")
		return uuid.Nil, false
	}
	return id, true
}

func callerID(r *http.Request) string {
	id, _ := IdentityFromContext(r.Context())
	return id.UserID
}

func queryInt(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0])
}
