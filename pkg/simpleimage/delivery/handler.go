package delivery

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"
	"github.com/tendant/simple-image/pkg/simpleimage"
)

// DefaultMaxDimension bounds the width and height a request may ask for
const DefaultMaxDimension = 4096

// DefaultMaxSourcePixels bounds the width*height of a stored image the
// handler will decode for a transformation
const DefaultMaxSourcePixels int64 = 40_000_000

const cacheControl = "public, max-age=31536000, immutable"

// Handler serves stored objects under /upload/, rendering any transformation
// segments that precede the object key. It stands in for a transforming CDN
// when the remote store only holds bytes.
type Handler struct {
	fetcher      simpleimage.Fetcher
	logger       *slog.Logger
	maxDimension int
	maxPixels    int64
}

// Option configures a Handler
type Option func(*Handler)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithMaxDimension sets the largest width or height a request may ask for
func WithMaxDimension(n int) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxDimension = n
		}
	}
}

// WithMaxSourcePixels sets the largest source image, in pixels, that will be
// decoded for a transformation
func WithMaxSourcePixels(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxPixels = n
		}
	}
}

// NewHandler creates a delivery handler reading objects from fetcher
func NewHandler(fetcher simpleimage.Fetcher, opts ...Option) *Handler {
	h := &Handler{
		fetcher:      fetcher,
		logger:       slog.Default(),
		maxDimension: DefaultMaxDimension,
		maxPixels:    DefaultMaxSourcePixels,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes returns the delivery routes; mount them at the delivery base URL
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/upload/*", h.Serve)
	r.Head("/upload/*", h.Serve)
	return r
}

// Serve handles GET /upload/{transformations...}/{remote id}
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request) {
	segments := strings.Split(strings.Trim(chi.URLParam(r, "*"), "/"), "/")

	spec, consumed, err := simpleimage.ParseTransformPath(segments)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if spec.Width > h.maxDimension || spec.Height > h.maxDimension {
		http.Error(w, fmt.Sprintf("dimensions are limited to %d pixels", h.maxDimension), http.StatusBadRequest)
		return
	}

	remoteID := strings.Join(segments[consumed:], "/")
	if remoteID == "" {
		http.NotFound(w, r)
		return
	}

	data, err := h.load(r, remoteID)
	if errors.Is(err, simpleimage.ErrObjectNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		h.logger.Error("failed to load object", "remote_id", remoteID, "error", err)
		http.Error(w, "failed to load object", http.StatusBadGateway)
		return
	}

	detected := mimetype.Detect(data)
	if consumed == 0 {
		h.write(w, r, detected.String(), data)
		return
	}

	width, height, _ := simpleimage.ProbeImage(data)
	if width == nil || height == nil {
		http.Error(w, "object is not a decodable image", http.StatusUnprocessableEntity)
		return
	}
	if int64(*width)*int64(*height) > h.maxPixels {
		http.Error(w, fmt.Sprintf("source image exceeds %d pixels", h.maxPixels), http.StatusUnprocessableEntity)
		return
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		http.Error(w, "object is not a decodable image", http.StatusUnprocessableEntity)
		return
	}

	format := spec.Format
	if format == "" {
		format = formatForMime(detected.String())
	}

	var buf bytes.Buffer
	contentType, err := Encode(&buf, Render(img, spec), format, spec.Quality)
	if errors.Is(err, ErrUnsupportedFormat) {
		http.Error(w, err.Error(), http.StatusUnsupportedMediaType)
		return
	}
	if err != nil {
		h.logger.Error("failed to encode image", "remote_id", remoteID, "format", format, "error", err)
		http.Error(w, "failed to render image", http.StatusInternalServerError)
		return
	}

	h.write(w, r, contentType, buf.Bytes())
}

func (h *Handler) load(r *http.Request, remoteID string) ([]byte, error) {
	rc, err := h.fetcher.Open(r.Context(), remoteID)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func (h *Handler) write(w http.ResponseWriter, r *http.Request, contentType string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", cacheControl)
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := w.Write(data); err != nil {
		h.logger.Debug("failed to write response", "error", err)
	}
}
