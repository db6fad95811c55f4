package memory

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/tendant/simple-image/pkg/simpleimage"
	"github.com/tendant/simple-image/pkg/simpleimage/objectkey"
)

// ErrObjectNotFound is returned for keys the backend does not hold
var ErrObjectNotFound = simpleimage.ErrObjectNotFound

// DefaultBaseURL is the delivery base used when none is configured
const DefaultBaseURL = "http://localhost:8080/media"

type object struct {
	data     []byte
	mimeType string
}

// Backend is an in-memory implementation of simpleimage.RemoteStore. It
// records destroy calls and can be told to fail, which makes it the remote
// store of choice in tests.
type Backend struct {
	mu         sync.RWMutex
	objects    map[string]object
	baseURL    string
	keys       objectkey.Generator
	destroyed  []string
	uploadErr  error
	destroyErr error
}

// Option configures a Backend
type Option func(*Backend)

// WithBaseURL sets the delivery base URL; object URLs are
// {baseURL}/upload/{key}
func WithBaseURL(baseURL string) Option {
	return func(b *Backend) {
		b.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithKeyGenerator sets the object key strategy
func WithKeyGenerator(gen objectkey.Generator) Option {
	return func(b *Backend) {
		b.keys = gen
	}
}

// New creates a new in-memory storage backend
func New(opts ...Option) *Backend {
	b := &Backend{
		objects: make(map[string]object),
		baseURL: DefaultBaseURL,
		keys:    objectkey.NewRecommendedGenerator(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

var (
	_ simpleimage.RemoteStore = (*Backend)(nil)
	_ simpleimage.Fetcher     = (*Backend)(nil)
)

// Upload stores a copy of data under a fresh key
func (b *Backend) Upload(ctx context.Context, data []byte, params simpleimage.RemoteUploadParams) (*simpleimage.RemoteObject, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.uploadErr != nil {
		return nil, b.uploadErr
	}

	key := b.keys.GenerateKey(uuid.New(), objectkey.KeyMetadata{Folder: params.Folder, FileName: params.FileName})
	mimeType := params.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	b.objects[key] = object{data: append([]byte(nil), data...), mimeType: mimeType}

	width, height, format := simpleimage.ProbeImage(data)
	return &simpleimage.RemoteObject{
		RemoteID: key,
		URL:      b.baseURL + simpleimage.UploadPathMarker + key,
		Width:    width,
		Height:   height,
		Format:   format,
	}, nil
}

// Destroy deletes the object and records the call, even when it fails
func (b *Backend) Destroy(ctx context.Context, remoteID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.destroyed = append(b.destroyed, remoteID)
	if b.destroyErr != nil {
		return b.destroyErr
	}
	if _, exists := b.objects[remoteID]; !exists {
		return ErrObjectNotFound
	}
	delete(b.objects, remoteID)
	return nil
}

// Open returns the stored bytes of remoteID
func (b *Backend) Open(ctx context.Context, remoteID string) (io.ReadCloser, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	obj, exists := b.objects[remoteID]
	if !exists {
		return nil, ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

// MimeType returns the content type recorded at upload
func (b *Backend) MimeType(remoteID string) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	obj, exists := b.objects[remoteID]
	return obj.mimeType, exists
}

// Has reports whether remoteID is stored
func (b *Backend) Has(remoteID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, exists := b.objects[remoteID]
	return exists
}

// Len returns the number of stored objects
func (b *Backend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.objects)
}

// DestroyCalls returns every remote id passed to Destroy, in call order
func (b *Backend) DestroyCalls() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]string(nil), b.destroyed...)
}

// FailUploads makes subsequent uploads return err; nil restores success
func (b *Backend) FailUploads(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.uploadErr = err
}

// FailDestroys makes subsequent destroys return err; nil restores success
func (b *Backend) FailDestroys(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.destroyErr = err
}
