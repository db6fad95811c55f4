package simpleimage

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Error types
var (
	// ErrImageNotFound indicates an image was not found
	ErrImageNotFound = errors.New("image not found")

	// ErrImageInUse indicates an image still has references and cannot be deleted
	ErrImageInUse = errors.New("image is still referenced")

	// ErrDuplicateDigest indicates an image with the same content digest already exists
	ErrDuplicateDigest = errors.New("image with the same content digest already exists")

	// ErrInvalidEntityType indicates an entity type outside the known set
	ErrInvalidEntityType = errors.New("invalid entity type")

	// ErrInvalidReference indicates a usage reference is missing required fields
	ErrInvalidReference = errors.New("invalid usage reference")

	// ErrInvalidTransform indicates a transformation spec failed validation
	ErrInvalidTransform = errors.New("invalid transformation")

	// ErrInvalidRemoteURL indicates a remote URL lacks the upload path marker
	ErrInvalidRemoteURL = errors.New("remote url has no upload path marker")

	// ErrUploadFailed indicates the remote store rejected an upload
	ErrUploadFailed = errors.New("upload failed")

	// ErrEmptyUpload indicates an upload carried no bytes
	ErrEmptyUpload = errors.New("upload is empty")

	// ErrObjectNotFound indicates a remote store holds no object under a key
	ErrObjectNotFound = errors.New("object not found")
)

// ImageError represents an error related to an image operation
type ImageError struct {
	ImageID uuid.UUID
	Op      string
	Err     error
}

func (e *ImageError) Error() string {
	return fmt.Sprintf("image operation %s failed for image %s: %v", e.Op, e.ImageID, e.Err)
}

func (e *ImageError) Unwrap() error {
	return e.Err
}

// ConflictError is returned when an image cannot be deleted because it is
// still referenced.
type ConflictError struct {
	ImageID        uuid.UUID
	ReferenceCount int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("cannot delete image %s: it is used by %d entities, remove all references first", e.ImageID, e.ReferenceCount)
}

func (e *ConflictError) Unwrap() error {
	return ErrImageInUse
}

// UpstreamError represents a failure reported by the remote object store
type UpstreamError struct {
	Backend  string
	Op       string
	RemoteID string
	Err      error
}

func (e *UpstreamError) Error() string {
	if e.RemoteID == "" {
		return fmt.Sprintf("remote %s on backend %s failed: %v", e.Op, e.Backend, e.Err)
	}
	return fmt.Sprintf("remote %s failed for %s on backend %s: %v", e.Op, e.RemoteID, e.Backend, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrImageNotFound)
}

// IsConflict reports whether err is a still-referenced conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrImageInUse)
}

// IsValidation reports whether err is a caller input error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidEntityType) ||
		errors.Is(err, ErrInvalidReference) ||
		errors.Is(err, ErrInvalidTransform) ||
		errors.Is(err, ErrEmptyUpload)
}

// IsUpstream reports whether err came from the remote object store.
func IsUpstream(err error) bool {
	var upstream *UpstreamError
	return errors.As(err, &upstream) || errors.Is(err, ErrUploadFailed)
}
