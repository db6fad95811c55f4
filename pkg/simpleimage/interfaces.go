package simpleimage

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
)

// RemoteStore is the upload/destroy capability of a remote object store.
type RemoteStore interface {
	// Upload stores data and returns where it can be delivered from
	Upload(ctx context.Context, data []byte, params RemoteUploadParams) (*RemoteObject, error)

	// Destroy removes a stored object. Callers log a failure and continue.
	Destroy(ctx context.Context, remoteID string) error
}

// Fetcher is implemented by remote stores that can stream an object back.
// The delivery renderer uses it for backends without a transforming CDN.
type Fetcher interface {
	Open(ctx context.Context, remoteID string) (io.ReadCloser, error)
}

// Repository defines the interface for image asset persistence.
//
// The reference and transformation mutators are atomic: each applies its
// change in a single critical section or transaction, never as a
// read-modify-write of a previously loaded asset.
type Repository interface {
	// CreateImage inserts a new asset. It returns ErrDuplicateDigest when an
	// asset with the same content digest already exists.
	CreateImage(ctx context.Context, image *ImageAsset) error
	GetImage(ctx context.Context, id uuid.UUID) (*ImageAsset, error)
	// ImageExists reports whether the asset is present without loading its
	// references and transformations
	ImageExists(ctx context.Context, id uuid.UUID) (bool, error)
	GetImageByDigest(ctx context.Context, digest string) (*ImageAsset, error)

	// ListImages returns one page, newest first, and the total match count
	ListImages(ctx context.Context, filters ImageListFilters, page Pagination) ([]*ImageAsset, int64, error)
	ListUnusedBefore(ctx context.Context, cutoff time.Time) ([]*ImageAsset, error)
	ListImagesByEntity(ctx context.Context, entityType EntityType, entityID string) ([]*ImageAsset, error)

	// UpdateMetadata replaces tags and/or description when non-nil
	UpdateMetadata(ctx context.Context, id uuid.UUID, tags *[]string, description *string, now time.Time) (*ImageAsset, error)

	// AddReference appends ref unless its triple is already present
	AddReference(ctx context.Context, id uuid.UUID, ref UsageReference) (*ImageAsset, error)

	// RemoveReferences drops every reference selected by match
	RemoveReferences(ctx context.Context, id uuid.UUID, match ReferenceMatch, now time.Time) (*ImageAsset, error)

	// AddTransformation stores t unless the name is taken. It returns the
	// entry stored under that name either way, and whether t was inserted.
	AddTransformation(ctx context.Context, id uuid.UUID, t CachedTransformation, now time.Time) (*CachedTransformation, bool, error)

	// DeleteImage removes the asset unconditionally
	DeleteImage(ctx context.Context, id uuid.UUID) error

	// DeleteImageIfUnreferenced removes the asset only while its reference
	// count is zero and reports whether it did
	DeleteImageIfUnreferenced(ctx context.Context, id uuid.UUID) (bool, error)
}

// TransformCache is an optional front cache for transformation URLs.
// The repository remains the source of truth.
type TransformCache interface {
	Get(ctx context.Context, imageID uuid.UUID, name string) (string, bool, error)
	Set(ctx context.Context, imageID uuid.UUID, name, url string) error
	Invalidate(ctx context.Context, imageID uuid.UUID) error
}

// EventSink receives lifecycle notifications. Errors are logged and never
// fail the operation that produced the event.
type EventSink interface {
	ImageCreated(ctx context.Context, image *ImageAsset) error
	ImageDeleted(ctx context.Context, imageID uuid.UUID) error
	ReferenceAdded(ctx context.Context, image *ImageAsset, ref UsageReference) error
	ReferenceRemoved(ctx context.Context, imageID uuid.UUID, match ReferenceMatch) error
}
