package simpleimage

import (
	"context"

	"github.com/google/uuid"
)

// Service defines the main interface for the simple-image library
type Service interface {
	// Upload operations
	Upload(ctx context.Context, req UploadRequest) (*ImageAsset, error)
	UploadMultiple(ctx context.Context, req UploadMultipleRequest) ([]*ImageAsset, error)

	// Query operations
	GetAllImages(ctx context.Context, req ListImagesRequest) (*ImageList, error)
	GetImage(ctx context.Context, id uuid.UUID) (*ImageAsset, error)
	GetImagesByEntity(ctx context.Context, entityType EntityType, entityID string) ([]*ImageAsset, error)

	// Metadata
	UpdateMetadata(ctx context.Context, req UpdateMetadataRequest) (*ImageAsset, error)

	// Reference tracking
	AddReference(ctx context.Context, id uuid.UUID, ref UsageReference) (*ImageAsset, error)
	RemoveReference(ctx context.Context, id uuid.UUID, match ReferenceMatch) (*RemoveReferenceResult, error)
	SyncReferences(ctx context.Context, req SyncReferencesRequest) (*SyncReferencesResult, error)

	// Transformations
	Transform(ctx context.Context, id uuid.UUID, spec TransformSpec) (*TransformResult, error)

	// Deletion
	DeleteImage(ctx context.Context, id uuid.UUID) error
	CleanupUnused(ctx context.Context, daysOld int) (int, error)
}
