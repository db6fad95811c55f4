package simpleimage

import "github.com/google/uuid"

// Request/Response DTOs

// UploadRequest contains the bytes and metadata of one upload
type UploadRequest struct {
	Data       []byte
	FileName   string
	MimeType   string // detected from Data when empty
	UploaderID string
	Options    UploadOptions
}

// UploadOptions carries optional upload metadata. When EntityType, EntityID
// and Field are all set the upload also records that reference; a partial
// triple is ignored.
type UploadOptions struct {
	Tags        []string
	Description string
	Folder      string
	EntityType  EntityType
	EntityID    string
	Field       string
}

// Reference returns the usage reference described by the options, if all
// three parts are present.
func (o UploadOptions) Reference() (UsageReference, bool) {
	if o.EntityType == "" || o.EntityID == "" || o.Field == "" {
		return UsageReference{}, false
	}
	return UsageReference{EntityType: o.EntityType, EntityID: o.EntityID, Field: o.Field}, true
}

// UploadFile is one file of a multi-file upload
type UploadFile struct {
	Data     []byte
	FileName string
	MimeType string
}

// UploadMultipleRequest uploads several files with shared options
type UploadMultipleRequest struct {
	Files      []UploadFile
	UploaderID string
	Options    UploadOptions
}

// UpdateMetadataRequest is a partial update; nil fields are left unchanged
type UpdateMetadataRequest struct {
	ImageID     uuid.UUID
	Tags        *[]string
	Description *string
}

// ListImagesRequest contains filters and pagination for listing images
type ListImagesRequest struct {
	Filters    ImageListFilters
	Pagination Pagination
}

// SyncReferencesRequest reconciles the images one entity field points at
type SyncReferencesRequest struct {
	EntityType EntityType
	EntityID   string
	Field      string
	OldIDs     []uuid.UUID
	NewIDs     []uuid.UUID
}

// SyncReferencesResult reports what SyncReferences changed
type SyncReferencesResult struct {
	Added   []uuid.UUID `json:"added"`
	Removed []uuid.UUID `json:"removed"`
	Deleted []uuid.UUID `json:"deleted"`
}
