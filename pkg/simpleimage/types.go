package simpleimage

import (
	"time"

	"github.com/google/uuid"
)

// EntityType is the kind of entity that can hold a reference to an image.
type EntityType string

// Entity type constants (typed).
const (
	EntityTypeBlog        EntityType = "blog"
	EntityTypeUser        EntityType = "user"
	EntityTypeInformation EntityType = "information"
	EntityTypeOther       EntityType = "other"
)

// DefaultFolder is the remote folder used when an upload does not name one.
const DefaultFolder = "uploads"

// UploadPathMarker is the path segment in delivery URLs after which a
// transformation path is spliced.
const UploadPathMarker = "/upload/"

// ImageAsset is one stored image and its metadata.
//
// ReferenceCount always equals len(UsedBy). It is maintained by the
// repository and never set directly by callers.
type ImageAsset struct {
	ID              uuid.UUID              `json:"id"`
	RemoteID        string                 `json:"remote_id"`
	RemoteURL       string                 `json:"remote_url"`
	ContentDigest   string                 `json:"content_digest"`
	FileName        string                 `json:"file_name"`
	FileSizeBytes   int64                  `json:"file_size_bytes"`
	MimeType        string                 `json:"mime_type"`
	Width           *int                   `json:"width,omitempty"`
	Height          *int                   `json:"height,omitempty"`
	Format          string                 `json:"format,omitempty"`
	Folder          string                 `json:"folder"`
	ReferenceCount  int                    `json:"reference_count"`
	UsedBy          []UsageReference       `json:"used_by"`
	UploaderID      string                 `json:"uploader_id"`
	Tags            []string               `json:"tags"`
	Description     string                 `json:"description,omitempty"`
	Transformations []CachedTransformation `json:"transformations"`
	Version         int64                  `json:"version"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
}

// UsageReference is a claim by one (entity type, entity id, field) triple that
// it displays an image.
type UsageReference struct {
	EntityType EntityType `json:"entity_type"`
	EntityID   string     `json:"entity_id"`
	Field      string     `json:"field"`
	AddedAt    time.Time  `json:"added_at"`
}

// SameTarget reports whether r and other address the same entity field.
func (r UsageReference) SameTarget(other UsageReference) bool {
	return r.EntityType == other.EntityType && r.EntityID == other.EntityID && r.Field == other.Field
}

// ReferenceMatch selects references to remove. An empty Field matches every
// field of the entity.
type ReferenceMatch struct {
	EntityType EntityType `json:"entity_type"`
	EntityID   string     `json:"entity_id"`
	Field      string     `json:"field,omitempty"`
}

// Matches reports whether ref is selected by m.
func (m ReferenceMatch) Matches(ref UsageReference) bool {
	if ref.EntityType != m.EntityType || ref.EntityID != m.EntityID {
		return false
	}
	return m.Field == "" || ref.Field == m.Field
}

// CachedTransformation is a named derived URL for an image.
type CachedTransformation struct {
	Name          string `json:"name"`
	URL           string `json:"url"`
	Width         *int   `json:"width,omitempty"`
	Height        *int   `json:"height,omitempty"`
	TransformSpec string `json:"transform_spec"`
}

// Transformation returns the cached transformation with the given name.
func (a *ImageAsset) Transformation(name string) (*CachedTransformation, bool) {
	for i := range a.Transformations {
		if a.Transformations[i].Name == name {
			return &a.Transformations[i], true
		}
	}
	return nil, false
}

// HasReference reports whether the asset already carries ref's exact triple.
func (a *ImageAsset) HasReference(ref UsageReference) bool {
	for _, existing := range a.UsedBy {
		if existing.SameTarget(ref) {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the asset.
func (a *ImageAsset) Clone() *ImageAsset {
	if a == nil {
		return nil
	}
	c := *a
	c.Width = cloneInt(a.Width)
	c.Height = cloneInt(a.Height)
	c.UsedBy = append([]UsageReference(nil), a.UsedBy...)
	c.Tags = append([]string(nil), a.Tags...)
	c.Transformations = make([]CachedTransformation, len(a.Transformations))
	for i, t := range a.Transformations {
		t.Width = cloneInt(t.Width)
		t.Height = cloneInt(t.Height)
		c.Transformations[i] = t
	}
	if c.UsedBy == nil {
		c.UsedBy = []UsageReference{}
	}
	if c.Tags == nil {
		c.Tags = []string{}
	}
	return &c
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	n := *v
	return &n
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int {
	return &v
}

// TransformSpec describes a requested transformation. Zero values mean unset.
type TransformSpec struct {
	Name    string `json:"name"`
	Width   int    `json:"width,omitempty"`
	Height  int    `json:"height,omitempty"`
	Crop    string `json:"crop,omitempty"`
	Quality int    `json:"quality,omitempty"`
	Format  string `json:"format,omitempty"`
	Gravity string `json:"gravity,omitempty"`
}

// TransformResult is the outcome of a transformation request.
type TransformResult struct {
	URL    string `json:"url"`
	Cached bool   `json:"cached"`
}

// RemoveReferenceResult is the outcome of removing references from an image.
// Image is nil when Deleted is true.
type RemoveReferenceResult struct {
	Deleted bool        `json:"deleted"`
	Image   *ImageAsset `json:"image,omitempty"`
}

// RemoteObject describes an object stored by a RemoteStore.
type RemoteObject struct {
	RemoteID string
	URL      string
	Width    *int
	Height   *int
	Format   string
}

// RemoteUploadParams carries the upload parameters passed to a RemoteStore.
type RemoteUploadParams struct {
	Folder   string
	FileName string
	MimeType string
	Digest   string
}

// ImageListFilters defines filtering for listing images. Empty fields do not
// filter.
type ImageListFilters struct {
	Search     string
	Tags       []string
	Folder     string
	EntityType EntityType
	EntityID   string
	UploaderID string
	UnusedOnly bool
}

// Pagination selects a 1-based page of results.
type Pagination struct {
	Page  int
	Limit int
}

// Pagination defaults.
const (
	DefaultPage  = 1
	DefaultLimit = 20
	MaxLimit     = 100
	// MaxPage keeps (Page-1)*Limit well inside int range
	MaxPage = 1_000_000
)

// Normalize applies defaults and bounds.
func (p Pagination) Normalize() Pagination {
	if p.Page < 1 {
		p.Page = DefaultPage
	}
	if p.Limit < 1 {
		p.Limit = DefaultLimit
	}
	if p.Limit > MaxLimit {
		p.Limit = MaxLimit
	}
	if p.Page > MaxPage {
		p.Page = MaxPage
	}
	return p
}

// Offset returns the number of rows to skip.
func (p Pagination) Offset() int {
	return (p.Page - 1) * p.Limit
}

// ImageList is one page of images.
type ImageList struct {
	Items       []*ImageAsset `json:"items"`
	Total       int64         `json:"total"`
	TotalPages  int           `json:"total_pages"`
	CurrentPage int           `json:"current_page"`
}

// TotalPages returns the number of pages needed for total items at limit per page.
func TotalPages(total int64, limit int) int {
	if limit <= 0 || total <= 0 {
		return 0
	}
	return int((total + int64(limit) - 1) / int64(limit))
}
