package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-image/pkg/simpleimage"
)

// Repository implements simpleimage.Repository using in-memory storage.
// Every mutator runs under the write lock, so each is atomic.
type Repository struct {
	mu       sync.RWMutex
	images   map[uuid.UUID]*simpleimage.ImageAsset
	byDigest map[string]uuid.UUID // content_digest -> image_id
}

// New creates a new in-memory repository
func New() *Repository {
	return &Repository{
		images:   make(map[uuid.UUID]*simpleimage.ImageAsset),
		byDigest: make(map[string]uuid.UUID),
	}
}

var _ simpleimage.Repository = (*Repository)(nil)

func (r *Repository) CreateImage(ctx context.Context, image *simpleimage.ImageAsset) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byDigest[image.ContentDigest]; exists {
		return simpleimage.ErrDuplicateDigest
	}

	stored := image.Clone()
	stored.ReferenceCount = len(stored.UsedBy)
	r.images[image.ID] = stored
	r.byDigest[image.ContentDigest] = image.ID
	return nil
}

func (r *Repository) GetImage(ctx context.Context, id uuid.UUID) (*simpleimage.ImageAsset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	image, exists := r.images[id]
	if !exists {
		return nil, simpleimage.ErrImageNotFound
	}
	return image.Clone(), nil
}

func (r *Repository) ImageExists(ctx context.Context, id uuid.UUID) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.images[id]
	return exists, nil
}

func (r *Repository) GetImageByDigest(ctx context.Context, digest string) (*simpleimage.ImageAsset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, exists := r.byDigest[digest]
	if !exists {
		return nil, simpleimage.ErrImageNotFound
	}
	return r.images[id].Clone(), nil
}

func (r *Repository) ListImages(ctx context.Context, filters simpleimage.ImageListFilters, page simpleimage.Pagination) ([]*simpleimage.ImageAsset, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*simpleimage.ImageAsset
	for _, image := range r.images {
		if matchesFilters(image, filters) {
			matched = append(matched, image)
		}
	}
	sortNewestFirst(matched)

	page = page.Normalize()
	total := int64(len(matched))
	start := min(max(page.Offset(), 0), len(matched))
	end := min(start+page.Limit, len(matched))

	result := make([]*simpleimage.ImageAsset, 0, end-start)
	for _, image := range matched[start:end] {
		result = append(result, image.Clone())
	}
	return result, total, nil
}

func (r *Repository) ListUnusedBefore(ctx context.Context, cutoff time.Time) ([]*simpleimage.ImageAsset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*simpleimage.ImageAsset
	for _, image := range r.images {
		if image.ReferenceCount == 0 && image.CreatedAt.Before(cutoff) {
			result = append(result, image.Clone())
		}
	}
	sortNewestFirst(result)
	return result, nil
}

func (r *Repository) ListImagesByEntity(ctx context.Context, entityType simpleimage.EntityType, entityID string) ([]*simpleimage.ImageAsset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	match := simpleimage.ReferenceMatch{EntityType: entityType, EntityID: entityID}
	var result []*simpleimage.ImageAsset
	for _, image := range r.images {
		if referencedBy(image, match) {
			result = append(result, image.Clone())
		}
	}
	sortNewestFirst(result)
	return result, nil
}

func (r *Repository) UpdateMetadata(ctx context.Context, id uuid.UUID, tags *[]string, description *string, now time.Time) (*simpleimage.ImageAsset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	image, exists := r.images[id]
	if !exists {
		return nil, simpleimage.ErrImageNotFound
	}
	if tags != nil {
		image.Tags = append([]string{}, (*tags)...)
	}
	if description != nil {
		image.Description = *description
	}
	touch(image, now)
	return image.Clone(), nil
}

func (r *Repository) AddReference(ctx context.Context, id uuid.UUID, ref simpleimage.UsageReference) (*simpleimage.ImageAsset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	image, exists := r.images[id]
	if !exists {
		return nil, simpleimage.ErrImageNotFound
	}
	if image.HasReference(ref) {
		return image.Clone(), nil
	}

	image.UsedBy = append(image.UsedBy, ref)
	image.ReferenceCount = len(image.UsedBy)
	touch(image, ref.AddedAt)
	return image.Clone(), nil
}

func (r *Repository) RemoveReferences(ctx context.Context, id uuid.UUID, match simpleimage.ReferenceMatch, now time.Time) (*simpleimage.ImageAsset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	image, exists := r.images[id]
	if !exists {
		return nil, simpleimage.ErrImageNotFound
	}

	kept := make([]simpleimage.UsageReference, 0, len(image.UsedBy))
	for _, ref := range image.UsedBy {
		if !match.Matches(ref) {
			kept = append(kept, ref)
		}
	}
	if len(kept) != len(image.UsedBy) {
		image.UsedBy = kept
		image.ReferenceCount = len(kept)
		touch(image, now)
	}
	return image.Clone(), nil
}

func (r *Repository) AddTransformation(ctx context.Context, id uuid.UUID, t simpleimage.CachedTransformation, now time.Time) (*simpleimage.CachedTransformation, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	image, exists := r.images[id]
	if !exists {
		return nil, false, simpleimage.ErrImageNotFound
	}
	if existing, ok := image.Transformation(t.Name); ok {
		c := *existing
		return &c, false, nil
	}

	image.Transformations = append(image.Transformations, t)
	touch(image, now)
	return &t, true, nil
}

func (r *Repository) DeleteImage(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	image, exists := r.images[id]
	if !exists {
		return simpleimage.ErrImageNotFound
	}
	r.remove(image)
	return nil
}

func (r *Repository) DeleteImageIfUnreferenced(ctx context.Context, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	image, exists := r.images[id]
	if !exists {
		return false, nil
	}
	if image.ReferenceCount > 0 {
		return false, nil
	}
	r.remove(image)
	return true, nil
}

func (r *Repository) remove(image *simpleimage.ImageAsset) {
	delete(r.images, image.ID)
	if r.byDigest[image.ContentDigest] == image.ID {
		delete(r.byDigest, image.ContentDigest)
	}
}

func touch(image *simpleimage.ImageAsset, now time.Time) {
	image.Version++
	if !now.IsZero() {
		image.UpdatedAt = now
	}
}

func sortNewestFirst(images []*simpleimage.ImageAsset) {
	sort.SliceStable(images, func(i, j int) bool {
		if images[i].CreatedAt.Equal(images[j].CreatedAt) {
			return images[i].ID.String() < images[j].ID.String()
		}
		return images[i].CreatedAt.After(images[j].CreatedAt)
	})
}

func referencedBy(image *simpleimage.ImageAsset, match simpleimage.ReferenceMatch) bool {
	for _, ref := range image.UsedBy {
		if match.Matches(ref) {
			return true
		}
	}
	return false
}

func matchesFilters(image *simpleimage.ImageAsset, f simpleimage.ImageListFilters) bool {
	if f.UnusedOnly && image.ReferenceCount != 0 {
		return false
	}
	if f.Folder != "" && image.Folder != f.Folder {
		return false
	}
	if f.UploaderID != "" && image.UploaderID != f.UploaderID {
		return false
	}
	if f.EntityType != "" {
		found := false
		for _, ref := range image.UsedBy {
			if ref.EntityType == f.EntityType && (f.EntityID == "" || ref.EntityID == f.EntityID) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(f.Tags) > 0 && !anyTag(image.Tags, f.Tags) {
		return false
	}
	if f.Search != "" && !matchesSearch(image, f.Search) {
		return false
	}
	return true
}

func anyTag(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}
	return false
}

func matchesSearch(image *simpleimage.ImageAsset, search string) bool {
	needle := strings.ToLower(strings.TrimSpace(search))
	if needle == "" {
		return true
	}
	if strings.Contains(strings.ToLower(image.FileName), needle) ||
		strings.Contains(strings.ToLower(image.Description), needle) {
		return true
	}
	for _, tag := range image.Tags {
		if strings.Contains(strings.ToLower(tag), needle) {
			return true
		}
	}
	return false
}
